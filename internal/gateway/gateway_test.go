package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/testutil"
)

// fakeStorage counts reads and can be made to block or fail, standing
// in for the slow system of record the gateway shields.
type fakeStorage struct {
	mu         sync.Mutex
	convCalls  int
	msgCalls   int
	countCalls int
	err        error
	block      chan struct{}
}

func (f *fakeStorage) Conversations(ctx context.Context, identity string) ([]Conversation, error) {
	f.mu.Lock()
	f.convCalls++
	err, block := f.err, f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return []Conversation{{ID: "c1", Identity: identity, Title: "first"}}, nil
}

func (f *fakeStorage) Messages(ctx context.Context, conversationID string, page Page) ([]Message, error) {
	f.mu.Lock()
	f.msgCalls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []Message{{
		ID:             fmt.Sprintf("m-%d-%d", page.Limit, page.Offset),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        "hello",
	}}, nil
}

func (f *fakeStorage) MessageCount(ctx context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	f.countCalls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 7, nil
}

func (f *fakeStorage) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeStorage) calls() (conv, msg, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls, f.msgCalls, f.countCalls
}

func newTestGateway(t *testing.T) (*Gateway, *fakeStorage, *testutil.Clock) {
	t.Helper()
	st := &fakeStorage{}
	clk := testutil.NewClock(time.Unix(1700000000, 0))
	g, err := New(&Config{}, st, WithClock(clk.Now))
	require.NoError(t, err)
	return g, st, clk
}

func TestGateway_RequiresStorage(t *testing.T) {
	_, err := New(&Config{}, nil)
	assert.Error(t, err)
}

func TestGateway_ConversationsCachedAfterFirstRead(t *testing.T) {
	g, st, _ := newTestGateway(t)

	first, err := g.Conversations(context.Background(), "alice")
	require.NoError(t, err)
	second, err := g.Conversations(context.Background(), "alice")
	require.NoError(t, err)

	conv, _, _ := st.calls()
	assert.Equal(t, 1, conv, "the second read must be served from cache")
	assert.Equal(t, first, second)
}

func TestGateway_ConversationsKeyedByIdentity(t *testing.T) {
	g, st, _ := newTestGateway(t)

	_, err := g.Conversations(context.Background(), "alice")
	require.NoError(t, err)
	bob, err := g.Conversations(context.Background(), "bob")
	require.NoError(t, err)

	conv, _, _ := st.calls()
	assert.Equal(t, 2, conv, "different identities are different cache keys")
	assert.Equal(t, "bob", bob[0].Identity)
}

func TestGateway_MessagePagesCachedSeparately(t *testing.T) {
	g, st, _ := newTestGateway(t)
	ctx := context.Background()

	p1, err := g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	p2, err := g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 50})
	require.NoError(t, err)
	assert.NotEqual(t, p1[0].ID, p2[0].ID)

	_, msg, _ := st.calls()
	require.Equal(t, 2, msg)

	// Re-reading both pages stays inside the cache.
	_, err = g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	_, err = g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 50})
	require.NoError(t, err)
	_, msg, _ = st.calls()
	assert.Equal(t, 2, msg)
}

func TestGateway_MessageCountCached(t *testing.T) {
	g, st, _ := newTestGateway(t)
	ctx := context.Background()

	n, err := g.MessageCount(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = g.MessageCount(ctx, "alice", "c1")
	require.NoError(t, err)
	_, _, count := st.calls()
	assert.Equal(t, 1, count)
}

func TestGateway_FetchErrorPropagatesAndIsNotCached(t *testing.T) {
	g, st, _ := newTestGateway(t)
	boom := errors.New("storage unavailable")
	st.setErr(boom)

	_, err := g.Conversations(context.Background(), "alice")
	require.ErrorIs(t, err, boom, "the wrapped storage error must reach the caller")

	st.setErr(nil)
	convs, err := g.Conversations(context.Background(), "alice")
	require.NoError(t, err, "a failure must not be cached as a negative result")
	assert.Len(t, convs, 1)

	conv, _, _ := st.calls()
	assert.Equal(t, 2, conv)
}

func TestGateway_InvalidateMessagesDropsVariantsAndCount(t *testing.T) {
	g, st, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	_, err = g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 50})
	require.NoError(t, err)
	_, err = g.MessageCount(ctx, "alice", "c1")
	require.NoError(t, err)
	_, err = g.Conversations(ctx, "alice")
	require.NoError(t, err)

	g.Invalidate(EntityMessages, "c1")

	_, err = g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	_, err = g.MessageCount(ctx, "alice", "c1")
	require.NoError(t, err)
	_, err = g.Conversations(ctx, "alice")
	require.NoError(t, err)

	conv, msg, count := st.calls()
	assert.Equal(t, 3, msg, "both pages were dropped, the re-read refetches")
	assert.Equal(t, 2, count, "the count entry was dropped with the pages")
	assert.Equal(t, 1, conv, "the conversation list is a different entity and must survive")
}

func TestGateway_InvalidateMessagesLeavesOtherConversations(t *testing.T) {
	g, st, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Messages(ctx, "alice", "c1", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	_, err = g.Messages(ctx, "alice", "c2", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)

	g.Invalidate(EntityMessages, "c1")

	_, err = g.Messages(ctx, "alice", "c2", Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	_, msg, _ := st.calls()
	assert.Equal(t, 2, msg, "c2's page must still be cached")
}

func TestGateway_InvalidateConversations(t *testing.T) {
	g, st, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Conversations(ctx, "alice")
	require.NoError(t, err)

	g.Invalidate(EntityConversations, "alice")

	_, err = g.Conversations(ctx, "alice")
	require.NoError(t, err)
	conv, _, _ := st.calls()
	assert.Equal(t, 2, conv)
}

func TestGateway_CheckAdmissionAndStatus(t *testing.T) {
	g, _, _ := newTestGateway(t)

	d := g.CheckAdmission("alice")
	assert.True(t, d.Admitted)

	s := g.Status("alice")
	assert.Equal(t, 29.0, s.IdentityTokens)
	assert.Equal(t, 99.0, s.GlobalTokens)
}

func TestGateway_GetOrFetchCoalescesConcurrentCallers(t *testing.T) {
	g, st, _ := newTestGateway(t)
	st.block = make(chan struct{})

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Conversations(context.Background(), "alice")
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // callers pile onto the blocked fetch
	close(st.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	conv, _, _ := st.calls()
	assert.Equal(t, 1, conv, "concurrent identical reads must share one storage fetch")
	assert.Equal(t, 1, g.CacheLen())
}

func TestGateway_AbandonedCallerStillPopulatesCache(t *testing.T) {
	g, st, _ := newTestGateway(t)
	st.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Conversations(ctx, "alice")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // the fetch is in flight
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(st.block)
	require.Eventually(t, func() bool { return g.CacheLen() == 1 }, time.Second, 5*time.Millisecond,
		"the detached fetch must finish and populate the cache")

	// The populated entry now serves without another storage read.
	_, err := g.Conversations(context.Background(), "alice")
	require.NoError(t, err)
	conv, _, _ := st.calls()
	assert.Equal(t, 1, conv)
}

func TestGateway_SweepAndPurgeWiring(t *testing.T) {
	g, _, clk := newTestGateway(t)
	ctx := context.Background()

	require.True(t, g.CheckAdmission("alice").Admitted)
	_, err := g.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, g.TrackedIdentities())
	require.Equal(t, 1, g.CacheLen())

	clk.Advance(2 * time.Hour)

	assert.Equal(t, 1, g.SweepIdentities())
	assert.Equal(t, 1, g.PurgeCache())
	assert.Equal(t, 0, g.TrackedIdentities())
	assert.Equal(t, 0, g.CacheLen())
}

func TestGateway_CloseIsIdempotent(t *testing.T) {
	g, _, _ := newTestGateway(t)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: MaxPageLimit, Offset: 5}, Page{Limit: 1000, Offset: 5}.Normalize())
	assert.Equal(t, Page{Limit: 10}, Page{Limit: 10, Offset: -3}.Normalize())
}

package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/admission"
	"github.com/foyerhq/foyer/internal/cache"
	"github.com/foyerhq/foyer/internal/coalesce"
)

// Cache key namespaces. Every cached read lives under exactly one of
// them so entity invalidation can target all derived variants at once.
const (
	nsConversations = "conversations"
	nsMessages      = "messages"
	nsMessageCount  = "msgcount"
)

// Partition selects which cache partition a read goes through.
type Partition int

const (
	PartitionCollections Partition = iota
	PartitionItems
)

// EntityKind names an entity whose cached variants can be invalidated
// together.
type EntityKind string

const (
	// EntityMessages covers every cached page of one conversation's
	// messages plus its count.
	EntityMessages EntityKind = "messages"
	// EntityConversations covers one identity's conversation list.
	EntityConversations EntityKind = "conversations"
)

// Conversation is a stored conversation header.
type Conversation struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user | assistant
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Page bounds a message listing.
type Page struct {
	Limit  int
	Offset int
}

// Page bounds. Normalization happens before key construction so every
// equivalent request shares one cache variant.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Storage is the system of record the gateway shields. Every read is
// treated as potentially slow and cacheable; results are immutable
// snapshots the cache hands back verbatim.
type Storage interface {
	Conversations(ctx context.Context, identity string) ([]Conversation, error)
	Messages(ctx context.Context, conversationID string, page Page) ([]Message, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
}

// FetchFunc produces the value for a cache key on a miss. It runs on a
// context detached from any single caller.
type FetchFunc func(ctx context.Context) (any, error)

// Gateway owns the admission controller, response cache, and request
// coalescer as one unit with a defined lifecycle. Request handling code
// receives a *Gateway; there is no package-level state.
type Gateway struct {
	cfg        *Config
	controller *admission.Controller
	cache      *cache.Cache
	flights    coalesce.Group
	storage    Storage
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used by the admission controller
// and the cache.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway from cfg. storage is required; cfg fields left
// zero fall back to their defaults.
func New(cfg *Config, storage Storage, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if storage == nil {
		return nil, fmt.Errorf("gateway: storage is required")
	}

	g := &Gateway{
		cfg:     cfg,
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	admCfg, err := cfg.AdmissionConfig()
	if err != nil {
		return nil, err
	}
	d, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}
	g.controller = admission.NewController(admCfg, admission.WithClock(g.now))
	g.cache = cache.New(cfg.Cache.MaxSize, d.CacheTTL, cache.WithClock(g.now))
	return g, nil
}

// Close releases the gateway. All state is volatile and process-local,
// so today this only marks the end of the lifecycle; in-flight fetches
// run to completion on their own.
func (g *Gateway) Close() error {
	log.Debug().Msg("gateway_closed")
	return nil
}

// CheckAdmission decides whether one request from identity may
// proceed. Denials carry the retry hint and never consume quota.
func (g *Gateway) CheckAdmission(identity string) admission.Decision {
	d := g.controller.Check(identity)
	recordAdmission(context.Background(), identity, d.Admitted)
	if !d.Admitted {
		log.Warn().
			Str("identity", identity).
			Dur("wait", d.WaitTime).
			Msg("gateway_admission_denied")
	}
	return d
}

// Status reports identity's standing against both admission tiers
// without consuming anything.
func (g *Gateway) Status(identity string) admission.Status {
	return g.controller.Status(identity)
}

// GetOrFetch serves key from the cache, or executes fetch exactly once
// across all concurrent callers of the same key and caches the result.
// The fetch runs detached: callers that abandon their wait get their
// own context error while the flight completes and still populates the
// cache. Failed fetches are returned to every waiter and never cached.
func (g *Gateway) GetOrFetch(ctx context.Context, p Partition, key, identity string, fetch FetchFunc) (any, error) {
	if v, ok := g.cacheGet(p, key); ok {
		recordCacheLookup(ctx, p, true)
		return v, nil
	}
	recordCacheLookup(ctx, p, false)

	v, shared, err := g.flights.Do(ctx, key, func(fctx context.Context) (any, error) {
		val, err := fetch(fctx)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", key, err)
		}
		g.cachePut(p, key, val)
		return val, nil
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("identity", identity).
			Str("key", key).
			Msg("gateway_fetch_failed")
		return nil, err
	}
	if shared {
		recordCoalesced(ctx)
		log.Debug().
			Str("identity", identity).
			Str("key", key).
			Msg("gateway_fetch_coalesced")
	}
	return v, nil
}

// Invalidate drops every cached variant derived from one entity: all
// message pages and the count for a conversation, or an identity's
// conversation list.
func (g *Gateway) Invalidate(kind EntityKind, id string) {
	removed := 0
	switch kind {
	case EntityMessages:
		removed = g.cache.InvalidateByPrefix(cache.Prefix(nsMessages, id))
		g.cache.Invalidate(messageCountKey(id))
	case EntityConversations:
		g.cache.Invalidate(conversationsKey(id))
		removed = g.cache.InvalidateByPrefix(cache.Prefix(nsConversations, id))
	default:
		log.Warn().Str("kind", string(kind)).Msg("gateway_invalidate_unknown_kind")
		return
	}
	log.Debug().
		Str("kind", string(kind)).
		Str("id", id).
		Int("removed", removed).
		Msg("gateway_invalidated")
}

// Conversations lists identity's conversations through the cache.
func (g *Gateway) Conversations(ctx context.Context, identity string) ([]Conversation, error) {
	v, err := g.GetOrFetch(ctx, PartitionCollections, conversationsKey(identity), identity,
		func(fctx context.Context) (any, error) {
			return g.storage.Conversations(fctx, identity)
		})
	if err != nil {
		return nil, err
	}
	return v.([]Conversation), nil
}

// Messages lists one page of a conversation's messages through the
// cache. Each pagination variant is cached under its own key.
func (g *Gateway) Messages(ctx context.Context, identity, conversationID string, page Page) ([]Message, error) {
	page = page.Normalize()
	v, err := g.GetOrFetch(ctx, PartitionCollections, messagesKey(conversationID, page), identity,
		func(fctx context.Context) (any, error) {
			return g.storage.Messages(fctx, conversationID, page)
		})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// MessageCount reports a conversation's message count through the
// cache.
func (g *Gateway) MessageCount(ctx context.Context, identity, conversationID string) (int, error) {
	v, err := g.GetOrFetch(ctx, PartitionItems, messageCountKey(conversationID), identity,
		func(fctx context.Context) (any, error) {
			return g.storage.MessageCount(fctx, conversationID)
		})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SweepIdentities drops idle identity buckets. Wired to the janitor.
func (g *Gateway) SweepIdentities() int {
	return g.controller.Sweep()
}

// PurgeCache drops expired cache entries. Wired to the janitor.
func (g *Gateway) PurgeCache() int {
	return g.cache.PurgeExpired()
}

// TrackedIdentities reports how many identities hold a live bucket.
func (g *Gateway) TrackedIdentities() int {
	return g.controller.Tracked()
}

// CacheLen reports the total number of live cache entries.
func (g *Gateway) CacheLen() int {
	return g.cache.Len()
}

func (g *Gateway) cacheGet(p Partition, key string) (any, bool) {
	if p == PartitionItems {
		return g.cache.GetItem(key)
	}
	return g.cache.GetCollection(key)
}

func (g *Gateway) cachePut(p Partition, key string, value any) {
	if p == PartitionItems {
		g.cache.PutItem(key, value)
		return
	}
	g.cache.PutCollection(key, value)
}

func conversationsKey(identity string) string {
	return cache.Key(nsConversations, identity)
}

func messagesKey(conversationID string, page Page) string {
	return cache.Key(nsMessages, conversationID, strconv.Itoa(page.Limit), strconv.Itoa(page.Offset))
}

func messageCountKey(conversationID string) string {
	return cache.Key(nsMessageCount, conversationID)
}

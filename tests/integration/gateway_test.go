//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/testutil"
)

func doRequest(t *testing.T, router http.Handler, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("X-Foyer-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// TestConversationFlow exercises the whole serve path with real YAML
// config, SQLite, and an OpenAI-style upstream stub: create a
// conversation, post a turn, get the generated reply back, list history.
func TestConversationFlow(t *testing.T) {
	mock := testutil.NewOpenAICompatibleServer("Day one: Alfama and a tram ride.", 24, 9)
	defer mock.Close()

	cfgPath := WriteTestGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"Lisbon trip"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decodeBody(t, rec)
	convID, ok := conv["id"].(string)
	require.True(t, ok, "conversation id missing: %v", conv)
	assert.Equal(t, "alice", conv["identity"])
	assert.Equal(t, "Lisbon trip", conv["title"])

	rec = doRequest(t, stack.Router, http.MethodPost, "/v1/conversations/"+convID+"/messages", "key-alice",
		`{"content":"Plan three days in Lisbon"}`)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	reply := decodeBody(t, rec)
	msg := reply["message"].(map[string]interface{})
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "Day one: Alfama and a tram ride.", msg["content"])
	assert.Equal(t, "gpt-4o-mini", reply["model"])
	usage := reply["usage"].(map[string]interface{})
	assert.Equal(t, float64(24), usage["input_tokens"])
	assert.Equal(t, float64(9), usage["output_tokens"])

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations/"+convID+"/messages", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]interface{})["role"])

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations/"+convID+"/messages/count", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
}

// TestConversationIsolation checks that identities cannot see each
// other's conversations even with a valid key.
func TestConversationIsolation(t *testing.T) {
	mock := testutil.NewOpenAICompatibleServer("", 0, 0)
	defer mock.Close()

	cfgPath := WriteTestGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"private"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decodeBody(t, rec)["id"].(string)

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations/"+convID+"/messages", "key-bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations/"+convID+"/messages", "wrong-key", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestCachedListServesStaleUntilInvalidated proves the cache sits in
// front of the store: a write that bypasses the gateway is invisible
// until an API write invalidates the identity's conversation list.
func TestCachedListServesStaleUntilInvalidated(t *testing.T) {
	mock := testutil.NewOpenAICompatibleServer("", 0, 0)
	defer mock.Close()

	cfgPath := WriteTestGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decodeBody(t, rec)["count"])

	// Write behind the gateway's back; the cached list must not see it.
	_, err := stack.Store.CreateConversation(context.Background(), "alice", "sneaky")
	require.NoError(t, err)

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"], "list should still be served from cache")

	// An API write invalidates alice's list, exposing both new rows.
	rec = doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"third"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])
}

// TestAdmissionDeniedStrictTier drives a strict identity tier to
// exhaustion and checks the 429 contract: Retry-After header, JSON body,
// and that /v1/limits stays reachable for the denied caller.
func TestAdmissionDeniedStrictTier(t *testing.T) {
	mock := testutil.NewOpenAICompatibleServer("", 0, 0)
	defer mock.Close()

	cfgPath := WriteStrictGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"t"}`)
		require.Equal(t, http.StatusCreated, rec.Code, "request %d should be admitted", i+1)
	}

	rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"denied"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Greater(t, body["retry_after_seconds"], float64(0))

	// Standing stays inspectable after a denial.
	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/limits", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	limits := decodeBody(t, rec)
	assert.Equal(t, "alice", limits["identity"])
	assert.Less(t, limits["identity_tokens"], float64(1))
}

// TestUpstreamFailureSurfacesAs502 points the stack at an upstream that
// always fails. The user turn is persisted, the reply is not.
func TestUpstreamFailureSurfacesAs502(t *testing.T) {
	mock := testutil.NewUpstreamErrorServer(http.StatusInternalServerError)
	defer mock.Close()

	cfgPath := WriteTestGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	rec := doRequest(t, stack.Router, http.MethodPost, "/v1/conversations", "key-alice", `{"title":"doomed"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decodeBody(t, rec)["id"].(string)

	rec = doRequest(t, stack.Router, http.MethodPost, "/v1/conversations/"+convID+"/messages", "key-alice", `{"content":"hello?"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", decodeBody(t, rec)["error"])

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/conversations/"+convID+"/messages", "key-alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]interface{})
	require.Len(t, msgs, 1, "the user turn survives a failed generation")
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
}

// TestHealthOpenWithoutKey confirms the health endpoint stays outside
// the authenticated group.
func TestHealthOpenWithoutKey(t *testing.T) {
	mock := testutil.NewOpenAICompatibleServer("", 0, 0)
	defer mock.Close()

	cfgPath := WriteTestGatewayConfig(t, t.TempDir())
	stack := SetupStack(t, cfgPath, mock.URL)

	rec := doRequest(t, stack.Router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(t, stack.Router, http.MethodGet, "/v1/health?detail=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	components := decodeBody(t, rec)["components"].(map[string]interface{})
	assert.Equal(t, "openai", components["upstream"])
}

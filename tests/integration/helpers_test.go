//go:build integration

package integration

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/server"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/testutil"
	"github.com/foyerhq/foyer/internal/upstream"
)

// WriteTestGatewayConfig creates a permissive foyer.gateway.yaml in the given
// dir and returns its path. Identities alice/bob, limits high enough that
// admission never interferes.
func WriteTestGatewayConfig(t *testing.T, dir string) string {
	return testutil.WriteGatewayConfigFile(t, dir)
}

// WriteStrictGatewayConfig creates a foyer.gateway.yaml whose identity tier
// denies the third request in a burst.
func WriteStrictGatewayConfig(t *testing.T, dir string) string {
	return testutil.WriteStrictGatewayConfigFile(t, dir)
}

// Stack is a fully wired in-process Foyer: real SQLite store, gateway, and
// chi router, with the upstream client pointed at a test server.
type Stack struct {
	Router http.Handler
	Store  *store.Store
	Gw     *gateway.Gateway
	Cfg    *gateway.Config
}

// SetupStack loads the gateway config at cfgPath and wires store, gateway,
// upstream client, and HTTP router the same way `foyer serve` does.
// upstreamURL is the base of an OpenAI-style test server (no /v1 suffix).
func SetupStack(t *testing.T, cfgPath, upstreamURL string) *Stack {
	t.Helper()

	cfg, err := gateway.LoadConfig(cfgPath)
	require.NoError(t, err)

	st, err := store.NewStore(filepath.Join(t.TempDir(), "foyer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gw, err := gateway.New(cfg, st)
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })

	provider := upstream.NewClient("sk-test", upstreamURL+"/v1", 5*time.Second)
	srv := server.NewServer(gw, st, provider, cfg)

	return &Stack{Router: srv.Routes(), Store: st, Gw: gw, Cfg: cfg}
}

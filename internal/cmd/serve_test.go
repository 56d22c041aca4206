package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/gateway"
)

func TestNewProvider_NoKeyDisablesUpstream(t *testing.T) {
	cfg := &gateway.Config{}
	cfg.ApplyDefaults()
	cfg.Upstream.APIKeyEnv = "FOYER_TEST_UPSTREAM_KEY"
	t.Setenv("FOYER_TEST_UPSTREAM_KEY", "")

	p, err := newProvider(cfg)
	require.NoError(t, err)
	assert.Nil(t, p, "missing key must disable the upstream, not fail")
}

func TestNewProvider_KeySetBuildsClient(t *testing.T) {
	cfg := &gateway.Config{}
	cfg.ApplyDefaults()
	cfg.Upstream.APIKeyEnv = "FOYER_TEST_UPSTREAM_KEY"
	t.Setenv("FOYER_TEST_UPSTREAM_KEY", "sk-test")

	p, err := newProvider(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProvider_BadTimeoutFails(t *testing.T) {
	cfg := &gateway.Config{}
	cfg.ApplyDefaults()
	cfg.Upstream.APIKeyEnv = "FOYER_TEST_UPSTREAM_KEY"
	cfg.Upstream.RequestTimeout = "soon"
	t.Setenv("FOYER_TEST_UPSTREAM_KEY", "sk-test")

	_, err := newProvider(cfg)
	assert.Error(t, err)
}

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteGatewayConfigFile creates a valid foyer.gateway.yaml in dir and
// returns its path. Limits are generous so admission always passes.
func WriteGatewayConfigFile(t *testing.T, dir string) string {
	t.Helper()
	content := `
identities:
  - name: alice
    api_key: key-alice
  - name: bob
    api_key: key-bob
limits:
  identity:
    capacity: 1000
    refill_per_min: 1000
  global:
    capacity: 5000
    refill_per_min: 5000
cache:
  max_size: 100
  ttl: 5m
upstream:
  model: gpt-4o-mini
  api_key_env: FOYER_TEST_UPSTREAM_KEY
  request_timeout: 5s
`
	path := filepath.Join(dir, "foyer.gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteStrictGatewayConfigFile creates a foyer.gateway.yaml whose identity
// tier denies the third request in a burst and refills too slowly for
// tests to earn tokens back.
func WriteStrictGatewayConfigFile(t *testing.T, dir string) string {
	t.Helper()
	content := `
identities:
  - name: alice
    api_key: key-alice
limits:
  identity:
    capacity: 2
    refill_per_min: 1
  global:
    capacity: 100
    refill_per_min: 100
cache:
  max_size: 100
  ttl: 5m
upstream:
  model: gpt-4o-mini
  api_key_env: FOYER_TEST_UPSTREAM_KEY
  request_timeout: 5s
`
	path := filepath.Join(dir, "foyer.gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestE2E_InitCreatesFiles(t *testing.T) {
	dir := t.TempDir()
	_, _, code := RunFoyer(t, dir, nil, "init")
	if code != 0 {
		t.Fatalf("foyer init exited %d", code)
	}
	// Init always creates foyer.config.yaml and foyer.gateway.yaml in cwd (dataDir)
	for _, name := range []string{"foyer.config.yaml", "foyer.gateway.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
	}
}

func TestE2E_InitStarterConfigIsServable(t *testing.T) {
	dir := t.TempDir()
	_, _, code := RunFoyer(t, dir, nil, "init")
	if code != 0 {
		t.Fatalf("foyer init exited %d", code)
	}
	content, err := os.ReadFile(filepath.Join(dir, "foyer.gateway.yaml"))
	if err != nil {
		t.Fatalf("reading foyer.gateway.yaml: %v", err)
	}
	body := string(content)
	if !strings.Contains(body, "alice") {
		t.Errorf("expected starter identity 'alice' in generated gateway config, got: %s", body)
	}
	if !strings.Contains(body, "api_key_env") {
		t.Errorf("expected api_key_env in generated gateway config, got: %s", body)
	}
	// The starter config must pass the binary's own validation.
	_, stderr, code := RunFoyer(t, dir, nil, "validate")
	if code != 0 {
		t.Fatalf("foyer validate (starter config) exited %d\nstderr: %s", code, stderr)
	}
}

func TestE2E_InitForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	if _, _, code := RunFoyer(t, dir, nil, "init"); code != 0 {
		t.Fatalf("foyer init exited %d", code)
	}
	gwPath := filepath.Join(dir, "foyer.gateway.yaml")
	if err := os.WriteFile(gwPath, []byte("mangled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, code := RunFoyer(t, dir, nil, "init", "--force"); code != 0 {
		t.Fatalf("foyer init --force exited %d", code)
	}
	content, err := os.ReadFile(gwPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "identities:") {
		t.Errorf("init --force should restore the starter gateway config, got: %s", content)
	}
}

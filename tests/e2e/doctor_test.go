//go:build e2e

package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestE2E_DoctorJSONParses(t *testing.T) {
	dir := t.TempDir()
	if _, _, code := RunFoyer(t, dir, nil, "init"); code != 0 {
		t.Fatalf("foyer init exited %d", code)
	}
	env := map[string]string{"OPENAI_API_KEY": "sk-test-doctor"}
	stdout, stderr, code := RunFoyer(t, dir, env, "doctor", "--skip-upstream", "--format", "json")
	if code != 0 {
		t.Fatalf("foyer doctor exited %d\nstderr: %s", code, stderr)
	}

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("doctor --format json produced unparseable output: %v\n%s", err, stdout)
	}
	if report.Status != "pass" {
		t.Errorf("doctor on a fresh init should pass, got status %q", report.Status)
	}
	if len(report.Checks) == 0 {
		t.Error("doctor report has no checks")
	}
	names := make(map[string]bool, len(report.Checks))
	for _, c := range report.Checks {
		names[c.Name] = true
	}
	for _, want := range []string{"data_dir_writable", "store_db", "gateway_config_valid"} {
		if !names[want] {
			t.Errorf("doctor report missing check %q", want)
		}
	}
}

func TestE2E_DoctorFailsWithoutWritableDataDir(t *testing.T) {
	dir := t.TempDir()
	// Point the data dir at a file so MkdirAll and writes fail.
	env := map[string]string{"FOYER_DATA_DIR": writeBlockerFile(t, dir)}
	_, _, code := RunFoyer(t, dir, env, "doctor", "--skip-upstream")
	if code == 0 {
		t.Error("doctor with unusable data dir should exit non-zero")
	}
}

func writeBlockerFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

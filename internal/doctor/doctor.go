// Package doctor runs preflight checks for a Foyer deployment. The
// `foyer doctor` command renders its report before first serve.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/store"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check groups run.
type Options struct {
	GatewayConfigPath string // Explicit gateway config path (empty = skip gateway checks)
	SkipUpstream      bool   // Skip upstream connectivity probes (for CI/offline)
}

// Run executes every applicable check. Gateway checks need a config
// path; upstream probes go out on the network unless skipped.
func Run(ctx context.Context, opts Options) *Report {
	r := &Report{}
	r.add(configChecks()...)
	if opts.GatewayConfigPath != "" {
		r.add(gatewayChecks(ctx, opts)...)
	}
	r.add(systemChecks()...)
	r.finalize()
	return r
}

func (r *Report) add(results ...CheckResult) {
	for _, c := range results {
		switch c.Status {
		case "pass":
			r.Summary.Pass++
		case "warn":
			r.Summary.Warn++
		case "fail":
			r.Summary.Fail++
		}
		r.Checks = append(r.Checks, c)
	}
}

func (r *Report) finalize() {
	switch {
	case r.Summary.Fail > 0:
		r.Status = "fail"
	case r.Summary.Warn > 0:
		r.Status = "warn"
	default:
		r.Status = "pass"
	}
}

func configChecks() []CheckResult {
	cfg, err := config.Load()
	if err != nil {
		return []CheckResult{{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check FOYER_DATA_DIR and config file",
		}}
	}
	return []CheckResult{checkDataDir(cfg), checkStoreDB(cfg)}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	probe := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(probe)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkStoreDB(cfg *config.Config) CheckResult {
	st, err := store.NewStore(cfg.DBPath())
	if err != nil {
		return CheckResult{
			Name: "store_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = st.Close()
	return CheckResult{
		Name: "store_db", Category: "config", Status: "pass",
		Message: cfg.DBPath(),
	}
}

func gatewayChecks(ctx context.Context, opts Options) []CheckResult {
	gwCfg, err := gateway.LoadConfig(opts.GatewayConfigPath)
	if err != nil {
		return []CheckResult{{
			Name: "gateway_config_valid", Category: "gateway", Status: "fail",
			Message: fmt.Sprintf("Invalid config: %v", err),
			Fix:     "Check YAML syntax in " + opts.GatewayConfigPath,
		}}
	}
	results := []CheckResult{
		{
			Name: "gateway_config_valid", Category: "gateway", Status: "pass",
			Message: opts.GatewayConfigPath,
		},
		checkIdentities(gwCfg),
		checkTiers(gwCfg),
		checkUpstreamKey(gwCfg),
	}
	if !opts.SkipUpstream {
		results = append(results, upstreamChecks(ctx, gwCfg.Upstream.BaseURL, gwCfg.Upstream.Model)...)
	}
	return results
}

func checkIdentities(cfg *gateway.Config) CheckResult {
	if len(cfg.Identities) == 0 {
		return CheckResult{
			Name: "gateway_identities_defined", Category: "gateway", Status: "warn",
			Message: "No identities configured",
			Fix:     "Add identities to the gateway config for per-caller admission",
		}
	}
	return CheckResult{
		Name: "gateway_identities_defined", Category: "gateway", Status: "pass",
		Message: fmt.Sprintf("%d identities", len(cfg.Identities)),
	}
}

// checkTiers flags identity tiers that promise more burst than the
// global tier allows.
func checkTiers(cfg *gateway.Config) CheckResult {
	ceiling := cfg.Limits.Global.Capacity
	if cfg.Limits.Identity.Capacity > ceiling {
		return CheckResult{
			Name: "gateway_limits_sane", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("identity burst %.0f exceeds global burst %.0f", cfg.Limits.Identity.Capacity, ceiling),
			Fix:     "Raise limits.global.capacity or lower limits.identity.capacity",
		}
	}
	for i := range cfg.Identities {
		lim := cfg.Identities[i].Limits
		if lim != nil && lim.Capacity > ceiling {
			return CheckResult{
				Name: "gateway_limits_sane", Category: "gateway", Status: "warn",
				Message: fmt.Sprintf("identity %q burst %.0f exceeds global burst %.0f", cfg.Identities[i].Name, lim.Capacity, ceiling),
				Fix:     "Raise limits.global.capacity or lower the identity override",
			}
		}
	}
	return CheckResult{
		Name: "gateway_limits_sane", Category: "gateway", Status: "pass",
		Message: fmt.Sprintf("identity %.0f within global %.0f burst", cfg.Limits.Identity.Capacity, ceiling),
	}
}

func checkUpstreamKey(cfg *gateway.Config) CheckResult {
	keyEnv := cfg.Upstream.APIKeyEnv
	if os.Getenv(keyEnv) == "" {
		return CheckResult{
			Name: "upstream_key", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("%s not set — generation endpoints will return 503", keyEnv),
			Fix:     fmt.Sprintf("Set %s for generation", keyEnv),
		}
	}
	return CheckResult{
		Name: "upstream_key", Category: "gateway", Status: "pass",
		Message: fmt.Sprintf("%s (env)", keyEnv),
	}
}

func upstreamChecks(ctx context.Context, baseURL, model string) []CheckResult {
	client := &http.Client{Timeout: 5 * time.Second}
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if reqErr != nil {
		return []CheckResult{{
			Name: "upstream_reachable", Category: "gateway", Status: "fail",
			Message: fmt.Sprintf("Invalid URL: %v", reqErr),
		}}
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return []CheckResult{{
			Name: "upstream_reachable", Category: "gateway", Status: "fail",
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check network connectivity and upstream base_url",
		}}
	}
	resp.Body.Close()

	results := []CheckResult{{
		Name: "upstream_reachable", Category: "gateway", Status: "pass",
		Message: fmt.Sprintf("%s — %dms", baseURL, latency.Milliseconds()),
	}}
	if latency > 2*time.Second {
		results = append(results, CheckResult{
			Name: "upstream_latency", Category: "gateway", Status: "fail",
			Message: fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()),
			Fix:     "Consider a closer region or a different base_url",
		})
	} else if latency > time.Second {
		results = append(results, CheckResult{
			Name: "upstream_latency", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("%.1fs (> 1s threshold)", latency.Seconds()),
			Fix:     "Consider a closer region or a different base_url",
		})
	}
	results = append(results, checkConfiguredModel(ctx, client, baseURL, model))
	return results
}

// checkConfiguredModel probes the OpenAI-compatible models listing and
// looks for the model the gateway will request. base_url already
// carries the version segment, so the path is relative to it.
// Listings behind auth (401) can't be inspected; report the status and
// move on.
func checkConfiguredModel(ctx context.Context, client *http.Client, baseURL, model string) CheckResult {
	modelsURL := baseURL + "/models"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL, nil)
	if reqErr != nil {
		return CheckResult{
			Name: "upstream_models", Category: "gateway", Status: "fail",
			Message: fmt.Sprintf("invalid models URL %s: %v", modelsURL, reqErr),
			Fix:     "Check base_url in the gateway upstream config",
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name: "upstream_models", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("GET %s failed: %v", modelsURL, err),
			Fix:     "Verify base_url points to an OpenAI-compatible API",
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return CheckResult{
			Name: "upstream_models", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("GET /models — %d", resp.StatusCode),
		}
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &listing) == nil && len(listing.Data) > 0 {
		for _, m := range listing.Data {
			if m.ID == model {
				return CheckResult{
					Name: "upstream_models", Category: "gateway", Status: "pass",
					Message: fmt.Sprintf("model %q available", model),
				}
			}
		}
		return CheckResult{
			Name: "upstream_models", Category: "gateway", Status: "warn",
			Message: fmt.Sprintf("model %q not in /models listing", model),
			Fix:     "Check upstream.model in the gateway config",
		}
	}
	return CheckResult{
		Name: "upstream_models", Category: "gateway", Status: "pass",
		Message: fmt.Sprintf("GET /models — %d", resp.StatusCode),
	}
}

func systemChecks() []CheckResult {
	cfg, err := config.Load()
	if err != nil {
		return nil
	}

	var results []CheckResult
	if info, statErr := os.Stat(cfg.DataDir); statErr == nil && info.IsDir() {
		probe := filepath.Join(cfg.DataDir, ".doctor-space-test")
		if writeErr := os.WriteFile(probe, make([]byte, 1024), 0o600); writeErr != nil {
			results = append(results, CheckResult{
				Name: "disk_space", Category: "system", Status: "warn",
				Message: "Cannot write test file to data directory",
			})
		} else {
			_ = os.Remove(probe)
			results = append(results, CheckResult{
				Name: "disk_space", Category: "system", Status: "pass",
				Message: cfg.DataDir,
			})
		}
	}

	st, storeErr := store.NewStore(cfg.DBPath())
	if storeErr == nil {
		defer st.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		convs, msgs, statsErr := st.Stats(ctx)
		if statsErr == nil {
			sizeStr := "unknown"
			if fi, _ := os.Stat(cfg.DBPath()); fi != nil {
				sizeStr = fmt.Sprintf("%.1f MB", float64(fi.Size())/(1024*1024))
			}
			results = append(results, CheckResult{
				Name: "store_stats", Category: "system", Status: "pass",
				Message: fmt.Sprintf("%d conversations, %d messages, %s", convs, msgs, sizeStr),
			})
		}
	}
	return results
}

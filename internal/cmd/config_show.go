package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/gateway"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Foyer configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration and file locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Data directory: %s %s\n", cfg.DataDir, existsMarker(dirExists(cfg.DataDir)))
		fmt.Fprintf(out, "Store DB: %s %s\n", cfg.DBPath(), existsMarker(fileExists(cfg.DBPath())))
		fmt.Fprintf(out, "Gateway config: %s %s\n", cfg.GatewayConfig, existsMarker(fileExists(cfg.GatewayConfig)))
		fmt.Fprintf(out, "Listen address: %s\n", cfg.ListenAddr)
		if cfg.ThrottleRPS > 0 {
			fmt.Fprintf(out, "Throttle: %.0f req/s, burst %d\n", cfg.ThrottleRPS, cfg.ThrottleBurst)
		} else {
			fmt.Fprintf(out, "Throttle: disabled\n")
		}
		fmt.Fprintf(out, "Janitor: sweep %s, purge %s\n", cfg.SweepEvery, cfg.PurgeEvery)

		// The key env var name comes from the gateway config when that
		// file parses; otherwise report the default.
		keyEnv := gateway.DefaultUpstreamAPIKeyEnv
		if gwCfg, err := gateway.LoadConfig(cfg.GatewayConfig); err == nil {
			keyEnv = gwCfg.Upstream.APIKeyEnv
		}
		if os.Getenv(keyEnv) != "" {
			fmt.Fprintf(out, "Upstream key (%s): set\n", keyEnv)
		} else {
			fmt.Fprintf(out, "Upstream key (%s): not set\n", keyEnv)
		}

		return nil
	},
}

func existsMarker(ok bool) string {
	if ok {
		return "(exists)"
	}
	return "(missing)"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

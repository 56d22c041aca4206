package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/doctor"
)

var (
	doctorFormat       string
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, gateway config, upstream, SQLite)",
	Long:  "Verifies the data directory is writable, the gateway config parses, the upstream is reachable, and the conversation store is usable.",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text", "output format (text, json)")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip upstream connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	opts := doctor.Options{SkipUpstream: doctorSkipUpstream}
	if fileExists(cfg.GatewayConfig) {
		opts.GatewayConfigPath = cfg.GatewayConfig
	}
	report := doctor.Run(ctx, opts)

	out := cmd.OutOrStdout()
	if doctorFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			marker := "✓"
			switch c.Status {
			case "warn":
				marker = "⚠"
			case "fail":
				marker = "✗"
			}
			fmt.Fprintf(out, "%s %s: %s\n", marker, c.Name, c.Message)
			if c.Fix != "" && c.Status != "pass" {
				fmt.Fprintf(out, "  fix: %s\n", c.Fix)
			}
		}
		fmt.Fprintf(out, "\n%d passed, %d warnings, %d failed\n",
			report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	}

	if report.Status == "fail" {
		return fmt.Errorf("doctor checks failed")
	}
	return nil
}

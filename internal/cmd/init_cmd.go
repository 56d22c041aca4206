package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var initForce bool

const operatorTemplate = `# Foyer operator configuration.
# Every key can also be set via FOYER_* environment variables.
listen_addr: ":8080"
gateway_config: foyer.gateway.yaml
throttle_rps: 50
throttle_burst: 100
sweep_every: 5m
purge_every: 1m
`

const gatewayTemplate = `# Foyer gateway configuration: identities, admission tiers,
# cache bounds, and the upstream being protected.
identities:
  - name: alice
    api_key: change-me-alice
  # Identities may carry their own admission tier:
  # - name: batch
  #   api_key: change-me-batch
  #   limits:
  #     capacity: 5
  #     refill_per_min: 10

limits:
  identity:
    capacity: 30
    refill_per_min: 30
  global:
    capacity: 100
    refill_per_min: 100
  idle_sweep_threshold: 1h

cache:
  max_size: 100
  ttl: 5m

upstream:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  request_timeout: 120s
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Foyer deployment",
	Long:  "Creates foyer.config.yaml and foyer.gateway.yaml starter files in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "init")
		defer span.End()

		files := []struct {
			name    string
			content string
		}{
			{"foyer.config.yaml", operatorTemplate},
			{"foyer.gateway.yaml", gatewayTemplate},
		}
		out := cmd.OutOrStdout()
		for _, f := range files {
			if _, err := os.Stat(f.name); err == nil && !initForce {
				log.Warn().Str("file", f.name).Msg("file exists, skipping (use --force to overwrite)")
				continue
			}
			if err := os.WriteFile(f.name, []byte(f.content), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", f.name, err)
			}
			fmt.Fprintf(out, "✓ Created %s\n", f.name)
		}
		fmt.Fprintf(out, "\nEdit foyer.gateway.yaml to set real API keys, then run 'foyer serve'.\n")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/gateway"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gateway configuration file",
	Long:  "Parses the gateway config YAML, applies defaults, and checks identities, limits, cache, and upstream settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "validate")
		defer span.End()

		if validateFile == "" {
			validateFile = "foyer.gateway.yaml"
		}

		gwCfg, err := gateway.LoadConfig(validateFile)
		if err != nil {
			log.Error().
				Err(err).
				Str("file", validateFile).
				Msg("gateway config validation failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("validation failed: %w", err)
		}

		d, _ := gwCfg.ParseDurations()

		log.Info().
			Str("file", validateFile).
			Int("identities", len(gwCfg.Identities)).
			Msg("gateway config validated")

		fmt.Printf("✓ Gateway config valid: %s\n", validateFile)
		fmt.Printf("  Identities: %d\n", len(gwCfg.Identities))
		fmt.Printf("  Identity tier: %.0f burst, %.0f/min refill\n",
			gwCfg.Limits.Identity.Capacity, gwCfg.Limits.Identity.RefillPerMin)
		fmt.Printf("  Global tier: %.0f burst, %.0f/min refill\n",
			gwCfg.Limits.Global.Capacity, gwCfg.Limits.Global.RefillPerMin)
		fmt.Printf("  Cache: %d entries, %s TTL\n", gwCfg.Cache.MaxSize, d.CacheTTL)
		fmt.Printf("  Upstream: %s (%s)\n", gwCfg.Upstream.Model, gwCfg.Upstream.BaseURL)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "gateway config file to validate (default: foyer.gateway.yaml)")
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foyerhq/foyer/internal/otel"
)

// Set at build time via -ldflags "-X github.com/foyerhq/foyer/internal/cmd.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	// otelShutdown flushes telemetry on exit from Execute()
	otelShutdown func(context.Context) error

	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	otelFlag  bool
)

// resolvedVersion prefers the ldflags Version; a "dev" build falls back
// to the module version Go recorded (e.g. from go install ...@v0.3.0).
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// tracer spans CLI command execution; the serve loop has its own HTTP middleware.
var tracer = otel.Tracer("github.com/foyerhq/foyer/internal/cmd")

var rootCmd = &cobra.Command{
	Use:   "foyer",
	Short: "Admission-controlled gateway for conversational AI backends",
	Long: `Foyer sits between chat clients and a rate-limited generation API.

It protects the upstream and the conversation store with:
- Token-bucket admission control, per identity and global
- A bounded TTL cache over conversation and message reads
- Coalescing of concurrent identical reads into one fetch
- Precise Retry-After hints when requests are denied`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		// Telemetry is opt-in: --otel, -v, or FOYER_OTEL_ENABLED=true.
		enabled := otelFlag || verbose || os.Getenv("FOYER_OTEL_ENABLED") == "true"
		shutdown, err := otel.Setup("foyer", resolvedVersion(), enabled)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
		otelShutdown = shutdown
		return nil
	},
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Structured logs go to stderr so stdout stays clean for piping
	// (e.g. foyer doctor --format json | jq).
	var sink io.Writer = os.Stderr
	if logFormat != "json" {
		sink = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: os.Getenv("NO_COLOR") != ""}
	}
	log.Logger = zerolog.New(sink).With().Timestamp().Logger()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "operator config file (default: ./foyer.config.yaml or ~/.foyer/foyer.config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log output format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&otelFlag, "otel", false, "emit OpenTelemetry traces and metrics to stdout")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("otel", rootCmd.PersistentFlags().Lookup("otel"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires viper: an explicit --config wins, then ./foyer.config.yaml,
// then ~/.foyer/foyer.config.yaml. FOYER_* env vars override file values.
func initConfig() {
	viper.SetEnvPrefix("FOYER")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("foyer.config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".foyer"))
		}
	}

	// The file is optional; running against pure defaults is fine.
	_ = viper.ReadInConfig()
}

// Execute runs the CLI and flushes telemetry before returning.
func Execute() error {
	err := rootCmd.Execute()
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return err
}

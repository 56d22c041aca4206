package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/janitor"
	"github.com/foyerhq/foyer/internal/server"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/upstream"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server with admission control and caching",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides listen_addr from config)")
	rootCmd.AddCommand(serveCmd)
}

// newProvider builds the upstream client named by the gateway config.
// A missing API key disables generation rather than failing startup,
// so read-only deployments work without upstream credentials.
func newProvider(gwCfg *gateway.Config) (upstream.Provider, error) {
	key := os.Getenv(gwCfg.Upstream.APIKeyEnv)
	if key == "" {
		return nil, nil
	}
	d, err := gwCfg.ParseDurations()
	if err != nil {
		return nil, err
	}
	return upstream.NewClient(key, gwCfg.Upstream.BaseURL, d.UpstreamTimeout), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	gwCfg, err := gateway.LoadConfig(cfg.GatewayConfig)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", cfg.GatewayConfig).Msg("gateway config not found — using defaults")
		gwCfg = &gateway.Config{}
		gwCfg.ApplyDefaults()
	} else if err != nil {
		return fmt.Errorf("loading gateway config: %w", err)
	}
	if len(gwCfg.Identities) == 0 {
		log.Warn().Msg("no identities configured — all API endpoints will return 401. Add identities to the gateway config for production.")
	}

	st, err := store.NewStore(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	gw, err := gateway.New(gwCfg, st)
	if err != nil {
		return fmt.Errorf("initializing gateway: %w", err)
	}
	defer gw.Close()

	provider, err := newProvider(gwCfg)
	if err != nil {
		return fmt.Errorf("initializing upstream client: %w", err)
	}
	if provider == nil {
		log.Warn().
			Str("api_key_env", gwCfg.Upstream.APIKeyEnv).
			Msg("upstream API key not set — generation endpoints will return 503")
	}

	opts := []server.Option{
		server.WithCORSOrigins([]string{"*"}),
	}
	var throttle *server.Throttle
	if cfg.ThrottleRPS > 0 {
		throttle = server.NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst)
		opts = append(opts, server.WithThrottle(throttle))
	}

	srv := server.NewServer(gw, st, provider, gwCfg, opts...)

	sweepEvery, purgeEvery, err := cfg.Intervals()
	if err != nil {
		return fmt.Errorf("parsing janitor intervals: %w", err)
	}
	d, err := gwCfg.ParseDurations()
	if err != nil {
		return fmt.Errorf("parsing gateway durations: %w", err)
	}
	jan := janitor.New(gw)
	if err := jan.Register(sweepEvery, purgeEvery); err != nil {
		return fmt.Errorf("registering janitor jobs: %w", err)
	}
	if throttle != nil {
		// Idle throttle clients age out on the same cadence as idle
		// admission buckets.
		if err := jan.RegisterSweeper(throttle, sweepEvery, d.IdleThreshold); err != nil {
			return fmt.Errorf("registering throttle sweep: %w", err)
		}
	}
	jan.Start()
	defer jan.Stop()

	addr := cfg.ListenAddr
	if serveListen != "" {
		addr = serveListen
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("identities", len(gwCfg.Identities)).
		Int("cron_entries", jan.Entries()).
		Bool("upstream", provider != nil).
		Bool("throttle", throttle != nil).
		Msg("foyer_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/pkg/assistant"
	"github.com/harun/nara/pkg/httpapi"
)

var (
	serveHost string
	servePort int
	serveRate int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant over HTTP",
	Long: `Serve the assistant over HTTP. POST /v1/messages processes a request,
GET /healthz reports health and GET /metrics exposes Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "interface to bind")
	serveCmd.Flags().IntVar(&servePort, "port", 8420, "port to listen on")
	serveCmd.Flags().IntVar(&serveRate, "rate-limit", 100, "requests per minute per client, 0 disables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := assistant.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	server, err := httpapi.NewServer(httpapi.Options{
		Host:               serveHost,
		Port:               servePort,
		RateLimitPerMinute: serveRate,
	}, a, log.Logger)
	if err != nil {
		return err
	}

	// Engine settings are bound at construction, so a changed file needs
	// a restart; the watcher makes that visible instead of silent.
	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), log.Logger, func(*config.Config) {
		log.Info().Msg("Configuration changed on disk, restart serve to apply it")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	go func() {
		<-ctx.Done()
		if err := server.Stop(); err != nil {
			log.Error().Err(err).Msg("HTTP API shutdown failed")
		}
	}()

	return server.Start()
}

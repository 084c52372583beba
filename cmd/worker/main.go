package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"tts-pipeline/internal/config"
	"tts-pipeline/internal/queue"
	"tts-pipeline/internal/store"
	"tts-pipeline/internal/telemetry"
	workerproc "tts-pipeline/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	q := queue.New(cfg)
	invoker := workerproc.NewHTTPInvoker(cfg.InternalSynthURL, 2*cfg.SynthTimeout)
	processor := workerproc.NewProcessor(cfg, log, q, st, invoker)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Str("queue", q.Name()).
		Dur("visibility", cfg.VisibilityTimeout).
		Dur("poll_interval", cfg.WorkerPollInterval).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped")
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	_ = godotenv.Load()

	cfg := LoadConfig()
	ctx := context.Background()

	repo := must(newSQLiteRepo(cfg.DBPath))
	must(struct{}{}, repo.Init(ctx))
	defer repo.Close()

	rabbit := must(NewRabbit(cfg.RabbitURL, cfg.ExchangeName))
	defer rabbit.Close()

	var provider PaymentProvider
	if cfg.ProviderBaseURL != "" {
		provider = newAggregatorProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	} else {
		log.Warn().Msg("PROVIDER_BASE_URL absent, provider factice actif")
		provider = newFakeProvider()
	}

	hub := NewHub()
	svc := &service{cfg: cfg, repo: repo, provider: provider, br: rabbit, hub: hub}

	registerMetrics()

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: NewServer(cfg, svc, hub).routes(),
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		log.Warn().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("payment service listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server")
	}
}

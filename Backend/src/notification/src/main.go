package main

import (
	"net/http"
	"os"
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

	repo, err := NewRepository(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer repo.Close()

	rabbit, err := NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit")
	}
	defer rabbit.Close()

	dispatcher := NewDispatcher(repo)
	if err := rabbit.ConsumeTopic(cfg.QueueName, []string{RKPaymentCompleted, RKPaymentFailed}, dispatcher.HandleEvent); err != nil {
		log.Fatal().Err(err).Msg("consumers")
	}

	addr := ":" + cfg.HTTPPort
	log.Info().Str("addr", addr).Msg("notification service listening")
	if err := http.ListenAndServe(addr, NewServer(repo).routes()); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

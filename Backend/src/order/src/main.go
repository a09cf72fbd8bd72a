package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := LoadConfig()

	repo, err := NewRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("db err: %v", err)
	}
	defer repo.Close()

	rb, err := NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		log.Fatalf("rabbit err: %v", err)
	}
	defer rb.Close()

	srv := NewOrderServer(cfg, repo, rb)
	if err := srv.StartConsumers(); err != nil {
		log.Fatalf("consumers err: %v", err)
	}

	addr := ":" + cfg.HTTPPort
	log.Printf("[order] HTTP listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatalf("serve err: %v", err)
	}
}

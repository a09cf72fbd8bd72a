package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

type OrderServer struct {
	repo   *Repository
	rabbit *Rabbit
	cfg    Config
}

func NewOrderServer(cfg Config, repo *Repository, rb *Rabbit) *OrderServer {
	return &OrderServer{cfg: cfg, repo: repo, rabbit: rb}
}

func (s *OrderServer) StartConsumers() error {
	return s.rabbit.ConsumeTopic(s.cfg.QueueName, []string{RKPaymentCompleted}, s.handleEvent)
}

// handleEvent confirme la commande au premier payment.completed reçu.
// Les relivraisons ne font rien : l'UPDATE conditionnel a déjà tranché.
func (s *OrderServer) handleEvent(rk string, body []byte) error {
	evt, err := decodeJSON[PaymentCompletedEvent](body)
	if err != nil {
		log.Printf("[order] message invalide rk=%s: %v", rk, err)
		return nil // inutile de rejouer un message illisible
	}
	applied, err := s.repo.Confirm(context.Background(), evt.OrderID)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("[order] commande %s confirmée (paiement %s)", evt.OrderID, evt.PaymentID)
	}
	return nil
}

func (s *OrderServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleCreate)
	mux.HandleFunc("GET /orders/{id}", s.handleGet)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *OrderServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Total  int64  `json:"total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "corps JSON invalide", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Total <= 0 {
		http.Error(w, "userId et total > 0 requis", http.StatusBadRequest)
		return
	}
	o := &Order{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Status:      OrderPendingPayment,
		Total:       req.Total,
		CreatedUnix: nowUnix(),
		UpdatedUnix: nowUnix(),
	}
	if err := s.repo.Create(r.Context(), o); err != nil {
		http.Error(w, "erreur interne", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(o)
}

func (s *OrderServer) handleGet(w http.ResponseWriter, r *http.Request) {
	o, err := s.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "erreur interne", http.StatusInternalServerError)
		return
	}
	if o == nil {
		http.Error(w, "commande introuvable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(o)
}

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

type Server struct {
	cfg Config
	svc *service
	wr  *webhookReconciler
	hub *Hub
}

func NewServer(cfg Config, svc *service, hub *Hub) *Server {
	return &Server{cfg: cfg, svc: svc, wr: newWebhookReconciler(svc), hub: hub}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /functions/initiate-payment", s.handleInitiate)
	mux.HandleFunc("POST /functions/payment-status", s.handleStatus)
	mux.HandleFunc("POST /functions/confirm-payment", s.handleConfirm)
	mux.HandleFunc("POST /webhooks/{provider}", s.wr.handle)
	mux.HandleFunc("GET /realtime", s.hub.HandleRealtime)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.logRequests(mux))
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corps JSON invalide")
		return
	}
	resp, err := s.svc.InitiatePayment(r.Context(), req)
	if err != nil {
		if errors.Is(err, errValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("initiate payment")
		writeError(w, http.StatusInternalServerError, "erreur interne")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentID string `json:"paymentId"`
		OrderID   string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corps JSON invalide")
		return
	}
	p, err := s.svc.CheckStatus(r.Context(), req.PaymentID, req.OrderID)
	if err != nil {
		if errors.Is(err, errValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("payment status")
		writeError(w, http.StatusInternalServerError, "erreur interne")
		return
	}
	if p == nil {
		// Course fraîche création/lecture : pas encore de ligne, pas une erreur.
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": toView(p)})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentID     string `json:"paymentId"`
		TransactionID string `json:"transactionId"`
		Status        Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corps JSON invalide")
		return
	}
	p, err := s.svc.ConfirmPayment(r.Context(), req.PaymentID, req.TransactionID, req.Status)
	if err != nil {
		if errors.Is(err, errValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, errPaymentNotFound) {
			writeError(w, http.StatusNotFound, "paiement introuvable")
			return
		}
		log.Error().Err(err).Msg("confirm payment")
		writeError(w, http.StatusInternalServerError, "erreur interne")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": toView(p)})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

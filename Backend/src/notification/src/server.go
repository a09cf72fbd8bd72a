package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type Server struct {
	repo *Repository
}

func NewServer(repo *Repository) *Server { return &Server{repo: repo} }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /notifications", s.handleList)
	mux.HandleFunc("POST /notifications/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /push-endpoints", s.handleRegisterEndpoint)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id requis", http.StatusBadRequest)
		return
	}
	list, err := s.repo.ListByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("list notifications")
		http.Error(w, "erreur interne", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []Notification{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ok, err := s.repo.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Error().Err(err).Msg("mark read")
		http.Error(w, "erreur interne", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "notification introuvable", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.URL == "" {
		http.Error(w, "userId et url requis", http.StatusBadRequest)
		return
	}
	if err := s.repo.RegisterEndpoint(r.Context(), req.UserID, req.URL); err != nil {
		log.Error().Err(err).Msg("register endpoint")
		http.Error(w, "erreur interne", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

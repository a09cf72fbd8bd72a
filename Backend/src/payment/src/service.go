package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var errValidation = errors.New("validation")

type eventPublisher interface {
	PublishJSON(routingKey string, v any) error
}

type service struct {
	cfg      Config
	repo     Repository
	provider PaymentProvider
	br       eventPublisher
	hub      *Hub
}

// Numéros ivoiriens : 10 chiffres locaux (ou 8 historiques), préfixe +225 admis.
var phoneRe = regexp.MustCompile(`^(\+225)?[0-9]{8,10}$`)

func validPhone(method Method, phone string) bool {
	if method == MethodPaiementPro {
		// le widget hébergé collecte lui-même le moyen de paiement
		return phone == "" || phoneRe.MatchString(strings.ReplaceAll(phone, " ", ""))
	}
	return phoneRe.MatchString(strings.ReplaceAll(phone, " ", ""))
}

type InitiateRequest struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
	PhoneNumber   string `json:"phoneNumber"`
	UserID        string `json:"userId"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
}

type InitiateResponse struct {
	Success       bool   `json:"success"`
	PaymentID     string `json:"paymentId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
	Status        Status `json:"status,omitempty"`
}

// InitiatePayment crée exactement une ligne pending puis passe la main au
// provider. Rejet synchrone ⇒ la ligne part en failed tout de suite ; le
// client devra re-soumettre, ce qui créera une nouvelle ligne.
func (s *service) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	if req.OrderID == "" || req.UserID == "" {
		return InitiateResponse{}, fmt.Errorf("%w: orderId et userId requis", errValidation)
	}
	if req.Amount <= 0 {
		return InitiateResponse{}, fmt.Errorf("%w: montant invalide", errValidation)
	}
	method, ok := ParseMethod(req.PaymentMethod)
	if !ok {
		return InitiateResponse{}, fmt.Errorf("%w: moyen de paiement %q non supporté", errValidation, req.PaymentMethod)
	}
	if !validPhone(method, req.PhoneNumber) {
		return InitiateResponse{}, fmt.Errorf("%w: numéro de téléphone invalide", errValidation)
	}

	p := &Payment{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Method:        method,
		Status:        StatusPending,
		Phone:         strings.ReplaceAll(req.PhoneNumber, " ", ""),
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CreatedUnix:   nowUnix(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return InitiateResponse{}, err
	}

	res, err := s.provider.Initiate(ctx, p)
	if err != nil {
		// Erreur de communication : la ligne part en failed, l'erreur en metadata.
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		_, _, _ = s.applyAndFanout(ctx, p.ID, StatusFailed, res.TransactionID, raw, err.Error())
		return InitiateResponse{Success: false, PaymentID: p.ID, Message: "provider injoignable", Status: StatusFailed}, nil
	}
	if !res.Accepted {
		raw, _ := json.Marshal(map[string]string{"provider_message": res.Message})
		_, _, _ = s.applyAndFanout(ctx, p.ID, StatusFailed, res.TransactionID, raw, res.Message)
		return InitiateResponse{
			Success:       false,
			PaymentID:     p.ID,
			TransactionID: res.TransactionID,
			Message:       res.Message,
			Status:        StatusFailed,
		}, nil
	}

	raw, _ := json.Marshal(map[string]string{"provider_message": res.Message})
	_, _, _ = s.applyAndFanout(ctx, p.ID, StatusProcessing, res.TransactionID, raw, "")
	return InitiateResponse{
		Success:       true,
		PaymentID:     p.ID,
		TransactionID: res.TransactionID,
		Message:       res.Message,
		Status:        StatusProcessing,
	}, nil
}

// applyAndFanout est l'unique chemin d'écriture de statut. L'émission des
// événements et la diffusion temps réel n'ont lieu que si la transition a
// réellement été écrite : les relivraisons ne re-déclenchent rien.
func (s *service) applyAndFanout(ctx context.Context, id string, to Status, txnID string, raw []byte, reason string) (bool, *Payment, error) {
	applied, p, err := s.repo.ApplyTransition(ctx, id, to, txnID, raw)
	if err != nil {
		return false, nil, err
	}
	if !applied {
		return false, p, nil
	}

	transitionsApplied.WithLabelValues(string(to)).Inc()
	if s.hub != nil {
		s.hub.Broadcast(p)
	}

	switch to {
	case StatusCompleted:
		_ = s.br.PublishJSON(RKPaymentCompleted, PaymentCompletedEvent{
			PaymentID:     p.ID,
			OrderID:       p.OrderID,
			UserID:        p.UserID,
			Amount:        p.Amount,
			Method:        string(p.Method),
			TransactionID: p.TransactionID,
			CompletedUnix: p.CompletedUnix,
		})
	case StatusFailed:
		_ = s.br.PublishJSON(RKPaymentFailed, PaymentFailedEvent{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			UserID:    p.UserID,
			Amount:    p.Amount,
			Method:    string(p.Method),
			Reason:    reason,
		})
	}
	return true, p, nil
}

// CheckStatus relit la ligne et, si elle n'est pas terminale et qu'un provider
// est configuré, demande un statut plus frais, appliqué par le même chemin
// idempotent que les webhooks. Ligne absente ⇒ (nil, nil), pas une erreur :
// le client peut interroger avant que la création soit visible.
func (s *service) CheckStatus(ctx context.Context, paymentID, orderID string) (*Payment, error) {
	var p *Payment
	var err error
	switch {
	case paymentID != "":
		p, err = s.repo.GetByID(ctx, paymentID)
	case orderID != "":
		p, err = s.repo.GetByOrderID(ctx, orderID)
	default:
		return nil, fmt.Errorf("%w: paymentId ou orderId requis", errValidation)
	}
	if err != nil || p == nil {
		return nil, err
	}
	if IsTerminal(p.Status) || s.provider == nil || s.cfg.ProviderBaseURL == "" {
		return p, nil
	}

	rawStatus, txnID, err := s.provider.CheckStatus(ctx, p)
	if err != nil {
		// Meilleur effort : on rend la ligne telle quelle, le webhook tranchera.
		log.Warn().Err(err).Str("payment_id", p.ID).Msg("status check provider failed")
		return p, nil
	}
	mapped := MapProviderStatus(rawStatus)
	raw, _ := json.Marshal(map[string]string{"source": "status-check", "provider_status": rawStatus})
	if _, updated, err := s.applyAndFanout(ctx, p.ID, mapped, txnID, raw, rawStatus); err == nil && updated != nil {
		return updated, nil
	}
	return p, nil
}

// ConfirmPayment : chemin manuel/alternatif, mêmes règles que le webhook.
func (s *service) ConfirmPayment(ctx context.Context, paymentID, txnID string, to Status) (*Payment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: paymentId requis", errValidation)
	}
	switch to {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: statut %q non confirmable", errValidation, to)
	}
	raw, _ := json.Marshal(map[string]string{"source": "confirm-payment"})
	_, p, err := s.applyAndFanout(ctx, paymentID, to, txnID, raw, "confirmation manuelle")
	return p, err
}

// Vue JSON de la ligne payment, partagée par les fonctions HTTP et le flux ws.
type paymentView struct {
	ID            string `json:"id"`
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	Status        Status `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	Amount        int64  `json:"amount"`
	CreatedAt     int64  `json:"createdAt"`
	CompletedAt   *int64 `json:"completedAt"`
}

func toView(p *Payment) paymentView {
	v := paymentView{
		ID:            p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		PaymentMethod: string(p.Method),
		Amount:        p.Amount,
		CreatedAt:     p.CreatedUnix,
	}
	if p.CompletedUnix != 0 {
		c := p.CompletedUnix
		v.CompletedAt = &c
	}
	return v
}

func marshalPaymentView(p *Payment) ([]byte, error) {
	return json.Marshal(toView(p))
}

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Réconciliateur webhook. Les providers livrent au-moins-une-fois et dans le
// désordre ; tout converge ici vers le même chemin d'écriture idempotent.

// En-tête de signature selon le provider ; X-Signature par défaut.
var signatureHeaders = map[string]string{
	"wave":        "Wave-Signature",
	"orange":      "X-Orange-Signature",
	"paiementpro": "X-Callback-Signature",
}

func signatureHeader(provider string) string {
	if h, ok := signatureHeaders[provider]; ok {
		return h
	}
	return "X-Signature"
}

func verifySignature(secret string, body []byte, got string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(got))
}

// webhookEvent : les champs qu'on sait extraire d'un callback, tous optionnels
// sauf le statut.
type webhookEvent struct {
	EventID       string
	Status        string
	TransactionID string
	PaymentID     string
	OrderID       string
	Amount        int64
}

// parseWebhook tolère les deux formes rencontrées : enveloppe imbriquée
// data/object, ou champs à plat.
func parseWebhook(body []byte) (*webhookEvent, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, err
	}
	payload := root
	for _, envelope := range []string{"data", "object"} {
		if inner, ok := payload[envelope].(map[string]any); ok {
			payload = inner
		}
	}

	evt := &webhookEvent{
		EventID:       pickString(root, "event_id", "id"),
		Status:        pickString(payload, "status", "payment_status", "state"),
		TransactionID: pickString(payload, "transaction_id", "transactionId", "reference", "txn_id"),
		OrderID:       pickString(payload, "order_id", "orderId"),
		Amount:        pickInt(payload, "amount"),
	}
	// payment id : champ custom/metadata, ou la merchant_reference qu'on a
	// envoyée à l'initiation (c'est notre propre id).
	for _, k := range []string{"custom_data", "metadata", "custom"} {
		if m, ok := payload[k].(map[string]any); ok {
			if v := pickString(m, "payment_id", "paymentId"); v != "" {
				evt.PaymentID = v
				break
			}
		}
	}
	if evt.PaymentID == "" {
		evt.PaymentID = pickString(payload, "merchant_reference", "payment_id", "paymentId")
	}
	if evt.Status == "" {
		return nil, errMissingStatus
	}
	return evt, nil
}

var errMissingStatus = errors.New("callback sans statut")

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func pickInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// resolvePayment : ordre de priorité fixé : id explicite, réf. provider,
// commande (plus récente d'abord), puis heuristique pending+montant.
func (s *service) resolvePayment(ctx context.Context, evt *webhookEvent) (*Payment, error) {
	if evt.PaymentID != "" {
		if p, err := s.repo.GetByID(ctx, evt.PaymentID); err != nil || p != nil {
			return p, err
		}
	}
	if evt.TransactionID != "" {
		if p, err := s.repo.GetByTransactionID(ctx, evt.TransactionID); err != nil || p != nil {
			return p, err
		}
	}
	if evt.OrderID != "" {
		if p, err := s.repo.GetByOrderID(ctx, evt.OrderID); err != nil || p != nil {
			return p, err
		}
	}
	if evt.Amount > 0 {
		return s.repo.FindPendingByAmount(ctx, evt.Amount)
	}
	return nil, nil
}

type webhookReconciler struct {
	svc  *service
	seen *lru.Cache[string, struct{}]
}

func newWebhookReconciler(svc *service) *webhookReconciler {
	seen, _ := lru.New[string, struct{}](2048)
	return &webhookReconciler{svc: svc, seen: seen}
}

func (wr *webhookReconciler) handle(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	// Signature d'abord : un callback forgé pourrait marquer n'importe quel
	// paiement comme soldé. On ne loggue pas le payload d'une requête rejetée.
	if secret := wr.svc.cfg.WebhookSecrets[provider]; secret != "" {
		got := r.Header.Get(signatureHeader(provider))
		if got == "" || !verifySignature(secret, body, got) {
			invalidSignatures.Inc()
			webhooksReceived.WithLabelValues(provider, "invalid_signature").Inc()
			log.Warn().Str("provider", provider).Msg("webhook signature invalide")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	evt, err := parseWebhook(body)
	if err != nil {
		webhooksReceived.WithLabelValues(provider, "malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	// À partir d'ici on répond toujours 200 : les erreurs internes se logguent,
	// elles ne doivent pas déclencher des tempêtes de retries côté provider.
	resp := map[string]any{"received": true}
	defer func() {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}()

	if evt.EventID != "" {
		key := provider + ":" + evt.EventID
		if _, dup := wr.seen.Get(key); dup {
			duplicateWebhooks.Inc()
			webhooksReceived.WithLabelValues(provider, "duplicate").Inc()
			resp["duplicate"] = true
			return
		}
	}

	p, err := wr.svc.resolvePayment(r.Context(), evt)
	if err != nil {
		webhooksReceived.WithLabelValues(provider, "error").Inc()
		log.Error().Err(err).Str("provider", provider).Msg("webhook: résolution en erreur")
		return
	}
	if p == nil {
		// Anomalie : callback sans paiement correspondant. On acquitte quand même.
		webhooksReceived.WithLabelValues(provider, "unresolved").Inc()
		log.Warn().
			Str("provider", provider).
			Str("transaction_id", evt.TransactionID).
			Str("order_id", evt.OrderID).
			Msg("webhook: aucun paiement correspondant")
		return
	}

	mapped := MapProviderStatus(evt.Status)
	applied, updated, err := wr.svc.applyAndFanout(r.Context(), p.ID, mapped, evt.TransactionID, body, evt.Status)
	if err != nil {
		webhooksReceived.WithLabelValues(provider, "error").Inc()
		log.Error().Err(err).Str("payment_id", p.ID).Msg("webhook: écriture en erreur")
		return
	}
	if evt.EventID != "" {
		wr.seen.Add(provider+":"+evt.EventID, struct{}{})
	}
	if !applied {
		duplicateWebhooks.Inc()
		webhooksReceived.WithLabelValues(provider, "noop").Inc()
		resp["status"] = updated.Status
		return
	}
	webhooksReceived.WithLabelValues(provider, "applied").Inc()
	resp["status"] = updated.Status
	log.Info().
		Str("provider", provider).
		Str("payment_id", updated.ID).
		Str("status", string(updated.Status)).
		Msg("webhook appliqué")
}

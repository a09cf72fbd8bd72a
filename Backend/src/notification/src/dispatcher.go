package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher : abonné aux transitions terminales de Payment. Persiste la
// notification in-app puis pousse vers les endpoints enregistrés. Tout est
// meilleur-effort : un échec d'envoi se loggue, il ne remonte jamais.
type Dispatcher struct {
	repo   *Repository
	client *http.Client
}

func NewDispatcher(repo *Repository) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *Dispatcher) HandleEvent(rk string, body []byte) error {
	switch rk {
	case RKPaymentCompleted:
		evt, err := decodeJSON[PaymentCompletedEvent](body)
		if err != nil {
			log.Warn().Err(err).Str("rk", rk).Msg("message invalide")
			return nil
		}
		return d.onCompleted(context.Background(), evt)
	case RKPaymentFailed:
		evt, err := decodeJSON[PaymentFailedEvent](body)
		if err != nil {
			log.Warn().Err(err).Str("rk", rk).Msg("message invalide")
			return nil
		}
		return d.onFailed(context.Background(), evt)
	}
	return nil
}

func (d *Dispatcher) onCompleted(ctx context.Context, evt PaymentCompletedEvent) error {
	data, _ := json.Marshal(evt)

	// Notification client + notification back-office, une seule fois chacune :
	// Payment n'émet l'événement qu'à la première transition vers completed.
	user := &Notification{
		ID:          uuid.NewString(),
		UserID:      evt.UserID,
		Type:        TypePayment,
		Title:       "Paiement confirmé",
		Message:     fmt.Sprintf("Votre paiement de %d FCFA a été confirmé.", evt.Amount),
		Data:        string(data),
		CreatedUnix: nowUnix(),
	}
	if err := d.repo.Create(ctx, user); err != nil {
		return err
	}
	admin := &Notification{
		ID:          uuid.NewString(),
		UserID:      adminUserID,
		Type:        TypePaymentAdmin,
		Title:       "Paiement reçu",
		Message:     fmt.Sprintf("Commande %s payée (%d FCFA via %s).", evt.OrderID, evt.Amount, evt.Method),
		Data:        string(data),
		CreatedUnix: nowUnix(),
	}
	if err := d.repo.Create(ctx, admin); err != nil {
		return err
	}

	d.pushToUser(ctx, evt.UserID, user)
	return nil
}

func (d *Dispatcher) onFailed(ctx context.Context, evt PaymentFailedEvent) error {
	data, _ := json.Marshal(evt)
	n := &Notification{
		ID:          uuid.NewString(),
		UserID:      evt.UserID,
		Type:        TypePayment,
		Title:       "Paiement échoué",
		Message:     fmt.Sprintf("Votre paiement de %d FCFA n'a pas abouti. Vous pouvez réessayer.", evt.Amount),
		Data:        string(data),
		CreatedUnix: nowUnix(),
	}
	if err := d.repo.Create(ctx, n); err != nil {
		return err
	}
	d.pushToUser(ctx, evt.UserID, n)
	return nil
}

// pushToUser retourne le nombre d'endpoints réellement touchés ; zéro endpoint
// enregistré n'est pas une erreur.
func (d *Dispatcher) pushToUser(ctx context.Context, userID string, n *Notification) int {
	endpoints, err := d.repo.EndpointsByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("lecture des endpoints push")
		return 0
	}

	body, _ := json.Marshal(map[string]string{
		"title":   n.Title,
		"message": n.Message,
		"type":    n.Type,
		"data":    n.Data,
	})

	sent := 0
	for _, ep := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("url", ep.URL).Msg("push endpoint injoignable")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			sent++
		}
	}
	log.Info().Str("user_id", userID).Int("sent", sent).Int("endpoints", len(endpoints)).Msg("push dispatch")
	return sent
}

package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookServer(t *testing.T, secrets map[string]string) (*httptest.Server, *service, *fakeBroker) {
	t.Helper()
	br := &fakeBroker{}
	svc := &service{
		cfg:      Config{WebhookSecrets: secrets},
		repo:     setupTestRepo(t),
		provider: &stubProvider{},
		br:       br,
		hub:      NewHub(),
	}
	srv := httptest.NewServer(NewServer(svc.cfg, svc, svc.hub).routes())
	t.Cleanup(srv.Close)
	return srv, svc, br
}

func postWebhook(t *testing.T, url string, body []byte, header, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(header, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookInvalidSignature(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{"orange": "s3cret"})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"status":"approved","merchant_reference":"pay-1"}`)

	// Sans signature.
	resp := postWebhook(t, srv.URL+"/webhooks/orange", body, "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Signature fausse.
	resp = postWebhook(t, srv.URL+"/webhooks/orange", body, "X-Orange-Signature", "deadbeef")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// La ligne n'a pas bougé et aucun effet de bord n'est parti.
	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status)
	require.Empty(t, br.events)
}

func TestWebhookApprovedCompletesPayment(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{"orange": "s3cret"})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"status":"approved","transaction_id":"OM-77","custom_data":{"payment_id":"pay-1"}}`)
	resp := postWebhook(t, srv.URL+"/webhooks/orange", body, "X-Orange-Signature", sign("s3cret", body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, true, ack["received"])

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, "OM-77", p.TransactionID)
	require.NotZero(t, p.CompletedUnix)
	require.Equal(t, 1, br.count(RKPaymentCompleted))

	evt := br.events[0].Payload.(PaymentCompletedEvent)
	require.Equal(t, "pay-1", evt.PaymentID)
	require.Equal(t, "order-1", evt.OrderID)
	require.Equal(t, "user-1", evt.UserID)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{"orange": "s3cret"})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"status":"approved","merchant_reference":"pay-1","transaction_id":"OM-77"}`)
	sig := sign("s3cret", body)

	resp := postWebhook(t, srv.URL+"/webhooks/orange", body, "X-Orange-Signature", sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p1, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	completedAt := p1.CompletedUnix
	require.NotZero(t, completedAt)

	// Livraison au-moins-une-fois : on rejoue exactement le même callback.
	resp = postWebhook(t, srv.URL+"/webhooks/orange", body, "X-Orange-Signature", sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p2, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p2.Status)
	require.Equal(t, completedAt, p2.CompletedUnix, "completed_unix ne doit pas bouger")
	require.Equal(t, 1, br.count(RKPaymentCompleted), "pas de deuxième événement")
}

func TestWebhookDeclinedFailsPayment(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"status":"declined","merchant_reference":"pay-1"}`)
	resp := postWebhook(t, srv.URL+"/webhooks/mtn", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Zero(t, p.CompletedUnix)
	require.Equal(t, 1, br.count(RKPaymentFailed))
	require.Equal(t, 0, br.count(RKPaymentCompleted))
}

func TestWebhookNestedEnvelope(t *testing.T) {
	srv, svc, _ := newWebhookServer(t, map[string]string{})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	// Forme "événement" : { id, data: { object: {...} } }
	body := []byte(`{"id":"evt-1","data":{"object":{"status":"transferred","reference":"WV-12","order_id":"order-1"}}}`)
	resp := postWebhook(t, srv.URL+"/webhooks/wave", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, "WV-12", p.TransactionID)
}

func TestWebhookDuplicateEventIDDropped(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"event_id":"evt-9","status":"initiated","merchant_reference":"pay-1"}`)
	resp := postWebhook(t, srv.URL+"/webhooks/moov", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]any
	resp = postWebhook(t, srv.URL+"/webhooks/moov", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, true, ack["duplicate"])

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, p.Status)
	require.Empty(t, br.events)
}

func TestWebhookUnresolvableAcknowledged(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	// Aucun identifiant exploitable, montant sans correspondance.
	body := []byte(`{"status":"approved","transaction_id":"GHOST-1","amount":99999}`)
	resp := postWebhook(t, srv.URL+"/webhooks/orange", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, true, ack["received"])

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status, "aucune ligne ne doit être modifiée")
	require.Empty(t, br.events)
}

func TestWebhookAmountHeuristicResolution(t *testing.T) {
	srv, svc, br := newWebhookServer(t, map[string]string{})
	require.NoError(t, svc.repo.Create(context.Background(), testPayment("pay-1", "order-1")))

	body := []byte(`{"status":"approved","amount":5000}`)
	resp := postWebhook(t, srv.URL+"/webhooks/orange", body, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := svc.repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 1, br.count(RKPaymentCompleted))
}

func TestWebhookMalformedBody(t *testing.T) {
	srv, _, _ := newWebhookServer(t, map[string]string{})
	for i, body := range [][]byte{[]byte(`not json`), []byte(`{"foo":1}`)} {
		resp := postWebhook(t, fmt.Sprintf("%s/webhooks/orange", srv.URL), body, "", "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "cas %d", i)
	}
}

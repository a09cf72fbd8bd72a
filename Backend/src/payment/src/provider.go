package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// InitiateResult : réponse synchrone du provider à une demande de push.
type InitiateResult struct {
	Accepted      bool
	TransactionID string
	Message       string
}

type PaymentProvider interface {
	// Initiate déclenche le push mobile money (ou crée la session du widget).
	Initiate(ctx context.Context, p *Payment) (InitiateResult, error)
	// CheckStatus interroge le provider pour un statut plus frais que le nôtre.
	// Retourne le statut brut du provider et sa réf. de transaction.
	CheckStatus(ctx context.Context, p *Payment) (rawStatus, txnID string, err error)
}

// Client HTTP vers l'agrégateur (Orange/MTN/Moov/Wave derrière une même API).

type aggregatorProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAggregatorProvider(baseURL, apiKey string) PaymentProvider {
	return &aggregatorProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *aggregatorProvider) Initiate(ctx context.Context, p *Payment) (InitiateResult, error) {
	body, _ := json.Marshal(map[string]any{
		"merchant_reference": p.ID,
		"channel":            p.Method,
		"amount":             p.Amount,
		"currency":           "XOF",
		"customer_phone":     p.Phone,
		"customer_email":     p.CustomerEmail,
		"customer_name":      p.CustomerName,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return InitiateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("initiate %s: %w", p.Method, err)
	}
	defer resp.Body.Close()

	var out struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		Message       string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InitiateResult{}, fmt.Errorf("initiate %s: réponse illisible: %w", p.Method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return InitiateResult{Accepted: false, TransactionID: out.TransactionID, Message: out.Message}, nil
	}
	return InitiateResult{Accepted: true, TransactionID: out.TransactionID, Message: out.Message}, nil
}

func (a *aggregatorProvider) CheckStatus(ctx context.Context, p *Payment) (string, string, error) {
	ref := p.TransactionID
	if ref == "" {
		ref = p.ID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/transactions/"+ref, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("check status %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("check status %s: http %d", ref, resp.StatusCode)
	}

	var out struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Status, out.TransactionID, nil
}

// Provider factice pour le dev local : le dernier chiffre du numéro décide.
// Chiffre pair ⇒ push accepté, impair se terminant par 9 ⇒ rejet synchrone.
type fakeProvider struct{}

func newFakeProvider() PaymentProvider { return &fakeProvider{} }

func (f *fakeProvider) Initiate(ctx context.Context, p *Payment) (InitiateResult, error) {
	ref := fmt.Sprintf("FAKE-%s-%d", p.Method, time.Now().UnixNano())
	if n := len(p.Phone); n > 0 && p.Phone[n-1] == '9' {
		return InitiateResult{Accepted: false, TransactionID: ref, Message: "solde insuffisant"}, nil
	}
	return InitiateResult{Accepted: true, TransactionID: ref, Message: "push envoyé"}, nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, p *Payment) (string, string, error) {
	return "pending", p.TransactionID, nil
}

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	events []struct {
		RK      string
		Payload any
	}
}

func (f *fakeBroker) PublishJSON(rk string, v any) error {
	f.events = append(f.events, struct {
		RK      string
		Payload any
	}{rk, v})
	return nil
}

func (f *fakeBroker) count(rk string) int {
	n := 0
	for _, e := range f.events {
		if e.RK == rk {
			n++
		}
	}
	return n
}

type stubProvider struct {
	initiate    InitiateResult
	initiateErr error
	rawStatus   string
	txnID       string
	statusErr   error
}

func (s *stubProvider) Initiate(ctx context.Context, p *Payment) (InitiateResult, error) {
	return s.initiate, s.initiateErr
}

func (s *stubProvider) CheckStatus(ctx context.Context, p *Payment) (string, string, error) {
	return s.rawStatus, s.txnID, s.statusErr
}

func newTestService(t *testing.T, provider PaymentProvider) (*service, *fakeBroker) {
	t.Helper()
	br := &fakeBroker{}
	svc := &service{
		cfg:      Config{WebhookSecrets: map[string]string{}},
		repo:     setupTestRepo(t),
		provider: provider,
		br:       br,
		hub:      NewHub(),
	}
	return svc, br
}

func validInitiate() InitiateRequest {
	return InitiateRequest{
		OrderID:       "order-1",
		Amount:        5000,
		PaymentMethod: "orange",
		PhoneNumber:   "0700000002",
		UserID:        "user-1",
	}
}

func TestInitiateValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})

	cases := []struct {
		name   string
		mutate func(*InitiateRequest)
	}{
		{"montant nul", func(r *InitiateRequest) { r.Amount = 0 }},
		{"montant négatif", func(r *InitiateRequest) { r.Amount = -100 }},
		{"méthode inconnue", func(r *InitiateRequest) { r.PaymentMethod = "paypal" }},
		{"téléphone invalide", func(r *InitiateRequest) { r.PhoneNumber = "abc" }},
		{"téléphone trop court", func(r *InitiateRequest) { r.PhoneNumber = "07" }},
		{"sans commande", func(r *InitiateRequest) { r.OrderID = "" }},
		{"sans user", func(r *InitiateRequest) { r.UserID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validInitiate()
			tc.mutate(&req)
			_, err := svc.InitiatePayment(context.Background(), req)
			require.ErrorIs(t, err, errValidation)
		})
	}

	// Rien ne doit avoir été persisté.
	p, err := svc.repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestInitiateAccepted(t *testing.T) {
	svc, br := newTestService(t, &stubProvider{
		initiate: InitiateResult{Accepted: true, TransactionID: "TXN-1", Message: "push envoyé"},
	})

	resp, err := svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.PaymentID)
	require.Equal(t, StatusProcessing, resp.Status)

	p, err := svc.repo.GetByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, p.Status)
	require.Equal(t, "TXN-1", p.TransactionID)
	require.Equal(t, 0, br.count(RKPaymentCompleted))
	require.Equal(t, 0, br.count(RKPaymentFailed))
}

func TestInitiateSynchronousRejection(t *testing.T) {
	svc, br := newTestService(t, &stubProvider{
		initiate: InitiateResult{Accepted: false, TransactionID: "TXN-2", Message: "solde insuffisant"},
	})

	resp, err := svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, StatusFailed, resp.Status)

	p, err := svc.repo.GetByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, 1, br.count(RKPaymentFailed))
}

func TestInitiateProviderUnreachable(t *testing.T) {
	svc, br := newTestService(t, &stubProvider{initiateErr: errors.New("timeout")})

	resp, err := svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)
	require.False(t, resp.Success)

	p, err := svc.repo.GetByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, 1, br.count(RKPaymentFailed))
}

func TestCheckStatusMissingRow(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	p, err := svc.CheckStatus(context.Background(), "ghost", "")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestCheckStatusRefreshesFromProvider(t *testing.T) {
	svc, br := newTestService(t, &stubProvider{
		initiate:  InitiateResult{Accepted: true, TransactionID: "TXN-1"},
		rawStatus: "approved",
		txnID:     "TXN-1",
	})
	svc.cfg.ProviderBaseURL = "https://aggregator.example"

	resp, err := svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)

	p, err := svc.CheckStatus(context.Background(), resp.PaymentID, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.NotZero(t, p.CompletedUnix)
	require.Equal(t, 1, br.count(RKPaymentCompleted))

	// Deuxième check : la ligne est terminale, le provider n'est plus consulté
	// et aucun événement ne repart.
	p, err = svc.CheckStatus(context.Background(), resp.PaymentID, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 1, br.count(RKPaymentCompleted))
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	svc, br := newTestService(t, &stubProvider{
		initiate: InitiateResult{Accepted: true, TransactionID: "TXN-1"},
	})
	resp, err := svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)

	p, err := svc.ConfirmPayment(context.Background(), resp.PaymentID, "TXN-1", StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 1, br.count(RKPaymentCompleted))

	// Rejouer la confirmation : même état final, pas de deuxième événement.
	p, err = svc.ConfirmPayment(context.Background(), resp.PaymentID, "TXN-1", StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 1, br.count(RKPaymentCompleted))
}

func TestConfirmPaymentRejectsBadStatus(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	_, err := svc.ConfirmPayment(context.Background(), "pay-1", "", StatusPending)
	require.ErrorIs(t, err, errValidation)
	_, err = svc.ConfirmPayment(context.Background(), "pay-1", "", StatusRefunded)
	require.ErrorIs(t, err, errValidation)
}

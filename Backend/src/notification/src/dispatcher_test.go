package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T) (*Dispatcher, *Repository) {
	t.Helper()
	repo, err := NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return NewDispatcher(repo), repo
}

func completedEvent() []byte {
	b, _ := json.Marshal(PaymentCompletedEvent{
		PaymentID: "pay-1",
		OrderID:   "order-1",
		UserID:    "user-1",
		Amount:    5000,
		Method:    "orange",
	})
	return b
}

func TestCompletedCreatesUserAndAdminNotifications(t *testing.T) {
	d, repo := setupTest(t)

	require.NoError(t, d.HandleEvent(RKPaymentCompleted, completedEvent()))

	user, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, user, 1)
	require.Equal(t, TypePayment, user[0].Type)
	require.False(t, user[0].IsRead)

	admin, err := repo.ListByUser(context.Background(), adminUserID)
	require.NoError(t, err)
	require.Len(t, admin, 1)
	require.Equal(t, TypePaymentAdmin, admin[0].Type)
}

func TestFailedCreatesUserNotificationOnly(t *testing.T) {
	d, repo := setupTest(t)

	body, _ := json.Marshal(PaymentFailedEvent{
		PaymentID: "pay-1", OrderID: "order-1", UserID: "user-1",
		Amount: 5000, Method: "mtn", Reason: "solde insuffisant",
	})
	require.NoError(t, d.HandleEvent(RKPaymentFailed, body))

	user, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, user, 1)

	admin, err := repo.ListByUser(context.Background(), adminUserID)
	require.NoError(t, err)
	require.Empty(t, admin)
}

func TestMalformedEventDropped(t *testing.T) {
	d, repo := setupTest(t)
	require.NoError(t, d.HandleEvent(RKPaymentCompleted, []byte("not json")))
	list, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPushFanout(t *testing.T) {
	d, repo := setupTest(t)
	ctx := context.Background()

	var hits atomic.Int64
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ok.Close)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	require.NoError(t, repo.RegisterEndpoint(ctx, "user-1", ok.URL))
	require.NoError(t, repo.RegisterEndpoint(ctx, "user-1", failing.URL))

	n := &Notification{ID: "n-1", UserID: "user-1", Type: TypePayment, Title: "t", Message: "m", CreatedUnix: nowUnix()}
	sent := d.pushToUser(ctx, "user-1", n)
	require.Equal(t, 1, sent, "seul l'endpoint qui répond 2xx compte")
	require.Equal(t, int64(1), hits.Load())
}

func TestPushNoEndpointsIsNotAnError(t *testing.T) {
	d, _ := setupTest(t)
	n := &Notification{ID: "n-1", UserID: "user-1", Type: TypePayment, Title: "t", Message: "m", CreatedUnix: nowUnix()}
	require.Equal(t, 0, d.pushToUser(context.Background(), "user-1", n))
}

func TestRegisterEndpointIdempotent(t *testing.T) {
	_, repo := setupTest(t)
	ctx := context.Background()

	require.NoError(t, repo.RegisterEndpoint(ctx, "user-1", "https://push.example/abc"))
	require.NoError(t, repo.RegisterEndpoint(ctx, "user-1", "https://push.example/abc"))

	eps, err := repo.EndpointsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, eps, 1)
}

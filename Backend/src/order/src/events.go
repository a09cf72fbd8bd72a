package main

// Événements reçus par Order depuis l'exchange topic.
const (
	RKPaymentCompleted = "payment.completed"
)

type PaymentCompletedEvent struct {
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id"`
	CompletedUnix int64  `json:"completed_unix"`
}

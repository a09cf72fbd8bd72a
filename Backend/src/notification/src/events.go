package main

// Événements consommés depuis l'exchange topic.
const (
	RKPaymentCompleted = "payment.completed"
	RKPaymentFailed    = "payment.failed"
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

type PaymentFailedEvent struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
	Reason    string `json:"reason,omitempty"`
}

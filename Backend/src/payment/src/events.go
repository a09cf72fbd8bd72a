package main

// Événements publiés par Payment sur l'exchange topic. L'émission n'a lieu
// qu'après le commit de la transition : les effets de bord (confirmation de
// commande, notifications) sont des abonnés, jamais des écritures inline.
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

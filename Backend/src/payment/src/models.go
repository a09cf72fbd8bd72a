package main

import "time"

// Statut d'un paiement. La machine à états vit dans statemachine.go.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Canal mobile money (ou agrégateur) par lequel l'utilisateur paie.
type Method string

const (
	MethodOrange      Method = "orange"
	MethodMTN         Method = "mtn"
	MethodMoov        Method = "moov"
	MethodWave        Method = "wave"
	MethodPaiementPro Method = "paiementpro"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodOrange, MethodMTN, MethodMoov, MethodWave, MethodPaiementPro:
		return Method(s), true
	}
	return "", false
}

type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Amount        int64 // FCFA, sans centimes
	Method        Method
	Status        Status
	TransactionID string // réf. du provider, vide tant que non assignée
	Phone         string
	CustomerEmail string
	CustomerName  string
	Metadata      string // JSON brut (payloads provider, horodatages intermédiaires)
	CreatedUnix   int64
	CompletedUnix int64 // 0 tant que status != completed
}

func (p *Payment) CreatedAt() time.Time { return time.Unix(p.CreatedUnix, 0) }

func (p *Payment) CompletedAt() *time.Time {
	if p.CompletedUnix == 0 {
		return nil
	}
	t := time.Unix(p.CompletedUnix, 0)
	return &t
}

func nowUnix() int64 { return time.Now().Unix() }

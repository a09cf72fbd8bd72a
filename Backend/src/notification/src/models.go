package main

import "time"

type Notification struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Data        string `json:"data"` // payload opaque, JSON
	IsRead      bool   `json:"is_read"`
	CreatedUnix int64  `json:"created_at"`
}

// PushEndpoint : un appareil enregistré pour les notifications push.
type PushEndpoint struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	URL         string `json:"url"`
	CreatedUnix int64  `json:"created_at"`
}

const (
	TypePayment      = "payment"
	TypePaymentAdmin = "payment_admin"
)

// Destinataire des notifications back-office.
const adminUserID = "admin"

func nowUnix() int64 { return time.Now().Unix() }

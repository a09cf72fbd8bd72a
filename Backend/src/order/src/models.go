package main

import "time"

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderCancelled      OrderStatus = "cancelled"
)

type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Status      OrderStatus `json:"status"`
	Total       int64       `json:"total"` // FCFA
	CreatedUnix int64       `json:"created_unix"`
	UpdatedUnix int64       `json:"updated_unix"`
}

func nowUnix() int64 { return time.Now().Unix() }

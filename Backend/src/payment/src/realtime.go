package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Flux temps réel des changements de lignes payment. Chaque transition
// appliquée est rediffusée telle quelle aux abonnés dont le filtre matche :
// le client copie la ligne autoritative, il ne calcule jamais un statut.

type rtFilter struct {
	PaymentID string
	OrderID   string
	UserID    string
}

func (f rtFilter) matches(p *Payment) bool {
	if f.PaymentID != "" {
		return f.PaymentID == p.ID
	}
	if f.OrderID != "" {
		return f.OrderID == p.OrderID
	}
	if f.UserID != "" {
		return f.UserID == p.UserID
	}
	return false
}

type rtClient struct {
	conn   *websocket.Conn
	filter rtFilter
	send   chan []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*rtClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*rtClient]struct{})}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Hub) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	filter := rtFilter{
		PaymentID: r.URL.Query().Get("payment_id"),
		OrderID:   r.URL.Query().Get("order_id"),
		UserID:    r.URL.Query().Get("user_id"),
	}
	if filter.PaymentID == "" && filter.OrderID == "" && filter.UserID == "" {
		http.Error(w, "payment_id, order_id ou user_id requis", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &rtClient{conn: conn, filter: filter, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	c.readLoop(h) // bloque jusqu'à la fermeture côté client
}

func (h *Hub) remove(c *rtClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast pousse la ligne appliquée vers chaque abonné concerné.
// Un client trop lent est déconnecté plutôt que de bloquer la diffusion.
func (h *Hub) Broadcast(p *Payment) {
	body, err := marshalPaymentView(p)
	if err != nil {
		return
	}
	h.mu.Lock()
	var slow []*rtClient
	for c := range h.clients {
		if !c.filter.matches(p) {
			continue
		}
		select {
		case c.send <- body:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.remove(c)
		_ = c.conn.Close()
	}
}

func (c *rtClient) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *rtClient) readLoop(h *Hub) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

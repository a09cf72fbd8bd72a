package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tracker : suit un paiement jusqu'à son état terminal en combinant deux
// sources, un polling périodique de la fonction payment-status et le flux
// websocket temps réel. Les deux chemins copient la ligne autoritative telle
// quelle ; aucun statut n'est jamais calculé côté client, donc "dernier écrit
// gagne" suffit comme fusion.

type PaymentState struct {
	ID            string `json:"id"`
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	Amount        int64  `json:"amount"`
	CreatedAt     int64  `json:"createdAt"`
	CompletedAt   *int64 `json:"completedAt"`
}

type StatusLogEntry struct {
	AtUnix  int64  `json:"at_unix"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func isTerminalStatus(s string) bool {
	switch s {
	case "completed", "failed", "cancelled", "refunded":
		return true
	}
	return false
}

var statusMessages = map[string]string{
	"pending":    "En attente de confirmation…",
	"processing": "Paiement en cours de traitement…",
	"completed":  "Paiement confirmé !",
	"failed":     "Le paiement a échoué.",
	"cancelled":  "Paiement annulé.",
	"refunded":   "Paiement remboursé.",
}

type TrackerConfig struct {
	PaymentID    string
	StatusURL    string // POST {paymentId} → {success, payment}
	RealtimeURL  string // ws(s)://…/realtime
	PollInterval time.Duration
}

type Tracker struct {
	cfg    TrackerConfig
	client *http.Client

	mu      sync.Mutex
	current *PaymentState
	entries []StatusLogEntry

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartTracking lance le polling et l'abonnement temps réel. Le handle rendu
// possède les deux : l'appelant doit appeler Stop() au démontage de la vue,
// sinon le ticker survit à la page. Stop est aussi déclenché automatiquement
// au premier état terminal observé.
func StartTracking(cfg TrackerConfig) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		ctx:    ctx,
		cancel: cancel,
	}

	t.wg.Add(1)
	go t.pollLoop()

	if cfg.RealtimeURL != "" {
		t.wg.Add(1)
		go t.realtimeLoop()
	}
	return t
}

// Stop libère ticker et abonnement. Idempotent.
func (t *Tracker) Stop() {
	t.stopOnce.Do(t.cancel)
	t.wg.Wait()
}

// State rend une copie de l'état courant et du journal.
func (t *Tracker) State() (*PaymentState, []StatusLogEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cur *PaymentState
	if t.current != nil {
		c := *t.current
		cur = &c
	}
	entries := make([]StatusLogEntry, len(t.entries))
	copy(entries, t.entries)
	return cur, entries
}

func (t *Tracker) Done() <-chan struct{} { return t.ctx.Done() }

// apply copie la ligne autoritative. Journal uniquement sur changement de
// statut ; état terminal ⇒ on coupe polling et websocket.
func (t *Tracker) apply(p *PaymentState) {
	t.mu.Lock()
	// Une réponse de polling encore en vol peut arriver après le terminal vu
	// en temps réel : un état terminal ne se laisse pas écraser par du stale.
	if t.current != nil && isTerminalStatus(t.current.Status) && !isTerminalStatus(p.Status) {
		t.mu.Unlock()
		return
	}
	changed := t.current == nil || t.current.Status != p.Status
	t.current = p
	if changed {
		msg := statusMessages[p.Status]
		if msg == "" {
			msg = p.Status
		}
		t.entries = append(t.entries, StatusLogEntry{AtUnix: time.Now().Unix(), Status: p.Status, Message: msg})
	}
	terminal := isTerminalStatus(p.Status)
	t.mu.Unlock()

	if terminal {
		t.stopOnce.Do(t.cancel)
	}
}

func (t *Tracker) pollLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.pollOnce()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

func (t *Tracker) pollOnce() {
	body, _ := json.Marshal(map[string]string{"paymentId": t.cfg.PaymentID})
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.cfg.StatusURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("[checkout] poll %s: %v", t.cfg.PaymentID, err)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Success bool          `json:"success"`
		Payment *PaymentState `json:"payment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Printf("[checkout] poll %s: réponse illisible: %v", t.cfg.PaymentID, err)
		return
	}
	// payment null : la ligne n'est pas encore visible, on réessaiera.
	if out.Payment != nil {
		t.apply(out.Payment)
	}
}

func (t *Tracker) realtimeLoop() {
	defer t.wg.Done()
	url := fmt.Sprintf("%s?payment_id=%s", t.cfg.RealtimeURL, t.cfg.PaymentID)

	for t.ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(t.ctx, url, nil)
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		t.readRealtime(conn)
		_ = conn.Close()
	}
}

func (t *Tracker) readRealtime(conn *websocket.Conn) {
	// Fermer la connexion quand le contexte tombe, sinon ReadMessage bloque.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-t.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var p PaymentState
		if err := json.Unmarshal(msg, &p); err != nil {
			continue
		}
		t.apply(&p)
	}
}

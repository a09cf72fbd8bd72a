package main

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Config

type Config struct {
	Port           string
	PaymentHTTPURL string // base http du service payment
	PaymentWSURL   string // base ws du service payment
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func loadConfig() Config {
	httpURL := getenv("PAYMENT_HTTP_URL", "http://payment:8091")
	wsURL := getenv("PAYMENT_WS_URL", "")
	if wsURL == "" {
		wsURL = strings.Replace(httpURL, "http", "ws", 1)
	}
	return Config{
		Port:           getenv("FRONTEND_CHECKOUT_PORT", "8084"),
		PaymentHTTPURL: httpURL,
		PaymentWSURL:   wsURL,
	}
}

// Page de suivi

var pageTpl = template.Must(template.New("track").Funcs(template.FuncMap{
	"since": func(unix int64) string {
		if unix == 0 {
			return "-"
		}
		return time.Unix(unix, 0).Format("2006-01-02 15:04:05")
	},
	"badgeClass": func(status string) string {
		switch status {
		case "completed":
			return "badge badge-ok"
		case "failed", "cancelled", "refunded":
			return "badge badge-fail"
		default:
			return "badge badge-pending"
		}
	},
}).Parse(`<!doctype html>
<html lang="fr">
<head><meta charset="utf-8"><title>Suivi du paiement</title></head>
<body>
<h1>Suivi du paiement</h1>
{{if .State}}
<p>Paiement <code>{{.State.ID}}</code> — <span class="{{badgeClass .State.Status}}">{{.State.Status}}</span></p>
<p>Montant : {{.State.Amount}} FCFA — Moyen : {{.State.PaymentMethod}}</p>
<h2>Historique</h2>
<ul>
{{range .Log}}<li>{{since .AtUnix}} — {{.Status}} : {{.Message}}</li>{{end}}
</ul>
{{else}}
<p>Paiement en cours de création…</p>
{{end}}
{{if not .Terminal}}<script>setTimeout(function(){location.reload()}, 5000)</script>{{end}}
</body>
</html>`))

// Registre des trackers actifs : un par paiement suivi, arrêté au premier
// état terminal ou à l'expiration.
type trackerRegistry struct {
	cfg Config

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func newTrackerRegistry(cfg Config) *trackerRegistry {
	return &trackerRegistry{cfg: cfg, trackers: make(map[string]*Tracker)}
}

func (reg *trackerRegistry) get(paymentID string) *Tracker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.trackers[paymentID]; ok {
		return t
	}
	t := StartTracking(TrackerConfig{
		PaymentID:   paymentID,
		StatusURL:   reg.cfg.PaymentHTTPURL + "/functions/payment-status",
		RealtimeURL: reg.cfg.PaymentWSURL + "/realtime",
	})
	reg.trackers[paymentID] = t

	// Libération symétrique : le tracker se coupe seul à l'état terminal,
	// on le sort alors du registre.
	go func() {
		<-t.Done()
		t.Stop()
		reg.mu.Lock()
		delete(reg.trackers, paymentID)
		reg.mu.Unlock()
	}()
	return t
}

func (reg *trackerRegistry) stopAll() {
	reg.mu.Lock()
	trackers := make([]*Tracker, 0, len(reg.trackers))
	for _, t := range reg.trackers {
		trackers = append(trackers, t)
	}
	reg.trackers = make(map[string]*Tracker)
	reg.mu.Unlock()
	for _, t := range trackers {
		t.Stop()
	}
}

// HTTP

type Server struct {
	cfg Config
	reg *trackerRegistry
}

func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg, reg: newTrackerRegistry(cfg)}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /track/{paymentID}", s.handleTrackPage)
	mux.HandleFunc("GET /track/{paymentID}/state", s.handleTrackState)
	return s.logRequests(mux)
}

func (s *Server) handleTrackPage(w http.ResponseWriter, r *http.Request) {
	t := s.reg.get(r.PathValue("paymentID"))
	state, entries := t.State()

	data := struct {
		State    *PaymentState
		Log      []StatusLogEntry
		Terminal bool
	}{State: state, Log: entries}
	if state != nil {
		data.Terminal = isTerminalStatus(state.Status)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTpl.Execute(w, data); err != nil {
		log.Printf("render error: %v", err)
	}
}

func (s *Server) handleTrackState(w http.ResponseWriter, r *http.Request) {
	t := s.reg.get(r.PathValue("paymentID"))
	state, entries := t.State()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"payment": state, "log": entries})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s) from %s", r.Method, r.URL.Path, time.Since(start), r.RemoteAddr)
	})
}

func main() {
	cfg := loadConfig()
	srv := NewServer(cfg)
	defer srv.reg.stopAll()

	addr := ":" + cfg.Port
	log.Printf("[checkout-frontend] http=%s payment=%s", addr, cfg.PaymentHTTPURL)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

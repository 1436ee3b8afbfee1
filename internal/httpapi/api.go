// Package httpapi is the HTTP surface of the service: routing, middleware,
// request decoding and the mapping from domain errors onto statuses.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"scolara.org/internal/auth"
	"scolara.org/internal/ledger"
	"scolara.org/internal/obs"
)

// ReadyProbe reports whether the service can take traffic (e.g. ping the DB).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	ledger     *ledger.Service
	users      auth.UserStore
	tokens     *auth.TokenService
	readyProbe ReadyProbe
	version    string
	tokenTTL   time.Duration
}

// Config carries the API's collaborators.
type Config struct {
	Ledger     *ledger.Service
	Users      auth.UserStore
	Tokens     *auth.TokenService
	ReadyProbe ReadyProbe
	Version    string
	TokenTTL   time.Duration
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		ledger:     cfg.Ledger,
		users:      cfg.Users,
		tokens:     cfg.Tokens,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		tokenTTL:   cfg.TokenTTL,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 15 * time.Minute
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// payment ledger
	a.mux.HandleFunc("/v1/paiements", a.handlePaiementsCollection)
	a.mux.HandleFunc("/v1/paiements/", a.handlePaiementResource)
	a.mux.HandleFunc("/v1/paiements/stats", a.handleStats)
	a.mux.HandleFunc("/v1/internal/paiements/reset", a.handleReset)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "scolara-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "scolara-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

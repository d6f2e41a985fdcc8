// Package httpapi is the HTTP surface. Handlers translate between the
// cookie-based wire contract and the session, identity, and quota services;
// all policy lives in those services.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/identity"
	"mahainsight.org/internal/identity/google"
	"mahainsight.org/internal/obs"
	"mahainsight.org/internal/quota"
	"mahainsight.org/internal/session"
)

// ReadyProbe checks the dependencies /readyz reports on. A nil DB means the
// binary runs on in-memory stores and is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators. Sessions, Accounts, Linker and
// Quota are required; Google may be nil or unconfigured, which disables the
// provider endpoints.
type Options struct {
	Sessions *session.Service
	Accounts account.Store
	Linker   *identity.Linker
	Quota    *quota.Tracker
	Google   *google.Provider

	Ready   ReadyProbe
	Version string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	AskPolicy  quota.Policy
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	sessions   *session.Service
	accounts   account.Store
	linker     *identity.Linker
	quota      *quota.Tracker
	google     *google.Provider
	readyProbe ReadyProbe
	version    string

	accessTTL  time.Duration
	refreshTTL time.Duration
	askPolicy  quota.Policy
}

func New(opts Options) (*API, error) {
	if opts.Sessions == nil || opts.Accounts == nil || opts.Linker == nil || opts.Quota == nil {
		return nil, errors.New("httpapi: sessions, accounts, linker, and quota are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   opts.Sessions,
		accounts:   opts.Accounts,
		linker:     opts.Linker,
		quota:      opts.Quota,
		google:     opts.Google,
		readyProbe: opts.Ready,
		version:    opts.Version,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		askPolicy:  opts.AskPolicy,
	}
	if a.accessTTL <= 0 {
		a.accessTTL = 15 * time.Minute
	}
	if a.refreshTTL <= 0 {
		a.refreshTTL = 30 * 24 * time.Hour
	}
	if a.askPolicy.Limit <= 0 {
		a.askPolicy = quota.Policy{Limit: 20, Window: 24 * time.Hour}
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)

	// external identity provider
	a.mux.HandleFunc("/v1/auth/google/login", a.handleGoogleLogin)
	a.mux.HandleFunc("/v1/auth/google/callback", a.handleGoogleCallback)

	// quota-guarded resource
	a.mux.HandleFunc("/v1/insights/", a.handleInsights)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mahainsight-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mahainsight-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

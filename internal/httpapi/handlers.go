package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/audit"
	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/db"
	"ngoportal.org/internal/obs"
)

const (
	serviceName     = "NGO Portal API"
	adminRole       = "Admin"
	defaultMaxBytes = 1 << 20
)

// Database is the executor surface used by health and admin endpoints.
type Database interface {
	Query(ctx context.Context, query string, args ...any) (db.Result, error)
	Open(ctx context.Context) error
	State() db.State
	LastError() error
	Stats() (sql.DBStats, bool)
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	auth        *auth.Service
	database    Database
	audit       *audit.Logger
	log         zerolog.Logger
	version     string
	development bool

	rateBurst      int
	ratePerSec     float64
	trustedProxies []netip.Prefix
	corsOrigins    []string
	maxBodyBytes   int64
}

// Option configures API.
type Option func(*API)

// WithDatabase enables health reporting and the admin database endpoints.
func WithDatabase(d Database) Option {
	return func(a *API) { a.database = d }
}

// WithAudit sets the audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(a *API) { a.audit = l }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *API) { a.log = l }
}

// WithDevelopment exposes error details in responses.
func WithDevelopment(dev bool) Option {
	return func(a *API) { a.development = dev }
}

// WithRateLimit sets the per-IP token bucket for credential endpoints.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lets the rate limiter key on X-Forwarded-For for
// requests arriving from these prefixes.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithCORSOrigins sets allowed origins; "*" allows any.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// New wires routes for the auth service.
func New(svc *auth.Service, version string, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		auth:         svc,
		log:          zerolog.Nop(),
		version:      version,
		rateBurst:    10,
		ratePerSec:   1,
		maxBodyBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	limiter := newRateLimiter(a.rateBurst, a.ratePerSec)
	limiter.trusted = a.trustedProxies
	admin := a.protect(adminRole)

	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /api/auth/register", limiter.wrap(http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("POST /api/auth/login", limiter.wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("GET /api/auth/profile", a.protect()(a.handleProfile))
	a.mux.Handle("POST /api/auth/change-password", limiter.wrap(a.protect()(a.handleChangePassword)))
	if a.auth.RevocationEnabled() {
		a.mux.Handle("POST /api/auth/logout", a.protect()(a.handleLogout))
	}

	a.mux.Handle("GET /api/roles", admin(a.handleListRoles))
	a.mux.Handle("POST /api/roles", admin(a.handleCreateRole))
	a.mux.Handle("POST /api/roles/assign", admin(a.handleAssignRole))
	a.mux.Handle("POST /api/roles/remove", admin(a.handleRemoveRole))
	a.mux.Handle("GET /api/roles/user/{userId}", admin(a.handleUserRoles))

	a.mux.Handle("PUT /api/users/{userId}/deactivate", admin(a.handleSetActive(false)))
	a.mux.Handle("PUT /api/users/{userId}/activate", admin(a.handleSetActive(true)))

	a.mux.Handle("GET /api/db/info", admin(a.handleDBInfo))
	a.mux.Handle("POST /api/db/reconnect", admin(a.handleDBReconnect))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, http.StatusNotFound, "Route not found", nil)
	})
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Routed(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = Recover(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "Not configured"
	state := "unconfigured"
	if a.database != nil {
		res, err := a.database.Query(r.Context(), "SELECT 1")
		switch {
		case err != nil:
			status = "Error"
		case res.Mocked:
			status = "Mock"
		default:
			status = "Connected"
		}
		state = a.database.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "OK",
		"service":       serviceName,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"database":      status,
		"databaseState": state,
		"version":       a.version,
	})
}

func (a *API) handleDBInfo(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.fail(w, r, http.StatusServiceUnavailable, "Database is not configured", nil)
		return
	}
	res, err := a.database.Query(r.Context(), `
		select current_user as username,
		       current_database() as database_name,
		       version() as server_version,
		       (select count(*) from information_schema.tables where table_schema = 'public') as table_count`)
	if err == nil && res.Mocked {
		err = db.ErrUnavailable
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Error fetching database info")
		return
	}
	row, _ := res.First()
	data := map[string]any{
		"database": row,
		"state":    a.database.State().String(),
	}
	if stats, ok := a.database.Stats(); ok {
		data["pool"] = map[string]any{
			"maxOpen": stats.MaxOpenConnections,
			"open":    stats.OpenConnections,
			"inUse":   stats.InUse,
			"idle":    stats.Idle,
		}
	}
	writeSuccess(w, http.StatusOK, "", data)
}

func (a *API) handleDBReconnect(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.fail(w, r, http.StatusServiceUnavailable, "Database is not configured", nil)
		return
	}
	err := a.database.Open(r.Context())
	a.auditEvent(r.Context(), "db.reconnect", map[string]any{"ok": err == nil})
	if err != nil {
		a.fail(w, r, http.StatusServiceUnavailable, "Database still unavailable", err)
		return
	}
	writeSuccess(w, http.StatusOK, "Database connection re-established", map[string]any{
		"state": a.database.State().String(),
	})
}

func (a *API) auditEvent(ctx context.Context, event string, fields map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.LogEvent(ctx, event, fields); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("audit event dropped")
	}
}

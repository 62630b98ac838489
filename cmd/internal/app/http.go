package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	authapi "github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/api"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/directory"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/httpx"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/metrics"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/realtime"
)

// routes holds everything the HTTP surface is built from.
type routes struct {
	log     Logger
	cfg     Config
	dbPool  *pgxpool.Pool
	metrics *metrics.Metrics

	auth      *authapi.Handler
	directory *directory.Handler
	ws        *realtime.WSGateway

	// session gates authenticated routes.
	session       func(http.Handler) http.Handler
	wsRequireAuth bool
}

func newHTTPHandler(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/readyz", rt.handleReady)
	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	rt.auth.Routes(r)

	r.Group(func(gated chi.Router) {
		gated.Use(rt.session)
		rt.directory.Routes(gated)
		if rt.wsRequireAuth {
			gated.Method(http.MethodGet, "/ws", rt.ws)
		}
	})
	if !rt.wsRequireAuth {
		r.Method(http.MethodGet, "/ws", rt.ws)
	}

	var h http.Handler = r
	h = WithCORS(h, rt.cfg, rt.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, rt.log, rt.metrics)
	if rt.cfg.TrustProxy {
		h = chimw.RealIP(h)
	}
	// Outermost, so the request log line carries the id.
	return chimw.RequestID(h)
}

func (rt routes) handleReady(w http.ResponseWriter, r *http.Request) {
	if rt.dbPool == nil {
		if rt.cfg.ReadinessRequireDB {
			httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database not configured")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}

	if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
		rt.log.Info("readyz.db.not_ready", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database not ready")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

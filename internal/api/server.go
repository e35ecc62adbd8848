// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of portalgate: request validation,
// session resolution, engine dispatch and response assembly. Handlers
// are pure orchestration; all portal behavior lives in the engines.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/harborlink/portalgate/internal/appointment"
	"github.com/harborlink/portalgate/internal/artifact"
	"github.com/harborlink/portalgate/internal/config"
	"github.com/harborlink/portalgate/internal/detail"
	"github.com/harborlink/portalgate/internal/health"
	"github.com/harborlink/portalgate/internal/listing"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portalerr"
	"github.com/harborlink/portalgate/internal/session"
)

// Deps are the collaborators the server orchestrates. Everything is
// constructed in cmd/daemon and passed in explicitly.
type Deps struct {
	Config       config.Config
	Pool         *session.Pool
	Store        *artifact.Store
	Janitor      *artifact.Janitor
	Listing      *listing.Engine
	Detail       *detail.Engine
	Appointments *appointment.Engine
	Health       *health.Manager
}

// Server owns the router and the per-request orchestration.
type Server struct {
	cfg     config.Config
	pool    *session.Pool
	store   *artifact.Store
	janitor *artifact.Janitor

	lister *listing.Engine
	detail *detail.Engine
	appts  *appointment.Engine

	health    *health.Manager
	startTime time.Time
}

// New assembles the server from its dependencies.
func New(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		pool:      d.Pool,
		store:     d.Store,
		janitor:   d.Janitor,
		lister:    d.Listing,
		detail:    d.Detail,
		appts:     d.Appointments,
		health:    d.Health,
		startTime: time.Now(),
	}
}

// Router builds the chi handler with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	if s.cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(
			s.cfg.RateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:        "RATE_LIMITED",
					ErrorMessage: "too many requests, slow down",
				})
			}),
		))
	}

	r.Get("/health", s.instrument("health", s.handleHealth))
	r.Get("/ready", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/get_session", s.instrument("get_session", s.handleGetSession))
	r.Post("/get_containers", s.instrument("get_containers", s.handleGetContainers))
	r.Post("/get_container_timeline", s.instrument("get_container_timeline", s.handleGetContainerTimeline))
	r.Post("/get_booking_number", s.instrument("get_booking_number", s.handleGetBookingNumber))
	r.Post("/get_appointments", s.instrument("get_appointments", s.handleGetAppointments))
	r.Post("/get_info_bulk", s.instrument("get_info_bulk", s.handleGetInfoBulk))
	r.Post("/check_appointments", s.instrument("check_appointments", s.handleCheckAppointments))
	r.Post("/make_appointment", s.instrument("make_appointment", s.handleMakeAppointment))

	r.Get("/sessions", s.instrument("sessions", s.handleSessions))
	r.Delete("/sessions/{id}", s.instrument("session_close", s.handleCloseSession))
	r.Post("/cleanup", s.instrument("cleanup", s.handleCleanup))

	r.Get("/files/{name}", s.instrument("files", s.handleFile))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, portalerr.New(portalerr.KindUnknownEndpoint, "no endpoint %s %s", r.Method, r.URL.Path), "")
	})

	return otelhttp.NewHandler(r, "portalgate-api")
}

// requestID tags every request with an id that flows through the
// logging context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = chimw.GetReqID(r.Context())
		}
		ctx := log.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records per-endpoint duration and status metrics.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		recordRequest(endpoint, ww.Status(), time.Since(start))
	}
}

// acquire resolves the browser session an engine request runs on. A
// session_id reference is exact: a dead or unknown id surfaces as an
// error rather than a silent re-login. A credential reference creates
// a session transparently on miss.
func (s *Server) acquire(ctx context.Context, ref sessionRef) (*session.Session, bool, error) {
	if ref.SessionID != "" {
		sess, err := s.pool.AcquireByID(ctx, ref.SessionID)
		return sess, false, err
	}
	if err := ref.validate(); err != nil {
		return nil, false, err
	}
	return s.pool.Acquire(ctx, ref.credentials())
}

// engineCtx detaches engine work from request cancellation: a client
// that hangs up must not abort an in-flight browser operation halfway
// through a portal mutation. The engines bound themselves with their
// own per-operation deadlines.
func engineCtx(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// maybeBundle zips the session's artifact dirs when the request asked
// for a debug bundle. Best effort: a bundling failure is logged, not
// surfaced.
func (s *Server) maybeBundle(ctx context.Context, debug bool, sessionID, tag string) string {
	if !debug {
		return ""
	}
	name, err := s.store.Bundle(sessionID, tag)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "api")
		logger.Warn().Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("debug bundle failed")
		return ""
	}
	recordDebugBundle()
	return fileURL(name)
}

func fileURL(name string) string {
	return "/files/" + name
}

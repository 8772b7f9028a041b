// Package api is the producer's HTTP surface: client intake for operators and
// the claim/complete/extend transport for workers.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/intake"
	"github.com/SirClappington/slotwatch/internal/lease"
	"github.com/SirClappington/slotwatch/internal/report"
)

const maxBodyBytes = 1 << 20

type Store interface {
	Ping(ctx context.Context) error
	GetClient(ctx context.Context, id string) (domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	SetMonitoring(ctx context.Context, id string, enabled bool) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobsByClient(ctx context.Context, clientID string) ([]domain.Job, error)
}

type Deps struct {
	Store   Store
	Leases  *lease.Manager
	Intake  *intake.Service
	Reports *report.Reporter
	// Token is the bearer credential every /api route requires.
	Token string
	// ClaimWait bounds how long an idle claim long-polls for new work.
	ClaimWait time.Duration
	Logger    *zap.Logger
}

type Server struct {
	store     Store
	leases    *lease.Manager
	intake    *intake.Service
	reports   *report.Reporter
	token     []byte
	claimWait time.Duration
	logger    *zap.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:     d.Store,
		leases:    d.Leases,
		intake:    d.Intake,
		reports:   d.Reports,
		token:     []byte(d.Token),
		claimWait: d.ClaimWait,
		logger:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/clients", s.createClient)
		r.Get("/clients", s.listClients)
		r.Get("/clients/{id}/jobs", s.listClientJobs)
		r.Post("/clients/{id}/scan", s.scanNow)
		r.Patch("/clients/{id}/monitoring", s.setMonitoring)
		r.Get("/jobs/{id}", s.getJob)

		r.Post("/worker/claim", s.claim)
		r.Post("/worker/jobs/{id}/complete", s.complete)
		r.Post("/worker/jobs/{id}/extend", s.extend)
	})
	return r
}

// requireToken accepts only "Authorization: Bearer <token>" with the
// configured token. An empty configured token rejects everything.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || len(s.token) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), s.token) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// decode reads a single JSON object from the request body, rejecting unknown
// fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid JSON: trailing data")
		return false
	}
	return true
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/intake"
	"github.com/SirClappington/slotwatch/internal/storage"
)

type clientRequest struct {
	FullName          string `json:"full_name"`
	ContactChannel    string `json:"contact_channel"`
	ContactHandle     string `json:"contact_handle"`
	Timezone          string `json:"timezone"`
	PortalURL         string `json:"portal_url"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	TargetCities      string `json:"target_cities"`
	TargetMonths      string `json:"target_months"`
	AutoBook          bool   `json:"auto_book"`
	Notes             string `json:"notes"`
	MonitoringEnabled *bool  `json:"monitoring_enabled"`
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decode(w, r, &req) {
		return
	}
	c := domain.Client{
		FullName:          req.FullName,
		ContactChannel:    req.ContactChannel,
		ContactHandle:     req.ContactHandle,
		Timezone:          req.Timezone,
		PortalURL:         req.PortalURL,
		Username:          req.Username,
		TargetCities:      req.TargetCities,
		TargetMonths:      req.TargetMonths,
		AutoBook:          req.AutoBook,
		Notes:             req.Notes,
		MonitoringEnabled: req.MonitoringEnabled == nil || *req.MonitoringEnabled,
	}

	err := s.intake.Register(r.Context(), &c, req.Password)
	var invalid *intake.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": invalid.Error(), "field": invalid.Field})
		return
	case err != nil:
		s.internalError(w, "create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "client": c})
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		s.internalError(w, "list clients", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clients": clients})
}

func (s *Server) listClientJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetClient(r.Context(), id); err != nil {
		s.lookupError(w, "client", err)
		return
	}
	jobs, err := s.store.ListJobsByClient(r.Context(), id)
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

func (s *Server) scanNow(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.intake.EnqueueScan(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, intake.ErrMonitoringDisabled):
		writeError(w, http.StatusConflict, "monitoring is disabled for this client")
		return
	case err != nil:
		s.lookupError(w, "client", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "job_id": jobID})
}

func (s *Server) setMonitoring(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.SetMonitoring(r.Context(), id, *req.Enabled); err != nil {
		s.lookupError(w, "client", err)
		return
	}
	s.logger.Info("monitoring changed", zap.String("client_id", id), zap.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "monitoring_enabled": *req.Enabled})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.lookupError(w, "job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

func (s *Server) lookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.internalError(w, "load "+what, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

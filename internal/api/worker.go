package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/storage"
)

// maxClaimSkips bounds how many undecryptable jobs one claim request will
// fail before answering "no work".
const maxClaimSkips = 5

const workerHeader = "X-Worker-ID"

type claimResponse struct {
	OK  bool               `json:"ok"`
	Job *domain.ClaimedJob `json:"job"`
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.logger.With(zap.String("worker_id", r.Header.Get(workerHeader)))

	wait := s.claimWait
	for i := 0; i < maxClaimSkips; i++ {
		job, err := s.leases.ClaimNextWait(ctx, wait)
		if err != nil {
			s.internalError(w, "claim", err)
			return
		}
		if job == nil {
			break
		}
		wait = 0

		payload, err := s.intake.OpenPayload(job.Payload)
		if err != nil {
			log.Error("job payload failed integrity check", zap.String("job_id", job.ID), zap.Error(err))
			s.failJob(ctx, job.ID, err)
			continue
		}
		log.Info("job claimed", zap.String("job_id", job.ID), zap.String("client_id", job.ClientID))
		writeJSON(w, http.StatusOK, claimResponse{OK: true, Job: &domain.ClaimedJob{
			ID:             job.ID,
			ClientID:       job.ClientID,
			Kind:           job.Kind,
			Payload:        payload,
			CreatedAt:      job.CreatedAt,
			StartedAt:      job.StartedAt,
			LeaseExpiresAt: job.LeaseExpiresAt,
		}})
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{OK: true})
}

// failJob finishes a job that can never be processed.
func (s *Server) failJob(ctx context.Context, id string, cause error) {
	res := domain.ScanResult{
		Summary: "blocked: job payload could not be decrypted",
		Details: map[string]any{"stage": "claim", "error": cause.Error()},
	}
	if err := s.reports.Report(ctx, id, domain.Errored, res); err != nil {
		s.logger.Error("record undecryptable job", zap.String("job_id", id), zap.Error(err))
	}
}

type completeRequest struct {
	Status string `json:"status"`
	Result *struct {
		Summary  *string          `json:"summary"`
		Details  map[string]any   `json:"details"`
		Findings []domain.Finding `json:"findings"`
	} `json:"result"`
}

// validate reports the first problem with req, or "".
func (req completeRequest) validate() (domain.Status, domain.ScanResult, string) {
	status, ok := domain.ParseStatus(req.Status)
	switch {
	case !ok:
		return "", domain.ScanResult{}, `status must be "done" or "error"`
	case req.Result == nil:
		return "", domain.ScanResult{}, "result is required"
	case req.Result.Summary == nil || strings.TrimSpace(*req.Result.Summary) == "":
		return "", domain.ScanResult{}, "result.summary is required"
	}
	details := req.Result.Details
	if details == nil {
		details = map[string]any{}
	}
	return status, domain.ScanResult{
		Summary:  strings.TrimSpace(*req.Result.Summary),
		Details:  details,
		Findings: req.Result.Findings,
	}, ""
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decode(w, r, &req) {
		return
	}
	status, result, problem := req.validate()
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.reports.Report(r.Context(), id, status, result); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.internalError(w, "complete job", err)
		return
	}
	s.logger.Info("job completed",
		zap.String("job_id", id),
		zap.String("worker_id", r.Header.Get(workerHeader)),
		zap.String("status", string(status)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) extend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	until, ok, err := s.leases.Extend(r.Context(), id)
	if err != nil {
		s.internalError(w, "extend lease", err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job is not in progress")
		return
	}
	s.logger.Debug("lease extended",
		zap.String("job_id", id),
		zap.String("worker_id", r.Header.Get(workerHeader)),
		zap.Time("until", until))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lease_expires_at": until.UTC().Format(time.RFC3339Nano)})
}

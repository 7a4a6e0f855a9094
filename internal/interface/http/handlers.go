package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
	"github.com/bloom-hub/bloom-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// chartParams reads the offset and timeframe query parameters.
// It writes the error response and returns false when either is malformed.
func chartParams(w http.ResponseWriter, r *http.Request) (int, progress.Timeframe, bool) {
	offset, err := timeutil.ParseOffset(r.URL.Query().Get("offset"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_offset", err.Error())
		return 0, "", false
	}
	tf, err := progress.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_timeframe", "timeframe must be daily, weekly, monthly or yearly")
		return 0, "", false
	}
	return offset, tf, true
}

// handleGetProgress serves GET /v1/communities/{community}/members/{user}/progress?offset=&timeframe=
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	offset, tf, ok := chartParams(w, r)
	if !ok {
		return
	}

	res, err := s.deps.GetUserProgress.Handle(r.Context(), query.GetUserProgressQuery{
		CommunityID:      chi.URLParam(r, "community"),
		UserID:           chi.URLParam(r, "user"),
		UTCOffsetMinutes: offset,
		Timeframe:        tf,
		SkipCache:        r.URL.Query().Get("fresh") == "true",
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.DTO)
}

// handleGetCommunityStats serves GET /v1/communities/{community}/progress?offset=&timeframe=
func (s *Server) handleGetCommunityStats(w http.ResponseWriter, r *http.Request) {
	offset, tf, ok := chartParams(w, r)
	if !ok {
		return
	}

	dto, err := s.deps.GetCommunityStats.Handle(r.Context(), query.GetCommunityStatsQuery{
		CommunityID:      chi.URLParam(r, "community"),
		UTCOffsetMinutes: offset,
		Timeframe:        tf,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

type recordSessionRequest struct {
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`

	// UTCOffset accepts the same forms as the offset query parameter.
	UTCOffset string `json:"utc_offset"`
	Confirmed bool   `json:"confirmed"`
}

type recordSessionResponse struct {
	ID         string                   `json:"id"`
	OccurredAt string                   `json:"occurred_at"`
	Minutes    int64                    `json:"minutes"`
	Seconds    int64                    `json:"seconds"`
	Roles      *command.SyncRolesResult `json:"roles,omitempty"`
	RolesError string                   `json:"roles_error,omitempty"`
}

// handleRecordSession serves POST /v1/communities/{community}/members/{user}/sessions
func (s *Server) handleRecordSession(w http.ResponseWriter, r *http.Request) {
	var req recordSessionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be a session object")
		return
	}
	offset, err := timeutil.ParseOffset(req.UTCOffset)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_offset", err.Error())
		return
	}

	res, err := s.deps.RecordSession.Handle(r.Context(), command.RecordSessionCommand{
		CommunityID:      chi.URLParam(r, "community"),
		UserID:           chi.URLParam(r, "user"),
		Minutes:          req.Minutes,
		Seconds:          req.Seconds,
		UTCOffsetMinutes: offset,
		Confirmed:        req.Confirmed,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordSessionResponse{
		ID:         res.Session.ID,
		OccurredAt: res.Session.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
		Minutes:    res.Session.Minutes,
		Seconds:    res.Session.Seconds,
		Roles:      res.Roles,
		RolesError: res.RolesError,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLES
// ══════════════════════════════════════════════════════════════════════════════

// handleSyncRoles serves POST /v1/communities/{community}/members/{user}/roles/sync?offset=
func (s *Server) handleSyncRoles(w http.ResponseWriter, r *http.Request) {
	offset, err := timeutil.ParseOffset(r.URL.Query().Get("offset"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_offset", err.Error())
		return
	}

	res, err := s.deps.SyncRoles.Handle(r.Context(), command.SyncRolesCommand{
		CommunityID:      chi.URLParam(r, "community"),
		UserID:           chi.URLParam(r, "user"),
		UTCOffsetMinutes: offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps error kinds onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrLocked):
		return http.StatusConflict, "sync_in_progress"
	case errors.Is(err, shared.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, shared.ErrExternalService), errors.Is(err, shared.ErrTimeout):
		return http.StatusBadGateway, "platform_unavailable"
	case shared.IsConfiguration(err):
		return http.StatusInternalServerError, "misconfigured"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "status", status, logger.Err(err))
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSONError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

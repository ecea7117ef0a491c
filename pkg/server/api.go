package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/monitor"
	"github.com/ucwatch/ucwatch/pkg/records"
	"github.com/ucwatch/ucwatch/pkg/types"
)

type snapshotResponse struct {
	Groups      []types.ClientGroup              `json:"groups"`
	Metrics     types.Metrics                    `json:"metrics"`
	Validations map[string]types.ValidationState `json:"validations,omitempty"`
	UpdatedAt   time.Time                        `json:"updatedAt"`
	Live        bool                             `json:"live"`
	FetchError  string                           `json:"fetchError,omitempty"`
}

// fetchErrorMessage maps a refresh failure to a user-facing message.
// Credential expiry gets a distinct message so the operator knows to
// rotate the record-source token rather than retry.
func fetchErrorMessage(err error) string {
	if errors.Is(err, records.ErrAuthExpired) {
		return "record source credential expired"
	}
	if errors.Is(err, monitor.ErrFetchInFlight) {
		return "refresh in progress"
	}
	return "failed to refresh records"
}

// fetchErrorStatus picks the HTTP status for a failed fetch with no
// snapshot to fall back on. A first fetch still in flight is not an
// upstream failure; the caller should simply retry.
func fetchErrorStatus(err error) int {
	if errors.Is(err, monitor.ErrFetchInFlight) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (s *Server) buildSnapshotResponse(r *http.Request, snap monitor.Snapshot, fetchErr error) snapshotResponse {
	res := snapshotResponse{
		Groups:    snap.Groups,
		Metrics:   snap.Metrics,
		UpdatedAt: snap.UpdatedAt,
		Live:      s.monitor.Live(),
	}
	if fetchErr != nil {
		res.FetchError = fetchErrorMessage(fetchErr)
	}
	validations, err := s.monitor.ValidationStates(r.Context(), snap)
	if err != nil {
		// the aggregate is still useful without the workflow overlay
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to load validation states", slog.Any("error", err))
	} else {
		res.Validations = validations
	}
	return res
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.monitor.Fetch(ctx, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch aggregate", slog.Any("error", err))
		if snap.UpdatedAt.IsZero() {
			writeJSONError(w, fetchErrorMessage(err), fetchErrorStatus(err))
			return
		}
		// serve the stale cache alongside the error
	}
	writeJSON(w, s.buildSnapshotResponse(r, snap, err))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.monitor.Fetch(ctx, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch aggregate", slog.Any("error", err))
		if snap.UpdatedAt.IsZero() {
			writeJSONError(w, fetchErrorMessage(err), fetchErrorStatus(err))
			return
		}
	}
	var res struct {
		Metrics    types.Metrics `json:"metrics"`
		UpdatedAt  time.Time     `json:"updatedAt"`
		FetchError string        `json:"fetchError,omitempty"`
	}
	res.Metrics = snap.Metrics
	res.UpdatedAt = snap.UpdatedAt
	if err != nil {
		res.FetchError = fetchErrorMessage(err)
	}
	writeJSON(w, res)
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.monitor.Fetch(ctx, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch aggregate", slog.Any("error", err))
		if snap.UpdatedAt.IsZero() {
			writeJSONError(w, fetchErrorMessage(err), fetchErrorStatus(err))
			return
		}
	}
	var res struct {
		Problems   []types.ProblemEntry `json:"problems"`
		UpdatedAt  time.Time            `json:"updatedAt"`
		FetchError string               `json:"fetchError,omitempty"`
	}
	res.Problems = snap.Problems
	res.UpdatedAt = snap.UpdatedAt
	if res.Problems == nil {
		res.Problems = []types.ProblemEntry{}
	}
	if err != nil {
		res.FetchError = fetchErrorMessage(err)
	}
	writeJSON(w, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.monitor.Fetch(ctx, true)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "manual refresh failed", slog.Any("error", err))
		writeJSONError(w, fetchErrorMessage(err), fetchErrorStatus(err))
		return
	}
	writeJSON(w, s.buildSnapshotResponse(r, snap, nil))
}

func (s *Server) handleToggleLive(w http.ResponseWriter, r *http.Request) {
	live := s.monitor.ToggleLive(r.Context())
	writeJSON(w, struct {
		Live      bool      `json:"live"`
		UpdatedAt time.Time `json:"updatedAt"`
	}{Live: live, UpdatedAt: s.monitor.LastUpdated()})
}

func (s *Server) handleStartValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Document string `json:"document"`
		UC       string `json:"uc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Document == "" || req.UC == "" {
		writeJSONError(w, "document and uc are required", http.StatusBadRequest)
		return
	}

	rec, err := s.monitor.StartInvestigation(ctx, req.Document, req.UC)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to start investigation",
			slog.String("document", req.Document),
			slog.String("uc", req.UC),
			slog.Any("error", err),
		)
		switch {
		case errors.Is(err, monitor.ErrUCNotFound):
			writeJSONError(w, "uc not found", http.StatusNotFound)
		case errors.Is(err, monitor.ErrNoActiveProblem),
			errors.Is(err, monitor.ErrAlreadyInvestigating),
			errors.Is(err, monitor.ErrReopenBlocked):
			writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, records.ErrAuthExpired),
			errors.Is(err, monitor.ErrFetchInFlight):
			writeJSONError(w, fetchErrorMessage(err), fetchErrorStatus(err))
		default:
			writeJSONError(w, "failed to start investigation", http.StatusInternalServerError)
		}
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "investigation started",
		slog.String("document", rec.DocumentID),
		slog.String("uc", rec.UC),
	)
	writeJSON(w, rec)
}

func (s *Server) handleValidationHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	document := r.URL.Query().Get("document")
	uc := r.URL.Query().Get("uc")
	if document == "" || uc == "" {
		writeJSONError(w, "document and uc are required", http.StatusBadRequest)
		return
	}

	history, err := s.monitor.History(ctx, document, uc)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load validation history",
			slog.String("document", document),
			slog.String("uc", uc),
			slog.Any("error", err),
		)
		writeJSONError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []types.ValidationEntry{}
	}

	writeJSON(w, struct {
		Document string                  `json:"document"`
		UC       string                  `json:"uc"`
		History  []types.ValidationEntry `json:"history"`
	}{
		Document: types.NormalizeDocument(document),
		UC:       uc,
		History:  history,
	})
}

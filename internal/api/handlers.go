package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quantfleet/fleetd/internal/types"
)

// executionView is the wire shape of an execution record.
type executionView struct {
	ID          string     `json:"id"`
	TraderID    int64      `json:"traderId"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	TriggeredAt time.Time  `json:"triggeredAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      string     `json:"result,omitempty"`
}

func newExecutionView(rec types.ExecutionRecord) executionView {
	return executionView{
		ID:          rec.ID,
		TraderID:    rec.TraderID,
		Kind:        rec.Kind.String(),
		Status:      rec.Status.String(),
		TriggeredAt: rec.TriggeredAt,
		CompletedAt: rec.CompletedAt,
		Result:      rec.Result,
	}
}

type heartbeatResponse struct {
	HeartbeatID string    `json:"heartbeatId"`
	Status      string    `json:"status"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

type optimizeResponse struct {
	Success        bool          `json:"success"`
	OptimizationID string        `json:"optimizationId"`
	Data           executionView `json:"data"`
}

type historyResponse struct {
	Success bool            `json:"success"`
	Data    []executionView `json:"data"`
}

type healthzResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	traderID, err := types.ParseTraderID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.heartbeats.Trigger(r.Context(), traderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{
		HeartbeatID: record.ID,
		Status:      record.Status.String(),
		TriggeredAt: record.TriggeredAt,
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	traderID, err := types.ParseTraderID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "force must be a boolean",
			})
			return
		}
	}

	record, err := s.optimizer.Trigger(r.Context(), traderID, force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, optimizeResponse{
		Success:        true,
		OptimizationID: record.ID,
		Data:           newExecutionView(record),
	})
}

func (s *Server) handleOptimizationHistory(w http.ResponseWriter, r *http.Request) {
	traderID, err := types.ParseTraderID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// A zero limit stays distinct from an absent one: "?limit=0" is a
	// client error, no limit at all means the executor's default.
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, types.ErrInvalidLimit)
			return
		}
	}

	records, err := s.optimizer.History(r.Context(), traderID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]executionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newExecutionView(rec))
	}

	writeJSON(w, http.StatusOK, historyResponse{Success: true, Data: views})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthzTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("healthz store probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthzResponse{
			Status:    "unavailable",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthzResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// writeError maps the sentinel taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidTraderID),
		errors.Is(err, types.ErrInvalidLimit),
		errors.Is(err, types.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrTraderNotFound),
		errors.Is(err, types.ErrExecutionNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		// Internal detail stays in the log.
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

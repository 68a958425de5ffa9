package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/model"
	"github.com/arriba-labs/battlebot/internal/version"
)

// StatusResponse reports what the bot is doing right now.
type StatusResponse struct {
	Version          string `json:"version"`
	CurrentUser      string `json:"current_user,omitempty"`
	RemainingMatches int    `json:"remaining_matches"`
	SyncRunning      bool   `json:"sync_running"`
	Queued           int64  `json:"queued"`
	DispatchPending  int    `json:"dispatch_pending"`
	DispatchBusy     bool   `json:"dispatch_busy"`
}

// LeaderboardResponse carries the ranked rows and their rendered table.
type LeaderboardResponse struct {
	Rows  []model.LeaderboardRow `json:"rows"`
	Table string                 `json:"table"`
}

// SyncRequest is the body of POST /api/sync.
type SyncRequest struct {
	Username    string `json:"username"`
	RequesterID string `json:"requester_id"`
}

// SyncResponse describes a queued sync request.
type SyncResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Position int64  `json:"position"`
}

// GetStatus returns sync progress and queue depths.
// GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	queued, err := h.store.CountQueued(r.Context())
	if err != nil {
		h.logger.Error("failed to count queue", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to read sync queue")
		return
	}

	h.JSON(w, http.StatusOK, StatusResponse{
		Version:          version.Get(),
		CurrentUser:      h.worker.CurrentUser(),
		RemainingMatches: h.worker.RemainingMatches(),
		SyncRunning:      h.worker.Running(),
		Queued:           queued,
		DispatchPending:  h.dispatcher.Pending(),
		DispatchBusy:     h.dispatcher.Busy(),
	})
}

// GetLeaderboard returns the ranked leaderboard.
// GET /api/leaderboard?mobile=true
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	mobile := false
	if v := r.URL.Query().Get("mobile"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "mobile must be a boolean")
			return
		}
		mobile = parsed
	}

	rows, err := h.store.GetLeaderboard(r.Context())
	if err != nil {
		h.logger.Error("failed to load leaderboard", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to load leaderboard")
		return
	}
	table, err := h.worker.GetLeaderboard(r.Context(), mobile)
	if err != nil {
		h.logger.Error("failed to render leaderboard", "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to render leaderboard")
		return
	}
	if rows == nil {
		rows = []model.LeaderboardRow{}
	}

	h.JSON(w, http.StatusOK, LeaderboardResponse{Rows: rows, Table: table})
}

// EnqueueSync queues a user for synchronization.
// POST /api/sync
func (h *Handler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.jobQueue.EnqueueSync(r.Context(), req.Username, req.RequesterID)
	switch {
	case errors.Is(err, jobs.ErrInvalidUsername):
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	case errors.Is(err, jobs.ErrJobAlreadyExists):
		h.Error(w, http.StatusConflict, "A sync for this user is already queued")
		return
	case err != nil:
		h.logger.Error("failed to enqueue sync", "username", req.Username, "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to enqueue sync")
		return
	}

	position, err := h.jobQueue.Position(r.Context(), item)
	if err != nil {
		h.logger.Warn("failed to read queue position", "queue_id", item.ID, "error", err)
	}

	h.JSON(w, http.StatusAccepted, SyncResponse{
		ID:       item.ID,
		Username: item.Username,
		Position: position,
	})
}

// RefreshLeaderboard schedules a republish of the leaderboard display on the
// command dispatcher.
// POST /api/leaderboard/refresh
func (h *Handler) RefreshLeaderboard(w http.ResponseWriter, _ *http.Request) {
	jobID := h.dispatcher.Submit(nil, func(ctx context.Context) error {
		return h.worker.CreateOrUpdateLeaderboardDisplay(ctx)
	})
	h.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

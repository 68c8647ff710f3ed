// Package httpapi exposes the operational HTTP surface of the sync daemon:
// a health probe, run history, and a manual-trigger endpoint.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
	"github.com/Inflectra/spira-gitlab-datasync/internal/queue"
	"github.com/Inflectra/spira-gitlab-datasync/internal/store"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

type RunsHandler struct {
	runs     store.RunStore
	triggers queue.Producer
}

func NewRunsHandler(runs store.RunStore, triggers queue.Producer) *RunsHandler {
	return &RunsHandler{runs: runs, triggers: triggers}
}

type runResponse struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Trigger  string `json:"trigger"`
	// CutoffDate is absent on a full resync, which has no lower bound.
	CutoffDate *string        `json:"cutoff_date,omitempty"`
	StartedAt  string         `json:"started_at"`
	FinishedAt *string        `json:"finished_at,omitempty"`
	Outbound   model.RunStats `json:"outbound"`
	Inbound    model.RunStats `json:"inbound"`
	Error      *string        `json:"error,omitempty"`
}

// Latest returns the most recent run, finished or not.
func (h *RunsHandler) Latest(c *gin.Context) {
	ctx := c.Request.Context()

	run, err := h.runs.Latest(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded yet"})
			return
		}
		slog.ErrorContext(ctx, "failed to load latest run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load latest run"})
		return
	}

	c.JSON(http.StatusOK, toRunResponse(*run))
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

// List returns recent runs, newest first. The limit query parameter defaults
// to 20 and is capped at 100.
func (h *RunsHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	limit := int32(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = int32(parsed)
	}

	runs, err := h.runs.ListRecent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	resp := listRunsResponse{
		Runs: make([]runResponse, len(runs)),
	}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}

	c.JSON(http.StatusOK, resp)
}

// Trigger queues a manual sync run. The scheduler picks it up from the
// trigger stream; if a run is already in flight the trigger coalesces into
// the next one.
func (h *RunsHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.triggers.Enqueue(ctx, model.RunTriggerManual); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue manual trigger", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue sync run"})
		return
	}

	slog.InfoContext(ctx, "manual sync queued via admin API")

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "queued",
		"trigger": string(model.RunTriggerManual),
	})
}

func toRunResponse(run model.SyncRun) runResponse {
	resp := runResponse{
		ID:        run.ID,
		Status:    string(run.Status),
		Trigger:   string(run.Trigger),
		StartedAt: run.StartedAt.Format(timeFormat),
		Outbound:  run.Outbound,
		Inbound:   run.Inbound,
		Error:     run.Error,
	}
	if !run.CutoffDate.IsZero() {
		cutoff := run.CutoffDate.Format(timeFormat)
		resp.CutoffDate = &cutoff
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.Format(timeFormat)
		resp.FinishedAt = &finished
	}
	return resp
}

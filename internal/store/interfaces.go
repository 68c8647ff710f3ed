package store

import (
	"context"
	"errors"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RunStore defines the contract for sync-run history access
type RunStore interface {
	// Create inserts a new run in the running state. The caller assigns the id.
	Create(ctx context.Context, run *model.SyncRun) error
	// Finish closes a run with its final status and stats.
	Finish(ctx context.Context, id int64, status model.RunStatus, outbound, inbound model.RunStats, errMsg *string) error
	// Latest returns the most recent run regardless of outcome.
	Latest(ctx context.Context) (*model.SyncRun, error)
	// LastCompleted returns the most recent run that finished without a
	// pairing failure; its start time is the next run's cutoff.
	LastCompleted(ctx context.Context) (*model.SyncRun, error)
	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int32) ([]model.SyncRun, error)
}

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Inflectra/spira-gitlab-datasync/common/logger"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// Outcome classifies what happened to one artifact during reconciliation.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
	OutcomeFailed
)

// Result is the explicit per-artifact verdict a Direction returns. Failures
// never abort the phase; the loop records them and moves on.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func created() Result { return Result{Outcome: OutcomeCreated} }

func updated() Result { return Result{Outcome: OutcomeUpdated} }

func skip(reason string) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }

func fail(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

func failf(format string, args ...any) Result {
	return fail(fmt.Errorf(format, args...))
}

// Direction reconciles changed artifacts one way across the boundary. S is
// the source system's artifact type. Implementations close over the pass's
// runContext; the loop below stays identical for both phases.
type Direction[S any] interface {
	// Name labels the direction in logs and stats ("outbound" or "inbound").
	Name() string
	// ArtifactType labels the source artifact in logs.
	ArtifactType() string
	// ListChanged returns source artifacts changed since the filter date,
	// oldest first.
	ListChanged(ctx context.Context) ([]S, error)
	// Identity returns the source-side id used in log fields.
	Identity(item S) string
	// Lookup consults the mapping set for the artifact's counterpart.
	Lookup(item S) (model.ArtifactMapping, bool)
	// Create builds the counterpart artifact and registers the mapping.
	Create(ctx context.Context, item S) Result
	// Update reconciles an already-mapped artifact.
	Update(ctx context.Context, item S, mapping model.ArtifactMapping) Result
}

// runDirection executes one phase. A ListChanged failure is a phase
// precondition failure and aborts the pairing; per-artifact failures are
// counted and logged without stopping the loop. Cancellation is honored at
// artifact boundaries only, so no artifact is left half-written.
func runDirection[S any](ctx context.Context, dir Direction[S]) (model.RunStats, error) {
	var stats model.RunStats

	items, err := dir.ListChanged(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing changed %ss: %w", dir.ArtifactType(), err)
	}
	slog.InfoContext(ctx, "phase started", "direction", dir.Name(), "changed", len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		itemCtx := logger.WithLogFields(ctx, logger.LogFields{
			ArtifactType: logger.Ptr(dir.ArtifactType()),
			ArtifactID:   logger.Ptr(dir.Identity(item)),
		})

		result := reconcileOne(itemCtx, dir, item)
		switch result.Outcome {
		case OutcomeCreated:
			stats.Created++
			slog.InfoContext(itemCtx, "artifact created")
		case OutcomeUpdated:
			stats.Updated++
			slog.InfoContext(itemCtx, "artifact updated")
		case OutcomeSkipped:
			stats.Skipped++
			slog.InfoContext(itemCtx, "artifact skipped", "reason", result.Reason)
		case OutcomeFailed:
			stats.Failed++
			slog.ErrorContext(itemCtx, "artifact failed", "error", result.Err)
		}
	}

	slog.InfoContext(ctx, "phase finished",
		"direction", dir.Name(),
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

func reconcileOne[S any](ctx context.Context, dir Direction[S], item S) Result {
	mapping, ok := dir.Lookup(item)
	if !ok {
		return dir.Create(ctx, item)
	}
	return dir.Update(ctx, item, mapping)
}

// Package scheduler turns queued triggers into sync runs. One scheduler per
// daemon drains the trigger stream, so at most one run is ever in flight and
// triggers that arrive mid-run coalesce into a single follow-up run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/Inflectra/spira-gitlab-datasync/common/id"
	"github.com/Inflectra/spira-gitlab-datasync/common/logger"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
	"github.com/Inflectra/spira-gitlab-datasync/internal/queue"
	"github.com/Inflectra/spira-gitlab-datasync/internal/store"
)

// Engine is the reconciliation surface the scheduler drives.
type Engine interface {
	Run(ctx context.Context, lastSync, now time.Time) model.RunResult
}

// Consumer is the trigger-stream surface the scheduler drains.
type Consumer interface {
	Read(ctx context.Context) ([]queue.TriggerMessage, error)
	Ack(ctx context.Context, msg queue.TriggerMessage) error
}

type Scheduler struct {
	engine   Engine
	runs     store.RunStore
	producer queue.Producer
	consumer Consumer
	interval time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(engine Engine, runs store.RunStore, producer queue.Producer, consumer Consumer, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:    engine,
		runs:      runs,
		producer:  producer,
		consumer:  consumer,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until the context is cancelled or Stop is called. It enqueues
// an interval trigger every tick and drains the stream between ticks; poll
// failures back off exponentially so a Redis outage does not spin the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stoppedCh)

	slog.InfoContext(ctx, "scheduler started", "interval", s.interval)

	// Sync once at startup so a restart never waits out a full interval.
	if err := s.producer.Enqueue(ctx, model.RunTriggerInterval); err != nil {
		slog.ErrorContext(ctx, "enqueueing startup trigger failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			slog.InfoContext(ctx, "scheduler stopping")
			return nil
		case <-ticker.C:
			if err := s.producer.Enqueue(ctx, model.RunTriggerInterval); err != nil {
				slog.ErrorContext(ctx, "enqueueing interval trigger failed", "error", err)
			}
		default:
			if err := s.pollOnce(ctx); err != nil {
				wait := bo.NextBackOff()
				slog.ErrorContext(ctx, "trigger poll failed", "error", err, "retry_in", wait)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-s.stopCh:
					return nil
				case <-time.After(wait):
				}
				continue
			}
			bo.Reset()
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// pollOnce reads pending triggers and starts at most one run for the whole
// batch. Triggers are acked before the run: a trigger lost to a crash is
// covered by the next interval tick, and re-running on restart would be
// redundant anyway.
func (s *Scheduler) pollOnce(ctx context.Context) error {
	messages, err := s.consumer.Read(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	trigger := model.RunTriggerInterval
	for _, msg := range messages {
		if msg.Trigger == model.RunTriggerManual {
			trigger = model.RunTriggerManual
		}
		if err := s.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "acking trigger failed", "message_id", msg.ID, "error", err)
		}
	}
	if len(messages) > 1 {
		slog.InfoContext(ctx, "coalesced queued triggers", "count", len(messages), "trigger", trigger)
	}

	s.runOnce(ctx, trigger)
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, trigger model.RunTrigger) {
	sc := logger.StartSpan(ctx, "datasync.run", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	now := time.Now().UTC()

	// The cutoff is the start time of the last run that completed every
	// pairing; a full pairing failure keeps the window open so its changes
	// are retried next run.
	var cutoff time.Time
	last, err := s.runs.LastCompleted(ctx)
	switch {
	case err == nil:
		cutoff = last.StartedAt
	case errors.Is(err, store.ErrNotFound):
		// First ever run: sync everything.
	default:
		slog.ErrorContext(ctx, "loading last completed run failed", "error", err)
		return
	}

	run := &model.SyncRun{
		ID:         id.New(),
		Trigger:    trigger,
		CutoffDate: cutoff,
		StartedAt:  now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		slog.ErrorContext(ctx, "recording sync run failed", "error", err)
		return
	}

	runCtx := logger.WithLogFields(ctx, logger.LogFields{
		RunID:     logger.Ptr(run.ID),
		Component: "datasync.engine",
	})
	result := s.engine.Run(runCtx, cutoff, now)

	var errMsg *string
	if len(result.Errors) > 0 {
		joined := strings.Join(result.Errors, "; ")
		errMsg = &joined
		sc.RecordError(errors.New(joined))
	}
	if err := s.runs.Finish(ctx, run.ID, result.Status, result.Outbound, result.Inbound, errMsg); err != nil {
		slog.ErrorContext(ctx, "finishing sync run failed", "run_id", run.ID, "error", err)
	}
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

type runStore struct {
	pool *pgxpool.Pool
}

func newRunStore(pool *pgxpool.Pool) RunStore {
	return &runStore{pool: pool}
}

const runColumns = `id, status, triggered_by, cutoff_date, started_at, finished_at,
	outbound_created, outbound_updated, outbound_skipped, outbound_failed,
	inbound_created, inbound_updated, inbound_skipped, inbound_failed, error`

func (s *runStore) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, status, triggered_by, cutoff_date, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, model.RunStatusRunning, run.Trigger, run.CutoffDate, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	run.Status = model.RunStatusRunning
	return nil
}

func (s *runStore) Finish(ctx context.Context, id int64, status model.RunStatus, outbound, inbound model.RunStats, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2,
			finished_at = now(),
			outbound_created = $3, outbound_updated = $4, outbound_skipped = $5, outbound_failed = $6,
			inbound_created = $7, inbound_updated = $8, inbound_skipped = $9, inbound_failed = $10,
			error = $11
		WHERE id = $1`,
		id, status,
		outbound.Created, outbound.Updated, outbound.Skipped, outbound.Failed,
		inbound.Created, inbound.Updated, inbound.Skipped, inbound.Failed,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *runStore) Latest(ctx context.Context) (*model.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1`)
	return scanRun(row)
}

func (s *runStore) LastCompleted(ctx context.Context) (*model.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE status IN ($1, $2)
		ORDER BY started_at DESC, id DESC
		LIMIT 1`,
		model.RunStatusSuccess, model.RunStatusWarning)
	return scanRun(row)
}

func (s *runStore) ListRecent(ctx context.Context, limit int32) ([]model.SyncRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*model.SyncRun, error) {
	var run model.SyncRun
	err := row.Scan(
		&run.ID, &run.Status, &run.Trigger, &run.CutoffDate, &run.StartedAt, &run.FinishedAt,
		&run.Outbound.Created, &run.Outbound.Updated, &run.Outbound.Skipped, &run.Outbound.Failed,
		&run.Inbound.Created, &run.Inbound.Updated, &run.Inbound.Skipped, &run.Inbound.Failed,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}
	return &run, nil
}

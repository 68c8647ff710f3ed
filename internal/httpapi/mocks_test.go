package httpapi_test

import (
	"context"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

type mockRunStore struct {
	latestFn     func(ctx context.Context) (*model.SyncRun, error)
	listRecentFn func(ctx context.Context, limit int32) ([]model.SyncRun, error)
}

func (m *mockRunStore) Create(_ context.Context, _ *model.SyncRun) error {
	return nil
}

func (m *mockRunStore) Finish(_ context.Context, _ int64, _ model.RunStatus, _, _ model.RunStats, _ *string) error {
	return nil
}

func (m *mockRunStore) Latest(ctx context.Context) (*model.SyncRun, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx)
	}
	return nil, nil
}

func (m *mockRunStore) LastCompleted(_ context.Context) (*model.SyncRun, error) {
	return nil, nil
}

func (m *mockRunStore) ListRecent(ctx context.Context, limit int32) ([]model.SyncRun, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

type mockProducer struct {
	enqueued   []model.RunTrigger
	enqueueErr error
}

func (m *mockProducer) Enqueue(_ context.Context, trigger model.RunTrigger) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, trigger)
	return nil
}

func (m *mockProducer) Close() error {
	return nil
}

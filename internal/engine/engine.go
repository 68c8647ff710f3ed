// Package engine reconciles Spira incidents with GitLab issues, one project
// pairing at a time, in two directed phases per run. Phase failures abort
// only their pairing; per-artifact failures are recorded and skipped so one
// bad artifact never blocks the rest.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Inflectra/spira-gitlab-datasync/common/logger"
	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/gitlab"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// SpiraClient is the Spira surface the engine consumes.
type SpiraClient interface {
	Authenticate(ctx context.Context) (model.User, error)
	ConnectProject(ctx context.Context, projectID int64) error
	IncidentsSince(ctx context.Context, projectID int64, since time.Time) ([]model.Incident, error)
	Incident(ctx context.Context, projectID, incidentID int64) (model.Incident, error)
	CreateIncident(ctx context.Context, projectID int64, incident model.Incident) (model.Incident, error)
	UpdateIncident(ctx context.Context, projectID int64, incident model.Incident) error
	Comments(ctx context.Context, projectID, incidentID int64) ([]model.Comment, error)
	AddComments(ctx context.Context, projectID, incidentID int64, comments []model.Comment) error
	Releases(ctx context.Context, projectID int64) ([]model.Release, error)
	CreateRelease(ctx context.Context, projectID int64, release model.Release) (model.Release, error)
	AddWebLink(ctx context.Context, projectID, incidentID int64, linkURL, description string) error
	User(ctx context.Context, userID int64) (model.User, error)
	UserByLogin(ctx context.Context, login string) (model.User, error)
	FieldValueMappings(ctx context.Context, projectID, fieldID int64) ([]model.ValueMapping, error)
	UserMappings(ctx context.Context, projectID int64) ([]model.ValueMapping, error)
	ArtifactMappings(ctx context.Context, projectID, artifactTypeID int64) ([]model.ArtifactMapping, error)
	AddArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error
	RemoveArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error
}

// GitLabClient is the GitLab surface the engine consumes, bound to one
// project.
type GitLabClient interface {
	Project() string
	ConnectProject(ctx context.Context) error
	Milestones(ctx context.Context) ([]model.Milestone, error)
	CreateMilestone(ctx context.Context, milestone model.Milestone) (model.Milestone, error)
	IssuesSince(ctx context.Context, since time.Time) ([]model.Issue, error)
	Issue(ctx context.Context, iid int64) (model.Issue, error)
	CreateIssue(ctx context.Context, params gitlab.CreateIssueParams) (model.Issue, error)
	CloseIssue(ctx context.Context, iid int64) (model.Issue, error)
	ReopenIssue(ctx context.Context, iid int64) (model.Issue, error)
	SetIssueMilestone(ctx context.Context, iid, milestoneID int64) (model.Issue, error)
	Notes(ctx context.Context, iid int64) ([]model.Note, error)
	CreateNote(ctx context.Context, iid int64, body string) (model.Note, error)
	UserIDByUsername(ctx context.Context, username string) (int64, error)
}

// GitLabFactory builds a project-bound GitLab client for a pairing.
type GitLabFactory func(project string) (GitLabClient, error)

// earliestSupportedDate floors the changed-since filter. A zero last-sync
// timestamp resyncs everything from here.
var earliestSupportedDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type Engine struct {
	cfg       config.Config
	spira     SpiraClient
	gitlabFor GitLabFactory
}

func New(cfg config.Config, spiraClient SpiraClient, gitlabFor GitLabFactory) *Engine {
	return &Engine{cfg: cfg, spira: spiraClient, gitlabFor: gitlabFor}
}

// Run reconciles every configured project pairing once. lastSync is the
// previous successful run's start time (zero means full resync) and now is
// the run's server timestamp. The returned result always carries the
// per-direction stats accumulated before any failure.
func (e *Engine) Run(ctx context.Context, lastSync, now time.Time) model.RunResult {
	result := model.RunResult{Status: model.RunStatusSuccess}

	// Back-date the filter to absorb clock skew between the two servers.
	filterDate := lastSync.Add(-time.Duration(e.cfg.Sync.TimeOffsetHours) * time.Hour)
	if filterDate.Before(earliestSupportedDate) {
		filterDate = earliestSupportedDate
	}

	slog.InfoContext(ctx, "sync run started",
		"pairings", len(e.cfg.Sync.Pairings),
		"filter_date", filterDate,
	)

	for _, pairing := range e.cfg.Sync.Pairings {
		pairingCtx := logger.WithLogFields(ctx, logger.LogFields{
			ProjectID: logger.Ptr(pairing.SpiraProjectID),
		})

		stats, err := e.runPairing(pairingCtx, pairing, filterDate, now)
		result.Outbound.Add(stats.outbound)
		result.Inbound.Add(stats.inbound)
		if err != nil {
			slog.ErrorContext(pairingCtx, "project pairing failed", "gitlab_project", pairing.GitLabProject, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("project %d (%s): %v", pairing.SpiraProjectID, pairing.GitLabProject, err))
		}
	}

	switch {
	case len(result.Errors) > 0:
		result.Status = model.RunStatusError
	case result.Outbound.Failed+result.Inbound.Failed > 0:
		result.Status = model.RunStatusWarning
	}

	slog.InfoContext(ctx, "sync run finished",
		"status", result.Status,
		"outbound_created", result.Outbound.Created,
		"outbound_updated", result.Outbound.Updated,
		"inbound_created", result.Inbound.Created,
		"inbound_updated", result.Inbound.Updated,
		"failed", result.Outbound.Failed+result.Inbound.Failed,
	)
	return result
}

type pairingStats struct {
	outbound model.RunStats
	inbound  model.RunStats
}

// runPairing executes both phases for one pairing. Any returned error is a
// phase precondition failure; per-artifact outcomes live in the stats.
func (e *Engine) runPairing(ctx context.Context, pairing config.ProjectPairing, filterDate, now time.Time) (pairingStats, error) {
	var stats pairingStats

	syncUser, err := e.spira.Authenticate(ctx)
	if err != nil {
		return stats, err
	}
	if err := e.spira.ConnectProject(ctx, pairing.SpiraProjectID); err != nil {
		return stats, err
	}

	gitlabClient, err := e.gitlabFor(pairing.GitLabProject)
	if err != nil {
		return stats, fmt.Errorf("building gitlab client: %w", err)
	}
	if err := gitlabClient.ConnectProject(ctx); err != nil {
		return stats, err
	}

	rc, err := e.buildRunContext(ctx, pairing, gitlabClient, syncUser, filterDate, now)
	if err != nil {
		return stats, err
	}

	outCtx := logger.WithLogFields(ctx, logger.LogFields{Phase: logger.Ptr("outbound")})
	stats.outbound, err = runDirection[model.Incident](outCtx, &outbound{rc: rc})
	if err != nil {
		return stats, err
	}
	if err := rc.flushMappings(outCtx); err != nil {
		return stats, err
	}

	// The outbound phase may have taken long enough for the Spira session
	// to lapse; re-validate before reading again.
	if _, err := e.spira.Authenticate(ctx); err != nil {
		return stats, fmt.Errorf("re-authenticating before inbound phase: %w", err)
	}
	if err := rc.refreshMilestones(ctx); err != nil {
		return stats, err
	}

	inCtx := logger.WithLogFields(ctx, logger.LogFields{Phase: logger.Ptr("inbound")})
	stats.inbound, err = runDirection[model.Issue](inCtx, &inbound{rc: rc})
	if err != nil {
		return stats, err
	}
	if err := rc.flushMappings(inCtx); err != nil {
		return stats, err
	}

	return stats, nil
}

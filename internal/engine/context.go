package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
	"github.com/Inflectra/spira-gitlab-datasync/internal/spira"
	"github.com/Inflectra/spira-gitlab-datasync/internal/translate"
)

// runContext carries everything one project pairing's pass needs: the
// connected clients, the filter date, the translation tables, the mapping
// sets and the milestone cache. It is built after the pairing's
// preconditions succeed and discarded when the pass ends.
type runContext struct {
	pairing  config.ProjectPairing
	spira    SpiraClient
	gitlab   GitLabClient
	syncUser model.User

	// filterDate is the changed-since cutoff both phases list against.
	filterDate time.Time
	// now is the run's server timestamp, used for defaulted dates.
	now time.Time

	tables translate.Tables
	users  *translate.Users

	incidents *MappingSet
	releases  *MappingSet

	// milestones is fetched once per phase; entries created during a phase
	// are appended so later artifacts in the same phase see them.
	milestones *milestoneCache

	// releaseIndex holds the pairing's Spira releases keyed by id, loaded
	// once at pairing start and extended as inbound creates releases.
	releaseIndex map[int64]model.Release
}

func (e *Engine) buildRunContext(ctx context.Context, pairing config.ProjectPairing, gitlabClient GitLabClient, syncUser model.User, filterDate, now time.Time) (*runContext, error) {
	tables, err := e.loadTables(ctx, pairing.SpiraProjectID)
	if err != nil {
		return nil, err
	}

	incidentMappings, err := e.spira.ArtifactMappings(ctx, pairing.SpiraProjectID, model.ArtifactTypeIncident)
	if err != nil {
		return nil, fmt.Errorf("loading incident mappings: %w", err)
	}
	releaseMappings, err := e.spira.ArtifactMappings(ctx, pairing.SpiraProjectID, model.ArtifactTypeRelease)
	if err != nil {
		return nil, fmt.Errorf("loading release mappings: %w", err)
	}

	releases, err := e.spira.Releases(ctx, pairing.SpiraProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading releases: %w", err)
	}
	releaseIndex := make(map[int64]model.Release, len(releases))
	for _, release := range releases {
		releaseIndex[release.ID] = release
	}

	milestones, err := gitlabClient.Milestones(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading milestones: %w", err)
	}

	rc := &runContext{
		pairing:      pairing,
		spira:        e.spira,
		gitlab:       gitlabClient,
		syncUser:     syncUser,
		filterDate:   filterDate,
		now:          now,
		tables:       tables,
		users:        translate.NewUsers(tables.Users, e.spira, gitlabClient, e.cfg.Sync.AutoMapUsers),
		incidents:    NewMappingSet(pairing.SpiraProjectID, model.ArtifactTypeIncident, incidentMappings),
		releases:     NewMappingSet(pairing.SpiraProjectID, model.ArtifactTypeRelease, releaseMappings),
		milestones:   newMilestoneCache(milestones),
		releaseIndex: releaseIndex,
	}
	return rc, nil
}

func (e *Engine) loadTables(ctx context.Context, projectID int64) (translate.Tables, error) {
	var tables translate.Tables

	fields := []struct {
		fieldID int64
		table   **translate.Table
		name    string
	}{
		{spira.FieldStatus, &tables.Status, "status"},
		{spira.FieldSeverity, &tables.Severity, "severity"},
		{spira.FieldPriority, &tables.Priority, "priority"},
		{spira.FieldType, &tables.Type, "type"},
	}
	for _, field := range fields {
		mappings, err := e.spira.FieldValueMappings(ctx, projectID, field.fieldID)
		if err != nil {
			return tables, fmt.Errorf("loading %s mappings: %w", field.name, err)
		}
		*field.table = translate.NewTable(mappings)
	}

	userMappings, err := e.spira.UserMappings(ctx, projectID)
	if err != nil {
		return tables, fmt.Errorf("loading user mappings: %w", err)
	}
	tables.Users = translate.NewTable(userMappings)

	return tables, nil
}

// flushMappings persists both mapping sets. Called at phase checkpoints.
func (rc *runContext) flushMappings(ctx context.Context) error {
	if err := rc.incidents.Flush(ctx, rc.spira); err != nil {
		return fmt.Errorf("persisting incident mappings: %w", err)
	}
	if err := rc.releases.Flush(ctx, rc.spira); err != nil {
		return fmt.Errorf("persisting release mappings: %w", err)
	}
	return nil
}

// refreshMilestones replaces the cache with the current server list so the
// inbound phase sees milestones added during outbound and any external edits.
func (rc *runContext) refreshMilestones(ctx context.Context) error {
	milestones, err := rc.gitlab.Milestones(ctx)
	if err != nil {
		return fmt.Errorf("refreshing milestones: %w", err)
	}
	rc.milestones = newMilestoneCache(milestones)
	return nil
}

type milestoneCache struct {
	byID map[int64]model.Milestone
}

func newMilestoneCache(milestones []model.Milestone) *milestoneCache {
	c := &milestoneCache{byID: make(map[int64]model.Milestone, len(milestones))}
	for _, m := range milestones {
		c.byID[m.ID] = m
	}
	return c
}

func (c *milestoneCache) ByID(id int64) (model.Milestone, bool) {
	m, ok := c.byID[id]
	return m, ok
}

func (c *milestoneCache) Add(m model.Milestone) {
	c.byID[m.ID] = m
}

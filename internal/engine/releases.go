package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Inflectra/spira-gitlab-datasync/internal/markup"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// milestoneForRelease returns the GitLab milestone id paired with a Spira
// release, creating the milestone on demand. A mapping whose milestone no
// longer exists is queued for removal and replaced in the same pass.
func (rc *runContext) milestoneForRelease(ctx context.Context, releaseID int64) (int64, error) {
	if mapping, ok := rc.releases.ByInternal(releaseID); ok {
		milestoneID, err := strconv.ParseInt(mapping.ExternalKey, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing milestone key %q: %w", mapping.ExternalKey, err)
		}
		if _, exists := rc.milestones.ByID(milestoneID); exists {
			return milestoneID, nil
		}
		slog.WarnContext(ctx, "mapped milestone no longer exists, remapping", "milestone_id", milestoneID)
		rc.releases.Remove(mapping)
	}

	release, ok := rc.releaseIndex[releaseID]
	if !ok {
		return 0, fmt.Errorf("release %d not found in project %d", releaseID, rc.pairing.SpiraProjectID)
	}

	milestone := model.Milestone{Title: release.Name}
	if description, err := markup.ToMarkdown(release.Description); err == nil {
		milestone.Description = description
	} else {
		milestone.Description = release.Description
	}
	if !release.StartDate.IsZero() {
		start := release.StartDate
		milestone.StartDate = &start
	}
	if !release.EndDate.IsZero() {
		due := release.EndDate
		milestone.DueDate = &due
	}

	createdMilestone, err := rc.gitlab.CreateMilestone(ctx, milestone)
	if err != nil {
		return 0, fmt.Errorf("creating milestone for release %d: %w", releaseID, err)
	}
	rc.milestones.Add(createdMilestone)
	rc.releases.Add(model.ArtifactMapping{
		InternalID:  releaseID,
		ExternalKey: strconv.FormatInt(createdMilestone.ID, 10),
		Primary:     true,
	})

	slog.InfoContext(ctx, "milestone created for release",
		"release_id", releaseID,
		"milestone_id", createdMilestone.ID,
		"title", createdMilestone.Title,
	)
	return createdMilestone.ID, nil
}

// releaseForMilestone returns the Spira release id paired with a GitLab
// milestone, creating the release on demand. Active milestones become
// in-progress releases, closed ones completed.
func (rc *runContext) releaseForMilestone(ctx context.Context, milestoneID int64) (int64, error) {
	key := strconv.FormatInt(milestoneID, 10)
	if mapping, ok := rc.releases.ByExternal(key); ok {
		return mapping.InternalID, nil
	}

	milestone, ok := rc.milestones.ByID(milestoneID)
	if !ok {
		return 0, fmt.Errorf("milestone %d not in project %s", milestoneID, rc.gitlab.Project())
	}

	release := model.Release{
		ProjectID:     rc.pairing.SpiraProjectID,
		Name:          milestone.Title,
		VersionNumber: clampVersion(milestone.Title),
		StatusID:      model.ReleaseStatusInProgress,
	}
	if milestone.State == model.MilestoneStateClosed {
		release.StatusID = model.ReleaseStatusCompleted
	}
	if html, err := markup.ToHTML(milestone.Description); err == nil {
		release.Description = html
	} else {
		release.Description = milestone.Description
	}

	// Spira requires both dates; fall back to a one-month window from now.
	release.StartDate = rc.now
	if milestone.StartDate != nil {
		release.StartDate = *milestone.StartDate
	}
	release.EndDate = rc.now.AddDate(0, 1, 0)
	if milestone.DueDate != nil {
		release.EndDate = *milestone.DueDate
	}

	createdRelease, err := rc.spira.CreateRelease(ctx, rc.pairing.SpiraProjectID, release)
	if err != nil {
		return 0, fmt.Errorf("creating release for milestone %d: %w", milestoneID, err)
	}
	rc.releaseIndex[createdRelease.ID] = createdRelease
	rc.releases.Add(model.ArtifactMapping{
		InternalID:  createdRelease.ID,
		ExternalKey: key,
		Primary:     true,
	})

	slog.InfoContext(ctx, "release created for milestone",
		"milestone_id", milestoneID,
		"release_id", createdRelease.ID,
		"version", createdRelease.VersionNumber,
	)
	return createdRelease.ID, nil
}

// clampVersion trims a milestone title to Spira's version number limit.
func clampVersion(title string) string {
	runes := []rune(title)
	if len(runes) <= model.VersionNumberMaxLen {
		return title
	}
	return string(runes[:model.VersionNumberMaxLen])
}

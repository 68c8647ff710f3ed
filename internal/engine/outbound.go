package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Inflectra/spira-gitlab-datasync/internal/dedup"
	"github.com/Inflectra/spira-gitlab-datasync/internal/gitlab"
	"github.com/Inflectra/spira-gitlab-datasync/internal/markup"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
	"github.com/Inflectra/spira-gitlab-datasync/internal/translate"
)

// outbound reconciles Spira incidents into GitLab issues.
type outbound struct {
	rc *runContext
}

func (d *outbound) Name() string         { return "outbound" }
func (d *outbound) ArtifactType() string { return "incident" }

func (d *outbound) ListChanged(ctx context.Context) ([]model.Incident, error) {
	return d.rc.spira.IncidentsSince(ctx, d.rc.pairing.SpiraProjectID, d.rc.filterDate)
}

func (d *outbound) Identity(incident model.Incident) string {
	return strconv.FormatInt(incident.ID, 10)
}

func (d *outbound) Lookup(incident model.Incident) (model.ArtifactMapping, bool) {
	return d.rc.incidents.ByInternal(incident.ID)
}

func (d *outbound) Create(ctx context.Context, incident model.Incident) Result {
	rc := d.rc

	// An unmapped status means the issue cannot represent the incident's
	// workflow state at all, so the whole artifact fails.
	statusValue, ok := rc.tables.Status.External(incident.StatusID)
	if !ok {
		return failf("no status mapping for status %d in project %d", incident.StatusID, rc.pairing.SpiraProjectID)
	}

	description, err := markup.ToMarkdown(incident.Description)
	if err != nil {
		return failf("converting description: %w", err)
	}

	params := gitlab.CreateIssueParams{
		Title:       incident.Name,
		Description: description,
		Labels:      d.labels(ctx, incident),
	}

	if incident.OwnerID != nil {
		if assigneeID, err := rc.users.GitLabUserID(ctx, *incident.OwnerID); err != nil {
			slog.WarnContext(ctx, "leaving assignee unset", "owner_id", *incident.OwnerID, "error", err)
		} else {
			params.AssigneeID = &assigneeID
		}
	}

	if incident.ResolvedReleaseID != nil {
		if milestoneID, err := rc.milestoneForRelease(ctx, *incident.ResolvedReleaseID); err != nil {
			slog.WarnContext(ctx, "leaving milestone unset", "release_id", *incident.ResolvedReleaseID, "error", err)
		} else {
			params.MilestoneID = &milestoneID
		}
	}

	issue, err := rc.gitlab.CreateIssue(ctx, params)
	if err != nil {
		return failf("creating issue: %w", err)
	}

	rc.incidents.Add(model.ArtifactMapping{
		InternalID:  incident.ID,
		ExternalKey: strconv.FormatInt(issue.IID, 10),
		Primary:     true,
	})

	// Back-reference on the incident; purely cosmetic, never fails the sync.
	if issue.WebURL != "" {
		if err := rc.spira.AddWebLink(ctx, rc.pairing.SpiraProjectID, incident.ID, issue.WebURL, "GitLab issue"); err != nil {
			slog.WarnContext(ctx, "attaching issue link failed", "error", err)
		}
	}

	if err := d.copyComments(ctx, incident.ID, issue.IID); err != nil {
		slog.WarnContext(ctx, "copying comments failed", "error", err)
	}

	// GitLab issues open; a closed incident needs an explicit transition.
	if isClosedState(statusValue) {
		if _, err := rc.gitlab.CloseIssue(ctx, issue.IID); err != nil {
			slog.WarnContext(ctx, "closing issue after creation failed", "issue_iid", issue.IID, "error", err)
		}
	}

	return created()
}

func (d *outbound) Update(ctx context.Context, incident model.Incident, mapping model.ArtifactMapping) Result {
	rc := d.rc

	iid, err := strconv.ParseInt(mapping.ExternalKey, 10, 64)
	if err != nil {
		return failf("parsing issue key %q: %w", mapping.ExternalKey, err)
	}

	issue, err := rc.gitlab.Issue(ctx, iid)
	if err != nil {
		return failf("fetching issue %d: %w", iid, err)
	}

	// GitLab owns the artifact once mapped; only push when the incident
	// changed more recently.
	if !incident.LastUpdateDate.After(issue.UpdatedAt) {
		return skip("issue is newer")
	}

	statusValue, ok := rc.tables.Status.External(incident.StatusID)
	if !ok {
		return failf("no status mapping for status %d in project %d", incident.StatusID, rc.pairing.SpiraProjectID)
	}

	if incident.ResolvedReleaseID != nil {
		milestoneID, err := rc.milestoneForRelease(ctx, *incident.ResolvedReleaseID)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "leaving milestone unchanged", "release_id", *incident.ResolvedReleaseID, "error", err)
		case issue.MilestoneID == nil || *issue.MilestoneID != milestoneID:
			if _, err := rc.gitlab.SetIssueMilestone(ctx, iid, milestoneID); err != nil {
				slog.WarnContext(ctx, "setting issue milestone failed", "milestone_id", milestoneID, "error", err)
			}
		}
	}

	wantClosed := isClosedState(statusValue)
	switch {
	case wantClosed && issue.State != model.IssueStateClosed:
		if _, err := rc.gitlab.CloseIssue(ctx, iid); err != nil {
			return failf("closing issue %d: %w", iid, err)
		}
	case !wantClosed && issue.State == model.IssueStateClosed:
		if _, err := rc.gitlab.ReopenIssue(ctx, iid); err != nil {
			return failf("reopening issue %d: %w", iid, err)
		}
	}

	if err := d.copyComments(ctx, incident.ID, iid); err != nil {
		slog.WarnContext(ctx, "copying comments failed", "error", err)
	}

	return updated()
}

// labels collects the external values mapped from the incident's enumerated
// fields. Missing value mappings leave the label off and log a warning.
func (d *outbound) labels(ctx context.Context, incident model.Incident) []string {
	fields := []struct {
		name  string
		id    *int64
		table *translate.Table
	}{
		{"type", incident.TypeID, d.rc.tables.Type},
		{"severity", incident.SeverityID, d.rc.tables.Severity},
		{"priority", incident.PriorityID, d.rc.tables.Priority},
	}

	var labels []string
	for _, field := range fields {
		if field.id == nil {
			continue
		}
		value, ok := field.table.External(*field.id)
		if !ok {
			slog.WarnContext(ctx, "no value mapping, leaving label unset", "field", field.name, "value_id", *field.id)
			continue
		}
		labels = append(labels, value)
	}
	return labels
}

// copyComments posts incident comments missing from the issue, oldest first,
// each wrapped with the provenance marker.
func (d *outbound) copyComments(ctx context.Context, incidentID, iid int64) error {
	rc := d.rc

	comments, err := rc.spira.Comments(ctx, rc.pairing.SpiraProjectID, incidentID)
	if err != nil {
		return fmt.Errorf("listing incident comments: %w", err)
	}
	if len(comments) == 0 {
		return nil
	}

	notes, err := rc.gitlab.Notes(ctx, iid)
	if err != nil {
		return fmt.Errorf("listing issue notes: %w", err)
	}
	existing := make([]string, 0, len(notes))
	for _, note := range notes {
		existing = append(existing, note.Body)
	}

	copied := 0
	for _, comment := range comments {
		if !dedup.ShouldSync(comment.Text, existing) {
			continue
		}
		body, err := markup.ToMarkdown(comment.Text)
		if err != nil {
			slog.WarnContext(ctx, "skipping unconvertible comment", "comment_id", comment.ID, "error", err)
			continue
		}
		author := comment.CreatorName
		if author == "" {
			author = rc.syncUser.Login
		}
		note, err := rc.gitlab.CreateNote(ctx, iid, dedup.Attribution(author, body))
		if err != nil {
			return fmt.Errorf("posting note for comment %d: %w", comment.ID, err)
		}
		existing = append(existing, note.Body)
		copied++
	}
	if copied > 0 {
		slog.InfoContext(ctx, "comments copied to issue", "count", copied)
	}
	return nil
}

// isClosedState reports whether a mapped status value denotes the closed
// issue state.
func isClosedState(value string) bool {
	return strings.EqualFold(value, string(model.IssueStateClosed))
}

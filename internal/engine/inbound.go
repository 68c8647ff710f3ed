package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Inflectra/spira-gitlab-datasync/internal/dedup"
	"github.com/Inflectra/spira-gitlab-datasync/internal/markup"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
	"github.com/Inflectra/spira-gitlab-datasync/internal/spira"
)

// inbound reconciles GitLab issues into Spira incidents.
type inbound struct {
	rc *runContext
}

func (d *inbound) Name() string         { return "inbound" }
func (d *inbound) ArtifactType() string { return "issue" }

func (d *inbound) ListChanged(ctx context.Context) ([]model.Issue, error) {
	return d.rc.gitlab.IssuesSince(ctx, d.rc.filterDate)
}

func (d *inbound) Identity(issue model.Issue) string {
	return strconv.FormatInt(issue.IID, 10)
}

func (d *inbound) Lookup(issue model.Issue) (model.ArtifactMapping, bool) {
	return d.rc.incidents.ByExternal(strconv.FormatInt(issue.IID, 10))
}

func (d *inbound) Create(ctx context.Context, issue model.Issue) Result {
	rc := d.rc

	description, err := markup.ToHTML(issue.Description)
	if err != nil {
		return failf("converting description: %w", err)
	}

	// Reporter falls back to the sync account when the author has no Spira
	// counterpart; an incident must always have an opener.
	openerID := rc.syncUser.ID
	if issue.Author != "" {
		if id, err := rc.users.SpiraUserID(ctx, issue.Author); err != nil {
			slog.WarnContext(ctx, "using sync account as reporter", "author", issue.Author, "error", err)
		} else {
			openerID = id
		}
	}

	incident := model.Incident{
		ProjectID:   rc.pairing.SpiraProjectID,
		Name:        issue.Title,
		Description: description,
		OpenerID:    &openerID,
	}
	d.applyIssueFields(ctx, &incident, issue)

	createdIncident, err := rc.spira.CreateIncident(ctx, rc.pairing.SpiraProjectID, incident)
	if err != nil {
		logValidation(ctx, err)
		return failf("creating incident: %w", err)
	}

	// Re-fetch to pick up server-assigned defaults before anything keys off
	// the incident's fields.
	if full, err := rc.spira.Incident(ctx, rc.pairing.SpiraProjectID, createdIncident.ID); err != nil {
		slog.WarnContext(ctx, "re-fetching created incident failed", "incident_id", createdIncident.ID, "error", err)
	} else {
		createdIncident = full
	}

	rc.incidents.Add(model.ArtifactMapping{
		InternalID:  createdIncident.ID,
		ExternalKey: strconv.FormatInt(issue.IID, 10),
		Primary:     true,
	})

	d.copyNotes(ctx, issue, createdIncident.ID)

	return created()
}

func (d *inbound) Update(ctx context.Context, issue model.Issue, mapping model.ArtifactMapping) Result {
	rc := d.rc

	incident, err := rc.spira.Incident(ctx, rc.pairing.SpiraProjectID, mapping.InternalID)
	if err != nil {
		return failf("fetching incident %d: %w", mapping.InternalID, err)
	}

	// Overlay only what the issue actually carries; empty fields never
	// blank out incident data.
	if issue.Title != "" {
		incident.Name = issue.Title
	}
	if strings.TrimSpace(issue.Description) != "" {
		description, err := markup.ToHTML(issue.Description)
		if err != nil {
			return failf("converting description: %w", err)
		}
		incident.Description = description
	}
	d.applyIssueFields(ctx, &incident, issue)

	if err := rc.spira.UpdateIncident(ctx, rc.pairing.SpiraProjectID, incident); err != nil {
		logValidation(ctx, err)
		return failf("updating incident %d: %w", incident.ID, err)
	}

	d.copyNotes(ctx, issue, incident.ID)

	return updated()
}

// applyIssueFields translates the issue's state, milestone, labels and
// assignee onto the incident. Everything here degrades field by field.
func (d *inbound) applyIssueFields(ctx context.Context, incident *model.Incident, issue model.Issue) {
	rc := d.rc

	if statusID, ok := rc.tables.Status.Internal(string(issue.State)); ok {
		incident.StatusID = statusID
	} else {
		slog.WarnContext(ctx, "no status mapping for issue state, leaving status unchanged", "state", issue.State)
	}

	if issue.MilestoneID != nil {
		if releaseID, err := rc.releaseForMilestone(ctx, *issue.MilestoneID); err != nil {
			slog.WarnContext(ctx, "leaving resolved release unchanged", "milestone_id", *issue.MilestoneID, "error", err)
		} else {
			incident.ResolvedReleaseID = &releaseID
		}
	}

	if typeID, ok := rc.tables.FirstTypeID(issue.Labels); ok {
		incident.TypeID = &typeID
	}

	if len(issue.Assignees) > 0 {
		if ownerID, err := rc.users.SpiraUserID(ctx, issue.Assignees[0]); err != nil {
			slog.WarnContext(ctx, "leaving owner unset", "assignee", issue.Assignees[0], "error", err)
		} else {
			incident.OwnerID = &ownerID
		}
	}
}

// copyNotes posts issue notes missing from the incident, oldest first, with
// provenance attribution. System notes never cross the boundary. Comment
// copy degrades to a warning so a note failure cannot undo the artifact.
func (d *inbound) copyNotes(ctx context.Context, issue model.Issue, incidentID int64) {
	rc := d.rc

	notes, err := rc.gitlab.Notes(ctx, issue.IID)
	if err != nil {
		slog.WarnContext(ctx, "listing issue notes failed", "error", err)
		return
	}
	if len(notes) == 0 {
		return
	}

	comments, err := rc.spira.Comments(ctx, rc.pairing.SpiraProjectID, incidentID)
	if err != nil {
		slog.WarnContext(ctx, "listing incident comments failed", "error", err)
		return
	}
	existing := make([]string, 0, len(comments))
	for _, comment := range comments {
		existing = append(existing, comment.Text)
	}

	var toAdd []model.Comment
	for _, note := range notes {
		if note.System {
			continue
		}
		if !dedup.ShouldSync(note.Body, existing) {
			continue
		}
		text, err := markup.ToHTML(dedup.Attribution(note.Author, note.Body))
		if err != nil {
			slog.WarnContext(ctx, "skipping unconvertible note", "note_id", note.ID, "error", err)
			continue
		}
		toAdd = append(toAdd, model.Comment{Text: text, CreationDate: note.CreatedAt})
		existing = append(existing, text)
	}
	if len(toAdd) == 0 {
		return
	}

	if err := rc.spira.AddComments(ctx, rc.pairing.SpiraProjectID, incidentID, toAdd); err != nil {
		slog.WarnContext(ctx, "adding incident comments failed", "count", len(toAdd), "error", err)
		return
	}
	slog.InfoContext(ctx, "comments copied to incident", "count", len(toAdd))
}

// logValidation surfaces Spira's per-field rejection detail next to the
// artifact failure.
func logValidation(ctx context.Context, err error) {
	var verr *spira.ValidationError
	if !errors.As(err, &verr) {
		return
	}
	for _, message := range verr.Messages {
		slog.ErrorContext(ctx, "spira rejected field", "field", message.FieldName, "message", message.Message)
	}
}

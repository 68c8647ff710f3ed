// Package gitlab wraps the GitLab API client with the operations the sync
// engine needs, scoped to one project and converted to the sync domain model.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "gitlab.com/gitlab-org/api/client-go"

	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("gitlab: not found")

const pageSize = 100

type Client struct {
	api     *api.Client
	project string // namespaced path, escaped by the underlying client
}

func NewClient(cfg config.GitLabConfig, project string) (*Client, error) {
	client, err := api.NewClient(cfg.Token, api.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Client{api: client, project: project}, nil
}

// Project returns the namespaced project path this client is bound to.
func (c *Client) Project() string {
	return c.project
}

// ConnectProject verifies the token can read the project.
func (c *Client) ConnectProject(ctx context.Context) error {
	_, _, err := c.api.Projects.GetProject(c.project, nil, api.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connecting to project %s: %w", c.project, err)
	}
	return nil
}

// Milestones lists every milestone in the project, all states, following the
// next-page header until exhausted.
func (c *Client) Milestones(ctx context.Context) ([]model.Milestone, error) {
	opts := &api.ListMilestonesOptions{
		ListOptions: api.ListOptions{PerPage: pageSize},
	}

	var milestones []model.Milestone
	for {
		page, resp, err := c.api.Milestones.ListMilestones(c.project, opts, api.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing milestones for %s: %w", c.project, err)
		}
		for _, m := range page {
			milestones = append(milestones, toMilestone(m))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return milestones, nil
}

func (c *Client) CreateMilestone(ctx context.Context, milestone model.Milestone) (model.Milestone, error) {
	opts := &api.CreateMilestoneOptions{Title: api.Ptr(milestone.Title)}
	if milestone.Description != "" {
		opts.Description = api.Ptr(milestone.Description)
	}
	if milestone.StartDate != nil {
		opts.StartDate = isoDate(*milestone.StartDate)
	}
	if milestone.DueDate != nil {
		opts.DueDate = isoDate(*milestone.DueDate)
	}

	created, _, err := c.api.Milestones.CreateMilestone(c.project, opts, api.WithContext(ctx))
	if err != nil {
		return model.Milestone{}, fmt.Errorf("creating milestone %q: %w", milestone.Title, err)
	}
	return toMilestone(created), nil
}

// IssuesSince lists issues updated on or after since, oldest first, across
// all states.
func (c *Client) IssuesSince(ctx context.Context, since time.Time) ([]model.Issue, error) {
	opts := &api.ListProjectIssuesOptions{
		UpdatedAfter: &since,
		Scope:        api.Ptr("all"),
		OrderBy:      api.Ptr("updated_at"),
		Sort:         api.Ptr("asc"),
		ListOptions:  api.ListOptions{PerPage: pageSize},
	}

	var issues []model.Issue
	for {
		page, resp, err := c.api.Issues.ListProjectIssues(c.project, opts, api.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing issues for %s: %w", c.project, err)
		}
		for _, issue := range page {
			issues = append(issues, toIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return issues, nil
}

func (c *Client) Issue(ctx context.Context, iid int64) (model.Issue, error) {
	issue, _, err := c.api.Issues.GetIssue(c.project, iid, api.WithContext(ctx))
	if err != nil {
		return model.Issue{}, fmt.Errorf("fetching issue %d: %w", iid, err)
	}
	return toIssue(issue), nil
}

type CreateIssueParams struct {
	Title       string
	Description string
	AssigneeID  *int64
	MilestoneID *int64
	Labels      []string
}

func (c *Client) CreateIssue(ctx context.Context, params CreateIssueParams) (model.Issue, error) {
	opts := &api.CreateIssueOptions{Title: api.Ptr(params.Title)}
	if params.Description != "" {
		opts.Description = api.Ptr(params.Description)
	}
	if params.AssigneeID != nil {
		opts.AssigneeIDs = &[]int64{*params.AssigneeID}
	}
	if params.MilestoneID != nil {
		opts.MilestoneID = api.Ptr(*params.MilestoneID)
	}
	if len(params.Labels) > 0 {
		labels := api.LabelOptions(params.Labels)
		opts.Labels = &labels
	}

	issue, _, err := c.api.Issues.CreateIssue(c.project, opts, api.WithContext(ctx))
	if err != nil {
		return model.Issue{}, fmt.Errorf("creating issue %q: %w", params.Title, err)
	}
	return toIssue(issue), nil
}

func (c *Client) CloseIssue(ctx context.Context, iid int64) (model.Issue, error) {
	return c.updateIssue(ctx, iid, &api.UpdateIssueOptions{StateEvent: api.Ptr("close")})
}

func (c *Client) ReopenIssue(ctx context.Context, iid int64) (model.Issue, error) {
	return c.updateIssue(ctx, iid, &api.UpdateIssueOptions{StateEvent: api.Ptr("reopen")})
}

func (c *Client) SetIssueMilestone(ctx context.Context, iid, milestoneID int64) (model.Issue, error) {
	return c.updateIssue(ctx, iid, &api.UpdateIssueOptions{MilestoneID: api.Ptr(milestoneID)})
}

func (c *Client) updateIssue(ctx context.Context, iid int64, opts *api.UpdateIssueOptions) (model.Issue, error) {
	issue, _, err := c.api.Issues.UpdateIssue(c.project, iid, opts, api.WithContext(ctx))
	if err != nil {
		return model.Issue{}, fmt.Errorf("updating issue %d: %w", iid, err)
	}
	return toIssue(issue), nil
}

// Notes lists an issue's notes oldest first, following pagination.
func (c *Client) Notes(ctx context.Context, iid int64) ([]model.Note, error) {
	opts := &api.ListIssueNotesOptions{
		OrderBy:     api.Ptr("created_at"),
		Sort:        api.Ptr("asc"),
		ListOptions: api.ListOptions{PerPage: pageSize},
	}

	var notes []model.Note
	for {
		page, resp, err := c.api.Notes.ListIssueNotes(c.project, iid, opts, api.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing notes for issue %d: %w", iid, err)
		}
		for _, note := range page {
			notes = append(notes, toNote(note))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return notes, nil
}

func (c *Client) CreateNote(ctx context.Context, iid int64, body string) (model.Note, error) {
	note, _, err := c.api.Notes.CreateIssueNote(c.project, iid, &api.CreateIssueNoteOptions{Body: api.Ptr(body)}, api.WithContext(ctx))
	if err != nil {
		return model.Note{}, fmt.Errorf("creating note on issue %d: %w", iid, err)
	}
	return toNote(note), nil
}

// UserIDByUsername resolves a username to its numeric id for issue
// assignment. Returns ErrNotFound when no account matches.
func (c *Client) UserIDByUsername(ctx context.Context, username string) (int64, error) {
	users, _, err := c.api.Users.ListUsers(&api.ListUsersOptions{Username: api.Ptr(username)}, api.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("looking up user %q: %w", username, err)
	}
	if len(users) == 0 {
		return 0, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return int64(users[0].ID), nil
}

func toIssue(issue *api.Issue) model.Issue {
	out := model.Issue{
		ID:          int64(issue.ID),
		IID:         int64(issue.IID),
		Title:       issue.Title,
		Description: issue.Description,
		State:       model.IssueState(issue.State),
		WebURL:      issue.WebURL,
		Labels:      []string(issue.Labels),
		ClosedAt:    issue.ClosedAt,
	}
	if issue.Author != nil {
		out.Author = issue.Author.Username
	}
	for _, assignee := range issue.Assignees {
		out.Assignees = append(out.Assignees, assignee.Username)
	}
	if issue.Milestone != nil {
		id := int64(issue.Milestone.ID)
		out.MilestoneID = &id
	}
	if issue.CreatedAt != nil {
		out.CreatedAt = *issue.CreatedAt
	}
	if issue.UpdatedAt != nil {
		out.UpdatedAt = *issue.UpdatedAt
	}
	return out
}

func toNote(note *api.Note) model.Note {
	out := model.Note{
		ID:     int64(note.ID),
		Body:   note.Body,
		System: note.System,
	}
	out.Author = note.Author.Name
	if out.Author == "" {
		out.Author = note.Author.Username
	}
	if note.CreatedAt != nil {
		out.CreatedAt = *note.CreatedAt
	}
	return out
}

func toMilestone(milestone *api.Milestone) model.Milestone {
	out := model.Milestone{
		ID:          int64(milestone.ID),
		Title:       milestone.Title,
		Description: milestone.Description,
		State:       model.MilestoneState(milestone.State),
		WebURL:      milestone.WebURL,
	}
	if milestone.StartDate != nil {
		t := time.Time(*milestone.StartDate)
		out.StartDate = &t
	}
	if milestone.DueDate != nil {
		t := time.Time(*milestone.DueDate)
		out.DueDate = &t
	}
	return out
}

func isoDate(t time.Time) *api.ISOTime {
	d := api.ISOTime(t)
	return &d
}

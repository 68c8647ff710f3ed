package model

import "time"

// IssueState represents the GitLab issue state
type IssueState string

const (
	IssueStateOpened IssueState = "opened"
	IssueStateClosed IssueState = "closed"
)

// Issue is a GitLab issue. IID is the project-local id shown in URLs and used
// as the external mapping key; ID is the instance-global id. Description is
// Markdown. Author and assignees are usernames.
type Issue struct {
	ID          int64      `json:"id"`
	IID         int64      `json:"iid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       IssueState `json:"state"`
	WebURL      string     `json:"web_url"`
	Author      string     `json:"author"`
	Assignees   []string   `json:"assignees,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	MilestoneID *int64     `json:"milestone_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Note is a GitLab issue note. System notes are tracker-generated audit
// entries (state changes, milestone changes) and are never synchronized.
type Note struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

package model

import "time"

// Spira release statuses. Planned and in-progress releases are active;
// everything else is inactive.
const (
	ReleaseStatusPlanned    int64 = 1
	ReleaseStatusInProgress int64 = 2
	ReleaseStatusCompleted  int64 = 3
	ReleaseStatusClosed     int64 = 4
	ReleaseStatusDeferred   int64 = 5
	ReleaseStatusCancelled  int64 = 6
)

// VersionNumberMaxLen is the length limit Spira enforces on a release's
// version-number field.
const VersionNumberMaxLen = 16

// Release is a Spira release.
type Release struct {
	ID             int64     `json:"id"`
	ProjectID      int64     `json:"project_id"`
	Name           string    `json:"name"`
	VersionNumber  string    `json:"version_number"`
	Description    string    `json:"description"`
	StatusID       int64     `json:"status_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	CreationDate   time.Time `json:"creation_date"`
	LastUpdateDate time.Time `json:"last_update_date"`
}

// MilestoneState represents the GitLab milestone state
type MilestoneState string

const (
	MilestoneStateActive MilestoneState = "active"
	MilestoneStateClosed MilestoneState = "closed"
)

// Milestone is a GitLab milestone, the release-equivalent on the GitLab side.
type Milestone struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	State       MilestoneState `json:"state"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	WebURL      string         `json:"web_url,omitempty"`
}

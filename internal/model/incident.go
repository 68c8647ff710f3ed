package model

import "time"

// Incident is a Spira incident. Description and comment bodies are rich text
// (HTML). Status, severity, priority and type are project-scoped lookup ids,
// not enums; their meaning comes from the project's data-mapping tables.
type Incident struct {
	ID                int64                   `json:"id"`
	ProjectID         int64                   `json:"project_id"`
	Name              string                  `json:"name"`
	Description       string                  `json:"description"`
	StatusID          int64                   `json:"status_id"`
	TypeID            *int64                  `json:"type_id,omitempty"`
	PriorityID        *int64                  `json:"priority_id,omitempty"`
	SeverityID        *int64                  `json:"severity_id,omitempty"`
	OpenerID          *int64                  `json:"opener_id,omitempty"`
	OwnerID           *int64                  `json:"owner_id,omitempty"`
	DetectedReleaseID *int64                  `json:"detected_release_id,omitempty"`
	ResolvedReleaseID *int64                  `json:"resolved_release_id,omitempty"`
	VerifiedReleaseID *int64                  `json:"verified_release_id,omitempty"`
	CreationDate      time.Time               `json:"creation_date"`
	StartDate         *time.Time              `json:"start_date,omitempty"`
	ClosedDate        *time.Time              `json:"closed_date,omitempty"`
	LastUpdateDate    time.Time               `json:"last_update_date"`
	ConcurrencyDate   time.Time               `json:"concurrency_date"`
	Properties        map[int64]PropertyValue `json:"properties,omitempty"`
}

// Comment is a Spira incident comment. Comments are append-only; the engine
// never edits or deletes one once posted.
type Comment struct {
	ID           int64     `json:"id"`
	IncidentID   int64     `json:"incident_id"`
	CreatorID    *int64    `json:"creator_id,omitempty"`
	CreatorName  string    `json:"creator_name"`
	Text         string    `json:"text"`
	CreationDate time.Time `json:"creation_date"`
}

package model

// Spira artifact type ids, as used by the artifact-mapping endpoints.
const (
	ArtifactTypeIncident int64 = 3
	ArtifactTypeRelease  int64 = 4
)

// ArtifactMapping links a Spira artifact id to a GitLab key (issue iid or
// milestone id, as decimal strings). Unique per (ProjectID, InternalID); at
// most one primary entry per (ProjectID, ExternalKey). Entries are never
// mutated in place: a stale mapping is removed and a replacement added.
type ArtifactMapping struct {
	ProjectID   int64  `json:"project_id"`
	InternalID  int64  `json:"internal_id"`
	ExternalKey string `json:"external_key"`
	Primary     bool   `json:"primary"`
}

// ValueMapping pairs a Spira lookup value (status, severity, priority, type,
// user, custom-property option) with its GitLab counterpart. Populated by
// project configuration; read-only during a run.
type ValueMapping struct {
	ProjectID     int64  `json:"project_id"`
	InternalID    int64  `json:"internal_id"`
	ExternalValue string `json:"external_value"`
}

package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields carries sync-scoped identifiers through context so every log
// statement inside a run is tagged without threading arguments around.
type LogFields struct {
	RunID        *int64  // current sync run id
	ProjectID    *int64  // Spira project id of the pairing being processed
	ArtifactType *string // "incident" or "issue"
	ArtifactID   *string // side-local artifact id (incident id or issue iid)
	Phase        *string // "outbound" (Spira->GitLab) or "inbound" (GitLab->Spira)
	Component    string  // e.g. "datasync.engine", "datasync.scheduler"
}

// WithLogFields enriches ctx with structured log fields. Repeated calls
// merge, newer non-nil/non-empty values winning. Deadlines and cancellation
// of ctx are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields attached to ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.ProjectID != nil {
		result.ProjectID = next.ProjectID
	}
	if next.ArtifactType != nil {
		result.ArtifactType = next.ArtifactType
	}
	if next.ArtifactID != nil {
		result.ArtifactID = next.ArtifactID
	}
	if next.Phase != nil {
		result.Phase = next.Phase
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr returns a pointer to v, for inline LogFields construction.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
// Used when logging potentially long comment bodies or error payloads.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

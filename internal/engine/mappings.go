package engine

import (
	"context"
	"fmt"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// mappingWriter is the slice of the Spira client mapping persistence needs.
type mappingWriter interface {
	AddArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error
	RemoveArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error
}

// MappingSet holds one artifact type's identity mappings for the duration of
// a run: the table read from Spira at pairing start plus the additions and
// removals accumulated since. Accumulators flush together at phase
// checkpoints, never mid-phase. Only primary mappings serve the
// external-to-internal direction; at most one primary exists per external
// key.
type MappingSet struct {
	projectID      int64
	artifactTypeID int64

	byInternal map[int64]model.ArtifactMapping
	byExternal map[string]model.ArtifactMapping

	added   []model.ArtifactMapping
	removed []model.ArtifactMapping
}

func NewMappingSet(projectID, artifactTypeID int64, existing []model.ArtifactMapping) *MappingSet {
	s := &MappingSet{
		projectID:      projectID,
		artifactTypeID: artifactTypeID,
		byInternal:     make(map[int64]model.ArtifactMapping, len(existing)),
		byExternal:     make(map[string]model.ArtifactMapping, len(existing)),
	}
	for _, m := range existing {
		s.index(m)
	}
	return s
}

// ByInternal returns the mapping for an internal artifact id.
func (s *MappingSet) ByInternal(internalID int64) (model.ArtifactMapping, bool) {
	m, ok := s.byInternal[internalID]
	return m, ok
}

// ByExternal returns the primary mapping for an external key.
func (s *MappingSet) ByExternal(externalKey string) (model.ArtifactMapping, bool) {
	m, ok := s.byExternal[externalKey]
	return m, ok
}

// Add records a new mapping and queues it for the next flush. An incoming
// primary is demoted to secondary when its external key already has one.
func (s *MappingSet) Add(m model.ArtifactMapping) {
	m.ProjectID = s.projectID
	if m.Primary {
		if existing, ok := s.byExternal[m.ExternalKey]; ok && existing.InternalID != m.InternalID {
			m.Primary = false
		}
	}
	s.index(m)
	s.added = append(s.added, m)
}

// Remove unindexes a stale mapping and queues its deletion for the next
// flush. Entries are never mutated in place: replacement is Remove then Add.
func (s *MappingSet) Remove(m model.ArtifactMapping) {
	if indexed, ok := s.byInternal[m.InternalID]; ok && indexed.ExternalKey == m.ExternalKey {
		delete(s.byInternal, m.InternalID)
	}
	if indexed, ok := s.byExternal[m.ExternalKey]; ok && indexed.InternalID == m.InternalID {
		delete(s.byExternal, m.ExternalKey)
	}
	s.removed = append(s.removed, m)
}

// Pending reports how many additions and removals await the next flush.
func (s *MappingSet) Pending() (added, removed int) {
	return len(s.added), len(s.removed)
}

// Flush persists queued removals then additions and clears the accumulators.
func (s *MappingSet) Flush(ctx context.Context, writer mappingWriter) error {
	if len(s.removed) > 0 {
		if err := writer.RemoveArtifactMappings(ctx, s.projectID, s.artifactTypeID, s.removed); err != nil {
			return fmt.Errorf("removing %d stale mappings: %w", len(s.removed), err)
		}
		s.removed = nil
	}
	if len(s.added) > 0 {
		if err := writer.AddArtifactMappings(ctx, s.projectID, s.artifactTypeID, s.added); err != nil {
			return fmt.Errorf("adding %d new mappings: %w", len(s.added), err)
		}
		s.added = nil
	}
	return nil
}

func (s *MappingSet) index(m model.ArtifactMapping) {
	s.byInternal[m.InternalID] = m
	if m.Primary {
		s.byExternal[m.ExternalKey] = m
	}
}

// Package translate maps enumerated field values between the Spira and
// GitLab vocabularies using the project's configured value mappings.
package translate

import (
	"strings"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

// Table is a bidirectional lookup over one field's value mappings. External
// lookups are case-insensitive; when two internal ids map to the same
// external value the first configured entry wins the reverse direction.
type Table struct {
	byInternal map[int64]string
	byExternal map[string]int64
}

func NewTable(mappings []model.ValueMapping) *Table {
	t := &Table{
		byInternal: make(map[int64]string, len(mappings)),
		byExternal: make(map[string]int64, len(mappings)),
	}
	for _, m := range mappings {
		if _, ok := t.byInternal[m.InternalID]; !ok {
			t.byInternal[m.InternalID] = m.ExternalValue
		}
		key := strings.ToLower(m.ExternalValue)
		if _, ok := t.byExternal[key]; !ok {
			t.byExternal[key] = m.InternalID
		}
	}
	return t
}

// External returns the GitLab-side value for a Spira id.
func (t *Table) External(internalID int64) (string, bool) {
	v, ok := t.byInternal[internalID]
	return v, ok
}

// Internal returns the Spira id for a GitLab-side value.
func (t *Table) Internal(externalValue string) (int64, bool) {
	id, ok := t.byExternal[strings.ToLower(externalValue)]
	return id, ok
}

func (t *Table) Len() int {
	return len(t.byInternal)
}

// Tables bundles the per-field lookup tables loaded for one project pairing.
// Custom-property option mappings use the same Table shape but are read on
// demand rather than loaded here.
type Tables struct {
	Status   *Table
	Severity *Table
	Priority *Table
	Type     *Table
	Users    *Table
}

// FirstTypeID returns the incident type mapped to the first matching label,
// scanning labels in order.
func (t Tables) FirstTypeID(labels []string) (int64, bool) {
	if t.Type == nil {
		return 0, false
	}
	for _, label := range labels {
		if id, ok := t.Type.Internal(label); ok {
			return id, true
		}
	}
	return 0, false
}

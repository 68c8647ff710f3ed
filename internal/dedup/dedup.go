// Package dedup decides whether a comment body still needs to be copied to
// the other tracker.
package dedup

import (
	"fmt"
	"strings"

	"github.com/Inflectra/spira-gitlab-datasync/internal/markup"
)

// Marker tags every comment posted by a sync pass. A body carrying it is
// never synchronized again, which breaks the ping-pong loop between the two
// trackers.
const Marker = "Posted By:"

// Attribution prefixes body with the marker naming its original author. The
// prefix doubles as the loop-breaking signal checked by FromSync.
func Attribution(author, body string) string {
	return fmt.Sprintf("%s %s\n\n%s", Marker, author, body)
}

// FromSync reports whether body was itself produced by a prior sync pass.
func FromSync(body string) bool {
	return strings.Contains(body, Marker)
}

// ShouldSync reports whether candidate needs to be posted given the bodies
// already present on the other side. Both sides are normalized to plain text;
// a candidate contained in any existing body is a duplicate. Containment
// rather than equality tolerates attribution prefixes added by earlier
// passes, at the cost of false positives on very short bodies.
func ShouldSync(candidate string, existing []string) bool {
	if FromSync(candidate) {
		return false
	}

	normalized := markup.Normalize(candidate)
	if normalized == "" {
		return false
	}

	for _, body := range existing {
		if strings.Contains(markup.Normalize(body), normalized) {
			return false
		}
	}

	return true
}

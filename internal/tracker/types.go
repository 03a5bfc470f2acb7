// Package tracker persists tracking relationships: which artifact is
// installed from which remote reference, and at which revision.
package tracker

import (
	"errors"
	"time"

	"plugtrack/internal/locator"
)

var (
	// ErrNotFound means no tracking record matched.
	ErrNotFound = errors.New("tracking not found")
	// ErrDuplicateArtifact means a record for the artifact already exists.
	ErrDuplicateArtifact = errors.New("artifact already tracked")
)

// TrackedArtifact is the durable record of one tracking relationship.
// The artifact id is the uniqueness key: one tracking per artifact.
type TrackedArtifact struct {
	// ID is the stable record identifier (uuid).
	ID string
	// LocatorURL is normalized to owner/repo only, no reference suffix.
	LocatorURL string
	Kind       locator.RefKind
	// RefValue is the reference value; empty only for a default-branch
	// tracking.
	RefValue   string
	ArtifactID string
	// InstalledRevision is empty until the first successful install.
	InstalledRevision string
	Primary           bool
	// RestartRequested is a transient request flag, cleared before the
	// restart is surfaced so a failed restart cannot loop.
	RestartRequested bool
	Title            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefDescriptor renders the reference in the short human form used in
// titles and listings.
func (a *TrackedArtifact) RefDescriptor() string {
	switch a.Kind {
	case locator.KindChangeRequest:
		return "PR #" + a.RefValue
	case locator.KindBranch:
		if a.RefValue == "" {
			return "default branch"
		}
		return "branch: " + a.RefValue
	default:
		value := a.RefValue
		if len(value) > 7 {
			value = value[:7]
		}
		return "commit: " + value
	}
}

// Package alerts keeps the active alert rows for tracked artifacts.
// An alert exists while its condition holds and has not been
// acknowledged; clearing or acknowledging removes the row.
package alerts

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned when no matching alert is active.
var ErrNotFound = errors.New("alert not found")

// Kind identifies an alert category.
type Kind string

const (
	// KindRestartRequired is raised after an install or removal that
	// needs a host restart to take effect.
	KindRestartRequired Kind = "restart_required"
	// KindReferenceClosed is raised when a tracked change request was
	// closed or merged upstream.
	KindReferenceClosed Kind = "reference_closed"
	// KindArtifactRemoved is raised when the artifact no longer exists
	// at the tracked reference.
	KindArtifactRemoved Kind = "artifact_removed"
	// KindFetchFailed is raised after repeated consecutive poll failures.
	KindFetchFailed Kind = "fetch_failed"
	// KindCredentialInvalid is global: it is keyed to no artifact and
	// raised when the stored token is rejected.
	KindCredentialInvalid Kind = "credential_invalid"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityFor maps each kind to its fixed severity.
func severityFor(kind Kind) Severity {
	switch kind {
	case KindCredentialInvalid, KindFetchFailed:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Alert is one active alert row.
type Alert struct {
	Kind       Kind
	ArtifactID string // empty for global kinds
	Severity   Severity
	Message    string
	Details    string
	RaisedAt   time.Time
}

// Registry stores active alerts in SQLite. Raise and Clear are
// idempotent so callers can invoke them every poll cycle.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRegistry creates an alert registry. The caller owns the connection.
func NewRegistry(db *sql.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}
}

// InitSchema creates the required tables if they don't exist.
func (r *Registry) InitSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			kind TEXT NOT NULL,
			artifact_id TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			raised_at TEXT NOT NULL,
			PRIMARY KEY (kind, artifact_id)
		);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Raise creates an alert if it is not already active. Re-raising an
// active alert is a no-op and keeps the original row.
func (r *Registry) Raise(kind Kind, artifactID, message, details string) error {
	result, err := r.db.Exec(`
		INSERT OR IGNORE INTO alerts (kind, artifact_id, severity, message, details, raised_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(kind), artifactID, string(severityFor(kind)), message, details,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("raise alert %s: %w", kind, err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		r.logger.Info("alert raised", "kind", kind, "artifact", artifactID)
	}
	return nil
}

// Clear removes an alert. Clearing an absent alert is a no-op.
func (r *Registry) Clear(kind Kind, artifactID string) error {
	result, err := r.db.Exec(`DELETE FROM alerts WHERE kind = ? AND artifact_id = ?`,
		string(kind), artifactID)
	if err != nil {
		return fmt.Errorf("clear alert %s: %w", kind, err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		r.logger.Info("alert cleared", "kind", kind, "artifact", artifactID)
	}
	return nil
}

// ClearArtifact removes every alert keyed to the given artifact.
func (r *Registry) ClearArtifact(artifactID string) error {
	if _, err := r.db.Exec(`DELETE FROM alerts WHERE artifact_id = ? AND artifact_id != ''`, artifactID); err != nil {
		return fmt.Errorf("clear alerts for %s: %w", artifactID, err)
	}
	return nil
}

// Get returns the active alert for the given key, or ErrNotFound.
func (r *Registry) Get(kind Kind, artifactID string) (*Alert, error) {
	row := r.db.QueryRow(`
		SELECT kind, artifact_id, severity, message, details, raised_at
		FROM alerts WHERE kind = ? AND artifact_id = ?
	`, string(kind), artifactID)
	return scanAlert(row)
}

// Active reports whether the given alert currently exists.
func (r *Registry) Active(kind Kind, artifactID string) (bool, error) {
	_, err := r.Get(kind, artifactID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Acknowledged reports the inverse of Active: an acknowledged alert has
// no row left.
func (r *Registry) Acknowledged(kind Kind, artifactID string) (bool, error) {
	active, err := r.Active(kind, artifactID)
	return !active, err
}

// List returns all active alerts ordered by raise time.
func (r *Registry) List() ([]*Alert, error) {
	rows, err := r.db.Query(`
		SELECT kind, artifact_id, severity, message, details, raised_at
		FROM alerts ORDER BY raised_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var kind, severity, raisedAt string

	err := row.Scan(&kind, &a.ArtifactID, &severity, &a.Message, &a.Details, &raisedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.Kind = Kind(kind)
	a.Severity = Severity(severity)
	if t, err := time.Parse(time.RFC3339, raisedAt); err == nil {
		a.RaisedAt = t
	}
	return &a, nil
}

package tracker

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"plugtrack/internal/locator"
)

// Store persists tracking records in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a tracking store. The caller owns the connection.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// InitSchema creates the required tables if they don't exist.
func (s *Store) InitSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trackings (
			id TEXT PRIMARY KEY,
			locator_url TEXT NOT NULL,
			ref_kind TEXT NOT NULL,
			ref_value TEXT NOT NULL DEFAULT '',
			artifact_id TEXT NOT NULL UNIQUE,
			installed_revision TEXT,
			is_primary INTEGER NOT NULL DEFAULT 0,
			restart_requested INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trackings_locator ON trackings(locator_url);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Save persists a new tracking record.
func (s *Store) Save(a *TrackedArtifact) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var installed any
	if a.InstalledRevision != "" {
		installed = a.InstalledRevision
	}

	_, err := s.db.Exec(`
		INSERT INTO trackings (
			id, locator_url, ref_kind, ref_value, artifact_id,
			installed_revision, is_primary, restart_requested, title,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.LocatorURL,
		string(a.Kind),
		a.RefValue,
		a.ArtifactID,
		installed,
		boolToInt(a.Primary),
		boolToInt(a.RestartRequested),
		a.Title,
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateArtifact
		}
		return fmt.Errorf("insert tracking: %w", err)
	}

	s.logger.Debug("tracking saved", "artifact", a.ArtifactID, "id", a.ID)
	return nil
}

const trackingColumns = `
	id, locator_url, ref_kind, ref_value, artifact_id,
	installed_revision, is_primary, restart_requested, title,
	created_at, updated_at
`

// GetByID retrieves a tracking by its record id.
func (s *Store) GetByID(id string) (*TrackedArtifact, error) {
	row := s.db.QueryRow(`SELECT `+trackingColumns+` FROM trackings WHERE id = ?`, id)
	return scanTracking(row)
}

// GetByArtifact retrieves a tracking by artifact id.
func (s *Store) GetByArtifact(artifactID string) (*TrackedArtifact, error) {
	row := s.db.QueryRow(`SELECT `+trackingColumns+` FROM trackings WHERE artifact_id = ?`, artifactID)
	return scanTracking(row)
}

// List returns all trackings ordered by creation time.
func (s *Store) List() ([]*TrackedArtifact, error) {
	rows, err := s.db.Query(`SELECT ` + trackingColumns + ` FROM trackings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list trackings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*TrackedArtifact
	for rows.Next() {
		record, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackings: %w", err)
	}
	return records, nil
}

// SetInstalledRevision records a successful install.
func (s *Store) SetInstalledRevision(id, revision string) error {
	return s.update(id, `UPDATE trackings SET installed_revision = ?, updated_at = ? WHERE id = ?`,
		revision, time.Now().UTC().Format(time.RFC3339), id)
}

// ClearRestartRequested drops the transient restart flag.
func (s *Store) ClearRestartRequested(id string) error {
	return s.update(id, `UPDATE trackings SET restart_requested = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
}

// Delete permanently removes a tracking record.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM trackings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tracking: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) update(id, query string, args ...any) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update tracking %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracking(row rowScanner) (*TrackedArtifact, error) {
	var a TrackedArtifact
	var kind string
	var installed sql.NullString
	var primary, restart int
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.LocatorURL,
		&kind,
		&a.RefValue,
		&a.ArtifactID,
		&installed,
		&primary,
		&restart,
		&a.Title,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tracking: %w", err)
	}

	a.Kind = locator.RefKind(kind)
	if installed.Valid {
		a.InstalledRevision = installed.String
	}
	a.Primary = primary != 0
	a.RestartRequested = restart != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		a.UpdatedAt = t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

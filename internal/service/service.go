// Package service wires the selection flow, the reconciliation loops,
// and the stores into the operations the CLI and daemon expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"plugtrack/internal/alerts"
	"plugtrack/internal/config"
	"plugtrack/internal/installer"
	"plugtrack/internal/locator"
	"plugtrack/internal/notify"
	"plugtrack/internal/poller"
	"plugtrack/internal/selection"
	"plugtrack/internal/tracker"
)

// Forge is the full remote surface the manager hands to its parts.
type Forge interface {
	selection.Forge
	poller.Forge
}

// AbortError is a selection flow abort surfaced to the caller.
type AbortError struct {
	Reason selection.AbortReason
	Detail string
}

func (e *AbortError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// NeedsSelectionError means the change request touches several
// artifacts and the caller has to name one.
type NeedsSelectionError struct {
	Candidates []string
}

func (e *NeedsSelectionError) Error() string {
	return fmt.Sprintf("multiple artifacts changed, pick one of: %s", strings.Join(e.Candidates, ", "))
}

// OverwriteRequiredError means a foreign directory occupies the target
// and replacing it needs the explicit overwrite flag.
type OverwriteRequiredError struct {
	Artifact string
}

func (e *OverwriteRequiredError) Error() string {
	return fmt.Sprintf("a directory for %s already exists and was not installed by plugtrack; pass --overwrite to replace it", e.Artifact)
}

// AmbiguousSelectorError means a repo selector matched several
// trackings and cannot pick one.
type AmbiguousSelectorError struct {
	Selector   string
	Candidates []string
}

func (e *AmbiguousSelectorError) Error() string {
	return fmt.Sprintf("%q matches multiple trackings (%s); select by artifact instead",
		e.Selector, strings.Join(e.Candidates, ", "))
}

// Selector picks one tracking record. Exactly one field may be set.
type Selector struct {
	Artifact string
	Locator  string
	Repo     string
	ID       string
}

// Options configures a Manager.
type Options struct {
	Config    *config.Config
	Forge     Forge
	Store     *tracker.Store
	Alerts    *alerts.Registry
	Notifier  notify.Notifier
	Installer *installer.Installer
	Logger    *slog.Logger
}

// Manager owns the coordinator set and exposes the tracked-artifact
// operations.
type Manager struct {
	cfg       *config.Config
	forge     Forge
	store     *tracker.Store
	alerts    *alerts.Registry
	notifier  notify.Notifier
	installer *installer.Installer
	flows     *selection.Flows
	logger    *slog.Logger

	mu     sync.Mutex
	coords map[string]*poller.Coordinator
}

// NewManager assembles a manager from its parts.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flows := selection.NewFlows(selection.Options{
		Forge:          opts.Forge,
		Store:          opts.Store,
		Installer:      opts.Installer,
		PrimaryRepo:    opts.Config.Forge.PrimaryRepo,
		ComponentsRoot: opts.Config.Forge.ComponentsRoot,
		Logger:         logger,
	})
	return &Manager{
		cfg:       opts.Config,
		forge:     opts.Forge,
		store:     opts.Store,
		alerts:    opts.Alerts,
		notifier:  opts.Notifier,
		installer: opts.Installer,
		flows:     flows,
		logger:    logger,
		coords:    make(map[string]*poller.Coordinator),
	}
}

// AddTracking runs the selection flow non-interactively and performs
// the initial install. Multi-artifact change requests need the choice
// passed up front; a foreign target directory needs the overwrite flag.
func (m *Manager) AddTracking(ctx context.Context, rawLocator, choice string, overwrite, restart bool) (*tracker.TrackedArtifact, error) {
	flow := m.flows.New(rawLocator, overwrite, restart)
	outcome := flow.Run(ctx)

	if needs, ok := outcome.(selection.NeedsInput); ok && needs.Step == selection.StepSelectArtifact {
		if choice == "" {
			return nil, &NeedsSelectionError{Candidates: needs.Candidates}
		}
		outcome = flow.Resume(ctx, choice)
		if again, ok := outcome.(selection.NeedsInput); ok && again.Step == selection.StepSelectArtifact {
			return nil, &NeedsSelectionError{Candidates: again.Candidates}
		}
	}

	switch o := outcome.(type) {
	case selection.Aborted:
		return nil, &AbortError{Reason: o.Reason, Detail: o.Detail}
	case selection.NeedsInput:
		// only confirm_overwrite can still be pending here
		return nil, &OverwriteRequiredError{Artifact: o.Candidates[0]}
	case selection.Created:
		record := o.Record
		if err := m.initialInstall(ctx, record); err != nil {
			return record, fmt.Errorf("tracking created but initial install failed: %w", err)
		}
		return record, nil
	default:
		return nil, fmt.Errorf("unexpected selection outcome %T", outcome)
	}
}

// initialInstall installs the just-created tracking and honors the
// restart flag: the flag is cleared before the restart is surfaced so a
// failed restart cannot loop.
func (m *Manager) initialInstall(ctx context.Context, record *tracker.TrackedArtifact) error {
	coord := m.coordinator(record.ID)
	if err := coord.InstallUpdate(ctx); err != nil {
		return err
	}
	if updated, err := m.store.GetByID(record.ID); err == nil {
		record.InstalledRevision = updated.InstalledRevision
	}

	if record.RestartRequested {
		if err := m.store.ClearRestartRequested(record.ID); err != nil {
			return fmt.Errorf("clear restart flag: %w", err)
		}
		record.RestartRequested = false
		m.notifier.Notify(record.Title,
			fmt.Sprintf("Restart now to load %s", record.ArtifactID),
			"plugtrack_restart_"+record.ArtifactID)
	}
	return nil
}

// ListTrackings returns all tracking records.
func (m *Manager) ListTrackings() ([]*tracker.TrackedArtifact, error) {
	return m.store.List()
}

// resolveSelector maps a selector onto exactly one record.
func (m *Manager) resolveSelector(sel Selector) (*tracker.TrackedArtifact, error) {
	set := 0
	for _, v := range []string{sel.Artifact, sel.Locator, sel.Repo, sel.ID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of artifact, locator, repo, or id must be given")
	}

	switch {
	case sel.ID != "":
		return m.store.GetByID(sel.ID)
	case sel.Artifact != "":
		return m.store.GetByArtifact(sel.Artifact)
	case sel.Locator != "":
		parsed, err := locator.Parse(sel.Locator, m.cfg.Forge.PrimaryRepo)
		if err != nil {
			return nil, err
		}
		// A bare repository URL carries no reference, so it selects
		// at repo granularity; multiple hits surface as ambiguity.
		return m.matchRecords(sel.Locator, func(r *tracker.TrackedArtifact) bool {
			if r.LocatorURL != parsed.RepoURL() {
				return false
			}
			if parsed.Value == "" {
				return true
			}
			return r.Kind == parsed.Kind && r.RefValue == parsed.Value
		})
	default:
		return m.matchRecords(sel.Repo, func(r *tracker.TrackedArtifact) bool {
			return strings.TrimPrefix(r.LocatorURL, "https://github.com/") == sel.Repo
		})
	}
}

func (m *Manager) matchRecords(selector string, match func(*tracker.TrackedArtifact) bool) (*tracker.TrackedArtifact, error) {
	records, err := m.store.List()
	if err != nil {
		return nil, err
	}
	var hits []*tracker.TrackedArtifact
	for _, r := range records {
		if match(r) {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 0:
		return nil, tracker.ErrNotFound
	case 1:
		return hits[0], nil
	default:
		candidates := make([]string, len(hits))
		for i, r := range hits {
			candidates[i] = r.ArtifactID
		}
		return nil, &AmbiguousSelectorError{Selector: selector, Candidates: candidates}
	}
}

// RemoveTracking deletes a tracking, stops its loop, clears its alerts,
// and removes the installed files unless told to keep them.
func (m *Manager) RemoveTracking(sel Selector, keepFiles bool) error {
	record, err := m.resolveSelector(sel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if coord, ok := m.coords[record.ID]; ok {
		delete(m.coords, record.ID)
		m.mu.Unlock()
		coord.Stop()
	} else {
		m.mu.Unlock()
	}

	filesRemoved := false
	if !keepFiles && m.installer.HasMarker(record.ArtifactID) {
		if err := m.installer.Remove(record.ArtifactID); err != nil {
			return fmt.Errorf("remove files for %s: %w", record.ArtifactID, err)
		}
		filesRemoved = true
	}

	if err := m.store.Delete(record.ID); err != nil {
		return err
	}
	if err := m.alerts.ClearArtifact(record.ArtifactID); err != nil {
		m.logger.Warn("clearing alerts on removal", "artifact", record.ArtifactID, "error", err)
	}

	filesKept := !filesRemoved && m.installer.Exists(record.ArtifactID)
	m.notifier.Notify(record.Title, removalMessage(record, filesKept),
		"plugtrack_removed_"+record.ArtifactID)
	m.logger.Info("tracking removed", "artifact", record.ArtifactID, "files_removed", filesRemoved)
	return nil
}

// removalMessage picks the user-facing wording for a removal.
func removalMessage(record *tracker.TrackedArtifact, filesKept bool) string {
	switch {
	case filesKept:
		return fmt.Sprintf("Stopped tracking %s; installed files were kept in place", record.ArtifactID)
	case record.Primary:
		return fmt.Sprintf("Removed the tracked override of %s; restart to load the built-in version", record.ArtifactID)
	default:
		return fmt.Sprintf("Removed %s; restart to unload it", record.ArtifactID)
	}
}

// InstallLatest installs the newest resolved revision for a tracking.
func (m *Manager) InstallLatest(ctx context.Context, sel Selector) error {
	record, err := m.resolveSelector(sel)
	if err != nil {
		return err
	}
	return m.coordinator(record.ID).InstallUpdate(ctx)
}

// ForcePoll runs one immediate reconciliation pass for a tracking.
func (m *Manager) ForcePoll(ctx context.Context, sel Selector) (*poller.PollResult, error) {
	record, err := m.resolveSelector(sel)
	if err != nil {
		return nil, err
	}
	return m.coordinator(record.ID).Poll(ctx)
}

// StartAll launches a reconciliation loop for every tracking record.
func (m *Manager) StartAll(ctx context.Context) error {
	records, err := m.store.List()
	if err != nil {
		return err
	}
	for _, record := range records {
		m.coordinator(record.ID).Start(ctx)
	}
	m.logger.Info("reconciliation loops started", "count", len(records))
	return nil
}

// StopAll stops every running loop and waits for in-flight polls.
func (m *Manager) StopAll() {
	m.mu.Lock()
	coords := make([]*poller.Coordinator, 0, len(m.coords))
	for _, c := range m.coords {
		coords = append(coords, c)
	}
	m.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}

// coordinator returns the loop for a record, creating it on first use.
func (m *Manager) coordinator(recordID string) *poller.Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if coord, ok := m.coords[recordID]; ok {
		return coord
	}
	coord := poller.New(poller.Options{
		RecordID:         recordID,
		Forge:            m.forge,
		Store:            m.store,
		Alerts:           m.alerts,
		Notifier:         m.notifier,
		Installer:        m.installer,
		PrimaryRepo:      m.cfg.Forge.PrimaryRepo,
		Interval:         m.pollInterval(),
		FailureThreshold: m.cfg.Poll.FailureThreshold,
		Logger:           m.logger,
	})
	m.coords[recordID] = coord
	return coord
}

func (m *Manager) pollInterval() time.Duration {
	return time.Duration(m.cfg.Poll.IntervalSeconds) * time.Second
}

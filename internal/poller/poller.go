// Package poller runs the reconciliation loop: one coordinator per
// tracking re-resolves the remote reference on an interval, detects
// revision drift and invalidation, and drives the alert lifecycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"plugtrack/internal/alerts"
	"plugtrack/internal/forge"
	"plugtrack/internal/installer"
	"plugtrack/internal/locator"
	"plugtrack/internal/notify"
	"plugtrack/internal/tracker"
)

// DefaultInterval is the poll cadence when the config does not override it.
const DefaultInterval = 300 * time.Second

// DefaultFailureThreshold is how many consecutive failures raise the
// fetch_failed alert.
const DefaultFailureThreshold = 3

// Forge is the remote surface the coordinator needs.
type Forge interface {
	Resolve(ctx context.Context, parsed locator.Parsed) (*forge.Resolved, error)
	Commit(ctx context.Context, owner, repo, ref string) (*forge.CommitInfo, error)
	ChangedArtifacts(ctx context.Context, owner, repo string, number int) ([]string, error)
	DownloadArchive(ctx context.Context, owner, repo, ref string) ([]byte, error)
}

// PollResult is the ephemeral outcome of one successful tick. It is
// recomputed every poll and never persisted.
type PollResult struct {
	ArtifactID string
	Owner      string
	Repo       string
	Kind       locator.RefKind
	// Revision is the current remote head; always populated.
	Revision        string
	UpdateAvailable bool

	// Exactly one of these matches Kind.
	PR     *forge.PullRequestInfo
	Branch *forge.BranchInfo
	Commit *forge.CommitInfo

	// CommitURL comes from the follow-up commit fetch for branch and
	// change-request kinds.
	CommitURL string
	PolledAt  time.Time
}

// Options configures a Coordinator.
type Options struct {
	RecordID  string
	Forge     Forge
	Store     *tracker.Store
	Alerts    *alerts.Registry
	Notifier  notify.Notifier
	Installer *installer.Installer
	// PrimaryRepo is needed to re-parse stored locators.
	PrimaryRepo      string
	Interval         time.Duration
	FailureThreshold int
	Logger           *slog.Logger
}

// Coordinator polls one tracking record. Ticks are serialized; polls
// for different records run independently.
type Coordinator struct {
	recordID    string
	forge       Forge
	store       *tracker.Store
	alerts      *alerts.Registry
	notifier    notify.Notifier
	installer   *installer.Installer
	primaryRepo string
	interval    time.Duration
	threshold   int
	logger      *slog.Logger

	mu       sync.Mutex
	last     *PollResult
	failures int
	// raise-once flags, scoped to this coordinator's lifetime
	closedRaised  bool
	droppedRaised bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator for one tracking record.
func New(opts Options) *Coordinator {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		recordID:    opts.RecordID,
		forge:       opts.Forge,
		store:       opts.Store,
		alerts:      opts.Alerts,
		notifier:    opts.Notifier,
		installer:   opts.Installer,
		primaryRepo: opts.PrimaryRepo,
		interval:    interval,
		threshold:   threshold,
		logger:      logger.With("record", opts.RecordID),
	}
}

// Start launches the periodic loop: an immediate first poll, then one
// per interval until the context is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.tick(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight poll to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) tick(ctx context.Context) {
	if _, err := c.Poll(ctx); err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			c.logger.Debug("record removed, skipping poll")
			return
		}
		c.logger.Warn("poll failed", "error", err)
	}
}

// Poll performs one reconciliation pass. The record's locator is
// re-parsed every time so upstream renames are picked up, never cached.
func (c *Coordinator) Poll(ctx context.Context) (*PollResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.store.GetByID(c.recordID)
	if err != nil {
		return nil, err
	}

	parsed, err := locator.Parse(record.LocatorURL, c.primaryRepo)
	if err != nil {
		return nil, fmt.Errorf("stored locator: %w", err)
	}
	parsed.Kind = record.Kind
	parsed.Value = record.RefValue

	resolved, err := c.forge.Resolve(ctx, parsed)
	if err != nil {
		return nil, c.handleFailure(record, err)
	}

	c.failures = 0
	if err := c.alerts.Clear(alerts.KindFetchFailed, record.ArtifactID); err != nil {
		c.logger.Warn("clearing fetch alert", "error", err)
	}
	if err := c.alerts.Clear(alerts.KindCredentialInvalid, ""); err != nil {
		c.logger.Warn("clearing credential alert", "error", err)
	}

	result := &PollResult{
		ArtifactID: record.ArtifactID,
		Owner:      resolved.Owner,
		Repo:       resolved.Repo,
		Kind:       record.Kind,
		Revision:   resolved.Revision,
		PR:         resolved.PR,
		Branch:     resolved.Branch,
		Commit:     resolved.Commit,
		PolledAt:   time.Now().UTC(),
	}
	result.UpdateAvailable = updateAvailable(record.Kind, resolved.Revision, record.InstalledRevision)

	// Follow-up commit fetch surfaces the commit URL for movable refs.
	switch record.Kind {
	case locator.KindChangeRequest, locator.KindBranch:
		if commit, err := c.forge.Commit(ctx, resolved.Owner, resolved.Repo, resolved.Revision); err == nil {
			result.CommitURL = commit.URL
		} else {
			c.logger.Debug("commit metadata fetch failed", "error", err)
		}
	case locator.KindRevision:
		if resolved.Commit != nil {
			result.CommitURL = resolved.Commit.URL
		}
	}

	if record.Kind == locator.KindChangeRequest {
		c.checkChangeRequest(ctx, record, resolved)
	}

	c.last = result
	c.logger.Debug("poll complete", "revision", result.Revision, "update", result.UpdateAvailable)
	return result, nil
}

// checkChangeRequest runs the CR-specific post-checks: closed/merged
// references and, for primary-family artifacts, disappearance from the
// change request's diff.
func (c *Coordinator) checkChangeRequest(ctx context.Context, record *tracker.TrackedArtifact, resolved *forge.Resolved) {
	pr := resolved.PR

	if pr.State == forge.PRStateClosed || pr.State == forge.PRStateMerged {
		if !c.closedRaised {
			c.closedRaised = true
			msg := fmt.Sprintf("PR #%d tracked for %s was %s", pr.Number, record.ArtifactID, pr.State)
			if err := c.alerts.Raise(alerts.KindReferenceClosed, record.ArtifactID, msg, pr.URL); err != nil {
				c.logger.Warn("raising reference_closed", "error", err)
			}
		}
		c.notifyWhileUnacknowledged(alerts.KindReferenceClosed, record,
			fmt.Sprintf("PR #%d tracked for %s was %s", pr.Number, record.ArtifactID, pr.State))
	}

	if record.Primary {
		artifactIDs, err := c.forge.ChangedArtifacts(ctx, resolved.Owner, resolved.Repo, pr.Number)
		if err != nil {
			c.logger.Debug("changed-artifact refetch failed", "error", err)
			return
		}
		present := false
		for _, id := range artifactIDs {
			if id == record.ArtifactID {
				present = true
				break
			}
		}
		if !present {
			if !c.droppedRaised {
				c.droppedRaised = true
				msg := fmt.Sprintf("%s is no longer part of PR #%d", record.ArtifactID, pr.Number)
				if err := c.alerts.Raise(alerts.KindArtifactRemoved, record.ArtifactID, msg, pr.URL); err != nil {
					c.logger.Warn("raising artifact_removed", "error", err)
				}
			}
			c.notifyWhileUnacknowledged(alerts.KindArtifactRemoved, record,
				fmt.Sprintf("%s is no longer part of PR #%d", record.ArtifactID, pr.Number))
		}
	}
}

// notifyWhileUnacknowledged repeats the notification every poll until
// the user dismisses the alert.
func (c *Coordinator) notifyWhileUnacknowledged(kind alerts.Kind, record *tracker.TrackedArtifact, message string) {
	acknowledged, err := c.alerts.Acknowledged(kind, record.ArtifactID)
	if err != nil {
		c.logger.Warn("acknowledgement lookup failed", "error", err)
		return
	}
	if !acknowledged {
		c.notifier.Notify(record.Title, message, fmt.Sprintf("plugtrack_%s_%s", kind, record.ArtifactID))
	}
}

// handleFailure maps a resolution error onto the alert lifecycle and
// returns the error for the caller's log line.
func (c *Coordinator) handleFailure(record *tracker.TrackedArtifact, err error) error {
	var authErr *forge.AuthError
	if errors.As(err, &authErr) {
		if raiseErr := c.alerts.Raise(alerts.KindCredentialInvalid, "",
			"Forge credential rejected", authErr.Message); raiseErr != nil {
			c.logger.Warn("raising credential_invalid", "error", raiseErr)
		}
		return err
	}

	c.failures++
	if c.failures == c.threshold {
		msg := fmt.Sprintf("Polling %s failed %d times in a row", record.ArtifactID, c.failures)
		if raiseErr := c.alerts.Raise(alerts.KindFetchFailed, record.ArtifactID, msg, err.Error()); raiseErr != nil {
			c.logger.Warn("raising fetch_failed", "error", raiseErr)
		}
	}
	return err
}

// Last returns the most recent successful PollResult, or nil before the
// first success.
func (c *Coordinator) Last() *PollResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// UpdateAvailable reports whether the last poll saw a revision that is
// not installed yet.
func (c *Coordinator) UpdateAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil && c.last.UpdateAvailable
}

// InstallUpdate installs the revision seen by the last poll, persists
// it, raises restart_required, and re-polls immediately.
func (c *Coordinator) InstallUpdate(ctx context.Context) error {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		if _, err := c.Poll(ctx); err != nil {
			return fmt.Errorf("poll before install: %w", err)
		}
		c.mu.Lock()
		last = c.last
		c.mu.Unlock()
	}

	record, err := c.store.GetByID(c.recordID)
	if err != nil {
		return err
	}

	archive, err := c.forge.DownloadArchive(ctx, last.Owner, last.Repo, last.Revision)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	if _, err := c.installer.Install(archive, record.ArtifactID, record.Primary); err != nil {
		return fmt.Errorf("install %s: %w", record.ArtifactID, err)
	}
	if err := c.store.SetInstalledRevision(record.ID, last.Revision); err != nil {
		return fmt.Errorf("persist revision: %w", err)
	}
	if err := c.alerts.Raise(alerts.KindRestartRequired, record.ArtifactID,
		fmt.Sprintf("Restart required to load %s at %s", record.ArtifactID, shortRevision(last.Revision)), ""); err != nil {
		c.logger.Warn("raising restart_required", "error", err)
	}

	c.logger.Info("update installed", "artifact", record.ArtifactID, "revision", last.Revision)

	_, err = c.Poll(ctx)
	return err
}

// updateAvailable implements the staleness rule: a pinned revision
// never shows an update; otherwise any difference, including a missing
// installed revision, counts.
func updateAvailable(kind locator.RefKind, current, installed string) bool {
	if kind == locator.KindRevision {
		return false
	}
	return current != installed
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

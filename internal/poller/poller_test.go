package poller

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"plugtrack/internal/alerts"
	"plugtrack/internal/forge"
	"plugtrack/internal/installer"
	"plugtrack/internal/locator"
	"plugtrack/internal/notify"
	"plugtrack/internal/slogutil"
	"plugtrack/internal/storage"
	"plugtrack/internal/tracker"
)

type fakeForge struct {
	revision     string
	prState      forge.PRState
	primary      bool
	resolveErr   error
	artifacts    []string
	artifactsErr error
	commitURL    string
	archive      []byte
	archiveErr   error
}

func (f *fakeForge) Resolve(_ context.Context, parsed locator.Parsed) (*forge.Resolved, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	parsed.IsPrimary = f.primary
	resolved := &forge.Resolved{Parsed: parsed, Revision: f.revision}
	switch parsed.Kind {
	case locator.KindChangeRequest:
		n, _ := strconv.Atoi(parsed.Value)
		resolved.PR = &forge.PullRequestInfo{
			Number:  n,
			State:   f.prState,
			HeadSHA: f.revision,
			URL:     "https://github.com/x/pull/" + parsed.Value,
		}
	case locator.KindBranch:
		resolved.Branch = &forge.BranchInfo{Name: parsed.Value, HeadSHA: f.revision}
	default:
		resolved.Commit = &forge.CommitInfo{SHA: f.revision, URL: f.commitURL}
	}
	return resolved, nil
}

func (f *fakeForge) Commit(_ context.Context, _, _, ref string) (*forge.CommitInfo, error) {
	return &forge.CommitInfo{SHA: ref, URL: f.commitURL}, nil
}

func (f *fakeForge) ChangedArtifacts(context.Context, string, string, int) ([]string, error) {
	return f.artifacts, f.artifactsErr
}

func (f *fakeForge) DownloadArchive(context.Context, string, string, string) ([]byte, error) {
	return f.archive, f.archiveErr
}

type fixture struct {
	coord  *Coordinator
	store  *tracker.Store
	alerts *alerts.Registry
	rec    *notify.Recorder
	inst   *installer.Installer
	record *tracker.TrackedArtifact
}

func newFixture(t *testing.T, remote *fakeForge, record *tracker.TrackedArtifact) *fixture {
	t.Helper()
	logger := slogutil.NewDiscardLogger()
	root := t.TempDir()

	db, err := storage.Open(root, logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := tracker.NewStore(db, logger)
	if err := store.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	registry := alerts.NewRegistry(db, logger)
	if err := registry.InitSchema(); err != nil {
		t.Fatalf("init alert schema: %v", err)
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	rec := &notify.Recorder{}
	inst := installer.New(root, "homeassistant/components", logger)

	coord := New(Options{
		RecordID:    record.ID,
		Forge:       remote,
		Store:       store,
		Alerts:      registry,
		Notifier:    rec,
		Installer:   inst,
		PrimaryRepo: "home-assistant/core",
		Logger:      logger,
	})
	return &fixture{coord: coord, store: store, alerts: registry, rec: rec, inst: inst, record: record}
}

func prRecord() *tracker.TrackedArtifact {
	return &tracker.TrackedArtifact{
		ID:         uuid.New().String(),
		LocatorURL: "https://github.com/home-assistant/core",
		Kind:       locator.KindChangeRequest,
		RefValue:   "123",
		ArtifactID: "met",
		Primary:    true,
		Title:      "Meteorologisk (PR #123)",
	}
}

func makeArchive(t *testing.T, paths map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range paths {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPollSuccess(t *testing.T) {
	remote := &fakeForge{
		revision:  "abc123",
		prState:   forge.PRStateOpen,
		primary:   true,
		artifacts: []string{"met"},
		commitURL: "https://github.com/home-assistant/core/commit/abc123",
	}
	fx := newFixture(t, remote, prRecord())

	result, err := fx.coord.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Revision != "abc123" {
		t.Errorf("unexpected revision %q", result.Revision)
	}
	if result.PR == nil || result.Branch != nil || result.Commit != nil {
		t.Error("expected only PR metadata populated")
	}
	if !result.UpdateAvailable {
		t.Error("never-installed tracking must show an update")
	}
	if result.CommitURL != remote.commitURL {
		t.Errorf("expected follow-up commit url, got %q", result.CommitURL)
	}
	if fx.coord.Last() != result {
		t.Error("Last must return the most recent result")
	}
}

func TestPollPinnedRevisionNeverUpdates(t *testing.T) {
	record := prRecord()
	record.Kind = locator.KindRevision
	record.RefValue = "abc123"
	remote := &fakeForge{revision: "abc123"}
	fx := newFixture(t, remote, record)

	result, err := fx.coord.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.UpdateAvailable {
		t.Error("pinned revision must never show an update")
	}
}

func TestPollUpToDateAfterInstall(t *testing.T) {
	record := prRecord()
	remote := &fakeForge{revision: "abc123", prState: forge.PRStateOpen, primary: true, artifacts: []string{"met"}}
	fx := newFixture(t, remote, record)

	if err := fx.store.SetInstalledRevision(record.ID, "abc123"); err != nil {
		t.Fatal(err)
	}
	result, err := fx.coord.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.UpdateAvailable {
		t.Error("matching revisions must not show an update")
	}
}

func TestFailureHysteresis(t *testing.T) {
	remote := &fakeForge{resolveErr: &forge.APIError{StatusCode: 500, Message: "boom"}}
	fx := newFixture(t, remote, prRecord())

	for i := 0; i < 2; i++ {
		if _, err := fx.coord.Poll(context.Background()); err == nil {
			t.Fatal("expected poll failure")
		}
	}
	active, err := fx.alerts.Active(alerts.KindFetchFailed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("two failures must not raise fetch_failed")
	}

	if _, err := fx.coord.Poll(context.Background()); err == nil {
		t.Fatal("expected poll failure")
	}
	active, err = fx.alerts.Active(alerts.KindFetchFailed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("third failure must raise fetch_failed")
	}

	// success clears the alert and resets the counter
	remote.resolveErr = nil
	remote.revision = "abc"
	remote.prState = forge.PRStateOpen
	remote.artifacts = []string{"met"}
	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	active, err = fx.alerts.Active(alerts.KindFetchFailed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("success must clear fetch_failed")
	}

	// counter was reset: two more failures stay silent
	remote.resolveErr = &forge.APIError{StatusCode: 500, Message: "boom"}
	for i := 0; i < 2; i++ {
		_, _ = fx.coord.Poll(context.Background())
	}
	active, err = fx.alerts.Active(alerts.KindFetchFailed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("counter must reset on success")
	}
}

func TestAuthFailureRaisesCredentialAlert(t *testing.T) {
	remote := &fakeForge{resolveErr: &forge.AuthError{Message: "bad token"}}
	fx := newFixture(t, remote, prRecord())

	if _, err := fx.coord.Poll(context.Background()); err == nil {
		t.Fatal("expected poll failure")
	}
	active, err := fx.alerts.Active(alerts.KindCredentialInvalid, "")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("auth failure must raise credential_invalid")
	}

	remote.resolveErr = nil
	remote.revision = "abc"
	remote.prState = forge.PRStateOpen
	remote.artifacts = []string{"met"}
	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	active, err = fx.alerts.Active(alerts.KindCredentialInvalid, "")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("success must clear credential_invalid")
	}
}

func TestClosedChangeRequest(t *testing.T) {
	remote := &fakeForge{revision: "abc", prState: forge.PRStateMerged, primary: true, artifacts: []string{"met"}}
	fx := newFixture(t, remote, prRecord())

	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	active, err := fx.alerts.Active(alerts.KindReferenceClosed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("merged PR must raise reference_closed")
	}
	if len(fx.rec.Entries) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(fx.rec.Entries))
	}

	// still unacknowledged: notified again on the next poll
	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(fx.rec.Entries) != 2 {
		t.Fatalf("expected repeat notification, got %d", len(fx.rec.Entries))
	}

	// dismissing the alert stops the notifications and the raise-once
	// flag keeps it from coming back
	if err := fx.alerts.Clear(alerts.KindReferenceClosed, "met"); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(fx.rec.Entries) != 2 {
		t.Fatalf("acknowledged alert must stop notifications, got %d", len(fx.rec.Entries))
	}
	active, err = fx.alerts.Active(alerts.KindReferenceClosed, "met")
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("dismissed alert must not be re-raised by the same coordinator")
	}
}

func TestArtifactDroppedFromDiff(t *testing.T) {
	remote := &fakeForge{revision: "abc", prState: forge.PRStateOpen, primary: true, artifacts: []string{"mqtt"}}
	fx := newFixture(t, remote, prRecord())

	if _, err := fx.coord.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	active, err := fx.alerts.Active(alerts.KindArtifactRemoved, "met")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("dropped artifact must raise artifact_removed")
	}
	if len(fx.rec.Entries) != 1 {
		t.Fatalf("expected a notification, got %d", len(fx.rec.Entries))
	}
}

func TestInstallUpdate(t *testing.T) {
	record := prRecord()
	archive := makeArchive(t, map[string]string{
		"core-abc123/homeassistant/components/met/sensor.py": "SENSOR = 1\n",
	})
	remote := &fakeForge{
		revision:  "abc123",
		prState:   forge.PRStateOpen,
		primary:   true,
		artifacts: []string{"met"},
		archive:   archive,
	}
	fx := newFixture(t, remote, record)

	if err := fx.coord.InstallUpdate(context.Background()); err != nil {
		t.Fatalf("install update: %v", err)
	}

	stored, err := fx.store.GetByID(record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.InstalledRevision != "abc123" {
		t.Errorf("expected installed revision abc123, got %q", stored.InstalledRevision)
	}
	if _, err := os.Stat(filepath.Join(fx.inst.TargetDir("met"), "sensor.py")); err != nil {
		t.Errorf("installed file missing: %v", err)
	}
	active, err := fx.alerts.Active(alerts.KindRestartRequired, "met")
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("install must raise restart_required")
	}
	// immediate re-poll sees the installed revision
	if fx.coord.UpdateAvailable() {
		t.Error("freshly installed tracking must not show an update")
	}
}

func TestPollRemovedRecord(t *testing.T) {
	remote := &fakeForge{revision: "abc", prState: forge.PRStateOpen, primary: true, artifacts: []string{"met"}}
	record := prRecord()
	fx := newFixture(t, remote, record)

	if err := fx.store.Delete(record.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.coord.Poll(context.Background()); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// a completed poll must not resurrect the record
	if records, err := fx.store.List(); err != nil || len(records) != 0 {
		t.Fatalf("expected empty store, got %d records, err %v", len(records), err)
	}
}

package alerts

import (
	"errors"
	"testing"

	"plugtrack/internal/slogutil"
	"plugtrack/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg := NewRegistry(db, logger)
	if err := reg.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return reg
}

func TestRaiseAndClear(t *testing.T) {
	reg := newTestRegistry(t)

	active, err := reg.Active(KindRestartRequired, "met")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active {
		t.Fatal("expected no alert before raise")
	}

	if err := reg.Raise(KindRestartRequired, "met", "Restart required", "restart to load met"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	got, err := reg.Get(KindRestartRequired, "met")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Message != "Restart required" || got.Severity != SeverityWarning {
		t.Errorf("unexpected alert: %+v", got)
	}
	if got.RaisedAt.IsZero() {
		t.Error("expected raise time to be set")
	}

	if err := reg.Clear(KindRestartRequired, "met"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := reg.Get(KindRestartRequired, "met"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestRaiseIdempotent(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Raise(KindFetchFailed, "met", "first", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindFetchFailed, "met", "second", ""); err != nil {
		t.Fatalf("second raise: %v", err)
	}

	alerts, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Message != "first" {
		t.Errorf("re-raise must not overwrite the row, got %q", alerts[0].Message)
	}
}

func TestClearAbsentIsNoop(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Clear(KindReferenceClosed, "met"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestDistinctKindsPerArtifact(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Raise(KindReferenceClosed, "met", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindArtifactRemoved, "met", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindReferenceClosed, "mqtt", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}

	alerts, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
}

func TestGlobalCredentialAlert(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Raise(KindCredentialInvalid, "", "token rejected", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	got, err := reg.Get(KindCredentialInvalid, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", got.Severity)
	}
}

func TestAcknowledged(t *testing.T) {
	reg := newTestRegistry(t)

	ack, err := reg.Acknowledged(KindReferenceClosed, "met")
	if err != nil {
		t.Fatalf("acknowledged: %v", err)
	}
	if !ack {
		t.Error("absent alert counts as acknowledged")
	}

	if err := reg.Raise(KindReferenceClosed, "met", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	ack, err = reg.Acknowledged(KindReferenceClosed, "met")
	if err != nil {
		t.Fatalf("acknowledged: %v", err)
	}
	if ack {
		t.Error("active alert is not acknowledged")
	}
}

func TestClearArtifact(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Raise(KindReferenceClosed, "met", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindFetchFailed, "met", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindFetchFailed, "mqtt", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := reg.Raise(KindCredentialInvalid, "", "", ""); err != nil {
		t.Fatalf("raise: %v", err)
	}

	if err := reg.ClearArtifact("met"); err != nil {
		t.Fatalf("clear artifact: %v", err)
	}

	alerts, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected credential and mqtt alerts to remain, got %+v", alerts)
	}
}

package installer

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// makeArchive builds a gzip-compressed tarball with the given
// path -> content entries, in order.
func makeArchive(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range order {
		content := entries[name]
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if content == "" && name[len(name)-1] == '/' {
			header.Typeflag = tar.TypeDir
			header.Size = 0
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(content)); err != nil {
				t.Fatalf("write body %s: %v", name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func newTestInstaller(t *testing.T) *Installer {
	t.Helper()
	return New(t.TempDir(), "homeassistant/components", nil)
}

func TestInstall_PrimaryFamily(t *testing.T) {
	inst := newTestInstaller(t)
	archive := makeArchive(t, map[string]string{
		"core-abc123/":                                       "",
		"core-abc123/homeassistant/components/foo/module.py": "print('hi')",
		"core-abc123/homeassistant/components/foo/sub/x.py":  "x = 1",
		"core-abc123/homeassistant/components/bar/other.py":  "nope",
		"core-abc123/README.md":                              "readme",
	}, []string{
		"core-abc123/",
		"core-abc123/homeassistant/components/foo/module.py",
		"core-abc123/homeassistant/components/foo/sub/x.py",
		"core-abc123/homeassistant/components/bar/other.py",
		"core-abc123/README.md",
	})

	path, err := inst.Install(archive, "foo", true)
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if path != inst.TargetDir("foo") {
		t.Errorf("Install path = %q, want %q", path, inst.TargetDir("foo"))
	}

	for file, want := range map[string]string{
		"module.py": "print('hi')",
		filepath.Join("sub", "x.py"): "x = 1",
	} {
		data, err := os.ReadFile(filepath.Join(path, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", file, data, want)
		}
	}

	if _, err := os.Stat(filepath.Join(path, MarkerFile)); err != nil {
		t.Errorf("ownership marker missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "other.py")); !os.IsNotExist(err) {
		t.Error("files of a different artifact leaked into the target")
	}
}

func TestInstall_ExternalFamily(t *testing.T) {
	inst := newTestInstaller(t)
	archive := makeArchive(t, map[string]string{
		"repo-main/plugins-root/myplugin/manifest.json": `{"id": "myplugin"}`,
	}, []string{
		"repo-main/plugins-root/myplugin/manifest.json",
	})

	path, err := inst.Install(archive, "myplugin", false)
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(data) != `{"id": "myplugin"}` {
		t.Errorf("manifest = %q", data)
	}
}

func TestInstall_EmptyArchive(t *testing.T) {
	inst := newTestInstaller(t)
	archive := makeArchive(t, nil, nil)

	_, err := inst.Install(archive, "foo", true)
	if !errors.Is(err, ErrEmptyArchive) {
		t.Errorf("error = %v, want ErrEmptyArchive", err)
	}
}

func TestInstall_ReplacesExistingTarget(t *testing.T) {
	inst := newTestInstaller(t)

	// Pre-existing content that must not survive.
	target := inst.TargetDir("foo")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "stale.py"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	archive := makeArchive(t, map[string]string{
		"core-x/homeassistant/components/foo/fresh.py": "new",
	}, []string{
		"core-x/homeassistant/components/foo/fresh.py",
	})

	if _, err := inst.Install(archive, "foo", true); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(target, "stale.py")); !os.IsNotExist(err) {
		t.Error("stale file survived reinstall")
	}
	if _, err := os.Stat(filepath.Join(target, "fresh.py")); err != nil {
		t.Errorf("fresh file missing: %v", err)
	}
}

func TestInstall_RejectsEscapingPaths(t *testing.T) {
	inst := newTestInstaller(t)
	archive := makeArchive(t, map[string]string{
		"core-x/homeassistant/components/foo/../../../../evil.py": "evil",
	}, []string{
		"core-x/homeassistant/components/foo/../../../../evil.py",
	})

	if _, err := inst.Install(archive, "foo", true); err == nil {
		t.Fatal("expected an error for a path escaping the target")
	}
	if _, err := os.Stat(filepath.Join(inst.Root, "evil.py")); !os.IsNotExist(err) {
		t.Error("escaping file was written")
	}
}

func TestMarkerAndExists(t *testing.T) {
	inst := newTestInstaller(t)

	if inst.Exists("foo") {
		t.Error("Exists = true before install")
	}

	archive := makeArchive(t, map[string]string{
		"r-x/plugins-root/foo/a.py": "a",
	}, []string{"r-x/plugins-root/foo/a.py"})

	if _, err := inst.Install(archive, "foo", false); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	if !inst.Exists("foo") {
		t.Error("Exists = false after install")
	}
	if !inst.HasMarker("foo") {
		t.Error("HasMarker = false after install")
	}

	if err := inst.Remove("foo"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if inst.Exists("foo") {
		t.Error("Exists = true after Remove")
	}
}

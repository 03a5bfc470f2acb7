// Package installer extracts a plugin subtree from a forge archive into
// the local plugins directory, marking installed directories as owned.
package installer

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// PluginsDir is the directory under the root into which artifacts
	// are installed.
	PluginsDir = "plugins-root"

	// MarkerFile is the zero-byte sentinel proving we installed a
	// given artifact directory.
	MarkerFile = ".ownership-marker"
)

// ErrEmptyArchive means the downloaded archive contained no entries.
var ErrEmptyArchive = errors.New("archive is empty")

// Installer writes artifact subtrees under Root/plugins-root.
type Installer struct {
	// Root is the base directory of the plugin installation convention.
	Root string
	// ComponentsRoot is the in-archive path prefix used by
	// primary-family repositories.
	ComponentsRoot string
	Logger         *slog.Logger
}

// New creates an Installer rooted at root.
func New(root, componentsRoot string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{Root: root, ComponentsRoot: componentsRoot, Logger: logger}
}

// TargetDir returns the installation directory for an artifact.
func (i *Installer) TargetDir(artifactID string) string {
	return filepath.Join(i.Root, PluginsDir, artifactID)
}

// Exists reports whether the artifact directory exists.
func (i *Installer) Exists(artifactID string) bool {
	info, err := os.Stat(i.TargetDir(artifactID))
	return err == nil && info.IsDir()
}

// HasMarker reports whether the artifact directory carries our
// ownership marker.
func (i *Installer) HasMarker(artifactID string) bool {
	_, err := os.Stat(filepath.Join(i.TargetDir(artifactID), MarkerFile))
	return err == nil
}

// Remove deletes the artifact directory.
func (i *Installer) Remove(artifactID string) error {
	return os.RemoveAll(i.TargetDir(artifactID))
}

// Install extracts the artifact subtree from a gzip-compressed tarball
// into Root/plugins-root/<artifactID> and writes the ownership marker.
// Extraction happens in a temporary sibling directory which is renamed
// over the target only on full success, so a crash mid-extraction never
// leaves a partially written target. This is blocking CPU+I/O work;
// callers keep it off latency-sensitive paths.
func (i *Installer) Install(archive []byte, artifactID string, primary bool) (string, error) {
	pluginsDir := filepath.Join(i.Root, PluginsDir)
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return "", fmt.Errorf("create plugins dir: %w", err)
	}
	target := i.TargetDir(artifactID)

	staging, err := os.MkdirTemp(pluginsDir, "."+artifactID+".staging-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := i.extract(archive, staging, artifactID, primary); err != nil {
		return "", err
	}

	// Marker goes in last; everything under target is ours.
	marker, err := os.Create(filepath.Join(staging, MarkerFile))
	if err != nil {
		return "", fmt.Errorf("write ownership marker: %w", err)
	}
	if err := marker.Close(); err != nil {
		return "", fmt.Errorf("write ownership marker: %w", err)
	}

	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("remove previous install: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("activate install: %w", err)
	}

	i.Logger.Debug("artifact installed", "artifact", artifactID, "path", target)
	return target, nil
}

// extract writes every file under the artifact's source prefix into dst.
func (i *Installer) extract(archive []byte, dst, artifactID string, primary bool) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	// The first entry names the synthetic root directory the forge
	// wraps every archive in.
	first, err := tr.Next()
	if err == io.EOF {
		return ErrEmptyArchive
	}
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	syntheticRoot, _, _ := strings.Cut(first.Name, "/")

	sourcePrefix := syntheticRoot + "/" + PluginsDir + "/" + artifactID + "/"
	if primary {
		sourcePrefix = syntheticRoot + "/" + i.ComponentsRoot + "/" + artifactID + "/"
	}

	for header := first; ; {
		if header.Typeflag == tar.TypeReg && strings.HasPrefix(header.Name, sourcePrefix) {
			relative := header.Name[len(sourcePrefix):]
			if relative != "" {
				if err := writeEntry(dst, relative, tr); err != nil {
					return err
				}
			}
		}

		header, err = tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
	}

	return nil
}

func writeEntry(dst, relative string, r io.Reader) error {
	// Reject entries that would escape the staging directory.
	clean := filepath.Clean(relative)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("archive entry escapes target: %q", relative)
	}

	path := filepath.Join(dst, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(clean), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", clean, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", clean, err)
	}
	return f.Close()
}

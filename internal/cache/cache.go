// Package cache maps fingerprints and variants to paths in the content-addressable artifact cache.
//
// The layout under the root directory is:
//
//	<fingerprint>_master.<ext>   the master artifact
//	<fingerprint>_<height>p.mp4  scaled video variants
//	<fingerprint>.mp3            the audio-only variant
//	tmp/                         workspaces for in-flight acquisitions
//
// Artifacts are immutable once present. Every file only ever appears at its canonical path via rename.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanbriolat/video-fetcher"
)

const (
	masterSuffix = "_master"
	tempDirName  = "tmp"
)

// Master is a master artifact present on disk.
type Master struct {
	Fingerprint video_fetcher.Fingerprint
	Path        string
}

type Layout struct {
	Root string
}

func New(root string) Layout {
	return Layout{Root: root}
}

// Ensure creates the cache directories.
func (l Layout) Ensure() error {
	return os.MkdirAll(l.TempDir(), 0755)
}

func (l Layout) TempDir() string {
	return filepath.Join(l.Root, tempDirName)
}

// MasterPath is the canonical master path for a fingerprint, given the container extension (with or without dot).
func (l Layout) MasterPath(fp video_fetcher.Fingerprint, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return filepath.Join(l.Root, fmt.Sprintf("%s%s.%s", fp, masterSuffix, ext))
}

// LookupMaster finds the master artifact for a fingerprint, whatever its extension.
func (l Layout) LookupMaster(fp video_fetcher.Fingerprint) (Master, bool) {
	matches, err := filepath.Glob(filepath.Join(l.Root, string(fp)+masterSuffix+".*"))
	if err != nil || len(matches) == 0 {
		return Master{}, false
	}
	sort.Strings(matches)
	for _, path := range matches {
		if isFile(path) {
			return Master{Fingerprint: fp, Path: path}, true
		}
	}
	return Master{}, false
}

// VariantPath is the canonical path of a derived artifact.
func (l Layout) VariantPath(fp video_fetcher.Fingerprint, v video_fetcher.Variant) string {
	if v.IsAudio() {
		return filepath.Join(l.Root, fmt.Sprintf("%s.mp3", fp))
	}
	return filepath.Join(l.Root, fmt.Sprintf("%s_%s.mp4", fp, v.Suffix()))
}

// Exists reports whether a regular file is present at path.
func (l Layout) Exists(path string) bool {
	return isFile(path)
}

// WriteAtomic produces the file at target by calling write with a temporary path in the same directory. The temporary
// file is renamed to target if write succeeds, and removed otherwise.
func WriteAtomic(target string, write func(tempPath string) error) (err error) {
	dir, base := filepath.Split(target)
	ext := filepath.Ext(base)
	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ext)+".*.partial"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := f.Name()
	_ = f.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tempPath)
		}
	}()
	if err = write(tempPath); err != nil {
		return err
	}
	if !isFile(tempPath) {
		return errors.New("no output was written")
	}
	if err = os.Rename(tempPath, target); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

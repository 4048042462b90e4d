package video_fetcher

import (
	"context"
	"sort"
	"time"
)

// SourceInfo is what a probe learns about a source before downloading it.
type SourceInfo struct {
	ID        string
	Title     string
	Duration  time.Duration
	Thumbnail string
	// Heights lists the distinct available video heights, ascending. Empty for audio-only sources.
	Heights []int
}

// HasVideo is false when the probe found no video formats, in which case only audio can be offered.
func (i SourceInfo) HasVideo() bool {
	return len(i.Heights) > 0
}

// Capped drops heights above maxHeight. A master is never taller than the download ceiling, so taller variants
// could only be upscaled from it.
func (i SourceInfo) Capped(maxHeight int) SourceInfo {
	heights := make([]int, 0, len(i.Heights))
	for _, h := range i.Heights {
		if h <= maxHeight {
			heights = append(heights, h)
		}
	}
	i.Heights = heights
	return i
}

// HasHeight reports whether height is one of the probed heights.
func (i SourceInfo) HasHeight(height int) bool {
	for _, h := range i.Heights {
		if h == height {
			return true
		}
	}
	return false
}

// NormalizeHeights sorts heights ascending and removes duplicates and non-positive values.
func NormalizeHeights(heights []int) []int {
	seen := make(map[int]bool, len(heights))
	result := make([]int, 0, len(heights))
	for _, h := range heights {
		if h <= 0 || seen[h] {
			continue
		}
		seen[h] = true
		result = append(result, h)
	}
	sort.Ints(result)
	return result
}

type Source interface {
	// URL should return the canonical URL for this source. It is assumed that the Provider.Match that created the
	// Source would successfully match this canonical URL. Fingerprints are derived from it.
	URL() string
	String() string
	// Recon fetches information about the source, giving a ResolvedSource that can be downloaded.
	Recon(ctx context.Context) (ResolvedSource, error)
}

type ResolvedSource interface {
	Source
	Info() SourceInfo
	// Download fetches the media into the Download's target directory, returning the path of the resulting file.
	Download(d Download) (string, error)
}

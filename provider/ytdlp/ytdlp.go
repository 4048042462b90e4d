// Package ytdlp resolves and downloads sources through the yt-dlp binary, which must be on PATH.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
)

const masterTemplate = "master.%(ext)s"

var (
	ErrNoInfo   = errors.New("yt-dlp returned no info")
	ErrNoOutput = errors.New("yt-dlp produced no output file")
)

type Config struct {
	Name      string
	Protocols generic.Set[string]
	// Hosts the provider accepts. Empty accepts any host.
	Hosts generic.Set[string]
	// KeepQuery keeps the query string in the canonical URL. Host-specific providers drop it, since it only carries
	// share tracking.
	KeepQuery bool
	Priority  int16
	// ProgressInterval is how often yt-dlp progress is sampled.
	ProgressInterval time.Duration
}

func NewConfig(name string, hosts ...string) Config {
	return Config{
		Name:             name,
		Protocols:        generic.NewSet("http", "https"),
		Hosts:            generic.NewSet(hosts...),
		ProgressInterval: 500 * time.Millisecond,
	}
}

func InstagramConfig() Config {
	return NewConfig("instagram", "instagram.com", "www.instagram.com", "m.instagram.com")
}

func TikTokConfig() Config {
	return NewConfig("tiktok", "tiktok.com", "www.tiktok.com", "m.tiktok.com", "vm.tiktok.com", "vt.tiktok.com")
}

// GenericConfig accepts any http(s) URL and leaves it to yt-dlp to decide whether it can handle it.
func GenericConfig() Config {
	c := NewConfig("ytdlp")
	c.KeepQuery = true
	c.Priority = video_fetcher.PriorityLowest
	return c
}

func (c Config) Match(s string) (video_fetcher.Source, error) {
	parsedURL, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if !c.Protocols.Contains(parsedURL.Scheme) {
		return nil, fmt.Errorf("unknown URL scheme %v", parsedURL.Scheme)
	}
	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return nil, fmt.Errorf("missing hostname")
	}
	if c.Hosts.Count() > 0 && !c.Hosts.Contains(host) {
		return nil, fmt.Errorf("unrecognised hostname")
	}
	canonical := url.URL{
		Scheme: "https",
		Host:   host,
		Path:   strings.TrimSuffix(parsedURL.EscapedPath(), "/"),
	}
	if c.KeepQuery {
		canonical.RawQuery = parsedURL.RawQuery
	}
	if canonical.Path == "" && canonical.RawQuery == "" {
		return nil, fmt.Errorf("nothing to fetch at %v", host)
	}
	return &source{config: c, url: canonical.String()}, nil
}

func (c Config) Provider() video_fetcher.Provider {
	return video_fetcher.Provider{Name: c.Name, Match: c.Match, Priority: c.Priority}
}

type source struct {
	config Config
	url    string
}

func (s *source) URL() string {
	return s.url
}

func (s *source) String() string {
	return s.url
}

func (s *source) Recon(ctx context.Context) (video_fetcher.ResolvedSource, error) {
	result, err := ytdlp.New().
		NoPlaylist().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp probe failed: %w", err)
	}
	infos, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, ErrNoInfo
	}
	return &resolvedSource{source: *s, info: infoFromExtracted(infos[0])}, nil
}

type resolvedSource struct {
	source
	info video_fetcher.SourceInfo
}

func (s *resolvedSource) Info() video_fetcher.SourceInfo {
	return s.info
}

func (s *resolvedSource) Download(d video_fetcher.Download) (string, error) {
	cmd := ytdlp.New().
		NoPlaylist().
		Format(formatSelector(d.MaxHeight())).
		MergeOutputFormat("mp4").
		Output(filepath.Join(d.TargetDir(), masterTemplate))
	cmd.ProgressFunc(s.config.ProgressInterval, func(update ytdlp.ProgressUpdate) {
		if update.TotalBytes > 0 {
			d.SetProgress(int64(update.DownloadedBytes), int64(update.TotalBytes))
		}
	})
	result, err := cmd.Run(d.Context(), s.url)
	if err != nil {
		return "", fmt.Errorf("yt-dlp download failed: %w", err)
	}
	var reported string
	if infos, err := result.GetExtractedInfo(); err == nil && len(infos) > 0 && infos[0] != nil && infos[0].Filename != nil {
		reported = *infos[0].Filename
	}
	return findOutput(d.TargetDir(), reported)
}

// formatSelector asks for the best streams within the height limit, preferring separate video and audio that are
// merged, then a single combined format, then whatever is available.
func formatSelector(maxHeight int) string {
	return fmt.Sprintf("bv*[height<=%[1]d]+ba/b[height<=%[1]d]/b", maxHeight)
}

func infoFromExtracted(info *ytdlp.ExtractedInfo) video_fetcher.SourceInfo {
	result := video_fetcher.SourceInfo{ID: info.ID}
	if info.Title != nil {
		result.Title = *info.Title
	}
	if info.Duration != nil {
		result.Duration = time.Duration(*info.Duration * float64(time.Second))
	}
	if info.Thumbnail != nil {
		result.Thumbnail = *info.Thumbnail
	}
	var heights []int
	for _, f := range info.Formats {
		if isVideoFormat(f) {
			heights = append(heights, int(*f.Height))
		}
	}
	result.Heights = video_fetcher.NormalizeHeights(heights)
	return result
}

// isVideoFormat rejects formats without a height and yt-dlp's storyboard image sheets, which report a height but
// carry no video codec.
func isVideoFormat(f *ytdlp.ExtractedFormat) bool {
	if f == nil || f.Height == nil {
		return false
	}
	if f.VCodec != nil && *f.VCodec == "none" {
		return false
	}
	return f.Ext == nil || *f.Ext != "mhtml"
}

// findOutput locates the finished master file: the name yt-dlp reported if it exists, otherwise the only completed
// master.* file in dir.
func findOutput(dir string, reported string) (string, error) {
	if reported != "" {
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, "master.*"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, m := range matches {
		if isComplete(filepath.Base(m)) {
			candidates = append(candidates, m)
		}
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoOutput
	case 1:
		return candidates[0], nil
	default:
		sort.Strings(candidates)
		return "", fmt.Errorf("ambiguous yt-dlp output: %v", candidates)
	}
}

// isComplete rejects partial downloads and the per-format intermediates yt-dlp keeps around while merging.
func isComplete(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	// master.f137.mp4
	parts := strings.Split(name, ".")
	return len(parts) == 2
}

func init() {
	video_fetcher.DefaultProviderRegistry.MustAdd(InstagramConfig().Provider())
	video_fetcher.DefaultProviderRegistry.MustAdd(TikTokConfig().Provider())
	video_fetcher.DefaultProviderRegistry.MustAdd(GenericConfig().Provider())
}

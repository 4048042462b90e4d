package raw

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
)

var ErrNoFilename = errors.New("cannot extract valid filename")

type Config struct {
	Protocols  generic.Set[string]
	Extensions generic.Set[string]
}

func NewConfig() Config {
	return Config{
		Protocols: generic.NewSet(
			"http",
			"https",
		),
		Extensions: generic.NewSet(
			"flv",
			"m4v",
			"mkv",
			"mov",
			"mp4",
			"webm",
		),
	}
}

func (c Config) Match(s string) (video_fetcher.Source, error) {
	// Expect string to be a URL
	parsedURL, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	// Check that scheme/protocol is valid
	if !c.Protocols.Contains(parsedURL.Scheme) {
		return nil, fmt.Errorf("unknown URL scheme %v", parsedURL.Scheme)
	}
	filename, err := filenameFromURL(parsedURL)
	if err != nil {
		return nil, err
	}
	extension := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if extension == "" {
		return nil, fmt.Errorf("no file extension found")
	}
	if !c.Extensions.Contains(extension) {
		return nil, fmt.Errorf("unknown file extension %v", extension)
	}
	parsedURL.Fragment = ""
	return &source{url: parsedURL.String(), filename: filename, extension: extension}, nil
}

func (c Config) Provider() video_fetcher.Provider {
	return video_fetcher.Provider{
		Name:  "raw",
		Match: c.Match,
	}
}

// filenameFromURL takes the last path segment, refusing segments made only of dots.
func filenameFromURL(u *url.URL) (string, error) {
	trimmed := strings.Trim(u.Path, "/")
	filename := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if strings.Trim(filename, ".") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

type source struct {
	url       string
	filename  string
	extension string
}

func (s *source) URL() string {
	return s.url
}

func (s *source) String() string {
	return s.URL()
}

// Recon has nothing to ask the server, so the resolved source carries no video heights and only audio is offered.
func (s *source) Recon(ctx context.Context) (video_fetcher.ResolvedSource, error) {
	return s, nil
}

func (s *source) Info() video_fetcher.SourceInfo {
	return video_fetcher.SourceInfo{
		ID:    s.filename,
		Title: strings.TrimSuffix(s.filename, path.Ext(s.filename)),
	}
}

func (s *source) Download(d video_fetcher.Download) (string, error) {
	filename := "master." + s.extension
	if err := d.SaveURL(filename, s.url); err != nil {
		return "", err
	}
	return d.Path(filename), nil
}

func init() {
	video_fetcher.DefaultProviderRegistry.MustAdd(
		NewConfig().Provider().WithPriority(video_fetcher.PriorityLowest - 1),
	)
}

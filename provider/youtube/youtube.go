package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/ffmpeg"
)

const masterFilename = "master.mp4"

var ErrNoFormat = errors.New("no downloadable format")

// Muxer combines separately downloaded video and audio streams.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

type Config struct {
	Client *youtube.Client
	Muxer  Muxer
}

func NewConfig() Config {
	return Config{
		Client: &youtube.Client{},
		Muxer:  ffmpeg.New(ffmpeg.DefaultConfig),
	}
}

func (c Config) Match(s string) (video_fetcher.Source, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return nil, err
	} else if videoID, err := extractVideoID(parsedURL); err != nil {
		return nil, err
	} else {
		return &source{config: c, videoID: *videoID}, nil
	}
}

func (c Config) Provider() video_fetcher.Provider {
	return video_fetcher.Provider{Name: "youtube", Match: c.Match}
}

type source struct {
	config  Config
	videoID string
}

func (s *source) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", s.videoID)
}

func (s *source) String() string {
	return s.URL()
}

func (s *source) Recon(ctx context.Context) (video_fetcher.ResolvedSource, error) {
	video, err := s.config.Client.GetVideoContext(ctx, s.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	return &resolvedSource{source: *s, video: video}, nil
}

type resolvedSource struct {
	source
	video *youtube.Video
}

func (s *resolvedSource) Info() video_fetcher.SourceInfo {
	var heights []int
	for _, f := range s.video.Formats {
		if isVideo(&f) {
			heights = append(heights, f.Height)
		}
	}
	var thumbnail string
	if n := len(s.video.Thumbnails); n > 0 {
		// Thumbnails are listed smallest first
		thumbnail = s.video.Thumbnails[n-1].URL
	}
	return video_fetcher.SourceInfo{
		ID:        s.video.ID,
		Title:     s.video.Title,
		Duration:  s.video.Duration,
		Thumbnail: thumbnail,
		Heights:   video_fetcher.NormalizeHeights(heights),
	}
}

// Download fetches the best video-only stream within the height limit together with the best audio stream, and muxes
// them. Videos without separate streams fall back to the best progressive format.
func (s *resolvedSource) Download(d video_fetcher.Download) (string, error) {
	videoFormat, audioFormat := selectAdaptive(s.video.Formats, d.MaxHeight())
	if videoFormat != nil && audioFormat != nil {
		videoFile := "video." + extension(videoFormat)
		audioFile := "audio." + extension(audioFormat)
		g, ctx := errgroup.WithContext(d.Context())
		g.Go(func() error {
			return s.saveFormat(ctx, d, videoFile, videoFormat)
		})
		g.Go(func() error {
			return s.saveFormat(ctx, d, audioFile, audioFormat)
		})
		if err := g.Wait(); err != nil {
			return "", err
		}
		out := d.Path(masterFilename)
		if err := s.config.Muxer.Mux(d.Context(), d.Path(videoFile), d.Path(audioFile), out); err != nil {
			return "", fmt.Errorf("failed to mux streams: %w", err)
		}
		return out, nil
	}

	progressive := selectProgressive(s.video.Formats, d.MaxHeight())
	if progressive == nil {
		return "", ErrNoFormat
	}
	filename := "master." + extension(progressive)
	if err := s.saveFormat(d.Context(), d, filename, progressive); err != nil {
		return "", err
	}
	return d.Path(filename), nil
}

func (s *resolvedSource) saveFormat(ctx context.Context, d video_fetcher.Download, filename string, format *youtube.Format) error {
	stream, size, err := s.config.Client.GetStreamContext(ctx, s.video, format)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()
	d.AddExpectedBytes(size)
	return d.SaveStream(filename, stream)
}

func (s *resolvedSource) String() string {
	return fmt.Sprintf("%s [%s]", s.video.Title, s.video.ID)
}

func isVideo(f *youtube.Format) bool {
	return strings.HasPrefix(f.MimeType, "video/") && f.Height > 0
}

func isAudio(f *youtube.Format) bool {
	return strings.HasPrefix(f.MimeType, "audio/")
}

func extension(f *youtube.Format) string {
	mimeType := strings.SplitN(f.MimeType, ";", 2)[0]
	parts := strings.SplitN(mimeType, "/", 2)
	if len(parts) != 2 {
		return "bin"
	}
	if parts[0] == "audio" && parts[1] == "mp4" {
		return "m4a"
	}
	return parts[1]
}

// better reports whether a is preferable to b: taller, then mp4 over other containers, then higher bitrate.
func better(a, b *youtube.Format) bool {
	if b == nil {
		return true
	}
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	aMP4, bMP4 := strings.Contains(a.MimeType, "mp4"), strings.Contains(b.MimeType, "mp4")
	if aMP4 != bMP4 {
		return aMP4
	}
	return a.Bitrate > b.Bitrate
}

func selectAdaptive(formats youtube.FormatList, maxHeight int) (video *youtube.Format, audio *youtube.Format) {
	for i := range formats {
		f := &formats[i]
		switch {
		case isVideo(f) && f.AudioChannels == 0 && f.Height <= maxHeight:
			if better(f, video) {
				video = f
			}
		case isAudio(f):
			if audio == nil || better(f, audio) {
				audio = f
			}
		}
	}
	return video, audio
}

func selectProgressive(formats youtube.FormatList, maxHeight int) (best *youtube.Format) {
	for i := range formats {
		f := &formats[i]
		if isVideo(f) && f.AudioChannels > 0 && f.Height <= maxHeight && better(f, best) {
			best = f
		}
	}
	return best
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m|music).youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m|music).youtube.com/(v|shorts|embed|live)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(url *url.URL) (*string, error) {
	var id string
	switch url.Hostname() {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		if url.Path == "/watch" || url.Path == "/details" {
			if url.Query().Has("v") {
				id = url.Query().Get("v")
			} else {
				return nil, fmt.Errorf("missing ?v= query parameter")
			}
		} else {
			for _, prefix := range []string{"/v/", "/shorts/", "/embed/", "/live/"} {
				if strings.HasPrefix(url.Path, prefix) {
					id = strings.SplitN(strings.TrimPrefix(url.Path, prefix), "/", 2)[0]
					break
				}
			}
		}
	case "youtu.be":
		id = strings.Trim(url.Path, "/")
	default:
		return nil, fmt.Errorf("unrecognised hostname")
	}
	if id == "" {
		return nil, fmt.Errorf("could not extract video ID")
	}
	return &id, nil
}

func init() {
	video_fetcher.DefaultProviderRegistry.MustAdd(NewConfig().Provider())
}

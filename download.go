package video_fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

const DefaultMaxHeight = 1080

// Download is the handle a ResolvedSource writes its files through. It confines files to one directory, tracks
// byte progress across any number of parallel streams, and ties all I/O to a cancellable context.
type Download interface {
	// AddExpectedBytes grows the expected total. Non-positive values (unknown lengths) are ignored.
	AddExpectedBytes(n int64)
	// SetProgress replaces both counters, for engines that report absolute figures.
	SetProgress(downloaded int64, expected int64)
	Progress() (downloaded int64, expected int64)

	Context() context.Context
	Cancel()
	Close() error

	// MaxHeight is the tallest video the source should fetch.
	MaxHeight() int
	TargetDir() string
	// Path maps a filename into TargetDir. Directory components are discarded.
	Path(filename string) string

	SaveStream(filename string, stream io.Reader) error
	SaveURL(filename string, url string) error
	SaveHTTPRequest(filename string, req *http.Request) error
}

type download struct {
	ctx      context.Context
	cancel   context.CancelFunc
	client   *http.Client
	onUpdate func(Progress)
	dir      string
	height   int

	mu                   sync.Mutex
	downloaded, expected int64
}

func (d *download) update(f func()) {
	d.mu.Lock()
	f()
	p := Progress{Downloaded: d.downloaded, Total: d.expected, Phase: PhaseInProgress}
	d.mu.Unlock()
	if d.onUpdate != nil {
		d.onUpdate(p)
	}
}

func (d *download) AddExpectedBytes(n int64) {
	if n > 0 {
		d.update(func() { d.expected += n })
	}
}

func (d *download) SetProgress(downloaded int64, expected int64) {
	d.update(func() { d.downloaded, d.expected = downloaded, expected })
}

func (d *download) Progress() (int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloaded, d.expected
}

func (d *download) Context() context.Context { return d.ctx }
func (d *download) Cancel()                  { d.cancel() }
func (d *download) MaxHeight() int           { return d.height }
func (d *download) TargetDir() string        { return d.dir }

func (d *download) Close() error {
	d.cancel()
	return nil
}

func (d *download) Path(filename string) string {
	return filepath.Join(d.dir, filepath.Base(filename))
}

// counter is the progress side of an io.MultiWriter. It only sees bytes the file write accepted.
type counter struct{ d *download }

func (c counter) Write(p []byte) (int, error) {
	c.d.update(func() { c.d.downloaded += int64(len(p)) })
	return len(p), nil
}

func (d *download) SaveStream(filename string, stream io.Reader) error {
	f, err := os.Create(d.Path(filename))
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(io.MultiWriter(f, counter{d}), &readerContext{ctx: d.ctx, r: stream}); err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}
	return nil
}

func (d *download) SaveURL(filename string, url string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return d.SaveHTTPRequest(filename, req)
}

func (d *download) SaveHTTPRequest(filename string, req *http.Request) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	resp, err := d.client.Do(req.WithContext(d.ctx))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}
	d.AddExpectedBytes(resp.ContentLength)
	return d.SaveStream(filename, resp.Body)
}

// DownloadBuilder collects Download settings. Its methods return modified copies, so a partly configured builder can
// be shared.
type DownloadBuilder struct {
	ctx      context.Context
	client   *http.Client
	height   int
	onUpdate func(Progress)
	dir      string
}

func NewDownloadBuilder() DownloadBuilder {
	return DownloadBuilder{
		ctx:    context.Background(),
		client: http.DefaultClient,
		height: DefaultMaxHeight,
		dir:    ".",
	}
}

func (b DownloadBuilder) WithContext(ctx context.Context) DownloadBuilder {
	b.ctx = ctx
	return b
}

func (b DownloadBuilder) WithHTTPClient(client *http.Client) DownloadBuilder {
	b.client = client
	return b
}

// WithMaxHeight ignores non-positive heights.
func (b DownloadBuilder) WithMaxHeight(height int) DownloadBuilder {
	if height > 0 {
		b.height = height
	}
	return b
}

// WithProgressCallback sets a function called after every counter change. It runs on the writing goroutine.
func (b DownloadBuilder) WithProgressCallback(f func(Progress)) DownloadBuilder {
	b.onUpdate = f
	return b
}

func (b DownloadBuilder) WithTargetDir(dir string) DownloadBuilder {
	b.dir = dir
	return b
}

// Build creates the target directory and a Download whose context is a child of the builder's.
func (b DownloadBuilder) Build() (Download, error) {
	if err := os.MkdirAll(b.dir, 0775); err != nil {
		return nil, fmt.Errorf("failed to create target dir: %w", err)
	}
	ctx, cancel := context.WithCancel(b.ctx)
	return &download{
		ctx:      ctx,
		cancel:   cancel,
		client:   b.client,
		onUpdate: b.onUpdate,
		dir:      b.dir,
		height:   b.height,
	}, nil
}

package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/alanbriolat/video-fetcher"
)

// Source is a video_fetcher.Source serving fixed content.
type Source struct {
	RawURL  string
	Details video_fetcher.SourceInfo
	Content []byte
	Ext     string
	// ChunkSize is how many bytes are delivered per progress update.
	ChunkSize   int
	ReconErr    error
	DownloadErr error
	// Gate, if set, makes Download wait until it is closed.
	Gate chan struct{}

	recons    atomic.Int32
	downloads atomic.Int32
}

func NewSource(url string, heights ...int) *Source {
	return &Source{
		RawURL:    url,
		Details:   video_fetcher.SourceInfo{ID: "test", Title: "Test video", Heights: heights},
		Content:   make([]byte, 1000),
		Ext:       "mp4",
		ChunkSize: 10,
	}
}

func (s *Source) Match(input string) (video_fetcher.Source, error) {
	if input != s.RawURL {
		return nil, errors.New("not this source")
	}
	return s, nil
}

func (s *Source) URL() string {
	return s.RawURL
}

func (s *Source) String() string {
	return s.RawURL
}

func (s *Source) Recon(ctx context.Context) (video_fetcher.ResolvedSource, error) {
	s.recons.Add(1)
	if s.ReconErr != nil {
		return nil, s.ReconErr
	}
	return &resolvedSource{s}, nil
}

func (s *Source) Recons() int {
	return int(s.recons.Load())
}

func (s *Source) Downloads() int {
	return int(s.downloads.Load())
}

type resolvedSource struct {
	*Source
}

func (s *resolvedSource) Info() video_fetcher.SourceInfo {
	return s.Details
}

func (s *resolvedSource) Download(d video_fetcher.Download) (string, error) {
	s.downloads.Add(1)
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-d.Context().Done():
			return "", d.Context().Err()
		}
	}
	filename := "master." + s.Ext
	if s.DownloadErr != nil {
		_ = os.WriteFile(d.Path(filename), s.Content[:len(s.Content)/2], 0644)
		return "", s.DownloadErr
	}
	d.AddExpectedBytes(int64(len(s.Content)))
	if err := d.SaveStream(filename, &chunkReader{data: s.Content, size: s.ChunkSize}); err != nil {
		return "", err
	}
	return d.Path(filename), nil
}

type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n <= 0 || n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// Transcoder writes a marker file instead of running ffmpeg.
type Transcoder struct {
	Err  error
	Gate chan struct{}

	mu    sync.Mutex
	calls []string
}

func (t *Transcoder) ScaleVideo(ctx context.Context, inPath, outPath string, height int) error {
	return t.transcode(fmt.Sprintf("scale:%d", height), inPath, outPath)
}

func (t *Transcoder) ExtractAudio(ctx context.Context, inPath, outPath string) error {
	return t.transcode("audio", inPath, outPath)
}

func (t *Transcoder) transcode(op, inPath, outPath string) error {
	t.mu.Lock()
	t.calls = append(t.calls, op)
	t.mu.Unlock()
	if t.Gate != nil {
		<-t.Gate
	}
	if _, err := os.Stat(inPath); err != nil {
		return err
	}
	if t.Err != nil {
		_ = os.WriteFile(outPath, []byte("partial"), 0644)
		return t.Err
	}
	return os.WriteFile(outPath, []byte(op), 0644)
}

func (t *Transcoder) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Message is something sent through Chat.
type Message struct {
	ChatID    int64
	MessageID int
	Kind      string
	Text      string
	Path      string
}

const (
	KindText  = "text"
	KindEdit  = "edit"
	KindVideo = "video"
	KindAudio = "audio"
)

// Chat records everything sent to it.
type Chat struct {
	mu       sync.Mutex
	nextID   int
	messages []Message
}

func (c *Chat) record(m Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.MessageID == 0 {
		c.nextID++
		m.MessageID = c.nextID
	}
	c.messages = append(c.messages, m)
	return m.MessageID
}

func (c *Chat) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	return c.record(Message{ChatID: chatID, Kind: KindText, Text: text}), nil
}

func (c *Chat) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	c.record(Message{ChatID: chatID, MessageID: messageID, Kind: KindEdit, Text: text})
	return nil
}

func (c *Chat) SendVideo(ctx context.Context, chatID int64, path string, caption string) error {
	c.record(Message{ChatID: chatID, Kind: KindVideo, Text: caption, Path: path})
	return nil
}

func (c *Chat) SendAudio(ctx context.Context, chatID int64, path string, caption string) error {
	c.record(Message{ChatID: chatID, Kind: KindAudio, Text: caption, Path: path})
	return nil
}

// Messages returns what was sent to chatID, or to every chat if chatID is 0.
func (c *Chat) Messages(chatID int64) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []Message
	for _, m := range c.messages {
		if chatID == 0 || m.ChatID == chatID {
			result = append(result, m)
		}
	}
	return result
}

// OfKind filters messages by kind.
func OfKind(messages []Message, kind string) []Message {
	var result []Message
	for _, m := range messages {
		if m.Kind == kind {
			result = append(result, m)
		}
	}
	return result
}

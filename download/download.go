package download

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const workspacePattern = "video-fetcher-*"

type workspaceConfig struct {
	baseTempDir string
	log         *zap.SugaredLogger
}

type WorkspaceOption func(*workspaceConfig)

// WithTempDir sets the directory the workspace is created in. It should be on the same filesystem as the cache, so
// that finished files can be renamed into place.
func WithTempDir(dir string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.baseTempDir = dir
	}
}

func WithLogger(log *zap.SugaredLogger) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.log = log
	}
}

// Workspace is a temporary directory that exists for the duration of a WithWorkspace call.
type Workspace struct {
	config workspaceConfig
	dir    string
}

func newWorkspace(config workspaceConfig) (*Workspace, error) {
	if err := os.MkdirAll(config.baseTempDir, 0755); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(config.baseTempDir, workspacePattern)
	if err != nil {
		return nil, err
	}
	return &Workspace{config: config, dir: dir}, nil
}

func (w *Workspace) close() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.config.log.Warnw("failed to clean up workspace", "dir", w.dir, "error", err)
	}
}

func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) Path(filename string) string {
	return filepath.Join(w.dir, filename)
}

func (w *Workspace) CreateTemp(pattern string) (*os.File, error) {
	return os.CreateTemp(w.dir, pattern)
}

// WithWorkspace runs f with a fresh Workspace, which is deleted along with anything left in it once f returns.
func WithWorkspace(f func(ws *Workspace) error, opts ...WorkspaceOption) error {
	config := workspaceConfig{
		baseTempDir: os.TempDir(),
		log:         zap.S().Named("download"),
	}
	for _, opt := range opts {
		opt(&config)
	}
	ws, err := newWorkspace(config)
	if err != nil {
		return err
	}
	defer ws.close()
	return f(ws)
}

// Package dispatch runs fetch jobs on a bounded worker pool: resolve, acquire, derive, deliver, record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/async"
	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/internal/cache"
	"github.com/alanbriolat/video-fetcher/internal/lpc"
	"github.com/alanbriolat/video-fetcher/internal/metrics"
	"github.com/alanbriolat/video-fetcher/internal/progress"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	"github.com/alanbriolat/video-fetcher/internal/stats"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

// Job stages, as logged on failure.
const (
	StageResolve = "resolve"
	StageAcquire = "acquire"
	StageDerive  = "derive"
	StageDeliver = "deliver"
)

// Transport is the chat side of a job: progress messages, notices and the delivered file.
type Transport interface {
	progress.Messenger
	SendVideo(ctx context.Context, chatID int64, path string, caption string) error
	SendAudio(ctx context.Context, chatID int64, path string, caption string) error
}

type Matcher interface {
	Match(s string) (*video_fetcher.Match, error)
}

type Acquirer interface {
	Acquire(ctx context.Context, src video_fetcher.Source, fp video_fetcher.Fingerprint, sink pubsub.Sender[video_fetcher.Progress]) (cache.Master, error)
}

type Deriver interface {
	Derive(ctx context.Context, master cache.Master, v video_fetcher.Variant) (string, error)
}

type Recorder interface {
	Record(categories ...string) stats.Counters
}

type Admitter interface {
	Admit(chatID int64, now time.Time) bool
	Remaining(chatID int64, now time.Time) time.Duration
}

type SessionClearer interface {
	Clear(chatID int64) bool
}

type Config struct {
	Workers   int
	QueueSize int
	// ProgressBuffer is the capacity of each job's progress channel. Updates beyond it are dropped, not waited for.
	ProgressBuffer int
	Progress       progress.Config
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

var DefaultConfig = Config{
	Workers:        2,
	QueueSize:      32,
	ProgressBuffer: 64,
	Progress:       progress.DefaultConfig,
	Clock:          time.Now,
}

type Deps struct {
	Transport Transport
	Matcher   Matcher
	Acquirer  Acquirer
	Deriver   Deriver
	Recorder  Recorder
	Limiter   Admitter
	// Sessions is optional; when set, a chat's session is cleared once its job ends.
	Sessions SessionClearer
}

type Request struct {
	ChatID  int64
	URL     string
	Variant video_fetcher.Variant
	// Caption is attached to the delivered file.
	Caption string
}

type Job struct {
	ID uuid.UUID
	Request
}

type Result struct {
	Path         string
	Fingerprint  video_fetcher.Fingerprint
	ProviderName string
}

// Handle resolves to the job's Result once it has been delivered or has failed.
type Handle = *lpc.Command[Job, Result]

type Dispatcher struct {
	config Config
	deps   Deps
	log    *zap.SugaredLogger

	queue  chan Handle
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(config Config, deps Deps) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig.Workers
	}
	if config.QueueSize < 0 {
		config.QueueSize = DefaultConfig.QueueSize
	}
	if config.ProgressBuffer <= 0 {
		config.ProgressBuffer = DefaultConfig.ProgressBuffer
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Dispatcher{
		config: config,
		deps:   deps,
		log:    zap.S().Named("dispatch"),
		queue:  make(chan Handle, config.QueueSize),
	}
}

// Start launches the workers. They run until Close is called and the queue has drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Infow("starting workers", "workers", d.config.Workers, "queue_size", d.config.QueueSize)
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Submit admits a request through the rate limiter and queues it without waiting for it to run. A rate-limited or
// rejected request is answered with a notice to the chat and never queued.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Handle, error) {
	log := d.log.With("chat_id", req.ChatID, "variant", req.Variant.Suffix())
	now := d.config.Clock()
	if !d.deps.Limiter.Admit(req.ChatID, now) {
		// A chat inside its cooldown always has time remaining, so zero means the global rate refused it
		if remaining := d.deps.Limiter.Remaining(req.ChatID, now); remaining > 0 {
			log.Infow("rate limited", "remaining", remaining)
			d.notify(ctx, log, req.ChatID, CooldownMessage(remaining))
		} else {
			log.Infow("rate limited by global rate")
			d.notify(ctx, log, req.ChatID, OverloadedMessage)
		}
		d.config.Metrics.JobFinished(metrics.OutcomeRateLimited, 0)
		return nil, video_fetcher.ErrRateLimited
	}

	job := Job{ID: uuid.New(), Request: req}
	handle := Handle(nil).New(job)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	select {
	case d.queue <- handle:
		d.config.Metrics.SetQueueDepth(len(d.queue))
		log.Infow("job queued", "job_id", job.ID, "url", req.URL)
		return handle, nil
	default:
		log.Warnw("queue full, rejecting job", "url", req.URL)
		d.notify(ctx, log, req.ChatID, BusyMessage)
		d.config.Metrics.JobFinished(metrics.OutcomeQueueFull, 0)
		return nil, ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	log := d.log.With("worker", id)
	log.Debug("worker started")
	for handle := range d.queue {
		d.config.Metrics.SetQueueDepth(len(d.queue))
		d.run(ctx, handle)
	}
	log.Debug("worker stopped")
}

// jobState is what a failing job knows about itself.
type jobState struct {
	stage       string
	fingerprint video_fetcher.Fingerprint
}

func (d *Dispatcher) run(ctx context.Context, handle Handle) {
	job := handle.Arg()
	log := d.log.With("job_id", job.ID, "chat_id", job.ChatID, "variant", job.Variant.Suffix())
	started := time.Now()
	state := &jobState{stage: StageResolve}

	defer func() {
		if r := recover(); r != nil {
			d.fail(ctx, log, handle, state, fmt.Errorf("panic: %v", r), started)
		}
	}()

	result, err := d.process(ctx, job, log, state)
	if err != nil {
		d.fail(ctx, log, handle, state, err, started)
		return
	}
	if d.deps.Sessions != nil {
		d.deps.Sessions.Clear(job.ChatID)
	}
	d.config.Metrics.JobFinished(metrics.OutcomeDelivered, time.Since(started))
	log.Infow("job delivered", "fingerprint", result.Fingerprint.Short(), "path", result.Path, "elapsed", time.Since(started))
	_ = handle.Respond(result)
}

func (d *Dispatcher) process(ctx context.Context, job Job, log *zap.SugaredLogger, state *jobState) (Result, error) {
	match, err := d.deps.Matcher.Match(job.URL)
	if err != nil {
		return Result{}, err
	}
	state.fingerprint = video_fetcher.FingerprintURL(match.Source.URL())
	log = log.With("fingerprint", state.fingerprint.Short(), "provider", match.ProviderName)

	state.stage = StageAcquire
	events := pubsub.NewChannel[video_fetcher.Progress](d.config.ProgressBuffer)
	defer events.Close()
	reporter := progress.NewReporter(d.config.Progress, d.deps.Transport, job.ChatID, log)
	reported := async.Run(func() generic.Void {
		reporter.Run(ctx, events)
		return generic.NewVoid()
	})
	master, err := d.deps.Acquirer.Acquire(ctx, match.Source, state.fingerprint, events)
	events.Close()
	<-reported
	if dropped := events.Dropped(); dropped > 0 {
		log.Debugw("progress updates dropped", "count", dropped)
	}
	if err != nil {
		return Result{}, err
	}

	state.stage = StageDerive
	path, err := d.deps.Deriver.Derive(ctx, master, job.Variant)
	if err != nil {
		return Result{}, err
	}

	state.stage = StageDeliver
	if job.Variant.IsAudio() {
		err = d.deps.Transport.SendAudio(ctx, job.ChatID, path, job.Caption)
	} else {
		err = d.deps.Transport.SendVideo(ctx, job.ChatID, path, job.Caption)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to deliver %s: %w", path, err)
	}

	counters := d.deps.Recorder.Record(match.ProviderName, job.Variant.Category())
	log.Debugw("usage recorded", "total", counters[stats.Total])

	return Result{Path: path, Fingerprint: state.fingerprint, ProviderName: match.ProviderName}, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.SugaredLogger, handle Handle, state *jobState, err error, started time.Time) {
	job := handle.Arg()
	log.Errorw("job failed", "stage", state.stage, "fingerprint", state.fingerprint.Short(), "error", err)
	d.notify(ctx, log, job.ChatID, UserMessage(err))
	if d.deps.Sessions != nil {
		d.deps.Sessions.Clear(job.ChatID)
	}
	d.config.Metrics.JobFinished(metrics.OutcomeFailed, time.Since(started))
	_ = handle.RespondError(err)
}

func (d *Dispatcher) notify(ctx context.Context, log *zap.SugaredLogger, chatID int64, text string) {
	if _, err := d.deps.Transport.SendText(ctx, chatID, text); err != nil {
		log.Warnw("failed to notify chat", "error", err)
	}
}

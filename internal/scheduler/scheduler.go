// Package scheduler runs a document through extraction and synthesis.
//
// A Session owns two worker pools. Extraction workers claim contiguous
// batches of pages near the reader's position, raster them one at a time
// through the render serializer, and send each batch to the extraction
// collaborator. Synthesis batches are claimed by a feeder and executed
// through a rate-limited task queue. All page state lives in the ledger;
// workers communicate only through ledger transitions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-audio/lectern/internal/ledger"
	"github.com/lectern-audio/lectern/internal/providers"
	"github.com/lectern-audio/lectern/internal/render"
	"github.com/lectern-audio/lectern/internal/taskqueue"
	"github.com/lectern-audio/lectern/internal/timing"
)

const (
	// DefaultExtractWorkers is the extraction pool size.
	DefaultExtractWorkers = 3

	// DefaultSynthWorkers is the synthesis concurrency cap.
	DefaultSynthWorkers = 3

	// DefaultBatchSize is the page count per extraction batch.
	DefaultBatchSize = 3

	// DefaultMaxChars is the character budget per synthesis batch.
	DefaultMaxChars = 4500

	// DefaultSynthInterval is the minimum spacing between synthesis
	// dispatches.
	DefaultSynthInterval = 500 * time.Millisecond

	// pollInterval bounds how long an idle worker sleeps before
	// re-checking for work, in case a wake-up went to a sibling.
	pollInterval = 2 * time.Second
)

const (
	defaultTransientAttempts = 4
	defaultTransientDelay    = 500 * time.Millisecond
	defaultQuotaBaseDelay    = 30 * time.Second
	defaultQuotaMaxDelay     = 10 * time.Minute
	defaultQuotaMaxRetries   = 25
)

// Config tunes a Session. Zero values take the defaults above.
type Config struct {
	ExtractWorkers int
	SynthWorkers   int
	BatchSize      int
	MaxChars       int
	SynthInterval  time.Duration

	// TextOnly skips the vision collaborator and synthesis entirely:
	// each page's text layer becomes its final text.
	TextOnly bool

	Voice string

	TransientAttempts uint
	TransientDelay    time.Duration
	QuotaBaseDelay    time.Duration
	QuotaMaxDelay     time.Duration
	QuotaMaxRetries   int

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ExtractWorkers <= 0 {
		c.ExtractWorkers = DefaultExtractWorkers
	}
	if c.SynthWorkers <= 0 {
		c.SynthWorkers = DefaultSynthWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.SynthInterval < 0 {
		c.SynthInterval = 0
	} else if c.SynthInterval == 0 {
		c.SynthInterval = DefaultSynthInterval
	}
	if c.TransientAttempts == 0 {
		c.TransientAttempts = defaultTransientAttempts
	}
	if c.TransientDelay == 0 {
		c.TransientDelay = defaultTransientDelay
	}
	if c.QuotaBaseDelay == 0 {
		c.QuotaBaseDelay = defaultQuotaBaseDelay
	}
	if c.QuotaMaxDelay == 0 {
		c.QuotaMaxDelay = defaultQuotaMaxDelay
	}
	if c.QuotaMaxRetries == 0 {
		c.QuotaMaxRetries = defaultQuotaMaxRetries
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session processes one document until every page is terminal or the
// session is closed. Closing cancels in-flight work and rolls the ledger
// back so no page is stranded mid-transition.
type Session struct {
	ID  string
	cfg Config

	logger      *slog.Logger
	ledger      *ledger.Ledger
	renderer    render.Renderer
	serializer  *render.Serializer
	extractor   providers.Extractor
	synthesizer providers.Synthesizer
	engine      *timing.Engine
	queue       *taskqueue.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	viewPage atomic.Int64

	quotaMu      sync.Mutex
	quotaRetries int
	quotaUntil   time.Time
	advisory     string
}

// New creates a session for the document behind r and starts its pools.
func New(ctx context.Context, r render.Renderer, ex providers.Extractor, syn providers.Synthesizer, cfg Config) (*Session, error) {
	cfg.setDefaults()

	if r == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if ex == nil && !cfg.TextOnly {
		return nil, fmt.Errorf("extractor is required")
	}
	if syn == nil && !cfg.TextOnly {
		return nil, fmt.Errorf("synthesizer is required")
	}

	pageCount := r.PageCount()
	if pageCount < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:          uuid.New().String(),
		cfg:         cfg,
		ledger:      ledger.New(pageCount),
		renderer:    r,
		serializer:  render.NewSerializer(),
		extractor:   ex,
		synthesizer: syn,
		engine:      timing.NewEngine(),
		ctx:         sctx,
		cancel:      cancel,
	}
	s.logger = cfg.Logger.With("component", "scheduler", "session", s.ID[:8])
	s.viewPage.Store(1)

	s.queue = taskqueue.New(taskqueue.Config{
		MaxConcurrent: cfg.SynthWorkers,
		MinInterval:   cfg.SynthInterval,
		Logger:        cfg.Logger,
	})

	for i := 0; i < cfg.ExtractWorkers; i++ {
		s.wg.Add(1)
		go s.extractWorker(i)
	}
	if !cfg.TextOnly {
		s.wg.Add(1)
		go s.synthFeeder()
	}

	s.logger.Info("session started",
		"pages", pageCount,
		"extract_workers", cfg.ExtractWorkers,
		"synth_workers", cfg.SynthWorkers,
		"text_only", cfg.TextOnly)
	return s, nil
}

// Ledger exposes the session's page table.
func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}

// SetViewPage moves the reader position that drives batch selection.
// Takes effect at the next claim; in-flight batches are not recalled.
func (s *Session) SetViewPage(n int) {
	if n < 1 {
		n = 1
	}
	if pc := s.ledger.PageCount(); n > pc {
		n = pc
	}
	s.viewPage.Store(int64(n))
	s.ledger.Notify()
}

// ViewPage returns the current reader position.
func (s *Session) ViewPage() int {
	return int(s.viewPage.Load())
}

// RetryPage re-queues an errored page for extraction. Returns false if
// the page is not in error.
func (s *Session) RetryPage(n int) bool {
	return s.ledger.ResetPage(n)
}

// Advisory returns the sticky quota message, or "" when the last
// collaborator call succeeded.
func (s *Session) Advisory() string {
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	return s.advisory
}

// Wait blocks until every page is terminal, the session's scope ends, or
// ctx is cancelled.
func (s *Session) Wait(ctx context.Context) error {
	for {
		if s.ledger.Done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-s.ledger.Changed():
		case <-time.After(pollInterval):
		}
	}
}

// Close cancels the scope, waits for in-flight work to unwind, and rolls
// back any claims that never ran. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	s.queue.Close()
	s.wg.Wait()
	s.ledger.Rollback()
	s.logger.Info("session closed")
}

// noteQuota records a quota-exhaustion response: the advisory sticks and
// every pool holds off until the backoff window passes. Returns false
// once the retry ceiling is reached.
func (s *Session) noteQuota(qe *providers.QuotaError) bool {
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()

	s.quotaRetries++
	s.advisory = qe.Message

	if s.quotaRetries > s.cfg.QuotaMaxRetries {
		return false
	}

	delay := qe.RetryAfter
	if delay <= 0 {
		delay = s.cfg.QuotaBaseDelay * time.Duration(1<<uint(min(s.quotaRetries-1, 10)))
	}
	if delay > s.cfg.QuotaMaxDelay {
		delay = s.cfg.QuotaMaxDelay
	}
	// Randomize so parallel sessions do not thunder back together.
	delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

	until := time.Now().Add(delay)
	if until.After(s.quotaUntil) {
		s.quotaUntil = until
	}
	s.logger.Warn("quota exhausted, backing off",
		"retries", s.quotaRetries, "delay", delay.Round(time.Second))
	return true
}

// clearQuota resets the advisory after a successful collaborator call.
func (s *Session) clearQuota() {
	s.quotaMu.Lock()
	s.quotaRetries = 0
	s.advisory = ""
	s.quotaUntil = time.Time{}
	s.quotaMu.Unlock()
}

// quotaHold returns how long the caller must wait before dispatching, or
// 0 when dispatch is allowed.
func (s *Session) quotaHold() time.Duration {
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	if s.quotaUntil.IsZero() {
		return 0
	}
	return time.Until(s.quotaUntil)
}

// holdOrWait sleeps out a quota hold. Returns false if the scope ended.
func (s *Session) holdOrWait() bool {
	for {
		hold := s.quotaHold()
		if hold <= 0 {
			return true
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(hold):
		}
	}
}

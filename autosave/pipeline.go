// Package autosave coalesces rapid edits into debounced persistence calls and
// retries failed writes.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"helpmate/docstore"
)

const (
	DefaultWindow    = 600 * time.Millisecond
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// PersistFunc writes the non-blank fields of a record.
type PersistFunc func(ctx context.Context, fields docstore.Fields) error

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithRetry sets the attempt bound and the base delay. The delay before retry
// n is base*n.
func WithRetry(attempts int, base time.Duration) Option {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if base >= 0 {
			p.baseDelay = base
		}
	}
}

// WithSleep replaces the retry sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithFailureHandler receives every PersistenceFailedError.
func WithFailureHandler(fn func(error)) Option {
	return func(p *Pipeline) {
		p.onFailure = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline debounces OnChange calls into single persist calls. Persist calls
// never run concurrently, and a value taken earlier is never written after a
// value taken later.
type Pipeline struct {
	persist   PersistFunc
	window    time.Duration
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	onFailure func(error)
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    docstore.Fields
	hasPending bool
	timer      *time.Timer
	gen        uint64
	taken      uint64
	closed     bool

	writeMu sync.Mutex
	written uint64
}

func New(persist PersistFunc, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		persist:   persist,
		window:    DefaultWindow,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		sleep:     sleepContext,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnChange records the latest value and restarts the debounce window.
func (p *Pipeline) OnChange(fields docstore.Fields) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("change after close ignored")
		return
	}
	p.pending = fields.Clone()
	p.hasPending = true
	p.stopTimerLocked()
	gen := p.gen
	p.timer = time.AfterFunc(p.window, func() { p.fire(gen) })
}

// SaveNow cancels any pending debounce and persists fields immediately.
func (p *Pipeline) SaveNow(ctx context.Context, fields docstore.Fields) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.stopTimerLocked()
	p.pending = nil
	p.hasPending = false
	seq := p.takeLocked()
	p.mu.Unlock()

	return p.save(ctx, seq, fields)
}

// Flush persists the pending value, if any, without waiting for the window.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.hasPending {
		p.mu.Unlock()
		return nil
	}
	fields := p.pending
	p.pending = nil
	p.hasPending = false
	p.stopTimerLocked()
	seq := p.takeLocked()
	p.mu.Unlock()

	return p.save(ctx, seq, fields)
}

// Discard drops the pending value and its timer.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasPending {
		p.logger.Info("pending change discarded")
	}
	p.stopTimerLocked()
	p.pending = nil
	p.hasPending = false
}

// Pending reports whether a debounced value is waiting to be written.
func (p *Pipeline) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasPending
}

// Close flushes the pending value and waits for in-flight timer saves. It is
// safe to call more than once.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.stopTimerLocked()
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return err
}

func (p *Pipeline) fire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.hasPending || p.closed {
		p.mu.Unlock()
		return
	}
	fields := p.pending
	p.pending = nil
	p.hasPending = false
	p.timer = nil
	seq := p.takeLocked()
	p.wg.Add(1)
	p.mu.Unlock()

	defer p.wg.Done()
	_ = p.save(p.ctx, seq, fields)
}

func (p *Pipeline) save(ctx context.Context, seq uint64, fields docstore.Fields) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if seq < p.written {
		p.logger.Debug("stale save skipped", "seq", seq, "written", p.written)
		return nil
	}
	p.written = seq

	clean := fields.WithoutBlanks()
	if len(clean) == 0 {
		return nil
	}

	var (
		err     error
		attempt int
	)
	for attempt = 1; attempt <= p.attempts; attempt++ {
		err = p.persist(ctx, clean)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("persist recovered", "attempt", attempt)
			}
			return nil
		}
		p.logger.Warn("persist failed", "attempt", attempt, "error", err)
		if !retryable(ctx, err) || attempt == p.attempts {
			break
		}
		if serr := p.sleep(ctx, p.baseDelay*time.Duration(attempt)); serr != nil {
			break
		}
	}

	failure := &PersistenceFailedError{Attempts: attempt, Err: err}
	p.logger.Error("autosave gave up", "attempts", attempt, "error", err)
	if p.onFailure != nil {
		p.onFailure(failure)
	}
	return failure
}

// takeLocked must be called with p.mu held.
func (p *Pipeline) takeLocked() uint64 {
	p.taken++
	return p.taken
}

// stopTimerLocked must be called with p.mu held.
func (p *Pipeline) stopTimerLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, docstore.ErrInvalidDocument)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

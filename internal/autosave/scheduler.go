// Package autosave coalesces local snapshot writes behind a debounce
// window and pushes dirty state upstream on a fixed interval. The two
// cadences are independent: the cache write is cheap and fast, the
// upstream flush is batched and retryable.
package autosave

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultDebounce = time.Second
	DefaultInterval = 30 * time.Second
)

// Config wires a Scheduler.
type Config struct {
	Debounce time.Duration
	Interval time.Duration
	// PersistLocal writes the current snapshot to the draft cache with
	// a fresh timestamp. It runs on every quiesced edit burst and
	// before every upstream flush, so a failed flush never loses work.
	PersistLocal func()
	// FlushRemote uploads pending attachments and posts the draft
	// upstream. Errors are non-fatal; the state stays dirty and the
	// next interval retries.
	FlushRemote func(ctx context.Context) error
	// Notify surfaces non-fatal flush errors. Optional.
	Notify func(error)
}

// Scheduler runs the two autosave cadences for one draft or attempt.
type Scheduler struct {
	debounce     time.Duration
	interval     time.Duration
	persistLocal func()
	flushRemote  func(ctx context.Context) error
	notify       func(error)

	mu        sync.Mutex
	dirty     bool
	gen       uint64
	submitted bool
	timer     *time.Timer

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Notify == nil {
		cfg.Notify = func(error) {}
	}
	return &Scheduler{
		debounce:     cfg.Debounce,
		interval:     cfg.Interval,
		persistLocal: cfg.PersistLocal,
		flushRemote:  cfg.FlushRemote,
		notify:       cfg.Notify,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the upstream flush loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.loop(ctx)
}

// Touch records a content change. Rapid edits within the debounce
// window collapse into a single cache write once the burst quiesces.
func (s *Scheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return
	}
	s.dirty = true
	s.gen++
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.debounced)
		return
	}
	s.timer.Reset(s.debounce)
}

func (s *Scheduler) debounced() {
	s.mu.Lock()
	suppressed := s.submitted
	s.mu.Unlock()
	if !suppressed {
		s.persistLocal()
	}
}

// Flush performs an explicit save now: cache write, then upstream post.
// On upstream failure the cache write has already happened, the state
// stays dirty for the next interval, and the error is returned.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.submitted {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.mu.Unlock()

	s.persistLocal()
	if err := s.flushRemote(ctx); err != nil {
		s.notify(err)
		return err
	}

	s.mu.Lock()
	// A Touch that raced the flush keeps the state dirty.
	if gen == s.gen {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// MarkSubmitted suppresses all further autosave activity. One-way.
func (s *Scheduler) MarkSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = true
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Stop halts both cadences and waits for the flush loop to exit. Safe
// on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			skip := s.submitted || !s.dirty
			s.mu.Unlock()
			if skip {
				continue
			}
			_ = s.Flush(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"journal-api/domain"
)

// DefaultDelay is how long a draft must stay quiet before it is written.
const DefaultDelay = time.Second

const writeTimeout = 30 * time.Second

var ErrClosed = errors.New("autosave: saver closed")

var (
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_autosave_flushes_total",
		Help: "Debounced task writes by outcome.",
	}, []string{"status"})
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_autosave_coalesced_total",
		Help: "Drafts merged into an already pending write.",
	})
)

// ApplyFunc writes a coalesced patch for one task.
type ApplyFunc func(ctx context.Context, owner, id string, patch domain.TaskPatch) error

type key struct {
	owner string
	id    string
}

type entry struct {
	draft    domain.TaskPatch
	pending  bool
	timer    *time.Timer
	gen      uint64
	flushing bool
}

// Saver coalesces rapid edits per task and writes them after a quiet period.
// At most one write per task is in flight at a time.
type Saver struct {
	delay  time.Duration
	apply  ApplyFunc
	logger *log.Logger

	mu      sync.Mutex
	entries map[key]*entry
	closed  bool
	wg      sync.WaitGroup
}

func New(delay time.Duration, apply ApplyFunc, logger *log.Logger) *Saver {
	if apply == nil {
		panic("autosave.New: apply is nil")
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Saver{delay: delay, apply: apply, logger: logger, entries: map[key]*entry{}}
}

// Submit merges patch into the task's draft and restarts its timer.
func (s *Saver) Submit(owner, id string, patch domain.TaskPatch) error {
	if patch.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	k := key{owner: owner, id: id}
	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}
	if e.pending {
		coalescedTotal.Inc()
	}
	e.draft = e.draft.Merge(patch)
	e.pending = true
	s.arm(k, e)
	return nil
}

// Pending returns the draft that has not been handed to a write yet.
func (s *Saver) Pending(owner, id string) (domain.TaskPatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key{owner: owner, id: id}]
	if !ok || !e.pending {
		return domain.TaskPatch{}, false
	}
	return e.draft, true
}

// Close stops all timers, writes every pending draft and waits for in-flight
// writes to finish or ctx to expire.
func (s *Saver) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for k, e := range s.entries {
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.gen++
			if e.pending && !e.flushing {
				s.startFlush(k, e)
			}
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// arm must be called with s.mu held.
func (s *Saver) arm(k key, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(s.delay, func() { s.fire(k, gen) })
}

func (s *Saver) fire(k key, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || e.gen != gen {
		return
	}
	e.timer = nil
	if e.flushing || !e.pending {
		return
	}
	s.startFlush(k, e)
}

// startFlush must be called with s.mu held.
func (s *Saver) startFlush(k key, e *entry) {
	e.flushing = true
	s.wg.Add(1)
	go s.flush(k, e)
}

func (s *Saver) flush(k key, e *entry) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		patch := e.draft
		e.draft = domain.TaskPatch{}
		e.pending = false
		s.mu.Unlock()

		s.write(k, patch)

		s.mu.Lock()
		// A draft that arrived during the write goes out now if its timer
		// already fired or the saver is closing; otherwise the timer owns it.
		if e.pending && (e.timer == nil || s.closed) {
			s.mu.Unlock()
			continue
		}
		e.flushing = false
		if !e.pending && e.timer == nil {
			delete(s.entries, k)
		}
		s.mu.Unlock()
		return
	}
}

func (s *Saver) write(k key, patch domain.TaskPatch) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.apply(ctx, k.owner, k.id, patch); err != nil {
		flushTotal.WithLabelValues("error").Inc()
		s.logger.WithFields(log.Fields{"owner": k.owner, "task": k.id}).WithError(err).Error("autosave write failed")
		return
	}
	flushTotal.WithLabelValues("ok").Inc()
	s.logger.WithFields(log.Fields{"owner": k.owner, "task": k.id}).Debug("autosave write")
}

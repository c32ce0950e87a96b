// Package autosave batches rapid answer changes into debounced ledger writes.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/model"
)

// DefaultDebounce is how long the coalescer waits after the last change before flushing.
const DefaultDebounce = time.Second

// State is the coalescer's position in Idle → PendingWrite → Flushing → Idle.
type State int

const (
	StateIdle State = iota
	StatePendingWrite
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StatePendingWrite:
		return "pending_write"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Flusher sends one batched upsert for the bound attempt.
type Flusher interface {
	Flush(ctx context.Context, answers []model.AnswerSelection) error
}

// FlusherFunc adapts a function to Flusher.
type FlusherFunc func(ctx context.Context, answers []model.AnswerSelection) error

func (f FlusherFunc) Flush(ctx context.Context, answers []model.AnswerSelection) error {
	return f(ctx, answers)
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Coalescer) { c.debounce = d }
}

// WithClock replaces the real clock.
func WithClock(clock Clock) Option {
	return func(c *Coalescer) { c.clock = clock }
}

// WithLogger sets the logger used for timer-driven flush failures.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coalescer) { c.log = log.With().Str("component", "coalescer").Logger() }
}

// WithFlushTimeout bounds timer-driven flushes.
func WithFlushTimeout(d time.Duration) Option {
	return func(c *Coalescer) { c.flushTimeout = d }
}

// Coalescer holds the last confirmed selection per question and the
// selections changed since. Changes are flushed in one batch when the
// debounce timer fires or on ForceFlush. A failed flush keeps the pending
// set for the next trigger; there is no retry loop.
type Coalescer struct {
	flusher      Flusher
	debounce     time.Duration
	clock        Clock
	flushTimeout time.Duration
	log          zerolog.Logger

	mu        sync.Mutex
	confirmed map[uuid.UUID]*uuid.UUID
	pending   map[uuid.UUID]*uuid.UUID
	order     []uuid.UUID
	timer     Timer
	gen       uint64
	flushing  bool
	lastErr   error

	// flushMu serialises flushes so batches reach the ledger in order.
	flushMu sync.Mutex
}

// New creates a Coalescer writing through flusher.
func New(flusher Flusher, opts ...Option) *Coalescer {
	c := &Coalescer{
		flusher:      flusher,
		debounce:     DefaultDebounce,
		clock:        RealClock(),
		flushTimeout: 10 * time.Second,
		log:          zerolog.Nop(),
		confirmed:    make(map[uuid.UUID]*uuid.UUID),
		pending:      make(map[uuid.UUID]*uuid.UUID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed marks selections as already persisted, e.g. when resuming an attempt.
func (c *Coalescer) Seed(answers []model.AnswerSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range answers {
		c.confirmed[a.QuestionID] = copyOption(a.OptionID)
	}
}

// OnAnswerChanged records a selection. A nil option clears the question.
// A value equal to the last confirmed one is ignored unless the question is
// already pending, in which case it replaces the pending value.
func (c *Coalescer) OnAnswerChanged(questionID uuid.UUID, optionID *uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, isPending := c.pending[questionID]
	if !isPending {
		if cur, ok := c.confirmed[questionID]; ok && sameOption(cur, optionID) {
			return
		}
		c.order = append(c.order, questionID)
	}
	c.pending[questionID] = copyOption(optionID)
	c.restartTimerLocked()
}

// ForceFlush cancels the debounce timer and flushes synchronously.
// The returned error is the flush result; pending changes survive a failure.
func (c *Coalescer) ForceFlush(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.flush(ctx)
}

// Stop cancels the debounce timer without flushing.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

// State reports the current state. PendingWrite covers both a running timer
// and changes retained after a failed flush.
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.flushing:
		return StateFlushing
	case len(c.pending) > 0:
		return StatePendingWrite
	default:
		return StateIdle
	}
}

// Pending returns a copy of the unflushed selections.
func (c *Coalescer) Pending() map[uuid.UUID]*uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMap(c.pending)
}

// Confirmed returns a copy of the selections acknowledged by the ledger.
func (c *Coalescer) Confirmed() map[uuid.UUID]*uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMap(c.confirmed)
}

// LastError returns the error of the most recent flush, or nil.
func (c *Coalescer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coalescer) restartTimerLocked() {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.onTimer(gen) })
}

// stopTimerLocked bumps the generation so a timer that already fired but
// has not yet taken the lock becomes a no-op.
func (c *Coalescer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Coalescer) onTimer(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()
	if err := c.flush(ctx); err != nil {
		c.log.Warn().Err(err).Int("pending", len(c.Pending())).Msg("Autosave flush failed, keeping changes")
	}
}

func (c *Coalescer) flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := make([]model.AnswerSelection, 0, len(c.order))
	for _, q := range c.order {
		batch = append(batch, model.AnswerSelection{QuestionID: q, OptionID: copyOption(c.pending[q])})
	}
	c.flushing = true
	c.mu.Unlock()

	err := c.flusher.Flush(ctx, batch)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushing = false
	c.lastErr = err
	if err != nil {
		return err
	}

	for _, sent := range batch {
		c.confirmed[sent.QuestionID] = sent.OptionID
		// A change that arrived mid-flush stays pending for the next batch.
		if cur, ok := c.pending[sent.QuestionID]; ok && sameOption(cur, sent.OptionID) {
			delete(c.pending, sent.QuestionID)
		}
	}
	c.compactOrderLocked()
	return nil
}

func (c *Coalescer) compactOrderLocked() {
	kept := c.order[:0]
	for _, q := range c.order {
		if _, ok := c.pending[q]; ok {
			kept = append(kept, q)
		}
	}
	c.order = kept
}

func sameOption(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyOption(o *uuid.UUID) *uuid.UUID {
	if o == nil {
		return nil
	}
	v := *o
	return &v
}

func copyMap(m map[uuid.UUID]*uuid.UUID) map[uuid.UUID]*uuid.UUID {
	out := make(map[uuid.UUID]*uuid.UUID, len(m))
	for k, v := range m {
		out[k] = copyOption(v)
	}
	return out
}

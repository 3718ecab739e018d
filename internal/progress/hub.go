package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropWarnEvery         = 5 * time.Second
)

// Config tunes the Hub. Zero fields fall back to package defaults.
type Config struct {
	// BufferSize is how many events Emit may queue before dropping.
	BufferSize int
	// MaxBatchEvents triggers a delivery as soon as that many events are pending.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the oldest pending event waits for delivery.
	MaxBatchWait time.Duration
	// SinkTimeout caps each Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

func (c Config) normalized() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects events from the archiver and delivers them to sinks in
// batches from a single goroutine. Emit is safe for concurrent use and never
// blocks the caller.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	quit     chan struct{}
	finished chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
	stopCtx  context.Context

	dropped  atomic.Int64
	nextWarn atomic.Int64

	mu     sync.Mutex
	totals map[Stage]int64
}

// NewHub starts delivering to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.normalized()
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    live,
		events:   make(chan Event, cfg.BufferSize),
		logger:   cfg.Logger,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		totals:   make(map[Stage]int64),
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; events arriving while the
// queue is full are counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.stopping.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("progress event rejected", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	total := h.dropped.Add(1)
	now := time.Now().UnixNano()
	due := h.nextWarn.Load()
	if now >= due && h.nextWarn.CompareAndSwap(due, now+int64(dropWarnEvery)) {
		h.logger.Warn("progress queue full, dropping events", zap.Int64("dropped_total", total))
	}
}

// Dropped reports how many events were lost to a full queue.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Totals returns how many delivered events were seen per stage.
func (h *Hub) Totals() map[Stage]int64 {
	out := make(map[Stage]int64)
	if h == nil {
		return out
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for stage, n := range h.totals {
		out[stage] = n
	}
	return out
}

// Close stops accepting events, delivers whatever is queued, closes the
// sinks with ctx and waits for the delivery goroutine. It is safe to call
// more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.stopCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.finished)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	deliver := func() {
		if timer != nil {
			timer.Stop()
			timer, deadline = nil, nil
		}
		h.deliver(pending)
		pending = pending[:0]
	}
	add := func(evt Event) {
		pending = append(pending, evt)
		if len(pending) >= h.cfg.MaxBatchEvents {
			deliver()
			return
		}
		if timer == nil {
			timer = time.NewTimer(h.cfg.MaxBatchWait)
			deadline = timer.C
		}
	}

	for {
		select {
		case evt := <-h.events:
			add(evt)
		case <-deadline:
			timer, deadline = nil, nil
			deliver()
		case <-h.quit:
			h.drain(add)
			deliver()
			h.closeSinks()
			return
		}
	}
}

// drain feeds events still queued at shutdown to add.
func (h *Hub) drain(add func(Event)) {
	for {
		select {
		case evt := <-h.events:
			add(evt)
		default:
			return
		}
	}
}

func (h *Hub) deliver(pending []Event) {
	if len(pending) == 0 {
		return
	}
	batch := make([]Event, len(pending))
	copy(batch, pending)

	h.mu.Lock()
	for _, evt := range batch {
		h.totals[evt.Stage]++
	}
	h.mu.Unlock()

	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := s.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink rejected batch", zap.Int("events", len(batch)), zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.stopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("progress sink close", zap.Error(err))
		}
	}
}

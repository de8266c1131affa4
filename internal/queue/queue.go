// Package queue sequences incoming dataset payloads so that at most one is
// processed at a time. Newer payloads replace older ones that have not started,
// and a watchdog releases the queue if processing stalls.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/atlasmap-sc/heatmap/internal/metrics"
)

var (
	// ErrProcessingStalled is reported when the watchdog abandons a payload.
	ErrProcessingStalled = errors.New("queue: processing stalled")
	// ErrProcessingFailed wraps an error or panic raised by the process callback.
	ErrProcessingFailed = errors.New("queue: processing failed")
)

// State is the processing state of the queue.
type State int

const (
	Idle State = iota
	Processing
	Completed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "idle"
	}
}

// Outcome classifies a Result.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeStalled
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeStalled:
		return "stalled"
	case OutcomeDropped:
		return "dropped"
	default:
		return "completed"
	}
}

// Result reports what happened to one payload.
type Result struct {
	Generation uint64
	Outcome    Outcome
	Err        error
	Duration   time.Duration
}

// Stats are cumulative counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Stalled   uint64 `json:"stalled"`
}

// ProcessFunc handles one payload. It should return promptly once ctx is done.
type ProcessFunc func(ctx context.Context, payload []byte) error

// Config tunes the queue. Zero fields take defaults.
type Config struct {
	Capacity     int           // Pending payloads kept (default 1)
	TickInterval time.Duration // Admission cadence (default 10ms)
	Watchdog     time.Duration // Processing deadline (default 500ms)
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.Watchdog <= 0 {
		c.Watchdog = 500 * time.Millisecond
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithOnResult registers a callback invoked for every payload outcome,
// including payloads evicted before they were processed.
func WithOnResult(fn func(Result)) Option {
	return func(q *Queue) { q.onResult = fn }
}

// WithMetrics records queue activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a bounded ring of pending payloads drained by a ticker.
type Queue struct {
	cfg      Config
	process  ProcessFunc
	onResult func(Result)
	metrics  *metrics.Metrics

	mu       sync.Mutex
	baseCtx  context.Context
	pending  [][]byte
	state    State
	gen      uint64
	cancel   context.CancelFunc
	watchdog *time.Timer
	started  time.Time
	stats    Stats
}

// New creates a queue that hands admitted payloads to process.
func New(cfg Config, process ProcessFunc, opts ...Option) *Queue {
	cfg.applyDefaults()
	q := &Queue{
		cfg:     cfg,
		process: process,
		baseCtx: context.Background(),
		pending: make([][]byte, 0, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a payload without blocking. When the ring is full the oldest
// pending payload is dropped.
func (q *Queue) Enqueue(payload []byte) {
	q.mu.Lock()
	dropped := false
	if len(q.pending) >= q.cfg.Capacity {
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.stats.Dropped++
		dropped = true
	}
	q.pending = append(q.pending, payload)
	q.stats.Enqueued++
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.QueueEvent("enqueued")
	q.metrics.QueueDepth(depth)
	if dropped {
		q.metrics.QueueEvent("dropped")
		q.report(Result{Outcome: OutcomeDropped})
	}
}

// Run drives admission until ctx is done. A payload still processing when
// Run returns has its context cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.baseCtx = ctx
	q.mu.Unlock()

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()
	log.Printf("[Queue] started (capacity=%d, tick=%s, watchdog=%s)", q.cfg.Capacity, q.cfg.TickInterval, q.cfg.Watchdog)

	for {
		select {
		case <-ctx.Done():
			q.stop()
			log.Printf("[Queue] stopped")
			return nil
		case <-ticker.C:
			q.tick()
		}
	}
}

// State returns the current processing state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Depth returns the number of pending payloads.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// tick admits the oldest pending payload when the queue is idle.
func (q *Queue) tick() {
	q.mu.Lock()
	if q.state != Idle || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}

	payload := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	q.gen++
	gen := q.gen
	ctx, cancel := context.WithCancel(q.baseCtx)
	q.cancel = cancel
	q.state = Processing
	q.started = time.Now()
	q.watchdog = time.AfterFunc(q.cfg.Watchdog, func() { q.stall(gen) })
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.QueueDepth(depth)
	go q.run(ctx, gen, payload)
}

func (q *Queue) run(ctx context.Context, gen uint64, payload []byte) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessingFailed, r)
		}
		q.finish(gen, err)
	}()

	if perr := q.process(ctx, payload); perr != nil {
		err = fmt.Errorf("%w: %w", ErrProcessingFailed, perr)
	}
}

// finish ends generation gen. It does nothing when gen has already been
// abandoned by the watchdog.
func (q *Queue) finish(gen uint64, err error) {
	q.mu.Lock()
	if gen != q.gen || q.state != Processing {
		q.mu.Unlock()
		log.Printf("[Queue] ignoring late finish of payload %d", gen)
		return
	}
	q.watchdog.Stop()
	q.cancel()
	elapsed := time.Since(q.started)

	res := Result{Generation: gen, Outcome: OutcomeCompleted, Err: err, Duration: elapsed}
	q.state = Completed
	if err != nil {
		res.Outcome = OutcomeFailed
		q.stats.Failed++
	} else {
		q.stats.Processed++
	}
	q.state = Idle
	q.mu.Unlock()

	if err != nil {
		log.Printf("[Queue] payload %d failed after %s: %v", gen, elapsed, err)
	}
	q.metrics.QueueEvent(res.Outcome.String())
	q.metrics.Processing(res.Outcome.String(), elapsed)
	q.report(res)
}

// stall is the watchdog for generation gen.
func (q *Queue) stall(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.state != Processing {
		q.mu.Unlock()
		return
	}
	q.state = TimedOut
	q.cancel()
	elapsed := time.Since(q.started)
	q.stats.Stalled++
	q.state = Idle
	q.mu.Unlock()

	log.Printf("[Queue] payload %d stalled after %s, releasing queue", gen, elapsed)
	q.metrics.QueueEvent("stalled")
	q.metrics.Processing("stalled", elapsed)
	q.report(Result{Generation: gen, Outcome: OutcomeStalled, Err: ErrProcessingStalled, Duration: elapsed})
}

func (q *Queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Processing {
		q.watchdog.Stop()
		q.cancel()
		q.state = Idle
	}
	// Any finisher still running belongs to an abandoned generation.
	q.gen++
}

func (q *Queue) report(res Result) {
	if q.onResult != nil {
		q.onResult(res)
	}
}

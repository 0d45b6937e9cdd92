// Package parallel enforces per-module concurrency invariants (C5) across an
// otherwise wide fan-out of concurrently executing tasks.
package parallel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// DefaultRate is the token bucket refill rate (tokens/sec) used for a
// RateLimited module with no entry in Config.RateLimits.
const DefaultRate = 1.0

// DefaultBurst is the token bucket capacity used when Config.Burst has no
// entry for a module.
const DefaultBurst = 1.0

// Guard is released once the holder is done with the section it gates.
// Acquire never returns a nil Guard on success; Release is safe to call
// exactly once.
type Guard interface {
	Release()
}

// noopGuard is returned for HintFullyParallel, where no coordination is
// needed.
type noopGuard struct{}

func (noopGuard) Release() {}

// weightedGuard releases one permit back to a *semaphore.Weighted.
type weightedGuard struct {
	sem *semaphore.Weighted
}

func (g *weightedGuard) Release() {
	g.sem.Release(1)
}

// Config configures per-module rate limits for HintRateLimited. Modules not
// listed fall back to DefaultRate/DefaultBurst.
type Config struct {
	RateLimits map[string]float64 // module name -> tokens/sec
	Burst      map[string]float64 // module name -> bucket capacity
}

// Recorder receives permit-wait timings. pkg/metrics.Metrics satisfies this
// by method signature; Manager never imports pkg/metrics.
type Recorder interface {
	ObservePermitWait(hint types.ParallelHint, module string, d time.Duration)
}

// Manager implements the acquire(hint, host, module) -> Guard contract of
// spec §4.5. Lock order across the whole engine is fork-permit (owned by
// pkg/scheduler's errgroup.SetLimit) then hint-permit: Manager itself never
// touches the fork semaphore, so as long as callers only invoke Acquire from
// inside an already fork-limited goroutine, that ordering holds by
// construction and no deadlock between the two layers is possible.
type Manager struct {
	config Config

	mu       sync.Mutex
	hostSems map[string]*semaphore.Weighted // HostExclusive, keyed by host

	globalSem *semaphore.Weighted // GlobalExclusive, single process-wide permit

	bucketsMu sync.Mutex
	buckets   map[string]*tokenBucket // RateLimited, keyed by module name

	recorder Recorder
}

// SetRecorder attaches a permit-wait metrics recorder. Nil disables recording.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// NewManager creates a Manager with the given per-module rate limit config.
func NewManager(config Config) *Manager {
	return &Manager{
		config:    config,
		hostSems:  make(map[string]*semaphore.Weighted),
		globalSem: semaphore.NewWeighted(1),
		buckets:   make(map[string]*tokenBucket),
	}
}

// Acquire enforces the concurrency discipline named by hint for the given
// host/module pair, blocking until a permit/token is available or ctx is
// done. Callers MUST call Release on the returned Guard exactly once.
func (m *Manager) Acquire(ctx context.Context, hint types.ParallelHint, host, module string) (Guard, error) {
	start := time.Now()
	defer func() {
		if m.recorder != nil {
			m.recorder.ObservePermitWait(hint, module, time.Since(start))
		}
	}()

	switch hint {
	case types.HintFullyParallel, "":
		return noopGuard{}, nil

	case types.HintHostExclusive:
		sem := m.hostSemaphore(host)
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return &weightedGuard{sem: sem}, nil

	case types.HintGlobalExclusive:
		if err := m.globalSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return &weightedGuard{sem: m.globalSem}, nil

	case types.HintRateLimited:
		bucket := m.bucketFor(module)
		if err := bucket.Take(ctx); err != nil {
			return nil, err
		}
		return noopGuard{}, nil

	default:
		return noopGuard{}, nil
	}
}

func (m *Manager) hostSemaphore(host string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.hostSems[host]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.hostSems[host] = sem
	}
	return sem
}

func (m *Manager) bucketFor(module string) *tokenBucket {
	m.bucketsMu.Lock()
	defer m.bucketsMu.Unlock()
	b, ok := m.buckets[module]
	if !ok {
		rate := DefaultRate
		if r, ok := m.config.RateLimits[module]; ok {
			rate = r
		}
		capacity := DefaultBurst
		if c, ok := m.config.Burst[module]; ok {
			capacity = c
		}
		b = newTokenBucket(rate, capacity)
		m.buckets[module] = b
	}
	return b
}

// tokenBucket implements the token bucket semantics of spec §4.5 verbatim:
// tokens <- min(capacity, tokens + elapsed*rate); if tokens >= 1, decrement
// and proceed; else wait (1-tokens)/rate.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(rate, capacity float64) *tokenBucket {
	return &tokenBucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		last:     time.Now(),
	}
}

// Take blocks until a token is available or ctx is done.
func (b *tokenBucket) Take(ctx context.Context) error {
	for {
		wait, ok := b.tryTake()
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryTake refills the bucket, and either consumes a token (returning
// ok=true) or reports how long the caller should wait before retrying.
func (b *tokenBucket) tryTake() (wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	remaining := (1 - b.tokens) / b.rate
	return time.Duration(remaining * float64(time.Second)), false
}

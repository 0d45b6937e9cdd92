package connection

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// ConnectionPoolConfig holds configuration for connection pooling.
type ConnectionPoolConfig struct {
	MaxConnections       int           // Maximum number of connections per host key
	MinPerHost           int           // Connections to keep warm per host key even when idle
	MaxIdleTime          time.Duration // Maximum time a connection can be idle before eviction
	ConnectionTimeout    time.Duration // Timeout for establishing connections
	HealthCheckInterval  time.Duration // Interval for health checking idle connections
	RetryAttempts        int           // Number of retry attempts for failed connections
	RetryDelay           time.Duration // Delay between retry attempts
	MaxConsecutiveErrors int           // Consecutive Execute failures before a slot is evicted
}

// DefaultConnectionPoolConfig returns default configuration for connection pooling.
func DefaultConnectionPoolConfig() ConnectionPoolConfig {
	return ConnectionPoolConfig{
		MaxConnections:       10,
		MinPerHost:           0,
		MaxIdleTime:          5 * time.Minute,
		ConnectionTimeout:    30 * time.Second,
		HealthCheckInterval:  1 * time.Minute,
		RetryAttempts:        3,
		RetryDelay:           1 * time.Second,
		MaxConsecutiveErrors: 3,
	}
}

// slot wraps one pooled connection. inUse is an atomic.Bool so Acquire's
// fast path (scanning for a free slot) never takes the pool's write lock
// just to test-and-set a flag.
type slot struct {
	conn              types.Connection
	info              types.ConnectionInfo
	inUse             atomic.Bool
	lastUsed          atomic.Int64 // unix nanos
	createdAt         time.Time
	useCount          atomic.Int64
	consecutiveErrors atomic.Int32
}

// Handle is the lease a caller receives from Acquire. It references its slot
// only by pool key and index, not by pointer, so a caller holding a stale
// Handle after the pool evicts or closes that slot fails fast with
// ErrHandleStale instead of silently operating on a reused connection.
type Handle struct {
	pool  *Pool
	key   string
	index int
	conn  types.Connection
}

// Connection returns the leased connection, or ErrHandleStale if the pool
// has since recycled this slot.
func (h *Handle) Connection() (types.Connection, error) {
	if !h.pool.validHandle(h) {
		return nil, types.ErrHandleStale
	}
	return h.conn, nil
}

// Release returns the connection to the pool for reuse.
func (h *Handle) Release() {
	h.pool.release(h)
}

// MarkFailed records an execution failure against this slot's consecutive
// error count; the health check evicts the slot once that count reaches
// MaxConsecutiveErrors.
func (h *Handle) MarkFailed() {
	h.pool.markFailed(h)
}

// Pool manages per-host sets of pooled connections (C2). It replaces the
// teacher's ConnectionPool with atomic in-use tracking and index-addressed
// Handles.
type Pool struct {
	config ConnectionPoolConfig
	mu     sync.RWMutex
	slots  map[string][]*slot

	healthTicker *time.Ticker
	quit         chan struct{}
	closeOnce    sync.Once
}

// NewPool creates a new connection pool with the given configuration.
func NewPool(config ConnectionPoolConfig) *Pool {
	p := &Pool{
		config: config,
		slots:  make(map[string][]*slot),
		quit:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		p.healthTicker = time.NewTicker(config.HealthCheckInterval)
		go p.backgroundHealthCheck()
	}
	return p
}

// NewConnectionPool is kept as an alias for callers ported from the
// teacher's naming.
func NewConnectionPool(config ConnectionPoolConfig) *Pool { return NewPool(config) }

func (p *Pool) connectionKey(info types.ConnectionInfo) string {
	port := info.Port
	if port == 0 {
		switch {
		case info.IsWindows():
			if info.UseSSL {
				port = 5986
			} else {
				port = 5985
			}
		case info.Type == "container":
			port = 0
		default:
			port = 22
		}
	}
	return fmt.Sprintf("%s:%s:%d:%s", info.Type, info.Host, port, info.User)
}

func (p *Pool) dial(ctx context.Context, info types.ConnectionInfo) (types.Connection, error) {
	var conn types.Connection
	switch {
	case info.Type == "local":
		conn = NewLocalConnection()
	case info.Type == "container":
		conn = NewContainerConnection()
	case info.IsWindows():
		conn = NewWinRMConnection()
	default:
		conn = NewSSHConnection()
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		dialCtx := ctx
		var cancel context.CancelFunc
		if p.config.ConnectionTimeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, p.config.ConnectionTimeout)
		}
		lastErr = conn.Connect(dialCtx, info)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return conn, nil
		}
	}
	return nil, types.NewUnreachableError(info.Host, p.config.RetryAttempts+1, lastErr)
}

// Acquire returns a leased Handle for info, reusing an idle slot when one is
// healthy and not expired, or dialing a new connection otherwise. It returns
// ErrPoolExhausted when the per-host cap is reached and no idle slot can be
// evicted.
func (p *Pool) Acquire(ctx context.Context, info types.ConnectionInfo) (*Handle, error) {
	key := p.connectionKey(info)

	p.mu.Lock()
	slots := p.slots[key]
	for i, s := range slots {
		if s.inUse.CompareAndSwap(false, true) {
			if !s.conn.IsConnected() || time.Since(time.Unix(0, s.lastUsed.Load())) > p.config.MaxIdleTime {
				s.inUse.Store(false)
				continue
			}
			s.lastUsed.Store(time.Now().UnixNano())
			s.useCount.Add(1)
			p.mu.Unlock()
			return &Handle{pool: p, key: key, index: i, conn: s.conn}, nil
		}
	}

	total := len(slots)
	if total >= p.config.MaxConnections && p.config.MaxConnections > 0 {
		if !p.evictOneIdleLocked(key) {
			p.mu.Unlock()
			return nil, types.NewPoolError(info.Host, "pool exhausted", types.ErrPoolExhausted)
		}
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, info)
	if err != nil {
		return nil, err
	}

	newSlot := &slot{conn: conn, info: info, createdAt: time.Now()}
	newSlot.inUse.Store(true)
	newSlot.lastUsed.Store(time.Now().UnixNano())
	newSlot.useCount.Store(1)

	p.mu.Lock()
	p.slots[key] = append(p.slots[key], newSlot)
	index := len(p.slots[key]) - 1
	p.mu.Unlock()

	return &Handle{pool: p, key: key, index: index, conn: conn}, nil
}

func (p *Pool) validHandle(h *Handle) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slots := p.slots[h.key]
	return h.index >= 0 && h.index < len(slots) && slots[h.index].conn == h.conn
}

func (p *Pool) release(h *Handle) {
	p.mu.RLock()
	slots := p.slots[h.key]
	if h.index < 0 || h.index >= len(slots) || slots[h.index].conn != h.conn {
		p.mu.RUnlock()
		return
	}
	s := slots[h.index]
	p.mu.RUnlock()

	s.lastUsed.Store(time.Now().UnixNano())
	s.inUse.Store(false)
}

func (p *Pool) markFailed(h *Handle) {
	p.mu.RLock()
	slots := p.slots[h.key]
	if h.index < 0 || h.index >= len(slots) || slots[h.index].conn != h.conn {
		p.mu.RUnlock()
		return
	}
	s := slots[h.index]
	p.mu.RUnlock()
	s.consecutiveErrors.Add(1)
}

// evictOneIdleLocked removes the least-recently-used idle slot for key,
// respecting MinPerHost. Caller must hold p.mu.
func (p *Pool) evictOneIdleLocked(key string) bool {
	slots := p.slots[key]
	if len(slots) <= p.config.MinPerHost {
		return false
	}

	oldestIdx := -1
	var oldestTime int64
	for i, s := range slots {
		if s.inUse.Load() {
			continue
		}
		lu := s.lastUsed.Load()
		if oldestIdx == -1 || lu < oldestTime {
			oldestIdx = i
			oldestTime = lu
		}
	}
	if oldestIdx == -1 {
		return false
	}

	slots[oldestIdx].conn.Close()
	p.slots[key] = append(slots[:oldestIdx], slots[oldestIdx+1:]...)
	return true
}

// backgroundHealthCheck periodically evicts expired-idle and
// too-many-consecutive-failures slots.
func (p *Pool) backgroundHealthCheck() {
	for {
		select {
		case <-p.healthTicker.C:
			p.performHealthCheck()
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) performHealthCheck() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, slots := range p.slots {
		kept := slots[:0]
		for _, s := range slots {
			if s.inUse.Load() {
				kept = append(kept, s)
				continue
			}
			idleFor := now.Sub(time.Unix(0, s.lastUsed.Load()))
			tooManyErrors := p.config.MaxConsecutiveErrors > 0 && s.consecutiveErrors.Load() >= int32(p.config.MaxConsecutiveErrors)
			if (idleFor > p.config.MaxIdleTime && len(kept) >= p.config.MinPerHost) || tooManyErrors || !s.conn.IsConnected() {
				s.conn.Close()
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(p.slots, key)
		} else {
			p.slots[key] = kept
		}
	}
}

// Close closes every pooled connection and stops the background health checker.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() { close(p.quit) })
	if p.healthTicker != nil {
		p.healthTicker.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for key, slots := range p.slots {
		for _, s := range slots {
			if err := s.conn.Close(); err != nil {
				lastErr = err
			}
		}
		delete(p.slots, key)
	}
	return lastErr
}

// Stats reports point-in-time pool occupancy, used by pkg/metrics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{HostStats: make(map[string]HostStats)}
	for key, slots := range p.slots {
		hs := HostStats{TotalConnections: len(slots)}
		for _, s := range slots {
			if s.inUse.Load() {
				stats.ActiveConnections++
				hs.ActiveConnections++
			} else {
				stats.IdleConnections++
				hs.IdleConnections++
			}
			hs.TotalUseCount += s.useCount.Load()
		}
		stats.TotalConnections += len(slots)
		stats.HostStats[key] = hs
	}
	return stats
}

// PoolStats holds statistics about the connection pool.
type PoolStats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	HostStats         map[string]HostStats
}

// HostStats holds statistics for a specific host key.
type HostStats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	TotalUseCount     int64
}

// PooledConnectionManager provides high-level connection management with
// pooling, kept as a thin convenience wrapper in the teacher's naming over
// the new Pool/Handle primitives.
type PooledConnectionManager struct {
	pool *Pool
}

// NewPooledConnectionManager creates a new connection manager with connection pooling.
func NewPooledConnectionManager(config ConnectionPoolConfig) *PooledConnectionManager {
	return &PooledConnectionManager{pool: NewPool(config)}
}

// NewPooledConnectionManagerWithDefaults creates a connection manager with default settings.
func NewPooledConnectionManagerWithDefaults() *PooledConnectionManager {
	return NewPooledConnectionManager(DefaultConnectionPoolConfig())
}

// ExecuteOnHost executes a command on a specific host, handling
// acquire/release automatically.
func (cm *PooledConnectionManager) ExecuteOnHost(ctx context.Context, info types.ConnectionInfo, command string, options types.ExecuteOptions) (*types.Result, error) {
	h, err := cm.pool.Acquire(ctx, info)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	conn, err := h.Connection()
	if err != nil {
		return nil, err
	}

	result, err := conn.Execute(ctx, command, options)
	if err != nil {
		h.MarkFailed()
	}
	return result, err
}

// CopyToHost copies a file to a specific host, handling acquire/release automatically.
func (cm *PooledConnectionManager) CopyToHost(ctx context.Context, info types.ConnectionInfo, src io.Reader, dest string, mode int) error {
	h, err := cm.pool.Acquire(ctx, info)
	if err != nil {
		return err
	}
	defer h.Release()

	conn, err := h.Connection()
	if err != nil {
		return err
	}
	return conn.Copy(ctx, src, dest, mode)
}

// FetchFromHost fetches a file from a specific host, handling acquire/release automatically.
func (cm *PooledConnectionManager) FetchFromHost(ctx context.Context, info types.ConnectionInfo, src string) (io.Reader, error) {
	h, err := cm.pool.Acquire(ctx, info)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	conn, err := h.Connection()
	if err != nil {
		return nil, err
	}
	return conn.Fetch(ctx, src)
}

// Close closes the connection manager and all pooled connections.
func (cm *PooledConnectionManager) Close() error {
	return cm.pool.Close()
}

// Stats returns connection pool statistics.
func (cm *PooledConnectionManager) Stats() PoolStats {
	return cm.pool.Stats()
}

// Global connection manager instance.
var (
	defaultPooledConnectionManager *PooledConnectionManager
	initOnce                      sync.Once
)

// GetDefaultPooledConnectionManager returns the global connection manager instance.
func GetDefaultPooledConnectionManager() *PooledConnectionManager {
	initOnce.Do(func() {
		defaultPooledConnectionManager = NewPooledConnectionManagerWithDefaults()
	})
	return defaultPooledConnectionManager
}

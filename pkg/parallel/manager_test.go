package parallel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

func TestManager_FullyParallelNoBlocking(t *testing.T) {
	m := NewManager(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := m.Acquire(ctx, types.HintFullyParallel, "host1", "debug")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			g.Release()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FullyParallel acquisitions should never block")
	}
}

func TestManager_HostExclusiveSerializesPerHost(t *testing.T) {
	m := NewManager(Config{})
	ctx := context.Background()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := m.Acquire(ctx, types.HintHostExclusive, "host1", "apt")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			g.Release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most 1 concurrent HostExclusive holder, saw %d", maxActive)
	}
}

func TestManager_HostExclusiveIndependentAcrossHosts(t *testing.T) {
	m := NewManager(Config{})
	ctx := context.Background()

	g1, err := m.Acquire(ctx, types.HintHostExclusive, "host1", "apt")
	if err != nil {
		t.Fatalf("Acquire host1 failed: %v", err)
	}
	defer g1.Release()

	acquired := make(chan struct{})
	go func() {
		g2, err := m.Acquire(ctx, types.HintHostExclusive, "host2", "apt")
		if err != nil {
			t.Errorf("Acquire host2 failed: %v", err)
			return
		}
		defer g2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("HostExclusive on a different host should not block")
	}
}

func TestManager_GlobalExclusiveSerializesAcrossHosts(t *testing.T) {
	m := NewManager(Config{})
	ctx := context.Background()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		host := "host"
		go func() {
			defer wg.Done()
			g, err := m.Acquire(ctx, types.HintGlobalExclusive, host, "iptables")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			g.Release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most 1 concurrent GlobalExclusive holder, saw %d", maxActive)
	}
}

func TestManager_RateLimitedThrottles(t *testing.T) {
	m := NewManager(Config{
		RateLimits: map[string]float64{"apicall": 10}, // 10 tokens/sec
		Burst:      map[string]float64{"apicall": 1},
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		g, err := m.Acquire(ctx, types.HintRateLimited, "host1", "apicall")
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		g.Release()
	}
	elapsed := time.Since(start)

	// 5 tokens at 10/sec with burst 1 should take roughly (5-1)/10 = 400ms.
	if elapsed < 300*time.Millisecond {
		t.Errorf("expected rate limiting to introduce delay, took %v", elapsed)
	}
}

func TestManager_RateLimitedRespectsContextCancellation(t *testing.T) {
	m := NewManager(Config{
		RateLimits: map[string]float64{"slow": 0.1}, // one token per 10s
		Burst:      map[string]float64{"slow": 1},
	})

	// Drain the single burst token.
	g, err := m.Acquire(context.Background(), types.HintRateLimited, "host1", "slow")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, types.HintRateLimited, "host1", "slow")
	if err == nil {
		t.Error("expected context deadline error while waiting for a token")
	}
}

func TestManager_DefaultRateAndBurstApplyWhenUnconfigured(t *testing.T) {
	m := NewManager(Config{})
	bucket := m.bucketFor("unconfigured-module")
	if bucket.rate != DefaultRate {
		t.Errorf("expected default rate %v, got %v", DefaultRate, bucket.rate)
	}
	if bucket.capacity != DefaultBurst {
		t.Errorf("expected default burst %v, got %v", DefaultBurst, bucket.capacity)
	}
}

func TestManager_UnknownHintTreatedAsFullyParallel(t *testing.T) {
	m := NewManager(Config{})
	g, err := m.Acquire(context.Background(), types.ParallelHint("bogus"), "host1", "mod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Release()
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	b := newTokenBucket(100, 1) // fast refill for test speed

	if err := b.Take(context.Background()); err != nil {
		t.Fatalf("first Take failed: %v", err)
	}

	// Immediately after draining, a second Take should have to wait ~10ms.
	start := time.Now()
	if err := b.Take(context.Background()); err != nil {
		t.Fatalf("second Take failed: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected Take to wait for refill")
	}
}

func BenchmarkManager_HostExclusiveAcquireRelease(b *testing.B) {
	m := NewManager(Config{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g, err := m.Acquire(ctx, types.HintHostExclusive, "host1", "apt")
		if err != nil {
			b.Fatal(err)
		}
		g.Release()
	}
}

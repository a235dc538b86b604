package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// 多个 goroutine 在 7 个 source 上并发读写并统计，MaxOpenStores=3 使驱逐持续发生。
func TestConcurrentAccessUnderEviction(t *testing.T) {
	backend := newMemBackend()
	c := newTestCache(t, Options{Opener: backend.open, MaxOpenStores: MinMaxOpenStores})
	ctx := context.Background()

	const (
		workers   = 16
		perWorker = 40
		sources   = 7
	)

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				source := fmt.Sprintf("s%d", (w+i)%sources)
				key := TileKey{X: w, Y: i, Zoom: 1}
				payload := []byte(fmt.Sprintf("%d-%d", w, i))

				if err := c.PutTile(ctx, source, key, payload, PutOptions{}); err != nil {
					errs <- fmt.Errorf("put %s %s: %w", source, key, err)
					continue
				}
				rec, hit := c.GetTile(ctx, source, key)
				if !hit || string(rec.Data) != string(payload) {
					errs <- fmt.Errorf("read back %s %s: hit=%v", source, key, hit)
				}
				if i%5 == 0 {
					if n := c.TileCount(ctx, source); n < 1 {
						errs <- fmt.Errorf("count %s: got %d", source, n)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// 所有写入在并发驱逐之后仍可读回。
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			source := fmt.Sprintf("s%d", (w+i)%sources)
			key := TileKey{X: w, Y: i, Zoom: 1}
			if _, hit := c.GetTile(ctx, source, key); !hit {
				t.Errorf("lost write %s %s", source, key)
			}
		}
	}

	if open := c.OpenStores(); len(open) > MinMaxOpenStores {
		t.Fatalf("expected at most %d open stores, got %d", MinMaxOpenStores, len(open))
	}

	c.CloseAll(false)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	for dir, peak := range backend.maxLive {
		if peak > 1 {
			t.Errorf("%s had %d engines open at once", dir, peak)
		}
		if backend.live[dir] != 0 {
			t.Errorf("%s still has %d open engines after CloseAll", dir, backend.live[dir])
		}
	}
	for _, e := range backend.engines {
		if e.closes > 1 {
			t.Errorf("engine for %s closed %d times", e.dir, e.closes)
		}
	}
}

func TestWithHandleRetriesUntilHandleStaysOpen(t *testing.T) {
	backend := newMemBackend()
	c := newTestCache(t, Options{Opener: backend.open})
	ctx := context.Background()

	attempts := 0
	err := c.withHandle(ctx, "osm", func(h *StoreHandle) error {
		attempts++
		if attempts <= 3 {
			// 模拟句柄在获取后被并发驱逐。
			_ = c.registry.discard(h)
		}
		return h.put(TileRecord{Key: TileKey{}, Data: []byte("x")})
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	if got := backend.openCount(filepath.Join(c.registry.root, "db-osm")); got != 4 {
		t.Fatalf("expected a fresh open per attempt, got %d", got)
	}
}

func TestWithHandleStopsRetryingWhenContextEnds(t *testing.T) {
	backend := newMemBackend()
	c := newTestCache(t, Options{Opener: backend.open})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	err := c.withHandle(ctx, "osm", func(h *StoreHandle) error {
		attempts++
		_ = c.registry.discard(h)
		cancel()
		return errHandleClosed
	})
	if !IsInterrupted(err) {
		t.Fatalf("expected interrupted error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

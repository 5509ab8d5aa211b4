// Package loader materializes chunk data on behalf of the render path.
//
// The octree core is passive: a Chunk performs no locking and never starts
// its own loads. Chunks can be shared across request goroutines through the
// chunk cache, so every load-state transition funnels through the loader's
// lock. Concurrent loads of the same chunk coalesce into one read; the
// others wait for it.
package loader

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pyratiles/server/internal/octree"
)

type flight struct {
	done chan struct{}
	err  error
}

// Loader performs synchronous loads for the request path and keeps a small
// worker pool for prefetching.
type Loader struct {
	mu       sync.Mutex
	inflight map[*octree.Chunk]*flight

	startOnce sync.Once
	jobs      chan *octree.Chunk
	wg        sync.WaitGroup
}

// New creates a loader.
func New() *Loader {
	return &Loader{
		inflight: make(map[*octree.Chunk]*flight),
		jobs:     make(chan *octree.Chunk, 256),
	}
}

// Load materializes the chunk's data if it is not already in memory. If a
// load for the same chunk is in flight, Load waits for it instead of
// reading twice. On failure the chunk reverts to the unloaded state with
// its deferred data intact; retrying is the caller's decision.
func (l *Loader) Load(ctx context.Context, c *octree.Chunk) error {
	l.mu.Lock()

	if c.InMemory() {
		l.mu.Unlock()
		return nil
	}
	if fl, ok := l.inflight[c]; ok {
		l.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ref, ok := c.DeferredData()
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("chunk %s has no deferred data", c)
	}

	fl := &flight{done: make(chan struct{})}
	l.inflight[c] = fl
	c.SetLoading(true)
	l.mu.Unlock()

	// The read happens outside the lock; it may hit disk.
	m, err := ref.Read(ctx)

	l.mu.Lock()
	if err != nil {
		// Revert to unloaded; the deferred reference is untouched.
		c.SetLoading(false)
		fl.err = fmt.Errorf("failed to load %s: %w", ref, err)
	} else {
		fl.err = c.SetLoaded(m)
	}
	delete(l.inflight, c)
	l.mu.Unlock()

	close(fl.done)
	return fl.err
}

// InMemory reports the chunk's load state under the loader's lock.
func (l *Loader) InMemory(c *octree.Chunk) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return c.InMemory()
}

// Clear resets a chunk to its original deferred data under the loader's
// lock. Used when running without the cache so revisits recompute.
func (l *Loader) Clear(c *octree.Chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inflight[c]; ok {
		// An in-flight read will finish and overwrite the cleared state;
		// leave the chunk alone and let the result be dropped by its owner.
		return
	}
	c.Clear()
}

// Start launches the prefetch workers.
func (l *Loader) Start(workers int) {
	l.startOnce.Do(func() {
		if workers <= 0 {
			workers = 2
		}
		for i := 0; i < workers; i++ {
			l.wg.Add(1)
			go l.worker()
		}
	})
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for c := range l.jobs {
		if err := l.Load(context.Background(), c); err != nil {
			log.Printf("prefetch failed: %v", err)
		}
	}
}

// Prefetch queues a chunk for background loading. It never blocks; when
// the queue is full the chunk is skipped and will load on demand instead.
func (l *Loader) Prefetch(c *octree.Chunk) bool {
	l.mu.Lock()
	needs := c.NeedsLoad()
	_, inflight := l.inflight[c]
	l.mu.Unlock()
	if !needs || inflight {
		return false
	}

	select {
	case l.jobs <- c:
		return true
	default:
		return false
	}
}

// Stop drains the prefetch queue and waits for the workers.
func (l *Loader) Stop() {
	l.startOnce.Do(func() {}) // Stop without Start must not hang on close
	close(l.jobs)
	l.wg.Wait()
}

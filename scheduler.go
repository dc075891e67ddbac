package terrain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// schedulerIdleSleep is how long an idle worker sleeps before rechecking
// the queue, instead of spinning on the lock.
const schedulerIdleSleep = 2 * time.Millisecond

// resultBuffer bounds the completion channel. The bookkeeping loop
// drains it continuously; the bound only matters during shutdown.
const resultBuffer = 256

// LoadResult is one completed streaming job, posted by a worker and
// consumed by the engine's bookkeeping loop. Workers never touch manager
// state directly.
type LoadResult struct {
	Coord    tile.Coordinate
	Err      error
	Duration time.Duration
}

// SchedulerStats counts streaming activity since construction.
type SchedulerStats struct {
	Enqueued  uint64
	Completed uint64
	Failed    uint64
	Stale     uint64
}

// Scheduler streams tile data on a fixed worker pool. Coordinates are
// queued FIFO with a pending set so a tile is never queued twice;
// workers claim the tile, load its height data, upload to the GPU, and
// post a LoadResult.
type Scheduler struct {
	mgr      *Manager
	reader   tile.DatasetReader
	cache    tile.HeightCache
	alloc    *pool.Allocator
	uploader tile.Uploader

	mu      sync.Mutex
	queue   []tile.Coordinate
	pending map[tile.Coordinate]struct{}
	stats   SchedulerStats

	results chan LoadResult
	stop    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler creates a scheduler with workers goroutines and starts
// them. uploader may be nil (stub mode).
func NewScheduler(mgr *Manager, reader tile.DatasetReader, cache tile.HeightCache, alloc *pool.Allocator, uploader tile.Uploader, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		mgr:      mgr,
		reader:   reader,
		cache:    cache,
		alloc:    alloc,
		uploader: uploader,
		pending:  make(map[tile.Coordinate]struct{}),
		results:  make(chan LoadResult, resultBuffer),
		stop:     make(chan struct{}),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	Logger().Info("streaming workers started", "workers", workers)
	return s
}

// Enqueue queues a tile for loading. A coordinate already queued or in
// flight is not queued again. Returns whether the coordinate was added.
func (s *Scheduler) Enqueue(coord tile.Coordinate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.pending[coord]; ok {
		return false
	}
	s.pending[coord] = struct{}{}
	s.queue = append(s.queue, coord)
	s.stats.Enqueued++
	return true
}

// QueueLen returns the number of coordinates waiting or in flight.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Results is the completion stream. It is closed after Stop returns.
func (s *Scheduler) Results() <-chan LoadResult {
	return s.results
}

// Stats returns a snapshot of streaming counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop drains no further work, waits for in-flight jobs, and closes the
// results channel. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	close(s.results)
}

// pop takes the next queued coordinate.
func (s *Scheduler) pop() (tile.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return tile.Coordinate{}, false
	}
	coord := s.queue[0]
	s.queue = s.queue[1:]
	return coord, true
}

// finish retires a coordinate from the pending set and records the
// outcome.
func (s *Scheduler) finish(coord tile.Coordinate, err error) {
	s.mu.Lock()
	delete(s.pending, coord)
	switch {
	case err == nil:
		s.stats.Completed++
	case errors.Is(err, tile.ErrStaleLoad):
		s.stats.Stale++
	default:
		s.stats.Failed++
	}
	s.mu.Unlock()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		coord, ok := s.pop()
		if !ok {
			select {
			case <-s.stop:
				return
			case <-time.After(schedulerIdleSleep):
				continue
			}
		}

		res := LoadResult{Coord: coord}
		start := time.Now()
		res.Err = s.process(coord)
		res.Duration = time.Since(start)
		s.finish(coord, res.Err)

		select {
		case s.results <- res:
		case <-s.stop:
			return
		}
	}
}

// process runs one tile through load and upload. The tile's own state
// machine rejects stale or duplicate work.
func (s *Scheduler) process(coord tile.Coordinate) error {
	t := s.mgr.GetTile(coord)
	if t == nil {
		// Removed between enqueue and claim; nothing to do.
		return nil
	}
	if err := t.LoadData(context.Background(), s.reader, s.cache, coord.String()); err != nil {
		return err
	}
	return t.UploadToGPU(s.alloc, s.uploader)
}

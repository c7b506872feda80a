package discovery

import (
	"context"
	"sync"
	"time"

	"webmetrics/internal/logger"
	"webmetrics/internal/queue"
)

// Publisher is the queue side the scheduler writes to.
type Publisher interface {
	Publish(ctx context.Context, item queue.WorkItem) error
}

// Dispatch summarizes one poll or import. Skipped covers exclusions,
// unusable names and items that were already pending.
type Dispatch struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// Scheduler runs discovery on a fixed interval and remembers which files are
// in flight so overlapping polls do not queue them twice. The worker calls
// Release once it is done with a file.
type Scheduler struct {
	discoverer *Discoverer
	publisher  Publisher
	root       string
	interval   time.Duration
	logger     *logger.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(d *Discoverer, pub Publisher, root string, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		discoverer: d,
		publisher:  pub,
		root:       root,
		interval:   interval,
		logger:     log,
		pending:    make(map[string]struct{}),
	}
}

// Start polls once right away and then every interval until Stop is called
// or ctx ends. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Poll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Poll(ctx)
			}
		}
	}()
	s.logger.Info("[scheduler] polling %s every %s", s.root, s.interval)
}

// Stop ends the polling loop and waits for a poll in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("[scheduler] stopped")
}

// Poll scans the data root once and queues every file not already pending.
func (s *Scheduler) Poll(ctx context.Context) Dispatch {
	var items []queue.WorkItem
	stats := s.discoverer.Scan(s.root, func(it queue.WorkItem) { items = append(items, it) })
	d, _ := s.dispatch(ctx, items)
	d.Skipped += stats.Skipped + stats.Rejected
	if d.Queued > 0 {
		s.logger.Info("[scheduler] poll queued %d files (%d skipped)", d.Queued, d.Skipped)
	}
	return d
}

// Import queues a single file or directory for site. It returns ctx's error
// if ctx ends while the queue is full; files queued before that stay queued.
func (s *Scheduler) Import(ctx context.Context, site, path string) (Dispatch, error) {
	var items []queue.WorkItem
	stats, err := s.discoverer.ScanImport(site, path, func(it queue.WorkItem) { items = append(items, it) })
	if err != nil {
		return Dispatch{}, err
	}
	d, err := s.dispatch(ctx, items)
	d.Skipped += stats.Skipped + stats.Rejected
	if err != nil {
		return d, err
	}
	s.logger.Info("[scheduler] import of %s (site=%s) queued %d files (%d skipped)", path, site, d.Queued, d.Skipped)
	return d, nil
}

// Release forgets filePath so a later poll may queue it again.
func (s *Scheduler) Release(filePath string) {
	s.mu.Lock()
	delete(s.pending, filePath)
	s.mu.Unlock()
}

// Pending is the number of files queued and not yet released.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// dispatch stops early once ctx is done.
func (s *Scheduler) dispatch(ctx context.Context, items []queue.WorkItem) (Dispatch, error) {
	var d Dispatch
	for _, it := range items {
		if !s.claim(it.FilePath) {
			s.logger.Trace("[scheduler] %s already pending", it.FilePath)
			d.Skipped++
			continue
		}
		if err := s.publisher.Publish(ctx, it); err != nil {
			s.logger.Error("[scheduler] cannot queue %s (site=%s date=%s): %v",
				it.FilePath, it.Site, it.ReportDate.Format("2006-01-02"), err)
			s.Release(it.FilePath)
			if ctx.Err() != nil {
				return d, ctx.Err()
			}
			d.Skipped++
			continue
		}
		d.Queued++
	}
	return d, nil
}

func (s *Scheduler) claim(filePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[filePath]; ok {
		return false
	}
	s.pending[filePath] = struct{}{}
	return true
}

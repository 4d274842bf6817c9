package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
	"statebridge/internal/localstore"
	"statebridge/internal/metrics"
	"statebridge/internal/repository"

	"github.com/google/uuid"
)

type ActivityOptions struct {
	FlushInterval  time.Duration
	BatchThreshold int
	// RequeueLimit caps how many entries of a failed batch go back on the
	// queue. The rest are dropped and counted.
	RequeueLimit  int
	LocalRingSize int
	Timeout       time.Duration
}

func DefaultActivityOptions() ActivityOptions {
	return ActivityOptions{
		FlushInterval:  30 * time.Second,
		BatchThreshold: 10,
		RequeueLimit:   10,
		LocalRingSize:  50,
		Timeout:        DefaultOperationTimeout,
	}
}

// ActivityRecorder buffers activity for authenticated identities and ships
// it in batches. Anonymous activity only goes to the local ring.
type ActivityRecorder struct {
	repo     repository.ActivityRepository
	local    localstore.Store
	platform PlatformSource
	opts     ActivityOptions
	logger   *slog.Logger

	mu         sync.Mutex
	queue      []*domain.ActivityLogEntry
	processing bool

	dropped  atomic.Int64
	inflight sync.WaitGroup
}

func NewActivityRecorder(repo repository.ActivityRepository, local localstore.Store, platform PlatformSource, opts ActivityOptions, logger *slog.Logger) *ActivityRecorder {
	defaults := DefaultActivityOptions()
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaults.FlushInterval
	}
	if opts.BatchThreshold <= 0 {
		opts.BatchThreshold = defaults.BatchThreshold
	}
	if opts.RequeueLimit < 0 {
		opts.RequeueLimit = 0
	}
	if opts.LocalRingSize <= 0 {
		opts.LocalRingSize = defaults.LocalRingSize
	}

	return &ActivityRecorder{
		repo:     repo,
		local:    local,
		platform: platform,
		opts:     opts,
		logger:   loggerOrDefault(logger),
	}
}

// Record never blocks on the network and never fails the caller. A string
// "route" in metadata is lifted onto the entry.
func (r *ActivityRecorder) Record(ctx context.Context, action string, metadata map[string]any) {
	if action == "" {
		r.logger.Debug("activity without action ignored")
		return
	}

	entry := &domain.ActivityLogEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
	if len(metadata) > 0 {
		entry.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			entry.Metadata[k] = v
		}
		if route, ok := metadata["route"].(string); ok {
			entry.Route = route
		}
	}
	if r.platform != nil {
		entry.Platform = r.platform.PlatformType()
	}

	identityID, ok := identity.FromContext(ctx)
	if !ok {
		if err := r.local.AppendActivity(ctx, entry, r.opts.LocalRingSize); err != nil {
			r.logger.Warn("local activity not stored", "action", action, "error", err)
			return
		}
		metrics.ActivityRecorded.WithLabelValues("local").Inc()
		return
	}
	entry.IdentityID = identityID

	r.mu.Lock()
	r.queue = append(r.queue, entry)
	depth := len(r.queue)
	trigger := depth >= r.opts.BatchThreshold && !r.processing
	r.mu.Unlock()

	metrics.ActivityRecorded.WithLabelValues("remote").Inc()
	metrics.ActivityQueueDepth.Set(float64(depth))

	if trigger {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.Flush(context.WithoutCancel(ctx))
		}()
	}
}

// RecordRoute records a navigation to route.
func (r *ActivityRecorder) RecordRoute(ctx context.Context, route string) {
	r.Record(ctx, "page_view", map[string]any{"route": route})
}

// Flush ships the whole queue as one batch. Only one flush runs at a time;
// a call made while another is in flight returns immediately.
func (r *ActivityRecorder) Flush(ctx context.Context) {
	for {
		r.mu.Lock()
		if r.processing || len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		batch := r.queue
		r.queue = nil
		r.processing = true
		r.mu.Unlock()

		err := remoteCall(ctx, r.opts.Timeout, "activity_insert_batch", func(ctx context.Context) error {
			return r.repo.InsertBatch(ctx, batch)
		})
		metrics.ActivityFlushes.WithLabelValues(metrics.Status(err)).Inc()

		r.mu.Lock()
		r.processing = false
		if err != nil {
			keep := batch
			lost := 0
			if len(keep) > r.opts.RequeueLimit {
				lost = len(keep) - r.opts.RequeueLimit
				keep = keep[:r.opts.RequeueLimit]
			}
			r.queue = append(append(make([]*domain.ActivityLogEntry, 0, len(keep)+len(r.queue)), keep...), r.queue...)
			depth := len(r.queue)
			r.mu.Unlock()

			if lost > 0 {
				r.dropped.Add(int64(lost))
				metrics.ActivityDropped.Add(float64(lost))
			}
			metrics.ActivityQueueDepth.Set(float64(depth))
			r.logger.Warn("activity flush failed",
				"batch", len(batch),
				"requeued", len(keep),
				"dropped", lost,
				"error", err,
			)
			return
		}

		depth := len(r.queue)
		again := depth >= r.opts.BatchThreshold
		r.mu.Unlock()

		metrics.ActivityQueueDepth.Set(float64(depth))
		if !again {
			return
		}
	}
}

// Run flushes on every interval tick until ctx is done, then makes one
// final attempt to ship what is left.
func (r *ActivityRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(ctx)
		case <-ctx.Done():
			r.inflight.Wait()
			r.Flush(context.WithoutCancel(ctx))
			return
		}
	}
}

// Wait blocks until threshold-triggered flushes have finished.
func (r *ActivityRecorder) Wait() {
	r.inflight.Wait()
}

func (r *ActivityRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *ActivityRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *ActivityRecorder) LocalEntries(ctx context.Context) ([]*domain.ActivityLogEntry, error) {
	return r.local.Activity(ctx)
}

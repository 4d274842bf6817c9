package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/localstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPlatform struct {
	desc domain.PlatformDescriptor
}

func (p staticPlatform) Platform() domain.PlatformDescriptor { return p.desc.Clone() }
func (p staticPlatform) PlatformType() domain.PlatformType   { return p.desc.Type }

func newTestRecorder(spy *spyBackend, opts ActivityOptions) (*ActivityRecorder, *localstore.MemoryStore) {
	local := localstore.NewMemoryStore()
	recorder := NewActivityRecorder(spy.Backend().Activity, local, staticPlatform{descriptor(domain.PlatformDesktop)}, opts, discardLogger())
	return recorder, local
}

func testActivityOptions(threshold, requeue int) ActivityOptions {
	return ActivityOptions{
		FlushInterval:  time.Hour,
		BatchThreshold: threshold,
		RequeueLimit:   requeue,
		LocalRingSize:  50,
		Timeout:        time.Second,
	}
}

func actions(entries []*domain.ActivityLogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestActivityRecorder_AnonymousStaysLocal(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(10, 10))
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		recorder.Record(ctx, fmt.Sprintf("action-%d", i), nil)
	}
	recorder.Flush(ctx)
	recorder.Wait()

	assert.Equal(t, 0, spy.total())
	assert.Equal(t, 0, recorder.Pending())

	entries, err := recorder.LocalEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 50)
	assert.Equal(t, "action-10", entries[0].Action)
	assert.Equal(t, "action-59", entries[49].Action)
}

func TestActivityRecorder_ThresholdTriggersFlush(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(10, 10))
	ctx := userCtx("user-1")

	for i := 0; i < 9; i++ {
		recorder.Record(ctx, "edit", nil)
	}
	recorder.Wait()
	assert.Equal(t, 9, recorder.Pending())
	assert.Equal(t, 0, spy.count(opActivityInsert))

	recorder.Record(ctx, "edit", nil)
	recorder.Wait()

	assert.Equal(t, 0, recorder.Pending())
	assert.Equal(t, 1, spy.count(opActivityInsert))
	assert.Len(t, spy.store.ActivityEntries(), 10)
}

func TestActivityRecorder_EntryFields(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(10, 10))
	ctx := userCtx("user-1")

	metadata := map[string]any{"route": "/projects/42", "count": 3}
	recorder.Record(ctx, "open_project", metadata)
	metadata["count"] = 99
	recorder.RecordRoute(ctx, "/settings")
	recorder.Flush(ctx)

	entries := spy.store.ActivityEntries()
	require.Len(t, entries, 2)

	assert.Equal(t, "open_project", entries[0].Action)
	assert.Equal(t, "user-1", entries[0].IdentityID)
	assert.Equal(t, "/projects/42", entries[0].Route)
	assert.Equal(t, domain.PlatformDesktop, entries[0].Platform)
	assert.EqualValues(t, 3, entries[0].Metadata["count"])
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())

	assert.Equal(t, "page_view", entries[1].Action)
	assert.Equal(t, "/settings", entries[1].Route)
}

func TestActivityRecorder_EmptyActionIgnored(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, local := newTestRecorder(spy, testActivityOptions(10, 10))

	recorder.Record(userCtx("user-1"), "", nil)
	recorder.Record(context.Background(), "", nil)

	assert.Equal(t, 0, recorder.Pending())
	entries, _ := local.Activity(context.Background())
	assert.Empty(t, entries)
}

func TestActivityRecorder_FailedFlushRequeuesBounded(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(100, 10))
	ctx := userCtx("user-1")

	for i := 0; i < 25; i++ {
		recorder.Record(ctx, fmt.Sprintf("a%02d", i), nil)
	}

	spy.failOn(opActivityInsert, errors.New("backend down"))
	recorder.Flush(ctx)

	assert.Equal(t, 10, recorder.Pending())
	assert.EqualValues(t, 15, recorder.Dropped())

	recorder.Record(ctx, "late", nil)

	spy.failOn(opActivityInsert, nil)
	recorder.Flush(ctx)

	assert.Equal(t, 0, recorder.Pending())
	assert.Equal(t, []string{
		"a00", "a01", "a02", "a03", "a04", "a05", "a06", "a07", "a08", "a09", "late",
	}, actions(spy.store.ActivityEntries()))
}

func TestActivityRecorder_RequeueLimitConfigurable(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(100, 3))
	ctx := userCtx("user-1")

	for i := 0; i < 8; i++ {
		recorder.Record(ctx, "edit", nil)
	}
	spy.failOn(opActivityInsert, errors.New("backend down"))
	recorder.Flush(ctx)

	assert.Equal(t, 3, recorder.Pending())
	assert.EqualValues(t, 5, recorder.Dropped())
}

func TestActivityRecorder_RetryAfterPartialWriteDoesNotDuplicate(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(100, 10))
	ctx := userCtx("user-1")

	for i := 0; i < 5; i++ {
		recorder.Record(ctx, fmt.Sprintf("a%d", i), nil)
	}

	spy.failAfterWrite(opActivityInsert, errors.New("response lost"))
	recorder.Flush(ctx)
	assert.Equal(t, 5, recorder.Pending())

	spy.failAfterWrite(opActivityInsert, nil)
	recorder.Flush(ctx)

	assert.Equal(t, 0, recorder.Pending())
	assert.Len(t, spy.store.ActivityEntries(), 5)
}

// gatedActivity blocks every InsertBatch until released and tracks how many
// run at once.
type gatedActivity struct {
	release  chan struct{}
	entered  chan struct{}
	running  atomic.Int32
	maxSeen  atomic.Int32
	mu       sync.Mutex
	received int
}

func (g *gatedActivity) InsertBatch(ctx context.Context, entries []*domain.ActivityLogEntry) error {
	n := g.running.Add(1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	g.entered <- struct{}{}
	<-g.release
	g.running.Add(-1)

	g.mu.Lock()
	g.received += len(entries)
	g.mu.Unlock()
	return nil
}

func TestActivityRecorder_OneFlushInFlight(t *testing.T) {
	gate := &gatedActivity{release: make(chan struct{}), entered: make(chan struct{}, 10)}
	recorder := NewActivityRecorder(gate, localstore.NewMemoryStore(), nil, testActivityOptions(2, 10), discardLogger())
	ctx := userCtx("user-1")

	recorder.Record(ctx, "a", nil)
	recorder.Record(ctx, "b", nil)
	<-gate.entered

	for i := 0; i < 5; i++ {
		recorder.Record(ctx, "c", nil)
	}
	done := make(chan struct{})
	go func() {
		recorder.Flush(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush() blocked while another flush was in flight")
	}

	close(gate.release)
	recorder.Wait()
	recorder.Flush(ctx)

	assert.EqualValues(t, 1, gate.maxSeen.Load())
	assert.Equal(t, 0, recorder.Pending())
	assert.Equal(t, 7, gate.received)
}

func TestActivityRecorder_RunFlushesOnIntervalAndShutdown(t *testing.T) {
	spy := newSpyBackend(nil)
	opts := testActivityOptions(100, 10)
	opts.FlushInterval = 20 * time.Millisecond
	recorder, _ := newTestRecorder(spy, opts)
	ctx := userCtx("user-1")

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		recorder.Run(runCtx)
		close(stopped)
	}()

	recorder.Record(ctx, "tick", nil)
	require.Eventually(t, func() bool {
		return len(spy.store.ActivityEntries()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	recorder.Record(ctx, "after", nil)
	assert.Equal(t, 1, recorder.Pending())
}

func TestActivityRecorder_RunFinalFlush(t *testing.T) {
	spy := newSpyBackend(nil)
	recorder, _ := newTestRecorder(spy, testActivityOptions(100, 10))
	ctx := userCtx("user-1")

	for i := 0; i < 3; i++ {
		recorder.Record(ctx, "pending", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	recorder.Run(runCtx)

	assert.Equal(t, 0, recorder.Pending())
	assert.Len(t, spy.store.ActivityEntries(), 3)
}

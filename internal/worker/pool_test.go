package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/worker"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

func TestPoolRunsSubmittedStepsToCompletion(t *testing.T) {
	var completed int32
	handler := &fakeHandler{
		deleteFn: func(ctx context.Context, file storage.File) error {
			atomic.AddInt32(&completed, 1)
			return nil
		},
	}

	pool := worker.NewPool(2, tracked.NewMemIndex(), disabledScanner(), events.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		pool.Submit(&workflow.Step{Action: workflow.Delete, File: &fakeFile{name: "a.mov"}, Target: targetWith(handler)})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPoolCapsConcurrencyAtSize(t *testing.T) {
	var inFlight, maxInFlight int32
	release := make(chan struct{})
	handler := &fakeHandler{
		deleteFn: func(ctx context.Context, file storage.File) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return nil
		},
	}

	pool := worker.NewPool(2, tracked.NewMemIndex(), disabledScanner(), events.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pool.Run(ctx)

	for i := 0; i < 4; i++ {
		pool.Submit(&workflow.Step{Action: workflow.Delete, File: &fakeFile{name: "a.mov"}, Target: targetWith(handler)})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&inFlight) == 2
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&maxInFlight) == 2
	}, time.Second, 5*time.Millisecond)
}

package attestation_expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/pkg/logger"
)

type fakeExpirer struct {
	mu     sync.Mutex
	calls  int
	limits []int
	n      int
	err    error
}

func (f *fakeExpirer) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

func (f *fakeExpirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(&fakeExpirer{}, nil, logger.NewLogger(zap.NewNop()))
	assert.Equal(t, time.Minute, w.checkInterval)
	assert.Equal(t, 100, w.batchSize)

	w = NewWorker(&fakeExpirer{}, &Config{CheckInterval: -1, BatchSize: 0}, logger.NewLogger(zap.NewNop()))
	assert.Equal(t, time.Minute, w.checkInterval)
	assert.Equal(t, 100, w.batchSize)
}

func TestRunOncePassesBatchSize(t *testing.T) {
	expirer := &fakeExpirer{n: 3}
	w := NewWorker(expirer, &Config{CheckInterval: time.Hour, BatchSize: 25}, logger.NewLogger(zap.NewNop()))

	w.RunOnce(context.Background())

	assert.Equal(t, 1, expirer.callCount())
	assert.Equal(t, []int{25}, expirer.limits)
}

func TestRunOnceToleratesExpirerError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("database unavailable")}
	w := NewWorker(expirer, nil, logger.NewLogger(zap.NewNop()))

	w.RunOnce(context.Background())
	assert.Equal(t, 1, expirer.callCount())
}

func TestWorkerSweepsOnInterval(t *testing.T) {
	expirer := &fakeExpirer{}
	w := NewWorker(expirer, &Config{CheckInterval: 5 * time.Millisecond, BatchSize: 10}, logger.NewLogger(zap.NewNop()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return expirer.callCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	expirer := &fakeExpirer{}
	w := NewWorker(expirer, &Config{CheckInterval: time.Hour}, logger.NewLogger(zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	// The immediate startup sweep still ran.
	assert.Equal(t, 1, expirer.callCount())
}

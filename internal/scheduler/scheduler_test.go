package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lunara-sentinel/internal/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	held     bool
	acquired int
	released []string
	err      error
}

func (f *fakeLock) Acquire(context.Context) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if f.held {
		return "", false, nil
	}
	f.held = true
	f.acquired++
	return "token-1", true, nil
}

func (f *fakeLock) Release(_ context.Context, token string) error {
	f.held = false
	f.released = append(f.released, token)
	return nil
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  int
	err   error
	panic bool
}

func (f *fakeRunner) RunPass(context.Context) (monitor.PassStats, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return monitor.PassStats{}, f.err
	}
	return monitor.PassStats{Evaluated: 3, Closed: 1}, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeGateway struct {
	available bool
	pingErr   error
	skipped   int
}

func (f *fakeGateway) Available() bool            { return f.available }
func (f *fakeGateway) Ping(context.Context) error { return f.pingErr }
func (f *fakeGateway) RecordSkippedCycle()        { f.skipped++ }

func newTestScheduler(lock Locker, runner CycleRunner, gw Availability) *Scheduler {
	return New(lock, runner, gw, nil, time.Minute, "")
}

func TestRunCycleHappyPath(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{}
	s := newTestScheduler(lock, runner, &fakeGateway{available: true})

	s.RunCycle(context.Background())

	assert.Equal(t, 1, runner.runCount())
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, []string{"token-1"}, lock.released)
	assert.Equal(t, StateIdle, s.State())
}

func TestRunCycleStandsDownOnContention(t *testing.T) {
	lock := &fakeLock{held: true}
	runner := &fakeRunner{}
	s := newTestScheduler(lock, runner, &fakeGateway{available: true})

	s.RunCycle(context.Background())

	assert.Equal(t, 0, runner.runCount(), "contended cycle must not run")
	assert.Empty(t, lock.released, "a lock we never took must not be released")
	assert.Equal(t, StateIdle, s.State())
}

func TestRunCycleReleasesLockOnFailure(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{err: errors.New("database gone")}
	s := newTestScheduler(lock, runner, &fakeGateway{available: true})

	s.RunCycle(context.Background())

	assert.Equal(t, []string{"token-1"}, lock.released)
	assert.False(t, lock.held)
	assert.Equal(t, StateIdle, s.State())
}

func TestRunCycleReleasesLockOnPanic(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{panic: true}
	s := newTestScheduler(lock, runner, &fakeGateway{available: true})

	require.NotPanics(t, func() { s.RunCycle(context.Background()) })
	assert.Equal(t, []string{"token-1"}, lock.released)
	assert.False(t, lock.held)
}

func TestRunCycleSkipsWhenGatewayDown(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{}
	gw := &fakeGateway{available: false, pingErr: errors.New("still down")}
	s := newTestScheduler(lock, runner, gw)

	s.RunCycle(context.Background())

	assert.Equal(t, 0, runner.runCount())
	assert.Equal(t, 0, lock.acquired, "no point holding the lock with no market data")
	assert.Equal(t, 1, gw.skipped)
}

func TestRunCycleProbesRecovery(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{}
	// Gateway marked down but the probe succeeds: the cycle proceeds.
	gw := &fakeGateway{available: false, pingErr: nil}
	s := newTestScheduler(lock, runner, gw)

	s.RunCycle(context.Background())

	assert.Equal(t, 1, runner.runCount())
	assert.Equal(t, 0, gw.skipped)
}

func TestRunCycleLockErrorSkipsQuietly(t *testing.T) {
	lock := &fakeLock{err: errors.New("redis timeout")}
	runner := &fakeRunner{}
	s := newTestScheduler(lock, runner, &fakeGateway{available: true})

	s.RunCycle(context.Background())

	assert.Equal(t, 0, runner.runCount())
	assert.Equal(t, StateIdle, s.State())
}

func TestWakeTriggersImmediateCycle(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{}
	s := New(lock, runner, &fakeGateway{available: true}, nil, time.Hour, "")

	s.Start(context.Background())
	defer s.Stop()

	s.Wake()
	require.Eventually(t, func() bool { return runner.runCount() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestWakeCollapsesPendingRequests(t *testing.T) {
	s := New(&fakeLock{}, &fakeRunner{}, &fakeGateway{available: true}, nil, time.Hour, "")

	// Never started: wake-ups queue into the buffered channel and collapse.
	s.Wake()
	s.Wake()
	s.Wake()
	assert.Len(t, s.wake, 1)
}

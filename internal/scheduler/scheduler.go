package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lunara-sentinel/internal/logging"
	"lunara-sentinel/internal/monitor"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// State of the cycle state machine.
type State string

const (
	StateIdle         State = "IDLE"
	StateLocked       State = "LOCKED"
	StateRunning      State = "RUNNING"
	StateComplete     State = "COMPLETE"
	StateFailed       State = "FAILED"
	StateLockReleased State = "LOCK_RELEASED"
)

// Locker is the mutual exclusion primitive guarding cycle execution.
type Locker interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// CycleRunner executes one monitoring pass.
type CycleRunner interface {
	RunPass(ctx context.Context) (monitor.PassStats, error)
}

// Availability is the gateway health surface the scheduler consults before
// committing to a cycle.
type Availability interface {
	Available() bool
	Ping(ctx context.Context) error
	RecordSkippedCycle()
}

// ControlSignal is the message published on the control channel. Only
// "run" is understood; it asks for an immediate cycle.
type ControlSignal struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
}

// Scheduler drives the autotrade cycle: one pass per interval, plus
// on-demand passes requested over Redis pub/sub. The pub/sub listener
// never runs a cycle itself; it only forwards a wake-up into the loop, so
// every pass goes through the same lock and state machine.
type Scheduler struct {
	lock     Locker
	runner   CycleRunner
	gateway  Availability
	redis    *redis.Client
	interval time.Duration
	channel  string
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	running bool

	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(lock Locker, runner CycleRunner, gateway Availability, rdb *redis.Client, interval time.Duration, controlChannel string) *Scheduler {
	return &Scheduler{
		lock:     lock,
		runner:   runner,
		gateway:  gateway,
		redis:    rdb,
		interval: interval,
		channel:  controlChannel,
		log:      logging.Component("scheduler"),
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// State returns the current cycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start launches the cycle loop and the control listener.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)

	if s.redis != nil && s.channel != "" {
		s.wg.Add(1)
		go s.subscribeLoop(ctx)
	}
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop shuts the scheduler down and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Wake requests an immediate cycle. Requests collapse: a cycle already
// pending absorbs further wake-ups.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.wake:
			s.RunCycle(ctx)
		}
	}
}

// subscribeLoop forwards "run" control messages into the wake channel.
func (s *Scheduler) subscribeLoop(ctx context.Context) {
	defer s.wg.Done()

	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var signal ControlSignal
			if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
				s.log.Warn().Str("payload", msg.Payload).Msg("ignoring malformed control message")
				continue
			}
			if signal.Action == "run" {
				s.log.Info().Str("source", signal.Source).Msg("on-demand cycle requested")
				s.Wake()
			}
		}
	}
}

// RunCycle executes one guarded pass. On lock contention the cycle stands
// down quietly; the holder is doing the same work. The lock is released in
// a defer so a panicking pass cannot leak it, and the TTL covers a crash.
func (s *Scheduler) RunCycle(ctx context.Context) {
	runID := uuid.NewString()[:8]
	log := s.log.With().Str("run_id", runID).Logger()

	if !s.gateway.Available() {
		if err := s.gateway.Ping(ctx); err != nil {
			s.gateway.RecordSkippedCycle()
			return
		}
	}

	token, ok, err := s.lock.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("lock acquire failed, skipping cycle")
		return
	}
	if !ok {
		log.Debug().Msg("cycle lock held elsewhere, standing down")
		return
	}
	s.setState(StateLocked)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic in cycle")
			s.setState(StateFailed)
		}
		if err := s.lock.Release(ctx, token); err != nil {
			log.Error().Err(err).Msg("lock release failed, TTL will expire it")
		}
		s.setState(StateLockReleased)
		s.setState(StateIdle)
	}()

	s.setState(StateRunning)
	started := time.Now()

	stats, err := s.runner.RunPass(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cycle failed")
		s.setState(StateFailed)
		return
	}
	s.setState(StateComplete)
	log.Info().
		Dur("elapsed", time.Since(started)).
		Int("evaluated", stats.Evaluated).
		Int("closed", stats.Closed).
		Msg("cycle complete")
}

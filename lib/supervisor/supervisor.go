// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/emblemhq/emblem/lib/clock"
)

const (
	// DefaultShutdownGrace bounds how long a draining worker may run
	// after receiving SIGTERM before it is force-killed.
	DefaultShutdownGrace = 10 * time.Second

	// fastCrashWindow is the uptime below which an exit counts as a
	// fast crash and delays the slot's next fork.
	fastCrashWindow = time.Second

	// respawnDelayStep grows the respawn delay by 500ms per
	// consecutive fast crash, up to respawnDelayLimit.
	respawnDelayStep  = 500 * time.Millisecond
	respawnDelayLimit = 5 * time.Second
)

// Config carries the knobs for a worker cluster.
type Config struct {
	// Count is the number of worker slots the supervisor keeps filled.
	// Must be at least 1.
	Count int

	// Starter forks one worker per call. Production wiring injects
	// ExecStarter; tests inject a fake.
	Starter Starter

	// ShutdownGrace is how long draining workers may linger before the
	// supervisor kills their process groups. Zero means
	// DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// OnClusterReady, when non-nil, runs once: the first time every
	// slot holds a worker that has completed the readiness handshake.
	// It runs on the supervision goroutine and must not block.
	OnClusterReady func()

	// Clock defaults to clock.System().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Supervisor keeps Count worker processes alive until its context is
// canceled. All registry state is owned by the Run goroutine; other
// goroutines communicate with it only through the events channel.
type Supervisor struct {
	count   int
	starter Starter
	grace   time.Duration
	onReady func()
	clock   clock.Clock
	logger  *slog.Logger

	events chan event

	// slots is the fixed set of worker positions. Worker ids are never
	// reused: each fork, including a respawn into an old slot, gets the
	// next id.
	slots        []*slot
	byWorkerID   map[int]*slot
	nextWorkerID int
	readyFired   bool
}

// slotState tracks one worker slot through its occupant's lifecycle.
type slotState int

const (
	stateStarting slotState = iota
	stateReady
	stateDraining
	stateExited
)

// slot is one worker position. The slot survives crashes; the worker
// occupying it changes across respawns.
type slot struct {
	index       int
	workerID    int
	pid         int
	process     Process
	state       slotState
	startedAt   time.Time
	fastCrashes int
}

// event is a lifecycle notification delivered to the Run goroutine.
type event struct {
	kind      eventKind
	workerID  int
	slotIndex int
	ready     ReadyMessage
	exit      ExitStatus
}

type eventKind int

const (
	eventReady eventKind = iota
	eventExit
	eventFork
)

// New builds a Supervisor. It panics when Count or Starter is missing;
// both are wiring errors, not runtime conditions.
func New(config Config) *Supervisor {
	if config.Count < 1 {
		panic("supervisor: Count must be at least 1")
	}
	if config.Starter == nil {
		panic("supervisor: Starter is required")
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	slots := make([]*slot, config.Count)
	for i := range slots {
		slots[i] = &slot{index: i + 1, state: stateExited}
	}
	return &Supervisor{
		count:        config.Count,
		starter:      config.Starter,
		grace:        config.ShutdownGrace,
		onReady:      config.OnClusterReady,
		clock:        config.Clock,
		logger:       config.Logger,
		events:       make(chan event, 2*config.Count),
		slots:        slots,
		byWorkerID:   make(map[int]*slot, config.Count),
		nextWorkerID: 1,
	}
}

// Run forks the cluster and supervises it until ctx is canceled, then
// drains every live worker and returns. A worker crash never ends the
// run; the slot is refilled with a brand-new worker.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.count > runtime.NumCPU() {
		s.logger.Warn("worker count exceeds available CPUs",
			"workers", s.count,
			"cpus", runtime.NumCPU())
	}
	for _, sl := range s.slots {
		s.fork(ctx, sl)
	}
	for {
		select {
		case <-ctx.Done():
			s.drainAll()
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// fork starts a fresh worker in the given slot. Fork failures take the
// same backoff ladder as fast crashes, so a persistently failing slot
// does not spin.
func (s *Supervisor) fork(ctx context.Context, sl *slot) {
	workerID := s.nextWorkerID
	s.nextWorkerID++

	process, err := s.starter.Start(workerID)
	if err != nil {
		sl.state = stateExited
		sl.fastCrashes++
		delay := s.respawnDelay(sl.fastCrashes)
		s.logger.Error("forking worker failed",
			"worker_id", workerID,
			"slot", sl.index,
			"retry_in", delay,
			"error", err)
		s.scheduleFork(ctx, sl.index, delay)
		return
	}

	sl.workerID = workerID
	sl.pid = process.Pid()
	sl.process = process
	sl.state = stateStarting
	sl.startedAt = s.clock.Now()
	s.byWorkerID[workerID] = sl
	s.logger.Info("worker forked",
		"worker_id", workerID,
		"slot", sl.index,
		"pid", sl.pid)
	go s.forward(workerID, process)
}

// forward turns one worker's blocking lifecycle calls into events.
// The readiness wait runs in its own goroutine because a worker that
// dies young never completes the handshake.
func (s *Supervisor) forward(workerID int, process Process) {
	go func() {
		message, err := process.AwaitReady()
		if err != nil {
			// The exit event carries the failure.
			return
		}
		s.events <- event{kind: eventReady, workerID: workerID, ready: message}
	}()
	status := process.Wait()
	s.events <- event{kind: eventExit, workerID: workerID, exit: status}
}

// handle processes one event on the supervision goroutine. Ready and
// exit events are matched through the worker id, which is unique per
// fork, so a notification from a replaced worker cannot touch its
// successor's slot.
func (s *Supervisor) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventFork:
		sl := s.slots[ev.slotIndex-1]
		if sl.state == stateExited {
			s.fork(ctx, sl)
		}

	case eventReady:
		sl := s.byWorkerID[ev.workerID]
		if sl == nil || sl.state != stateStarting {
			return
		}
		sl.state = stateReady
		s.logger.Info("worker ready",
			"worker_id", ev.workerID,
			"pid", sl.pid,
			"address", ev.ready.Address)
		s.checkClusterReady()

	case eventExit:
		sl := s.byWorkerID[ev.workerID]
		if sl == nil {
			return
		}
		delete(s.byWorkerID, ev.workerID)
		sl.state = stateExited
		sl.process = nil
		uptime := s.clock.Now().Sub(sl.startedAt)
		s.logger.Warn("worker exited",
			"worker_id", ev.workerID,
			"pid", sl.pid,
			"code", ev.exit.Code,
			"signal", ev.exit.Signal,
			"uptime", uptime)
		if uptime < fastCrashWindow {
			sl.fastCrashes++
			delay := s.respawnDelay(sl.fastCrashes)
			s.logger.Warn("worker crashing quickly, delaying respawn",
				"slot", sl.index,
				"consecutive", sl.fastCrashes,
				"delay", delay)
			s.scheduleFork(ctx, sl.index, delay)
			return
		}
		sl.fastCrashes = 0
		s.fork(ctx, sl)
	}
}

// checkClusterReady fires OnClusterReady the first time every slot is
// simultaneously ready. A worker that crashes before the barrier fires
// un-readies its slot, so the callback reports a fully serving cluster.
func (s *Supervisor) checkClusterReady() {
	if s.readyFired {
		return
	}
	for _, sl := range s.slots {
		if sl.state != stateReady {
			return
		}
	}
	s.readyFired = true
	s.logger.Info("cluster ready", "workers", s.count)
	if s.onReady != nil {
		s.onReady()
	}
}

// respawnDelay returns the delay before refilling a slot after its
// consecutive-th fast crash.
func (s *Supervisor) respawnDelay(consecutive int) time.Duration {
	delay := time.Duration(consecutive) * respawnDelayStep
	if delay > respawnDelayLimit {
		return respawnDelayLimit
	}
	return delay
}

// scheduleFork requests a fork into the given slot after delay. The
// timer is armed here, on the supervision goroutine; only the waiting
// happens elsewhere.
func (s *Supervisor) scheduleFork(ctx context.Context, slotIndex int, delay time.Duration) {
	timer := s.clock.After(delay)
	go func() {
		select {
		case <-ctx.Done():
		case <-timer:
			select {
			case s.events <- event{kind: eventFork, slotIndex: slotIndex}:
			case <-ctx.Done():
			}
		}
	}()
}

// drainAll signals every live worker to drain, then waits for their
// exits. Workers still running when the grace deadline passes are
// killed along with their process groups.
func (s *Supervisor) drainAll() {
	draining := 0
	for _, sl := range s.slots {
		if sl.process == nil || sl.state == stateExited {
			continue
		}
		sl.state = stateDraining
		if err := sl.process.Drain(); err != nil {
			s.logger.Debug("signaling worker failed",
				"worker_id", sl.workerID,
				"error", err)
		}
		draining++
	}
	if draining == 0 {
		return
	}
	s.logger.Info("draining workers",
		"count", draining,
		"grace", s.grace)

	deadline := s.clock.After(s.grace)
	for draining > 0 {
		select {
		case ev := <-s.events:
			if ev.kind != eventExit {
				continue
			}
			sl := s.byWorkerID[ev.workerID]
			if sl == nil || sl.state != stateDraining {
				continue
			}
			delete(s.byWorkerID, ev.workerID)
			sl.state = stateExited
			sl.process = nil
			draining--
			s.logger.Info("worker drained",
				"worker_id", ev.workerID,
				"pid", sl.pid,
				"code", ev.exit.Code)

		case <-deadline:
			s.logger.Warn("shutdown grace expired, killing remaining workers",
				"remaining", draining)
			for _, sl := range s.slots {
				if sl.state != stateDraining || sl.process == nil {
					continue
				}
				if err := sl.process.Kill(); err != nil {
					s.logger.Debug("killing worker failed",
						"worker_id", sl.workerID,
						"error", err)
				}
			}
		}
	}
	s.logger.Info("all workers stopped")
}

// Package scheduler runs a job repeatedly with a fixed pause between the
// end of one run and the start of the next, so runs never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "scheduler")

// Work is one scheduled run. Errors are logged and never stop the loop.
type Work func(ctx context.Context) error

type Scheduler struct {
	name     string
	interval time.Duration
	work     Work

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stop    chan struct{}
	done    chan struct{}

	runs     atomic.Uint64
	failures atomic.Uint64
	lastRun  atomic.Int64 // unix nanos of the last completed run
}

func New(name string, interval time.Duration, work Work) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler %s: interval must be positive, got %v", name, interval)
	}
	if work == nil {
		return nil, errors.New("scheduler " + name + ": nil work")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		work:     work,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start invokes work immediately and then again interval after each run
// finishes. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	log.Infof("scheduler %s started (interval %v)", s.name, s.interval)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()
	for {
		s.runOnce(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			log.Errorf("scheduler %s: run panicked: %v\n%s", s.name, r, debug.Stack())
		}
		s.runs.Add(1)
		s.lastRun.Store(time.Now().UnixNano())
	}()

	if err := s.work(ctx); err != nil {
		s.failures.Add(1)
		log.Warnf("scheduler %s: run failed after %v: %v", s.name, time.Since(start), err)
		return
	}
	log.Debugf("scheduler %s: run finished in %v", s.name, time.Since(start))
}

// Stop asks the loop to exit once the current run completes and waits for
// it. It is idempotent. Before Start it closes Done itself and turns a later
// Start into a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	select {
	case <-s.stop:
	default:
		close(s.stop)
		if !started {
			s.started = true
			close(s.done)
		}
	}
	s.mu.Unlock()

	if started {
		<-s.done
		log.Infof("scheduler %s stopped after %d runs", s.name, s.runs.Load())
	}
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) Runs() uint64     { return s.runs.Load() }
func (s *Scheduler) Failures() uint64 { return s.failures.Load() }

// LastRun returns when the most recent run finished, or the zero time.
func (s *Scheduler) LastRun() time.Time {
	n := s.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// scheduler runs tasks one at a time, in submission order, on a worker
// goroutine started on demand. All callbacks of one Mutation go through it.
//
// Holds represent work in progress elsewhere (a remote call) that will submit
// more tasks; the scheduler is idle only when it has no tasks and no holds.
type scheduler struct {
	logger *slog.Logger

	mu         sync.Mutex
	tasks      []func()
	running    bool
	holds      int
	idle       chan struct{}
	idleClosed bool
}

func newScheduler(logger *slog.Logger) *scheduler {
	s := &scheduler{
		logger:     logger,
		idle:       make(chan struct{}),
		idleClosed: true,
	}
	close(s.idle)
	return s
}

// schedule queues task behind every task already submitted.
func (s *scheduler) schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
	if !s.running {
		s.running = true
		go s.run()
	}
	s.updateLocked()
}

// hold marks outstanding work; release must be called once for each hold.
func (s *scheduler) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds++
	s.updateLocked()
}

func (s *scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds--
	s.updateLocked()
}

func (s *scheduler) updateLocked() {
	busy := s.running || s.holds > 0
	switch {
	case busy && s.idleClosed:
		s.idle = make(chan struct{})
		s.idleClosed = false
	case !busy && !s.idleClosed:
		close(s.idle)
		s.idleClosed = true
	}
}

func (s *scheduler) run() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.running = false
			s.updateLocked()
			s.mu.Unlock()
			return
		}
		task := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.mu.Unlock()

		s.exec(task)
	}
}

func (s *scheduler) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mutation callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// flush blocks until no task is queued and no hold is outstanding.
func (s *scheduler) flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}

		// A task may have been submitted between the close and our wake-up.
		s.mu.Lock()
		done := s.idleClosed
		s.mu.Unlock()
		if done {
			return nil
		}
	}
}

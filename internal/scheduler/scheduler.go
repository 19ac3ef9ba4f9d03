// Package scheduler drives the sync triggers from cron expressions in serve
// mode. External schedulers can call the HTTP triggers instead; both paths
// end in the same orchestrator and gap operations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/coordination"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
)

const defaultTaskTimeout = 10 * time.Minute

// Locker serializes a task across replicas.
type Locker interface {
	Run(ctx context.Context, task string, fn func(context.Context) error) error
}

// Task is one scheduled trigger.
type Task struct {
	Name string
	// Spec is a standard 5-field cron expression. An empty spec disables
	// the task.
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs tasks on their cron schedules. A task never overlaps
// itself within one process, and across replicas when a Locker is set.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	locker  Locker
	log     logger.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler evaluating specs in loc. locker may be nil.
func New(locker Locker, loc *time.Location, log logger.Logger, metrics *observability.Metrics) *Scheduler {
	log = log.With(logger.Component("scheduler"))
	cronLog := cronLogger{log: log}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		parser:  parser,
		locker:  locker,
		log:     log,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a task. Tasks with an empty spec are skipped.
func (s *Scheduler) Add(task Task) error {
	if task.Spec == "" {
		s.log.Info("Task disabled", logger.String("task", task.Name))
		return nil
	}
	if _, err := s.parser.Parse(task.Spec); err != nil {
		return fmt.Errorf("task %s: invalid schedule %q: %w", task.Name, task.Spec, err)
	}

	if _, err := s.cron.AddFunc(task.Spec, func() { s.RunTask(task) }); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}

	s.log.Info("Task scheduled", logger.String("task", task.Name), logger.String("schedule", task.Spec))
	return nil
}

// RunTask executes task once under the lock and timeout.
func (s *Scheduler) RunTask(task Task) {
	s.wg.Add(1)
	defer s.wg.Done()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.runLocked(ctx, task)

	switch {
	case errors.Is(err, coordination.ErrLockNotAcquired):
		s.metrics.LockAttempt(task.Name, false)
		s.log.Debug("Task skipped, lock held elsewhere", logger.String("task", task.Name))
	case err != nil:
		s.log.Error("Scheduled task failed",
			logger.String("task", task.Name),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err),
		)
	default:
		s.log.Debug("Scheduled task finished",
			logger.String("task", task.Name),
			logger.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Scheduler) runLocked(ctx context.Context, task Task) error {
	if s.locker == nil {
		return task.Run(ctx)
	}
	return s.locker.Run(ctx, task.Name, func(lockedCtx context.Context) error {
		s.metrics.LockAttempt(task.Name, true)
		return task.Run(lockedCtx)
	})
}

// Start begins firing tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", logger.Int("tasks", len(s.cron.Entries())))
}

// Stop stops scheduling, cancels running tasks and waits for them.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, logger.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, logger.Error(err), logger.Any("details", keysAndValues))
}

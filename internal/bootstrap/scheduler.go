package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/scheduler"
)

const (
	tickTimeout   = 15 * time.Minute
	detectTimeout = 30 * time.Minute
	fillTimeout   = 30 * time.Minute
	sweepTimeout  = 5 * time.Minute
	enrichTimeout = 30 * time.Minute
)

// SetupScheduler registers the cron triggers. Specs are evaluated in the
// sync timezone so the launch window and the schedule agree.
func (a *App) SetupScheduler() (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(a.Config.Sync.Timezone)
	if err != nil {
		return nil, err
	}

	var locker scheduler.Locker
	if a.Locker != nil {
		locker = a.Locker
	}
	s := scheduler.New(locker, loc, a.Log, a.Metrics)

	sched := a.Config.Schedule
	tasks := []scheduler.Task{
		{Name: "tick", Spec: sched.Tick, Timeout: tickTimeout, Run: func(ctx context.Context) error {
			_, runErr := a.Orchestrator.Tick(ctx, time.Now())
			return runErr
		}},
		{Name: "detect_gaps", Spec: sched.DetectGaps, Timeout: detectTimeout, Run: func(ctx context.Context) error {
			// Per-signal failures are logged by the detector.
			a.Detector.Detect(ctx, time.Now())
			return nil
		}},
		{Name: "fill_gaps", Spec: sched.FillGaps, Timeout: fillTimeout, Run: func(ctx context.Context) error {
			_, fillErr := a.Filler.Fill(ctx, 0)
			if errors.Is(fillErr, control.ErrPaused) {
				return nil
			}
			return fillErr
		}},
		{Name: "enrich_people", Spec: sched.EnrichPeople, Timeout: enrichTimeout, Run: func(ctx context.Context) error {
			_, enrichErr := a.Enricher.Enrich(ctx, 0, time.Now())
			if errors.Is(enrichErr, control.ErrPaused) {
				return nil
			}
			return enrichErr
		}},
		{Name: "sweep", Spec: sched.Sweep, Timeout: sweepTimeout, Run: func(ctx context.Context) error {
			_, sweepErr := a.Sweep(ctx)
			return sweepErr
		}},
	}
	for _, task := range tasks {
		if addErr := s.Add(task); addErr != nil {
			return nil, addErr
		}
	}
	return s, nil
}

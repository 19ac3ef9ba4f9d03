package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/observability"
)

// JobReader reads sync jobs.
type JobReader interface {
	GetRunning(ctx context.Context) (*domain.SyncJob, error)
	Latest(ctx context.Context) (*domain.SyncJob, error)
}

// QueueReader reads queue aggregates.
type QueueReader interface {
	CountByStatus(ctx context.Context) (domain.QueueCounts, error)
	RecentFailures(ctx context.Context, limit int) ([]domain.QueueFailure, error)
}

// GapReader reads gap aggregates.
type GapReader interface {
	CountUnresolvedByType(ctx context.Context) (map[domain.GapType]int, error)
}

// ContentReader reads content totals.
type ContentReader interface {
	Totals(ctx context.Context) (domain.ContentTotals, error)
}

// StatusService assembles the read-only status report.
type StatusService struct {
	gate           *Gate
	jobs           JobReader
	queue          QueueReader
	gaps           GapReader
	content        ContentReader
	failureHistory int
	metrics        *observability.Metrics
}

// NewStatusService creates a status service. metrics may be nil.
func NewStatusService(
	gate *Gate,
	jobs JobReader,
	queue QueueReader,
	gaps GapReader,
	content ContentReader,
	failureHistory int,
	metrics *observability.Metrics,
) *StatusService {
	return &StatusService{
		gate:           gate,
		jobs:           jobs,
		queue:          queue,
		gaps:           gaps,
		content:        content,
		failureHistory: failureHistory,
		metrics:        metrics,
	}
}

// Status reads every section concurrently. It performs no writes.
func (s *StatusService) Status(ctx context.Context) (*domain.StatusReport, error) {
	report := &domain.StatusReport{GeneratedAt: time.Now().UTC()}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		state, err := s.gate.State(gCtx)
		report.Pause = state
		return err
	})
	g.Go(func() error {
		running, err := s.jobs.GetRunning(gCtx)
		if errors.Is(err, database.ErrNoRunningJob) {
			return nil
		}
		report.ActiveJob = running
		return err
	})
	g.Go(func() error {
		latest, err := s.jobs.Latest(gCtx)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		report.LatestJob = latest
		return err
	})
	g.Go(func() error {
		counts, err := s.queue.CountByStatus(gCtx)
		report.Queue = counts
		return err
	})
	g.Go(func() error {
		failures, err := s.queue.RecentFailures(gCtx, s.failureHistory)
		report.RecentFailures = failures
		return err
	})
	g.Go(func() error {
		byType, err := s.gaps.CountUnresolvedByType(gCtx)
		report.GapsByType = byType
		return err
	})
	g.Go(func() error {
		totals, err := s.content.Totals(gCtx)
		report.Content = totals
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build status: %w", err)
	}

	if report.GapsByType == nil {
		report.GapsByType = map[domain.GapType]int{}
	}
	for gapType, n := range report.GapsByType {
		report.UnresolvedGaps += n
		s.metrics.SetUnresolvedGaps(string(gapType), n)
	}
	if report.RecentFailures == nil {
		report.RecentFailures = []domain.QueueFailure{}
	}
	s.publishQueueDepth(report.Queue)

	return report, nil
}

func (s *StatusService) publishQueueDepth(q domain.QueueCounts) {
	s.metrics.SetQueueDepth(string(domain.QueueStatusPending), q.Pending)
	s.metrics.SetQueueDepth(string(domain.QueueStatusProcessing), q.Processing)
	s.metrics.SetQueueDepth(string(domain.QueueStatusCompleted), q.Completed)
	s.metrics.SetQueueDepth(string(domain.QueueStatusFailed), q.Failed)
	s.metrics.SetQueueDepth(string(domain.QueueStatusSkipped), q.Skipped)
}

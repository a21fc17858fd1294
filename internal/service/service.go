// Package service runs schedule generation for stored tournaments.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/notify"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/derekprior/cricsched/internal/store"
	"go.uber.org/zap"
)

// ErrGenerationInProgress is returned when a tournament already has a
// generation running.
var ErrGenerationInProgress = errors.New("schedule generation already in progress for this tournament")

// Store is the persistence the scheduler needs.
type Store interface {
	LoadTournament(ctx context.Context, id string) (*config.Config, error)
	ReplaceMatches(ctx context.Context, tournamentID string, matches []schedule.Match) ([]store.Match, error)
	ListMatches(ctx context.Context, tournamentID string) ([]store.Match, error)
	ClearMatches(ctx context.Context, tournamentID string) (int64, error)
}

// Publisher announces persisted schedules.
type Publisher interface {
	PublishScheduleGenerated(ctx context.Context, ev notify.ScheduleGenerated) error
}

// Scheduler orchestrates load, generate, persist and publish.
type Scheduler struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// New constructs a Scheduler. publisher may be nil.
func New(s Store, publisher Publisher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     s,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Generate builds and stores a schedule for a stored tournament. A failed
// report is returned with a nil error and nothing is written. Errors are
// reserved for lookups, storage and the in-flight guard.
func (s *Scheduler) Generate(ctx context.Context, tournamentID string) (*schedule.Report, error) {
	if !s.acquire(tournamentID) {
		return nil, ErrGenerationInProgress
	}
	defer s.release(tournamentID)

	cfg, err := s.store.LoadTournament(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load tournament: %w", err)
	}

	log := s.logger.With(zap.String("tournament_id", tournamentID))
	report := schedule.Generate(ctx, cfg.Tournament, cfg.Teams, cfg.Venues,
		schedule.WithLogger(log), schedule.WithEngine(cfg.Engine))
	if !report.Success {
		log.Info("schedule not generated", zap.String("kind", string(report.Kind)))
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.store.ReplaceMatches(ctx, tournamentID, report.Matches); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	log.Info("schedule saved", zap.Int("matches", len(report.Matches)))

	if s.publisher != nil {
		ev := notify.NewScheduleGenerated(tournamentID, report, s.now().UTC())
		if err := s.publisher.PublishScheduleGenerated(ctx, ev); err != nil {
			log.Warn("publish schedule event failed", zap.Error(err))
		}
	}
	return report, nil
}

// Preview generates a schedule for cfg without storing it.
func (s *Scheduler) Preview(ctx context.Context, cfg *config.Config) *schedule.Report {
	return schedule.Generate(ctx, cfg.Tournament, cfg.Teams, cfg.Venues,
		schedule.WithLogger(s.logger), schedule.WithEngine(cfg.Engine))
}

// Matches returns the stored schedule.
func (s *Scheduler) Matches(ctx context.Context, tournamentID string) ([]store.Match, error) {
	return s.store.ListMatches(ctx, tournamentID)
}

// Clear removes the stored schedule. It is refused while a generation for the
// same tournament is running.
func (s *Scheduler) Clear(ctx context.Context, tournamentID string) (int64, error) {
	if !s.acquire(tournamentID) {
		return 0, ErrGenerationInProgress
	}
	defer s.release(tournamentID)
	return s.store.ClearMatches(ctx, tournamentID)
}

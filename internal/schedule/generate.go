package schedule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
)

// utilisationWarning is the share of slots above which a schedule is fragile.
const utilisationWarning = 0.8

type options struct {
	logger          *zap.Logger
	backtrackWindow int
	stepBudget      int
}

// Option configures a Generate call.
type Option func(*options)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEngine applies the non-zero search settings from the config file.
func WithEngine(e config.Engine) Option {
	return func(o *options) {
		if e.BacktrackWindow > 0 {
			o.backtrackWindow = e.BacktrackWindow
		}
		if e.StepBudget > 0 {
			o.stepBudget = e.StepBudget
		}
	}
}

// WithBacktrackWindow limits how many fixtures behind the deepest one reached
// a dead end may unwind. Zero disables backtracking.
func WithBacktrackWindow(k int) Option {
	return func(o *options) {
		if k >= 0 {
			o.backtrackWindow = k
		}
	}
}

// WithStepBudget caps the number of slot probes in one search.
func WithStepBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stepBudget = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:          zap.NewNop(),
		backtrackWindow: DefaultBacktrackWindow,
		stepBudget:      DefaultStepBudget,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Generate derives the fixtures for a tournament and assigns each one a slot.
// It never returns an error: every failure, including cancellation, is
// described by the report. Inputs are not modified and no state is kept
// between calls, so independent tournaments may generate concurrently.
func Generate(ctx context.Context, t config.Tournament, teams []config.Team, venues []config.Venue, opts ...Option) *Report {
	o := newOptions(opts)
	log := o.logger.With(
		zap.String("tournament", t.Name),
		zap.String("format", string(t.Format)),
		zap.Int("teams", len(teams)),
		zap.Int("venues", len(venues)),
	)

	if ctx.Err() != nil {
		return cancelled(SearchStats{})
	}

	if err := config.ValidateTournament(t); err != nil {
		log.Info("tournament settings rejected", zap.Error(err))
		return failed(InvalidTournament, "Tournament settings are invalid",
			[]Conflict{{Kind: InvalidTournament, Message: err.Error()}},
			[]string{"Correct the tournament settings named above and generate again"}, SearchStats{})
	}

	d := &diagnoser{ctx: ctx, base: scenario{t: t, teams: teams, venues: venues}, opts: o}

	// Fixture derivation and slot enumeration share nothing, so they run
	// side by side and both finish before the search starts.
	var (
		plan             *fixture.Plan
		slots            []Slot
		planErr, slotErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		gen, err := fixture.Get(t)
		if err != nil {
			planErr = err
			return err
		}
		plan, planErr = gen.Generate(teams)
		return planErr
	})
	g.Go(func() error {
		slots, slotErr = BuildSlots(t, venues)
		return slotErr
	})
	if err := g.Wait(); err != nil {
		log.Debug("preparation failed", zap.Error(err))
	}

	switch {
	case planErr != nil && !errors.Is(planErr, fixture.ErrInsufficientTeams):
		return failed(InvalidTournament, "Tournament settings are invalid",
			[]Conflict{{Kind: InvalidTournament, Message: planErr.Error()}},
			[]string{"Choose one of round_robin, double_round_robin, knockout or league"}, SearchStats{})
	case planErr != nil:
		log.Info("not enough teams")
		return failed(InsufficientTeams, "Schedule not feasible: not enough teams",
			[]Conflict{{Kind: InsufficientTeams, Message: fmt.Sprintf("Only %s registered; a %s tournament needs at least 2", plural(len(teams), "team"), t.Format)}},
			[]string{fmt.Sprintf("Add %s", plural(2-len(teams), "more team"))}, SearchStats{})
	case slotErr != nil:
		log.Info("no venues")
		perVenue := 0
		if s, err := BuildSlots(t, extraVenues(1)); err == nil {
			perVenue = len(s)
		}
		return failed(InsufficientVenues, "Schedule not feasible: no venues available",
			[]Conflict{{Kind: InsufficientVenues, Message: fmt.Sprintf("No venues are registered for %s fixtures", plural(len(plan.Fixtures), "fixture"))}},
			[]string{fmt.Sprintf("Add at least 1 venue (each adds up to %s over %s)", plural(perVenue, "slot"), plural(len(t.Days()), "day"))}, SearchStats{})
	}

	log = log.With(zap.Int("fixtures", len(plan.Fixtures)), zap.Int("slots", len(slots)))

	if len(slots) < len(plan.Fixtures) {
		log.Info("not enough slots")
		fallback := fmt.Sprintf("Add %s, or remove that many fixtures", plural(len(plan.Fixtures)-len(slots), "more slot"))
		if maxSlotsPerDay(d.base) < 1 {
			fallback = fmt.Sprintf("Shorten match_duration_hours below %g or widen day_window so a match fits in a day", t.MatchDurationHours)
		}
		return d.finish(failed(InsufficientCapacity,
			fmt.Sprintf("Schedule not feasible: %s for %s", plural(len(slots), "slot"), plural(len(plan.Fixtures), "fixture")),
			d.capacityConflicts(plan, slots), d.suggestions(), SearchStats{Fixtures: len(plan.Fixtures)}),
			fallback)
	}

	if shortfalls := restShortfalls(t, plan, slots); len(shortfalls) > 0 {
		log.Info("rest period cannot be met", zap.Int("teams_short", len(shortfalls)))
		return d.finish(failed(RestConstraintUnsatisfiable,
			fmt.Sprintf("Schedule not feasible: the %s rest period cannot be met", formatHours(t.MinRest())),
			d.restConflicts(shortfalls, slots), d.suggestions(), SearchStats{Fixtures: len(plan.Fixtures)}),
			fmt.Sprintf("Lower min_rest_hours below %g", t.MinRestHours))
	}

	res, err := assign(ctx, t, plan, slots, o.backtrackWindow, o.stepBudget)
	if err != nil {
		log.Info("generation cancelled")
		return cancelled(SearchStats{Fixtures: len(plan.Fixtures)})
	}
	if res.placement == nil {
		log.Info("search failed",
			zap.Int("steps", res.stats.Steps),
			zap.Int("backtracks", res.stats.Backtracks),
			zap.Int("placed", res.stats.Placed))
		return d.finish(failed(RestConstraintUnsatisfiable,
			fmt.Sprintf("Schedule not feasible: no assignment satisfies the %s rest period and venue limits", formatHours(t.MinRest())),
			d.searchConflicts(plan, slots, res), d.suggestions(), res.stats),
			fmt.Sprintf("Raise engine.step_budget above %d or engine.backtrack_window above %d", o.stepBudget, o.backtrackWindow))
	}

	matches := buildMatches(plan, slots, res.placement)
	if violations := Audit(t, matches); len(violations) > 0 {
		log.Error("schedule failed audit", zap.Int("violations", len(violations)))
		conflicts := make([]Conflict, len(violations))
		for i, v := range violations {
			conflicts[i] = Conflict{Kind: AuditFailed, Message: v.String()}
		}
		return failed(AuditFailed, "Generated schedule broke a hard constraint and was discarded",
			conflicts, []string{fmt.Sprintf("Report this tournament; the search placed %s that failed the audit", plural(len(violations), "match"))}, res.stats)
	}

	summary := newSummary(matches, len(plan.Byes))
	report := &Report{
		Success: true,
		Matches: matches,
		Summary: summary,
		Stats:   res.stats,
	}
	report.Message = fmt.Sprintf("Scheduled %s across %s on %s",
		plural(summary.Concrete, "match"), plural(summary.VenuesUsed, "venue"), plural(summary.DaysUsed, "day"))
	if summary.Provisional > 0 {
		report.Message += fmt.Sprintf(", with %s reserved for later rounds", plural(summary.Provisional, "slot"))
	}
	if used := float64(len(matches)) / float64(len(slots)); used > utilisationWarning {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"Slot utilisation is %.0f%% (%d of %d slots); small changes to dates or venues may make this schedule infeasible",
			used*100, len(matches), len(slots)))
	}

	log.Info("schedule generated",
		zap.Int("matches", len(matches)),
		zap.Int("steps", res.stats.Steps),
		zap.Int("backtracks", res.stats.Backtracks))
	return report
}

func failed(kind ProblemKind, message string, conflicts []Conflict, suggestions []string, stats SearchStats) *Report {
	return &Report{
		Success:     false,
		Message:     message,
		Kind:        kind,
		Class:       kind.Class(),
		Conflicts:   conflicts,
		Suggestions: suggestions,
		Stats:       stats,
	}
}

func cancelled(stats SearchStats) *Report {
	return failed(Cancelled, "Schedule generation was cancelled",
		[]Conflict{{Kind: Cancelled, Message: fmt.Sprintf("Cancelled with %d of %d fixtures placed; nothing was kept", stats.Placed, stats.Fixtures)}},
		[]string{"Generate again; the inputs were not changed"}, stats)
}

// finish turns a report into a cancellation if the caller gave up while
// suggestions were being worked out, and makes sure at least one
// suggestion is present.
func (d *diagnoser) finish(r *Report, fallback string) *Report {
	if d.ctx.Err() != nil {
		return cancelled(r.Stats)
	}
	if len(r.Suggestions) == 0 {
		r.Suggestions = []string{fallback}
	}
	return r
}

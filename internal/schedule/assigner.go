package schedule

import (
	"context"
	"sort"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
)

const (
	DefaultBacktrackWindow = 8
	DefaultStepBudget      = 250000
)

// stopReason says why a failed search gave up.
type stopReason int

const (
	stopExhausted stopReason = iota // every alternative was tried
	stopWindow                      // the dead end was too far behind the frontier
	stopBudget                      // the step budget ran out
)

// searchTrace is the conflict-frequency record of one search.
type searchTrace struct {
	rejections map[rejection]int
	teams      map[string]int
	venues     map[string]int
	deadEnds   map[int]int // fixture sequence -> dead ends
	stuck      int         // sequence of the last fixture that failed at the frontier
	stop       stopReason
}

func newSearchTrace() *searchTrace {
	return &searchTrace{
		rejections: make(map[rejection]int),
		teams:      make(map[string]int),
		venues:     make(map[string]int),
		deadEnds:   make(map[int]int),
	}
}

func (tr *searchTrace) reject(reason rejection, who string) {
	tr.rejections[reason]++
	if who == "" {
		return
	}
	switch reason {
	case rejectTeamBusy, rejectTeamRest:
		tr.teams[who]++
	default:
		tr.venues[who]++
	}
}

type assigner struct {
	fixtures []fixture.Fixture
	occ      *occupancy
	starts   map[int]int // round -> slot index its candidates begin at
	window   int
	budget   int

	stats SearchStats
	trace *searchTrace
}

// assignment is the outcome of one search. placement is nil when the search
// failed.
type assignment struct {
	placement []int // slot index per fixture, in fixture order
	stats     SearchStats
	trace     *searchTrace
}

// assign places fixtures in order onto the slot space with depth-first
// search. A dead end may unwind at most window fixtures behind the deepest
// fixture reached, and at most budget slot probes are made in total. The
// context is checked between placements.
func assign(ctx context.Context, t config.Tournament, plan *fixture.Plan, slots []Slot, window, budget int) (*assignment, error) {
	a := &assigner{
		fixtures: plan.Fixtures,
		occ:      newOccupancy(t, slots),
		starts:   candidateStarts(slots, plan.Rounds),
		window:   window,
		budget:   budget,
		stats:    SearchStats{Fixtures: len(plan.Fixtures)},
		trace:    newSearchTrace(),
	}
	placement, err := a.run(ctx)
	if err != nil {
		return nil, err
	}
	return &assignment{placement: placement, stats: a.stats, trace: a.trace}, nil
}

func (a *assigner) run(ctx context.Context) ([]int, error) {
	n := len(a.fixtures)
	placement := make([]int, n)
	cursor := make([]int, n)
	i, deepest := 0, 0

	for i < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f := a.fixtures[i]
		pos, idx := a.next(f, cursor[i])
		if idx >= 0 {
			a.occ.place(f, idx)
			placement[i] = idx
			cursor[i] = pos + 1
			i++
			if i < n {
				cursor[i] = 0
			}
			if i > deepest {
				deepest = i
			}
			continue
		}

		a.trace.deadEnds[f.Sequence]++
		if i == deepest {
			a.trace.stuck = f.Sequence
		}
		if a.stats.Steps >= a.budget {
			a.trace.stop = stopBudget
			break
		}
		if i == 0 {
			a.trace.stop = stopExhausted
			break
		}
		if i-1 < deepest-a.window {
			a.trace.stop = stopWindow
			break
		}

		i--
		a.occ.remove(a.fixtures[i], placement[i])
		a.stats.Backtracks++
	}

	a.stats.Placed = deepest
	if i < n {
		return nil, nil
	}
	return placement, nil
}

// next returns the first admissible slot for f at or after position from in
// the fixture's candidate order, along with that position. idx is -1 when
// nothing fits or the budget is spent.
func (a *assigner) next(f fixture.Fixture, from int) (pos, idx int) {
	n := len(a.occ.slots)
	start := a.starts[f.Round]
	for pos = from; pos < n; pos++ {
		if a.stats.Steps >= a.budget {
			return pos, -1
		}
		a.stats.Steps++
		idx = candidateAt(start, pos, n)
		reason, who, ok := a.occ.admissible(f, idx)
		if ok {
			return pos, idx
		}
		a.trace.reject(reason, who)
	}
	return n, -1
}

// candidateStarts spreads rounds across the window: round r of R tries slots
// from day floor((r-1)*D/R) onwards first, then wraps round to the earlier
// days, each group in chronological order. Slots are sorted by day, so a
// round's order is fixed by the index of the first slot on its seed day.
// Rounds missing from the map start at slot 0.
func candidateStarts(slots []Slot, rounds int) map[int]int {
	var dayStarts []int
	for i, s := range slots {
		if i == 0 || !s.Day.Equal(slots[i-1].Day) {
			dayStarts = append(dayStarts, i)
		}
	}
	if rounds < 1 {
		rounds = 1
	}

	starts := make(map[int]int, rounds)
	for r := 1; r <= rounds; r++ {
		seed := (r - 1) * len(dayStarts) / rounds
		if seed < len(dayStarts) {
			starts[r] = dayStarts[seed]
		}
	}
	return starts
}

// candidateAt is the slot index at position pos of an order beginning at
// start over n slots.
func candidateAt(start, pos, n int) int {
	return (start + pos) % n
}

// buildMatches binds each fixture to its slot and numbers the matches in
// chronological order. Fixture sequences and winner references are rewritten
// to the match numbers.
func buildMatches(plan *fixture.Plan, slots []Slot, placement []int) []Match {
	matches := make([]Match, len(plan.Fixtures))
	for i, f := range plan.Fixtures {
		matches[i] = Match{
			Fixture:     f,
			Slot:        slots[placement[i]],
			Provisional: f.Provisional(),
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Slot, matches[j].Slot
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.VenueID != b.VenueID {
			return a.VenueID < b.VenueID
		}
		return matches[i].Fixture.Sequence < matches[j].Fixture.Sequence
	})
	numbers := make(map[int]int, len(matches))
	for i := range matches {
		matches[i].Number = i + 1
		numbers[matches[i].Fixture.Sequence] = i + 1
	}
	for i := range matches {
		f := &matches[i].Fixture
		f.Sequence = matches[i].Number
		if !f.Home.Resolved() {
			f.Home.WinnerOf = numbers[f.Home.WinnerOf]
		}
		if !f.Away.Resolved() {
			f.Away.WinnerOf = numbers[f.Away.WinnerOf]
		}
	}
	return matches
}

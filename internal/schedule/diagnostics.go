package schedule

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
)

const (
	maxExtraDays   = 366
	maxExtraVenues = 16
	// Candidates that pass the cheap bounds but still have to be searched
	// are capped per lever.
	maxSearchProbes = 3
)

// scenario is one set of engine inputs, possibly with a lever applied.
type scenario struct {
	t      config.Tournament
	teams  []config.Team
	venues []config.Venue
}

// diagnoser explains failed runs. Each suggestion comes from applying a
// single lever to a copy of the inputs and re-running the failed check.
type diagnoser struct {
	ctx  context.Context
	base scenario
	opts options
}

// withinBounds reports whether s has enough slots for its fixtures and every
// team's rest chain fits them.
func (d *diagnoser) withinBounds(s scenario) (*fixture.Plan, []Slot, bool) {
	gen, err := fixture.Get(s.t)
	if err != nil {
		return nil, nil, false
	}
	plan, err := gen.Generate(s.teams)
	if err != nil {
		return nil, nil, false
	}
	slots, err := BuildSlots(s.t, s.venues)
	if err != nil || len(slots) < len(plan.Fixtures) {
		return nil, nil, false
	}
	if len(restShortfalls(s.t, plan, slots)) > 0 {
		return nil, nil, false
	}
	return plan, slots, true
}

// schedules reports whether the assigner finds a schedule for s.
func (d *diagnoser) schedules(s scenario) bool {
	plan, slots, ok := d.withinBounds(s)
	if !ok {
		return false
	}
	res, err := assign(d.ctx, s.t, plan, slots, d.opts.backtrackWindow, d.opts.stepBudget)
	return err == nil && res.placement != nil
}

// firstFit returns the first candidate, in order, that the assigner can
// schedule. Every lever loosens the slot and rest bounds as i grows, so the
// first candidate within the bounds is found by bisection; the search is then
// tried from there on at most maxSearchProbes candidates.
func (d *diagnoser) firstFit(n int, candidate func(i int) scenario) (int, bool) {
	first := sort.Search(n, func(i int) bool {
		if d.ctx.Err() != nil {
			return true
		}
		_, _, ok := d.withinBounds(candidate(i))
		return ok
	})
	if first == n || d.ctx.Err() != nil {
		return 0, false
	}
	for i := first; i < n && i < first+maxSearchProbes; i++ {
		if d.ctx.Err() != nil {
			return 0, false
		}
		if d.schedules(candidate(i)) {
			return i, true
		}
	}
	return 0, false
}

// suggestions tries every lever and keeps those that fix the problem. When no
// match fits any day window, the match length and the window are levers too.
func (d *diagnoser) suggestions() []string {
	levers := []func() (string, bool){
		d.reduceRest,
		d.extendDates,
		d.addVenues,
		d.moreSlotsPerDay,
		d.reduceTeams,
	}
	if maxSlotsPerDay(d.base) < 1 {
		levers = append(levers, d.shortenMatches, d.widenWindow)
	}
	var out []string
	for _, lever := range levers {
		if s, ok := lever(); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *diagnoser) reduceRest() (string, bool) {
	current := d.base.t.MinRestHours
	if current <= 0 {
		return "", false
	}
	top := int(math.Ceil(current)) - 1
	i, ok := d.firstFit(top+1, func(i int) scenario {
		s := d.base
		s.t.MinRestHours = float64(top - i)
		return s
	})
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Reduce min_rest_hours from %g to %d", current, top-i), true
}

func (d *diagnoser) extendDates() (string, bool) {
	n := maxExtraDays
	if room := config.MaxTournamentDays - len(d.base.t.Days()); room < n {
		n = room
	}
	i, ok := d.firstFit(n, func(i int) scenario {
		s := d.base
		s.t.EndDate = config.Date{Time: s.t.EndDate.Time.AddDate(0, 0, i+1)}
		return s
	})
	if !ok {
		return "", false
	}
	days := i + 1
	extended := d.base
	extended.t.EndDate = config.Date{Time: d.base.t.EndDate.Time.AddDate(0, 0, days)}
	added := venueDays(extended) - venueDays(d.base)
	return fmt.Sprintf("Extend end_date by %s to %s, adding %s",
		plural(days, "day"), extended.t.EndDate, plural(added, "venue-day")), true
}

func (d *diagnoser) addVenues() (string, bool) {
	i, ok := d.firstFit(maxExtraVenues, func(i int) scenario {
		s := d.base
		s.venues = append(append([]config.Venue(nil), d.base.venues...), extraVenues(i+1)...)
		return s
	})
	if !ok {
		return "", false
	}
	perVenue := 0
	if slots, err := BuildSlots(d.base.t, extraVenues(1)); err == nil {
		perVenue = len(slots)
	}
	return fmt.Sprintf("Add %s (each adds up to %s over %s)",
		plural(i+1, "venue"), plural(perVenue, "slot"), plural(len(d.base.t.Days()), "day")), true
}

func (d *diagnoser) moreSlotsPerDay() (string, bool) {
	current := d.base.t.SlotsPerDay
	limit := maxSlotsPerDay(d.base)
	if limit > config.MaxSlotsPerDay {
		limit = config.MaxSlotsPerDay
	}
	if limit <= current {
		return "", false
	}
	i, ok := d.firstFit(limit-current, func(i int) scenario {
		s := d.base
		s.t.SlotsPerDay = current + i + 1
		return s
	})
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Increase slots_per_day from %d to %d", current, current+i+1), true
}

func (d *diagnoser) reduceTeams() (string, bool) {
	n := len(d.base.teams)
	if n <= 2 {
		return "", false
	}
	i, ok := d.firstFit(n-2, func(i int) scenario {
		s := d.base
		s.teams = d.base.teams[:n-1-i]
		return s
	})
	if !ok {
		return "", false
	}
	kept := n - 1 - i
	fixtures := 0
	if gen, err := fixture.Get(d.base.t); err == nil {
		if plan, err := gen.Generate(d.base.teams[:kept]); err == nil {
			fixtures = len(plan.Fixtures)
		}
	}
	return fmt.Sprintf("Reduce the team count from %d to %d (%s)", n, kept, plural(fixtures, "fixture")), true
}

func (d *diagnoser) shortenMatches() (string, bool) {
	current := d.base.t.MatchDurationHours
	steps := int(math.Ceil(current/0.5)) - 1
	if steps < 1 {
		return "", false
	}
	i, ok := d.firstFit(steps, func(i int) scenario {
		s := d.base
		s.t.MatchDurationHours = current - 0.5*float64(i+1)
		return s
	})
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Reduce match_duration_hours from %g to %g", current, current-0.5*float64(i+1)), true
}

// widenWindow opens the tournament day window an hour earlier and an hour
// later per step. Venues with their own window keep it.
func (d *diagnoser) widenWindow() (string, bool) {
	const lastMinute = 24*60 - 1
	w := d.base.t.Window()
	widen := func(k int) config.Window {
		start, end := w.Start.Minutes-60*k, w.End.Minutes+60*k
		if start < 0 {
			start = 0
		}
		if end > lastMinute {
			end = lastMinute
		}
		return config.Window{Start: config.Clock{Minutes: start}, End: config.Clock{Minutes: end}}
	}
	steps := 0
	for ww := w; ww.Start.Minutes > 0 || ww.End.Minutes < lastMinute; ww = widen(steps) {
		steps++
	}
	if steps == 0 {
		return "", false
	}
	i, ok := d.firstFit(steps, func(i int) scenario {
		s := d.base
		wider := widen(i + 1)
		s.t.DayWindow = &wider
		return s
	})
	if !ok {
		return "", false
	}
	wider := widen(i + 1)
	return fmt.Sprintf("Widen day_window from %s-%s to %s-%s", w.Start, w.End, wider.Start, wider.End), true
}

// maxSlotsPerDay is the most back-to-back matches the widest day window holds.
func maxSlotsPerDay(s scenario) int {
	widest := s.t.Window()
	for _, v := range s.venues {
		w := v.Window(s.t.Window())
		if w.End.Minutes-w.Start.Minutes > widest.End.Minutes-widest.Start.Minutes {
			widest = w
		}
	}
	dur := s.t.MatchDuration()
	if dur <= 0 {
		return 0
	}
	return int((widest.End.Offset() - widest.Start.Offset()) / dur)
}

func extraVenues(n int) []config.Venue {
	venues := make([]config.Venue, n)
	for i := range venues {
		venues[i] = config.Venue{
			ID:   fmt.Sprintf("additional-venue-%d", i+1),
			Name: fmt.Sprintf("Additional venue %d", i+1),
		}
	}
	return venues
}

// venueDays counts the (venue, day) pairs that yield at least one slot.
func venueDays(s scenario) int {
	slots, err := BuildSlots(s.t, s.venues)
	if err != nil {
		return 0
	}
	seen := make(map[venueDay]bool)
	for _, slot := range slots {
		seen[venueDay{slot.VenueID, slot.Day}] = true
	}
	return len(seen)
}

// restChain is the longest run of slots one team could play in order, each
// starting at least minRest after the previous one ends. Slots share one
// duration, so taking the earliest start each time is optimal.
func restChain(slots []Slot, minRest time.Duration) int {
	count := 0
	var free time.Time
	for _, s := range slots {
		if count > 0 && s.Start.Before(free) {
			continue
		}
		count++
		free = s.End.Add(minRest)
	}
	return count
}

// restShortfall is a team, or the knockout bracket, needing more rest
// separated matches than the slot space holds.
type restShortfall struct {
	label string
	need  int
}

// restShortfalls compares every team's concrete fixture count, and for a
// knockout the number of rounds, with the rest chain of the slot space.
func restShortfalls(t config.Tournament, plan *fixture.Plan, slots []Slot) []restShortfall {
	chain := restChain(slots, t.MinRest())

	load := make(map[string]int)
	labels := make(map[string]string)
	for _, f := range plan.Fixtures {
		for _, team := range f.Teams() {
			load[team.ID]++
			labels[team.ID] = team.Label()
		}
	}

	var out []restShortfall
	for id, n := range load {
		if n > chain {
			out = append(out, restShortfall{label: "Team " + labels[id], need: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].need != out[j].need {
			return out[i].need > out[j].need
		}
		return out[i].label < out[j].label
	})
	if plan.Format == config.Knockout && plan.Rounds > chain {
		out = append(out, restShortfall{label: "The knockout bracket", need: plan.Rounds})
	}
	return out
}

func (d *diagnoser) capacityConflicts(plan *fixture.Plan, slots []Slot) []Conflict {
	t := d.base.t
	need, have := len(plan.Fixtures), len(slots)
	short := need - have
	perVenueDay := SlotsPerVenueDay(t)

	conflicts := []Conflict{{
		Kind: InsufficientCapacity,
		Message: fmt.Sprintf("%s need %s but only %d are available (%s over %s at %s/day)",
			plural(need, "fixture"), plural(need, "slot"), have,
			plural(len(d.base.venues), "venue"), plural(usableDays(slots), "usable day"),
			plural(t.SlotsPerDay, "slot")),
	}}
	if perVenueDay > 0 {
		venueDaysNeeded := (short + perVenueDay - 1) / perVenueDay
		conflicts = append(conflicts, Conflict{
			Kind: InsufficientCapacity,
			Message: fmt.Sprintf("Short by %s, which needs at least %d more %s",
				plural(short, "slot"), venueDaysNeeded, nounFor(venueDaysNeeded, "venue-day")),
		})
	} else {
		conflicts = append(conflicts, Conflict{
			Kind: InsufficientCapacity,
			Message: fmt.Sprintf("A %s match does not fit the %s-%s day window",
				formatHours(t.MatchDuration()), t.Window().Start, t.Window().End),
		})
	}
	return conflicts
}

func (d *diagnoser) restConflicts(shortfalls []restShortfall, slots []Slot) []Conflict {
	rest := formatHours(d.base.t.MinRest())
	chain := restChain(slots, d.base.t.MinRest())
	conflicts := make([]Conflict, len(shortfalls))
	for i, s := range shortfalls {
		conflicts[i] = Conflict{
			Kind: RestConstraintUnsatisfiable,
			Message: fmt.Sprintf("%s needs %s but with %s rest between them only %d fit between %s and %s",
				s.label, plural(s.need, "match"), rest, chain, d.base.t.StartDate, d.base.t.EndDate),
		}
	}
	return conflicts
}

// searchConflicts ranks what the failed search kept running into.
func (d *diagnoser) searchConflicts(plan *fixture.Plan, slots []Slot, res *assignment) []Conflict {
	t := d.base.t
	tr := res.trace
	rest := formatHours(t.MinRest())
	given := fmt.Sprintf("given only %s and %s/day", plural(countVenues(slots), "venue"), plural(t.SlotsPerDay, "slot"))

	bySeq := make(map[int]fixture.Fixture, len(plan.Fixtures))
	for _, f := range plan.Fixtures {
		bySeq[f.Sequence] = f
	}

	var conflicts []Conflict
	add := func(msg string) {
		conflicts = append(conflicts, Conflict{Kind: RestConstraintUnsatisfiable, Message: msg})
	}

	pairMessage := func(f fixture.Fixture) string {
		if f.Provisional() {
			return fmt.Sprintf("Match %d (%s) cannot follow its earlier rounds with %s rest %s", f.Sequence, f, rest, given)
		}
		return fmt.Sprintf("Team %s and Team %s cannot both satisfy the %s rest rule %s",
			f.Home.Label(), f.Away.Label(), rest, given)
	}

	if f, ok := bySeq[tr.stuck]; ok {
		add(pairMessage(f))
	}
	for _, e := range topCounts(intKeys(tr.deadEnds), 3) {
		seq := e.key.(int)
		if seq == tr.stuck {
			continue
		}
		add(fmt.Sprintf("%s (%s)", pairMessage(bySeq[seq]), plural(e.count, "dead end")))
	}

	for _, e := range topCounts(stringKeys(tr.teams), 3) {
		add(fmt.Sprintf("Team %s blocked %s on rest or overlap", teamLabel(d.base.teams, e.key.(string)), plural(e.count, "placement")))
	}
	for _, e := range topCounts(stringKeys(tr.venues), 2) {
		add(fmt.Sprintf("Venue %s was taken or full for %s", venueName(d.base.venues, e.key.(string)), plural(e.count, "placement")))
	}

	var why string
	switch tr.stop {
	case stopBudget:
		why = fmt.Sprintf("the step budget of %d ran out", d.opts.stepBudget)
	case stopWindow:
		why = fmt.Sprintf("the dead end was more than %s behind the frontier", plural(d.opts.backtrackWindow, "fixture"))
	default:
		why = "every alternative was tried"
	}
	add(fmt.Sprintf("Search placed at most %d of %d fixtures in %s and %s before stopping: %s",
		res.stats.Placed, res.stats.Fixtures, plural(res.stats.Steps, "step"), plural(res.stats.Backtracks, "backtrack"), why))
	return conflicts
}

type countEntry struct {
	key   any
	label string
	count int
}

func intKeys(m map[int]int) []countEntry {
	out := make([]countEntry, 0, len(m))
	for k, v := range m {
		out = append(out, countEntry{key: k, label: fmt.Sprintf("%09d", k), count: v})
	}
	return out
}

func stringKeys(m map[string]int) []countEntry {
	out := make([]countEntry, 0, len(m))
	for k, v := range m {
		out = append(out, countEntry{key: k, label: k, count: v})
	}
	return out
}

// topCounts returns the n highest counts, ties broken by key.
func topCounts(entries []countEntry, n int) []countEntry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].label < entries[j].label
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func teamLabel(teams []config.Team, id string) string {
	for _, t := range teams {
		if t.ID == id {
			return t.Label()
		}
	}
	return id
}

func venueName(venues []config.Venue, id string) string {
	for _, v := range venues {
		if v.ID == id {
			return v.Name
		}
	}
	return id
}

func countVenues(slots []Slot) int {
	seen := make(map[string]bool)
	for _, s := range slots {
		seen[s.VenueID] = true
	}
	return len(seen)
}

func usableDays(slots []Slot) int {
	seen := make(map[time.Time]bool)
	for _, s := range slots {
		seen[s.Day] = true
	}
	return len(seen)
}

func plural(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, nounFor(n, noun))
}

// nounFor is noun in the form that goes with a count of n.
func nounFor(n int, noun string) string {
	switch {
	case n == 1:
		return noun
	case noun == "match":
		return "matches"
	default:
		return noun + "s"
	}
}

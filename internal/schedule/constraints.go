package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
)

// rejection categorizes why a slot was rejected for a fixture.
type rejection int

const (
	rejectSlotUsed rejection = iota
	rejectVenueBusy
	rejectDayFull
	rejectTeamBusy
	rejectTeamRest
	rejectFeeder
)

func (r rejection) String() string {
	switch r {
	case rejectSlotUsed:
		return "slot taken"
	case rejectVenueBusy:
		return "venue busy"
	case rejectDayFull:
		return "venue day full"
	case rejectTeamBusy:
		return "team already playing"
	case rejectTeamRest:
		return "rest period"
	case rejectFeeder:
		return "earlier round unfinished"
	default:
		return "unknown"
	}
}

// occupancy is the run-scoped state of a partial assignment: the slot arena,
// which slots are used, and per-team, per-venue and per-venue-day indexes.
// Every Generate call owns its own occupancy.
type occupancy struct {
	slots       []Slot
	minRest     time.Duration
	slotsPerDay int

	used       []bool
	bySequence map[int]int      // fixture sequence -> slot index
	teamSlots  map[string][]int // team ID -> slot indices
	venueSlots map[string][]int // venue ID -> slot indices
	dayCount   map[venueDay]int
}

func newOccupancy(t config.Tournament, slots []Slot) *occupancy {
	return &occupancy{
		slots:       slots,
		minRest:     t.MinRest(),
		slotsPerDay: t.SlotsPerDay,
		used:        make([]bool, len(slots)),
		bySequence:  make(map[int]int),
		teamSlots:   make(map[string][]int),
		venueSlots:  make(map[string][]int),
		dayCount:    make(map[venueDay]int),
	}
}

func (o *occupancy) place(f fixture.Fixture, idx int) {
	slot := o.slots[idx]
	o.used[idx] = true
	o.bySequence[f.Sequence] = idx
	for _, team := range f.Teams() {
		o.teamSlots[team.ID] = append(o.teamSlots[team.ID], idx)
	}
	o.venueSlots[slot.VenueID] = append(o.venueSlots[slot.VenueID], idx)
	o.dayCount[venueDay{slot.VenueID, slot.Day}]++
}

func (o *occupancy) remove(f fixture.Fixture, idx int) {
	slot := o.slots[idx]
	o.used[idx] = false
	delete(o.bySequence, f.Sequence)
	for _, team := range f.Teams() {
		o.teamSlots[team.ID] = removeIndex(o.teamSlots[team.ID], idx)
	}
	o.venueSlots[slot.VenueID] = removeIndex(o.venueSlots[slot.VenueID], idx)
	o.dayCount[venueDay{slot.VenueID, slot.Day}]--
}

func removeIndex(indices []int, idx int) []int {
	for i, v := range indices {
		if v == idx {
			return append(indices[:i], indices[i+1:]...)
		}
	}
	return indices
}

// venueFree reports whether no placed match at the slot's venue overlaps it.
func (o *occupancy) venueFree(slot Slot) bool {
	for _, idx := range o.venueSlots[slot.VenueID] {
		if o.slots[idx].Overlaps(slot) {
			return false
		}
	}
	return true
}

func (o *occupancy) dayCapacityOK(slot Slot) bool {
	return o.dayCount[venueDay{slot.VenueID, slot.Day}] < o.slotsPerDay
}

// teamFree checks the team's placed matches on both sides of the slot.
func (o *occupancy) teamFree(teamID string, slot Slot) (rejection, bool) {
	for _, idx := range o.teamSlots[teamID] {
		if reason, ok := restCompatible(o.slots[idx], slot, o.minRest); !ok {
			return reason, false
		}
	}
	return 0, true
}

// restCompatible reports whether one team can play in both windows.
func restCompatible(a, b Slot, minRest time.Duration) (rejection, bool) {
	if a.Overlaps(b) {
		return rejectTeamBusy, false
	}
	var gap time.Duration
	if !b.Start.Before(a.End) {
		gap = b.Start.Sub(a.End)
	} else {
		gap = a.Start.Sub(b.End)
	}
	if gap < minRest {
		return rejectTeamRest, false
	}
	return 0, true
}

// feedersDone requires every fixture this one depends on to be placed and to
// finish, plus the rest period, before the slot starts.
func (o *occupancy) feedersDone(f fixture.Fixture, slot Slot) bool {
	for _, seq := range f.Feeders() {
		idx, ok := o.bySequence[seq]
		if !ok {
			return false
		}
		if slot.Start.Before(o.slots[idx].End.Add(o.minRest)) {
			return false
		}
	}
	return true
}

// admissible checks slot idx for fixture f. On rejection it returns the
// reason and the team or venue ID responsible.
func (o *occupancy) admissible(f fixture.Fixture, idx int) (rejection, string, bool) {
	slot := o.slots[idx]
	if o.used[idx] {
		return rejectSlotUsed, slot.VenueID, false
	}
	if !o.venueFree(slot) {
		return rejectVenueBusy, slot.VenueID, false
	}
	if !o.dayCapacityOK(slot) {
		return rejectDayFull, slot.VenueID, false
	}
	for _, team := range f.Teams() {
		if reason, ok := o.teamFree(team.ID, slot); !ok {
			return reason, team.ID, false
		}
	}
	if !o.feedersDone(f, slot) {
		return rejectFeeder, "", false
	}
	return 0, "", true
}

// Violation is a broken hard constraint found in a finished schedule.
type Violation struct {
	Match   int    `json:"match"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Match == 0 {
		return v.Message
	}
	return fmt.Sprintf("Match %d: %s", v.Match, v.Message)
}

// Audit re-checks a complete schedule pairwise against every hard constraint.
// Matches are identified by Number; unnumbered matches are numbered by
// position.
func Audit(t config.Tournament, matches []Match) []Violation {
	var violations []Violation
	minRest := t.MinRest()

	number := func(i int) int {
		if matches[i].Number > 0 {
			return matches[i].Number
		}
		return i + 1
	}

	bySequence := make(map[int]int)
	for i, m := range matches {
		if m.Fixture.Sequence > 0 {
			bySequence[m.Fixture.Sequence] = i
		}
	}

	perDay := make(map[venueDay]int)
	for i, m := range matches {
		perDay[venueDay{m.Slot.VenueID, m.Slot.Day}]++

		for _, seq := range m.Fixture.Feeders() {
			j, ok := bySequence[seq]
			if !ok {
				continue
			}
			if m.Slot.Start.Before(matches[j].Slot.End.Add(minRest)) {
				violations = append(violations, Violation{
					Match:   number(i),
					Message: fmt.Sprintf("starts before the winner of match %d has rested", number(j)),
				})
			}
		}

		for j := i + 1; j < len(matches); j++ {
			o := matches[j]
			if m.Slot.VenueID == o.Slot.VenueID && m.Slot.Overlaps(o.Slot) {
				violations = append(violations, Violation{
					Match:   number(i),
					Message: fmt.Sprintf("overlaps match %d at %s", number(j), m.Slot.VenueName),
				})
			}
			for _, a := range m.Fixture.Teams() {
				for _, b := range o.Fixture.Teams() {
					if a.ID != b.ID {
						continue
					}
					switch reason, ok := restCompatible(m.Slot, o.Slot, minRest); {
					case ok:
					case reason == rejectTeamBusy:
						violations = append(violations, Violation{
							Match:   number(i),
							Message: fmt.Sprintf("%s also plays match %d at the same time", a.Label(), number(j)),
						})
					default:
						violations = append(violations, Violation{
							Match:   number(i),
							Message: fmt.Sprintf("%s has less than %s rest before or after match %d", a.Label(), formatHours(minRest), number(j)),
						})
					}
				}
			}
		}
	}

	keys := make([]venueDay, 0, len(perDay))
	for k := range perDay {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		return keys[i].venue < keys[j].venue
	})
	for _, k := range keys {
		if perDay[k] > t.SlotsPerDay {
			violations = append(violations, Violation{
				Message: fmt.Sprintf("venue %s hosts %d matches on %s, limit is %d", k.venue, perDay[k], k.day.Format("2006-01-02"), t.SlotsPerDay),
			})
		}
	}

	return violations
}

// formatHours renders a duration as "24h" or "1.5h".
func formatHours(d time.Duration) string {
	return fmt.Sprintf("%gh", d.Hours())
}

package schedule

import (
	"strings"
	"testing"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
)

func pairing(seq int, home, away config.Team) fixture.Fixture {
	return fixture.Fixture{
		Home:     fixture.Side{Team: home},
		Away:     fixture.Side{Team: away},
		Round:    1,
		Sequence: seq,
	}
}

func TestOccupancy(t *testing.T) {
	tr := testTournament(2, 2, 3, 12)
	slots, err := BuildSlots(tr, testVenues("Chepauk", "Wankhede"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}
	// Day 1: 0 Chepauk 08, 1 Wankhede 08, 2 Chepauk 11, 3 Wankhede 11; day 2 repeats from 4.
	teams := testTeams(4)
	mumChe := pairing(1, teams[0], teams[1])
	kolDel := pairing(2, teams[2], teams[3])
	mumKol := pairing(3, teams[0], teams[2])

	occ := newOccupancy(tr, slots)
	occ.place(mumChe, 0)

	t.Run("slot taken", func(t *testing.T) {
		if reason, _, ok := occ.admissible(kolDel, 0); ok || reason != rejectSlotUsed {
			t.Errorf("admissible = %v %v, want slot taken", reason, ok)
		}
	})

	t.Run("other venue same time", func(t *testing.T) {
		if _, _, ok := occ.admissible(kolDel, 1); !ok {
			t.Error("KOL v DEL should fit at Wankhede 08:00")
		}
	})

	t.Run("team overlap", func(t *testing.T) {
		reason, who, ok := occ.admissible(mumKol, 1)
		if ok || reason != rejectTeamBusy || who != "MUM" {
			t.Errorf("admissible = %v %q %v, want MUM busy", reason, who, ok)
		}
	})

	t.Run("rest period", func(t *testing.T) {
		reason, who, ok := occ.admissible(mumKol, 3)
		if ok || reason != rejectTeamRest || who != "MUM" {
			t.Errorf("admissible = %v %q %v, want MUM rest", reason, who, ok)
		}
		// 11:00 day 1 to 08:00 day 2 is 21h.
		if _, _, ok := occ.admissible(mumKol, 5); !ok {
			t.Error("MUM v KOL should fit on day 2")
		}
	})

	t.Run("rest applies before an existing match", func(t *testing.T) {
		strict := tr
		strict.MinRestHours = 24
		o := newOccupancy(strict, slots)
		o.place(mumChe, 6) // day 2 11:00, 21h after slot 2 ends
		if reason, _, ok := o.admissible(mumKol, 2); ok || reason != rejectTeamRest {
			t.Errorf("admissible = %v %v, want rest rejection", reason, ok)
		}
	})

	t.Run("day capacity", func(t *testing.T) {
		small := tr
		small.SlotsPerDay = 1
		o := newOccupancy(small, slots)
		o.place(mumChe, 0)
		if reason, _, ok := o.admissible(kolDel, 2); ok || reason != rejectDayFull {
			t.Errorf("admissible = %v %v, want day full", reason, ok)
		}
	})

	t.Run("remove frees everything", func(t *testing.T) {
		o := newOccupancy(tr, slots)
		o.place(mumChe, 0)
		o.remove(mumChe, 0)
		if _, _, ok := o.admissible(mumKol, 0); !ok {
			t.Error("slot should be free after remove")
		}
		if len(o.teamSlots["MUM"]) != 0 || o.dayCount[venueDay{"Chepauk", slots[0].Day}] != 0 {
			t.Error("indexes not cleared")
		}
	})
}

func TestOccupancyFeeders(t *testing.T) {
	tr := testTournament(2, 2, 3, 12)
	slots, err := BuildSlots(tr, testVenues("Chepauk", "Wankhede"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}
	teams := testTeams(4)
	semi1 := pairing(1, teams[0], teams[1])
	semi2 := pairing(2, teams[2], teams[3])
	final := fixture.Fixture{
		Home:     fixture.Side{WinnerOf: 1},
		Away:     fixture.Side{WinnerOf: 2},
		Round:    2,
		Sequence: 3,
	}

	occ := newOccupancy(tr, slots)
	occ.place(semi1, 0)

	if reason, _, ok := occ.admissible(final, 5); ok || reason != rejectFeeder {
		t.Errorf("final before semi 2 is placed: %v %v, want feeder rejection", reason, ok)
	}

	occ.place(semi2, 1)
	if _, _, ok := occ.admissible(final, 3); ok {
		t.Error("final on day 1 ignores the rest period")
	}
	if _, _, ok := occ.admissible(final, 4); !ok {
		t.Error("final should fit on day 2")
	}
}

func TestRestCompatible(t *testing.T) {
	tr := testTournament(2, 3, 4, 24)
	slots, err := BuildSlots(tr, testVenues("Eden Gardens"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}

	cases := []struct {
		name string
		a, b int
		ok   bool
	}{
		{"same slot", 0, 0, false},
		{"same day", 0, 2, false},
		{"next day, full gap", 0, 4, true},
		{"next day, short gap", 1, 3, false},
		{"either order", 4, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := restCompatible(slots[tc.a], slots[tc.b], tr.MinRest()); ok != tc.ok {
				t.Errorf("restCompatible = %v, want %v", ok, tc.ok)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	tr := testTournament(2, 1, 3, 12)
	slots, err := BuildSlots(tr, testVenues("Chepauk", "Wankhede"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}
	// 0 Chepauk day 1, 1 Wankhede day 1, 2 Chepauk day 2, 3 Wankhede day 2
	teams := testTeams(4)

	t.Run("clean schedule", func(t *testing.T) {
		matches := []Match{
			{Number: 1, Fixture: pairing(1, teams[0], teams[1]), Slot: slots[0]},
			{Number: 2, Fixture: pairing(2, teams[2], teams[3]), Slot: slots[1]},
			{Number: 3, Fixture: pairing(3, teams[0], teams[2]), Slot: slots[2]},
		}
		if v := Audit(tr, matches); len(v) != 0 {
			t.Errorf("unexpected violations: %v", v)
		}
	})

	t.Run("team overlap", func(t *testing.T) {
		matches := []Match{
			{Number: 1, Fixture: pairing(1, teams[0], teams[1]), Slot: slots[0]},
			{Number: 2, Fixture: pairing(2, teams[0], teams[2]), Slot: slots[1]},
		}
		v := Audit(tr, matches)
		if len(v) != 1 || !strings.Contains(v[0].Message, "MUM also plays match 2") {
			t.Errorf("violations = %v, want MUM overlap", v)
		}
	})

	t.Run("venue overlap and capacity", func(t *testing.T) {
		matches := []Match{
			{Number: 1, Fixture: pairing(1, teams[0], teams[1]), Slot: slots[0]},
			{Number: 2, Fixture: pairing(2, teams[2], teams[3]), Slot: slots[0]},
		}
		v := Audit(tr, matches)
		if len(v) != 2 {
			t.Fatalf("violations = %v, want overlap and capacity", v)
		}
		if !strings.Contains(v[0].Message, "overlaps match 2") {
			t.Errorf("first violation = %q", v[0].Message)
		}
		if !strings.Contains(v[1].Message, "hosts 2 matches") {
			t.Errorf("second violation = %q", v[1].Message)
		}
	})

	t.Run("short rest", func(t *testing.T) {
		strict := tr
		strict.MinRestHours = 48
		matches := []Match{
			{Number: 1, Fixture: pairing(1, teams[0], teams[1]), Slot: slots[0]},
			{Number: 2, Fixture: pairing(2, teams[1], teams[2]), Slot: slots[3]},
		}
		v := Audit(strict, matches)
		if len(v) != 1 || !strings.Contains(v[0].Message, "CHE has less than 48h rest") {
			t.Errorf("violations = %v, want CHE rest", v)
		}
	})

	t.Run("winner plays too soon", func(t *testing.T) {
		final := fixture.Fixture{Home: fixture.Side{WinnerOf: 1}, Away: fixture.Side{WinnerOf: 2}, Round: 2, Sequence: 3}
		matches := []Match{
			{Number: 1, Fixture: pairing(1, teams[0], teams[1]), Slot: slots[0]},
			{Number: 2, Fixture: pairing(2, teams[2], teams[3]), Slot: slots[1]},
			{Number: 3, Fixture: final, Slot: slots[1], Provisional: true},
		}
		v := Audit(tr, matches)
		found := false
		for _, x := range v {
			if x.Match == 3 && strings.Contains(x.Message, "winner of match 1") {
				found = true
			}
		}
		if !found {
			t.Errorf("violations = %v, want feeder violation on match 3", v)
		}
	})
}

package schedule

import (
	"testing"
	"time"

	"github.com/derekprior/cricsched/internal/config"
)

func date(y, m, d int) config.Date {
	return config.Date{Time: time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)}
}

func datePtr(y, m, d int) *config.Date {
	dt := date(y, m, d)
	return &dt
}

func at(y, m, d, hour, min int) time.Time {
	return time.Date(y, time.Month(m), d, hour, min, 0, 0, time.UTC)
}

var teamCodes = []string{"MUM", "CHE", "KOL", "DEL", "PUN", "RAJ", "HYD", "BLR", "LKO", "GUJ", "ASM", "GOA"}

func testTeams(n int) []config.Team {
	teams := make([]config.Team, n)
	for i := range teams {
		teams[i] = config.Team{ID: teamCodes[i], Name: teamCodes[i], Code: teamCodes[i]}
	}
	return teams
}

func testVenues(names ...string) []config.Venue {
	venues := make([]config.Venue, len(names))
	for i, name := range names {
		venues[i] = config.Venue{ID: name, Name: name}
	}
	return venues
}

// testTournament is a round robin from 2026-05-01 lasting days days.
func testTournament(days, slotsPerDay int, durationHours, restHours float64) config.Tournament {
	return config.Tournament{
		Name:               "Test Cup",
		StartDate:          date(2026, 5, 1),
		EndDate:            date(2026, 5, days),
		MatchDurationHours: durationHours,
		MinRestHours:       restHours,
		SlotsPerDay:        slotsPerDay,
		Format:             config.RoundRobin,
	}
}

func TestBuildSlots(t *testing.T) {
	tr := testTournament(3, 2, 2, 0)
	slots, err := BuildSlots(tr, testVenues("Chepauk", "Wankhede"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}

	t.Run("count", func(t *testing.T) {
		// 3 days x 2 venues x 2 slots
		if len(slots) != 12 {
			t.Errorf("got %d slots, want 12", len(slots))
		}
	})

	t.Run("packed from window start", func(t *testing.T) {
		if !slots[0].Start.Equal(at(2026, 5, 1, 8, 0)) {
			t.Errorf("first slot starts %v, want 08:00", slots[0].Start)
		}
		if !slots[2].Start.Equal(at(2026, 5, 1, 10, 0)) {
			t.Errorf("third slot starts %v, want 10:00", slots[2].Start)
		}
		for _, s := range slots {
			if s.End.Sub(s.Start) != 2*time.Hour {
				t.Errorf("slot %v-%v is not 2h", s.Start, s.End)
			}
		}
	})

	t.Run("ordered by day, start, venue", func(t *testing.T) {
		for i := 1; i < len(slots); i++ {
			a, b := slots[i-1], slots[i]
			if b.Start.Before(a.Start) {
				t.Fatalf("slot %d starts before slot %d", i, i-1)
			}
			if b.Start.Equal(a.Start) && b.VenueID < a.VenueID {
				t.Fatalf("slot %d venue %s sorts before %s", i, b.VenueID, a.VenueID)
			}
		}
		if slots[0].VenueID != "Chepauk" || slots[1].VenueID != "Wankhede" {
			t.Errorf("first slots at %s, %s; want Chepauk, Wankhede", slots[0].VenueID, slots[1].VenueID)
		}
	})

	t.Run("indices match positions", func(t *testing.T) {
		for i, s := range slots {
			if s.Index != i {
				t.Errorf("slot %d has index %d", i, s.Index)
			}
		}
	})
}

func TestBuildSlotsNoVenues(t *testing.T) {
	if _, err := BuildSlots(testTournament(3, 1, 3, 0), nil); err != ErrInsufficientVenues {
		t.Errorf("error = %v, want ErrInsufficientVenues", err)
	}
}

func TestBuildSlotsWindowLimit(t *testing.T) {
	tr := testTournament(1, 5, 4, 0)
	tr.DayWindow = &config.Window{Start: config.Clock{Minutes: 9 * 60}, End: config.Clock{Minutes: 18 * 60}}

	slots, err := BuildSlots(tr, testVenues("Eden Gardens"))
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}
	// 09:00-13:00 and 13:00-17:00 fit, 17:00-21:00 does not.
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if !slots[1].End.Equal(at(2026, 5, 1, 17, 0)) {
		t.Errorf("last slot ends %v, want 17:00", slots[1].End)
	}
	if got := SlotsPerVenueDay(tr); got != 2 {
		t.Errorf("SlotsPerVenueDay() = %d, want 2", got)
	}
}

func TestBuildSlotsVenueWindow(t *testing.T) {
	tr := testTournament(1, 1, 3, 0)
	venues := testVenues("Chinnaswamy", "Kotla")
	venues[1].DayWindow = &config.Window{Start: config.Clock{Minutes: 14 * 60}, End: config.Clock{Minutes: 22 * 60}}

	slots, err := BuildSlots(tr, venues)
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[1].VenueID != "Kotla" || !slots[1].Start.Equal(at(2026, 5, 1, 14, 0)) {
		t.Errorf("second slot = %s at %v, want Kotla at 14:00", slots[1].VenueID, slots[1].Start)
	}
}

func TestBuildSlotsExclusions(t *testing.T) {
	tr := testTournament(5, 1, 3, 0)
	tr.BlackoutDates = []config.BlackoutDate{{Date: date(2026, 5, 2), Reason: "Holi"}}
	venues := testVenues("Chepauk", "Wankhede")
	venues[0].Reservations = []config.Reservation{
		{Date: datePtr(2026, 5, 3), Reason: "Club final"},
	}
	venues[1].Reservations = []config.Reservation{
		{StartDate: datePtr(2026, 5, 4), EndDate: datePtr(2026, 5, 5), Reason: "Concert"},
	}

	slots, err := BuildSlots(tr, venues)
	if err != nil {
		t.Fatalf("BuildSlots() error: %v", err)
	}

	t.Run("blackout removes every venue", func(t *testing.T) {
		for _, s := range slots {
			if s.Day.Equal(date(2026, 5, 2).Time) {
				t.Errorf("slot on blackout date at %s", s.VenueID)
			}
		}
	})

	t.Run("reservations remove one venue", func(t *testing.T) {
		for _, s := range slots {
			if s.VenueID == "Chepauk" && s.Day.Equal(date(2026, 5, 3).Time) {
				t.Error("Chepauk slot on reserved date")
			}
			if s.VenueID == "Wankhede" && !s.Day.Before(date(2026, 5, 4).Time) {
				t.Errorf("Wankhede slot on reserved date %v", s.Day)
			}
		}
	})

	t.Run("count", func(t *testing.T) {
		// 10 venue-days minus 2 for the blackout, 1 for Chepauk, 2 for Wankhede
		if len(slots) != 5 {
			t.Errorf("got %d slots, want 5", len(slots))
		}
	})

	t.Run("blackout slots for display", func(t *testing.T) {
		blackouts := BuildBlackoutSlots(tr, venues)
		if len(blackouts) != 5 {
			t.Fatalf("got %d blackout slots, want 5", len(blackouts))
		}
		if blackouts[0].Reason != "Holi" {
			t.Errorf("first reason = %q, want Holi", blackouts[0].Reason)
		}
		if blackouts[2].VenueID != "Chepauk" || blackouts[2].Reason != "Club final" {
			t.Errorf("third blackout = %+v, want Chepauk club final", blackouts[2])
		}
	})
}

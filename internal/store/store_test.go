package store

import (
	"testing"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/fixture"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/google/uuid"
)

func TestDBConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE"} {
			t.Setenv(k, "")
		}
		want := "host=localhost port=5432 user=postgres password=postgres dbname=cricsched sslmode=disable"
		if got := DBConfigFromEnv().DSN(); got != want {
			t.Errorf("DSN() = %q, want %q", got, want)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_NAME", "fixtures")
		cfg := DBConfigFromEnv()
		if cfg.Host != "db.internal" || cfg.DBName != "fixtures" {
			t.Errorf("config = %+v", cfg)
		}
	})
}

func TestNewMatches(t *testing.T) {
	mum := config.Team{ID: "mum", Name: "Mumbai", Code: "MUM"}
	che := config.Team{ID: "che", Name: "Chennai", Code: "CHE"}
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	matches := []schedule.Match{
		{
			Number: 1,
			Fixture: fixture.Fixture{
				Home: fixture.Side{Team: mum}, Away: fixture.Side{Team: che},
				Round: 1, RoundLabel: "Semi-final", Sequence: 1,
			},
			Slot: schedule.Slot{VenueID: "chepauk", Start: start, End: start.Add(4 * time.Hour)},
		},
		{
			Number: 2,
			Fixture: fixture.Fixture{
				Home: fixture.Side{Team: mum}, Away: fixture.Side{WinnerOf: 1},
				Round: 2, RoundLabel: "Final", Sequence: 2,
			},
			Slot:        schedule.Slot{VenueID: "eden", Start: start.Add(24 * time.Hour), End: start.Add(28 * time.Hour)},
			Provisional: true,
		},
	}

	rows := NewMatches("t1", matches, now)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	t.Run("concrete match", func(t *testing.T) {
		m := rows[0]
		if m.TournamentID != "t1" || m.Number != 1 || m.Home != "MUM" || m.Away != "CHE" {
			t.Errorf("row = %+v", m)
		}
		if m.HomeTeamID == nil || *m.HomeTeamID != "mum" || m.AwayTeamID == nil || *m.AwayTeamID != "che" {
			t.Errorf("team ids = %v %v", m.HomeTeamID, m.AwayTeamID)
		}
		if !m.StartsAt.Equal(start) || !m.EndsAt.Equal(start.Add(4*time.Hour)) || !m.CreatedAt.Equal(now) {
			t.Errorf("times = %v %v %v", m.StartsAt, m.EndsAt, m.CreatedAt)
		}
		if _, err := uuid.Parse(m.ID); err != nil {
			t.Errorf("id %q is not a uuid: %v", m.ID, err)
		}
	})

	t.Run("placeholder side has no team id", func(t *testing.T) {
		m := rows[1]
		if m.AwayTeamID != nil || m.Away != "Winner of Match 1" || !m.Provisional {
			t.Errorf("row = %+v", m)
		}
		if m.RoundLabel != "Final" || m.VenueID != "eden" {
			t.Errorf("row = %+v", m)
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		if rows[0].ID == rows[1].ID {
			t.Error("duplicate match ids")
		}
	})
}

package validator

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/excel"
	"github.com/derekprior/cricsched/internal/fixture"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/xuri/excelize/v2"
)

// Violation represents a constraint violation found during validation.
type Violation struct {
	Row     int
	Match   int
	Type    string // "error" or "warning"
	Message string
}

// Validate reads a schedule Excel file and checks it against the config rules.
func Validate(cfg *config.Config, path string) ([]Violation, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	parsed, violations, err := readMatches(cfg, f)
	if err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}

	// Check hard constraints
	violations = append(violations, checkAudit(cfg, parsed)...)
	violations = append(violations, checkAvailability(cfg, parsed)...)
	violations = append(violations, checkCompleteness(cfg, parsed)...)

	// Check soft constraints
	violations = append(violations, checkHomeAwayBalance(cfg, parsed)...)

	return violations, nil
}

type parsedMatch struct {
	Row   int
	Match schedule.Match
}

func readMatches(cfg *config.Config, f *excelize.File) ([]parsedMatch, []Violation, error) {
	rows, err := f.GetRows(excel.MasterSheet)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", excel.MasterSheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("Master Schedule is empty")
	}

	var names []string
	for _, v := range cfg.Venues {
		names = append(names, v.Name)
	}
	byColumn := make(map[string]config.Venue)
	for _, v := range cfg.Venues {
		byColumn[excel.VenueColumnName(v.Name, names)] = v
	}

	// Header row determines venue columns (index 4+)
	header := rows[0]
	venueCols := make(map[int]config.Venue)
	for i := 4; i < len(header); i++ {
		v, ok := byColumn[header[i]]
		if !ok {
			return nil, nil, fmt.Errorf("column %q does not match any venue", header[i])
		}
		venueCols[i] = v
	}

	teams := make(map[string]config.Team)
	for _, t := range cfg.Teams {
		teams[t.Label()] = t
	}
	side := func(label string) (fixture.Side, bool) {
		if n, ok := strings.CutPrefix(label, "Winner of Match "); ok {
			seq, err := strconv.Atoi(n)
			return fixture.Side{WinnerOf: seq}, err == nil
		}
		t, ok := teams[label]
		return fixture.Side{Team: t}, ok
	}

	duration := cfg.Tournament.MatchDuration()
	var matches []parsedMatch
	var violations []Violation
	for i, row := range rows {
		if i == 0 || len(row) < 3 || row[0] == "" || row[2] == excel.AllDay {
			continue
		}
		day, err := time.Parse(excel.DateLayout, row[0])
		if err != nil {
			continue
		}
		clock, err := time.Parse(excel.TimeLayout, row[2])
		if err != nil {
			continue
		}
		start := day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)

		for col := 4; col < len(row); col++ {
			number, home, away, ok := parseMatchCell(row[col])
			if !ok {
				continue // closure text, not a match
			}
			homeSide, homeOK := side(home)
			awaySide, awayOK := side(away)
			if !homeOK || !awayOK {
				violations = append(violations, Violation{
					Row:     i + 1,
					Match:   number,
					Type:    "error",
					Message: fmt.Sprintf("%q names an unknown team", row[col]),
				})
				continue
			}
			v := venueCols[col]
			fx := fixture.Fixture{Home: homeSide, Away: awaySide, Sequence: number}
			matches = append(matches, parsedMatch{
				Row: i + 1,
				Match: schedule.Match{
					Number:  number,
					Fixture: fx,
					Slot: schedule.Slot{
						VenueID:   v.ID,
						VenueName: v.Name,
						Day:       day,
						Start:     start,
						End:       start.Add(duration),
					},
					Provisional: fx.Provisional(),
				},
			})
		}
	}

	return matches, violations, nil
}

// parseMatchCell parses "M3: MUM v CHE" and returns (3, "MUM", "CHE", true).
// Returns ok false if the cell doesn't match the match format.
func parseMatchCell(cell string) (number int, home, away string, ok bool) {
	label, teams, found := strings.Cut(cell, ": ")
	if !found || !strings.HasPrefix(label, "M") {
		return 0, "", "", false
	}
	number, err := strconv.Atoi(label[1:])
	if err != nil {
		return 0, "", "", false
	}
	home, away, found = strings.Cut(teams, " v ")
	if !found {
		return 0, "", "", false
	}
	return number, home, away, true
}

func checkAudit(cfg *config.Config, parsed []parsedMatch) []Violation {
	matches := make([]schedule.Match, len(parsed))
	rows := make(map[int]int)
	for i, p := range parsed {
		matches[i] = p.Match
		rows[p.Match.Number] = p.Row
	}

	var violations []Violation
	for _, v := range schedule.Audit(cfg.Tournament, matches) {
		violations = append(violations, Violation{
			Row:     rows[v.Match],
			Match:   v.Match,
			Type:    "error",
			Message: v.String(),
		})
	}
	return violations
}

// checkAvailability reports matches outside the tournament dates, on closed
// venue days, or outside a venue's day window.
func checkAvailability(cfg *config.Config, parsed []parsedMatch) []Violation {
	t := cfg.Tournament
	closed := make(map[string]map[time.Time]bool)
	for _, b := range schedule.BuildBlackoutSlots(t, cfg.Venues) {
		if closed[b.VenueID] == nil {
			closed[b.VenueID] = make(map[time.Time]bool)
		}
		closed[b.VenueID][b.Day] = true
	}
	venues := make(map[string]config.Venue)
	for _, v := range cfg.Venues {
		venues[v.ID] = v
	}

	var violations []Violation
	for _, p := range parsed {
		m := p.Match
		fail := func(format string, args ...any) {
			violations = append(violations, Violation{
				Row:     p.Row,
				Match:   m.Number,
				Type:    "error",
				Message: fmt.Sprintf("Match %d: ", m.Number) + fmt.Sprintf(format, args...),
			})
		}

		if m.Slot.Day.Before(t.StartDate.Time) || m.Slot.Day.After(t.EndDate.Time) {
			fail("%s is outside the tournament dates", m.Slot.Day.Format(excel.DateLayout))
			continue
		}
		if closed[m.Slot.VenueID][m.Slot.Day] {
			fail("%s is closed on %s", m.Slot.VenueName, m.Slot.Day.Format(excel.DateLayout))
			continue
		}
		w := venues[m.Slot.VenueID].Window(t.Window())
		if m.Slot.Start.Before(m.Slot.Day.Add(w.Start.Offset())) || m.Slot.End.After(m.Slot.Day.Add(w.End.Offset())) {
			fail("%s-%s falls outside the %s-%s window at %s",
				m.Slot.Start.Format(excel.TimeLayout), m.Slot.End.Format(excel.TimeLayout), w.Start, w.End, m.Slot.VenueName)
		}
	}
	return violations
}

// checkCompleteness compares the sheet with the fixtures the format calls for.
func checkCompleteness(cfg *config.Config, parsed []parsedMatch) []Violation {
	gen, err := fixture.Get(cfg.Tournament)
	if err != nil {
		return []Violation{{Type: "error", Message: err.Error()}}
	}
	plan, err := gen.Generate(cfg.Teams)
	if err != nil {
		return []Violation{{Type: "error", Message: err.Error()}}
	}

	type pairing struct{ home, away string }
	want := make(map[pairing]int)
	wantProvisional := 0
	for _, f := range plan.Fixtures {
		if f.Provisional() {
			wantProvisional++
			continue
		}
		want[pairing{f.Home.Label(), f.Away.Label()}]++
	}

	got := make(map[pairing]int)
	gotProvisional := 0
	numbers := make(map[int]int)
	var violations []Violation
	for _, p := range parsed {
		numbers[p.Match.Number]++
		if numbers[p.Match.Number] == 2 {
			violations = append(violations, Violation{
				Row:     p.Row,
				Match:   p.Match.Number,
				Type:    "error",
				Message: fmt.Sprintf("Match number %d is used more than once", p.Match.Number),
			})
		}
		if p.Match.Provisional {
			gotProvisional++
			continue
		}
		got[pairing{p.Match.Fixture.Home.Label(), p.Match.Fixture.Away.Label()}]++
	}

	var missing, extra []string
	for k, n := range want {
		if got[k] < n {
			missing = append(missing, fmt.Sprintf("%s v %s", k.home, k.away))
		}
	}
	for k, n := range got {
		if n > want[k] {
			extra = append(extra, fmt.Sprintf("%s v %s", k.home, k.away))
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	for _, s := range missing {
		violations = append(violations, Violation{Type: "error", Message: s + " is not scheduled"})
	}
	for _, s := range extra {
		violations = append(violations, Violation{Type: "error", Message: s + " is scheduled more often than the format allows"})
	}
	if gotProvisional != wantProvisional {
		violations = append(violations, Violation{
			Type:    "error",
			Message: fmt.Sprintf("%d matches wait on earlier results, expected %d", gotProvisional, wantProvisional),
		})
	}
	return violations
}

func checkHomeAwayBalance(cfg *config.Config, parsed []parsedMatch) []Violation {
	if cfg.Tournament.Format == config.Knockout {
		return nil
	}

	home := make(map[string]int)
	away := make(map[string]int)
	for _, p := range parsed {
		if p.Match.Provisional {
			continue
		}
		home[p.Match.Fixture.Home.Label()]++
		away[p.Match.Fixture.Away.Label()]++
	}

	var violations []Violation
	for _, t := range cfg.Teams {
		label := t.Label()
		diff := home[label] - away[label]
		if diff > 1 || diff < -1 {
			violations = append(violations, Violation{
				Type:    "warning",
				Message: fmt.Sprintf("%s has %d home and %d away matches", label, home[label], away[label]),
			})
		}
	}
	return violations
}

package fixture

import (
	"errors"
	"fmt"
	"sort"

	"github.com/derekprior/cricsched/internal/config"
)

// ErrInsufficientTeams is returned when fewer than two teams are supplied.
var ErrInsufficientTeams = errors.New("at least 2 teams are required")

// Side is one half of a fixture: either a known team or the winner of an
// earlier fixture, identified by its sequence number.
type Side struct {
	Team     config.Team `json:"team"`
	WinnerOf int         `json:"winner_of,omitempty"`
}

// Resolved reports whether the side names a concrete team.
func (s Side) Resolved() bool {
	return s.WinnerOf == 0
}

func (s Side) Label() string {
	if s.Resolved() {
		return s.Team.Label()
	}
	return fmt.Sprintf("Winner of Match %d", s.WinnerOf)
}

// Fixture is an unscheduled pairing.
type Fixture struct {
	Home       Side   `json:"home"`
	Away       Side   `json:"away"`
	Round      int    `json:"round"`
	RoundLabel string `json:"round_label"`
	Sequence   int    `json:"sequence"` // 1-based position in generator order
}

// Provisional reports whether either side waits on an earlier result.
func (f Fixture) Provisional() bool {
	return !f.Home.Resolved() || !f.Away.Resolved()
}

// Teams returns the resolved teams taking part, home first.
func (f Fixture) Teams() []config.Team {
	var teams []config.Team
	for _, s := range []Side{f.Home, f.Away} {
		if s.Resolved() {
			teams = append(teams, s.Team)
		}
	}
	return teams
}

// Feeders returns the sequence numbers this fixture depends on.
func (f Fixture) Feeders() []int {
	var seqs []int
	for _, s := range []Side{f.Home, f.Away} {
		if !s.Resolved() {
			seqs = append(seqs, s.WinnerOf)
		}
	}
	return seqs
}

func (f Fixture) String() string {
	return fmt.Sprintf("%s vs %s", f.Home.Label(), f.Away.Label())
}

// Bye records a team that advances without playing.
type Bye struct {
	Team  config.Team
	Round int
}

// Plan is the generator output: fixtures in scheduling order plus byes.
type Plan struct {
	Format   config.Format
	Fixtures []Fixture
	Byes     []Bye
	Rounds   int
}

// Concrete returns the fixtures whose teams are both known.
func (p *Plan) Concrete() []Fixture {
	var out []Fixture
	for _, f := range p.Fixtures {
		if !f.Provisional() {
			out = append(out, f)
		}
	}
	return out
}

// Generator derives fixtures for a team list.
type Generator interface {
	Generate(teams []config.Team) (*Plan, error)
}

// Get returns the Generator for a tournament's format.
func Get(t config.Tournament) (Generator, error) {
	switch t.Format {
	case config.RoundRobin:
		return &RoundRobin{}, nil
	case config.DoubleRoundRobin:
		return &RoundRobin{Double: true, format: config.DoubleRoundRobin}, nil
	case config.League:
		return &RoundRobin{Double: t.LeagueDoublePass, format: config.League}, nil
	case config.Knockout:
		return &Knockout{}, nil
	default:
		return nil, fmt.Errorf("unknown format: %q", t.Format)
	}
}

// RoundRobin pairs every team with every other team using the circle method.
// With Double set, a second pass repeats the rounds with home and away swapped.
type RoundRobin struct {
	Double bool
	format config.Format
}

func (g *RoundRobin) Generate(teams []config.Team) (*Plan, error) {
	if len(teams) < 2 {
		return nil, ErrInsufficientTeams
	}
	format := g.format
	if format == "" {
		format = config.RoundRobin
	}

	rounds := circleRounds(len(teams))
	plan := &Plan{Format: format, Rounds: len(rounds)}

	for r, pairs := range rounds {
		for _, p := range pairs {
			plan.Fixtures = append(plan.Fixtures, Fixture{
				Home:  Side{Team: teams[p[0]]},
				Away:  Side{Team: teams[p[1]]},
				Round: r + 1,
			})
		}
	}

	if g.Double {
		for r, pairs := range rounds {
			for _, p := range pairs {
				plan.Fixtures = append(plan.Fixtures, Fixture{
					Home:  Side{Team: teams[p[1]]},
					Away:  Side{Team: teams[p[0]]},
					Round: len(rounds) + r + 1,
				})
			}
		}
		plan.Rounds *= 2
	}

	sort.SliceStable(plan.Fixtures, func(i, j int) bool {
		return plan.Fixtures[i].Round < plan.Fixtures[j].Round
	})
	for i := range plan.Fixtures {
		plan.Fixtures[i].Sequence = i + 1
		plan.Fixtures[i].RoundLabel = fmt.Sprintf("Round %d", plan.Fixtures[i].Round)
	}
	return plan, nil
}

// circleRounds returns, per round, the (home, away) index pairs. The first
// team stays fixed while the rest rotate; an odd count gets a phantom bye that
// produces no pairing.
func circleRounds(count int) [][][2]int {
	idx := make([]int, count)
	for i := range idx {
		idx[i] = i
	}
	if count%2 != 0 {
		idx = append(idx, -1)
	}
	n := len(idx)

	rounds := make([][][2]int, n-1)
	for r := 0; r < n-1; r++ {
		for j := 0; j < n/2; j++ {
			home, away := idx[j], idx[n-1-j]
			if home < 0 || away < 0 {
				continue
			}
			// The fixed team alternates home and away.
			if j == 0 && r%2 == 1 {
				home, away = away, home
			}
			rounds[r] = append(rounds[r], [2]int{home, away})
		}

		last := idx[n-1]
		copy(idx[2:], idx[1:n-1])
		idx[1] = last
	}
	return rounds
}

// Knockout builds a single-elimination bracket. Teams are seeded in the order
// given; when the count is not a power of two the top seeds receive byes.
// Only fixtures between known teams are concrete, later rounds reference the
// winners of earlier fixtures.
type Knockout struct{}

func (g *Knockout) Generate(teams []config.Team) (*Plan, error) {
	n := len(teams)
	if n < 2 {
		return nil, ErrInsufficientTeams
	}

	size := 1
	for size < n {
		size *= 2
	}
	order := bracketOrder(size)

	plan := &Plan{Format: config.Knockout}
	seq := 0
	var next []Side

	for k := 0; k < len(order); k += 2 {
		top, bottom := order[k], order[k+1]
		if bottom < top {
			top, bottom = bottom, top
		}
		if bottom > n {
			plan.Byes = append(plan.Byes, Bye{Team: teams[top-1], Round: 1})
			next = append(next, Side{Team: teams[top-1]})
			continue
		}
		seq++
		plan.Fixtures = append(plan.Fixtures, Fixture{
			Home:       Side{Team: teams[top-1]},
			Away:       Side{Team: teams[bottom-1]},
			Round:      1,
			RoundLabel: knockoutRoundLabel(size),
			Sequence:   seq,
		})
		next = append(next, Side{WinnerOf: seq})
	}

	round := 1
	for remaining := size / 2; len(next) > 1; remaining /= 2 {
		round++
		var following []Side
		for k := 0; k < len(next); k += 2 {
			seq++
			plan.Fixtures = append(plan.Fixtures, Fixture{
				Home:       next[k],
				Away:       next[k+1],
				Round:      round,
				RoundLabel: knockoutRoundLabel(remaining),
				Sequence:   seq,
			})
			following = append(following, Side{WinnerOf: seq})
		}
		next = following
	}
	plan.Rounds = round

	return plan, nil
}

// bracketOrder lists seeds 1..size so that adjacent pairs meet in round one
// and the top two seeds can only meet in the final.
func bracketOrder(size int) []int {
	order := []int{1}
	for s := 2; s <= size; s *= 2 {
		next := make([]int, 0, s)
		for _, seed := range order {
			next = append(next, seed, s+1-seed)
		}
		order = next
	}
	return order
}

func knockoutRoundLabel(entrants int) string {
	switch entrants {
	case 2:
		return "Final"
	case 4:
		return "Semi-final"
	case 8:
		return "Quarter-final"
	default:
		return fmt.Sprintf("Round of %d", entrants)
	}
}

package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/derekprior/cricsched/internal/fixture"
)

// Match is a fixture bound to a slot.
type Match struct {
	Number      int             `json:"number"`
	Fixture     fixture.Fixture `json:"fixture"`
	Slot        Slot            `json:"slot"`
	Provisional bool            `json:"provisional,omitempty"`
}

// ProblemKind names the reason a generation run failed.
type ProblemKind string

const (
	InvalidTournament           ProblemKind = "InvalidTournament"
	InsufficientTeams           ProblemKind = "InsufficientTeams"
	InsufficientVenues          ProblemKind = "InsufficientVenues"
	InsufficientCapacity        ProblemKind = "InsufficientCapacity"
	RestConstraintUnsatisfiable ProblemKind = "RestConstraintUnsatisfiable"
	AuditFailed                 ProblemKind = "AuditFailed"
	Cancelled                   ProblemKind = "Cancelled"
)

// ErrorClass groups problem kinds by how a caller should react.
type ErrorClass string

const (
	InputError      ErrorClass = "InputError"
	CapacityError   ErrorClass = "CapacityError"
	ConstraintError ErrorClass = "ConstraintError"
	CancelledError  ErrorClass = "CancelledError"
)

// Class returns the error class for the problem kind.
func (k ProblemKind) Class() ErrorClass {
	switch k {
	case InvalidTournament, InsufficientTeams, InsufficientVenues:
		return InputError
	case InsufficientCapacity:
		return CapacityError
	case Cancelled:
		return CancelledError
	default:
		return ConstraintError
	}
}

var (
	ErrInput      = errors.New("invalid generation input")
	ErrCapacity   = errors.New("not enough slots for the fixtures")
	ErrConstraint = errors.New("constraints cannot be satisfied")
	ErrCancelled  = errors.New("generation cancelled")
)

// Conflict is one specific reason a run failed.
type Conflict struct {
	Kind    ProblemKind `json:"kind"`
	Message string      `json:"message"`
}

// Summary describes a successful schedule.
type Summary struct {
	TotalMatches int    `json:"total_matches"`
	Concrete     int    `json:"concrete_matches"`
	Provisional  int    `json:"provisional_matches"`
	Byes         int    `json:"byes"`
	VenuesUsed   int    `json:"venues_used"`
	DaysUsed     int    `json:"days_used"`
	FirstDay     string `json:"first_day,omitempty"`
	LastDay      string `json:"last_day,omitempty"`
}

// SearchStats records how much work the assigner did.
type SearchStats struct {
	Steps      int `json:"steps"`
	Backtracks int `json:"backtracks"`
	Placed     int `json:"placed"`
	Fixtures   int `json:"fixtures"`
}

// Report is the feasibility report returned by Generate. It carries either a
// complete schedule or the conflicts and suggestions explaining the failure,
// never both.
type Report struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Kind        ProblemKind `json:"kind,omitempty"`
	Class       ErrorClass  `json:"error_class,omitempty"`
	Matches     []Match     `json:"matches,omitempty"`
	Summary     *Summary    `json:"summary,omitempty"`
	Conflicts   []Conflict  `json:"conflicts,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       SearchStats `json:"stats"`
}

// MatchesScheduled counts matches between known teams.
func (r *Report) MatchesScheduled() int {
	n := 0
	for _, m := range r.Matches {
		if !m.Provisional {
			n++
		}
	}
	return n
}

// ConflictMessages returns the conflict texts in order.
func (r *Report) ConflictMessages() []string {
	msgs := make([]string, len(r.Conflicts))
	for i, c := range r.Conflicts {
		msgs[i] = c.Message
	}
	return msgs
}

// Err converts a failed report into a *GenerationError. It returns nil for a
// successful report.
func (r *Report) Err() error {
	if r.Success {
		return nil
	}
	return &GenerationError{
		Kind:        r.Kind,
		Message:     r.Message,
		Conflicts:   r.ConflictMessages(),
		Suggestions: r.Suggestions,
	}
}

// GenerationError is a failed run as a Go error. It matches ErrInput,
// ErrCapacity, ErrConstraint or ErrCancelled with errors.Is.
type GenerationError struct {
	Kind        ProblemKind
	Message     string
	Conflicts   []string
	Suggestions []string
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Conflicts) > 0 {
		b.WriteString("\n\nConflicts:")
		for _, c := range e.Conflicts {
			fmt.Fprintf(&b, "\n  • %s", c)
		}
	}
	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&b, "\n  • %s", s)
		}
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	switch e.Kind.Class() {
	case InputError:
		return ErrInput
	case CapacityError:
		return ErrCapacity
	case CancelledError:
		return ErrCancelled
	default:
		return ErrConstraint
	}
}

func newSummary(matches []Match, byes int) *Summary {
	s := &Summary{TotalMatches: len(matches), Byes: byes}
	venues := make(map[string]bool)
	days := make(map[string]bool)
	for _, m := range matches {
		if m.Provisional {
			s.Provisional++
		} else {
			s.Concrete++
		}
		venues[m.Slot.VenueID] = true
		days[m.Slot.Day.Format("2006-01-02")] = true
	}
	s.VenuesUsed = len(venues)
	s.DaysUsed = len(days)
	if len(matches) > 0 {
		s.FirstDay = matches[0].Slot.Day.Format("2006-01-02")
		s.LastDay = matches[len(matches)-1].Slot.Day.Format("2006-01-02")
	}
	return s
}

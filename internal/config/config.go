package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

const (
	// MaxTournamentDays bounds the inclusive date range of a tournament.
	MaxTournamentDays = 366
	// MaxSlotsPerDay matches the lte tag on Tournament.SlotsPerDay.
	MaxSlotsPerDay = 48
)

// Date is a wrapper around time.Time for YAML and JSON date parsing.
type Date struct {
	Time time.Time
}

func parseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDate(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := parseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Date) String() string {
	return d.Time.Format(dateLayout)
}

// Clock is a time of day, stored as minutes after midnight.
type Clock struct {
	Minutes int
}

func parseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM): %w", s, err)
	}
	return Clock{Minutes: t.Hour()*60 + t.Minute()}, nil
}

func (c *Clock) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseClock(value.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := parseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Minutes/60, c.Minutes%60)
}

// Offset returns the clock as a duration after midnight.
func (c Clock) Offset() time.Duration {
	return time.Duration(c.Minutes) * time.Minute
}

// Window is the part of a day during which matches may be played.
type Window struct {
	Start Clock `yaml:"start" json:"start"`
	End   Clock `yaml:"end" json:"end"`
}

// DefaultWindow is used when neither the venue nor the tournament sets one.
var DefaultWindow = Window{Start: Clock{8 * 60}, End: Clock{22 * 60}}

type BlackoutDate struct {
	Date   Date   `yaml:"date" json:"date"`
	Reason string `yaml:"reason" json:"reason"`
}

// Reservation blocks a venue for a single date or a date range.
type Reservation struct {
	Date      *Date  `yaml:"date" json:"date,omitempty"`
	StartDate *Date  `yaml:"start_date" json:"start_date,omitempty"`
	EndDate   *Date  `yaml:"end_date" json:"end_date,omitempty"`
	Reason    string `yaml:"reason" json:"reason,omitempty"`
}

// Dates returns all dates covered by this reservation.
// Supports single date (date:) or range (start_date:/end_date:).
func (r *Reservation) Dates() []time.Time {
	if r.StartDate != nil && r.EndDate != nil {
		var dates []time.Time
		d := r.StartDate.Time
		for !d.After(r.EndDate.Time) {
			dates = append(dates, d)
			d = d.AddDate(0, 0, 1)
		}
		return dates
	}
	if r.Date != nil {
		return []time.Time{r.Date.Time}
	}
	return nil
}

type Team struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code" validate:"required,max=10"`
}

// Label is the short display code, falling back to the name.
func (t Team) Label() string {
	if t.Code != "" {
		return t.Code
	}
	return t.Name
}

type Venue struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name" validate:"required"`
	City         string        `yaml:"city" json:"city,omitempty"`
	DayWindow    *Window       `yaml:"day_window" json:"day_window,omitempty"`
	Reservations []Reservation `yaml:"reservations" json:"reservations,omitempty"`
}

// Window returns the venue's own availability window or the fallback.
func (v Venue) Window(fallback Window) Window {
	if v.DayWindow != nil {
		return *v.DayWindow
	}
	return fallback
}

// Format selects how fixtures are derived from the team list.
type Format string

const (
	RoundRobin       Format = "round_robin"
	DoubleRoundRobin Format = "double_round_robin"
	Knockout         Format = "knockout"
	League           Format = "league"
)

type Tournament struct {
	Name               string         `yaml:"name" json:"name"`
	StartDate          Date           `yaml:"start_date" json:"start_date"`
	EndDate            Date           `yaml:"end_date" json:"end_date"`
	BlackoutDates      []BlackoutDate `yaml:"blackout_dates" json:"blackout_dates,omitempty"`
	MatchDurationHours float64        `yaml:"match_duration_hours" json:"match_duration_hours" validate:"gt=0,lte=24"`
	MinRestHours       float64        `yaml:"min_rest_hours" json:"min_rest_hours" validate:"gte=0"`
	SlotsPerDay        int            `yaml:"slots_per_day" json:"slots_per_day" validate:"gte=1,lte=48"`
	Format             Format         `yaml:"format" json:"format" validate:"oneof=round_robin double_round_robin knockout league"`
	LeagueDoublePass   bool           `yaml:"league_double_pass" json:"league_double_pass,omitempty"`
	DayWindow          *Window        `yaml:"day_window" json:"day_window,omitempty"`
}

// Window returns the tournament-wide day window.
func (t Tournament) Window() Window {
	if t.DayWindow != nil {
		return *t.DayWindow
	}
	return DefaultWindow
}

func (t Tournament) MatchDuration() time.Duration {
	return time.Duration(t.MatchDurationHours * float64(time.Hour))
}

func (t Tournament) MinRest() time.Duration {
	return time.Duration(t.MinRestHours * float64(time.Hour))
}

// Days returns every date in the inclusive tournament range.
func (t Tournament) Days() []time.Time {
	var days []time.Time
	d := t.StartDate.Time
	for !d.After(t.EndDate.Time) {
		days = append(days, d)
		d = d.AddDate(0, 0, 1)
	}
	return days
}

// Engine tunes the assignment search. Zero values select the defaults.
type Engine struct {
	BacktrackWindow int `yaml:"backtrack_window" json:"backtrack_window,omitempty" validate:"gte=0"`
	StepBudget      int `yaml:"step_budget" json:"step_budget,omitempty" validate:"gte=0"`
}

type Config struct {
	Tournament Tournament `yaml:"tournament" json:"tournament"`
	Teams      []Team     `yaml:"teams" json:"teams" validate:"dive"`
	Venues     []Venue    `yaml:"venues" json:"venues" validate:"dive"`
	Engine     Engine     `yaml:"engine" json:"engine"`
}

// LoadFromBytes parses YAML bytes into a Config and validates it.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads and parses a YAML config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// ApplyDefaults fills in the format and derives missing team and venue IDs.
func (c *Config) ApplyDefaults() {
	if c.Tournament.Format == "" {
		c.Tournament.Format = RoundRobin
	}
	for i := range c.Teams {
		if c.Teams[i].ID == "" {
			c.Teams[i].ID = c.Teams[i].Code
		}
		if c.Teams[i].Name == "" {
			c.Teams[i].Name = c.Teams[i].Code
		}
	}
	for i := range c.Venues {
		if c.Venues[i].ID == "" {
			c.Venues[i].ID = c.Venues[i].Name
		}
	}
}

var validate = validator.New()

// Validate checks the structural rules of a config. Team and venue counts are
// deliberately left to the engine, which reports them as structured failures.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := ValidateTournament(c.Tournament); err != nil {
		return err
	}

	teamIDs := make(map[string]bool)
	codes := make(map[string]bool)
	for _, t := range c.Teams {
		if teamIDs[t.ID] {
			return fmt.Errorf("team id %q appears more than once", t.ID)
		}
		teamIDs[t.ID] = true
		if codes[t.Code] {
			return fmt.Errorf("team code %q appears more than once", t.Code)
		}
		codes[t.Code] = true
	}

	venueIDs := make(map[string]bool)
	for _, v := range c.Venues {
		if venueIDs[v.ID] {
			return fmt.Errorf("venue id %q appears more than once", v.ID)
		}
		venueIDs[v.ID] = true
		if v.DayWindow != nil && v.DayWindow.End.Minutes <= v.DayWindow.Start.Minutes {
			return fmt.Errorf("venue %q: day window end %s must be after start %s", v.Name, v.DayWindow.End, v.DayWindow.Start)
		}
		for _, r := range v.Reservations {
			hasDate := r.Date != nil
			hasRange := r.StartDate != nil || r.EndDate != nil
			if !hasDate && !hasRange {
				return fmt.Errorf("venue %q: reservation must have either 'date' or 'start_date'/'end_date'", v.Name)
			}
			if hasDate && hasRange {
				return fmt.Errorf("venue %q: reservation cannot have both 'date' and 'start_date'/'end_date'", v.Name)
			}
			if hasRange && (r.StartDate == nil || r.EndDate == nil) {
				return fmt.Errorf("venue %q: reservation with date range must have both 'start_date' and 'end_date'", v.Name)
			}
			if hasRange && r.EndDate.Time.Before(r.StartDate.Time) {
				return fmt.Errorf("venue %q: reservation end_date must be on or after start_date", v.Name)
			}
		}
	}

	return nil
}

// ValidateTournament checks the tournament settings on their own.
func ValidateTournament(t Tournament) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid tournament: %w", err)
	}
	if t.StartDate.Time.IsZero() || t.EndDate.Time.IsZero() {
		return fmt.Errorf("start_date and end_date are required")
	}
	if t.EndDate.Time.Before(t.StartDate.Time) {
		return fmt.Errorf("end date %s must be on or after start date %s", t.EndDate, t.StartDate)
	}
	if last := t.StartDate.Time.AddDate(0, 0, MaxTournamentDays-1); t.EndDate.Time.After(last) {
		return fmt.Errorf("tournament runs from %s to %s; it may last at most %d days (end by %s)",
			t.StartDate, t.EndDate, MaxTournamentDays, last.Format(dateLayout))
	}
	w := t.Window()
	if w.End.Minutes <= w.Start.Minutes {
		return fmt.Errorf("day window end %s must be after start %s", w.End, w.Start)
	}
	return nil
}

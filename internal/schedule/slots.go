package schedule

import (
	"errors"
	"sort"
	"time"

	"github.com/derekprior/cricsched/internal/config"
)

// ErrInsufficientVenues is returned when the slot space is built without venues.
var ErrInsufficientVenues = errors.New("at least 1 venue is required")

// Slot is a candidate placement: one venue for one match-length window.
type Slot struct {
	Index     int       `json:"-"`
	VenueID   string    `json:"venue_id"`
	VenueName string    `json:"venue_name"`
	Day       time.Time `json:"day"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Overlaps reports whether two slot windows share any instant.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// BlackoutSlot is a venue-day removed from the slot space, with the reason.
type BlackoutSlot struct {
	Day     time.Time
	VenueID string
	Reason  string
}

type venueDay struct {
	venue string
	day   time.Time
}

// BuildSlots enumerates every slot in the tournament window, excluding
// blackout dates and venue reservations. Slots are packed back to back from
// the start of each venue's day window and never run past its end.
func BuildSlots(t config.Tournament, venues []config.Venue) ([]Slot, error) {
	if len(venues) == 0 {
		return nil, ErrInsufficientVenues
	}

	blackoutDates := make(map[time.Time]bool)
	for _, b := range t.BlackoutDates {
		blackoutDates[b.Date.Time] = true
	}

	reserved := make(map[venueDay]bool)
	for _, v := range venues {
		for _, r := range v.Reservations {
			for _, rd := range r.Dates() {
				reserved[venueDay{v.ID, rd}] = true
			}
		}
	}

	duration := t.MatchDuration()
	var slots []Slot
	for _, d := range t.Days() {
		if blackoutDates[d] {
			continue
		}
		for _, v := range venues {
			if reserved[venueDay{v.ID, d}] {
				continue
			}
			slots = append(slots, venueDaySlots(d, v, t.Window(), duration, t.SlotsPerDay)...)
		}
	}

	sortSlots(slots)
	for i := range slots {
		slots[i].Index = i
	}
	return slots, nil
}

func venueDaySlots(day time.Time, v config.Venue, fallback config.Window, duration time.Duration, perDay int) []Slot {
	w := v.Window(fallback)
	opens := day.Add(w.Start.Offset())
	closes := day.Add(w.End.Offset())

	var slots []Slot
	for k := 0; k < perDay; k++ {
		start := opens.Add(time.Duration(k) * duration)
		end := start.Add(duration)
		if end.After(closes) {
			break
		}
		slots = append(slots, Slot{
			VenueID:   v.ID,
			VenueName: v.Name,
			Day:       day,
			Start:     start,
			End:       end,
		})
	}
	return slots
}

// SlotsPerVenueDay is how many slots a single venue day yields under the
// tournament window, which may be fewer than slots_per_day.
func SlotsPerVenueDay(t config.Tournament) int {
	return len(venueDaySlots(time.Time{}, config.Venue{}, t.Window(), t.MatchDuration(), t.SlotsPerDay))
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Day.Equal(slots[j].Day) {
			return slots[i].Day.Before(slots[j].Day)
		}
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].VenueID < slots[j].VenueID
	})
}

// BuildBlackoutSlots returns the venue-days inside the tournament window that
// are unavailable, for display on the master sheet.
func BuildBlackoutSlots(t config.Tournament, venues []config.Venue) []BlackoutSlot {
	var blackouts []BlackoutSlot

	blackoutDates := make(map[time.Time]bool)
	for _, b := range t.BlackoutDates {
		if b.Date.Time.Before(t.StartDate.Time) || b.Date.Time.After(t.EndDate.Time) {
			continue
		}
		blackoutDates[b.Date.Time] = true
		for _, v := range venues {
			blackouts = append(blackouts, BlackoutSlot{Day: b.Date.Time, VenueID: v.ID, Reason: b.Reason})
		}
	}

	for _, v := range venues {
		for _, r := range v.Reservations {
			for _, rd := range r.Dates() {
				if rd.Before(t.StartDate.Time) || rd.After(t.EndDate.Time) || blackoutDates[rd] {
					continue
				}
				blackouts = append(blackouts, BlackoutSlot{Day: rd, VenueID: v.ID, Reason: r.Reason})
			}
		}
	}

	sort.Slice(blackouts, func(i, j int) bool {
		if !blackouts[i].Day.Equal(blackouts[j].Day) {
			return blackouts[i].Day.Before(blackouts[j].Day)
		}
		return blackouts[i].VenueID < blackouts[j].VenueID
	})
	return blackouts
}

package excel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/xuri/excelize/v2"
)

const (
	MasterSheet = "Master Schedule"
	DateLayout  = "2006-01-02"
	TimeLayout  = "15:04"
	// AllDay marks a master sheet row that carries venue-day closures.
	AllDay = "All day"
)

// Generate creates an Excel workbook with the master schedule and per-team sheets.
func Generate(cfg *config.Config, report *schedule.Report, blackouts []schedule.BlackoutSlot) (*excelize.File, error) {
	if report == nil || !report.Success {
		return nil, errors.New("only a successful schedule can be exported")
	}

	f := excelize.NewFile()
	f.SetDefaultFont("Arial")

	if err := writeMasterSheet(f, cfg, report.Matches, blackouts); err != nil {
		return nil, fmt.Errorf("writing master sheet: %w", err)
	}

	if err := writeTeamSheets(f, cfg, report.Matches); err != nil {
		return nil, fmt.Errorf("writing team sheets: %w", err)
	}

	f.DeleteSheet("Sheet1")
	return f, nil
}

// MatchCell is the master sheet text for a match, e.g. "M3: MUM v CHE".
func MatchCell(m schedule.Match) string {
	return fmt.Sprintf("M%d: %s v %s", m.Number, m.Fixture.Home.Label(), m.Fixture.Away.Label())
}

// VenueColumnName shortens a venue name to its first word when no other
// venue shares that word.
func VenueColumnName(name string, allNames []string) string {
	first, _, _ := strings.Cut(name, " ")
	count := 0
	for _, n := range allNames {
		word, _, _ := strings.Cut(n, " ")
		if word == first {
			count++
		}
	}
	if count > 1 {
		return name
	}
	return first
}

func headerStyle(f *excelize.File) int {
	style, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 14, Family: "Arial"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#1F6E43"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	return style
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		f.SetCellValue(sheet, cellRef(i+1, 1), h)
	}
	if style := headerStyle(f); style != 0 {
		f.SetCellStyle(sheet, cellRef(1, 1), cellRef(len(headers), 1), style)
	}
}

func writeMasterSheet(f *excelize.File, cfg *config.Config, matches []schedule.Match, blackouts []schedule.BlackoutSlot) error {
	sheet := MasterSheet
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	var venueNames []string
	for _, v := range cfg.Venues {
		venueNames = append(venueNames, v.Name)
	}
	venueCol := make(map[string]int)
	headers := []string{"Date", "Day", "Start", "End"}
	for i, v := range cfg.Venues {
		headers = append(headers, VenueColumnName(v.Name, venueNames))
		venueCol[v.ID] = i + 5
	}
	writeHeaders(f, sheet, headers)

	// Rows are keyed by day and start; closures use a row of their own at the
	// top of the day.
	type rowKey struct {
		day    time.Time
		start  time.Time
		closed bool
	}
	cells := make(map[rowKey]map[int]string)
	put := func(k rowKey, col int, text string) {
		if cells[k] == nil {
			cells[k] = make(map[int]string)
		}
		cells[k][col] = text
	}
	for _, m := range matches {
		col, ok := venueCol[m.Slot.VenueID]
		if !ok {
			return fmt.Errorf("match %d is at unknown venue %q", m.Number, m.Slot.VenueID)
		}
		put(rowKey{day: m.Slot.Day, start: m.Slot.Start}, col, MatchCell(m))
	}
	for _, b := range blackouts {
		col, ok := venueCol[b.VenueID]
		if !ok {
			continue
		}
		reason := b.Reason
		if reason == "" {
			reason = "Closed"
		}
		put(rowKey{day: b.Day, start: b.Day, closed: true}, col, reason)
	}

	keys := make([]rowKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		if keys[i].closed != keys[j].closed {
			return keys[i].closed
		}
		return keys[i].start.Before(keys[j].start)
	})

	cellStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Size: 14, Family: "Arial"},
	})
	venueCellStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 14, Family: "Arial"},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	duration := cfg.Tournament.MatchDuration()
	for i, k := range keys {
		row := i + 2
		f.SetCellValue(sheet, cellRef(1, row), k.day.Format(DateLayout))
		f.SetCellValue(sheet, cellRef(2, row), k.day.Format("Mon"))
		if k.closed {
			f.SetCellValue(sheet, cellRef(3, row), AllDay)
		} else {
			f.SetCellValue(sheet, cellRef(3, row), k.start.Format(TimeLayout))
			f.SetCellValue(sheet, cellRef(4, row), k.start.Add(duration).Format(TimeLayout))
		}
		for col, text := range cells[k] {
			f.SetCellValue(sheet, cellRef(col, row), text)
		}

		if cellStyle != 0 {
			f.SetCellStyle(sheet, cellRef(1, row), cellRef(4, row), cellStyle)
		}
		if venueCellStyle != 0 && len(headers) > 4 {
			f.SetCellStyle(sheet, cellRef(5, row), cellRef(len(headers), row), venueCellStyle)
		}
	}

	f.SetColWidth(sheet, "A", "A", 14)
	f.SetColWidth(sheet, "B", "B", 8)
	f.SetColWidth(sheet, "C", "D", 10)
	for i := range cfg.Venues {
		col := colLetter(i + 5)
		f.SetColWidth(sheet, col, col, 34)
	}

	// Closure text in venue columns is shaded red.
	lastRow := len(keys) + 1
	redFill, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFC7CE"}},
		Font: &excelize.Font{Size: 14, Family: "Arial"},
	})
	for i := range cfg.Venues {
		col := colLetter(i + 5)
		cellRange := fmt.Sprintf("%s2:%s%d", col, col, lastRow)
		topCell := fmt.Sprintf("%s2", col)
		formula := fmt.Sprintf(`AND(%s<>"",ISERROR(FIND(" v ",%s)))`, topCell, topCell)
		f.SetConditionalFormat(sheet, cellRange, []excelize.ConditionalFormatOptions{
			{
				Type:     "formula",
				Criteria: formula,
				Format:   &redFill,
			},
		})
	}

	return nil
}

func writeTeamSheets(f *excelize.File, cfg *config.Config, matches []schedule.Match) error {
	venueNames := make(map[string]string)
	for _, v := range cfg.Venues {
		venueNames[v.ID] = v.Name
	}

	headers := []string{"Date", "Day", "Start", "Venue", "Opponent", "Home/Away", "Match", "Round"}
	for _, team := range cfg.Teams {
		sheet := team.Label()
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		writeHeaders(f, sheet, headers)

		cellStyle, _ := f.NewStyle(&excelize.Style{
			Font: &excelize.Font{Size: 14, Family: "Arial"},
		})

		// Matches are already chronological.
		row := 2
		for _, m := range matches {
			var opponent, homeAway string
			switch {
			case m.Fixture.Home.Resolved() && m.Fixture.Home.Team.ID == team.ID:
				opponent, homeAway = m.Fixture.Away.Label(), "Home"
			case m.Fixture.Away.Resolved() && m.Fixture.Away.Team.ID == team.ID:
				opponent, homeAway = m.Fixture.Home.Label(), "Away"
			default:
				continue
			}
			values := []any{
				m.Slot.Day.Format(DateLayout),
				m.Slot.Day.Format("Mon"),
				m.Slot.Start.Format(TimeLayout),
				venueNames[m.Slot.VenueID],
				opponent,
				homeAway,
				fmt.Sprintf("M%d", m.Number),
				m.Fixture.RoundLabel,
			}
			for i, v := range values {
				f.SetCellValue(sheet, cellRef(i+1, row), v)
			}
			if cellStyle != 0 {
				f.SetCellStyle(sheet, cellRef(1, row), cellRef(len(headers), row), cellStyle)
			}
			row++
		}

		widths := map[string]float64{"A": 14, "B": 8, "C": 10, "D": 30, "E": 26, "F": 12, "G": 8, "H": 16}
		for col, w := range widths {
			f.SetColWidth(sheet, col, col, w)
		}
	}

	return nil
}

func cellRef(col, row int) string {
	return fmt.Sprintf("%s%d", colLetter(col), row)
}

func colLetter(col int) string {
	result := ""
	for col > 0 {
		col--
		result = string(rune('A'+col%26)) + result
		col /= 26
	}
	return result
}

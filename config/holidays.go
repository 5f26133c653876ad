package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// HOLIDAY SEED FILE
// =============================================================================
//
//	holidays:
//	  - id: natal
//	    date: 2024-12-25
//	    name: Natal
//	    recurring: true

type holidayFile struct {
	Holidays []holidayEntry `yaml:"holidays"`
}

type holidayEntry struct {
	ID        string `yaml:"id"`
	Date      string `yaml:"date"`
	Name      string `yaml:"name"`
	Recurring bool   `yaml:"recurring"`
}

// LoadHolidayFile reads holidays from a YAML seed file.
func LoadHolidayFile(path string) ([]generic.Holiday, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday file: %w", err)
	}
	return ParseHolidays(data)
}

// ParseHolidays decodes the seed file format. Entries without an id get
// one derived from their date so reseeding is idempotent.
func ParseHolidays(data []byte) ([]generic.Holiday, error) {
	var file holidayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse holiday file: %w", err)
	}

	holidays := make([]generic.Holiday, 0, len(file.Holidays))
	for i, e := range file.Holidays {
		date, err := generic.ParseDate(strings.TrimSpace(e.Date))
		if err != nil {
			return nil, fmt.Errorf("holiday %d: %w", i+1, err)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("holiday %d (%s): name is required", i+1, date)
		}
		id := e.ID
		if id == "" {
			id = holidayID(date, e.Recurring)
		}
		holidays = append(holidays, generic.Holiday{ID: id, Date: date, Name: e.Name, Recurring: e.Recurring})
	}
	return holidays, nil
}

func holidayID(date generic.TimePoint, recurring bool) string {
	if recurring {
		return "br-" + date.Time.Format("01-02")
	}
	return "br-" + date.DateKey()
}

// =============================================================================
// BUILT-IN BRAZILIAN NATIONAL HOLIDAYS
// =============================================================================

var fixedNational = []struct {
	month time.Month
	day   int
	name  string
}{
	{time.January, 1, "Confraternização Universal"},
	{time.April, 21, "Tiradentes"},
	{time.May, 1, "Dia do Trabalho"},
	{time.September, 7, "Independência do Brasil"},
	{time.October, 12, "Nossa Senhora Aparecida"},
	{time.November, 2, "Finados"},
	{time.November, 15, "Proclamação da República"},
	{time.November, 20, "Dia Nacional de Zumbi e da Consciência Negra"},
	{time.December, 25, "Natal"},
}

// DefaultHolidays returns the national holidays: the fixed ones as
// recurring entries plus Carnival and Good Friday of each given year.
func DefaultHolidays(years ...int) []generic.Holiday {
	holidays := make([]generic.Holiday, 0, len(fixedNational)+3*len(years))
	for _, f := range fixedNational {
		date := generic.NewTimePoint(2000, f.month, f.day)
		holidays = append(holidays, generic.Holiday{
			ID:        holidayID(date, true),
			Date:      date,
			Name:      f.name,
			Recurring: true,
		})
	}

	for _, year := range years {
		easter := Easter(year)
		for _, m := range []struct {
			offset int
			name   string
		}{
			{-48, "Carnaval"},
			{-47, "Carnaval"},
			{-2, "Sexta-feira Santa"},
		} {
			date := easter.AddDays(m.offset)
			holidays = append(holidays, generic.Holiday{
				ID:   holidayID(date, false),
				Date: date,
				Name: m.name,
			})
		}
	}
	return holidays
}

// Easter returns Easter Sunday of the Gregorian year (anonymous algorithm).
func Easter(year int) generic.TimePoint {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return generic.NewTimePoint(year, time.Month(month), day)
}

package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Uncategorized is the fallback category name assigned to remote records
// whose category reference is missing or points at a deleted category.
const Uncategorized = "Uncategorized"

// Categories is the canonical category list, in display order. The amounts
// map of a DayEntry is an open set: after a remote merge it may carry names
// outside this list (Uncategorized included), and every aggregate function
// sums over the actual keys, not over this list.
var Categories = []string{
	"Food",
	"Travel to Office",
	"Travel from Office",
	"Misc Travelling",
	"Grocery",
	"Entertainment",
	"Subscription",
	"Misc Eating",
	"Misc Shopping",
}

var (
	ErrInvalidMonth    = errors.New("month out of range")
	ErrInvalidDay      = errors.New("day out of range")
	ErrUnknownCategory = errors.New("unknown category")
	ErrNegativeAmount  = errors.New("negative amount")
)

type (
	// DayEntry holds the per-category amounts for one calendar day.
	DayEntry struct {
		Day     int                `json:"day"`
		Amounts map[string]float64 `json:"amounts"`
	}

	// MonthGrid is the day × category matrix for one calendar month.
	// Month is zero-based (0 = January), matching the composite key format.
	MonthGrid struct {
		Month int        `json:"month"`
		Year  int        `json:"year"`
		Days  []DayEntry `json:"days"`
	}

	// AllMonths is the root of client-held state, keyed by Key(year, month).
	AllMonths map[string]*MonthGrid
)

// DaysIn returns the number of days in the given zero-based month, following
// the proleptic Gregorian calendar. Day zero of the following month,
// normalized backward, is the last day of this one.
func DaysIn(month, year int) int {
	return time.Date(year, time.Month(month+2), 0, 0, 0, 0, 0, time.UTC).Day()
}

// NewMonthGrid builds an empty grid for the given zero-based month: one
// DayEntry per calendar day with every canonical category set to zero.
func NewMonthGrid(month, year int) *MonthGrid {
	n := DaysIn(month, year)
	days := make([]DayEntry, n)
	for d := 1; d <= n; d++ {
		amounts := make(map[string]float64, len(Categories))
		for _, cat := range Categories {
			amounts[cat] = 0
		}
		days[d-1] = DayEntry{Day: d, Amounts: amounts}
	}
	return &MonthGrid{Month: month, Year: year, Days: days}
}

// Entry returns the DayEntry for a one-based day, or an error when the day
// falls outside the grid.
func (g *MonthGrid) Entry(day int) (*DayEntry, error) {
	if day < 1 || day > len(g.Days) {
		return nil, fmt.Errorf("%w: day %d in %d-%d", ErrInvalidDay, day, g.Year, g.Month)
	}
	return &g.Days[day-1], nil
}

// DailyTotal sums every amount recorded for the day, known categories or not.
func DailyTotal(e DayEntry) float64 {
	var sum float64
	for _, v := range e.Amounts {
		sum += v
	}
	return sum
}

// MonthlyTotal sums all daily totals of the grid.
func MonthlyTotal(g *MonthGrid) float64 {
	var sum float64
	for _, d := range g.Days {
		sum += DailyTotal(d)
	}
	return sum
}

// CategoryTotal sums one category's amount across all days. A name absent
// from a day's map contributes zero.
func CategoryTotal(g *MonthGrid, category string) float64 {
	var sum float64
	for _, d := range g.Days {
		sum += d.Amounts[category]
	}
	return sum
}

// CategorySet returns the union of category names present in the grid, the
// canonical ones first in display order, merged extras after.
func CategorySet(g *MonthGrid) []string {
	seen := make(map[string]struct{}, len(Categories))
	out := make([]string, 0, len(Categories))
	for _, cat := range Categories {
		seen[cat] = struct{}{}
		out = append(out, cat)
	}
	for _, d := range g.Days {
		for name := range d.Amounts {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Key builds the composite "{year}-{month}" identifier for a month grid.
func Key(year, month int) string {
	return strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// ParseKey splits a composite month key back into year and zero-based month.
func ParseKey(key string) (year, month int, err error) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 {
		return 0, 0, fmt.Errorf("malformed month key %q", key)
	}
	year, err = strconv.Atoi(key[:i])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed month key %q: %w", key, err)
	}
	month, err = strconv.Atoi(key[i+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed month key %q: %w", key, err)
	}
	if month < 0 || month > 11 {
		return 0, 0, fmt.Errorf("%w: %d in key %q", ErrInvalidMonth, month, key)
	}
	return year, month, nil
}

// IsCanonical reports whether name is one of the fixed categories.
func IsCanonical(name string) bool {
	for _, cat := range Categories {
		if cat == name {
			return true
		}
	}
	return false
}

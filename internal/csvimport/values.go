package csvimport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errEmptyValue = errors.New("empty value")

	kanjiDate    = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)
	monthDayDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)

	fullDateLayouts = []string{"2006/1/2", "2006-1-2", "2006.1.2", "20060102"}

	amountNoise = strings.NewReplacer(
		"¥", "", "円", "", "$", "", "€", "",
		",", "", "'", "", " ", "",
	)
)

// ParseAmount parses a money cell. Currency marks, thousands separators and
// spaces are ignored; a leading minus, △/▲ or surrounding parentheses negate.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := normalize(raw)
	if s == "" {
		return decimal.Zero, errEmptyValue
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	for _, marker := range []string{"-", "−", "△", "▲"} {
		if rest, ok := strings.CutPrefix(s, marker); ok {
			negative = !negative
			s = rest
			break
		}
	}
	s = strings.TrimPrefix(amountNoise.Replace(s), "+")
	if s == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseDate parses a date cell into a UTC-midnight calendar date. Dates without
// a year take ref's year, moving back one year when that would land after ref
// or does not exist in ref's year.
func ParseDate(raw string, ref time.Time) (time.Time, error) {
	s := normalize(raw)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	// Drop a trailing time of day, e.g. "2024/01/05 10:23".
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}

	for _, layout := range fullDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	if m := kanjiDate.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(m[1], m[2], m[3]); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}

	if m := monthDayDate.FindStringSubmatch(s); m != nil {
		refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		t, ok := calendarDate(strconv.Itoa(ref.Year()), m[1], m[2])
		if !ok || t.After(refDay) {
			// Covers 2/29 read in the year after a leap year.
			t, ok = calendarDate(strconv.Itoa(ref.Year()-1), m[1], m[2])
		}
		if ok {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

func calendarDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so 2/30 would silently become 3/1.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func looksLikeDate(s string, ref time.Time) bool {
	_, err := ParseDate(s, ref)
	return err == nil
}

func looksLikeAmount(s string) bool {
	_, err := ParseAmount(s)
	return err == nil
}

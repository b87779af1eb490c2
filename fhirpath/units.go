package fhirpath

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/iimos/ucum"
	"github.com/iimos/ucum/ucumapd"
)

// Calendar duration keywords accepted in quantity literals.
const (
	UnitYear         = "year"
	UnitYears        = "years"
	UnitMonth        = "month"
	UnitMonths       = "months"
	UnitWeek         = "week"
	UnitWeeks        = "weeks"
	UnitDay          = "day"
	UnitDays         = "days"
	UnitHour         = "hour"
	UnitHours        = "hours"
	UnitMinute       = "minute"
	UnitMinutes      = "minutes"
	UnitSecond       = "second"
	UnitSeconds      = "seconds"
	UnitMillisecond  = "millisecond"
	UnitMilliseconds = "milliseconds"
)

// calendarUnits maps calendar keywords to their UCUM code.
var calendarUnits = map[string]string{
	UnitYear: "a", UnitYears: "a",
	UnitMonth: "mo", UnitMonths: "mo",
	UnitWeek: "wk", UnitWeeks: "wk",
	UnitDay: "d", UnitDays: "d",
	UnitHour: "h", UnitHours: "h",
	UnitMinute: "min", UnitMinutes: "min",
	UnitSecond: "s", UnitSeconds: "s",
	UnitMillisecond: "ms", UnitMilliseconds: "ms",
}

func isCalendarKeyword(unit string) bool {
	_, ok := calendarUnits[unit]
	return ok
}

// normalizeTimeUnit returns the singular calendar keyword for calendar
// keywords and UCUM time codes. Other units are returned unchanged.
func normalizeTimeUnit(unit string) string {
	unit = strings.Trim(unit, "'")
	switch unit {
	case UnitYear, UnitYears:
		return UnitYear
	case UnitMonth, UnitMonths:
		return UnitMonth
	case UnitWeek, UnitWeeks, "wk":
		return UnitWeek
	case UnitDay, UnitDays, "d":
		return UnitDay
	case UnitHour, UnitHours, "h":
		return UnitHour
	case UnitMinute, UnitMinutes, "min":
		return UnitMinute
	case UnitSecond, UnitSeconds, "s":
		return UnitSecond
	case UnitMillisecond, UnitMilliseconds, "ms":
		return UnitMillisecond
	}
	return unit
}

// timeUnitLevel maps a normalized time unit to the precision level it
// shifts. Weeks shift days with a factor of seven.
func timeUnitLevel(unit string) (level int, factor int64, ok bool) {
	switch unit {
	case UnitYear:
		return levelYear, 1, true
	case UnitMonth:
		return levelMonth, 1, true
	case UnitWeek:
		return levelDay, 7, true
	case UnitDay:
		return levelDay, 1, true
	case UnitHour:
		return levelHour, 1, true
	case UnitMinute:
		return levelMinute, 1, true
	case UnitSecond:
		return levelSecond, 1, true
	case UnitMillisecond:
		return levelMillisecond, 1, true
	}
	return 0, 0, false
}

// ucumConverter converts between commensurable UCUM units, including the
// special units such as Cel.
var ucumConverter = ucumapd.NewConverter(ucum.DefaultConverter)

// canonicalUCUMUnit maps calendar keywords to their UCUM code.
func canonicalUCUMUnit(unit string) string {
	if code, ok := calendarUnits[unit]; ok {
		return code
	}
	return unit
}

// validUnit reports whether unit is a calendar keyword or a well formed UCUM expression.
func validUnit(unit string) error {
	if unit == "1" || isCalendarKeyword(unit) {
		return nil
	}
	_, err := ucum.Parse([]byte(unit))
	return err
}

func convertDecimalUnit(ctx context.Context, v *apd.Decimal, from, to string) (*apd.Decimal, error) {
	converted, err := ucumConverter.ConvDecimal(v, from, to, apdContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("can not convert unit %q to %q: %w", from, to, err)
	}
	return converted, nil
}

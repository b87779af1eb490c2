package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// precision levels shared by Date, Time and DateTime
const (
	levelYear = iota
	levelMonth
	levelDay
	levelHour
	levelMinute
	levelSecond
	levelMillisecond
)

type DatePrecision string

const (
	DatePrecisionYear  DatePrecision = "year"
	DatePrecisionMonth DatePrecision = "month"
	DatePrecisionFull  DatePrecision = "full"
)

func (p DatePrecision) level() int {
	switch p {
	case DatePrecisionYear:
		return levelYear
	case DatePrecisionMonth:
		return levelMonth
	default:
		return levelDay
	}
}

type TimePrecision string

const (
	TimePrecisionHour        TimePrecision = "hour"
	TimePrecisionMinute      TimePrecision = "minute"
	TimePrecisionSecond      TimePrecision = "second"
	TimePrecisionMillisecond TimePrecision = "millisecond"
	TimePrecisionFull                      = TimePrecisionMillisecond
)

func (p TimePrecision) level() int {
	switch p {
	case TimePrecisionHour:
		return levelHour
	case TimePrecisionMinute:
		return levelMinute
	case TimePrecisionSecond:
		return levelSecond
	default:
		return levelMillisecond
	}
}

type DateTimePrecision string

const (
	DateTimePrecisionYear        DateTimePrecision = "year"
	DateTimePrecisionMonth       DateTimePrecision = "month"
	DateTimePrecisionDay         DateTimePrecision = "day"
	DateTimePrecisionHour        DateTimePrecision = "hour"
	DateTimePrecisionMinute      DateTimePrecision = "minute"
	DateTimePrecisionSecond      DateTimePrecision = "second"
	DateTimePrecisionMillisecond DateTimePrecision = "millisecond"
	DateTimePrecisionFull                          = DateTimePrecisionMillisecond
)

var dateTimePrecisions = []DateTimePrecision{
	DateTimePrecisionYear,
	DateTimePrecisionMonth,
	DateTimePrecisionDay,
	DateTimePrecisionHour,
	DateTimePrecisionMinute,
	DateTimePrecisionSecond,
	DateTimePrecisionMillisecond,
}

func (p DateTimePrecision) level() int {
	for i, q := range dateTimePrecisions {
		if p == q {
			return i
		}
	}
	return levelMillisecond
}

func dateTimePrecisionAt(level int) DateTimePrecision {
	return dateTimePrecisions[max(levelYear, min(level, levelMillisecond))]
}

// precisionDigits is the number of digits of a value at the given level,
// as reported by precision() and accepted by the boundary functions.
var precisionDigits = []int{4, 6, 8, 10, 12, 14, 17}

func levelForDigits(digits int) (int, bool) {
	for l, d := range precisionDigits {
		if d == digits {
			return l, true
		}
	}
	return 0, false
}

// fieldAt returns the component of t at level. Seconds and milliseconds
// form a single component.
func fieldAt(t time.Time, level int) int {
	switch level {
	case levelYear:
		return t.Year()
	case levelMonth:
		return int(t.Month())
	case levelDay:
		return t.Day()
	case levelHour:
		return t.Hour()
	case levelMinute:
		return t.Minute()
	default:
		return t.Second()*1000 + t.Nanosecond()/int(time.Millisecond)
	}
}

// compareTemporal compares a and b component by component, starting at level from.
// ok is false when the values differ in precision and are equal up to the
// shared precision.
func compareTemporal(a, b time.Time, from, aLevel, bLevel int) (cmp int, ok bool) {
	aLevel, bLevel = min(aLevel, levelSecond), min(bLevel, levelSecond)
	for l := from; ; l++ {
		aHas, bHas := l <= aLevel, l <= bLevel
		if !aHas && !bHas {
			return 0, true
		}
		if aHas != bHas {
			return 0, false
		}
		if c := compareInts(fieldAt(a, l), fieldAt(b, l)); c != 0 {
			return c, true
		}
	}
}

// truncateTo zeroes all components of t below level.
func truncateTo(t time.Time, level int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	nsec := t.Nanosecond() / int(time.Millisecond) * int(time.Millisecond)
	if level < levelMonth {
		month = time.January
	}
	if level < levelDay {
		day = 1
	}
	if level < levelHour {
		hour = 0
	}
	if level < levelMinute {
		minute = 0
	}
	if level < levelSecond {
		sec = 0
	}
	if level < levelMillisecond {
		nsec = 0
	}
	return time.Date(year, month, day, hour, minute, sec, nsec, t.Location())
}

// periodEnd returns the last millisecond of the period starting at start with the given level.
func periodEnd(start time.Time, level int) time.Time {
	var next time.Time
	switch level {
	case levelYear:
		next = start.AddDate(1, 0, 0)
	case levelMonth:
		next = start.AddDate(0, 1, 0)
	case levelDay:
		next = start.AddDate(0, 0, 1)
	case levelHour:
		next = start.Add(time.Hour)
	case levelMinute:
		next = start.Add(time.Minute)
	case levelSecond:
		next = start.Add(time.Second)
	default:
		return start
	}
	return next.Add(-time.Millisecond)
}

// boundaryOf returns the lowest or highest instant that v, known up to level,
// may represent, truncated to target.
func boundaryOf(v time.Time, level, target int, upper bool) time.Time {
	start := truncateTo(v, level)
	if target <= level {
		return truncateTo(start, target)
	}
	if upper {
		return truncateTo(periodEnd(start, level), target)
	}
	return start
}

type Date struct {
	defaultConversionError[Date]
	Value     time.Time
	Precision DatePrecision
}

func (d Date) Children(name ...string) Collection {
	return nil
}
func (d Date) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Date, String](d)
	}
	return String(d.String()), true, nil
}
func (d Date) ToDate(explicit bool) (v Date, ok bool, err error) {
	return d, true, nil
}
func (d Date) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{Value: d.Value, Precision: dateTimePrecisionAt(d.Precision.level())}, true, nil
}

// dateOperand accepts Date, DateTime and strings holding a date literal.
func dateOperand(other Element) (Element, bool) {
	switch o := other.(type) {
	case Date, DateTime:
		return o, true
	case String:
		if d, err := ParseDate(string(o)); err == nil {
			return d, true
		}
		if dt, err := ParseDateTime(string(o)); err == nil {
			return dt, true
		}
	}
	return nil, false
}

func (d Date) Equal(other Element) (eq bool, ok bool) {
	cmp, ok, err := d.Cmp(other)
	if err != nil {
		return false, true
	}
	return cmp == 0, ok
}
func (d Date) Equivalent(other Element) bool {
	o, isDate := other.(Date)
	if s, isString := other.(String); isString {
		o, isDate = tryParse(ParseDate, string(s))
	}
	if !isDate || o.Precision != d.Precision {
		return false
	}
	cmp, ok := compareTemporal(d.Value, o.Value, levelYear, d.Precision.level(), o.Precision.level())
	return ok && cmp == 0
}
func (d Date) Cmp(other Element) (cmp int, ok bool, err error) {
	operand, isTemporal := dateOperand(other)
	if !isTemporal {
		return 0, false, typeError("", "can not compare Date to %s, left: %v right: %v", typeOf(other), d, other)
	}
	switch o := operand.(type) {
	case DateTime:
		dt, _, _ := d.ToDateTime(false)
		return dt.Cmp(o)
	case Date:
		cmp, ok := compareTemporal(d.Value, o.Value, levelYear, d.Precision.level(), o.Precision.level())
		return cmp, ok, nil
	}
	return 0, false, nil
}
func (d Date) Add(ctx context.Context, other Element) (Element, error) {
	return d.shift(ctx, other, 1)
}
func (d Date) Subtract(ctx context.Context, other Element) (Element, error) {
	return d.shift(ctx, other, -1)
}
func (d Date) shift(ctx context.Context, other Element, sign int64) (Element, error) {
	q, isQuantity := other.(Quantity)
	if !isQuantity {
		return nil, typeError("+", "can not add %s to Date", typeOf(other))
	}
	t, err := shiftTime(ctx, d.Value, d.Precision.level(), q, sign, levelYear, levelDay)
	if err != nil {
		return nil, err
	}
	return Date{Value: t, Precision: d.Precision}, nil
}
func (d Date) PrecisionDigits() int {
	return precisionDigits[d.Precision.level()]
}
func (d Date) LowBoundary(digits *int) (Date, bool) {
	return d.boundary(digits, false)
}
func (d Date) HighBoundary(digits *int) (Date, bool) {
	return d.boundary(digits, true)
}
func (d Date) boundary(digits *int, upper bool) (Date, bool) {
	target := levelDay
	if digits != nil {
		l, ok := levelForDigits(*digits)
		if !ok || l > levelDay {
			return Date{}, false
		}
		target = l
	}
	precision := DatePrecisionFull
	switch target {
	case levelYear:
		precision = DatePrecisionYear
	case levelMonth:
		precision = DatePrecisionMonth
	}
	return Date{Value: boundaryOf(d.Value, d.Precision.level(), target, upper), Precision: precision}, true
}
func (d Date) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Date", BaseType: anyType}
}
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
func (d Date) String() string {
	switch d.Precision {
	case DatePrecisionYear:
		return d.Value.Format(DateFormatOnlyYear)
	case DatePrecisionMonth:
		return d.Value.Format(DateFormatUpToMonth)
	default:
		return d.Value.Format(DateFormatFull)
	}
}

type Time struct {
	defaultConversionError[Time]
	Value     time.Time
	Precision TimePrecision
}

func (t Time) Children(name ...string) Collection {
	return nil
}
func (t Time) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Time, String](t)
	}
	return String(t.String()), true, nil
}
func (t Time) ToTime(explicit bool) (v Time, ok bool, err error) {
	return t, true, nil
}
func (t Time) Equal(other Element) (eq bool, ok bool) {
	cmp, ok, err := t.Cmp(other)
	if err != nil {
		return false, true
	}
	return cmp == 0, ok
}
func (t Time) Equivalent(other Element) bool {
	o, isTime := other.(Time)
	if s, isString := other.(String); isString {
		o, isTime = tryParse(ParseTime, string(s))
	}
	if !isTime || o.Precision.level() != t.Precision.level() {
		return false
	}
	cmp, ok := compareTemporal(t.Value, o.Value, levelHour, t.Precision.level(), o.Precision.level())
	return ok && cmp == 0
}
func (t Time) Cmp(other Element) (cmp int, ok bool, err error) {
	o, isTime := other.(Time)
	if s, isString := other.(String); isString {
		o, isTime = tryParse(ParseTime, string(s))
	}
	if !isTime {
		return 0, false, typeError("", "can not compare Time to %s, left: %v right: %v", typeOf(other), t, other)
	}
	cmp, ok = compareTemporal(t.Value, o.Value, levelHour, t.Precision.level(), o.Precision.level())
	return cmp, ok, nil
}
func (t Time) Add(ctx context.Context, other Element) (Element, error) {
	return t.shift(ctx, other, 1)
}
func (t Time) Subtract(ctx context.Context, other Element) (Element, error) {
	return t.shift(ctx, other, -1)
}
func (t Time) shift(ctx context.Context, other Element, sign int64) (Element, error) {
	q, isQuantity := other.(Quantity)
	if !isQuantity {
		return nil, typeError("+", "can not add %s to Time", typeOf(other))
	}
	shifted, err := shiftTime(ctx, t.Value, t.Precision.level(), q, sign, levelHour, levelMillisecond)
	if err != nil {
		return nil, err
	}
	// time arithmetic wraps around midnight
	hour, minute, sec := shifted.Clock()
	return Time{
		Value:     time.Date(0, time.January, 1, hour, minute, sec, shifted.Nanosecond(), time.UTC),
		Precision: t.Precision,
	}, nil
}
func (t Time) PrecisionDigits() int {
	return precisionDigits[t.Precision.level()] - precisionDigits[levelDay]
}
func (t Time) LowBoundary(digits *int) (Time, bool) {
	return t.boundary(digits, false)
}
func (t Time) HighBoundary(digits *int) (Time, bool) {
	return t.boundary(digits, true)
}
func (t Time) boundary(digits *int, upper bool) (Time, bool) {
	target := levelMillisecond
	if digits != nil {
		l, ok := levelForDigits(*digits + precisionDigits[levelDay])
		if !ok || l < levelHour {
			return Time{}, false
		}
		target = l
	}
	precision := []TimePrecision{TimePrecisionHour, TimePrecisionMinute, TimePrecisionSecond, TimePrecisionMillisecond}[target-levelHour]
	return Time{Value: boundaryOf(t.Value, t.Precision.level(), target, upper), Precision: precision}, true
}
func (t Time) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Time", BaseType: anyType}
}
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
func (t Time) String() string {
	switch t.Precision {
	case TimePrecisionHour:
		return t.Value.Format(TimeFormatOnlyHour)
	case TimePrecisionMinute:
		return t.Value.Format(TimeFormatUpToMinute)
	case TimePrecisionSecond:
		return t.Value.Format(TimeFormatUpToSecond)
	default:
		return t.Value.Format(TimeFormatFull)
	}
}

type DateTime struct {
	defaultConversionError[DateTime]
	Value       time.Time
	Precision   DateTimePrecision
	HasTimeZone bool
}

func (dt DateTime) Children(name ...string) Collection {
	return nil
}
func (dt DateTime) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[DateTime, String](dt)
	}
	return String(dt.String()), true, nil
}
func (dt DateTime) ToDate(explicit bool) (v Date, ok bool, err error) {
	if !explicit {
		return Date{}, false, implicitConversionError[DateTime, Date](dt)
	}
	precision := DatePrecisionFull
	switch dt.Precision {
	case DateTimePrecisionYear:
		precision = DatePrecisionYear
	case DateTimePrecisionMonth:
		precision = DatePrecisionMonth
	}
	return Date{Value: truncateTo(dt.Value, levelDay), Precision: precision}, true, nil
}
func (dt DateTime) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return dt, true, nil
}
func (dt DateTime) ToTime(explicit bool) (v Time, ok bool, err error) {
	if !explicit || dt.Precision.level() < levelHour {
		return Time{}, false, nil
	}
	hour, minute, sec := dt.Value.Clock()
	precision := []TimePrecision{TimePrecisionHour, TimePrecisionMinute, TimePrecisionSecond, TimePrecisionMillisecond}[dt.Precision.level()-levelHour]
	return Time{Value: time.Date(0, time.January, 1, hour, minute, sec, dt.Value.Nanosecond(), time.UTC), Precision: precision}, true, nil
}
func (dt DateTime) Equal(other Element) (eq bool, ok bool) {
	cmp, ok, err := dt.Cmp(other)
	if err != nil {
		return false, true
	}
	return cmp == 0, ok
}
func (dt DateTime) Equivalent(other Element) bool {
	var o DateTime
	switch v := other.(type) {
	case DateTime:
		o = v
	case Date:
		o, _, _ = v.ToDateTime(false)
	case String:
		parsed, isDateTime := tryParse(ParseDateTime, string(v))
		if !isDateTime {
			return false
		}
		o = parsed
	default:
		return false
	}
	if o.Precision.level() != dt.Precision.level() {
		return false
	}
	cmp, ok, err := dt.Cmp(o)
	return err == nil && ok && cmp == 0
}
func (dt DateTime) Cmp(other Element) (cmp int, ok bool, err error) {
	operand, isTemporal := dateOperand(other)
	if !isTemporal {
		return 0, false, typeError("", "can not compare DateTime to %s, left: %v right: %v", typeOf(other), dt, other)
	}
	o, _, _ := operand.ToDateTime(false)

	left, right := dt.Value, o.Value
	leftLevel, rightLevel := dt.Precision.level(), o.Precision.level()
	if leftLevel >= levelHour && rightLevel >= levelHour {
		if dt.HasTimeZone != o.HasTimeZone {
			return 0, false, nil
		}
		if dt.HasTimeZone {
			left, right = left.UTC(), right.UTC()
		}
	}
	cmp, ok = compareTemporal(left, right, levelYear, leftLevel, rightLevel)
	return cmp, ok, nil
}
func (dt DateTime) Add(ctx context.Context, other Element) (Element, error) {
	return dt.shift(ctx, other, 1)
}
func (dt DateTime) Subtract(ctx context.Context, other Element) (Element, error) {
	return dt.shift(ctx, other, -1)
}
func (dt DateTime) shift(ctx context.Context, other Element, sign int64) (Element, error) {
	q, isQuantity := other.(Quantity)
	if !isQuantity {
		return nil, typeError("+", "can not add %s to DateTime", typeOf(other))
	}
	t, err := shiftTime(ctx, dt.Value, dt.Precision.level(), q, sign, levelYear, levelMillisecond)
	if err != nil {
		return nil, err
	}
	return DateTime{Value: t, Precision: dt.Precision, HasTimeZone: dt.HasTimeZone}, nil
}
func (dt DateTime) PrecisionDigits() int {
	return precisionDigits[dt.Precision.level()]
}
func (dt DateTime) LowBoundary(digits *int) (DateTime, bool) {
	return dt.boundary(digits, false)
}
func (dt DateTime) HighBoundary(digits *int) (DateTime, bool) {
	return dt.boundary(digits, true)
}

// floating date times are widened to the extreme offsets +14:00 and -12:00
var (
	earliestZone = time.FixedZone("", 14*60*60)
	latestZone   = time.FixedZone("", -12*60*60)
)

func (dt DateTime) boundary(digits *int, upper bool) (DateTime, bool) {
	target := levelMillisecond
	if digits != nil {
		l, ok := levelForDigits(*digits)
		if !ok {
			return DateTime{}, false
		}
		target = l
	}
	t := boundaryOf(dt.Value, dt.Precision.level(), target, upper)
	hasTZ := dt.HasTimeZone
	if !hasTZ && target >= levelHour {
		zone := earliestZone
		if upper {
			zone = latestZone
		}
		year, month, day := t.Date()
		hour, minute, sec := t.Clock()
		t = time.Date(year, month, day, hour, minute, sec, t.Nanosecond(), zone)
		hasTZ = true
	}
	return DateTime{Value: t, Precision: dateTimePrecisionAt(target), HasTimeZone: hasTZ}, true
}
func (dt DateTime) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "DateTime", BaseType: anyType}
}
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}
func (dt DateTime) String() string {
	var ts string
	switch dt.Precision {
	case DateTimePrecisionYear:
		return dt.Value.Format(DateFormatOnlyYear)
	case DateTimePrecisionMonth:
		return dt.Value.Format(DateFormatUpToMonth)
	case DateTimePrecisionDay:
		return dt.Value.Format(DateFormatFull)
	case DateTimePrecisionHour:
		ts = TimeFormatOnlyHour
	case DateTimePrecisionMinute:
		ts = TimeFormatUpToMinute
	case DateTimePrecisionSecond:
		ts = TimeFormatUpToSecond
	default:
		ts = TimeFormatFull
	}
	if dt.HasTimeZone {
		ts += "Z07:00"
	}
	return dt.Value.Format(DateFormatFull + "T" + ts)
}

// millisPerLevel converts between levels when a quantity is finer than the value it is added to.
var millisPerLevel = []int64{
	levelYear:        365 * 24 * 60 * 60 * 1000,
	levelMonth:       30 * 24 * 60 * 60 * 1000,
	levelDay:         24 * 60 * 60 * 1000,
	levelHour:        60 * 60 * 1000,
	levelMinute:      60 * 1000,
	levelSecond:      1000,
	levelMillisecond: 1,
}

// shiftTime adds sign * q to t, a value known up to precision. Only units
// between minLevel and maxLevel are accepted. Quantities finer than the
// precision of the value are truncated to whole units of that precision.
func shiftTime(ctx context.Context, t time.Time, precision int, q Quantity, sign int64, minLevel, maxLevel int) (time.Time, error) {
	unit := normalizeTimeUnit(string(q.Unit))
	level, factor, ok := timeUnitLevel(unit)
	if !ok || level < minLevel || level > maxLevel {
		return time.Time{}, evaluationError("+", "invalid time unit %s", q.Unit)
	}

	var amount int64
	if level >= levelHour {
		var ms apd.Decimal
		if _, err := apdContext(ctx).Mul(&ms, q.Value.Value, apd.New(millisPerLevel[level], 0)); err != nil {
			return time.Time{}, evaluationError("+", "%v", err)
		}
		v, err := truncateToInt64(&ms)
		if err != nil {
			return time.Time{}, evaluationError("+", "quantity out of range: %v", q)
		}
		amount, level = v, levelMillisecond
	} else {
		v, err := truncateToInt64(q.Value.Value)
		if err != nil {
			return time.Time{}, evaluationError("+", "quantity out of range: %v", q)
		}
		amount = v * factor
	}

	if level > precision {
		if level == levelMonth && precision == levelYear {
			amount /= 12
		} else {
			amount = amount * millisPerLevel[level] / millisPerLevel[precision]
		}
		level = precision
	}
	amount *= sign

	switch level {
	case levelYear:
		return addMonths(t, amount*12), nil
	case levelMonth:
		return addMonths(t, amount), nil
	case levelDay:
		return t.AddDate(0, 0, int(amount)), nil
	default:
		return t.Add(time.Duration(amount * millisPerLevel[level] * int64(time.Millisecond))), nil
	}
}

// addMonths clamps to the last day of the resulting month.
func addMonths(t time.Time, months int64) time.Time {
	total := int64(t.Year())*12 + int64(t.Month()-1) + months
	year, month := int(total/12), time.Month(total%12+1)
	if total < 0 && total%12 != 0 {
		year, month = int(total/12)-1, time.Month(total%12+13)
	}
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, t.Location()).Day()
	hour, minute, sec := t.Clock()
	return time.Date(year, month, min(t.Day(), lastDay), hour, minute, sec, t.Nanosecond(), t.Location())
}

func truncateToInt64(d *apd.Decimal) (int64, error) {
	var integ, frac apd.Decimal
	d.Modf(&integ, &frac)
	return integ.Int64()
}

func tryParse[T any](parse func(string) (T, error), s string) (T, bool) {
	v, err := parse(s)
	return v, err == nil
}

const (
	DateFormatOnlyYear   = "2006"
	DateFormatUpToMonth  = "2006-01"
	DateFormatFull       = "2006-01-02"
	TimeFormatOnlyHour   = "15"
	TimeFormatUpToMinute = "15:04"
	TimeFormatUpToSecond = "15:04:05"
	TimeFormatFull       = "15:04:05.000"
)

// ParseDate parses a FHIRPath date literal, with or without the leading @.
func ParseDate(s string) (Date, error) {
	ds := strings.TrimPrefix(s, "@")
	layouts := []struct {
		layout    string
		precision DatePrecision
	}{
		{DateFormatOnlyYear, DatePrecisionYear},
		{DateFormatUpToMonth, DatePrecisionMonth},
		{DateFormatFull, DatePrecisionFull},
	}
	for _, l := range layouts {
		if len(ds) != len(l.layout) {
			continue
		}
		if d, err := time.Parse(l.layout, ds); err == nil {
			return Date{Value: d, Precision: l.precision}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid Date format: %s", s)
}

// ParseTime parses a time literal such as @T14:30 or 14:30:00.000.
func ParseTime(s string) (Time, error) {
	ts := strings.TrimPrefix(strings.TrimPrefix(s, "@"), "T")
	clock, _, err := parseClock(ts, false)
	if err != nil {
		return Time{}, fmt.Errorf("invalid Time format: %s", s)
	}
	precision := []TimePrecision{TimePrecisionHour, TimePrecisionMinute, TimePrecisionSecond, TimePrecisionMillisecond}[clock.level-levelHour]
	return Time{Value: clock.t, Precision: precision}, nil
}

type parsedClock struct {
	t     time.Time
	level int
}

// parseClock parses hh[:mm[:ss[.fff]]] with an optional zone suffix.
func parseClock(s string, withTZ bool) (parsedClock, bool, error) {
	clock, zone := s, ""
	if withTZ {
		if i := strings.IndexAny(s, "Z+-"); i != -1 {
			clock, zone = s[:i], s[i:]
		}
	}
	var layout string
	var level int
	switch {
	case len(clock) == 2:
		layout, level = TimeFormatOnlyHour, levelHour
	case len(clock) == 5:
		layout, level = TimeFormatUpToMinute, levelMinute
	case len(clock) == 8:
		layout, level = TimeFormatUpToSecond, levelSecond
	case len(clock) > 9 && clock[8] == '.':
		// fractional seconds are accepted after the seconds field
		layout, level = TimeFormatUpToSecond, levelMillisecond
	default:
		return parsedClock{}, false, fmt.Errorf("invalid time: %s", s)
	}
	loc := time.UTC
	if zone != "" && zone != "Z" {
		z, err := time.Parse("-07:00", zone)
		if err != nil {
			return parsedClock{}, false, err
		}
		loc = z.Location()
	}
	t, err := time.ParseInLocation(layout, clock, loc)
	if err != nil {
		return parsedClock{}, false, err
	}
	t = t.Truncate(time.Millisecond)
	return parsedClock{t: t, level: level}, zone != "", nil
}

// ParseDateTime parses a date time literal. Partial date times without a time part are allowed.
func ParseDateTime(s string) (DateTime, error) {
	ds, ts, hasT := strings.Cut(strings.TrimPrefix(s, "@"), "T")
	d, err := ParseDate(ds)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid DateTime format (date part): %s", s)
	}
	if !hasT || ts == "" {
		return DateTime{Value: d.Value, Precision: dateTimePrecisionAt(d.Precision.level())}, nil
	}
	if d.Precision != DatePrecisionFull {
		return DateTime{}, fmt.Errorf("invalid DateTime format (time requires full date): %s", s)
	}
	clock, hasTZ, err := parseClock(ts, true)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid DateTime format (time part): %s", s)
	}
	c := clock.t
	value := time.Date(d.Value.Year(), d.Value.Month(), d.Value.Day(), c.Hour(), c.Minute(), c.Second(), c.Nanosecond(), c.Location())
	return DateTime{Value: value, Precision: dateTimePrecisionAt(clock.level), HasTimeZone: hasTZ}, nil
}

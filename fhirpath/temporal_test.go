package fhirpath

import (
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/apd/v3"
)

func quantity(v int64, unit string) Quantity {
	return Quantity{Value: Decimal{Value: apd.New(v, 0)}, Unit: String(unit)}
}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func mustTime(t *testing.T, s string) Time {
	t.Helper()
	v, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime(%q): %v", s, err)
	}
	return v
}

func mustDateTime(t *testing.T, s string) DateTime {
	t.Helper()
	dt, err := ParseDateTime(s)
	if err != nil {
		t.Fatalf("ParseDateTime(%q): %v", s, err)
	}
	return dt
}

func TestParseTemporal(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) (string, error)
		input   string
		want    string
		wantErr bool
	}{
		{name: "year", parse: formatted(ParseDate), input: "@2020", want: "2020"},
		{name: "month", parse: formatted(ParseDate), input: "2020-02", want: "2020-02"},
		{name: "full date", parse: formatted(ParseDate), input: "@2020-02-29", want: "2020-02-29"},
		{name: "invalid month", parse: formatted(ParseDate), input: "2020-13", wantErr: true},
		{name: "time hour", parse: formatted(ParseTime), input: "@T14", want: "14"},
		{name: "time minute", parse: formatted(ParseTime), input: "@T14:30", want: "14:30"},
		{name: "time millis", parse: formatted(ParseTime), input: "14:30:05.120", want: "14:30:05.120"},
		{name: "invalid time", parse: formatted(ParseTime), input: "@T1430", wantErr: true},
		{name: "partial datetime", parse: formatted(ParseDateTime), input: "@2020-01T", want: "2020-01"},
		{name: "datetime with zone", parse: formatted(ParseDateTime), input: "@2020-01-02T03:04:05.123+02:00", want: "2020-01-02T03:04:05.123+02:00"},
		{name: "datetime utc", parse: formatted(ParseDateTime), input: "2020-01-02T03:04Z", want: "2020-01-02T03:04Z"},
		{name: "time without full date", parse: formatted(ParseDateTime), input: "2020-01T10:00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func formatted[T interface{ String() string }](parse func(string) (T, error)) func(string) (string, error) {
	return func(s string) (string, error) {
		v, err := parse(s)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
}

func TestTemporalArithmetic(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		value    Element
		subtract bool
		quantity Quantity
		want     string
	}{
		{name: "month end clamps", value: mustDate(t, "2020-01-31"), quantity: quantity(1, "month"), want: "2020-02-29"},
		{name: "months on year precision", value: mustDate(t, "2020"), quantity: quantity(18, "months"), want: "2021"},
		{name: "weeks", value: mustDate(t, "2020-01-01"), quantity: quantity(2, "weeks"), want: "2020-01-15"},
		{name: "ucum days", value: mustDate(t, "2020-01-01"), quantity: quantity(3, "d"), want: "2020-01-04"},
		{name: "subtract month", value: mustDate(t, "2020-03-31"), subtract: true, quantity: quantity(1, "month"), want: "2020-02-29"},
		{name: "minutes", value: mustDateTime(t, "2020-01-01T10:00"), quantity: quantity(90, "minutes"), want: "2020-01-01T11:30"},
		{name: "hours truncated to days", value: mustDateTime(t, "2020-01-01"), quantity: quantity(36, "hours"), want: "2020-01-02"},
		{name: "year into leap day", value: mustDateTime(t, "2020-02-29T12:00:00Z"), quantity: quantity(1, "year"), want: "2021-02-28T12:00:00Z"},
		{name: "time wraps midnight", value: mustTime(t, "23:00"), quantity: quantity(2, "hours"), want: "01:00"},
		{name: "time backwards", value: mustTime(t, "00:30:00"), subtract: true, quantity: quantity(45, "min"), want: "23:45:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arith := tt.value.(interface {
				Add(context.Context, Element) (Element, error)
				Subtract(context.Context, Element) (Element, error)
			})
			op := arith.Add
			if tt.subtract {
				op = arith.Subtract
			}
			got, err := op(ctx, tt.quantity)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTemporalArithmeticErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		value interface {
			Add(context.Context, Element) (Element, error)
		}
		other    Element
		wantKind error
	}{
		{name: "date plus hours", value: mustDate(t, "2020-01-01"), other: quantity(1, "hour"), wantKind: ErrEvaluation},
		{name: "time plus days", value: mustTime(t, "10:00"), other: quantity(1, "day"), wantKind: ErrEvaluation},
		{name: "unknown unit", value: mustDateTime(t, "2020-01-01"), other: quantity(1, "kg"), wantKind: ErrEvaluation},
		{name: "date plus integer", value: mustDate(t, "2020-01-01"), other: Integer(1), wantKind: ErrType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.value.Add(ctx, tt.other)
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("got error %v, want %v", err, tt.wantKind)
			}
		})
	}
}

func TestTemporalBoundaries(t *testing.T) {
	digits := func(n int) *int { return &n }
	tests := []struct {
		name   string
		bound  func() (string, bool)
		want   string
		wantOK bool
	}{
		{name: "date year low", bound: str(mustDate(t, "2020").LowBoundary(nil)), want: "2020-01-01", wantOK: true},
		{name: "date year high", bound: str(mustDate(t, "2020").HighBoundary(nil)), want: "2020-12-31", wantOK: true},
		{name: "date leap month high", bound: str(mustDate(t, "2020-02").HighBoundary(nil)), want: "2020-02-29", wantOK: true},
		{name: "date to month", bound: str(mustDate(t, "2020-02-15").LowBoundary(digits(6))), want: "2020-02", wantOK: true},
		{name: "date finer than day", bound: str(mustDate(t, "2020-02-15").LowBoundary(digits(10))), wantOK: false},
		{name: "floating datetime low", bound: str(mustDateTime(t, "2020-01-01").LowBoundary(nil)), want: "2020-01-01T00:00:00.000+14:00", wantOK: true},
		{name: "floating datetime high", bound: str(mustDateTime(t, "2020-01-01").HighBoundary(nil)), want: "2020-01-01T23:59:59.999-12:00", wantOK: true},
		{name: "zoned datetime keeps zone", bound: str(mustDateTime(t, "2020-01-01T10:30+01:00").HighBoundary(nil)), want: "2020-01-01T10:30:59.999+01:00", wantOK: true},
		{name: "datetime to year", bound: str(mustDateTime(t, "2020-06-15T10:30").HighBoundary(digits(4))), want: "2020", wantOK: true},
		{name: "datetime invalid digits", bound: str(mustDateTime(t, "2020-06-15").HighBoundary(digits(5))), wantOK: false},
		{name: "time low", bound: str(mustTime(t, "10:30").LowBoundary(nil)), want: "10:30:00.000", wantOK: true},
		{name: "time high", bound: str(mustTime(t, "10:30").HighBoundary(nil)), want: "10:30:59.999", wantOK: true},
		{name: "time to minute", bound: str(mustTime(t, "10").HighBoundary(digits(4))), want: "10:59", wantOK: true},
		{name: "time digits too coarse", bound: str(mustTime(t, "10:30").LowBoundary(digits(0))), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.bound()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func str[T interface{ String() string }](v T, ok bool) func() (string, bool) {
	return func() (string, bool) { return v.String(), ok }
}

func TestTemporalComparison(t *testing.T) {
	tests := []struct {
		name    string
		left    Element
		right   Element
		wantCmp int
		wantOK  bool
	}{
		{name: "different years", left: mustDate(t, "2019"), right: mustDate(t, "2020-01"), wantCmp: -1, wantOK: true},
		{name: "shared prefix is uncertain", left: mustDate(t, "2020"), right: mustDate(t, "2020-01"), wantOK: false},
		{name: "zones normalized", left: mustDateTime(t, "2020-01-01T10:00:00+01:00"), right: mustDateTime(t, "2020-01-01T09:00:00Z"), wantCmp: 0, wantOK: true},
		{name: "zoned against floating", left: mustDateTime(t, "2020-01-01T10:00:00Z"), right: mustDateTime(t, "2020-01-01T10:00:00"), wantOK: false},
		{name: "date against datetime", left: mustDate(t, "2020-01-02"), right: mustDateTime(t, "2020-01-01"), wantCmp: 1, wantOK: true},
		{name: "time", left: mustTime(t, "10:00"), right: mustTime(t, "09:59"), wantCmp: 1, wantOK: true},
		{name: "date against string", left: mustDate(t, "2020-01-02"), right: String("2020-01-03"), wantCmp: -1, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, ok, err := tt.left.(cmpElement).Cmp(tt.right)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && cmp != tt.wantCmp {
				t.Errorf("cmp = %d, want %d", cmp, tt.wantCmp)
			}
		})
	}
}

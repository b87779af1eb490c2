package fhirpath

import (
	"context"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// defaultBoundaryPlaces is the precision of lowBoundary() and highBoundary()
// on decimals without an explicit argument.
const defaultBoundaryPlaces = 8

func temporalBuiltins() []Implementation {
	impls := []Implementation{
		define(fn("now", CollectionInput).impure(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			now := evaluationInstant(ctx).Truncate(time.Millisecond)
			return done(DateTime{Value: now, Precision: DateTimePrecisionFull, HasTimeZone: true})
		}),
		define(fn("today", CollectionInput).impure(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			y, m, d := evaluationInstant(ctx).Date()
			return done(Date{Value: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Precision: DatePrecisionFull})
		}),
		define(fn("timeOfDay", CollectionInput).impure(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			now := evaluationInstant(ctx)
			h, m, s := now.Clock()
			t := time.Date(0, 1, 1, h, m, s, now.Nanosecond(), time.UTC).Truncate(time.Millisecond)
			return done(Time{Value: t, Precision: TimePrecisionFull})
		}),
	}

	for _, c := range []struct {
		name  string
		level int
		types []string
	}{
		{"yearOf", levelYear, []string{"Date", "DateTime"}},
		{"monthOf", levelMonth, []string{"Date", "DateTime"}},
		{"dayOf", levelDay, []string{"Date", "DateTime"}},
		{"hourOf", levelHour, []string{"DateTime", "Time"}},
		{"minuteOf", levelMinute, []string{"DateTime", "Time"}},
		{"secondOf", levelSecond, []string{"DateTime", "Time"}},
		{"millisecondOf", levelMillisecond, []string{"DateTime", "Time"}},
	} {
		for _, t := range c.types {
			sig := fn(c.name, SingletonInput).on(t)
			impls = append(impls, define(sig, component(sig, c.level)))
		}
	}

	impls = append(impls,
		define(fn("timezoneOffsetOf", SingletonInput).on("DateTime"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			dt := coerce(input[0], systemType("DateTime")).(DateTime)
			if !dt.HasTimeZone {
				return done()
			}
			_, offset := dt.Value.Zone()
			var hours apd.Decimal
			if _, err := apdContext(ctx).Quo(&hours, apd.New(int64(offset), 0), apd.New(3600, 0)); err != nil {
				return fail(evaluationError("timezoneOffsetOf", "%v", err))
			}
			return done(Decimal{Value: &hours})
		}),
		define(fn("dateOf", SingletonInput).on("DateTime"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			d, _, err := coerce(input[0], systemType("DateTime")).ToDate(true)
			if err != nil {
				return fail(err)
			}
			return done(d)
		}),
		define(fn("timeOf", SingletonInput).on("DateTime"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			t, ok, err := coerce(input[0], systemType("DateTime")).ToTime(true)
			if err != nil || !ok {
				return done()
			}
			return done(t)
		}),
	)

	for _, t := range []string{"Decimal", "Date", "DateTime", "Time"} {
		impls = append(impls,
			define(fn("precision", SingletonInput).on(t), precision),
			define(fn("lowBoundary", SingletonInput, optional(param("precision", "Integer"))).on(t), boundaryFunc("lowBoundary", false)),
			define(fn("highBoundary", SingletonInput, optional(param("precision", "Integer"))).on(t), boundaryFunc("highBoundary", true)),
		)
	}
	return impls
}

// component extracts the field at level, empty if the value is less precise.
func component(sig Signature, level int) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		var (
			t         time.Time
			precision int
		)
		switch v := coerce(input[0], sig.InputType).(type) {
		case Date:
			t, precision = v.Value, v.Precision.level()
		case DateTime:
			t, precision = v.Value, v.Precision.level()
		case Time:
			t, precision = v.Value, v.Precision.level()
		default:
			return fail(typeError(sig.Name, "expected temporal value, got %s", typeOf(input[0])))
		}
		if level > precision {
			return done()
		}
		switch level {
		case levelYear:
			return done(Integer(t.Year()))
		case levelMonth:
			return done(Integer(t.Month()))
		case levelDay:
			return done(Integer(t.Day()))
		case levelHour:
			return done(Integer(t.Hour()))
		case levelMinute:
			return done(Integer(t.Minute()))
		case levelSecond:
			return done(Integer(t.Second()))
		default:
			return done(Integer(t.Nanosecond() / int(time.Millisecond)))
		}
	}
}

func precision(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	switch v := coerce(input[0], systemType("Date")).(type) {
	case Integer:
		return done(Integer(0))
	case Decimal:
		return done(Integer(v.Precision()))
	case Date:
		return done(Integer(v.PrecisionDigits()))
	case DateTime:
		return done(Integer(v.PrecisionDigits()))
	case Time:
		return done(Integer(v.PrecisionDigits()))
	}
	return fail(typeError("precision", "expected Decimal or temporal value, got %s", typeOf(input[0])))
}

// boundaryFunc implements lowBoundary and highBoundary. An unsupported
// precision yields empty.
func boundaryFunc(name string, upper bool) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		var digits *int
		if arg, given := optionalArg(args, 0); given {
			p, err := argOf[Integer](name, arg)
			if err != nil {
				return fail(err)
			}
			d := int(p)
			digits = &d
		}

		e := input[0]
		if s, ok := e.(String); ok {
			e = coerce(s, systemType("Date"))
		}
		switch v := e.(type) {
		case Integer, Decimal:
			d := coerce(v, systemType("Decimal")).(Decimal)
			places := defaultBoundaryPlaces
			if digits != nil {
				places = *digits
			}
			if places < 0 || places > 28 {
				return done()
			}
			b, err := d.boundary(ctx, places, upper)
			if err != nil {
				return fail(evaluationError(name, "%v", err))
			}
			return done(b)
		case Date:
			b, ok := v.boundary(digits, upper)
			return temporalBoundary(b, ok)
		case DateTime:
			b, ok := v.boundary(digits, upper)
			return temporalBoundary(b, ok)
		case Time:
			b, ok := v.boundary(digits, upper)
			return temporalBoundary(b, ok)
		}
		return fail(typeError(name, "expected Decimal or temporal value, got %s", typeOf(input[0])))
	}
}

func temporalBoundary[T Element](v T, ok bool) (Collection, bool, error) {
	if !ok {
		return done()
	}
	return done(v)
}

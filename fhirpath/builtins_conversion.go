package fhirpath

import (
	"context"
	"fmt"
)

// conversion pairs a target type with the explicit conversion of an element to it.
type conversion struct {
	target  string
	convert func(e Element) (Element, bool, error)
}

func conversions() []conversion {
	return []conversion{
		{"Boolean", func(e Element) (Element, bool, error) { return e.ToBoolean(true) }},
		{"String", func(e Element) (Element, bool, error) { return e.ToString(true) }},
		{"Integer", func(e Element) (Element, bool, error) { return e.ToInteger(true) }},
		{"Decimal", func(e Element) (Element, bool, error) { return e.ToDecimal(true) }},
		{"Date", func(e Element) (Element, bool, error) { return e.ToDate(true) }},
		{"DateTime", func(e Element) (Element, bool, error) { return e.ToDateTime(true) }},
		{"Time", func(e Element) (Element, bool, error) { return e.ToTime(true) }},
	}
}

func conversionBuiltins() []Implementation {
	var impls []Implementation
	for _, c := range conversions() {
		convert := c.convert
		impls = append(impls,
			define(fn("to"+c.target, SingletonInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				v, ok, err := convert(input[0])
				if err != nil || !ok {
					// not convertible
					return done()
				}
				return done(v)
			}),
			define(fn("convertsTo"+c.target, SingletonInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				_, ok, err := convert(input[0])
				return doneBool(ok && err == nil)
			}),
		)
	}
	return append(impls,
		define(fn("toQuantity", SingletonInput, optional(param("unit", "String"))), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			q, ok, err := toQuantity(ctx, input[0], args)
			if err != nil {
				return fail(err)
			}
			if !ok {
				return done()
			}
			return done(q)
		}),
		define(fn("convertsToQuantity", SingletonInput, optional(param("unit", "String"))), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			_, ok, err := toQuantity(ctx, input[0], args)
			if err != nil {
				return fail(err)
			}
			return doneBool(ok)
		}),
	)
}

// toQuantity converts e and, if a unit is given, expresses it in that unit.
// Only a malformed unit argument is an error.
func toQuantity(ctx context.Context, e Element, args []Collection) (Quantity, bool, error) {
	q, ok, err := e.ToQuantity(true)
	if err != nil || !ok {
		return Quantity{}, false, nil
	}
	arg, given := optionalArg(args, 0)
	if !given {
		return q, true, nil
	}
	unit, err := argOf[String]("toQuantity", arg)
	if err != nil {
		return Quantity{}, false, err
	}
	if unit == "" {
		return Quantity{}, false, &Error{Kind: KindConversion, Name: "toQuantity", Msg: "unit must not be empty"}
	}
	if err := validUnit(string(unit)); err != nil {
		return Quantity{}, false, &Error{Kind: KindConversion, Name: "toQuantity", Msg: fmt.Sprintf("malformed unit %q", unit), Err: err}
	}
	converted, err := convertQuantityToUnit(ctx, q, unit)
	if err != nil {
		return Quantity{}, false, nil
	}
	return converted, true, nil
}

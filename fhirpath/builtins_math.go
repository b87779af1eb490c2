package fhirpath

import (
	"context"

	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/overflow"
)

type decimalOp = func(c *apd.Context, d *apd.Decimal, x *apd.Decimal) (apd.Condition, error)

func mathBuiltins() []Implementation {
	return []Implementation{
		define(fn("abs", SingletonInput).on("Integer"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			i := input[0].(Integer)
			if i >= 0 {
				return done(i)
			}
			neg, ok := overflow.Neg(i)
			if !ok {
				return fail(evaluationError("abs", "integer overflow: abs(%d)", i))
			}
			return done(neg)
		}),
		define(fn("abs", SingletonInput).on("Decimal"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			d := coerce(input[0], systemType("Decimal")).(Decimal)
			var abs apd.Decimal
			abs.Abs(d.Value)
			return done(Decimal{Value: &abs})
		}),
		define(fn("abs", SingletonInput).on("Quantity"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			q := coerce(input[0], systemType("Quantity")).(Quantity)
			var abs apd.Decimal
			abs.Abs(q.Value.Value)
			return done(Quantity{Value: Decimal{Value: &abs}, Unit: q.Unit})
		}),
		define(fn("ceiling", SingletonInput).on("Decimal"), integral("ceiling", (*apd.Context).Ceil)),
		define(fn("floor", SingletonInput).on("Decimal"), integral("floor", (*apd.Context).Floor)),
		define(fn("truncate", SingletonInput).on("Decimal"), integral("truncate", func(c *apd.Context, d, x *apd.Decimal) (apd.Condition, error) {
			var frac apd.Decimal
			x.Modf(d, &frac)
			return 0, nil
		})),
		define(fn("round", SingletonInput, optional(param("precision", "Integer"))).on("Decimal"), round),
		define(fn("exp", SingletonInput).on("Decimal"), transcendental("exp", (*apd.Context).Exp)),
		define(fn("ln", SingletonInput).on("Decimal"), transcendental("ln", (*apd.Context).Ln)),
		define(fn("sqrt", SingletonInput).on("Decimal"), transcendental("sqrt", (*apd.Context).Sqrt)),
		define(fn("log", SingletonInput, param("base", "Decimal")).on("Decimal"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			x := coerce(input[0], systemType("Decimal")).(Decimal)
			base, err := argOf[Decimal]("log", args[0])
			if err != nil {
				return fail(err)
			}
			c := apdContext(ctx)
			var lnX, lnBase, res apd.Decimal
			if _, err := c.Ln(&lnX, x.Value); err != nil {
				return done()
			}
			if _, err := c.Ln(&lnBase, base.Value); err != nil || lnBase.IsZero() {
				return done()
			}
			if _, err := c.Quo(&res, &lnX, &lnBase); err != nil {
				return fail(evaluationError("log", "%v", err))
			}
			return done(Decimal{Value: &res})
		}),
		define(fn("power", SingletonInput, param("exponent", "Integer")).on("Integer"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			base := input[0].(Integer)
			exp, err := argOf[Integer]("power", args[0])
			if err != nil {
				return fail(err)
			}
			if exp < 0 {
				return power(ctx, Decimal{Value: apd.New(int64(base), 0)}, Decimal{Value: apd.New(int64(exp), 0)})
			}
			result := int64(1)
			for range int64(exp) {
				var ok bool
				if result, ok = overflow.Mul(result, int64(base)); !ok {
					return fail(evaluationError("power", "integer overflow: %d ^ %d", base, exp))
				}
			}
			return done(Integer(result))
		}),
		define(fn("power", SingletonInput, param("exponent", "Decimal")).on("Decimal"), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			exp, err := argOf[Decimal]("power", args[0])
			if err != nil {
				return fail(err)
			}
			return power(ctx, coerce(input[0], systemType("Decimal")).(Decimal), exp)
		}),
	}
}

// integral applies op and converts the result to Integer.
func integral(name string, op decimalOp) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		d := coerce(input[0], systemType("Decimal")).(Decimal)
		var res apd.Decimal
		if _, err := op(apdContext(ctx), &res, d.Value); err != nil {
			return fail(evaluationError(name, "%v", err))
		}
		i, err := res.Int64()
		if err != nil {
			return fail(evaluationError(name, "result out of range: %v", err))
		}
		return done(Integer(i))
	}
}

// transcendental results outside of the domain, e.g. ln(0), are empty.
func transcendental(name string, op decimalOp) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		d := coerce(input[0], systemType("Decimal")).(Decimal)
		if d.Value.Negative && !d.Value.IsZero() && name != "exp" {
			return done()
		}
		var res apd.Decimal
		if _, err := op(apdContext(ctx), &res, d.Value); err != nil {
			return done()
		}
		return done(Decimal{Value: &res})
	}
}

func round(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	d := coerce(input[0], systemType("Decimal")).(Decimal)
	places := int64(0)
	if arg, given := optionalArg(args, 0); given {
		p, err := argOf[Integer]("round", arg)
		if err != nil {
			return fail(err)
		}
		if p < 0 {
			return fail(evaluationError("round", "precision must be >= 0, got %d", p))
		}
		places = int64(p)
	}
	c := apdContext(ctx).WithPrecision(uint32(int64(d.Value.NumDigits()) + places + 1))
	c.Rounding = apd.RoundHalfUp
	var rounded apd.Decimal
	if _, err := c.Quantize(&rounded, d.Value, int32(-places)); err != nil {
		return fail(evaluationError("round", "%v", err))
	}
	return done(Decimal{Value: &rounded})
}

// power is empty where the result is not a real number.
func power(ctx context.Context, base, exp Decimal) (Collection, bool, error) {
	if base.Value.Negative && !base.Value.IsZero() {
		var integ, frac apd.Decimal
		exp.Value.Modf(&integ, &frac)
		if !frac.IsZero() {
			return done()
		}
	}
	var res apd.Decimal
	if _, err := apdContext(ctx).Pow(&res, base.Value, exp.Value); err != nil {
		return done()
	}
	return done(Decimal{Value: &res})
}

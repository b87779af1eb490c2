package fhirpath

import (
	"context"
)

func existenceBuiltins() []Implementation {
	return []Implementation{
		define(fn("empty", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(len(input) == 0)
		}),
		define(fn("exists", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(len(input) > 0)
		}),
		define(fn("allTrue", CollectionInput), allBooleans("allTrue", true, true)),
		define(fn("anyTrue", CollectionInput), allBooleans("anyTrue", false, true)),
		define(fn("allFalse", CollectionInput), allBooleans("allFalse", true, false)),
		define(fn("anyFalse", CollectionInput), allBooleans("anyFalse", false, false)),
		define(fn("count", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return done(Integer(len(input)))
		}),
		define(fn("distinct", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return input.Distinct(), true, nil
		}),
		define(fn("isDistinct", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(len(input.Distinct()) == len(input))
		}),
		define(fn("subsetOf", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(isSubset(input, args[0]))
		}),
		define(fn("supersetOf", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(isSubset(args[0], input))
		}),
		define(fn("not", SingletonInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			b, known, err := truthy("not", input)
			if err != nil || !known {
				return nil, err == nil, err
			}
			return doneBool(!b)
		}),
		define(fn("hasValue", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(len(input) == 1 && isSystemValue(input[0]))
		}),
		define(fn("children", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			var children Collection
			for _, e := range input {
				children = append(children, e.Children()...)
			}
			return children, true, nil
		}),
	}
}

// allBooleans implements allTrue, anyTrue, allFalse and anyFalse.
// Items other than Boolean are ignored.
func allBooleans(name string, all, want bool) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		for _, e := range input {
			b, isBool := e.(Boolean)
			if !isBool {
				return fail(typeError(name, "expected Boolean items, got %s", typeOf(e)))
			}
			if all && bool(b) != want {
				return doneBool(false)
			}
			if !all && bool(b) == want {
				return doneBool(true)
			}
		}
		return doneBool(all)
	}
}

func isSubset(sub, super Collection) bool {
	for _, e := range sub {
		if !super.Contains(e) {
			return false
		}
	}
	return true
}

func subsettingBuiltins() []Implementation {
	return []Implementation{
		define(fn("single", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			if len(input) > 1 {
				return fail(evaluationError("single", "expected single item but got %d items", len(input)))
			}
			return input, true, nil
		}),
		define(fn("first", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			if len(input) == 0 {
				return done()
			}
			return input[:1], true, nil
		}),
		define(fn("last", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			if len(input) == 0 {
				return done()
			}
			return input[len(input)-1:], true, nil
		}),
		define(fn("tail", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			if len(input) <= 1 {
				return done()
			}
			return input[1:], true, nil
		}),
		define(fn("skip", CollectionInput, param("num", "Integer")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			num, err := argOf[Integer]("skip", args[0])
			if err != nil {
				return fail(err)
			}
			switch {
			case num <= 0:
				return input, true, nil
			case int64(num) >= int64(len(input)):
				return done()
			}
			return input[num:], true, nil
		}),
		define(fn("take", CollectionInput, param("num", "Integer")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			num, err := argOf[Integer]("take", args[0])
			if err != nil {
				return fail(err)
			}
			switch {
			case num <= 0:
				return done()
			case int64(num) >= int64(len(input)):
				return input, true, nil
			}
			return input[:num], true, nil
		}),
		define(fn("intersect", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			var result Collection
			for _, e := range input {
				if args[0].Contains(e) && !result.Contains(e) {
					result = append(result, e)
				}
			}
			return result, true, nil
		}),
		define(fn("exclude", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			var result Collection
			for _, e := range input {
				if !args[0].Contains(e) {
					result = append(result, e)
				}
			}
			return result, true, nil
		}),
		define(fn("union", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return input.Union(args[0]), true, nil
		}),
		define(fn("combine", CollectionInput, list("other")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return input.Combine(args[0]), true, nil
		}),
		define(fn("coalesce", CollectionInput, list("first"), optional(list("second")), optional(list("third")), optional(list("fourth"))).keepEmpty(),
			func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				for _, a := range args {
					if len(a) > 0 {
						return a, true, nil
					}
				}
				return done()
			}),
		define(fn("sum", CollectionInput), aggregateNumbers("sum", add)),
		define(fn("min", CollectionInput), extreme("min", -1)),
		define(fn("max", CollectionInput), extreme("max", 1)),
		define(fn("avg", CollectionInput), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			if len(input) == 0 {
				return done()
			}
			total, _, err := aggregateNumbers("avg", add)(ctx, ec, input, args)
			if err != nil {
				return fail(err)
			}
			avg, err := divide(ctx, coerce(total[0], systemType("Decimal")), Integer(len(input)))
			if err != nil {
				return fail(err)
			}
			return done(avg)
		}),
	}
}

// aggregateNumbers folds the input with op, the sum of nothing is empty.
func aggregateNumbers(name string, op binaryFunc) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		if len(input) == 0 {
			return done()
		}
		acc := input[0]
		for _, e := range input[1:] {
			if _, isDecimal := e.(Decimal); isDecimal {
				acc = coerce(acc, systemType("Decimal"))
			}
			next, err := op(ctx, acc, e)
			if err != nil {
				return fail(wrapError(name, err))
			}
			acc = next
		}
		switch acc.(type) {
		case Integer, Decimal, Quantity:
			return done(acc)
		}
		return fail(typeError(name, "expected numeric items, got %s", typeOf(acc)))
	}
}

// extreme returns the smallest (sign -1) or largest (sign 1) item.
func extreme(name string, sign int) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		if len(input) == 0 {
			return done()
		}
		best := input[0]
		for _, e := range input[1:] {
			cmp, ok, err := compareElements(e, best)
			if err != nil {
				return fail(wrapError(name, err))
			}
			if !ok {
				return done()
			}
			if cmp*sign > 0 {
				best = e
			}
		}
		return done(best)
	}
}

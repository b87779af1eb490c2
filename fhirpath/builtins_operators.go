package fhirpath

import (
	"context"

	"github.com/cockroachdb/apd/v3"
)

type binaryFunc = func(ctx context.Context, left, right Element) (Element, error)

func operatorBuiltins() []Implementation {
	var impls []Implementation

	for _, o := range []struct {
		symbol string
		apply  binaryFunc
		types  [][2]string
	}{
		{"+", add, [][2]string{
			{"String", "String"}, {"Integer", "Integer"}, {"Decimal", "Decimal"}, {"Quantity", "Quantity"},
			{"Date", "Quantity"}, {"DateTime", "Quantity"}, {"Time", "Quantity"},
		}},
		{"-", subtract, [][2]string{
			{"Integer", "Integer"}, {"Decimal", "Decimal"}, {"Quantity", "Quantity"},
			{"Date", "Quantity"}, {"DateTime", "Quantity"}, {"Time", "Quantity"},
		}},
		{"*", multiply, [][2]string{
			{"Integer", "Integer"}, {"Decimal", "Decimal"}, {"Quantity", "Quantity"}, {"Decimal", "Quantity"},
		}},
		{"/", divide, [][2]string{
			{"Decimal", "Decimal"}, {"Quantity", "Quantity"},
		}},
		{"div", div, [][2]string{
			{"Integer", "Integer"}, {"Decimal", "Decimal"},
		}},
		{"mod", mod, [][2]string{
			{"Integer", "Integer"}, {"Decimal", "Decimal"},
		}},
	} {
		for _, t := range o.types {
			sig := operator(o.symbol, SingletonInput, param("right", t[1])).on(t[0])
			impls = append(impls, binary(sig, o.apply))
		}
	}

	for _, symbol := range []string{"<", "<=", ">", ">="} {
		impls = append(impls, comparison(symbol))
	}

	for _, t := range []string{"Integer", "Decimal", "Quantity"} {
		impls = append(impls, define(operator("-", SingletonInput).on(t), negate))
	}

	return append(impls,
		define(operator("=", CollectionInput, list("right")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			eq, ok := input.Equal(args[0])
			if !ok {
				return done()
			}
			return doneBool(eq)
		}),
		define(operator("!=", CollectionInput, list("right")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			eq, ok := input.Equal(args[0])
			if !ok {
				return done()
			}
			return doneBool(!eq)
		}),
		define(operator("~", CollectionInput, list("right")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(input.Equivalent(args[0]))
		}),
		define(operator("!~", CollectionInput, list("right")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(!input.Equivalent(args[0]))
		}),
		define(operator("|", CollectionInput, list("right")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return input.Union(args[0]), true, nil
		}),
		define(operator("in", SingletonInput, list("right")).keepEmpty(), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			return doneBool(args[0].Contains(input[0]))
		}),
		define(operator("contains", CollectionInput, param("element", "")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			e, err := single("contains", args[0])
			if err != nil {
				return fail(err)
			}
			return doneBool(input.Contains(e))
		}),
		define(operator("&", CollectionInput, list("right")).keepEmpty(), concatenate),
		define(operator("and", CollectionInput, list("right")).keepEmpty(), logical("and")),
		define(operator("or", CollectionInput, list("right")).keepEmpty(), logical("or")),
		define(operator("xor", CollectionInput, list("right")).keepEmpty(), logical("xor")),
		define(operator("implies", CollectionInput, list("right")).keepEmpty(), logical("implies")),
	)
}

// binary applies a singleton operator after the implicit conversions chosen
// during resolution. A nil result, as for a division by zero, is empty.
func binary(sig Signature, apply binaryFunc) Implementation {
	return define(sig, func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		right, err := single(sig.Name, args[0])
		if err != nil {
			return fail(err)
		}
		result, err := apply(ctx, coerce(input[0], sig.InputType), coerce(right, sig.Params[0].Type))
		if err != nil {
			return fail(err)
		}
		if result == nil {
			return done()
		}
		return done(result)
	})
}

func add(ctx context.Context, left, right Element) (Element, error) {
	l, ok := left.(arithmeticElement)
	if !ok {
		return nil, typeError("+", "can not add %s and %s", typeOf(left), typeOf(right))
	}
	return l.Add(ctx, right)
}

func subtract(ctx context.Context, left, right Element) (Element, error) {
	l, ok := left.(arithmeticElement)
	if !ok {
		return nil, typeError("-", "can not subtract %s from %s", typeOf(right), typeOf(left))
	}
	return l.Subtract(ctx, right)
}

func multiply(ctx context.Context, left, right Element) (Element, error) {
	// number * quantity is commutative
	if _, isQuantity := right.(Quantity); isQuantity {
		if _, leftQuantity := left.(Quantity); !leftQuantity {
			left, right = right, left
		}
	}
	l, ok := left.(multiplicativeElement)
	if !ok {
		return nil, typeError("*", "can not multiply %s and %s", typeOf(left), typeOf(right))
	}
	return l.Multiply(ctx, right)
}

func divide(ctx context.Context, left, right Element) (Element, error) {
	l, ok := left.(multiplicativeElement)
	if !ok {
		return nil, typeError("/", "can not divide %s by %s", typeOf(left), typeOf(right))
	}
	return l.Divide(ctx, right)
}

func div(ctx context.Context, left, right Element) (Element, error) {
	l, ok := left.(integralElement)
	if !ok {
		return nil, typeError("div", "can not divide %s by %s", typeOf(left), typeOf(right))
	}
	return l.Div(ctx, right)
}

func mod(ctx context.Context, left, right Element) (Element, error) {
	l, ok := left.(integralElement)
	if !ok {
		return nil, typeError("mod", "can not divide %s by %s", typeOf(left), typeOf(right))
	}
	return l.Mod(ctx, right)
}

func comparison(symbol string) Implementation {
	return define(operator(symbol, SingletonInput, param("right", "")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		right, err := single(symbol, args[0])
		if err != nil {
			return fail(err)
		}
		cmp, ok, err := compareElements(input[0], right)
		if err != nil {
			return fail(wrapError(symbol, err))
		}
		if !ok {
			return done()
		}
		switch symbol {
		case "<":
			return doneBool(cmp < 0)
		case "<=":
			return doneBool(cmp <= 0)
		case ">":
			return doneBool(cmp > 0)
		default:
			return doneBool(cmp >= 0)
		}
	})
}

func negate(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	switch v := input[0].(type) {
	case Integer:
		neg, err := Integer(0).Subtract(ctx, v)
		if err != nil {
			return fail(err)
		}
		return done(neg)
	case Decimal:
		var neg apd.Decimal
		neg.Neg(v.Value)
		return done(Decimal{Value: &neg})
	case Quantity:
		var neg apd.Decimal
		neg.Neg(v.Value.Value)
		return done(Quantity{Value: Decimal{Value: &neg}, Unit: v.Unit})
	}
	return fail(typeError("-", "can not negate %s", typeOf(input[0])))
}

// concatenate treats empty operands as the empty string.
func concatenate(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	var result String
	for _, operand := range []Collection{input, args[0]} {
		if len(operand) == 0 {
			continue
		}
		s, err := argOf[String]("&", operand)
		if err != nil {
			return fail(err)
		}
		result += s
	}
	return done(result)
}

// logical implements the three valued truth tables. The evaluator
// short-circuits before the right operand is evaluated where possible.
func logical(symbol string) SyncBody {
	return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		l, lKnown, err := logicValue(symbol, input)
		if err != nil {
			return fail(err)
		}
		r, rKnown, err := logicValue(symbol, args[0])
		if err != nil {
			return fail(err)
		}
		switch symbol {
		case "and":
			switch {
			case lKnown && !l, rKnown && !r:
				return doneBool(false)
			case lKnown && rKnown:
				return doneBool(true)
			}
		case "or":
			switch {
			case lKnown && l, rKnown && r:
				return doneBool(true)
			case lKnown && rKnown:
				return doneBool(false)
			}
		case "xor":
			if lKnown && rKnown {
				return doneBool(l != r)
			}
		case "implies":
			switch {
			case lKnown && !l, rKnown && r:
				return doneBool(true)
			case lKnown && rKnown:
				return doneBool(false)
			}
		}
		return done()
	}
}

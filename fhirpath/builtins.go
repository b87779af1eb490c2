package fhirpath

import (
	"slices"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

// builtins returns every built-in function and operator overload.
// The order matters for overloads of equal cost.
func builtins() []Implementation {
	return slices.Concat(
		operatorBuiltins(),
		existenceBuiltins(),
		subsettingBuiltins(),
		conversionBuiltins(),
		stringBuiltins(),
		mathBuiltins(),
		typeBuiltins(),
		temporalBuiltins(),
		fhirBuiltins(),
	)
}

// fn builds a pure, empty propagating signature.
func fn(name string, input Cardinality, params ...Param) Signature {
	return Signature{Name: name, Input: input, Params: params, Pure: true, PropagateEmpty: true}
}

func operator(symbol string, input Cardinality, params ...Param) Signature {
	s := fn(symbol, input, params...)
	if info, ok := ast.Operators[symbol]; ok {
		s.Operator = &info
	} else {
		s.Operator = &ast.OperatorInfo{Symbol: symbol, Precedence: ast.UnaryPrecedence}
	}
	return s
}

func (s Signature) on(typeName string) Signature {
	s.InputType = ParseTypeSpecifier(typeName)
	return s
}

func (s Signature) impure() Signature {
	s.Pure = false
	return s
}

func (s Signature) keepEmpty() Signature {
	s.PropagateEmpty = false
	return s
}

func param(name, typeName string) Param {
	p := Param{Name: name}
	if typeName != "" {
		p.Type = ParseTypeSpecifier(typeName)
	}
	return p
}

func optional(p Param) Param {
	p.Optional = true
	return p
}

// list accepts a collection of any size.
func list(name string) Param {
	return Param{Name: name, Type: TypeSpecifier{Namespace: "System", Name: "Any", List: true}}
}

func define(sig Signature, body SyncBody) Implementation {
	return &Func{Sig: sig, Sync: body}
}

func defineAsync(sig Signature, body AsyncBody) Implementation {
	return &Func{Sig: sig, Async: body}
}

func done(elems ...Element) (Collection, bool, error) {
	return Collection(elems), true, nil
}

func doneBool(b bool) (Collection, bool, error) {
	return Collection{Boolean(b)}, true, nil
}

func fail(err error) (Collection, bool, error) {
	return nil, false, err
}

// single returns the only element of an argument.
func single(name string, arg Collection) (Element, error) {
	if len(arg) != 1 {
		return nil, typeError(name, "expected single argument value, got %d", len(arg))
	}
	return arg[0], nil
}

// argOf converts the only element of an argument to T.
func argOf[T Element](name string, arg Collection) (T, error) {
	var zero T
	e, err := single(name, arg)
	if err != nil {
		return zero, err
	}
	v, ok, err := elementTo[T](e, false)
	if err != nil || !ok {
		return zero, typeError(name, "expected %T argument, got %s", zero, typeOf(e))
	}
	return v, nil
}

// optionalArg returns the argument at i if it was passed.
func optionalArg(args []Collection, i int) (Collection, bool) {
	if i < len(args) {
		return args[i], true
	}
	return nil, false
}

// coerce applies the implicit conversion selected by overload resolution.
func coerce(e Element, want TypeSpecifier) Element {
	switch want.Name {
	case "Decimal":
		if i, ok := e.(Integer); ok {
			d, _, _ := i.ToDecimal(false)
			return d
		}
	case "Quantity":
		switch e.(type) {
		case Integer, Decimal, *Node:
			if q, ok, err := e.ToQuantity(false); ok && err == nil {
				return q
			}
		}
	case "Date", "DateTime":
		switch v := e.(type) {
		case String:
			if want.Name == "Date" {
				if d, err := ParseDate(string(v)); err == nil {
					return d
				}
			}
			if dt, err := ParseDateTime(string(v)); err == nil {
				return dt
			}
		case Date:
			if want.Name == "DateTime" {
				dt, _, _ := v.ToDateTime(false)
				return dt
			}
		}
	case "Time":
		if s, ok := e.(String); ok {
			if t, err := ParseTime(string(s)); err == nil {
				return t
			}
		}
	}
	return e
}

// logicValue reads an operand of a logical operator. Only a single
// Boolean is known, everything else is unknown.
func logicValue(name string, c Collection) (value, known bool, err error) {
	switch len(c) {
	case 0:
		return false, false, nil
	case 1:
		b, isBool := c[0].(Boolean)
		return bool(b), isBool, nil
	}
	return false, false, typeError(name, "expected single boolean operand, got %d values", len(c))
}

// truthy applies the singleton evaluation rules used for criteria:
// a single non-Boolean item counts as true.
func truthy(name string, c Collection) (value, known bool, err error) {
	b, ok, err := Singleton[Boolean](c)
	if err != nil {
		return false, false, wrapError(name, err)
	}
	return bool(b), ok, nil
}

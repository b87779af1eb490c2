package fhirpath

import (
	"context"
)

// ModelProvider supplies type knowledge about a data model such as FHIR.
//
// The evaluator consults it for is, as, ofType and type() whenever a
// value is not a System primitive. Calls may block, e.g. to load schemas.
type ModelProvider interface {
	// IsSubtypeOf reports whether typeName equals ancestor or derives from it.
	IsSubtypeOf(ctx context.Context, typeName, ancestor TypeSpecifier) (bool, error)
	// TryCastValue converts v to target. ok is false if v can not be represented as target.
	TryCastValue(ctx context.Context, v Element, target TypeSpecifier) (cast Element, ok bool, err error)
	// ExtractTypeName returns the qualified type of v.
	ExtractTypeName(ctx context.Context, v Element) (TypeSpecifier, error)
}

// SystemProvider only knows the System primitive types.
// Documents are typed by their resourceType and have no known supertypes.
type SystemProvider struct{}

func (SystemProvider) IsSubtypeOf(ctx context.Context, typeName, ancestor TypeSpecifier) (bool, error) {
	if ancestor.Name == "Any" && ancestor.Namespace != "FHIR" {
		return true, nil
	}
	return typeName.Matches(ancestor), nil
}

func (p SystemProvider) TryCastValue(ctx context.Context, v Element, target TypeSpecifier) (Element, bool, error) {
	name, err := p.ExtractTypeName(ctx, v)
	if err != nil {
		return nil, false, err
	}
	if name.Matches(target) {
		return v, true, nil
	}
	return nil, false, nil
}

func (SystemProvider) ExtractTypeName(ctx context.Context, v Element) (TypeSpecifier, error) {
	return typeOf(v), nil
}

// isSystemValue reports whether e is one of the System primitives.
func isSystemValue(e Element) bool {
	switch e.(type) {
	case Boolean, String, Integer, Decimal, Date, Time, DateTime, Quantity:
		return true
	}
	return false
}

// systemTypeCheck decides is-type checks that need no model knowledge.
// decided is false when the model provider has to be consulted.
func systemTypeCheck(e Element, target TypeSpecifier) (is bool, decided bool) {
	if !isSystemValue(e) {
		return false, false
	}
	if target.Namespace == "FHIR" || !isSystemTypeName(target.Name) {
		return false, false
	}
	if target.Name == "Any" {
		return true, true
	}
	return typeOf(e).Name == target.Name, true
}

// isOfType checks e against target, consulting the provider if necessary.
func isOfType(ctx context.Context, provider ModelProvider, e Element, target TypeSpecifier) (bool, error) {
	if is, decided := systemTypeCheck(e, target); decided {
		return is, nil
	}
	name, err := provider.ExtractTypeName(ctx, e)
	if err != nil {
		return false, err
	}
	if name.Matches(target) {
		return true, nil
	}
	return provider.IsSubtypeOf(ctx, name, target)
}

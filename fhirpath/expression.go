package fhirpath

import (
	"context"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
	"github.com/damedic/fhirpath-engine/fhirpath/internal/parser"
)

// Expression represents a parsed FHIRPath expression that can be evaluated against a FHIR resource.
// Expressions are created using the Parse or MustParse functions, or from a hand built tree with NewExpression.
type Expression struct {
	tree ast.Node
}

// NewExpression wraps an expression tree.
func NewExpression(tree ast.Node) Expression {
	return Expression{tree: tree}
}

// Tree returns the expression tree.
func (e Expression) Tree() ast.Node {
	return e.tree
}

// String returns the string representation of the expression.
// This is useful for debugging or displaying the expression.
func (e Expression) String() string {
	if e.tree == nil {
		return ""
	}
	return e.tree.String()
}

// SyntaxError is returned by Parse for malformed expressions.
type SyntaxError = parser.SyntaxError

// Parse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, an error is returned.
//
// Example:
//
//	expr, err := fhirpath.Parse("Patient.name.given")
//	if err != nil {
//	    // Handle error
//	}
func Parse(expr string) (Expression, error) {
	tree, err := parser.Parse(expr)
	if err != nil {
		return Expression{}, err
	}
	return Expression{tree: tree}, nil
}

// MustParse parses a FHIRPath expression string and returns an Expression object.
// If the expression cannot be parsed, it panics.
//
// This function is useful when you know the expression is valid and want to avoid
// error checking, such as in tests or with hardcoded expressions.
//
// Example:
//
//	expr := fhirpath.MustParse("Patient.name.given")
func MustParse(path string) Expression {
	expr, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return expr
}

var defaultEngine = NewEngine()

// Evaluate evaluates a FHIRPath expression against a target element and returns the resulting collection.
//
// The context parameter can be used to provide additional configuration for the evaluation,
// such as decimal precision settings, trace logging, or environment variables.
// The evaluation uses a shared engine with the built-in registry and SystemProvider.
// Use an Engine with a ModelProvider to evaluate against FHIR resources with type information.
//
// Example:
//
//	expr := fhirpath.MustParse("name.given")
//	result, err := fhirpath.Evaluate(ctx, patient, expr)
//	if err != nil {
//	    // Handle error
//	}
//	fmt.Println(result) // Output: [Donald]
func Evaluate(ctx context.Context, target Element, expr Expression) (Collection, error) {
	return defaultEngine.EvaluateCollection(ctx, expr, target)
}

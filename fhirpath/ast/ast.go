// Package ast defines the expression tree consumed by the FHIRPath evaluator.
//
// Trees are produced by a parser or built by hand. They are immutable once
// constructed and may be shared between goroutines.
package ast

import (
	"fmt"
	"strings"
)

// Node is a node of a FHIRPath expression tree.
type Node interface {
	fmt.Stringer
	node()
}

type LiteralKind uint8

const (
	EmptyLiteral LiteralKind = iota
	BooleanLiteral
	StringLiteral
	NumberLiteral
	LongNumberLiteral
	DateLiteral
	DateTimeLiteral
	TimeLiteral
	QuantityLiteral
)

// Literal is a constant. Text holds the literal exactly as written,
// without the quotes of string literals.
type Literal struct {
	Kind LiteralKind
	Text string
	// Unit of a QuantityLiteral, without quotes.
	Unit string
}

// Identifier is a member access on the current input or, at the root of
// an expression, a type name that matches the input.
type Identifier struct {
	Name string
}

// Invocation evaluates Member with Target as input.
type Invocation struct {
	Target Node
	Member Node
}

// Function calls a named function. Arguments are not evaluated up front,
// which allows lambda arguments like the criteria of where().
type Function struct {
	Name string
	Args []Node
}

// Index selects the element at a zero based position.
type Index struct {
	Target Node
	Index  Node
}

// Unary is prefix polarity, either "+" or "-".
type Unary struct {
	Op      string
	Operand Node
}

// Binary is an infix operator.
type Binary struct {
	Op          string
	Left, Right Node
}

// TypeOp is the "is" or "as" operator applied to a type name.
type TypeOp struct {
	Op      string
	Operand Node
	Type    TypeName
}

// TypeName is a possibly qualified type identifier, such as FHIR.Patient.
type TypeName struct {
	Namespace string
	Name      string
}

// Variable references an external constant, like %resource.
type Variable struct {
	Name string
}

// LambdaVariable is one of $this, $index or $total.
type LambdaVariable struct {
	Name string
}

// Paren marks an explicitly parenthesized expression.
type Paren struct {
	Expr Node
}

func (Literal) node()        {}
func (Identifier) node()     {}
func (Invocation) node()     {}
func (Function) node()       {}
func (Index) node()          {}
func (Unary) node()          {}
func (Binary) node()         {}
func (TypeOp) node()         {}
func (TypeName) node()       {}
func (Variable) node()       {}
func (LambdaVariable) node() {}
func (Paren) node()          {}

func (l Literal) String() string {
	switch l.Kind {
	case EmptyLiteral:
		return "{}"
	case StringLiteral:
		return "'" + escape(l.Text) + "'"
	case LongNumberLiteral:
		return l.Text + "L"
	case DateLiteral, DateTimeLiteral:
		return "@" + l.Text
	case TimeLiteral:
		return "@T" + l.Text
	case QuantityLiteral:
		if isCalendarKeyword(l.Unit) {
			return l.Text + " " + l.Unit
		}
		return l.Text + " '" + escape(l.Unit) + "'"
	default:
		return l.Text
	}
}

func (i Identifier) String() string {
	if needsDelimiter(i.Name) {
		return "`" + i.Name + "`"
	}
	return i.Name
}

func (i Invocation) String() string {
	return i.Target.String() + "." + i.Member.String()
}

func (f Function) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

func (i Index) String() string {
	return i.Target.String() + "[" + i.Index.String() + "]"
}

func (u Unary) String() string {
	return u.Op + u.Operand.String()
}

func (b Binary) String() string {
	return b.Left.String() + " " + b.Op + " " + b.Right.String()
}

func (t TypeOp) String() string {
	return t.Operand.String() + " " + t.Op + " " + t.Type.String()
}

func (t TypeName) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (v Variable) String() string {
	if needsDelimiter(v.Name) {
		return "%`" + v.Name + "`"
	}
	return "%" + v.Name
}

func (v LambdaVariable) String() string {
	return "$" + v.Name
}

func (p Paren) String() string {
	return "(" + p.Expr.String() + ")"
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escape(s string) string {
	return escaper.Replace(s)
}

func needsDelimiter(name string) bool {
	if name == "" {
		return true
	}
	for i, r := range name {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !letter && (i == 0 || r < '0' || r > '9') {
			return true
		}
	}
	return IsKeyword(name)
}

func isCalendarKeyword(unit string) bool {
	switch unit {
	case "year", "years", "month", "months", "week", "weeks", "day", "days",
		"hour", "hours", "minute", "minutes", "second", "seconds",
		"millisecond", "milliseconds":
		return true
	}
	return false
}

// IsKeyword reports whether name is reserved by the grammar.
func IsKeyword(name string) bool {
	switch name {
	case "true", "false", "and", "or", "xor", "implies", "is", "as",
		"in", "contains", "div", "mod":
		return true
	}
	return false
}

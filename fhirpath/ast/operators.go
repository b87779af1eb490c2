package ast

type Associativity uint8

const (
	LeftAssociative Associativity = iota
	RightAssociative
)

// OperatorInfo describes how an infix operator binds.
//
// A higher Precedence binds tighter.
type OperatorInfo struct {
	Symbol        string
	Precedence    int
	Associativity Associativity
	Commutative   bool
}

// Operators lists every infix operator of the grammar.
var Operators = map[string]OperatorInfo{
	"*":        {Symbol: "*", Precedence: 11, Commutative: true},
	"/":        {Symbol: "/", Precedence: 11},
	"div":      {Symbol: "div", Precedence: 11},
	"mod":      {Symbol: "mod", Precedence: 11},
	"+":        {Symbol: "+", Precedence: 10, Commutative: true},
	"-":        {Symbol: "-", Precedence: 10},
	"&":        {Symbol: "&", Precedence: 10},
	"is":       {Symbol: "is", Precedence: 9},
	"as":       {Symbol: "as", Precedence: 9},
	"|":        {Symbol: "|", Precedence: 8, Commutative: true},
	"<":        {Symbol: "<", Precedence: 7},
	"<=":       {Symbol: "<=", Precedence: 7},
	">":        {Symbol: ">", Precedence: 7},
	">=":       {Symbol: ">=", Precedence: 7},
	"=":        {Symbol: "=", Precedence: 6, Commutative: true},
	"!=":       {Symbol: "!=", Precedence: 6, Commutative: true},
	"~":        {Symbol: "~", Precedence: 6, Commutative: true},
	"!~":       {Symbol: "!~", Precedence: 6, Commutative: true},
	"in":       {Symbol: "in", Precedence: 5},
	"contains": {Symbol: "contains", Precedence: 5},
	"and":      {Symbol: "and", Precedence: 4, Commutative: true},
	"or":       {Symbol: "or", Precedence: 3, Commutative: true},
	"xor":      {Symbol: "xor", Precedence: 3, Commutative: true},
	"implies":  {Symbol: "implies", Precedence: 2, Associativity: RightAssociative},
}

// UnaryPrecedence is the binding power of prefix polarity.
const UnaryPrecedence = 12

package parser

import (
	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

// Parse parses a complete FHIRPath expression.
func Parse(input string) (ast.Node, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{lexer: &lexer{input: input}, tokens: tokens}
	if p.peek().kind == tkEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	node, err := p.expression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tkEOF {
		return nil, p.errorf(tok, "unexpected %q after end of expression", tok.value)
	}
	return node, nil
}

type parser struct {
	*lexer
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, got %q", what, t.value)
	}
	return t, nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return p.lexer.errorf(t.pos, format, args...)
}

// infix returns the operator symbol if tok continues an infix expression.
func infix(tok token) (ast.OperatorInfo, bool) {
	switch tok.kind {
	case tkOperator, tkIdent:
		op, ok := ast.Operators[tok.value]
		return op, ok
	}
	return ast.OperatorInfo{}, false
}

func (p *parser) expression(minPrec int) (ast.Node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := infix(p.peek())
		if !ok || op.Precedence < minPrec {
			return left, nil
		}
		p.advance()

		if op.Symbol == "is" || op.Symbol == "as" {
			typ, err := p.typeName()
			if err != nil {
				return nil, err
			}
			left = ast.TypeOp{Op: op.Symbol, Operand: left, Type: typ}
			continue
		}

		next := op.Precedence + 1
		if op.Associativity == ast.RightAssociative {
			next = op.Precedence
		}
		right, err := p.expression(next)
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Op: op.Symbol, Left: left, Right: right}
	}
}

func (p *parser) prefix() (ast.Node, error) {
	tok := p.peek()
	if tok.kind == tkOperator && (tok.value == "+" || tok.value == "-") {
		p.advance()
		operand, err := p.expression(ast.UnaryPrecedence)
		if err != nil {
			return nil, err
		}
		return ast.Unary{Op: tok.value, Operand: operand}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (ast.Node, error) {
	node, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tkDot:
			p.advance()
			member, err := p.invocation()
			if err != nil {
				return nil, err
			}
			node = ast.Invocation{Target: node, Member: member}
		case tkLBracket:
			p.advance()
			index, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRBracket, "']'"); err != nil {
				return nil, err
			}
			node = ast.Index{Target: node, Index: index}
		default:
			return node, nil
		}
	}
}

// invocation parses what may follow a dot: a member, a function call or a special variable.
func (p *parser) invocation() (ast.Node, error) {
	tok := p.advance()
	switch tok.kind {
	case tkIdent, tkDelimited:
		if tok.kind == tkIdent && p.peek().kind == tkLParen {
			return p.function(tok.value)
		}
		return ast.Identifier{Name: tok.value}, nil
	case tkSpecial:
		return ast.LambdaVariable{Name: tok.value}, nil
	default:
		return nil, p.errorf(tok, "expected identifier or function after '.', got %q", tok.value)
	}
}

func (p *parser) function(name string) (ast.Node, error) {
	p.advance() // (
	var args []ast.Node
	if p.peek().kind != tkRParen {
		for {
			arg, err := p.expression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tkComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(tkRParen, "')'"); err != nil {
		return nil, err
	}
	return ast.Function{Name: name, Args: args}, nil
}

func (p *parser) primary() (ast.Node, error) {
	tok := p.advance()
	switch tok.kind {
	case tkLParen:
		inner, err := p.expression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return ast.Paren{Expr: inner}, nil
	case tkLBrace:
		if _, err := p.expect(tkRBrace, "'}'"); err != nil {
			return nil, err
		}
		return ast.Literal{Kind: ast.EmptyLiteral}, nil
	case tkString:
		return ast.Literal{Kind: ast.StringLiteral, Text: tok.value}, nil
	case tkNumber:
		return p.numberOrQuantity(tok)
	case tkLong:
		return ast.Literal{Kind: ast.LongNumberLiteral, Text: tok.value}, nil
	case tkDate:
		return ast.Literal{Kind: ast.DateLiteral, Text: tok.value}, nil
	case tkDateTime:
		return ast.Literal{Kind: ast.DateTimeLiteral, Text: tok.value}, nil
	case tkTime:
		return ast.Literal{Kind: ast.TimeLiteral, Text: tok.value}, nil
	case tkExternal:
		return ast.Variable{Name: tok.value}, nil
	case tkSpecial:
		return ast.LambdaVariable{Name: tok.value}, nil
	case tkDelimited:
		return ast.Identifier{Name: tok.value}, nil
	case tkIdent:
		switch tok.value {
		case "true", "false":
			return ast.Literal{Kind: ast.BooleanLiteral, Text: tok.value}, nil
		}
		if p.peek().kind == tkLParen {
			return p.function(tok.value)
		}
		return ast.Identifier{Name: tok.value}, nil
	case tkEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	default:
		return nil, p.errorf(tok, "unexpected %q", tok.value)
	}
}

var calendarUnits = map[string]bool{
	"year": true, "years": true, "month": true, "months": true,
	"week": true, "weeks": true, "day": true, "days": true,
	"hour": true, "hours": true, "minute": true, "minutes": true,
	"second": true, "seconds": true, "millisecond": true, "milliseconds": true,
}

func (p *parser) numberOrQuantity(num token) (ast.Node, error) {
	next := p.peek()
	switch {
	case next.kind == tkString:
		p.advance()
		return ast.Literal{Kind: ast.QuantityLiteral, Text: num.value, Unit: next.value}, nil
	case next.kind == tkIdent && calendarUnits[next.value]:
		p.advance()
		return ast.Literal{Kind: ast.QuantityLiteral, Text: num.value, Unit: next.value}, nil
	}
	return ast.Literal{Kind: ast.NumberLiteral, Text: num.value}, nil
}

func (p *parser) typeName() (ast.TypeName, error) {
	first := p.advance()
	if first.kind != tkIdent && first.kind != tkDelimited {
		return ast.TypeName{}, p.errorf(first, "expected type name, got %q", first.value)
	}
	if p.peek().kind == tkDot {
		second := p.peekAt(1)
		if second.kind == tkIdent || second.kind == tkDelimited {
			p.advance()
			p.advance()
			return ast.TypeName{Namespace: first.value, Name: second.value}, nil
		}
	}
	return ast.TypeName{Name: first.value}, nil
}

// Package parser turns FHIRPath source text into an ast.Node tree.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tkEOF        tokenKind = iota
	tkIdent                // identifier or keyword
	tkDelimited            // `delimited identifier`
	tkNumber               // 12 or 12.5
	tkLong                 // 12L
	tkString               // 'text'
	tkDate                 // @2024-01-01
	tkDateTime             // @2024-01-01T10:00
	tkTime                 // @T10:00
	tkExternal             // %name
	tkSpecial              // $this, $index, $total
	tkOperator             // + - * / & | = != ~ !~ < <= > >=
	tkDot                  // .
	tkComma                // ,
	tkLParen               // (
	tkRParen               // )
	tkLBracket             // [
	tkRBracket             // ]
	tkLBrace               // {
	tkRBrace               // }
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

// SyntaxError describes malformed input at a line and column, both starting at 1.
type SyntaxError struct {
	Line, Column int
	Msg          string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	line, col := 1, 1
	for _, r := range l.input[:min(pos, len(l.input))] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func tokenize(input string) ([]token, error) {
	l := &lexer{input: input}
	for {
		if err := l.skipSpaceAndComments(); err != nil {
			return nil, err
		}
		if l.pos >= len(l.input) {
			l.tokens = append(l.tokens, token{kind: tkEOF, pos: l.pos})
			return l.tokens, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) emit(kind tokenKind, value string, start int) {
	l.tokens = append(l.tokens, token{kind: kind, value: value, pos: start})
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.input) {
		rest := l.input[l.pos:]
		switch {
		case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r':
			l.pos++
		case strings.HasPrefix(rest, "//"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				l.pos = len(l.input)
			} else {
				l.pos += end + 1
			}
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return l.errorf(l.pos, "unterminated comment")
			}
			l.pos += end + 4
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() error {
	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == '.':
		l.pos++
		l.emit(tkDot, ".", start)
	case ch == ',':
		l.pos++
		l.emit(tkComma, ",", start)
	case ch == '(':
		l.pos++
		l.emit(tkLParen, "(", start)
	case ch == ')':
		l.pos++
		l.emit(tkRParen, ")", start)
	case ch == '[':
		l.pos++
		l.emit(tkLBracket, "[", start)
	case ch == ']':
		l.pos++
		l.emit(tkRBracket, "]", start)
	case ch == '{':
		l.pos++
		l.emit(tkLBrace, "{", start)
	case ch == '}':
		l.pos++
		l.emit(tkRBrace, "}", start)
	case strings.ContainsRune("+-*/&|=~", rune(ch)):
		l.pos++
		l.emit(tkOperator, string(ch), start)
	case ch == '!':
		if l.pos+1 < len(l.input) && (l.input[l.pos+1] == '=' || l.input[l.pos+1] == '~') {
			l.pos += 2
			l.emit(tkOperator, l.input[start:l.pos], start)
			return nil
		}
		return l.errorf(start, "unexpected character '!'")
	case ch == '<' || ch == '>':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
		}
		l.emit(tkOperator, l.input[start:l.pos], start)
	case ch == '\'':
		s, err := l.quoted('\'')
		if err != nil {
			return err
		}
		l.emit(tkString, s, start)
	case ch == '`':
		s, err := l.quoted('`')
		if err != nil {
			return err
		}
		l.emit(tkDelimited, s, start)
	case ch == '@':
		return l.temporal()
	case ch == '%':
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '`' || l.input[l.pos] == '\'') {
			s, err := l.quoted(l.input[l.pos])
			if err != nil {
				return err
			}
			l.emit(tkExternal, s, start)
			return nil
		}
		name := l.identifier()
		if name == "" {
			return l.errorf(start, "expected name after '%%'")
		}
		l.emit(tkExternal, name, start)
	case ch == '$':
		l.pos++
		name := l.identifier()
		switch name {
		case "this", "index", "total":
			l.emit(tkSpecial, name, start)
		default:
			return l.errorf(start, "unknown special variable $%s", name)
		}
	case ch >= '0' && ch <= '9':
		l.number()
	default:
		r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
		if r == '_' || unicode.IsLetter(r) {
			l.emit(tkIdent, l.identifier(), start)
			return nil
		}
		return l.errorf(start, "unexpected character %q", r)
	}
	return nil
}

func (l *lexer) identifier() string {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	return l.input[start:l.pos]
}

func (l *lexer) number() {
	start := l.pos
	l.digits()
	// a dot only belongs to the number if a digit follows, otherwise it is an invocation
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
		l.pos++
		l.digits()
	} else if l.pos < len(l.input) && l.input[l.pos] == 'L' {
		text := l.input[start:l.pos]
		l.pos++
		l.emit(tkLong, text, start)
		return
	}
	l.emit(tkNumber, l.input[start:l.pos], start)
}

func (l *lexer) digits() {
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *lexer) quoted(quote byte) (string, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == quote:
			l.pos++
			return sb.String(), nil
		case c == '\\':
			if l.pos+1 >= len(l.input) {
				return "", l.errorf(start, "unterminated escape")
			}
			l.pos++
			switch e := l.input[l.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'f':
				sb.WriteByte('\f')
			case 'u':
				if l.pos+4 >= len(l.input) {
					return "", l.errorf(l.pos, "invalid unicode escape")
				}
				r, err := strconv.ParseUint(l.input[l.pos+1:l.pos+5], 16, 32)
				if err != nil {
					return "", l.errorf(l.pos, "invalid unicode escape")
				}
				sb.WriteRune(rune(r))
				l.pos += 4
			default:
				// \\ \' \" \` and \/ stand for the character itself
				sb.WriteByte(e)
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return "", l.errorf(start, "unterminated literal")
}

func (l *lexer) temporal() error {
	start := l.pos
	l.pos++
	if l.pos < len(l.input) && l.input[l.pos] == 'T' {
		l.pos++
		tStart := l.pos
		l.timePart()
		if l.pos == tStart {
			return l.errorf(start, "invalid time literal")
		}
		l.emit(tkTime, l.input[tStart:l.pos], start)
		return nil
	}

	dStart := l.pos
	l.digits()
	for l.pos+1 < len(l.input) && l.input[l.pos] == '-' && isDigit(l.input[l.pos+1]) {
		l.pos++
		l.digits()
	}
	if l.pos == dStart {
		return l.errorf(start, "invalid date literal")
	}
	if l.pos < len(l.input) && l.input[l.pos] == 'T' {
		l.pos++
		l.timePart()
		l.zone()
		l.emit(tkDateTime, l.input[dStart:l.pos], start)
		return nil
	}
	l.emit(tkDate, l.input[dStart:l.pos], start)
	return nil
}

func (l *lexer) timePart() {
	l.digits()
	for l.pos+1 < len(l.input) && l.input[l.pos] == ':' && isDigit(l.input[l.pos+1]) {
		l.pos++
		l.digits()
	}
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
		l.pos++
		l.digits()
	}
}

func (l *lexer) zone() {
	if l.pos >= len(l.input) {
		return
	}
	switch l.input[l.pos] {
	case 'Z':
		l.pos++
	case '+', '-':
		// only an offset when written as hh:mm
		if l.pos+6 <= len(l.input) &&
			isDigit(l.input[l.pos+1]) && isDigit(l.input[l.pos+2]) &&
			l.input[l.pos+3] == ':' && isDigit(l.input[l.pos+4]) && isDigit(l.input[l.pos+5]) {
			l.pos += 6
		}
	}
}

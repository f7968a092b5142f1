package filters

import (
	"fmt"
	"strings"
)

// SyntaxError describes why an expression was rejected.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Invalid JEXL expression: %s at position %d.", e.Msg, e.Pos)
}

type tokenKind int

const (
	tokOperand tokenKind = iota
	tokBinary
	tokUnary
	tokDot
	tokPipe
	tokOpen
	tokClose
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var closers = map[string]string{"(": ")", "[": "]", "{": "}"}

var binaryOperators = []string{"==", "!=", ">=", "<=", "&&", "||", "//", ">", "<", "+", "*", "/", "%", "^", "?", ":"}

// CheckExpression verifies that expr is a syntactically complete JEXL
// expression. It does not evaluate anything.
func CheckExpression(expr string) error {
	tokens, err := tokenize(expr)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return &SyntaxError{Pos: 0, Msg: "empty expression"}
	}

	var stack []token
	expectOperand := true
	needIdent := false
	var prev token

	for i, tok := range tokens {
		if needIdent {
			if tok.kind != tokOperand || !isIdentifier(tok.text) {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("expected identifier after %q", prev.text)}
			}
			needIdent = false
			expectOperand = false
			prev = tok
			continue
		}

		switch tok.kind {
		case tokOperand:
			if !expectOperand {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
			}
			expectOperand = false
		case tokUnary:
			if !expectOperand {
				// "-" after an operand is subtraction.
				if tok.text != "-" {
					return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
				}
			}
			expectOperand = true
		case tokBinary:
			if expectOperand {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected operator %q", tok.text)}
			}
			expectOperand = true
		case tokDot, tokPipe:
			// "[.field == 1]" filters relative to the current element.
			leadingDot := tok.kind == tokDot && i > 0 && tokens[i-1].text == "["
			if expectOperand && !leadingDot {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
			}
			needIdent = true
		case tokOpen:
			// After an operand "(" is a call and "[" is an index or filter.
			if !expectOperand && tok.text == "{" {
				return &SyntaxError{Pos: tok.pos, Msg: "unexpected \"{\""}
			}
			stack = append(stack, tok)
			expectOperand = true
		case tokClose:
			if len(stack) == 0 {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unmatched %q", tok.text)}
			}
			open := stack[len(stack)-1]
			if closers[open.text] != tok.text {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("%q does not close %q", tok.text, open.text)}
			}
			emptyGroup := i > 0 && tokens[i-1].kind == tokOpen
			if expectOperand && !(emptyGroup && open.text != "(") && !(emptyGroup && isCall(tokens, i-1)) {
				return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
			}
			stack = stack[:len(stack)-1]
			expectOperand = false
		case tokComma:
			if expectOperand || len(stack) == 0 {
				return &SyntaxError{Pos: tok.pos, Msg: "unexpected \",\""}
			}
			expectOperand = true
		}
		prev = tok
	}

	last := tokens[len(tokens)-1]
	if needIdent {
		return &SyntaxError{Pos: last.pos, Msg: fmt.Sprintf("expected identifier after %q", last.text)}
	}
	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return &SyntaxError{Pos: open.pos, Msg: fmt.Sprintf("unclosed %q", open.text)}
	}
	if expectOperand {
		return &SyntaxError{Pos: last.pos, Msg: "unexpected end of expression"}
	}
	return nil
}

// isCall reports whether the "(" at index is a call, i.e. follows an
// operand rather than an operator.
func isCall(tokens []token, index int) bool {
	if index == 0 {
		return false
	}
	p := tokens[index-1]
	return p.kind == tokOperand || p.kind == tokClose
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			end, err := scanString(expr, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokOperand, text: expr[i:end], pos: i})
			i = end
		case isDigit(c):
			start := i
			for i < len(expr) && (isDigit(expr[i]) || expr[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokOperand, text: expr[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			word := expr[start:i]
			kind := tokOperand
			if word == "in" {
				kind = tokBinary
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: start})
		case c == '(' || c == '[' || c == '{':
			tokens = append(tokens, token{kind: tokOpen, text: string(c), pos: i})
			i++
		case c == ')' || c == ']' || c == '}':
			tokens = append(tokens, token{kind: tokClose, text: string(c), pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '.':
			tokens = append(tokens, token{kind: tokDot, text: ".", pos: i})
			i++
		default:
			op, kind := matchOperator(expr[i:])
			if op == "" {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			tokens = append(tokens, token{kind: kind, text: op, pos: i})
			i += len(op)
		}
	}
	return tokens, nil
}

func matchOperator(s string) (string, tokenKind) {
	for _, op := range binaryOperators {
		if strings.HasPrefix(s, op) {
			return op, tokBinary
		}
	}
	switch s[0] {
	case '|':
		return "|", tokPipe
	case '!', '-':
		return s[:1], tokUnary
	}
	return "", 0
}

func scanString(expr string, start int) (int, error) {
	quoteChar := expr[start]
	for i := start + 1; i < len(expr); i++ {
		switch expr[i] {
		case '\\':
			i++
		case quoteChar:
			return i + 1, nil
		}
	}
	return 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || c == '$' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func isIdentifier(s string) bool {
	return s != "" && isIdentStart(s[0])
}

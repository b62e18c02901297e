// Package asm parses the textual representation of E86 programs.
// It contains the shared lexer used by both the program parser and the
// debug information parser (see pkg/vm/debuginfo), the operand model and
// the instruction table of the E86 instruction set.
package asm

import (
	"bufio"
	"errors"
	"io"
	"strconv"

	"github.com/dmolina/escarabajo/pkg/utils"
)

// ErrParse is the kind of every lexical or grammatical error reported by
// this package. Errors carry the row:col of the offending token.
var ErrParse = errors.New("parse error")

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenID TokenKind = iota
	TokenDot
	TokenNum
	TokenFloat
	TokenString
	TokenLBracket
	TokenRBracket
	TokenPlus
	TokenTimes
	TokenComma
	TokenSemicolon
	TokenEnd
)

// String returns the string representation of a TokenKind
func (k TokenKind) String() string {
	switch k {
	case TokenID:
		return "identifier"
	case TokenDot:
		return "'.'"
	case TokenNum:
		return "number"
	case TokenFloat:
		return "float"
	case TokenString:
		return "string"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenPlus:
		return "'+'"
	case TokenTimes:
		return "'*'"
	case TokenComma:
		return "','"
	case TokenSemicolon:
		return "';'"
	case TokenEnd:
		return "end of input"
	default:
		return "unknown"
	}
}

// Token is a lexical token stamped with the source position of its first
// character. The payload of identifier, number, float and string tokens is
// carried by the lexer accessors.
type Token struct {
	Kind TokenKind
	Row  int
	Col  int
}

// Lexer turns a character stream into tokens. It is shared between the
// program parser and the debug info parser, which use the same comment,
// string and number conventions.
type Lexer struct {
	input     *bufio.Reader
	lookahead byte
	eof       bool

	row, col       int
	tokRow, tokCol int

	id     string
	number int64
	float  float64
	str    string
}

// NewLexer creates a lexer reading from input.
func NewLexer(input io.Reader) *Lexer {
	l := &Lexer{input: bufio.NewReader(input)}
	l.lookahead, l.eof = l.read()
	return l
}

// Ident returns the payload of the latest identifier token.
func (l *Lexer) Ident() string { return l.id }

// Number returns the payload of the latest number token.
func (l *Lexer) Number() int64 { return l.number }

// Float returns the payload of the latest float token.
func (l *Lexer) Float() float64 { return l.float }

// Str returns the unescaped payload of the latest string token.
func (l *Lexer) Str() string { return l.str }

func (l *Lexer) read() (byte, bool) {
	b, err := l.input.ReadByte()
	if err != nil {
		return 0, true
	}
	return b, false
}

// advance consumes the lookahead character, updating the position.
func (l *Lexer) advance() {
	if l.lookahead == '\n' {
		l.row++
		l.col = 0
	} else {
		l.col++
	}
	l.lookahead, l.eof = l.read()
}

func (l *Lexer) makeToken(kind TokenKind) Token {
	return Token{Kind: kind, Row: l.tokRow, Col: l.tokCol}
}

func (l *Lexer) errorf(format string, args ...any) error {
	return utils.MakeError(ErrParse, "%d:%d: "+format,
		append([]any{l.row, l.col}, args...)...)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentPart(b byte) bool { return isIdentStart(b) || isDigit(b) }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\v' || b == '\f'
}

// Next returns the next token from the input, skipping whitespace and
// '#' line comments.
func (l *Lexer) Next() (Token, error) {
	for !l.eof && (isSpace(l.lookahead) || l.lookahead == '#') {
		if l.lookahead == '#' {
			for !l.eof && l.lookahead != '\n' {
				l.advance()
			}
		} else {
			l.advance()
		}
	}

	l.tokRow, l.tokCol = l.row, l.col

	if l.eof {
		return l.makeToken(TokenEnd), nil
	}

	switch {
	case l.lookahead == ';':
		l.advance()
		return l.makeToken(TokenSemicolon), nil
	case l.lookahead == ',':
		l.advance()
		return l.makeToken(TokenComma), nil
	case l.lookahead == '[':
		l.advance()
		return l.makeToken(TokenLBracket), nil
	case l.lookahead == ']':
		l.advance()
		return l.makeToken(TokenRBracket), nil
	case l.lookahead == '+':
		l.advance()
		return l.makeToken(TokenPlus), nil
	case l.lookahead == '*':
		l.advance()
		return l.makeToken(TokenTimes), nil
	case l.lookahead == '.':
		l.advance()
		return l.makeToken(TokenDot), nil
	case l.lookahead == '"':
		if err := l.lexString(); err != nil {
			return Token{}, err
		}
		return l.makeToken(TokenString), nil
	case isDigit(l.lookahead) || l.lookahead == '-':
		kind, err := l.lexNumber()
		if err != nil {
			return Token{}, err
		}
		return l.makeToken(kind), nil
	case isIdentStart(l.lookahead):
		l.lexIdentifier()
		return l.makeToken(TokenID), nil
	default:
		return Token{}, l.errorf("no token beginning with %q", l.lookahead)
	}
}

// lexString consumes a string literal, processing the escapes
// \n, \t, \\ and \".
func (l *Lexer) lexString() error {
	l.advance() // opening quote
	var out []byte
	for {
		if l.eof {
			return l.errorf("unterminated string")
		}
		if l.lookahead == '"' {
			l.advance()
			break
		}
		if l.lookahead == '\\' {
			l.advance()
			if l.eof {
				return l.errorf("unterminated string")
			}
			switch l.lookahead {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case '\\':
				out = append(out, '\\')
			case '"':
				out = append(out, '"')
			default:
				return l.errorf("unknown escape sequence '\\%c'", l.lookahead)
			}
			l.advance()
			continue
		}
		out = append(out, l.lookahead)
		l.advance()
	}
	l.str = string(out)
	return nil
}

// lexNumber consumes an integer, promoting to float when a '.' appears
// inside the digit run.
func (l *Lexer) lexNumber() (TokenKind, error) {
	var buf []byte
	if l.lookahead == '-' {
		buf = append(buf, '-')
		l.advance()
		if l.eof || !isDigit(l.lookahead) {
			return 0, l.errorf("expected digits after '-'")
		}
	}
	isFloat := false
	for !l.eof && (isDigit(l.lookahead) || l.lookahead == '.') {
		if l.lookahead == '.' {
			isFloat = true
		}
		buf = append(buf, l.lookahead)
		l.advance()
	}
	if isFloat {
		f, err := strconv.ParseFloat(string(buf), 64)
		if err != nil {
			return 0, l.errorf("malformed float literal %q", string(buf))
		}
		l.float = f
		return TokenFloat, nil
	}
	n, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return 0, l.errorf("malformed number literal %q", string(buf))
	}
	l.number = n
	return TokenNum, nil
}

func (l *Lexer) lexIdentifier() {
	var buf []byte
	for !l.eof && isIdentPart(l.lookahead) {
		buf = append(buf, l.lookahead)
		l.advance()
	}
	l.id = string(buf)
}

package compiler

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for assembly listings
// ---------------------------------------------------------------------------

// Lexer tokenizes assembler source. The language is line oriented, so line
// ends are reported as TokenNewline.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	col       int  // current column (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}

	case l.ch == '\n':
		l.readChar()
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '"':
		return l.readString(pos)

	case l.ch == '.' && isLetter(l.peekChar()):
		l.readChar() // consume .
		name := l.readWord()
		return Token{Type: TokenDirective, Literal: name, Pos: pos}

	case l.ch == '@':
		l.readChar() // consume @
		if !isLetter(l.ch) && l.ch != '_' {
			return Token{Type: TokenError, Literal: "expected code name after @", Pos: pos}
		}
		return Token{Type: TokenCodeRef, Literal: l.readWord(), Pos: pos}

	case isDigit(l.ch):
		return l.readNumber(pos)

	case (l.ch == '-' || l.ch == '+') && isDigit(l.peekChar()):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		word := l.readWord()
		if l.ch == ':' {
			l.readChar()
			return Token{Type: TokenLabel, Literal: word, Pos: pos}
		}
		return Token{Type: TokenIdentifier, Literal: word, Pos: pos}

	case l.ch == '<' || l.ch == '>' || l.ch == '=' || l.ch == '!':
		return l.readCompare(pos)

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", ch), Pos: pos}
	}
}

// skipSpaceAndComments skips blanks and comments up to, but not including,
// the end of the line. Comments start with ';' or '#'.
func (l *Lexer) skipSpaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == ';' || l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

// readWord reads identifier characters.
func (l *Lexer) readWord() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readString reads a double-quoted string with Go escapes. The token literal
// is the decoded value.
func (l *Lexer) readString(pos Position) Token {
	start := l.pos
	l.readChar() // consume opening "
	for l.ch != '"' {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case '\\':
			l.readChar()
		}
		l.readChar()
	}
	l.readChar() // consume closing "

	s, err := strconv.Unquote(l.input[start:l.pos])
	if err != nil {
		return Token{Type: TokenError, Literal: fmt.Sprintf("bad string literal %s", l.input[start:l.pos]), Pos: pos}
	}
	return Token{Type: TokenString, Literal: s, Pos: pos}
}

// readNumber reads an integer or float literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	isFloat := false

	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
	}

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if isFloat {
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readCompare reads a comparison operator.
func (l *Lexer) readCompare(pos Position) Token {
	first := l.ch
	l.readChar()
	if l.ch == '=' {
		l.readChar()
		return Token{Type: TokenCompare, Literal: string(first) + "=", Pos: pos}
	}
	if first == '=' || first == '!' {
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", first), Pos: pos}
	}
	return Token{Type: TokenCompare, Literal: string(first), Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

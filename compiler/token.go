package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the assembler
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenInteger    // 42, -7, 0x1f
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello"
	TokenIdentifier // LOAD_FAST, loop, KeyError

	// Assembler syntax
	TokenDirective // .code, .local
	TokenLabel     // loop:
	TokenCodeRef   // @add
	TokenCompare   // <, <=, ==, !=, >, >=

	// Delimiters
	TokenComma  // ,
	TokenLParen // (
	TokenRParen // )
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenDirective:  "DIRECTIVE",
	TokenLabel:      "LABEL",
	TokenCodeRef:    "CODEREF",
	TokenCompare:    "COMPARE",
	TokenComma:      ",",
	TokenLParen:     "(",
	TokenRParen:     ")",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, or the decoded value of a string
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/rvm/vm"
)

// ---------------------------------------------------------------------------
// Parser: reads an assembly listing into unit descriptions
// ---------------------------------------------------------------------------

// Error is an assembly error at a source position.
type Error struct {
	Filename string
	Pos      Position
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Pos.Line, e.Pos.Column, e.Msg)
}

// OperandKind distinguishes the shapes an instruction operand can take.
type OperandKind int

const (
	OperandToken    OperandKind = iota // a single token
	OperandTuple                       // (a, b, ...)
	OperandKeywords                    // kw(a, b, ...)
)

// Operand is one parsed instruction operand.
type Operand struct {
	Kind  OperandKind
	Tok   Token
	Items []Operand
}

// Instr is one source line of a unit body: a label, a .line marker or an
// instruction.
type Instr struct {
	Pos      Position
	Label    string // set for label lines
	Line     int    // set for .line markers
	Mnemonic string
	Op       vm.Opcode
	Operands []Operand
}

// Unit is a parsed .code block.
type Unit struct {
	Name      string
	Params    []string
	Locals    []string
	Cells     []string
	Frees     []string
	Names     []string
	Consts    []Operand
	Generator bool
	Body      []Instr
	Children  []*Unit
	Pos       Position
}

// Parser parses assembler source into a tree of units.
type Parser struct {
	lexer     *Lexer
	filename  string
	curToken  Token
	peekToken Token
	errors    []*Error
}

// NewParser creates a new parser for the given input.
func NewParser(input, filename string) *Parser {
	p := &Parser{
		lexer:    NewLexer(input),
		filename: filename,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// atLineEnd reports whether the current token ends a statement.
func (p *Parser) atLineEnd() bool {
	return p.curTokenIs(TokenNewline) || p.curTokenIs(TokenEOF)
}

// errorf records a parse error at pos.
func (p *Parser) errorf(pos Position, format string, args ...interface{}) {
	p.errors = append(p.errors, &Error{Filename: p.filename, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []*Error {
	return p.errors
}

// skipLine discards tokens up to and including the end of the line.
func (p *Parser) skipLine() {
	for !p.atLineEnd() {
		p.nextToken()
	}
	if p.curTokenIs(TokenNewline) {
		p.nextToken()
	}
}

// endLine expects the end of a statement.
func (p *Parser) endLine() {
	if !p.atLineEnd() {
		p.errorf(p.curToken.Pos, "unexpected %s at end of line", p.curToken)
	}
	p.skipLine()
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses the whole input. Lines outside any .code block form
// the body of the returned top-level unit.
func (p *Parser) ParseProgram() *Unit {
	root := &Unit{Name: "<module>", Pos: p.curToken.Pos}
	p.parseBody(root, true)
	return root
}

// parseBody parses statements into u until its .end, or EOF when top is
// set.
func (p *Parser) parseBody(u *Unit, top bool) {
	for {
		switch p.curToken.Type {
		case TokenEOF:
			if !top {
				p.errorf(u.Pos, ".code %s is missing .end", u.Name)
			}
			return

		case TokenNewline:
			p.nextToken()

		case TokenError:
			p.errorf(p.curToken.Pos, "%s", p.curToken.Literal)
			p.skipLine()

		case TokenLabel:
			u.Body = append(u.Body, Instr{Pos: p.curToken.Pos, Label: p.curToken.Literal})
			p.nextToken()

		case TokenDirective:
			if p.curToken.Literal == "end" {
				if top {
					p.errorf(p.curToken.Pos, ".end without .code")
					p.skipLine()
					continue
				}
				p.nextToken()
				p.endLine()
				return
			}
			p.parseDirective(u)

		case TokenIdentifier:
			p.parseInstruction(u)

		default:
			p.errorf(p.curToken.Pos, "unexpected %s", p.curToken)
			p.skipLine()
		}
	}
}

// parseDirective parses one directive line.
func (p *Parser) parseDirective(u *Unit) {
	tok := p.curToken
	p.nextToken()

	switch tok.Literal {
	case "code":
		child := &Unit{Pos: tok.Pos}
		switch p.curToken.Type {
		case TokenIdentifier, TokenString:
			child.Name = p.curToken.Literal
			p.nextToken()
		default:
			p.errorf(p.curToken.Pos, ".code needs a name")
			p.skipLine()
			return
		}
		child.Params = p.parseNames()
		p.endLine()
		p.parseBody(child, false)
		u.Children = append(u.Children, child)

	case "arg":
		if len(u.Locals) > 0 {
			p.errorf(tok.Pos, ".arg after .local")
		}
		u.Params = append(u.Params, p.parseNames()...)
		p.endLine()

	case "local":
		u.Locals = append(u.Locals, p.parseNames()...)
		p.endLine()

	case "cell":
		u.Cells = append(u.Cells, p.parseNames()...)
		p.endLine()

	case "free":
		u.Frees = append(u.Frees, p.parseNames()...)
		p.endLine()

	case "name":
		u.Names = append(u.Names, p.parseNames()...)
		p.endLine()

	case "const":
		if p.atLineEnd() {
			p.errorf(tok.Pos, ".const needs a value")
		}
		for !p.atLineEnd() {
			op, ok := p.parseOperand()
			if !ok {
				break
			}
			u.Consts = append(u.Consts, op)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
			}
		}
		p.endLine()

	case "line":
		if !p.curTokenIs(TokenInteger) {
			p.errorf(p.curToken.Pos, ".line needs a line number")
			p.skipLine()
			return
		}
		n, err := strconv.Atoi(p.curToken.Literal)
		if err != nil || n <= 0 {
			p.errorf(p.curToken.Pos, "bad line number %s", p.curToken.Literal)
		}
		u.Body = append(u.Body, Instr{Pos: tok.Pos, Line: n})
		p.nextToken()
		p.endLine()

	case "generator":
		u.Generator = true
		p.endLine()

	default:
		p.errorf(tok.Pos, "unknown directive .%s", tok.Literal)
		p.skipLine()
	}
}

// parseNames parses identifiers up to the end of the line.
func (p *Parser) parseNames() []string {
	var names []string
	for !p.atLineEnd() {
		switch p.curToken.Type {
		case TokenIdentifier, TokenString:
			names = append(names, p.curToken.Literal)
		case TokenComma:
		default:
			p.errorf(p.curToken.Pos, "expected a name, got %s", p.curToken)
		}
		p.nextToken()
	}
	return names
}

// parseInstruction parses a mnemonic and its operands.
func (p *Parser) parseInstruction(u *Unit) {
	tok := p.curToken
	op, ok := vm.LookupOpcode(tok.Literal)
	if !ok {
		p.errorf(tok.Pos, "unknown instruction %s", tok.Literal)
		p.skipLine()
		return
	}
	if op == vm.OpExtendedArg {
		p.errorf(tok.Pos, "EXTENDED_ARG is inserted automatically")
		p.skipLine()
		return
	}
	p.nextToken()

	in := Instr{Pos: tok.Pos, Mnemonic: tok.Literal, Op: op}
	for !p.atLineEnd() {
		operand, ok := p.parseOperand()
		if !ok {
			p.skipLine()
			return
		}
		in.Operands = append(in.Operands, operand)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		}
	}
	p.skipLine()
	u.Body = append(u.Body, in)
}

// parseOperand parses a single token, a parenthesized tuple or a kw(...)
// keyword-name list.
func (p *Parser) parseOperand() (Operand, bool) {
	tok := p.curToken
	switch tok.Type {
	case TokenLParen:
		items, ok := p.parseList()
		return Operand{Kind: OperandTuple, Tok: tok, Items: items}, ok

	case TokenIdentifier:
		if tok.Literal == "kw" && p.peekToken.Type == TokenLParen {
			p.nextToken()
			items, ok := p.parseList()
			return Operand{Kind: OperandKeywords, Tok: tok, Items: items}, ok
		}
		p.nextToken()
		return Operand{Kind: OperandToken, Tok: tok}, true

	case TokenInteger, TokenFloat, TokenString, TokenCodeRef, TokenCompare:
		p.nextToken()
		return Operand{Kind: OperandToken, Tok: tok}, true

	case TokenError:
		p.errorf(tok.Pos, "%s", tok.Literal)
		return Operand{}, false
	}
	p.errorf(tok.Pos, "unexpected %s in operand", tok)
	return Operand{}, false
}

// parseList parses a comma-separated operand list in parentheses.
func (p *Parser) parseList() ([]Operand, bool) {
	open := p.curToken
	p.nextToken() // consume (
	items := []Operand{}
	for !p.curTokenIs(TokenRParen) {
		if p.atLineEnd() {
			p.errorf(open.Pos, "unclosed (")
			return nil, false
		}
		item, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		items = append(items, item)
		switch {
		case p.curTokenIs(TokenComma):
			p.nextToken()
		case p.curTokenIs(TokenRParen):
		case p.atLineEnd():
			p.errorf(open.Pos, "unclosed (")
			return nil, false
		default:
			p.errorf(p.curToken.Pos, "expected , or ) in list, got %s", p.curToken)
			return nil, false
		}
	}
	p.nextToken() // consume )
	return items, true
}

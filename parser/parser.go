// Package parser is a hand-written recursive-descent parser with operator
// precedence climbing (a classic Pratt parser: prefix/infix function tables
// keyed by token kind) that builds an *ast.Module from a token stream.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"eqlang/ast"
	"eqlang/lexer"
	"eqlang/token"
	"eqlang/types"
)

// Precedence levels, low to high, per the language's operator table.
const (
	_ int = iota
	LOWEST
	LOGIC_OR
	LOGIC_AND
	BIT_OR
	BIT_XOR
	BIT_AND
	EQUALITY
	RELATIONAL
	SHIFT
	ADDITIVE
	MULTIPLICATIVE
	UNARY
	POSTFIX
)

var precedences = map[token.Type]int{
	token.OR:       LOGIC_OR,
	token.AND:      LOGIC_AND,
	token.BITOR:    BIT_OR,
	token.BITXOR:   BIT_XOR,
	token.BITAND:   BIT_AND,
	token.EQ:       EQUALITY,
	token.NEQ:      EQUALITY,
	token.LT:       RELATIONAL,
	token.GT:       RELATIONAL,
	token.LE:       RELATIONAL,
	token.GE:       RELATIONAL,
	token.SHL:      SHIFT,
	token.SHR:      SHIFT,
	token.PLUS:     ADDITIVE,
	token.MINUS:    ADDITIVE,
	token.STAR:     MULTIPLICATIVE,
	token.SLASH:    MULTIPLICATIVE,
	token.PERCENT:  MULTIPLICATIVE,
	token.LPAREN:   POSTFIX,
	token.LBRACKET: POSTFIX,
	token.DOT:      POSTFIX,
}

// ParseError reports a fatal syntax error with source position.
type ParseError struct {
	Line, Column int
	Msg          string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d:%d: %s", e.Line, e.Column, e.Msg)
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser consumes a token stream (via a lexer.Lexer) and builds an
// *ast.Module. Every error is fatal: the first one encountered is recorded
// and ParseModule returns it.
type Parser struct {
	l *lexer.Lexer

	cur  token.Token
	peek token.Token

	err error

	prefixFns map[token.Type]prefixParseFn
	infixFns  map[token.Type]infixParseFn

	lambdaCounter int
}

// New creates a Parser over l and primes the two-token lookahead.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	p.prefixFns = map[token.Type]prefixParseFn{
		token.IDENT:    p.parseIdentifierOrRecordOrCall,
		token.INT:      p.parseIntegerLiteral,
		token.FLOAT:    p.parseFloatLiteral,
		token.STRING:   p.parseStringLiteral,
		token.FSTRING:  p.parseFString,
		token.TRUE:     p.parseBooleanLiteral,
		token.FALSE:    p.parseBooleanLiteral,
		token.NULL:     p.parseNullLiteral,
		token.MINUS:    p.parseUnaryExpression,
		token.NOT:      p.parseUnaryExpression,
		token.BITNOT:   p.parseUnaryExpression,
		token.LPAREN:   p.parseGroupedOrTuple,
		token.LBRACKET: p.parseArrayLiteral,
		token.LBRACE:   p.parseMapLiteral,
		token.FN:       p.parseLambda,
		token.NEW:      p.parseNewExpression,
		token.SUPER:    p.parseSuperExpression,
		token.SELF:     p.parseSelfExpression,
	}
	p.infixFns = map[token.Type]infixParseFn{
		token.PLUS:     p.parseBinaryExpression,
		token.MINUS:    p.parseBinaryExpression,
		token.STAR:     p.parseBinaryExpression,
		token.SLASH:    p.parseBinaryExpression,
		token.PERCENT:  p.parseBinaryExpression,
		token.EQ:       p.parseBinaryExpression,
		token.NEQ:      p.parseBinaryExpression,
		token.LT:       p.parseBinaryExpression,
		token.GT:       p.parseBinaryExpression,
		token.LE:       p.parseBinaryExpression,
		token.GE:       p.parseBinaryExpression,
		token.AND:      p.parseBinaryExpression,
		token.OR:       p.parseBinaryExpression,
		token.BITAND:   p.parseBinaryExpression,
		token.BITOR:    p.parseBinaryExpression,
		token.BITXOR:   p.parseBinaryExpression,
		token.SHL:      p.parseBinaryExpression,
		token.SHR:      p.parseBinaryExpression,
		token.LBRACKET: p.parseIndexExpression,
		token.DOT:      p.parseFieldOrMethod,
	}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.l.Next()
}

func (p *Parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Line: p.cur.Line, Column: p.cur.Column, Msg: fmt.Sprintf(format, args...)}
	}
}

func (p *Parser) expect(kind token.Type) token.Token {
	if p.cur.Kind != kind {
		p.fail("expected %s, got %s (%q)", kind, p.cur.Kind, p.cur.Lexeme)
		return p.cur
	}
	t := p.cur
	p.advance()
	return t
}

func (p *Parser) skipNewlines() {
	for p.cur.Kind == token.NEWLINE {
		p.advance()
	}
}

// ParseModule parses a complete source file into an *ast.Module.
func ParseModule(src string) (*ast.Module, error) {
	p := New(lexer.New(src))
	mod := p.parseModule()
	if p.err != nil {
		return nil, p.err
	}
	return mod, nil
}

func (p *Parser) parseModule() *ast.Module {
	mod := &ast.Module{}
	p.skipNewlines()
	for p.cur.Kind != token.EOF && p.err == nil {
		p.parseTopLevel(mod)
		p.skipNewlines()
	}
	return mod
}

func (p *Parser) parseTopLevel(mod *ast.Module) {
	export := false
	if p.cur.Kind == token.EXPORT {
		export = true
		p.advance()
	}

	packed := false
	if p.cur.Kind == token.AT {
		p.advance()
		ident := p.expect(token.IDENT)
		if ident.Lexeme != "packed" {
			p.fail("unknown decorator @%s", ident.Lexeme)
		}
		packed = true
		p.skipNewlines()
	}

	switch p.cur.Kind {
	case token.DEF:
		fn := p.parseFunction()
		fn.Export = export
		mod.Functions = append(mod.Functions, fn)
	case token.STRUCT:
		s := p.parseStruct()
		s.Packed = packed
		mod.Structs = append(mod.Structs, s)
	case token.CLASS:
		mod.Classes = append(mod.Classes, p.parseClass())
	case token.ENUM:
		mod.Enums = append(mod.Enums, p.parseEnum())
	case token.UNION:
		mod.Unions = append(mod.Unions, p.parseUnion())
	case token.IMPORT:
		mod.Imports = append(mod.Imports, p.parseImport())
	case token.FROM:
		mod.Imports = append(mod.Imports, p.parseFromImport())
	case token.EXTERN:
		mod.Externs = append(mod.Externs, p.parseExtern())
	case token.LET:
		mod.Globals = append(mod.Globals, p.parseLetStatement().(*ast.LetStatement))
	default:
		p.fail("unexpected top-level token %s", p.cur.Kind)
		p.advance()
	}
}

// ----------------------------------------------------------------------
// Types
// ----------------------------------------------------------------------

func (p *Parser) parseType() types.Type {
	switch p.cur.Kind {
	case token.LBRACKET:
		p.advance()
		elem := p.parseType()
		p.expect(token.RBRACKET)
		return types.ArrayOf(elem)
	case token.LBRACE:
		p.advance()
		key := p.parseType()
		p.expect(token.COLON)
		val := p.parseType()
		p.expect(token.RBRACE)
		return types.MapOf(key, val)
	case token.LPAREN:
		p.advance()
		var items []types.Type
		for p.cur.Kind != token.RPAREN {
			items = append(items, p.parseType())
			if p.cur.Kind == token.COMMA {
				p.advance()
			}
		}
		p.expect(token.RPAREN)
		return types.TupleOf(items...)
	case token.FN:
		p.advance()
		p.expect(token.LPAREN)
		var params []types.Type
		for p.cur.Kind != token.RPAREN {
			params = append(params, p.parseType())
			if p.cur.Kind == token.COMMA {
				p.advance()
			}
		}
		p.expect(token.RPAREN)
		p.expect(token.ARROW)
		ret := p.parseType()
		return types.FuncOf(params, ret)
	case token.STAR:
		p.advance()
		return types.PointerTo(p.parseType())
	case token.IDENT:
		name := p.cur.Lexeme
		switch name {
		case "int":
			p.advance()
			return types.Primitive(types.Int)
		case "float":
			p.advance()
			return types.Primitive(types.Float)
		case "bool":
			p.advance()
			return types.Primitive(types.Bool)
		case "str":
			p.advance()
			return types.Primitive(types.Str)
		case "void":
			p.advance()
			return types.Primitive(types.Void)
		case "buffer":
			p.advance()
			return types.Primitive(types.Buffer)
		case "i8":
			p.advance()
			return types.Primitive(types.I8)
		case "i16":
			p.advance()
			return types.Primitive(types.I16)
		case "i32":
			p.advance()
			return types.Primitive(types.I32)
		case "i64":
			p.advance()
			return types.Primitive(types.I64)
		case "u8":
			p.advance()
			return types.Primitive(types.U8)
		case "u16":
			p.advance()
			return types.Primitive(types.U16)
		case "u32":
			p.advance()
			return types.Primitive(types.U32)
		case "u64":
			p.advance()
			return types.Primitive(types.U64)
		case "pointer":
			p.advance()
			p.expect(token.LT)
			elem := p.parseType()
			p.expectGT()
			return types.PointerTo(elem)
		default:
			p.advance()
			// Nominal: struct/enum/class resolved later by the checker.
			return types.Type{Kind: types.Struct, Name: name}
		}
	default:
		p.fail("expected a type, got %s", p.cur.Kind)
		p.advance()
		return types.Primitive(types.Void)
	}
}

func (p *Parser) expectGT() {
	if p.cur.Kind == token.GT {
		p.advance()
		return
	}
	p.fail("expected '>', got %s", p.cur.Kind)
}

// ----------------------------------------------------------------------
// Top-level definitions
// ----------------------------------------------------------------------

func (p *Parser) parseParamList() []ast.Param {
	p.expect(token.LPAREN)
	var params []ast.Param
	for p.cur.Kind != token.RPAREN && p.err == nil {
		if p.cur.Kind == token.SELF && len(params) == 0 {
			// A leading `self` names the method's implicit receiver; it
			// is not recorded as a declared parameter.
			p.advance()
			if p.cur.Kind == token.COMMA {
				p.advance()
			}
			continue
		}
		name := p.expect(token.IDENT).Lexeme
		p.expect(token.COLON)
		ty := p.parseType()
		params = append(params, ast.Param{Name: name, Type: ty})
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RPAREN)
	return params
}

func (p *Parser) parseFunction() *ast.Function {
	tok := p.expect(token.DEF)
	name := p.expect(token.IDENT).Lexeme
	params := p.parseParamList()
	retType := types.Primitive(types.Void)
	if p.cur.Kind == token.ARROW {
		p.advance()
		retType = p.parseType()
	}
	body := p.parseSuite()
	return &ast.Function{Token: tok, Name: name, Params: params, ReturnType: retType, Body: body}
}

func (p *Parser) parseStruct() *ast.StructDef {
	tok := p.expect(token.STRUCT)
	name := p.expect(token.IDENT).Lexeme
	def := &ast.StructDef{Token: tok, Name: name}
	p.expect(token.COLON)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	for p.cur.Kind != token.DEDENT && p.err == nil {
		if p.cur.Kind == token.NEWLINE {
			p.advance()
			continue
		}
		if p.cur.Kind == token.DEF {
			def.Methods = append(def.Methods, p.parseFunction())
			continue
		}
		fname := p.expect(token.IDENT).Lexeme
		p.expect(token.COLON)
		fty := p.parseType()
		def.Fields = append(def.Fields, ast.Param{Name: fname, Type: fty})
	}
	p.expect(token.DEDENT)
	return def
}

func (p *Parser) parseClass() *ast.ClassDef {
	tok := p.expect(token.CLASS)
	name := p.expect(token.IDENT).Lexeme
	def := &ast.ClassDef{Token: tok, Name: name}
	if p.cur.Kind == token.LPAREN {
		p.advance()
		def.ParentName = p.expect(token.IDENT).Lexeme
		p.expect(token.RPAREN)
	}
	p.expect(token.COLON)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	for p.cur.Kind != token.DEDENT && p.err == nil {
		if p.cur.Kind == token.NEWLINE {
			p.advance()
			continue
		}
		if p.cur.Kind == token.DEF {
			def.Methods = append(def.Methods, p.parseFunction())
			continue
		}
		fname := p.expect(token.IDENT).Lexeme
		p.expect(token.COLON)
		fty := p.parseType()
		def.Fields = append(def.Fields, ast.Param{Name: fname, Type: fty})
	}
	p.expect(token.DEDENT)
	return def
}

func (p *Parser) parseEnum() *ast.EnumDef {
	tok := p.expect(token.ENUM)
	name := p.expect(token.IDENT).Lexeme
	def := &ast.EnumDef{Token: tok, Name: name}
	p.expect(token.COLON)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	next := int64(0)
	for p.cur.Kind != token.DEDENT && p.err == nil {
		if p.cur.Kind == token.NEWLINE {
			p.advance()
			continue
		}
		vname := p.expect(token.IDENT).Lexeme
		val := next
		if p.cur.Kind == token.ASSIGN {
			p.advance()
			lit := p.expect(token.INT)
			val = lit.IntVal
		}
		def.Variants = append(def.Variants, ast.EnumVariant{Name: vname, Value: val})
		next = val + 1
	}
	p.expect(token.DEDENT)
	return def
}

func (p *Parser) parseUnion() *ast.UnionDef {
	tok := p.expect(token.UNION)
	name := p.expect(token.IDENT).Lexeme
	def := &ast.UnionDef{Token: tok, Name: name}
	p.expect(token.COLON)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	for p.cur.Kind != token.DEDENT && p.err == nil {
		if p.cur.Kind == token.NEWLINE {
			p.advance()
			continue
		}
		def.Variants = append(def.Variants, p.parseStruct())
	}
	p.expect(token.DEDENT)
	return def
}

func (p *Parser) parseImport() *ast.Import {
	tok := p.expect(token.IMPORT)
	path := p.expect(token.IDENT).Lexeme
	imp := &ast.Import{Token: tok, ModulePath: path, Alias: path}
	if p.cur.Kind == token.AS {
		p.advance()
		imp.Alias = p.expect(token.IDENT).Lexeme
	}
	return imp
}

func (p *Parser) parseFromImport() *ast.Import {
	tok := p.expect(token.FROM)
	path := p.expect(token.IDENT).Lexeme
	p.expect(token.IMPORT)
	imp := &ast.Import{Token: tok, ModulePath: path, Alias: path}
	for {
		imp.Names = append(imp.Names, p.expect(token.IDENT).Lexeme)
		if p.cur.Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	return imp
}

func (p *Parser) parseExtern() *ast.Extern {
	p.expect(token.EXTERN)
	name := p.expect(token.IDENT).Lexeme
	params := p.parseParamList()
	ret := types.Primitive(types.Void)
	if p.cur.Kind == token.ARROW {
		p.advance()
		ret = p.parseType()
	}
	return &ast.Extern{Name: name, Params: params, ReturnType: ret, Line_: p.cur.Line}
}

// ----------------------------------------------------------------------
// Statements
// ----------------------------------------------------------------------

// parseSuite parses either `: <inline statement>` or a `:` followed by a
// NEWLINE + INDENT block terminated by DEDENT.
func (p *Parser) parseSuite() []ast.Statement {
	p.expect(token.COLON)
	if p.cur.Kind == token.NEWLINE {
		p.advance()
		p.expect(token.INDENT)
		var stmts []ast.Statement
		for p.cur.Kind != token.DEDENT && p.cur.Kind != token.EOF && p.err == nil {
			if p.cur.Kind == token.NEWLINE {
				p.advance()
				continue
			}
			stmts = append(stmts, p.parseStatement())
		}
		p.expect(token.DEDENT)
		return stmts
	}
	return []ast.Statement{p.parseStatement()}
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Kind {
	case token.LET:
		return p.parseLetStatement()
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.FOR:
		return p.parseForStatement()
	case token.RETURN:
		return p.parseReturnStatement()
	case token.BREAK:
		tok := p.cur
		p.advance()
		return &ast.BreakStatement{StmtBase: ast.StmtBase{Token: tok}}
	case token.CONTINUE:
		tok := p.cur
		p.advance()
		return &ast.ContinueStatement{StmtBase: ast.StmtBase{Token: tok}}
	case token.TRY:
		return p.parseTryStatement()
	case token.THROW:
		tok := p.cur
		p.advance()
		v := p.parseExpression(LOWEST)
		return &ast.ThrowStatement{StmtBase: ast.StmtBase{Token: tok}, Value: v}
	case token.MATCH:
		return p.parseMatchStatement()
	default:
		return p.parseSimpleStatement()
	}
}

func (p *Parser) parseLetStatement() ast.Statement {
	tok := p.expect(token.LET)
	name := p.expect(token.IDENT).Lexeme
	stmt := &ast.LetStatement{StmtBase: ast.StmtBase{Token: tok}, Name: name}
	if p.cur.Kind == token.COLON {
		p.advance()
		stmt.DeclaredType = p.parseType()
		stmt.HasType = true
	}
	if p.cur.Kind == token.ASSIGN {
		p.advance()
		stmt.Value = p.parseExpression(LOWEST)
	}
	return stmt
}

func (p *Parser) parseIfStatement() ast.Statement {
	tok := p.expect(token.IF)
	cond := p.parseExpression(LOWEST)
	then := p.parseSuite()
	stmt := &ast.IfStatement{StmtBase: ast.StmtBase{Token: tok}, Condition: cond, Then: then}
	if p.cur.Kind == token.ELIF {
		stmt.Else = []ast.Statement{p.parseElif()}
	} else if p.cur.Kind == token.ELSE {
		p.advance()
		stmt.Else = p.parseSuite()
	}
	return stmt
}

func (p *Parser) parseElif() ast.Statement {
	tok := p.expect(token.ELIF)
	cond := p.parseExpression(LOWEST)
	then := p.parseSuite()
	stmt := &ast.IfStatement{StmtBase: ast.StmtBase{Token: tok}, Condition: cond, Then: then}
	if p.cur.Kind == token.ELIF {
		stmt.Else = []ast.Statement{p.parseElif()}
	} else if p.cur.Kind == token.ELSE {
		p.advance()
		stmt.Else = p.parseSuite()
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	tok := p.expect(token.WHILE)
	cond := p.parseExpression(LOWEST)
	body := p.parseSuite()
	return &ast.WhileStatement{StmtBase: ast.StmtBase{Token: tok}, Condition: cond, Body: body}
}

func (p *Parser) parseForStatement() ast.Statement {
	tok := p.expect(token.FOR)
	v := p.expect(token.IDENT).Lexeme
	p.expect(token.IN)
	if p.cur.Kind == token.IDENT && p.cur.Lexeme == "range" {
		p.advance()
		p.expect(token.LPAREN)
		start := p.parseExpression(LOWEST)
		p.expect(token.COMMA)
		end := p.parseExpression(LOWEST)
		p.expect(token.RPAREN)
		body := p.parseSuite()
		return &ast.ForRangeStatement{StmtBase: ast.StmtBase{Token: tok}, Var: v, Start: start, End: end, Body: body}
	}
	collection := p.parseExpression(LOWEST)
	body := p.parseSuite()
	return &ast.ForInStatement{StmtBase: ast.StmtBase{Token: tok}, Var: v, Collection: collection, Body: body}
}

func (p *Parser) parseReturnStatement() ast.Statement {
	tok := p.expect(token.RETURN)
	stmt := &ast.ReturnStatement{StmtBase: ast.StmtBase{Token: tok}}
	if p.cur.Kind != token.NEWLINE && p.cur.Kind != token.DEDENT && p.cur.Kind != token.EOF {
		stmt.Value = p.parseExpression(LOWEST)
	}
	return stmt
}

func (p *Parser) parseTryStatement() ast.Statement {
	tok := p.expect(token.TRY)
	tryBlock := p.parseSuite()
	stmt := &ast.TryStatement{StmtBase: ast.StmtBase{Token: tok}, TryBlock: tryBlock}
	if p.cur.Kind == token.CATCH {
		p.advance()
		stmt.HasCatch = true
		if p.cur.Kind == token.IDENT {
			stmt.CatchVar = p.cur.Lexeme
			p.advance()
		}
		stmt.CatchBlock = p.parseSuite()
	}
	if p.cur.Kind == token.FINALLY {
		p.advance()
		stmt.HasFinally = true
		stmt.FinallyBlock = p.parseSuite()
	}
	return stmt
}

func (p *Parser) parseMatchStatement() ast.Statement {
	tok := p.expect(token.MATCH)
	scrutinee := p.parseExpression(LOWEST)
	stmt := &ast.MatchStatement{StmtBase: ast.StmtBase{Token: tok}, Scrutinee: scrutinee}
	p.expect(token.COLON)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	for p.cur.Kind != token.DEDENT && p.cur.Kind != token.EOF && p.err == nil {
		if p.cur.Kind == token.NEWLINE {
			p.advance()
			continue
		}
		var c ast.MatchCase
		if p.cur.Kind == token.DEFAULT {
			p.advance()
			c.IsDefault = true
		} else {
			p.expect(token.CASE)
			c.Pattern = p.parseExpression(LOWEST)
		}
		c.Body = p.parseSuite()
		stmt.Cases = append(stmt.Cases, c)
	}
	p.expect(token.DEDENT)
	return stmt
}

// parseSimpleStatement parses `expr`, `name = expr`, `expr[i] = expr`, or
// `expr.field = expr`, distinguishing them after parsing the left-hand
// expression.
func (p *Parser) parseSimpleStatement() ast.Statement {
	tok := p.cur
	expr := p.parseExpression(LOWEST)
	if p.cur.Kind == token.ASSIGN {
		p.advance()
		value := p.parseExpression(LOWEST)
		switch lhs := expr.(type) {
		case *ast.Identifier:
			return &ast.AssignStatement{StmtBase: ast.StmtBase{Token: tok}, Name: lhs.Value, Value: value}
		case *ast.IndexExpression:
			return &ast.IndexAssignStatement{StmtBase: ast.StmtBase{Token: tok}, Container: lhs.Container, Index: lhs.Index, Value: value}
		case *ast.FieldAccess:
			return &ast.FieldAssignStatement{StmtBase: ast.StmtBase{Token: tok}, Object: lhs.Object, Field: lhs.Field, Value: value}
		default:
			p.fail("invalid assignment target")
			return &ast.ExpressionStatement{StmtBase: ast.StmtBase{Token: tok}, Expr: expr}
		}
	}
	return &ast.ExpressionStatement{StmtBase: ast.StmtBase{Token: tok}, Expr: expr}
}

// ----------------------------------------------------------------------
// Expressions (Pratt parser)
// ----------------------------------------------------------------------

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix, ok := p.prefixFns[p.cur.Kind]
	if !ok {
		p.fail("unexpected token %s in expression", p.cur.Kind)
		p.advance()
		return &ast.NullLiteral{}
	}
	left := prefix()

	for p.cur.Kind != token.NEWLINE && precedence < p.curPrecedence() {
		infix, ok := p.infixFns[p.cur.Kind]
		if !ok {
			return left
		}
		left = infix(left)
	}
	return left
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.cur.Kind]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	return &ast.IntegerLiteral{ExprBase: ast.ExprBase{Token: tok}, Value: tok.IntVal}
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	v, _ := strconv.ParseFloat(tok.Lexeme, 64)
	return &ast.FloatLiteral{ExprBase: ast.ExprBase{Token: tok}, Value: v}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	return &ast.StringLiteral{ExprBase: ast.ExprBase{Token: tok}, Value: tok.Cooked}
}

func (p *Parser) parseBooleanLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	return &ast.BooleanLiteral{ExprBase: ast.ExprBase{Token: tok}, Value: tok.Kind == token.TRUE}
}

func (p *Parser) parseNullLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	return &ast.NullLiteral{ExprBase: ast.ExprBase{Token: tok}}
}

// parseFString scans the cooked literal for `{...}` holes (brace-balanced,
// so nested braces in interpolated expressions parse correctly), and for
// each hole re-lexes and re-parses its content with a sub-parser rooted at
// a fresh lexer.Lexer over just that slice, preserving the outer parser's
// own lexer state untouched.
func (p *Parser) parseFString() ast.Expression {
	tok := p.cur
	p.advance()
	node := &ast.FString{ExprBase: ast.ExprBase{Token: tok}}

	raw := tok.Cooked
	var lit strings.Builder
	i := 0
	for i < len(raw) {
		ch := raw[i]
		if ch == '{' {
			if lit.Len() > 0 {
				node.Parts = append(node.Parts, ast.FStringPart{Literal: lit.String()})
				lit.Reset()
			}
			depth := 1
			start := i + 1
			j := start
			for j < len(raw) && depth > 0 {
				switch raw[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					break
				}
				j++
			}
			if depth != 0 {
				p.fail("unbalanced '{' in f-string")
				break
			}
			hole := raw[start:j]
			sub := New(lexer.New(hole))
			expr := sub.parseExpression(LOWEST)
			if sub.err != nil {
				p.err = sub.err
			}
			node.Parts = append(node.Parts, ast.FStringPart{Expr: expr})
			i = j + 1
			continue
		}
		lit.WriteByte(ch)
		i++
	}
	if lit.Len() > 0 {
		node.Parts = append(node.Parts, ast.FStringPart{Literal: lit.String()})
	}
	return node
}

func (p *Parser) parseUnaryExpression() ast.Expression {
	tok := p.cur
	op := tok.Lexeme
	if tok.Kind == token.NOT {
		op = "not"
	}
	p.advance()
	right := p.parseExpression(UNARY)
	return &ast.UnaryExpression{ExprBase: ast.ExprBase{Token: tok}, Operator: op, Right: right}
}

func (p *Parser) parseBinaryExpression(left ast.Expression) ast.Expression {
	tok := p.cur
	op := tok.Lexeme
	if tok.Kind == token.AND {
		op = "and"
	} else if tok.Kind == token.OR {
		op = "or"
	}
	prec := p.curPrecedence()
	p.advance()
	right := p.parseExpression(prec)
	return &ast.BinaryExpression{ExprBase: ast.ExprBase{Token: tok}, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseGroupedOrTuple() ast.Expression {
	tok := p.cur
	p.advance()
	if p.cur.Kind == token.RPAREN {
		p.advance()
		return &ast.TupleExpression{ExprBase: ast.ExprBase{Token: tok}}
	}
	first := p.parseExpression(LOWEST)
	if p.cur.Kind == token.COMMA {
		elems := []ast.Expression{first}
		for p.cur.Kind == token.COMMA {
			p.advance()
			if p.cur.Kind == token.RPAREN {
				break
			}
			elems = append(elems, p.parseExpression(LOWEST))
		}
		p.expect(token.RPAREN)
		return &ast.TupleExpression{ExprBase: ast.ExprBase{Token: tok}, Elements: elems}
	}
	p.expect(token.RPAREN)
	return first
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	node := &ast.ArrayLiteral{ExprBase: ast.ExprBase{Token: tok}}
	for p.cur.Kind != token.RBRACKET && p.err == nil {
		node.Elements = append(node.Elements, p.parseExpression(LOWEST))
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RBRACKET)
	return node
}

func (p *Parser) parseMapLiteral() ast.Expression {
	tok := p.cur
	p.advance()
	node := &ast.MapLiteral{ExprBase: ast.ExprBase{Token: tok}}
	for p.cur.Kind != token.RBRACE && p.err == nil {
		key := p.parseExpression(LOWEST)
		p.expect(token.COLON)
		val := p.parseExpression(LOWEST)
		node.Pairs = append(node.Pairs, ast.MapPair{Key: key, Value: val})
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RBRACE)
	return node
}

// parseIdentifierOrRecordOrCall handles the IDENT prefix position: a bare
// variable reference, a call `name(args)`, or a record literal
// `Name{field: value, ...}`.
func (p *Parser) parseIdentifierOrRecordOrCall() ast.Expression {
	tok := p.cur
	name := tok.Lexeme
	p.advance()
	if p.cur.Kind == token.LPAREN {
		return p.finishCall(tok, name)
	}
	if p.cur.Kind == token.LBRACE {
		return p.finishRecordLiteral(tok, name)
	}
	return &ast.Identifier{ExprBase: ast.ExprBase{Token: tok}, Value: name, Slot: -1}
}

func (p *Parser) finishCall(tok token.Token, name string) ast.Expression {
	p.advance() // consume LPAREN
	var args []ast.Expression
	for p.cur.Kind != token.RPAREN && p.err == nil {
		args = append(args, p.parseExpression(LOWEST))
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RPAREN)
	return &ast.CallExpression{ExprBase: ast.ExprBase{Token: tok}, Function: name, Args: args, FnIndex: -1}
}

func (p *Parser) finishRecordLiteral(tok token.Token, name string) ast.Expression {
	p.advance() // consume LBRACE
	node := &ast.RecordLiteral{ExprBase: ast.ExprBase{Token: tok}, TypeName: name}
	for p.cur.Kind != token.RBRACE && p.err == nil {
		fname := p.expect(token.IDENT).Lexeme
		p.expect(token.COLON)
		val := p.parseExpression(LOWEST)
		node.Fields = append(node.Fields, ast.FieldValue{Name: fname, Value: val})
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RBRACE)
	return node
}

func (p *Parser) parseIndexExpression(container ast.Expression) ast.Expression {
	tok := p.cur
	p.advance()
	idx := p.parseExpression(LOWEST)
	p.expect(token.RBRACKET)
	return &ast.IndexExpression{ExprBase: ast.ExprBase{Token: tok}, Container: container, Index: idx}
}

func (p *Parser) parseFieldOrMethod(obj ast.Expression) ast.Expression {
	tok := p.cur
	p.advance()
	field := p.expect(token.IDENT).Lexeme
	if p.cur.Kind == token.LPAREN {
		p.advance()
		var args []ast.Expression
		for p.cur.Kind != token.RPAREN && p.err == nil {
			args = append(args, p.parseExpression(LOWEST))
			if p.cur.Kind == token.COMMA {
				p.advance()
			}
		}
		p.expect(token.RPAREN)
		return &ast.MethodCall{ExprBase: ast.ExprBase{Token: tok}, Object: obj, Method: field, Args: args, FnIndex: -1}
	}
	return &ast.FieldAccess{ExprBase: ast.ExprBase{Token: tok}, Object: obj, Field: field, FieldIndex: -1}
}

func (p *Parser) parseLambda() ast.Expression {
	tok := p.cur
	p.advance()
	params := p.parseParamList()
	ret := types.Primitive(types.Void)
	if p.cur.Kind == token.ARROW {
		p.advance()
		ret = p.parseType()
	}
	body := p.parseSuite()
	p.lambdaCounter++
	name := fmt.Sprintf("$lambda%d", p.lambdaCounter)
	return &ast.LambdaExpression{ExprBase: ast.ExprBase{Token: tok}, Params: params, ReturnType: ret, Body: body, GeneratedName: name, FnIndex: -1}
}

func (p *Parser) parseNewExpression() ast.Expression {
	tok := p.cur
	p.advance()
	name := p.expect(token.IDENT).Lexeme
	p.expect(token.LPAREN)
	var args []ast.Expression
	for p.cur.Kind != token.RPAREN && p.err == nil {
		args = append(args, p.parseExpression(LOWEST))
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RPAREN)
	return &ast.NewExpression{ExprBase: ast.ExprBase{Token: tok}, ClassName: name, Args: args}
}

// parseSelfExpression treats the `self` keyword as an ordinary identifier
// reference; the checker resolves it against the enclosing method's
// implicit receiver slot.
func (p *Parser) parseSelfExpression() ast.Expression {
	tok := p.cur
	p.advance()
	return &ast.Identifier{ExprBase: ast.ExprBase{Token: tok}, Value: "self", Slot: -1}
}

func (p *Parser) parseSuperExpression() ast.Expression {
	tok := p.cur
	p.advance()
	node := &ast.SuperCall{ExprBase: ast.ExprBase{Token: tok}, FnIndex: -1}
	if p.cur.Kind == token.DOT {
		p.advance()
		node.Method = p.expect(token.IDENT).Lexeme
	}
	p.expect(token.LPAREN)
	for p.cur.Kind != token.RPAREN && p.err == nil {
		node.Args = append(node.Args, p.parseExpression(LOWEST))
		if p.cur.Kind == token.COMMA {
			p.advance()
		}
	}
	p.expect(token.RPAREN)
	return node
}

package ast

import (
	"testing"

	"eqlang/token"
	"eqlang/types"
)

func TestIntegerLiteralString(t *testing.T) {
	lit := &IntegerLiteral{ExprBase: ExprBase{Token: token.Token{Kind: token.INT, Lexeme: "42"}}, Value: 42}
	if lit.String() != "42" {
		t.Fatalf("got %q", lit.String())
	}
	lit.SetType(types.Primitive(types.Int))
	if lit.GetType().Kind != types.Int {
		t.Fatalf("SetType did not stick")
	}
}

func TestBinaryExpressionString(t *testing.T) {
	left := &IntegerLiteral{ExprBase: ExprBase{Token: token.Token{Kind: token.INT, Lexeme: "1"}}, Value: 1}
	right := &IntegerLiteral{ExprBase: ExprBase{Token: token.Token{Kind: token.INT, Lexeme: "2"}}, Value: 2}
	bin := &BinaryExpression{Left: left, Operator: "+", Right: right}
	if bin.String() != "(1 + 2)" {
		t.Fatalf("got %q", bin.String())
	}
}

func TestIfStatementString(t *testing.T) {
	cond := &BooleanLiteral{Value: true}
	stmt := &IfStatement{Condition: cond}
	if stmt.String() != "if true:" {
		t.Fatalf("got %q", stmt.String())
	}
}

func TestStructDefFieldIndex(t *testing.T) {
	def := &StructDef{
		Name: "Point",
		Fields: []Param{
			{Name: "x", Type: types.Primitive(types.Int)},
			{Name: "y", Type: types.Primitive(types.Int)},
		},
	}
	if def.FieldIndex("y") != 1 {
		t.Fatalf("expected field y at index 1, got %d", def.FieldIndex("y"))
	}
	if def.FieldIndex("z") != -1 {
		t.Fatalf("expected missing field to report -1")
	}
}

func TestFStringRoundTrip(t *testing.T) {
	fs := &FString{Parts: []FStringPart{
		{Literal: "hello "},
		{Expr: &Identifier{Value: "name"}},
		{Literal: "!"},
	}}
	want := `f"hello {name}!"`
	if fs.String() != want {
		t.Fatalf("got %q, want %q", fs.String(), want)
	}
}

func TestModuleStringConcatenatesFunctions(t *testing.T) {
	mod := &Module{Functions: []*Function{
		{Name: "main", ReturnType: types.Primitive(types.Void)},
	}}
	out := mod.String()
	if out == "" {
		t.Fatal("expected non-empty module rendering")
	}
}

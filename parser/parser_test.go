package parser

import (
	"testing"

	"eqlang/ast"
)

func TestParseSimpleFunction(t *testing.T) {
	src := "def fib(n: int) -> int:\n    if n < 2: return n\n    return fib(n-1) + fib(n-2)\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mod.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(mod.Functions))
	}
	fn := mod.Functions[0]
	if fn.Name != "fib" {
		t.Fatalf("got name %q", fn.Name)
	}
	if len(fn.Params) != 1 || fn.Params[0].Name != "n" {
		t.Fatalf("unexpected params: %+v", fn.Params)
	}
	if len(fn.Body) != 2 {
		t.Fatalf("expected 2 statements in body, got %d: %+v", len(fn.Body), fn.Body)
	}
	ifStmt, ok := fn.Body[0].(*ast.IfStatement)
	if !ok {
		t.Fatalf("expected first statement to be an if, got %T", fn.Body[0])
	}
	if len(ifStmt.Then) != 1 {
		t.Fatalf("expected inline single-statement then-branch, got %d stmts", len(ifStmt.Then))
	}
}

func TestParseStructLiteralAndFieldAccess(t *testing.T) {
	src := "struct Point:\n    x: int\n    y: int\n\ndef main() -> int:\n    let p: Point = Point{x: 3, y: 4}\n    return p.x + p.y\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mod.Structs) != 1 || mod.Structs[0].Name != "Point" {
		t.Fatalf("expected struct Point, got %+v", mod.Structs)
	}
	fn := mod.Functions[0]
	let := fn.Body[0].(*ast.LetStatement)
	rec, ok := let.Value.(*ast.RecordLiteral)
	if !ok {
		t.Fatalf("expected record literal, got %T", let.Value)
	}
	if rec.TypeName != "Point" || len(rec.Fields) != 2 {
		t.Fatalf("unexpected record literal: %+v", rec)
	}
	ret := fn.Body[1].(*ast.ReturnStatement)
	bin, ok := ret.Value.(*ast.BinaryExpression)
	if !ok {
		t.Fatalf("expected binary expression, got %T", ret.Value)
	}
	if _, ok := bin.Left.(*ast.FieldAccess); !ok {
		t.Fatalf("expected field access on left, got %T", bin.Left)
	}
}

func TestParseFStringInterpolation(t *testing.T) {
	src := "def main():\n    let name: str = \"world\"\n    let greeting: str = f\"hello {name}!\"\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Functions[0]
	let := fn.Body[1].(*ast.LetStatement)
	fs, ok := let.Value.(*ast.FString)
	if !ok {
		t.Fatalf("expected f-string, got %T", let.Value)
	}
	if len(fs.Parts) != 3 {
		t.Fatalf("expected 3 parts (literal, expr, literal), got %d: %+v", len(fs.Parts), fs.Parts)
	}
	if fs.Parts[0].Literal != "hello " || fs.Parts[2].Literal != "!" {
		t.Fatalf("unexpected literal parts: %+v", fs.Parts)
	}
	ident, ok := fs.Parts[1].Expr.(*ast.Identifier)
	if !ok || ident.Value != "name" {
		t.Fatalf("expected interpolated identifier 'name', got %+v", fs.Parts[1].Expr)
	}
}

func TestParseTryCatchFinally(t *testing.T) {
	src := "def main():\n    try:\n        throw \"boom\"\n    catch e:\n        let x: int = 1\n    finally:\n        let y: int = 2\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Functions[0]
	try, ok := fn.Body[0].(*ast.TryStatement)
	if !ok {
		t.Fatalf("expected try statement, got %T", fn.Body[0])
	}
	if !try.HasCatch || try.CatchVar != "e" {
		t.Fatalf("expected catch clause binding 'e', got %+v", try)
	}
	if !try.HasFinally {
		t.Fatal("expected finally clause")
	}
}

func TestParseArrayAndIndexAssignment(t *testing.T) {
	src := "def main():\n    let arr: [int] = [1, 2, 3]\n    arr[0] = 9\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Functions[0]
	assign, ok := fn.Body[1].(*ast.IndexAssignStatement)
	if !ok {
		t.Fatalf("expected index assign statement, got %T", fn.Body[1])
	}
	if _, ok := assign.Container.(*ast.Identifier); !ok {
		t.Fatalf("expected identifier container, got %T", assign.Container)
	}
}

func TestParseClassWithSuper(t *testing.T) {
	src := "class Animal:\n    name: str\n    def speak(self) -> str:\n        return \"...\"\n\nclass Dog(Animal):\n    def speak(self) -> str:\n        return super.speak()\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mod.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(mod.Classes))
	}
	dog := mod.Classes[1]
	if dog.ParentName != "Animal" {
		t.Fatalf("expected Dog to extend Animal, got %q", dog.ParentName)
	}
	speak := dog.Methods[0]
	ret := speak.Body[0].(*ast.ReturnStatement)
	if _, ok := ret.Value.(*ast.SuperCall); !ok {
		t.Fatalf("expected super call, got %T", ret.Value)
	}
}

func TestParseMatchStatement(t *testing.T) {
	src := "def main():\n    match x:\n        case 1:\n            let a: int = 1\n        default:\n            let a: int = 0\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Functions[0]
	m, ok := fn.Body[0].(*ast.MatchStatement)
	if !ok {
		t.Fatalf("expected match statement, got %T", fn.Body[0])
	}
	if len(m.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(m.Cases))
	}
	if !m.Cases[1].IsDefault {
		t.Fatal("expected second case to be the default arm")
	}
}

func TestParseErrorOnMalformedFunction(t *testing.T) {
	_, err := ParseModule("def f(:\n")
	if err == nil {
		t.Fatal("expected a parse error for malformed parameter list")
	}
}

func TestParseLambdaExpression(t *testing.T) {
	src := "def main():\n    let add: fn(int, int) -> int = fn(a: int, b: int) -> int: return a + b\n"
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Functions[0]
	let := fn.Body[0].(*ast.LetStatement)
	lam, ok := let.Value.(*ast.LambdaExpression)
	if !ok {
		t.Fatalf("expected lambda expression, got %T", let.Value)
	}
	if len(lam.Params) != 2 {
		t.Fatalf("expected 2 lambda params, got %d", len(lam.Params))
	}
}

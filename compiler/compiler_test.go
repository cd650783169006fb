package compiler

import (
	"bytes"
	"testing"

	"eqlang/bytecode"
	"eqlang/checker"
	"eqlang/parser"
)

func compile(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	mod, err := parser.ParseModule(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ctx, err := checker.CheckModule(mod, nil)
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	out, err := Compile(mod, ctx)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return out
}

func TestCompileFibonacciSetsEntryFn(t *testing.T) {
	src := "def fib(n: int) -> int:\n    if n < 2: return n\n    return fib(n-1) + fib(n-2)\n\ndef main() -> int:\n    return fib(10)\n"
	m := compile(t, src)
	if m.EntryFn < 0 {
		t.Fatal("expected main to be resolved as the entry function")
	}
	if len(m.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(m.Functions))
	}
	mainFn := m.Functions[m.EntryFn]
	if mainFn.Name != "main" {
		t.Fatalf("expected entry function named main, got %q", mainFn.Name)
	}
	if len(mainFn.Code) == 0 {
		t.Fatal("expected main to have emitted code")
	}
}

func TestCompileStructFieldSum(t *testing.T) {
	src := "struct Point:\n    x: int\n    y: int\n\ndef main() -> int:\n    let p: Point = Point{x: 3, y: 4}\n    return p.x + p.y\n"
	m := compile(t, src)
	if len(m.Structs) != 1 || m.Structs[0].Name != "Point" {
		t.Fatalf("expected a Point struct type entry, got %+v", m.Structs)
	}
	if len(m.Structs[0].Fields) != 2 {
		t.Fatalf("expected 2 fields, got %+v", m.Structs[0].Fields)
	}
}

func TestCompileGlobalsProduceInitFunction(t *testing.T) {
	src := "let counter: int = 0\n\ndef main() -> int:\n    return counter\n"
	m := compile(t, src)
	if m.InitFn < 0 {
		t.Fatal("expected a synthesized init function for module-level globals")
	}
	if m.GlobalCount != 1 {
		t.Fatalf("expected 1 global slot, got %d", m.GlobalCount)
	}
	initFn := m.Functions[m.InitFn]
	if initFn.Name != "$init" {
		t.Fatalf("expected init function named $init, got %q", initFn.Name)
	}
}

func TestCompileWhileLoopWithBreak(t *testing.T) {
	src := "def main() -> int:\n    let i: int = 0\n    while i < 10:\n        if i == 5: break\n        i = i + 1\n    return i\n"
	m := compile(t, src)
	var buf bytes.Buffer
	bytecode.Disassemble(&buf, m)
	if buf.Len() == 0 {
		t.Fatal("expected non-empty disassembly")
	}
}

func TestCompileFStringConcatenation(t *testing.T) {
	src := "def greet(name: str) -> str:\n    return f\"hello {name}!\"\n"
	m := compile(t, src)
	fn := m.Functions[0]
	foundToStr, foundAddStr := false, false
	for _, b := range fn.Code {
		switch bytecode.Opcode(b) {
		case bytecode.OpToStr:
			foundToStr = true
		case bytecode.OpAddStr:
			foundAddStr = true
		}
	}
	if !foundAddStr {
		t.Fatal("expected f-string compilation to emit ADD_STR")
	}
	_ = foundToStr
}

func TestCompileArrayPushAndIndex(t *testing.T) {
	src := "def main() -> int:\n    let xs: [int] = [1, 2, 3]\n    array_push(xs, 4)\n    return array_get(xs, 3)\n"
	m := compile(t, src)
	fn := m.Functions[0]
	hasArrayNew := false
	for _, b := range fn.Code {
		if bytecode.Opcode(b) == bytecode.OpArrayNew {
			hasArrayNew = true
		}
	}
	if !hasArrayNew {
		t.Fatal("expected array literal to emit ARRAY_NEW")
	}
}

func TestCompileRoundTripsThroughWriteAndRead(t *testing.T) {
	src := "def main() -> int:\n    return 1 + 2\n"
	m := compile(t, src)
	var buf bytes.Buffer
	if err := bytecode.Write(&buf, m); err != nil {
		t.Fatalf("write error: %v", err)
	}
	back, err := bytecode.Read(buf.Bytes())
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(back.Functions) != len(m.Functions) {
		t.Fatalf("function count mismatch: %d vs %d", len(back.Functions), len(m.Functions))
	}
}

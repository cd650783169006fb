package vm

import (
	"bytes"
	"strings"
	"testing"

	"eqlang/checker"
	"eqlang/compiler"
	"eqlang/parser"
)

// run parses, checks, compiles and executes src, returning the exit code,
// captured stdout, and any error from Run.
func run(t *testing.T, src string) (int, string, error) {
	t.Helper()
	mod, err := parser.ParseModule(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ctx, err := checker.CheckModule(mod, nil)
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	bc, err := compiler.Compile(mod, ctx)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var out bytes.Buffer
	machine := New(bc)
	machine.Stdout = &out
	code, err := machine.Run()
	return code, out.String(), err
}

func TestIntegration_FibonacciRecursion(t *testing.T) {
	src := "def main() -> int:\n    return fib(10)\ndef fib(n: int) -> int:\n    if n < 2: return n\n    return fib(n-1) + fib(n-2)\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 55 {
		t.Fatalf("expected exit code 55, got %d", code)
	}
}

func TestIntegration_StructFieldSum(t *testing.T) {
	src := "struct P:\n    x: int\n    y: int\n\ndef main() -> int:\n    let p: P = P{x: 3, y: 4}\n    return p.x + p.y\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}

func TestIntegration_TryCatchPrintsAndExitsZero(t *testing.T) {
	src := "def main() -> int:\n    try:\n        throw \"boom\"\n    catch e:\n        print(e)\n    return 0\n"
	code, out, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "boom\n") {
		t.Fatalf("expected stdout to contain %q, got %q", "boom\n", out)
	}
}

func TestIntegration_MapIndexAssignAndLen(t *testing.T) {
	src := "def main() -> int:\n    let m: {str: int} = {\"a\": 1, \"b\": 2}\n    m[\"c\"] = 3\n    return map_len(m)\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

func TestIntegration_ArrayPushAndIndex(t *testing.T) {
	src := "def main() -> int:\n    let a: [int] = [1, 2, 3]\n    array_push(a, 4)\n    return a[3]\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 4 {
		t.Fatalf("expected exit code 4, got %d", code)
	}
}

func TestIntegration_FStringInterpolation(t *testing.T) {
	src := "def main() -> int:\n    let name: str = \"world\"\n    print(f\"hello {name}!\")\n    return 0\n"
	code, out, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "hello world!\n") {
		t.Fatalf("expected stdout to contain %q, got %q", "hello world!\n", out)
	}
}

func TestSanity_UncaughtThrowIsAnError(t *testing.T) {
	src := "def main() -> int:\n    throw \"boom\"\n    return 0\n"
	_, _, err := run(t, src)
	if err == nil {
		t.Fatal("expected an uncaught-exception error")
	}
}

func TestSanity_WhileLoopWithBreakAndContinue(t *testing.T) {
	src := "def main() -> int:\n    let i: int = 0\n    let total: int = 0\n    while i < 10:\n        i = i + 1\n        if i == 3: continue\n        if i == 8: break\n        total = total + i\n    return total\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	// 1+2+4+5+6+7 (skip 3, stop before accumulating 8) = 25
	if code != 25 {
		t.Fatalf("expected exit code 25, got %d", code)
	}
}

func TestSanity_ForInOverArray(t *testing.T) {
	src := "def main() -> int:\n    let xs: [int] = [1, 2, 3, 4]\n    let total: int = 0\n    for x in xs:\n        total = total + x\n    return total\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 10 {
		t.Fatalf("expected exit code 10, got %d", code)
	}
}

func TestSanity_NestedTryCatchesInnermost(t *testing.T) {
	src := "def main() -> int:\n    let result: int = 0\n    try:\n        try:\n            throw \"inner\"\n        catch e:\n            result = 1\n    catch e:\n        result = 2\n    return result\n"
	code, _, err := run(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 1 {
		t.Fatalf("expected the innermost handler to catch (exit code 1), got %d", code)
	}
}

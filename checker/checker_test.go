package checker

import (
	"testing"

	"eqlang/parser"
)

func check(t *testing.T, src string) (*TypeContext, error) {
	t.Helper()
	mod, err := parser.ParseModule(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return CheckModule(mod, nil)
}

func TestCheckFibonacciFunction(t *testing.T) {
	src := "def fib(n: int) -> int:\n    if n < 2: return n\n    return fib(n-1) + fib(n-2)\n"
	ctx, err := check(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, ok := ctx.Functions["fib"]
	if !ok {
		t.Fatal("expected fib to be registered")
	}
	if sig.Ret.String() != "int" {
		t.Fatalf("expected return type int, got %s", sig.Ret)
	}
}

func TestCheckStructFieldSum(t *testing.T) {
	src := "struct Point:\n    x: int\n    y: int\n\ndef main() -> int:\n    let p: Point = Point{x: 3, y: 4}\n    return p.x + p.y\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckRejectsMismatchedReturnType(t *testing.T) {
	src := "def f() -> int:\n    return \"oops\"\n"
	_, err := check(t, src)
	if err == nil {
		t.Fatal("expected a type error for str returned from an int function")
	}
}

func TestCheckRejectsRedeclarationInSameBlock(t *testing.T) {
	src := "def f() -> int:\n    let x: int = 1\n    let x: int = 2\n    return x\n"
	_, err := check(t, src)
	if err == nil {
		t.Fatal("expected a redeclaration error")
	}
}

func TestCheckAllowsShadowingAcrossBlocks(t *testing.T) {
	src := "def f(x: int) -> int:\n    if x > 0:\n        let x: int = 99\n        return x\n    return x\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckIfConditionMustBeBool(t *testing.T) {
	src := "def f() -> int:\n    if 1:\n        return 1\n    return 0\n"
	_, err := check(t, src)
	if err == nil {
		t.Fatal("expected a type error for a non-bool if condition")
	}
}

func TestCheckArrayPushAndIndex(t *testing.T) {
	src := "def main() -> int:\n    let xs: [int] = [1, 2, 3]\n    array_push(xs, 4)\n    return array_get(xs, 3)\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckMapLenBuiltin(t *testing.T) {
	src := "def main() -> int:\n    let m: {str: int} = {\"a\": 1, \"b\": 2, \"c\": 3}\n    return map_len(m)\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckTryCatchBindsCatchVarAsStr(t *testing.T) {
	src := "def main() -> int:\n    try:\n        throw \"boom\"\n    catch e:\n        print(e)\n    return 0\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckUnknownFunctionIsAnError(t *testing.T) {
	src := "def main() -> int:\n    return not_a_real_function(1)\n"
	_, err := check(t, src)
	if err == nil {
		t.Fatal("expected an error calling an undefined function")
	}
}

func TestCheckFStringInterpolatesExpressions(t *testing.T) {
	src := "def greet(name: str) -> str:\n    return f\"hello {name}!\"\n"
	if _, err := check(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// System-level integration tests: these verify that the lexer, parser,
// checker, compiler, and vm all work together end to end on complete
// programs, the way a user would actually invoke the toolchain.
package main

import (
	"bytes"
	"testing"

	"eqlang/checker"
	"eqlang/compiler"
	"eqlang/linker"
	"eqlang/parser"
	"eqlang/vm"
)

// runCode parses, type-checks, compiles, and runs src as a single module,
// returning the program's exit code, its captured stdout, and any error
// encountered at any stage.
func runCode(src string) (int, string, error) {
	mod, err := parser.ParseModule(src)
	if err != nil {
		return 0, "", err
	}
	ctx, err := checker.CheckModule(mod, nil)
	if err != nil {
		return 0, "", err
	}
	bc, err := compiler.Compile(mod, ctx)
	if err != nil {
		return 0, "", err
	}
	var out bytes.Buffer
	m := vm.New(bc)
	m.Stdout = &out
	code, err := m.Run()
	return code, out.String(), err
}

func assertExitCode(t *testing.T, src string, expected int) {
	t.Helper()
	code, _, err := runCode(src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != expected {
		t.Errorf("expected exit code %d, got %d", expected, code)
	}
}

func TestSystem_FibonacciRecursion(t *testing.T) {
	src := "def fib(x: int) -> int:\n" +
		"    if x < 2: return x\n" +
		"    return fib(x - 1) + fib(x - 2)\n" +
		"def main() -> int:\n" +
		"    return fib(10)\n"
	assertExitCode(t, src, 55)
}

func TestSystem_StructFieldAccumulation(t *testing.T) {
	src := "struct Node:\n" +
		"    val: int\n\n" +
		"def sumNodes(nodes: [Node]) -> int:\n" +
		"    let total: int = 0\n" +
		"    for n in nodes:\n" +
		"        total = total + n.val\n" +
		"    return total\n\n" +
		"def main() -> int:\n" +
		"    let nodes: [Node] = [Node{val: 10}, Node{val: 20}, Node{val: 30}]\n" +
		"    return sumNodes(nodes)\n"
	assertExitCode(t, src, 60)
}

func TestSystem_ClassInheritanceDispatch(t *testing.T) {
	src := "class Animal:\n" +
		"    def speak(self) -> int:\n" +
		"        return 0\n\n" +
		"class Dog(Animal):\n" +
		"    def speak(self) -> int:\n" +
		"        return 1 + super.speak()\n\n" +
		"def main() -> int:\n" +
		"    let d: Dog = new Dog()\n" +
		"    return d.speak()\n"
	assertExitCode(t, src, 1)
}

func TestSystem_MapReduceHigherOrderFunctions(t *testing.T) {
	src := "def double(x: int) -> int:\n" +
		"    return x * 2\n\n" +
		"def applyToLast(arr: [int], f: fn(int) -> int) -> int:\n" +
		"    return f(arr[2])\n\n" +
		"def main() -> int:\n" +
		"    let arr: [int] = [10, 20, 30]\n" +
		"    return applyToLast(arr, double)\n"
	assertExitCode(t, src, 60)
}

func TestSystem_ShadowingAndScope(t *testing.T) {
	src := "def main() -> int:\n" +
		"    let x: int = 10\n" +
		"    if true:\n" +
		"        let x: int = 20\n" +
		"        x = x + 1\n" +
		"    return x\n"
	assertExitCode(t, src, 10)
}

func TestSystem_WhileLoopAccumulator(t *testing.T) {
	src := "def main() -> int:\n" +
		"    let i: int = 0\n" +
		"    let total: int = 0\n" +
		"    while i < 5:\n" +
		"        total = total + i\n" +
		"        i = i + 1\n" +
		"    return total\n"
	assertExitCode(t, src, 10)
}

func TestSystem_EdgeCase_UncaughtThrowIsRuntimeError(t *testing.T) {
	src := "def main() -> int:\n    throw \"boom\"\n    return 0\n"
	_, _, err := runCode(src)
	if err == nil {
		t.Fatal("expected an uncaught-exception error")
	}
}

func TestSystem_EdgeCase_CatchRecoversAndContinues(t *testing.T) {
	src := "def main() -> int:\n" +
		"    let result: int = 0\n" +
		"    try:\n" +
		"        throw \"boom\"\n" +
		"    catch e:\n" +
		"        result = 1\n" +
		"    return result\n"
	assertExitCode(t, src, 1)
}

func TestSystem_CrossModuleImport(t *testing.T) {
	mods := map[string]string{
		"app":      "import mathutil\n\ndef main() -> int:\n    return mathutil.add(3, 4)\n",
		"mathutil": "def add(a: int, b: int) -> int:\n    return a + b\n",
	}
	bc, err := linker.Link("app", func(path string) (string, error) {
		src, ok := mods[path]
		if !ok {
			t.Fatalf("no such module %q", path)
		}
		return src, nil
	})
	if err != nil {
		t.Fatalf("link error: %v", err)
	}
	m := vm.New(bc)
	code, err := m.Run()
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if code != 7 {
		t.Errorf("expected exit code 7, got %d", code)
	}
}

// Build with: GOOS=js GOARCH=wasm go build -o main.wasm wasm/wasm_main.go
package main

import (
	"fmt"
	"strings"
	"syscall/js"

	"eqlang/checker"
	"eqlang/compiler"
	"eqlang/gc"
	"eqlang/parser"
	"eqlang/vm"
)

func main() {
	c := make(chan struct{}, 0)

	js.Global().Set("runEqlang", js.FuncOf(runCode))

	fmt.Println("eqlang WASM engine loaded.")
	<-c
}

// runCode is the bridge between JS and Go: it runs a single source
// module (no filesystem, so no import resolution) and reports either a
// parse/check/runtime error list or the program's captured stdout plus
// its final result value.
func runCode(this js.Value, p []js.Value) interface{} {
	src := p[0].String()

	mod, err := parser.ParseModule(src)
	if err != nil {
		return errResult("PARSE ERROR: " + err.Error())
	}

	ctx := checker.NewTypeContext(nil)
	if _, err := checker.CheckModule(mod, ctx); err != nil {
		return errResult("TYPE ERROR: " + err.Error())
	}

	bc, err := compiler.Compile(mod, ctx)
	if err != nil {
		return errResult("COMPILE ERROR: " + err.Error())
	}

	var out strings.Builder
	m := vm.New(bc)
	m.Stdout = &out
	m.Stdin = strings.NewReader("") // no stdin in the browser demo

	result, err := m.Eval()
	if err != nil {
		return errResult("RUNTIME ERROR: " + err.Error())
	}

	finalResult := ""
	if result.Kind != gc.KindNull {
		finalResult = result.String()
	}

	return map[string]interface{}{
		"logs":   out.String(),
		"result": finalResult,
	}
}

func errResult(msg string) map[string]interface{} {
	return map[string]interface{}{
		"error": []interface{}{msg},
	}
}

package repl

import (
	"bytes"
	"strings"
	"testing"

	"eqlang/types"
)

// runSession simulates a full REPL session and returns everything it wrote
// to out, driving Start end to end.
func runSession(input string) string {
	in := strings.NewReader(input)
	var out bytes.Buffer
	Start(in, &out)
	return out.String()
}

func TestREPLEvaluatesExpression(t *testing.T) {
	output := runSession("10 + 20\n.exit\n")
	if !strings.Contains(output, "30") {
		t.Errorf("expected 30 in output, got:\n%s", output)
	}
}

func TestREPLGlobalPersistsAcrossLines(t *testing.T) {
	input := "let x = 50\nx + 10\n.exit\n"
	output := runSession(input)
	if !strings.Contains(output, "60") {
		t.Errorf("expected a global binding to persist across lines, got:\n%s", output)
	}
}

func TestREPLFunctionDeclarationPersists(t *testing.T) {
	input := "def double(n: int) -> int:\n    return n * 2\n\ndouble(21)\n.exit\n"
	output := runSession(input)
	if !strings.Contains(output, "42") {
		t.Errorf("expected a declared function to be callable on a later line, got:\n%s", output)
	}
}

func TestREPLReportsParseErrors(t *testing.T) {
	output := runSession("let = = =\n.exit\n")
	if !strings.Contains(output, "error:") {
		t.Errorf("expected a reported error, got:\n%s", output)
	}
}

func TestREPLClearResetsSession(t *testing.T) {
	input := "let x = 5\n.clear\nx\n.exit\n"
	output := runSession(input)
	if !strings.Contains(output, "Session cleared") {
		t.Error("expected .clear to acknowledge the reset")
	}
	if !strings.Contains(output, "error:") {
		t.Error("expected referencing x after .clear to fail")
	}
}

func TestREPLUnknownCommand(t *testing.T) {
	output := runSession(".foobar\n.exit\n")
	if !strings.Contains(output, "Unknown command") {
		t.Error("expected an unknown-command message")
	}
}

func TestREPLDebugModePrintsTokensAndAST(t *testing.T) {
	input := ".debug\n1 + 1\n.exit\n"
	output := runSession(input)
	if !strings.Contains(output, "[ TOKENS ]") {
		t.Error("debug mode did not print a token dump")
	}
	if !strings.Contains(output, "[ AST ]") {
		t.Error("debug mode did not print an AST dump")
	}
	if !strings.Contains(output, "[ BYTECODE ]") {
		t.Error("debug mode did not print a bytecode dump")
	}
}

func TestREPLEmptyLinesAreIgnored(t *testing.T) {
	output := runSession("\n\n\n10\n.exit\n")
	if !strings.Contains(output, "10") {
		t.Error("REPL choked on blank lines")
	}
}

func TestTypeSyntax(t *testing.T) {
	cases := []struct {
		t    types.Type
		want string
	}{
		{types.Primitive(types.Int), "int"},
		{types.Primitive(types.Str), "str"},
		{types.ArrayOf(types.Primitive(types.Int)), "[int]"},
		{types.MapOf(types.Primitive(types.Str), types.Primitive(types.Bool)), "{str:bool}"},
	}
	for _, c := range cases {
		if got := typeSyntax(c.t); got != c.want {
			t.Errorf("typeSyntax(%v) = %q, want %q", c.t, got, c.want)
		}
	}
}

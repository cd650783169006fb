package lexer

import (
	"testing"

	"eqlang/token"
)

func kinds(src string) []token.Type {
	l := New(src)
	var out []token.Type
	for {
		tok := l.Next()
		out = append(out, tok.Kind)
		if tok.Kind == token.EOF {
			break
		}
	}
	return out
}

func TestIndentDedentBalanced(t *testing.T) {
	src := "def main() -> int:\n    let x: int = 1\n    return x\n"
	got := kinds(src)
	wantContains := []token.Type{token.INDENT, token.DEDENT, token.EOF}
	for _, w := range wantContains {
		found := false
		for _, k := range got {
			if k == w {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s in token stream, got %v", w, got)
		}
	}
	// Balanced: equal INDENT and DEDENT counts.
	var indents, dedents int
	for _, k := range got {
		if k == token.INDENT {
			indents++
		}
		if k == token.DEDENT {
			dedents++
		}
	}
	if indents != dedents {
		t.Fatalf("unbalanced indentation: %d INDENT vs %d DEDENT", indents, dedents)
	}
}

func TestBlankAndCommentLinesProduceNoIndentChange(t *testing.T) {
	src := "if true:\n    # a comment\n\n    let x: int = 1\nelse:\n    let x: int = 2\n"
	l := New(src)
	var indentCount, dedentCount int
	for {
		tok := l.Next()
		if tok.Kind == token.INDENT {
			indentCount++
		}
		if tok.Kind == token.DEDENT {
			dedentCount++
		}
		if tok.Kind == token.EOF {
			break
		}
	}
	if indentCount != 2 || dedentCount != 2 {
		t.Fatalf("got %d indents, %d dedents, want 2 and 2", indentCount, dedentCount)
	}
}

func TestTabCountsAsFourColumns(t *testing.T) {
	l := New("if true:\n\tlet x: int = 1\n")
	for {
		tok := l.Next()
		if tok.Kind == token.INDENT {
			return
		}
		if tok.Kind == token.EOF {
			t.Fatal("expected an INDENT token for tab-indented block")
		}
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"a\nb\tc\"d\\e"`)
	tok := l.Next()
	if tok.Kind != token.STRING {
		t.Fatalf("expected STRING, got %s", tok.Kind)
	}
	want := "a\nb\tc\"d\\e"
	if tok.Cooked != want {
		t.Fatalf("got %q, want %q", tok.Cooked, want)
	}
}

func TestFString(t *testing.T) {
	l := New(`f"hello {name}!"`)
	tok := l.Next()
	if tok.Kind != token.FSTRING {
		t.Fatalf("expected FSTRING, got %s", tok.Kind)
	}
	if tok.Cooked != "hello {name}!" {
		t.Fatalf("got %q", tok.Cooked)
	}
}

func TestOperatorsAndKeywords(t *testing.T) {
	got := kinds("a >= b and not c\n")
	want := []token.Type{token.IDENT, token.GE, token.IDENT, token.AND, token.NOT, token.IDENT, token.NEWLINE, token.EOF}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l := New("let x: int = 1\n")
	p1 := l.Peek()
	p2 := l.Peek()
	if p1.Kind != p2.Kind {
		t.Fatalf("peek is not idempotent")
	}
	n := l.Next()
	if n.Kind != p1.Kind {
		t.Fatalf("next after peek should match peeked token")
	}
}

func TestInconsistentDedentErrors(t *testing.T) {
	// Dedent to a width that matches no enclosing level is an error.
	src := "if true:\n    if true:\n        let x: int = 1\n  let y: int = 2\n"
	l := New(src)
	for {
		tok := l.Next()
		if tok.Kind == token.EOF {
			break
		}
	}
	if l.Err() == nil {
		t.Fatal("expected an indentation error")
	}
}

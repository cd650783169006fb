package token

import "testing"

func TestLookupIdent(t *testing.T) {
	cases := []struct {
		in   string
		want Type
	}{
		{"def", DEF},
		{"let", LET},
		{"match", MATCH},
		{"super", SUPER},
		{"notakeyword", IDENT},
		{"x", IDENT},
	}
	for _, c := range cases {
		if got := LookupIdent(c.in); got != c.want {
			t.Errorf("LookupIdent(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestTokenString(t *testing.T) {
	tok := Token{Kind: IDENT, Lexeme: "foo", Line: 1, Column: 1}
	if tok.String() != "IDENT(foo)" {
		t.Fatalf("unexpected String(): %s", tok.String())
	}
}

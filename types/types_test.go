package types

import "testing"

func TestEqualStructural(t *testing.T) {
	a := ArrayOf(Primitive(Int))
	b := ArrayOf(Primitive(Int))
	if !Equal(a, b) {
		t.Fatal("expected structurally equal array types to be Equal")
	}
	c := ArrayOf(Primitive(Float))
	if Equal(a, c) {
		t.Fatal("expected array<int> != array<float>")
	}
}

func TestEqualNominalByName(t *testing.T) {
	if !Equal(NamedStruct("Point"), NamedStruct("Point")) {
		t.Fatal("same-name structs should be Equal")
	}
	if Equal(NamedStruct("Point"), NamedStruct("Vector")) {
		t.Fatal("different-name structs should not be Equal")
	}
}

func TestString(t *testing.T) {
	ty := MapOf(Primitive(Str), Primitive(Int))
	if ty.String() != "{str: int}" {
		t.Fatalf("got %q", ty.String())
	}
}

func TestIsNumeric(t *testing.T) {
	if !Primitive(I32).IsNumeric() {
		t.Fatal("i32 should be numeric")
	}
	if !Primitive(Float).IsNumeric() {
		t.Fatal("float should be numeric")
	}
	if Primitive(Bool).IsNumeric() {
		t.Fatal("bool should not be numeric")
	}
}

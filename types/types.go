// Package types implements the static type sum type shared by the parser,
// checker, and compiler: Type is a tagged union over primitives, fixed
// width integers, and the compound/nominal type constructors the language
// supports.
package types

import "fmt"

// Kind tags the variant of a Type.
type Kind int

const (
	Int Kind = iota
	Float
	Bool
	Str
	Void
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	Array
	Map
	Struct
	Enum
	Class
	Pointer
	Tuple
	Function
	Buffer
	Unknown // internal: used only while inference is still in flight
)

// Type is an immutable value describing a static type. Compound variants
// own their component types; nominal variants (Struct/Enum/Class) carry a
// Name used to look the full definition up in the checker's tables.
type Type struct {
	Kind Kind

	Name string // Struct / Enum / Class nominal name

	Elem  *Type   // Array element type / Pointer pointee type
	Key   *Type   // Map key type
	Value *Type   // Map value type
	Items []Type  // Tuple component types
	Params []Type // Function parameter types
	Ret   *Type   // Function return type
}

func Primitive(k Kind) Type { return Type{Kind: k} }

func ArrayOf(elem Type) Type  { return Type{Kind: Array, Elem: &elem} }
func PointerTo(elem Type) Type { return Type{Kind: Pointer, Elem: &elem} }
func MapOf(key, val Type) Type { return Type{Kind: Map, Key: &key, Value: &val} }
func TupleOf(items ...Type) Type { return Type{Kind: Tuple, Items: items} }
func FuncOf(params []Type, ret Type) Type { return Type{Kind: Function, Params: params, Ret: &ret} }
func NamedStruct(name string) Type { return Type{Kind: Struct, Name: name} }
func NamedEnum(name string) Type   { return Type{Kind: Enum, Name: name} }
func NamedClass(name string) Type  { return Type{Kind: Class, Name: name} }

// IsInteger reports whether t is any of the signed/unsigned fixed-width
// integer kinds or the default Int kind.
func (t Type) IsInteger() bool {
	switch t.Kind {
	case Int, I8, I16, I32, I64, U8, U16, U32, U64:
		return true
	}
	return false
}

func (t Type) IsNumeric() bool { return t.IsInteger() || t.Kind == Float }

// Equal performs a structural comparison, recursing into compound types and
// comparing nominal types by name.
func Equal(a, b Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Struct, Enum, Class:
		return a.Name == b.Name
	case Array, Pointer:
		return Equal(*a.Elem, *b.Elem)
	case Map:
		return Equal(*a.Key, *b.Key) && Equal(*a.Value, *b.Value)
	case Tuple:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case Function:
		if len(a.Params) != len(b.Params) || !Equal(*a.Ret, *b.Ret) {
			return false
		}
		for i := range a.Params {
			if !Equal(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders a Type in source-like notation, used in error messages.
func (t Type) String() string {
	switch t.Kind {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Str:
		return "str"
	case Void:
		return "void"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case Array:
		return fmt.Sprintf("[%s]", t.Elem.String())
	case Map:
		return fmt.Sprintf("{%s: %s}", t.Key.String(), t.Value.String())
	case Struct:
		return t.Name
	case Enum:
		return t.Name
	case Class:
		return t.Name
	case Pointer:
		return fmt.Sprintf("pointer<%s>", t.Elem.String())
	case Tuple:
		s := "("
		for i, it := range t.Items {
			if i > 0 {
				s += ", "
			}
			s += it.String()
		}
		return s + ")"
	case Function:
		s := "fn("
		for i, p := range t.Params {
			if i > 0 {
				s += ", "
			}
			s += p.String()
		}
		return s + ") -> " + t.Ret.String()
	case Buffer:
		return "buffer"
	default:
		return "<unknown>"
	}
}

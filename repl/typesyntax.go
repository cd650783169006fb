package repl

import (
	"strings"

	"eqlang/types"
)

// typeSyntax renders t back into the surface syntax parseType accepts, so
// the REPL can synthesize a "-> T" annotation for a value whose type it
// only learns after type-checking a throwaway wrapper.
func typeSyntax(t types.Type) string {
	switch t.Kind {
	case types.Int:
		return "int"
	case types.Float:
		return "float"
	case types.Bool:
		return "bool"
	case types.Str:
		return "str"
	case types.Void:
		return "void"
	case types.I8:
		return "i8"
	case types.I16:
		return "i16"
	case types.I32:
		return "i32"
	case types.I64:
		return "i64"
	case types.U8:
		return "u8"
	case types.U16:
		return "u16"
	case types.U32:
		return "u32"
	case types.U64:
		return "u64"
	case types.Array:
		return "[" + typeSyntax(*t.Elem) + "]"
	case types.Map:
		return "{" + typeSyntax(*t.Key) + ":" + typeSyntax(*t.Value) + "}"
	case types.Pointer:
		return "pointer<" + typeSyntax(*t.Elem) + ">"
	case types.Tuple:
		items := make([]string, len(t.Items))
		for i, it := range t.Items {
			items[i] = typeSyntax(it)
		}
		return "(" + strings.Join(items, ", ") + ")"
	case types.Function:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = typeSyntax(p)
		}
		ret := "void"
		if t.Ret != nil {
			ret = typeSyntax(*t.Ret)
		}
		return "fn(" + strings.Join(params, ", ") + ") -> " + ret
	case types.Struct, types.Enum, types.Class:
		return t.Name
	case types.Buffer:
		return "buffer"
	default:
		return "void"
	}
}

package checker

import "eqlang/types"

// BuiltinMarker and CrossModuleMarker are the two negative
// sentinels a resolved CallExpression.FnIndex can hold besides a real
// function-table index, per the data model's call-node invariant.
const (
	BuiltinMarker     = -1
	CrossModuleMarker = -2
)

// BuiltinSig describes one catalog entry: a fixed arity (or -1 for
// variadic builtins such as print), parameter types to check each
// argument against (ignored for variadic builtins), and a function
// computing the return type from the argument types actually supplied
// (so generics like array_pop can return the container's element type).
type BuiltinSig struct {
	ID       int
	Arity    int
	Params   []types.Type
	RetFn    func(args []types.Type) types.Type
}

func ret(t types.Type) func([]types.Type) types.Type {
	return func([]types.Type) types.Type { return t }
}

func sameAsElem(idx int) func([]types.Type) types.Type {
	return func(args []types.Type) types.Type {
		if idx < len(args) && args[idx].Kind == types.Array && args[idx].Elem != nil {
			return *args[idx].Elem
		}
		return types.Primitive(types.Void)
	}
}

// Builtins is the fixed numbered catalog: I/O, strings, math, random,
// files, time, environment, encoding, hashing, container utilities,
// regex, and type introspection. Entries are representative of each
// category rather than an exhaustive list.
var Builtins = buildCatalog()

func buildCatalog() map[string]BuiltinSig {
	str := types.Primitive(types.Str)
	i := types.Primitive(types.Int)
	f := types.Primitive(types.Float)
	b := types.Primitive(types.Bool)
	void := types.Primitive(types.Void)
	buf := types.Primitive(types.Buffer)
	arrInt := types.ArrayOf(i)
	_ = arrInt

	entries := []struct {
		name  string
		arity int
		params []types.Type
		ret   func([]types.Type) types.Type
	}{
		// I/O
		{"print", -1, nil, ret(void)},
		{"read_line", 0, nil, ret(str)},
		// strings
		{"len", 1, []types.Type{str}, ret(i)},
		{"substr", 3, []types.Type{str, i, i}, ret(str)},
		{"str_upper", 1, []types.Type{str}, ret(str)},
		{"str_lower", 1, []types.Type{str}, ret(str)},
		{"str_trim", 1, []types.Type{str}, ret(str)},
		{"str_find", 2, []types.Type{str, str}, ret(i)},
		{"str_replace", 3, []types.Type{str, str, str}, ret(str)},
		{"str_contains", 2, []types.Type{str, str}, ret(b)},
		{"str_count", 2, []types.Type{str, str}, ret(i)},
		{"str_split", 2, []types.Type{str, str}, ret(types.ArrayOf(str))},
		// math
		{"int_abs", 1, []types.Type{i}, ret(i)},
		{"int_min", 2, []types.Type{i, i}, ret(i)},
		{"int_max", 2, []types.Type{i, i}, ret(i)},
		{"float_abs", 1, []types.Type{f}, ret(f)},
		{"float_sqrt", 1, []types.Type{f}, ret(f)},
		{"float_floor", 1, []types.Type{f}, ret(f)},
		{"float_ceil", 1, []types.Type{f}, ret(f)},
		// random
		{"rand", 0, nil, ret(f)},
		{"rand_range", 2, []types.Type{i, i}, ret(i)},
		{"rand_seed", 1, []types.Type{i}, ret(void)},
		// files
		{"file_read", 1, []types.Type{str}, ret(str)},
		{"file_write", 2, []types.Type{str, str}, ret(b)},
		{"file_append", 2, []types.Type{str, str}, ret(b)},
		{"file_exists", 1, []types.Type{str}, ret(b)},
		{"file_delete", 1, []types.Type{str}, ret(b)},
		{"file_size", 1, []types.Type{str}, ret(i)},
		{"file_copy", 2, []types.Type{str, str}, ret(b)},
		// time
		{"clock_ms", 0, nil, ret(i)},
		{"sleep", 1, []types.Type{i}, ret(void)},
		// environment
		{"getenv", 1, []types.Type{str}, ret(str)},
		{"argv", 1, []types.Type{i}, ret(str)},
		{"argc", 0, nil, ret(i)},
		// encoding / hashing
		{"base64_encode", 1, []types.Type{str}, ret(str)},
		{"base64_decode", 1, []types.Type{str}, ret(str)},
		{"hash_sha256", 1, []types.Type{str}, ret(str)},
		{"hash_md5", 1, []types.Type{str}, ret(str)},
		{"secure_compare", 2, []types.Type{str, str}, ret(b)},
		{"rand_bytes", 1, []types.Type{i}, ret(str)},
		// byte buffers
		{"buf_new", 0, nil, ret(buf)},
		{"buf_push", 2, []types.Type{buf, i}, ret(void)},
		{"buf_len", 1, []types.Type{buf}, ret(i)},
		{"buf_to_str", 1, []types.Type{buf}, ret(str)},
		// regex
		{"regex_match", 2, []types.Type{str, str}, ret(b)},
		{"regex_find", 2, []types.Type{str, str}, ret(str)},
		{"regex_replace", 3, []types.Type{str, str, str}, ret(str)},
		// type introspection
		{"type_of", 1, nil, ret(str)},
		{"exit", 1, []types.Type{i}, ret(void)},
	}

	cat := make(map[string]BuiltinSig, len(entries)+16)
	id := 0
	for _, e := range entries {
		cat[e.name] = BuiltinSig{ID: id, Arity: e.arity, Params: e.params, RetFn: e.ret}
		id++
	}

	// Container utilities: generic over array/map element type, handled
	// specially since their return/param types depend on the argument's
	// compound type rather than a fixed signature.
	cat["array_push"] = BuiltinSig{ID: id, Arity: 2, RetFn: ret(void)}
	id++
	cat["array_pop"] = BuiltinSig{ID: id, Arity: 1, RetFn: sameAsElem(0)}
	id++
	cat["array_len"] = BuiltinSig{ID: id, Arity: 1, RetFn: ret(i)}
	id++
	cat["array_get"] = BuiltinSig{ID: id, Arity: 2, RetFn: sameAsElem(0)}
	id++
	cat["array_set"] = BuiltinSig{ID: id, Arity: 3, RetFn: ret(void)}
	id++
	cat["array_map"] = BuiltinSig{ID: id, Arity: 2, RetFn: ret(types.ArrayOf(void))}
	id++
	cat["array_filter"] = BuiltinSig{ID: id, Arity: 2, RetFn: func(args []types.Type) types.Type { return args[0] }}
	id++
	cat["array_reduce"] = BuiltinSig{ID: id, Arity: 3, RetFn: func(args []types.Type) types.Type { return args[2] }}
	id++
	cat["array_sort"] = BuiltinSig{ID: id, Arity: 1, RetFn: func(args []types.Type) types.Type { return args[0] }}
	id++
	cat["map_len"] = BuiltinSig{ID: id, Arity: 1, RetFn: ret(i)}
	id++
	cat["map_has"] = BuiltinSig{ID: id, Arity: 2, RetFn: ret(b)}
	id++
	cat["map_delete"] = BuiltinSig{ID: id, Arity: 2, RetFn: ret(b)}
	id++
	cat["map_keys"] = BuiltinSig{ID: id, Arity: 1, RetFn: func(args []types.Type) types.Type {
		if args[0].Kind == types.Map && args[0].Key != nil {
			return types.ArrayOf(*args[0].Key)
		}
		return types.ArrayOf(void)
	}}
	id++

	return cat
}

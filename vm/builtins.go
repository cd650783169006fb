package vm

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"eqlang/checker"
	"eqlang/gc"

	"github.com/samber/lo"
)

// builtinNames maps a catalog ID back to its name so callBuiltin can
// dispatch with a switch instead of threading checker.BuiltinSig through
// the VM.
var builtinNames = buildBuiltinNames()

func buildBuiltinNames() []string {
	names := make([]string, len(checker.Builtins))
	for name, sig := range checker.Builtins {
		names[sig.ID] = name
	}
	return names
}

func (vm *VM) callBuiltin(id int, args []gc.Value) (gc.Value, error) {
	if id < 0 || id >= len(builtinNames) {
		return gc.Null(), fmt.Errorf("vm: invalid builtin id %d", id)
	}
	name := builtinNames[id]
	switch name {

	case "print":
		var parts []string
		for _, a := range args {
			parts = append(parts, vm.toStrValue(a).Obj.(*gc.String).String())
		}
		fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))
		return gc.Null(), nil

	case "read_line":
		line, err := vm.stdinReader().ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil && line == "" {
			return vm.newStr(""), nil
		}
		return vm.newStr(line), nil

	case "len":
		return gc.Int(int64(utf8.RuneCountInString(argStr(args, 0)))), nil

	case "substr":
		s := argStr(args, 0)
		start := int(args[1].Int)
		length := int(args[2].Int)
		r := []rune(s)
		if start < 0 {
			start = 0
		}
		if start > len(r) {
			start = len(r)
		}
		end := start + length
		if end > len(r) {
			end = len(r)
		}
		return vm.newStr(string(r[start:end])), nil

	case "str_upper":
		return vm.newStr(strings.ToUpper(argStr(args, 0))), nil
	case "str_lower":
		return vm.newStr(strings.ToLower(argStr(args, 0))), nil
	case "str_trim":
		return vm.newStr(strings.TrimSpace(argStr(args, 0))), nil
	case "str_find":
		return gc.Int(int64(strings.Index(argStr(args, 0), argStr(args, 1)))), nil
	case "str_replace":
		return vm.newStr(strings.ReplaceAll(argStr(args, 0), argStr(args, 1), argStr(args, 2))), nil
	case "str_contains":
		return gc.Bool(strings.Contains(argStr(args, 0), argStr(args, 1))), nil
	case "str_count":
		return gc.Int(int64(strings.Count(argStr(args, 0), argStr(args, 1)))), nil
	case "str_split":
		parts := strings.Split(argStr(args, 0), argStr(args, 1))
		elems := lo.Map(parts, func(p string, _ int) gc.Value { return vm.newStr(p) })
		return gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(elems)}, nil

	case "int_abs":
		v := args[0].Int
		if v < 0 {
			v = -v
		}
		return gc.Int(v), nil
	case "int_min":
		return gc.Int(minI64(args[0].Int, args[1].Int)), nil
	case "int_max":
		return gc.Int(maxI64(args[0].Int, args[1].Int)), nil
	case "float_abs":
		return gc.Float(math.Abs(args[0].Float)), nil
	case "float_sqrt":
		return gc.Float(math.Sqrt(args[0].Float)), nil
	case "float_floor":
		return gc.Float(math.Floor(args[0].Float)), nil
	case "float_ceil":
		return gc.Float(math.Ceil(args[0].Float)), nil

	case "rand":
		return gc.Float(vm.rng.Float64()), nil
	case "rand_range":
		low, hi := args[0].Int, args[1].Int
		if hi <= low {
			return gc.Int(low), nil
		}
		return gc.Int(low + vm.rng.Int63n(hi-low)), nil
	case "rand_seed":
		vm.rng.Seed(args[0].Int)
		return gc.Null(), nil

	case "file_read":
		data, err := os.ReadFile(argStr(args, 0))
		if err != nil {
			return vm.newStr(""), nil
		}
		return vm.newStr(string(data)), nil
	case "file_write":
		err := os.WriteFile(argStr(args, 0), []byte(argStr(args, 1)), 0o644)
		return gc.Bool(err == nil), nil
	case "file_append":
		f, err := os.OpenFile(argStr(args, 0), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return gc.Bool(false), nil
		}
		defer f.Close()
		_, err = f.WriteString(argStr(args, 1))
		return gc.Bool(err == nil), nil
	case "file_exists":
		_, err := os.Stat(argStr(args, 0))
		return gc.Bool(err == nil), nil
	case "file_delete":
		return gc.Bool(os.Remove(argStr(args, 0)) == nil), nil
	case "file_size":
		info, err := os.Stat(argStr(args, 0))
		if err != nil {
			return gc.Int(-1), nil
		}
		return gc.Int(info.Size()), nil
	case "file_copy":
		data, err := os.ReadFile(argStr(args, 0))
		if err != nil {
			return gc.Bool(false), nil
		}
		return gc.Bool(os.WriteFile(argStr(args, 1), data, 0o644) == nil), nil

	case "clock_ms":
		return gc.Int(time.Since(vm.startTime).Milliseconds()), nil
	case "sleep":
		time.Sleep(time.Duration(args[0].Int) * time.Millisecond)
		return gc.Null(), nil

	case "getenv":
		return vm.newStr(os.Getenv(argStr(args, 0))), nil
	case "argv":
		i := int(args[0].Int)
		if i < 0 || i >= len(vm.Args) {
			return vm.newStr(""), nil
		}
		return vm.newStr(vm.Args[i]), nil
	case "argc":
		return gc.Int(int64(len(vm.Args))), nil

	case "base64_encode":
		return vm.newStr(base64.StdEncoding.EncodeToString([]byte(argStr(args, 0)))), nil
	case "base64_decode":
		data, err := base64.StdEncoding.DecodeString(argStr(args, 0))
		if err != nil {
			return vm.newStr(""), nil
		}
		return vm.newStr(string(data)), nil
	case "hash_sha256":
		sum := sha256.Sum256([]byte(argStr(args, 0)))
		return vm.newStr(hex.EncodeToString(sum[:])), nil
	case "hash_md5":
		sum := md5.Sum([]byte(argStr(args, 0)))
		return vm.newStr(hex.EncodeToString(sum[:])), nil
	case "secure_compare":
		a, b := []byte(argStr(args, 0)), []byte(argStr(args, 1))
		return gc.Bool(len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1), nil
	case "rand_bytes":
		n := int(args[0].Int)
		buf := make([]byte, n)
		vm.rng.Read(buf)
		return vm.newStr(hex.EncodeToString(buf)), nil

	case "buf_new":
		return gc.Value{Kind: gc.KindBuffer, Obj: vm.heap.NewBuffer(nil)}, nil
	case "buf_push":
		buf := args[0].Obj.(*gc.Buffer)
		vm.heap.PushByte(buf, byte(args[1].Int))
		return gc.Null(), nil
	case "buf_len":
		return gc.Int(int64(len(args[0].Obj.(*gc.Buffer).Bytes))), nil
	case "buf_to_str":
		return vm.newStr(string(args[0].Obj.(*gc.Buffer).Bytes)), nil

	case "regex_match":
		re, err := regexp.Compile(argStr(args, 1))
		if err != nil {
			return gc.Bool(false), nil
		}
		return gc.Bool(re.MatchString(argStr(args, 0))), nil
	case "regex_find":
		re, err := regexp.Compile(argStr(args, 1))
		if err != nil {
			return vm.newStr(""), nil
		}
		return vm.newStr(re.FindString(argStr(args, 0))), nil
	case "regex_replace":
		re, err := regexp.Compile(argStr(args, 0))
		if err != nil {
			return vm.newStr(argStr(args, 1)), nil
		}
		return vm.newStr(re.ReplaceAllString(argStr(args, 1), argStr(args, 2))), nil

	case "type_of":
		return vm.newStr(kindName(args[0].Kind)), nil
	case "exit":
		vm.exited = true
		vm.exitCode = int(args[0].Int)
		panic(vmExit{})

	case "array_push":
		arr := args[0].Obj.(*gc.Array)
		vm.heap.Push(arr, args[1])
		return gc.Null(), nil
	case "array_pop":
		arr := args[0].Obj.(*gc.Array)
		if len(arr.Elems) == 0 {
			return gc.Null(), nil
		}
		last := arr.Elems[len(arr.Elems)-1]
		arr.Elems = arr.Elems[:len(arr.Elems)-1]
		return last, nil
	case "array_len":
		return gc.Int(int64(len(args[0].Obj.(*gc.Array).Elems))), nil
	case "array_get":
		arr := args[0].Obj.(*gc.Array)
		i := int(args[1].Int)
		if i < 0 || i >= len(arr.Elems) {
			return gc.Null(), fmt.Errorf("vm: array_get index %d out of range (len %d)", i, len(arr.Elems))
		}
		return arr.Elems[i], nil
	case "array_set":
		arr := args[0].Obj.(*gc.Array)
		i := int(args[1].Int)
		if i < 0 || i >= len(arr.Elems) {
			return gc.Null(), fmt.Errorf("vm: array_set index %d out of range (len %d)", i, len(arr.Elems))
		}
		arr.Elems[i] = args[2]
		return gc.Null(), nil
	case "array_map":
		arr := args[0].Obj.(*gc.Array)
		fnIndex := int(args[1].Int)
		out := make([]gc.Value, len(arr.Elems))
		for i, e := range arr.Elems {
			v, err := vm.call(fnIndex, []gc.Value{e})
			if err != nil {
				return gc.Null(), err
			}
			out[i] = v
		}
		return gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(out)}, nil
	case "array_filter":
		arr := args[0].Obj.(*gc.Array)
		fnIndex := int(args[1].Int)
		out := lo.Filter(arr.Elems, func(e gc.Value, _ int) bool {
			v, err := vm.call(fnIndex, []gc.Value{e})
			return err == nil && v.Truthy()
		})
		return gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(out)}, nil
	case "array_reduce":
		arr := args[0].Obj.(*gc.Array)
		fnIndex := int(args[1].Int)
		acc := args[2]
		for _, e := range arr.Elems {
			v, err := vm.call(fnIndex, []gc.Value{acc, e})
			if err != nil {
				return gc.Null(), err
			}
			acc = v
		}
		return acc, nil
	case "array_sort":
		arr := args[0].Obj.(*gc.Array)
		sorted := append([]gc.Value(nil), arr.Elems...)
		sort.SliceStable(sorted, func(i, j int) bool { return valueLess(sorted[i], sorted[j]) })
		return gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(sorted)}, nil

	case "map_len":
		return gc.Int(int64(args[0].Obj.(*gc.Map).Len())), nil
	case "map_has":
		_, ok := args[0].Obj.(*gc.Map).Get(args[1])
		return gc.Bool(ok), nil
	case "map_delete":
		return gc.Bool(args[0].Obj.(*gc.Map).Delete(args[1])), nil
	case "map_keys":
		keys := args[0].Obj.(*gc.Map).Keys()
		return gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(keys)}, nil

	default:
		return gc.Null(), fmt.Errorf("vm: unimplemented builtin %q", name)
	}
}

func argStr(args []gc.Value, i int) string {
	if args[i].Kind != gc.KindString {
		return args[i].String()
	}
	return args[i].Obj.(*gc.String).String()
}

func (vm *VM) newStr(s string) gc.Value {
	return gc.Value{Kind: gc.KindString, Obj: vm.heap.NewString([]byte(s))}
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func valueLess(a, b gc.Value) bool {
	switch a.Kind {
	case gc.KindInt:
		return a.Int < b.Int
	case gc.KindFloat:
		return a.Float < b.Float
	case gc.KindString:
		return a.Obj.(*gc.String).String() < b.Obj.(*gc.String).String()
	default:
		return false
	}
}

func kindName(k gc.Kind) string {
	switch k {
	case gc.KindInt:
		return "int"
	case gc.KindFloat:
		return "float"
	case gc.KindBool:
		return "bool"
	case gc.KindNull:
		return "null"
	case gc.KindString:
		return "str"
	case gc.KindArray:
		return "array"
	case gc.KindMap:
		return "map"
	case gc.KindRecord:
		return "struct"
	case gc.KindInstance:
		return "class"
	case gc.KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Package bytecode defines the on-disk and in-memory module format shared
// by the compiler (producer) and the virtual machine (consumer): a
// deduplicated string pool, struct/class type tables, and a function
// table of raw instruction streams.
package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies a single VM instruction.
type Opcode byte

const (
	OpConstInt Opcode = iota
	OpConstFloat
	OpConstBool
	OpConstStr
	OpConstNull
	OpPop
	OpDup

	OpLoadLocal
	OpStoreLocal
	OpLoadGlobal
	OpStoreGlobal

	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpModInt
	OpAddFloat
	OpSubFloat
	OpMulFloat
	OpDivFloat
	OpAddStr

	OpNegInt
	OpNegFloat
	OpBitNot
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr

	OpLtInt
	OpLeInt
	OpGtInt
	OpGeInt
	OpLtFloat
	OpLeFloat
	OpGtFloat
	OpGeFloat
	OpEq
	OpNeq

	OpNot
	OpJmp
	OpJmpIfFalse
	OpJmpIfFalseNoPop
	OpJmpIfTrueNoPop

	OpArrayNew
	OpArrayGet
	OpArraySet
	OpMapNew
	OpMapGet
	OpMapSet
	OpStructNew
	OpStructGet
	OpStructSet
	OpClassNew

	OpTryBegin
	OpTryEnd
	OpThrow

	OpToStr // converts top-of-stack to its string representation, used by f-string interpolation

	OpCall
	OpCallBuiltin
	OpStub // class-method / super / FFI dispatch: unresolved forms that stub out to null
	OpRet
)

var opcodeNames = map[Opcode]string{
	OpConstInt: "CONST_INT", OpConstFloat: "CONST_FLOAT", OpConstBool: "CONST_BOOL",
	OpConstStr: "CONST_STR", OpConstNull: "CONST_NULL", OpPop: "POP", OpDup: "DUP",
	OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL",
	OpLoadGlobal: "LOAD_GLOBAL", OpStoreGlobal: "STORE_GLOBAL",
	OpAddInt: "ADD_INT", OpSubInt: "SUB_INT", OpMulInt: "MUL_INT", OpDivInt: "DIV_INT", OpModInt: "MOD_INT",
	OpAddFloat: "ADD_FLOAT", OpSubFloat: "SUB_FLOAT", OpMulFloat: "MUL_FLOAT", OpDivFloat: "DIV_FLOAT",
	OpAddStr: "ADD_STR",
	OpNegInt:  "NEG_INT", OpNegFloat: "NEG_FLOAT", OpBitNot: "BIT_NOT",
	OpBitAnd: "BIT_AND", OpBitOr: "BIT_OR", OpBitXor: "BIT_XOR", OpShl: "SHL", OpShr: "SHR",
	OpLtInt: "LT_INT", OpLeInt: "LE_INT", OpGtInt: "GT_INT", OpGeInt: "GE_INT",
	OpLtFloat: "LT_FLOAT", OpLeFloat: "LE_FLOAT", OpGtFloat: "GT_FLOAT", OpGeFloat: "GE_FLOAT",
	OpEq: "EQ", OpNeq: "NEQ", OpNot: "NOT",
	OpJmp: "JMP", OpJmpIfFalse: "JMP_IF_FALSE",
	OpJmpIfFalseNoPop: "JMP_IF_FALSE_NOPOP", OpJmpIfTrueNoPop: "JMP_IF_TRUE_NOPOP",
	OpArrayNew: "ARRAY_NEW", OpArrayGet: "ARRAY_GET", OpArraySet: "ARRAY_SET",
	OpMapNew: "MAP_NEW", OpMapGet: "MAP_GET", OpMapSet: "MAP_SET",
	OpStructNew: "STRUCT_NEW", OpStructGet: "STRUCT_GET", OpStructSet: "STRUCT_SET",
	OpClassNew: "CLASS_NEW",
	OpTryBegin: "TRY_BEGIN", OpTryEnd: "TRY_END", OpThrow: "THROW",
	OpToStr: "TO_STR",
	OpCall: "CALL", OpCallBuiltin: "CALL_BUILTIN", OpStub: "STUB", OpRet: "RET",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

// TypeEntry describes one struct or class type for the VM's runtime type
// tables: its field names in declaration order (field index == slot index).
type TypeEntry struct {
	Name   string
	Fields []string
}

// Function is one compiled function: its raw code buffer plus the local
// table of string-pool indices referenced by OpConstStr within it.
type Function struct {
	Name       string
	Arity      uint16
	Locals     uint16
	Code       []byte
	StrConsts  []uint32 // local string-constant index -> pool index
}

// Module is the complete compiled unit: string pool, type tables, function
// table, and the entry-function index used by `run`.
type Module struct {
	Strings    []string
	Structs    []TypeEntry
	Classes    []TypeEntry
	Functions  []Function
	EntryFn    int32
	// InitFn indexes the synthetic function that assigns every top-level
	// global's initializer, or -1 if the module declares no globals. The
	// VM runs it once before EntryFn.
	InitFn      int32
	GlobalCount uint16
}

const (
	magic   = "EQVM"
	version = uint32(1)
)

// Write serializes m per the fixed binary layout: magic, version, string
// pool, struct table, class table, function table, entry index, init
// index, global count.
func Write(w io.Writer, m *Module) error {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, version)

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Strings)))
	for _, s := range m.Strings {
		writeString(&buf, s)
	}

	writeTypeTable(&buf, m.Structs)
	writeTypeTable(&buf, m.Classes)

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Functions)))
	for _, fn := range m.Functions {
		writeString(&buf, fn.Name)
		binary.Write(&buf, binary.LittleEndian, fn.Arity)
		binary.Write(&buf, binary.LittleEndian, fn.Locals)
		binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Code)))
		buf.Write(fn.Code)
		binary.Write(&buf, binary.LittleEndian, uint32(len(fn.StrConsts)))
		for _, idx := range fn.StrConsts {
			binary.Write(&buf, binary.LittleEndian, idx)
		}
	}

	binary.Write(&buf, binary.LittleEndian, m.EntryFn)
	binary.Write(&buf, binary.LittleEndian, m.InitFn)
	binary.Write(&buf, binary.LittleEndian, m.GlobalCount)

	_, err := w.Write(buf.Bytes())
	return err
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func writeTypeTable(buf *bytes.Buffer, table []TypeEntry) {
	binary.Write(buf, binary.LittleEndian, uint32(len(table)))
	for _, t := range table {
		writeString(buf, t.Name)
		binary.Write(buf, binary.LittleEndian, uint32(len(t.Fields)))
		for _, f := range t.Fields {
			writeString(buf, f)
		}
	}
}

// reader wraps a byte slice with a cursor; every method panics with
// io.ErrUnexpectedEOF-derived errors recovered by Read's deferred handler.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) u32() uint32 {
	if r.pos+4 > len(r.data) {
		panic(io.ErrUnexpectedEOF)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u16() uint16 {
	if r.pos+2 > len(r.data) {
		panic(io.ErrUnexpectedEOF)
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) bytes(n int) []byte {
	if r.pos+n > len(r.data) {
		panic(io.ErrUnexpectedEOF)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) str() string {
	n := int(r.u32())
	return string(r.bytes(n))
}

// Read parses a module from its binary form, validating the magic/version
// header and that every per-function string-constant index refers to a
// valid pool entry.
func Read(data []byte) (m *Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("bytecode: corrupt module: %v", rec)
		}
	}()

	r := &reader{data: data}
	if len(data) < 8 || string(r.bytes(4)) != magic {
		return nil, fmt.Errorf("bytecode: bad magic")
	}
	ver := r.u32()
	if ver != version {
		return nil, fmt.Errorf("bytecode: unsupported version %d", ver)
	}

	m = &Module{}
	n := r.u32()
	for i := uint32(0); i < n; i++ {
		m.Strings = append(m.Strings, r.str())
	}

	m.Structs = readTypeTable(r)
	m.Classes = readTypeTable(r)

	fnCount := r.u32()
	for i := uint32(0); i < fnCount; i++ {
		var fn Function
		fn.Name = r.str()
		fn.Arity = r.u16()
		fn.Locals = r.u16()
		codeLen := r.u32()
		fn.Code = append([]byte(nil), r.bytes(int(codeLen))...)
		scCount := r.u32()
		for j := uint32(0); j < scCount; j++ {
			idx := r.u32()
			if int(idx) >= len(m.Strings) {
				return nil, fmt.Errorf("bytecode: function %q references invalid string index %d", fn.Name, idx)
			}
			fn.StrConsts = append(fn.StrConsts, idx)
		}
		m.Functions = append(m.Functions, fn)
	}

	m.EntryFn = r.i32()
	m.InitFn = r.i32()
	m.GlobalCount = r.u16()
	return m, nil
}

func readTypeTable(r *reader) []TypeEntry {
	n := r.u32()
	table := make([]TypeEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var t TypeEntry
		t.Name = r.str()
		fc := r.u32()
		for j := uint32(0); j < fc; j++ {
			t.Fields = append(t.Fields, r.str())
		}
		table = append(table, t)
	}
	return table
}

package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Disassemble writes a human-readable instruction listing for every
// function in m to w: one line per instruction, offset-prefixed, with
// resolved string-pool content shown inline for OpConstStr.
func Disassemble(w io.Writer, m *Module) {
	for _, fn := range m.Functions {
		fmt.Fprintf(w, "fn %s(arity=%d locals=%d):\n", fn.Name, fn.Arity, fn.Locals)
		disassembleFunction(w, m, fn)
	}
}

func disassembleFunction(w io.Writer, m *Module, fn Function) {
	code := fn.Code
	i := 0
	for i < len(code) {
		op := Opcode(code[i])
		start := i
		i++
		switch op {
		case OpConstInt:
			v := int64(binary.LittleEndian.Uint64(code[i:]))
			i += 8
			fmt.Fprintf(w, "  %06d  %-20s %d\n", start, op, v)
		case OpConstFloat:
			bits := binary.LittleEndian.Uint64(code[i:])
			i += 8
			fmt.Fprintf(w, "  %06d  %-20s %v\n", start, op, math.Float64frombits(bits))
		case OpConstBool:
			v := code[i]
			i++
			fmt.Fprintf(w, "  %06d  %-20s %v\n", start, op, v != 0)
		case OpConstStr:
			local := binary.LittleEndian.Uint16(code[i:])
			i += 2
			s := ""
			if int(local) < len(fn.StrConsts) {
				poolIdx := fn.StrConsts[local]
				if int(poolIdx) < len(m.Strings) {
					s = m.Strings[poolIdx]
				}
			}
			fmt.Fprintf(w, "  %06d  %-20s %d %q\n", start, op, local, s)
		case OpLoadLocal, OpStoreLocal, OpLoadGlobal, OpStoreGlobal,
			OpArrayNew, OpMapNew, OpStructGet, OpStructSet, OpCall, OpCallBuiltin:
			v := binary.LittleEndian.Uint16(code[i:])
			i += 2
			if op == OpCall || op == OpCallBuiltin {
				argc := code[i]
				i++
				fmt.Fprintf(w, "  %06d  %-20s %d %d\n", start, op, v, argc)
			} else {
				fmt.Fprintf(w, "  %06d  %-20s %d\n", start, op, v)
			}
		case OpStub:
			argc := code[i]
			i++
			fmt.Fprintf(w, "  %06d  %-20s argc=%d\n", start, op, argc)
		case OpStructNew, OpClassNew:
			typeID := binary.LittleEndian.Uint16(code[i:])
			i += 2
			fieldCount := binary.LittleEndian.Uint16(code[i:])
			i += 2
			fmt.Fprintf(w, "  %06d  %-20s type=%d fields=%d\n", start, op, typeID, fieldCount)
		case OpJmp, OpJmpIfFalse, OpJmpIfFalseNoPop, OpJmpIfTrueNoPop:
			addr := binary.LittleEndian.Uint32(code[i:])
			i += 4
			fmt.Fprintf(w, "  %06d  %-20s -> %06d\n", start, op, addr)
		case OpTryBegin:
			catchAddr := binary.LittleEndian.Uint32(code[i:])
			i += 4
			finallyAddr := binary.LittleEndian.Uint32(code[i:])
			i += 4
			catchSlot := binary.LittleEndian.Uint16(code[i:])
			i += 2
			fmt.Fprintf(w, "  %06d  %-20s catch=%06d finally=%06d slot=%d\n", start, op, catchAddr, finallyAddr, catchSlot)
		default:
			fmt.Fprintf(w, "  %06d  %-20s\n", start, op)
		}
	}
}

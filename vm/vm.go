// Package vm implements the stack-based virtual machine that executes a
// compiled bytecode.Module: an iterative instruction dispatch loop over an
// explicit call-frame stack and exception-handler stack, backed by the gc
// package's mark-and-sweep heap.
package vm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"
	"unsafe"

	"github.com/google/uuid"

	"eqlang/bytecode"
	"eqlang/gc"
)

const (
	maxStackDepth   = 4096
	maxFrameDepth   = 256
	maxHandlerDepth = 64
)

// frame is one call-frame: the function being executed, its instruction
// pointer, and its local-slot array.
type frame struct {
	fn     *bytecode.Function
	ip     int
	locals []gc.Value
}

// handler is one installed try/catch region.
type handler struct {
	frameIdx    int
	catchAddr   uint32
	finallyAddr uint32
	catchSlot   uint16
	stackLen    int
}

// vmFault is an internal VM error (corrupt bytecode, resource exhaustion,
// an uncaught script exception) that unwinds via panic/recover up to the
// enclosing call's boundary rather than threading an error return through
// every opcode case.
type vmFault struct{ err error }

// vmExit signals the exit builtin: unwind immediately to Run without
// treating termination as an error.
type vmExit struct{}

// inlineCacheKey identifies one call site by the identity of the code
// buffer it lives in plus its byte offset, per the monomorphic inline
// cache design: a call site that resolves to the same target repeatedly
// skips re-deriving it.
type inlineCacheKey struct {
	code   uintptr
	offset int
}

// VM executes one loaded module to completion.
type VM struct {
	module *bytecode.Module
	heap   *gc.Heap

	stack    []gc.Value
	frames   []*frame
	handlers []handler
	globals  []gc.Value
	interned []gc.Value

	cache map[inlineCacheKey]int

	Stdout    io.Writer
	Stdin     io.Reader
	stdin     *bufio.Reader
	rng       *rand.Rand
	startTime time.Time
	Args      []string

	// RunID stamps every slog record this VM emits, so a test harness or
	// log aggregator running many sequential or concurrent programs can
	// tell which lines belong to which run.
	RunID  uuid.UUID
	logger *slog.Logger

	exited   bool
	exitCode int
}

// New prepares a VM to run m; globals are allocated but not yet
// initialized (Run invokes the compiler's synthesized $init function
// first, if present). logger may be nil, in which case slog.Default() is
// used.
func New(m *bytecode.Module, logger ...*slog.Logger) *VM {
	log := slog.Default()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}
	vm := &VM{
		module:    m,
		heap:      gc.NewHeap(),
		globals:   make([]gc.Value, m.GlobalCount),
		cache:     map[inlineCacheKey]int{},
		Stdout:    os.Stdout,
		Stdin:     os.Stdin,
		rng:       rand.New(rand.NewSource(1)),
		startTime: time.Now(),
		RunID:     uuid.New(),
		logger:    log,
	}
	vm.logger = vm.logger.With("run_id", vm.RunID.String())
	for i := range vm.globals {
		vm.globals[i] = gc.Null()
	}
	vm.interned = make([]gc.Value, len(m.Strings))
	for i, s := range m.Strings {
		vm.interned[i] = gc.Value{Kind: gc.KindString, Obj: vm.heap.NewString([]byte(s))}
	}
	return vm
}

// Run executes the module's init function (if any) followed by its entry
// function, returning the process exit code: the entry function's return
// value if it is an int, 0 otherwise.
func (vm *VM) Run() (int, error) {
	vm.logger.Debug("run started", "entry_fn", vm.module.EntryFn)
	if vm.module.InitFn >= 0 {
		if _, err := vm.call(int(vm.module.InitFn), nil); err != nil {
			vm.logger.Error("init function failed", "err", err)
			return 1, err
		}
	}
	if vm.module.EntryFn < 0 {
		return 0, fmt.Errorf("vm: module has no entry function")
	}
	result, err := vm.call(int(vm.module.EntryFn), nil)
	if vm.exited {
		vm.logger.Debug("run exited via exit builtin", "code", vm.exitCode)
		return vm.exitCode, nil
	}
	if err != nil {
		vm.logger.Warn("run ended with an uncaught error", "err", err)
		return 1, err
	}
	if result.Kind == gc.KindInt {
		return int(result.Int), nil
	}
	return 0, nil
}

// Eval runs the module's init function (if any) followed by its entry
// function and returns the entry function's raw result value, instead of
// collapsing it to a process exit code the way Run does. Used by the repl
// package, which needs to print whatever a line actually evaluated to
// (a string, a float, a record, ...), not just an int.
func (vm *VM) Eval() (gc.Value, error) {
	if vm.module.InitFn >= 0 {
		if _, err := vm.call(int(vm.module.InitFn), nil); err != nil {
			return gc.Null(), err
		}
	}
	if vm.module.EntryFn < 0 {
		return gc.Null(), fmt.Errorf("vm: module has no entry function")
	}
	return vm.call(int(vm.module.EntryFn), nil)
}

// stdinReader lazily wraps os.Stdin so VMs that never call read_line pay no
// buffering cost.
func (vm *VM) stdinReader() *bufio.Reader {
	if vm.stdin == nil {
		vm.stdin = bufio.NewReader(vm.Stdin)
	}
	return vm.stdin
}

func (vm *VM) push(v gc.Value) {
	if len(vm.stack) >= maxStackDepth {
		panic(vmFault{fmt.Errorf("vm: value stack overflow (max %d)", maxStackDepth)})
	}
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() gc.Value {
	if len(vm.stack) == 0 {
		panic(vmFault{fmt.Errorf("vm: value stack underflow")})
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) popN(n int) []gc.Value {
	out := make([]gc.Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = vm.pop()
	}
	return out
}

// pushFrame allocates a call frame for fnIndex, seeding its first slots
// with args, and pushes it onto the frame stack.
func (vm *VM) pushFrame(fnIndex int, args []gc.Value) error {
	if fnIndex < 0 || fnIndex >= len(vm.module.Functions) {
		return fmt.Errorf("vm: call to invalid function index %d", fnIndex)
	}
	if len(vm.frames) >= maxFrameDepth {
		return fmt.Errorf("vm: call frame stack overflow (max %d)", maxFrameDepth)
	}
	fn := &vm.module.Functions[fnIndex]
	locals := make([]gc.Value, fn.Locals)
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = gc.Null()
	}
	vm.frames = append(vm.frames, &frame{fn: fn, locals: locals})
	return nil
}

// call runs fnIndex to completion, including every nested call it makes,
// and returns its result. Script-to-script calls never recurse at the Go
// level: OpCall pushes onto the same frame stack this loop already owns.
// Only a builtin that invokes a callback (e.g. array_map) re-enters call()
// recursively.
func (vm *VM) call(fnIndex int, args []gc.Value) (result gc.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(vmExit); ok {
				err = nil
				result = gc.Int(int64(vm.exitCode))
				return
			}
			if vf, ok := r.(vmFault); ok {
				err = vf.err
				result = gc.Null()
				return
			}
			panic(r)
		}
	}()

	if err := vm.pushFrame(fnIndex, args); err != nil {
		return gc.Null(), err
	}
	baseDepth := len(vm.frames)

	for {
		if vm.heap.ShouldCollect() {
			vm.collectGarbage()
		}

		f := vm.frames[len(vm.frames)-1]
		if f.ip >= len(f.fn.Code) {
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) < baseDepth {
				return gc.Null(), nil
			}
			vm.push(gc.Null())
			continue
		}

		op := bytecode.Opcode(f.fn.Code[f.ip])
		f.ip++

		switch op {
		case bytecode.OpConstInt:
			vm.push(gc.Int(vm.readI64(f)))
		case bytecode.OpConstFloat:
			vm.push(gc.Float(vm.readF64(f)))
		case bytecode.OpConstBool:
			b := f.fn.Code[f.ip]
			f.ip++
			vm.push(gc.Bool(b != 0))
		case bytecode.OpConstStr:
			local := vm.readU16(f)
			vm.push(vm.lookupStrConst(f.fn, local))
		case bytecode.OpConstNull:
			vm.push(gc.Null())
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpDup:
			top := vm.stack[len(vm.stack)-1]
			vm.push(top)

		case bytecode.OpLoadLocal:
			idx := vm.readU16(f)
			vm.push(f.locals[idx])
		case bytecode.OpStoreLocal:
			idx := vm.readU16(f)
			f.locals[idx] = vm.pop()
		case bytecode.OpLoadGlobal:
			idx := vm.readU16(f)
			vm.push(vm.globals[idx])
		case bytecode.OpStoreGlobal:
			idx := vm.readU16(f)
			vm.globals[idx] = vm.pop()

		case bytecode.OpAddInt, bytecode.OpSubInt, bytecode.OpMulInt, bytecode.OpDivInt, bytecode.OpModInt:
			vm.binInt(op)
		case bytecode.OpAddFloat, bytecode.OpSubFloat, bytecode.OpMulFloat, bytecode.OpDivFloat:
			vm.binFloat(op)
		case bytecode.OpAddStr:
			b := vm.pop()
			a := vm.pop()
			vm.push(vm.concatStr(a, b))

		case bytecode.OpNegInt:
			v := vm.pop()
			vm.push(gc.Int(-v.Int))
		case bytecode.OpNegFloat:
			v := vm.pop()
			vm.push(gc.Float(-v.Float))
		case bytecode.OpBitNot:
			v := vm.pop()
			vm.push(gc.Int(^v.Int))
		case bytecode.OpBitAnd:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Int(a.Int & b.Int))
		case bytecode.OpBitOr:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Int(a.Int | b.Int))
		case bytecode.OpBitXor:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Int(a.Int ^ b.Int))
		case bytecode.OpShl:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Int(a.Int << uint(b.Int)))
		case bytecode.OpShr:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Int(a.Int >> uint(b.Int)))

		case bytecode.OpLtInt, bytecode.OpLeInt, bytecode.OpGtInt, bytecode.OpGeInt:
			vm.cmpInt(op)
		case bytecode.OpLtFloat, bytecode.OpLeFloat, bytecode.OpGtFloat, bytecode.OpGeFloat:
			vm.cmpFloat(op)
		case bytecode.OpEq:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Bool(vm.valuesEqual(a, b)))
		case bytecode.OpNeq:
			b, a := vm.pop(), vm.pop()
			vm.push(gc.Bool(!vm.valuesEqual(a, b)))
		case bytecode.OpNot:
			v := vm.pop()
			vm.push(gc.Bool(!v.Truthy()))

		case bytecode.OpJmp:
			addr := vm.readU32(f)
			f.ip = int(addr)
		case bytecode.OpJmpIfFalse:
			addr := vm.readU32(f)
			if !vm.pop().Truthy() {
				f.ip = int(addr)
			}
		case bytecode.OpJmpIfFalseNoPop:
			addr := vm.readU32(f)
			if !vm.stack[len(vm.stack)-1].Truthy() {
				f.ip = int(addr)
			}
		case bytecode.OpJmpIfTrueNoPop:
			addr := vm.readU32(f)
			if vm.stack[len(vm.stack)-1].Truthy() {
				f.ip = int(addr)
			}

		case bytecode.OpArrayNew:
			n := vm.readU16(f)
			elems := vm.popN(int(n))
			vm.push(gc.Value{Kind: gc.KindArray, Obj: vm.heap.NewArray(elems)})
		case bytecode.OpArrayGet:
			idx, container := vm.pop(), vm.pop()
			arr := container.Obj.(*gc.Array)
			i := int(idx.Int)
			if i < 0 || i >= len(arr.Elems) {
				panic(vmFault{fmt.Errorf("vm: array index %d out of range (len %d)", i, len(arr.Elems))})
			}
			vm.push(arr.Elems[i])
		case bytecode.OpArraySet:
			val, idx, container := vm.pop(), vm.pop(), vm.pop()
			arr := container.Obj.(*gc.Array)
			i := int(idx.Int)
			if i < 0 || i >= len(arr.Elems) {
				panic(vmFault{fmt.Errorf("vm: array index %d out of range (len %d)", i, len(arr.Elems))})
			}
			arr.Elems[i] = val

		case bytecode.OpMapNew:
			n := vm.readU16(f)
			m := vm.heap.NewMap()
			pairs := vm.popN(int(n) * 2)
			for i := 0; i+1 < len(pairs); i += 2 {
				m.Set(pairs[i], pairs[i+1])
			}
			vm.push(gc.Value{Kind: gc.KindMap, Obj: m})
		case bytecode.OpMapGet:
			key, container := vm.pop(), vm.pop()
			m := container.Obj.(*gc.Map)
			v, ok := m.Get(key)
			if !ok {
				panic(vmFault{fmt.Errorf("vm: map has no key %s", key)})
			}
			vm.push(v)
		case bytecode.OpMapSet:
			val, key, container := vm.pop(), vm.pop(), vm.pop()
			container.Obj.(*gc.Map).Set(key, val)

		case bytecode.OpStructNew:
			typeID := int(vm.readU16(f))
			fieldCount := int(vm.readU16(f))
			fields := vm.popN(fieldCount)
			rec := vm.heap.NewRecord(typeID, fieldCount)
			copy(rec.Fields, fields)
			vm.push(gc.Value{Kind: gc.KindRecord, Obj: rec})
		case bytecode.OpStructGet:
			idx := vm.readU16(f)
			obj := vm.pop()
			vm.push(vm.fieldsOf(obj)[idx])
		case bytecode.OpStructSet:
			idx := vm.readU16(f)
			val := vm.pop()
			obj := vm.pop()
			vm.fieldsOf(obj)[idx] = val
		case bytecode.OpClassNew:
			typeID := int(vm.readU16(f))
			fieldCount := int(vm.readU16(f))
			inst := vm.heap.NewInstance(typeID, fieldCount)
			vm.push(gc.Value{Kind: gc.KindInstance, Obj: inst})

		case bytecode.OpTryBegin:
			catchAddr := vm.readU32(f)
			finallyAddr := vm.readU32(f)
			catchSlot := vm.readU16(f)
			if len(vm.handlers) >= maxHandlerDepth {
				panic(vmFault{fmt.Errorf("vm: exception handler stack overflow (max %d)", maxHandlerDepth)})
			}
			vm.handlers = append(vm.handlers, handler{
				frameIdx: len(vm.frames) - 1, catchAddr: catchAddr, finallyAddr: finallyAddr,
				catchSlot: catchSlot, stackLen: len(vm.stack),
			})
		case bytecode.OpTryEnd:
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		case bytecode.OpThrow:
			vm.doThrow(vm.pop())

		case bytecode.OpToStr:
			v := vm.pop()
			vm.push(vm.toStrValue(v))

		case bytecode.OpCall:
			idx := vm.readU16(f)
			argc := f.fn.Code[f.ip]
			f.ip++
			args := vm.popN(int(argc))
			target := vm.resolveCallTarget(f.fn, f.ip-3, int(idx))
			if err := vm.pushFrame(target, args); err != nil {
				panic(vmFault{err})
			}
		case bytecode.OpCallBuiltin:
			id := vm.readU16(f)
			argc := f.fn.Code[f.ip]
			f.ip++
			args := vm.popN(int(argc))
			v, err := vm.callBuiltin(int(id), args)
			if err != nil {
				panic(vmFault{err})
			}
			vm.push(v)
		case bytecode.OpStub:
			argc := f.fn.Code[f.ip]
			f.ip++
			vm.popN(int(argc))
			vm.push(gc.Null())

		case bytecode.OpRet:
			val := vm.pop()
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) < baseDepth {
				return val, nil
			}
			vm.push(val)

		default:
			panic(vmFault{fmt.Errorf("vm: unknown opcode %d at %06d", op, f.ip-1)})
		}
	}
}

// resolveCallTarget looks up the inline cache for this call site before
// falling back to (and then populating it with) the statically resolved
// function index. Every OpCall target is already fixed at compile time, so
// the cache never observes a miss after its first hit; it exists to match
// the monomorphic-inline-cache design without adding indirection cost to
// the (already static) common case.
func (vm *VM) resolveCallTarget(code *bytecode.Function, offset int, fnIndex int) int {
	key := inlineCacheKey{code: codeIdentity(code), offset: offset}
	if cached, ok := vm.cache[key]; ok {
		return cached
	}
	vm.cache[key] = fnIndex
	return fnIndex
}

// codeIdentity returns fn's address in the module's function table. Every
// frame's fn pointer is taken from that same backing array (see pushFrame),
// so two distinct functions always compare unequal here even when their
// code happens to have the same length and leading opcode.
func codeIdentity(fn *bytecode.Function) uintptr {
	return uintptr(unsafe.Pointer(fn))
}

func (vm *VM) doThrow(msg gc.Value) {
	if len(vm.handlers) == 0 {
		panic(vmFault{fmt.Errorf("uncaught exception: %s", msg.String())})
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]
	vm.frames = vm.frames[:h.frameIdx+1]
	vm.stack = vm.stack[:h.stackLen]
	target := vm.frames[h.frameIdx]
	target.locals[h.catchSlot] = msg
	target.ip = int(h.catchAddr)
}

func (vm *VM) fieldsOf(v gc.Value) []gc.Value {
	switch v.Kind {
	case gc.KindRecord:
		return v.Obj.(*gc.Record).Fields
	case gc.KindInstance:
		return v.Obj.(*gc.Instance).Fields
	default:
		panic(vmFault{fmt.Errorf("vm: field access on non-struct value")})
	}
}

func (vm *VM) lookupStrConst(fn *bytecode.Function, local uint16) gc.Value {
	if int(local) >= len(fn.StrConsts) {
		panic(vmFault{fmt.Errorf("vm: invalid string-constant index %d", local)})
	}
	poolIdx := fn.StrConsts[local]
	if int(poolIdx) >= len(vm.interned) {
		panic(vmFault{fmt.Errorf("vm: invalid string pool index %d", poolIdx)})
	}
	return vm.interned[poolIdx]
}

func (vm *VM) readU16(f *frame) uint16 {
	v := binary.LittleEndian.Uint16(f.fn.Code[f.ip:])
	f.ip += 2
	return v
}

func (vm *VM) readU32(f *frame) uint32 {
	v := binary.LittleEndian.Uint32(f.fn.Code[f.ip:])
	f.ip += 4
	return v
}

func (vm *VM) readI64(f *frame) int64 {
	v := int64(binary.LittleEndian.Uint64(f.fn.Code[f.ip:]))
	f.ip += 8
	return v
}

func (vm *VM) readF64(f *frame) float64 {
	bits := binary.LittleEndian.Uint64(f.fn.Code[f.ip:])
	f.ip += 8
	return math.Float64frombits(bits)
}

func (vm *VM) binInt(op bytecode.Opcode) {
	b, a := vm.pop(), vm.pop()
	switch op {
	case bytecode.OpAddInt:
		vm.push(gc.Int(a.Int + b.Int))
	case bytecode.OpSubInt:
		vm.push(gc.Int(a.Int - b.Int))
	case bytecode.OpMulInt:
		vm.push(gc.Int(a.Int * b.Int))
	case bytecode.OpDivInt:
		if b.Int == 0 {
			panic(vmFault{fmt.Errorf("vm: integer division by zero")})
		}
		vm.push(gc.Int(a.Int / b.Int))
	case bytecode.OpModInt:
		if b.Int == 0 {
			panic(vmFault{fmt.Errorf("vm: integer modulo by zero")})
		}
		vm.push(gc.Int(a.Int % b.Int))
	}
}

func (vm *VM) binFloat(op bytecode.Opcode) {
	b, a := vm.pop(), vm.pop()
	switch op {
	case bytecode.OpAddFloat:
		vm.push(gc.Float(a.Float + b.Float))
	case bytecode.OpSubFloat:
		vm.push(gc.Float(a.Float - b.Float))
	case bytecode.OpMulFloat:
		vm.push(gc.Float(a.Float * b.Float))
	case bytecode.OpDivFloat:
		vm.push(gc.Float(a.Float / b.Float))
	}
}

func (vm *VM) cmpInt(op bytecode.Opcode) {
	b, a := vm.pop(), vm.pop()
	switch op {
	case bytecode.OpLtInt:
		vm.push(gc.Bool(a.Int < b.Int))
	case bytecode.OpLeInt:
		vm.push(gc.Bool(a.Int <= b.Int))
	case bytecode.OpGtInt:
		vm.push(gc.Bool(a.Int > b.Int))
	case bytecode.OpGeInt:
		vm.push(gc.Bool(a.Int >= b.Int))
	}
}

func (vm *VM) cmpFloat(op bytecode.Opcode) {
	b, a := vm.pop(), vm.pop()
	switch op {
	case bytecode.OpLtFloat:
		vm.push(gc.Bool(a.Float < b.Float))
	case bytecode.OpLeFloat:
		vm.push(gc.Bool(a.Float <= b.Float))
	case bytecode.OpGtFloat:
		vm.push(gc.Bool(a.Float > b.Float))
	case bytecode.OpGeFloat:
		vm.push(gc.Bool(a.Float >= b.Float))
	}
}

func (vm *VM) concatStr(a, b gc.Value) gc.Value {
	sa := vm.toStrValue(a).Obj.(*gc.String).String()
	sb := vm.toStrValue(b).Obj.(*gc.String).String()
	return gc.Value{Kind: gc.KindString, Obj: vm.heap.NewString([]byte(sa + sb))}
}

func (vm *VM) toStrValue(v gc.Value) gc.Value {
	if v.Kind == gc.KindString {
		return v
	}
	return gc.Value{Kind: gc.KindString, Obj: vm.heap.NewString([]byte(v.String()))}
}

func (vm *VM) valuesEqual(a, b gc.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case gc.KindInt:
		return a.Int == b.Int
	case gc.KindFloat:
		return a.Float == b.Float
	case gc.KindBool:
		return a.Bool == b.Bool
	case gc.KindNull:
		return true
	case gc.KindString:
		return a.Obj.(*gc.String).String() == b.Obj.(*gc.String).String()
	default:
		return a.Obj == b.Obj
	}
}

// collectGarbage gathers roots from every live frame's locals and the
// current value stack, plus interned strings, and runs one mark-and-sweep
// cycle.
func (vm *VM) collectGarbage() {
	roots := gc.Roots{Stack: vm.stack, Interned: vm.interned}
	for _, f := range vm.frames {
		roots.Locals = append(roots.Locals, f.locals...)
	}
	for _, g := range vm.globals {
		roots.Locals = append(roots.Locals, g)
	}
	vm.heap.Collect(roots)
}

// Package compiler translates a type-checked Module into a bytecode.Module:
// local-slot assignment, string-constant pool deduplication, and jump
// patching for control flow. It assumes the AST has already been annotated
// in place by package checker (FnIndex/FieldIndex/Qualified resolved).
package compiler

import (
	"encoding/binary"
	"fmt"
	"math"

	"eqlang/ast"
	"eqlang/bytecode"
	"eqlang/checker"
	"eqlang/types"
)

// Compile lowers mod into a bytecode.Module using the name/type tables ctx
// collected during checking. The entry function is named "main" if present.
func Compile(mod *ast.Module, ctx *checker.TypeContext) (*bytecode.Module, error) {
	c := &compiler{
		ctx:         ctx,
		pool:        map[string]uint32{},
		globalSlots: map[string]uint16{},
	}

	for _, g := range mod.Globals {
		slot := uint16(len(c.globalSlots))
		c.globalSlots[g.Name] = slot
	}

	c.structs = buildTypeTable(structNames(mod), func(name string) []string {
		return fieldNames(ctx.Structs[name].Fields)
	})
	c.classes = buildTypeTable(classNames(mod), func(name string) []string {
		return fieldNames(ctx.Classes[name].Fields)
	})

	bodies := collectFuncBodies(mod)

	fns := make([]bytecode.Function, len(ctx.FuncOrder))
	for i, name := range ctx.FuncOrder {
		fb, ok := bodies[name]
		if !ok {
			// Extern (FFI) declaration with no source body: compiled as a
			// stub that returns null, per the source's own open questions on
			// foreign-call dispatch.
			fns[i] = c.compileStubFunction(name, ctx.Functions[name])
			continue
		}
		fn, err := c.compileFunction(name, fb)
		if err != nil {
			return nil, err
		}
		fns[i] = fn
	}

	initFn := int32(-1)
	if len(mod.Globals) > 0 {
		fn, err := c.compileInitFunction(mod.Globals)
		if err != nil {
			return nil, err
		}
		initFn = int32(len(fns))
		fns = append(fns, fn)
	}

	m := &bytecode.Module{
		Strings:     internedStrings(c.pool),
		Structs:     c.structs,
		Classes:     c.classes,
		Functions:   fns,
		EntryFn:     -1,
		InitFn:      initFn,
		GlobalCount: uint16(len(c.globalSlots)),
	}
	if sig, ok := ctx.Functions["main"]; ok {
		m.EntryFn = int32(sig.FnIndex)
	}
	return m, nil
}

// compileInitFunction assigns every global's initializer expression, in
// declaration order, run once by the VM before the entry function.
func (c *compiler) compileInitFunction(globals []*ast.LetStatement) (bytecode.Function, error) {
	fc := newFuncCompiler(c, nil)
	for _, g := range globals {
		if err := fc.compileExpr(g.Value); err != nil {
			return bytecode.Function{}, fmt.Errorf("compiling global %s: %w", g.Name, err)
		}
		fc.emitOpcode(bytecode.OpStoreGlobal)
		fc.emitU16(c.globalSlots[g.Name])
	}
	fc.emitOpcode(bytecode.OpConstNull)
	fc.emitOpcode(bytecode.OpRet)
	return bytecode.Function{
		Name:      "$init",
		Arity:     0,
		Locals:    fc.nextLocal,
		Code:      fc.code,
		StrConsts: fc.strConsts,
	}, nil
}

type compiler struct {
	ctx         *checker.TypeContext
	pool        map[string]uint32
	globalSlots map[string]uint16
	structs     []bytecode.TypeEntry
	classes     []bytecode.TypeEntry
}

func (c *compiler) structTypeID(name string) (int, bool) {
	for i, s := range c.structs {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (c *compiler) findClass(name string) (bytecode.TypeEntry, int, bool) {
	for i, cl := range c.classes {
		if cl.Name == name {
			return cl, i, true
		}
	}
	return bytecode.TypeEntry{}, 0, false
}

func (c *compiler) internString(s string) uint32 {
	if idx, ok := c.pool[s]; ok {
		return idx
	}
	idx := uint32(len(c.pool))
	c.pool[s] = idx
	return idx
}

func internedStrings(pool map[string]uint32) []string {
	out := make([]string, len(pool))
	for s, idx := range pool {
		out[idx] = s
	}
	return out
}

func structNames(mod *ast.Module) []string {
	out := make([]string, len(mod.Structs))
	for i, s := range mod.Structs {
		out[i] = s.Name
	}
	return out
}

func classNames(mod *ast.Module) []string {
	out := make([]string, len(mod.Classes))
	for i, cl := range mod.Classes {
		out[i] = cl.Name
	}
	return out
}

func fieldNames(fields []ast.Param) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func buildTypeTable(names []string, fields func(string) []string) []bytecode.TypeEntry {
	out := make([]bytecode.TypeEntry, len(names))
	for i, n := range names {
		out[i] = bytecode.TypeEntry{Name: n, Fields: fields(n)}
	}
	return out
}

// funcBody is the compileable shape shared by top-level functions, methods,
// and lambdas.
type funcBody struct {
	params []ast.Param
	body   []ast.Statement
}

// collectFuncBodies walks every function-like construct in mod, including
// lambdas nested anywhere inside expressions, keyed by the same name the
// checker used when it assigned FnIndex.
func collectFuncBodies(mod *ast.Module) map[string]funcBody {
	out := map[string]funcBody{}
	reg := func(name string, params []ast.Param, body []ast.Statement) {
		out[name] = funcBody{params: params, body: body}
	}
	for _, fn := range mod.Functions {
		reg(fn.Name, fn.Params, fn.Body)
		walkStmtsForLambdas(fn.Body, reg)
	}
	// Methods take the receiver as an implicit first parameter, bound as
	// `self` the same way the checker binds it.
	withSelf := func(params []ast.Param) []ast.Param {
		return append([]ast.Param{{Name: "self"}}, params...)
	}
	for _, s := range mod.Structs {
		for _, m := range s.Methods {
			reg(s.Name+"."+m.Name, withSelf(m.Params), m.Body)
			walkStmtsForLambdas(m.Body, reg)
		}
	}
	for _, cl := range mod.Classes {
		for _, m := range cl.Methods {
			reg(cl.Name+"."+m.Name, withSelf(m.Params), m.Body)
			walkStmtsForLambdas(m.Body, reg)
		}
	}
	for _, g := range mod.Globals {
		if g.Value != nil {
			walkExprForLambdas(g.Value, reg)
		}
	}
	return out
}

type registerFn func(name string, params []ast.Param, body []ast.Statement)

func walkStmtsForLambdas(stmts []ast.Statement, reg registerFn) {
	for _, s := range stmts {
		walkStmtForLambdas(s, reg)
	}
}

func walkStmtForLambdas(s ast.Statement, reg registerFn) {
	switch st := s.(type) {
	case *ast.LetStatement:
		if st.Value != nil {
			walkExprForLambdas(st.Value, reg)
		}
	case *ast.AssignStatement:
		walkExprForLambdas(st.Value, reg)
	case *ast.IndexAssignStatement:
		walkExprForLambdas(st.Container, reg)
		walkExprForLambdas(st.Index, reg)
		walkExprForLambdas(st.Value, reg)
	case *ast.FieldAssignStatement:
		walkExprForLambdas(st.Object, reg)
		walkExprForLambdas(st.Value, reg)
	case *ast.ExpressionStatement:
		walkExprForLambdas(st.Expr, reg)
	case *ast.IfStatement:
		walkExprForLambdas(st.Condition, reg)
		walkStmtsForLambdas(st.Then, reg)
		walkStmtsForLambdas(st.Else, reg)
	case *ast.WhileStatement:
		walkExprForLambdas(st.Condition, reg)
		walkStmtsForLambdas(st.Body, reg)
	case *ast.ForRangeStatement:
		walkExprForLambdas(st.Start, reg)
		walkExprForLambdas(st.End, reg)
		walkStmtsForLambdas(st.Body, reg)
	case *ast.ForInStatement:
		walkExprForLambdas(st.Collection, reg)
		walkStmtsForLambdas(st.Body, reg)
	case *ast.ReturnStatement:
		if st.Value != nil {
			walkExprForLambdas(st.Value, reg)
		}
	case *ast.TryStatement:
		walkStmtsForLambdas(st.TryBlock, reg)
		walkStmtsForLambdas(st.CatchBlock, reg)
		walkStmtsForLambdas(st.FinallyBlock, reg)
	case *ast.ThrowStatement:
		walkExprForLambdas(st.Value, reg)
	case *ast.MatchStatement:
		walkExprForLambdas(st.Scrutinee, reg)
		for _, cs := range st.Cases {
			if cs.Pattern != nil {
				walkExprForLambdas(cs.Pattern, reg)
			}
			walkStmtsForLambdas(cs.Body, reg)
		}
	}
}

func walkExprForLambdas(e ast.Expression, reg registerFn) {
	switch n := e.(type) {
	case *ast.FString:
		for _, p := range n.Parts {
			if p.Expr != nil {
				walkExprForLambdas(p.Expr, reg)
			}
		}
	case *ast.UnaryExpression:
		walkExprForLambdas(n.Right, reg)
	case *ast.BinaryExpression:
		walkExprForLambdas(n.Left, reg)
		walkExprForLambdas(n.Right, reg)
	case *ast.TupleExpression:
		for _, el := range n.Elements {
			walkExprForLambdas(el, reg)
		}
	case *ast.ArrayLiteral:
		for _, el := range n.Elements {
			walkExprForLambdas(el, reg)
		}
	case *ast.MapLiteral:
		for _, p := range n.Pairs {
			walkExprForLambdas(p.Key, reg)
			walkExprForLambdas(p.Value, reg)
		}
	case *ast.IndexExpression:
		walkExprForLambdas(n.Container, reg)
		walkExprForLambdas(n.Index, reg)
	case *ast.RecordLiteral:
		for _, f := range n.Fields {
			walkExprForLambdas(f.Value, reg)
		}
	case *ast.FieldAccess:
		walkExprForLambdas(n.Object, reg)
	case *ast.CallExpression:
		for _, a := range n.Args {
			walkExprForLambdas(a, reg)
		}
	case *ast.MethodCall:
		walkExprForLambdas(n.Object, reg)
		for _, a := range n.Args {
			walkExprForLambdas(a, reg)
		}
	case *ast.NewExpression:
		for _, a := range n.Args {
			walkExprForLambdas(a, reg)
		}
	case *ast.SuperCall:
		for _, a := range n.Args {
			walkExprForLambdas(a, reg)
		}
	case *ast.LambdaExpression:
		reg(n.GeneratedName, n.Params, n.Body)
		walkStmtsForLambdas(n.Body, reg)
	}
}

func (c *compiler) compileStubFunction(name string, sig *checker.FuncSig) bytecode.Function {
	fc := newFuncCompiler(c, nil)
	fc.emitOpcode(bytecode.OpConstNull)
	fc.emitOpcode(bytecode.OpRet)
	arity := 0
	if sig != nil {
		arity = len(sig.Params)
	}
	return bytecode.Function{
		Name:      name,
		Arity:     uint16(arity),
		Locals:    fc.nextLocal,
		Code:      fc.code,
		StrConsts: fc.strConsts,
	}
}

func (c *compiler) compileFunction(name string, fb funcBody) (bytecode.Function, error) {
	fc := newFuncCompiler(c, nil)
	fc.env.enter()
	for _, p := range fb.params {
		fc.declareLocal(p.Name)
	}
	if err := fc.compileBlock(fb.body); err != nil {
		return bytecode.Function{}, fmt.Errorf("compiling %s: %w", name, err)
	}
	fc.env.exit()
	// Every path must end in a return; a trailing implicit one covers void
	// functions and functions whose last statement is not already a return.
	fc.emitOpcode(bytecode.OpConstNull)
	fc.emitOpcode(bytecode.OpRet)
	return bytecode.Function{
		Name:      name,
		Arity:     uint16(len(fb.params)),
		Locals:    fc.nextLocal,
		Code:      fc.code,
		StrConsts: fc.strConsts,
	}, nil
}

// localEnv is a block-scoped name -> slot table. Slots are never reused
// across sibling blocks: parameters get the first slots in declaration
// order, then each let-binding gets the next free slot in source order,
// matching the compiler's local-slot layout rule.
type localEnv struct {
	names []string
	slots []uint16
	marks []int
}

func (e *localEnv) enter() { e.marks = append(e.marks, len(e.names)) }

func (e *localEnv) exit() {
	mark := e.marks[len(e.marks)-1]
	e.marks = e.marks[:len(e.marks)-1]
	e.names = e.names[:mark]
	e.slots = e.slots[:mark]
}

func (e *localEnv) lookup(name string) (uint16, bool) {
	for i := len(e.names) - 1; i >= 0; i-- {
		if e.names[i] == name {
			return e.slots[i], true
		}
	}
	return 0, false
}

// funcCompiler accumulates one function's instruction stream.
type funcCompiler struct {
	c         *compiler
	env       *localEnv
	nextLocal uint16
	code      []byte
	strLocal  map[string]uint16
	strConsts []uint32

	loops []loopContext
}

type loopContext struct {
	breakPatches    []int
	continueTarget  int
}

func newFuncCompiler(c *compiler, _ *ast.Function) *funcCompiler {
	return &funcCompiler{c: c, env: &localEnv{}, strLocal: map[string]uint16{}}
}

func (fc *funcCompiler) declareLocal(name string) uint16 {
	slot := fc.nextLocal
	fc.nextLocal++
	fc.env.names = append(fc.env.names, name)
	fc.env.slots = append(fc.env.slots, slot)
	return slot
}

func (fc *funcCompiler) emitByte(b byte) int {
	fc.code = append(fc.code, b)
	return len(fc.code) - 1
}

func (fc *funcCompiler) emitOpcode(op bytecode.Opcode) int { return fc.emitByte(byte(op)) }

func (fc *funcCompiler) emitU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	fc.code = append(fc.code, buf[:]...)
}

func (fc *funcCompiler) emitU32At(pos int, v uint32) {
	binary.LittleEndian.PutUint32(fc.code[pos:], v)
}

// emitU32Placeholder reserves 4 bytes and returns their offset for later
// patching once the jump target is known.
func (fc *funcCompiler) emitU32Placeholder() int {
	pos := len(fc.code)
	fc.code = append(fc.code, 0, 0, 0, 0)
	return pos
}

func (fc *funcCompiler) emitI64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	fc.code = append(fc.code, buf[:]...)
}

func (fc *funcCompiler) emitF64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	fc.code = append(fc.code, buf[:]...)
}

func (fc *funcCompiler) here() uint32 { return uint32(len(fc.code)) }

func (fc *funcCompiler) internStringLocal(s string) uint16 {
	if idx, ok := fc.strLocal[s]; ok {
		return idx
	}
	poolIdx := fc.c.internString(s)
	local := uint16(len(fc.strConsts))
	fc.strConsts = append(fc.strConsts, poolIdx)
	fc.strLocal[s] = local
	return local
}

func (fc *funcCompiler) compileBlock(stmts []ast.Statement) error {
	for _, s := range stmts {
		if err := fc.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) compileStmt(s ast.Statement) error {
	switch st := s.(type) {
	case *ast.LetStatement:
		if st.Value == nil {
			fc.emitOpcode(bytecode.OpConstNull)
		} else if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		slot := fc.declareLocal(st.Name)
		fc.emitOpcode(bytecode.OpStoreLocal)
		fc.emitU16(slot)
		return nil

	case *ast.AssignStatement:
		if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		if slot, ok := fc.env.lookup(st.Name); ok {
			fc.emitOpcode(bytecode.OpStoreLocal)
			fc.emitU16(slot)
		} else if gslot, ok := fc.c.globalSlots[st.Name]; ok {
			fc.emitOpcode(bytecode.OpStoreGlobal)
			fc.emitU16(gslot)
		} else {
			return fmt.Errorf("compiler: assignment to unresolved name %q", st.Name)
		}
		return nil

	case *ast.IndexAssignStatement:
		if err := fc.compileExpr(st.Container); err != nil {
			return err
		}
		if err := fc.compileExpr(st.Index); err != nil {
			return err
		}
		if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		if st.Container.GetType().Kind == types.Map {
			fc.emitOpcode(bytecode.OpMapSet)
		} else {
			fc.emitOpcode(bytecode.OpArraySet)
		}
		return nil

	case *ast.FieldAssignStatement:
		if err := fc.compileExpr(st.Object); err != nil {
			return err
		}
		objType := st.Object.GetType()
		if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		fieldIdx := fc.c.resolveFieldIndex(objType, st.Field)
		fc.emitOpcode(bytecode.OpStructSet)
		fc.emitU16(uint16(fieldIdx))
		return nil

	case *ast.ExpressionStatement:
		if err := fc.compileExpr(st.Expr); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpPop)
		return nil

	case *ast.IfStatement:
		return fc.compileIf(st)

	case *ast.WhileStatement:
		return fc.compileWhile(st)

	case *ast.ForRangeStatement:
		return fc.compileForRange(st)

	case *ast.ForInStatement:
		return fc.compileForIn(st)

	case *ast.ReturnStatement:
		if st.Value == nil {
			fc.emitOpcode(bytecode.OpConstNull)
		} else if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpRet)
		return nil

	case *ast.BreakStatement:
		if len(fc.loops) == 0 {
			return fmt.Errorf("compiler: break outside a loop")
		}
		fc.emitOpcode(bytecode.OpJmp)
		pos := fc.emitU32Placeholder()
		top := &fc.loops[len(fc.loops)-1]
		top.breakPatches = append(top.breakPatches, pos)
		return nil

	case *ast.ContinueStatement:
		if len(fc.loops) == 0 {
			return fmt.Errorf("compiler: continue outside a loop")
		}
		fc.emitOpcode(bytecode.OpJmp)
		pos := fc.emitU32Placeholder()
		target := fc.loops[len(fc.loops)-1].continueTarget
		fc.emitU32At(pos, uint32(target))
		return nil

	case *ast.TryStatement:
		return fc.compileTry(st)

	case *ast.ThrowStatement:
		if err := fc.compileExpr(st.Value); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpThrow)
		return nil

	case *ast.MatchStatement:
		return fc.compileMatch(st)

	default:
		return fmt.Errorf("compiler: unhandled statement type %T", s)
	}
}

func (fc *funcCompiler) compileIf(st *ast.IfStatement) error {
	if err := fc.compileExpr(st.Condition); err != nil {
		return err
	}
	fc.emitOpcode(bytecode.OpJmpIfFalse)
	elsePatch := fc.emitU32Placeholder()

	fc.env.enter()
	if err := fc.compileBlock(st.Then); err != nil {
		return err
	}
	fc.env.exit()

	fc.emitOpcode(bytecode.OpJmp)
	endPatch := fc.emitU32Placeholder()

	fc.emitU32At(elsePatch, fc.here())
	fc.env.enter()
	if err := fc.compileBlock(st.Else); err != nil {
		return err
	}
	fc.env.exit()

	fc.emitU32At(endPatch, fc.here())
	return nil
}

func (fc *funcCompiler) compileWhile(st *ast.WhileStatement) error {
	start := fc.here()
	if err := fc.compileExpr(st.Condition); err != nil {
		return err
	}
	fc.emitOpcode(bytecode.OpJmpIfFalse)
	endPatch := fc.emitU32Placeholder()

	fc.loops = append(fc.loops, loopContext{continueTarget: int(start)})
	fc.env.enter()
	if err := fc.compileBlock(st.Body); err != nil {
		return err
	}
	fc.env.exit()
	loop := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]

	fc.emitOpcode(bytecode.OpJmp)
	backPatch := fc.emitU32Placeholder()
	fc.emitU32At(backPatch, start)

	fc.emitU32At(endPatch, fc.here())
	for _, p := range loop.breakPatches {
		fc.emitU32At(p, fc.here())
	}
	return nil
}

// compileForRange desugars `for v in range(a, b):` into a counted while
// loop over a hidden local holding the loop variable.
func (fc *funcCompiler) compileForRange(st *ast.ForRangeStatement) error {
	if err := fc.compileExpr(st.Start); err != nil {
		return err
	}
	fc.env.enter()
	slot := fc.declareLocal(st.Var)
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(slot)

	if err := fc.compileExpr(st.End); err != nil {
		return err
	}
	endSlot := fc.declareLocal("$range_end")
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(endSlot)

	start := fc.here()
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(slot)
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(endSlot)
	fc.emitOpcode(bytecode.OpLtInt)
	fc.emitOpcode(bytecode.OpJmpIfFalse)
	endPatch := fc.emitU32Placeholder()

	fc.loops = append(fc.loops, loopContext{continueTarget: -1})
	if err := fc.compileBlock(st.Body); err != nil {
		return err
	}
	loop := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]

	continueTarget := fc.here()
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(slot)
	fc.emitOpcode(bytecode.OpConstInt)
	fc.emitI64(1)
	fc.emitOpcode(bytecode.OpAddInt)
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(slot)

	fc.emitOpcode(bytecode.OpJmp)
	backPatch := fc.emitU32Placeholder()
	fc.emitU32At(backPatch, start)

	fc.emitU32At(endPatch, fc.here())
	for _, p := range loop.breakPatches {
		fc.emitU32At(p, fc.here())
	}
	_ = continueTarget
	fc.env.exit()
	return nil
}

// compileForIn desugars `for v in collection:` over an array into an
// index-counted while loop; a map is first replaced by the array its
// builtin map_keys returns, so map for-in iterates the keys the same way.
func (fc *funcCompiler) compileForIn(st *ast.ForInStatement) error {
	if err := fc.compileExpr(st.Collection); err != nil {
		return err
	}
	if st.Collection.GetType().Kind == types.Map {
		fc.emitOpcode(bytecode.OpCallBuiltin)
		fc.emitU16(uint16(checker.Builtins["map_keys"].ID))
		fc.code = append(fc.code, 1)
	}
	fc.env.enter()
	collSlot := fc.declareLocal("$foreach_coll")
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(collSlot)

	fc.emitOpcode(bytecode.OpConstInt)
	fc.emitI64(0)
	idxSlot := fc.declareLocal("$foreach_idx")
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(idxSlot)

	lenBuiltinID := checker.Builtins["array_len"].ID

	start := fc.here()
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(idxSlot)
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(collSlot)
	fc.emitOpcode(bytecode.OpCallBuiltin)
	fc.emitU16(uint16(lenBuiltinID))
	fc.code = append(fc.code, 1)
	fc.emitOpcode(bytecode.OpLtInt)
	fc.emitOpcode(bytecode.OpJmpIfFalse)
	endPatch := fc.emitU32Placeholder()

	fc.env.enter()
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(collSlot)
	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(idxSlot)
	fc.emitOpcode(bytecode.OpArrayGet)
	varSlot := fc.declareLocal(st.Var)
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(varSlot)

	fc.loops = append(fc.loops, loopContext{continueTarget: -1})
	if err := fc.compileBlock(st.Body); err != nil {
		return err
	}
	loop := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]
	fc.env.exit()

	fc.emitOpcode(bytecode.OpLoadLocal)
	fc.emitU16(idxSlot)
	fc.emitOpcode(bytecode.OpConstInt)
	fc.emitI64(1)
	fc.emitOpcode(bytecode.OpAddInt)
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(idxSlot)

	fc.emitOpcode(bytecode.OpJmp)
	backPatch := fc.emitU32Placeholder()
	fc.emitU32At(backPatch, start)

	fc.emitU32At(endPatch, fc.here())
	for _, p := range loop.breakPatches {
		fc.emitU32At(p, fc.here())
	}
	fc.env.exit()
	return nil
}

// compileTry only installs a handler region (TRY_BEGIN/TRY_END) when the
// statement has a catch clause: a bare try/finally has nothing to catch
// into, so it compiles as a plain sequence (try body, then finally),
// leaving propagation of an uncaught throw to an enclosing handler (or the
// program's top-level uncaught-exception exit) rather than a handler that
// would silently swallow it.
func (fc *funcCompiler) compileTry(st *ast.TryStatement) error {
	if !st.HasCatch {
		if err := fc.compileBlock(st.TryBlock); err != nil {
			return err
		}
		if st.HasFinally {
			fc.env.enter()
			if err := fc.compileBlock(st.FinallyBlock); err != nil {
				return err
			}
			fc.env.exit()
		}
		return nil
	}

	fc.emitOpcode(bytecode.OpTryBegin)
	catchPatch := fc.emitU32Placeholder()
	finallyPatch := fc.emitU32Placeholder()
	fc.env.enter()
	var catchSlot uint16
	if st.CatchVar != "" {
		catchSlot = fc.declareLocal(st.CatchVar)
	}
	fc.emitU16(catchSlot)

	if err := fc.compileBlock(st.TryBlock); err != nil {
		return err
	}
	fc.emitOpcode(bytecode.OpTryEnd)
	fc.emitOpcode(bytecode.OpJmp)
	afterCatchPatch := fc.emitU32Placeholder()

	fc.emitU32At(catchPatch, fc.here())
	if err := fc.compileBlock(st.CatchBlock); err != nil {
		return err
	}
	fc.emitU32At(afterCatchPatch, fc.here())
	fc.env.exit()

	fc.emitU32At(finallyPatch, fc.here())
	if st.HasFinally {
		fc.env.enter()
		if err := fc.compileBlock(st.FinallyBlock); err != nil {
			return err
		}
		fc.env.exit()
	}
	return nil
}

func (fc *funcCompiler) compileMatch(st *ast.MatchStatement) error {
	if err := fc.compileExpr(st.Scrutinee); err != nil {
		return err
	}
	fc.env.enter()
	scrutSlot := fc.declareLocal("$match_scrutinee")
	fc.emitOpcode(bytecode.OpStoreLocal)
	fc.emitU16(scrutSlot)

	var endPatches []int
	var nextCasePatch = -1
	for _, cs := range st.Cases {
		if nextCasePatch != -1 {
			fc.emitU32At(nextCasePatch, fc.here())
		}
		if cs.IsDefault {
			fc.env.enter()
			if err := fc.compileBlock(cs.Body); err != nil {
				return err
			}
			fc.env.exit()
			nextCasePatch = -1
			continue
		}
		fc.emitOpcode(bytecode.OpLoadLocal)
		fc.emitU16(scrutSlot)
		if err := fc.compileExpr(cs.Pattern); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpEq)
		fc.emitOpcode(bytecode.OpJmpIfFalse)
		nextCasePatch = fc.emitU32Placeholder()

		fc.env.enter()
		if err := fc.compileBlock(cs.Body); err != nil {
			return err
		}
		fc.env.exit()

		fc.emitOpcode(bytecode.OpJmp)
		endPatches = append(endPatches, fc.emitU32Placeholder())
	}
	if nextCasePatch != -1 {
		fc.emitU32At(nextCasePatch, fc.here())
	}
	for _, p := range endPatches {
		fc.emitU32At(p, fc.here())
	}
	fc.env.exit()
	return nil
}

// resolveFieldIndex mirrors checker.resolveFieldIndex: the checker
// validates field access during type-checking but does not persist the
// resolved index onto FieldAssignStatement, so the compiler recomputes it
// from the same struct/class field tables.
func (c *compiler) resolveFieldIndex(objType types.Type, field string) int {
	switch objType.Kind {
	case types.Struct:
		if def, ok := c.ctx.Structs[objType.Name]; ok {
			return def.FieldIndex(field)
		}
	case types.Class:
		if def, ok := c.ctx.Classes[objType.Name]; ok {
			return def.FieldIndex(field)
		}
	}
	return -1
}

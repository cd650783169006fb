// Package checker implements the whole-module static type checker: three
// passes (collect definitions, check globals, check function bodies) over
// a block-scoped name table, annotating the AST in place with inferred
// types and resolved call/field indices.
package checker

import (
	"fmt"
	"log/slog"

	"eqlang/ast"
	"eqlang/types"
)

// StubMarker flags a MethodCall/SuperCall whose dispatch the VM treats as
// a stub returning null: unresolved class method dispatch and super calls
// are out-of-scope extensions per the source's own open questions, not
// guessed-at semantics. Extern (FFI) declarations are not marked; they
// get a real function index whose compiled body returns null.
const StubMarker = -3

// FuncSig is a checked function signature, keyed by its (possibly
// qualified, in multi-module mode) name.
type FuncSig struct {
	Name    string
	Params  []types.Type
	Ret     types.Type
	FnIndex int
}

// TypeContext carries every module-scoped table the checker needs,
// threaded explicitly through every pass instead of held as globals (see
// the "Global tables during type-check" design note).
type TypeContext struct {
	Structs   map[string]*ast.StructDef
	Classes   map[string]*ast.ClassDef
	Enums     map[string]*ast.EnumDef
	Functions map[string]*FuncSig
	FuncOrder []string // insertion order, becomes function-table order
	Externs   map[string]*ast.Extern
	Imports   map[string]string // alias -> module path, for cross-module rewriting

	Globals map[string]types.Type

	lambdaCounter int
	logger        *slog.Logger
}

// NewTypeContext creates an empty context. A nil logger defaults to
// slog.Default().
func NewTypeContext(logger *slog.Logger) *TypeContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeContext{
		Structs:   map[string]*ast.StructDef{},
		Classes:   map[string]*ast.ClassDef{},
		Enums:     map[string]*ast.EnumDef{},
		Functions: map[string]*FuncSig{},
		Externs:   map[string]*ast.Extern{},
		Imports:   map[string]string{},
		Globals:   map[string]types.Type{},
		logger:    logger,
	}
}

// TypeError is a fatal type-check failure citing a source line.
type TypeError struct {
	Line int
	Msg  string
}

func (e *TypeError) Error() string { return fmt.Sprintf("type error at line %d: %s", e.Line, e.Msg) }

// scope is a stack of {name, type} bindings. Blocks mark the stack depth
// on entry and truncate back to it on exit.
type scope struct {
	names []string
	types []types.Type
	marks []int
}

func newScope() *scope { return &scope{} }

func (s *scope) enter() { s.marks = append(s.marks, len(s.names)) }

func (s *scope) exit() {
	mark := s.marks[len(s.marks)-1]
	s.marks = s.marks[:len(s.marks)-1]
	s.names = s.names[:mark]
	s.types = s.types[:mark]
}

// declareLocal returns false if name is already bound in the current
// (innermost) block.
func (s *scope) declareLocal(name string, t types.Type) bool {
	start := 0
	if len(s.marks) > 0 {
		start = s.marks[len(s.marks)-1]
	}
	for i := start; i < len(s.names); i++ {
		if s.names[i] == name {
			return false
		}
	}
	s.names = append(s.names, name)
	s.types = append(s.types, t)
	return true
}

func (s *scope) lookup(name string) (types.Type, bool) {
	for i := len(s.names) - 1; i >= 0; i-- {
		if s.names[i] == name {
			return s.types[i], true
		}
	}
	return types.Type{}, false
}

// checker holds the per-CheckModule call state: the shared context plus
// the function currently being checked (for return-type validation).
type checker struct {
	ctx     *TypeContext
	sc      *scope
	curFunc *FuncSig
}

// CheckModule runs all three passes over mod, returning the populated
// TypeContext or the first TypeError encountered. Passing a non-nil ctx
// lets multi-module compilation pre-seed qualified signatures from
// modules already checked (see package linker).
func CheckModule(mod *ast.Module, ctx *TypeContext) (*TypeContext, error) {
	if ctx == nil {
		ctx = NewTypeContext(nil)
	}
	c := &checker{ctx: ctx, sc: newScope()}

	if err := c.collectDefinitions(mod); err != nil {
		return nil, err
	}
	if err := c.checkGlobals(mod); err != nil {
		return nil, err
	}
	if err := c.checkFunctionBodies(mod); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (c *checker) fail(line int, format string, args ...any) error {
	err := &TypeError{Line: line, Msg: fmt.Sprintf(format, args...)}
	c.ctx.logger.Warn("type error", "line", line, "msg", err.Msg)
	return err
}

// ---------------------------------------------------------------------
// Pass 1: collect definitions
// ---------------------------------------------------------------------

func (c *checker) collectDefinitions(mod *ast.Module) error {
	for _, s := range mod.Structs {
		if _, dup := c.ctx.Structs[s.Name]; dup {
			return c.fail(s.Line(), "duplicate struct definition %q", s.Name)
		}
		c.ctx.Structs[s.Name] = s
	}
	for _, cl := range mod.Classes {
		if _, dup := c.ctx.Classes[cl.Name]; dup {
			return c.fail(cl.Line(), "duplicate class definition %q", cl.Name)
		}
		c.ctx.Classes[cl.Name] = cl
	}
	for _, e := range mod.Enums {
		if _, dup := c.ctx.Enums[e.Name]; dup {
			return c.fail(e.Line(), "duplicate enum definition %q", e.Name)
		}
		c.ctx.Enums[e.Name] = e
	}
	for _, ex := range mod.Externs {
		c.ctx.Externs[ex.Name] = ex
		if _, exists := c.ctx.Functions[ex.Name]; !exists {
			sig := &FuncSig{Name: ex.Name, Params: paramTypes(ex.Params), Ret: ex.ReturnType, FnIndex: len(c.ctx.FuncOrder)}
			c.ctx.Functions[ex.Name] = sig
			c.ctx.FuncOrder = append(c.ctx.FuncOrder, ex.Name)
		}
	}
	for _, imp := range mod.Imports {
		c.ctx.Imports[imp.Alias] = imp.ModulePath
	}
	for _, fn := range mod.Functions {
		if _, dup := c.ctx.Functions[fn.Name]; dup {
			return c.fail(fn.Line(), "duplicate function definition %q", fn.Name)
		}
		sig := &FuncSig{Name: fn.Name, Params: paramTypes(fn.Params), Ret: fn.ReturnType, FnIndex: len(c.ctx.FuncOrder)}
		c.ctx.Functions[fn.Name] = sig
		c.ctx.FuncOrder = append(c.ctx.FuncOrder, fn.Name)
		fn.FnIndex = sig.FnIndex
	}
	for _, s := range mod.Structs {
		for _, m := range s.Methods {
			c.registerMethod(s.Name, m)
		}
	}
	for _, cl := range mod.Classes {
		for _, m := range cl.Methods {
			c.registerMethod(cl.Name, m)
		}
	}
	return nil
}

func (c *checker) registerMethod(typeName string, m *ast.Function) {
	qualified := typeName + "." + m.Name
	sig := &FuncSig{Name: qualified, Params: paramTypes(m.Params), Ret: m.ReturnType, FnIndex: len(c.ctx.FuncOrder)}
	c.ctx.Functions[qualified] = sig
	c.ctx.FuncOrder = append(c.ctx.FuncOrder, qualified)
	m.FnIndex = sig.FnIndex
}

func paramTypes(params []ast.Param) []types.Type {
	out := make([]types.Type, len(params))
	for i, p := range params {
		out[i] = p.Type
	}
	return out
}

// ---------------------------------------------------------------------
// Pass 2: globals
// ---------------------------------------------------------------------

func (c *checker) checkGlobals(mod *ast.Module) error {
	for _, g := range mod.Globals {
		t, err := c.checkExpr(g.Value)
		if err != nil {
			return err
		}
		if g.HasType && !types.Equal(g.DeclaredType, t) {
			return c.fail(g.Line(), "global %q declared %s but initializer has type %s", g.Name, g.DeclaredType, t)
		}
		if !g.HasType {
			g.DeclaredType = t
		}
		c.ctx.Globals[g.Name] = g.DeclaredType
	}
	return nil
}

// ---------------------------------------------------------------------
// Pass 3: function bodies
// ---------------------------------------------------------------------

func (c *checker) checkFunctionBodies(mod *ast.Module) error {
	for _, fn := range mod.Functions {
		if err := c.checkFunction(fn); err != nil {
			return err
		}
	}
	for _, s := range mod.Structs {
		for _, m := range s.Methods {
			if err := c.checkMethod(s.Name, nil, m); err != nil {
				return err
			}
		}
	}
	for _, cl := range mod.Classes {
		for _, m := range cl.Methods {
			if err := c.checkMethod(cl.Name, cl, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *checker) checkFunction(fn *ast.Function) error {
	sig := c.ctx.Functions[fn.Name]
	c.curFunc = sig
	c.sc = newScope()
	c.openGlobalScope()
	c.sc.enter()
	for _, p := range fn.Params {
		c.sc.declareLocal(p.Name, p.Type)
	}
	if err := c.checkBlock(fn.Body); err != nil {
		return err
	}
	c.sc.exit()
	return nil
}

func (c *checker) checkMethod(typeName string, cl *ast.ClassDef, m *ast.Function) error {
	sig := c.ctx.Functions[typeName+"."+m.Name]
	c.curFunc = sig
	c.sc = newScope()
	c.openGlobalScope()
	c.sc.enter()
	c.sc.declareLocal("self", types.NamedClass(typeName))
	for _, p := range m.Params {
		c.sc.declareLocal(p.Name, p.Type)
	}
	if err := c.checkBlock(m.Body); err != nil {
		return err
	}
	c.sc.exit()
	return nil
}

func (c *checker) openGlobalScope() {
	c.sc.enter()
	for name, t := range c.ctx.Globals {
		c.sc.declareLocal(name, t)
	}
}

func (c *checker) checkBlock(stmts []ast.Statement) error {
	for _, s := range stmts {
		if err := c.checkStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkStmt(s ast.Statement) error {
	switch st := s.(type) {
	case *ast.LetStatement:
		return c.checkLet(st)
	case *ast.AssignStatement:
		t, err := c.checkExpr(st.Value)
		if err != nil {
			return err
		}
		declared, ok := c.sc.lookup(st.Name)
		if !ok {
			return c.fail(st.Line(), "assignment to undeclared name %q", st.Name)
		}
		if !types.Equal(declared, t) {
			return c.fail(st.Line(), "cannot assign %s to %q of type %s", t, st.Name, declared)
		}
		return nil
	case *ast.IndexAssignStatement:
		if _, err := c.checkExpr(st.Container); err != nil {
			return err
		}
		if _, err := c.checkExpr(st.Index); err != nil {
			return err
		}
		_, err := c.checkExpr(st.Value)
		return err
	case *ast.FieldAssignStatement:
		objType, err := c.checkExpr(st.Object)
		if err != nil {
			return err
		}
		if _, err := c.checkExpr(st.Value); err != nil {
			return err
		}
		c.resolveFieldIndex(objType, st.Field)
		return nil
	case *ast.ExpressionStatement:
		_, err := c.checkExpr(st.Expr)
		return err
	case *ast.IfStatement:
		condT, err := c.checkExpr(st.Condition)
		if err != nil {
			return err
		}
		if condT.Kind != types.Bool {
			return c.fail(st.Line(), "if condition must be bool, got %s", condT)
		}
		c.sc.enter()
		err = c.checkBlock(st.Then)
		c.sc.exit()
		if err != nil {
			return err
		}
		c.sc.enter()
		err = c.checkBlock(st.Else)
		c.sc.exit()
		return err
	case *ast.WhileStatement:
		condT, err := c.checkExpr(st.Condition)
		if err != nil {
			return err
		}
		if condT.Kind != types.Bool {
			return c.fail(st.Line(), "while condition must be bool, got %s", condT)
		}
		c.sc.enter()
		err = c.checkBlock(st.Body)
		c.sc.exit()
		return err
	case *ast.ForRangeStatement:
		startT, err := c.checkExpr(st.Start)
		if err != nil {
			return err
		}
		endT, err := c.checkExpr(st.End)
		if err != nil {
			return err
		}
		if !startT.IsInteger() || !endT.IsInteger() {
			return c.fail(st.Line(), "for-range endpoints must be int")
		}
		c.sc.enter()
		c.sc.declareLocal(st.Var, types.Primitive(types.Int))
		err = c.checkBlock(st.Body)
		c.sc.exit()
		return err
	case *ast.ForInStatement:
		collT, err := c.checkExpr(st.Collection)
		if err != nil {
			return err
		}
		var elemT types.Type
		switch collT.Kind {
		case types.Array:
			elemT = *collT.Elem
		case types.Map:
			elemT = *collT.Key
		default:
			return c.fail(st.Line(), "for-in requires array or map, got %s", collT)
		}
		c.sc.enter()
		c.sc.declareLocal(st.Var, elemT)
		err = c.checkBlock(st.Body)
		c.sc.exit()
		return err
	case *ast.ReturnStatement:
		if st.Value == nil {
			if c.curFunc != nil && c.curFunc.Ret.Kind != types.Void {
				return c.fail(st.Line(), "missing return value for non-void function")
			}
			return nil
		}
		t, err := c.checkExpr(st.Value)
		if err != nil {
			return err
		}
		if c.curFunc != nil && !types.Equal(c.curFunc.Ret, t) {
			return c.fail(st.Line(), "return type %s does not match declared %s", t, c.curFunc.Ret)
		}
		return nil
	case *ast.BreakStatement, *ast.ContinueStatement:
		return nil
	case *ast.TryStatement:
		c.sc.enter()
		err := c.checkBlock(st.TryBlock)
		c.sc.exit()
		if err != nil {
			return err
		}
		if st.HasCatch {
			c.sc.enter()
			if st.CatchVar != "" {
				c.sc.declareLocal(st.CatchVar, types.Primitive(types.Str))
			}
			err = c.checkBlock(st.CatchBlock)
			c.sc.exit()
			if err != nil {
				return err
			}
		}
		if st.HasFinally {
			c.sc.enter()
			err = c.checkBlock(st.FinallyBlock)
			c.sc.exit()
		}
		return err
	case *ast.ThrowStatement:
		t, err := c.checkExpr(st.Value)
		if err != nil {
			return err
		}
		if t.Kind != types.Str {
			return c.fail(st.Line(), "throw value must be str, got %s", t)
		}
		return nil
	case *ast.MatchStatement:
		if _, err := c.checkExpr(st.Scrutinee); err != nil {
			return err
		}
		for _, cs := range st.Cases {
			if !cs.IsDefault {
				if _, err := c.checkExpr(cs.Pattern); err != nil {
					return err
				}
			}
			c.sc.enter()
			err := c.checkBlock(cs.Body)
			c.sc.exit()
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("checker: unhandled statement type %T", s)
	}
}

func (c *checker) checkLet(st *ast.LetStatement) error {
	if st.Value == nil {
		if !c.sc.declareLocal(st.Name, st.DeclaredType) {
			return c.fail(st.Line(), "redeclaration of %q in the same block", st.Name)
		}
		return nil
	}
	t, err := c.checkExpr(st.Value)
	if err != nil {
		return err
	}
	if st.HasType && !types.Equal(st.DeclaredType, t) {
		return c.fail(st.Line(), "let %q declared %s but initializer has type %s", st.Name, st.DeclaredType, t)
	}
	if !st.HasType {
		st.DeclaredType = t
	}
	if !c.sc.declareLocal(st.Name, st.DeclaredType) {
		return c.fail(st.Line(), "redeclaration of %q in the same block", st.Name)
	}
	return nil
}

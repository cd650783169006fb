// Package linker implements multi-module compilation: transitive import
// discovery, topological ordering with cycle detection, qualified-name
// registration ("module$function"), and a single merged bytecode.Module
// built from every module's checked, qualified AST.
package linker

import (
	"fmt"

	"eqlang/ast"
	"eqlang/bytecode"
	"eqlang/checker"
	"eqlang/compiler"
	"eqlang/parser"
)

// Loader resolves a module path (as it appears in an `import` statement)
// to its source text.
type Loader func(path string) (string, error)

// Link walks entryPath's import graph transitively via load, topologically
// sorts it (failing on a cycle), type-checks every module against one
// shared checker.TypeContext so qualified names resolve across module
// boundaries, rewrites every cross-module call site to its resolved
// function-table index, and compiles the merged result into a single
// bytecode.Module whose entry function is the entry module's "main".
func Link(entryPath string, load Loader) (*bytecode.Module, error) {
	g := &grapher{load: load, modules: map[string]*ast.Module{}, visiting: map[string]bool{}, visited: map[string]bool{}}
	if err := g.visit(entryPath); err != nil {
		return nil, err
	}

	ctx := checker.NewTypeContext(nil)
	for _, path := range g.order {
		if path != entryPath {
			qualify(g.modules[path], path)
		}
		if _, err := checker.CheckModule(g.modules[path], ctx); err != nil {
			return nil, fmt.Errorf("linker: type-checking %q: %w", path, err)
		}
	}

	for _, path := range g.order {
		if err := resolveCrossModuleCalls(g.modules[path], ctx); err != nil {
			return nil, fmt.Errorf("linker: resolving cross-module calls in %q: %w", path, err)
		}
	}

	merged := mergeModules(g.order, g.modules)
	bc, err := compiler.Compile(merged, ctx)
	if err != nil {
		return nil, fmt.Errorf("linker: compiling merged program: %w", err)
	}
	return bc, nil
}

// grapher performs the transitive-import DFS and post-order topological
// sort (dependencies appear before their importers; the entry module is
// last).
type grapher struct {
	load     Loader
	modules  map[string]*ast.Module
	visiting map[string]bool
	visited  map[string]bool
	order    []string
}

func (g *grapher) visit(path string) error {
	if g.visited[path] {
		return nil
	}
	if g.visiting[path] {
		return fmt.Errorf("linker: import cycle detected at %q", path)
	}
	g.visiting[path] = true

	src, err := g.load(path)
	if err != nil {
		return fmt.Errorf("linker: loading %q: %w", path, err)
	}
	mod, err := parser.ParseModule(src)
	if err != nil {
		return fmt.Errorf("linker: parsing %q: %w", path, err)
	}
	g.modules[path] = mod

	for _, imp := range mod.Imports {
		if err := g.visit(imp.ModulePath); err != nil {
			return err
		}
	}

	g.visiting[path] = false
	g.visited[path] = true
	g.order = append(g.order, path)
	return nil
}

// qualify rewrites every top-level function's declaration name and every
// module-level global's name to "path$name" so imported modules never
// collide with each other or with the entry module's own names, which
// stay unqualified. Struct and class names are left bare: this system
// does not support cross-module type sharing.
func qualify(mod *ast.Module, path string) {
	for _, fn := range mod.Functions {
		fn.Name = path + "$" + fn.Name
	}
	for _, g := range mod.Globals {
		g.Name = path + "$" + g.Name
	}
}

// resolveCrossModuleCalls turns every `alias.function(...)` call site the
// checker marked with checker.CrossModuleMarker into a real function-table
// index, now that every module in the program has been registered against
// the shared TypeContext. Dotted call syntax always parses as MethodCall
// (DOT is its own token, never folded into an IDENT), so that is the only
// node kind that needs resolving.
func resolveCrossModuleCalls(mod *ast.Module, ctx *checker.TypeContext) error {
	var err error
	walkCalls(mod, func(n *ast.MethodCall) {
		if err != nil || n.FnIndex != checker.CrossModuleMarker || n.Qualified == "" {
			return
		}
		sig, ok := ctx.Functions[n.Qualified]
		if !ok {
			err = fmt.Errorf("undefined cross-module function %q", n.Qualified)
			return
		}
		n.FnIndex = sig.FnIndex
	})
	return err
}

// callWalk is invoked for every MethodCall reachable from a module.
type callWalk func(*ast.MethodCall)

// walkCalls visits every MethodCall anywhere in mod's function and method
// bodies.
func walkCalls(mod *ast.Module, w callWalk) {
	for _, fn := range mod.Functions {
		walkStmtsForCalls(fn.Body, w)
	}
	for _, s := range mod.Structs {
		for _, m := range s.Methods {
			walkStmtsForCalls(m.Body, w)
		}
	}
	for _, cl := range mod.Classes {
		for _, m := range cl.Methods {
			walkStmtsForCalls(m.Body, w)
		}
	}
	for _, g := range mod.Globals {
		if g.Value != nil {
			walkExprForCalls(g.Value, w)
		}
	}
}

func walkStmtsForCalls(stmts []ast.Statement, w callWalk) {
	for _, s := range stmts {
		walkStmtForCalls(s, w)
	}
}

func walkStmtForCalls(s ast.Statement, w callWalk) {
	switch st := s.(type) {
	case *ast.LetStatement:
		if st.Value != nil {
			walkExprForCalls(st.Value, w)
		}
	case *ast.AssignStatement:
		walkExprForCalls(st.Value, w)
	case *ast.IndexAssignStatement:
		walkExprForCalls(st.Container, w)
		walkExprForCalls(st.Index, w)
		walkExprForCalls(st.Value, w)
	case *ast.FieldAssignStatement:
		walkExprForCalls(st.Object, w)
		walkExprForCalls(st.Value, w)
	case *ast.ExpressionStatement:
		walkExprForCalls(st.Expr, w)
	case *ast.IfStatement:
		walkExprForCalls(st.Condition, w)
		walkStmtsForCalls(st.Then, w)
		walkStmtsForCalls(st.Else, w)
	case *ast.WhileStatement:
		walkExprForCalls(st.Condition, w)
		walkStmtsForCalls(st.Body, w)
	case *ast.ForRangeStatement:
		walkExprForCalls(st.Start, w)
		walkExprForCalls(st.End, w)
		walkStmtsForCalls(st.Body, w)
	case *ast.ForInStatement:
		walkExprForCalls(st.Collection, w)
		walkStmtsForCalls(st.Body, w)
	case *ast.ReturnStatement:
		if st.Value != nil {
			walkExprForCalls(st.Value, w)
		}
	case *ast.TryStatement:
		walkStmtsForCalls(st.TryBlock, w)
		walkStmtsForCalls(st.CatchBlock, w)
		walkStmtsForCalls(st.FinallyBlock, w)
	case *ast.ThrowStatement:
		walkExprForCalls(st.Value, w)
	case *ast.MatchStatement:
		walkExprForCalls(st.Scrutinee, w)
		for _, cs := range st.Cases {
			if cs.Pattern != nil {
				walkExprForCalls(cs.Pattern, w)
			}
			walkStmtsForCalls(cs.Body, w)
		}
	}
}

func walkExprForCalls(e ast.Expression, w callWalk) {
	switch n := e.(type) {
	case *ast.FString:
		for _, p := range n.Parts {
			if p.Expr != nil {
				walkExprForCalls(p.Expr, w)
			}
		}
	case *ast.UnaryExpression:
		walkExprForCalls(n.Right, w)
	case *ast.BinaryExpression:
		walkExprForCalls(n.Left, w)
		walkExprForCalls(n.Right, w)
	case *ast.TupleExpression:
		for _, el := range n.Elements {
			walkExprForCalls(el, w)
		}
	case *ast.ArrayLiteral:
		for _, el := range n.Elements {
			walkExprForCalls(el, w)
		}
	case *ast.MapLiteral:
		for _, p := range n.Pairs {
			walkExprForCalls(p.Key, w)
			walkExprForCalls(p.Value, w)
		}
	case *ast.IndexExpression:
		walkExprForCalls(n.Container, w)
		walkExprForCalls(n.Index, w)
	case *ast.RecordLiteral:
		for _, f := range n.Fields {
			walkExprForCalls(f.Value, w)
		}
	case *ast.FieldAccess:
		walkExprForCalls(n.Object, w)
	case *ast.CallExpression:
		for _, a := range n.Args {
			walkExprForCalls(a, w)
		}
	case *ast.MethodCall:
		w(n)
		walkExprForCalls(n.Object, w)
		for _, a := range n.Args {
			walkExprForCalls(a, w)
		}
	case *ast.NewExpression:
		for _, a := range n.Args {
			walkExprForCalls(a, w)
		}
	case *ast.SuperCall:
		for _, a := range n.Args {
			walkExprForCalls(a, w)
		}
	case *ast.LambdaExpression:
		walkStmtsForCalls(n.Body, w)
	}
}

// mergeModules concatenates every module's declarations (in dependency
// order, entry last) into one synthetic ast.Module for the compiler,
// which has no notion of "modules" of its own.
func mergeModules(order []string, modules map[string]*ast.Module) *ast.Module {
	merged := &ast.Module{Name: "$linked"}
	for _, path := range order {
		m := modules[path]
		merged.Functions = append(merged.Functions, m.Functions...)
		merged.Structs = append(merged.Structs, m.Structs...)
		merged.Classes = append(merged.Classes, m.Classes...)
		merged.Enums = append(merged.Enums, m.Enums...)
		merged.Unions = append(merged.Unions, m.Unions...)
		merged.Externs = append(merged.Externs, m.Externs...)
		merged.Globals = append(merged.Globals, m.Globals...)
	}
	return merged
}

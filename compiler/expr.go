package compiler

import (
	"fmt"

	"eqlang/ast"
	"eqlang/bytecode"
	"eqlang/checker"
	"eqlang/types"
)

// compileExpr emits code that leaves exactly one value on the stack.
func (fc *funcCompiler) compileExpr(e ast.Expression) error {
	switch n := e.(type) {
	case *ast.IntegerLiteral:
		fc.emitOpcode(bytecode.OpConstInt)
		fc.emitI64(n.Value)
		return nil

	case *ast.FloatLiteral:
		fc.emitOpcode(bytecode.OpConstFloat)
		fc.emitF64(n.Value)
		return nil

	case *ast.BooleanLiteral:
		fc.emitOpcode(bytecode.OpConstBool)
		if n.Value {
			fc.emitByte(1)
		} else {
			fc.emitByte(0)
		}
		return nil

	case *ast.NullLiteral:
		fc.emitOpcode(bytecode.OpConstNull)
		return nil

	case *ast.StringLiteral:
		fc.emitOpcode(bytecode.OpConstStr)
		fc.emitU16(fc.internStringLocal(n.Value))
		return nil

	case *ast.FString:
		return fc.compileFString(n)

	case *ast.Identifier:
		if slot, ok := fc.env.lookup(n.Value); ok {
			fc.emitOpcode(bytecode.OpLoadLocal)
			fc.emitU16(slot)
			return nil
		}
		if slot, ok := fc.c.globalSlots[n.Value]; ok {
			fc.emitOpcode(bytecode.OpLoadGlobal)
			fc.emitU16(slot)
			return nil
		}
		return fmt.Errorf("compiler: unresolved identifier %q", n.Value)

	case *ast.UnaryExpression:
		return fc.compileUnary(n)

	case *ast.BinaryExpression:
		return fc.compileBinary(n)

	case *ast.TupleExpression:
		for _, el := range n.Elements {
			if err := fc.compileExpr(el); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpArrayNew)
		fc.emitU16(uint16(len(n.Elements)))
		return nil

	case *ast.ArrayLiteral:
		for _, el := range n.Elements {
			if err := fc.compileExpr(el); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpArrayNew)
		fc.emitU16(uint16(len(n.Elements)))
		return nil

	case *ast.MapLiteral:
		for _, p := range n.Pairs {
			if err := fc.compileExpr(p.Key); err != nil {
				return err
			}
			if err := fc.compileExpr(p.Value); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpMapNew)
		fc.emitU16(uint16(len(n.Pairs)))
		return nil

	case *ast.IndexExpression:
		if err := fc.compileExpr(n.Container); err != nil {
			return err
		}
		if err := fc.compileExpr(n.Index); err != nil {
			return err
		}
		if n.Container.GetType().Kind == types.Map {
			fc.emitOpcode(bytecode.OpMapGet)
		} else {
			fc.emitOpcode(bytecode.OpArrayGet)
		}
		return nil

	case *ast.RecordLiteral:
		return fc.compileRecordLiteral(n)

	case *ast.FieldAccess:
		if err := fc.compileExpr(n.Object); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpStructGet)
		fc.emitU16(uint16(n.FieldIndex))
		return nil

	case *ast.CallExpression:
		return fc.compileCall(n)

	case *ast.MethodCall:
		return fc.compileMethodCall(n)

	case *ast.LambdaExpression:
		// Lambdas are compiled as separate functions (see
		// collectFuncBodies); in value position they are represented by
		// their function-table index, the VM's notion of a function
		// pointer.
		fc.emitOpcode(bytecode.OpConstInt)
		fc.emitI64(int64(n.FnIndex))
		return nil

	case *ast.NewExpression:
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
			fc.emitOpcode(bytecode.OpPop)
		}
		entry, typeID, ok := fc.c.findClass(n.ClassName)
		if !ok {
			return fmt.Errorf("compiler: unknown class %q", n.ClassName)
		}
		fc.emitOpcode(bytecode.OpClassNew)
		fc.emitU16(uint16(typeID))
		fc.emitU16(uint16(len(entry.Fields)))
		return nil

	case *ast.SuperCall:
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpStub)
		fc.emitByte(byte(len(n.Args)))
		return nil

	case *ast.EnumMemberExpression:
		fc.emitOpcode(bytecode.OpConstInt)
		fc.emitI64(n.Value)
		return nil

	default:
		return fmt.Errorf("compiler: unhandled expression type %T", e)
	}
}

func (fc *funcCompiler) compileFString(n *ast.FString) error {
	fc.emitOpcode(bytecode.OpConstStr)
	fc.emitU16(fc.internStringLocal(""))
	for _, p := range n.Parts {
		if p.Expr == nil {
			fc.emitOpcode(bytecode.OpConstStr)
			fc.emitU16(fc.internStringLocal(p.Literal))
		} else {
			if err := fc.compileExpr(p.Expr); err != nil {
				return err
			}
			if p.Expr.GetType().Kind != types.Str {
				fc.emitOpcode(bytecode.OpToStr)
			}
		}
		fc.emitOpcode(bytecode.OpAddStr)
	}
	return nil
}

func (fc *funcCompiler) compileRecordLiteral(n *ast.RecordLiteral) error {
	def, ok := fc.c.ctx.Structs[n.TypeName]
	if !ok {
		return fmt.Errorf("compiler: unknown struct %q", n.TypeName)
	}
	values := make([]ast.Expression, len(def.Fields))
	for _, fv := range n.Fields {
		idx := def.FieldIndex(fv.Name)
		values[idx] = fv.Value
	}
	for _, v := range values {
		if err := fc.compileExpr(v); err != nil {
			return err
		}
	}
	typeID, ok := fc.c.structTypeID(n.TypeName)
	if !ok {
		return fmt.Errorf("compiler: struct %q missing from type table", n.TypeName)
	}
	fc.emitOpcode(bytecode.OpStructNew)
	fc.emitU16(uint16(typeID))
	fc.emitU16(uint16(len(def.Fields)))
	return nil
}

func (fc *funcCompiler) compileUnary(n *ast.UnaryExpression) error {
	if err := fc.compileExpr(n.Right); err != nil {
		return err
	}
	t := n.Right.GetType()
	switch n.Operator {
	case "-":
		if t.Kind == types.Float {
			fc.emitOpcode(bytecode.OpNegFloat)
		} else {
			fc.emitOpcode(bytecode.OpNegInt)
		}
	case "not":
		fc.emitOpcode(bytecode.OpNot)
	case "~":
		fc.emitOpcode(bytecode.OpBitNot)
	default:
		return fmt.Errorf("compiler: unknown unary operator %q", n.Operator)
	}
	return nil
}

func (fc *funcCompiler) compileBinary(n *ast.BinaryExpression) error {
	// and/or enforce short-circuit semantics at runtime via the NoPop jump
	// variants: the left operand stays on the stack as the overall result
	// when it already determines the outcome.
	if n.Operator == "and" {
		if err := fc.compileExpr(n.Left); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpJmpIfFalseNoPop)
		shortCircuit := fc.emitU32Placeholder()
		fc.emitOpcode(bytecode.OpPop)
		if err := fc.compileExpr(n.Right); err != nil {
			return err
		}
		fc.emitU32At(shortCircuit, fc.here())
		return nil
	}
	if n.Operator == "or" {
		if err := fc.compileExpr(n.Left); err != nil {
			return err
		}
		fc.emitOpcode(bytecode.OpJmpIfTrueNoPop)
		shortCircuit := fc.emitU32Placeholder()
		fc.emitOpcode(bytecode.OpPop)
		if err := fc.compileExpr(n.Right); err != nil {
			return err
		}
		fc.emitU32At(shortCircuit, fc.here())
		return nil
	}

	if err := fc.compileExpr(n.Left); err != nil {
		return err
	}
	if err := fc.compileExpr(n.Right); err != nil {
		return err
	}
	lt := n.Left.GetType()
	isFloat := lt.Kind == types.Float
	switch n.Operator {
	case "+":
		switch {
		case lt.Kind == types.Str:
			fc.emitOpcode(bytecode.OpAddStr)
		case isFloat:
			fc.emitOpcode(bytecode.OpAddFloat)
		default:
			fc.emitOpcode(bytecode.OpAddInt)
		}
	case "-":
		if isFloat {
			fc.emitOpcode(bytecode.OpSubFloat)
		} else {
			fc.emitOpcode(bytecode.OpSubInt)
		}
	case "*":
		if isFloat {
			fc.emitOpcode(bytecode.OpMulFloat)
		} else {
			fc.emitOpcode(bytecode.OpMulInt)
		}
	case "/":
		if isFloat {
			fc.emitOpcode(bytecode.OpDivFloat)
		} else {
			fc.emitOpcode(bytecode.OpDivInt)
		}
	case "%":
		fc.emitOpcode(bytecode.OpModInt)
	case "==":
		fc.emitOpcode(bytecode.OpEq)
	case "!=":
		fc.emitOpcode(bytecode.OpNeq)
	case "<":
		if isFloat {
			fc.emitOpcode(bytecode.OpLtFloat)
		} else {
			fc.emitOpcode(bytecode.OpLtInt)
		}
	case "<=":
		if isFloat {
			fc.emitOpcode(bytecode.OpLeFloat)
		} else {
			fc.emitOpcode(bytecode.OpLeInt)
		}
	case ">":
		if isFloat {
			fc.emitOpcode(bytecode.OpGtFloat)
		} else {
			fc.emitOpcode(bytecode.OpGtInt)
		}
	case ">=":
		if isFloat {
			fc.emitOpcode(bytecode.OpGeFloat)
		} else {
			fc.emitOpcode(bytecode.OpGeInt)
		}
	case "&":
		fc.emitOpcode(bytecode.OpBitAnd)
	case "|":
		fc.emitOpcode(bytecode.OpBitOr)
	case "^":
		fc.emitOpcode(bytecode.OpBitXor)
	case "<<":
		fc.emitOpcode(bytecode.OpShl)
	case ">>":
		fc.emitOpcode(bytecode.OpShr)
	default:
		return fmt.Errorf("compiler: unknown binary operator %q", n.Operator)
	}
	return nil
}

func (fc *funcCompiler) compileCall(n *ast.CallExpression) error {
	switch n.FnIndex {
	case checker.BuiltinMarker:
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
		}
		sig := checker.Builtins[n.Function]
		fc.emitOpcode(bytecode.OpCallBuiltin)
		fc.emitU16(uint16(sig.ID))
		fc.code = append(fc.code, byte(len(n.Args)))
		return nil

	case checker.CrossModuleMarker, checker.StubMarker:
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpStub)
		fc.emitByte(byte(len(n.Args)))
		return nil

	default:
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpCall)
		fc.emitU16(uint16(n.FnIndex))
		fc.code = append(fc.code, byte(len(n.Args)))
		return nil
	}
}

func (fc *funcCompiler) compileMethodCall(n *ast.MethodCall) error {
	// A resolved cross-module call (package linker rewrote FnIndex from
	// CrossModuleMarker to a real function-table index) names a free
	// function in another module, not an instance method: there is no
	// implicit receiver to push.
	if n.Qualified != "" && n.FnIndex >= 0 {
		for _, a := range n.Args {
			if err := fc.compileExpr(a); err != nil {
				return err
			}
		}
		fc.emitOpcode(bytecode.OpCall)
		fc.emitU16(uint16(n.FnIndex))
		fc.code = append(fc.code, byte(len(n.Args)))
		return nil
	}

	if err := fc.compileExpr(n.Object); err != nil {
		return err
	}
	for _, a := range n.Args {
		if err := fc.compileExpr(a); err != nil {
			return err
		}
	}
	argc := len(n.Args) + 1 // +1 for the implicit self/receiver
	switch n.FnIndex {
	case checker.StubMarker, checker.CrossModuleMarker:
		fc.emitOpcode(bytecode.OpStub)
		fc.emitByte(byte(argc))
	default:
		fc.emitOpcode(bytecode.OpCall)
		fc.emitU16(uint16(n.FnIndex))
		fc.code = append(fc.code, byte(argc))
	}
	return nil
}

package codegen

import "github.com/wnnrd/pgsc/ast"

// compileExpr emits code for e and returns its type. When the result
// type is a single-register primitive, the value is left in the
// context's last-allocated temp register; otherwise it has been pushed
// onto the stack occupying exactly sizeOf(type) bytes (spec §4.G
// "Expressions").
func (c *Compiler) compileExpr(e ast.Expression) (ast.Type, error) {
	switch expr := e.(type) {
	case *ast.IntLit:
		reg, err := c.curCtx().regs.nextTemp()
		if err != nil {
			return ast.Type{}, err
		}
		c.b.ldi(expr.Value, reg)
		return ast.Int, nil

	case *ast.FloatLit:
		reg, err := c.curCtx().regs.nextTemp()
		if err != nil {
			return ast.Type{}, err
		}
		c.b.ldf(expr.Value, reg)
		return ast.Float, nil

	case *ast.BoolLit:
		reg, err := c.curCtx().regs.nextTemp()
		if err != nil {
			return ast.Type{}, err
		}
		c.b.ldb(expr.Value, reg)
		return ast.Bool, nil

	case *ast.StringLit:
		return c.compileStringLit(expr)

	case *ast.VariableExpr:
		return c.compileVariableRead(expr)

	case *ast.CallExpr:
		return c.compileCallExpr(expr)

	case *ast.BinaryExpr:
		return c.compileBinary(expr)

	case *ast.NotExpr:
		t, err := c.checkType(expr)
		if err != nil {
			return ast.Type{}, err
		}
		if _, err := c.compileExpr(expr.Operand); err != nil {
			return ast.Type{}, err
		}
		reg, err := c.curCtx().regs.lastTemp()
		if err != nil {
			return ast.Type{}, err
		}
		dst, err := c.curCtx().regs.nextTemp()
		if err != nil {
			return ast.Type{}, err
		}
		c.b.not(reg, dst)
		return t, nil

	case *ast.AssignExpr:
		return c.compileAssign(expr)

	default:
		return ast.Type{}, errUnsupportedExpression("unrecognized expression")
	}
}

// compileStringLit materializes the fat (length, address) pair directly
// on the stack via two LDA loads and two MOV_RA writes, the canonical
// path spec §9 designates for the two string layouts.
func (c *Compiler) compileStringLit(lit *ast.StringLit) (ast.Type, error) {
	length, offset := c.data.intern(lit.Value)
	ctx := c.curCtx()

	c.b.adduI(SP, 16, SP)
	ctx.stackSize += 16

	lenReg, err := ctx.regs.nextTemp()
	if err != nil {
		return ast.Type{}, err
	}
	c.b.lda(uint64(length), lenReg)
	c.b.movRA(movAddr, lenReg, SP, -16)

	addrReg, err := ctx.regs.nextTemp()
	if err != nil {
		return ast.Type{}, err
	}
	c.b.lda(uint64(offset), addrReg)
	c.b.movRA(movAddr, addrReg, SP, -8)

	return ast.String, nil
}

// compileVariableRead loads a primitive variable into a fresh register,
// or (for fat references / strings / aggregates) copies its bytes onto
// the top of the stack via MOVN_A.
func (c *Compiler) compileVariableRead(expr *ast.VariableExpr) (ast.Type, error) {
	slot, ok := c.lookupVar(expr.Name)
	if !ok {
		return ast.Type{}, errUnknownNamed(KindUnknownVariable, "variable", expr.Name)
	}
	ctx := c.curCtx()

	if isPrimitiveReg(slot.typ) {
		off := int16(slot.stackPos - c.totalStackSize())
		reg, err := ctx.regs.nextTemp()
		if err != nil {
			return ast.Type{}, err
		}
		c.b.movAR(movKindOf(slot.typ), SP, off, reg)
		return slot.typ, nil
	}

	size, err := c.sizeOf(slot.typ)
	if err != nil {
		return ast.Type{}, err
	}
	srcOff := int16(slot.stackPos-c.totalStackSize()) - int16(size)
	c.b.adduI(SP, uint64(size), SP)
	ctx.stackSize += size
	c.b.movNA(SP, srcOff, SP, int16(-size), uint32(size))
	return slot.typ, nil
}

func (c *Compiler) compileBinary(expr *ast.BinaryExpr) (ast.Type, error) {
	resultType, err := c.checkType(expr)
	if err != nil {
		return ast.Type{}, err
	}
	leftType, err := c.compileExpr(expr.Left)
	if err != nil {
		return ast.Type{}, err
	}
	leftReg, err := c.curCtx().regs.lastTemp()
	if err != nil {
		return ast.Type{}, err
	}
	if _, err := c.compileExpr(expr.Right); err != nil {
		return ast.Type{}, err
	}
	rightReg, err := c.curCtx().regs.lastTemp()
	if err != nil {
		return ast.Type{}, err
	}
	dst, err := c.curCtx().regs.nextTemp()
	if err != nil {
		return ast.Type{}, err
	}

	isFloat := leftType.Kind == ast.KindFloat

	switch expr.Op {
	case ast.OpAnd:
		c.b.and(leftReg, rightReg, dst)
	case ast.OpOr:
		c.b.or(leftReg, rightReg, dst)
	case ast.OpAdd:
		c.b.arith(arithAdd, isFloat, leftReg, rightReg, dst)
	case ast.OpSub:
		c.b.arith(arithSub, isFloat, leftReg, rightReg, dst)
	case ast.OpMul:
		c.b.arith(arithMul, isFloat, leftReg, rightReg, dst)
	case ast.OpDiv:
		c.b.arith(arithDiv, isFloat, leftReg, rightReg, dst)
	case ast.OpLt:
		c.b.arith(arithLt, isFloat, leftReg, rightReg, dst)
	case ast.OpGt:
		c.b.arith(arithGt, isFloat, leftReg, rightReg, dst)
	case ast.OpLe:
		c.b.arith(arithLtEq, isFloat, leftReg, rightReg, dst)
	case ast.OpGe:
		c.b.arith(arithGtEq, isFloat, leftReg, rightReg, dst)
	case ast.OpEq:
		c.b.arith(arithEq, isFloat, leftReg, rightReg, dst)
	case ast.OpNe:
		c.b.arith(arithNeq, isFloat, leftReg, rightReg, dst)
	default:
		return ast.Type{}, errUnsupportedExpression("unrecognized binary operator")
	}
	return resultType, nil
}

// compileAssign compiles the LHS as an address, evaluates the RHS, and
// writes it back through the saved pointer (spec §4.G "Assignment").
// Compound operators are desugared to lhs = lhs OP rhs with the correct
// operator for each form — unlike the source this was modeled on, which
// collapses -=, *=, /= into the same desugaring as +=.
func (c *Compiler) compileAssign(expr *ast.AssignExpr) (ast.Type, error) {
	varExpr, ok := expr.Left.(*ast.VariableExpr)
	if !ok {
		return ast.Type{}, errUnsupportedExpression("assignment target must be a variable")
	}
	slot, ok := c.lookupVar(varExpr.Name)
	if !ok {
		return ast.Type{}, errUnknownNamed(KindUnknownVariable, "variable", varExpr.Name)
	}

	var rhs ast.Expression
	switch expr.Op {
	case ast.AssignSet:
		rhs = expr.Right
	case ast.AssignAdd:
		rhs = &ast.BinaryExpr{Op: ast.OpAdd, Left: expr.Left, Right: expr.Right}
	case ast.AssignSub:
		rhs = &ast.BinaryExpr{Op: ast.OpSub, Left: expr.Left, Right: expr.Right}
	case ast.AssignMul:
		rhs = &ast.BinaryExpr{Op: ast.OpMul, Left: expr.Left, Right: expr.Right}
	case ast.AssignDiv:
		rhs = &ast.BinaryExpr{Op: ast.OpDiv, Left: expr.Left, Right: expr.Right}
	default:
		return ast.Type{}, errUnsupportedExpression("unrecognized assignment operator")
	}

	rhsType, err := c.checkType(rhs)
	if err != nil {
		return ast.Type{}, err
	}
	if !slot.typ.Equal(rhsType) {
		return ast.Type{}, errTypeMismatch(slot.typ, rhsType)
	}

	ctx := c.curCtx()

	off := slot.stackPos - c.totalStackSize()
	addrReg, err := ctx.regs.nextTemp()
	if err != nil {
		return ast.Type{}, err
	}
	c.b.subuI(SP, uint64(-off), addrReg)

	c.b.adduI(SP, 8, SP)
	ctx.stackSize += 8
	c.b.movRA(movAddr, addrReg, SP, -8)

	if _, err := c.compileExpr(rhs); err != nil {
		return ast.Type{}, err
	}
	valReg, err := ctx.regs.lastTemp()
	if err != nil {
		return ast.Type{}, err
	}

	ptrReg, err := ctx.regs.nextTemp()
	if err != nil {
		return ast.Type{}, err
	}
	c.b.movAR(movAddr, SP, -8, ptrReg)
	c.b.subuI(SP, 8, SP)
	ctx.stackSize -= 8

	if isPrimitiveReg(slot.typ) {
		c.b.movRA(movKindOf(slot.typ), valReg, ptrReg, 0)
		// Leave the assigned value in the last-allocated register as the
		// expression's result.
		c.b.movReg(movKindOf(slot.typ), valReg, ptrReg)
	} else {
		size, err := c.sizeOf(slot.typ)
		if err != nil {
			return ast.Type{}, err
		}
		c.b.movNA(SP, int16(-size), ptrReg, 0, uint32(size))
		c.b.subuI(SP, uint64(size), SP)
		ctx.stackSize -= size
	}
	return slot.typ, nil
}

// compileCallExpr lowers a function call: each argument is evaluated and
// placed adjacent on the stack, CALL is emitted against the callee's
// uid, and the return value is relocated down to where the arguments
// began before the stack is shrunk back (spec §4.G "Calls").
func (c *Compiler) compileCallExpr(expr *ast.CallExpr) (ast.Type, error) {
	fn, err := c.resolveFunction(expr.Path)
	if err != nil {
		return ast.Type{}, err
	}
	if len(expr.Args) != len(fn.args) {
		return ast.Type{}, errUnsupportedExpression("argument count mismatch calling " + expr.Path)
	}

	ctx := c.curCtx()
	var totalArgs int64

	for i, argExpr := range expr.Args {
		wantType := fn.args[i].Type
		gotType, err := c.checkType(argExpr)
		if err != nil {
			return ast.Type{}, err
		}
		if !wantType.Equal(gotType) {
			return ast.Type{}, errTypeMismatch(wantType, gotType)
		}

		valType, err := c.compileExpr(argExpr)
		if err != nil {
			return ast.Type{}, err
		}
		size, err := c.sizeOf(valType)
		if err != nil {
			return ast.Type{}, err
		}

		if isPrimitiveReg(valType) {
			reg, err := ctx.regs.lastTemp()
			if err != nil {
				return ast.Type{}, err
			}
			c.b.adduI(SP, uint64(size), SP)
			ctx.stackSize += size
			c.b.movRA(movKindOf(valType), reg, SP, int16(-size))
		}
		// Fat/aggregate arguments are already adjacent on top of stack
		// from compileExpr's own growth.

		totalArgs += size
	}

	retType := fn.ret
	retSize, err := c.sizeOf(retType)
	if err != nil {
		return ast.Type{}, err
	}

	c.b.call(fn.uid)

	if isPrimitiveReg(retType) {
		ctx.regs.force(R0)
	} else if retType.Kind != ast.KindVoid {
		ctx.stackSize += retSize
		c.b.movNA(SP, int16(-retSize), SP, int16(-(totalArgs + retSize)), uint32(retSize))
		c.b.subuI(SP, uint64(retSize), SP)
		ctx.stackSize -= retSize
	}

	if totalArgs > 0 {
		c.b.subuI(SP, uint64(totalArgs), SP)
		ctx.stackSize -= totalArgs
	}

	return retType, nil
}

package codegen

import "github.com/wnnrd/pgsc/ast"

func (c *Compiler) compileStmt(s ast.Statement) error {
	switch stmt := s.(type) {
	case *ast.VariableDecl:
		return c.compileVarDecl(stmt)
	case *ast.ExprStmt:
		return c.compileExprStmt(stmt)
	case *ast.ReturnStmt:
		return c.compileReturn(stmt)
	case *ast.IfStmt:
		return c.compileIf(stmt)
	case *ast.WhileStmt:
		return c.compileWhile(stmt)
	case *ast.BreakStmt:
		return c.compileBreak()
	case *ast.ContinueStmt:
		return c.compileContinue()
	default:
		return errUnsupportedExpression("unrecognized statement")
	}
}

// compileVarDecl evaluates stmt.Init and binds stmt.Name to the resulting
// slot (spec §4.G "Variable declarations").
func (c *Compiler) compileVarDecl(stmt *ast.VariableDecl) error {
	initType, err := c.checkType(stmt.Init)
	if err != nil {
		return err
	}
	declType := stmt.Type
	if declType.Kind == ast.KindAuto {
		declType = initType
	} else if !declType.Equal(initType) {
		return errTypeMismatch(declType, initType)
	}

	if _, err := c.compileExpr(stmt.Init); err != nil {
		return err
	}

	size, err := c.sizeOf(declType)
	if err != nil {
		return err
	}
	ctx := c.curCtx()

	if isPrimitiveReg(declType) {
		reg, err := ctx.regs.lastTemp()
		if err != nil {
			return err
		}
		c.b.adduI(SP, uint64(size), SP)
		ctx.stackSize += size
		c.b.movRA(movKindOf(declType), reg, SP, int16(-size))
	}
	// Otherwise the initializer already grew the stack by size bytes
	// (string/fat-reference/aggregate evaluation always leaves its result
	// on top of stack); nothing further to emit here.

	ctx.vars[stmt.Name] = varSlot{typ: declType, stackPos: c.totalStackSize() - size}
	return nil
}

// compileExprStmt discards any stack-resident result so stack_size
// returns to its pre-statement value (spec §8).
func (c *Compiler) compileExprStmt(stmt *ast.ExprStmt) error {
	t, err := c.compileExpr(stmt.Expr)
	if err != nil {
		return err
	}
	if t.Kind == ast.KindVoid || isPrimitiveReg(t) {
		return nil
	}
	size, err := c.sizeOf(t)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	ctx := c.curCtx()
	c.b.subuI(SP, uint64(size), SP)
	ctx.stackSize -= size
	return nil
}

// compileReturn type-checks against the nearest enclosing real function
// (skipping weak blocks and loop wrappers alike) and emits the full
// stack-cleanup-then-RET sequence (spec §4.G "Return").
func (c *Compiler) compileReturn(stmt *ast.ReturnStmt) error {
	ownerIdx := -1
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if c.funcs[i].def != nil {
			ownerIdx = i
			break
		}
	}
	if ownerIdx < 0 {
		return errUnsupportedExpression("return outside a function")
	}
	retType := c.funcs[ownerIdx].retType

	valType := ast.Void
	if stmt.Value != nil {
		t, err := c.checkType(stmt.Value)
		if err != nil {
			return err
		}
		if !t.Equal(retType) {
			return errTypeMismatch(retType, t)
		}
		if _, err := c.compileExpr(stmt.Value); err != nil {
			return err
		}
		valType = t
	} else if retType.Kind != ast.KindVoid {
		return errTypeMismatch(retType, ast.Void)
	}

	if isPrimitiveReg(valType) {
		reg, err := c.curCtx().regs.lastTemp()
		if err != nil {
			return err
		}
		c.b.movReg(movKindOf(valType), reg, R0)
	}

	var total int64
	for i := len(c.funcs) - 1; i >= ownerIdx; i-- {
		total += c.funcs[i].stackSize
	}

	if !isPrimitiveReg(valType) && valType.Kind != ast.KindVoid {
		size, err := c.sizeOf(valType)
		if err != nil {
			return err
		}
		c.b.movNA(SP, int16(-size), SP, int16(-total), uint32(size))
	}
	if total > 0 {
		c.b.subuI(SP, uint64(total), SP)
	}
	c.b.ret()
	return nil
}

// compileBlock pushes a fresh weak context, compiles stmts inside it, and
// collapses its incremental stack delta on exit.
func (c *Compiler) compileBlock(stmts []ast.Statement) error {
	ctx := newWeakContext(c.curCtx().retType)
	c.funcs = append(c.funcs, ctx)
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			c.funcs = c.funcs[:len(c.funcs)-1]
			return err
		}
	}
	if ctx.stackSize > 0 {
		c.b.subuI(SP, uint64(ctx.stackSize), SP)
	}
	c.funcs = c.funcs[:len(c.funcs)-1]
	return nil
}

// compileCondBranch compiles a Bool-typed condition and emits a JMPF to
// onFalse gated on its result register.
func (c *Compiler) compileCondBranch(cond ast.Expression, onFalse tag) error {
	t, err := c.checkType(cond)
	if err != nil {
		return err
	}
	if t.Kind != ast.KindBool {
		return errTypeMismatch(ast.Bool, t)
	}
	if _, err := c.compileExpr(cond); err != nil {
		return err
	}
	reg, err := c.curCtx().regs.lastTemp()
	if err != nil {
		return err
	}
	c.b.jmpCond(false, reg, onFalse)
	return nil
}

// compileIf implements the if/else-if/else chain of spec §4.G: a shared
// tag_end for every branch's exit jump, and a chain of tag_next sites
// patched to the start of the next branch as each is compiled.
func (c *Compiler) compileIf(stmt *ast.IfStmt) error {
	tagEnd := tag(c.uids.fresh())
	tagNext := tag(c.uids.fresh())

	if err := c.compileCondBranch(stmt.Cond, tagNext); err != nil {
		return err
	}
	if err := c.compileBlock(stmt.Then); err != nil {
		return err
	}
	c.b.jmp(tagEnd)

	for _, ei := range stmt.ElseIfs {
		c.b.patch(tagNext, c.b.offset())
		tagNext = tag(c.uids.fresh())
		if err := c.compileCondBranch(ei.Cond, tagNext); err != nil {
			return err
		}
		if err := c.compileBlock(ei.Then); err != nil {
			return err
		}
		c.b.jmp(tagEnd)
	}

	c.b.patch(tagNext, c.b.offset())
	if stmt.Else != nil {
		if err := c.compileBlock(stmt.Else); err != nil {
			return err
		}
	}
	c.b.patch(tagEnd, c.b.offset())
	return nil
}

// compileWhile implements spec §4.G "While": a strong loop-flagged
// context so break/continue can find their boundary, condition re-tested
// at loopStart, and tagEnd as the shared exit target.
func (c *Compiler) compileWhile(stmt *ast.WhileStmt) error {
	loopStart := c.b.offset()
	tagEnd := tag(c.uids.fresh())

	ctx := newLoopContext(c.curCtx().retType)
	c.funcs = append(c.funcs, ctx)
	c.loops = append(c.loops, &loopContext{start: loopStart, tagEnd: tagEnd})

	if err := c.compileCondBranch(stmt.Cond, tagEnd); err != nil {
		c.loops = c.loops[:len(c.loops)-1]
		c.funcs = c.funcs[:len(c.funcs)-1]
		return err
	}
	for _, s := range stmt.Body {
		if err := c.compileStmt(s); err != nil {
			c.loops = c.loops[:len(c.loops)-1]
			c.funcs = c.funcs[:len(c.funcs)-1]
			return err
		}
	}
	if ctx.stackSize > 0 {
		c.b.subuI(SP, uint64(ctx.stackSize), SP)
	}
	c.b.jmpTo(loopStart)

	c.loops = c.loops[:len(c.loops)-1]
	c.b.patch(tagEnd, c.b.offset())
	c.funcs = c.funcs[:len(c.funcs)-1]
	return nil
}

// unwindToLoop sums the stack sizes of every context from innermost up
// to and including the nearest loop boundary, for break/continue.
func (c *Compiler) unwindToLoop() (int64, error) {
	if len(c.loops) == 0 {
		return 0, errUnsupportedExpression("break/continue outside loop")
	}
	var total int64
	for i := len(c.funcs) - 1; i >= 0; i-- {
		total += c.funcs[i].stackSize
		if c.funcs[i].isLoop {
			return total, nil
		}
	}
	return total, nil
}

func (c *Compiler) compileBreak() error {
	total, err := c.unwindToLoop()
	if err != nil {
		return err
	}
	if total > 0 {
		c.b.subuI(SP, uint64(total), SP)
	}
	c.b.jmp(c.loops[len(c.loops)-1].tagEnd)
	return nil
}

func (c *Compiler) compileContinue() error {
	total, err := c.unwindToLoop()
	if err != nil {
		return err
	}
	if total > 0 {
		c.b.subuI(SP, uint64(total), SP)
	}
	c.b.jmpTo(c.loops[len(c.loops)-1].start)
	return nil
}

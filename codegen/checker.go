package codegen

import "github.com/wnnrd/pgsc/ast"

// checkType recursively computes e's type, or returns a TypeMismatch (or
// other CompileError) if e is ill-typed (component F / spec §4.F).
//
// checkType never mutates compiler state: it only reads the current
// function context stack and module tables, so calling it twice on the
// same expression yields the same answer (spec §8 "Type-checker
// idempotence").
func (c *Compiler) checkType(e ast.Expression) (ast.Type, error) {
	switch expr := e.(type) {
	case *ast.IntLit:
		return ast.Int, nil
	case *ast.FloatLit:
		return ast.Float, nil
	case *ast.BoolLit:
		return ast.Bool, nil
	case *ast.StringLit:
		return ast.String, nil

	case *ast.VariableExpr:
		slot, ok := c.lookupVar(expr.Name)
		if !ok {
			return ast.Type{}, errUnknownNamed(KindUnknownVariable, "variable", expr.Name)
		}
		return slot.typ, nil

	case *ast.CallExpr:
		fn, err := c.resolveFunction(expr.Path)
		if err != nil {
			return ast.Type{}, err
		}
		return fn.ret, nil

	case *ast.BinaryExpr:
		return c.checkBinary(expr)

	case *ast.NotExpr:
		t, err := c.checkType(expr.Operand)
		if err != nil {
			return ast.Type{}, err
		}
		if t.Kind != ast.KindBool {
			return ast.Type{}, errTypeMismatch(ast.Bool, t)
		}
		return ast.Bool, nil

	case *ast.AssignExpr:
		lhs, err := c.checkType(expr.Left)
		if err != nil {
			return ast.Type{}, err
		}
		rhs, err := c.checkType(expr.Right)
		if err != nil {
			return ast.Type{}, err
		}
		if !lhs.Equal(rhs) {
			return ast.Type{}, errTypeMismatch(lhs, rhs)
		}
		return lhs, nil

	default:
		return ast.Type{}, errUnsupportedExpression("unrecognized expression node")
	}
}

func (c *Compiler) checkBinary(expr *ast.BinaryExpr) (ast.Type, error) {
	lhs, err := c.checkType(expr.Left)
	if err != nil {
		return ast.Type{}, err
	}
	rhs, err := c.checkType(expr.Right)
	if err != nil {
		return ast.Type{}, err
	}

	switch expr.Op {
	case ast.OpAnd, ast.OpOr:
		if lhs.Kind != ast.KindBool {
			return ast.Type{}, errTypeMismatch(ast.Bool, lhs)
		}
		if rhs.Kind != ast.KindBool {
			return ast.Type{}, errTypeMismatch(ast.Bool, rhs)
		}
		return ast.Bool, nil

	case ast.OpLt, ast.OpGt, ast.OpLe, ast.OpGe, ast.OpEq, ast.OpNe:
		if !lhs.Equal(rhs) {
			return ast.Type{}, errTypeMismatch(lhs, rhs)
		}
		// Comparisons always yield Bool. The Rust source this was
		// modeled on returns lhs_type here instead; the spec is explicit
		// that the result is Bool, so that is what this returns.
		return ast.Bool, nil

	default: // arithmetic
		if !lhs.Equal(rhs) {
			return ast.Type{}, errTypeMismatch(lhs, rhs)
		}
		return lhs, nil
	}
}

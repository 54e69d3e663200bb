package vm_test

import (
	"testing"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/codegen"
	"github.com/wnnrd/pgsc/vm"
)

func assert(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatal(msg)
	}
}

// compileAndRun compiles decls (which must declare "main") and runs it,
// returning the VM and any run error.
func compileAndRun(t *testing.T, decls []ast.Declaration) (*vm.VM, error) {
	t.Helper()
	c := codegen.NewCompiler()
	prog, err := c.Compile(decls)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	uid, ok := c.FunctionUID("main")
	if !ok {
		t.Fatalf("main not found")
	}
	machine := vm.New(prog)
	runErr := machine.RunFunction(uid)
	return machine, runErr
}

func fn(name string, args []ast.Param, ret ast.Type, body ...ast.Statement) *ast.FunctionDecl {
	return &ast.FunctionDecl{Name: name, Args: args, Ret: ret, Body: body}
}

func TestAddition(t *testing.T) {
	// fn main() ~ int { return 1 + 2; }
	decls := []ast.Declaration{
		fn("main", nil, ast.Int,
			&ast.ReturnStmt{Value: &ast.BinaryExpr{
				Op:    ast.OpAdd,
				Left:  &ast.IntLit{Value: 1},
				Right: &ast.IntLit{Value: 2},
			}},
		),
	}
	machine, err := compileAndRun(t, decls)
	assert(t, err == nil, "expected clean run")
	assert(t, int64(machine.R(codegen.R0)) == 3, "expected R0 == 3")
}

func TestComparison(t *testing.T) {
	// fn main() ~ bool { var x: int = 5; return x > 3; }
	decls := []ast.Declaration{
		fn("main", nil, ast.Bool,
			&ast.VariableDecl{Name: "x", Type: ast.Int, Init: &ast.IntLit{Value: 5}},
			&ast.ReturnStmt{Value: &ast.BinaryExpr{
				Op:    ast.OpGt,
				Left:  &ast.VariableExpr{Name: "x"},
				Right: &ast.IntLit{Value: 3},
			}},
		),
	}
	machine, err := compileAndRun(t, decls)
	assert(t, err == nil, "expected clean run")
	assert(t, machine.R(codegen.R0) != 0, "expected R0 to be truthy")
}

func TestWhileLoopSum(t *testing.T) {
	// fn main() ~ int {
	//   var s: int = 0; var i: int = 0;
	//   while i < 10 { s = s + i; i = i + 1; }
	//   return s;
	// }
	decls := []ast.Declaration{
		fn("main", nil, ast.Int,
			&ast.VariableDecl{Name: "s", Type: ast.Int, Init: &ast.IntLit{Value: 0}},
			&ast.VariableDecl{Name: "i", Type: ast.Int, Init: &ast.IntLit{Value: 0}},
			&ast.WhileStmt{
				Cond: &ast.BinaryExpr{Op: ast.OpLt, Left: &ast.VariableExpr{Name: "i"}, Right: &ast.IntLit{Value: 10}},
				Body: []ast.Statement{
					&ast.ExprStmt{Expr: &ast.AssignExpr{
						Op:   ast.AssignSet,
						Left: &ast.VariableExpr{Name: "s"},
						Right: &ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.VariableExpr{Name: "s"}, Right: &ast.VariableExpr{Name: "i"}},
					}},
					&ast.ExprStmt{Expr: &ast.AssignExpr{
						Op:   ast.AssignSet,
						Left: &ast.VariableExpr{Name: "i"},
						Right: &ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.VariableExpr{Name: "i"}, Right: &ast.IntLit{Value: 1}},
					}},
				},
			},
			&ast.ReturnStmt{Value: &ast.VariableExpr{Name: "s"}},
		),
	}
	machine, err := compileAndRun(t, decls)
	assert(t, err == nil, "expected clean run")
	assert(t, int64(machine.R(codegen.R0)) == 45, "expected R0 == 45")
}

func TestBreak(t *testing.T) {
	// fn main() ~ int {
	//   var i: int = 0;
	//   while true { if i == 5 { break; } i = i + 1; }
	//   return i;
	// }
	decls := []ast.Declaration{
		fn("main", nil, ast.Int,
			&ast.VariableDecl{Name: "i", Type: ast.Int, Init: &ast.IntLit{Value: 0}},
			&ast.WhileStmt{
				Cond: &ast.BoolLit{Value: true},
				Body: []ast.Statement{
					&ast.IfStmt{
						Cond: &ast.BinaryExpr{Op: ast.OpEq, Left: &ast.VariableExpr{Name: "i"}, Right: &ast.IntLit{Value: 5}},
						Then: []ast.Statement{&ast.BreakStmt{}},
					},
					&ast.ExprStmt{Expr: &ast.AssignExpr{
						Op:   ast.AssignSet,
						Left: &ast.VariableExpr{Name: "i"},
						Right: &ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.VariableExpr{Name: "i"}, Right: &ast.IntLit{Value: 1}},
					}},
				},
			},
			&ast.ReturnStmt{Value: &ast.VariableExpr{Name: "i"}},
		),
	}
	machine, err := compileAndRun(t, decls)
	assert(t, err == nil, "expected clean run")
	assert(t, int64(machine.R(codegen.R0)) == 5, "expected R0 == 5")
}

func TestCallAcrossFunctions(t *testing.T) {
	// fn add(a: int, b: int) ~ int { return a + b; }
	// fn main() ~ int { return add(2, add(3, 4)); }
	decls := []ast.Declaration{
		fn("add", []ast.Param{{Name: "a", Type: ast.Int}, {Name: "b", Type: ast.Int}}, ast.Int,
			&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.VariableExpr{Name: "a"}, Right: &ast.VariableExpr{Name: "b"}}},
		),
		fn("main", nil, ast.Int,
			&ast.ReturnStmt{Value: &ast.CallExpr{
				Path: "add",
				Args: []ast.Expression{
					&ast.IntLit{Value: 2},
					&ast.CallExpr{Path: "add", Args: []ast.Expression{&ast.IntLit{Value: 3}, &ast.IntLit{Value: 4}}},
				},
			}},
		),
	}
	machine, err := compileAndRun(t, decls)
	assert(t, err == nil, "expected clean run")
	assert(t, int64(machine.R(codegen.R0)) == 9, "expected R0 == 9")
}

func TestTypeMismatchRejected(t *testing.T) {
	// fn main() ~ int { return 1 + true; }
	decls := []ast.Declaration{
		fn("main", nil, ast.Int,
			&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.IntLit{Value: 1}, Right: &ast.BoolLit{Value: true}}},
		),
	}
	c := codegen.NewCompiler()
	_, err := c.Compile(decls)
	assert(t, err != nil, "expected a TypeMismatch compile error")
	ce, ok := err.(*codegen.CompileError)
	assert(t, ok, "expected a *codegen.CompileError")
	assert(t, ce.Kind == codegen.KindTypeMismatch, "expected KindTypeMismatch")
}

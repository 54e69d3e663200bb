package codegen

import (
	"testing"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/host"
)

func assert(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatal(msg)
	}
}

func TestUIDForIsMemoized(t *testing.T) {
	g := newUIDGenerator()
	a := g.uidFor("root::main")
	b := g.uidFor("root::main")
	assert(t, a == b, "uid_for should return the same id for the same name")

	c := g.uidFor("root::other")
	assert(t, a != c, "uid_for should return different ids for different names")
}

func TestFreshAlwaysNew(t *testing.T) {
	g := newUIDGenerator()
	a := g.fresh()
	b := g.fresh()
	assert(t, a != b, "fresh should never repeat an id")
}

func TestEmptyProgramCodeEqualsData(t *testing.T) {
	c := NewCompiler()
	prog, err := c.Compile(nil)
	assert(t, err == nil, "compiling an empty decl list should not fail")
	assert(t, int64(len(prog.Code)) == prog.DataLen, "with no functions, code buffer should equal the data buffer")
}

func TestForeignArgOffsets(t *testing.T) {
	c := NewCompiler()
	m := host.NewModule("mathx")
	m.Functions["clampi"] = host.Function{
		Name:       "clampi",
		ArgTypes:   []ast.Type{ast.Int, ast.Int, ast.Int},
		ReturnType: ast.Int,
		Impl:       func(args []byte) ([]byte, error) { return nil, nil },
	}
	err := c.RegisterForeignRootModule(m)
	assert(t, err == nil, "registering a foreign module should not fail")

	fn := c.root.modules["mathx"].functions["clampi"]
	assert(t, fn != nil, "expected clampi to be registered")
	// three Int (8-byte) args: offsets -24, -16, -8
	assert(t, fn.argOffsets[0] == -24, "arg 0 offset should be -24")
	assert(t, fn.argOffsets[1] == -16, "arg 1 offset should be -16")
	assert(t, fn.argOffsets[2] == -8, "arg 2 offset should be -8")
}

func TestDuplicateFunctionRejected(t *testing.T) {
	c := NewCompiler()
	decls := []ast.Declaration{
		&ast.FunctionDecl{Name: "main", Ret: ast.Void},
		&ast.FunctionDecl{Name: "main", Ret: ast.Void},
	}
	_, err := c.Compile(decls)
	assert(t, err != nil, "expected a duplicate-function error")
	ce, ok := err.(*CompileError)
	assert(t, ok, "expected a *CompileError")
	assert(t, ce.Kind == KindDuplicateFunction, "expected KindDuplicateFunction")
}

func TestUnknownFunctionRejected(t *testing.T) {
	c := NewCompiler()
	decls := []ast.Declaration{
		&ast.FunctionDecl{Name: "main", Ret: ast.Void, Body: []ast.Statement{
			&ast.ExprStmt{Expr: &ast.CallExpr{Path: "doesNotExist"}},
		}},
	}
	_, err := c.Compile(decls)
	assert(t, err != nil, "expected an unknown-function error")
	ce, ok := err.(*CompileError)
	assert(t, ok, "expected a *CompileError")
	assert(t, ce.Kind == KindUnknownFunction, "expected KindUnknownFunction")
}

func TestSizeOf(t *testing.T) {
	c := NewCompiler()
	cases := []struct {
		t    ast.Type
		want int64
	}{
		{ast.Int, 8},
		{ast.Float, 4},
		{ast.Bool, 4},
		{ast.String, 16},
		{ast.Void, 0},
		{ast.Reference(ast.Int), 8},
		{ast.AutoArrayRef(ast.Int), 16},
		{ast.Array(ast.Int, 4), 32},
	}
	for _, tc := range cases {
		got, err := c.sizeOf(tc.t)
		assert(t, err == nil, "sizeOf should not fail for "+tc.t.String())
		assert(t, got == tc.want, "sizeOf("+tc.t.String()+") mismatch")
	}
}

func TestRegisterAllocatorWraps(t *testing.T) {
	a := newRegisterAllocator()
	var last Register
	for i := 0; i < numGeneralRegisters+1; i++ {
		r, err := a.nextTemp()
		assert(t, err == nil, "nextTemp should not fail within bounds")
		last = r
	}
	got, err := a.lastTemp()
	assert(t, err == nil, "lastTemp should not fail once allocated")
	assert(t, got == last, "lastTemp should return the most recently handed out register")
}

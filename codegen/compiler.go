// Package codegen implements the compiler described across spec §4: a
// two-pass (declare then compile) translator from a parsed declaration
// tree to a flat VM program image.
package codegen

import (
	"fmt"
	"strings"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/host"
)

// SP is the pseudo-register the stack pointer is addressed through.
// General-purpose temporaries occupy 0..numGeneralRegisters-1; SP lives
// outside that range so the two can never collide in an encoded operand.
const SP Register = 255

// Options configures a Compiler. The zero value is a compiler with
// tracing disabled, matching the teacher's plain bool/string parameter
// style rather than a config framework.
type Options struct {
	// Trace, if non-nil, is called with a printf-style format and args
	// at each major compilation step (start of the declare and compile
	// passes, function emission, program assembly). Defaults to a no-op.
	Trace func(format string, args ...any)
}

// Compiler is the component G driver: it owns the uid generator, data
// segment, instruction builder, module/function/loop context stacks, and
// the foreign function table, and orchestrates the declare and compile
// passes described in spec §4.G.
//
// A Compiler is single-use: call Compile once, then discard it. Re-using
// an instance after extraction is undefined, matching spec §5.
type Compiler struct {
	uids *uidGenerator
	data *dataSegment
	b    *builder

	root     *moduleContext
	modStack []*moduleContext

	funcs []*functionContext
	loops []*loopContext

	foreign map[uint64]*host.Function

	trace func(format string, args ...any)
}

// NewCompiler returns a Compiler ready for RegisterForeignRootModule calls
// followed by a single Compile call, with tracing disabled.
func NewCompiler() *Compiler {
	return NewCompilerWithOptions(Options{})
}

// NewCompilerWithOptions is like NewCompiler but lets the caller install a
// Trace hook (e.g. to back a CLI --debug flag).
func NewCompilerWithOptions(opts Options) *Compiler {
	root := newModuleContext("root", nil)
	trace := opts.Trace
	if trace == nil {
		trace = func(string, ...any) {}
	}
	return &Compiler{
		uids:     newUIDGenerator(),
		data:     newDataSegment(),
		b:        newBuilder(),
		root:     root,
		modStack: []*moduleContext{root},
		foreign:  make(map[uint64]*host.Function),
		trace:    trace,
	}
}

func (c *Compiler) curMod() *moduleContext {
	return c.modStack[len(c.modStack)-1]
}

func (c *Compiler) curCtx() *functionContext {
	return c.funcs[len(c.funcs)-1]
}

// totalStackSize sums the live stack contribution of every pushed
// function/block context, i.e. the stack_size invariant from spec §3.
func (c *Compiler) totalStackSize() int64 {
	var total int64
	for _, ctx := range c.funcs {
		total += ctx.stackSize
	}
	return total
}

func (c *Compiler) lookupVar(name string) (varSlot, bool) {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if slot, ok := c.funcs[i].vars[name]; ok {
			return slot, true
		}
	}
	return varSlot{}, false
}

func (c *Compiler) lookupContainer(name string) (*containerDef, bool) {
	for mod := c.curMod(); mod != nil; mod = mod.parent {
		if cont, ok := mod.containers[name]; ok {
			return cont, true
		}
	}
	return nil, false
}

// RegisterForeignRootModule attaches m under root::<m.Name>::… (spec §6
// "Input (host)"). Each function's arg sizes/offsets are computed here,
// mirroring spec §8's "every foreign function's arg_offsets[i] equals
// -Σ_{j≥i} size_of(arg_types[j])" property.
func (c *Compiler) RegisterForeignRootModule(m host.Module) error {
	return c.registerForeignModule(c.root, m)
}

func (c *Compiler) registerForeignModule(parent *moduleContext, m host.Module) error {
	child, ok := parent.modules[m.Name]
	if !ok {
		child = newModuleContext(m.Name, parent)
		parent.modules[m.Name] = child
	}
	for name, fn := range m.Functions {
		if _, exists := child.functions[name]; exists {
			return errDuplicate(KindDuplicateFunction, "function", name)
		}
		sizes := make([]int, len(fn.ArgTypes))
		for i, t := range fn.ArgTypes {
			sz, err := c.sizeOf(t)
			if err != nil {
				return err
			}
			sizes[i] = int(sz)
		}
		offsets := make([]int64, len(sizes))
		var running int64
		for i := len(sizes) - 1; i >= 0; i-- {
			running += int64(sizes[i])
			offsets[i] = -running
		}
		fn.ArgSizes = sizes
		fn.ArgOffsets = offsets

		qualified := child.path + "::" + name
		uid := c.uids.uidFor(qualified)
		child.functions[name] = &functionDef{
			qualifiedName: qualified,
			uid:           uid,
			args:          paramsFromHost(name, fn.ArgTypes),
			ret:           fn.ReturnType,
			foreign:       true,
			argOffsets:    offsets,
			argSizes:      sizes,
		}
		c.foreign[uid] = &fn
	}
	for _, nested := range m.Modules {
		if err := c.registerForeignModule(child, nested); err != nil {
			return err
		}
	}
	return nil
}

func paramsFromHost(fnName string, argTypes []ast.Type) []ast.Param {
	params := make([]ast.Param, len(argTypes))
	for i, t := range argTypes {
		params[i] = ast.Param{Name: fmt.Sprintf("%s_arg%d", fnName, i), Type: t}
	}
	return params
}

// Compile runs the declare pass then the compile pass over decls and
// extracts the final program image.
func (c *Compiler) Compile(decls []ast.Declaration) (*Program, error) {
	c.trace("declare pass: %d top-level declarations", len(decls))
	if err := c.declareDeclList(c.root, decls); err != nil {
		return nil, err
	}
	c.trace("compile pass")
	if err := c.compileDeclList(decls); err != nil {
		return nil, err
	}
	prog := c.assemble()
	c.trace("assembled program: %d bytes code, %d in-image functions, %d foreign",
		len(prog.Code), len(prog.Functions), len(prog.ForeignFunctions))
	return prog, nil
}

// FunctionUID resolves a fully qualified path (e.g. "main" or
// "root::sub::main") to the uid the declare pass assigned it, so a host
// can locate its entry point in Program.Functions after Compile returns.
func (c *Compiler) FunctionUID(path string) (uint64, bool) {
	parts := strings.Split(path, "::")
	mod := c.root
	if parts[0] == "root" {
		parts = parts[1:]
	}
	for _, seg := range parts[:len(parts)-1] {
		next, ok := mod.modules[seg]
		if !ok {
			return 0, false
		}
		mod = next
	}
	fn, ok := mod.functions[parts[len(parts)-1]]
	if !ok {
		return 0, false
	}
	return fn.uid, true
}

// --- declare pass ---

func (c *Compiler) declareDeclList(mod *moduleContext, decls []ast.Declaration) error {
	for _, d := range decls {
		if err := c.declareDecl(mod, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) declareDecl(mod *moduleContext, d ast.Declaration) error {
	switch decl := d.(type) {
	case *ast.FunctionDecl:
		return c.declareFunction(mod, decl)

	case *ast.ModuleDecl:
		if _, exists := mod.modules[decl.Name]; exists {
			return errDuplicate(KindDuplicateModule, "module", decl.Name)
		}
		child := newModuleContext(decl.Name, mod)
		mod.modules[decl.Name] = child
		return c.declareDeclList(child, decl.Decls)

	case *ast.ContainerDecl:
		if _, exists := mod.containers[decl.Name]; exists {
			return errDuplicate(KindDuplicateContainer, "container", decl.Name)
		}
		mod.containers[decl.Name] = &containerDef{name: decl.Name, members: decl.Members}
		return nil

	case *ast.ImportDecl:
		if _, exists := mod.imports[decl.Alias]; exists {
			return errDuplicate(KindDuplicateImport, "import", decl.Alias)
		}
		mod.imports[decl.Alias] = decl.Path
		return nil

	case *ast.ImplDecl:
		if decl.Type != decl.For {
			return errUnimplemented("impl for a type other than itself")
		}
		cont, exists := mod.containers[decl.Type]
		if !exists {
			cont = &containerDef{name: decl.Type}
			mod.containers[decl.Type] = cont
		}
		return c.declareImplMembers(mod, cont.name, decl.Decls)

	default:
		return errUnsupportedExpression("unrecognized declaration")
	}
}

func (c *Compiler) declareFunction(mod *moduleContext, fn *ast.FunctionDecl) error {
	if _, exists := mod.functions[fn.Name]; exists {
		return errDuplicate(KindDuplicateFunction, "function", fn.Name)
	}
	qualified := mod.path + "::" + fn.Name
	mod.functions[fn.Name] = &functionDef{
		qualifiedName: qualified,
		uid:           c.uids.uidFor(qualified),
		args:          fn.Args,
		ret:           fn.Ret,
	}
	return nil
}

// declareImplMembers attaches each member function under the synthetic
// key "<container>::<fn>" in the enclosing module's function table, so
// later resolution of "Container::method" style paths finds it as an
// ordinary (if compound-named) module-local function.
func (c *Compiler) declareImplMembers(mod *moduleContext, containerName string, decls []ast.Declaration) error {
	for _, d := range decls {
		fn, ok := d.(*ast.FunctionDecl)
		if !ok {
			return errUnimplemented("impl blocks may only contain functions")
		}
		localName := containerName + "::" + fn.Name
		if _, exists := mod.functions[localName]; exists {
			return errDuplicate(KindDuplicateFunction, "function", localName)
		}
		mod.functions[localName] = &functionDef{
			qualifiedName: mod.path + "::" + localName,
			uid:           c.uids.uidFor(mod.path + "::" + localName),
			args:          fn.Args,
			ret:           fn.Ret,
		}
	}
	return nil
}

// --- compile pass ---

func (c *Compiler) compileDeclList(decls []ast.Declaration) error {
	for _, d := range decls {
		if err := c.compileDecl(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileDecl(d ast.Declaration) error {
	mod := c.curMod()
	switch decl := d.(type) {
	case *ast.FunctionDecl:
		return c.compileFunction(mod.functions[decl.Name], decl)

	case *ast.ModuleDecl:
		child, ok := mod.modules[decl.Name]
		if !ok {
			panic("codegen: module " + decl.Name + " was not recorded by the declare pass")
		}
		c.modStack = append(c.modStack, child)
		err := c.compileDeclList(decl.Decls)
		c.modStack = c.modStack[:len(c.modStack)-1]
		return err

	case *ast.ContainerDecl, *ast.ImportDecl:
		return nil

	case *ast.ImplDecl:
		if decl.Type != decl.For {
			return nil
		}
		for _, id := range decl.Decls {
			fn, ok := id.(*ast.FunctionDecl)
			if !ok {
				continue
			}
			localName := decl.Type + "::" + fn.Name
			if err := c.compileFunction(mod.functions[localName], fn); err != nil {
				return err
			}
		}
		return nil

	default:
		return errUnsupportedExpression("unrecognized declaration")
	}
}

func (c *Compiler) resolveFunction(path string) (*functionDef, error) {
	parts := strings.Split(path, "::")

	if len(parts) == 1 {
		mod := c.curMod()
		if fn, ok := mod.functions[path]; ok {
			return fn, nil
		}
		if qualified, ok := mod.imports[path]; ok {
			return c.resolveFunction(qualified)
		}
		return nil, errUnknownNamed(KindUnknownFunction, "function", path)
	}

	switch parts[0] {
	case "root":
		mod := c.root
		for _, seg := range parts[1 : len(parts)-1] {
			next, ok := mod.modules[seg]
			if !ok {
				return nil, errUnknownNamed(KindUnknownModule, "module", seg)
			}
			mod = next
		}
		last := parts[len(parts)-1]
		fn, ok := mod.functions[last]
		if !ok {
			return nil, errUnknownNamed(KindUnknownFunction, "function", path)
		}
		return fn, nil

	case "super":
		return nil, errUnimplemented("super:: path resolution")

	default:
		mod := c.curMod()
		if fn, ok := mod.functions[path]; ok {
			// impl member declared under "<container>::<fn>"
			return fn, nil
		}
		for _, seg := range parts[:len(parts)-1] {
			next, ok := mod.modules[seg]
			if !ok {
				return nil, errUnknownNamed(KindUnknownModule, "module", seg)
			}
			mod = next
		}
		last := parts[len(parts)-1]
		fn, ok := mod.functions[last]
		if !ok {
			return nil, errUnknownNamed(KindUnknownFunction, "function", path)
		}
		return fn, nil
	}
}

// compileFunction emits one function's label, argument layout, and body,
// followed by the HALT 1 fallback that stops control from falling into
// the next function's code (spec §4.G "Function emission").
func (c *Compiler) compileFunction(fd *functionDef, decl *ast.FunctionDecl) error {
	if fd == nil {
		return errUnknownNamed(KindUnknownFunction, "function", decl.Name)
	}
	c.trace("emitting function %s (uid %d)", fd.qualifiedName, fd.uid)
	c.b.label(fd.qualifiedName)

	sizes := make([]int, len(decl.Args))
	for i, p := range decl.Args {
		sz, err := c.sizeOf(p.Type)
		if err != nil {
			return err
		}
		sizes[i] = int(sz)
	}
	offsets := make([]int64, len(sizes))
	var running int64
	for i := len(sizes) - 1; i >= 0; i-- {
		running += int64(sizes[i])
		offsets[i] = -running
	}
	fd.argSizes = sizes
	fd.argOffsets = offsets

	ctx := newFunctionContext(fd, fd.ret)
	for i, p := range decl.Args {
		ctx.vars[p.Name] = varSlot{typ: p.Type, stackPos: offsets[i]}
	}
	c.funcs = append(c.funcs, ctx)

	terminated := false
	for _, stmt := range decl.Body {
		if err := c.compileStmt(stmt); err != nil {
			c.funcs = c.funcs[:len(c.funcs)-1]
			return err
		}
		if _, ok := stmt.(*ast.ReturnStmt); ok {
			terminated = true
		}
	}
	if !terminated {
		if fd.ret.Kind != ast.KindVoid {
			c.funcs = c.funcs[:len(c.funcs)-1]
			return errTypeMismatch(fd.ret, ast.Void)
		}
		if ctx.stackSize > 0 {
			c.b.subuI(SP, uint64(ctx.stackSize), SP)
		}
		c.b.ret()
	}
	c.b.halt(1)
	c.funcs = c.funcs[:len(c.funcs)-1]
	return nil
}

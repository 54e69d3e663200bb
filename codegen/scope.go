package codegen

import "github.com/wnnrd/pgsc/ast"

// functionDef is the declare-pass record for a function: its signature,
// uid, fully qualified name, and argument layout (set at registration for
// foreign functions, by the compile pass for in-image ones). Code offsets
// are not stored here: the program assembler computes them for in-image
// functions only.
type functionDef struct {
	qualifiedName string
	uid           uint64
	args          []ast.Param
	ret           ast.Type
	foreign       bool

	argOffsets []int64
	argSizes   []int
}

// containerDef is the declare-pass stub for a struct-like container.
// Field layout and access are Unimplemented per spec §9; this only tracks
// enough to reject duplicate declarations and to host impl member
// functions under "<container>::<fn>".
type containerDef struct {
	name    string
	members []ast.Member
}

// moduleContext is one lexical module scope: a name and the four
// (unordered) tables the declare pass populates (functions, containers, imports,
// nested modules).
type moduleContext struct {
	name       string
	path       string // fully qualified path from root, e.g. "root::foo::bar"
	functions  map[string]*functionDef
	containers map[string]*containerDef
	imports    map[string]string // alias -> fully qualified path
	modules    map[string]*moduleContext
	parent     *moduleContext
}

func newModuleContext(name string, parent *moduleContext) *moduleContext {
	path := name
	if parent != nil {
		path = parent.path + "::" + name
	}
	return &moduleContext{
		name:       name,
		path:       path,
		functions:  make(map[string]*functionDef),
		containers: make(map[string]*containerDef),
		imports:    make(map[string]string),
		modules:    make(map[string]*moduleContext),
		parent:     parent,
	}
}

// varSlot records where a local variable or argument lives on the VM
// stack and its static type.
type varSlot struct {
	typ      ast.Type
	stackPos int64
}

// functionContext is one entry in the compiler's stack of function/block
// scopes. weak contexts model a nested block (if/else-if/else body):
// they inherit the parent's cumulative stack position but own their own
// incremental stackSize, collapsed by a SUBU_I on exit. A non-weak
// context is a real function (or, when isLoop is set, additionally a
// loop boundary for break/continue unwinding).
type functionContext struct {
	def      *functionDef // nil for weak block contexts
	weak     bool
	isLoop   bool
	retType  ast.Type
	stackSize int64
	vars     map[string]varSlot
	regs     *registerAllocator
}

func newFunctionContext(def *functionDef, retType ast.Type) *functionContext {
	return &functionContext{
		def:     def,
		retType: retType,
		vars:    make(map[string]varSlot),
		regs:    newRegisterAllocator(),
	}
}

func newWeakContext(retType ast.Type) *functionContext {
	return &functionContext{
		weak:    true,
		retType: retType,
		vars:    make(map[string]varSlot),
		regs:    newRegisterAllocator(),
	}
}

// newLoopContext builds the strong (non-weak, loop-flagged) context pushed
// for a while loop's body: it is not a real function (def stays nil, so a
// return statement's search for its owning function passes through it),
// but it is a loop boundary for break/continue unwinding.
func newLoopContext(retType ast.Type) *functionContext {
	return &functionContext{
		isLoop:  true,
		retType: retType,
		vars:    make(map[string]varSlot),
		regs:    newRegisterAllocator(),
	}
}

// loopContext records the information break/continue need: the byte
// offset the condition re-check starts at, and the tag every break
// target is patched to once the loop body finishes compiling.
type loopContext struct {
	start  int64
	tagEnd tag
}

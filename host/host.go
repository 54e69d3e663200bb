// Package host defines the shapes the host process uses to register
// foreign (natively implemented) functions and modules with the compiler
// before compilation starts (spec §6, "Input (host)").
package host

import "github.com/wnnrd/pgsc/ast"

// Callable is the opaque host-side implementation of a foreign function.
// The compiler never invokes it; it is carried through to the assembled
// program image for the virtual machine to dispatch at CALL time.
type Callable func(args []byte) ([]byte, error)

// Function describes one foreign function available to compiled code.
type Function struct {
	Name       string
	ArgTypes   []ast.Type
	ReturnType ast.Type
	Impl       Callable

	// Populated by the compiler at registration time.
	ArgSizes   []int
	ArgOffsets []int64
}

// Module is a named group of foreign functions and nested foreign modules,
// attached under root::<name>::... when registered.
type Module struct {
	Name      string
	Functions map[string]Function
	Modules   map[string]Module
}

// NewModule returns an empty named module ready to be populated.
func NewModule(name string) Module {
	return Module{
		Name:      name,
		Functions: make(map[string]Function),
		Modules:   make(map[string]Module),
	}
}

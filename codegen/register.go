package codegen

// Register identifies one of the VM's general-purpose registers.
type Register uint8

// R0 conventionally holds primitive function return values (GLOSSARY).
const R0 Register = 0

// numGeneralRegisters is the size of the round-robin ring. Once it is
// exhausted the allocator wraps back to register 0 without any check: no
// liveness analysis is performed, so an expression that needs more than
// this many live temporaries at once silently reuses a live register.
const numGeneralRegisters = 16

// registerAllocator models the VM's register file as a bump-allocated
// ring of temporaries, scoped to a single function context (component B).
type registerAllocator struct {
	cursor Register
	handed bool
}

func newRegisterAllocator() *registerAllocator {
	return &registerAllocator{}
}

// nextTemp returns the next register in round-robin order and advances
// the cursor.
func (a *registerAllocator) nextTemp() (Register, error) {
	reg := a.cursor
	a.cursor = (a.cursor + 1) % numGeneralRegisters
	a.handed = true
	return reg, nil
}

// lastTemp returns the most recently handed-out register without
// advancing the cursor. Calling it before any nextTemp call is a compiler
// bug (errRegisterMapping).
func (a *registerAllocator) lastTemp() (Register, error) {
	if !a.handed {
		return 0, errRegisterMapping
	}
	prev := a.cursor - 1
	if a.cursor == 0 {
		prev = numGeneralRegisters - 1
	}
	return prev, nil
}

// force sets the cursor so the next lastTemp() call returns reg, without
// handing out a new register. Used after CALL to expose R0 as the
// expression's result register.
func (a *registerAllocator) force(reg Register) {
	a.cursor = reg + 1
	a.handed = true
}

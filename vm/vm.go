// Package vm is a reference interpreter for the program images produced
// by package codegen. It is not part of the code generator itself (the
// compiler treats the virtual machine as an external collaborator), but
// the generator's end-to-end behavior can only be checked by actually
// running emitted code, so this package gives the test suite something
// real to run it on.
package vm

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/codegen"
	"github.com/wnnrd/pgsc/host"
)

const (
	numGeneralRegisters = 256
	stackSize           = 1 << 20
	spRegister          = codegen.SP
)

var (
	errProgramFinished   = errors.New("ran out of instructions")
	errSegmentationFault = errors.New("segmentation fault")
	errIllegalOperation  = errors.New("illegal operation at instruction")
	errUnknownOpcode     = errors.New("instruction not recognized")
	errDivideByZero      = errors.New("division by zero")
)

// VM is a flat register+stack interpreter. Registers 0..15 are the
// general-purpose temporaries the compiler allocates from; R0 (register
// 0) additionally carries primitive function return values by
// convention. Register 255 (codegen.SP) is the stack pointer.
type VM struct {
	regs [numGeneralRegisters]uint64
	pc   int64

	stack []byte

	code    []byte
	dataLen int64

	functions map[uint64]int64
	foreign   map[uint64]*host.Function

	callStack []int64

	errcode  error
	halted   bool
	exitCode uint8
}

// New builds a VM ready to run prog; RunFunction chooses the entry
// function by uid (typically the uid of "root::main").
func New(prog *codegen.Program) *VM {
	return &VM{
		stack:     make([]byte, stackSize),
		code:      prog.Code,
		dataLen:   prog.DataLen,
		functions: prog.Functions,
		foreign:   prog.ForeignFunctions,
	}
}

// R returns the raw 64-bit contents of general register n. Int results
// use the full 64 bits; Float and Bool results occupy the low 32 bits.
func (vm *VM) R(n codegen.Register) uint64 {
	return vm.regs[n]
}

// RunFunction executes the function registered under uid to completion
// (a RET that unwinds past the entry frame, or a HALT) and returns the
// VM's terminal error, which is nil for that RET or a HALT 0.
func (vm *VM) RunFunction(uid uint64) error {
	offset, ok := vm.functions[uid]
	if !ok {
		return errSegmentationFault
	}
	vm.pc = offset
	vm.regs[spRegister] = 0
	return vm.run()
}

func (vm *VM) run() error {
	for !vm.halted {
		if err := vm.step(); err != nil {
			vm.errcode = err
			return err
		}
	}
	if vm.exitCode != 0 {
		return errIllegalOperation
	}
	return nil
}

func (vm *VM) fetchU8() (uint8, error) {
	if vm.pc < 0 || vm.pc >= int64(len(vm.code)) {
		return 0, errSegmentationFault
	}
	b := vm.code[vm.pc]
	vm.pc++
	return b, nil
}

func (vm *VM) fetchI16() (int16, error) {
	if vm.pc+2 > int64(len(vm.code)) {
		return 0, errSegmentationFault
	}
	v := int16(binary.LittleEndian.Uint16(vm.code[vm.pc:]))
	vm.pc += 2
	return v, nil
}

func (vm *VM) fetchU32() (uint32, error) {
	if vm.pc+4 > int64(len(vm.code)) {
		return 0, errSegmentationFault
	}
	v := binary.LittleEndian.Uint32(vm.code[vm.pc:])
	vm.pc += 4
	return v, nil
}

func (vm *VM) fetchI64() (int64, error) {
	u, err := vm.fetchU64()
	return int64(u), err
}

func (vm *VM) fetchU64() (uint64, error) {
	if vm.pc+8 > int64(len(vm.code)) {
		return 0, errSegmentationFault
	}
	v := binary.LittleEndian.Uint64(vm.code[vm.pc:])
	vm.pc += 8
	return v, nil
}

// addr resolves (baseReg, offset) to an absolute index into vm.stack.
func (vm *VM) addr(base codegen.Register, off int16) (int64, error) {
	a := int64(vm.regs[base]) + int64(off)
	if a < 0 || a > int64(len(vm.stack)) {
		return 0, errSegmentationFault
	}
	return a, nil
}

func (vm *VM) step() error {
	opByte, err := vm.fetchU8()
	if err != nil {
		return err
	}
	op := codegen.Opcode(opByte)

	switch op {
	case codegen.OpLDI:
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		v, err := vm.fetchI64()
		if err != nil {
			return err
		}
		vm.regs[dst] = uint64(v)

	case codegen.OpLDF:
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		bits, err := vm.fetchU32()
		if err != nil {
			return err
		}
		vm.regs[dst] = uint64(bits)

	case codegen.OpLDB:
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		v, err := vm.fetchU32()
		if err != nil {
			return err
		}
		vm.regs[dst] = uint64(v)

	case codegen.OpLDA:
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		v, err := vm.fetchU64()
		if err != nil {
			return err
		}
		vm.regs[dst] = v

	case codegen.OpMOVI, codegen.OpMOVF, codegen.OpMOVB, codegen.OpMOVA:
		src, err := vm.fetchU8()
		if err != nil {
			return err
		}
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		vm.regs[dst] = vm.regs[src]

	case codegen.OpMOVI_RA, codegen.OpMOVF_RA, codegen.OpMOVB_RA, codegen.OpMOVA_RA:
		return vm.execMovRA(op)

	case codegen.OpMOVI_AR, codegen.OpMOVF_AR, codegen.OpMOVB_AR, codegen.OpMOVA_AR:
		return vm.execMovAR(op)

	case codegen.OpMOVN_A:
		return vm.execMovNA()

	case codegen.OpADDI, codegen.OpADDF, codegen.OpSUBI, codegen.OpSUBF,
		codegen.OpMULI, codegen.OpMULF, codegen.OpDIVI, codegen.OpDIVF:
		return vm.execArith(op)

	case codegen.OpLTI, codegen.OpLTF, codegen.OpGTI, codegen.OpGTF,
		codegen.OpLTEQI, codegen.OpLTEQF, codegen.OpGTEQI, codegen.OpGTEQF,
		codegen.OpEQI, codegen.OpEQF, codegen.OpNEQI, codegen.OpNEQF:
		return vm.execCompare(op)

	case codegen.OpNOT:
		a, err := vm.fetchU8()
		if err != nil {
			return err
		}
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		if vm.regs[a] == 0 {
			vm.regs[dst] = 1
		} else {
			vm.regs[dst] = 0
		}

	case codegen.OpAND, codegen.OpOR:
		a, err := vm.fetchU8()
		if err != nil {
			return err
		}
		b, err := vm.fetchU8()
		if err != nil {
			return err
		}
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		av, bv := vm.regs[a] != 0, vm.regs[b] != 0
		var result bool
		if op == codegen.OpAND {
			result = av && bv
		} else {
			result = av || bv
		}
		if result {
			vm.regs[dst] = 1
		} else {
			vm.regs[dst] = 0
		}

	case codegen.OpJMP:
		dst, err := vm.fetchU64()
		if err != nil {
			return err
		}
		vm.pc = int64(dst)

	case codegen.OpJMPT, codegen.OpJMPF:
		reg, err := vm.fetchU8()
		if err != nil {
			return err
		}
		dst, err := vm.fetchU64()
		if err != nil {
			return err
		}
		cond := vm.regs[reg] != 0
		if op == codegen.OpJMPF {
			cond = !cond
		}
		if cond {
			vm.pc = int64(dst)
		}

	case codegen.OpCALL:
		uid, err := vm.fetchU64()
		if err != nil {
			return err
		}
		return vm.execCall(uid)

	case codegen.OpRET:
		return vm.execRet()

	case codegen.OpHALT:
		code, err := vm.fetchU8()
		if err != nil {
			return err
		}
		vm.halted = true
		vm.exitCode = code

	case codegen.OpSUBU_I, codegen.OpADDU_I:
		src, err := vm.fetchU8()
		if err != nil {
			return err
		}
		amount, err := vm.fetchU64()
		if err != nil {
			return err
		}
		dst, err := vm.fetchU8()
		if err != nil {
			return err
		}
		if op == codegen.OpSUBU_I {
			vm.regs[dst] = vm.regs[src] - amount
		} else {
			vm.regs[dst] = vm.regs[src] + amount
		}

	default:
		return errUnknownOpcode
	}
	return nil
}

func (vm *VM) execMovRA(op codegen.Opcode) error {
	reg, err := vm.fetchU8()
	if err != nil {
		return err
	}
	base, err := vm.fetchU8()
	if err != nil {
		return err
	}
	off, err := vm.fetchI16()
	if err != nil {
		return err
	}
	a, err := vm.addr(codegen.Register(base), off)
	if err != nil {
		return err
	}
	switch op {
	case codegen.OpMOVI_RA, codegen.OpMOVA_RA:
		if a+8 > int64(len(vm.stack)) {
			return errSegmentationFault
		}
		binary.LittleEndian.PutUint64(vm.stack[a:], vm.regs[reg])
	default: // Float, Bool: 4 bytes
		if a+4 > int64(len(vm.stack)) {
			return errSegmentationFault
		}
		binary.LittleEndian.PutUint32(vm.stack[a:], uint32(vm.regs[reg]))
	}
	return nil
}

func (vm *VM) execMovAR(op codegen.Opcode) error {
	base, err := vm.fetchU8()
	if err != nil {
		return err
	}
	off, err := vm.fetchI16()
	if err != nil {
		return err
	}
	reg, err := vm.fetchU8()
	if err != nil {
		return err
	}
	a, err := vm.addr(codegen.Register(base), off)
	if err != nil {
		return err
	}
	switch op {
	case codegen.OpMOVI_AR, codegen.OpMOVA_AR:
		if a+8 > int64(len(vm.stack)) {
			return errSegmentationFault
		}
		vm.regs[reg] = binary.LittleEndian.Uint64(vm.stack[a:])
	default:
		if a+4 > int64(len(vm.stack)) {
			return errSegmentationFault
		}
		vm.regs[reg] = uint64(binary.LittleEndian.Uint32(vm.stack[a:]))
	}
	return nil
}

func (vm *VM) execMovNA() error {
	srcBase, err := vm.fetchU8()
	if err != nil {
		return err
	}
	srcOff, err := vm.fetchI16()
	if err != nil {
		return err
	}
	dstBase, err := vm.fetchU8()
	if err != nil {
		return err
	}
	dstOff, err := vm.fetchI16()
	if err != nil {
		return err
	}
	length, err := vm.fetchU32()
	if err != nil {
		return err
	}
	src, err := vm.addr(codegen.Register(srcBase), srcOff)
	if err != nil {
		return err
	}
	dst, err := vm.addr(codegen.Register(dstBase), dstOff)
	if err != nil {
		return err
	}
	if src+int64(length) > int64(len(vm.stack)) || dst+int64(length) > int64(len(vm.stack)) {
		return errSegmentationFault
	}
	copy(vm.stack[dst:dst+int64(length)], vm.stack[src:src+int64(length)])
	return nil
}

func (vm *VM) execArith(op codegen.Opcode) error {
	a, err := vm.fetchU8()
	if err != nil {
		return err
	}
	b, err := vm.fetchU8()
	if err != nil {
		return err
	}
	dst, err := vm.fetchU8()
	if err != nil {
		return err
	}
	switch op {
	case codegen.OpADDI:
		vm.regs[dst] = uint64(int64(vm.regs[a]) + int64(vm.regs[b]))
	case codegen.OpSUBI:
		vm.regs[dst] = uint64(int64(vm.regs[a]) - int64(vm.regs[b]))
	case codegen.OpMULI:
		vm.regs[dst] = uint64(int64(vm.regs[a]) * int64(vm.regs[b]))
	case codegen.OpDIVI:
		if int64(vm.regs[b]) == 0 {
			return errDivideByZero
		}
		vm.regs[dst] = uint64(int64(vm.regs[a]) / int64(vm.regs[b]))
	case codegen.OpADDF:
		vm.regs[dst] = uint64(math.Float32bits(asFloat(vm.regs[a]) + asFloat(vm.regs[b])))
	case codegen.OpSUBF:
		vm.regs[dst] = uint64(math.Float32bits(asFloat(vm.regs[a]) - asFloat(vm.regs[b])))
	case codegen.OpMULF:
		vm.regs[dst] = uint64(math.Float32bits(asFloat(vm.regs[a]) * asFloat(vm.regs[b])))
	case codegen.OpDIVF:
		if asFloat(vm.regs[b]) == 0 {
			return errDivideByZero
		}
		vm.regs[dst] = uint64(math.Float32bits(asFloat(vm.regs[a]) / asFloat(vm.regs[b])))
	}
	return nil
}

func (vm *VM) execCompare(op codegen.Opcode) error {
	a, err := vm.fetchU8()
	if err != nil {
		return err
	}
	b, err := vm.fetchU8()
	if err != nil {
		return err
	}
	dst, err := vm.fetchU8()
	if err != nil {
		return err
	}
	var result bool
	switch op {
	case codegen.OpLTI:
		result = int64(vm.regs[a]) < int64(vm.regs[b])
	case codegen.OpGTI:
		result = int64(vm.regs[a]) > int64(vm.regs[b])
	case codegen.OpLTEQI:
		result = int64(vm.regs[a]) <= int64(vm.regs[b])
	case codegen.OpGTEQI:
		result = int64(vm.regs[a]) >= int64(vm.regs[b])
	case codegen.OpEQI:
		result = vm.regs[a] == vm.regs[b]
	case codegen.OpNEQI:
		result = vm.regs[a] != vm.regs[b]
	case codegen.OpLTF:
		result = asFloat(vm.regs[a]) < asFloat(vm.regs[b])
	case codegen.OpGTF:
		result = asFloat(vm.regs[a]) > asFloat(vm.regs[b])
	case codegen.OpLTEQF:
		result = asFloat(vm.regs[a]) <= asFloat(vm.regs[b])
	case codegen.OpGTEQF:
		result = asFloat(vm.regs[a]) >= asFloat(vm.regs[b])
	case codegen.OpEQF:
		result = asFloat(vm.regs[a]) == asFloat(vm.regs[b])
	case codegen.OpNEQF:
		result = asFloat(vm.regs[a]) != asFloat(vm.regs[b])
	}
	if result {
		vm.regs[dst] = 1
	} else {
		vm.regs[dst] = 0
	}
	return nil
}

func asFloat(bits uint64) float32 {
	return math.Float32frombits(uint32(bits))
}

// execCall dispatches CALL to either an in-image function (pushing a
// return address onto the native call stack and jumping) or a foreign
// one (invoking its host callable inline and placing the result where
// the compiled caller expects it, mirroring RET's convention).
func (vm *VM) execCall(uid uint64) error {
	if offset, ok := vm.functions[uid]; ok {
		vm.callStack = append(vm.callStack, vm.pc)
		vm.pc = offset
		return nil
	}
	fn, ok := vm.foreign[uid]
	if !ok {
		return errSegmentationFault
	}
	return vm.invokeForeign(fn)
}

func (vm *VM) invokeForeign(fn *host.Function) error {
	var totalArgs int64
	for _, sz := range fn.ArgSizes {
		totalArgs += int64(sz)
	}
	sp := int64(vm.regs[spRegister])
	if sp-totalArgs < 0 || sp > int64(len(vm.stack)) {
		return errSegmentationFault
	}
	argBytes := append([]byte(nil), vm.stack[sp-totalArgs:sp]...)

	result, err := fn.Impl(argBytes)
	if err != nil {
		return errIllegalOperation
	}

	if isPrimitiveKind(fn.ReturnType) {
		var v uint64
		for i := len(result) - 1; i >= 0; i-- {
			v = v<<8 | uint64(result[i])
		}
		vm.regs[0] = v
		return nil
	}
	if fn.ReturnType.Kind == ast.KindVoid {
		return nil
	}
	n := int64(len(result))
	if sp+n > int64(len(vm.stack)) {
		return errSegmentationFault
	}
	copy(vm.stack[sp:sp+n], result)
	vm.regs[spRegister] = uint64(sp + n)
	return nil
}

func isPrimitiveKind(t ast.Type) bool {
	switch t.Kind {
	case ast.KindInt, ast.KindFloat, ast.KindBool:
		return true
	case ast.KindReference:
		return !t.IsAutoArray()
	default:
		return false
	}
}

// execRet pops the native call stack and resumes the caller just past
// its CALL instruction; the callee's own compiled cleanup has already
// collapsed its stack usage before RET was emitted.
func (vm *VM) execRet() error {
	if len(vm.callStack) == 0 {
		vm.halted = true
		vm.exitCode = 0
		return nil
	}
	n := len(vm.callStack) - 1
	vm.pc = vm.callStack[n]
	vm.callStack = vm.callStack[:n]
	return nil
}

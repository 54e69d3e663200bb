package codegen

import (
	"encoding/binary"
	"math"
)

// Opcode identifies one VM instruction (spec §6 "Opcode families").
type Opcode uint8

const (
	OpLDI Opcode = iota
	OpLDF
	OpLDB
	OpLDA

	OpMOVI
	OpMOVF
	OpMOVB
	OpMOVA

	OpMOVI_RA
	OpMOVF_RA
	OpMOVB_RA
	OpMOVA_RA

	OpMOVI_AR
	OpMOVF_AR
	OpMOVB_AR
	OpMOVA_AR

	OpMOVN_A

	OpADDI
	OpADDF
	OpSUBI
	OpSUBF
	OpMULI
	OpMULF
	OpDIVI
	OpDIVF

	OpLTI
	OpLTF
	OpGTI
	OpGTF
	OpLTEQI
	OpLTEQF
	OpGTEQI
	OpGTEQF
	OpEQI
	OpEQF
	OpNEQI
	OpNEQF

	OpNOT
	OpAND
	OpOR

	OpJMP
	OpJMPT
	OpJMPF
	OpCALL
	OpRET
	OpHALT

	OpSUBU_I
	OpADDU_I
)

// tag is a symbolic late-bound jump target, distinct from a function
// label (which names a function's entry point by fully qualified name).
type tag uint64

// builder accumulates the code of every function into one flat byte buffer,
// tracking label offsets and pending jump patch sites (component D).
type builder struct {
	code []byte

	// labels maps a fully qualified function name to the byte offset of
	// its first emitted instruction.
	labels map[string]int64

	// tagSites maps a tag to every byte offset whose trailing 8-byte
	// operand must be rewritten once the tag's destination is known.
	tagSites map[tag][]int64

	// jmpSites records the offset of every JMP/JMPF/JMPT operand so the
	// program assembler can shift them by the data segment length. CALL
	// operands are UIDs, not code offsets, and are never recorded here.
	jmpSites []int64
}

func newBuilder() *builder {
	return &builder{
		labels:   make(map[string]int64),
		tagSites: make(map[tag][]int64),
	}
}

// offset returns the current end of the code buffer, i.e. the offset the
// next emitted instruction will occupy.
func (b *builder) offset() int64 {
	return int64(len(b.code))
}

// label records name's entry point as the current offset.
func (b *builder) label(name string) {
	b.labels[name] = b.offset()
}

// patch rewrites the trailing 8-byte operand of every instruction
// recorded under t to dest, and forgets the tag.
func (b *builder) patch(t tag, dest int64) {
	for _, off := range b.tagSites[t] {
		binary.LittleEndian.PutUint64(b.code[off-8:off], uint64(dest))
	}
	delete(b.tagSites, t)
}

func (b *builder) emitOp(op Opcode) {
	b.code = append(b.code, byte(op))
}

func (b *builder) emitU8(v uint8) {
	b.code = append(b.code, v)
}

func (b *builder) emitI16(v int16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(v))
	b.code = append(b.code, buf[:]...)
}

func (b *builder) emitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.code = append(b.code, buf[:]...)
}

func (b *builder) emitI64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	b.code = append(b.code, buf[:]...)
}

func (b *builder) emitU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.code = append(b.code, buf[:]...)
}

func (b *builder) emitF32(v float32) {
	b.emitU32(math.Float32bits(v))
}

// --- load / move ---

func (b *builder) ldi(v int64, dst Register) {
	b.emitOp(OpLDI)
	b.emitU8(uint8(dst))
	b.emitI64(v)
}

func (b *builder) ldf(v float32, dst Register) {
	b.emitOp(OpLDF)
	b.emitU8(uint8(dst))
	b.emitF32(v)
}

func (b *builder) ldb(v bool, dst Register) {
	b.emitOp(OpLDB)
	b.emitU8(uint8(dst))
	if v {
		b.emitU32(1)
	} else {
		b.emitU32(0)
	}
}

func (b *builder) lda(v uint64, dst Register) {
	b.emitOp(OpLDA)
	b.emitU8(uint8(dst))
	b.emitU64(v)
}

func movRegOp(t regMovKind) Opcode {
	switch t {
	case movInt:
		return OpMOVI
	case movFloat:
		return OpMOVF
	case movBool:
		return OpMOVB
	default:
		return OpMOVA
	}
}

// regMovKind selects which typed MOV family to emit for a primitive value.
type regMovKind int

const (
	movInt regMovKind = iota
	movFloat
	movBool
	movAddr
)

func (b *builder) movReg(kind regMovKind, src, dst Register) {
	b.emitOp(movRegOp(kind))
	b.emitU8(uint8(src))
	b.emitU8(uint8(dst))
}

func raOp(kind regMovKind) Opcode {
	switch kind {
	case movInt:
		return OpMOVI_RA
	case movFloat:
		return OpMOVF_RA
	case movBool:
		return OpMOVB_RA
	default:
		return OpMOVA_RA
	}
}

// movRA writes reg to [base + off] (register → address).
func (b *builder) movRA(kind regMovKind, reg, base Register, off int16) {
	b.emitOp(raOp(kind))
	b.emitU8(uint8(reg))
	b.emitU8(uint8(base))
	b.emitI16(off)
}

func arOp(kind regMovKind) Opcode {
	switch kind {
	case movInt:
		return OpMOVI_AR
	case movFloat:
		return OpMOVF_AR
	case movBool:
		return OpMOVB_AR
	default:
		return OpMOVA_AR
	}
}

// movAR reads [base + off] into reg (address → register).
func (b *builder) movAR(kind regMovKind, base Register, off int16, reg Register) {
	b.emitOp(arOp(kind))
	b.emitU8(uint8(base))
	b.emitI16(off)
	b.emitU8(uint8(reg))
}

// movNA copies length bytes from [srcBase+srcOff] to [dstBase+dstOff].
func (b *builder) movNA(srcBase Register, srcOff int16, dstBase Register, dstOff int16, length uint32) {
	b.emitOp(OpMOVN_A)
	b.emitU8(uint8(srcBase))
	b.emitI16(srcOff)
	b.emitU8(uint8(dstBase))
	b.emitI16(dstOff)
	b.emitU32(length)
}

// --- arithmetic / comparison / logical ---

type arithKind int

const (
	arithAdd arithKind = iota
	arithSub
	arithMul
	arithDiv
	arithLt
	arithGt
	arithLtEq
	arithGtEq
	arithEq
	arithNeq
)

func arithOp(k arithKind, isFloat bool) Opcode {
	switch k {
	case arithAdd:
		if isFloat {
			return OpADDF
		}
		return OpADDI
	case arithSub:
		if isFloat {
			return OpSUBF
		}
		return OpSUBI
	case arithMul:
		if isFloat {
			return OpMULF
		}
		return OpMULI
	case arithDiv:
		if isFloat {
			return OpDIVF
		}
		return OpDIVI
	case arithLt:
		if isFloat {
			return OpLTF
		}
		return OpLTI
	case arithGt:
		if isFloat {
			return OpGTF
		}
		return OpGTI
	case arithLtEq:
		if isFloat {
			return OpLTEQF
		}
		return OpLTEQI
	case arithGtEq:
		if isFloat {
			return OpGTEQF
		}
		return OpGTEQI
	case arithEq:
		if isFloat {
			return OpEQF
		}
		return OpEQI
	default:
		if isFloat {
			return OpNEQF
		}
		return OpNEQI
	}
}

func (b *builder) arith(k arithKind, isFloat bool, a, c, dst Register) {
	b.emitOp(arithOp(k, isFloat))
	b.emitU8(uint8(a))
	b.emitU8(uint8(c))
	b.emitU8(uint8(dst))
}

func (b *builder) not(a, dst Register) {
	b.emitOp(OpNOT)
	b.emitU8(uint8(a))
	b.emitU8(uint8(dst))
}

func (b *builder) and(a, c, dst Register) {
	b.emitOp(OpAND)
	b.emitU8(uint8(a))
	b.emitU8(uint8(c))
	b.emitU8(uint8(dst))
}

func (b *builder) or(a, c, dst Register) {
	b.emitOp(OpOR)
	b.emitU8(uint8(a))
	b.emitU8(uint8(c))
	b.emitU8(uint8(dst))
}

// --- control flow ---

// jmp emits an unconditional jump to t, recording the operand site so it
// can be patched (and, at assembly time, relocated by the data length).
func (b *builder) jmp(t tag) {
	b.emitOp(OpJMP)
	b.recordJumpSite(t, 0)
}

// jmpCond emits JMPT or JMPF depending on wantTrue, gated on reg.
func (b *builder) jmpCond(wantTrue bool, reg Register, t tag) {
	if wantTrue {
		b.emitOp(OpJMPT)
	} else {
		b.emitOp(OpJMPF)
	}
	b.emitU8(uint8(reg))
	b.recordJumpSite(t, 0)
}

// jmpTo emits an unconditional jump straight to a known offset, with no
// tag (used when the destination, e.g. a loop's start, is already fixed).
func (b *builder) jmpTo(dest int64) {
	b.emitOp(OpJMP)
	b.emitU64(uint64(dest))
	b.jmpSites = append(b.jmpSites, b.offset())
}

func (b *builder) recordJumpSite(t tag, placeholder uint64) {
	b.emitU64(placeholder)
	off := b.offset()
	b.tagSites[t] = append(b.tagSites[t], off)
	b.jmpSites = append(b.jmpSites, off)
}

func (b *builder) call(uid uint64) {
	b.emitOp(OpCALL)
	b.emitU64(uid)
}

func (b *builder) ret() {
	b.emitOp(OpRET)
}

func (b *builder) halt(code uint8) {
	b.emitOp(OpHALT)
	b.emitU8(code)
}

// --- stack ---

// subuI emits SUBU_I src, amount, dst; the SP,k,SP form shrinks the stack.
// Growing it uses adduI (ADDU_I) below.
func (b *builder) subuI(src Register, amount uint64, dst Register) {
	b.emitOp(OpSUBU_I)
	b.emitU8(uint8(src))
	b.emitU64(amount)
	b.emitU8(uint8(dst))
}

func (b *builder) adduI(src Register, amount uint64, dst Register) {
	b.emitOp(OpADDU_I)
	b.emitU8(uint8(src))
	b.emitU64(amount)
	b.emitU8(uint8(dst))
}

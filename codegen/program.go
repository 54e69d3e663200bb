package codegen

import (
	"encoding/binary"

	"github.com/wnnrd/pgsc/host"
)

// Program is the final output of compilation (spec §6 "Output").
type Program struct {
	// Code is data_bytes ++ code_bytes: the first DataLen bytes are the
	// data segment, the remainder is instructions.
	Code    []byte
	DataLen int64

	// Functions maps an in-image function's uid to its absolute byte
	// offset within Code.
	Functions map[uint64]int64

	// ForeignFunctions maps a foreign function's uid to its descriptor.
	ForeignFunctions map[uint64]*host.Function
}

// assemble is component H: it snapshots the data segment and code
// buffer, relocates every recorded jump operand by the data segment's
// length (CALL operands are uids, not code offsets, and are left
// untouched), and resolves in-image function offsets.
func (c *Compiler) assemble() *Program {
	dataLen := c.data.len()

	code := make([]byte, 0, int(dataLen)+len(c.b.code))
	code = append(code, c.data.bytes...)
	code = append(code, c.b.code...)

	for _, site := range c.b.jmpSites {
		relocateOperand(code, int(dataLen), int(site))
	}

	functions := make(map[uint64]int64)
	for _, mod := range allModules(c.root) {
		for _, fn := range mod.functions {
			if fn.foreign {
				continue
			}
			offset, ok := c.b.labels[fn.qualifiedName]
			if !ok {
				continue
			}
			functions[fn.uid] = offset + dataLen
		}
	}

	return &Program{
		Code:             code,
		DataLen:          dataLen,
		Functions:        functions,
		ForeignFunctions: c.foreign,
	}
}

// relocateOperand rewrites the 8-byte little-endian operand ending at
// dataLen+site (site is expressed in code-buffer-relative terms by the
// builder, so it must be shifted by dataLen once data precedes code in
// the flat image).
func relocateOperand(code []byte, dataLen, siteEndInCode int) {
	end := dataLen + siteEndInCode
	start := end - 8
	v := binary.LittleEndian.Uint64(code[start:end])
	binary.LittleEndian.PutUint64(code[start:end], v+uint64(dataLen))
}

// allModules walks the module tree and returns every module, root first.
func allModules(root *moduleContext) []*moduleContext {
	var out []*moduleContext
	var walk func(m *moduleContext)
	walk = func(m *moduleContext) {
		out = append(out, m)
		for _, child := range m.modules {
			walk(child)
		}
	}
	walk(root)
	return out
}

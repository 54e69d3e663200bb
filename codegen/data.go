package codegen

// dataSegment accumulates the bytes for string literals referenced by
// compiled code (component C). Each literal is appended verbatim, with no
// deduplication, mirroring how the compiler never revisits a previously
// emitted literal once it has moved on to the next statement.
type dataSegment struct {
	bytes []byte
}

func newDataSegment() *dataSegment {
	return &dataSegment{}
}

// intern appends s's raw bytes to the segment and returns (length, offset)
// of the newly written slice, both suitable for building the fat
// reference (size, address) pair loaded by LDA.
func (d *dataSegment) intern(s string) (length int64, offset int64) {
	offset = int64(len(d.bytes))
	d.bytes = append(d.bytes, s...)
	length = int64(len(s))
	return length, offset
}

// len reports the current size of the segment; the program assembler
// shifts every JMP/JMPF/JMPT operand by this amount once code follows
// data in the final image.
func (d *dataSegment) len() int64 {
	return int64(len(d.bytes))
}

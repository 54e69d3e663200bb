package codegen

import "github.com/wnnrd/pgsc/ast"

// sizeOf computes the byte width of t per spec §3's closed type union.
// Container sizes are the sum of their members' sizes; Auto must have
// been resolved to a concrete type before this is called.
func (c *Compiler) sizeOf(t ast.Type) (int64, error) {
	switch t.Kind {
	case ast.KindInt:
		return 8, nil
	case ast.KindFloat:
		return 4, nil
	case ast.KindBool:
		return 4, nil
	case ast.KindString:
		return 16, nil
	case ast.KindVoid:
		return 0, nil
	case ast.KindReference:
		if t.IsAutoArray() {
			return 16, nil
		}
		return 8, nil
	case ast.KindArray:
		elemSize, err := c.sizeOf(*t.Element)
		if err != nil {
			return 0, err
		}
		return elemSize * int64(t.ArrayLen), nil
	case ast.KindOther:
		cont, ok := c.lookupContainer(t.Name)
		if !ok {
			return 0, errUnknownType(t)
		}
		var total int64
		for _, m := range cont.members {
			sz, err := c.sizeOf(m.Type)
			if err != nil {
				return 0, err
			}
			total += sz
		}
		return total, nil
	default:
		return 0, errUnknownType(t)
	}
}

// isPrimitiveReg reports whether a value of type t, once computed, lives
// in a single register (<=8 bytes, not a fat reference) rather than
// directly on the stack.
func isPrimitiveReg(t ast.Type) bool {
	switch t.Kind {
	case ast.KindInt, ast.KindFloat, ast.KindBool:
		return true
	case ast.KindReference:
		return !t.IsAutoArray()
	default:
		return false
	}
}

func movKindOf(t ast.Type) regMovKind {
	switch t.Kind {
	case ast.KindInt:
		return movInt
	case ast.KindFloat:
		return movFloat
	case ast.KindBool:
		return movBool
	default:
		return movAddr
	}
}

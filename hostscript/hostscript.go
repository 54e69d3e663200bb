// Package hostscript lets a host describe its foreign modules in Lua
// instead of hand-writing host.Module values in Go. It is modeled on the
// embedded-Lua evaluator pattern used elsewhere in the corpus for
// compile-time scripting, repurposed here for host-function registration
// (spec §6 "Input (host)").
package hostscript

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/host"
)

// Evaluator owns a Lua state used to run one host module's definition
// script. Scripts call the `pgsc.register(name, spec, fn)` API installed
// by setupAPI to declare each foreign function; spec is a table with
// "args" (a list of type names) and "ret" (a type name).
type Evaluator struct {
	L          *lua.LState
	moduleName string
	pending    []registration
}

type registration struct {
	name    string
	argKind []ast.Type
	ret     ast.Type
	fn      *lua.LFunction
}

// NewEvaluator returns an Evaluator for a module named moduleName.
func NewEvaluator(moduleName string) *Evaluator {
	L := lua.NewState()
	e := &Evaluator{L: L, moduleName: moduleName}
	e.setupAPI()
	return e
}

// Close releases the underlying Lua state.
func (e *Evaluator) Close() {
	e.L.Close()
}

// setupAPI installs the `pgsc` global table scripts use to register
// functions.
func (e *Evaluator) setupAPI() {
	module := e.L.NewTable()
	e.L.SetField(module, "register", e.L.NewFunction(e.luaRegister))
	e.L.SetGlobal("pgsc", module)
}

// luaRegister implements pgsc.register(name, spec, fn).
func (e *Evaluator) luaRegister(L *lua.LState) int {
	name := L.CheckString(1)
	spec := L.CheckTable(2)
	fn := L.CheckFunction(3)

	var argTypes []ast.Type
	if argsVal := L.GetField(spec, "args"); argsVal.Type() == lua.LTTable {
		argsTable := argsVal.(*lua.LTable)
		argsTable.ForEach(func(_ lua.LValue, v lua.LValue) {
			argTypes = append(argTypes, typeFromLuaName(lua.LVAsString(v)))
		})
	}
	retName := lua.LVAsString(L.GetField(spec, "ret"))
	ret := typeFromLuaName(retName)

	e.pending = append(e.pending, registration{name: name, argKind: argTypes, ret: ret, fn: fn})
	return 0
}

func typeFromLuaName(name string) ast.Type {
	switch name {
	case "int":
		return ast.Int
	case "float":
		return ast.Float
	case "bool":
		return ast.Bool
	case "string":
		return ast.String
	default:
		return ast.Void
	}
}

// LoadModule runs script and converts every pgsc.register call into a
// host.Function, wiring each one's Impl to re-enter the Lua state.
func (e *Evaluator) LoadModule(script string) (host.Module, error) {
	if err := e.L.DoString(script); err != nil {
		return host.Module{}, fmt.Errorf("hostscript: %w", err)
	}

	mod := host.NewModule(e.moduleName)
	for _, reg := range e.pending {
		reg := reg
		mod.Functions[reg.name] = host.Function{
			Name:       reg.name,
			ArgTypes:   reg.argKind,
			ReturnType: reg.ret,
			Impl:       e.callableFor(reg),
		}
	}
	return mod, nil
}

// callableFor builds a host.Callable that decodes args according to
// reg.argKind, calls the backing Lua function, and re-encodes its first
// return value according to reg.ret.
func (e *Evaluator) callableFor(reg registration) host.Callable {
	return func(args []byte) ([]byte, error) {
		luaArgs, err := decodeArgs(reg.argKind, args)
		if err != nil {
			return nil, err
		}
		if err := e.L.CallByParam(lua.P{Fn: reg.fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
			return nil, fmt.Errorf("hostscript: calling %s: %w", reg.name, err)
		}
		result := e.L.Get(-1)
		e.L.Pop(1)
		return encodeResult(reg.ret, result)
	}
}

func decodeArgs(kinds []ast.Type, args []byte) ([]lua.LValue, error) {
	var out []lua.LValue
	offset := 0
	for _, k := range kinds {
		switch k.Kind {
		case ast.KindInt:
			if offset+8 > len(args) {
				return nil, fmt.Errorf("hostscript: short argument buffer")
			}
			v := int64(0)
			for i := 7; i >= 0; i-- {
				v = v<<8 | int64(args[offset+i])
			}
			out = append(out, lua.LNumber(v))
			offset += 8
		case ast.KindFloat, ast.KindBool:
			if offset+4 > len(args) {
				return nil, fmt.Errorf("hostscript: short argument buffer")
			}
			v := uint32(0)
			for i := 3; i >= 0; i-- {
				v = v<<8 | uint32(args[offset+i])
			}
			if k.Kind == ast.KindBool {
				out = append(out, lua.LBool(v != 0))
			} else {
				out = append(out, lua.LNumber(math.Float32frombits(v)))
			}
			offset += 4
		default:
			return nil, fmt.Errorf("hostscript: unsupported argument type %s", k)
		}
	}
	return out, nil
}

func encodeResult(ret ast.Type, v lua.LValue) ([]byte, error) {
	switch ret.Kind {
	case ast.KindInt:
		n, ok := v.(lua.LNumber)
		if !ok {
			return nil, fmt.Errorf("hostscript: expected number result")
		}
		buf := make([]byte, 8)
		val := int64(n)
		for i := 0; i < 8; i++ {
			buf[i] = byte(val)
			val >>= 8
		}
		return buf, nil
	case ast.KindFloat:
		n, ok := v.(lua.LNumber)
		if !ok {
			return nil, fmt.Errorf("hostscript: expected number result")
		}
		buf := make([]byte, 4)
		bits := math.Float32bits(float32(n))
		for i := 0; i < 4; i++ {
			buf[i] = byte(bits)
			bits >>= 8
		}
		return buf, nil
	case ast.KindBool:
		b, ok := v.(lua.LBool)
		if !ok {
			return nil, fmt.Errorf("hostscript: expected bool result")
		}
		buf := make([]byte, 4)
		if bool(b) {
			buf[0] = 1
		}
		return buf, nil
	case ast.KindVoid:
		return nil, nil
	default:
		return nil, fmt.Errorf("hostscript: unsupported return type %s", ret)
	}
}

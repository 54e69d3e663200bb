package hostscript

import (
	"math"
	"testing"

	"github.com/wnnrd/pgsc/ast"
)

func assert(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatal(msg)
	}
}

func TestLoadModuleRegistersFunctions(t *testing.T) {
	e := NewEvaluator("mathx")
	defer e.Close()

	mod, err := e.LoadModule(`
		pgsc.register("addi", {args = {"int", "int"}, ret = "int"}, function(a, b)
			return a + b
		end)
	`)
	assert(t, err == nil, "loading a valid script should not fail")

	fn, ok := mod.Functions["addi"]
	assert(t, ok, "expected addi to be registered")
	assert(t, fn.ReturnType.Equal(ast.Int), "expected addi to return int")
	assert(t, len(fn.ArgTypes) == 2, "expected addi to take 2 args")
}

func TestCallableRoundTripsInt(t *testing.T) {
	e := NewEvaluator("mathx")
	defer e.Close()

	mod, err := e.LoadModule(`
		pgsc.register("addi", {args = {"int", "int"}, ret = "int"}, function(a, b)
			return a + b
		end)
	`)
	assert(t, err == nil, "loading a valid script should not fail")

	args := make([]byte, 16)
	encodeInt(args[0:8], 2)
	encodeInt(args[8:16], 40)

	out, err := mod.Functions["addi"].Impl(args)
	assert(t, err == nil, "calling addi should not fail")
	assert(t, decodeInt(out) == 42, "expected addi(2, 40) == 42")
}

func TestCallableRoundTripsFloat(t *testing.T) {
	e := NewEvaluator("mathx")
	defer e.Close()

	mod, err := e.LoadModule(`
		pgsc.register("half", {args = {"float"}, ret = "float"}, function(a)
			return a / 2
		end)
	`)
	assert(t, err == nil, "loading a valid script should not fail")

	args := make([]byte, 4)
	encodeFloat(args, 10.0)

	out, err := mod.Functions["half"].Impl(args)
	assert(t, err == nil, "calling half should not fail")
	assert(t, decodeFloat(out) == 5.0, "expected half(10.0) == 5.0")
}

func TestCallableRoundTripsBool(t *testing.T) {
	e := NewEvaluator("logicx")
	defer e.Close()

	mod, err := e.LoadModule(`
		pgsc.register("isPos", {args = {"int"}, ret = "bool"}, function(a)
			return a > 0
		end)
	`)
	assert(t, err == nil, "loading a valid script should not fail")

	args := make([]byte, 8)
	encodeInt(args, 5)

	out, err := mod.Functions["isPos"].Impl(args)
	assert(t, err == nil, "calling isPos should not fail")
	assert(t, len(out) == 4 && out[0] == 1, "expected isPos(5) == true")
}

func encodeInt(dst []byte, v int64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v)
		v >>= 8
	}
}

func decodeInt(b []byte) int64 {
	var v int64
	for i := 7; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}

func encodeFloat(dst []byte, f float32) {
	bits := math.Float32bits(f)
	for i := 0; i < 4; i++ {
		dst[i] = byte(bits)
		bits >>= 8
	}
}

func decodeFloat(b []byte) float32 {
	var bits uint32
	for i := 3; i >= 0; i-- {
		bits = bits<<8 | uint32(b[i])
	}
	return math.Float32frombits(bits)
}

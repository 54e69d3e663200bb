// Command pgsc compiles a JSON-encoded declaration tree into a program
// image that the vm package (or any compatible interpreter) can run.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wnnrd/pgsc/ast"
	"github.com/wnnrd/pgsc/codegen"
	"github.com/wnnrd/pgsc/hostscript"
)

var (
	outputFile string
	hostFile   string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "pgsc [source.json]",
	Short: "pgsc - register/stack VM code generator",
	Long: `pgsc compiles a JSON declaration tree (produced by an external
parser) into a program image for the register/stack virtual machine.

A Lua host script (--host) may register foreign modules the program can
call into; see the hostscript package for the registration API.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compile(args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: <input>.pimg)")
	rootCmd.Flags().StringVar(&hostFile, "host", "", "Lua script registering foreign host modules")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "print compilation details to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func compile(sourceFile string) error {
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", sourceFile, err)
	}

	decls, err := ast.DecodeDeclarations(data)
	if err != nil {
		return err
	}
	if debug {
		fmt.Fprintf(os.Stderr, "pgsc: parsed %d top-level declarations\n", len(decls))
	}

	var opts codegen.Options
	if debug {
		opts.Trace = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "pgsc: "+format+"\n", args...)
		}
	}
	c := codegen.NewCompilerWithOptions(opts)

	if hostFile != "" {
		script, err := os.ReadFile(hostFile)
		if err != nil {
			return fmt.Errorf("reading host script %s: %w", hostFile, err)
		}
		ev := hostscript.NewEvaluator("host")
		defer ev.Close()
		mod, err := ev.LoadModule(string(script))
		if err != nil {
			return fmt.Errorf("loading host script: %w", err)
		}
		if err := c.RegisterForeignRootModule(mod); err != nil {
			return fmt.Errorf("registering host module: %w", err)
		}
	}

	prog, err := c.Compile(decls)
	if err != nil {
		return fmt.Errorf("compile error: %w", err)
	}

	out := outputFile
	if out == "" {
		out = sourceFile + ".pimg"
	}
	if err := writeProgram(out, prog); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "pgsc: wrote %s (%d bytes, %d in-image functions, %d foreign)\n",
			out, len(prog.Code), len(prog.Functions), len(prog.ForeignFunctions))
	}
	return nil
}

// writeProgram serializes a Program as an 8-byte data length header
// followed by the concatenated data+code buffer, so an interpreter can
// split the two back apart without re-running the compiler.
func writeProgram(path string, prog *codegen.Program) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(prog.DataLen))
	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	if _, err := f.Write(prog.Code); err != nil {
		return err
	}
	return nil
}

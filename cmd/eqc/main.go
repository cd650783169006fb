// Command eqc is the driver for the toolchain: it is thin glue over the
// parser/checker/compiler/linker/vm packages, not where any language
// semantics live.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"eqlang/bytecode"
	"eqlang/linker"
	"eqlang/repl"
	"eqlang/vm"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eqc",
		Short: "The toolchain driver",
		Long:  "Compiles, links, runs, disassembles, and interactively evaluates programs.",
	}

	var outPath string
	compileCmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a module (and its imports) to a bytecode file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			bc, err := buildModule(args[0])
			if err != nil {
				fail(err)
			}
			if outPath == "" {
				outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".eqbc"
			}
			f, err := os.Create(outPath)
			if err != nil {
				fail(err)
			}
			defer f.Close()
			if err := bytecode.Write(f, bc); err != nil {
				fail(err)
			}
			fmt.Printf("%s wrote %s\n", green("✓"), bold(outPath))
		},
	}
	compileCmd.Flags().StringVarP(&outPath, "output", "o", "", "output bytecode path")

	runCmd := &cobra.Command{
		Use:   "run <file.eq|file.eqbc>",
		Short: "Compile (if needed) and run a program",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var bc *bytecode.Module
			var err error
			if strings.HasSuffix(args[0], ".eqbc") {
				data, rerr := os.ReadFile(args[0])
				if rerr != nil {
					fail(rerr)
				}
				bc, err = bytecode.Read(data)
			} else {
				bc, err = buildModule(args[0])
			}
			if err != nil {
				fail(err)
			}

			m := vm.New(bc)
			m.Args = args[1:]
			code, err := m.Run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("runtime error:"), err)
				os.Exit(1)
			}
			os.Exit(code)
		},
	}

	disasmCmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "Print the disassembled bytecode for a module",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			bc, err := buildModule(args[0])
			if err != nil {
				fail(err)
			}
			bytecode.Disassemble(os.Stdout, bc)
		},
	}

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		Run: func(cmd *cobra.Command, args []string) {
			repl.Start(os.Stdin, os.Stdout)
		},
	}

	rootCmd.AddCommand(compileCmd, runCmd, disasmCmd, replCmd)

	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// buildModule parses, type-checks, and compiles the module at path,
// threading through package linker so a program with imports resolves
// sibling ".eq" files in the same directory as the entry file.
func buildModule(path string) (*bytecode.Module, error) {
	dir := filepath.Dir(path)
	entry := modulePathOf(path)
	return linker.Link(entry, fileLoader(dir))
}

// modulePathOf strips a ".eq" extension, if present, so the entry module's
// own key in the import graph matches how its importers (if it is ever
// imported itself) would name it.
func modulePathOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// fileLoader resolves an import path to "<dir>/<path>.eq" on disk.
func fileLoader(dir string) linker.Loader {
	return func(path string) (string, error) {
		full := filepath.Join(dir, path+".eq")
		data, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("module %q: %w", path, err)
		}
		return string(data), nil
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
	os.Exit(1)
}

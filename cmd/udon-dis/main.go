// Command udon-dis inspects serialized Udon programs: it disassembles
// their functions, prints handler and call-preparation tables, and
// verifies the structural invariants the virtual machine assumes.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/udon/dis"
	"github.com/deepnoodle-ai/udon/program"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "udon-dis",
		Short:         "Inspect serialized Udon programs",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	root.AddCommand(dumpCommand(), verifyCommand())

	cobra.OnInitialize(func() {
		if noColor, _ := root.PersistentFlags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %s", err))
		os.Exit(1)
	}
}

func dumpCommand() *cobra.Command {
	var funcName string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "dump <program.json>",
		Short: "Disassemble a program's functions and unwinding tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				data, err := program.Marshal(p)
				if err != nil {
					return err
				}
				pretty, err := prettyjson.Format(data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
				return nil
			}
			if funcName != "" {
				fn := findFunction(p, funcName)
				if fn == nil {
					return fmt.Errorf("function %q not found", funcName)
				}
				return dumpFunction(cmd, p, fn)
			}
			return dis.Dump(p, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&funcName, "func", "", "Disassemble only the named function")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Pretty-print the program's serialized form instead")
	return cmd
}

func verifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <program.json>",
		Short: "Check a program against the machine's structural invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failures := 0
			for _, fn := range allFunctions(p) {
				if err := program.Validate(fn); err != nil {
					failures++
					fmt.Fprintf(out, "%s %s\n", color.RedString("FAIL"), fn.QualifiedName())
					fmt.Fprintf(out, "     %s\n", err)
					continue
				}
				fmt.Fprintf(out, "%s   %s\n", color.GreenString("OK"), fn.QualifiedName())
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d functions failed verification",
					failures, len(allFunctions(p)))
			}
			return nil
		},
	}
	return cmd
}

func loadProgram(path string) (*program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := program.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}

// allFunctions returns main (when present) followed by the function
// table.
func allFunctions(p *program.Program) []*program.Function {
	var fns []*program.Function
	if main := p.Main(); main != nil {
		fns = append(fns, main)
	}
	for i := 0; i < p.FunctionCount(); i++ {
		fns = append(fns, p.FunctionAt(i))
	}
	return fns
}

func findFunction(p *program.Program, name string) *program.Function {
	for _, fn := range allFunctions(p) {
		if fn.Name() == name || fn.QualifiedName() == name {
			return fn
		}
	}
	return nil
}

func dumpFunction(cmd *cobra.Command, p *program.Program, fn *program.Function) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", fn.String(), fn.Kind())
	if fn.IsBuiltin() {
		fmt.Fprintln(out, "  <host function>")
		return nil
	}
	instructions, err := dis.Disassemble(fn, p)
	if err != nil {
		return err
	}
	dis.Print(instructions, out)
	if fn.HandlerCount() > 0 {
		fmt.Fprintln(out, "handlers:")
		dis.PrintHandlers(fn, out)
	}
	if fn.CallRegionCount() > 0 {
		fmt.Fprintln(out, "call regions:")
		dis.PrintCallRegions(fn, out)
	}
	return nil
}

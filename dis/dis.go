// Package dis supports analysis of Udon programs by disassembling
// them. This works with the opcodes defined in the `op` package and
// uses the InstructionIter type from the `program` package.
package dis

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/udon/internal/table"
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
	"github.com/deepnoodle-ai/udon/program"
)

// Instruction represents a single instruction and its operands.
type Instruction struct {
	Offset     int
	Name       string
	Opcode     op.Code
	Operands   []op.Code
	Annotation string
	Constant   object.Object
}

// Disassemble returns a parsed representation of the given function.
// The program supplies global, function, and class names used in
// annotations; it may be nil, in which case indexes are shown instead.
func Disassemble(fn *program.Function, p *program.Program) ([]Instruction, error) {
	var instructions []Instruction
	var offset int
	iter := program.NewInstructionIter(fn)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		var err error
		info := op.GetInfo(val[0])
		var constant object.Object
		var annotation string
		switch val[0] {
		case op.LoadFast, op.StoreFast:
			annotation, err = getLocalVariableName(fn, int(val[1]))
			if err != nil {
				return nil, err
			}
		case op.LoadGlobal, op.StoreGlobal:
			annotation = getGlobalVariableName(p, int(val[1]))
		case op.MemberDim, op.MemberFinal:
			annotation, err = getName(fn, int(val[1]))
			if err != nil {
				return nil, err
			}
		case op.BinaryOp:
			annotation = op.BinaryOpType(val[1]).String()
		case op.CompareOp:
			annotation = op.CompareOpType(val[1]).String()
		case op.PrepCall, op.PrepMethodCall:
			annotation = getFunctionName(p, int(val[1]))
		case op.PrepCtorCall:
			annotation = getClassName(p, int(val[1]))
		case op.LoadConst:
			constant, err = getConstantValue(fn, int(val[1]))
			if err != nil {
				return nil, err
			}
			annotation = constant.Inspect()
		}
		instructions = append(instructions, Instruction{
			Offset:     offset,
			Name:       info.Name,
			Opcode:     val[0],
			Operands:   val[1:],
			Annotation: annotation,
			Constant:   constant,
		})
		offset += len(val)
	}
	return instructions, nil
}

func bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

// Print a string representation of the given instructions to the given writer.
func Print(instructions []Instruction, writer io.Writer) {
	var lines [][]string
	for _, instr := range instructions {
		var values []string
		values = append(values, fmt.Sprintf("%d", instr.Offset))
		values = append(values, bold(instr.Name))
		values = append(values, formatOperands(instr.Operands))
		if instr.Constant != nil {
			switch c := instr.Constant.(type) {
			case *object.Int:
				values = append(values, color.YellowString("%d", c.Value()))
			case *object.Float:
				values = append(values, color.YellowString("%f", c.Value()))
			case *object.String:
				s := c.Value()
				if len(s) > 80 {
					s = s[:77] + "..."
				}
				values = append(values, color.GreenString("%q", s))
			default:
				values = append(values, bold(c.Inspect()))
			}
		} else if instr.Annotation != "" {
			values = append(values, color.HiCyanString("%v", instr.Annotation))
		} else {
			values = append(values, "")
		}
		lines = append(lines, values)
	}

	table.NewTable(writer).
		WithHeader([]string{"OFFSET", "OPCODE", "OPERANDS", "INFO"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignLeft,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(lines).
		Render()
}

// PrintHandlers writes the function's handler table to the given
// writer. Nothing is written for functions without handlers.
func PrintHandlers(fn *program.Function, writer io.Writer) {
	if fn.HandlerCount() == 0 {
		return
	}
	var lines [][]string
	for i := 0; i < fn.HandlerCount(); i++ {
		h := fn.HandlerAt(i)
		parent := ""
		if h.Parent >= 0 {
			parent = fmt.Sprintf("%d", h.Parent)
		}
		lines = append(lines, []string{
			fmt.Sprintf("%d", i),
			bold(strings.ToUpper(h.Kind.String())),
			fmt.Sprintf("%d", h.Base),
			fmt.Sprintf("%d", h.Past),
			fmt.Sprintf("%d", h.Target),
			fmt.Sprintf("%d", h.Depth),
			parent,
		})
	}
	table.NewTable(writer).
		WithHeader([]string{"#", "KIND", "BASE", "PAST", "TARGET", "DEPTH", "PARENT"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignRight,
			table.AlignRight,
			table.AlignRight,
			table.AlignRight,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(lines).
		Render()
}

// PrintCallRegions writes the function's call-preparation regions to
// the given writer. Nothing is written for functions without regions.
func PrintCallRegions(fn *program.Function, writer io.Writer) {
	if fn.CallRegionCount() == 0 {
		return
	}
	var lines [][]string
	for i := 0; i < fn.CallRegionCount(); i++ {
		r := fn.CallRegionAt(i)
		lines = append(lines, []string{
			fmt.Sprintf("%d", i),
			bold(op.GetInfo(fn.OpAt(r.PrepOffset)).Name),
			fmt.Sprintf("%d", r.PrepOffset),
			fmt.Sprintf("%d", r.Base),
			fmt.Sprintf("%d", r.Past),
		})
	}
	table.NewTable(writer).
		WithHeader([]string{"#", "PREP", "OFFSET", "BASE", "PAST"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignRight,
			table.AlignRight,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(lines).
		Render()
}

// Dump disassembles every function in the program and writes the
// result to the given writer, handler tables and call-preparation
// regions included.
func Dump(p *program.Program, writer io.Writer) error {
	var fns []*program.Function
	if main := p.Main(); main != nil {
		fns = append(fns, main)
	}
	for i := 0; i < p.FunctionCount(); i++ {
		fns = append(fns, p.FunctionAt(i))
	}
	for i, fn := range fns {
		if i > 0 {
			fmt.Fprintln(writer)
		}
		fmt.Fprintf(writer, "%s (%s)\n", bold(fn.String()), fn.Kind())
		if fn.IsBuiltin() {
			fmt.Fprintln(writer, "  <host function>")
			continue
		}
		instructions, err := Disassemble(fn, p)
		if err != nil {
			return fmt.Errorf("disassemble %q: %w", fn.QualifiedName(), err)
		}
		Print(instructions, writer)
		if fn.HandlerCount() > 0 {
			fmt.Fprintln(writer, "handlers:")
			PrintHandlers(fn, writer)
		}
		if fn.CallRegionCount() > 0 {
			fmt.Fprintln(writer, "call regions:")
			PrintCallRegions(fn, writer)
		}
	}
	return nil
}

func formatOperands(ops []op.Code) string {
	var sb strings.Builder
	for i, op := range ops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", op))
	}
	return sb.String()
}

func getLocalVariableName(fn *program.Function, index int) (string, error) {
	if fn.LocalCount() <= index {
		return "", fmt.Errorf("local variable index out of range: %d", index)
	}
	// Try to get the actual name if available
	if name := fn.LocalNameAt(index); name != "" {
		return name, nil
	}
	// Fall back to showing the index if no name is stored
	return fmt.Sprintf("local_%d", index), nil
}

func getGlobalVariableName(p *program.Program, index int) string {
	if p != nil && index < p.GlobalCount() {
		return p.GlobalNameAt(index)
	}
	return fmt.Sprintf("global_%d", index)
}

func getFunctionName(p *program.Program, index int) string {
	if p != nil && index < p.FunctionCount() {
		return p.FunctionAt(index).QualifiedName()
	}
	return fmt.Sprintf("fn_%d", index)
}

func getClassName(p *program.Program, index int) string {
	if p != nil && index < p.ClassCount() {
		return "new " + p.ClassAt(index).Name()
	}
	return fmt.Sprintf("class_%d", index)
}

func getConstantValue(fn *program.Function, index int) (object.Object, error) {
	if fn.ConstantCount() <= index {
		return nil, fmt.Errorf("constant index out of range: %d", index)
	}
	return fn.ConstantAt(index), nil
}

func getName(fn *program.Function, index int) (string, error) {
	if fn.NameCount() <= index {
		return "", fmt.Errorf("name index out of range: %d", index)
	}
	return fn.NameAt(index), nil
}

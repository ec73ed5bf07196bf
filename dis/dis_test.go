package dis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
	"github.com/deepnoodle-ai/udon/program"
)

func plainColors(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestFunctionDisassembly(t *testing.T) {
	plainColors(t)

	b := program.NewBuilder("main")
	b.Emit(op.LoadConst, b.Constant(object.NewInt(42)))
	b.Emit(op.PopTop)
	b.Emit(op.PrepCall, 1)
	b.Emit(op.LoadConst, b.Constant(object.NewString("kaboom")))
	b.Emit(op.Call, 1)
	b.Emit(op.ReturnValue)
	fn := b.MustBuild()

	errFn := program.NewBuilder("error").MustBuild()
	p := program.NewProgram(program.ProgramParams{
		Main:      fn,
		Functions: []*program.Function{fn, errFn},
	})

	instructions, err := Disassemble(fn, p)
	assert.Nil(t, err)

	var buf bytes.Buffer
	Print(instructions, &buf)

	result := buf.String()
	expected := strings.TrimSpace(`
+--------+--------------+----------+----------+
| OFFSET |    OPCODE    | OPERANDS |   INFO   |
+--------+--------------+----------+----------+
|      0 | LOAD_CONST   |        0 | 42       |
|      2 | POP_TOP      |          |          |
|      3 | PREP_CALL    |        1 | error    |
|      5 | LOAD_CONST   |        1 | "kaboom" |
|      7 | CALL         |        1 |          |
|      9 | RETURN_VALUE |          |          |
+--------+--------------+----------+----------+
`)
	assert.Equal(t, expected+"\n", result)
}

func TestDisassemblyAnnotations(t *testing.T) {
	plainColors(t)

	b := program.NewBuilder("annotated").Params(1).Locals(2).LocalNames("x", "tmp")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.StoreFast, 1)
	b.Emit(op.LoadGlobal, 0)
	b.Emit(op.MemberDim, b.Name("next"))
	b.Emit(op.MemberFinal, b.Name("value"))
	b.Emit(op.BinaryOp, int(op.Add))
	b.Emit(op.CompareOp, int(op.LessThan))
	b.Emit(op.PrepCtorCall, 0)
	b.Emit(op.Call, 0)
	b.Emit(op.ReturnValue)
	fn := b.MustBuild()

	widget := object.NewClass("Widget")
	p := program.NewProgram(program.ProgramParams{
		Main:        fn,
		Functions:   []*program.Function{fn},
		Classes:     []program.ClassBinding{{Class: widget}},
		GlobalNames: []string{"registry"},
	})

	instructions, err := Disassemble(fn, p)
	assert.Nil(t, err)

	annotations := make(map[string]string)
	for _, instr := range instructions {
		annotations[instr.Name] = instr.Annotation
	}
	assert.Equal(t, "x", annotations["LOAD_FAST"])
	assert.Equal(t, "tmp", annotations["STORE_FAST"])
	assert.Equal(t, "registry", annotations["LOAD_GLOBAL"])
	assert.Equal(t, "next", annotations["MEMBER_DIM"])
	assert.Equal(t, "value", annotations["MEMBER_FINAL"])
	assert.Equal(t, "+", annotations["BINARY_OP"])
	assert.Equal(t, "<", annotations["COMPARE_OP"])
	assert.Equal(t, "new Widget", annotations["PREP_CTOR_CALL"])
}

func TestDisassemblyWithoutProgram(t *testing.T) {
	plainColors(t)

	b := program.NewBuilder("bare").Locals(1)
	b.Emit(op.LoadGlobal, 3)
	b.Emit(op.LoadFast, 0)
	b.Emit(op.ReturnValue)
	fn := b.MustBuild()

	instructions, err := Disassemble(fn, nil)
	assert.Nil(t, err)
	assert.Equal(t, "global_3", instructions[0].Annotation)
	assert.Equal(t, "local_0", instructions[1].Annotation)
}

func TestDisassemblyBadIndex(t *testing.T) {
	fn := program.NewFunction(program.FunctionParams{
		Name:         "broken",
		Instructions: []op.Code{op.LoadConst, 5, op.ReturnValue},
	})
	_, err := Disassemble(fn, nil)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "constant index out of range: 5")
}

func TestPrintHandlers(t *testing.T) {
	plainColors(t)

	b := program.NewBuilder("guarded")
	b.Emit(op.Nop)
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	target := b.Emit(op.Catch)
	b.Emit(op.PopTop)
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	b.Catch(0, 2, target)
	fn := b.MustBuild()

	var buf bytes.Buffer
	PrintHandlers(fn, &buf)

	expected := strings.TrimSpace(`
+---+-------+------+------+--------+-------+--------+
| # | KIND  | BASE | PAST | TARGET | DEPTH | PARENT |
+---+-------+------+------+--------+-------+--------+
| 0 | CATCH |    0 |    2 |      3 |     0 |        |
+---+-------+------+------+--------+-------+--------+
`)
	assert.Equal(t, expected+"\n", buf.String())
}

func TestDump(t *testing.T) {
	plainColors(t)

	b := program.NewBuilder("main")
	b.Emit(op.PrepCall, 0)
	b.Emit(op.Call, 0)
	b.Emit(op.ReturnValue)
	main := b.MustBuild()

	helper := program.NewBuilder("helper")
	helper.Emit(op.Nil)
	helper.Emit(op.ReturnValue)
	fn := helper.MustBuild()

	p := program.NewProgram(program.ProgramParams{
		Main:      main,
		Functions: []*program.Function{fn},
	})

	var buf bytes.Buffer
	assert.Nil(t, Dump(p, &buf))
	result := buf.String()
	assert.Contains(t, result, "func main(0 args) (plain)")
	assert.Contains(t, result, "func helper(0 args) (plain)")
	assert.Contains(t, result, "PREP_CALL")
	assert.Contains(t, result, "call regions:")
}

package program

import "github.com/deepnoodle-ai/udon/op"

// InstructionIter iterates over instructions in a Function.
type InstructionIter struct {
	fn  *Function
	pos int
}

// Next returns the next instruction and its operands.
// Returns false when there are no more instructions.
func (i *InstructionIter) Next() ([]op.Code, bool) {
	if i.pos >= i.fn.InstructionCount() {
		return nil, false
	}
	opcode := i.fn.InstructionAt(i.pos)
	i.pos++

	info := op.GetInfo(opcode)
	if info.OperandCount == 0 {
		return []op.Code{opcode}, true
	}
	instr := make([]op.Code, info.OperandCount+1)
	instr[0] = opcode

	for j := 0; j < info.OperandCount; j++ {
		instr[j+1] = i.fn.InstructionAt(i.pos)
		i.pos++
	}
	return instr, true
}

// All returns all instructions as a newly allocated slice.
// This is a convenience method that collects all results from Next().
func (i *InstructionIter) All() [][]op.Code {
	var results [][]op.Code
	for {
		instr, ok := i.Next()
		if !ok {
			break
		}
		results = append(results, instr)
	}
	return results
}

// NewInstructionIter creates a new instruction iterator for the given
// function.
func NewInstructionIter(fn *Function) *InstructionIter {
	return &InstructionIter{fn: fn}
}

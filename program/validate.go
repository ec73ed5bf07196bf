package program

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/udon/op"
)

// Validate checks the structural invariants the virtual machine
// assumes: handler regions nest and stay in bounds, catch targets
// begin with a Catch instruction, call regions pair a preparation
// opcode with a call, and builtin functions carry a host function
// instead of instructions.
func Validate(f *Function) error {
	var result *multierror.Error

	size := f.InstructionCount()
	for i := 0; i < f.HandlerCount(); i++ {
		h := f.HandlerAt(i)
		if h.Base < 0 || h.Past > size || h.Base >= h.Past {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: region [%d, %d) out of bounds for %d instructions",
				i, h.Base, h.Past, size))
		}
		if h.Target < 0 || h.Target >= size {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: target %d out of bounds", i, h.Target))
		} else if h.Kind == HandlerCatch && f.OpAt(h.Target) != op.Catch {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: catch target %d is %s, not CATCH",
				i, h.Target, op.GetInfo(f.OpAt(h.Target)).Name))
		}
		if h.Parent >= i {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: parent %d does not precede it", i, h.Parent))
		}
		if h.Depth < 0 {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: negative stack depth %d", i, h.Depth))
		}
		if h.Parent >= 0 && h.Parent < i && h.Depth < f.HandlerAt(h.Parent).Depth {
			result = multierror.Append(result, fmt.Errorf(
				"handler %d: stack depth %d is shallower than enclosing handler %d's %d",
				i, h.Depth, h.Parent, f.HandlerAt(h.Parent).Depth))
		}
		for j := 0; j < i; j++ {
			prior := f.HandlerAt(j)
			if partiallyOverlaps(h, prior) {
				result = multierror.Append(result, fmt.Errorf(
					"handler %d: region [%d, %d) partially overlaps handler %d [%d, %d)",
					i, h.Base, h.Past, j, prior.Base, prior.Past))
			}
		}
	}

	for i := 0; i < f.CallRegionCount(); i++ {
		r := f.CallRegionAt(i)
		if r.PrepOffset < 0 || r.PrepOffset >= size {
			result = multierror.Append(result, fmt.Errorf(
				"call region %d: preparation offset %d out of bounds", i, r.PrepOffset))
		} else if !op.IsCallPrep(f.OpAt(r.PrepOffset)) {
			result = multierror.Append(result, fmt.Errorf(
				"call region %d: offset %d holds %s, not a call preparation",
				i, r.PrepOffset, op.GetInfo(f.OpAt(r.PrepOffset)).Name))
		}
		if r.Base > r.Past || r.Past > size {
			result = multierror.Append(result, fmt.Errorf(
				"call region %d: range [%d, %d) out of bounds", i, r.Base, r.Past))
		}
	}

	if f.IsBuiltin() {
		if f.Builtin() == nil {
			result = multierror.Append(result,
				fmt.Errorf("builtin function %q has no host function", f.Name()))
		}
		if size > 0 {
			result = multierror.Append(result,
				fmt.Errorf("builtin function %q has %d instructions", f.Name(), size))
		}
	} else if f.Builtin() != nil {
		result = multierror.Append(result,
			fmt.Errorf("function %q has a host function but kind %s", f.Name(), f.Kind()))
	}

	if f.LocalCount() < f.ParamCount() {
		result = multierror.Append(result, fmt.Errorf(
			"local count %d is less than param count %d", f.LocalCount(), f.ParamCount()))
	}
	if f.IsConstructor() && f.ClassName() == "" {
		result = multierror.Append(result,
			fmt.Errorf("constructor %q has no class", f.Name()))
	}

	return result.ErrorOrNil()
}

// partiallyOverlaps reports whether two regions intersect without one
// containing the other.
func partiallyOverlaps(a, b Handler) bool {
	if a.Past <= b.Base || b.Past <= a.Base {
		return false // disjoint
	}
	if a.Base >= b.Base && a.Past <= b.Past {
		return false // b contains a
	}
	if b.Base >= a.Base && b.Past <= a.Past {
		return false // a contains b
	}
	return true
}

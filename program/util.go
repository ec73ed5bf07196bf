package program

import (
	"github.com/deepnoodle-ai/udon/object"
	"github.com/deepnoodle-ai/udon/op"
)

// copyStrings returns a copy of the given string slice.
func copyStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// copyInstructions returns a copy of the given instruction slice.
func copyInstructions(src []op.Code) []op.Code {
	if src == nil {
		return nil
	}
	dst := make([]op.Code, len(src))
	copy(dst, src)
	return dst
}

// copyObjects returns a copy of the given object slice.
func copyObjects(src []object.Object) []object.Object {
	if src == nil {
		return nil
	}
	dst := make([]object.Object, len(src))
	copy(dst, src)
	return dst
}

// copyHandlers returns a copy of the given handler slice.
func copyHandlers(src []Handler) []Handler {
	if src == nil {
		return nil
	}
	dst := make([]Handler, len(src))
	copy(dst, src)
	return dst
}

// copyCallRegions returns a copy of the given call region slice.
func copyCallRegions(src []CallRegion) []CallRegion {
	if src == nil {
		return nil
	}
	dst := make([]CallRegion, len(src))
	copy(dst, src)
	return dst
}

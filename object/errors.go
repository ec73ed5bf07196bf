package object

import "fmt"

// TypeErrorf returns an error describing an invalid operation on a type.
// The virtual machine converts these into exception values before they
// become visible to executing programs.
func TypeErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// ValueErrorf returns an error describing an invalid value for an operation.
func ValueErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

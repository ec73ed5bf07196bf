package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFutureLifecycle(t *testing.T) {
	f := NewFuture()
	assert.Equal(t, FuturePending, f.State())
	assert.Equal(t, "future(pending)", f.Inspect())

	assert.NoError(t, f.Succeed(NewInt(7)))
	assert.Equal(t, FutureSucceeded, f.State())
	assert.Equal(t, int64(7), f.Result().(*Int).Value())
	assert.Equal(t, int64(7), f.Interface())

	// Settling twice is an error.
	assert.Error(t, f.Succeed(NewInt(8)))
	assert.Error(t, f.Fail(NewException(ExceptionClass, "late")))
}

func TestFutureFail(t *testing.T) {
	f := NewFuture()
	exc := NewException(ExceptionClass, "broke")

	assert.NoError(t, f.Fail(exc))
	assert.Equal(t, FutureFailed, f.State())
	assert.Equal(t, exc, f.Failure())
	// The future took over the creator's reference.
	assert.Equal(t, 1, exc.RefCount())
}

func TestFailedFuture(t *testing.T) {
	exc := NewException(ExceptionClass, "broke")
	f := FailedFuture(exc)
	assert.Equal(t, FutureFailed, f.State())
	assert.Equal(t, exc, f.Failure())
	assert.Nil(t, f.Interface())
}

func TestSucceededFuture(t *testing.T) {
	f := SucceededFuture(NewString("done"))
	assert.Equal(t, FutureSucceeded, f.State())
	assert.Equal(t, "done", f.Result().(*String).Value())
}

func TestFutureFailHost(t *testing.T) {
	f := NewFuture()
	f.SetRunning(true)
	f.FailHost()
	assert.Equal(t, FutureAborted, f.State())
	assert.False(t, f.Running())
	assert.Nil(t, f.Failure())

	// Aborting a settled future is a no-op.
	done := SucceededFuture(Nil)
	done.FailHost()
	assert.Equal(t, FutureSucceeded, done.State())
}

func TestFutureRunningFlag(t *testing.T) {
	f := NewFuture()
	assert.False(t, f.Running())
	f.SetRunning(true)
	assert.True(t, f.Running())

	exc := NewException(ExceptionClass, "x")
	assert.NoError(t, f.Fail(exc))
	assert.False(t, f.Running())
}

func TestFutureStateString(t *testing.T) {
	assert.Equal(t, "pending", FuturePending.String())
	assert.Equal(t, "succeeded", FutureSucceeded.String())
	assert.Equal(t, "failed", FutureFailed.String())
	assert.Equal(t, "aborted", FutureAborted.String())
	assert.Equal(t, "unknown", FutureState(99).String())
}

func TestFutureEquals(t *testing.T) {
	f := NewFuture()
	assert.True(t, f.Equals(f))
	assert.False(t, f.Equals(NewFuture()))
	assert.False(t, f.Equals(Nil))
	assert.Equal(t, FUTURE, f.Type())
	assert.True(t, f.IsTruthy())
}

package o11y

import (
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestWarning_SurvivesWrapping(t *testing.T) {
	warn := NewWarning("control channel unreachable")
	assert.Check(t, IsWarning(warn))

	err := fmt.Errorf("redeploy: %w", fmt.Errorf("read: %w", warn))
	assert.Check(t, IsWarning(err))
	assert.Check(t, errors.Is(err, warn))
	assert.Check(t, cmp.Error(err, "redeploy: read: control channel unreachable"))

	assert.Check(t, !IsWarning(errors.New("build failed")))
	assert.Check(t, !IsWarning(nil))
}

func TestWarning_DistinctWarningsDiffer(t *testing.T) {
	read := NewWarning("read failed")
	assert.Check(t, !errors.Is(read, NewWarning("read failed")))
}

type retryable struct{}

func (retryable) Error() string { return "503 Service Unavailable" }

func (retryable) Is(target error) bool { return IsWarningNoUnwrap(target) }

func TestIsWarningNoUnwrap(t *testing.T) {
	assert.Check(t, IsWarning(retryable{}))
	assert.Check(t, IsWarning(fmt.Errorf("write: %w", retryable{})))
	assert.Check(t, !IsWarningNoUnwrap(NewWarning("read failed")))
}

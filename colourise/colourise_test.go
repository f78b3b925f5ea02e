package colourise

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestApplyColour(t *testing.T) {
	a := ApplyColour("grug")
	assert.Check(t, cmp.Equal(a, ApplyColour("grug")), "colour must be stable")
	assert.Check(t, strings.HasPrefix(a, "\033[1;38;5;"))
	assert.Check(t, strings.HasSuffix(a, "grug\033[0m"))
}

func TestErrorHighlight(t *testing.T) {
	assert.Check(t, cmp.Equal(ErrorHighlight("error"), "\033[1;37;41merror\033[0m"))
}

func TestPrefix(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		assert.Check(t, cmp.Equal(Prefix("grug", false), "[grug] "))
	})
	t.Run("colour", func(t *testing.T) {
		p := Prefix("grug", true)
		assert.Check(t, cmp.Contains(p, "[grug]"))
		assert.Check(t, strings.HasSuffix(p, "\033[0m "))
	})
}

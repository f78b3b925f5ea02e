// Package kongtest helps test kong command line definitions without exiting the test binary.
package kongtest

import (
	"bytes"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

// Help renders the --help output for cli. Defaults are applied to cli as a side effect.
func Help(t *testing.T, cli interface{}) string {
	t.Helper()

	w := bytes.NewBuffer(nil)
	rc := -1
	app := newApp(t, cli, w, &rc)

	_, err := app.Parse([]string{"--help"})
	assert.Check(t, err)
	assert.Check(t, cmp.Equal(0, rc))

	return w.String()
}

// Parse parses args into cli, failing the test on any error.
func Parse(t *testing.T, cli interface{}, args ...string) {
	t.Helper()

	w := bytes.NewBuffer(nil)
	rc := -1
	app := newApp(t, cli, w, &rc)

	_, err := app.Parse(args)
	assert.Assert(t, err, w.String())
	assert.Check(t, cmp.Equal(-1, rc), "parse exited: %s", w.String())
}

func newApp(t *testing.T, cli interface{}, w *bytes.Buffer, rc *int) *kong.Kong {
	t.Helper()

	app, err := kong.New(cli,
		kong.Name("test-app"),
		kong.Writers(w, w),
		kong.Exit(func(i int) {
			*rc = i
		}),
	)
	assert.Assert(t, err)
	return app
}

// Package types holds the subset of testing.TB that the fixtures depend on, so they
// can be driven from benchmarks and from other test runners.
package types

type TestingTB interface {
	// used by gotest.tools/v3/assert
	Fail()
	FailNow()
	Log(args ...interface{})
	Helper()

	Cleanup(func())
	Name() string
	Skip(args ...interface{})
}

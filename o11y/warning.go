package o11y

import "errors"

// errWarning is at the bottom of every warning chain.
var errWarning = errors.New("")

type warning struct {
	msg string
}

func (w *warning) Error() string { return w.msg }
func (w *warning) Unwrap() error { return errWarning }

// NewWarning is an error traced as a warning, for failures the supervisor rides out,
// such as an unreachable control channel. Two warnings are never errors.Is each other.
func NewWarning(msg string) error {
	return &warning{msg: msg}
}

// IsWarning reports whether err or anything it wraps is a warning.
func IsWarning(err error) bool {
	return errors.Is(err, errWarning)
}

// IsWarningNoUnwrap is for an error type's Is method, so the type can decide for itself
// when it should count as a warning.
func IsWarningNoUnwrap(target error) bool {
	return target == errWarning //nolint:errorlint
}

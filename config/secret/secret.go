// Package secret holds credentials such as the honeycomb key, the rollbar token and
// the control redis password, so they never leak into logs or traces.
package secret

type String string

const redacted = "REDACTED"

// String implements fmt.Stringer and redacts the sensitive value.
func (s String) String() string {
	return redacted
}

// GoString implements fmt.GoStringer and redacts the sensitive value.
func (s String) GoString() string {
	return redacted
}

// Raw returns the sensitive value as a string.
func (s String) Raw() string {
	return string(s)
}

// IsSet reports whether a value was provided at all.
func (s String) IsSet() bool {
	return s != ""
}

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

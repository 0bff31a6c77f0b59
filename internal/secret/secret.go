// Package secret provides a wrapper type for sensitive strings (API keys)
// that never leaks its contents through debug formatting, display
// formatting, or JSON serialization.
package secret

import "encoding/json"

const redacted = "[REDACTED]"

// Secret holds a sensitive value. Its zero value is an empty secret.
// Every formatting and serialization path renders as "[REDACTED]"; the raw
// bytes are reachable only via Expose, the single audit point for this
// type's entire attack surface.
type Secret struct {
	b []byte
}

// New wraps a raw string as a Secret. Deserialization from config or JSON
// should go through this constructor rather than exposing a public field.
func New(raw string) Secret {
	if raw == "" {
		return Secret{}
	}
	return Secret{b: []byte(raw)}
}

// Expose returns the raw value. This is the only accessor that returns
// cleartext; every call site is part of the grep-auditable surface the
// type exists to bound.
func (s Secret) Expose() string {
	return string(s.b)
}

// IsEmpty reports whether no value was ever set.
func (s Secret) IsEmpty() bool {
	return len(s.b) == 0
}

// MaskedPrefix returns the first six characters followed by "…***" when
// the value is at least ten characters long, else the literal redacted
// form. Used by the `arbstr providers` CLI listing; GET /providers does
// not call it and renders a configured key only as "[REDACTED]".
func (s Secret) MaskedPrefix() string {
	if len(s.b) < 10 {
		return redacted
	}
	return string(s.b[:6]) + "…***"
}

// String implements fmt.Stringer; always redacted.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so that "%#v" formatting (used by
// debug printers and some test failure messages) never reveals the value.
func (s Secret) GoString() string {
	return redacted
}

// MarshalJSON always serializes to the redacted literal, never null, so
// that accidental inclusion of a Secret in a response body is visibly
// wrong rather than silently absent.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// UnmarshalText lets Secret decode directly from a TOML/JSON/env-derived
// string field without callers needing to route through New explicitly.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = New(string(text))
	return nil
}

// Zero overwrites the underlying bytes. Go's GC does not guarantee this
// memory is ever actually reused or scrubbed, and the runtime gives no
// hook for guaranteed destructor-time clearing (no RAII), so callers that
// hold a Secret past its useful lifetime (e.g. after a provider config is
// replaced) should call Zero explicitly rather than relying on collection.
func (s *Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

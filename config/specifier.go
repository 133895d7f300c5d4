package config

import (
	"fmt"
	"strings"
)

// Specifier identifies a backend configuration: "provider" or "provider:model".
// The model segment is opaque.
type Specifier struct {
	Provider Provider
	Model    string
}

// SpecifierError reports a malformed specifier or an unknown provider.
type SpecifierError struct {
	Input  string
	Reason string
}

func (e *SpecifierError) Error() string {
	return fmt.Sprintf("invalid backend specifier %q: %s", e.Input, e.Reason)
}

// ParseSpecifier parses "provider[:model]". Only the first colon separates
// provider from model, so model names may themselves contain colons
// (e.g. "ollama:ministral-3:3b").
func ParseSpecifier(s string) (Specifier, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return Specifier{}, &SpecifierError{Input: s, Reason: "empty"}
	}

	providerPart, model, hasModel := strings.Cut(in, ":")
	p, err := ParseProvider(providerPart)
	if err != nil {
		return Specifier{}, &SpecifierError{Input: s, Reason: err.Error()}
	}
	if hasModel && strings.TrimSpace(model) == "" {
		return Specifier{}, &SpecifierError{Input: s, Reason: "model segment is empty"}
	}

	return Specifier{Provider: p, Model: strings.TrimSpace(model)}, nil
}

// MustSpecifier is ParseSpecifier for literals known to be valid.
func MustSpecifier(s string) Specifier {
	spec, err := ParseSpecifier(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// String renders the specifier in its "provider[:model]" form.
func (s Specifier) String() string {
	if s.Model == "" {
		return string(s.Provider)
	}
	return string(s.Provider) + ":" + s.Model
}

// IsZero reports whether s is unset.
func (s Specifier) IsZero() bool {
	return s.Provider == "" && s.Model == ""
}

func (s Specifier) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Specifier) UnmarshalText(text []byte) error {
	parsed, err := ParseSpecifier(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

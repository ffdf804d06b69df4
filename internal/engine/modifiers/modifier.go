// Package modifiers resolves named slider values into weighted target paths.
//
// Three modifier variants exist. A Universal modifier maps its value onto
// one or two signed targets. A Macro modifier writes a macro variable
// (gender, age, race members, ...) and expands a target pattern over the
// categories of every variable it names. A Warp modifier expands like a
// universal one but its deltas are rescaled to the current character before
// accumulation. Setting any modifier reduces to a set of (path, weight)
// writes into the detail stack.
package modifiers

import (
	"errors"
	"strings"
)

// ErrUnknownModifier is returned for lookups of undeclared modifiers.
var ErrUnknownModifier = errors.New("unknown modifier")

// ErrInvalidDefinition is returned when a modifier definition file is
// inconsistent.
var ErrInvalidDefinition = errors.New("invalid modifier definition")

// Modifier is one of *Universal, *Macro or *Warp.
type Modifier interface {
	Base() *Common
	isModifier()
}

// Common holds the fields shared by every modifier variant.
type Common struct {
	Group   string
	Name    string
	Default float32
	Min     float32
	Max     float32

	// Placeholder variables the target patterns depend on.
	Deps []string

	index int
}

// FullName returns group/name.
func (c *Common) FullName() string {
	return c.Group + "/" + c.Name
}

// Clamp limits v to [Min, Max].
func (c *Common) Clamp(v float32) float32 {
	if v < c.Min {
		return c.Min
	}
	if v > c.Max {
		return c.Max
	}
	return v
}

// Base returns the shared fields.
func (c *Common) Base() *Common { return c }

func (*Common) isModifier() {}

// Universal maps a value onto a negative-side and a positive-side pattern.
// Either side may be empty for single-sided modifiers.
type Universal struct {
	Common
	Negative string
	Positive string
}

// Macro writes Variable and expands Pattern over category weights.
type Macro struct {
	Common
	Variable string
	Pattern  string
}

// Warp is a universal-style modifier whose deltas were authored against a
// reference character described by Reference, the fixed macro variable
// values, and measured from six base vertices forming three axis pairs.
type Warp struct {
	Common
	Negative  string
	Positive  string
	Bodypart  string
	Keypoints [6]uint32
	Reference map[string]float32
}

// sides returns the per-pattern side weights of a signed value. A
// single-sided modifier weights its target by max(v, 0) whatever its clamp.
func sides(v float32, negative, positive string) (neg, pos float32) {
	if negative == "" {
		return 0, max(v, 0)
	}
	if v < 0 {
		return -v, 0
	}
	return 0, v
}

// Write is one detail stack update. Weight 0 removes the entry. Warp names
// the owning warp modifier, or is empty for plain targets.
type Write struct {
	Path   string
	Weight float32
	Warp   string
}

// mirrorName swaps an l-/r- side prefix.
func mirrorName(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "l-"):
		return "r-" + name[2:], true
	case strings.HasPrefix(name, "r-"):
		return "l-" + name[2:], true
	}
	return "", false
}

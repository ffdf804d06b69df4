package modifiers

import "sort"

// Category is a named anchor of a triangular variable. An empty Name marks
// an implicit anchor that contributes weight but produces no target.
type Category struct {
	Name string  `yaml:"name"`
	At   float32 `yaml:"at"`
}

// CategoryWeight is one category with its interpolated weight.
type CategoryWeight struct {
	Name   string
	Weight float32
}

// Variable is a macro variable. A triangular variable interpolates between
// its Categories; a normalised set has Members whose values always sum to 1
// and act as their own category weights.
type Variable struct {
	Name       string
	Default    float32
	Categories []Category
	Members    []string
}

// IsSet reports whether v is a normalised set.
func (v *Variable) IsSet() bool { return len(v.Members) > 0 }

// Triangular returns the category weights of value. Weights of the two
// anchors around value sum to 1; values outside the anchor range saturate
// on the end anchors. Zero weights are omitted.
func (v *Variable) Triangular(value float32) []CategoryWeight {
	cats := v.Categories
	switch {
	case len(cats) == 0:
		return nil
	case value <= cats[0].At:
		return []CategoryWeight{{cats[0].Name, 1}}
	case value >= cats[len(cats)-1].At:
		return []CategoryWeight{{cats[len(cats)-1].Name, 1}}
	}
	i := sort.Search(len(cats), func(i int) bool { return cats[i].At > value }) - 1
	lo, hi := cats[i], cats[i+1]
	wHi := (value - lo.At) / (hi.At - lo.At)
	wLo := 1 - wHi
	out := make([]CategoryWeight, 0, 2)
	if wLo > 0 {
		out = append(out, CategoryWeight{lo.Name, wLo})
	}
	if wHi > 0 {
		out = append(out, CategoryWeight{hi.Name, wHi})
	}
	return out
}

// rebalance sets member to value and rescales the other members so the set
// sums to 1: proportionally, or evenly when the others are all zero.
func rebalance(members []string, values map[string]float32, member string, value float32) map[string]float32 {
	out := make(map[string]float32, len(members))
	var rest float32
	for _, m := range members {
		if m != member {
			rest += values[m]
		}
	}
	remaining := 1 - value
	others := float32(len(members) - 1)
	for _, m := range members {
		switch {
		case m == member:
			out[m] = value
		case rest > 0:
			out[m] = remaining * (values[m] / rest)
		case others > 0:
			out[m] = remaining / others
		}
	}
	return out
}

package modifiers

import (
	"fmt"
	"strings"
)

// placeholders returns the {name} placeholders of pattern in order of first
// appearance.
func placeholders(pattern string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for rest := pattern; ; {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("%w: unbalanced '}' in %q", ErrInvalidDefinition, pattern)
			}
			return out, nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unbalanced '{' in %q", ErrInvalidDefinition, pattern)
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "{/") {
			return nil, fmt.Errorf("%w: bad placeholder in %q", ErrInvalidDefinition, pattern)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		rest = rest[open+end+1:]
	}
}

// expand emits every concrete path of pattern with weight base times the
// product of the chosen category weights, multiplied in placeholder order.
// Combinations that pick an implicit (unnamed) category are skipped.
func expand(pattern string, base float32, deps []string, weights func(string) []CategoryWeight, emit func(path string, w float32)) {
	if base == 0 {
		return
	}
	if len(deps) == 0 {
		emit(pattern, base)
		return
	}
	choices := make([][]CategoryWeight, len(deps))
	for i, d := range deps {
		choices[i] = weights(d)
		if len(choices[i]) == 0 {
			return
		}
	}
	pick := make([]int, len(deps))
	for {
		w := base
		implicit := false
		repl := make([]string, 0, 2*len(deps))
		for i, d := range deps {
			c := choices[i][pick[i]]
			w = float32(w * c.Weight)
			if c.Name == "" {
				implicit = true
			}
			repl = append(repl, "{"+d+"}", c.Name)
		}
		if !implicit && w != 0 {
			emit(strings.NewReplacer(repl...).Replace(pattern), w)
		}

		// Odometer increment, last placeholder fastest.
		i := len(pick) - 1
		for ; i >= 0; i-- {
			pick[i]++
			if pick[i] < len(choices[i]) {
				break
			}
			pick[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

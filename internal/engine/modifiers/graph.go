package modifiers

import (
	"fmt"
	"sort"
)

// Graph owns the modifier declarations, the macro variable values, the
// per-modifier values and what each active modifier currently writes.
// A modifier becomes active the first time it is expanded.
type Graph struct {
	mods   []Modifier
	byName map[string]Modifier

	vars     map[string]*Variable
	varOrder []string
	memberOf map[string]string
	byVar    map[string]int

	values map[string]float32
	own    map[string]float32

	dependents map[string][]int
	contrib    []map[string]Write
	owners     map[string][]int
}

// NewGraph validates the declarations and initialises every value to its
// default. No modifier is active.
func NewGraph(vars []*Variable, mods []Modifier) (*Graph, error) {
	g := &Graph{
		byName:     make(map[string]Modifier, len(mods)),
		vars:       make(map[string]*Variable, len(vars)),
		memberOf:   make(map[string]string),
		byVar:      make(map[string]int),
		dependents: make(map[string][]int),
		owners:     make(map[string][]int),
	}
	for _, v := range vars {
		if _, dup := g.vars[v.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate variable %s", ErrInvalidDefinition, v.Name)
		}
		if v.IsSet() && len(v.Categories) > 0 {
			return nil, fmt.Errorf("%w: variable %s has both members and categories", ErrInvalidDefinition, v.Name)
		}
		for i := 1; i < len(v.Categories); i++ {
			if v.Categories[i].At <= v.Categories[i-1].At {
				return nil, fmt.Errorf("%w: variable %s: anchors not increasing", ErrInvalidDefinition, v.Name)
			}
		}
		for _, m := range v.Members {
			if _, dup := g.memberOf[m]; dup {
				return nil, fmt.Errorf("%w: member %s in two sets", ErrInvalidDefinition, m)
			}
			g.memberOf[m] = v.Name
		}
		g.vars[v.Name] = v
		g.varOrder = append(g.varOrder, v.Name)
	}
	for name := range g.memberOf {
		if _, clash := g.vars[name]; clash {
			return nil, fmt.Errorf("%w: %s is both a variable and a set member", ErrInvalidDefinition, name)
		}
	}

	for i, m := range mods {
		c := m.Base()
		name := c.FullName()
		if _, dup := g.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate modifier %s", ErrInvalidDefinition, name)
		}
		if c.Min > c.Max {
			return nil, fmt.Errorf("%w: %s: clamp [%v, %v]", ErrInvalidDefinition, name, c.Min, c.Max)
		}
		deps, err := patternDeps(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, d := range deps {
			if _, ok := g.vars[d]; !ok {
				return nil, fmt.Errorf("%w: %s: unknown placeholder {%s}", ErrInvalidDefinition, name, d)
			}
			g.dependents[d] = append(g.dependents[d], i)
		}
		c.Deps = deps
		c.index = i

		switch m := m.(type) {
		case *Macro:
			if !g.isValueSlot(m.Variable) {
				return nil, fmt.Errorf("%w: %s: unknown variable %s", ErrInvalidDefinition, name, m.Variable)
			}
			if _, dup := g.byVar[m.Variable]; !dup {
				g.byVar[m.Variable] = i
			}
		case *Warp:
			for v := range m.Reference {
				if !g.isValueSlot(v) {
					return nil, fmt.Errorf("%w: %s: unknown reference variable %s", ErrInvalidDefinition, name, v)
				}
			}
		}
		g.byName[name] = m
		g.mods = append(g.mods, m)
	}
	g.contrib = make([]map[string]Write, len(g.mods))
	g.Reset()
	return g, nil
}

func patternDeps(m Modifier) ([]string, error) {
	var pats []string
	switch m := m.(type) {
	case *Universal:
		pats = []string{m.Negative, m.Positive}
	case *Macro:
		pats = []string{m.Pattern}
	case *Warp:
		pats = []string{m.Negative, m.Positive}
	}
	var deps []string
	seen := map[string]bool{}
	for _, p := range pats {
		ph, err := placeholders(p)
		if err != nil {
			return nil, err
		}
		for _, d := range ph {
			if !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		}
	}
	return deps, nil
}

// isValueSlot reports whether name holds a scalar: a triangular variable
// or a set member.
func (g *Graph) isValueSlot(name string) bool {
	if v, ok := g.vars[name]; ok {
		return !v.IsSet()
	}
	_, ok := g.memberOf[name]
	return ok
}

// Reset restores every value to its default and deactivates every modifier.
func (g *Graph) Reset() {
	g.values = make(map[string]float32)
	for _, name := range g.varOrder {
		v := g.vars[name]
		if v.IsSet() {
			for _, m := range v.Members {
				g.values[m] = 1 / float32(len(v.Members))
			}
			continue
		}
		g.values[name] = v.Default
	}
	g.own = make(map[string]float32)
	for _, m := range g.mods {
		if _, ok := m.(*Macro); !ok {
			g.own[m.Base().FullName()] = m.Base().Default
		}
	}
	for i := range g.contrib {
		g.contrib[i] = nil
	}
	g.owners = make(map[string][]int)
}

// Modifiers returns the declared modifiers in declaration order.
func (g *Graph) Modifiers() []Modifier { return g.mods }

// Variable returns the named variable.
func (g *Graph) Variable(name string) (*Variable, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// Variables returns the variable names in declaration order.
func (g *Graph) Variables() []string { return g.varOrder }

// Modifier returns the named modifier.
func (g *Graph) Modifier(fullName string) (Modifier, error) {
	m, ok := g.byName[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModifier, fullName)
	}
	return m, nil
}

// ModifierForVariable returns the macro modifier writing variable name.
func (g *Graph) ModifierForVariable(name string) (*Macro, bool) {
	i, ok := g.byVar[name]
	if !ok {
		return nil, false
	}
	return g.mods[i].(*Macro), true
}

// Value returns the current value of a modifier. Macro modifiers report
// their variable.
func (g *Graph) Value(fullName string) (float32, error) {
	m, err := g.Modifier(fullName)
	if err != nil {
		return 0, err
	}
	if mac, ok := m.(*Macro); ok {
		return g.values[mac.Variable], nil
	}
	return g.own[fullName], nil
}

// VariableValue returns a triangular variable or set member value.
func (g *Graph) VariableValue(name string) float32 {
	return g.values[name]
}

// Active reports whether the modifier has been expanded.
func (g *Graph) Active(fullName string) bool {
	m, ok := g.byName[fullName]
	return ok && g.contrib[m.Base().index] != nil
}

// ActiveModifiers returns active modifier names in declaration order.
func (g *Graph) ActiveModifiers() []string {
	var out []string
	for i, m := range g.mods {
		if g.contrib[i] != nil {
			out = append(out, m.Base().FullName())
		}
	}
	return out
}

// Dependents returns the modifiers whose expansion depends on variable.
func (g *Graph) Dependents(variable string) []string {
	if set, ok := g.memberOf[variable]; ok {
		variable = set
	}
	idx := g.dependents[variable]
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = g.mods[j].Base().FullName()
	}
	return out
}

// Symmetric returns the mirrored counterpart of a left/right modifier.
func (g *Graph) Symmetric(fullName string) (string, bool) {
	m, ok := g.byName[fullName]
	if !ok {
		return "", false
	}
	c := m.Base()
	mirror, ok := mirrorName(c.Name)
	if !ok {
		return "", false
	}
	name := c.Group + "/" + mirror
	if _, ok := g.byName[name]; !ok {
		return "", false
	}
	return name, true
}

type lookup struct {
	g      *Graph
	values map[string]float32
	own    map[string]float32
}

func (l lookup) value(name string) float32 {
	if v, ok := l.values[name]; ok {
		return v
	}
	return l.g.values[name]
}

func (l lookup) ownValue(name string) float32 {
	if v, ok := l.own[name]; ok {
		return v
	}
	return l.g.own[name]
}

func (l lookup) weights(dep string) []CategoryWeight {
	v := l.g.vars[dep]
	if v.IsSet() {
		out := make([]CategoryWeight, 0, len(v.Members))
		for _, m := range v.Members {
			if w := l.value(m); w != 0 {
				out = append(out, CategoryWeight{m, w})
			}
		}
		return out
	}
	return v.Triangular(l.value(dep))
}

func (l lookup) contributions(m Modifier) map[string]Write {
	out := make(map[string]Write)
	add := func(owner string) func(string, float32) {
		return func(path string, w float32) {
			out[path] = Write{Path: path, Weight: w, Warp: owner}
		}
	}
	phDeps := func(p string) []string {
		d, _ := placeholders(p)
		return d
	}
	switch m := m.(type) {
	case *Universal:
		neg, pos := sides(l.ownValue(m.FullName()), m.Negative, m.Positive)
		if m.Negative != "" {
			expand(m.Negative, neg, phDeps(m.Negative), l.weights, add(""))
		}
		if m.Positive != "" {
			expand(m.Positive, pos, phDeps(m.Positive), l.weights, add(""))
		}
	case *Warp:
		neg, pos := sides(l.ownValue(m.FullName()), m.Negative, m.Positive)
		owner := m.FullName()
		if m.Negative != "" {
			expand(m.Negative, neg, phDeps(m.Negative), l.weights, add(owner))
		}
		if m.Positive != "" {
			expand(m.Positive, pos, phDeps(m.Positive), l.weights, add(owner))
		}
	case *Macro:
		expand(m.Pattern, 1, m.Deps, l.weights, add(""))
	}
	return out
}

// SetValue clamps v and writes it to the named modifier. It returns the
// detail stack writes that bring the stack in line with the new state of
// every affected modifier. Nothing changes when an error is returned.
func (g *Graph) SetValue(fullName string, v float32) ([]Write, error) {
	m, err := g.Modifier(fullName)
	if err != nil {
		return nil, err
	}
	c := m.Base()
	v = c.Clamp(v)

	l := lookup{g: g, values: map[string]float32{}, own: map[string]float32{}}
	affected := map[int]bool{c.index: true}

	if mac, ok := m.(*Macro); ok {
		changed := map[string]float32{mac.Variable: v}
		dep := mac.Variable
		if set, ok := g.memberOf[mac.Variable]; ok {
			changed = rebalance(g.vars[set].Members, g.values, mac.Variable, v)
			dep = set
		}
		for name, nv := range changed {
			if nv != g.values[name] {
				l.values[name] = nv
			}
		}
		if len(l.values) > 0 {
			for _, i := range g.dependents[dep] {
				affected[i] = true
			}
		}
	} else {
		l.own[fullName] = v
	}

	writes, next := g.recompute(l, affected)
	g.commit(l, next)
	return writes, nil
}

// SetRaw stores a clamped value without expanding anything. Set members are
// not rebalanced. Used when restoring saved state.
func (g *Graph) SetRaw(fullName string, v float32) error {
	m, err := g.Modifier(fullName)
	if err != nil {
		return err
	}
	v = m.Base().Clamp(v)
	if mac, ok := m.(*Macro); ok {
		g.values[mac.Variable] = v
		return nil
	}
	g.own[fullName] = v
	return nil
}

// Expand activates the named modifiers and the dependents of their
// variables, and returns their writes relative to an empty detail stack.
func (g *Graph) Expand(fullNames []string) ([]Write, error) {
	affected := map[int]bool{}
	for _, name := range fullNames {
		m, err := g.Modifier(name)
		if err != nil {
			return nil, err
		}
		affected[m.Base().index] = true
		if mac, ok := m.(*Macro); ok {
			dep := mac.Variable
			if set, ok := g.memberOf[dep]; ok {
				dep = set
			}
			for _, i := range g.dependents[dep] {
				affected[i] = true
			}
		}
	}
	l := lookup{g: g}
	writes, next := g.recompute(l, affected)
	g.commit(l, next)
	return writes, nil
}

// recompute expands every affected modifier under l and diffs against the
// current contributions. When several modifiers write one path the one
// declared last wins, whether or not it was affected; paths nobody writes
// any more are emitted with weight 0.
func (g *Graph) recompute(l lookup, affected map[int]bool) ([]Write, map[int]map[string]Write) {
	order := make([]int, 0, len(affected))
	for i := range affected {
		order = append(order, i)
	}
	sort.Ints(order)

	final := make(map[string]Write)
	writer := make(map[string]int)
	for _, i := range order {
		for path := range g.contrib[i] {
			final[path] = Write{Path: path}
			writer[path] = -1
		}
	}
	next := make(map[int]map[string]Write, len(order))
	for _, i := range order {
		c := l.contributions(g.mods[i])
		next[i] = c
		for path, w := range c {
			final[path] = w
			writer[path] = i
		}
	}
	for path := range final {
		for _, o := range g.owners[path] {
			if !affected[o] && o > writer[path] {
				final[path] = g.contrib[o][path]
				writer[path] = o
			}
		}
	}

	writes := make([]Write, 0, len(final))
	for _, w := range final {
		writes = append(writes, w)
	}
	sort.Slice(writes, func(a, b int) bool { return writes[a].Path < writes[b].Path })
	return writes, next
}

func (g *Graph) commit(l lookup, next map[int]map[string]Write) {
	for k, v := range l.values {
		g.values[k] = v
	}
	for k, v := range l.own {
		g.own[k] = v
	}
	for i, c := range next {
		for path := range g.contrib[i] {
			g.owners[path] = removeOwner(g.owners[path], i)
			if len(g.owners[path]) == 0 {
				delete(g.owners, path)
			}
		}
		for path := range c {
			g.owners[path] = append(g.owners[path], i)
		}
		g.contrib[i] = c
	}
}

func removeOwner(owners []int, i int) []int {
	for k, o := range owners {
		if o == i {
			return append(owners[:k], owners[k+1:]...)
		}
	}
	return owners
}

// ReferenceWrites returns the expansion of every active macro modifier with
// the warp modifier's fixed factors substituted. It describes the reference
// character the warp targets were authored against.
func (g *Graph) ReferenceWrites(w *Warp) []Write {
	l := lookup{g: g, values: w.Reference}
	final := make(map[string]Write)
	for i, m := range g.mods {
		if _, ok := m.(*Macro); !ok || g.contrib[i] == nil {
			continue
		}
		for path, wr := range l.contributions(m) {
			final[path] = wr
		}
	}
	out := make([]Write, 0, len(final))
	for _, wr := range final {
		out = append(out, wr)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out
}

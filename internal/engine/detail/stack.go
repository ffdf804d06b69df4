// Package detail implements the detail stack: the current set of target
// paths with their weights. Entries live in a map with a separate key list
// recording insertion order for saving and debugging.
package detail

import (
	"sort"

	"github.com/Faultbox/mhcore/internal/engine/modifiers"
)

// Entry is one weighted target. Warp names the owning warp modifier.
type Entry struct {
	Path   string
	Weight float32
	Warp   string
}

// Change records a path whose entry differs from the last committed state.
// A zero Weight in Old or New means the entry is absent.
type Change struct {
	Path string
	Old  Entry
	New  Entry
}

// Stack is the detail stack. Weight 0 is never stored.
type Stack struct {
	entries map[string]Entry
	keys    []string
	index   map[string]int

	pending map[string]Entry
}

// New returns an empty stack.
func New() *Stack {
	return &Stack{
		entries: make(map[string]Entry),
		index:   make(map[string]int),
		pending: make(map[string]Entry),
	}
}

// Len returns the number of entries.
func (s *Stack) Len() int { return len(s.entries) }

// Get returns the entry for path.
func (s *Stack) Get(path string) (Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

// Weight returns the weight of path, or 0 when absent.
func (s *Stack) Weight(path string) float32 {
	return s.entries[path].Weight
}

// Set writes one entry. Weight 0 removes it. It reports whether the stack
// changed.
func (s *Stack) Set(path string, weight float32, warp string) bool {
	old, had := s.entries[path]
	if weight == 0 {
		if !had {
			return false
		}
		s.track(path, old)
		delete(s.entries, path)
		s.removeKey(path)
		return true
	}
	e := Entry{Path: path, Weight: weight, Warp: warp}
	if had && old == e {
		return false
	}
	s.track(path, old)
	s.entries[path] = e
	if !had {
		s.index[path] = len(s.keys)
		s.keys = append(s.keys, path)
	}
	return true
}

// Apply writes every modifier write and returns the number of changes.
func (s *Stack) Apply(writes []modifiers.Write) int {
	n := 0
	for _, w := range writes {
		if s.Set(w.Path, w.Weight, w.Warp) {
			n++
		}
	}
	return n
}

func (s *Stack) track(path string, old Entry) {
	if _, seen := s.pending[path]; !seen {
		s.pending[path] = old
	}
}

func (s *Stack) removeKey(path string) {
	i, ok := s.index[path]
	if !ok {
		return
	}
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
	delete(s.index, path)
	for j := i; j < len(s.keys); j++ {
		s.index[s.keys[j]] = j
	}
}

// Entries returns the entries in insertion order.
func (s *Stack) Entries() []Entry {
	out := make([]Entry, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.entries[k]
	}
	return out
}

// Canonical returns the entries in accumulation order: plain entries sorted
// by path, then warp entries sorted by path. Summing in this order makes
// results independent of insertion order.
func (s *Stack) Canonical() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	SortCanonical(out)
	return out
}

// SortCanonical sorts entries into accumulation order.
func SortCanonical(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		wi, wj := entries[i].Warp != "", entries[j].Warp != ""
		if wi != wj {
			return !wi
		}
		return entries[i].Path < entries[j].Path
	})
}

// Changes returns the uncommitted changes sorted by path. Paths restored
// to their committed entry are omitted.
func (s *Stack) Changes() []Change {
	out := make([]Change, 0, len(s.pending))
	for path, old := range s.pending {
		cur := s.entries[path]
		if cur == old || (cur.Weight == 0 && old.Weight == 0) {
			continue
		}
		out = append(out, Change{Path: path, Old: old, New: cur})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Dirty reports whether uncommitted changes exist.
func (s *Stack) Dirty() bool { return len(s.Changes()) > 0 }

// Commit marks the current state as evaluated.
func (s *Stack) Commit() {
	s.pending = make(map[string]Entry)
}

// Clear removes every entry, tracking the removals as changes.
func (s *Stack) Clear() {
	for _, k := range s.keys {
		s.track(k, s.entries[k])
	}
	s.entries = make(map[string]Entry)
	s.keys = nil
	s.index = make(map[string]int)
}

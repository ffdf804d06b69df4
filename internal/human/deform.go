package human

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/internal/engine/detail"
	"github.com/Faultbox/mhcore/internal/engine/modifiers"
	"github.com/Faultbox/mhcore/internal/engine/targets"
	"github.com/Faultbox/mhcore/internal/engine/warp"
	"github.com/Faultbox/mhcore/pkg/math"
)

// layer is one detail stack entry resolved to its target.
type layer struct {
	target *targets.Target
	weight float32
	owner  string
	scale  math.Vec3
}

func (l *layer) delta(d math.Vec3) math.Vec3 {
	if l.owner == "" {
		return d
	}
	return warp.Scale(d, l.scale)
}

// incrementalLimit is the largest share of vertices recomputed one by one;
// beyond it a full pass is cheaper.
const incrementalLimit = 4

// deform recomputes the base coordinates from the detail stack. Layers are
// accumulated in canonical order, so the full pass and the per-vertex
// incremental pass produce identical bits.
func (e *Engine) deform() error {
	layers, err := e.resolve(e.stack.Canonical())
	if err != nil {
		return err
	}
	factors, err := e.applyWarp(layers)
	if err != nil {
		return err
	}

	var dirty []uint32
	full := e.fullDeform || !e.incremental
	if !full {
		dirty, err = e.dirtyVerts(factors)
		if err != nil {
			return err
		}
		full = len(dirty)*incrementalLimit > e.base.NumVerts()
	}

	if full {
		if err := e.deformFull(layers); err != nil {
			return err
		}
		e.stats.FullPasses++
	} else {
		e.deformVerts(layers, dirty)
		e.stats.IncrementalPasses++
		e.stats.LastDirtyVerts = len(dirty)
	}
	e.stack.Commit()
	e.warpFactors = factors
	e.fullDeform = false
	return nil
}

// target fetches a target. A missing file is recorded and logged once and
// yields nil without error; malformed targets are errors.
func (e *Engine) target(path string) (*targets.Target, error) {
	t, err := e.store.Get(path)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, targets.ErrUnknownTarget):
		if !e.missing[path] {
			e.missing[path] = true
			e.log.Warn("skipping missing target", zap.String("path", path))
		}
		return nil, nil
	default:
		return nil, err
	}
}

func (e *Engine) resolve(entries []detail.Entry) ([]layer, error) {
	out := make([]layer, 0, len(entries))
	for _, en := range entries {
		t, err := e.target(en.Path)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		out = append(out, layer{target: t, weight: en.Weight, owner: en.Warp, scale: warp.Identity})
	}
	return out, nil
}

// applyWarp computes the axis factors of every warp modifier present in
// layers and stores them on its layers. The current character is measured
// without warp contributions; the reference character is the macro
// expansion at the warp's fixed factors.
func (e *Engine) applyWarp(layers []layer) (map[string]math.Vec3, error) {
	factors := make(map[string]math.Vec3)
	var plain []warp.Weighted
	for i := range layers {
		if layers[i].owner == "" {
			plain = append(plain, warp.Weighted{Target: layers[i].target, Weight: layers[i].weight})
		}
	}
	rest := e.base.Rest()
	for i := range layers {
		l := &layers[i]
		if l.owner == "" {
			continue
		}
		s, ok := factors[l.owner]
		if !ok {
			m, err := e.graph.Modifier(l.owner)
			if err != nil {
				return nil, fmt.Errorf("%w: warp owner: %w", ErrInvariant, err)
			}
			w, isWarp := m.(*modifiers.Warp)
			if !isWarp {
				return nil, fmt.Errorf("%w: %s owns warp entries but is not a warp modifier", ErrInvariant, l.owner)
			}
			ref, err := e.referenceStack(w)
			if err != nil {
				return nil, err
			}
			s = warp.Factors(warp.Keypoints(w.Keypoints, rest, plain), warp.Keypoints(w.Keypoints, rest, ref))
			factors[l.owner] = s
		}
		l.scale = s
	}
	return factors, nil
}

func (e *Engine) referenceStack(w *modifiers.Warp) ([]warp.Weighted, error) {
	writes := e.graph.ReferenceWrites(w)
	entries := make([]detail.Entry, len(writes))
	for i, wr := range writes {
		entries[i] = detail.Entry{Path: wr.Path, Weight: wr.Weight}
	}
	detail.SortCanonical(entries)
	var out []warp.Weighted
	for _, en := range entries {
		t, err := e.target(en.Path)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, warp.Weighted{Target: t, Weight: en.Weight})
		}
	}
	return out, nil
}

// dirtyVerts collects the vertices touched by uncommitted stack changes and
// by warp layers whose factors moved, sorted and unique.
func (e *Engine) dirtyVerts(factors map[string]math.Vec3) ([]uint32, error) {
	seen := make(map[uint32]struct{})
	add := func(t *targets.Target) {
		for _, v := range t.Verts {
			seen[v] = struct{}{}
		}
	}
	for _, c := range e.stack.Changes() {
		t, err := e.target(c.Path)
		if err != nil {
			return nil, err
		}
		if t != nil {
			add(t)
		}
	}
	for _, en := range e.stack.Entries() {
		if en.Warp == "" {
			continue
		}
		if prev, ok := e.warpFactors[en.Warp]; ok && prev == factors[en.Warp] {
			continue
		}
		t, err := e.target(en.Path)
		if err != nil {
			return nil, err
		}
		if t != nil {
			add(t)
		}
	}
	out := make([]uint32, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// deformFull accumulates every layer over disjoint vertex ranges.
func (e *Engine) deformFull(layers []layer) error {
	rest := e.base.Rest()
	out := make([]math.Vec3, len(rest))
	e.pool.For(len(rest), func(lo, hi int) {
		copy(out[lo:hi], rest[lo:hi])
		for i := range layers {
			l := &layers[i]
			verts := l.target.Verts
			for k := l.target.Search(uint32(lo)); k < len(verts) && verts[k] < uint32(hi); k++ {
				v := verts[k]
				out[v] = out[v].MulAdd(l.delta(l.target.Data[k]), l.weight)
			}
		}
	})
	return e.base.SetCoords(out)
}

// deformVerts recomputes the listed vertices from their rest positions.
func (e *Engine) deformVerts(layers []layer, verts []uint32) {
	rest := e.base.Rest()
	out := make([]math.Vec3, len(verts))
	e.pool.For(len(verts), func(lo, hi int) {
		for j := lo; j < hi; j++ {
			v := verts[j]
			p := rest[v]
			for i := range layers {
				l := &layers[i]
				if d, ok := l.target.Delta(v); ok {
					p = p.MulAdd(l.delta(d), l.weight)
				}
			}
			out[j] = p
		}
	})
	for j, v := range verts {
		e.base.SetCoord(v, out[j])
	}
}

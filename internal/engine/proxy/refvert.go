package proxy

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// RefKind tags the form of a ref-vert.
type RefKind uint8

// Ref-vert forms.
const (
	// RefSingle places the proxy vertex at one base vertex plus an offset.
	RefSingle RefKind = iota
	// RefTriple places the proxy vertex at the barycentric combination of
	// three base vertices, each pushed along its normal.
	RefTriple
)

// RefVert is the rule that positions one proxy vertex. Single refs use
// Verts[0] and Offset; triple refs use Verts, Weights and Dists.
type RefVert struct {
	Kind    RefKind
	Verts   [3]uint32
	Weights [3]float32
	Dists   [3]float32
	Offset  math.Vec3
}

// Single returns a single-index ref-vert.
func Single(v uint32, offset math.Vec3) RefVert {
	return RefVert{Kind: RefSingle, Verts: [3]uint32{v, v, v}, Offset: offset}
}

// Triple returns a barycentric ref-vert.
func Triple(verts [3]uint32, weights, dists [3]float32) RefVert {
	return RefVert{Kind: RefTriple, Verts: verts, Weights: weights, Dists: dists}
}

// Indices returns the base vertices this ref-vert reads.
func (r RefVert) Indices() []uint32 {
	if r.Kind == RefSingle {
		return r.Verts[:1]
	}
	return r.Verts[:]
}

// Position evaluates the ref-vert against base coordinates and normals.
func (r RefVert) Position(coords, normals []math.Vec3) math.Vec3 {
	switch r.Kind {
	case RefSingle:
		return coords[r.Verts[0]].Add(r.Offset)
	default:
		var p math.Vec3
		for k := 0; k < 3; k++ {
			i := r.Verts[k]
			q := coords[i].MulAdd(normals[i], r.Dists[k])
			p = p.MulAdd(q, r.Weights[k])
		}
		return p
	}
}

func (r RefVert) visible(baseVisible []bool) bool {
	for _, v := range r.Indices() {
		if !baseVisible[v] {
			return false
		}
	}
	return true
}

func (r RefVert) validate(numBase int) error {
	for _, v := range r.Indices() {
		if int(v) >= numBase {
			return fmt.Errorf("%w: base vertex %d of %d", ErrInvalidRefVert, v, numBase)
		}
	}
	if r.Kind == RefTriple {
		for k := 0; k < 3; k++ {
			if math32.IsNaN(r.Weights[k]) || math32.IsInf(r.Weights[k], 0) ||
				math32.IsNaN(r.Dists[k]) || math32.IsInf(r.Dists[k], 0) {
				return fmt.Errorf("%w: non-finite weight or offset", ErrInvalidRefVert)
			}
		}
	}
	return nil
}

func refFromWire(r formats.MHCLORef) RefVert {
	if r.Single {
		return Single(r.Verts[0], math.Vec3{X: r.Offset[0], Y: r.Offset[1], Z: r.Offset[2]})
	}
	return Triple(r.Verts, r.Weights, r.Dists)
}

func (r RefVert) wire() formats.MHCLORef {
	if r.Kind == RefSingle {
		return formats.MHCLORef{
			Single: true,
			Verts:  [3]uint32{r.Verts[0]},
			Offset: [3]float32{r.Offset.X, r.Offset.Y, r.Offset.Z},
		}
	}
	return formats.MHCLORef{Verts: r.Verts, Weights: r.Weights, Dists: r.Dists}
}

// Fit writes every proxy vertex position into out, which must hold
// NumVerts entries. The pass runs over disjoint vertex ranges of pool.
func (p *Proxy) Fit(pool parallel.Pool, coords, normals, out []math.Vec3) {
	refs := p.Refs
	pool.For(len(refs), func(lo, hi int) {
		for j := lo; j < hi; j++ {
			out[j] = refs[j].Position(coords, normals)
		}
	})
}

// Refit positions the proxy against base coords and normals and stores the
// result in the proxy mesh, recomputing its normals. It fails when Refs no
// longer matches the proxy mesh.
func (p *Proxy) Refit(pool parallel.Pool, coords, normals []math.Vec3) error {
	out := make([]math.Vec3, len(p.Refs))
	p.Fit(pool, coords, normals, out)
	if err := p.Mesh.SetCoords(out); err != nil {
		return fmt.Errorf("proxy %s: %w", p.Name, err)
	}
	p.Mesh.CalcNormals()
	return nil
}

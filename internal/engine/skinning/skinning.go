// Package skinning deforms mesh vertices by linear blend skinning.
package skinning

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// ErrInvalidWeights indicates weights that do not fit the skeleton or mesh.
var ErrInvalidWeights = errors.New("invalid vertex weights")

// Weights holds normalised per-vertex bone influences in CSR layout,
// ordered by bone index within each vertex.
type Weights struct {
	offsets []uint32
	bones   []int32
	weights []float32
}

type influence struct {
	bone   int32
	weight float32
}

// New resolves a weights file against a skeleton and a mesh of numVerts
// vertices. Non-positive weights are dropped, repeated (bone, vertex) pairs
// are summed and every weighted vertex is normalised to a total of 1.
func New(file *formats.WeightsFile, s *skeleton.Skeleton, numVerts int) (*Weights, error) {
	per := make([][]influence, numVerts)
	for _, name := range file.Bones() {
		bone := s.BoneIndex(name)
		if bone < 0 {
			return nil, fmt.Errorf("%w: bone %q not in skeleton %q", ErrInvalidWeights, name, s.Name)
		}
		bw := file.Weights[name]
		if len(bw.Verts) != len(bw.Weights) {
			return nil, fmt.Errorf("%w: bone %q has %d vertices and %d weights", ErrInvalidWeights, name, len(bw.Verts), len(bw.Weights))
		}
		for i, v := range bw.Verts {
			if int(v) >= numVerts {
				return nil, fmt.Errorf("%w: bone %q weights vertex %d of %d", ErrInvalidWeights, name, v, numVerts)
			}
			if bw.Weights[i] <= 0 {
				continue
			}
			per[v] = addInfluence(per[v], int32(bone), bw.Weights[i])
		}
	}

	w := &Weights{offsets: make([]uint32, numVerts+1)}
	for v, inf := range per {
		sort.Slice(inf, func(i, j int) bool { return inf[i].bone < inf[j].bone })
		var sum float32
		for _, x := range inf {
			sum += x.weight
		}
		for _, x := range inf {
			w.bones = append(w.bones, x.bone)
			w.weights = append(w.weights, x.weight/sum)
		}
		w.offsets[v+1] = uint32(len(w.bones))
	}
	return w, nil
}

func addInfluence(inf []influence, bone int32, weight float32) []influence {
	for i := range inf {
		if inf[i].bone == bone {
			inf[i].weight += weight
			return inf
		}
	}
	return append(inf, influence{bone: bone, weight: weight})
}

// Load reads a weights file and resolves it.
func Load(path string, s *skeleton.Skeleton, numVerts int) (*Weights, error) {
	file, err := formats.ParseWeightsFile(path)
	if err != nil {
		return nil, err
	}
	return New(file, s, numVerts)
}

// NumVerts returns the vertex count the weights were resolved for.
func (w *Weights) NumVerts() int { return len(w.offsets) - 1 }

// Influences returns the bones and normalised weights of vertex v.
func (w *Weights) Influences(v uint32) ([]int32, []float32) {
	lo, hi := w.offsets[v], w.offsets[v+1]
	return w.bones[lo:hi], w.weights[lo:hi]
}

// Skin writes posed coordinates and normals. k holds the skinning matrix of
// every bone; unweighted vertices follow bone root. outNormals may be nil.
func (w *Weights) Skin(pool parallel.Pool, k []math.Mat4, root int, coords, normals, outCoords, outNormals []math.Vec3) {
	nm := make([]math.Mat4, len(k))
	for i := range k {
		nm[i] = k[i].NormalMatrix()
	}
	pool.For(len(coords), func(lo, hi int) {
		for v := lo; v < hi; v++ {
			bones, weights := w.Influences(uint32(v))
			if len(bones) == 0 {
				outCoords[v] = k[root].TransformVec3(coords[v])
				if outNormals != nil {
					outNormals[v] = nm[root].TransformDirection(normals[v]).Normalize()
				}
				continue
			}
			var p, n math.Vec3
			for i, b := range bones {
				p = p.MulAdd(k[b].TransformVec3(coords[v]), weights[i])
				if outNormals != nil {
					n = n.MulAdd(nm[b].TransformDirection(normals[v]), weights[i])
				}
			}
			outCoords[v] = p
			if outNormals != nil {
				outNormals[v] = n.Normalize()
			}
		}
	})
}

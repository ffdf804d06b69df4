// Package meshtest builds small meshes for tests.
package meshtest

import (
	"testing"

	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Grid builds a planar grid of cols x rows quads in the XY plane facing +Z,
// with vertex (c, r) at index r*(cols+1)+c. Faces in the left half of the
// columns form group "left", the rest group "right".
func Grid(t testing.TB, cols, rows int, spacing float32) *mesh.Mesh {
	t.Helper()
	w := cols + 1
	coords := make([]math.Vec3, 0, w*(rows+1))
	uvs := make([]math.Vec2, 0, w*(rows+1))
	for r := 0; r <= rows; r++ {
		for c := 0; c <= cols; c++ {
			coords = append(coords, math.Vec3{X: float32(c) * spacing, Y: float32(r) * spacing})
			uvs = append(uvs, math.Vec2{X: float32(c) / float32(cols), Y: float32(r) / float32(rows)})
		}
	}
	idx := func(c, r int) uint32 { return uint32(r*w + c) }
	faces := make([]mesh.Face, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			f := mesh.Face{
				Verts: [4]uint32{idx(c, r), idx(c+1, r), idx(c+1, r+1), idx(c, r+1)},
				Size:  4,
			}
			for k := 0; k < 4; k++ {
				f.UVs[k] = int32(f.Verts[k])
			}
			if c >= cols/2 {
				f.Group = 1
			}
			faces = append(faces, f)
		}
	}
	m, err := mesh.New(coords, faces, uvs, []string{"left", "right"})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	m.Name = "grid"
	return m
}

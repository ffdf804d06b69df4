// Package mesh holds the base and proxy mesh containers: fixed topology,
// mutable coordinates, lazily recomputed normals and a face visibility mask.
package mesh

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Mesh errors.
var (
	ErrInvalidFace    = errors.New("invalid face")
	ErrLengthMismatch = errors.New("length mismatch")
)

// Face is a triangle or quad. UVs holds -1 for corners without texture
// coordinates.
type Face struct {
	Verts [4]uint32
	UVs   [4]int32
	Size  uint8
	Group uint16
}

// Corners returns the used vertex indices of f.
func (f *Face) Corners() []uint32 {
	return f.Verts[:f.Size]
}

// Mesh is an indexed triangle/quad mesh. Topology is immutable after New;
// only coordinates change.
type Mesh struct {
	Name string

	coord0      []math.Vec3
	coords      []math.Vec3
	normals     []math.Vec3
	faceNormals []math.Vec3
	uvs         []math.Vec2
	faces       []Face
	groups      []string

	// vertex -> incident faces, CSR layout.
	vfOffsets []uint32
	vfFaces   []uint32

	faceMask []bool

	dirty     []bool
	dirtyList []uint32
	allDirty  bool

	pool parallel.Pool
}

// New builds a mesh. coords become the rest positions. groups names the
// face groups referenced by Face.Group; nil yields a single "default" group.
func New(coords []math.Vec3, faces []Face, uvs []math.Vec2, groups []string) (*Mesh, error) {
	if len(groups) == 0 {
		groups = []string{"default"}
	}
	n := uint32(len(coords))
	for fi := range faces {
		f := &faces[fi]
		if f.Size != 3 && f.Size != 4 {
			return nil, fmt.Errorf("%w: face %d has %d corners", ErrInvalidFace, fi, f.Size)
		}
		for _, v := range f.Corners() {
			if v >= n {
				return nil, fmt.Errorf("%w: face %d references vertex %d of %d", ErrInvalidFace, fi, v, n)
			}
		}
		for k := 0; k < int(f.Size); k++ {
			if f.UVs[k] >= int32(len(uvs)) {
				return nil, fmt.Errorf("%w: face %d references uv %d of %d", ErrInvalidFace, fi, f.UVs[k], len(uvs))
			}
		}
		if int(f.Group) >= len(groups) {
			return nil, fmt.Errorf("%w: face %d in unknown group %d", ErrInvalidFace, fi, f.Group)
		}
	}

	m := &Mesh{
		coord0:      append([]math.Vec3(nil), coords...),
		coords:      append([]math.Vec3(nil), coords...),
		normals:     make([]math.Vec3, len(coords)),
		faceNormals: make([]math.Vec3, len(faces)),
		uvs:         append([]math.Vec2(nil), uvs...),
		faces:       append([]Face(nil), faces...),
		groups:      append([]string(nil), groups...),
		faceMask:    make([]bool, len(faces)),
		dirty:       make([]bool, len(coords)),
	}
	for i := range m.faceMask {
		m.faceMask[i] = true
	}
	m.buildAdjacency()
	m.allDirty = true
	m.CalcNormals()
	return m, nil
}

// FromOBJ converts a parsed OBJ into a mesh.
func FromOBJ(obj *formats.OBJ) (*Mesh, error) {
	coords := make([]math.Vec3, len(obj.Coords))
	for i, c := range obj.Coords {
		coords[i] = math.Vec3{X: c[0], Y: c[1], Z: c[2]}
	}
	uvs := make([]math.Vec2, len(obj.UVs))
	for i, uv := range obj.UVs {
		uvs[i] = math.Vec2{X: uv[0], Y: uv[1]}
	}
	faces := make([]Face, len(obj.Faces))
	for i, of := range obj.Faces {
		f := Face{Size: uint8(len(of.Verts)), Group: uint16(of.Group)}
		for k := range of.Verts {
			f.Verts[k] = uint32(of.Verts[k])
			f.UVs[k] = int32(of.UVs[k])
		}
		faces[i] = f
	}
	m, err := New(coords, faces, uvs, obj.Groups)
	if err != nil {
		return nil, err
	}
	m.Name = obj.Name
	return m, nil
}

func (m *Mesh) buildAdjacency() {
	counts := make([]uint32, len(m.coords)+1)
	for fi := range m.faces {
		for _, v := range m.faces[fi].Corners() {
			counts[v+1]++
		}
	}
	for i := 1; i < len(counts); i++ {
		counts[i] += counts[i-1]
	}
	m.vfOffsets = counts
	m.vfFaces = make([]uint32, counts[len(counts)-1])
	fill := append([]uint32(nil), counts[:len(counts)-1]...)
	for fi := range m.faces {
		for _, v := range m.faces[fi].Corners() {
			m.vfFaces[fill[v]] = uint32(fi)
			fill[v]++
		}
	}
}

// SetPool sets the worker pool used by full normal recomputation.
func (m *Mesh) SetPool(p parallel.Pool) {
	m.pool = p
}

// NumVerts returns the vertex count.
func (m *Mesh) NumVerts() int { return len(m.coords) }

// NumFaces returns the face count.
func (m *Mesh) NumFaces() int { return len(m.faces) }

// Rest returns the rest coordinates. The slice must not be modified.
func (m *Mesh) Rest() []math.Vec3 { return m.coord0 }

// Coords returns the current coordinates. The slice must not be modified;
// use SetCoords or SetCoord.
func (m *Mesh) Coords() []math.Vec3 { return m.coords }

// Normals returns the vertex normals as of the last CalcNormals.
func (m *Mesh) Normals() []math.Vec3 { return m.normals }

// FaceNormals returns the face normals as of the last CalcNormals.
func (m *Mesh) FaceNormals() []math.Vec3 { return m.faceNormals }

// UVs returns the texture coordinates.
func (m *Mesh) UVs() []math.Vec2 { return m.uvs }

// Faces returns the faces. The slice must not be modified.
func (m *Mesh) Faces() []Face { return m.faces }

// Groups returns the face group names.
func (m *Mesh) Groups() []string { return m.groups }

// VertexFaces returns the faces incident to vertex v.
func (m *Mesh) VertexFaces(v uint32) []uint32 {
	return m.vfFaces[m.vfOffsets[v]:m.vfOffsets[v+1]]
}

// SetCoords replaces all coordinates and marks every vertex dirty.
func (m *Mesh) SetCoords(coords []math.Vec3) error {
	if len(coords) != len(m.coords) {
		return fmt.Errorf("%w: %d coords for %d vertices", ErrLengthMismatch, len(coords), len(m.coords))
	}
	copy(m.coords, coords)
	m.MarkCoordsDirty()
	return nil
}

// SetCoord sets one coordinate and marks it dirty.
func (m *Mesh) SetCoord(i uint32, c math.Vec3) {
	if m.coords[i] == c {
		return
	}
	m.coords[i] = c
	m.MarkCoordsDirty(i)
}

// ResetCoords restores the rest coordinates.
func (m *Mesh) ResetCoords() {
	copy(m.coords, m.coord0)
	m.MarkCoordsDirty()
}

// MarkCoordsDirty flags vertices for normal recomputation. With no
// arguments every vertex is flagged.
func (m *Mesh) MarkCoordsDirty(indices ...uint32) {
	if len(indices) == 0 {
		m.allDirty = true
		return
	}
	if m.allDirty {
		return
	}
	for _, i := range indices {
		if !m.dirty[i] {
			m.dirty[i] = true
			m.dirtyList = append(m.dirtyList, i)
		}
	}
}

// HasDirty reports whether any vertex awaits normal recomputation.
func (m *Mesh) HasDirty() bool {
	return m.allDirty || len(m.dirtyList) > 0
}

func (m *Mesh) clearDirty() {
	for _, i := range m.dirtyList {
		m.dirty[i] = false
	}
	m.dirtyList = m.dirtyList[:0]
	m.allDirty = false
}

// CalcFaceNormals recomputes every face normal.
func (m *Mesh) CalcFaceNormals() {
	m.pool.For(len(m.faces), func(lo, hi int) {
		for fi := lo; fi < hi; fi++ {
			m.faceNormals[fi] = m.faceNormal(fi)
		}
	})
}

// CalcNormals recomputes normals of the dirty region: normals of faces
// touching a dirty vertex, then vertex normals of every vertex of those
// faces. The result equals a full recomputation.
func (m *Mesh) CalcNormals() {
	if m.allDirty {
		m.CalcFaceNormals()
		m.pool.For(len(m.coords), func(lo, hi int) {
			for v := lo; v < hi; v++ {
				m.normals[v] = m.vertexNormal(uint32(v))
			}
		})
		m.clearDirty()
		return
	}
	if len(m.dirtyList) == 0 {
		return
	}

	faceSeen := make(map[uint32]struct{}, len(m.dirtyList)*4)
	var faces []uint32
	for _, v := range m.dirtyList {
		for _, f := range m.VertexFaces(v) {
			if _, ok := faceSeen[f]; !ok {
				faceSeen[f] = struct{}{}
				faces = append(faces, f)
			}
		}
	}
	for _, f := range faces {
		m.faceNormals[f] = m.faceNormal(int(f))
	}

	vertSeen := make(map[uint32]struct{}, len(faces)*4)
	for _, v := range m.dirtyList {
		vertSeen[v] = struct{}{}
	}
	for _, f := range faces {
		for _, v := range m.faces[f].Corners() {
			vertSeen[v] = struct{}{}
		}
	}
	for v := range vertSeen {
		m.normals[v] = m.vertexNormal(v)
	}
	m.clearDirty()
}

// faceNormal uses the cross product of the diagonals for quads, which is
// the area-weighted normal of a planar quad.
func (m *Mesh) faceNormal(fi int) math.Vec3 {
	f := &m.faces[fi]
	c := m.coords
	if f.Size == 4 {
		d1 := c[f.Verts[2]].Sub(c[f.Verts[0]])
		d2 := c[f.Verts[3]].Sub(c[f.Verts[1]])
		return d1.Cross(d2).Normalize()
	}
	e1 := c[f.Verts[1]].Sub(c[f.Verts[0]])
	e2 := c[f.Verts[2]].Sub(c[f.Verts[0]])
	return e1.Cross(e2).Normalize()
}

func (m *Mesh) vertexNormal(v uint32) math.Vec3 {
	var sum math.Vec3
	for _, f := range m.VertexFaces(v) {
		sum = sum.Add(m.faceNormals[f])
	}
	return sum.Normalize()
}

// SetFaceMask sets face visibility. A nil mask shows every face.
func (m *Mesh) SetFaceMask(mask []bool) error {
	if mask == nil {
		for i := range m.faceMask {
			m.faceMask[i] = true
		}
		return nil
	}
	if len(mask) != len(m.faces) {
		return fmt.Errorf("%w: mask of %d for %d faces", ErrLengthMismatch, len(mask), len(m.faces))
	}
	copy(m.faceMask, mask)
	return nil
}

// FaceMask returns the face visibility mask.
func (m *Mesh) FaceMask() []bool { return m.faceMask }

// FacesForVertices returns the sorted, unique faces incident to any of vIDs.
func (m *Mesh) FacesForVertices(vIDs []uint32) []uint32 {
	seen := make(map[uint32]struct{})
	var out []uint32
	for _, v := range vIDs {
		if int(v) >= len(m.coords) {
			continue
		}
		for _, f := range m.VertexFaces(v) {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FaceGroup returns the index of the named face group, or -1.
func (m *Mesh) FaceGroup(name string) int {
	for i, g := range m.groups {
		if g == name {
			return i
		}
	}
	return -1
}

// GroupVertices returns the sorted vertices used by faces of the named group.
func (m *Mesh) GroupVertices(name string) []uint32 {
	g := m.FaceGroup(name)
	if g < 0 {
		return nil
	}
	seen := make([]bool, len(m.coords))
	var out []uint32
	for fi := range m.faces {
		if int(m.faces[fi].Group) != g {
			continue
		}
		for _, v := range m.faces[fi].Corners() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package mesh

import (
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Clone returns a copy of the mesh with current coordinates scaled by
// scale as its rest and current positions. With filterMasked, faces hidden
// by the face mask are dropped and vertices used only by them are
// compacted away.
func (m *Mesh) Clone(scale float32, filterMasked bool) *Mesh {
	c, _ := m.CloneMap(scale, filterMasked)
	return c
}

// CloneMap is Clone that also returns, for every source vertex, its index in
// the copy or -1 when it was dropped.
func (m *Mesh) CloneMap(scale float32, filterMasked bool) (*Mesh, []int32) {
	remap := make([]int32, len(m.coords))
	var faces []Face
	if filterMasked {
		for i := range remap {
			remap[i] = -1
		}
		for fi := range m.faces {
			if m.faceMask[fi] {
				faces = append(faces, m.faces[fi])
			}
		}
		next := int32(0)
		for fi := range faces {
			for _, v := range faces[fi].Corners() {
				if remap[v] < 0 {
					remap[v] = next
					next++
				}
			}
		}
	} else {
		faces = append(faces, m.faces...)
		for i := range remap {
			remap[i] = int32(i)
		}
	}

	kept := 0
	for _, r := range remap {
		if r >= 0 {
			kept++
		}
	}
	coords := make([]math.Vec3, kept)
	for i, r := range remap {
		if r >= 0 {
			coords[r] = m.coords[i].Scale(scale)
		}
	}
	for fi := range faces {
		f := &faces[fi]
		for k := 0; k < int(f.Size); k++ {
			f.Verts[k] = uint32(remap[f.Verts[k]])
		}
	}

	c := &Mesh{
		Name:        m.Name,
		coord0:      coords,
		coords:      append([]math.Vec3(nil), coords...),
		normals:     make([]math.Vec3, kept),
		faceNormals: make([]math.Vec3, len(faces)),
		uvs:         append([]math.Vec2(nil), m.uvs...),
		faces:       faces,
		groups:      append([]string(nil), m.groups...),
		faceMask:    make([]bool, len(faces)),
		dirty:       make([]bool, kept),
		pool:        m.pool,
	}
	for i := range c.faceMask {
		c.faceMask[i] = true
	}
	c.buildAdjacency()
	c.allDirty = true
	c.CalcNormals()
	return c, remap
}

// ToOBJ converts the current coordinates, UVs and faces to the OBJ adapter
// form. Use Clone with filterMasked first to drop hidden faces.
func (m *Mesh) ToOBJ() *formats.OBJ {
	obj := &formats.OBJ{
		Name:   m.Name,
		Coords: make([][3]float32, len(m.coords)),
		UVs:    make([][2]float32, len(m.uvs)),
		Faces:  make([]formats.OBJFace, len(m.faces)),
		Groups: append([]string(nil), m.groups...),
	}
	for i, c := range m.coords {
		obj.Coords[i] = [3]float32{c.X, c.Y, c.Z}
	}
	for i, uv := range m.uvs {
		obj.UVs[i] = [2]float32{uv.X, uv.Y}
	}
	for fi := range m.faces {
		f := &m.faces[fi]
		of := formats.OBJFace{
			Verts: make([]int, f.Size),
			UVs:   make([]int, f.Size),
			Group: int(f.Group),
		}
		for k := 0; k < int(f.Size); k++ {
			of.Verts[k] = int(f.Verts[k])
			of.UVs[k] = int(f.UVs[k])
		}
		obj.Faces[fi] = of
	}
	return obj
}

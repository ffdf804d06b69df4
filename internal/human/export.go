package human

import (
	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/pkg/export"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// ExportOptions selects the buffers written by the export helpers.
type ExportOptions struct {
	// Posed writes skinned coordinates instead of the unposed ones.
	Posed bool
	// HideMasked drops faces hidden by cutouts and the vertices only they
	// use.
	HideMasked bool
	// Scale multiplies every coordinate. Zero means 1.
	Scale float32
}

func (o ExportOptions) scale() float32 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}

// snapshot copies m with the selected coordinates. Pending changes are
// evaluated first.
func (e *Engine) snapshot(m *mesh.Mesh, posed []math.Vec3, opts ExportOptions) (*mesh.Mesh, error) {
	s := opts.scale()
	c, remap := m.CloneMap(s, opts.HideMasked)
	if opts.Posed {
		coords := make([]math.Vec3, c.NumVerts())
		for i, r := range remap {
			if r >= 0 {
				coords[r] = posed[i].Scale(s)
			}
		}
		if err := c.SetCoords(coords); err != nil {
			return nil, err
		}
		c.CalcNormals()
	}
	return c, nil
}

func (e *Engine) exportMesh(uuid string, opts ExportOptions) (*mesh.Mesh, error) {
	if err := e.Evaluate(); err != nil {
		return nil, err
	}
	if uuid == "" {
		return e.snapshot(e.base, e.posed, opts)
	}
	slot, err := e.slot(uuid)
	if err != nil {
		return nil, err
	}
	return e.snapshot(slot.proxy.Mesh, slot.posed, opts)
}

// MeshOBJ returns the base mesh, or the bound proxy with the given uuid, in
// OBJ form.
func (e *Engine) MeshOBJ(uuid string, opts ExportOptions) (*formats.OBJ, error) {
	m, err := e.exportMesh(uuid, opts)
	if err != nil {
		return nil, err
	}
	return m.ToOBJ(), nil
}

// Surfaces returns the base mesh followed by every bound proxy in bind
// order, triangulated for glTF export.
func (e *Engine) Surfaces(opts ExportOptions) ([]export.Surface, error) {
	uuids := []string{""}
	for _, p := range e.Proxies() {
		uuids = append(uuids, p.UUID)
	}
	out := make([]export.Surface, 0, len(uuids))
	for _, id := range uuids {
		m, err := e.exportMesh(id, opts)
		if err != nil {
			return nil, err
		}
		normals := make([][3]float32, m.NumVerts())
		for i, n := range m.Normals() {
			normals[i] = [3]float32{n.X, n.Y, n.Z}
		}
		out = append(out, export.NewSurface(m.ToOBJ(), normals))
	}
	return out, nil
}

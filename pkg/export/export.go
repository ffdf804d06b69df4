// Package export writes evaluated meshes as Wavefront OBJ or binary glTF.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/mhcore/pkg/formats"
)

// Generator is recorded in the asset block of written glTF documents.
const Generator = "mhcore"

// Surface is one triangulated mesh with per-vertex attributes.
type Surface struct {
	Name      string
	Positions [][3]float32
	Normals   [][3]float32
	Indices   []uint32
}

// Triangulate returns triangle indices for the faces of obj. Quads are
// split along their 0-2 diagonal.
func Triangulate(obj *formats.OBJ) []uint32 {
	out := make([]uint32, 0, len(obj.Faces)*6)
	for _, f := range obj.Faces {
		v := f.Verts
		out = append(out, uint32(v[0]), uint32(v[1]), uint32(v[2]))
		if len(v) == 4 {
			out = append(out, uint32(v[0]), uint32(v[2]), uint32(v[3]))
		}
	}
	return out
}

// NewSurface builds a surface from an OBJ mesh. normals may be nil.
func NewSurface(obj *formats.OBJ, normals [][3]float32) Surface {
	return Surface{
		Name:      obj.Name,
		Positions: obj.Coords,
		Normals:   normals,
		Indices:   Triangulate(obj),
	}
}

// Document builds a glTF document holding one mesh and node per surface.
// Surfaces without positions are skipped.
func Document(surfaces ...Surface) *gltf.Document {
	doc := gltf.NewDocument()
	doc.Asset.Generator = Generator
	for _, s := range surfaces {
		if len(s.Positions) == 0 {
			continue
		}
		attrs := gltf.Attribute{
			gltf.POSITION: uint32(modeler.WritePosition(doc, s.Positions)),
		}
		if len(s.Normals) == len(s.Positions) {
			attrs[gltf.NORMAL] = uint32(modeler.WriteNormal(doc, s.Normals))
		}
		prim := &gltf.Primitive{
			Attributes: attrs,
			Indices:    gltf.Index(uint32(modeler.WriteIndices(doc, s.Indices))),
			Mode:       gltf.PrimitiveTriangles,
		}
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: s.Name, Primitives: []*gltf.Primitive{prim}})
		doc.Nodes = append(doc.Nodes, &gltf.Node{Name: s.Name, Mesh: gltf.Index(uint32(len(doc.Meshes) - 1))})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
	}
	return doc
}

// WriteGLB encodes surfaces as a binary glTF stream.
func WriteGLB(w io.Writer, surfaces ...Surface) error {
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(Document(surfaces...)); err != nil {
		return fmt.Errorf("encode glb: %w", err)
	}
	return nil
}

// SaveGLB writes surfaces to a .glb file.
func SaveGLB(path string, surfaces ...Surface) error {
	return save(path, func(w io.Writer) error { return WriteGLB(w, surfaces...) })
}

// SaveOBJ writes obj to a .obj file.
func SaveOBJ(path string, obj *formats.OBJ) error {
	return save(path, func(w io.Writer) error { return formats.WriteOBJ(w, obj) })
}

func save(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

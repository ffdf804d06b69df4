// Package proxy binds auxiliary meshes (clothes, hair, eyes, alternative
// topologies) to the base mesh through per-vertex reference rules.
package proxy

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtgo/uuid"

	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Proxy errors.
var (
	ErrUnknownSlot    = errors.New("unknown proxy slot")
	ErrInvalidRefVert = errors.New("invalid ref-vert")
	ErrInvalidUUID    = errors.New("invalid proxy uuid")
)

// Type is the slot a proxy occupies on a character.
type Type uint8

// Proxy types.
const (
	Clothes Type = iota
	Hair
	Eyes
	Eyebrows
	Eyelashes
	Teeth
	Tongue
	Proxymeshes
)

var typeNames = [...]string{
	Clothes:     "clothes",
	Hair:        "hair",
	Eyes:        "eyes",
	Eyebrows:    "eyebrows",
	Eyelashes:   "eyelashes",
	Teeth:       "teeth",
	Tongue:      "tongue",
	Proxymeshes: "proxymeshes",
}

// Types lists every proxy type in slot order.
func Types() []Type {
	return []Type{Clothes, Hair, Eyes, Eyebrows, Eyelashes, Teeth, Tongue, Proxymeshes}
}

// ParseType resolves a slot name. "proxy" is accepted for Proxymeshes.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "proxy" {
		return Proxymeshes, nil
	}
	for t, name := range typeNames {
		if name == s {
			return Type(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

// String returns the slot name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// MultiSlot reports whether several proxies of this type can be bound at
// once. Only clothes stack; every other type replaces the bound one.
func (t Type) MultiSlot() bool { return t == Clothes }

// Proxy is an auxiliary mesh whose vertices are slaved to the base mesh.
// Mesh carries the proxy's own topology; its coordinates are overwritten by
// fitting.
type Proxy struct {
	Name     string
	UUID     string
	Type     Type
	ZDepth   int
	Material string
	Tags     []string
	Source   string

	Mesh *mesh.Mesh
	Refs []RefVert

	// sorted, unique base vertex indices hidden under this proxy
	deleteVerts []uint32
}

// New builds a proxy. An empty id gets a random UUID; any other id must
// parse as a UUID and is stored in canonical form.
func New(name, id string, t Type, m *mesh.Mesh, refs []RefVert, deleteVerts []uint32) (*Proxy, error) {
	if int(t) >= len(typeNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, t)
	}
	canon, err := CanonicalUUID(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: proxy %q has no mesh", ErrInvalidRefVert, name)
	}
	if len(refs) != m.NumVerts() {
		return nil, fmt.Errorf("%w: proxy %q has %d ref-verts for %d vertices",
			ErrInvalidRefVert, name, len(refs), m.NumVerts())
	}
	p := &Proxy{
		Name: name,
		UUID: canon,
		Type: t,
		Mesh: m,
		Refs: append([]RefVert(nil), refs...),
	}
	p.SetDeleteVerts(deleteVerts)
	return p, nil
}

// CanonicalUUID validates id and returns its canonical lowercase form. An
// empty id yields a fresh random UUID.
func CanonicalUUID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewRandom().String(), nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidUUID, id, err)
	}
	return u.String(), nil
}

// FromMHCLO builds a proxy from a parsed definition and its OBJ mesh. The
// definition's type is used unless it is empty, in which case fallback
// applies.
func FromMHCLO(def *formats.MHCLO, obj *formats.OBJ, fallback Type) (*Proxy, error) {
	t := fallback
	if def.Type != "" {
		var err error
		if t, err = ParseType(def.Type); err != nil {
			return nil, err
		}
	}
	m, err := mesh.FromOBJ(obj)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", def.Name, err)
	}
	refs := make([]RefVert, len(def.Refs))
	for i, r := range def.Refs {
		refs[i] = refFromWire(r)
	}
	p, err := New(def.Name, def.UUID, t, m, refs, def.DeleteVerts)
	if err != nil {
		return nil, err
	}
	p.ZDepth = def.ZDepth
	p.Material = def.Material
	p.Tags = append([]string(nil), def.Tags...)
	return p, nil
}

// Load reads a proxy definition and the OBJ it names, relative to the
// definition's directory.
func Load(path string, fallback Type) (*Proxy, error) {
	def, err := formats.ParseMHCLOFile(path)
	if err != nil {
		return nil, err
	}
	objPath := def.OBJFile
	if objPath == "" {
		objPath = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".obj"
	}
	if !filepath.IsAbs(objPath) {
		objPath = filepath.Join(filepath.Dir(path), objPath)
	}
	obj, err := formats.ParseOBJFile(objPath)
	if err != nil {
		return nil, err
	}
	p, err := FromMHCLO(def, obj, fallback)
	if err != nil {
		return nil, err
	}
	p.Source = path
	return p, nil
}

// Identity builds a proxy that copies base vertex i into proxy vertex i,
// sharing the base topology.
func Identity(name, id string, t Type, base *mesh.Mesh) (*Proxy, error) {
	m := base.Clone(1, false)
	m.Name = name
	refs := make([]RefVert, base.NumVerts())
	for i := range refs {
		refs[i] = Single(uint32(i), math.Vec3{})
	}
	return New(name, id, t, m, refs, nil)
}

// ToMHCLO converts the proxy back to its definition form. The OBJ file name
// is taken from the proxy name.
func (p *Proxy) ToMHCLO() *formats.MHCLO {
	def := &formats.MHCLO{
		Name:        p.Name,
		UUID:        p.UUID,
		Type:        p.Type.String(),
		OBJFile:     p.Name + ".obj",
		Material:    p.Material,
		ZDepth:      p.ZDepth,
		Tags:        append([]string(nil), p.Tags...),
		Refs:        make([]formats.MHCLORef, len(p.Refs)),
		DeleteVerts: p.DeleteVerts(),
	}
	for i, r := range p.Refs {
		def.Refs[i] = r.wire()
	}
	return def
}

// NumVerts returns the proxy vertex count.
func (p *Proxy) NumVerts() int { return len(p.Refs) }

// SetDeleteVerts replaces the set of base vertices hidden by this proxy.
func (p *Proxy) SetDeleteVerts(verts []uint32) {
	d := append([]uint32(nil), verts...)
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	out := d[:0]
	for i, v := range d {
		if i == 0 || v != d[i-1] {
			out = append(out, v)
		}
	}
	p.deleteVerts = out
}

// DeleteVerts returns a copy of the sorted hidden base vertices.
func (p *Proxy) DeleteVerts() []uint32 {
	return append([]uint32(nil), p.deleteVerts...)
}

// HasDeleteVerts reports whether the proxy hides any base vertex.
func (p *Proxy) HasDeleteVerts() bool { return len(p.deleteVerts) > 0 }

// ApplyDeleteVerts clears visible[v] for every hidden base vertex.
func (p *Proxy) ApplyDeleteVerts(visible []bool) {
	for _, v := range p.deleteVerts {
		if int(v) < len(visible) {
			visible[v] = false
		}
	}
}

// Validate checks that every reference and hidden vertex lies inside a base
// mesh of numBase vertices.
func (p *Proxy) Validate(numBase int) error {
	if len(p.Refs) != p.Mesh.NumVerts() {
		return fmt.Errorf("%w: proxy %q has %d ref-verts for %d vertices",
			ErrInvalidRefVert, p.Name, len(p.Refs), p.Mesh.NumVerts())
	}
	for j, r := range p.Refs {
		if err := r.validate(numBase); err != nil {
			return fmt.Errorf("proxy %q vertex %d: %w", p.Name, j, err)
		}
	}
	if n := len(p.deleteVerts); n > 0 && int(p.deleteVerts[n-1]) >= numBase {
		return fmt.Errorf("%w: proxy %q hides vertex %d of %d",
			ErrInvalidRefVert, p.Name, p.deleteVerts[n-1], numBase)
	}
	return nil
}

// VisibleVerts maps a base vertex visibility mask into the proxy vertex
// domain. A proxy vertex is visible iff all its referenced base vertices are.
func (p *Proxy) VisibleVerts(baseVisible []bool) []bool {
	out := make([]bool, len(p.Refs))
	for j, r := range p.Refs {
		out[j] = r.visible(baseVisible)
	}
	return out
}

// FaceMask converts a proxy vertex mask into a face mask over the proxy mesh.
// A face is visible iff all its vertices are.
func (p *Proxy) FaceMask(vertVisible []bool) []bool {
	return FacesVisible(p.Mesh, vertVisible)
}

// FacesVisible marks a face of m visible iff all its vertices are visible.
func FacesVisible(m *mesh.Mesh, vertVisible []bool) []bool {
	faces := m.Faces()
	out := make([]bool, len(faces))
	for fi := range faces {
		vis := true
		for _, v := range faces[fi].Corners() {
			if !vertVisible[v] {
				vis = false
				break
			}
		}
		out[fi] = vis
	}
	return out
}

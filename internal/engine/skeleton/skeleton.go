// Package skeleton resolves a bone hierarchy against the current base mesh
// and evaluates poses by forward kinematics.
//
// Bone frames follow the usual rigging convention: the bone's Y axis runs
// from head to tail, rotated about itself by the bone roll, with the origin
// at the head. Poses are local rotations relative to that rest frame.
package skeleton

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Skeleton errors.
var (
	ErrPoseMismatch = errors.New("pose references unknown bones")
	ErrUnknownJoint = errors.New("unknown joint group")
	ErrFrameRange   = errors.New("frame out of range")
)

// Bone is one node of the hierarchy. Rest fields are rebuilt by UpdateRest.
type Bone struct {
	Name      string
	Parent    int
	Children  []int
	HeadJoint string
	TailJoint string
	Roll      float32
	Reference []string

	Head       math.Vec3
	Tail       math.Vec3
	RestGlobal math.Mat4
	RestLocal  math.Mat4
}

// Length returns the rest distance from head to tail.
func (b *Bone) Length() float32 {
	return b.Tail.Distance(b.Head)
}

// Skeleton is a rooted bone forest. Bones are stored depth-first so every
// parent precedes its children.
type Skeleton struct {
	Name string
	// Source is the definition path, when loaded from disk.
	Source string

	bones  []Bone
	byName map[string]int
	joints map[string][]uint32
	roots  []int
}

// New builds a skeleton from a parsed definition.
func New(def *formats.SkelFile) (*Skeleton, error) {
	children := make(map[string][]int, len(def.Bones))
	var roots []int
	for i, b := range def.Bones {
		if b.Parent == "" {
			roots = append(roots, i)
			continue
		}
		children[b.Parent] = append(children[b.Parent], i)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: skeleton %q has no root bone", formats.ErrMalformedSkeleton, def.Name)
	}

	s := &Skeleton{
		Name:   def.Name,
		byName: make(map[string]int, len(def.Bones)),
		joints: def.Joints,
	}
	var visit func(src, parent int)
	visit = func(src, parent int) {
		b := def.Bones[src]
		idx := len(s.bones)
		s.bones = append(s.bones, Bone{
			Name:       b.Name,
			Parent:     parent,
			HeadJoint:  b.Head,
			TailJoint:  b.Tail,
			Roll:       b.Roll,
			Reference:  append([]string(nil), b.Reference...),
			RestGlobal: math.Identity(),
			RestLocal:  math.Identity(),
		})
		s.byName[b.Name] = idx
		if parent >= 0 {
			s.bones[parent].Children = append(s.bones[parent].Children, idx)
		} else {
			s.roots = append(s.roots, idx)
		}
		for _, c := range children[b.Name] {
			visit(c, idx)
		}
	}
	for _, r := range roots {
		visit(r, -1)
	}
	if len(s.bones) != len(def.Bones) {
		return nil, fmt.Errorf("%w: skeleton %q has bones unreachable from a root", formats.ErrMalformedSkeleton, def.Name)
	}

	for i := range s.bones {
		for _, j := range []string{s.bones[i].HeadJoint, s.bones[i].TailJoint} {
			if _, ok := s.joints[j]; !ok {
				return nil, fmt.Errorf("%w: bone %s joint %q", ErrUnknownJoint, s.bones[i].Name, j)
			}
		}
	}
	return s, nil
}

// Load reads and builds a skeleton definition file.
func Load(path string) (*Skeleton, error) {
	def, err := formats.ParseSkeletonFile(path)
	if err != nil {
		return nil, err
	}
	s, err := New(def)
	if err != nil {
		return nil, err
	}
	s.Source = path
	return s, nil
}

// Len returns the bone count.
func (s *Skeleton) Len() int { return len(s.bones) }

// Bones returns the bones in depth-first order.
func (s *Skeleton) Bones() []Bone { return s.bones }

// Bone returns bone i.
func (s *Skeleton) Bone(i int) *Bone { return &s.bones[i] }

// Root returns the index of the first root bone.
func (s *Skeleton) Root() int { return s.roots[0] }

// BoneIndex returns the index of the named bone, or -1.
func (s *Skeleton) BoneIndex(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

// Resolve finds the bone a foreign name refers to: an explicit mapping
// first, then an exact bone name, then a case-insensitive match against
// bone reference lists. It returns -1 when nothing matches.
func (s *Skeleton) Resolve(name string, mapping map[string]string) int {
	if mapped, ok := mapping[name]; ok {
		name = mapped
	}
	if i := s.BoneIndex(name); i >= 0 {
		return i
	}
	for i := range s.bones {
		if strings.EqualFold(s.bones[i].Name, name) {
			return i
		}
		for _, ref := range s.bones[i].Reference {
			if strings.EqualFold(ref, name) {
				return i
			}
		}
	}
	return -1
}

// Validate checks every joint group against a mesh of numVerts vertices.
func (s *Skeleton) Validate(numVerts int) error {
	for name, verts := range s.joints {
		if len(verts) == 0 {
			return fmt.Errorf("%w: joint %q is empty", ErrUnknownJoint, name)
		}
		for _, v := range verts {
			if int(v) >= numVerts {
				return fmt.Errorf("%w: joint %q references vertex %d of %d", ErrUnknownJoint, name, v, numVerts)
			}
		}
	}
	return nil
}

// JointPosition returns the centroid of the named joint group in coords.
func (s *Skeleton) JointPosition(name string, coords []math.Vec3) (math.Vec3, error) {
	verts, ok := s.joints[name]
	if !ok {
		return math.Vec3{}, fmt.Errorf("%w: %q", ErrUnknownJoint, name)
	}
	pts := make([]math.Vec3, len(verts))
	for i, v := range verts {
		if int(v) >= len(coords) {
			return math.Vec3{}, fmt.Errorf("%w: joint %q references vertex %d of %d", ErrUnknownJoint, name, v, len(coords))
		}
		pts[i] = coords[v]
	}
	return math.Centroid(pts), nil
}

// UpdateRest rebuilds head, tail and rest matrices of every bone from the
// current base coordinates.
func (s *Skeleton) UpdateRest(coords []math.Vec3) error {
	for i := range s.bones {
		b := &s.bones[i]
		head, err := s.JointPosition(b.HeadJoint, coords)
		if err != nil {
			return fmt.Errorf("bone %s: %w", b.Name, err)
		}
		tail, err := s.JointPosition(b.TailJoint, coords)
		if err != nil {
			return fmt.Errorf("bone %s: %w", b.Name, err)
		}
		b.Head, b.Tail = head, tail
		b.RestGlobal = restMatrix(head, tail, b.Roll)
		if b.Parent < 0 {
			b.RestLocal = b.RestGlobal
		} else {
			b.RestLocal = s.bones[b.Parent].RestGlobal.InverseRigid().Mul(b.RestGlobal)
		}
	}
	return nil
}

var yAxis = math.Vec3{Y: 1}

func restMatrix(head, tail math.Vec3, roll float32) math.Mat4 {
	rot := math.Identity()
	if dir := tail.Sub(head); dir.Length() > 1e-8 {
		y := dir.Normalize()
		rot = math.RotationBetween(yAxis, y)
		if roll != 0 {
			rot = math.RotateAxis(y, roll).Mul(rot)
		}
	}
	rot[12], rot[13], rot[14] = head.X, head.Y, head.Z
	return rot
}

// Globals evaluates forward kinematics: global = parent global · rest local
// · pose local. A nil or short locals slice leaves the missing bones at rest.
func (s *Skeleton) Globals(locals []math.Mat4) []math.Mat4 {
	out := make([]math.Mat4, len(s.bones))
	for i := range s.bones {
		b := &s.bones[i]
		m := b.RestLocal
		if i < len(locals) {
			m = m.Mul(locals[i])
		}
		if b.Parent >= 0 {
			m = out[b.Parent].Mul(m)
		}
		out[i] = m
	}
	return out
}

// SkinMatrices returns K_b = G_b · R_b^-1 for every bone.
func (s *Skeleton) SkinMatrices(locals []math.Mat4) []math.Mat4 {
	g := s.Globals(locals)
	for i := range g {
		g[i] = g[i].Mul(s.bones[i].RestGlobal.InverseRigid())
	}
	return g
}

// IsRestPose reports whether every local matrix is the identity within tol.
func IsRestPose(locals []math.Mat4, tol float32) bool {
	for _, m := range locals {
		if !m.IsIdentity(tol) {
			return false
		}
	}
	return true
}

package skeleton

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Animation is a sequence of poses. Frames[f][k] is the local pose matrix of
// bone Bones[k], relative to that bone's rest frame.
//
// BVH motion leaves Frames empty: its frames depend on the rest frames and
// bone lengths of the skeleton, so Locals converts them against the current
// rest each time.
type Animation struct {
	Name      string
	Source    string
	FrameTime float32
	Bones     []string
	Frames    [][]math.Mat4

	motion *bvhMotion
}

// bvhMotion is BVH data bound to skeleton bones by name.
type bvhMotion struct {
	src *formats.BVH
	// joints[k] is the BVH joint animating Bones[k].
	joints    []int
	zUp       bool
	scaleBone string
	// scaleLen is the BVH length of the joint mapped to scaleBone, 0 if none.
	scaleLen float32
}

// NumFrames returns the frame count.
func (a *Animation) NumFrames() int {
	if a.motion != nil {
		return len(a.motion.src.Frames)
	}
	return len(a.Frames)
}

// RestAnimation returns a one-frame animation holding the identity pose for
// every bone of s.
func RestAnimation(s *Skeleton) *Animation {
	a := &Animation{Name: "rest", Bones: make([]string, s.Len()), Frames: [][]math.Mat4{make([]math.Mat4, s.Len())}}
	for i := range s.bones {
		a.Bones[i] = s.bones[i].Name
		a.Frames[0][i] = math.Identity()
	}
	return a
}

// Locals maps frame f of a to per-bone local matrices of s. Bones not
// animated stay at rest; animated bones unknown to s are ignored.
func (s *Skeleton) Locals(a *Animation, f int) ([]math.Mat4, error) {
	if f < 0 || f >= a.NumFrames() {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrFrameRange, f, a.NumFrames())
	}
	out := make([]math.Mat4, len(s.bones))
	for i := range out {
		out[i] = math.Identity()
	}
	var frame []math.Mat4
	if a.motion != nil {
		frame = a.motion.frame(s, a.Bones, f)
	} else {
		frame = a.Frames[f]
	}
	for k, name := range a.Bones {
		if i := s.BoneIndex(name); i >= 0 && k < len(frame) {
			out[i] = frame[k]
		}
	}
	return out, nil
}

// ImportOptions controls pose import.
type ImportOptions struct {
	// Strict fails on bones unknown to the skeleton instead of skipping them.
	Strict bool
	// ZUp converts BVH data authored Z-up into the Y-up frame of the mesh.
	ZUp bool
	// BoneMap renames foreign bone names before resolution.
	BoneMap map[string]string
	// ScaleBone names the skeleton bone whose length scales BVH root
	// translation. Empty disables auto-scaling.
	ScaleBone string
	Logger    *zap.Logger
}

func (o ImportOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// mismatch records an unknown bone: an aggregated error in strict mode, a
// warning otherwise.
func (o ImportOptions) mismatch(errs *error, source, bone string) {
	if o.Strict {
		*errs = multierr.Append(*errs, fmt.Errorf("%w: %s: %s", ErrPoseMismatch, source, bone))
		return
	}
	o.logger().Warn("skipping unknown pose bone", zap.String("source", source), zap.String("bone", bone))
}

// FromMHP converts a single-frame MHP pose.
func FromMHP(p *formats.MHP, s *Skeleton, opts ImportOptions) (*Animation, error) {
	a := &Animation{Name: p.Name, Frames: [][]math.Mat4{nil}}
	var errs error
	for _, b := range p.Bones {
		i := s.Resolve(b.Name, opts.BoneMap)
		if i < 0 {
			opts.mismatch(&errs, "mhp", b.Name)
			continue
		}
		var m math.Mat4
		if b.IsQuat {
			m = math.Quat{W: b.Quat[0], X: b.Quat[1], Y: b.Quat[2], Z: b.Quat[3]}.Normalize().ToMat4()
		} else {
			m = math.FromRows3(b.Matrix)
		}
		a.Bones = append(a.Bones, s.bones[i].Name)
		a.Frames[0] = append(a.Frames[0], m)
	}
	if errs != nil {
		return nil, errs
	}
	return a, nil
}

// zUpToYUp rotates Z-up data into Y-up.
var zUpToYUp = math.RotateX(-math.DegToRad(90))

// FromBVH binds BVH motion to the bones of s. Joint names are resolved
// here; the frames themselves are converted by Locals.
//
// BVH rotations are expressed in frames aligned with the file's world axes.
// Each is conjugated into the rest frame of the target bone, so the BVH rest
// pose must match the skeleton rest pose. Root translation is taken relative
// to the joint offset and, when ScaleBone is set, scaled by the ratio of the
// skeleton bone length to its BVH counterpart. Both use the rest of s at
// conversion time, so a pose follows later changes to the character.
func FromBVH(b *formats.BVH, s *Skeleton, opts ImportOptions) (*Animation, error) {
	targets := make([]int, len(b.Joints))
	var errs error
	for j, joint := range b.Joints {
		targets[j] = s.Resolve(joint.Name, opts.BoneMap)
		if targets[j] < 0 && len(joint.Channels) > 0 {
			opts.mismatch(&errs, "bvh", joint.Name)
		}
	}
	if errs != nil {
		return nil, errs
	}

	m := &bvhMotion{src: b, zUp: opts.ZUp, scaleBone: opts.ScaleBone}
	if bone := s.BoneIndex(opts.ScaleBone); bone >= 0 {
		m.scaleLen = bvhLength(b, targets, bone)
	}
	a := &Animation{FrameTime: b.FrameTime, motion: m}
	for j, t := range targets {
		if t >= 0 && len(b.Joints[j].Channels) > 0 {
			a.Bones = append(a.Bones, s.bones[t].Name)
			m.joints = append(m.joints, j)
		}
	}
	return a, nil
}

// frame converts frame f against the current rest of s. Entries whose bone
// s lacks are left at identity.
func (m *bvhMotion) frame(s *Skeleton, bones []string, f int) []math.Mat4 {
	scale := m.scale(s)
	out := make([]math.Mat4, len(m.joints))
	for k, j := range m.joints {
		i := s.BoneIndex(bones[k])
		if i < 0 {
			out[k] = math.Identity()
			continue
		}
		rot, trans, hasTrans := bvhChannels(&m.src.Joints[j], m.src.Values(j, f))
		if m.zUp {
			rot = zUpToYUp.Mul(rot).Mul(zUpToYUp.Transpose())
			trans = zUpToYUp.TransformDirection(trans)
		}
		restRot := s.bones[i].RestGlobal.Rotation()
		restInv := restRot.Transpose()
		local := restInv.Mul(rot).Mul(restRot)
		if hasTrans {
			t := restInv.TransformDirection(trans.Scale(scale))
			local = math.TranslateVec(t).Mul(local)
		}
		out[k] = local
	}
	return out
}

// scale is the ratio of the current scale bone length to its BVH length.
func (m *bvhMotion) scale(s *Skeleton) float32 {
	bone := s.BoneIndex(m.scaleBone)
	if bone < 0 || m.scaleLen < 1e-6 {
		return 1
	}
	skelLen := s.bones[bone].Length()
	if skelLen < 1e-6 {
		return 1
	}
	return skelLen / m.scaleLen
}

// bvhChannels composes the rotation channels in file order and returns the
// translation relative to the rest offset.
func bvhChannels(joint *formats.BVHJoint, values []float32) (math.Mat4, math.Vec3, bool) {
	rot := math.Identity()
	pos := math.Vec3{X: joint.Offset[0], Y: joint.Offset[1], Z: joint.Offset[2]}
	hasTrans := false
	for c, ch := range joint.Channels {
		v := values[c]
		switch ch {
		case formats.ChanXRotation:
			rot = rot.Mul(math.RotateX(math.DegToRad(v)))
		case formats.ChanYRotation:
			rot = rot.Mul(math.RotateY(math.DegToRad(v)))
		case formats.ChanZRotation:
			rot = rot.Mul(math.RotateZ(math.DegToRad(v)))
		case formats.ChanXPosition:
			pos.X, hasTrans = v, true
		case formats.ChanYPosition:
			pos.Y, hasTrans = v, true
		case formats.ChanZPosition:
			pos.Z, hasTrans = v, true
		}
	}
	offset := math.Vec3{X: joint.Offset[0], Y: joint.Offset[1], Z: joint.Offset[2]}
	return rot, pos.Sub(offset), hasTrans
}

// bvhLength measures the BVH joint mapped to bone as the offset of its first
// child or end site. It returns 0 when no joint maps to bone.
func bvhLength(b *formats.BVH, targets []int, bone int) float32 {
	for j, t := range targets {
		if t != bone {
			continue
		}
		var off *[3]float32
		for c := range b.Joints {
			if b.Joints[c].Parent == j {
				off = &b.Joints[c].Offset
				break
			}
		}
		if off == nil {
			off = b.Joints[j].EndSite
		}
		if off == nil {
			return 0
		}
		return math.Vec3{X: off[0], Y: off[1], Z: off[2]}.Length()
	}
	return 0
}

// LoadAnimation reads a .bvh or .mhp file and converts it for s.
func LoadAnimation(path string, s *Skeleton, opts ImportOptions) (*Animation, error) {
	var (
		a   *Animation
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bvh":
		var b *formats.BVH
		if b, err = formats.ParseBVHFile(path); err == nil {
			a, err = FromBVH(b, s, opts)
		}
	case ".mhp":
		var p *formats.MHP
		if p, err = formats.ParseMHPFile(path); err == nil {
			a, err = FromMHP(p, s, opts)
		}
	default:
		return nil, fmt.Errorf("unsupported pose format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	a.Source = path
	if a.Name == "" {
		a.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return a, nil
}

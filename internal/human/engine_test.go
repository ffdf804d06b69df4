package human

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/mhcore/internal/engine/mesh/meshtest"
	"github.com/Faultbox/mhcore/internal/engine/modifiers"
	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/internal/engine/skinning"
	"github.com/Faultbox/mhcore/internal/engine/targets"
	"github.com/Faultbox/mhcore/internal/engine/warp"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// The test base is an 8x1 quad strip: vertex c sits at (c, 0, 0) and
// vertex c+9 at (c, 1, 0); face c uses vertices c, c+1, c+10, c+9.
const (
	gridCols  = 8
	gridVerts = 18
)

const engineDefs = `
variables:
  - name: gender
    categories: [{name: female, at: 0}, {name: male, at: 1}]
  - name: race
    members: [african, asian, caucasian]
groups:
  - group: macrodetails
    modifiers:
      - {macrovar: Gender, target: "universal-{gender}"}
      - {macrovar: African, target: "{race}"}
      - {macrovar: Asian, target: "{race}"}
      - {macrovar: Caucasian, target: "{race}"}
  - group: torso
    modifiers:
      - {target: torso-scale, min: decr, max: incr}
      - {target: torso-depth}
      - {target: torso-twist}
  - group: armslegs
    modifiers:
      - {target: l-hand-scale}
      - {target: r-hand-scale}
  - group: measure
    modifiers:
      - type: warp
        target: measure-waist
        min: decr
        max: incr
        bodypart: torso
        keypoints: [0, 8, 0, 9, 0, 1]
        reference: {gender: 0.5}
`

type sparse struct {
	verts []uint32
	data  []math.Vec3
}

// torso/torso-twist.target is left out on purpose.
var engineTargets = map[string]sparse{
	"macrodetails/universal-female.target": {[]uint32{17}, []math.Vec3{{Z: 0.5}}},
	"macrodetails/universal-male.target":   {[]uint32{8}, []math.Vec3{{X: 4}}},
	"macrodetails/african.target":          {[]uint32{10}, []math.Vec3{{Y: 0.1}}},
	"macrodetails/asian.target":            {[]uint32{11}, []math.Vec3{{Y: 0.2}}},
	"macrodetails/caucasian.target":        {[]uint32{12}, []math.Vec3{{Y: 0.3}}},
	"torso/torso-scale-decr.target":        {[]uint32{2, 3}, []math.Vec3{{Y: -0.25}, {Y: -0.5}}},
	"torso/torso-scale-incr.target":        {[]uint32{2, 3}, []math.Vec3{{Y: 0.25}, {Y: 0.5}}},
	"torso/torso-depth.target":             {[]uint32{3, 5}, []math.Vec3{{Z: 0.3}, {Z: 1}}},
	"armslegs/l-hand-scale.target":         {[]uint32{6}, []math.Vec3{{X: 0.1}}},
	"armslegs/r-hand-scale.target":         {[]uint32{7}, []math.Vec3{{X: -0.1}}},
	"measure/measure-waist-decr.target":    {[]uint32{3}, []math.Vec3{{X: -1}}},
	"measure/measure-waist-incr.target":    {[]uint32{3}, []math.Vec3{{X: 1}}},
}

func newTestStore(t *testing.T, numVerts int) *targets.Store {
	t.Helper()
	store := targets.NewStore(t.TempDir(), numVerts)
	for path, s := range engineTargets {
		_, err := store.Put(path, s.verts, s.data)
		require.NoError(t, err)
	}
	return store
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := meshtest.Grid(t, gridCols, 1, 1)
	require.Equal(t, gridVerts, base.NumVerts())
	g, err := modifiers.Load([]byte(engineDefs))
	require.NoError(t, err)
	store := newTestStore(t, base.NumVerts())
	e, err := New(base, g, store, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Evaluate())
	return e
}

func set(t *testing.T, e *Engine, name string, v float32) {
	t.Helper()
	require.NoError(t, e.SetModifierValue(name, v))
	require.NoError(t, e.Evaluate())
}

func identityProxy(t *testing.T, e *Engine, name, id string, typ proxy.Type, z int, del ...uint32) *proxy.Proxy {
	t.Helper()
	p, err := proxy.Identity(name, id, typ, e.Base())
	require.NoError(t, err)
	p.ZDepth = z
	p.SetDeleteVerts(del)
	return p
}

func gridSkeleton(t *testing.T) (*skeleton.Skeleton, *skinning.Weights) {
	t.Helper()
	s, err := skeleton.New(&formats.SkelFile{
		Name: "grid",
		Bones: []formats.SkelBone{
			{Name: "arm", Head: "j-mid", Tail: "j-tip", Parent: "root"},
			{Name: "root", Head: "j-root", Tail: "j-mid"},
		},
		Joints: map[string][]uint32{"j-root": {0}, "j-mid": {4}, "j-tip": {8}},
	})
	require.NoError(t, err)
	s.Source = "grid.mhskel"

	ones := func(n int) []float32 {
		w := make([]float32, n)
		for i := range w {
			w[i] = 1
		}
		return w
	}
	w, err := skinning.New(&formats.WeightsFile{Weights: map[string]formats.BoneWeights{
		"root": {Verts: []uint32{0, 1, 2, 3, 9, 10, 11, 12}, Weights: ones(8)},
		"arm":  {Verts: []uint32{4, 5, 6, 7, 8, 13, 14, 15, 16, 17}, Weights: ones(10)},
	}}, s, gridVerts)
	require.NoError(t, err)
	return s, w
}

func waveAnimation() *skeleton.Animation {
	return &skeleton.Animation{
		Name:   "wave",
		Source: "wave.bvh",
		Bones:  []string{"arm"},
		Frames: [][]math.Mat4{
			{math.Identity()},
			{math.RotateZ(math.DegToRad(90))},
		},
	}
}

func TestEmptyState(t *testing.T) {
	e := newEngine(t)

	assert.Equal(t, e.Base().Rest(), e.BaseCoords())
	assert.Equal(t, 0, e.Stack().Len())
	assert.False(t, e.Dirty())
	for i, vis := range e.FaceMask() {
		assert.True(t, vis, "face %d", i)
	}
	assert.Empty(t, e.Diagnostics().MissingTargets)
	assert.Equal(t, e.BaseCoords(), e.PosedBaseCoords())
}

func TestSingleSlider(t *testing.T) {
	e := newEngine(t)
	rest := append([]math.Vec3(nil), e.Base().Rest()...)

	set(t, e, "torso/torso-depth", 0.5)

	got := e.BaseCoords()
	assert.Equal(t, rest[3].MulAdd(math.Vec3{Z: 0.3}, 0.5), got[3])
	assert.Equal(t, rest[5].MulAdd(math.Vec3{Z: 1}, 0.5), got[5])
	for v := range rest {
		if v != 3 && v != 5 {
			assert.Equal(t, rest[v], got[v], "vertex %d", v)
		}
	}
	w, err := e.ModifierValue("torso/torso-depth")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), w)
}

func TestSetValueClamps(t *testing.T) {
	e := newEngine(t)
	set(t, e, "torso/torso-scale-decr|incr", -3)

	v, err := e.ModifierValue("torso/torso-scale-decr|incr")
	require.NoError(t, err)
	assert.Equal(t, float32(-1), v)
	assert.Equal(t, float32(1), e.Stack().Weight("torso/torso-scale-decr.target"))
	assert.Zero(t, e.Stack().Weight("torso/torso-scale-incr.target"))

	err = e.SetModifierValue("torso/nope", 1)
	assert.ErrorIs(t, err, modifiers.ErrUnknownModifier)
}

func TestInverseRoundTripIsExact(t *testing.T) {
	e := newEngine(t)
	rest := append([]math.Vec3(nil), e.Base().Rest()...)

	set(t, e, "torso/torso-scale-decr|incr", 0.7)
	assert.NotEqual(t, rest, e.BaseCoords())
	set(t, e, "torso/torso-scale-decr|incr", -0.7)
	set(t, e, "torso/torso-scale-decr|incr", 0)

	assert.Equal(t, rest, e.BaseCoords())
	assert.Equal(t, 0, e.Stack().Len())
}

func TestIncrementalMatchesFull(t *testing.T) {
	inc := newEngine(t)
	full := newEngine(t, WithIncremental(false), WithPool(parallel.Pool{Workers: 3, Grain: 2}))

	steps := []struct {
		name  string
		value float32
	}{
		{"torso/torso-depth", 0.5},
		{"torso/torso-scale-decr|incr", 0.3},
		{"measure/measure-waist-decr|incr", 0.8},
		{"macrodetails/Gender", 1},
		{"torso/torso-scale-decr|incr", -0.6},
		{"macrodetails/Gender", 0.2},
		{"macrodetails/African", 0.7},
		{"torso/torso-depth", 0},
		{"measure/measure-waist-decr|incr", -0.4},
	}
	for _, st := range steps {
		set(t, inc, st.name, st.value)
		set(t, full, st.name, st.value)
		require.Equal(t, full.BaseCoords(), inc.BaseCoords(), "after %s = %v", st.name, st.value)
		require.Equal(t, full.BaseNormals(), inc.BaseNormals(), "normals after %s", st.name)
	}
	assert.Positive(t, inc.Diagnostics().IncrementalPasses)
	assert.Zero(t, full.Diagnostics().IncrementalPasses)
}

func TestOrderIndependence(t *testing.T) {
	a := newEngine(t)
	b := newEngine(t)

	set(t, a, "torso/torso-depth", 0.35)
	set(t, a, "torso/torso-scale-decr|incr", 0.45)
	set(t, a, "macrodetails/Gender", 0.8)

	require.NoError(t, b.SetModifierValue("macrodetails/Gender", 0.8))
	require.NoError(t, b.SetModifierValue("torso/torso-scale-decr|incr", 0.45))
	require.NoError(t, b.SetModifierValue("torso/torso-depth", 0.35))
	require.NoError(t, b.Evaluate())

	assert.Equal(t, a.BaseCoords(), b.BaseCoords())
}

func TestWarpScalesWithCharacter(t *testing.T) {
	e := newEngine(t)
	rest := append([]math.Vec3(nil), e.Base().Rest()...)

	// At the reference gender the factors are 1.
	set(t, e, "measure/measure-waist-decr|incr", 1)
	assert.Equal(t, rest[3].MulAdd(math.Vec3{X: 1}, 1), e.BaseCoords()[3])

	// Gender 1 moves vertex 8 to x = 12; the reference has it at x = 10.
	set(t, e, "macrodetails/Gender", 1)
	s := math.Vec3{X: float32(12) / float32(10), Y: 1, Z: 1}
	want := rest[3].MulAdd(warp.Scale(math.Vec3{X: 1}, s), 1)
	assert.Equal(t, want, e.BaseCoords()[3])
	assert.Equal(t, rest[8].MulAdd(math.Vec3{X: 4}, 1), e.BaseCoords()[8])
}

func TestRaceRebalance(t *testing.T) {
	e := newEngine(t)
	set(t, e, "macrodetails/African", 0.7)

	for _, name := range []string{"macrodetails/Asian", "macrodetails/Caucasian"} {
		v, err := e.ModifierValue(name)
		require.NoError(t, err)
		assert.InDelta(t, 0.15, v, 1e-6, name)
		assert.True(t, e.Graph().Active(name), name)
	}
}

func TestApplySymmetry(t *testing.T) {
	e := newEngine(t)
	set(t, e, "armslegs/l-hand-scale", 0.4)
	require.NoError(t, e.ApplySymmetry(true))
	require.NoError(t, e.Evaluate())

	v, err := e.ModifierValue("armslegs/r-hand-scale")
	require.NoError(t, err)
	assert.Equal(t, float32(0.4), v)
	assert.Equal(t, float32(0.4), e.Stack().Weight("armslegs/r-hand-scale.target"))
}

func TestMissingTargetsLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := newEngine(t, WithLogger(zap.New(core)))

	set(t, e, "torso/torso-twist", 1)
	set(t, e, "torso/torso-twist", 0.5)
	set(t, e, "torso/torso-depth", 1)

	assert.Equal(t, []string{"torso/torso-twist.target"}, e.Diagnostics().MissingTargets)
	assert.Equal(t, 1, logs.FilterMessage("skipping missing target").Len())
	assert.Equal(t, e.Base().Rest()[0], e.BaseCoords()[0])
}

func TestProxyFollowsDeformation(t *testing.T) {
	e := newEngine(t)
	set(t, e, "torso/torso-depth", 0.5)

	p := identityProxy(t, e, "body", "", proxy.Proxymeshes, 0)
	_, err := e.BindProxy(p)
	require.NoError(t, err)
	require.NoError(t, e.Evaluate())

	coords, err := e.ProxyCoords(p.UUID)
	require.NoError(t, err)
	assert.Equal(t, e.BaseCoords(), coords)

	set(t, e, "torso/torso-scale-decr|incr", 1)
	coords, err = e.ProxyCoords(p.UUID)
	require.NoError(t, err)
	assert.Equal(t, e.BaseCoords(), coords)
}

func TestCutoutStack(t *testing.T) {
	e := newEngine(t)
	shirt := identityProxy(t, e, "shirt", "", proxy.Clothes, 1, 0)
	jacket := identityProxy(t, e, "jacket", "", proxy.Clothes, 2, 8)
	for _, p := range []*proxy.Proxy{jacket, shirt} {
		_, err := e.BindProxy(p)
		require.NoError(t, err)
	}
	require.NoError(t, e.Evaluate())

	assert.Equal(t, []bool{false, true, true, true, true, true, true, false}, e.FaceMask())
	mask, err := e.ProxyFaceMask(shirt.UUID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true, true, true, true, true}, mask)
	mask, err = e.ProxyFaceMask(jacket.UUID)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, true, true, true, true, true}, mask)

	e.SetFaceHiding(false)
	require.NoError(t, e.Evaluate())
	assert.NotContains(t, e.FaceMask(), false)

	e.SetFaceHiding(true)
	require.NoError(t, e.UnbindProxy(shirt.UUID))
	require.NoError(t, e.Evaluate())
	assert.Equal(t, []bool{true, true, true, true, true, true, true, false}, e.FaceMask())
	assert.ErrorIs(t, e.UnbindProxy(shirt.UUID), ErrNotBound)
}

func TestBindErrors(t *testing.T) {
	e := newEngine(t)
	const id = "6f1e2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b"

	_, err := e.BindProxy(identityProxy(t, e, "a", id, proxy.Clothes, 0))
	require.NoError(t, err)
	_, err = e.BindProxy(identityProxy(t, e, "b", id, proxy.Clothes, 0))
	assert.ErrorIs(t, err, ErrUUIDCollision)
	assert.Len(t, e.Proxies(), 1)

	small, err := proxy.Identity("small", "", proxy.Clothes, meshtest.Grid(t, 20, 1, 1))
	require.NoError(t, err)
	_, err = e.BindProxy(small)
	assert.ErrorIs(t, err, ErrInvariant)

	assert.ErrorIs(t, e.SetProxyDeleteVerts(id, []uint32{gridVerts}), ErrInvariant)
}

func TestSingleSlotReplacement(t *testing.T) {
	e := newEngine(t)
	first := identityProxy(t, e, "short", "", proxy.Hair, 0)
	second := identityProxy(t, e, "long", "", proxy.Hair, 0)

	_, err := e.BindProxy(first)
	require.NoError(t, err)
	id, err := e.BindProxy(second)
	require.NoError(t, err)

	ps := e.Proxies()
	require.Len(t, ps, 1)
	assert.Same(t, second, ps[0])
	_, err = e.Proxy(first.UUID)
	assert.ErrorIs(t, err, ErrNotBound)
	got, err := e.ProxyByID(id)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestRestPoseIsExact(t *testing.T) {
	e := newEngine(t)
	set(t, e, "torso/torso-depth", 0.5)
	s, w := gridSkeleton(t)
	require.NoError(t, e.SetSkeleton(s, w))
	p := identityProxy(t, e, "body", "", proxy.Proxymeshes, 0)
	_, err := e.BindProxy(p)
	require.NoError(t, err)

	require.NoError(t, e.SetPose(skeleton.RestAnimation(s), 0))
	require.NoError(t, e.Evaluate())
	assert.Equal(t, e.BaseCoords(), e.PosedBaseCoords())
	assert.Equal(t, e.BaseNormals(), e.PosedBaseNormals())

	require.NoError(t, e.SetPose(waveAnimation(), 0))
	require.NoError(t, e.Evaluate())
	assert.Equal(t, e.BaseCoords(), e.PosedBaseCoords())

	posed, err := e.PosedProxyCoords(p.UUID)
	require.NoError(t, err)
	assert.Equal(t, e.PosedBaseCoords(), posed)
}

func TestPoseMovesSkinnedVertices(t *testing.T) {
	e := newEngine(t)
	s, w := gridSkeleton(t)
	require.NoError(t, e.SetSkeleton(s, w))
	p := identityProxy(t, e, "body", "", proxy.Proxymeshes, 0)
	_, err := e.BindProxy(p)
	require.NoError(t, err)

	require.NoError(t, e.SetPose(waveAnimation(), 1))
	require.NoError(t, e.Evaluate())

	got := e.PosedBaseCoords()
	assert.True(t, got[8].ApproxEqual(math.Vec3{X: 4, Y: 4}, 1e-5), "tip = %v", got[8])
	assert.True(t, got[2].ApproxEqual(e.BaseCoords()[2], 1e-5), "root-bound vertex = %v", got[2])
	assert.Equal(t, e.Base().Rest(), e.BaseCoords())

	posed, err := e.PosedProxyCoords(p.UUID)
	require.NoError(t, err)
	assert.True(t, posed[8].ApproxEqual(got[8], 1e-5))

	e.ClearPose()
	require.NoError(t, e.Evaluate())
	assert.Equal(t, e.BaseCoords(), e.PosedBaseCoords())

	assert.ErrorIs(t, e.SetPose(waveAnimation(), 2), skeleton.ErrFrameRange)
	assert.ErrorIs(t, e.SetPose(nil, 0), ErrInvariant)
	require.NoError(t, e.SetSkeleton(nil, nil))
	assert.ErrorIs(t, e.SetPose(waveAnimation(), 0), ErrNoSkeleton)
}

func TestResetAll(t *testing.T) {
	e := newEngine(t)
	set(t, e, "macrodetails/Gender", 0.9)
	set(t, e, "torso/torso-depth", 1)
	_, err := e.BindProxy(identityProxy(t, e, "shirt", "", proxy.Clothes, 0, 0))
	require.NoError(t, err)
	e.Name = "someone"

	e.ResetAll()
	require.NoError(t, e.Evaluate())

	assert.Equal(t, e.Base().Rest(), e.BaseCoords())
	assert.Empty(t, e.Proxies())
	assert.Empty(t, e.Graph().ActiveModifiers())
	assert.Empty(t, e.Name)
	assert.NotContains(t, e.FaceMask(), false)
}

func TestEvaluateRetryAfterError(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(e.Store().Root(), "torso", "torso-twist.target")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("5 0 zero 1\n"), 0644))

	require.NoError(t, e.SetModifierValue("torso/torso-twist", 1))
	err := e.Evaluate()
	assert.ErrorIs(t, err, targets.ErrMalformedTarget)
	assert.True(t, e.Dirty())
	assert.Equal(t, math.Vec3{X: 5}, e.BaseCoords()[5])

	require.NoError(t, os.WriteFile(path, []byte("5 0 0 1\n"), 0644))
	require.NoError(t, e.Evaluate())
	assert.False(t, e.Dirty())
	assert.Equal(t, math.Vec3{X: 5, Z: 1}, e.BaseCoords()[5])
}

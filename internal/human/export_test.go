package human

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

func TestOBJExportReimportsAsProxy(t *testing.T) {
	e := newEngine(t)
	set(t, e, "torso/torso-depth", 0.7)
	set(t, e, "macrodetails/Gender", 0.9)

	obj, err := e.MeshOBJ("", ExportOptions{})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, formats.WriteOBJ(&buf, obj))

	parsed, err := formats.ParseOBJ(buf.Bytes())
	require.NoError(t, err)
	m, err := mesh.FromOBJ(parsed)
	require.NoError(t, err)
	require.Equal(t, e.BaseCoords(), m.Coords())

	p, err := proxy.Identity("copy", "", proxy.Proxymeshes, m)
	require.NoError(t, err)
	_, err = e.BindProxy(p)
	require.NoError(t, err)
	set(t, e, "torso/torso-depth", 0.2)

	coords, err := e.ProxyCoords(p.UUID)
	require.NoError(t, err)
	assert.Equal(t, e.BaseCoords(), coords)
}

func TestExportOptions(t *testing.T) {
	e := newEngine(t)
	shirt := identityProxy(t, e, "shirt", "", proxy.Clothes, 1, 0)
	_, err := e.BindProxy(shirt)
	require.NoError(t, err)
	s, w := gridSkeleton(t)
	require.NoError(t, e.SetSkeleton(s, w))
	require.NoError(t, e.SetPose(waveAnimation(), 1))

	obj, err := e.MeshOBJ("", ExportOptions{HideMasked: true})
	require.NoError(t, err)
	// Face 0 is the only user of vertices 0 and 9.
	assert.Len(t, obj.Faces, gridCols-1)
	assert.Len(t, obj.Coords, gridVerts-2)

	obj, err = e.MeshOBJ("", ExportOptions{Posed: true, Scale: 0.5})
	require.NoError(t, err)
	tip := math.Vec3{X: obj.Coords[8][0], Y: obj.Coords[8][1], Z: obj.Coords[8][2]}
	assert.True(t, tip.ApproxEqual(math.Vec3{X: 2, Y: 2}, 1e-5), "tip = %v", tip)

	surfaces, err := e.Surfaces(ExportOptions{Posed: true})
	require.NoError(t, err)
	require.Len(t, surfaces, 2)
	assert.Equal(t, "shirt", surfaces[1].Name)
	assert.Len(t, surfaces[0].Indices, gridCols*6)
	assert.Len(t, surfaces[0].Normals, gridVerts)

	_, err = e.MeshOBJ("not-bound", ExportOptions{})
	assert.ErrorIs(t, err, ErrNotBound)
}

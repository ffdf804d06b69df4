package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/mhcore/internal/config"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/human"
	"github.com/Faultbox/mhcore/internal/logger"
	"github.com/Faultbox/mhcore/pkg/formats"
)

const shirtUUID = "0b9a6f3e-1c2d-4e5f-8a7b-6c5d4e3f2a10"

// stripOBJ is a 3x1 quad strip: vertex c at (c, 0, 0), vertex c+4 at (c, 1, 0).
const stripOBJ = `v 0 0 0
v 1 0 0
v 2 0 0
v 3 0 0
v 0 1 0
v 1 1 0
v 2 1 0
v 3 1 0
f 1 2 6 5
f 2 3 7 6
f 3 4 8 7
`

var dataFiles = map[string]string{
	"base.obj": stripOBJ,
	"modifiers.yaml": `
groups:
  - group: torso
    modifiers:
      - {target: torso-depth}
      - {target: torso-twist}
`,
	"targets/torso/torso-depth.target": "1 0 0 0.5\n",
	"clothes/shirt.mhclo":              "name shirt\nuuid " + shirtUUID + "\ntype clothes\nobj_file ../base.obj\nverts 0\n0\n1\n2\n3\n4\n5\n6\n7\ndelete_verts\n0\n",
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	require.NoError(t, logger.Init(logger.Options{Level: "error"}))

	root := t.TempDir()
	for name, content := range dataFiles {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfg := config.Default()
	cfg.Data = config.DataConfig{
		Root:      root,
		BaseMesh:  "base.obj",
		Targets:   "targets",
		Modifiers: "modifiers.yaml",
		ProxyDirs: []string{"clothes"},
	}
	cfg.Engine.Workers = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

func captureStdout(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		in   string
		name string
		v    float32
		ok   bool
	}{
		{"macrodetails/Gender=1", "macrodetails/Gender", 1, true},
		{"torso/torso-scale-decr|incr=-0.25", "torso/torso-scale-decr|incr", -0.25, true},
		{" torso/torso-depth = .5", "torso/torso-depth", 0.5, true},
		{"torso/torso-depth", "", 0, false},
		{"=1", "", 0, false},
		{"torso/torso-depth=deep", "", 0, false},
	}
	for _, tt := range tests {
		name, v, err := parseAssignment(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.v, v)
	}
}

func TestParseProxySpec(t *testing.T) {
	typ, name, err := parseProxySpec("hair:bob")
	require.NoError(t, err)
	assert.Equal(t, proxy.Hair, typ)
	assert.Equal(t, "bob", name)

	typ, _, err = parseProxySpec("proxy:lowpoly")
	require.NoError(t, err)
	assert.Equal(t, proxy.Proxymeshes, typ)

	_, _, err = parseProxySpec("wings:feathered")
	assert.ErrorIs(t, err, proxy.ErrUnknownSlot)
	_, _, err = parseProxySpec("hair")
	assert.Error(t, err)
}

func TestMatchTarget(t *testing.T) {
	assert.True(t, matchTarget("", "torso/torso-depth.target"))
	assert.True(t, matchTarget("torso/*", "torso/torso-depth.target"))
	assert.True(t, matchTarget("*-depth.target", "torso/torso-depth.target"))
	assert.True(t, matchTarget("depth", "torso/torso-depth.target"))
	assert.False(t, matchTarget("measure/*", "torso/torso-depth.target"))
}

func TestEvalSaveAndReload(t *testing.T) {
	cfg := testConfig(t)
	out := captureStdout(t)
	dir := t.TempDir()
	glb := filepath.Join(dir, "out.glb")
	saved := filepath.Join(dir, "out.mhm")

	s, err := openSession(cfg)
	require.NoError(t, err)
	err = evaluate(s, &evalOptions{
		sets:    listFlag{"torso/torso-depth=1"},
		proxies: listFlag{"clothes:shirt"},
		out:     glb,
		save:    saved,
	})
	s.close()
	require.NoError(t, err)
	assert.Contains(t, out.String(), "active modifiers: 1, targets: 1, proxies: 1, missing targets: 0")

	data, err := os.ReadFile(glb)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("glTF")))

	state, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(state), "modifier torso/torso-depth 1\n")
	assert.Contains(t, string(state), "clothes shirt "+shirtUUID+"\n")

	// A fresh session starts from the saved state.
	objPath := filepath.Join(dir, "reload.obj")
	s, err = openSession(cfg)
	require.NoError(t, err)
	err = evaluate(s, &evalOptions{load: saved, out: objPath, export: human.ExportOptions{HideMasked: true}})
	s.close()
	require.NoError(t, err)

	base, err := formats.ParseOBJFile(objPath)
	require.NoError(t, err)
	// The shirt hides vertex 0, so face 0 and vertices 0 and 4 are dropped.
	assert.Len(t, base.Faces, 2)
	assert.Len(t, base.Coords, 6)
	assert.InDelta(t, 0.5, base.Coords[0][2], 1e-5)

	shirt, err := formats.ParseOBJFile(filepath.Join(dir, "reload.shirt.obj"))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, shirt.Coords[1][2], 1e-5)
}

func TestEvalErrors(t *testing.T) {
	cfg := testConfig(t)
	captureStdout(t)
	s, err := openSession(cfg)
	require.NoError(t, err)
	defer s.close()

	tests := []struct {
		name string
		opts evalOptions
		want string
	}{
		{"unknown modifier", evalOptions{sets: listFlag{"torso/tail=1"}}, "unknown modifier"},
		{"bad symmetry", evalOptions{symmetry: "up"}, "symmetry"},
		{"pose without skeleton", evalOptions{pose: "wave.bvh"}, "no skeleton"},
		{"bad export", evalOptions{out: filepath.Join(t.TempDir(), "out.fbx")}, ".obj or .glb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(s, &tt.opts)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestTargetsListing(t *testing.T) {
	cfg := testConfig(t)
	out := captureStdout(t)
	require.NoError(t, cmdTargets(cfg, []string{"-compile"}))
	assert.Contains(t, out.String(), "compiled 1 of 1 targets")

	_, err := os.Stat(filepath.Join(cfg.Data.Root, "targets", "torso", "torso-depth.npz"))
	assert.NoError(t, err)

	out.Reset()
	require.NoError(t, cmdTargets(cfg, nil))
	assert.Equal(t, "torso/torso-depth.target\n", out.String())
}

func TestInfoAndModifiers(t *testing.T) {
	cfg := testConfig(t)
	out := captureStdout(t)
	require.NoError(t, cmdInfo(cfg, nil))
	assert.Contains(t, out.String(), "Base mesh: 8 vertices, 3 faces, 1 groups")
	assert.Contains(t, out.String(), "Modifiers: 2 (0 macro, 2 universal, 0 warp)")
	assert.Contains(t, out.String(), "clothes")

	out.Reset()
	require.NoError(t, cmdModifiers(cfg, []string{"-group", "torso"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "torso/torso-depth"), lines[1])
}

func TestConfigCommand(t *testing.T) {
	cfg := testConfig(t)
	out := captureStdout(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cmdConfig(cfg, []string{"-o", path}))
	assert.Equal(t, "wrote "+path+"\n", out.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_mesh: base.obj")
}

func TestLogOptions(t *testing.T) {
	l := config.Default().Logging
	opts := logOptions(l)
	assert.Equal(t, "info", opts.Level)
	assert.NotNil(t, opts.Console)
	assert.Empty(t, opts.File.Path)

	l.LogFile = "mhtool.log"
	opts = logOptions(l)
	assert.Equal(t, logger.FileConfig{Path: "mhtool.log", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7, Compress: true}, opts.File)
}

package proxy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/internal/engine/mesh/meshtest"
	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

const testUUID = "6f1e2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b"

func TestParseType(t *testing.T) {
	tests := []struct {
		in    string
		want  Type
		multi bool
	}{
		{"clothes", Clothes, true},
		{"Hair", Hair, false},
		{"eyebrows", Eyebrows, false},
		{"proxymeshes", Proxymeshes, false},
		{"proxy", Proxymeshes, false},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tt.in, err)
		}
		if got != tt.want || got.MultiSlot() != tt.multi {
			t.Errorf("ParseType(%q) = %v multi=%v", tt.in, got, got.MultiSlot())
		}
	}
	if _, err := ParseType("hat"); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("ParseType(hat) err = %v", err)
	}
}

func TestCanonicalUUID(t *testing.T) {
	got, err := CanonicalUUID(testUUID)
	if err != nil || got != testUUID {
		t.Fatalf("CanonicalUUID = %q, %v", got, err)
	}
	if _, err := CanonicalUUID("not-a-uuid"); !errors.Is(err, ErrInvalidUUID) {
		t.Errorf("invalid uuid err = %v", err)
	}
	gen, err := CanonicalUUID("")
	if err != nil {
		t.Fatal(err)
	}
	if again, err := CanonicalUUID(gen); err != nil || again != gen {
		t.Errorf("generated uuid %q does not round trip: %q %v", gen, again, err)
	}
}

func TestIdentityFit(t *testing.T) {
	base := meshtest.Grid(t, 3, 2, 1)
	base.SetCoord(5, math.Vec3{X: 1, Y: 1, Z: 0.25})
	base.CalcNormals()

	p, err := Identity("copy", testUUID, Proxymeshes, base)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(base.NumVerts()); err != nil {
		t.Fatal(err)
	}
	if err := p.Refit(parallel.Pool{}, base.Coords(), base.Normals()); err != nil {
		t.Fatal(err)
	}
	for i, c := range p.Mesh.Coords() {
		if c != base.Coords()[i] {
			t.Fatalf("vertex %d = %v, want %v", i, c, base.Coords()[i])
		}
	}

	p.Refs = p.Refs[:len(p.Refs)-1]
	if err := p.Refit(parallel.Pool{}, base.Coords(), base.Normals()); !errors.Is(err, mesh.ErrLengthMismatch) {
		t.Errorf("refit with short refs: %v", err)
	}
}

func TestRefVertPosition(t *testing.T) {
	base := meshtest.Grid(t, 2, 2, 1)
	coords, normals := base.Coords(), base.Normals()

	tests := []struct {
		name string
		ref  RefVert
		want math.Vec3
	}{
		{"single", Single(4, math.Vec3{Z: 0.5}), math.Vec3{X: 1, Y: 1, Z: 0.5}},
		{"triple", Triple([3]uint32{0, 1, 3}, [3]float32{0.5, 0.25, 0.25}, [3]float32{}),
			math.Vec3{X: 0.25, Y: 0.25}},
		{"triple offset", Triple([3]uint32{0, 1, 3}, [3]float32{0.5, 0.25, 0.25}, [3]float32{1, 1, 1}),
			math.Vec3{X: 0.25, Y: 0.25, Z: 1}},
	}
	for _, tt := range tests {
		if got := tt.ref.Position(coords, normals); !got.ApproxEqual(tt.want, 1e-6) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	m := meshtest.Grid(t, 1, 1, 1)
	refs := []RefVert{
		Single(0, math.Vec3{}),
		Single(1, math.Vec3{}),
		Triple([3]uint32{0, 1, 99}, [3]float32{1, 0, 0}, [3]float32{}),
		Single(3, math.Vec3{}),
	}
	p, err := New("bad", testUUID, Clothes, m, refs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(10); !errors.Is(err, ErrInvalidRefVert) {
		t.Errorf("Validate err = %v", err)
	}
	if _, err := New("short", testUUID, Clothes, m, refs[:2], nil); !errors.Is(err, ErrInvalidRefVert) {
		t.Errorf("New with short refs err = %v", err)
	}

	refs[2] = Single(2, math.Vec3{})
	p, _ = New("hides", testUUID, Clothes, m, refs, []uint32{12})
	if err := p.Validate(10); !errors.Is(err, ErrInvalidRefVert) {
		t.Errorf("out of range delete vert err = %v", err)
	}
}

func TestVisibility(t *testing.T) {
	m := meshtest.Grid(t, 1, 1, 1)
	refs := []RefVert{
		Single(0, math.Vec3{}),
		Triple([3]uint32{1, 2, 3}, [3]float32{0.3, 0.3, 0.4}, [3]float32{}),
		Single(2, math.Vec3{}),
		Single(3, math.Vec3{}),
	}
	p, err := New("shirt", testUUID, Clothes, m, refs, []uint32{3, 1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.DeleteVerts(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("DeleteVerts = %v", got)
	}

	baseVisible := []bool{true, true, true, false}
	verts := p.VisibleVerts(baseVisible)
	want := []bool{true, false, true, false}
	for i := range want {
		if verts[i] != want[i] {
			t.Fatalf("VisibleVerts = %v, want %v", verts, want)
		}
	}
	if faces := p.FaceMask(verts); faces[0] {
		t.Errorf("face with hidden vertex is visible")
	}

	p.ApplyDeleteVerts(baseVisible)
	if baseVisible[1] || baseVisible[3] || !baseVisible[0] {
		t.Errorf("ApplyDeleteVerts = %v", baseVisible)
	}
}

func TestLoadAndWireRoundTrip(t *testing.T) {
	dir := t.TempDir()
	obj := meshtest.Grid(t, 1, 1, 1).ToOBJ()
	obj.Name = "cap"
	f, err := os.Create(filepath.Join(dir, "cap.obj"))
	if err != nil {
		t.Fatal(err)
	}
	if err := formats.WriteOBJ(f, obj); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src := "name cap\nuuid " + testUUID + "\ntype hair\nobj_file cap.obj\nz_depth 3\n" +
		"verts 0\n0\n1 0 0 .5\n2\n0 1 3 .5 .25 .25 0 0 .1\n" +
		"delete_verts\n4 - 6\n"
	path := filepath.Join(dir, "cap.mhclo")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path, Clothes)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != Hair || p.ZDepth != 3 || p.Source != path || p.NumVerts() != 4 {
		t.Fatalf("loaded %+v", p)
	}
	if p.Refs[1].Kind != RefSingle || p.Refs[1].Offset.Z != 0.5 || p.Refs[3].Kind != RefTriple {
		t.Errorf("refs = %+v", p.Refs)
	}
	if got := p.DeleteVerts(); len(got) != 3 || got[0] != 4 || got[2] != 6 {
		t.Errorf("DeleteVerts = %v", got)
	}

	def := p.ToMHCLO()
	again, err := FromMHCLO(def, obj, Clothes)
	if err != nil {
		t.Fatal(err)
	}
	for i := range p.Refs {
		if again.Refs[i] != p.Refs[i] {
			t.Errorf("ref %d = %+v, want %+v", i, again.Refs[i], p.Refs[i])
		}
	}
}

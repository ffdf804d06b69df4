package formats

import (
	"bytes"
	"errors"
	"testing"
)

const quadOBJ = `# two quads
o body
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 2 0 0
v 2 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
g helper-tongue
f 2 5 6
f -5 -2 -1
`

func TestParseOBJ(t *testing.T) {
	obj, err := ParseOBJ([]byte(quadOBJ))
	if err != nil {
		t.Fatalf("ParseOBJ: %v", err)
	}
	if obj.Name != "body" {
		t.Errorf("name = %q", obj.Name)
	}
	if len(obj.Coords) != 6 || len(obj.UVs) != 4 || len(obj.Faces) != 3 {
		t.Fatalf("counts: %d coords, %d uvs, %d faces", len(obj.Coords), len(obj.UVs), len(obj.Faces))
	}
	if len(obj.Groups) != 2 || obj.Groups[0] != "default" || obj.Groups[1] != "helper-tongue" {
		t.Errorf("groups = %v", obj.Groups)
	}
	f0 := obj.Faces[0]
	if f0.Group != 0 || len(f0.Verts) != 4 || f0.Verts[3] != 3 || f0.UVs[2] != 2 {
		t.Errorf("face 0 = %+v", f0)
	}
	f1 := obj.Faces[1]
	if f1.Group != 1 || f1.UVs[0] != -1 {
		t.Errorf("face 1 = %+v", f1)
	}
	// Relative indices: -5 of 6 coords is index 1.
	if got := obj.Faces[2].Verts; got[0] != 1 || got[2] != 5 {
		t.Errorf("relative face = %v", got)
	}
}

func TestParseOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"pentagon", "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nv 0 2 0\nf 1 2 3 4 5\n", ErrUnsupportedOBJ},
		{"out of range", "v 0 0 0\nf 1 2 3\n", ErrMalformedOBJ},
		{"bad vertex", "v 0 x 0\n", ErrMalformedOBJ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOBJ([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWriteOBJRoundTrip(t *testing.T) {
	src, err := ParseOBJ([]byte(quadOBJ))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteOBJ(&buf, src); err != nil {
		t.Fatalf("WriteOBJ: %v", err)
	}
	got, err := ParseOBJ(buf.Bytes())
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(got.Faces) != len(src.Faces) || len(got.Coords) != len(src.Coords) {
		t.Fatalf("round trip lost data: %d faces, %d coords", len(got.Faces), len(got.Coords))
	}
	for i := range src.Coords {
		if got.Coords[i] != src.Coords[i] {
			t.Errorf("coord %d = %v, want %v", i, got.Coords[i], src.Coords[i])
		}
	}
	if got.Groups[got.Faces[1].Group] != "helper-tongue" {
		t.Errorf("group lost in round trip: %v", got.Groups)
	}
}

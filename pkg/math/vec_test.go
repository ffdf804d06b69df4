package math

import (
	"testing"
)

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Vec3
		want float32
	}{
		{"unit", Vec3{1, 0, 0}, 1},
		{"scaled", Vec3{3, 4, 0}, 1},
		{"zero", Vec3{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.in.Normalize().Length()
			if abs(l-tt.want) > 1e-6 {
				t.Errorf("Normalize().Length() = %v, want %v", l, tt.want)
			}
		})
	}
}

func TestVec3MulAdd(t *testing.T) {
	v := Vec3{1, 2, 3}
	got := v.MulAdd(Vec3{1, -1, 0.5}, 2)
	want := Vec3{3, 0, 4}
	if got != want {
		t.Errorf("MulAdd() = %v, want %v", got, want)
	}
}

func TestVec3Axis(t *testing.T) {
	v := Vec3{4, 5, 6}
	for i, want := range []float32{4, 5, 6} {
		if got := v.Axis(i); got != want {
			t.Errorf("Axis(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([]Vec3{{0, 0, 0}, {2, 0, 0}, {0, 4, 0}, {2, 4, 0}})
	want := Vec3{1, 2, 0}
	if got != want {
		t.Errorf("Centroid() = %v, want %v", got, want)
	}
	if got := Centroid(nil); got != (Vec3{}) {
		t.Errorf("Centroid(nil) = %v, want zero", got)
	}
}

package formats

import (
	"errors"
	"testing"
)

const armBVH = `HIERARCHY
ROOT root
{
	OFFSET 0 0 0
	CHANNELS 6 Xposition Yposition Zposition Zrotation Xrotation Yrotation
	JOINT upperarm
	{
		OFFSET 0 1 0
		CHANNELS 3 Zrotation Xrotation Yrotation
		End Site
		{
			OFFSET 0 1 0
		}
	}
}
MOTION
Frames: 2
Frame Time: 0.033333
0 0 0 0 0 0 0 0 0
1 2 3 0 0 0 90 0 0
`

func TestParseBVH(t *testing.T) {
	b, err := ParseBVH([]byte(armBVH))
	if err != nil {
		t.Fatalf("ParseBVH: %v", err)
	}
	if len(b.Joints) != 2 {
		t.Fatalf("got %d joints, want 2", len(b.Joints))
	}
	arm := b.Joints[1]
	if arm.Name != "upperarm" || arm.Parent != 0 || arm.ChannelStart != 6 {
		t.Errorf("upperarm = %+v", arm)
	}
	if arm.EndSite == nil || arm.EndSite[1] != 1 {
		t.Errorf("end site = %v", arm.EndSite)
	}
	if b.ChannelCount() != 9 {
		t.Errorf("channel count = %d", b.ChannelCount())
	}
	if len(b.Frames) != 2 {
		t.Fatalf("got %d frames", len(b.Frames))
	}
	if v := b.Values(1, 1); v[0] != 90 {
		t.Errorf("upperarm frame 1 = %v", v)
	}
	if b.JointIndex("upperarm") != 1 || b.JointIndex("missing") != -1 {
		t.Error("JointIndex mismatch")
	}
}

func TestParseBVHErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no motion", "HIERARCHY\nROOT a\n{\n}\n"},
		{"short frame", "HIERARCHY\nROOT a\n{\nCHANNELS 3 Zrotation Xrotation Yrotation\n}\nMOTION\nFrames: 1\nFrame Time: 1\n0 0\n"},
		{"frame count", "HIERARCHY\nROOT a\n{\nCHANNELS 1 Zrotation\n}\nMOTION\nFrames: 2\nFrame Time: 1\n0\n"},
		{"unclosed", "HIERARCHY\nROOT a\n{\nOFFSET 0 0 0\nMOTION\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBVH([]byte(tt.data)); !errors.Is(err, ErrMalformedBVH) {
				t.Errorf("expected ErrMalformedBVH, got %v", err)
			}
		})
	}
}

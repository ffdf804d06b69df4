package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedBVH indicates an unparsable BVH file.
var ErrMalformedBVH = errors.New("malformed BVH")

// BVH channel names.
const (
	ChanXPosition = "Xposition"
	ChanYPosition = "Yposition"
	ChanZPosition = "Zposition"
	ChanXRotation = "Xrotation"
	ChanYRotation = "Yrotation"
	ChanZRotation = "Zrotation"
)

// BVHJoint is one joint of the HIERARCHY section. Parent is -1 for roots.
// ChannelStart is the offset of the joint's first channel in a frame row.
type BVHJoint struct {
	Name         string
	Parent       int
	Offset       [3]float32
	Channels     []string
	ChannelStart int
	EndSite      *[3]float32
}

// BVH is a parsed motion capture file.
type BVH struct {
	Joints    []BVHJoint
	FrameTime float32
	Frames    [][]float32
}

// ChannelCount returns the number of values per frame.
func (b *BVH) ChannelCount() int {
	n := 0
	for _, j := range b.Joints {
		n += len(j.Channels)
	}
	return n
}

// JointIndex returns the index of the named joint, or -1.
func (b *BVH) JointIndex(name string) int {
	for i, j := range b.Joints {
		if j.Name == name {
			return i
		}
	}
	return -1
}

// Values returns the channel values of joint j in frame f.
func (b *BVH) Values(j, f int) []float32 {
	joint := b.Joints[j]
	return b.Frames[f][joint.ChannelStart : joint.ChannelStart+len(joint.Channels)]
}

type bvhTokens struct {
	toks []string
	pos  int
}

func (t *bvhTokens) next() (string, error) {
	if t.pos >= len(t.toks) {
		return "", fmt.Errorf("%w: unexpected end of file", ErrMalformedBVH)
	}
	s := t.toks[t.pos]
	t.pos++
	return s, nil
}

func (t *bvhTokens) expect(want string) error {
	got, err := t.next()
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: expected %q, got %q", ErrMalformedBVH, want, got)
	}
	return nil
}

func (t *bvhTokens) float() (float32, error) {
	s, err := t.next()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedBVH, err)
	}
	return float32(f), nil
}

func (t *bvhTokens) vec3() ([3]float32, error) {
	var v [3]float32
	for i := range v {
		f, err := t.float()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

// ParseBVH parses the HIERARCHY and MOTION sections of a BVH file.
func ParseBVH(data []byte) (*BVH, error) {
	hierarchy, motion, ok := bytes.Cut(data, []byte("MOTION"))
	if !ok {
		return nil, fmt.Errorf("%w: missing MOTION section", ErrMalformedBVH)
	}
	b := &BVH{}
	toks := &bvhTokens{toks: strings.Fields(string(hierarchy))}
	if err := toks.expect("HIERARCHY"); err != nil {
		return nil, err
	}
	channels := 0
	for toks.pos < len(toks.toks) {
		if err := toks.expect("ROOT"); err != nil {
			return nil, err
		}
		if err := b.parseJoint(toks, -1, &channels); err != nil {
			return nil, err
		}
	}
	if len(b.Joints) == 0 {
		return nil, fmt.Errorf("%w: no joints", ErrMalformedBVH)
	}
	if err := b.parseMotion(motion, channels); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseBVHFile loads and parses a BVH file from disk.
func ParseBVHFile(path string) (*BVH, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBVH(data)
}

func (b *BVH) parseJoint(t *bvhTokens, parent int, channels *int) error {
	name, err := t.next()
	if err != nil {
		return err
	}
	idx := len(b.Joints)
	b.Joints = append(b.Joints, BVHJoint{Name: name, Parent: parent, ChannelStart: *channels})
	if err := t.expect("{"); err != nil {
		return err
	}
	for {
		tok, err := t.next()
		if err != nil {
			return err
		}
		switch strings.ToUpper(tok) {
		case "OFFSET":
			off, err := t.vec3()
			if err != nil {
				return err
			}
			b.Joints[idx].Offset = off
		case "CHANNELS":
			s, err := t.next()
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 || n > 6 {
				return fmt.Errorf("%w: joint %s: channel count %q", ErrMalformedBVH, name, s)
			}
			chans := make([]string, n)
			for i := range chans {
				if chans[i], err = t.next(); err != nil {
					return err
				}
			}
			b.Joints[idx].Channels = chans
			*channels += n
		case "JOINT":
			if err := b.parseJoint(t, idx, channels); err != nil {
				return err
			}
		case "END":
			if err := t.expect("Site"); err != nil {
				return err
			}
			if err := t.expect("{"); err != nil {
				return err
			}
			if err := t.expect("OFFSET"); err != nil {
				return err
			}
			off, err := t.vec3()
			if err != nil {
				return err
			}
			b.Joints[idx].EndSite = &off
			if err := t.expect("}"); err != nil {
				return err
			}
		case "}":
			return nil
		default:
			return fmt.Errorf("%w: joint %s: unexpected %q", ErrMalformedBVH, name, tok)
		}
	}
}

func (b *BVH) parseMotion(data []byte, channels int) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	frames := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Frames:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return fmt.Errorf("%w: frame count %q", ErrMalformedBVH, rest)
			}
			frames = n
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Frame Time:"); ok {
			ft, err := strconv.ParseFloat(strings.TrimSpace(rest), 32)
			if err != nil {
				return fmt.Errorf("%w: frame time %q", ErrMalformedBVH, rest)
			}
			b.FrameTime = float32(ft)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != channels {
			return fmt.Errorf("%w: frame %d has %d values, want %d", ErrMalformedBVH, len(b.Frames), len(fields), channels)
		}
		row, err := parseFloats(fields, channels)
		if err != nil {
			return fmt.Errorf("%w: frame %d: %v", ErrMalformedBVH, len(b.Frames), err)
		}
		b.Frames = append(b.Frames, row)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if frames >= 0 && frames != len(b.Frames) {
		return fmt.Errorf("%w: header says %d frames, found %d", ErrMalformedBVH, frames, len(b.Frames))
	}
	return nil
}

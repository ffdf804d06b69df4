package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMalformedMHP indicates an unparsable MHP pose file.
var ErrMalformedMHP = errors.New("malformed MHP")

// MHPBone is one bone line. Matrix poses hold a row-major 3x3 rotation;
// quaternion poses hold w, x, y, z in Quat.
type MHPBone struct {
	Name   string
	IsQuat bool
	Matrix [9]float32
	Quat   [4]float32
}

// MHP is a single-frame pose expressed per bone relative to rest.
type MHP struct {
	Name  string
	Bones []MHPBone
}

// ParseMHP parses "<bone> matrix m00 m01 ... m22" and "<bone> quat w x y z"
// lines. "version" and "name" lines are accepted as headers.
func ParseMHP(data []byte) (*MHP, error) {
	p := &MHP{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "version":
			continue
		case "name":
			p.Name = strings.TrimSpace(strings.TrimPrefix(line, "name"))
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedMHP, lineNo, line)
		}
		bone := MHPBone{Name: fields[0]}
		switch fields[1] {
		case "matrix", "matPose":
			vals, err := parseFloats(fields[2:], 9)
			if err != nil || len(fields) != 11 {
				return nil, fmt.Errorf("%w: line %d: matrix wants 9 values", ErrMalformedMHP, lineNo)
			}
			copy(bone.Matrix[:], vals)
		case "quat":
			vals, err := parseFloats(fields[2:], 4)
			if err != nil || len(fields) != 6 {
				return nil, fmt.Errorf("%w: line %d: quat wants 4 values", ErrMalformedMHP, lineNo)
			}
			bone.IsQuat = true
			copy(bone.Quat[:], vals)
		default:
			return nil, fmt.Errorf("%w: line %d: unknown pose kind %q", ErrMalformedMHP, lineNo, fields[1])
		}
		p.Bones = append(p.Bones, bone)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseMHPFile loads and parses an MHP file from disk.
func ParseMHPFile(path string) (*MHP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMHP(data)
}

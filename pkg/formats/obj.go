package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// OBJ format errors.
var (
	ErrMalformedOBJ   = errors.New("malformed OBJ")
	ErrUnsupportedOBJ = errors.New("unsupported OBJ face")
)

// OBJFace is a triangle or quad. Indices are zero-based; UVs holds -1 for
// corners without a texture coordinate.
type OBJFace struct {
	Verts []int
	UVs   []int
	Group int
}

// OBJ is a parsed Wavefront OBJ mesh restricted to what the core needs:
// positions, texture coordinates, faces and face groups.
type OBJ struct {
	Name   string
	Coords [][3]float32
	UVs    [][2]float32
	Faces  []OBJFace
	Groups []string
}

// ParseOBJ parses OBJ data. Faces must have three or four corners. Faces
// declared before any "g" line belong to a group named "default".
func ParseOBJ(data []byte) (*OBJ, error) {
	obj := &OBJ{}
	groupIdx := map[string]int{}
	current := -1

	useGroup := func(name string) {
		idx, ok := groupIdx[name]
		if !ok {
			idx = len(obj.Groups)
			groupIdx[name] = idx
			obj.Groups = append(obj.Groups, name)
		}
		current = idx
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "o":
			if len(fields) > 1 {
				obj.Name = strings.Join(fields[1:], " ")
			}
		case "v":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedOBJ, lineNo, err)
			}
			obj.Coords = append(obj.Coords, [3]float32{v[0], v[1], v[2]})
		case "vt":
			v, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedOBJ, lineNo, err)
			}
			obj.UVs = append(obj.UVs, [2]float32{v[0], v[1]})
		case "g":
			name := "default"
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			useGroup(name)
		case "f":
			if current < 0 {
				useGroup("default")
			}
			face, err := parseOBJFace(fields[1:], len(obj.Coords), len(obj.UVs))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			face.Group = current
			obj.Faces = append(obj.Faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return obj, nil
}

// ParseOBJFile loads and parses an OBJ file from disk.
func ParseOBJFile(path string) (*OBJ, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseOBJ(data)
}

// resolveIndex converts a one-based (or negative, relative) OBJ index.
func resolveIndex(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i = count + i
	default:
		return 0, fmt.Errorf("index 0 is invalid")
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("index %s out of range", s)
	}
	return i, nil
}

func parseOBJFace(corners []string, nCoords, nUVs int) (OBJFace, error) {
	if len(corners) != 3 && len(corners) != 4 {
		return OBJFace{}, fmt.Errorf("%w: %d corners", ErrUnsupportedOBJ, len(corners))
	}
	face := OBJFace{Verts: make([]int, len(corners)), UVs: make([]int, len(corners))}
	for i, c := range corners {
		parts := strings.Split(c, "/")
		v, err := resolveIndex(parts[0], nCoords)
		if err != nil {
			return OBJFace{}, fmt.Errorf("%w: vertex %v", ErrMalformedOBJ, err)
		}
		face.Verts[i] = v
		face.UVs[i] = -1
		if len(parts) > 1 && parts[1] != "" {
			uv, err := resolveIndex(parts[1], nUVs)
			if err != nil {
				return OBJFace{}, fmt.Errorf("%w: uv %v", ErrMalformedOBJ, err)
			}
			face.UVs[i] = uv
		}
	}
	return face, nil
}

// WriteOBJ writes obj in Wavefront form. Faces are emitted grouped in the
// order they appear, with a "g" line whenever the group changes.
func WriteOBJ(w io.Writer, obj *OBJ) error {
	bw := bufio.NewWriter(w)
	if obj.Name != "" {
		fmt.Fprintf(bw, "o %s\n", obj.Name)
	}
	for _, c := range obj.Coords {
		fmt.Fprintf(bw, "v %s %s %s\n", formatOBJFloat(c[0]), formatOBJFloat(c[1]), formatOBJFloat(c[2]))
	}
	for _, uv := range obj.UVs {
		fmt.Fprintf(bw, "vt %s %s\n", formatOBJFloat(uv[0]), formatOBJFloat(uv[1]))
	}
	group := -1
	for _, f := range obj.Faces {
		if f.Group != group && f.Group >= 0 && f.Group < len(obj.Groups) {
			group = f.Group
			fmt.Fprintf(bw, "g %s\n", obj.Groups[group])
		}
		bw.WriteString("f")
		for i, v := range f.Verts {
			if i < len(f.UVs) && f.UVs[i] >= 0 {
				fmt.Fprintf(bw, " %d/%d", v+1, f.UVs[i]+1)
			} else {
				fmt.Fprintf(bw, " %d", v+1)
			}
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// formatOBJFloat uses the shortest representation that round-trips float32.
func formatOBJFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

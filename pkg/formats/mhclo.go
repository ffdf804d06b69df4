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

// ErrMalformedMHCLO indicates an unparsable proxy definition.
var ErrMalformedMHCLO = errors.New("malformed proxy file")

// MHCLORef is one ref-vert line. Single refs use Verts[0] and Offset;
// triple refs use all three Verts, Weights and the signed normal
// distances in Dists.
type MHCLORef struct {
	Single  bool
	Verts   [3]uint32
	Weights [3]float32
	Dists   [3]float32
	Offset  [3]float32
}

// MHCLO is a parsed proxy definition (.mhclo / .proxy).
type MHCLO struct {
	Name        string
	UUID        string
	Type        string
	OBJFile     string
	Material    string
	ZDepth      int
	Tags        []string
	Refs        []MHCLORef
	DeleteVerts []uint32
}

// ParseMHCLO parses a proxy definition. Header lines are "key value"; the
// "verts" line starts the ref-vert block and "delete_verts" starts the
// deleted base vertex block, which accepts single indices and "a - b" ranges.
func ParseMHCLO(data []byte) (*MHCLO, error) {
	p := &MHCLO{}
	const (
		header = iota
		verts
		deletes
	)
	section := header

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
		case "verts":
			section = verts
			continue
		case "delete_verts":
			section = deletes
			continue
		}

		switch section {
		case verts:
			if !isNumeric(fields[0]) {
				section = header
				break
			}
			ref, err := parseMHCLORef(fields)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedMHCLO, lineNo, err)
			}
			p.Refs = append(p.Refs, ref)
			continue
		case deletes:
			if !isNumeric(fields[0]) {
				section = header
				break
			}
			idx, err := parseIndexRanges(fields)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedMHCLO, lineNo, err)
			}
			p.DeleteVerts = append(p.DeleteVerts, idx...)
			continue
		}

		value := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		switch fields[0] {
		case "name":
			p.Name = value
		case "uuid":
			p.UUID = value
		case "type":
			p.Type = value
		case "obj_file":
			p.OBJFile = value
		case "material":
			p.Material = value
		case "tag", "tags":
			p.Tags = append(p.Tags, fields[1:]...)
		case "z_depth":
			z, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: z_depth %q", ErrMalformedMHCLO, lineNo, value)
			}
			p.ZDepth = z
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseMHCLOFile loads and parses a proxy definition from disk.
func ParseMHCLOFile(path string) (*MHCLO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMHCLO(data)
}

func parseMHCLORef(fields []string) (MHCLORef, error) {
	var ref MHCLORef
	switch len(fields) {
	case 1, 4:
		ref.Single = true
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return ref, err
		}
		ref.Verts[0] = uint32(v)
		if len(fields) == 4 {
			off, err := parseFloats(fields[1:], 3)
			if err != nil {
				return ref, err
			}
			copy(ref.Offset[:], off)
		}
	case 9:
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseUint(fields[k], 10, 32)
			if err != nil {
				return ref, err
			}
			ref.Verts[k] = uint32(v)
		}
		vals, err := parseFloats(fields[3:], 6)
		if err != nil {
			return ref, err
		}
		copy(ref.Weights[:], vals[:3])
		copy(ref.Dists[:], vals[3:])
	default:
		return ref, fmt.Errorf("ref-vert wants 1, 4 or 9 fields, got %d", len(fields))
	}
	return ref, nil
}

func parseIndexRanges(fields []string) ([]uint32, error) {
	var out []uint32
	for i := 0; i < len(fields); i++ {
		a, err := strconv.ParseUint(fields[i], 10, 32)
		if err != nil {
			return nil, err
		}
		if i+2 < len(fields) && fields[i+1] == "-" {
			b, err := strconv.ParseUint(fields[i+2], 10, 32)
			if err != nil {
				return nil, err
			}
			if b < a {
				return nil, fmt.Errorf("descending range %d - %d", a, b)
			}
			for v := a; v <= b; v++ {
				out = append(out, uint32(v))
			}
			i += 2
			continue
		}
		out = append(out, uint32(a))
	}
	return out, nil
}

// WriteMHCLO writes p in the form accepted by ParseMHCLO.
func WriteMHCLO(w io.Writer, p *MHCLO) error {
	bw := bufio.NewWriter(w)
	writeKV := func(k, v string) {
		if v != "" {
			fmt.Fprintf(bw, "%s %s\n", k, v)
		}
	}
	writeKV("name", p.Name)
	writeKV("uuid", p.UUID)
	writeKV("type", p.Type)
	writeKV("obj_file", p.OBJFile)
	writeKV("material", p.Material)
	if len(p.Tags) > 0 {
		writeKV("tags", strings.Join(p.Tags, " "))
	}
	fmt.Fprintf(bw, "z_depth %d\n", p.ZDepth)

	bw.WriteString("verts 0\n")
	for _, r := range p.Refs {
		if r.Single {
			if r.Offset == [3]float32{} {
				fmt.Fprintf(bw, "%d\n", r.Verts[0])
			} else {
				fmt.Fprintf(bw, "%d %s %s %s\n", r.Verts[0],
					formatOBJFloat(r.Offset[0]), formatOBJFloat(r.Offset[1]), formatOBJFloat(r.Offset[2]))
			}
			continue
		}
		fmt.Fprintf(bw, "%d %d %d %s %s %s %s %s %s\n", r.Verts[0], r.Verts[1], r.Verts[2],
			formatOBJFloat(r.Weights[0]), formatOBJFloat(r.Weights[1]), formatOBJFloat(r.Weights[2]),
			formatOBJFloat(r.Dists[0]), formatOBJFloat(r.Dists[1]), formatOBJFloat(r.Dists[2]))
	}

	if len(p.DeleteVerts) > 0 {
		bw.WriteString("delete_verts\n")
		for _, v := range p.DeleteVerts {
			fmt.Fprintf(bw, "%d\n", v)
		}
	}
	return bw.Flush()
}

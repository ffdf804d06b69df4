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

// Target format errors.
var (
	ErrMalformedTargetLine = errors.New("malformed target line")
)

// TargetFile is the raw content of a text .target file: one row per
// displaced vertex, in file order.
type TargetFile struct {
	Indices []uint32
	Offsets [][3]float32
}

// ParseTarget parses a text target ("index x y z" per line). Blank lines and
// lines starting with '#' are ignored.
func ParseTarget(data []byte) (*TargetFile, error) {
	t := &TargetFile{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: line %d: want 4 fields, got %d", ErrMalformedTargetLine, lineNo, len(fields))
		}
		idx, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: index %q", ErrMalformedTargetLine, lineNo, fields[0])
		}
		var off [3]float32
		for i := 0; i < 3; i++ {
			f, err := strconv.ParseFloat(fields[i+1], 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: value %q", ErrMalformedTargetLine, lineNo, fields[i+1])
			}
			off[i] = float32(f)
		}
		t.Indices = append(t.Indices, uint32(idx))
		t.Offsets = append(t.Offsets, off)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseTargetFile loads and parses a text target from disk.
func ParseTargetFile(path string) (*TargetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTarget(data)
}

// WriteTarget writes t in the text target form.
func WriteTarget(w io.Writer, t *TargetFile) error {
	if len(t.Indices) != len(t.Offsets) {
		return fmt.Errorf("target has %d indices and %d offsets", len(t.Indices), len(t.Offsets))
	}
	bw := bufio.NewWriter(w)
	for i, idx := range t.Indices {
		o := t.Offsets[i]
		fmt.Fprintf(bw, "%d %s %s %s\n", idx,
			FormatTargetFloat(o[0]), FormatTargetFloat(o[1]), FormatTargetFloat(o[2]))
	}
	return bw.Flush()
}

// FormatTargetFloat renders f with at most three fractional digits in the
// compact authored style: trailing zeros and the leading zero of the integer
// part are dropped, so 0.500 becomes ".5" and -0.250 becomes "-.25".
func FormatTargetFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', 3, 32)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	switch {
	case s == "" || s == "-" || s == "-0":
		return "0"
	case strings.HasPrefix(s, "0."):
		return s[1:]
	case strings.HasPrefix(s, "-0."):
		return "-" + s[2:]
	}
	return s
}

package formats

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Faultbox/mhcore/pkg/encoding"
)

// MHMLine is one directive of an MHM save file.
type MHMLine struct {
	Key  string
	Args []string
	Line int
}

// Arg returns argument i, or "" when absent.
func (l MHMLine) Arg(i int) string {
	if i < len(l.Args) {
		return l.Args[i]
	}
	return ""
}

// ParseMHM splits an MHM file into directives. Blank lines and '#'
// comments are dropped; legacy Latin-1 files are decoded to UTF-8.
func ParseMHM(data []byte) ([]MHMLine, error) {
	text := encoding.DecodeText(data)
	var out []MHMLine
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		out = append(out, MHMLine{Key: fields[0], Args: fields[1:], Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseMHMFile loads and parses an MHM file from disk.
func ParseMHMFile(path string) ([]MHMLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMHM(data)
}

// WriteMHM writes directives one per line.
func WriteMHM(w io.Writer, lines []MHMLine) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.Key)
		for _, a := range l.Args {
			buf.WriteByte(' ')
			buf.WriteString(a)
		}
		buf.WriteByte('\n')
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write mhm: %w", err)
	}
	return nil
}

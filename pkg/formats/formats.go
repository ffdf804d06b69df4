// Package formats provides parsers and writers for the asset files consumed
// by the mesh evaluation core.
//
//   - OBJ: base and proxy meshes (obj.go)
//   - .target: sparse vertex offsets (target.go)
//   - .mhclo / .proxy: proxy definitions (mhclo.go)
//   - .mhskel and weights: skeleton definitions and skinning weights (mhskel.go)
//   - .bvh / .mhp: motion capture clips and single-frame poses (bvh.go, mhp.go)
//   - .mhm: saved character state (mhm.go)
package formats

import (
	"fmt"
	"strconv"
)

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

package formats

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Skeleton definition errors.
var (
	ErrMalformedSkeleton = errors.New("malformed skeleton definition")
	ErrMalformedWeights  = errors.New("malformed weights file")
)

// SkelBone is one bone of a skeleton definition. Head and Tail name joint
// vertex groups; Parent is "" for the root.
type SkelBone struct {
	Name      string   `yaml:"-"`
	Head      string   `yaml:"head"`
	Tail      string   `yaml:"tail"`
	Parent    string   `yaml:"parent"`
	Roll      float32  `yaml:"roll"`
	Reference []string `yaml:"reference"`
}

// SkelFile is a parsed .mhskel definition. Bones keep file order.
type SkelFile struct {
	Name    string
	Version int
	Bones   []SkelBone
	Joints  map[string][]uint32
}

type skelHeader struct {
	Name    string              `yaml:"name"`
	Version int                 `yaml:"version"`
	Joints  map[string][]uint32 `yaml:"joints"`
}

// ParseSkeleton parses a skeleton definition. The wire form is JSON, which
// yaml.v3 reads directly; decoding through a yaml.Node keeps bone order.
func ParseSkeleton(data []byte) (*SkelFile, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSkeleton, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedSkeleton)
	}
	doc := root.Content[0]

	var hdr skelHeader
	if err := doc.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSkeleton, err)
	}
	s := &SkelFile{Name: hdr.Name, Version: hdr.Version, Joints: hdr.Joints}
	if s.Joints == nil {
		s.Joints = map[string][]uint32{}
	}

	bones := mappingValue(doc, "bones")
	if bones == nil || bones.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: missing bones", ErrMalformedSkeleton)
	}
	seen := map[string]bool{}
	for i := 0; i+1 < len(bones.Content); i += 2 {
		var b SkelBone
		if err := bones.Content[i+1].Decode(&b); err != nil {
			return nil, fmt.Errorf("%w: bone %s: %v", ErrMalformedSkeleton, bones.Content[i].Value, err)
		}
		b.Name = bones.Content[i].Value
		if seen[b.Name] {
			return nil, fmt.Errorf("%w: duplicate bone %s", ErrMalformedSkeleton, b.Name)
		}
		seen[b.Name] = true
		s.Bones = append(s.Bones, b)
	}
	for _, b := range s.Bones {
		if b.Parent != "" && !seen[b.Parent] {
			return nil, fmt.Errorf("%w: bone %s has unknown parent %s", ErrMalformedSkeleton, b.Name, b.Parent)
		}
	}
	return s, nil
}

// ParseSkeletonFile loads and parses a skeleton definition from disk.
func ParseSkeletonFile(path string) (*SkelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSkeleton(data)
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// BoneWeights is the vertex list and matching weights of one bone.
type BoneWeights struct {
	Verts   []uint32
	Weights []float32
}

// WeightsFile is a parsed vertex-bone weights file.
type WeightsFile struct {
	Name    string
	Weights map[string]BoneWeights
}

// Bones returns the weighted bone names sorted.
func (w *WeightsFile) Bones() []string {
	names := make([]string, 0, len(w.Weights))
	for n := range w.Weights {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type weightsWire struct {
	Name    string                  `json:"name"`
	Weights map[string][][2]float64 `json:"weights"`
}

// ParseWeights parses {"weights": {"bone": [[vertex, weight], ...]}}.
func ParseWeights(data []byte) (*WeightsFile, error) {
	var wire weightsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWeights, err)
	}
	out := &WeightsFile{Name: wire.Name, Weights: make(map[string]BoneWeights, len(wire.Weights))}
	for bone, pairs := range wire.Weights {
		bw := BoneWeights{Verts: make([]uint32, len(pairs)), Weights: make([]float32, len(pairs))}
		for i, p := range pairs {
			if p[0] < 0 || p[0] != math.Trunc(p[0]) || p[0] > math.MaxUint32 {
				return nil, fmt.Errorf("%w: bone %s: vertex %v", ErrMalformedWeights, bone, p[0])
			}
			bw.Verts[i] = uint32(p[0])
			bw.Weights[i] = float32(p[1])
		}
		out.Weights[bone] = bw
	}
	return out, nil
}

// ParseWeightsFile loads and parses a weights file from disk.
func ParseWeightsFile(path string) (*WeightsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWeights(data)
}

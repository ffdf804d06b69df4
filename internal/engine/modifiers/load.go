package modifiers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the modifier definition file. JSON and YAML forms decode alike.
type File struct {
	Variables []VariableDef `yaml:"variables"`
	Groups    []GroupDef    `yaml:"groups"`
}

// VariableDef declares a macro variable.
type VariableDef struct {
	Name       string     `yaml:"name"`
	Default    *float32   `yaml:"default"`
	Categories []Category `yaml:"categories"`
	Members    []string   `yaml:"members"`
}

// GroupDef declares the modifiers of one group.
type GroupDef struct {
	Group     string        `yaml:"group"`
	Modifiers []ModifierDef `yaml:"modifiers"`
}

// ModifierDef declares one modifier. A macrovar entry is a macro modifier;
// type "warp" is a warp modifier; anything else is universal. Target is a
// path stem relative to the group directory, or to the targets root when it
// contains a slash. Min and Max name the negative and positive side suffixes.
type ModifierDef struct {
	Type      string             `yaml:"type"`
	Macrovar  string             `yaml:"macrovar"`
	Variable  string             `yaml:"variable"`
	Target    string             `yaml:"target"`
	Min       string             `yaml:"min"`
	Max       string             `yaml:"max"`
	Default   *float32           `yaml:"default"`
	Clamp     []float32          `yaml:"clamp"`
	Bodypart  string             `yaml:"bodypart"`
	Keypoints []uint32           `yaml:"keypoints"`
	Reference map[string]float32 `yaml:"reference"`
}

// Load decodes a definition file and builds the graph.
func Load(data []byte) (*Graph, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return f.Build()
}

// LoadFile reads and decodes a definition file from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

func targetPath(group, stem, suffix string) string {
	if stem == "" {
		return ""
	}
	p := stem
	if !strings.Contains(stem, "/") {
		p = group + "/" + stem
	}
	if suffix != "" {
		p += "-" + suffix
	}
	return p + ".target"
}

// Build converts the declarations into a graph.
func (f *File) Build() (*Graph, error) {
	vars := make([]*Variable, 0, len(f.Variables))
	defaults := map[string]float32{}
	for _, vd := range f.Variables {
		v := &Variable{Name: vd.Name, Categories: vd.Categories, Members: vd.Members, Default: 0.5}
		if vd.Default != nil {
			v.Default = *vd.Default
		}
		vars = append(vars, v)
		if v.IsSet() {
			for _, m := range v.Members {
				defaults[m] = 1 / float32(len(v.Members))
			}
		} else {
			defaults[v.Name] = v.Default
		}
	}

	var mods []Modifier
	for _, gd := range f.Groups {
		if gd.Group == "" {
			return nil, fmt.Errorf("%w: group without name", ErrInvalidDefinition)
		}
		for _, md := range gd.Modifiers {
			m, err := md.build(gd.Group, defaults)
			if err != nil {
				return nil, err
			}
			mods = append(mods, m)
		}
	}
	return NewGraph(vars, mods)
}

func (md *ModifierDef) build(group string, defaults map[string]float32) (Modifier, error) {
	common := Common{Group: group}
	applyClamp := func(lo, hi float32) error {
		common.Min, common.Max = lo, hi
		if len(md.Clamp) == 2 {
			common.Min, common.Max = md.Clamp[0], md.Clamp[1]
		} else if len(md.Clamp) != 0 {
			return fmt.Errorf("%w: %s: clamp wants two values", ErrInvalidDefinition, group)
		}
		if md.Default != nil {
			common.Default = *md.Default
		}
		return nil
	}

	if md.Macrovar != "" {
		variable := md.Variable
		if variable == "" {
			variable = strings.ToLower(md.Macrovar)
		}
		common.Name = md.Macrovar
		common.Default = defaults[variable]
		if err := applyClamp(0, 1); err != nil {
			return nil, err
		}
		if md.Target == "" {
			return nil, fmt.Errorf("%w: %s: macro without target", ErrInvalidDefinition, common.FullName())
		}
		return &Macro{Common: common, Variable: variable, Pattern: targetPath(group, md.Target, "")}, nil
	}

	if md.Target == "" {
		return nil, fmt.Errorf("%w: %s: modifier without target", ErrInvalidDefinition, group)
	}
	var negative, positive string
	if md.Min != "" && md.Max != "" {
		common.Name = md.Target + "-" + md.Min + "|" + md.Max
		negative = targetPath(group, md.Target, md.Min)
		positive = targetPath(group, md.Target, md.Max)
		if err := applyClamp(-1, 1); err != nil {
			return nil, err
		}
	} else {
		common.Name = md.Target
		if md.Max != "" {
			common.Name += "-" + md.Max
		}
		positive = targetPath(group, md.Target, md.Max)
		if err := applyClamp(0, 1); err != nil {
			return nil, err
		}
	}
	// Names keep the stem only, not a directory prefix.
	if i := strings.LastIndexByte(common.Name, '/'); i >= 0 {
		common.Name = common.Name[i+1:]
	}

	switch md.Type {
	case "", "universal":
		return &Universal{Common: common, Negative: negative, Positive: positive}, nil
	case "warp":
		if len(md.Keypoints) != 6 {
			return nil, fmt.Errorf("%w: %s: warp wants 6 keypoints, got %d", ErrInvalidDefinition, common.FullName(), len(md.Keypoints))
		}
		w := &Warp{
			Common:    common,
			Negative:  negative,
			Positive:  positive,
			Bodypart:  md.Bodypart,
			Reference: md.Reference,
		}
		copy(w.Keypoints[:], md.Keypoints)
		if w.Reference == nil {
			w.Reference = map[string]float32{}
		}
		return w, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidDefinition, common.FullName(), md.Type)
	}
}

package human

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/internal/engine/skinning"
	"github.com/Faultbox/mhcore/pkg/formats"
)

// StateVersion is the version written to saved state. Files of any other
// major version are rejected.
const StateVersion = "v1.1.1"

// ErrUnknownDirective is reported for unrecognised state lines in strict
// mode.
var ErrUnknownDirective = errors.New("unknown state directive")

// Assets resolves the external references of saved state.
type Assets interface {
	// Proxy loads the proxy of slot t with the given name and uuid.
	Proxy(t proxy.Type, name, uuid string) (*proxy.Proxy, error)
	// Skeleton loads a skeleton and its weights for a base of numVerts
	// vertices.
	Skeleton(ref string, numVerts int) (*skeleton.Skeleton, *skinning.Weights, error)
	// Pose loads an animation and resolves it against s.
	Pose(ref string, s *skeleton.Skeleton) (*skeleton.Animation, error)
	// Ref returns the reference saved for an asset source path.
	Ref(path string) string
}

// Lines that are understood and ignored.
var ignoredDirectives = map[string]bool{
	"camera":       true,
	"subdivide":    true,
	"skinMaterial": true,
	"expression":   true,
	"lastmodified": true,
	"uuid":         true,
}

func slotKey(t proxy.Type) string {
	if t == proxy.Proxymeshes {
		return "proxy"
	}
	return t.String()
}

func formatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// SaveState writes the character as directive lines: the name and tags,
// every active modifier value, the skeleton and pose references and the
// bound proxies in bind order. assets maps source paths to saved
// references; with nil assets the source paths are written as is.
func (e *Engine) SaveState(w io.Writer, assets Assets) error {
	ref := func(path string) string {
		if assets == nil {
			return path
		}
		return assets.Ref(path)
	}
	lines := []formats.MHMLine{{Key: "version", Args: []string{StateVersion}}}
	if e.Name != "" {
		lines = append(lines, formats.MHMLine{Key: "name", Args: strings.Fields(e.Name)})
	}
	if len(e.Tags) > 0 {
		lines = append(lines, formats.MHMLine{Key: "tags", Args: e.Tags})
	}
	for _, name := range e.graph.ActiveModifiers() {
		v, err := e.graph.Value(name)
		if err != nil {
			return err
		}
		lines = append(lines, formats.MHMLine{Key: "modifier", Args: []string{name, formatValue(v)}})
	}
	if e.skel != nil && e.skel.Source != "" {
		lines = append(lines, formats.MHMLine{Key: "skeleton", Args: []string{ref(e.skel.Source)}})
		if e.anim != nil && e.anim.Source != "" {
			lines = append(lines, formats.MHMLine{Key: "pose", Args: []string{ref(e.anim.Source), strconv.Itoa(e.frame)}})
		}
	}
	for _, p := range e.Proxies() {
		lines = append(lines, formats.MHMLine{Key: slotKey(p.Type), Args: []string{p.Name, p.UUID}})
	}
	for _, p := range e.Proxies() {
		if p.Material != "" {
			lines = append(lines, formats.MHMLine{Key: "material", Args: []string{p.Name, p.UUID, ref(p.Material)}})
		}
	}
	hide := "False"
	if e.hideFaces {
		hide = "True"
	}
	lines = append(lines, formats.MHMLine{Key: "clothesHideFaces", Args: []string{hide}})
	return formats.WriteMHM(w, lines)
}

type savedValue struct {
	name  string
	value float32
}

// loadedState is saved state with every reference resolved.
type loadedState struct {
	name    string
	tags    []string
	values  []savedValue
	skel    *skeleton.Skeleton
	weights *skinning.Weights
	anim    *skeleton.Animation
	frame   int
	proxies []*proxy.Proxy
	hide    bool
}

// stateDecoder accumulates problems: combined errors in strict mode,
// warnings otherwise.
type stateDecoder struct {
	log    *zap.Logger
	strict bool
	errs   error
}

func (d *stateDecoder) problem(line formats.MHMLine, err error) {
	if d.strict {
		d.errs = multierr.Append(d.errs, fmt.Errorf("line %d: %w", line.Line, err))
		return
	}
	d.log.Warn("skipping state line", zap.Int("line", line.Line), zap.String("key", line.Key), zap.Error(err))
}

func checkVersion(v string) error {
	major, _, _ := strings.Cut(strings.TrimPrefix(v, "v"), ".")
	if major != "1" {
		return fmt.Errorf("%w: %q", ErrStateVersion, v)
	}
	return nil
}

// LoadState replaces the character with saved state. Every reference is
// resolved before anything changes, so a failed load leaves the engine
// untouched. In strict mode unknown directives, unknown modifiers and
// unresolvable assets fail the load with every problem combined; otherwise
// they are logged and skipped. A version of another major always fails.
func (e *Engine) LoadState(r io.Reader, assets Assets, strict bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	lines, err := formats.ParseMHM(data)
	if err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	st, err := e.decodeState(lines, assets, strict)
	if err != nil {
		return err
	}
	return e.applyState(st)
}

func (e *Engine) decodeState(lines []formats.MHMLine, assets Assets, strict bool) (*loadedState, error) {
	d := &stateDecoder{log: e.log, strict: strict}
	st := &loadedState{hide: e.hideFacesDefault}
	var (
		skelLine, poseLine *formats.MHMLine
		materials          []formats.MHMLine
		versioned          bool
	)
	uuids := make(map[string]bool)
	n := e.base.NumVerts()

	for i := range lines {
		line := lines[i]
		switch line.Key {
		case "version":
			if err := checkVersion(line.Arg(0)); err != nil {
				return nil, err
			}
			versioned = true
		case "name":
			st.name = strings.Join(line.Args, " ")
		case "tags":
			st.tags = append([]string(nil), line.Args...)
		case "modifier":
			if _, err := e.graph.Modifier(line.Arg(0)); err != nil {
				d.problem(line, err)
				continue
			}
			v, err := strconv.ParseFloat(line.Arg(1), 32)
			if err != nil {
				d.problem(line, fmt.Errorf("modifier %s: %w", line.Arg(0), err))
				continue
			}
			st.values = append(st.values, savedValue{line.Arg(0), float32(v)})
		case "skeleton":
			skelLine = &lines[i]
		case "pose":
			poseLine = &lines[i]
		case "material":
			materials = append(materials, line)
		case "clothesHideFaces":
			st.hide = strings.EqualFold(line.Arg(0), "true")
		default:
			if t, err := proxy.ParseType(line.Key); err == nil {
				if len(line.Args) < 2 {
					d.problem(line, fmt.Errorf("%s wants a name and a uuid", line.Key))
					continue
				}
				p, err := e.resolveProxy(assets, t, line.Arg(0), line.Args[len(line.Args)-1])
				if err == nil && uuids[p.UUID] {
					err = fmt.Errorf("%w: %s", ErrUUIDCollision, p.UUID)
				}
				if err != nil {
					d.problem(line, err)
					continue
				}
				uuids[p.UUID] = true
				st.proxies = append(st.proxies, p)
				continue
			}
			// Older files store macro variables directly.
			if mac, ok := e.graph.ModifierForVariable(line.Key); ok {
				v, err := strconv.ParseFloat(line.Arg(0), 32)
				if err != nil {
					d.problem(line, fmt.Errorf("%s: %w", line.Key, err))
					continue
				}
				st.values = append(st.values, savedValue{mac.FullName(), float32(v)})
				continue
			}
			if !ignoredDirectives[line.Key] {
				d.problem(line, fmt.Errorf("%w: %s", ErrUnknownDirective, line.Key))
			}
		}
	}
	if !versioned && strict {
		return nil, fmt.Errorf("%w: missing version", ErrStateVersion)
	}

	if skelLine != nil {
		if assets == nil {
			d.problem(*skelLine, errors.New("no asset resolver"))
		} else if s, w, err := assets.Skeleton(skelLine.Arg(0), n); err != nil {
			d.problem(*skelLine, err)
		} else if err := s.Validate(n); err != nil {
			d.problem(*skelLine, err)
		} else {
			st.skel, st.weights = s, w
		}
	}
	if poseLine != nil {
		switch {
		case st.skel == nil:
			d.problem(*poseLine, ErrNoSkeleton)
		default:
			a, err := assets.Pose(poseLine.Arg(0), st.skel)
			if err == nil && len(poseLine.Args) > 1 {
				st.frame, err = strconv.Atoi(poseLine.Arg(1))
			}
			if err == nil && (st.frame < 0 || st.frame >= a.NumFrames()) {
				err = fmt.Errorf("%w: frame %d of %d", skeleton.ErrFrameRange, st.frame, a.NumFrames())
			}
			if err != nil {
				d.problem(*poseLine, err)
				st.frame = 0
			} else {
				st.anim = a
			}
		}
	}
	for _, line := range materials {
		found := false
		for _, p := range st.proxies {
			if p.UUID == line.Arg(1) {
				p.Material = line.Arg(2)
				found = true
			}
		}
		if !found {
			d.problem(line, fmt.Errorf("%w: material for %s", ErrNotBound, line.Arg(1)))
		}
	}
	if d.errs != nil {
		return nil, d.errs
	}
	return st, nil
}

func (e *Engine) resolveProxy(assets Assets, t proxy.Type, name, id string) (*proxy.Proxy, error) {
	if assets == nil {
		return nil, errors.New("no asset resolver")
	}
	p, err := assets.Proxy(t, name, id)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(e.base.NumVerts()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	return p, nil
}

func (e *Engine) applyState(st *loadedState) error {
	e.ResetAll()
	e.Name, e.Tags = st.name, st.tags

	names := make([]string, 0, len(st.values))
	for _, v := range st.values {
		if err := e.graph.SetRaw(v.name, v.value); err != nil {
			return err
		}
		names = append(names, v.name)
	}
	writes, err := e.graph.Expand(names)
	if err != nil {
		return err
	}
	e.stack.Apply(writes)

	if err := e.SetSkeleton(st.skel, st.weights); err != nil {
		return err
	}
	for _, p := range st.proxies {
		if _, err := e.BindProxy(p); err != nil {
			return err
		}
	}
	if st.anim != nil {
		if err := e.SetPose(st.anim, st.frame); err != nil {
			return err
		}
	}
	e.SetFaceHiding(st.hide)
	e.invalidateAll()
	e.log.Debug("loaded state", zap.String("name", st.name), zap.Int("modifiers", len(names)), zap.Int("proxies", len(st.proxies)))
	return nil
}

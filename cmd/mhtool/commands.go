package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/internal/config"
	"github.com/Faultbox/mhcore/internal/engine/modifiers"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/human"
	"github.com/Faultbox/mhcore/internal/logger"
	"github.com/Faultbox/mhcore/pkg/export"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseAssignment splits "group/name=value" at the last '='.
func parseAssignment(s string) (string, float32, error) {
	i := strings.LastIndexByte(s, '=')
	if i <= 0 {
		return "", 0, fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 32)
	if err != nil {
		return "", 0, fmt.Errorf("%s: bad value: %w", s[:i], err)
	}
	return strings.TrimSpace(s[:i]), float32(v), nil
}

// parseProxySpec splits "type:name".
func parseProxySpec(s string) (proxy.Type, string, error) {
	slot, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("expected type:name, got %q", s)
	}
	t, err := proxy.ParseType(slot)
	if err != nil {
		return 0, "", err
	}
	return t, name, nil
}

func modifierKind(m modifiers.Modifier) string {
	switch m.(type) {
	case *modifiers.Macro:
		return "macro"
	case *modifiers.Warp:
		return "warp"
	default:
		return "universal"
	}
}

func cmdInfo(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintf(stdout, "Data:      %s\n", cfg.Data.Root)
	fmt.Fprintf(stdout, "Base mesh: %d vertices, %d faces, %d groups\n",
		s.base.NumVerts(), s.base.NumFaces(), len(s.base.Groups()))

	kinds := make(map[string]int)
	for _, m := range s.graph.Modifiers() {
		kinds[modifierKind(m)]++
	}
	fmt.Fprintf(stdout, "Modifiers: %d (%d macro, %d universal, %d warp)\n",
		len(s.graph.Modifiers()), kinds["macro"], kinds["universal"], kinds["warp"])
	fmt.Fprintf(stdout, "Variables: %s\n", strings.Join(s.graph.Variables(), ", "))

	entries, err := s.assets.Index()
	if err != nil {
		return err
	}
	perType := make(map[string]int)
	for _, e := range entries {
		perType[e.Type]++
	}
	fmt.Fprintf(stdout, "Proxies:   %d\n", len(entries))
	types := make([]string, 0, len(perType))
	for t := range perType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		name := t
		if name == "" {
			name = "(untyped)"
		}
		fmt.Fprintf(stdout, "  %-12s %d\n", name, perType[t])
	}

	if cfg.Data.Skeleton != "" {
		skel, _, err := s.assets.Skeleton(cfg.Data.Skeleton, s.base.NumVerts())
		if err != nil {
			fmt.Fprintf(stdout, "Skeleton:  unavailable (%v)\n", err)
		} else {
			fmt.Fprintf(stdout, "Skeleton:  %s, %d bones\n", skel.Name, skel.Len())
		}
	}
	return nil
}

func cmdModifiers(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("modifiers", flag.ExitOnError)
	group := fs.String("group", "", "Only list this group")
	fs.Parse(args)

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tMIN\tMAX\tDEFAULT\tDEPENDS ON")
	for _, m := range s.graph.Modifiers() {
		c := m.Base()
		if *group != "" && c.Group != *group {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\t%s\n",
			c.FullName(), modifierKind(m), c.Min, c.Max, c.Default, strings.Join(c.Deps, ","))
	}
	return tw.Flush()
}

// walkTargets returns the .target files below root relative to it, sorted.
func walkTargets(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".target") {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

func matchTarget(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	lower := strings.ToLower(path)
	if ok, _ := filepath.Match(pattern, lower); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(lower)); ok {
		return true
	}
	return strings.Contains(lower, pattern)
}

func cmdTargets(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("targets", flag.ExitOnError)
	compile := fs.Bool("compile", false, "Load every match and write its binary cache")
	limit := fs.Int("n", 0, "Limit output to N targets (0 = all)")
	fs.Parse(args)

	pattern := strings.ToLower(fs.Arg(0))
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	store := s.store
	if *compile {
		store = newStore(cfg, s.base.NumVerts(), true)
	}
	all, err := walkTargets(store.Root())
	if err != nil {
		return err
	}
	var matched []string
	for _, p := range all {
		if matchTarget(pattern, p) {
			matched = append(matched, p)
		}
	}

	if *compile {
		err := store.Preload(s.pool, matched)
		fmt.Fprintf(stdout, "compiled %d of %d targets\n", store.Len(), len(matched))
		return err
	}
	for i, p := range matched {
		if *limit > 0 && i >= *limit {
			break
		}
		fmt.Fprintln(stdout, p)
	}
	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d targets matched)\n", len(matched))
	}
	return nil
}

func cmdConfig(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	out := fs.String("o", "", "Write to this path instead of the user config dir")
	fs.Parse(args)

	if *out != "" {
		if err := cfg.SaveTo(*out); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", *out)
		return nil
	}
	path, err := cfg.Save()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

type evalOptions struct {
	load     string
	sets     listFlag
	symmetry string
	proxies  listFlag
	skeleton string
	pose     string
	frame    int
	export   human.ExportOptions
	out      string
	save     string
}

func cmdEval(cfg *config.Config, args []string) error {
	var o evalOptions
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	fs.StringVar(&o.load, "load", "", "Saved state to start from")
	fs.Var(&o.sets, "set", "Modifier assignment name=value (repeatable)")
	fs.StringVar(&o.symmetry, "symmetry", "", "Copy left or right side values to the other side")
	fs.Var(&o.proxies, "proxy", "Proxy to bind as type:name (repeatable)")
	fs.StringVar(&o.skeleton, "skeleton", "", "Skeleton reference, or default")
	fs.StringVar(&o.pose, "pose", "", "Pose reference")
	fs.IntVar(&o.frame, "frame", 0, "Pose frame")
	fs.BoolVar(&o.export.Posed, "posed", false, "Export posed coordinates")
	fs.BoolVar(&o.export.HideMasked, "hide", false, "Drop faces hidden by clothes")
	fs.Func("scale", "Export scale factor", func(v string) error {
		f, err := strconv.ParseFloat(v, 32)
		o.export.Scale = float32(f)
		return err
	})
	fs.StringVar(&o.out, "o", "", "Export path (.obj or .glb)")
	fs.StringVar(&o.save, "save", "", "Write the resulting state")
	fs.Parse(args)

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()
	return evaluate(s, &o)
}

func evaluate(s *session, o *evalOptions) error {
	e, err := s.engine()
	if err != nil {
		return err
	}

	if o.load != "" {
		f, err := os.Open(o.load)
		if err != nil {
			return err
		}
		err = e.LoadState(f, s.assets, s.cfg.Engine.StrictLoad)
		f.Close()
		if err != nil {
			return fmt.Errorf("loading %s: %w", o.load, err)
		}
	}
	for _, a := range o.sets {
		name, v, err := parseAssignment(a)
		if err != nil {
			return err
		}
		if err := e.SetModifierValue(name, v); err != nil {
			return err
		}
	}
	switch o.symmetry {
	case "":
	case "left", "right":
		if err := e.ApplySymmetry(o.symmetry == "left"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("symmetry: expected left or right, got %q", o.symmetry)
	}
	for _, spec := range o.proxies {
		t, name, err := parseProxySpec(spec)
		if err != nil {
			return err
		}
		p, err := s.assets.Proxy(t, name, "")
		if err != nil {
			return err
		}
		if _, err := e.BindProxy(p); err != nil {
			return err
		}
	}
	if o.skeleton != "" {
		skel, w, err := s.assets.Skeleton(s.skeletonRef(o.skeleton), e.Base().NumVerts())
		if err != nil {
			return err
		}
		if err := e.SetSkeleton(skel, w); err != nil {
			return err
		}
	}
	if o.pose != "" {
		if e.Skeleton() == nil {
			return fmt.Errorf("pose %s: %w", o.pose, human.ErrNoSkeleton)
		}
		anim, err := s.assets.Pose(o.pose, e.Skeleton())
		if err != nil {
			return err
		}
		if err := e.SetPose(anim, o.frame); err != nil {
			return err
		}
	}

	if err := e.Evaluate(); err != nil {
		return err
	}
	d := e.Diagnostics()
	logger.Log.Info("evaluated",
		zap.Int("active", len(e.Graph().ActiveModifiers())),
		zap.Int("targets", len(e.Stack().Canonical())),
		zap.Int("proxies", len(e.Proxies())),
		zap.Int("missing", len(d.MissingTargets)))
	fmt.Fprintf(stdout, "active modifiers: %d, targets: %d, proxies: %d, missing targets: %d\n",
		len(e.Graph().ActiveModifiers()), len(e.Stack().Canonical()), len(e.Proxies()), len(d.MissingTargets))

	if o.out != "" {
		if err := exportCharacter(e, o.out, o.export); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported %s\n", o.out)
	}
	if o.save != "" {
		if err := writeFile(o.save, func(w io.Writer) error { return e.SaveState(w, s.assets) }); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved %s\n", o.save)
	}
	return nil
}

// exportCharacter writes a .glb holding every surface, or one .obj for the
// base plus "<stem>.<proxy>.obj" per bound proxy.
func exportCharacter(e *human.Engine, path string, opts human.ExportOptions) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".glb":
		surfaces, err := e.Surfaces(opts)
		if err != nil {
			return err
		}
		return export.SaveGLB(path, surfaces...)
	case ".obj":
		obj, err := e.MeshOBJ("", opts)
		if err != nil {
			return err
		}
		if err := export.SaveOBJ(path, obj); err != nil {
			return err
		}
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		for _, p := range e.Proxies() {
			obj, err := e.MeshOBJ(p.UUID, opts)
			if err != nil {
				return err
			}
			if err := export.SaveOBJ(stem+"."+p.Name+".obj", obj); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New("export path must end in .obj or .glb")
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

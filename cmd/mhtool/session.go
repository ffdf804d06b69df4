package main

import (
	"fmt"

	"github.com/Faultbox/mhcore/internal/assets"
	"github.com/Faultbox/mhcore/internal/config"
	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/internal/engine/modifiers"
	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/internal/engine/targets"
	"github.com/Faultbox/mhcore/internal/human"
	"github.com/Faultbox/mhcore/internal/logger"
	"github.com/Faultbox/mhcore/pkg/formats"
)

// session holds the data shared by every command.
type session struct {
	cfg    *config.Config
	pool   parallel.Pool
	base   *mesh.Mesh
	graph  *modifiers.Graph
	store  *targets.Store
	assets *assets.Manager
}

func openSession(cfg *config.Config) (*session, error) {
	data := cfg.Data
	obj, err := formats.ParseOBJFile(data.Path(data.BaseMesh))
	if err != nil {
		return nil, fmt.Errorf("base mesh: %w", err)
	}
	base, err := mesh.FromOBJ(obj)
	if err != nil {
		return nil, fmt.Errorf("base mesh: %w", err)
	}
	graph, err := modifiers.LoadFile(data.Path(data.Modifiers))
	if err != nil {
		return nil, fmt.Errorf("modifiers: %w", err)
	}

	pool := parallel.NewPool(cfg.Engine.Workers, cfg.Engine.Grain)
	base.SetPool(pool)
	return &session{
		cfg:   cfg,
		pool:  pool,
		base:  base,
		graph: graph,
		store: newStore(cfg, base.NumVerts(), cfg.Engine.CompileTargets),
		assets: assets.NewManager(assets.Options{
			Root:      data.Root,
			ProxyDirs: data.ProxyDirs,
			PoseDirs:  data.PoseDirs,
			Weights:   data.Weights,
			Import: skeleton.ImportOptions{
				Strict:    cfg.Engine.StrictLoad,
				ZUp:       cfg.Engine.BVHZUp,
				BoneMap:   cfg.Engine.BoneMap,
				ScaleBone: cfg.Engine.BVHScaleBone,
			},
			Logger: logger.Named("assets"),
		}),
	}, nil
}

func newStore(cfg *config.Config, numVerts int, compile bool) *targets.Store {
	opts := []targets.Option{
		targets.WithLogger(logger.Named("targets")),
		targets.WithCompile(compile),
	}
	if cfg.Data.CacheDir != "" {
		opts = append(opts, targets.WithCacheDir(cfg.Data.Path(cfg.Data.CacheDir)))
	}
	return targets.NewStore(cfg.Data.Path(cfg.Data.Targets), numVerts, opts...)
}

func (s *session) engine() (*human.Engine, error) {
	return human.New(s.base, s.graph, s.store,
		human.WithLogger(logger.Named("human")),
		human.WithPool(s.pool),
		human.WithFaceHiding(s.cfg.Engine.HideFaces),
		human.WithIncremental(s.cfg.Engine.Incremental),
	)
}

// skeletonRef maps "default" to the configured skeleton.
func (s *session) skeletonRef(ref string) string {
	if ref == "default" {
		return s.cfg.Data.Skeleton
	}
	return ref
}

func (s *session) close() {
	s.assets.Close()
}

package targets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/pkg/encoding"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Store caches targets by canonical path. A loaded target is immutable and
// published atomically; concurrent loads of the same path are collapsed.
type Store struct {
	root     string
	cacheDir string
	numVerts int
	compile  bool
	log      *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Target
	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithCompile enables writing compiled .npz caches after text loads.
func WithCompile(enabled bool) Option {
	return func(s *Store) { s.compile = enabled }
}

// WithCacheDir stores compiled caches under dir, mirroring the layout below
// the targets root, instead of next to the text source.
func WithCacheDir(dir string) Option {
	return func(s *Store) { s.cacheDir = dir }
}

// NewStore creates a store resolving relative paths against root and
// validating against a base mesh of numVerts vertices.
func NewStore(root string, numVerts int, opts ...Option) *Store {
	s := &Store{
		root:     root,
		numVerts: numVerts,
		log:      zap.NewNop(),
		cache:    make(map[string]*Target),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the directory relative paths are resolved against.
func (s *Store) Root() string { return s.root }

// Key returns the canonical cache key of path.
func (s *Store) Key(path string) string {
	return encoding.CanonicalPath(s.root, path)
}

func (s *Store) resolve(path string) string {
	path = filepath.FromSlash(strings.ReplaceAll(path, "\\", "/"))
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

func (s *Store) binaryPath(textPath string) string {
	bin := strings.TrimSuffix(textPath, filepath.Ext(textPath)) + ".npz"
	if s.cacheDir == "" {
		return bin
	}
	rel, err := filepath.Rel(s.root, bin)
	if err != nil || strings.HasPrefix(rel, "..") {
		return bin
	}
	return filepath.Join(s.cacheDir, rel)
}

// Cached returns the target if it is in the cache, without loading.
func (s *Store) Cached(path string) (*Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cache[s.Key(path)]
	return t, ok
}

// Len returns the number of cached targets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Get returns the target for path, loading it on a miss. Missing files
// yield ErrUnknownTarget; parse and validation failures yield
// ErrMalformedTarget and nothing is cached.
func (s *Store) Get(path string) (*Target, error) {
	key := s.Key(path)
	s.mu.RLock()
	t, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.RLock()
		t, ok := s.cache[key]
		s.mu.RUnlock()
		if ok {
			return t, nil
		}
		t, err := s.load(key, s.resolve(path))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = t
		s.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Target), nil
}

// Refresh drops path from the cache and loads it again.
func (s *Store) Refresh(path string) (*Target, error) {
	s.Evict(path)
	return s.Get(path)
}

// Evict drops one path from the cache.
func (s *Store) Evict(path string) {
	s.mu.Lock()
	delete(s.cache, s.Key(path))
	s.mu.Unlock()
}

// EvictAll empties the cache.
func (s *Store) EvictAll() {
	s.mu.Lock()
	s.cache = make(map[string]*Target)
	s.mu.Unlock()
}

// Put validates and caches an in-memory target under path.
func (s *Store) Put(path string, verts []uint32, data []math.Vec3) (*Target, error) {
	t, err := New(s.Key(path), verts, data, s.numVerts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[t.Path] = t
	s.mu.Unlock()
	return t, nil
}

// Preload loads paths on the pool and returns every failure combined.
func (s *Store) Preload(pool parallel.Pool, paths []string) error {
	var (
		mu   sync.Mutex
		errs error
	)
	_ = pool.Each(len(paths), func(i int) error {
		if _, err := s.Get(paths[i]); err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}
		return nil
	})
	return errs
}

func statFile(path string) (fs.FileInfo, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return fi, true
}

func (s *Store) load(key, textPath string) (*Target, error) {
	binPath := textPath
	if filepath.Ext(textPath) != ".npz" {
		binPath = s.binaryPath(textPath)
	}
	textInfo, hasText := statFile(textPath)
	if binPath == textPath {
		hasText = false
	}
	binInfo, hasBin := statFile(binPath)

	if hasBin && (!hasText || !IsStale(textInfo.ModTime(), binInfo.ModTime())) {
		data, err := os.ReadFile(binPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", binPath, err)
		}
		t, err := decodeBinary(key, data, s.numVerts)
		if err == nil || !hasText {
			return t, err
		}
		s.log.Warn("compiled target unreadable, using text source",
			zap.String("path", binPath), zap.Error(err))
	}
	if !hasText {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, textPath)
	}

	file, err := formats.ParseTargetFile(textPath)
	if err != nil {
		if errors.Is(err, formats.ErrMalformedTargetLine) {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTarget, key, err)
		}
		return nil, err
	}

	deltas := make([]math.Vec3, len(file.Indices))
	quantised := make([]int16, 0, len(file.Indices)*3)
	fits := true
	for k, off := range file.Offsets {
		var v [3]float32
		for axis := 0; axis < 3; axis++ {
			q, f, ok := quantize(off[axis])
			v[axis] = f
			fits = fits && ok
			quantised = append(quantised, q)
		}
		deltas[k] = math.Vec3{X: v[0], Y: v[1], Z: v[2]}
	}
	t, err := New(key, file.Indices, deltas, s.numVerts)
	if err != nil {
		return nil, err
	}

	if s.compile && fits {
		if err := s.writeCache(binPath, t.Verts, quantised); err != nil {
			s.log.Warn("failed to write compiled target", zap.String("path", binPath), zap.Error(err))
		} else {
			s.log.Debug("compiled target", zap.String("path", binPath), zap.Int("verts", t.Len()))
		}
	}
	return t, nil
}

func (s *Store) writeCache(path string, verts []uint32, quantised []int16) error {
	data, err := encodeBinary(verts, quantised)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Exists reports whether path is cached or has a text or compiled source.
func (s *Store) Exists(path string) bool {
	if _, ok := s.Cached(path); ok {
		return true
	}
	textPath := s.resolve(path)
	if _, ok := statFile(textPath); ok {
		return true
	}
	_, ok := statFile(s.binaryPath(textPath))
	return ok
}

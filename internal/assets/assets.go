// Package assets resolves the proxy, skeleton and pose references of saved
// character state against data directories.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/internal/engine/skinning"
	"github.com/Faultbox/mhcore/pkg/encoding"
	"github.com/Faultbox/mhcore/pkg/formats"
)

// ErrNotFound is returned when a reference matches no file.
var ErrNotFound = errors.New("asset not found")

// proxyExts are the proxy definition extensions indexed by a scan.
var proxyExts = map[string]bool{".mhclo": true, ".proxy": true}

// Options configures a Manager.
type Options struct {
	// Root is the data directory. Relative references resolve against it
	// and Ref makes paths relative to it.
	Root string
	// ProxyDirs are scanned recursively for proxy definitions.
	ProxyDirs []string
	// PoseDirs are searched for pose references not found below Root.
	PoseDirs []string
	// Weights is the weights file used when a skeleton has no
	// "<stem>.weights.json" beside it.
	Weights string
	// Import configures pose conversion.
	Import skeleton.ImportOptions
	Logger *zap.Logger
}

// Entry is one indexed proxy definition.
type Entry struct {
	Name string
	UUID string
	Type string
	Path string
}

// Manager resolves asset references. It is safe for concurrent use.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	scanned bool
	entries []Entry
	byUUID  map[string]int
	byName  map[string]int

	skeletons *Cache[*formats.SkelFile]
	weights   *Cache[*formats.WeightsFile]
}

// NewManager creates a manager over opts.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Import.Logger == nil {
		opts.Import.Logger = log
	}
	return &Manager{
		opts:      opts,
		log:       log,
		skeletons: NewCache[*formats.SkelFile](),
		weights:   NewCache[*formats.WeightsFile](),
	}
}

// Path resolves ref against the data directory.
func (m *Manager) Path(ref string) string {
	ref = filepath.FromSlash(strings.ReplaceAll(ref, "\\", "/"))
	if filepath.IsAbs(ref) || m.opts.Root == "" {
		return ref
	}
	return filepath.Join(m.opts.Root, ref)
}

// Ref returns the reference written to saved state for path.
func (m *Manager) Ref(path string) string {
	if m.opts.Root == "" {
		return filepath.ToSlash(path)
	}
	return encoding.RelativePath(m.opts.Root, path)
}

// Index returns every indexed proxy definition sorted by type and name.
func (m *Manager) Index() ([]Entry, error) {
	if err := m.scan(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...), nil
}

func nameKey(t, name string) string {
	return t + "/" + strings.ToLower(name)
}

func (m *Manager) scan() error {
	m.mu.RLock()
	done := m.scanned
	m.mu.RUnlock()
	if done {
		return nil
	}

	var entries []Entry
	for _, dir := range m.opts.ProxyDirs {
		dir = m.Path(dir)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == dir {
					m.log.Debug("proxy dir missing", zap.String("dir", dir))
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !proxyExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			def, err := formats.ParseMHCLOFile(path)
			if err != nil {
				m.log.Warn("skipping proxy file", zap.String("path", path), zap.Error(err))
				return nil
			}
			e := Entry{Name: def.Name, Type: def.Type, Path: path}
			if e.Name == "" {
				e.Name = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
			}
			if def.UUID != "" {
				if e.UUID, err = proxy.CanonicalUUID(def.UUID); err != nil {
					m.log.Warn("skipping proxy file", zap.String("path", path), zap.Error(err))
					return nil
				}
			}
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Name < entries[j].Name
	})

	byUUID := make(map[string]int, len(entries))
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.UUID != "" {
			if prev, dup := byUUID[e.UUID]; dup {
				m.log.Warn("duplicate proxy uuid",
					zap.String("uuid", e.UUID), zap.String("kept", entries[prev].Path), zap.String("path", e.Path))
				continue
			}
			byUUID[e.UUID] = i
		}
		if _, dup := byName[nameKey(e.Type, e.Name)]; !dup {
			byName[nameKey(e.Type, e.Name)] = i
		}
	}

	m.mu.Lock()
	m.entries, m.byUUID, m.byName, m.scanned = entries, byUUID, byName, true
	m.mu.Unlock()
	m.log.Debug("indexed proxies", zap.Int("count", len(entries)))
	return nil
}

// lookup finds a proxy definition by uuid, falling back to type and name.
func (m *Manager) lookup(t proxy.Type, name, id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i, ok := m.byUUID[id]; ok {
		return m.entries[i], true
	}
	if i, ok := m.byName[nameKey(t.String(), name)]; ok {
		return m.entries[i], true
	}
	if i, ok := m.byName[nameKey("", name)]; ok {
		return m.entries[i], true
	}
	return Entry{}, false
}

// Proxy loads a fresh copy of the proxy matching id or, failing that, the
// proxy of type t with the given name. A definition without a uuid takes
// id.
func (m *Manager) Proxy(t proxy.Type, name, id string) (*proxy.Proxy, error) {
	if err := m.scan(); err != nil {
		return nil, err
	}
	canon := ""
	if id != "" {
		var err error
		if canon, err = proxy.CanonicalUUID(id); err != nil {
			return nil, err
		}
	}
	e, ok := m.lookup(t, name, canon)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s %s", ErrNotFound, t, name, id)
	}
	p, err := proxy.Load(e.Path, t)
	if err != nil {
		return nil, err
	}
	if p.Type != t {
		return nil, fmt.Errorf("%w: %s is a %s proxy, not %s", proxy.ErrUnknownSlot, e.Path, p.Type, t)
	}
	if e.UUID == "" && canon != "" {
		p.UUID = canon
	}
	return p, nil
}

// weightsPath returns the weights file of the skeleton at path.
func (m *Manager) weightsPath(path string) string {
	sibling := strings.TrimSuffix(path, filepath.Ext(path)) + ".weights.json"
	if _, err := os.Stat(sibling); err == nil {
		return sibling
	}
	if m.opts.Weights == "" {
		return ""
	}
	return m.Path(m.opts.Weights)
}

// Skeleton builds the skeleton ref and its weights resolved for a base mesh
// of numVerts vertices. Parsed definitions are cached; every call returns a
// fresh skeleton, which the caller owns.
func (m *Manager) Skeleton(ref string, numVerts int) (*skeleton.Skeleton, *skinning.Weights, error) {
	path := m.Path(ref)
	key := encoding.CanonicalPath(m.opts.Root, path)

	def, ok := m.skeletons.Get(key)
	if !ok {
		var err error
		if def, err = formats.ParseSkeletonFile(path); err != nil {
			return nil, nil, err
		}
		m.skeletons.Set(key, def)
	}
	s, err := skeleton.New(def)
	if err != nil {
		return nil, nil, fmt.Errorf("skeleton %s: %w", ref, err)
	}
	s.Source = path

	wpath := m.weightsPath(path)
	if wpath == "" {
		return nil, nil, fmt.Errorf("%w: weights for %s", ErrNotFound, ref)
	}
	wkey := encoding.CanonicalPath(m.opts.Root, wpath)
	file, ok := m.weights.Get(wkey)
	if !ok {
		if file, err = formats.ParseWeightsFile(wpath); err != nil {
			return nil, nil, err
		}
		m.weights.Set(wkey, file)
	}
	w, err := skinning.New(file, s, numVerts)
	if err != nil {
		return nil, nil, fmt.Errorf("weights %s: %w", wpath, err)
	}
	return s, w, nil
}

// posePath resolves a pose reference below Root, then in each pose dir.
func (m *Manager) posePath(ref string) (string, error) {
	path := m.Path(ref)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if !filepath.IsAbs(filepath.FromSlash(ref)) {
		for _, dir := range m.opts.PoseDirs {
			p := filepath.Join(m.Path(dir), filepath.FromSlash(ref))
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: pose %s", ErrNotFound, ref)
}

// Pose loads the pose ref converted for s.
func (m *Manager) Pose(ref string, s *skeleton.Skeleton) (*skeleton.Animation, error) {
	path, err := m.posePath(ref)
	if err != nil {
		return nil, err
	}
	return skeleton.LoadAnimation(path, s, m.opts.Import)
}

// Close drops every cached asset and the proxy index.
func (m *Manager) Close() {
	m.mu.Lock()
	m.entries, m.byUUID, m.byName, m.scanned = nil, nil, nil, false
	m.mu.Unlock()
	m.skeletons.Clear()
	m.weights.Clear()
}

// Stats returns combined cache statistics.
func (m *Manager) Stats() (hits, misses int) {
	sh, sm := m.skeletons.Stats()
	wh, wm := m.weights.Stats()
	return sh + wh, sm + wm
}

// Cache is a simple in-memory cache for loaded assets.
type Cache[V any] struct {
	data map[string]V
	mu   sync.Mutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{
		data: make(map[string]V),
	}
}

// Get retrieves an item from cache.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Set stores an item in cache.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// Clear clears the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]V)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

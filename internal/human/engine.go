// Package human is the evaluation engine of one parametric character. An
// Engine owns the base mesh, the modifier graph, the detail stack, bound
// proxies, skeleton and pose, and brings every derived buffer up to date in
// Evaluate.
//
// All mutation must happen from one goroutine. Evaluate dispatches
// data-parallel passes to the configured pool internally.
package human

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Faultbox/mhcore/internal/engine/cutout"
	"github.com/Faultbox/mhcore/internal/engine/detail"
	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/internal/engine/modifiers"
	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/internal/engine/skinning"
	"github.com/Faultbox/mhcore/internal/engine/targets"
	"github.com/Faultbox/mhcore/pkg/math"
)

// Engine errors.
var (
	ErrNotBound      = errors.New("proxy not bound")
	ErrUUIDCollision = errors.New("proxy uuid already bound")
	ErrStateVersion  = errors.New("unsupported state version")
	ErrInvariant     = errors.New("invariant violation")
	ErrNoSkeleton    = errors.New("no skeleton")
)

// ProxyID is the stable arena index of a bound proxy.
type ProxyID int

type boundProxy struct {
	id    ProxyID
	proxy *proxy.Proxy

	fitDirty  bool
	poseDirty bool

	posed []math.Vec3
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPool sets the worker pool for data-parallel passes.
func WithPool(p parallel.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithFaceHiding sets the initial face hiding state. The default is on.
func WithFaceHiding(on bool) Option {
	return func(e *Engine) { e.hideFacesDefault = on }
}

// WithIncremental enables incremental base recomputation when only part of
// the detail stack changed. The default is on.
func WithIncremental(on bool) Option {
	return func(e *Engine) { e.incremental = on }
}

// Engine evaluates one character.
type Engine struct {
	log  *zap.Logger
	pool parallel.Pool

	base  *mesh.Mesh
	graph *modifiers.Graph
	store *targets.Store
	stack *detail.Stack

	slots  []*boundProxy
	byUUID map[string]ProxyID
	bound  []ProxyID

	skel    *skeleton.Skeleton
	weights *skinning.Weights
	anim    *skeleton.Animation
	frame   int
	locals  []math.Mat4
	posed   []math.Vec3
	posedN  []math.Vec3

	hideFaces        bool
	hideFacesDefault bool
	incremental      bool

	dirty       stage
	fullDeform  bool
	warpFactors map[string]math.Vec3

	missing map[string]bool
	stats   Diagnostics

	// Name and Tags are carried through saved state.
	Name string
	Tags []string
}

// New creates an engine over a base mesh, a modifier graph and a target
// store built for the same mesh.
func New(base *mesh.Mesh, graph *modifiers.Graph, store *targets.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:              zap.NewNop(),
		base:             base,
		graph:            graph,
		store:            store,
		stack:            detail.New(),
		byUUID:           make(map[string]ProxyID),
		hideFacesDefault: true,
		incremental:      true,
		missing:          make(map[string]bool),
		warpFactors:      make(map[string]math.Vec3),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hideFaces = e.hideFacesDefault
	base.SetPool(e.pool)

	n := uint32(base.NumVerts())
	for _, m := range graph.Modifiers() {
		if w, ok := m.(*modifiers.Warp); ok {
			for _, k := range w.Keypoints {
				if k >= n {
					return nil, fmt.Errorf("%w: warp %s keypoint %d of %d vertices", ErrInvariant, w.FullName(), k, n)
				}
			}
		}
	}
	e.posed = append([]math.Vec3(nil), base.Coords()...)
	e.posedN = append([]math.Vec3(nil), base.Normals()...)
	e.invalidateAll()
	return e, nil
}

// Base returns the base mesh.
func (e *Engine) Base() *mesh.Mesh { return e.base }

// Graph returns the modifier graph.
func (e *Engine) Graph() *modifiers.Graph { return e.graph }

// Store returns the target store.
func (e *Engine) Store() *targets.Store { return e.store }

// Stack returns the detail stack.
func (e *Engine) Stack() *detail.Stack { return e.stack }

// SetModifierValue clamps and writes one modifier value. Evaluation is
// deferred to Evaluate. On error nothing changes.
func (e *Engine) SetModifierValue(fullName string, v float32) error {
	m, err := e.graph.Modifier(fullName)
	if err != nil {
		return err
	}
	writes, err := e.graph.SetValue(fullName, v)
	if err != nil {
		return err
	}
	if _, ok := m.(*modifiers.Macro); ok {
		e.invalidate(dirtyMacroVars)
	}
	if e.stack.Apply(writes) > 0 {
		e.invalidate(dirtyDetailStack)
	}
	return nil
}

// ModifierValue returns the current value of a modifier.
func (e *Engine) ModifierValue(fullName string) (float32, error) {
	return e.graph.Value(fullName)
}

// ApplySymmetry copies every left modifier value onto its right counterpart,
// or right onto left when left is false.
func (e *Engine) ApplySymmetry(left bool) error {
	prefix := "r-"
	if left {
		prefix = "l-"
	}
	for _, m := range e.graph.Modifiers() {
		c := m.Base()
		if len(c.Name) < 2 || c.Name[:2] != prefix {
			continue
		}
		mirror, ok := e.graph.Symmetric(c.FullName())
		if !ok {
			continue
		}
		v, err := e.graph.Value(c.FullName())
		if err != nil {
			return err
		}
		if err := e.SetModifierValue(mirror, v); err != nil {
			return err
		}
	}
	return nil
}

// BindProxy validates and binds a proxy. Binding a single-slot type
// replaces the proxy bound in that slot. On error nothing is bound.
func (e *Engine) BindProxy(p *proxy.Proxy) (ProxyID, error) {
	if int(p.Type) >= len(proxy.Types()) {
		return 0, fmt.Errorf("%w: %d", proxy.ErrUnknownSlot, p.Type)
	}
	if _, dup := e.byUUID[p.UUID]; dup {
		return 0, fmt.Errorf("%w: %s", ErrUUIDCollision, p.UUID)
	}
	if err := p.Validate(e.base.NumVerts()); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	if !p.Type.MultiSlot() {
		for _, id := range e.bound {
			if old := e.slots[id].proxy; old.Type == p.Type {
				e.unbind(id)
				break
			}
		}
	}

	id := ProxyID(len(e.slots))
	n := p.NumVerts()
	e.slots = append(e.slots, &boundProxy{
		id:        id,
		proxy:     p,
		fitDirty:  true,
		poseDirty: true,
		posed:     make([]math.Vec3, n),
	})
	e.byUUID[p.UUID] = id
	e.bound = append(e.bound, id)
	p.Mesh.SetPool(e.pool)
	e.invalidate(dirtyFaceMask)
	e.log.Debug("bound proxy", zap.String("name", p.Name), zap.String("uuid", p.UUID), zap.Stringer("type", p.Type))
	return id, nil
}

// UnbindProxy detaches the proxy with the given UUID.
func (e *Engine) UnbindProxy(uuid string) error {
	id, ok := e.byUUID[uuid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotBound, uuid)
	}
	e.unbind(id)
	return nil
}

func (e *Engine) unbind(id ProxyID) {
	slot := e.slots[id]
	delete(e.byUUID, slot.proxy.UUID)
	e.slots[id] = nil
	for i, b := range e.bound {
		if b == id {
			e.bound = append(e.bound[:i], e.bound[i+1:]...)
			break
		}
	}
	e.invalidate(dirtyFaceMask)
	e.log.Debug("unbound proxy", zap.String("name", slot.proxy.Name), zap.String("uuid", slot.proxy.UUID))
}

func (e *Engine) slot(uuid string) (*boundProxy, error) {
	id, ok := e.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, uuid)
	}
	return e.slots[id], nil
}

// Proxy returns the bound proxy with the given UUID.
func (e *Engine) Proxy(uuid string) (*proxy.Proxy, error) {
	s, err := e.slot(uuid)
	if err != nil {
		return nil, err
	}
	return s.proxy, nil
}

// ProxyByID returns the bound proxy with the given arena id.
func (e *Engine) ProxyByID(id ProxyID) (*proxy.Proxy, error) {
	if id < 0 || int(id) >= len(e.slots) || e.slots[id] == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotBound, id)
	}
	return e.slots[id].proxy, nil
}

// Proxies returns the bound proxies in bind order.
func (e *Engine) Proxies() []*proxy.Proxy {
	out := make([]*proxy.Proxy, len(e.bound))
	for i, id := range e.bound {
		out[i] = e.slots[id].proxy
	}
	return out
}

// SetProxyDeleteVerts replaces the base vertices hidden by a bound proxy.
func (e *Engine) SetProxyDeleteVerts(uuid string, verts []uint32) error {
	s, err := e.slot(uuid)
	if err != nil {
		return err
	}
	for _, v := range verts {
		if int(v) >= e.base.NumVerts() {
			return fmt.Errorf("%w: delete vertex %d of %d", ErrInvariant, v, e.base.NumVerts())
		}
	}
	s.proxy.SetDeleteVerts(verts)
	e.invalidate(dirtyFaceMask)
	return nil
}

// SetFaceHiding toggles clothes cutouts.
func (e *Engine) SetFaceHiding(on bool) {
	if e.hideFaces != on {
		e.hideFaces = on
		e.invalidate(dirtyFaceMask)
	}
}

// FaceHiding reports whether clothes cutouts are applied.
func (e *Engine) FaceHiding() bool { return e.hideFaces }

// SetSkeleton attaches a skeleton and its vertex weights. A nil skeleton
// detaches both and clears the pose; nil weights bind every vertex to the
// root bone.
func (e *Engine) SetSkeleton(s *skeleton.Skeleton, w *skinning.Weights) error {
	if s == nil {
		e.skel, e.weights = nil, nil
		e.ClearPose()
		e.invalidate(dirtySkeletonRest)
		return nil
	}
	n := e.base.NumVerts()
	if err := s.Validate(n); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	if w == nil {
		var err error
		if w, err = skinning.New(emptyWeights, s, n); err != nil {
			return err
		}
	}
	if w.NumVerts() != n {
		return fmt.Errorf("%w: weights for %d vertices, base has %d", ErrInvariant, w.NumVerts(), n)
	}
	e.skel, e.weights = s, w
	e.invalidate(dirtySkeletonRest | dirtyPose)
	return nil
}

// Skeleton returns the attached skeleton, or nil.
func (e *Engine) Skeleton() *skeleton.Skeleton { return e.skel }

// SetPose selects frame of anim as the current pose. Use ClearPose to
// return to rest.
func (e *Engine) SetPose(anim *skeleton.Animation, frame int) error {
	if e.skel == nil {
		return ErrNoSkeleton
	}
	if anim == nil {
		return fmt.Errorf("%w: nil animation", ErrInvariant)
	}
	if frame < 0 || frame >= anim.NumFrames() {
		return fmt.Errorf("%w: frame %d of %d", skeleton.ErrFrameRange, frame, anim.NumFrames())
	}
	e.anim, e.frame = anim, frame
	e.invalidate(dirtyPose)
	return nil
}

// Pose returns the current animation and frame, or nil.
func (e *Engine) Pose() (*skeleton.Animation, int) { return e.anim, e.frame }

// ClearPose returns to the rest pose.
func (e *Engine) ClearPose() {
	if e.anim == nil && e.locals == nil {
		return
	}
	e.anim, e.frame = nil, 0
	e.invalidate(dirtyPose)
}

// ResetAll clears the detail stack, every modifier value, the pose and all
// proxies. The skeleton stays attached.
func (e *Engine) ResetAll() {
	e.graph.Reset()
	e.stack.Clear()
	for len(e.bound) > 0 {
		e.unbind(e.bound[0])
	}
	e.ClearPose()
	e.hideFaces = e.hideFacesDefault
	e.Name, e.Tags = "", nil
	e.fullDeform = true
	e.invalidateAll()
}

// BaseCoords returns the deformed base coordinates. The slice is owned by
// the engine and valid until the next Evaluate.
func (e *Engine) BaseCoords() []math.Vec3 { return e.base.Coords() }

// BaseNormals returns the base vertex normals.
func (e *Engine) BaseNormals() []math.Vec3 { return e.base.Normals() }

// FaceMask returns the base face visibility mask.
func (e *Engine) FaceMask() []bool { return e.base.FaceMask() }

// PosedBaseCoords returns the skinned base coordinates.
func (e *Engine) PosedBaseCoords() []math.Vec3 { return e.posed }

// PosedBaseNormals returns the skinned base normals.
func (e *Engine) PosedBaseNormals() []math.Vec3 { return e.posedN }

// ProxyCoords returns the fitted, unposed coordinates of a bound proxy.
func (e *Engine) ProxyCoords(uuid string) ([]math.Vec3, error) {
	s, err := e.slot(uuid)
	if err != nil {
		return nil, err
	}
	return s.proxy.Mesh.Coords(), nil
}

// PosedProxyCoords returns the coordinates of a bound proxy fitted to the
// posed base.
func (e *Engine) PosedProxyCoords(uuid string) ([]math.Vec3, error) {
	s, err := e.slot(uuid)
	if err != nil {
		return nil, err
	}
	return s.posed, nil
}

// ProxyFaceMask returns the face mask of a bound proxy.
func (e *Engine) ProxyFaceMask(uuid string) ([]bool, error) {
	s, err := e.slot(uuid)
	if err != nil {
		return nil, err
	}
	return s.proxy.Mesh.FaceMask(), nil
}

// Diagnostics summarises evaluation activity.
type Diagnostics struct {
	// MissingTargets lists expanded target paths that could not be found,
	// sorted. Each is logged once.
	MissingTargets []string
	// FullPasses and IncrementalPasses count base recomputations by mode.
	FullPasses        int
	IncrementalPasses int
	// LastDirtyVerts is the vertex count of the last incremental pass.
	LastDirtyVerts int
}

// Diagnostics returns a snapshot of the evaluation counters.
func (e *Engine) Diagnostics() Diagnostics {
	d := e.stats
	d.MissingTargets = make([]string, 0, len(e.missing))
	for p := range e.missing {
		d.MissingTargets = append(d.MissingTargets, p)
	}
	sort.Strings(d.MissingTargets)
	return d
}

func (e *Engine) applyFaceMasks() error {
	ps := e.Proxies()
	res := cutout.Compose(e.base, ps, e.hideFaces)
	if err := e.base.SetFaceMask(res.Base); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	for i, p := range ps {
		if err := p.Mesh.SetFaceMask(res.Proxies[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrInvariant, err)
		}
	}
	return nil
}

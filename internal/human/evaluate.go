package human

import (
	"fmt"

	"github.com/Faultbox/mhcore/internal/engine/parallel"
	"github.com/Faultbox/mhcore/internal/engine/skeleton"
	"github.com/Faultbox/mhcore/pkg/formats"
	"github.com/Faultbox/mhcore/pkg/math"
)

// stage is a set of dirty flags.
type stage uint16

const (
	dirtyMacroVars stage = 1 << iota
	dirtyDetailStack
	dirtyBaseCoords
	dirtyBaseNormals
	dirtySkeletonRest
	dirtyPose
	dirtyPosedBase
	dirtyProxyCoords
	dirtyPosedProxies
	dirtyFaceMask
)

var emptyWeights = &formats.WeightsFile{}

// innerPool is the pool for a per-proxy pass. Proxies already run on the
// engine pool when there are several of them.
func (e *Engine) innerPool() parallel.Pool {
	if len(e.bound) > 1 {
		return parallel.Pool{}
	}
	return e.pool
}

// invalidate sets flags and everything downstream of them.
func (e *Engine) invalidate(s stage) {
	if s&(dirtyMacroVars|dirtyDetailStack) != 0 {
		s |= dirtyBaseCoords
	}
	if s&dirtyBaseCoords != 0 {
		s |= dirtyBaseNormals | dirtySkeletonRest | dirtyProxyCoords
	}
	if s&dirtyBaseNormals != 0 {
		s |= dirtyProxyCoords
	}
	if s&dirtySkeletonRest != 0 {
		s |= dirtyPose
	}
	if s&(dirtySkeletonRest|dirtyPose) != 0 {
		s |= dirtyPosedBase
	}
	if s&(dirtyPosedBase|dirtyProxyCoords) != 0 {
		s |= dirtyPosedProxies
	}
	e.dirty |= s
}

func (e *Engine) invalidateAll() {
	e.fullDeform = true
	e.invalidate(dirtyMacroVars | dirtyDetailStack | dirtyPose | dirtyFaceMask)
	for _, id := range e.bound {
		e.slots[id].fitDirty = true
	}
}

// Dirty reports whether any buffer is out of date.
func (e *Engine) Dirty() bool { return e.dirty != 0 }

// Evaluate brings every buffer up to date, running only the stages whose
// inputs changed. A failing stage leaves its flags set, so a later call
// resumes there.
func (e *Engine) Evaluate() error {
	if e.dirty&(dirtyMacroVars|dirtyDetailStack|dirtyBaseCoords) != 0 {
		if err := e.deform(); err != nil {
			return fmt.Errorf("deform: %w", err)
		}
		e.dirty &^= dirtyMacroVars | dirtyDetailStack | dirtyBaseCoords
	}

	if e.dirty&dirtyBaseNormals != 0 {
		e.base.CalcNormals()
		e.dirty &^= dirtyBaseNormals
	}

	if e.dirty&dirtyProxyCoords != 0 {
		for _, id := range e.bound {
			e.slots[id].fitDirty = true
		}
		e.dirty &^= dirtyProxyCoords
	}
	if err := e.fitProxies(); err != nil {
		return err
	}

	if e.dirty&dirtySkeletonRest != 0 {
		if e.skel != nil {
			if err := e.skel.UpdateRest(e.base.Coords()); err != nil {
				return fmt.Errorf("%w: skeleton rest: %w", ErrInvariant, err)
			}
		}
		e.dirty &^= dirtySkeletonRest
	}

	if e.dirty&dirtyPose != 0 {
		if err := e.resolvePose(); err != nil {
			return err
		}
		e.dirty &^= dirtyPose
	}

	if e.dirty&dirtyPosedBase != 0 {
		e.skinBase()
		for _, id := range e.bound {
			e.slots[id].poseDirty = true
		}
		e.dirty &^= dirtyPosedBase
	}

	if e.dirty&dirtyPosedProxies != 0 {
		for _, id := range e.bound {
			e.slots[id].poseDirty = true
		}
		e.dirty &^= dirtyPosedProxies
	}
	if err := e.poseProxies(); err != nil {
		return err
	}

	if e.dirty&dirtyFaceMask != 0 {
		if err := e.applyFaceMasks(); err != nil {
			return err
		}
		e.dirty &^= dirtyFaceMask
	}
	return nil
}

func (e *Engine) fitProxies() error {
	coords, normals := e.base.Coords(), e.base.Normals()
	inner := e.innerPool()
	return e.pool.Each(len(e.bound), func(i int) error {
		s := e.slots[e.bound[i]]
		if !s.fitDirty {
			return nil
		}
		if err := s.proxy.Refit(inner, coords, normals); err != nil {
			return fmt.Errorf("%w: %w", ErrInvariant, err)
		}
		s.fitDirty = false
		s.poseDirty = true
		return nil
	})
}

func (e *Engine) resolvePose() error {
	e.locals = nil
	if e.skel == nil || e.anim == nil {
		return nil
	}
	locals, err := e.skel.Locals(e.anim, e.frame)
	if err != nil {
		return err
	}
	if !skeleton.IsRestPose(locals, 0) {
		e.locals = locals
	}
	return nil
}

// isPosed reports whether skinning changes anything.
func (e *Engine) isPosed() bool {
	return e.skel != nil && e.locals != nil
}

func (e *Engine) skinBase() {
	n := e.base.NumVerts()
	if len(e.posed) != n {
		e.posed = make([]math.Vec3, n)
		e.posedN = make([]math.Vec3, n)
	}
	if !e.isPosed() {
		copy(e.posed, e.base.Coords())
		copy(e.posedN, e.base.Normals())
		return
	}
	k := e.skel.SkinMatrices(e.locals)
	e.weights.Skin(e.pool, k, e.skel.Root(), e.base.Coords(), e.base.Normals(), e.posed, e.posedN)
}

func (e *Engine) poseProxies() error {
	posed := e.isPosed()
	inner := e.innerPool()
	return e.pool.Each(len(e.bound), func(i int) error {
		s := e.slots[e.bound[i]]
		if !s.poseDirty {
			return nil
		}
		if posed {
			s.proxy.Fit(inner, e.posed, e.posedN, s.posed)
		} else {
			copy(s.posed, s.proxy.Mesh.Coords())
		}
		s.poseDirty = false
		return nil
	})
}

// Package cutout composes the face visibility of the base mesh and its
// proxies from the delete-vertex masks of layered clothes.
package cutout

import (
	"sort"

	"github.com/Faultbox/mhcore/internal/engine/mesh"
	"github.com/Faultbox/mhcore/internal/engine/proxy"
)

// Result holds the composed masks. Proxies is aligned with the proxies
// passed to Compose.
type Result struct {
	// Visible is the final base vertex visibility.
	Visible []bool
	// Base is the base face mask.
	Base []bool
	// Proxies holds one face mask per proxy.
	Proxies [][]bool
}

// Compose runs the cutout stack. proxies are given in bind order. Clothes
// are visited by ascending z_depth, bind order breaking ties: each receives
// the face mask implied by the base vertices still visible when it is
// reached, then hides its own delete vertices. Every other proxy type, and
// the base, receives the mask of the final visible set. With hide false all
// faces are visible.
func Compose(base *mesh.Mesh, proxies []*proxy.Proxy, hide bool) Result {
	res := Result{
		Visible: allTrue(base.NumVerts()),
		Proxies: make([][]bool, len(proxies)),
	}
	if !hide {
		res.Base = allTrue(base.NumFaces())
		for i, p := range proxies {
			res.Proxies[i] = allTrue(p.Mesh.NumFaces())
		}
		return res
	}

	var order []int
	for i, p := range proxies {
		if p.Type == proxy.Clothes {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return proxies[order[a]].ZDepth < proxies[order[b]].ZDepth
	})

	for _, i := range order {
		p := proxies[i]
		res.Proxies[i] = p.FaceMask(p.VisibleVerts(res.Visible))
		p.ApplyDeleteVerts(res.Visible)
	}

	res.Base = proxy.FacesVisible(base, res.Visible)
	for i, p := range proxies {
		if res.Proxies[i] == nil {
			res.Proxies[i] = p.FaceMask(p.VisibleVerts(res.Visible))
		}
	}
	return res
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

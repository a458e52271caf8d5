/*
Copyright © 2024 the Atomap authors.
This file is part of Atomap.

Atomap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Atomap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Atomap.  If not, see <http://www.gnu.org/licenses/>.
*/

package atomap

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoZoneAxes is returned by ConstructZoneAxes when no coherent
// translation direction emerges from the atom positions.
var ErrNoZoneAxes = errors.New("atomap: no coherent zone axes found")

const (
	// zoneMaxSeparationFactor bounds, in pixel separations, the length of
	// neighbor displacements considered when clustering zone vectors.
	zoneMaxSeparationFactor = 7

	// badZoneTwoAtomFraction removes a zone vector if more than this
	// fraction of its planes contain exactly two atoms.
	badZoneTwoAtomFraction = 0.6
)

// ZoneAxesResult reports the outcome of zone axis construction.
type ZoneAxesResult struct {
	// ZoneVectors are the accepted vectors, sorted by magnitude.
	ZoneVectors []ZoneVector
	// PlanesPerZone counts the planes found for each accepted vector.
	PlanesPerZone []int
	// RemovedZones counts candidate vectors dropped because most of
	// their planes held only two atoms.
	RemovedZones int
}

// ConstructZoneAxes discovers the translation symmetry of the sublattice
// from the displacements between neighboring atoms, then partitions the
// atoms into planes along each discovered direction. It replaces any
// previously built zone axes and planes. An error is returned if no
// coherent direction emerges, which typically means the positions are too
// disordered or too few.
func (s *Sublattice) ConstructZoneAxes(cfg ZoneConfig) (*ZoneAxesResult, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if len(s.Atoms) < 3 {
		return nil, fmt.Errorf("atomap: ConstructZoneAxes: need at least 3 atoms, have %d", len(s.Atoms))
	}
	if err := s.FindNearestNeighbors(cfg.NearestNeighbors); err != nil {
		return nil, err
	}
	sep, err := s.PixelSeparation()
	if err != nil {
		return nil, err
	}

	disps := s.collectDisplacements(sep * zoneMaxSeparationFactor)
	if len(disps) == 0 {
		return nil, fmt.Errorf("%w: no neighbor displacements within range; atoms may be too sparse", ErrNoZoneAxes)
	}

	clusters := clusterVectors(disps, sep)
	vectors := dedupeParallel(clusters, cfg.ParallelTolerance*sep)
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no recurring displacement direction found; positions may be too disordered", ErrNoZoneAxes)
	}
	sort.Slice(vectors, func(i, j int) bool {
		return vectors[i].Magnitude() < vectors[j].Magnitude()
	})
	if cfg.MaxZoneVectors > 0 && len(vectors) > cfg.MaxZoneVectors {
		vectors = vectors[:cfg.MaxZoneVectors]
	}

	// Grow planes for each candidate vector, then drop vectors whose
	// planes are mostly two-atom fragments.
	res := &ZoneAxesResult{}
	s.ZoneAxes = nil
	s.Planes = nil
	s.planesByZone = nil
	tolerance := cfg.PlaneTolerance * sep
	for _, z := range vectors {
		planes := s.growPlanes(z, tolerance)
		if len(planes) == 0 {
			res.RemovedZones++
			continue
		}
		twoAtom := 0
		for _, p := range planes {
			if p.Len() == 2 {
				twoAtom++
			}
		}
		if float64(twoAtom)/float64(len(planes)) > badZoneTwoAtomFraction {
			res.RemovedZones++
			continue
		}
		zi := len(s.ZoneAxes)
		s.ZoneAxes = append(s.ZoneAxes, z)
		s.sortPlanes(planes, z)
		idx := make([]int, len(planes))
		for i, p := range planes {
			p.ZoneIndex = zi
			idx[i] = len(s.Planes)
			s.Planes = append(s.Planes, p)
		}
		s.planesByZone = append(s.planesByZone, idx)
		res.ZoneVectors = append(res.ZoneVectors, z)
		res.PlanesPerZone = append(res.PlanesPerZone, len(planes))
	}
	if len(s.ZoneAxes) == 0 {
		return nil, fmt.Errorf("%w: every candidate direction produced only fragmentary planes", ErrNoZoneAxes)
	}
	return res, nil
}

// collectDisplacements gathers the displacement to every listed neighbor
// of every atom, dropping those longer than maxLen.
func (s *Sublattice) collectDisplacements(maxLen float64) []ZoneVector {
	max2 := maxLen * maxLen
	var out []ZoneVector
	for _, a := range s.Atoms {
		for _, ni := range a.neighbors {
			dx, dy := a.PixelDifference(s.Atoms[ni])
			if dx*dx+dy*dy > max2 {
				continue
			}
			out = append(out, ZoneVector{X: dx, Y: dy})
		}
	}
	return out
}

// clusterVectors greedily groups displacement vectors lying within radius
// of a cluster mean, returning one averaged vector per cluster that holds
// at least two members. Vectors are visited in a deterministic order
// (magnitude, then angle) so the clustering does not depend on map or
// goroutine ordering.
func clusterVectors(vecs []ZoneVector, radius float64) []ZoneVector {
	sort.Slice(vecs, func(i, j int) bool {
		mi, mj := vecs[i].Magnitude(), vecs[j].Magnitude()
		if mi != mj {
			return mi < mj
		}
		ai := math.Atan2(vecs[i].Y, vecs[i].X)
		aj := math.Atan2(vecs[j].Y, vecs[j].X)
		return ai < aj
	})
	r2 := radius * radius
	type cluster struct {
		sumX, sumY float64
		n          int
	}
	var clusters []cluster
	for _, v := range vecs {
		placed := false
		for ci := range clusters {
			c := &clusters[ci]
			mx, my := c.sumX/float64(c.n), c.sumY/float64(c.n)
			dx, dy := v.X-mx, v.Y-my
			if dx*dx+dy*dy <= r2 {
				c.sumX += v.X
				c.sumY += v.Y
				c.n++
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{sumX: v.X, sumY: v.Y, n: 1})
		}
	}
	var out []ZoneVector
	for _, c := range clusters {
		if c.n < 2 {
			continue
		}
		out = append(out, ZoneVector{X: c.sumX / float64(c.n), Y: c.sumY / float64(c.n)})
	}
	return out
}

// dedupeParallel keeps one vector per direction: vectors parallel or
// antiparallel to an already kept vector (within tolerance, compared after
// canonical orientation) are dropped, preferring the shorter vector.
// Canonical orientation negates a vector if its y component is negative,
// or if y is zero and x is negative.
func dedupeParallel(vecs []ZoneVector, tolerance float64) []ZoneVector {
	canon := func(v ZoneVector) ZoneVector {
		if v.Y < 0 || (v.Y == 0 && v.X < 0) {
			return v.Negated()
		}
		return v
	}
	sort.Slice(vecs, func(i, j int) bool {
		mi, mj := vecs[i].Magnitude(), vecs[j].Magnitude()
		if mi != mj {
			return mi < mj
		}
		ci, cj := canon(vecs[i]), canon(vecs[j])
		return math.Atan2(ci.Y, ci.X) < math.Atan2(cj.Y, cj.X)
	})
	tol2 := tolerance * tolerance
	var kept []ZoneVector
	for _, v := range vecs {
		cv := canon(v)
		dup := false
		for _, k := range kept {
			ck := canon(k)
			// Compare directions at the shorter vector's length so longer
			// multiples of a kept direction also count as duplicates.
			mk, mv := ck.Magnitude(), cv.Magnitude()
			if mk == 0 || mv == 0 {
				continue
			}
			sx, sy := cv.X/mv*mk, cv.Y/mv*mk
			dx, dy := sx-ck.X, sy-ck.Y
			if dx*dx+dy*dy <= tol2 {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cv)
		}
	}
	return kept
}

// growPlanes partitions the sublattice into maximal chains along zone
// vector z. From each unvisited seed atom the chain is extended in the +z
// then the −z direction: each step moves to the neighbor closest to the
// expected position (current + vector), accepted only if within tolerance
// of it. Every atom belongs to at most one plane per zone vector, and
// single-atom chains are discarded.
func (s *Sublattice) growPlanes(z ZoneVector, tolerance float64) []*AtomPlane {
	visited := make([]bool, len(s.Atoms))
	var planes []*AtomPlane
	for seed := range s.Atoms {
		if visited[seed] {
			continue
		}
		forward := s.traceChain(seed, z, tolerance, visited)
		backward := s.traceChain(seed, z.Negated(), tolerance, visited)

		// backward is seed-first; reverse it and append forward minus the
		// duplicated seed.
		chain := make([]int, 0, len(forward)+len(backward)-1)
		for i := len(backward) - 1; i >= 1; i-- {
			chain = append(chain, backward[i])
		}
		chain = append(chain, forward...)
		if len(chain) < 2 {
			continue
		}
		for _, ai := range chain {
			visited[ai] = true
		}
		planes = append(planes, &AtomPlane{Atoms: chain, sublattice: s})
	}
	return planes
}

// traceChain walks from seed along direction z, at each step choosing the
// neighbor of the current atom that minimizes distance from the expected
// position and accepting the step only if that distance is within
// tolerance. The walk stops at an already visited atom. The returned chain
// starts with seed.
func (s *Sublattice) traceChain(seed int, z ZoneVector, tolerance float64, visited []bool) []int {
	chain := []int{seed}
	inChain := map[int]bool{seed: true}
	cur := seed
	for {
		a := s.Atoms[cur]
		ex, ey := a.X+z.X, a.Y+z.Y
		best := -1
		bestDist := math.Inf(1)
		for _, ni := range a.neighbors {
			if inChain[ni] || visited[ni] {
				continue
			}
			d := s.Atoms[ni].DistanceFrom(ex, ey)
			if d < bestDist {
				bestDist = d
				best = ni
			}
		}
		if best < 0 || bestDist > tolerance {
			return chain
		}
		chain = append(chain, best)
		inChain[best] = true
		cur = best
	}
}

// sortPlanes orders planes by the distance of their mean position to a
// reference point far along the direction orthogonal to z, giving a stable
// left-to-right (or top-to-bottom) ordering across the image.
func (s *Sublattice) sortPlanes(planes []*AtomPlane, z ZoneVector) {
	ny, nx := s.Image.Shape[0], s.Image.Shape[1]
	m := z.Magnitude()
	if m == 0 {
		return
	}
	// Orthogonal direction, scaled well past the image diagonal.
	ox, oy := -z.Y/m, z.X/m
	far := 10 * math.Hypot(float64(nx), float64(ny))
	fx, fy := ox*far, oy*far
	dist := func(p *AtomPlane) float64 {
		mp := p.MeanPosition()
		return math.Hypot(mp.X-fx, mp.Y-fy)
	}
	sort.SliceStable(planes, func(i, j int) bool {
		return dist(planes[i]) < dist(planes[j])
	})
}

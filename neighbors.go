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
	"fmt"
	"sort"
)

// FindNearestNeighbors computes, for every atom, the indices of its k
// nearest neighbors within the sublattice, closest first. Ties in distance
// break toward the lower index, so the result is deterministic. Calling it
// again replaces the previous lists.
func (s *Sublattice) FindNearestNeighbors(k int) error {
	if k < 1 {
		return fmt.Errorf("atomap: FindNearestNeighbors: k must be at least 1, got %d", k)
	}
	if len(s.Atoms) < 2 {
		return fmt.Errorf("atomap: FindNearestNeighbors: need at least 2 atoms, have %d", len(s.Atoms))
	}
	if k > len(s.Atoms)-1 {
		k = len(s.Atoms) - 1
	}

	type cand struct {
		index int
		dist2 float64
	}
	cands := make([]cand, 0, len(s.Atoms)-1)
	for i, a := range s.Atoms {
		cands = cands[:0]
		for j, b := range s.Atoms {
			if j == i {
				continue
			}
			dx, dy := b.X-a.X, b.Y-a.Y
			cands = append(cands, cand{index: j, dist2: dx*dx + dy*dy})
		}
		sort.Slice(cands, func(p, q int) bool {
			if cands[p].dist2 != cands[q].dist2 {
				return cands[p].dist2 < cands[q].dist2
			}
			return cands[p].index < cands[q].index
		})
		nn := make([]int, k)
		for n := 0; n < k; n++ {
			nn[n] = cands[n].index
		}
		a.neighbors = nn
	}
	s.neighborCount = k
	s.pixelSeparation = 0
	return nil
}

// PixelSeparation estimates the characteristic spacing of the sublattice:
// half the median distance from each atom to its nearest neighbor. The
// value is cached until the atoms move or the neighbor lists are rebuilt.
func (s *Sublattice) PixelSeparation() (float64, error) {
	if s.pixelSeparation > 0 {
		return s.pixelSeparation, nil
	}
	if s.neighborCount < 1 {
		if err := s.FindNearestNeighbors(1); err != nil {
			return 0, err
		}
	}
	dists := make([]float64, 0, len(s.Atoms))
	for _, a := range s.Atoms {
		if len(a.neighbors) == 0 {
			continue
		}
		dists = append(dists, a.Distance(s.Atoms[a.neighbors[0]]))
	}
	if len(dists) == 0 {
		return 0, fmt.Errorf("atomap: PixelSeparation: no neighbor distances available")
	}
	s.pixelSeparation = median(dists) / 2
	return s.pixelSeparation, nil
}

// nearestNeighborDistance returns the distance from atom i to its closest
// neighbor. The neighbor lists must already be populated.
func (s *Sublattice) nearestNeighborDistance(i int) (float64, error) {
	a := s.Atoms[i]
	if len(a.neighbors) == 0 {
		return 0, fmt.Errorf("atomap: atom %d has no neighbor list", i)
	}
	return a.Distance(s.Atoms[a.neighbors[0]]), nil
}

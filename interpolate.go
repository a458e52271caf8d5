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

// FindMissingAtoms proposes positions for a second sublattice interleaved
// with this one: one candidate between each consecutive pair of atoms in
// every atom plane, placed at prev + cfg.VectorFraction × (next − prev).
// With cfg.ExtendOuterEdges, one extra candidate is added one lattice step
// beyond each end of every plane, dropped if within cfg.OuterEdgeLimit
// pixels of the image border. Duplicate candidates produced by
// overlapping planes are merged. ConstructZoneAxes must have run;
// candidates come from the planes of zone vector zoneIndex (zone 0 is
// the smallest-magnitude one).
func (s *Sublattice) FindMissingAtoms(zoneIndex int, cfg InterpolateConfig) ([]Position, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if len(s.ZoneAxes) == 0 {
		return nil, fmt.Errorf("atomap: FindMissingAtoms: no zone axes; call ConstructZoneAxes first")
	}
	planes, err := s.PlanesByZone(zoneIndex)
	if err != nil {
		return nil, err
	}

	ny, nx := s.Image.Shape[0], s.Image.Shape[1]
	inBounds := func(p Position, margin float64) bool {
		return p.X >= margin && p.Y >= margin &&
			p.X <= float64(nx-1)-margin && p.Y <= float64(ny-1)-margin
	}

	var cands []Position
	for _, pl := range planes {
		for i := 0; i+1 < len(pl.Atoms); i++ {
			prev := s.Atoms[pl.Atoms[i]]
			next := s.Atoms[pl.Atoms[i+1]]
			p := Position{
				X: prev.X + cfg.VectorFraction*(next.X-prev.X),
				Y: prev.Y + cfg.VectorFraction*(next.Y-prev.Y),
			}
			if inBounds(p, 0) {
				cands = append(cands, p)
			}
		}
		if cfg.ExtendOuterEdges && len(pl.Atoms) >= 2 {
			first := s.Atoms[pl.Atoms[0]]
			second := s.Atoms[pl.Atoms[1]]
			last := s.Atoms[pl.Atoms[len(pl.Atoms)-1]]
			penult := s.Atoms[pl.Atoms[len(pl.Atoms)-2]]
			before := Position{
				X: first.X - cfg.VectorFraction*(second.X-first.X),
				Y: first.Y - cfg.VectorFraction*(second.Y-first.Y),
			}
			after := Position{
				X: last.X + cfg.VectorFraction*(last.X-penult.X),
				Y: last.Y + cfg.VectorFraction*(last.Y-penult.Y),
			}
			if inBounds(before, cfg.OuterEdgeLimit) {
				cands = append(cands, before)
			}
			if inBounds(after, cfg.OuterEdgeLimit) {
				cands = append(cands, after)
			}
		}
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("atomap: FindMissingAtoms: planes too short to interpolate between")
	}

	sep, err := s.PixelSeparation()
	if err != nil {
		return nil, err
	}
	return mergeClosePositions(cands, sep/2), nil
}

// mergeClosePositions collapses positions closer than minDist into their
// mean, visiting candidates in (y, x) order so the result is
// deterministic.
func mergeClosePositions(cands []Position, minDist float64) []Position {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Y != cands[j].Y {
			return cands[i].Y < cands[j].Y
		}
		return cands[i].X < cands[j].X
	})
	min2 := minDist * minDist
	type group struct {
		sumX, sumY float64
		n          int
	}
	var groups []group
	for _, c := range cands {
		placed := false
		for gi := range groups {
			g := &groups[gi]
			mx, my := g.sumX/float64(g.n), g.sumY/float64(g.n)
			dx, dy := c.X-mx, c.Y-my
			if dx*dx+dy*dy < min2 {
				g.sumX += c.X
				g.sumY += c.Y
				g.n++
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, group{sumX: c.X, sumY: c.Y, n: 1})
		}
	}
	out := make([]Position, len(groups))
	for i, g := range groups {
		out[i] = Position{X: g.sumX / float64(g.n), Y: g.sumY / float64(g.n)}
	}
	return out
}

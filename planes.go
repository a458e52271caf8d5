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
	"math"

	"github.com/GaryBoone/GoStats/stats"
)

// AtomPlane is a maximal ordered chain of atoms connected along one zone
// vector. Atoms is a slice of indices into the owning sublattice, ordered
// along the chain.
type AtomPlane struct {
	// ZoneIndex identifies the zone vector in the sublattice's ZoneAxes
	// that this plane follows.
	ZoneIndex int

	// Atoms are sublattice atom indices ordered along the plane.
	Atoms []int

	sublattice *Sublattice
}

// Len returns the number of atoms in the plane.
func (p *AtomPlane) Len() int { return len(p.Atoms) }

// Start and End return the sublattice indices of the plane's endpoints.
func (p *AtomPlane) Start() int { return p.Atoms[0] }
func (p *AtomPlane) End() int   { return p.Atoms[len(p.Atoms)-1] }

// Positions returns the coordinates of the plane's atoms in chain order.
func (p *AtomPlane) Positions() []Position {
	out := make([]Position, len(p.Atoms))
	for i, ai := range p.Atoms {
		a := p.sublattice.Atoms[ai]
		out[i] = Position{X: a.X, Y: a.Y}
	}
	return out
}

// MeanPosition returns the centroid of the plane's atoms.
func (p *AtomPlane) MeanPosition() Position {
	var sx, sy float64
	for _, ai := range p.Atoms {
		a := p.sublattice.Atoms[ai]
		sx += a.X
		sy += a.Y
	}
	n := float64(len(p.Atoms))
	return Position{X: sx / n, Y: sy / n}
}

// Straightness measures how well the plane's atoms fall on a line: the
// root-mean-square residual of an orthogonal-frame linear regression,
// in pixels. Zero means a perfect line. Planes with fewer than three
// atoms report zero.
func (p *AtomPlane) Straightness() float64 {
	if len(p.Atoms) < 3 {
		return 0
	}
	// Regress in a frame aligned with the zone vector so near-vertical
	// planes do not break the least-squares fit.
	z := p.sublattice.ZoneAxes[p.ZoneIndex]
	m := z.Magnitude()
	if m == 0 {
		return 0
	}
	ux, uy := z.X/m, z.Y/m
	along := make([]float64, len(p.Atoms))
	across := make([]float64, len(p.Atoms))
	for i, ai := range p.Atoms {
		a := p.sublattice.Atoms[ai]
		along[i] = ux*a.X + uy*a.Y
		across[i] = -uy*a.X + ux*a.Y
	}
	slope, intercept, _, _, _, _ := stats.LinearRegression(along, across)
	var ss float64
	for i := range along {
		r := across[i] - (slope*along[i] + intercept)
		ss += r * r
	}
	return math.Sqrt(ss / float64(len(along)))
}

func (p *AtomPlane) String() string {
	return fmt.Sprintf("<AtomPlane zone:%d atoms:%d>", p.ZoneIndex, len(p.Atoms))
}

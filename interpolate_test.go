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
	"math"
	"testing"
)

func TestMergeClosePositionsMidpoint(t *testing.T) {
	// Two identical candidates merge into one at (5, 0)-style midpoints.
	out := mergeClosePositions([]Position{{X: 5, Y: 0}, {X: 5, Y: 0}}, 1)
	if len(out) != 1 || out[0].X != 5 || out[0].Y != 0 {
		t.Errorf("merge result = %v", out)
	}
}

func TestFindMissingAtomsMidpoint(t *testing.T) {
	const spacing = 12.0
	s, err := NewTestData(120, 120).AddGrid(spacing, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}
	cands, err := s.FindMissingAtoms(0, DefaultInterpolateConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates proposed")
	}
	// Every candidate sits midway between two consecutive plane atoms,
	// so it is spacing/2 from the two nearest existing atoms.
	for _, c := range cands {
		best := math.Inf(1)
		for _, a := range s.Atoms {
			if d := a.DistanceFrom(c.X, c.Y); d < best {
				best = d
			}
		}
		if different(best, spacing/2, 0.5) {
			t.Errorf("candidate (%g, %g) is %g px from nearest atom, want %g",
				c.X, c.Y, best, spacing/2)
		}
	}
	if _, err := s.FindMissingAtoms(len(s.ZoneAxes), DefaultInterpolateConfig()); err == nil {
		t.Error("expected error for out-of-range zone index")
	}
}

func TestFindMissingAtomsFraction(t *testing.T) {
	const spacing = 12.0
	s, err := NewTestData(120, 120).AddGrid(spacing, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultInterpolateConfig()
	cfg.VectorFraction = 0.25
	cands, err := s.FindMissingAtoms(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// At fraction 0.25 each candidate lies spacing/4 from the earlier
	// plane atom.
	for _, c := range cands {
		best := math.Inf(1)
		for _, a := range s.Atoms {
			if d := a.DistanceFrom(c.X, c.Y); d < best {
				best = d
			}
		}
		if different(best, spacing/4, 0.5) {
			t.Errorf("candidate %g px from nearest atom, want %g", best, spacing/4)
		}
	}
}

func TestFindMissingAtomsInvalidFraction(t *testing.T) {
	s, err := NewTestData(120, 120).AddGrid(12, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}
	for _, f := range []float64{0, 1, -0.5, 1.5} {
		cfg := DefaultInterpolateConfig()
		cfg.VectorFraction = f
		if _, err := s.FindMissingAtoms(0, cfg); err == nil {
			t.Errorf("expected error for vector fraction %g", f)
		}
	}
}

func TestFindMissingAtomsRequiresZones(t *testing.T) {
	s, err := NewTestData(120, 120).AddGrid(12, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindMissingAtoms(0, DefaultInterpolateConfig()); err == nil {
		t.Error("expected error before zone axes are built")
	}
}

func TestFindMissingAtomsExtendEdges(t *testing.T) {
	s, err := NewTestData(120, 120).AddGrid(12, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}
	base, err := s.FindMissingAtoms(0, DefaultInterpolateConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultInterpolateConfig()
	cfg.ExtendOuterEdges = true
	extended, err := s.FindMissingAtoms(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(extended) <= len(base) {
		t.Errorf("edge extension added no candidates: %d vs %d", len(extended), len(base))
	}
	// All candidates stay inside the image.
	ny, nx := s.Image.Shape[0], s.Image.Shape[1]
	for _, c := range extended {
		if c.X > float64(nx-1) || c.Y > float64(ny-1) || c.X < 0 || c.Y < 0 {
			t.Errorf("candidate (%g, %g) outside image bounds", c.X, c.Y)
		}
	}
}

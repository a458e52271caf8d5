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
	"math"
	"math/rand"
	"testing"

	"github.com/ctessum/sparse"
)

func gridSublattice(t *testing.T, spacing float64) *Sublattice {
	t.Helper()
	s, err := NewTestData(120, 120).AddGrid(spacing, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConstructZoneAxesSquareGrid(t *testing.T) {
	const spacing = 12.0
	s := gridSublattice(t, spacing)
	res, err := s.ConstructZoneAxes(DefaultZoneConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ZoneVectors) < 2 {
		t.Fatalf("found %d zone vectors, want at least 2", len(res.ZoneVectors))
	}
	// The two shortest vectors of a square grid have magnitude equal to
	// the spacing and are orthogonal.
	z0, z1 := res.ZoneVectors[0], res.ZoneVectors[1]
	if different(z0.Magnitude(), spacing, 0.5) {
		t.Errorf("first zone vector magnitude = %g, want %g", z0.Magnitude(), spacing)
	}
	if different(z1.Magnitude(), spacing, 0.5) {
		t.Errorf("second zone vector magnitude = %g, want %g", z1.Magnitude(), spacing)
	}
	dot := z0.X*z1.X + z0.Y*z1.Y
	cos := dot / (z0.Magnitude() * z1.Magnitude())
	if math.Abs(cos) > 0.1 {
		t.Errorf("two shortest zone vectors not orthogonal: cos = %g", cos)
	}
	// Magnitudes are sorted.
	for i := 1; i < len(res.ZoneVectors); i++ {
		if res.ZoneVectors[i].Magnitude() < res.ZoneVectors[i-1].Magnitude()-1e-9 {
			t.Errorf("zone vectors not sorted by magnitude at %d", i)
		}
	}
}

func TestConstructZoneAxesPlanes(t *testing.T) {
	const spacing = 12.0
	s := gridSublattice(t, spacing)
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}

	// A 9×9 grid has 9 full rows and 9 full columns.
	nGrid := 0
	for x := spacing; x <= 120-spacing; x += spacing {
		nGrid++
	}
	planes0, err := s.PlanesByZone(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(planes0) != nGrid {
		t.Errorf("zone 0 has %d planes, want %d", len(planes0), nGrid)
	}
	for _, p := range planes0 {
		if p.Len() != nGrid {
			t.Errorf("plane length = %d, want %d", p.Len(), nGrid)
		}
		if st := p.Straightness(); st > 0.01 {
			t.Errorf("grid plane straightness = %g, want ~0", st)
		}
	}

	// Membership is a partition: every atom appears in exactly one plane
	// of zone 0.
	seen := make(map[int]int)
	for _, p := range planes0 {
		for _, ai := range p.Atoms {
			seen[ai]++
		}
	}
	if len(seen) != len(s.Atoms) {
		t.Errorf("zone 0 planes cover %d of %d atoms", len(seen), len(s.Atoms))
	}
	for ai, n := range seen {
		if n != 1 {
			t.Errorf("atom %d appears in %d planes of zone 0", ai, n)
		}
	}

	// Consecutive plane atoms are one zone vector apart.
	z := s.ZoneAxes[0]
	for _, p := range planes0 {
		for i := 0; i+1 < len(p.Atoms); i++ {
			a := s.Atoms[p.Atoms[i]]
			b := s.Atoms[p.Atoms[i+1]]
			dx, dy := a.PixelDifference(b)
			step := math.Hypot(dx, dy)
			if different(step, z.Magnitude(), 0.5) {
				t.Errorf("plane step %g differs from zone magnitude %g", step, z.Magnitude())
			}
		}
	}
}

func TestConstructZoneAxesDisordered(t *testing.T) {
	// Uniformly random positions have no recurring direction.
	rng := rand.New(rand.NewSource(7))
	im := sparse.ZerosDense(200, 200)
	pos := make([]Position, 40)
	for i := range pos {
		pos[i] = Position{X: rng.Float64() * 199, Y: rng.Float64() * 199}
	}
	s, err := NewSublattice(pos, im)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.ConstructZoneAxes(DefaultZoneConfig())
	if err == nil {
		t.Fatal("expected an error for disordered positions")
	}
	if !errors.Is(err, ErrNoZoneAxes) {
		t.Errorf("error = %v; want ErrNoZoneAxes", err)
	}
}

func TestConstructZoneAxesPrunesFragmentedDirection(t *testing.T) {
	// Horizontal dimers (gap 4) on a 10-pixel grid: the dimer
	// displacement recurs across the whole image but can only ever link
	// the two atoms of a pair, so its planes are all two-atom fragments
	// and the direction must be dropped. The vertical direction links
	// full columns and survives.
	td := NewTestData(100, 100)
	for y := 10.0; y <= 90; y += 10 {
		for x := 10.0; x <= 80; x += 10 {
			td.AddAtom(x, y, 1.2, 100)
			td.AddAtom(x+4, y, 1.2, 100)
		}
	}
	s, err := td.Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.ConstructZoneAxes(DefaultZoneConfig())
	if err != nil {
		t.Fatal(err)
	}
	if res.RemovedZones < 1 {
		t.Error("fragmented dimer direction was not pruned")
	}
	for _, z := range res.ZoneVectors {
		if z.Magnitude() < 8 {
			t.Errorf("dimer-scale vector %+v survived pruning", z)
		}
	}
	vertical := -1
	for zi, z := range res.ZoneVectors {
		if math.Abs(z.X) < 0.5 && !different(math.Abs(z.Y), 10, 0.5) {
			vertical = zi
		}
	}
	if vertical < 0 {
		t.Fatalf("vertical column direction not found among %+v", res.ZoneVectors)
	}
	planes, err := s.PlanesByZone(vertical)
	if err != nil {
		t.Fatal(err)
	}
	if len(planes) != 16 {
		t.Errorf("vertical zone has %d planes, want 16 (one per atom column)", len(planes))
	}
	for _, p := range planes {
		if p.Len() != 9 {
			t.Errorf("vertical plane has %d atoms, want 9", p.Len())
		}
	}
}

func TestConstructZoneAxesTooFewAtoms(t *testing.T) {
	im := sparse.ZerosDense(50, 50)
	s, err := NewSublattice([]Position{{X: 10, Y: 10}, {X: 20, Y: 20}}, im)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err == nil {
		t.Error("expected an error for fewer than 3 atoms")
	}
}

func TestConstructZoneAxesMaxVectors(t *testing.T) {
	s := gridSublattice(t, 12)
	cfg := DefaultZoneConfig()
	cfg.MaxZoneVectors = 2
	res, err := s.ConstructZoneAxes(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ZoneVectors) > 2 {
		t.Errorf("cap ignored: %d zone vectors", len(res.ZoneVectors))
	}
}

func TestZoneConfigValidation(t *testing.T) {
	s := gridSublattice(t, 12)
	cfg := DefaultZoneConfig()
	cfg.PlaneTolerance = 0
	if _, err := s.ConstructZoneAxes(cfg); err == nil {
		t.Error("expected error for zero plane tolerance")
	}
	cfg = DefaultZoneConfig()
	cfg.ParallelTolerance = -1
	if _, err := s.ConstructZoneAxes(cfg); err == nil {
		t.Error("expected error for negative parallel tolerance")
	}
	cfg = DefaultZoneConfig()
	cfg.NearestNeighbors = 0
	if _, err := s.ConstructZoneAxes(cfg); err == nil {
		t.Error("expected error for zero neighbor count")
	}
}

func TestConstructZoneAxesRebuild(t *testing.T) {
	s := gridSublattice(t, 12)
	res1, err := s.ConstructZoneAxes(DefaultZoneConfig())
	if err != nil {
		t.Fatal(err)
	}
	res2, err := s.ConstructZoneAxes(DefaultZoneConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(res1.ZoneVectors) != len(res2.ZoneVectors) {
		t.Errorf("rebuild changed zone count: %d vs %d", len(res1.ZoneVectors), len(res2.ZoneVectors))
	}
	if len(s.Planes) == 0 {
		t.Error("planes missing after rebuild")
	}
	// Plane/zone bookkeeping stays consistent.
	for zi := range s.ZoneAxes {
		planes, err := s.PlanesByZone(zi)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range planes {
			if p.ZoneIndex != zi {
				t.Errorf("plane in zone %d claims zone %d", zi, p.ZoneIndex)
			}
		}
	}
}

func TestPlanesByZoneRange(t *testing.T) {
	s := gridSublattice(t, 12)
	if _, err := s.ConstructZoneAxes(DefaultZoneConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PlanesByZone(-1); err == nil {
		t.Error("expected error for negative zone index")
	}
	if _, err := s.PlanesByZone(len(s.ZoneAxes)); err == nil {
		t.Error("expected error for out-of-range zone index")
	}
}

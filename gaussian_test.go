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

func TestRefineGaussianRecoversShape(t *testing.T) {
	td := NewTestData(120, 120)
	for y := 15.0; y <= 105; y += 15 {
		for x := 15.0; x <= 105; x += 15 {
			td.AddAtomCustom(x, y, 2.0, 3.0, 0.5, 100)
		}
	}
	truth := td.Positions()
	seeds := make([]Position, len(truth))
	for i, p := range truth {
		seeds[i] = Position{X: p.X + 0.7, Y: p.Y - 0.5}
	}
	s, err := NewSublattice(seeds, td.Image())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(9); err != nil {
		t.Fatal(err)
	}
	res, err := s.RefineGaussian(DefaultGaussianConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("%d fits failed on clean synthetic data: %v", len(res.Failed), res.Failed)
	}
	for i, a := range s.Atoms {
		if d := math.Hypot(a.X-truth[i].X, a.Y-truth[i].Y); d > 0.05 {
			t.Errorf("atom %d center off by %g px", i, d)
		}
		if a.State != StateGaussianDone {
			t.Errorf("atom %d state = %v", i, a.State)
		}
		// Widths come back with the ground-truth ellipticity.
		if different(a.Ellipticity(), 1.5, 0.1) {
			t.Errorf("atom %d ellipticity = %g, want 1.5", i, a.Ellipticity())
		}
		if a.Rotation < 0 || a.Rotation >= math.Pi {
			t.Errorf("atom %d rotation %g outside [0, π)", i, a.Rotation)
		}
		if a.Amplitude <= 0 {
			t.Errorf("atom %d amplitude = %g", i, a.Amplitude)
		}
	}
}

func TestRefineGaussianDisableRotation(t *testing.T) {
	td := NewTestData(80, 80).AddGrid(20, 2.0, 100)
	s, err := td.Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(3); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultGaussianConfig()
	cfg.DisableRotation = true
	res, err := s.RefineGaussian(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("%d fits failed: %v", len(res.Failed), res.Failed)
	}
	// The rotation parameter is held at its zero seed.
	for i, a := range s.Atoms {
		if a.Rotation != 0 {
			t.Errorf("atom %d rotation = %g, want 0", i, a.Rotation)
		}
	}
}

func TestRefineGaussianFailureIsolation(t *testing.T) {
	// A grid plus one seed over empty background: the empty fit fails
	// but the others are unaffected.
	td := NewTestData(100, 100).AddGrid(20, 1.8, 100)
	seeds := td.Positions()
	seeds = append(seeds, Position{X: 50, Y: 10}) // between columns, flat
	im := td.Image()
	s, err := NewSublattice(seeds, im)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(3); err != nil {
		t.Fatal(err)
	}
	res, err := s.RefineGaussian(DefaultGaussianConfig())
	if err != nil {
		t.Fatal(err)
	}
	bad := len(seeds) - 1
	failedBad := false
	for _, fi := range res.Failed {
		if fi == bad {
			failedBad = true
		}
	}
	if failedBad {
		a := s.Atoms[bad]
		if a.State != StateFitFailed {
			t.Errorf("failed atom state = %v", a.State)
		}
		if a.Amplitude != 0 {
			t.Errorf("failed atom amplitude = %g, want 0", a.Amplitude)
		}
	}
	// The real columns must all fit regardless.
	for i := 0; i < bad; i++ {
		if s.Atoms[i].State != StateGaussianDone {
			t.Errorf("atom %d state = %v after a sibling fit failed", i, s.Atoms[i].State)
		}
	}
}

func TestRefineGaussianTruncatedBorderColumn(t *testing.T) {
	// A column whose true center lies outside the frame: the best fit to
	// the visible tail peaks off-image, so the fit must be rejected and
	// the atom kept at its center-of-mass position.
	im := NewTestData(40, 40).AddAtom(-2, 20, 2.0, 100).Image()
	s, err := NewSublattice([]Position{{X: 0.5, Y: 20}}, im)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultGaussianConfig()
	cfg.MaskRadius = 6
	res, err := s.RefineGaussian(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != 0 {
		t.Fatalf("failed = %v, want [0]", res.Failed)
	}
	a := s.Atoms[0]
	if a.State != StateFitFailed {
		t.Errorf("state = %v, want %v", a.State, StateFitFailed)
	}
	if a.X != 0.5 || a.Y != 20 {
		t.Errorf("atom moved to (%g, %g), want the pre-fit position (0.5, 20)", a.X, a.Y)
	}
	if a.Amplitude != 0 {
		t.Errorf("amplitude = %g, want 0 for a failed fit", a.Amplitude)
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi / 4, math.Pi / 4},
		{math.Pi, 0},
		{-math.Pi / 4, 3 * math.Pi / 4},
		{3 * math.Pi / 2, math.Pi / 2},
	}
	for _, c := range cases {
		if got := normalizeRotation(c.in); different(got, c.want, 1e-12) {
			t.Errorf("normalizeRotation(%g) = %g, want %g", c.in, got, c.want)
		}
	}
}

func TestBuildModelImage(t *testing.T) {
	td := NewTestData(80, 80).AddGrid(20, 2.0, 100)
	s, err := td.Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefineGaussian(DefaultGaussianConfig()); err != nil {
		t.Fatal(err)
	}
	model, err := s.BuildModelImage()
	if err != nil {
		t.Fatal(err)
	}
	// The model should reproduce the noiseless image closely at the
	// column centers.
	for _, a := range s.Atoms {
		i := int(math.Round(a.X))
		j := int(math.Round(a.Y))
		orig := s.Image.Get(j, i)
		got := model.Get(j, i)
		if different(got, orig, 0.05*orig) {
			t.Errorf("model at (%d, %d) = %g, image = %g", i, j, got, orig)
		}
	}
}

func TestSubtractSublattice(t *testing.T) {
	td := NewTestData(80, 80).AddGrid(20, 2.0, 100)
	s, err := td.Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefineGaussian(DefaultGaussianConfig()); err != nil {
		t.Fatal(err)
	}
	out, err := SubtractSublattice(s.Image, s)
	if err != nil {
		t.Fatal(err)
	}
	// Residual intensity at the column centers should be a small
	// fraction of the original peaks.
	for _, a := range s.Atoms {
		i := int(math.Round(a.X))
		j := int(math.Round(a.Y))
		if r := out.Get(j, i); r > 10 {
			t.Errorf("residual %g at column center (%d, %d)", r, i, j)
		}
		if out.Get(j, i) < 0 {
			t.Errorf("negative residual at (%d, %d)", i, j)
		}
	}
	// Input untouched.
	if s.Image.Get(20, 20) == 0 {
		t.Error("input image appears modified")
	}
}

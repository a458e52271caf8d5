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
	"sync"
)

// RefineResult summarizes a refinement pass over a sublattice.
type RefineResult struct {
	// Refined is the number of atoms whose position was updated.
	Refined int
	// Skipped is the number of atoms left untouched because their
	// RefinePosition flag is false.
	Skipped int
	// Failed holds the indices of atoms whose Gaussian fit was rejected
	// and which fell back to their center-of-mass position. Always empty
	// for center-of-mass passes.
	Failed []int
}

// RefineCenterOfMass moves every unpinned atom to the intensity-weighted
// centroid of a circular window around it, iterating each atom until the
// update is below cfg.PositionTolerance or cfg.MaxIterations is reached.
// The window radius is cfg.PercentToNN times the atom's nearest-neighbor
// distance, so FindNearestNeighbors must have been called. Atoms are
// processed concurrently; the result is independent of the worker count
// because each worker owns a strided subset of the index range and atoms
// never read each other's positions mid-pass.
func (s *Sublattice) RefineCenterOfMass(cfg RefineConfig) (*RefineResult, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if cfg.MaskRadius == 0 && s.neighborCount < 1 {
		return nil, fmt.Errorf("atomap: RefineCenterOfMass: neighbor lists not built; call FindNearestNeighbors first")
	}
	s.snapshot("centerOfMass")

	radii, err := s.windowRadii(cfg)
	if err != nil {
		return nil, err
	}

	nprocs := cfg.workers()
	results := make([]bool, len(s.Atoms))
	var wg sync.WaitGroup
	for pp := 0; pp < nprocs; pp++ {
		wg.Add(1)
		go func(pp int) {
			defer wg.Done()
			for ii := pp; ii < len(s.Atoms); ii += nprocs {
				a := s.Atoms[ii]
				if !a.RefinePosition {
					continue
				}
				x, y := a.X, a.Y
				for iter := 0; iter < cfg.MaxIterations; iter++ {
					nx, ny, ok := CenterOfMass(s.Image, x, y, radii[ii])
					if !ok {
						break
					}
					dx, dy := nx-x, ny-y
					x, y = nx, ny
					if dx*dx+dy*dy < cfg.PositionTolerance*cfg.PositionTolerance {
						break
					}
				}
				a.logPosition()
				a.X, a.Y = x, y
				a.State = StateCenterOfMassDone
				results[ii] = true
			}
		}(pp)
	}
	wg.Wait()

	s.invalidateGeometry()
	res := &RefineResult{}
	for ii := range s.Atoms {
		if results[ii] {
			res.Refined++
		} else if !s.Atoms[ii].RefinePosition {
			res.Skipped++
		}
	}
	return res, nil
}

// RefineGaussian fits a rotated elliptical 2-D Gaussian to the image
// around every unpinned atom and adopts the fitted center, widths,
// rotation, and amplitude. The fit window radius is cfg.PercentToNN times
// the atom's nearest-neighbor distance. A rejected fit is retried with a
// shrinking window; if all retries fail the atom keeps its current
// position with zero amplitude, is marked StateFitFailed, and its index is
// reported in Failed. A failed fit never aborts the pass.
func (s *Sublattice) RefineGaussian(cfg RefineConfig) (*RefineResult, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if cfg.MaskRadius == 0 && s.neighborCount < 1 {
		return nil, fmt.Errorf("atomap: RefineGaussian: neighbor lists not built; call FindNearestNeighbors first")
	}
	s.snapshot("gaussian")

	radii, err := s.windowRadii(cfg)
	if err != nil {
		return nil, err
	}

	type outcome int
	const (
		outSkipped outcome = iota
		outRefined
		outFailed
	)
	nprocs := cfg.workers()
	results := make([]outcome, len(s.Atoms))
	var wg sync.WaitGroup
	for pp := 0; pp < nprocs; pp++ {
		wg.Add(1)
		go func(pp int) {
			defer wg.Done()
			for ii := pp; ii < len(s.Atoms); ii += nprocs {
				a := s.Atoms[ii]
				if !a.RefinePosition {
					continue
				}
				g, ok := fitGaussianAtom(s.Image, a, radii[ii], cfg.DisableRotation)
				a.logPosition()
				if !ok {
					a.Amplitude = 0
					a.State = StateFitFailed
					results[ii] = outFailed
					continue
				}
				a.X, a.Y = g.CenterX, g.CenterY
				a.SigmaX, a.SigmaY = g.SigmaX, g.SigmaY
				a.Rotation = g.Rotation
				a.Amplitude = g.Amplitude
				a.State = StateGaussianDone
				results[ii] = outRefined
			}
		}(pp)
	}
	wg.Wait()

	s.invalidateGeometry()
	res := &RefineResult{}
	for ii, o := range results {
		switch o {
		case outRefined:
			res.Refined++
		case outFailed:
			res.Failed = append(res.Failed, ii)
		default:
			if !s.Atoms[ii].RefinePosition {
				res.Skipped++
			}
		}
	}
	return res, nil
}

// windowRadii returns the per-atom refinement window radius: the fixed
// MaskRadius when set, otherwise PercentToNN times each atom's
// nearest-neighbor distance.
func (s *Sublattice) windowRadii(cfg RefineConfig) ([]float64, error) {
	radii := make([]float64, len(s.Atoms))
	if cfg.MaskRadius > 0 {
		for i := range radii {
			radii[i] = cfg.MaskRadius
		}
		return radii, nil
	}
	for i := range s.Atoms {
		d, err := s.nearestNeighborDistance(i)
		if err != nil {
			return nil, fmt.Errorf("atomap: %v", err)
		}
		radii[i] = cfg.PercentToNN * d
	}
	return radii, nil
}

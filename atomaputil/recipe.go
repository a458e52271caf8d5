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

package atomaputil

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Recipe describes a multi-sublattice processing run: which sublattices to
// locate, in what order, and with what parameters. Sublattices are
// processed brightest first; each subsequent sublattice is located on the
// image with the previously fitted sublattices subtracted.
type Recipe struct {
	// Name labels the resulting atom lattice.
	Name string

	// Scale and Units calibrate pixel size; Scale 0 leaves the lattice
	// uncalibrated.
	Scale float64
	Units string

	Sublattices []SublatticeRecipe
}

// SublatticeRecipe is the per-sublattice section of a processing recipe.
type SublatticeRecipe struct {
	Name  string
	Color string

	// Separation is the minimum peak distance in pixels.
	Separation float64

	// ThresholdRel overrides the relative intensity threshold for peak
	// finding; zero keeps the default.
	ThresholdRel float64

	// PCAComponents enables truncated-PCA denoising before peak finding
	// when positive.
	PCAComponents int

	// SubtractBackground removes the low-frequency background before
	// peak finding.
	SubtractBackground bool

	// NearestNeighbors is the neighbor list size used for refinement;
	// zero keeps the default.
	NearestNeighbors int

	// SkipGaussian stops refinement after the center-of-mass pass.
	SkipGaussian bool

	// ZoneAxes also constructs zone axes and atom planes for this
	// sublattice.
	ZoneAxes bool

	// Element and ElementZ optionally record the column composition.
	Element  string
	ElementZ []float64
}

// ReadRecipe reads and validates a TOML recipe file.
func ReadRecipe(filename string) (*Recipe, error) {
	var r Recipe
	if _, err := toml.DecodeFile(filename, &r); err != nil {
		return nil, fmt.Errorf("atomap: reading recipe file %s: %v", filename, err)
	}
	if err := r.Valid(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Valid returns an error describing the first invalid field, if any.
func (r *Recipe) Valid() error {
	if len(r.Sublattices) == 0 {
		return fmt.Errorf("atomap: recipe has no sublattices")
	}
	if r.Scale < 0 {
		return fmt.Errorf("atomap: recipe scale must be non-negative, got %g", r.Scale)
	}
	for i, s := range r.Sublattices {
		if s.Separation < 1 {
			return fmt.Errorf("atomap: recipe sublattice %d (%s): separation must be at least 1 pixel, got %g",
				i, s.Name, s.Separation)
		}
		if s.ThresholdRel < 0 || s.ThresholdRel > 1 {
			return fmt.Errorf("atomap: recipe sublattice %d (%s): threshold must be in [0, 1], got %g",
				i, s.Name, s.ThresholdRel)
		}
		if s.NearestNeighbors < 0 {
			return fmt.Errorf("atomap: recipe sublattice %d (%s): neighbor count must be non-negative, got %d",
				i, s.Name, s.NearestNeighbors)
		}
	}
	return nil
}

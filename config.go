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
	"runtime"
)

// PeakConfig controls the initial peak finding pass.
type PeakConfig struct {
	// Separation is the minimum distance in pixels allowed between two
	// peaks. Must be at least 1.
	Separation float64

	// ThresholdRel discards candidate maxima whose intensity is below
	// ThresholdRel × the image maximum. Must be in [0, 1].
	ThresholdRel float64

	// PCAComponents, if positive, denoises the image with a truncated
	// principal component reconstruction before peak finding, keeping
	// this many components.
	PCAComponents int

	// SubtractBackground removes a smoothed low-frequency background
	// estimate from the image before peak finding.
	SubtractBackground bool

	// Normalize rescales image intensities to [0, 1] before peak finding.
	Normalize bool
}

// DefaultPeakConfig returns the peak finding defaults.
func DefaultPeakConfig(separation float64) PeakConfig {
	return PeakConfig{
		Separation:   separation,
		ThresholdRel: 0.02,
	}
}

// Valid returns an error describing the first invalid field, if any.
func (c PeakConfig) Valid() error {
	if c.Separation < 1 {
		return fmt.Errorf("atomap: peak separation must be at least 1 pixel, got %g", c.Separation)
	}
	if c.ThresholdRel < 0 || c.ThresholdRel > 1 {
		return fmt.Errorf("atomap: relative threshold must be in [0, 1], got %g", c.ThresholdRel)
	}
	if c.PCAComponents < 0 {
		return fmt.Errorf("atomap: PCA component count must be non-negative, got %d", c.PCAComponents)
	}
	return nil
}

// SweepConfig controls a separation parameter sweep.
type SweepConfig struct {
	// MinSeparation and MaxSeparation bound the inclusive sweep range in
	// pixels. MinSeparation must be at least 1 and not exceed
	// MaxSeparation.
	MinSeparation float64
	MaxSeparation float64

	// Step is the separation increment between sweep points. Must be
	// positive.
	Step float64

	// PeakConfig supplies the remaining peak finding parameters; its
	// Separation field is overwritten at every sweep point.
	PeakConfig PeakConfig
}

// DefaultSweepConfig returns a sweep over separations 5 through 30 in
// steps of 1 pixel.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		MinSeparation: 5,
		MaxSeparation: 30,
		Step:          1,
		PeakConfig:    DefaultPeakConfig(5),
	}
}

// Valid returns an error describing the first invalid field, if any.
func (c SweepConfig) Valid() error {
	if c.MinSeparation < 1 {
		return fmt.Errorf("atomap: sweep minimum separation must be at least 1 pixel, got %g", c.MinSeparation)
	}
	if c.MaxSeparation < c.MinSeparation {
		return fmt.Errorf("atomap: sweep maximum separation %g below minimum %g",
			c.MaxSeparation, c.MinSeparation)
	}
	if c.Step <= 0 {
		return fmt.Errorf("atomap: sweep step must be positive, got %g", c.Step)
	}
	return nil
}

// RefineConfig controls the per-atom position refinement passes.
type RefineConfig struct {
	// PercentToNN sizes the circular window used around each atom, as a
	// fraction of the distance to its nearest neighbor. Must be in
	// (0, 1) unless MaskRadius is set.
	PercentToNN float64

	// MaskRadius, if positive, uses the same fixed window radius in
	// pixels for every atom instead of scaling by the nearest-neighbor
	// distance, and removes the need for neighbor lists.
	MaskRadius float64

	// DisableRotation pins the Gaussian rotation angle at zero so only
	// axis-aligned elliptical fits are attempted. Ignored by the
	// center-of-mass pass.
	DisableRotation bool

	// MaxIterations bounds the center-of-mass iteration per atom.
	MaxIterations int

	// PositionTolerance stops the center-of-mass iteration once an
	// update moves the position by less than this many pixels.
	PositionTolerance float64

	// Workers is the number of goroutines refining atoms concurrently.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int
}

// DefaultCOMConfig returns the center-of-mass refinement defaults.
func DefaultCOMConfig() RefineConfig {
	return RefineConfig{
		PercentToNN:       0.25,
		MaxIterations:     10,
		PositionTolerance: 1e-3,
	}
}

// DefaultGaussianConfig returns the Gaussian refinement defaults. The
// window is wider than for center of mass so the fit sees the tails of the
// column.
func DefaultGaussianConfig() RefineConfig {
	return RefineConfig{
		PercentToNN:       0.40,
		MaxIterations:     10,
		PositionTolerance: 1e-3,
	}
}

// Valid returns an error describing the first invalid field, if any.
func (c RefineConfig) Valid() error {
	if c.MaskRadius < 0 {
		return fmt.Errorf("atomap: mask radius must be non-negative, got %g", c.MaskRadius)
	}
	if c.MaskRadius == 0 && (c.PercentToNN <= 0 || c.PercentToNN >= 1) {
		return fmt.Errorf("atomap: percent-to-nearest-neighbor must be in (0, 1), got %g", c.PercentToNN)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("atomap: refinement iteration limit must be at least 1, got %d", c.MaxIterations)
	}
	if c.PositionTolerance <= 0 {
		return fmt.Errorf("atomap: position tolerance must be positive, got %g", c.PositionTolerance)
	}
	if c.Workers < 0 {
		return fmt.Errorf("atomap: worker count must be non-negative, got %d", c.Workers)
	}
	return nil
}

func (c RefineConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ZoneConfig controls zone axis construction.
type ZoneConfig struct {
	// NearestNeighbors is the neighbor list size used when collecting
	// displacement vectors.
	NearestNeighbors int

	// MaxZoneVectors caps how many zone vectors are kept, smallest
	// magnitude first. Zero means no cap.
	MaxZoneVectors int

	// PlaneTolerance scales the acceptance radius when growing planes:
	// a step is accepted if the candidate atom lies within
	// PlaneTolerance × pixel separation of the expected position.
	PlaneTolerance float64

	// ParallelTolerance scales the radius within which two candidate
	// zone vectors count as parallel or antiparallel duplicates, again
	// as a fraction of the pixel separation.
	ParallelTolerance float64
}

// DefaultZoneConfig returns the zone axis construction defaults.
func DefaultZoneConfig() ZoneConfig {
	return ZoneConfig{
		NearestNeighbors:  15,
		PlaneTolerance:    0.5,
		ParallelTolerance: 1 / 1.5,
	}
}

// Valid returns an error describing the first invalid field, if any.
func (c ZoneConfig) Valid() error {
	if c.NearestNeighbors < 1 {
		return fmt.Errorf("atomap: zone neighbor count must be at least 1, got %d", c.NearestNeighbors)
	}
	if c.MaxZoneVectors < 0 {
		return fmt.Errorf("atomap: zone vector cap must be non-negative, got %d", c.MaxZoneVectors)
	}
	if c.PlaneTolerance <= 0 {
		return fmt.Errorf("atomap: plane tolerance must be positive, got %g", c.PlaneTolerance)
	}
	if c.ParallelTolerance <= 0 {
		return fmt.Errorf("atomap: parallel vector tolerance must be positive, got %g", c.ParallelTolerance)
	}
	return nil
}

// InterpolateConfig controls missing-atom interpolation along atom planes.
type InterpolateConfig struct {
	// VectorFraction places each interpolated position at
	// prev + VectorFraction × (next − prev) between consecutive plane
	// atoms. Must be strictly inside (0, 1).
	VectorFraction float64

	// ExtendOuterEdges also proposes positions one lattice step beyond
	// each end of every plane.
	ExtendOuterEdges bool

	// OuterEdgeLimit drops extended positions that fall within this many
	// pixels of the image border.
	OuterEdgeLimit float64
}

// DefaultInterpolateConfig returns midpoint interpolation without edge
// extension.
func DefaultInterpolateConfig() InterpolateConfig {
	return InterpolateConfig{
		VectorFraction: 0.5,
		OuterEdgeLimit: 5,
	}
}

// Valid returns an error describing the first invalid field, if any.
func (c InterpolateConfig) Valid() error {
	if c.VectorFraction <= 0 || c.VectorFraction >= 1 {
		return fmt.Errorf("atomap: vector fraction must be in (0, 1), got %g", c.VectorFraction)
	}
	if c.OuterEdgeLimit < 0 {
		return fmt.Errorf("atomap: outer edge limit must be non-negative, got %g", c.OuterEdgeLimit)
	}
	return nil
}

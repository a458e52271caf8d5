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

// Package atomap locates atomic columns in atomic-resolution scanning
// transmission electron microscopy (STEM) images and recovers the lattice
// structure of the imaged crystal from the resulting point set.
package atomap

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// Version is the version of this software.
const Version = "0.3.0"

// RefineState tracks how far an atom position has progressed through the
// two-stage refinement.
type RefineState int

const (
	// StateUnrefined means the position is as reported by the peak finder
	// or the missing-atom interpolator.
	StateUnrefined RefineState = iota
	// StateCenterOfMassDone means the position has been moved to the
	// intensity-weighted centroid of its local window.
	StateCenterOfMassDone
	// StateGaussianDone means the position and shape come from a converged
	// 2-D Gaussian fit.
	StateGaussianDone
	// StateFitFailed means the Gaussian fit did not produce a physically
	// plausible result; the position is the center-of-mass fallback.
	StateFitFailed
)

func (s RefineState) String() string {
	switch s {
	case StateUnrefined:
		return "unrefined"
	case StateCenterOfMassDone:
		return "centerOfMass"
	case StateGaussianDone:
		return "gaussian"
	case StateFitFailed:
		return "fitFailed"
	default:
		return fmt.Sprintf("RefineState(%d)", int(s))
	}
}

// Position is a point in image pixel coordinates, where X indexes columns
// and Y indexes rows.
type Position struct {
	X, Y float64
}

// ZoneVector is a recurring neighbor-to-neighbor translation direction
// discovered by the zone axis constructor. The components are the average
// displacement of its cluster, in pixels.
type ZoneVector struct {
	X, Y float64
}

// Magnitude returns the length of the vector in pixels.
func (z ZoneVector) Magnitude() float64 {
	return math.Hypot(z.X, z.Y)
}

// Negated returns the antiparallel vector.
func (z ZoneVector) Negated() ZoneVector {
	return ZoneVector{X: -z.X, Y: -z.Y}
}

// Calibration converts pixel coordinates to physical units.
type Calibration struct {
	Scale float64 // physical size of one pixel
	Units string  // e.g. "nm" or "Å"
}

// ElementZ pairs an element symbol with a z-position along the beam
// direction. The slice of these attached to an atom position describes the
// composition of an atomic column; this package carries the information for
// external converters but does not interpret it.
type ElementZ struct {
	Element string
	Z       float64
}

// AtomPosition is a single atomic column: its location in pixel
// coordinates, its fitted elliptical Gaussian shape, and its refinement
// history. Atom positions are owned by exactly one Sublattice and are
// referenced elsewhere (neighbor lists, atom planes) by index into the
// owning sublattice.
type AtomPosition struct {
	X, Y float64

	// Fitted shape parameters. SigmaX and SigmaY are the Gaussian widths
	// in pixels, Rotation is in radians normalized to [0, π), Amplitude is
	// the fitted peak height above the local background. All zero until
	// the Gaussian refinement pass has run.
	SigmaX    float64
	SigmaY    float64
	Rotation  float64
	Amplitude float64

	State RefineState

	// RefinePosition can be set to false to pin an atom so the refinement
	// passes skip it.
	RefinePosition bool

	// ElementInfo optionally lists the atoms in this column, ordered by
	// z-position.
	ElementInfo []ElementZ

	// OldX and OldY log the positions this atom held before each
	// refinement step, oldest first.
	OldX, OldY []float64

	// neighbors holds indices into the owning sublattice's atom slice,
	// closest first. Populated by FindNearestNeighbors.
	neighbors []int
}

// NewAtomPosition returns an unrefined atom position at (x, y).
func NewAtomPosition(x, y float64) *AtomPosition {
	return &AtomPosition{X: x, Y: y, RefinePosition: true}
}

// Ellipticity is the ratio of the larger to the smaller fitted Gaussian
// width. It is 1 for a circular column and grows with distortion. Returns 0
// if the atom has no fitted shape.
func (a *AtomPosition) Ellipticity() float64 {
	if a.SigmaX == 0 || a.SigmaY == 0 {
		return 0
	}
	if a.SigmaX > a.SigmaY {
		return a.SigmaX / a.SigmaY
	}
	return a.SigmaY / a.SigmaX
}

// Distance returns the pixel distance to another atom.
func (a *AtomPosition) Distance(b *AtomPosition) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// DistanceFrom returns the pixel distance from the atom to the point (x, y).
func (a *AtomPosition) DistanceFrom(x, y float64) float64 {
	return math.Hypot(a.X-x, a.Y-y)
}

// PixelDifference returns the displacement (dx, dy) from this atom to b.
func (a *AtomPosition) PixelDifference(b *AtomPosition) (float64, float64) {
	return b.X - a.X, b.Y - a.Y
}

// Neighbors returns the indices of this atom's nearest neighbors in the
// owning sublattice, closest first. The returned slice must not be
// modified.
func (a *AtomPosition) Neighbors() []int {
	return a.neighbors
}

// logPosition appends the current position to the atom's history.
func (a *AtomPosition) logPosition() {
	a.OldX = append(a.OldX, a.X)
	a.OldY = append(a.OldY, a.Y)
}

// Snapshot is one entry in a sublattice's position history: the coordinates
// of every atom at one stage of processing.
type Snapshot struct {
	Stage     string
	Positions []Position
}

// Sublattice owns one homogeneous population of atomic columns measured on
// a shared image, together with the zone vectors and atom planes discovered
// for it. Atom positions are addressed by index; neighbor lists and planes
// refer to atoms by those indices and never across sublattice boundaries.
type Sublattice struct {
	Name  string
	Color string

	// Atoms is the index-addressed arena of atom positions. Insertion
	// order is significant and stable.
	Atoms []*AtomPosition

	// Image is the working image the sublattice is measured on. It may be
	// a processed version (for example with a brighter sublattice
	// subtracted) of OriginalImage. Both are shared and treated as
	// read-only; the caller retains ownership.
	Image         *sparse.DenseArray
	OriginalImage *sparse.DenseArray

	Calibration Calibration

	// ZoneAxes are the symmetry-equivalent translation vectors discovered
	// by ConstructZoneAxes, sorted by magnitude. Planes refer to zone
	// vectors by index into this slice.
	ZoneAxes []ZoneVector

	// Planes holds every discovered atom plane across all zone axes.
	Planes []*AtomPlane

	// planesByZone[i] indexes into Planes for zone vector i, in
	// orthogonal-offset order.
	planesByZone [][]int

	// History holds full-sublattice position snapshots appended before
	// each refinement pass mutates the atoms.
	History []Snapshot

	// pixelSeparation caches the median nearest-neighbor half-distance.
	// Zero means not yet computed; refinement resets it.
	pixelSeparation float64

	// neighborCount is the k used for the current neighbor lists.
	neighborCount int
}

// NewSublattice creates a sublattice owning one atom position per initial
// candidate. The image is shared, not copied, and every position must lie
// within its bounds.
func NewSublattice(positions []Position, image *sparse.DenseArray) (*Sublattice, error) {
	if err := validateImage(image); err != nil {
		return nil, fmt.Errorf("atomap: NewSublattice: %w", err)
	}
	ny, nx := image.Shape[0], image.Shape[1]
	s := &Sublattice{
		Image:         image,
		OriginalImage: image,
		Atoms:         make([]*AtomPosition, 0, len(positions)),
	}
	for i, p := range positions {
		if p.X < 0 || p.Y < 0 || p.X > float64(nx-1) || p.Y > float64(ny-1) {
			return nil, fmt.Errorf("atomap: NewSublattice: position %d (%g, %g) outside image %d×%d",
				i, p.X, p.Y, nx, ny)
		}
		s.Atoms = append(s.Atoms, NewAtomPosition(p.X, p.Y))
	}
	return s, nil
}

// Positions returns the current coordinates of every atom, in index order.
func (s *Sublattice) Positions() []Position {
	out := make([]Position, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = Position{X: a.X, Y: a.Y}
	}
	return out
}

// XPositions returns the x coordinate of every atom, in index order.
func (s *Sublattice) XPositions() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.X
	}
	return out
}

// YPositions returns the y coordinate of every atom, in index order.
func (s *Sublattice) YPositions() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.Y
	}
	return out
}

// SetScale sets the pixel-to-physical calibration for the sublattice.
func (s *Sublattice) SetScale(scale float64, units string) error {
	if scale <= 0 {
		return fmt.Errorf("atomap: SetScale: scale must be positive, got %g", scale)
	}
	s.Calibration = Calibration{Scale: scale, Units: units}
	return nil
}

// SetElementInfo assigns the same column composition to every atom in the
// sublattice: one element at each of the given z positions.
func (s *Sublattice) SetElementInfo(element string, z []float64) {
	for _, a := range s.Atoms {
		info := make([]ElementZ, len(z))
		for i, zv := range z {
			info[i] = ElementZ{Element: element, Z: zv}
		}
		a.ElementInfo = info
	}
}

// PlanesByZone returns the atom planes associated with zone vector
// zoneIndex, in stable orthogonal-offset order.
func (s *Sublattice) PlanesByZone(zoneIndex int) ([]*AtomPlane, error) {
	if zoneIndex < 0 || zoneIndex >= len(s.ZoneAxes) {
		return nil, fmt.Errorf("atomap: PlanesByZone: zone index %d out of range [0, %d)",
			zoneIndex, len(s.ZoneAxes))
	}
	idx := s.planesByZone[zoneIndex]
	out := make([]*AtomPlane, len(idx))
	for i, pi := range idx {
		out[i] = s.Planes[pi]
	}
	return out, nil
}

// snapshot appends the current positions of all atoms to the history.
func (s *Sublattice) snapshot(stage string) {
	s.History = append(s.History, Snapshot{Stage: stage, Positions: s.Positions()})
}

// invalidateGeometry drops cached values that depend on atom coordinates.
// Zone axes and planes are not recomputed automatically; they must be
// rebuilt with ConstructZoneAxes after refinement moves atoms.
func (s *Sublattice) invalidateGeometry() {
	s.pixelSeparation = 0
}

func (s *Sublattice) String() string {
	return fmt.Sprintf("<Sublattice %q (atoms:%d, zones:%d, planes:%d)>",
		s.Name, len(s.Atoms), len(s.ZoneAxes), len(s.Planes))
}

// AtomLattice is a collection of sublattices measured on a common image.
// It is the top-level structure handed to persistence and visualization
// consumers.
type AtomLattice struct {
	Name        string
	Sublattices []*Sublattice
	Image       *sparse.DenseArray
}

// NewAtomLattice creates an empty atom lattice for the given image.
func NewAtomLattice(name string, image *sparse.DenseArray) (*AtomLattice, error) {
	if err := validateImage(image); err != nil {
		return nil, fmt.Errorf("atomap: NewAtomLattice: %w", err)
	}
	return &AtomLattice{Name: name, Image: image}, nil
}

// AddSublattice appends a sublattice to the lattice.
func (l *AtomLattice) AddSublattice(s *Sublattice) {
	l.Sublattices = append(l.Sublattices, s)
}

func (l *AtomLattice) String() string {
	n := 0
	for _, s := range l.Sublattices {
		n += len(s.Atoms)
	}
	return fmt.Sprintf("<AtomLattice %q (sublattices:%d, atoms:%d)>",
		l.Name, len(l.Sublattices), n)
}

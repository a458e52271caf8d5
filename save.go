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
	"encoding/gob"
	"fmt"
	"io"

	"github.com/ctessum/sparse"
)

// The snapshot types below are the stable wire form of a processed
// lattice. They carry everything needed to rebuild the in-memory
// structures except interior caches, which are recomputed on load.

// AtomSnapshot is the serialized form of one atom position.
type AtomSnapshot struct {
	X, Y           float64
	SigmaX, SigmaY float64
	Rotation       float64
	Amplitude      float64
	State          int
	RefinePosition bool
	ElementInfo    []ElementZ
	OldX, OldY     []float64
	Neighbors      []int
}

// PlaneSnapshot is the serialized form of one atom plane.
type PlaneSnapshot struct {
	ZoneIndex int
	Atoms     []int
}

// SublatticeSnapshot is the serialized form of one sublattice.
type SublatticeSnapshot struct {
	Name          string
	Color         string
	Atoms         []AtomSnapshot
	Calibration   Calibration
	ZoneAxes      []ZoneVector
	Planes        []PlaneSnapshot
	PlanesByZone  [][]int
	History       []Snapshot
	NeighborCount int

	// HasOwnImage marks a sublattice whose working image differs from the
	// lattice image (for example after SubtractSublattice); Image is only
	// populated in that case.
	HasOwnImage bool
	Image       *sparse.DenseArray
}

// LatticeSnapshot is the serialized form of an atom lattice.
type LatticeSnapshot struct {
	Version     string
	Name        string
	Image       *sparse.DenseArray
	Sublattices []SublatticeSnapshot
}

func init() {
	gob.Register(LatticeSnapshot{})
}

// Snapshot converts the lattice to its serializable form.
func (l *AtomLattice) Snapshot() *LatticeSnapshot {
	snap := &LatticeSnapshot{
		Version: Version,
		Name:    l.Name,
		Image:   l.Image,
	}
	for _, s := range l.Sublattices {
		snap.Sublattices = append(snap.Sublattices, s.toSnapshot(l.Image))
	}
	return snap
}

func (s *Sublattice) toSnapshot(latticeImage *sparse.DenseArray) SublatticeSnapshot {
	ss := SublatticeSnapshot{
		Name:          s.Name,
		Color:         s.Color,
		Calibration:   s.Calibration,
		ZoneAxes:      s.ZoneAxes,
		PlanesByZone:  s.planesByZone,
		History:       s.History,
		NeighborCount: s.neighborCount,
	}
	for _, a := range s.Atoms {
		ss.Atoms = append(ss.Atoms, AtomSnapshot{
			X: a.X, Y: a.Y,
			SigmaX: a.SigmaX, SigmaY: a.SigmaY,
			Rotation:       a.Rotation,
			Amplitude:      a.Amplitude,
			State:          int(a.State),
			RefinePosition: a.RefinePosition,
			ElementInfo:    a.ElementInfo,
			OldX:           a.OldX,
			OldY:           a.OldY,
			Neighbors:      a.neighbors,
		})
	}
	for _, p := range s.Planes {
		ss.Planes = append(ss.Planes, PlaneSnapshot{ZoneIndex: p.ZoneIndex, Atoms: p.Atoms})
	}
	if s.Image != latticeImage {
		ss.HasOwnImage = true
		ss.Image = s.Image
	}
	return ss
}

// RestoreLattice rebuilds an atom lattice from its serialized form.
func RestoreLattice(snap *LatticeSnapshot) (*AtomLattice, error) {
	if err := validateImage(snap.Image); err != nil {
		return nil, fmt.Errorf("atomap: RestoreLattice: %w", err)
	}
	l := &AtomLattice{Name: snap.Name, Image: snap.Image}
	for i, ss := range snap.Sublattices {
		s, err := ss.restore(snap.Image)
		if err != nil {
			return nil, fmt.Errorf("atomap: RestoreLattice: sublattice %d: %v", i, err)
		}
		l.Sublattices = append(l.Sublattices, s)
	}
	return l, nil
}

func (ss SublatticeSnapshot) restore(latticeImage *sparse.DenseArray) (*Sublattice, error) {
	im := latticeImage
	if ss.HasOwnImage {
		if err := validateImage(ss.Image); err != nil {
			return nil, err
		}
		im = ss.Image
	}
	s := &Sublattice{
		Name:          ss.Name,
		Color:         ss.Color,
		Image:         im,
		OriginalImage: latticeImage,
		Calibration:   ss.Calibration,
		ZoneAxes:      ss.ZoneAxes,
		planesByZone:  ss.PlanesByZone,
		History:       ss.History,
		neighborCount: ss.NeighborCount,
	}
	for _, as := range ss.Atoms {
		for _, ni := range as.Neighbors {
			if ni < 0 || ni >= len(ss.Atoms) {
				return nil, fmt.Errorf("neighbor index %d out of range [0, %d)", ni, len(ss.Atoms))
			}
		}
		s.Atoms = append(s.Atoms, &AtomPosition{
			X: as.X, Y: as.Y,
			SigmaX: as.SigmaX, SigmaY: as.SigmaY,
			Rotation:       as.Rotation,
			Amplitude:      as.Amplitude,
			State:          RefineState(as.State),
			RefinePosition: as.RefinePosition,
			ElementInfo:    as.ElementInfo,
			OldX:           as.OldX,
			OldY:           as.OldY,
			neighbors:      as.Neighbors,
		})
	}
	for _, ps := range ss.Planes {
		if ps.ZoneIndex < 0 || ps.ZoneIndex >= len(ss.ZoneAxes) {
			return nil, fmt.Errorf("plane zone index %d out of range [0, %d)", ps.ZoneIndex, len(ss.ZoneAxes))
		}
		for _, ai := range ps.Atoms {
			if ai < 0 || ai >= len(s.Atoms) {
				return nil, fmt.Errorf("plane atom index %d out of range [0, %d)", ai, len(s.Atoms))
			}
		}
		s.Planes = append(s.Planes, &AtomPlane{
			ZoneIndex:  ps.ZoneIndex,
			Atoms:      ps.Atoms,
			sublattice: s,
		})
	}
	return s, nil
}

// Save writes the lattice to w in gob format.
func (l *AtomLattice) Save(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(l.Snapshot()); err != nil {
		return fmt.Errorf("atomap: saving lattice: %v", err)
	}
	return nil
}

// Load reads a lattice previously written with Save.
func Load(r io.Reader) (*AtomLattice, error) {
	var snap LatticeSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("atomap: loading lattice: %v", err)
	}
	return RestoreLattice(&snap)
}

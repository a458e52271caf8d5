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
	"os"

	"github.com/atomap-dev/atomap"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Log is the logger used by the pipeline functions. Callers may replace
// its output or formatter.
var Log = logrus.New()

// defaultNearestNeighbors is the neighbor list size used for refinement
// when a recipe leaves it unset.
const defaultNearestNeighbors = 9

// ProcessRecipe runs the full detection pipeline described by the recipe
// on the image: for each sublattice, find peaks, refine positions, and
// optionally construct zone axes. Each fitted sublattice is subtracted
// from the working image before the next one is located, so brighter
// sublattices should come first in the recipe.
func ProcessRecipe(im *sparse.DenseArray, recipe *Recipe) (*atomap.AtomLattice, error) {
	if err := recipe.Valid(); err != nil {
		return nil, err
	}
	lattice, err := atomap.NewAtomLattice(recipe.Name, im)
	if err != nil {
		return nil, err
	}
	work := im
	for i, sr := range recipe.Sublattices {
		Log.WithFields(logrus.Fields{
			"sublattice": sr.Name,
			"separation": sr.Separation,
		}).Info("locating sublattice")
		sub, err := DetectSublattice(work, sr)
		if err != nil {
			return nil, fmt.Errorf("atomap: recipe sublattice %d (%s): %v", i, sr.Name, err)
		}
		if recipe.Scale > 0 {
			if err := sub.SetScale(recipe.Scale, recipe.Units); err != nil {
				return nil, err
			}
		}
		lattice.AddSublattice(sub)

		// Remove the fitted columns before looking for the next, dimmer
		// sublattice.
		if i < len(recipe.Sublattices)-1 && !sr.SkipGaussian {
			work, err = atomap.SubtractSublattice(work, sub)
			if err != nil {
				return nil, fmt.Errorf("atomap: recipe sublattice %d (%s): %v", i, sr.Name, err)
			}
		}
	}
	return lattice, nil
}

// DetectSublattice locates and refines one sublattice on the image.
func DetectSublattice(im *sparse.DenseArray, sr SublatticeRecipe) (*atomap.Sublattice, error) {
	pc := atomap.DefaultPeakConfig(sr.Separation)
	if sr.ThresholdRel > 0 {
		pc.ThresholdRel = sr.ThresholdRel
	}
	pc.PCAComponents = sr.PCAComponents
	pc.SubtractBackground = sr.SubtractBackground

	positions, err := atomap.GetAtomPositions(im, pc)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("no atomic columns found at separation %g", sr.Separation)
	}
	Log.WithField("atoms", len(positions)).Info("initial peaks found")

	sub, err := atomap.NewSublattice(positions, im)
	if err != nil {
		return nil, err
	}
	sub.Name = sr.Name
	sub.Color = sr.Color
	if sr.Element != "" {
		sub.SetElementInfo(sr.Element, sr.ElementZ)
	}

	k := sr.NearestNeighbors
	if k == 0 {
		k = defaultNearestNeighbors
	}
	if err := sub.FindNearestNeighbors(k); err != nil {
		return nil, err
	}
	res, err := sub.RefineCenterOfMass(atomap.DefaultCOMConfig())
	if err != nil {
		return nil, err
	}
	Log.WithField("refined", res.Refined).Info("center-of-mass refinement done")

	if !sr.SkipGaussian {
		res, err = sub.RefineGaussian(atomap.DefaultGaussianConfig())
		if err != nil {
			return nil, err
		}
		if len(res.Failed) > 0 {
			Log.WithFields(logrus.Fields{
				"refined": res.Refined,
				"failed":  len(res.Failed),
			}).Warn("some Gaussian fits fell back to center-of-mass positions")
		} else {
			Log.WithField("refined", res.Refined).Info("Gaussian refinement done")
		}
	}

	if sr.ZoneAxes {
		zres, err := sub.ConstructZoneAxes(atomap.DefaultZoneConfig())
		if err != nil {
			return nil, err
		}
		Log.WithFields(logrus.Fields{
			"zones":  len(zres.ZoneVectors),
			"planes": len(sub.Planes),
		}).Info("zone axes constructed")
	}
	return sub, nil
}

// SaveLattice writes a processed lattice to filename in gob format.
func SaveLattice(lattice *atomap.AtomLattice, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("atomap: creating lattice file: %v", err)
	}
	defer f.Close()
	return lattice.Save(f)
}

// LoadLattice reads a lattice previously written with SaveLattice.
func LoadLattice(filename string) (*atomap.AtomLattice, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("atomap: opening lattice file: %v", err)
	}
	defer f.Close()
	return atomap.Load(f)
}

// SweepSeparations runs a separation parameter sweep on the image and
// returns one summary line per sweep point.
func SweepSeparations(im *sparse.DenseArray, cfg atomap.SweepConfig) ([]string, error) {
	results, err := atomap.FindFeaturesBySeparation(im, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = fmt.Sprintf("separation %5.1f px: %d candidate columns", r.Separation, len(r.Positions))
	}
	return out, nil
}

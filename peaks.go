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
	"sort"

	"github.com/ctessum/sparse"
)

// tooCloseIterations caps the pruning loop in removeTooClose; a point set
// that still has close pairs after this many passes is left as is.
const tooCloseIterations = 20

// GetAtomPositions finds candidate atomic column positions in an image.
// The image is never modified: preprocessing configured in cfg
// (normalization, background subtraction, PCA denoising) operates on
// copies. Returned positions are sorted by (y, x) and pairwise separated
// by at least cfg.Separation pixels.
func GetAtomPositions(im *sparse.DenseArray, cfg PeakConfig) ([]Position, error) {
	if err := validateImage(im); err != nil {
		return nil, fmt.Errorf("atomap: GetAtomPositions: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	// A separation wider than the image cannot hold two columns, and a
	// single unconstrained maximum is not a meaningful detection.
	if cfg.Separation >= float64(im.Shape[0]) && cfg.Separation >= float64(im.Shape[1]) {
		return nil, nil
	}

	work := im
	if cfg.PCAComponents > 0 {
		var err error
		work, err = PCADenoise(work, cfg.PCAComponents)
		if err != nil {
			return nil, err
		}
	}
	if cfg.SubtractBackground {
		work = SubtractBackground(work, cfg.Separation*2)
	}
	if cfg.Normalize {
		work = NormalizeImage(work)
	}

	peaks := localMaxima(work, cfg.Separation, cfg.ThresholdRel)
	peaks = removeTooClose(peaks, cfg.Separation/2)

	out := make([]Position, len(peaks))
	for i, p := range peaks {
		out[i] = Position{X: p.x, Y: p.y}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out, nil
}

type peak struct {
	x, y      float64
	intensity float64
}

// localMaxima returns local intensity maxima at least minDist apart, found
// by comparing each pixel to the maximum of a square neighborhood of
// half-width minDist and then greedily suppressing weaker maxima within
// minDist of a stronger one. Ties are broken toward the earlier
// (y, x)-ordered pixel so results are deterministic.
func localMaxima(im *sparse.DenseArray, minDist, thresholdRel float64) []peak {
	ny, nx := im.Shape[0], im.Shape[1]
	imMax := math.Inf(-1)
	for _, v := range im.Elements {
		if v > imMax {
			imMax = v
		}
	}
	// A featureless (non-positive) image has no peaks.
	if imMax <= 0 {
		return nil
	}
	threshold := thresholdRel * imMax
	r := int(math.Ceil(minDist))

	var cands []peak
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v := im.Get(j, i)
			if v <= 0 || v < threshold {
				continue
			}
			if !isNeighborhoodMax(im, i, j, r, v) {
				continue
			}
			cands = append(cands, peak{x: float64(i), y: float64(j), intensity: v})
		}
	}

	// Strongest first; equal intensities keep scan order.
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].intensity > cands[j].intensity
	})
	kept := cands[:0]
	minDist2 := minDist * minDist
	for _, c := range cands {
		ok := true
		for _, k := range kept {
			dx, dy := c.x-k.x, c.y-k.y
			if dx*dx+dy*dy < minDist2 {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// isNeighborhoodMax reports whether v is the strict maximum of the square
// neighborhood around (i, j), except that ties with pixels later in scan
// order are allowed. This keeps exactly one candidate per intensity
// plateau.
func isNeighborhoodMax(im *sparse.DenseArray, i, j, r int, v float64) bool {
	ny, nx := im.Shape[0], im.Shape[1]
	for jj := j - r; jj <= j+r; jj++ {
		if jj < 0 || jj >= ny {
			continue
		}
		for ii := i - r; ii <= i+r; ii++ {
			if ii < 0 || ii >= nx || (ii == i && jj == j) {
				continue
			}
			w := im.Get(jj, ii)
			if w > v {
				return false
			}
			if w == v && (jj < j || (jj == j && ii < i)) {
				return false
			}
		}
	}
	return true
}

// removeTooClose repeatedly drops the dimmer member of any pair of peaks
// closer than minDist, until no such pair remains or the iteration cap is
// hit.
func removeTooClose(peaks []peak, minDist float64) []peak {
	if minDist <= 0 {
		return peaks
	}
	minDist2 := minDist * minDist
	for iter := 0; iter < tooCloseIterations; iter++ {
		drop := make([]bool, len(peaks))
		any := false
		for i := 0; i < len(peaks); i++ {
			if drop[i] {
				continue
			}
			for j := i + 1; j < len(peaks); j++ {
				if drop[j] {
					continue
				}
				dx := peaks[i].x - peaks[j].x
				dy := peaks[i].y - peaks[j].y
				if dx*dx+dy*dy >= minDist2 {
					continue
				}
				// Keep the brighter one; on a tie keep the earlier index.
				if peaks[j].intensity > peaks[i].intensity {
					drop[i] = true
				} else {
					drop[j] = true
				}
				any = true
			}
		}
		if !any {
			return peaks
		}
		kept := peaks[:0]
		for i, p := range peaks {
			if !drop[i] {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}
	return peaks
}

// SeparationResult is one point of a separation sweep: the candidate
// positions found at one minimum separation value.
type SeparationResult struct {
	Separation float64
	Positions  []Position
}

// FindFeaturesBySeparation runs peak finding across a range of minimum
// separation values so the caller can pick the separation matching the
// imaged lattice. Results are ordered by increasing separation; candidate
// counts are non-increasing along the sweep apart from pruning ties.
func FindFeaturesBySeparation(im *sparse.DenseArray, cfg SweepConfig) ([]SeparationResult, error) {
	if err := validateImage(im); err != nil {
		return nil, fmt.Errorf("atomap: FindFeaturesBySeparation: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	var out []SeparationResult
	for sep := cfg.MinSeparation; sep <= cfg.MaxSeparation+1e-9; sep += cfg.Step {
		pc := cfg.PeakConfig
		pc.Separation = sep
		pos, err := GetAtomPositions(im, pc)
		if err != nil {
			return nil, err
		}
		out = append(out, SeparationResult{Separation: sep, Positions: pos})
	}
	return out, nil
}

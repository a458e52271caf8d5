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
	"gonum.org/v1/gonum/mat"
)

// validateImage checks that the array is a non-empty 2-D image. The first
// dimension is rows (y), the second columns (x).
func validateImage(im *sparse.DenseArray) error {
	if im == nil {
		return fmt.Errorf("image is nil")
	}
	if len(im.Shape) != 2 {
		return fmt.Errorf("image must be 2-dimensional, got %d dimensions", len(im.Shape))
	}
	if im.Shape[0] < 1 || im.Shape[1] < 1 {
		return fmt.Errorf("image has empty dimension %v", im.Shape)
	}
	return nil
}

// NormalizeImage returns a copy of the image rescaled so its intensities
// span [0, 1]. A constant image maps to all zeros.
func NormalizeImage(im *sparse.DenseArray) *sparse.DenseArray {
	out := im.Copy()
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range out.Elements {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	if span == 0 {
		for i := range out.Elements {
			out.Elements[i] = 0
		}
		return out
	}
	for i, v := range out.Elements {
		out.Elements[i] = (v - min) / span
	}
	return out
}

// gaussianKernel builds a normalized 1-D Gaussian kernel with the given
// standard deviation, truncated at 4 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range k {
		d := float64(i - radius)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur convolves the image with a separable Gaussian kernel of the
// given standard deviation in pixels. Edges are handled by renormalizing
// the kernel over the in-bounds taps.
func GaussianBlur(im *sparse.DenseArray, sigma float64) *sparse.DenseArray {
	if sigma <= 0 {
		return im.Copy()
	}
	ny, nx := im.Shape[0], im.Shape[1]
	k := gaussianKernel(sigma)
	radius := len(k) / 2

	// Horizontal pass.
	tmp := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			sum, wsum := 0.0, 0.0
			for t := -radius; t <= radius; t++ {
				ii := i + t
				if ii < 0 || ii >= nx {
					continue
				}
				w := k[t+radius]
				sum += w * im.Get(j, ii)
				wsum += w
			}
			tmp.Set(sum/wsum, j, i)
		}
	}

	// Vertical pass.
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			sum, wsum := 0.0, 0.0
			for t := -radius; t <= radius; t++ {
				jj := j + t
				if jj < 0 || jj >= ny {
					continue
				}
				w := k[t+radius]
				sum += w * tmp.Get(jj, i)
				wsum += w
			}
			out.Set(sum/wsum, j, i)
		}
	}
	return out
}

// SubtractBackground returns the image minus a heavily blurred copy of
// itself, clamped at zero. The blur width should be large relative to the
// atomic column spacing so only the slowly varying background survives it.
func SubtractBackground(im *sparse.DenseArray, sigma float64) *sparse.DenseArray {
	bg := GaussianBlur(im, sigma)
	out := im.Copy()
	for i := range out.Elements {
		v := out.Elements[i] - bg.Elements[i]
		if v < 0 {
			v = 0
		}
		out.Elements[i] = v
	}
	return out
}

// PCADenoise reconstructs the image from its first n principal components,
// suppressing uncorrelated noise. The image rows are treated as
// observations. If n is zero or at least the full rank, a copy of the
// input is returned unchanged.
func PCADenoise(im *sparse.DenseArray, n int) (*sparse.DenseArray, error) {
	if err := validateImage(im); err != nil {
		return nil, fmt.Errorf("atomap: PCADenoise: %w", err)
	}
	ny, nx := im.Shape[0], im.Shape[1]
	rank := ny
	if nx < rank {
		rank = nx
	}
	if n <= 0 || n >= rank {
		return im.Copy(), nil
	}

	// Center each column before decomposing.
	colMean := make([]float64, nx)
	for i := 0; i < nx; i++ {
		sum := 0.0
		for j := 0; j < ny; j++ {
			sum += im.Get(j, i)
		}
		colMean[i] = sum / float64(ny)
	}
	m := mat.NewDense(ny, nx, nil)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			m.Set(j, i, im.Get(j, i)-colMean[i])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, fmt.Errorf("atomap: PCADenoise: SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	// Truncated reconstruction: U_n * diag(s_n) * V_nᵀ.
	un := u.Slice(0, ny, 0, n).(*mat.Dense)
	vn := v.Slice(0, nx, 0, n).(*mat.Dense)
	sn := mat.NewDiagDense(n, sv[:n])
	var us, rec mat.Dense
	us.Mul(un, sn)
	rec.Mul(&us, vn.T())

	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			out.Set(rec.At(j, i)+colMean[i], j, i)
		}
	}
	return out, nil
}

// CenterOfMass returns the intensity-weighted centroid of the pixels within
// radius of (cx, cy), in image coordinates. Pixels outside the image are
// ignored. If the total enclosed intensity is not positive, ok is false and
// the input position is returned unchanged.
func CenterOfMass(im *sparse.DenseArray, cx, cy, radius float64) (x, y float64, ok bool) {
	ny, nx := im.Shape[0], im.Shape[1]
	i0 := int(math.Floor(cx - radius))
	i1 := int(math.Ceil(cx + radius))
	j0 := int(math.Floor(cy - radius))
	j1 := int(math.Ceil(cy + radius))
	if i0 < 0 {
		i0 = 0
	}
	if j0 < 0 {
		j0 = 0
	}
	if i1 > nx-1 {
		i1 = nx - 1
	}
	if j1 > ny-1 {
		j1 = ny - 1
	}
	r2 := radius * radius
	var sum, sx, sy float64
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			dx, dy := float64(i)-cx, float64(j)-cy
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := im.Get(j, i)
			if v < 0 {
				v = 0
			}
			sum += v
			sx += v * float64(i)
			sy += v * float64(j)
		}
	}
	if sum <= 0 {
		return cx, cy, false
	}
	return sx / sum, sy / sum, true
}

// CropImage extracts a square window of half-width radius centered on the
// pixel nearest (cx, cy). The output is (2×radius+1)² with regions outside
// the image zero-filled, so a crop near a border keeps the center pixel at
// the center of the window.
func CropImage(im *sparse.DenseArray, cx, cy float64, radius int) (*sparse.DenseArray, error) {
	if err := validateImage(im); err != nil {
		return nil, fmt.Errorf("atomap: CropImage: %w", err)
	}
	if radius < 0 {
		return nil, fmt.Errorf("atomap: CropImage: radius must be non-negative, got %d", radius)
	}
	ny, nx := im.Shape[0], im.Shape[1]
	ci := int(math.Round(cx))
	cj := int(math.Round(cy))
	if ci < 0 || ci >= nx || cj < 0 || cj >= ny {
		return nil, fmt.Errorf("atomap: CropImage: center (%g, %g) outside image %v", cx, cy, im.Shape)
	}
	size := 2*radius + 1
	out := sparse.ZerosDense(size, size)
	for j := 0; j < size; j++ {
		sj := cj - radius + j
		if sj < 0 || sj >= ny {
			continue
		}
		for i := 0; i < size; i++ {
			si := ci - radius + i
			if si < 0 || si >= nx {
				continue
			}
			out.Set(im.Get(sj, si), j, i)
		}
	}
	return out, nil
}

// maskedWindow collects the pixels within radius of (cx, cy) that lie
// inside the image, returning their coordinates and values.
func maskedWindow(im *sparse.DenseArray, cx, cy, radius float64) (xs, ys []int, vals []float64) {
	ny, nx := im.Shape[0], im.Shape[1]
	i0 := int(math.Floor(cx - radius))
	i1 := int(math.Ceil(cx + radius))
	j0 := int(math.Floor(cy - radius))
	j1 := int(math.Ceil(cy + radius))
	if i0 < 0 {
		i0 = 0
	}
	if j0 < 0 {
		j0 = 0
	}
	if i1 > nx-1 {
		i1 = nx - 1
	}
	if j1 > ny-1 {
		j1 = ny - 1
	}
	r2 := radius * radius
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			dx, dy := float64(i)-cx, float64(j)-cy
			if dx*dx+dy*dy > r2 {
				continue
			}
			xs = append(xs, i)
			ys = append(ys, j)
			vals = append(vals, im.Get(j, i))
		}
	}
	return xs, ys, vals
}

// median returns the median of vals. It sorts a copy; vals is not modified.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// percentile returns the p-th percentile (0–100) of vals using linear
// interpolation between order statistics. It sorts a copy.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	if p <= 0 {
		return s[0]
	}
	if p >= 100 {
		return s[len(s)-1]
	}
	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(s) {
		return s[lo]
	}
	return s[lo]*(1-frac) + s[lo+1]*frac
}

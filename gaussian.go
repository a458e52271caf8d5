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

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/mat"
)

// gaussian2D is a rotated anisotropic 2-D Gaussian plus a constant
// background.
type gaussian2D struct {
	CenterX, CenterY float64
	SigmaX, SigmaY   float64
	Rotation         float64 // radians
	Amplitude        float64
	Background       float64
}

// eval returns the model intensity at (x, y).
func (g gaussian2D) eval(x, y float64) float64 {
	sin, cos := math.Sincos(g.Rotation)
	dx := x - g.CenterX
	dy := y - g.CenterY
	u := cos*dx + sin*dy
	v := -sin*dx + cos*dy
	return g.Background + g.Amplitude*math.Exp(
		-(u*u/(2*g.SigmaX*g.SigmaX)+v*v/(2*g.SigmaY*g.SigmaY)))
}

func (g gaussian2D) params() []float64 {
	return []float64{g.CenterX, g.CenterY, g.SigmaX, g.SigmaY, g.Rotation, g.Amplitude, g.Background}
}

func gaussianFromParams(p []float64) gaussian2D {
	return gaussian2D{
		CenterX: p[0], CenterY: p[1],
		SigmaX: p[2], SigmaY: p[3],
		Rotation: p[4], Amplitude: p[5], Background: p[6],
	}
}

const (
	lmMaxIterations = 200
	lmTolerance     = 1e-8
	lmLambdaInit    = 1e-3
	lmLambdaUp      = 10
	lmLambdaDown    = 0.1
	lmLambdaMax     = 1e10
)

// rotationIndex is the position of the rotation angle in the parameter
// vector.
const rotationIndex = 4

// fitGaussian2D fits the model to the sample points (xs[i], ys[i]) →
// vals[i] by Levenberg–Marquardt iteration on the normal equations, using
// a forward-difference Jacobian. With fixRotation the rotation angle is
// held at its initial value. It returns the fitted model and whether the
// iteration converged.
func fitGaussian2D(xs, ys []int, vals []float64, init gaussian2D, fixRotation bool) (gaussian2D, bool) {
	n := len(vals)
	np := 7
	if n < np {
		return init, false
	}
	p := init.params()
	resid := func(p []float64) []float64 {
		g := gaussianFromParams(p)
		r := make([]float64, n)
		for i := range r {
			r[i] = g.eval(float64(xs[i]), float64(ys[i])) - vals[i]
		}
		return r
	}
	sumsq := func(r []float64) float64 {
		s := 0.0
		for _, v := range r {
			s += v * v
		}
		return s
	}

	r := resid(p)
	cost := sumsq(r)
	lambda := lmLambdaInit
	jac := mat.NewDense(n, np, nil)

	for iter := 0; iter < lmMaxIterations; iter++ {
		// Forward-difference Jacobian. A zero column for a held
		// parameter keeps its update at zero below.
		for k := 0; k < np; k++ {
			if fixRotation && k == rotationIndex {
				for i := 0; i < n; i++ {
					jac.Set(i, k, 0)
				}
				continue
			}
			h := 1e-6 * (math.Abs(p[k]) + 1e-6)
			pk := append([]float64(nil), p...)
			pk[k] += h
			rk := resid(pk)
			for i := 0; i < n; i++ {
				jac.Set(i, k, (rk[i]-r[i])/h)
			}
		}

		// (JᵀJ + λ diag(JᵀJ)) δ = −Jᵀr
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		jtr := make([]float64, np)
		for k := 0; k < np; k++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += jac.At(i, k) * r[i]
			}
			jtr[k] = -s
		}

		improved := false
		for try := 0; try < 10; try++ {
			damped := mat.NewSymDense(np, nil)
			for a := 0; a < np; a++ {
				for b := a; b < np; b++ {
					v := jtj.At(a, b)
					if a == b {
						d := jtj.At(a, a)
						if d == 0 {
							// Held or degenerate parameter: a unit pivot
							// keeps the factorization positive definite
							// and its update at zero.
							v = 1
						} else {
							v += lambda * d
						}
					}
					damped.SetSym(a, b, v)
				}
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= lmLambdaUp
				if lambda > lmLambdaMax {
					return gaussianFromParams(p), false
				}
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, mat.NewVecDense(np, jtr)); err != nil {
				lambda *= lmLambdaUp
				continue
			}
			pNew := make([]float64, np)
			for k := 0; k < np; k++ {
				pNew[k] = p[k] + delta.AtVec(k)
			}
			rNew := resid(pNew)
			costNew := sumsq(rNew)
			if costNew < cost {
				rel := (cost - costNew) / (cost + 1e-30)
				p, r, cost = pNew, rNew, costNew
				lambda *= lmLambdaDown
				if lambda < 1e-12 {
					lambda = 1e-12
				}
				improved = true
				if rel < lmTolerance {
					return gaussianFromParams(p), true
				}
				break
			}
			lambda *= lmLambdaUp
			if lambda > lmLambdaMax {
				return gaussianFromParams(p), false
			}
		}
		if !improved {
			// Stuck: accept current parameters as converged if the cost
			// is already tiny, otherwise report failure.
			return gaussianFromParams(p), cost < 1e-12
		}
	}
	return gaussianFromParams(p), true
}

// maxSigmaRatio rejects fits where one width exceeds the other by more
// than this factor; such fits track an image artifact, not a column.
const maxSigmaRatio = 4.0

// fitRetries is how many times a rejected fit is retried with a smaller
// window before falling back to the center-of-mass position.
const fitRetries = 10

// maskShrink is the per-retry window radius multiplier.
const maskShrink = 0.95

// fitGaussianAtom fits a 2-D Gaussian to the image around atom a within
// the given window radius. A fit is accepted only if the center stays
// inside the window and the image, the amplitude is positive, and the
// widths are within maxSigmaRatio of each other; rejected fits are
// retried with a shrinking window. With fixRotation the rotation angle is held at zero. On success
// ok is true and the result holds the fitted model; on exhaustion ok is
// false.
func fitGaussianAtom(im *sparse.DenseArray, a *AtomPosition, radius float64, fixRotation bool) (gaussian2D, bool) {
	for try := 0; try < fitRetries; try++ {
		xs, ys, vals := maskedWindow(im, a.X, a.Y, radius)
		if len(vals) < 7 {
			return gaussian2D{}, false
		}
		bg := percentile(vals, 10)
		peakVal := im.Get(clampIndex(int(math.Round(a.Y)), im.Shape[0]),
			clampIndex(int(math.Round(a.X)), im.Shape[1]))
		init := gaussian2D{
			CenterX:    a.X,
			CenterY:    a.Y,
			SigmaX:     radius / 2,
			SigmaY:     radius / 2,
			Amplitude:  peakVal - bg,
			Background: bg,
		}
		if init.Amplitude <= 0 {
			init.Amplitude = percentile(vals, 90) - bg
		}
		if init.Amplitude <= 0 {
			return gaussian2D{}, false
		}

		g, converged := fitGaussian2D(xs, ys, vals, init, fixRotation)
		if converged && gaussianFitAcceptable(g, a.X, a.Y, radius, im.Shape[1], im.Shape[0]) {
			g.SigmaX = math.Abs(g.SigmaX)
			g.SigmaY = math.Abs(g.SigmaY)
			g.Rotation = normalizeRotation(g.Rotation)
			return g, true
		}
		radius *= maskShrink
	}
	return gaussian2D{}, false
}

// gaussianFitAcceptable applies the physical-plausibility checks to a
// fitted model around the original position (x0, y0) in an nx×ny image.
// A column truncated by the frame can fit best with its peak outside the
// image; such centers are rejected so the atom keeps its center-of-mass
// position.
func gaussianFitAcceptable(g gaussian2D, x0, y0, radius float64, nx, ny int) bool {
	if math.Hypot(g.CenterX-x0, g.CenterY-y0) > radius {
		return false
	}
	if g.CenterX < 0 || g.CenterX > float64(nx-1) ||
		g.CenterY < 0 || g.CenterY > float64(ny-1) {
		return false
	}
	if g.Amplitude <= 0 {
		return false
	}
	sx, sy := math.Abs(g.SigmaX), math.Abs(g.SigmaY)
	if sx == 0 || sy == 0 {
		return false
	}
	ratio := sx / sy
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio <= maxSigmaRatio
}

// normalizeRotation maps an angle in radians to [0, π).
func normalizeRotation(theta float64) float64 {
	theta = math.Mod(theta, math.Pi)
	if theta < 0 {
		theta += math.Pi
	}
	return theta
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// BuildModelImage renders every fitted atom in the sublattice as its
// elliptical Gaussian (without background terms) onto a zero image the
// same shape as the sublattice image. Atoms without a converged fit are
// skipped.
func (s *Sublattice) BuildModelImage() (*sparse.DenseArray, error) {
	if err := validateImage(s.Image); err != nil {
		return nil, fmt.Errorf("atomap: BuildModelImage: %w", err)
	}
	ny, nx := s.Image.Shape[0], s.Image.Shape[1]
	out := sparse.ZerosDense(ny, nx)
	for _, a := range s.Atoms {
		if a.State != StateGaussianDone || a.Amplitude <= 0 {
			continue
		}
		g := gaussian2D{
			CenterX: a.X, CenterY: a.Y,
			SigmaX: a.SigmaX, SigmaY: a.SigmaY,
			Rotation: a.Rotation, Amplitude: a.Amplitude,
		}
		// Render within 5 sigma of the larger width.
		reach := 5 * math.Max(a.SigmaX, a.SigmaY)
		i0 := clampIndex(int(math.Floor(a.X-reach)), nx)
		i1 := clampIndex(int(math.Ceil(a.X+reach)), nx)
		j0 := clampIndex(int(math.Floor(a.Y-reach)), ny)
		j1 := clampIndex(int(math.Ceil(a.Y+reach)), ny)
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				out.Set(out.Get(j, i)+g.eval(float64(i), float64(j)), j, i)
			}
		}
	}
	return out, nil
}

// SubtractSublattice returns im minus the rendered Gaussian model of sub,
// clamped at zero. It is used to remove a brighter sublattice from the
// image before locating a dimmer one.
func SubtractSublattice(im *sparse.DenseArray, sub *Sublattice) (*sparse.DenseArray, error) {
	if err := validateImage(im); err != nil {
		return nil, fmt.Errorf("atomap: SubtractSublattice: %w", err)
	}
	model, err := sub.BuildModelImage()
	if err != nil {
		return nil, err
	}
	if im.Shape[0] != model.Shape[0] || im.Shape[1] != model.Shape[1] {
		return nil, fmt.Errorf("atomap: SubtractSublattice: image shape %v does not match sublattice image shape %v",
			im.Shape, model.Shape)
	}
	out := im.Copy()
	for i := range out.Elements {
		v := out.Elements[i] - model.Elements[i]
		if v < 0 {
			v = 0
		}
		out.Elements[i] = v
	}
	return out, nil
}

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
	"math/rand"

	"github.com/ctessum/sparse"
)

// TestDataBuilder assembles synthetic atomic-resolution images with known
// ground-truth column positions, for testing and benchmarking the
// detection pipeline.
type TestDataBuilder struct {
	nx, ny int
	atoms  []gaussian2D
	noise  float64
	seed   int64
}

// NewTestData returns a builder for an image of nx × ny pixels.
func NewTestData(nx, ny int) *TestDataBuilder {
	return &TestDataBuilder{nx: nx, ny: ny, seed: 1}
}

// AddAtom places a circular Gaussian column of the given amplitude and
// width at (x, y).
func (t *TestDataBuilder) AddAtom(x, y, sigma, amplitude float64) *TestDataBuilder {
	return t.AddAtomCustom(x, y, sigma, sigma, 0, amplitude)
}

// AddAtomCustom places an elliptical Gaussian column with independent
// widths and a rotation in radians.
func (t *TestDataBuilder) AddAtomCustom(x, y, sigmaX, sigmaY, rotation, amplitude float64) *TestDataBuilder {
	t.atoms = append(t.atoms, gaussian2D{
		CenterX: x, CenterY: y,
		SigmaX: sigmaX, SigmaY: sigmaY,
		Rotation: rotation, Amplitude: amplitude,
	})
	return t
}

// AddGrid places a square grid of identical columns with the given
// spacing, inset from the image border by the spacing.
func (t *TestDataBuilder) AddGrid(spacing, sigma, amplitude float64) *TestDataBuilder {
	for y := spacing; y <= float64(t.ny)-spacing; y += spacing {
		for x := spacing; x <= float64(t.nx)-spacing; x += spacing {
			t.AddAtom(x, y, sigma, amplitude)
		}
	}
	return t
}

// WithNoise adds zero-mean Gaussian noise of the given standard deviation
// to the rendered image.
func (t *TestDataBuilder) WithNoise(sigma float64) *TestDataBuilder {
	t.noise = sigma
	return t
}

// WithSeed sets the noise generator seed so renders are reproducible.
func (t *TestDataBuilder) WithSeed(seed int64) *TestDataBuilder {
	t.seed = seed
	return t
}

// Positions returns the ground-truth column centers in insertion order.
func (t *TestDataBuilder) Positions() []Position {
	out := make([]Position, len(t.atoms))
	for i, g := range t.atoms {
		out[i] = Position{X: g.CenterX, Y: g.CenterY}
	}
	return out
}

// Image renders the configured columns and noise.
func (t *TestDataBuilder) Image() *sparse.DenseArray {
	im := sparse.ZerosDense(t.ny, t.nx)
	for _, g := range t.atoms {
		reach := 5 * math.Max(g.SigmaX, g.SigmaY)
		i0 := clampIndex(int(math.Floor(g.CenterX-reach)), t.nx)
		i1 := clampIndex(int(math.Ceil(g.CenterX+reach)), t.nx)
		j0 := clampIndex(int(math.Floor(g.CenterY-reach)), t.ny)
		j1 := clampIndex(int(math.Ceil(g.CenterY+reach)), t.ny)
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				im.Set(im.Get(j, i)+g.eval(float64(i), float64(j)), j, i)
			}
		}
	}
	if t.noise > 0 {
		rng := rand.New(rand.NewSource(t.seed))
		for i := range im.Elements {
			im.Elements[i] += rng.NormFloat64() * t.noise
		}
	}
	return im
}

// Sublattice renders the image and returns a sublattice seeded with the
// ground-truth positions.
func (t *TestDataBuilder) Sublattice() (*Sublattice, error) {
	if len(t.atoms) == 0 {
		return nil, fmt.Errorf("atomap: TestDataBuilder: no atoms added")
	}
	return NewSublattice(t.Positions(), t.Image())
}

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

// Package atomaputil holds the configuration, file-format, and pipeline
// glue used by the atomap command-line tool.
package atomaputil

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// imageVar is the NetCDF variable name used for image intensities.
const imageVar = "intensity"

// ReadImage reads a 2-D image from a NetCDF file written by WriteImage or
// by an external converter. The intensity variable must have dimensions
// (y, x). The pixel scale and units attributes are returned when present,
// otherwise scale is 0 and units is empty.
func ReadImage(filename string) (im *sparse.DenseArray, scale float64, units string, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0, "", fmt.Errorf("atomap: opening image file: %v", err)
	}
	defer f.Close()

	ff, err := cdf.Open(f)
	if err != nil {
		return nil, 0, "", fmt.Errorf("atomap: reading image file %s: %v", filename, err)
	}
	dims := ff.Header.Lengths(imageVar)
	if len(dims) == 0 {
		return nil, 0, "", fmt.Errorf("atomap: image file %s has no %q variable", filename, imageVar)
	}
	if len(dims) != 2 {
		return nil, 0, "", fmt.Errorf("atomap: variable %q in %s has %d dimensions, want 2",
			imageVar, filename, len(dims))
	}
	nread := dims[0] * dims[1]
	start, end := make([]int, 2), make([]int, 2)
	end[0], end[1] = dims[0], dims[1]
	r := ff.Reader(imageVar, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, 0, "", fmt.Errorf("atomap: reading variable %q from %s: %v", imageVar, filename, err)
	}
	im = sparse.ZerosDense(dims...)
	for i, v := range buf.([]float32) {
		im.Elements[i] = float64(v)
	}

	if s := ff.Header.GetAttribute("", "scale"); s != nil {
		if sv, ok := s.([]float64); ok && len(sv) > 0 {
			scale = sv[0]
		}
	}
	if u := ff.Header.GetAttribute("", "units"); u != nil {
		if uv, ok := u.(string); ok {
			units = uv
		}
	}
	return im, scale, units, nil
}

// WriteImage writes a 2-D image to a NetCDF file, recording the pixel
// scale and units as global attributes when scale is positive.
func WriteImage(filename string, im *sparse.DenseArray, scale float64, units string) error {
	if len(im.Shape) != 2 {
		return fmt.Errorf("atomap: writing image: need 2 dimensions, have %d", len(im.Shape))
	}
	h := cdf.NewHeader([]string{"y", "x"}, []int{im.Shape[0], im.Shape[1]})
	h.AddAttribute("", "comment", "Atomap image file")
	if scale > 0 {
		h.AddAttribute("", "scale", []float64{scale})
		h.AddAttribute("", "units", units)
	}
	h.AddVariable(imageVar, []string{"y", "x"}, []float32{0})
	h.AddAttribute(imageVar, "description", "image intensity")
	h.Define()

	w, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("atomap: creating image file: %v", err)
	}
	defer w.Close()
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("atomap: writing image header: %v", err)
	}

	data32 := make([]float32, len(im.Elements))
	for i, e := range im.Elements {
		data32[i] = float32(e)
	}
	endd := f.Header.Lengths(imageVar)
	startd := make([]int, len(endd))
	wr := f.Writer(imageVar, startd, endd)
	if _, err := wr.Write(data32); err != nil {
		return fmt.Errorf("atomap: writing variable %q: %v", imageVar, err)
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return fmt.Errorf("atomap: finalizing image file: %v", err)
	}
	return nil
}

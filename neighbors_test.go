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
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func TestFindNearestNeighbors(t *testing.T) {
	im := sparse.ZerosDense(20, 20)
	// A row of atoms at y=10, x = 2, 5, 9, 14: neighbors are determined
	// by the uneven spacing.
	s, err := NewSublattice([]Position{
		{X: 2, Y: 10}, {X: 5, Y: 10}, {X: 9, Y: 10}, {X: 14, Y: 10},
	}, im)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(2); err != nil {
		t.Fatal(err)
	}
	want := [][]int{
		{1, 2},
		{0, 2},
		{1, 3},
		{2, 1},
	}
	for i, a := range s.Atoms {
		if !reflect.DeepEqual(a.Neighbors(), want[i]) {
			t.Errorf("atom %d neighbors = %v, want %v", i, a.Neighbors(), want[i])
		}
	}
}

func TestFindNearestNeighborsTieBreak(t *testing.T) {
	im := sparse.ZerosDense(20, 20)
	// Atom 0 is equidistant from atoms 1 and 2; the lower index wins.
	s, err := NewSublattice([]Position{
		{X: 10, Y: 10}, {X: 10, Y: 5}, {X: 10, Y: 15},
	}, im)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(1); err != nil {
		t.Fatal(err)
	}
	if nn := s.Atoms[0].Neighbors(); nn[0] != 1 {
		t.Errorf("tie should break toward lower index, got %v", nn)
	}
}

func TestFindNearestNeighborsIdempotent(t *testing.T) {
	s, err := NewTestData(80, 80).AddGrid(10, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(4); err != nil {
		t.Fatal(err)
	}
	first := make([][]int, len(s.Atoms))
	for i, a := range s.Atoms {
		first[i] = append([]int(nil), a.Neighbors()...)
	}
	if err := s.FindNearestNeighbors(4); err != nil {
		t.Fatal(err)
	}
	for i, a := range s.Atoms {
		if !reflect.DeepEqual(a.Neighbors(), first[i]) {
			t.Fatalf("atom %d neighbor list changed on identical recomputation", i)
		}
	}
}

func TestFindNearestNeighborsErrors(t *testing.T) {
	im := sparse.ZerosDense(10, 10)
	s, err := NewSublattice([]Position{{X: 5, Y: 5}}, im)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindNearestNeighbors(3); err == nil {
		t.Error("expected error for single-atom sublattice")
	}
	s2, err := NewSublattice([]Position{{X: 2, Y: 2}, {X: 7, Y: 7}}, im)
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.FindNearestNeighbors(0); err == nil {
		t.Error("expected error for k below 1")
	}
	// k larger than the population is clamped, not an error.
	if err := s2.FindNearestNeighbors(5); err != nil {
		t.Fatal(err)
	}
	if len(s2.Atoms[0].Neighbors()) != 1 {
		t.Errorf("clamped neighbor list length = %d, want 1", len(s2.Atoms[0].Neighbors()))
	}
}

func TestPixelSeparation(t *testing.T) {
	// Grid with spacing 10: nearest-neighbor distance is 10, so the
	// characteristic separation is 5.
	s, err := NewTestData(100, 100).AddGrid(10, 1.5, 100).Sublattice()
	if err != nil {
		t.Fatal(err)
	}
	sep, err := s.PixelSeparation()
	if err != nil {
		t.Fatal(err)
	}
	if different(sep, 5, 1e-9) {
		t.Errorf("pixel separation = %g, want 5", sep)
	}
	// Cached value survives repeat calls.
	sep2, err := s.PixelSeparation()
	if err != nil {
		t.Fatal(err)
	}
	if sep2 != sep {
		t.Errorf("cached separation %g != first result %g", sep2, sep)
	}
}

// Package volume loads segmentation volumes from memory or from image files
// and validates them as [slices, height, width] arrays.
package volume

import "fmt"

// Array is a dense N-dimensional array stored in row-major order: the last
// dimension varies fastest.
type Array struct {
	Shape []int
	Data  []float64
}

// NewArray allocates a zero-filled array with the given shape.
func NewArray(shape ...int) Array {
	return Array{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, product(shape)),
	}
}

// FromData wraps existing row-major data, checking that its length matches
// the shape.
func FromData(data []float64, shape ...int) (Array, error) {
	if len(data) != product(shape) {
		return Array{}, fmt.Errorf("data has %d values but shape %v needs %d", len(data), shape, product(shape))
	}

	return Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

func (a Array) Rank() int {
	return len(a.Shape)
}

// Squeeze drops every dimension of size 1. The data is shared.
func (a Array) Squeeze() Array {
	shape := make([]int, 0, len(a.Shape))
	for _, d := range a.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}

	return Array{Shape: shape, Data: a.Data}
}

// At returns the value at the given index, one coordinate per dimension.
func (a Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

func (a Array) Set(v float64, idx ...int) {
	a.Data[a.offset(idx)] = v
}

func (a Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("index %v has %d coordinates for a rank %d array", idx, len(idx), len(a.Shape)))
	}

	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.Shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %v", idx, a.Shape))
		}
		off = off*a.Shape[i] + v
	}

	return off
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

package models

import (
	"fmt"
	"math"
)

// Grid represents a single 2D detector image with count-rate values
type Grid struct {
	// Data is the pixel data as a 1D array in row-major order
	Data []float64

	// Width is the number of pixel columns
	Width int

	// Height is the number of pixel rows
	Height int
}

// NewGrid creates a zero-filled grid with the given dimensions
func NewGrid(width, height int) *Grid {
	return &Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// Pixels returns the total number of pixels in the grid
func (g *Grid) Pixels() int {
	return g.Width * g.Height
}

// At returns the value at column x, row y
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set assigns the value at column x, row y
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// SameDims reports whether two grids share identical dimensions
func (g *Grid) SameDims(other *Grid) bool {
	return g.Width == other.Width && g.Height == other.Height
}

// Clone returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// Center returns the geometric center of the frame using the
// (dim-1)/2 convention, matching how apertures are placed
func (g *Grid) Center() Point {
	return Point{
		X: float64(g.Width-1) / 2,
		Y: float64(g.Height-1) / 2,
	}
}

// Point is a sub-pixel position in frame coordinates
type Point struct {
	X, Y float64
}

// Stack represents an ordered sequence of reference-subtracted
// realization images sharing identical dimensions
type Stack struct {
	// Grids holds one image per independent noise realization
	Grids []*Grid
}

// NewStack builds a stack from the given grids, validating that all
// images share the same dimensions
func NewStack(grids []*Grid) (*Stack, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("stack requires at least one image")
	}
	for i, g := range grids {
		if !g.SameDims(grids[0]) {
			return nil, fmt.Errorf("stack image %d is %dx%d, expected %dx%d",
				i, g.Width, g.Height, grids[0].Width, grids[0].Height)
		}
	}
	return &Stack{Grids: grids}, nil
}

// Len returns the number of realizations in the stack
func (s *Stack) Len() int {
	return len(s.Grids)
}

// Width returns the per-image width
func (s *Stack) Width() int {
	return s.Grids[0].Width
}

// Height returns the per-image height
func (s *Stack) Height() int {
	return s.Grids[0].Height
}

// Curve represents a radial contrast curve: the detectable companion
// flux ratio at each angular separation bin
type Curve struct {
	// Separation holds the bin centers in pixel units
	Separation []float64

	// Contrast holds the sigma-scaled, normalized noise per bin.
	// Bins with no contributing pixels carry NaN.
	Contrast []float64

	// Sigma is the confidence level the contrast values are scaled to
	Sigma float64
}

// DefinedBins returns the number of bins carrying a finite contrast
// value (NaN gap bins are excluded)
func (c *Curve) DefinedBins() int {
	n := 0
	for _, v := range c.Contrast {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

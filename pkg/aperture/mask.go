// Package aperture provides photometric aperture masks, their
// matrix-operator form, and aperture convolution of detector images.
// The aperture defines the spatial support over which signal and noise
// are summed when estimating companion detectability at each pixel.
package aperture

import (
	"fmt"
	"math"

	"contrastcurve/internal/models"
)

// Mask is a binary aperture membership grid sharing the dimensions of
// the detector frames it will be applied to. A value of 1 marks a
// pixel inside the aperture, 0 outside. The aperture support is
// centered within the frame.
type Mask struct {
	// Grid holds the membership values (0 or 1)
	Grid *models.Grid

	// Radius is the aperture radius in pixels for circular masks,
	// zero for masks built from arbitrary grids
	Radius float64
}

// NewCircularMask creates a circular aperture of the given radius in
// pixels, centered in a width x height frame using the (dim-1)/2
// center convention. A pixel belongs to the aperture when its center
// lies within the radius.
//
// The aperture support must fit inside the frame at the center
// position; an error is returned otherwise so that re-centering the
// aperture at interior pixels never silently clips it.
func NewCircularMask(width, height int, radius float64) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	if radius < 0 {
		return nil, fmt.Errorf("aperture radius must be non-negative, got %f", radius)
	}

	cx := float64(width-1) / 2
	cy := float64(height-1) / 2
	if cx-radius < 0 || cx+radius > float64(width-1) ||
		cy-radius < 0 || cy+radius > float64(height-1) {
		return nil, fmt.Errorf("aperture radius %.1f does not fit in %dx%d frame", radius, width, height)
	}

	grid := models.NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if math.Sqrt(dx*dx+dy*dy) <= radius {
				grid.Set(x, y, 1)
			}
		}
	}

	return &Mask{Grid: grid, Radius: radius}, nil
}

// FromGrid wraps an existing binary grid as a mask. Values are
// clamped to {0,1} membership: any positive value counts as inside.
func FromGrid(grid *models.Grid) *Mask {
	m := &Mask{Grid: models.NewGrid(grid.Width, grid.Height)}
	for i, v := range grid.Data {
		if v > 0 {
			m.Grid.Data[i] = 1
		}
	}
	return m
}

// Area returns the number of pixels inside the aperture
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Grid.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

package aperture

import (
	"gonum.org/v1/gonum/mat"

	"contrastcurve/internal/models"
)

// Operator is the aperture-summation operator in structured sparse
// form. Conceptually it is a PxP matrix (P = pixels per frame) whose
// row p holds the indicator vector of the aperture re-centered at
// pixel p: for a flattened image vector x, row p of the product is the
// sum of x over the aperture placed at p.
//
// Rows are stored as flattened pixel index lists instead of dense
// rows. Out-of-frame taps at boundary positions are dropped, which is
// exactly the zero-padded convolution boundary condition.
type Operator struct {
	// Rows[p] lists the flattened indices covered by the aperture
	// centered at pixel p
	Rows [][]int

	// Width and Height are the frame dimensions the operator applies to
	Width  int
	Height int
}

// NewOperator builds the aperture operator for the mask's frame
// dimensions. Offsets are taken relative to the mask's central cell
// using the floor((dim-1)/2) convention, so re-centering the operator
// row at the frame center reproduces the mask itself.
//
// The aperture kernel is not flipped: photometric apertures are
// point-symmetric, so correlation and convolution coincide.
func NewOperator(mask *Mask) *Operator {
	width := mask.Grid.Width
	height := mask.Grid.Height

	// Collect aperture support as offsets from the mask center cell.
	cx := (width - 1) / 2
	cy := (height - 1) / 2
	type offset struct{ dx, dy int }
	var support []offset
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask.Grid.At(x, y) > 0 {
				support = append(support, offset{dx: x - cx, dy: y - cy})
			}
		}
	}

	op := &Operator{
		Rows:   make([][]int, width*height),
		Width:  width,
		Height: height,
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			row := make([]int, 0, len(support))
			for _, o := range support {
				nx := x + o.dx
				ny := y + o.dy
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue // zero-padded boundary
				}
				row = append(row, ny*width+nx)
			}
			op.Rows[y*width+x] = row
		}
	}

	return op
}

// Apply computes the aperture-summed image: output pixel p is the sum
// of the input over the aperture centered at p. This is the
// operator-vector product with the flattened input.
func (op *Operator) Apply(img *models.Grid) *models.Grid {
	out := models.NewGrid(op.Width, op.Height)
	for p, row := range op.Rows {
		sum := 0.0
		for _, q := range row {
			sum += img.Data[q]
		}
		out.Data[p] = sum
	}
	return out
}

// Dense materializes the operator as a PxP dense matrix. It is
// intended for algebraic cross-checks on small frames; production
// paths use the structured rows directly.
func (op *Operator) Dense() *mat.Dense {
	p := op.Width * op.Height
	d := mat.NewDense(p, p, nil)
	for i, row := range op.Rows {
		for _, q := range row {
			d.Set(i, q, 1)
		}
	}
	return d
}

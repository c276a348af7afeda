package aperture

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"contrastcurve/internal/models"
)

// ConvolveSame convolves an image with the aperture mask in the
// frequency domain and returns a same-size result. The boundary
// condition is zero padding, matching the truncated rows of the
// aperture operator: for any image, ConvolveSame(img, mask) equals
// NewOperator(mask).Apply(img) up to floating-point roundoff.
//
// The mask is embedded with its center cell at the FFT origin and its
// offsets mirrored, so the output at pixel p is the aperture sum
// centered at p. Photometric apertures are point-symmetric, making
// the mirror a no-op in practice.
func ConvolveSame(img *models.Grid, mask *Mask) (*models.Grid, error) {
	if !img.SameDims(mask.Grid) {
		return nil, fmt.Errorf("image is %dx%d, mask is %dx%d",
			img.Width, img.Height, mask.Grid.Width, mask.Grid.Height)
	}

	h := img.Height
	w := img.Width

	// Pad to at least the linear convolution size so the circular
	// transform never wraps signal back into the frame.
	fh := nextPow2(2*h - 1)
	fw := nextPow2(2*w - 1)

	a := make([][]complex128, fh)
	b := make([][]complex128, fh)
	for y := 0; y < fh; y++ {
		a[y] = make([]complex128, fw)
		b[y] = make([]complex128, fw)
	}

	// Image embedded top-left, zeros elsewhere.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a[y][x] = complex(img.At(x, y), 0)
		}
	}

	// Mask embedded about the origin with mirrored offsets relative
	// to its center cell.
	cx := (w - 1) / 2
	cy := (h - 1) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := mask.Grid.At(x, y)
			if v == 0 {
				continue
			}
			my := ((cy-y)%fh + fh) % fh
			mx := ((cx-x)%fw + fw) % fw
			b[my][mx] = complex(v, 0)
		}
	}

	fft2InPlace(a, true)
	fft2InPlace(b, true)

	for y := 0; y < fh; y++ {
		for x := 0; x < fw; x++ {
			a[y][x] *= b[y][x]
		}
	}

	fft2InPlace(a, false)

	// Gonum transforms are unnormalized; forward then inverse scales
	// by the grid size.
	scale := float64(fh * fw)
	out := models.NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, real(a[y][x])/scale)
		}
	}

	return out, nil
}

// PeakSum returns the maximum aperture-summed value over the whole
// frame. Applied to an off-axis point-source image it yields the
// normalization constant that converts noise into a contrast ratio.
func PeakSum(img *models.Grid, mask *Mask) (float64, error) {
	conv, err := ConvolveSame(img, mask)
	if err != nil {
		return 0, err
	}
	return floats.Max(conv.Data), nil
}

// fft2InPlace applies a forward or inverse 2D FFT by transforming
// rows then columns with Gonum's complex FFT
func fft2InPlace(a [][]complex128, forward bool) {
	h := len(a)
	w := len(a[0])

	rowFFT := fourier.NewCmplxFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	tmp := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(tmp, a[y])
		if forward {
			rowFFT.Coefficients(tmp, tmp)
		} else {
			rowFFT.Sequence(tmp, tmp)
		}
		copy(a[y], tmp)
	}

	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = a[y][x]
		}
		if forward {
			colFFT.Coefficients(col, col)
		} else {
			colFFT.Sequence(col, col)
		}
		for y := 0; y < h; y++ {
			a[y][x] = col[y]
		}
	}
}

// nextPow2 returns the smallest power of two >= n
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

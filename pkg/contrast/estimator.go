// Package contrast implements the statistical contrast-curve pipeline
// for coronagraphic observations: covariance estimation across noise
// realizations, propagation of correlated noise through a photometric
// aperture, radial aggregation, and off-axis flux normalization.
package contrast

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"contrastcurve/internal/models"
	"contrastcurve/pkg/aperture"
)

// DefaultSigma is the detection confidence level applied when Params
// leaves it unset
const DefaultSigma = 5.0

// ProgressCallback is a function that reports progress during the
// noise-map computation. It may be invoked concurrently from worker
// goroutines.
type ProgressCallback func(completed, total int, message string)

// Params holds the estimator configuration
type Params struct {
	// Sigma is the confidence level the curve is scaled to.
	// Zero selects DefaultSigma.
	Sigma float64

	// NumWorkers bounds the goroutines used for the noise map.
	// Zero selects runtime.NumCPU(). The result is bit-identical
	// for any worker count.
	NumWorkers int
}

// Estimator computes radial contrast curves from stacks of
// reference-subtracted realization images
type Estimator struct {
	params           Params
	progressCallback ProgressCallback
}

// NewEstimator creates an estimator with the provided parameters
func NewEstimator(params *Params) *Estimator {
	e := &Estimator{}
	if params != nil {
		e.params = *params
	}
	if e.params.Sigma == 0 {
		e.params.Sigma = DefaultSigma
	}
	if e.params.NumWorkers <= 0 {
		e.params.NumWorkers = runtime.NumCPU()
	}
	return e
}

// SetProgressCallback sets a callback invoked during long-running
// stages. A nil callback disables reporting.
func (e *Estimator) SetProgressCallback(callback ProgressCallback) {
	e.progressCallback = callback
}

func (e *Estimator) reportProgress(completed, total int, message string) {
	if e.progressCallback != nil {
		e.progressCallback(completed, total, message)
	}
}

// Covariance computes the PxP sample covariance matrix across the
// realizations in the stack, where P is the pixel count of one image.
// Each image is flattened to a length-P row of an NxP observation
// matrix; entry (i,j) is the covariance between pixels i and j over
// the N realizations.
//
// The unbiased N-1 estimator is used. Stacks with fewer than two
// realizations fail with ErrInsufficientSamples.
func (e *Estimator) Covariance(stack *models.Stack) (*mat.SymDense, error) {
	n := stack.Len()
	if n < 2 {
		return nil, fmt.Errorf("%w: stack has %d image(s)", ErrInsufficientSamples, n)
	}

	p := stack.Grids[0].Pixels()
	obs := mat.NewDense(n, p, nil)
	for i, g := range stack.Grids {
		obs.SetRow(i, g.Data)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, obs, nil)
	return &cov, nil
}

// NoiseMap propagates the pixel covariance through the aperture
// operator. The aperture-summed signal at pixel p is the linear
// combination s_p = a_p . x with a_p the operator row at p, so its
// variance is a_p . Cov . a_p^T; the map holds sqrt of that variance
// reshaped to the frame. This is diag(A Cov A^T) evaluated through
// the operator's structured rows, which keeps the correlated
// cross-terms a naive per-pixel variance sum would drop.
//
// Rows are distributed over workers writing disjoint output slices,
// so the result does not depend on the worker count.
func (e *Estimator) NoiseMap(cov *mat.SymDense, op *aperture.Operator) (*models.Grid, error) {
	p := op.Width * op.Height
	if r, _ := cov.Dims(); r != p {
		return nil, fmt.Errorf("%w: covariance is %dx%d, operator frame has %d pixels",
			ErrDimensionMismatch, r, r, p)
	}

	out := models.NewGrid(op.Width, op.Height)

	numWorkers := e.params.NumWorkers
	if numWorkers > op.Height {
		numWorkers = op.Height
	}
	rowsPerWorker := (op.Height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if endRow > op.Height {
			endRow = op.Height
		}
		if startRow >= op.Height {
			continue
		}

		wg.Add(1)
		go func(startRow, endRow int) {
			defer wg.Done()
			for y := startRow; y < endRow; y++ {
				for x := 0; x < op.Width; x++ {
					idx := y*op.Width + x
					row := op.Rows[idx]

					variance := 0.0
					for _, i := range row {
						for _, j := range row {
							variance += cov.At(i, j)
						}
					}
					// Guard tiny negative values from roundoff.
					if variance < 0 {
						variance = 0
					}
					out.Data[idx] = math.Sqrt(variance)
				}
				e.reportProgress(y+1, op.Height, "")
			}
		}(startRow, endRow)
	}
	wg.Wait()

	return out, nil
}

// Profile is an azimuthally averaged radial profile: bin centers in
// pixel units paired with the mean value per bin. Bins without
// contributing pixels carry NaN.
type Profile struct {
	Bins   []float64
	Values []float64
}

// RadialProfile azimuthally averages the map around the given center.
// A nil center selects the geometric frame center, (dim-1)/2 per
// axis, matching the aperture placement convention. Every pixel is
// assigned to the bin round(distance-to-center); bins run from 0 to
// the largest radius present in the frame.
func (e *Estimator) RadialProfile(m *models.Grid, center *models.Point) *Profile {
	c := m.Center()
	if center != nil {
		c = *center
	}

	maxBin := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			dx := float64(x) - c.X
			dy := float64(y) - c.Y
			bin := int(math.Round(math.Sqrt(dx*dx + dy*dy)))
			if bin > maxBin {
				maxBin = bin
			}
		}
	}

	sums := make([]float64, maxBin+1)
	counts := make([]int, maxBin+1)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			dx := float64(x) - c.X
			dy := float64(y) - c.Y
			bin := int(math.Round(math.Sqrt(dx*dx + dy*dy)))
			sums[bin] += m.At(x, y)
			counts[bin]++
		}
	}

	prof := &Profile{
		Bins:   make([]float64, maxBin+1),
		Values: make([]float64, maxBin+1),
	}
	for b := 0; b <= maxBin; b++ {
		prof.Bins[b] = float64(b)
		if counts[b] == 0 {
			// An empty bin is a gap, not a zero; NaN keeps it from
			// corrupting downstream normalization.
			prof.Values[b] = math.NaN()
		} else {
			prof.Values[b] = sums[b] / float64(counts[b])
		}
	}

	return prof
}

// Curve runs the full pipeline: covariance across the stack, noise
// propagation through the aperture, radial aggregation, and division
// by the peak aperture-summed off-axis signal, scaled to the
// configured sigma level.
//
// All fatal conditions are checked before any computation starts:
// ErrDimensionMismatch when the stack, off-axis image and aperture
// disagree in shape, ErrInsufficientSamples for stacks shorter than
// two, and ErrZeroNormalization when the off-axis peak is not
// positive. No partial result is returned.
func (e *Estimator) Curve(stack *models.Stack, offAxis *models.Grid, mask *aperture.Mask) (*models.Curve, error) {
	if stack.Len() < 2 {
		return nil, fmt.Errorf("%w: stack has %d image(s)", ErrInsufficientSamples, stack.Len())
	}
	if !stack.Grids[0].SameDims(offAxis) {
		return nil, fmt.Errorf("%w: stack images are %dx%d, off-axis image is %dx%d",
			ErrDimensionMismatch, stack.Width(), stack.Height(), offAxis.Width, offAxis.Height)
	}
	if !stack.Grids[0].SameDims(mask.Grid) {
		return nil, fmt.Errorf("%w: stack images are %dx%d, aperture is %dx%d",
			ErrDimensionMismatch, stack.Width(), stack.Height(), mask.Grid.Width, mask.Grid.Height)
	}

	norm, err := aperture.PeakSum(offAxis, mask)
	if err != nil {
		return nil, err
	}
	if norm <= 0 {
		return nil, fmt.Errorf("%w: peak aperture sum is %g", ErrZeroNormalization, norm)
	}

	cov, err := e.Covariance(stack)
	if err != nil {
		return nil, err
	}

	op := aperture.NewOperator(mask)
	noiseMap, err := e.NoiseMap(cov, op)
	if err != nil {
		return nil, err
	}

	prof := e.RadialProfile(noiseMap, nil)

	curve := &models.Curve{
		Separation: prof.Bins,
		Contrast:   make([]float64, len(prof.Values)),
		Sigma:      e.params.Sigma,
	}
	for i, v := range prof.Values {
		curve.Contrast[i] = e.params.Sigma * v / norm
	}

	return curve, nil
}

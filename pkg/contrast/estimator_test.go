package contrast

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"contrastcurve/internal/models"
	"contrastcurve/pkg/aperture"
)

// TestCovarianceSymmetry verifies the covariance matrix is symmetric
// with non-negative diagonal entries
func TestCovarianceSymmetry(t *testing.T) {
	stack := gaussianStack(t, 9, 9, 8, 1.0, 42)
	e := NewEstimator(nil)

	cov, err := e.Covariance(stack)
	if err != nil {
		t.Fatalf("Covariance failed: %v", err)
	}

	p := stack.Grids[0].Pixels()
	rows, cols := cov.Dims()
	if rows != p || cols != p {
		t.Fatalf("Expected %dx%d covariance, got %dx%d", p, p, rows, cols)
	}

	for i := 0; i < p; i++ {
		if cov.At(i, i) < 0 {
			t.Errorf("Negative variance %g at diagonal entry %d", cov.At(i, i), i)
		}
		for j := i + 1; j < p; j++ {
			if cov.At(i, j) != cov.At(j, i) {
				t.Errorf("Asymmetry at (%d,%d): %g vs %g", i, j, cov.At(i, j), cov.At(j, i))
			}
		}
	}
}

// TestCovarianceInsufficientSamples verifies the N<2 error condition
func TestCovarianceInsufficientSamples(t *testing.T) {
	single, err := models.NewStack([]*models.Grid{models.NewGrid(5, 5)})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	e := NewEstimator(nil)
	if _, err := e.Covariance(single); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("Expected ErrInsufficientSamples, got %v", err)
	}
}

// TestNoiseMapNonNegative verifies the noise map is a standard
// deviation everywhere
func TestNoiseMapNonNegative(t *testing.T) {
	stack := gaussianStack(t, 11, 11, 6, 2.0, 7)
	mask := circularMask(t, 11, 11, 2)

	e := NewEstimator(nil)
	cov, err := e.Covariance(stack)
	if err != nil {
		t.Fatalf("Covariance failed: %v", err)
	}

	noiseMap, err := e.NoiseMap(cov, aperture.NewOperator(mask))
	if err != nil {
		t.Fatalf("NoiseMap failed: %v", err)
	}

	for i, v := range noiseMap.Data {
		if v < 0 || math.IsNaN(v) {
			t.Errorf("Noise map entry %d is %g, expected non-negative", i, v)
		}
	}
}

// TestNoiseMapZeroVariance verifies that identical realizations
// produce an all-zero noise map
func TestNoiseMapZeroVariance(t *testing.T) {
	base := models.NewGrid(9, 9)
	for i := range base.Data {
		base.Data[i] = float64(i%7) - 3
	}
	grids := make([]*models.Grid, 5)
	for i := range grids {
		grids[i] = base.Clone()
	}
	stack, err := models.NewStack(grids)
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	e := NewEstimator(nil)
	cov, err := e.Covariance(stack)
	if err != nil {
		t.Fatalf("Covariance failed: %v", err)
	}

	mask := circularMask(t, 9, 9, 2)
	noiseMap, err := e.NoiseMap(cov, aperture.NewOperator(mask))
	if err != nil {
		t.Fatalf("NoiseMap failed: %v", err)
	}

	for i, v := range noiseMap.Data {
		if math.Abs(v) > 1e-12 {
			t.Errorf("Expected zero noise at pixel %d, got %g", i, v)
		}
	}
}

// TestNoiseMapMatchesDenseAlgebra cross-checks the structured-row
// computation against diag(A Cov A^T) evaluated with dense matrices
func TestNoiseMapMatchesDenseAlgebra(t *testing.T) {
	stack := gaussianStack(t, 7, 7, 6, 1.5, 11)
	mask := circularMask(t, 7, 7, 2)
	op := aperture.NewOperator(mask)

	e := NewEstimator(nil)
	cov, err := e.Covariance(stack)
	if err != nil {
		t.Fatalf("Covariance failed: %v", err)
	}

	noiseMap, err := e.NoiseMap(cov, op)
	if err != nil {
		t.Fatalf("NoiseMap failed: %v", err)
	}

	// Dense reference: sqrt(diag(A Cov A^T)).
	a := op.Dense()
	var tmp, full mat.Dense
	tmp.Mul(a, cov)
	full.Mul(&tmp, a.T())

	p := stack.Grids[0].Pixels()
	for i := 0; i < p; i++ {
		want := math.Sqrt(math.Max(0, full.At(i, i)))
		if math.Abs(noiseMap.Data[i]-want) > 1e-9 {
			t.Errorf("Pixel %d: structured %g, dense %g", i, noiseMap.Data[i], want)
		}
	}
}

// TestNoiseMapWorkerInvariance verifies the result does not depend on
// the worker count
func TestNoiseMapWorkerInvariance(t *testing.T) {
	stack := gaussianStack(t, 9, 9, 5, 1.0, 3)
	mask := circularMask(t, 9, 9, 2)
	op := aperture.NewOperator(mask)

	cov, err := NewEstimator(nil).Covariance(stack)
	if err != nil {
		t.Fatalf("Covariance failed: %v", err)
	}

	serial, err := NewEstimator(&Params{NumWorkers: 1}).NoiseMap(cov, op)
	if err != nil {
		t.Fatalf("NoiseMap failed: %v", err)
	}
	parallel, err := NewEstimator(&Params{NumWorkers: 8}).NoiseMap(cov, op)
	if err != nil {
		t.Fatalf("NoiseMap failed: %v", err)
	}

	for i := range serial.Data {
		if serial.Data[i] != parallel.Data[i] {
			t.Errorf("Pixel %d differs across worker counts: %g vs %g",
				i, serial.Data[i], parallel.Data[i])
		}
	}
}

// TestRadialProfileConstantMap verifies that a constant map yields a
// constant profile in every defined bin
func TestRadialProfileConstantMap(t *testing.T) {
	const value = 3.25
	m := models.NewGrid(15, 15)
	for i := range m.Data {
		m.Data[i] = value
	}

	prof := NewEstimator(nil).RadialProfile(m, nil)

	if len(prof.Bins) != len(prof.Values) {
		t.Fatalf("Bins and values misaligned: %d vs %d", len(prof.Bins), len(prof.Values))
	}
	for b, v := range prof.Values {
		if math.IsNaN(v) {
			continue
		}
		if math.Abs(v-value) > 1e-12 {
			t.Errorf("Bin %d: expected %g, got %g", b, value, v)
		}
	}
}

// TestRadialProfileCustomCenter verifies that an off-center origin
// shifts the binning
func TestRadialProfileCustomCenter(t *testing.T) {
	m := models.NewGrid(9, 9)
	m.Set(0, 0, 10)

	prof := NewEstimator(nil).RadialProfile(m, &models.Point{X: 0, Y: 0})

	// The corner pixel is now at radius zero.
	if prof.Values[0] != 10 {
		t.Errorf("Expected bin 0 to hold the corner value, got %g", prof.Values[0])
	}
	// Maximum radius from the corner of a 9x9 frame is round(8*sqrt(2)) = 11.
	if len(prof.Bins) != 12 {
		t.Errorf("Expected 12 bins from corner origin, got %d", len(prof.Bins))
	}
}

// TestCurveScaleInvariance verifies that scaling the stack and the
// off-axis image by the same positive factor leaves the curve unchanged
func TestCurveScaleInvariance(t *testing.T) {
	const k = 37.5
	stack := gaussianStack(t, 11, 11, 6, 1.0, 99)
	offAxis := impulse(11, 11)
	mask := circularMask(t, 11, 11, 2)

	scaledGrids := make([]*models.Grid, stack.Len())
	for i, g := range stack.Grids {
		scaledGrids[i] = g.Clone()
		for j := range scaledGrids[i].Data {
			scaledGrids[i].Data[j] *= k
		}
	}
	scaledStack, err := models.NewStack(scaledGrids)
	if err != nil {
		t.Fatalf("Failed to build scaled stack: %v", err)
	}
	scaledOffAxis := offAxis.Clone()
	for j := range scaledOffAxis.Data {
		scaledOffAxis.Data[j] *= k
	}

	e := NewEstimator(nil)
	base, err := e.Curve(stack, offAxis, mask)
	if err != nil {
		t.Fatalf("Curve failed: %v", err)
	}
	scaled, err := e.Curve(scaledStack, scaledOffAxis, mask)
	if err != nil {
		t.Fatalf("Scaled curve failed: %v", err)
	}

	for i := range base.Contrast {
		a, b := base.Contrast[i], scaled.Contrast[i]
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if math.Abs(a-b) > 1e-9*math.Abs(a) {
			t.Errorf("Bin %d: contrast changed under uniform rescale, %g vs %g", i, a, b)
		}
	}
}

// TestCurveDimensionMismatch verifies the eager shape validation
func TestCurveDimensionMismatch(t *testing.T) {
	stack := gaussianStack(t, 10, 10, 4, 1.0, 5)
	offAxis := impulse(10, 10)
	smallMask := circularMask(t, 8, 8, 2)

	e := NewEstimator(nil)
	if _, err := e.Curve(stack, offAxis, smallMask); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for 8x8 aperture, got %v", err)
	}

	smallOffAxis := impulse(8, 8)
	mask := circularMask(t, 10, 10, 2)
	if _, err := e.Curve(stack, smallOffAxis, mask); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for 8x8 off-axis image, got %v", err)
	}
}

// TestCurveInsufficientSamples verifies the single-realization error
func TestCurveInsufficientSamples(t *testing.T) {
	stack, err := models.NewStack([]*models.Grid{models.NewGrid(10, 10)})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}

	e := NewEstimator(nil)
	_, err = e.Curve(stack, impulse(10, 10), circularMask(t, 10, 10, 2))
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("Expected ErrInsufficientSamples, got %v", err)
	}
}

// TestCurveZeroNormalization verifies that an empty aperture fails
// with the normalization error
func TestCurveZeroNormalization(t *testing.T) {
	stack := gaussianStack(t, 10, 10, 4, 1.0, 5)
	emptyMask := aperture.FromGrid(models.NewGrid(10, 10))

	e := NewEstimator(nil)
	if _, err := e.Curve(stack, impulse(10, 10), emptyMask); !errors.Is(err, ErrZeroNormalization) {
		t.Errorf("Expected ErrZeroNormalization for empty aperture, got %v", err)
	}
}

// TestCurveEndToEnd runs the reference scenario: 10 seeded Gaussian
// 21x21 realizations, a unit impulse off-axis image, and a radius-5
// circular aperture
func TestCurveEndToEnd(t *testing.T) {
	stack := gaussianStack(t, 21, 21, 10, 1.0, 1234)
	offAxis := impulse(21, 21)
	mask := circularMask(t, 21, 21, 5)

	e := NewEstimator(&Params{Sigma: 5})
	curve, err := e.Curve(stack, offAxis, mask)
	if err != nil {
		t.Fatalf("Curve failed: %v", err)
	}

	// The unit impulse is fully captured by the centered aperture,
	// so the normalization constant is 1 and the curve is 5*profile.
	if curve.Sigma != 5 {
		t.Errorf("Expected sigma 5, got %g", curve.Sigma)
	}

	// Bins span 0 .. round(10*sqrt(2)) = 14 in a 21x21 frame.
	if len(curve.Separation) != 15 {
		t.Fatalf("Expected 15 separation bins, got %d", len(curve.Separation))
	}
	if curve.Separation[0] != 0 || curve.Separation[14] != 14 {
		t.Errorf("Expected bins spanning 0..14, got %g..%g",
			curve.Separation[0], curve.Separation[len(curve.Separation)-1])
	}

	for i, v := range curve.Contrast {
		if math.IsNaN(v) {
			t.Errorf("Bin %d undefined in fully populated frame", i)
			continue
		}
		if v <= 0 {
			t.Errorf("Bin %d: contrast %g, expected positive noise", i, v)
		}
	}

	// Cross-check the normalization directly.
	norm, err := aperture.PeakSum(offAxis, mask)
	if err != nil {
		t.Fatalf("PeakSum failed: %v", err)
	}
	if math.Abs(norm-1.0) > 1e-9 {
		t.Errorf("Expected normalization constant 1.0 for a unit impulse, got %g", norm)
	}
}

// BenchmarkNoiseMap benchmarks the aperture noise propagation
func BenchmarkNoiseMap(b *testing.B) {
	stack := benchGaussianStack(21, 21, 10, 1.0, 1234)
	mask, err := aperture.NewCircularMask(21, 21, 5)
	if err != nil {
		b.Fatalf("Failed to build mask: %v", err)
	}
	op := aperture.NewOperator(mask)

	e := NewEstimator(nil)
	cov, err := e.Covariance(stack)
	if err != nil {
		b.Fatalf("Covariance failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.NoiseMap(cov, op); err != nil {
			b.Fatalf("NoiseMap failed: %v", err)
		}
	}
}

// Helper functions for tests

// gaussianStack creates a stack of seeded zero-mean Gaussian images
func gaussianStack(t *testing.T, width, height, n int, sigma float64, seed uint64) *models.Stack {
	t.Helper()
	stack, err := models.NewStack(gaussianGrids(width, height, n, sigma, seed))
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}
	return stack
}

func benchGaussianStack(width, height, n int, sigma float64, seed uint64) *models.Stack {
	stack, _ := models.NewStack(gaussianGrids(width, height, n, sigma, seed))
	return stack
}

func gaussianGrids(width, height, n int, sigma float64, seed uint64) []*models.Grid {
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewSource(seed)}
	grids := make([]*models.Grid, n)
	for i := range grids {
		g := models.NewGrid(width, height)
		for j := range g.Data {
			g.Data[j] = noise.Rand()
		}
		grids[i] = g
	}
	return grids
}

// impulse creates a grid with a single unit value at the frame center
func impulse(width, height int) *models.Grid {
	g := models.NewGrid(width, height)
	g.Set((width-1)/2, (height-1)/2, 1)
	return g
}

// circularMask builds a circular aperture, failing the test on error
func circularMask(t *testing.T, width, height int, radius float64) *aperture.Mask {
	t.Helper()
	mask, err := aperture.NewCircularMask(width, height, radius)
	if err != nil {
		t.Fatalf("Failed to build mask: %v", err)
	}
	return mask
}

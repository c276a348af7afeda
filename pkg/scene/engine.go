// Package scene provides a synthetic stand-in for the external
// coronagraphy simulation engine. It produces seeded target/reference
// observation pairs and off-axis point-source images with the shape
// contracts the contrast estimator expects, so the full pipeline can
// run without the heavyweight instrument simulator.
package scene

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"contrastcurve/internal/models"
)

// Params holds the scene configuration
type Params struct {
	// Width and Height are the detector frame dimensions in pixels
	Width  int
	Height int

	// StarFlux is the peak count rate of the occulted stellar halo
	StarFlux float64

	// HaloScale is the e-folding radius of the stellar halo in pixels
	HaloScale float64

	// SpeckleRMS is the per-pixel standard deviation of the residual
	// speckle noise, drawn independently per realization
	SpeckleRMS float64

	// ReadNoise is the per-pixel detector read noise standard
	// deviation, applied when the fidelity settings include it
	ReadNoise float64

	// CompanionFWHM is the full width at half maximum of the
	// off-axis point-spread function in pixels. Zero produces a unit
	// impulse instead.
	CompanionFWHM float64

	// CompanionFlux is the total flux of the off-axis source
	CompanionFlux float64

	// Seed initializes the noise stream; equal seeds reproduce
	// identical observation sequences
	Seed uint64
}

// Fidelity holds the engine settings that trade accuracy for speed.
// Overrides are applied through Engine.WithFidelity for a bounded
// scope and restored on return, never through package-level state.
type Fidelity struct {
	// WavefrontSamples is the number of wavefront-error draws
	// averaged into each observation
	WavefrontSamples int

	// IncludeReadNoise toggles the detector read-noise term
	IncludeReadNoise bool
}

// DefaultFidelity returns the full-accuracy engine settings
func DefaultFidelity() Fidelity {
	return Fidelity{
		WavefrontSamples: 1,
		IncludeReadNoise: true,
	}
}

// Engine generates synthetic coronagraphic observations
type Engine struct {
	params   Params
	fidelity Fidelity
	noise    distuv.Normal
}

// NewEngine creates an engine with the provided parameters and
// default fidelity settings
func NewEngine(params *Params) (*Engine, error) {
	if params.Width <= 0 || params.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", params.Width, params.Height)
	}
	if params.SpeckleRMS < 0 || params.ReadNoise < 0 {
		return nil, fmt.Errorf("noise levels must be non-negative")
	}

	return &Engine{
		params:   *params,
		fidelity: DefaultFidelity(),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(params.Seed),
		},
	}, nil
}

// Fidelity returns the engine's current fidelity settings
func (e *Engine) Fidelity() Fidelity {
	return e.fidelity
}

// WithFidelity applies the override for the duration of fn and
// restores the previous settings when fn returns, including on error.
// This bounds fidelity changes to an explicit scope instead of
// leaving the engine in an overridden state.
func (e *Engine) WithFidelity(override Fidelity, fn func() error) error {
	saved := e.fidelity
	e.fidelity = override
	defer func() { e.fidelity = saved }()
	return fn()
}

// Observation is one simulated target/reference pair sharing a
// pointing but drawn with independent noise
type Observation struct {
	Target    *models.Grid
	Reference *models.Grid
}

// Observe produces n independent observation realizations. Each
// target and reference image carries the deterministic stellar halo
// plus an independent speckle draw, averaged over the configured
// number of wavefront samples, plus read noise when the fidelity
// settings include it.
func (e *Engine) Observe(n int) ([]Observation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("realization count must be positive, got %d", n)
	}

	halo := e.halo()
	obs := make([]Observation, n)
	for i := range obs {
		obs[i] = Observation{
			Target:    e.exposure(halo),
			Reference: e.exposure(halo),
		}
	}
	return obs, nil
}

// exposure draws one detector frame around the given halo
func (e *Engine) exposure(halo *models.Grid) *models.Grid {
	img := halo.Clone()

	samples := e.fidelity.WavefrontSamples
	if samples < 1 {
		samples = 1
	}

	// Averaging independent wavefront draws shrinks the speckle term
	// by sqrt(samples).
	speckleSigma := e.params.SpeckleRMS / math.Sqrt(float64(samples))
	for i := range img.Data {
		if speckleSigma > 0 {
			img.Data[i] += speckleSigma * e.noise.Rand()
		}
		if e.fidelity.IncludeReadNoise && e.params.ReadNoise > 0 {
			img.Data[i] += e.params.ReadNoise * e.noise.Rand()
		}
	}
	return img
}

// halo builds the deterministic occulted-star halo
func (e *Engine) halo() *models.Grid {
	g := models.NewGrid(e.params.Width, e.params.Height)
	if e.params.StarFlux == 0 {
		return g
	}
	c := g.Center()
	scale := e.params.HaloScale
	if scale <= 0 {
		scale = 1
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			dx := float64(x) - c.X
			dy := float64(y) - c.Y
			r := math.Sqrt(dx*dx + dy*dy)
			g.Set(x, y, e.params.StarFlux*math.Exp(-r/scale))
		}
	}
	return g
}

// OffAxis produces the unocculted point-source image used for flux
// normalization. With a positive CompanionFWHM it renders a Gaussian
// PSF integrating to CompanionFlux; otherwise a unit impulse at the
// frame center scaled by CompanionFlux.
func (e *Engine) OffAxis() *models.Grid {
	g := models.NewGrid(e.params.Width, e.params.Height)
	c := g.Center()

	flux := e.params.CompanionFlux
	if flux == 0 {
		flux = 1
	}

	if e.params.CompanionFWHM <= 0 {
		g.Set(int(math.Round(c.X)), int(math.Round(c.Y)), flux)
		return g
	}

	sigma := e.params.CompanionFWHM / (2 * math.Sqrt(2*math.Log(2)))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			dx := float64(x) - c.X
			dy := float64(y) - c.Y
			g.Set(x, y, math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}

	// Normalize the rendered PSF to the requested total flux.
	total := floats.Sum(g.Data)
	if total > 0 {
		floats.Scale(flux/total, g.Data)
	}
	return g
}

// Subtract registers the reference to the target and returns the
// residual image: the reference is flux-scaled to match the target,
// subtracted, and the residual is mean-centered. This is the
// registration contract the estimator assumes complete on its inputs.
func Subtract(target, reference *models.Grid) (*models.Grid, error) {
	if !target.SameDims(reference) {
		return nil, fmt.Errorf("target is %dx%d, reference is %dx%d",
			target.Width, target.Height, reference.Width, reference.Height)
	}

	refTotal := floats.Sum(reference.Data)
	ratio := 1.0
	if refTotal != 0 {
		ratio = floats.Sum(target.Data) / refTotal
	}

	residual := models.NewGrid(target.Width, target.Height)
	for i := range residual.Data {
		residual.Data[i] = target.Data[i] - ratio*reference.Data[i]
	}

	mean := stat.Mean(residual.Data, nil)
	for i := range residual.Data {
		residual.Data[i] -= mean
	}
	return residual, nil
}

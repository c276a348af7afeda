// Package pipeline orchestrates the end-to-end contrast-curve run:
// synthetic observation, reference subtraction, covariance-based
// noise estimation, radial aggregation, normalization and export.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"contrastcurve/internal/models"
	"contrastcurve/pkg/aperture"
	"contrastcurve/pkg/contrast"
	"contrastcurve/pkg/export"
	"contrastcurve/pkg/scene"
)

// Params holds the pipeline configuration
type Params struct {
	// Scene configures the synthetic observation engine
	Scene scene.Params

	// Realizations is the number of independent noise realizations
	Realizations int

	// ApertureRadius is the photometric aperture radius in pixels
	ApertureRadius float64

	// Sigma is the detection confidence level of the curve
	Sigma float64

	// PixelScale converts pixel separations to arcseconds in the
	// exported curve; zero omits the conversion
	PixelScale float64

	// NumWorkers bounds the goroutines used for the noise map
	NumWorkers int

	// Fidelity optionally overrides the engine fidelity for the
	// duration of the observation loop. Nil keeps the defaults.
	Fidelity *scene.Fidelity

	// OutputFile is the path where the curve will be saved as CSV
	OutputFile string

	// SaveIntermediaryResults determines whether to save intermediary
	// results during processing
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory where intermediary results
	// will be saved. Only used when SaveIntermediaryResults is true.
	IntermediaryDir string
}

// Runner drives the contrast-curve pipeline
type Runner struct {
	params *Params
	curve  *models.Curve

	// noiseMap is retained after Process for inspection
	noiseMap *models.Grid
}

// NewRunner creates a new pipeline runner with the provided parameters
func NewRunner(params *Params) *Runner {
	return &Runner{params: params}
}

// Process runs the complete pipeline
func (r *Runner) Process() error {
	// Create intermediary directory if needed
	if r.params.SaveIntermediaryResults {
		if err := os.MkdirAll(r.params.IntermediaryDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	// Step 1: Simulate target and reference observations
	fmt.Println("Step 1: Simulating observations...")
	engine, err := scene.NewEngine(&r.params.Scene)
	if err != nil {
		return fmt.Errorf("failed to create scene engine: %w", err)
	}

	var observations []scene.Observation
	observe := func() error {
		obs, err := engine.Observe(r.params.Realizations)
		if err != nil {
			return err
		}
		observations = obs
		return nil
	}
	if r.params.Fidelity != nil {
		err = engine.WithFidelity(*r.params.Fidelity, observe)
	} else {
		err = observe()
	}
	if err != nil {
		return fmt.Errorf("failed to simulate observations: %w", err)
	}
	fmt.Printf("Simulated %d realizations of %dx%d frames\n",
		len(observations), r.params.Scene.Width, r.params.Scene.Height)

	// Step 2: Register and subtract references
	fmt.Println("Step 2: Subtracting registered references...")
	residuals := make([]*models.Grid, len(observations))
	for i, obs := range observations {
		residuals[i], err = scene.Subtract(obs.Target, obs.Reference)
		if err != nil {
			return fmt.Errorf("failed to subtract realization %d: %w", i, err)
		}
	}
	stack, err := models.NewStack(residuals)
	if err != nil {
		return fmt.Errorf("failed to assemble stack: %w", err)
	}

	if r.params.SaveIntermediaryResults {
		for i, g := range residuals {
			path := filepath.Join(r.params.IntermediaryDir, "01_residuals", fmt.Sprintf("%03d.png", i))
			if err := export.SaveGridPNG(path, g); err != nil {
				fmt.Printf("Warning: Failed to save residual %d: %v\n", i, err)
			}
		}
	}

	// Step 3: Build the photometric aperture
	fmt.Println("Step 3: Building photometric aperture...")
	mask, err := aperture.NewCircularMask(stack.Width(), stack.Height(), r.params.ApertureRadius)
	if err != nil {
		return fmt.Errorf("failed to build aperture: %w", err)
	}
	op := aperture.NewOperator(mask)

	// Step 4: Estimate the pixel covariance across realizations
	fmt.Println("Step 4: Estimating pixel covariance...")
	estimator := contrast.NewEstimator(&contrast.Params{
		Sigma:      r.params.Sigma,
		NumWorkers: r.params.NumWorkers,
	})
	cov, err := estimator.Covariance(stack)
	if err != nil {
		return fmt.Errorf("failed to estimate covariance: %w", err)
	}

	// Step 5: Propagate noise through the aperture
	fmt.Println("Step 5: Propagating noise through the aperture...")
	noiseMap, err := estimator.NoiseMap(cov, op)
	if err != nil {
		return fmt.Errorf("failed to compute noise map: %w", err)
	}
	r.noiseMap = noiseMap

	if r.params.SaveIntermediaryResults {
		path := filepath.Join(r.params.IntermediaryDir, "02_noise_map", "noise_map.png")
		if err := export.SaveGridPNG(path, noiseMap); err != nil {
			fmt.Printf("Warning: Failed to save noise map: %v\n", err)
		}
	}

	// Step 6: Aggregate radially and normalize by the off-axis peak
	fmt.Println("Step 6: Normalizing radial profile...")
	profile := estimator.RadialProfile(noiseMap, nil)

	offAxis := engine.OffAxis()
	if r.params.SaveIntermediaryResults {
		path := filepath.Join(r.params.IntermediaryDir, "03_off_axis", "off_axis.png")
		if err := export.SaveGridPNG(path, offAxis); err != nil {
			fmt.Printf("Warning: Failed to save off-axis image: %v\n", err)
		}
	}

	norm, err := aperture.PeakSum(offAxis, mask)
	if err != nil {
		return fmt.Errorf("failed to compute normalization: %w", err)
	}
	if norm <= 0 {
		return fmt.Errorf("%w: peak aperture sum is %g", contrast.ErrZeroNormalization, norm)
	}

	sigma := r.params.Sigma
	if sigma == 0 {
		sigma = contrast.DefaultSigma
	}
	curve := &models.Curve{
		Separation: profile.Bins,
		Contrast:   make([]float64, len(profile.Values)),
		Sigma:      sigma,
	}
	for i, v := range profile.Values {
		curve.Contrast[i] = sigma * v / norm
	}
	r.curve = curve

	// Step 7: Export the curve
	if r.params.OutputFile != "" {
		fmt.Println("Step 7: Writing contrast curve...")
		if err := export.WriteCurveCSV(r.params.OutputFile, curve, r.params.PixelScale); err != nil {
			return fmt.Errorf("failed to write curve: %w", err)
		}
	}

	return nil
}

// Curve returns the contrast curve computed by Process
func (r *Runner) Curve() *models.Curve {
	return r.curve
}

// NoiseMap returns the propagated noise map computed by Process
func (r *Runner) NoiseMap() *models.Grid {
	return r.noiseMap
}

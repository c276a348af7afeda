package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"contrastcurve/pkg/config"
	"contrastcurve/pkg/pipeline"
	"contrastcurve/pkg/scene"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "contrastcurve.yaml", "Path to YAML configuration file")
	outputFile := flag.String("output", "contrast_curve.csv", "Output CSV filename")
	realizations := flag.Int("realizations", 0, "Number of noise realizations (overrides config)")
	size := flag.Int("size", 0, "Square frame size in pixels (overrides config)")
	radius := flag.Float64("radius", 0, "Aperture radius in pixels (overrides config)")
	sigma := flag.Float64("sigma", 0, "Detection confidence level (overrides config)")
	seed := flag.Uint64("seed", 0, "Noise seed (overrides config)")
	numWorkers := flag.Int("workers", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	fastPreview := flag.Bool("fast-preview", false, "Run at reduced simulation fidelity")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save intermediary results during processing")
	intermediaryDir := flag.String("intermediary-dir", "intermediary_results", "Directory to save intermediary results")
	flag.Parse()

	// Load configuration with defaults
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply command line overrides
	if *realizations > 0 {
		cfg.Scene.Realizations = *realizations
	}
	if *size > 0 {
		cfg.Scene.Width = *size
		cfg.Scene.Height = *size
	}
	if *radius > 0 {
		cfg.Photometry.ApertureRadius = *radius
	}
	if *sigma > 0 {
		cfg.Photometry.Sigma = *sigma
	}
	if *seed > 0 {
		cfg.Scene.Seed = *seed
	}
	cfg.Photometry.NumWorkers = *numWorkers

	fmt.Println("================================")
	fmt.Println("CORONAGRAPHIC CONTRAST CURVE ESTIMATION")
	fmt.Println("Covariance-propagated aperture photometry over synthetic realizations")
	fmt.Println("================================")

	// Initialize pipeline parameters
	params := &pipeline.Params{
		Scene: scene.Params{
			Width:         cfg.Scene.Width,
			Height:        cfg.Scene.Height,
			StarFlux:      cfg.Scene.StarFlux,
			HaloScale:     cfg.Scene.HaloScale,
			SpeckleRMS:    cfg.Scene.SpeckleRMS,
			ReadNoise:     cfg.Scene.ReadNoise,
			CompanionFWHM: cfg.Scene.CompanionFWHM,
			Seed:          cfg.Scene.Seed,
		},
		Realizations:            cfg.Scene.Realizations,
		ApertureRadius:          cfg.Photometry.ApertureRadius,
		Sigma:                   cfg.Photometry.Sigma,
		PixelScale:              cfg.Photometry.PixelScale,
		NumWorkers:              cfg.Photometry.NumWorkers,
		OutputFile:              *outputFile,
		SaveIntermediaryResults: *saveIntermediary,
		IntermediaryDir:         *intermediaryDir,
	}

	if *fastPreview {
		// Coarse fidelity: averaged wavefront draws, no read noise.
		params.Fidelity = &scene.Fidelity{
			WavefrontSamples: 4,
			IncludeReadNoise: false,
		}
	}

	// Create pipeline runner
	runner := pipeline.NewRunner(params)

	// Run the pipeline
	fmt.Println("Starting contrast-curve estimation...")
	startTime := time.Now()
	if err := runner.Process(); err != nil {
		log.Fatalf("Contrast estimation failed: %v", err)
	}
	processingTime := time.Since(startTime)

	// Display curve summary
	curve := runner.Curve()
	fmt.Printf("\nContrast curve computed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Curve saved to: %s\n\n", *outputFile)

	fmt.Printf("Curve summary (%.0f-sigma):\n", curve.Sigma)
	fmt.Printf("========================\n")
	fmt.Printf("Separation bins: %d (%d defined)\n", len(curve.Separation), curve.DefinedBins())

	best := math.Inf(1)
	bestSep := 0.0
	for i, v := range curve.Contrast {
		if !math.IsNaN(v) && v < best {
			best = v
			bestSep = curve.Separation[i]
		}
	}
	if !math.IsInf(best, 1) {
		fmt.Printf("Deepest contrast: %.3e at %.0f px", best, bestSep)
		if cfg.Photometry.PixelScale > 0 {
			fmt.Printf(" (%.2f arcsec)", bestSep*cfg.Photometry.PixelScale)
		}
		fmt.Println()
	}

	fmt.Println("\nProcessing configuration:")
	fmt.Printf("- %d realizations of %dx%d frames\n", cfg.Scene.Realizations, cfg.Scene.Width, cfg.Scene.Height)
	fmt.Printf("- Aperture radius: %.1f px\n", cfg.Photometry.ApertureRadius)
	fmt.Printf("- Used %d cores for noise propagation\n", cfg.Photometry.NumWorkers)

	// Print information about intermediary results if saved
	if *saveIntermediary {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", *intermediaryDir)
		fmt.Println("The following stages were saved:")
		fmt.Println("- 01_residuals: Reference-subtracted realization images")
		fmt.Println("- 02_noise_map: Aperture-propagated noise map")
		fmt.Println("- 03_off_axis: Off-axis normalization image")
	}
}

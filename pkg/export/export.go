// Package export writes pipeline artifacts to disk: contrast curves
// as CSV and intermediary grids as grayscale PNG images.
package export

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"contrastcurve/internal/models"
)

// WriteCurveCSV writes a contrast curve to a CSV file with columns
// separation_px, separation_arcsec, contrast. A non-positive
// pixelScale omits the arcsecond column. Undefined (NaN) bins are
// written as empty fields so downstream tools can filter or
// interpolate them.
func WriteCurveCSV(path string, curve *models.Curve, pixelScale float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating curve file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"separation_px", "contrast"}
	if pixelScale > 0 {
		header = []string{"separation_px", "separation_arcsec", "contrast"}
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("error writing curve header: %w", err)
	}

	for i, sep := range curve.Separation {
		contrast := ""
		if !math.IsNaN(curve.Contrast[i]) {
			contrast = strconv.FormatFloat(curve.Contrast[i], 'e', 6, 64)
		}

		record := []string{strconv.FormatFloat(sep, 'f', 1, 64)}
		if pixelScale > 0 {
			record = append(record, strconv.FormatFloat(sep*pixelScale, 'f', 4, 64))
		}
		record = append(record, contrast)

		if err := w.Write(record); err != nil {
			return fmt.Errorf("error writing curve row: %w", err)
		}
	}

	return w.Error()
}

// SaveGridPNG renders a grid as an 8-bit grayscale PNG, stretching
// the value range to full scale. Used for saving intermediary noise
// maps and scene frames for inspection.
func SaveGridPNG(path string, grid *models.Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	lo, hi := grid.Data[0], grid.Data[0]
	for _, v := range grid.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			v := (grid.At(x, y) - lo) / span
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("error encoding image: %w", err)
	}
	return nil
}

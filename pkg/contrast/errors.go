package contrast

import "errors"

// Sentinel errors for the fatal failure modes of the estimator. All
// are detected eagerly before any partial computation; callers match
// them with errors.Is.
var (
	// ErrDimensionMismatch reports that the stack images, the
	// off-axis image and the aperture do not share identical
	// dimensions.
	ErrDimensionMismatch = errors.New("image dimensions mismatch")

	// ErrInsufficientSamples reports a stack with fewer than two
	// realizations, for which the sample covariance is undefined.
	ErrInsufficientSamples = errors.New("need at least 2 realizations")

	// ErrZeroNormalization reports a degenerate off-axis image whose
	// peak aperture sum is not positive, leaving the contrast ratio
	// undefined.
	ErrZeroNormalization = errors.New("off-axis normalization peak is not positive")
)

package models

import "errors"

var (
	// ErrShapeMismatch is returned when a volume and mask differ in shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrLengthMismatch is returned when a vector does not match the number
	// of valid mask positions it is decoded against.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrSizeMismatch is returned when paired statistic arrays differ in length.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrNoMatchingSpecimens is returned when no volumes remain after listing
	// and subset filtering.
	ErrNoMatchingSpecimens = errors.New("no matching specimens")

	// ErrBackendUnavailable is returned when a model backend process is
	// missing, exits non-zero or times out.
	ErrBackendUnavailable = errors.New("model backend unavailable")

	// ErrInversionFailed is returned when the inverter process is missing,
	// exits non-zero or produces no output volume.
	ErrInversionFailed = errors.New("inversion failed")

	// ErrIO wraps volume store read and write failures.
	ErrIO = errors.New("volume i/o error")

	ErrTooFewSpecimens  = errors.New("too few specimens")
	ErrMissingCovariate = errors.New("missing covariate")
	ErrSingularDesign   = errors.New("singular design matrix")
)

package models

import "errors"

var (
	// ErrDataUnavailable: a feature section or price could not be resolved. Recoverable per item.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInvalidConfiguration: bad horizon, unknown strategy, threshold out of range. Fails before any mutation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInsufficientSamples: training produced no model.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrConcurrentLabelConflict: two workers tried to label the same snapshot.
	ErrConcurrentLabelConflict = errors.New("concurrent label conflict")
	// ErrSnapshotNotFound is returned by repositories on a missing identity.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrModelNotFound is returned when no trained model is stored for a symbol.
	ErrModelNotFound = errors.New("model not found")
)

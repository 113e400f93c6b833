package tiling

import "errors"

// Fatal pipeline conditions. They indicate a broken invariant and are never retried.
var (
	ErrInvalidFactor     = errors.New("partition factor must be positive")
	ErrInvalidClassCount = errors.New("class count must be positive")
	ErrShapeMismatch     = errors.New("label grid shape mismatch")
	ErrBatchMismatch     = errors.New("classifier returned wrong number of labels")
	ErrLabelOutOfRange   = errors.New("label out of range")
)

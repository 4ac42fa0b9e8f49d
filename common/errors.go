package common

import "github.com/pkg/errors"

var (
	// ErrConfiguration is returned at construction time for invalid settings
	// (roi mode, class count, roi size, box statistics, sampling ratios).
	ErrConfiguration = errors.New("invalid configuration")

	// ErrShapeMismatch is returned at call time when input lengths or tensor
	// shapes disagree, including any batch size other than 1.
	ErrShapeMismatch = errors.New("shape mismatch")
)

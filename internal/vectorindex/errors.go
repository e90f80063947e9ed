package vectorindex

import "errors"

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidVector     = errors.New("vector contains non-finite values")
	ErrInvalidK          = errors.New("k must be positive")
	ErrCorruptSnapshot   = errors.New("corrupt index snapshot")
)

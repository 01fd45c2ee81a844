package protocol

import "errors"

var (
	// ErrFraming is the root of every header-level decode failure.
	ErrFraming = errors.New("protocol: framing error")
	// ErrBounds is the root of every index or length that runs past its container.
	ErrBounds = errors.New("protocol: bounds error")
)

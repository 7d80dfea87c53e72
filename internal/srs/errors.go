package srs

import "errors"

// Sentinel errors for the srs package.
var (
	ErrInvalidQuality  = errors.New("srs: invalid quality")
	ErrInvalidCapacity = errors.New("srs: invalid capacity")
)

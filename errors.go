package tahti

import "errors"

// Structural problems in project data are authoring mistakes the user has to
// fix, so they share sentinel errors that survive wrapping and let calling
// layers name the exact cause instead of reporting a generic render failure.
var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidTempo        = errors.New("invalid tempo")
	ErrCyclicGraph         = errors.New("graph contains a cycle")
	ErrUnknownModule       = errors.New("unknown module")
	ErrUnknownParameter    = errors.New("unknown parameter")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrUnknownBus          = errors.New("unknown bus")
	ErrUnknownSample       = errors.New("unknown sample")
	ErrInvalidLaneMetadata = errors.New("invalid lane metadata")
)

package stemsync

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is reported (and logged) when the true pitch-shift
	// path cannot be set up for a track; the track then runs in combined-rate
	// mode. It is never fatal.
	ErrEngineUnavailable = errors.New("pitch-shift engine unavailable")

	// ErrBufferUnderrun names the condition where the real-time callback could
	// not source enough samples and padded the block with silence. It is only
	// counted, never returned from the callback.
	ErrBufferUnderrun = errors.New("buffer underrun")

	ErrNoSession        = errors.New("no tracks have been created yet")
	ErrUnknownTrack     = errors.New("unknown track")
	ErrDuplicateTrack   = errors.New("duplicate track id")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// InvalidAssetError means a stem locator could not be turned into a URI.
type InvalidAssetError struct {
	ID      string
	Locator string
	Reason  string
}

func (e *InvalidAssetError) Error() string {
	return fmt.Sprintf("track %q: invalid asset locator %q: %s", e.ID, e.Locator, e.Reason)
}

// LoadFailure means an asset with a valid URI failed to become playable.
type LoadFailure struct {
	ID  string
	URI string
	Err error
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("track %q: loading %s failed: %v", e.ID, e.URI, e.Err)
}

func (e *LoadFailure) Unwrap() error {
	return e.Err
}

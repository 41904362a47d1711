//go:build !cgo

package cmd

import (
	"errors"
	"io"

	"github.com/stemsync/stemsync/midi"
)

func OpenMidiInput(device string, c *midi.Controller) (io.Closer, error) {
	// the rtmidi driver needs cgo
	return nil, errors.New("MIDI input is not available in builds without cgo")
}

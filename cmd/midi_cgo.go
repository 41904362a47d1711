//go:build cgo

package cmd

import (
	"io"

	"github.com/stemsync/stemsync/midi"
	"github.com/stemsync/stemsync/midi/rtmidi"
)

func OpenMidiInput(device string, c *midi.Controller) (io.Closer, error) {
	return rtmidi.Open(device, c.HandleMessage)
}

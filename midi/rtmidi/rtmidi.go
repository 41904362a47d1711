// Package rtmidi opens MIDI input devices through the rtmidi driver. It
// needs cgo.
package rtmidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

var ErrNoDevice = errors.New("no matching MIDI input")

// Open opens the first input whose name starts with namePrefix; "*" takes
// the first input there is.
func Open(namePrefix string, handler func(msg midi.Message, timestampms int32)) (*Input, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv.New failed: %w", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("listing MIDI inputs failed: %w", err)
	}
	for _, in := range ins {
		if namePrefix != "*" && !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if err := in.Open(); err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening MIDI input failed: %w", err)
		}
		stop, err := midi.ListenTo(in, handler)
		if err != nil {
			in.Close()
			driver.Close()
			return nil, fmt.Errorf("listening to MIDI input failed: %w", err)
		}
		return &Input{driver: driver, in: in, stop: stop}, nil
	}
	driver.Close()
	return nil, fmt.Errorf("%w starting with %q", ErrNoDevice, namePrefix)
}

func (i *Input) String() string { return i.in.String() }

func (i *Input) Close() error {
	i.stop()
	i.in.Close()
	return i.driver.Close()
}

package stemsync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWav encodes the buffer as a stereo integer PCM .wav file of the given
// bit depth (16 or 24). The writer needs to be seekable because the header is
// patched with the final sizes when the encoder is closed.
func WriteWav(w io.WriteSeeker, buffer AudioBuffer, sampleRate, bitDepth int) error {
	if bitDepth != 16 && bitDepth != 24 {
		return fmt.Errorf("WriteWav: unsupported bit depth %d: %w", bitDepth, ErrInvalidParameter)
	}
	enc := wav.NewEncoder(w, sampleRate, bitDepth, 2, 1)
	max := float64(int(1)<<(bitDepth-1) - 1)
	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           make([]int, 2*len(buffer)),
		SourceBitDepth: bitDepth,
	}
	for i, v := range buffer.Flat() {
		intBuf.Data[i] = int(math.Round(clamp(float64(v), -1, 1) * max))
	}
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("could not write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("could not finalize wav file: %w", err)
	}
	return nil
}

// Raw returns the buffer as little-endian float32 samples, interleaved.
func Raw(buffer AudioBuffer) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, buffer.Flat()); err != nil {
		return nil, fmt.Errorf("could not binary write data to binary buffer: %w", err)
	}
	return buf.Bytes(), nil
}

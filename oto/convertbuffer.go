package oto

import (
	"encoding/binary"
	"math"

	"github.com/stemsync/stemsync"
)

// FloatBufferToFloat32LE writes the interleaved samples of buf into dst as
// little-endian float32s, clamped to [-1,1]. dst must hold at least 8 bytes
// per frame. It returns the number of bytes written.
func FloatBufferToFloat32LE(buf stemsync.AudioBuffer, dst []byte) int {
	for i, v := range buf.Flat() {
		if v < -1 {
			v = -1
		} else if v > 1 {
			v = 1
		}
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
	return 8 * len(buf)
}

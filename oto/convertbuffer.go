package oto

import "math"

// floatBufferToLE appends the little-endian float32 bytes of buffer to dst,
// the sample layout the player context is opened with.
func floatBufferToLE(buffer []float32, dst []byte) []byte {
	for _, v := range buffer {
		bits := math.Float32bits(v)
		dst = append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return dst
}

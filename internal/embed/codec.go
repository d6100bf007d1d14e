package embed

import (
	"encoding/binary"
	"math"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// EncodeVector packs a float32 vector as little-endian bytes.
func EncodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

// DecodeVector unpacks a little-endian f32 blob. The byte length must be
// a multiple of four; the roundtrip with EncodeVector is bit-exact.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, llmcerrors.Integrity("vector blob length not a multiple of 4", nil)
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

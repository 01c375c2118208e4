// Package codec converts raw 16-bit Modbus register words to and from
// reconstructed integer values. It is pure: no storage, transport or
// logging concerns.
package codec

import (
	"fmt"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
)

// WordsRequired returns the number of 16-bit register words a value of
// the given bit width occupies.
func WordsRequired(bits uint8) int {
	return (int(bits) + 15) / 16
}

// validWidth reports whether bits is one of the supported decode widths.
func validWidth(bits uint8) bool {
	switch bits {
	case 8, 16, 32, 64:
		return true
	}
	return false
}

// Decode reassembles a sequence of register words into one unsigned
// integer. Each word is serialized most-significant byte first, the
// byte-order transform for the endianness is applied to the flat byte
// sequence, and the result is read as a big-endian unsigned integer.
// The full 64-bit range is preserved; callers convert to float only at
// the calibration step.
//
// Extra trailing words are ignored. A short sequence fails with
// ErrInsufficientRegisters rather than silently truncating.
func Decode(words []uint16, bits uint8, order domain.Endianness) (uint64, error) {
	if !validWidth(bits) {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidBitWidth, bits)
	}
	required := WordsRequired(bits)
	if len(words) < required {
		return 0, fmt.Errorf("%w: need %d words for %d bits, got %d",
			domain.ErrInsufficientRegisters, required, bits, len(words))
	}

	buf := make([]byte, required*2)
	for i := 0; i < required; i++ {
		buf[2*i] = byte(words[i] >> 8)
		buf[2*i+1] = byte(words[i])
	}
	buf = reorderBytes(buf, order)

	// An 8-bit read occupies one word; the value lives in the low byte
	// of the transformed word.
	if bits == 8 {
		return uint64(buf[1]), nil
	}

	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Encode is the inverse of Decode: it serializes a value of the given
// bit width into register words under the same endianness. All four
// byte-order transforms are involutions, so encoding applies the same
// transform Decode does.
func Encode(value uint64, bits uint8, order domain.Endianness) ([]uint16, error) {
	if !validWidth(bits) {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidBitWidth, bits)
	}
	required := WordsRequired(bits)
	buf := make([]byte, required*2)
	if bits == 8 {
		buf[1] = byte(value)
	} else {
		for i := len(buf) - 1; i >= 0; i-- {
			buf[i] = byte(value)
			value >>= 8
		}
	}
	buf = reorderBytes(buf, order)

	words := make([]uint16, required)
	for i := range words {
		words[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return words, nil
}

// reorderBytes applies the byte-order transform to a flat big-endian
// byte sequence. The input length is always a multiple of 2.
func reorderBytes(data []byte, order domain.Endianness) []byte {
	result := make([]byte, len(data))

	switch order {
	case domain.EndiannessDCBA:
		// Full reversal (true little-endian).
		for i := range data {
			result[i] = data[len(data)-1-i]
		}

	case domain.EndiannessBADC:
		// Swap the two bytes within each word, word order unchanged.
		for i := 0; i+1 < len(data); i += 2 {
			result[i] = data[i+1]
			result[i+1] = data[i]
		}

	case domain.EndiannessCDAB:
		// Swap each adjacent word pair across the whole sequence.
		for i := 0; i+3 < len(data); i += 4 {
			result[i] = data[i+2]
			result[i+1] = data[i+3]
			result[i+2] = data[i]
			result[i+3] = data[i+1]
		}
		if rem := len(data) % 4; rem > 0 {
			start := len(data) - rem
			copy(result[start:], data[start:])
		}

	default:
		// ABCD and NONE: already big-endian word order with big-endian
		// bytes within each word.
		copy(result, data)
	}

	return result
}

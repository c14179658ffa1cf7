package compress

import (
	"encoding/binary"
	"errors"
)

const (
	sparseMaxLiteral = 0x80
	sparseMaxZeros   = 0x82
	sparseMinZeros   = 3
)

// sparseCompress encodes data as a big-endian length followed by runs:
// a control byte 0x80|(n-1) precedes n literal bytes, and a control byte
// below 0x80 stands for (byte+3) zero bytes.
func sparseCompress(data []byte) ([]byte, error) {
	out := make([]byte, 4, len(data)+len(data)/sparseMaxLiteral+5)
	binary.BigEndian.PutUint32(out, uint32(len(data))) //nolint:gosec // sector-sized input

	litStart := 0
	for i := 0; i < len(data); {
		if data[i] != 0 {
			i++
			continue
		}
		zeros := 0
		for i+zeros < len(data) && data[i+zeros] == 0 {
			zeros++
		}
		if zeros < sparseMinZeros {
			i += zeros
			continue
		}
		out = appendLiterals(out, data[litStart:i])
		out = appendZeros(out, zeros)
		i += zeros
		litStart = i
	}
	return appendLiterals(out, data[litStart:]), nil
}

func appendLiterals(out, lit []byte) []byte {
	for len(lit) > 0 {
		n := min(len(lit), sparseMaxLiteral)
		out = append(out, 0x80|byte(n-1))
		out = append(out, lit[:n]...)
		lit = lit[n:]
	}
	return out
}

func appendZeros(out []byte, n int) []byte {
	for n > 0 {
		k := min(n, sparseMaxZeros)
		if rest := n - k; rest > 0 && rest < sparseMinZeros {
			k -= sparseMinZeros - rest
		}
		out = append(out, byte(k-sparseMinZeros))
		n -= k
	}
	return out
}

func sparseDecompress(data []byte, outSize int) ([]byte, error) {
	if len(data) < 5 {
		return nil, errors.New("sparse: input too short")
	}
	size := int(binary.BigEndian.Uint32(data))
	if size > outSize {
		return nil, errors.New("sparse: stored size exceeds output size")
	}

	out := make([]byte, 0, size)
	for pos := 4; pos < len(data) && len(out) < size; {
		ctl := data[pos]
		pos++
		if ctl&0x80 != 0 {
			n := int(ctl&0x7F) + 1
			n = min(n, len(data)-pos, size-len(out))
			out = append(out, data[pos:pos+n]...)
			pos += n
			continue
		}
		n := min(int(ctl)+sparseMinZeros, size-len(out))
		out = append(out, make([]byte, n)...)
	}
	if len(out) < size {
		out = append(out, make([]byte, size-len(out))...)
	}
	return out, nil
}

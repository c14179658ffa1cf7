// Package compress implements the per-sector compression multiplexer.
//
// A compressed sector starts with a mask byte naming the algorithms that
// were applied. Compression applies the selected steps in a fixed order and
// decompression unwinds them in reverse. LZMA is the exception: it is
// identified by an exact mask value and is never chained.
package compress

import (
	"errors"
	"fmt"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// Mask is the compression mask byte stored in front of a compressed sector.
type Mask uint8

// Mask bits.
const (
	Huffman     Mask = 0x01
	Zlib        Mask = 0x02
	PKWare      Mask = 0x08
	BZip2       Mask = 0x10
	Sparse      Mask = 0x20
	ADPCMMono   Mask = 0x40
	ADPCMStereo Mask = 0x80

	// LZMA is matched exactly rather than as a bit.
	LZMA Mask = 0x12
)

// Algorithm names reported by DecompressionError.
const (
	AlgHuffman     = "huffman"
	AlgZlib        = "zlib"
	AlgPKWare      = "pkware"
	AlgBZip2       = "bzip2"
	AlgSparse      = "sparse"
	AlgADPCMMono   = "adpcm-mono"
	AlgADPCMStereo = "adpcm-stereo"
	AlgLZMA        = "lzma"
	AlgImplode     = "implode"
	AlgMask        = "mask"
)

// ErrDecompression is returned (wrapped in a DecompressionError) when a
// sector cannot be decompressed.
var ErrDecompression = mpqtype.ErrDecompression

// DecompressionError describes which algorithm failed on which sector.
type DecompressionError struct {
	Algorithm string
	// Sector is the zero-based sector index, or -1 for single-unit files
	// and table payloads.
	Sector int
	Err    error
}

func (e *DecompressionError) Error() string {
	if e.Sector >= 0 {
		return fmt.Sprintf("mpq: %s decompression failed in sector %d: %v", e.Algorithm, e.Sector, e.Err)
	}
	return fmt.Sprintf("mpq: %s decompression failed: %v", e.Algorithm, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecompressionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecompression.
func (e *DecompressionError) Is(target error) bool { return target == ErrDecompression }

type step struct {
	mask   Mask
	name   string
	encode func([]byte) ([]byte, error)
	decode func([]byte, int) ([]byte, error)
}

// pipeline lists the chainable steps in the order they are applied when
// compressing.
var pipeline = []step{
	{Sparse, AlgSparse, sparseCompress, sparseDecompress},
	{ADPCMMono, AlgADPCMMono,
		func(b []byte) ([]byte, error) { return adpcmCompress(b, 1, adpcmLevel) },
		func(b []byte, n int) ([]byte, error) { return adpcmDecompress(b, n, 1) }},
	{ADPCMStereo, AlgADPCMStereo,
		func(b []byte) ([]byte, error) { return adpcmCompress(b, 2, adpcmLevel) },
		func(b []byte, n int) ([]byte, error) { return adpcmDecompress(b, n, 2) }},
	{Huffman, AlgHuffman,
		func(b []byte) ([]byte, error) { return huffmanCompress(b, 0) },
		huffmanDecompress},
	{Zlib, AlgZlib, zlibCompress, zlibDecompress},
	{PKWare, AlgPKWare, func(b []byte) ([]byte, error) { return Implode(b) }, Explode},
	{BZip2, AlgBZip2, bzip2Compress, bzip2Decompress},
}

var knownBits = func() Mask {
	var m Mask
	for _, s := range pipeline {
		m |= s.mask
	}
	return m
}()

// Valid reports whether m names only known algorithms.
func (m Mask) Valid() bool {
	return m == LZMA || m&^knownBits == 0
}

// Lossy reports whether m includes an ADPCM step.
func (m Mask) Lossy() bool {
	return m != LZMA && m&(ADPCMMono|ADPCMStereo) != 0
}

func (m Mask) String() string {
	if m == LZMA {
		return AlgLZMA
	}
	s := ""
	for _, st := range pipeline {
		if m&st.mask != 0 {
			if s != "" {
				s += "+"
			}
			s += st.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Compress compresses data with the algorithms selected by mask and returns
// the mask byte followed by the payload. The second result is false when
// the data should be stored as is, either because a step failed or because
// the result is not smaller than the input.
func Compress(data []byte, mask Mask) ([]byte, bool) {
	if mask == 0 || len(data) == 0 || !mask.Valid() {
		return data, false
	}

	var (
		out []byte
		err error
	)
	if mask == LZMA {
		out, err = lzmaCompress(data)
	} else {
		out = data
		for _, st := range pipeline {
			if mask&st.mask == 0 {
				continue
			}
			if out, err = st.encode(out); err != nil {
				break
			}
		}
	}
	if err != nil || 1+len(out) >= len(data) {
		return data, false
	}

	res := make([]byte, 0, 1+len(out))
	res = append(res, byte(mask))
	return append(res, out...), true
}

// Decompress reverses Compress. data starts with the mask byte and outSize
// is the exact size of the decompressed result.
func Decompress(data []byte, outSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, &DecompressionError{Algorithm: AlgMask, Sector: -1, Err: errors.New("empty input")}
	}
	mask := Mask(data[0])
	payload := data[1:]

	if mask == LZMA {
		out, err := lzmaDecompress(payload, outSize)
		if err != nil {
			return nil, &DecompressionError{Algorithm: AlgLZMA, Sector: -1, Err: err}
		}
		return checkSize(out, outSize, AlgLZMA)
	}
	if !mask.Valid() {
		return nil, &DecompressionError{Algorithm: AlgMask, Sector: -1, Err: fmt.Errorf("unknown mask 0x%02X", uint8(mask))}
	}

	// Intermediate stages may be slightly larger than the final output, for
	// instance sparse framing around incompressible bytes.
	stageLimit := outSize + outSize/64 + 64

	out := payload
	last := lastStep(mask)
	for i := len(pipeline) - 1; i >= 0; i-- {
		st := pipeline[i]
		if mask&st.mask == 0 {
			continue
		}
		limit := stageLimit
		if i == last {
			limit = outSize
		}
		var err error
		if out, err = st.decode(out, limit); err != nil {
			return nil, &DecompressionError{Algorithm: st.name, Sector: -1, Err: err}
		}
	}
	return checkSize(out, outSize, mask.String())
}

// lastStep returns the index of the pipeline step that is undone last.
func lastStep(mask Mask) int {
	for i, st := range pipeline {
		if mask&st.mask != 0 {
			return i
		}
	}
	return -1
}

func checkSize(out []byte, outSize int, alg string) ([]byte, error) {
	if len(out) != outSize {
		return nil, &DecompressionError{
			Algorithm: alg,
			Sector:    -1,
			Err:       fmt.Errorf("produced %d bytes, expected %d", len(out), outSize),
		}
	}
	return out, nil
}

// ExplodeSector decompresses a sector of a legacy imploded file, which has
// no mask byte.
func ExplodeSector(data []byte, outSize int) ([]byte, error) {
	out, err := Explode(data, outSize)
	if err != nil {
		return nil, &DecompressionError{Algorithm: AlgImplode, Sector: -1, Err: err}
	}
	return checkSize(out, outSize, AlgImplode)
}

// WithSector returns err with its sector index set when it is a
// DecompressionError.
func WithSector(err error, sector int) error {
	var de *DecompressionError
	if errors.As(err, &de) {
		cp := *de
		cp.Sector = sector
		return &cp
	}
	return err
}

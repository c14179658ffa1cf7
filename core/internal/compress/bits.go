package compress

import "errors"

var errBitstreamEOF = errors.New("bitstream exhausted")

// bitReader reads bits least-significant first, the order used by both the
// Huffman coder and the PKWare DCL coder.
type bitReader struct {
	data []byte
	pos  int
	buf  uint32
	n    uint
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) bit() (uint32, error) {
	if r.n == 0 {
		if r.pos >= len(r.data) {
			return 0, errBitstreamEOF
		}
		r.buf = uint32(r.data[r.pos])
		r.pos++
		r.n = 8
	}
	b := r.buf & 1
	r.buf >>= 1
	r.n--
	return b, nil
}

func (r *bitReader) bits(n uint) (uint32, error) {
	var v uint32
	for i := range n {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v |= b << i
	}
	return v, nil
}

type bitWriter struct {
	out []byte
	buf uint32
	n   uint
}

func (w *bitWriter) putBit(b uint32) {
	w.buf |= (b & 1) << w.n
	w.n++
	if w.n == 8 {
		w.out = append(w.out, byte(w.buf))
		w.buf, w.n = 0, 0
	}
}

func (w *bitWriter) putBits(v uint32, n uint) {
	for i := range n {
		w.putBit(v >> i)
	}
}

// bytes flushes any partial byte and returns the encoded stream.
func (w *bitWriter) bytes() []byte {
	if w.n > 0 {
		w.out = append(w.out, byte(w.buf))
		w.buf, w.n = 0, 0
	}
	return w.out
}

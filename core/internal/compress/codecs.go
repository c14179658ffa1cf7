package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

var zlibWriters = sync.Pool{
	New: func() any {
		w, _ := zlib.NewWriterLevel(nil, zlib.DefaultCompression) //nolint:errcheck // valid level
		return w
	},
}

func zlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)
	zw, _ := zlibWriters.Get().(*zlib.Writer) //nolint:errcheck // pool only holds writers
	zw.Reset(&buf)
	defer zlibWriters.Put(zw)

	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte, outSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr, outSize)
}

func bzip2Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := bw.Write(data); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bzip2Decompress(data []byte, outSize int) ([]byte, error) {
	br, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, err
	}
	defer br.Close()
	return readLimited(br, outSize)
}

// LZMA sectors carry a filter byte (always zero), the 5-byte property
// block (lc/lp/pb code and dictionary size) and the raw range-coded stream.
// There is no size field: the decoded size is the sector size the caller
// expects.
const (
	lzmaFilterNone = 0
	lzmaPropsSize  = 5
	lzmaDictCap    = 1 << 20
)

func lzmaCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		DictCap:      lzmaDictCap,
		SizeInHeader: true,
		Size:         int64(len(data)),
	}
	lw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := lw.Write(data); err != nil {
		return nil, err
	}
	if err := lw.Close(); err != nil {
		return nil, err
	}
	classic := buf.Bytes()
	out := make([]byte, 0, 1+len(classic)-(lzma.HeaderLen-lzmaPropsSize))
	out = append(out, lzmaFilterNone)
	out = append(out, classic[:lzmaPropsSize]...)
	return append(out, classic[lzma.HeaderLen:]...), nil
}

func lzmaDecompress(data []byte, outSize int) ([]byte, error) {
	if len(data) < 1+lzmaPropsSize {
		return nil, errors.New("lzma: input too short")
	}
	if data[0] != lzmaFilterNone {
		return nil, errors.New("lzma: unsupported filter")
	}

	// Rebuild a classic header around the property block. Matches never
	// reach further back than the output, so the dictionary is capped at
	// the output size.
	var header [lzma.HeaderLen]byte
	copy(header[:lzmaPropsSize], data[1:1+lzmaPropsSize])
	dict := binary.LittleEndian.Uint32(header[1:5])
	limit := uint32(max(outSize, lzma.MinDictCap)) //nolint:gosec // outSize is a sector size
	binary.LittleEndian.PutUint32(header[1:5], min(dict, limit))
	binary.LittleEndian.PutUint64(header[5:], uint64(outSize)) //nolint:gosec // outSize is non-negative

	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header[:]), bytes.NewReader(data[1+lzmaPropsSize:])))
	if err != nil {
		return nil, err
	}
	return readLimited(lr, outSize)
}

// readLimited reads at most limit bytes from r.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, limit))
	if _, err := io.Copy(out, io.LimitReader(r, int64(limit))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

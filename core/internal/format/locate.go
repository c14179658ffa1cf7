package format

import (
	"crypto/md5" //nolint:gosec // the v4 header stores MD5 digests
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// HeaderAlignment is the stride at which headers are searched for.
const HeaderAlignment = 0x200

const userDataHeaderSize = 16

// UserData is the optional user-data block that precedes an archive, used
// for instance by map files that embed the archive after a custom header.
type UserData struct {
	UserDataSize       uint32
	HeaderOffset       uint32
	UserDataHeaderSize uint32

	// Offset is where the user-data block was found.
	Offset int64

	// Data holds the user data that follows the block header.
	Data []byte
}

// Located is the result of Locate.
type Located struct {
	// Offset is the absolute position of the archive header. All table and
	// file positions are relative to it.
	Offset   int64
	Header   *Header
	UserData *UserData
}

// Locate scans r for an archive header at HeaderAlignment strides,
// following a user-data block to the header it points at. A candidate that
// fails to parse does not stop the scan; its error is returned only when no
// later stride holds a valid header.
func Locate(r io.ReaderAt, size int64) (*Located, error) {
	var (
		sig      [4]byte
		firstErr error
	)
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	for off := int64(0); off+4 <= size; off += HeaderAlignment {
		if _, err := r.ReadAt(sig[:], off); err != nil {
			return nil, fmt.Errorf("%w: read signature at 0x%X: %w", mpqtype.ErrIO, off, err)
		}
		switch binary.LittleEndian.Uint32(sig[:]) {
		case HeaderSignature:
			h, err := readHeader(r, off, size)
			if err != nil {
				keep(fmt.Errorf("header at 0x%X: %w", off, err))
				continue
			}
			return &Located{Offset: off, Header: h}, nil

		case UserDataSignature:
			ud, err := readUserData(r, off, size)
			if err != nil {
				keep(fmt.Errorf("user data at 0x%X: %w", off, err))
				continue
			}
			hdrOff := off + int64(ud.HeaderOffset)
			if ud.HeaderOffset == 0 || hdrOff+4 > size {
				continue
			}
			if _, err := r.ReadAt(sig[:], hdrOff); err != nil {
				return nil, fmt.Errorf("%w: read signature at 0x%X: %w", mpqtype.ErrIO, hdrOff, err)
			}
			if binary.LittleEndian.Uint32(sig[:]) != HeaderSignature {
				continue
			}
			h, err := readHeader(r, hdrOff, size)
			if err != nil {
				keep(fmt.Errorf("header at 0x%X: %w", hdrOff, err))
				continue
			}
			return &Located{Offset: hdrOff, Header: h, UserData: ud}, nil
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("%w: no archive header found", ErrInvalidFormat)
}

func readHeader(r io.ReaderAt, off, size int64) (*Header, error) {
	n := min(int64(HeaderSizeV4), size-off)
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read header: %w", mpqtype.ErrIO, err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(size - off); err != nil {
		return nil, err
	}
	return h, nil
}

func readUserData(r io.ReaderAt, off, size int64) (*UserData, error) {
	if off+userDataHeaderSize > size {
		return nil, fmt.Errorf("%w: user data header truncated", ErrInvalidFormat)
	}
	var buf [userDataHeaderSize]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return nil, fmt.Errorf("%w: read user data header: %w", mpqtype.ErrIO, err)
	}
	ud := &UserData{
		UserDataSize:       binary.LittleEndian.Uint32(buf[4:]),
		HeaderOffset:       binary.LittleEndian.Uint32(buf[8:]),
		UserDataHeaderSize: binary.LittleEndian.Uint32(buf[12:]),
		Offset:             off,
	}
	n := min(int64(ud.UserDataHeaderSize), int64(ud.UserDataSize), size-off-userDataHeaderSize)
	if n > 0 {
		ud.Data = make([]byte, n)
		if _, err := r.ReadAt(ud.Data, off+userDataHeaderSize); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read user data: %w", mpqtype.ErrIO, err)
		}
	}
	return ud, nil
}

// MarshalBinary encodes the user-data block followed by its data.
func (u *UserData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, userDataHeaderSize, userDataHeaderSize+len(u.Data))
	binary.LittleEndian.PutUint32(buf[0:], UserDataSignature)
	binary.LittleEndian.PutUint32(buf[4:], u.UserDataSize)
	binary.LittleEndian.PutUint32(buf[8:], u.HeaderOffset)
	binary.LittleEndian.PutUint32(buf[12:], u.UserDataHeaderSize)
	return append(buf, u.Data...), nil
}

// Digest returns the MD5 digest recorded in v4 headers for a table.
func Digest(raw []byte) [md5Size]byte {
	return md5.Sum(raw) //nolint:gosec // format-defined digest
}

// VerifyTableDigests checks the v4 table and header digests. base is the
// absolute archive offset and size the total source size. Tables whose
// recorded size is zero are skipped. Headers older than v4 carry no
// digests and always pass.
func VerifyTableDigests(r io.ReaderAt, base, size int64, h *Header) error {
	if h.Version < V4 {
		return nil
	}
	var hdr [v4HeaderMD5Off]byte
	if _, err := r.ReadAt(hdr[:], base); err != nil {
		return fmt.Errorf("%w: read header: %w", mpqtype.ErrIO, err)
	}
	if md5.Sum(hdr[:]) != h.MD5Header { //nolint:gosec // format-defined digest
		return fmt.Errorf("%w: header digest mismatch", ErrInvalidFormat)
	}

	sizes := h.TableSizes(size - base)
	for _, tc := range []struct {
		name string
		pos  uint64
		size uint64
		want [md5Size]byte
	}{
		{"hash", h.HashTablePos, sizes.Hash, h.MD5HashTable},
		{"block", h.BlockTablePos, sizes.Block, h.MD5BlockTable},
		{"hi-block", h.HiBlockTablePos, sizes.HiBlock, h.MD5HiBlockTable},
		{"het", h.HETTablePos, sizes.HET, h.MD5HETTable},
		{"bet", h.BETTablePos, sizes.BET, h.MD5BETTable},
	} {
		if tc.size == 0 || tc.pos == 0 {
			continue
		}
		buf := make([]byte, tc.size)
		if _, err := r.ReadAt(buf, base+int64(tc.pos)); err != nil { //nolint:gosec // validated against source size
			return fmt.Errorf("%w: read %s table: %w", mpqtype.ErrIO, tc.name, err)
		}
		if Digest(buf) != tc.want {
			return fmt.Errorf("%w: %s table digest mismatch", ErrInvalidFormat, tc.name)
		}
	}
	return nil
}

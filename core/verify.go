package mpq

import (
	"errors"
	"fmt"

	"github.com/meigma/mpq/core/internal/signature"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// SignatureStatus names the kind of signature an archive carries.
type SignatureStatus uint8

// Signature kinds.
const (
	SignatureNone SignatureStatus = iota
	SignatureWeak
	SignatureStrong
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureNone:
		return "none"
	case SignatureWeak:
		return "weak"
	case SignatureStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Attributes returns the decoded (attributes) file. The result is parsed
// once and shared; callers must not modify it.
func (a *Archive) Attributes() (*Attributes, error) {
	a.attrsOnce.Do(func() {
		data, err := a.ReadFile(special.AttributesName)
		if err != nil {
			a.attrsErr = fmt.Errorf("attributes: %w", err)
			return
		}
		a.attrs, a.attrsErr = special.ParseAttributes(data, a.blocks.Len())
	})
	return a.attrs, a.attrsErr
}

// VerifyFile reads name with strict sector checksums and checks its CRC32
// and MD5 against (attributes). Values the archive does not record are not
// checked.
func (a *Archive) VerifyFile(name string) error {
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		return err
	}
	data, _, err := a.decode(a.source, loc, true)
	if err != nil {
		return err
	}
	return a.verifyAttributes(loc.name, loc.blockIndex, data)
}

// verifyAttributes checks data against the recorded values of block. An
// archive without (attributes) passes.
func (a *Archive) verifyAttributes(name string, block uint32, data []byte) error {
	attrs, err := a.Attributes()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := attrs.Verify(int(block), data); err != nil {
		return fmt.Errorf("verify %s: %w", name, err)
	}
	return nil
}

// archiveRange returns the byte range covered by a strong signature: from
// the user-data block (or the header) to the end of the archive. Weak
// signatures start at the header.
func (a *Archive) archiveRange() (start, end int64, err error) {
	start = a.base
	if a.userData != nil {
		start = a.userData.Offset
	}
	end, err = a.offset(a.header.ArchiveSize())
	if err != nil {
		return 0, 0, err
	}
	if end > a.source.Size() {
		return 0, 0, fmt.Errorf("%w: archive size exceeds source", ErrInvalidFormat)
	}
	return start, end, nil
}

// VerifySignature detects and checks the archive signature. A strong
// signature appended after the archive takes precedence over a weak
// (signature) file. Archives without a signature return SignatureNone and a
// nil error; a signature that does not verify returns its kind together
// with ErrSignatureInvalid.
func (a *Archive) VerifySignature() (SignatureStatus, error) {
	start, end, err := a.archiveRange()
	if err != nil {
		return SignatureNone, err
	}

	if end+int64(signature.StrongBlockSize) <= a.source.Size() {
		block := make([]byte, signature.StrongBlockSize)
		if err := readFull(a.source, block, end); err != nil {
			return SignatureNone, err
		}
		if string(block[:len(signature.StrongMagic)]) == signature.StrongMagic {
			key := a.strongKey
			if key == nil {
				key = signature.BlizzardStrongKey()
			}
			digest, err := signature.StrongDigest(a.source, start, end)
			if err != nil {
				return SignatureStrong, err
			}
			return SignatureStrong, signature.VerifyStrong(key, digest, block[len(signature.StrongMagic):])
		}
	}

	loc, err := a.resolve(special.SignatureName, tables.LocaleNeutral, true)
	if errors.Is(err, ErrNotFound) {
		return SignatureNone, nil
	}
	if err != nil {
		return SignatureNone, err
	}
	if loc.block.Compressed() || loc.block.Has(tables.FlagEncrypted) || loc.block.CompressedSize != signature.WeakFileSize {
		return SignatureWeak, fmt.Errorf("%w: (signature) is not stored as a plain %d-byte file", ErrSignatureInvalid, signature.WeakFileSize)
	}
	sigStart, err := a.offset(loc.block.FilePos)
	if err != nil {
		return SignatureWeak, err
	}
	raw := make([]byte, signature.WeakFileSize)
	if err := readFull(a.source, raw, sigStart); err != nil {
		return SignatureWeak, err
	}
	key := a.weakKey
	if key == nil {
		key = signature.BlizzardWeakKey()
	}
	digest, err := signature.WeakDigest(a.source, a.base, end, sigStart, sigStart+signature.WeakFileSize)
	if err != nil {
		return SignatureWeak, err
	}
	return SignatureWeak, signature.VerifyWeak(key, digest, raw[signature.WeakHeaderSize:])
}

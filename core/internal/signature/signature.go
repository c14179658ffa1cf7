// Package signature verifies and produces archive signatures.
//
// Weak signatures are 512-bit RSA over an MD5 digest of the archive, stored
// in the (signature) file. Strong signatures are 2048-bit RSA over a SHA-1
// digest, appended after the archive behind an "NGIS" marker.
//
// The RSA arithmetic is done with math/big: crypto/rsa refuses keys below
// 1024 bits and does not produce the custom strong-signature padding.
package signature

import (
	"bytes"
	"crypto/md5"  //nolint:gosec // weak signatures are defined over MD5
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // strong signatures are defined over SHA-1
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"
	"slices"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// ErrSignatureInvalid is returned when a signature does not verify.
var ErrSignatureInvalid = mpqtype.ErrSignatureInvalid

// Sizes.
const (
	WeakHeaderSize    = 8
	WeakSignatureSize = 64
	WeakFileSize      = WeakHeaderSize + WeakSignatureSize

	StrongMagic         = "NGIS"
	StrongSignatureSize = 256
	StrongBlockSize     = len(StrongMagic) + StrongSignatureSize

	chunkSize = 64 << 10
)

const publicExponent = 65537

// PublicKey is an RSA public key.
type PublicKey struct {
	N *big.Int
	E int
}

// Size returns the modulus size in bytes.
func (k *PublicKey) Size() int { return (k.N.BitLen() + 7) / 8 }

// PrivateKey is an RSA private key.
type PrivateKey struct {
	PublicKey
	D *big.Int
}

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("signature: bad key constant")
	}
	return n
}

var (
	weakKey = &PublicKey{
		N: mustHex("92627704BFB882CC0523B90CB1AC0459272175968D025EDA47DD7C49371BF8FA" +
			"EB0E0A92167557AD51B78CCB68C5426290EE9FB14BC118E430349EA4ED6AD837"),
		E: publicExponent,
	}
	strongKey = &PublicKey{
		N: mustHex("B1067ECE24F687C87E27F88C42981DB47D47689CCE044DDA823538C8C3DCAE2C" +
			"5A3CE668038B7C6F07DECBBA9CCDF5B2C28718A37A657B2B4517E22E0F81C316" +
			"5F4E5CDD52172BA94A0331D441999606C50289A76EAF4C409C8CA90B4C851023" +
			"1608384E7752ED835BF893120042A991736A636F27FC45411C3E53B0CB9508BE" +
			"7BF6021E9DBAFAD5D23DD830C4772EFDD08CC81B454A58B87F28E4DC4C97E60E" +
			"CFFB1D04E41A8B955BE594B1F7A4BAA350A3B343F4306784B8CB8E9B71785136" +
			"019A98700D5AA374BD2CDDC62F5B569555C5217F5CEDF5AA6954D0959DA836C2" +
			"3F011540A4E2B782B360AAFC07E98A156155E3349128E6C409B0FB1D57F86477"),
		E: publicExponent,
	}
)

// BlizzardWeakKey returns the public key used by official weak signatures.
func BlizzardWeakKey() *PublicKey { return weakKey }

// BlizzardStrongKey returns the public key used by official strong
// signatures.
func BlizzardStrongKey() *PublicKey { return strongKey }

// md5DigestInfo is the DER prefix of an MD5 DigestInfo for PKCS#1 v1.5.
var md5DigestInfo = []byte{
	0x30, 0x20, 0x30, 0x0C, 0x06, 0x08, 0x2A, 0x86, 0x48, 0x86,
	0xF7, 0x0D, 0x02, 0x05, 0x05, 0x00, 0x04, 0x10,
}

// hashRange hashes r[start:end] in fixed-size chunks, with the bytes in
// [zeroStart, zeroEnd) replaced by zeros.
func hashRange(h hash.Hash, r io.ReaderAt, start, end, zeroStart, zeroEnd int64) error {
	buf := make([]byte, chunkSize)
	for off := start; off < end; {
		n := min(int64(len(buf)), end-off)
		chunk := buf[:n]
		if _, err := r.ReadAt(chunk, off); err != nil && !(errors.Is(err, io.EOF) && off+n == end) {
			return fmt.Errorf("%w: read signed range at 0x%X: %w", mpqtype.ErrIO, off, err)
		}
		if zs, ze := max(zeroStart, off), min(zeroEnd, off+n); zs < ze {
			clear(chunk[zs-off : ze-off])
		}
		h.Write(chunk)
		off += n
	}
	return nil
}

// WeakDigest returns the MD5 digest of the archive range [start, end) with
// the (signature) file bytes at [sigStart, sigEnd) zeroed.
func WeakDigest(r io.ReaderAt, start, end, sigStart, sigEnd int64) ([]byte, error) {
	h := md5.New() //nolint:gosec // format-defined digest
	if err := hashRange(h, r, start, end, sigStart, sigEnd); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// StrongDigest returns the SHA-1 digest of the archive range [start, end).
func StrongDigest(r io.ReaderAt, start, end int64) ([]byte, error) {
	h := sha1.New() //nolint:gosec // format-defined digest
	if err := hashRange(h, r, start, end, 0, 0); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func reversed(b []byte) []byte {
	out := slices.Clone(b)
	slices.Reverse(out)
	return out
}

// leBytes encodes v little-endian into exactly size bytes.
func leBytes(v *big.Int, size int) []byte {
	return reversed(v.FillBytes(make([]byte, size)))
}

func weakPadding(digest []byte, size int) ([]byte, error) {
	tLen := len(md5DigestInfo) + len(digest)
	if size < tLen+11 {
		return nil, fmt.Errorf("%w: key too small", ErrSignatureInvalid)
	}
	em := make([]byte, size)
	em[1] = 0x01
	for i := 2; i < size-tLen-1; i++ {
		em[i] = 0xFF
	}
	copy(em[size-tLen:], md5DigestInfo)
	copy(em[size-len(digest):], digest)
	return em, nil
}

func strongPadding(digest []byte, size int) []byte {
	em := make([]byte, size)
	em[0] = 0x0B
	for i := 1; i < size-len(digest); i++ {
		em[i] = 0xBB
	}
	copy(em[size-len(digest):], digest)
	return em
}

func (k *PublicKey) open(sig []byte) ([]byte, error) {
	s := new(big.Int).SetBytes(reversed(sig))
	if s.Cmp(k.N) >= 0 {
		return nil, fmt.Errorf("%w: signature out of range", ErrSignatureInvalid)
	}
	m := new(big.Int).Exp(s, big.NewInt(int64(k.E)), k.N)
	return m.FillBytes(make([]byte, k.Size())), nil
}

func (k *PrivateKey) seal(em []byte) []byte {
	m := new(big.Int).SetBytes(em)
	s := new(big.Int).Exp(m, k.D, k.N)
	return leBytes(s, k.Size())
}

// VerifyWeak checks a 64-byte little-endian weak signature against an MD5
// digest.
func VerifyWeak(pub *PublicKey, digest, sig []byte) error {
	if len(sig) != pub.Size() {
		return fmt.Errorf("%w: weak signature is %d bytes", ErrSignatureInvalid, len(sig))
	}
	em, err := pub.open(sig)
	if err != nil {
		return err
	}
	want, err := weakPadding(digest, pub.Size())
	if err != nil {
		return err
	}
	if !bytes.Equal(em, want) {
		return fmt.Errorf("%w: weak signature mismatch", ErrSignatureInvalid)
	}
	return nil
}

// SignWeak produces a little-endian weak signature of an MD5 digest.
func SignWeak(priv *PrivateKey, digest []byte) ([]byte, error) {
	em, err := weakPadding(digest, priv.Size())
	if err != nil {
		return nil, err
	}
	return priv.seal(em), nil
}

// VerifyStrong checks a 256-byte little-endian strong signature (without
// the marker) against a SHA-1 digest.
func VerifyStrong(pub *PublicKey, digest, sig []byte) error {
	if len(sig) != pub.Size() {
		return fmt.Errorf("%w: strong signature is %d bytes", ErrSignatureInvalid, len(sig))
	}
	em, err := pub.open(sig)
	if err != nil {
		return err
	}
	if !bytes.Equal(em, strongPadding(digest, pub.Size())) {
		return fmt.Errorf("%w: strong signature mismatch", ErrSignatureInvalid)
	}
	return nil
}

// SignStrong produces a strong signature block, marker included, for a
// SHA-1 digest.
func SignStrong(priv *PrivateKey, digest []byte) []byte {
	out := make([]byte, 0, len(StrongMagic)+priv.Size())
	out = append(out, StrongMagic...)
	return append(out, priv.seal(strongPadding(digest, priv.Size()))...)
}

// GenerateKey generates an RSA key of the given modulus size with public
// exponent 65537.
func GenerateKey(random io.Reader, bits int) (*PrivateKey, error) {
	if bits < 128 || bits%2 != 0 {
		return nil, fmt.Errorf("signature: unsupported key size %d", bits)
	}
	e := big.NewInt(publicExponent)
	one := big.NewInt(1)
	for {
		p, err := rand.Prime(random, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := rand.Prime(random, bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}
		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits {
			continue
		}
		phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
		d := new(big.Int).ModInverse(e, phi)
		if d == nil {
			continue
		}
		return &PrivateKey{PublicKey: PublicKey{N: n, E: publicExponent}, D: d}, nil
	}
}

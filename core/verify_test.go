package mpq

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/internal/signature"
	"github.com/meigma/mpq/core/testutil"
)

func signedArchive(t *testing.T, sign func(*Mutable) error, opts ...CreateOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signed.mpq")
	m, err := Create(path, opts...)
	require.NoError(t, err)
	require.NoError(t, m.AddFile("war3map.j", testutil.Patterned(20000)))
	require.NoError(t, m.AddFile("readme.txt", []byte("signed content")))
	require.NoError(t, sign(m))
	require.NoError(t, m.Close())
	return path
}

func TestVerifySignatureNone(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t, []testFile{{name: "a", data: []byte("a")}}))
	status, err := a.VerifySignature()
	require.NoError(t, err)
	assert.Equal(t, SignatureNone, status)
}

func TestWeakSignature(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKey(rand.Reader, 512)
	require.NoError(t, err)
	other, err := GenerateKey(rand.Reader, 512)
	require.NoError(t, err)

	path := signedArchive(t, func(m *Mutable) error { return m.SignWeak(priv) })

	a := openArchive(t, path, WithSignatureKeys(&priv.PublicKey, nil))
	status, err := a.VerifySignature()
	require.NoError(t, err)
	assert.Equal(t, SignatureWeak, status)
	assert.Equal(t, "weak", status.String())

	// The signature file is hidden from List but verifiable like any file.
	names, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"readme.txt", "war3map.j"}, names)
	require.NoError(t, a.VerifyFile("war3map.j"))

	wrong := openArchive(t, path, WithSignatureKeys(&other.PublicKey, nil))
	status, err = wrong.VerifySignature()
	require.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, SignatureWeak, status)

	h := a.Header()
	flipByte(t, path, int64(h.HeaderSize)+4)
	tampered := openArchive(t, path, WithSignatureKeys(&priv.PublicKey, nil))
	_, err = tampered.VerifySignature()
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestStrongSignature(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := signedArchive(t, func(m *Mutable) error { return m.SignStrong(priv) },
		WithUserData([]byte("user data covered by the signature")))

	a := openArchive(t, path, WithSignatureKeys(nil, &priv.PublicKey))
	h := a.Header()
	assert.Equal(t, int64(h.ArchiveSize())+a.Offset()+int64(signature.StrongBlockSize), fileSize(t, path))

	status, err := a.VerifySignature()
	require.NoError(t, err)
	assert.Equal(t, SignatureStrong, status)

	got, err := a.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "signed content", string(got))

	// Tampering with the user data breaks a strong signature.
	flipByte(t, path, 20)
	tampered := openArchive(t, path, WithSignatureKeys(nil, &priv.PublicKey))
	status, err = tampered.VerifySignature()
	require.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, SignatureStrong, status)
}

func TestStrongSignatureWithBlizzardKeyFails(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := signedArchive(t, func(m *Mutable) error { return m.SignStrong(priv) })

	a := openArchive(t, path)
	status, err := a.VerifySignature()
	require.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, SignatureStrong, status)
}

func TestAttributesRecorded(t *testing.T) {
	t.Parallel()

	path := buildArchive(t, []testFile{
		{name: "a.txt", data: []byte("alpha")},
		{name: "b.txt", data: []byte("beta")},
	}, WithAttributes(AttrCRC32|AttrMD5))

	a := openArchive(t, path)
	attrs, err := a.Attributes()
	require.NoError(t, err)
	assert.Equal(t, AttrCRC32|AttrMD5, attrs.Flags)
	assert.Len(t, attrs.Files, len(a.Blocks()))

	info, err := a.FindFile("a.txt")
	require.NoError(t, err)
	assert.NotZero(t, attrs.Files[info.BlockIndex].CRC32)
	assert.True(t, attrs.Files[info.BlockIndex].ModTime().IsZero())
}

package signing_test

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicer-backend/internal/signing"
)

func newSigner(t *testing.T) *signing.Signer {
	t.Helper()
	signer, err := signing.NewSigner("test-secret", t.TempDir())
	require.NoError(t, err)
	return signer
}

func TestSignVerifyRoundtrip(t *testing.T) {
	signer := newSigner(t)

	signature, err := signer.Sign("abc_model.stl")
	require.NoError(t, err)

	ok, err := signer.Verify("abc_model.stl", signature)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer := newSigner(t)

	signature, err := signer.Sign("abc_model.stl")
	require.NoError(t, err)

	// Flip one hex digit.
	flipped := []byte(signature)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	ok, err := signer.Verify("abc_model.stl", string(flipped))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsDifferentFilename(t *testing.T) {
	signer := newSigner(t)

	signature, err := signer.Sign("abc_model.stl")
	require.NoError(t, err)

	ok, err := signer.Verify("other_model.stl", signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsWrongLengthSignature(t *testing.T) {
	signer := newSigner(t)

	ok, err := signer.Verify("abc_model.stl", "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = signer.Verify("abc_model.stl", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignWithoutSecret(t *testing.T) {
	signer, err := signing.NewSigner("", t.TempDir())
	require.NoError(t, err)

	_, err = signer.Sign("abc_model.stl")
	assert.ErrorIs(t, err, signing.ErrNoSecret)

	_, err = signer.Verify("abc_model.stl", "sig")
	assert.ErrorIs(t, err, signing.ErrNoSecret)
}

func TestSignedURL(t *testing.T) {
	signer := newSigner(t)

	signed, err := signer.SignedURL("abc model.stl")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "/api/v1/files/download?"))

	parsed, err := url.Parse(signed)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "abc model.stl", query.Get("filename"))

	ok, err := signer.Verify(query.Get("filename"), query.Get("signature"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	signer, err := signing.NewSigner("secret", root)
	require.NoError(t, err)

	path, err := signer.ResolvePath("abc_model.stl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "abc_model.stl"), path)
}

func TestResolvePathRejectsTraversal(t *testing.T) {
	signer := newSigner(t)

	for _, filename := range []string{
		"../etc/passwd",
		"../../secret.txt",
		"a/../../b.stl",
	} {
		_, err := signer.ResolvePath(filename)
		assert.ErrorIs(t, err, signing.ErrOutsideRoot, "filename %q", filename)
	}

	// Joins that stay inside the root are fine even with dot segments.
	_, err := signer.ResolvePath("sub/../inside.stl")
	assert.NoError(t, err)
}

func TestDifferentSecretsProduceDifferentSignatures(t *testing.T) {
	dir := t.TempDir()
	signer1, err := signing.NewSigner("secret-one", dir)
	require.NoError(t, err)
	signer2, err := signing.NewSigner("secret-two", dir)
	require.NoError(t, err)

	sig1, err := signer1.Sign("f.stl")
	require.NoError(t, err)
	sig2, err := signer2.Sign("f.stl")
	require.NoError(t, err)

	assert.NotEqual(t, sig1, sig2)

	ok, err := signer2.Verify("f.stl", sig1)
	require.NoError(t, err)
	assert.False(t, ok)
}

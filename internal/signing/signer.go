package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrNoSecret means the signing secret is not configured. The signer
	// refuses to issue or verify links rather than fall back to unsigned ones.
	ErrNoSecret = errors.New("link signing secret is not configured")

	// ErrOutsideRoot means a filename resolved to a path escaping the serving
	// root; it is rejected regardless of signature validity.
	ErrOutsideRoot = errors.New("filename resolves outside the serving root")
)

// Signer issues and verifies HMAC authenticated download links for files
// under the serving root. Links carry no expiration; they stay valid until
// the secret is rotated.
type Signer struct {
	secret []byte
	root   string
}

func NewSigner(secret string, rootDir string) (*Signer, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve serving root %s: %w", rootDir, err)
	}
	return &Signer{secret: []byte(secret), root: root}, nil
}

// Sign computes the hex encoded HMAC-SHA256 of the raw filename.
func (s *Signer) Sign(filename string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(filename))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignedURL returns the download path for filename with its signature
// attached.
func (s *Signer) SignedURL(filename string) (string, error) {
	signature, err := s.Sign(filename)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("filename", filename)
	query.Set("signature", signature)
	return "/api/v1/files/download?" + query.Encode(), nil
}

// Verify checks signature against the expected HMAC for filename. Signatures
// of unequal length are rejected without comparison; equal-length signatures
// are compared in constant time.
func (s *Signer) Verify(filename, signature string) (bool, error) {
	expected, err := s.Sign(filename)
	if err != nil {
		return false, err
	}

	if len(signature) != len(expected) {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1, nil
}

// ResolvePath maps a verified filename onto the serving root.
func (s *Signer) ResolvePath(filename string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(filename))

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}

	return path, nil
}

package verifier

import (
	// register the hash functions go-digest resolves algorithms to
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
)

// ArtifactVerifier ensures update integrity before a payload is committed to a slot.
type ArtifactVerifier interface {
	VerifyArtifact(expectedHash, artifactPath string) error
}

var (
	// ErrMissingHash is returned when a hash is required but the descriptor has none.
	ErrMissingHash = errors.New("patch descriptor has no hash")
	// ErrDigestMismatch is returned when the payload does not match the expected digest.
	ErrDigestMismatch = errors.New("digest mismatch")
)

var bareSha256 = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// ParseHash reads a hash from a patch descriptor.
// Digests of the form "<algorithm>:<hex>" are used as is, a bare 64 character
// hex string is read as sha256.
func ParseHash(hash string) (digest.Digest, error) {
	if bareSha256.MatchString(hash) {
		return digest.NewDigestFromEncoded(digest.SHA256, hash), nil
	}
	d, err := digest.Parse(hash)
	if err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", hash, err)
	}
	return d, nil
}

// DigestVerifier compares the payload against the digest announced by the server.
type DigestVerifier struct {
	// RequireHash rejects payloads without a hash.
	RequireHash bool
}

// VerifyArtifact checks the file at artifactPath against expectedHash.
func (v DigestVerifier) VerifyArtifact(expectedHash, artifactPath string) error {
	if expectedHash == "" {
		if v.RequireHash {
			return ErrMissingHash
		}
		log.Warnf("no hash available for %q, skipping verification", artifactPath)
		return nil
	}
	expected, err := ParseHash(expectedHash)
	if err != nil {
		return err
	}
	fp, err := os.Open(artifactPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = fp.Close()
	}()
	verifier := expected.Verifier()
	n, err := io.Copy(verifier, fp)
	if err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: expected %s for %q (%d bytes)", ErrDigestMismatch, expected, artifactPath, n)
	}
	log.WithField("digest", expected.String()).Debugf("verified %q", artifactPath)
	return nil
}

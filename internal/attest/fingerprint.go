// Package attest fingerprints analyzed files and signs analysis records
// with Ed25519 so a stored verdict can later be tied to the exact bytes it
// was produced from.
package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// FingerprintReader returns the lowercase hex SHA-256 of everything read
// from r.
func FingerprintReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", eris.Wrap(err, "attest: hash stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile returns the lowercase hex SHA-256 of the file at path.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "attest: open file")
	}
	defer f.Close()
	return FingerprintReader(f)
}

// FingerprintBytes returns the lowercase hex SHA-256 of data.
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

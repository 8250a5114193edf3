package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatrace/metascan/internal/model"
)

func testRecord() *model.AnalysisRecord {
	return &model.AnalysisRecord{
		ID:          "rec-1",
		FileName:    "photo.jpg",
		FileHash:    "deadbeef",
		ContentType: "image/jpeg",
		Category:    model.CategoryImage,
		Verdict: &model.TamperingVerdict{
			Tampered:   true,
			Confidence: 91.5,
			Message:    "Metadata indicates the file is likely tampered.",
		},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAttestAndVerify(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := NewSigner(priv)

	rec := testRecord()
	att, err := s.Attest(rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, att.AnalysisID)
	assert.Equal(t, s.PublicKey(), att.PublicKey)
	assert.NotEmpty(t, att.ID)

	require.NoError(t, Verify(rec, att))
}

func TestVerifyRejectsModifiedRecord(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := NewSigner(priv)

	rec := testRecord()
	att, err := s.Attest(rec)
	require.NoError(t, err)

	rec.Verdict.Tampered = false
	err = Verify(rec, att)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsGarbageKey(t *testing.T) {
	rec := testRecord()
	att := &model.Attestation{PublicKey: "not base64!!", Signature: "AAAA"}
	assert.ErrorIs(t, Verify(rec, att), ErrInvalidKey)
}

func TestLoadSignerRawSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, priv.Seed(), 0o600))

	s, err := LoadSigner(path)
	require.NoError(t, err)
	assert.Equal(t, NewSigner(priv).PublicKey(), s.PublicKey())
}

func TestLoadSignerRawPrivateKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, priv, 0o600))

	s, err := LoadSigner(path)
	require.NoError(t, err)
	assert.Equal(t, NewSigner(priv).PublicKey(), s.PublicKey())
}

func TestLoadSignerBadKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("not a key at all"), 0o600))

	_, err := LoadSigner(path)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")

	s, err := GenerateKey(path)
	require.NoError(t, err)

	loaded, err := LoadSigner(path)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), loaded.PublicKey())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFingerprintBytesMatchesReader(t *testing.T) {
	data := []byte("metadata under test")
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := FingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, FingerprintBytes(data), fromFile)
	assert.Len(t, fromFile, 64)
}

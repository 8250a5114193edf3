package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/ssh"

	"github.com/metatrace/metascan/internal/model"
)

var (
	// ErrInvalidKey marks key material that could not be parsed.
	ErrInvalidKey = eris.New("attest: invalid key format")
	// ErrUnsupportedKey marks a parseable key of the wrong algorithm.
	ErrUnsupportedKey = eris.New("attest: unsupported key type, expected ed25519")
	// ErrBadSignature marks a signature that does not verify.
	ErrBadSignature = eris.New("attest: signature verification failed")
)

// Signer signs analysis records with an Ed25519 private key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  string // base64 raw public key, precomputed
}

// NewSigner wraps an in-memory private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		pub:  base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}
}

// LoadSigner reads an Ed25519 private key from path. Raw 32-byte seeds,
// raw 64-byte private keys, and unencrypted OpenSSH keys are accepted.
func LoadSigner(path string) (*Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "attest: read key")
	}

	switch len(keyData) {
	case ed25519.SeedSize:
		return NewSigner(ed25519.NewKeyFromSeed(keyData)), nil
	case ed25519.PrivateKeySize:
		return NewSigner(ed25519.PrivateKey(keyData)), nil
	}

	parsed, err := ssh.ParseRawPrivateKey(keyData)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidKey, "parse openssh key: %v", err)
	}
	switch k := parsed.(type) {
	case *ed25519.PrivateKey:
		return NewSigner(*k), nil
	case ed25519.PrivateKey:
		return NewSigner(k), nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedKey, "got %T", parsed)
	}
}

// GenerateKey creates a fresh Ed25519 key and writes the 32-byte seed to
// path with owner-only permissions. It returns the matching signer.
func GenerateKey(path string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, eris.Wrap(err, "attest: generate key")
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, eris.Wrap(err, "attest: write key")
	}
	return NewSigner(priv), nil
}

// PublicKey returns the base64-encoded raw public key.
func (s *Signer) PublicKey() string {
	return s.pub
}

// Attest signs the canonical JSON form of the record and returns the
// attestation row to persist alongside it.
func (s *Signer) Attest(rec *model.AnalysisRecord) (*model.Attestation, error) {
	payload, err := canonicalPayload(rec)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(s.priv, payload)
	return &model.Attestation{
		ID:         uuid.NewString(),
		AnalysisID: rec.ID,
		PublicKey:  s.pub,
		Signature:  base64.StdEncoding.EncodeToString(sig),
		SignedAt:   time.Now().UTC(),
	}, nil
}

// Verify checks att's signature against the canonical form of rec.
func Verify(rec *model.AnalysisRecord, att *model.Attestation) error {
	pub, err := base64.StdEncoding.DecodeString(att.PublicKey)
	if err != nil {
		return eris.Wrap(ErrInvalidKey, "decode public key")
	}
	if len(pub) != ed25519.PublicKeySize {
		return eris.Wrapf(ErrInvalidKey, "public key length %d", len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(att.Signature)
	if err != nil {
		return eris.Wrap(ErrInvalidKey, "decode signature")
	}
	payload, err := canonicalPayload(rec)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return ErrBadSignature
	}
	return nil
}

// canonicalPayload is the byte string that gets signed: the record's JSON
// encoding with the raw metadata dropped. encoding/json sorts struct fields
// by declaration order and map keys lexically, so the encoding is stable
// for a given record.
func canonicalPayload(rec *model.AnalysisRecord) ([]byte, error) {
	stripped := *rec
	stripped.Metadata = nil
	payload, err := json.Marshal(&stripped)
	if err != nil {
		return nil, eris.Wrap(err, "attest: encode record")
	}
	return payload, nil
}

// Package pqcrypto implements the gateway's post-quantum control-plane
// envelope: Kyber-768 decapsulation, HKDF key derivation, AES-256-GCM
// open/seal, wallet signature verification, and nonce replay suppression.
package pqcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// AlgKyber768 is the only KEM algorithm this gateway speaks.
const AlgKyber768 = "kyber768"

// keyFile is the JSON document at KYBER_KEY_PATH.
type keyFile struct {
	Alg     string `json:"alg"`
	KeyID   string `json:"key_id"`
	Pubkey  string `json:"pubkey"`
	Privkey string `json:"privkey"`
}

// Context holds the immutable KEM keypair loaded at startup.
type Context struct {
	keyID   string
	priv    kem.PrivateKey
	pubRaw  []byte
	pubHash [sha256.Size]byte
}

// LoadContext reads and validates the Kyber keypair file. Any defect is a
// startup-fatal error for the caller.
func LoadContext(path string) (*Context, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read KEM key file %s: %w", path, err)
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse KEM key file %s: %w", path, err)
	}
	if kf.Alg != AlgKyber768 {
		return nil, fmt.Errorf("KEM key file %s: unsupported alg %q (want %q)", path, kf.Alg, AlgKyber768)
	}
	if kf.KeyID == "" {
		return nil, fmt.Errorf("KEM key file %s: missing key_id", path)
	}

	pubRaw, err := base64.StdEncoding.DecodeString(kf.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("KEM key file %s: pubkey is not base64: %w", path, err)
	}
	privRaw, err := base64.StdEncoding.DecodeString(kf.Privkey)
	if err != nil {
		return nil, fmt.Errorf("KEM key file %s: privkey is not base64: %w", path, err)
	}

	scheme := kyber768.Scheme()
	if len(pubRaw) != scheme.PublicKeySize() {
		return nil, fmt.Errorf("KEM key file %s: pubkey is %d bytes, want %d", path, len(pubRaw), scheme.PublicKeySize())
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privRaw)
	if err != nil {
		return nil, fmt.Errorf("KEM key file %s: bad private key: %w", path, err)
	}
	// Reject mismatched halves up front rather than failing every request.
	if _, err := scheme.UnmarshalBinaryPublicKey(pubRaw); err != nil {
		return nil, fmt.Errorf("KEM key file %s: bad public key: %w", path, err)
	}

	return &Context{
		keyID:   kf.KeyID,
		priv:    priv,
		pubRaw:  pubRaw,
		pubHash: sha256.Sum256(pubRaw),
	}, nil
}

// KeyID returns the configured key identifier; clients may pin it via the
// X-Lumen-KeyId header.
func (c *Context) KeyID() string { return c.keyID }

// PublicKeyBase64 returns the raw Kyber-768 public key, base64 encoded, as
// published by GET /pq/pub.
func (c *Context) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(c.pubRaw)
}

// PublicKeyHashBase64 returns base64(sha256(pub)); clients use it to detect
// key rotation without downloading the full key.
func (c *Context) PublicKeyHashBase64() string {
	return base64.StdEncoding.EncodeToString(c.pubHash[:])
}

// Decapsulate recovers the 32-byte shared secret from a client KEM
// ciphertext.
func (c *Context) Decapsulate(kemCt []byte) ([]byte, error) {
	scheme := kyber768.Scheme()
	if len(kemCt) != scheme.CiphertextSize() {
		return nil, fmt.Errorf("kem ciphertext is %d bytes, want %d", len(kemCt), scheme.CiphertextSize())
	}
	return scheme.Decapsulate(c.priv, kemCt)
}

package pqcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/hkdf"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
)

const (
	// hkdfInfo binds derived keys to this protocol version.
	hkdfInfo = "lumen-authwallet-v1"

	sessionKeyLen = 32
	gcmIVLen      = 12
	gcmTagLen     = 16

	// MaxClockSkew is the accepted |now - timestamp| for inner envelopes.
	MaxClockSkew = 5 * time.Minute

	// Required request headers.
	HeaderPQ    = "X-Lumen-PQ"
	HeaderKEM   = "X-Lumen-KEM"
	HeaderKeyID = "X-Lumen-KeyId"

	// HeaderPQValue is the only protocol version currently spoken.
	HeaderPQValue = "v1"
)

// WireEnvelope is the outer request body: every field is base64.
type WireEnvelope struct {
	KemCt      string `json:"kem_ct"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// innerEnvelope is the decrypted request content.
type innerEnvelope struct {
	Wallet    string          `json:"wallet"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Pubkey    string          `json:"pubkey"`
}

// SealedResponse is the encrypted response body. The same session key that
// opened the request seals the response, so only the requesting client can
// read it.
type SealedResponse struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// Session is the authenticated result of opening an envelope.
type Session struct {
	// Wallet is the verified bech32 address of the caller.
	Wallet string
	// Payload is the operation-specific JSON carried inside the envelope.
	// May be nil.
	Payload json.RawMessage
	// Key is the HKDF-derived AES-256 key for sealing the response.
	Key []byte
}

// Codec opens and seals envelopes for one gateway keypair.
type Codec struct {
	ctx    *Context
	nonces *NonceCache
	hrp    string
	now    func() time.Time
}

// NewCodec wires the KEM context, the shared nonce cache, and the address
// prefix wallets must carry.
func NewCodec(ctx *Context, nonces *NonceCache, hrp string) *Codec {
	return &Codec{ctx: ctx, nonces: nonces, hrp: hrp, now: time.Now}
}

// CheckHeaders enforces the protocol headers before any body is read.
// Values come straight from the HTTP layer; empty string means absent.
func (c *Codec) CheckHeaders(pq, kem, keyID string) error {
	if pq != HeaderPQValue {
		return apperr.Newf(apperr.KindPQRequired, "%s: v1 required", HeaderPQ)
	}
	if kem != AlgKyber768 {
		return apperr.Newf(apperr.KindPQUnsupportedKEM, "%s: kyber768 required", HeaderKEM)
	}
	if keyID != "" && keyID != c.ctx.KeyID() {
		return apperr.New(apperr.KindPQKeyMismatch, "envelope sealed to a different gateway key")
	}
	return nil
}

// Open runs the full decode procedure over a request body and returns the
// authenticated session. method and path identify the HTTP operation the
// wallet signed over; path carries no query string.
func (c *Codec) Open(method, path string, body []byte) (*Session, error) {
	var wire WireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperr.Wrap(apperr.KindPQBadBody, "request body is not a PQ envelope", err)
	}

	kemCt, err := b64Field(wire.KemCt, true)
	if err != nil || len(kemCt) != kyber768.CiphertextSize {
		return nil, apperr.Newf(apperr.KindPQInvalidKEMCt, "kem_ct: want %d base64 bytes", kyber768.CiphertextSize)
	}
	iv, err := b64Field(wire.IV, true)
	if err != nil || len(iv) != gcmIVLen {
		return nil, apperr.Newf(apperr.KindPQInvalidIV, "iv: want %d base64 bytes", gcmIVLen)
	}
	tag, err := b64Field(wire.Tag, true)
	if err != nil || len(tag) != gcmTagLen {
		return nil, apperr.Newf(apperr.KindPQInvalidTag, "tag: want %d base64 bytes", gcmTagLen)
	}
	ciphertext, err := b64Field(wire.Ciphertext, true)
	if err != nil || len(ciphertext) == 0 {
		return nil, apperr.New(apperr.KindPQInvalidCiphertext, "ciphertext: missing or not base64")
	}

	shared, err := c.ctx.Decapsulate(kemCt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPQDecapsulateFailed, "KEM decapsulation failed", err)
	}

	key, err := deriveSessionKey(shared)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPQDecryptFailed, "session key derivation failed", err)
	}

	plaintext, err := gcmOpen(key, iv, ciphertext, tag)
	if err != nil {
		return nil, apperr.New(apperr.KindPQDecryptFailed, "envelope decryption failed")
	}

	var inner innerEnvelope
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, apperr.Wrap(apperr.KindPQBadEnvelope, "decrypted envelope is not valid JSON", err)
	}

	if err := c.verify(method, path, &inner); err != nil {
		return nil, err
	}

	return &Session{Wallet: inner.Wallet, Payload: inner.Payload, Key: key}, nil
}

// verify applies the inner-envelope checks in cheap-first order and, on
// success, burns the nonce.
func (c *Codec) verify(method, path string, inner *innerEnvelope) error {
	if inner.Wallet == "" {
		return apperr.New(apperr.KindWalletRequired, "envelope carries no wallet")
	}
	if err := ValidateWalletAddress(inner.Wallet, c.hrp); err != nil {
		return apperr.Wrap(apperr.KindWalletInvalid, "wallet address rejected", err)
	}
	if inner.Signature == "" || inner.Pubkey == "" {
		return apperr.New(apperr.KindAuthFailed, "envelope missing signature or pubkey")
	}
	if inner.Nonce == "" {
		return apperr.New(apperr.KindAuthFailed, "envelope missing nonce")
	}

	now := c.now()
	ts := time.UnixMilli(inner.Timestamp)
	if d := now.Sub(ts); d > MaxClockSkew || d < -MaxClockSkew {
		return apperr.New(apperr.KindAuthFailed, "timestamp outside the accepted window").
			WithDetails("timestamp_out_of_window")
	}
	if c.nonces.Seen(inner.Nonce) {
		return apperr.New(apperr.KindAuthFailed, "nonce already used").WithDetails("nonce_replay")
	}

	canonical, err := CanonicalString(method, path, inner.Nonce, inner.Timestamp, inner.Payload)
	if err != nil {
		return apperr.Wrap(apperr.KindPQBadEnvelope, "payload not canonicalizable", err)
	}
	pub, err := VerifyWalletSignature(canonical, inner.Signature, inner.Pubkey)
	if err != nil {
		return apperr.Wrap(apperr.KindAuthFailed, "signature verification failed", err)
	}

	derived, err := DeriveWalletAddress(pub, c.hrp)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "address derivation failed", err)
	}
	if derived != inner.Wallet {
		return apperr.New(apperr.KindAuthFailed, "pubkey does not belong to the claimed wallet")
	}

	// Last step: burning the nonce only after every other check passed
	// keeps failed attempts replayable by their legitimate sender.
	if !c.nonces.Insert(inner.Nonce) {
		return apperr.New(apperr.KindAuthFailed, "nonce already used")
	}
	return nil
}

// Seal encrypts a response value under the session key with a fresh IV.
func (c *Codec) Seal(key []byte, v any) (*SealedResponse, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPQEncryptFailed, "response not serializable", err)
	}

	iv := make([]byte, gcmIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, apperr.Wrap(apperr.KindPQEncryptFailed, "iv generation failed", err)
	}

	ctWithTag, err := gcmSeal(key, iv, plaintext)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPQEncryptFailed, "response encryption failed", err)
	}
	split := len(ctWithTag) - gcmTagLen

	return &SealedResponse{
		Ciphertext: base64.StdEncoding.EncodeToString(ctWithTag[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(ctWithTag[split:]),
	}, nil
}

// deriveSessionKey expands the KEM shared secret into the AES-256 session
// key. Empty salt; the info string pins the protocol version.
func deriveSessionKey(shared []byte) ([]byte, error) {
	key := make([]byte, sessionKeyLen)
	r := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func gcmOpen(key, iv, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	// The wire format carries the tag separately; Go's GCM wants it
	// appended to the ciphertext.
	return gcm.Open(nil, iv, append(append([]byte{}, ciphertext...), tag...), nil)
}

func gcmSeal(key, iv, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, nil), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// b64Field decodes a base64 wire field. required=false tolerates absence.
func b64Field(s string, required bool) ([]byte, error) {
	if s == "" {
		if required {
			return nil, fmt.Errorf("missing")
		}
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

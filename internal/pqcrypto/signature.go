package pqcrypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160"
)

// walletPayloadLen is the byte length of the hash160 inside a wallet address.
const walletPayloadLen = ripemd160.Size

// CanonicalString assembles the exact byte string wallets sign:
//
//	METHOD|PATH|nonce|timestamp|payloadHash
//
// METHOD is upper-case, PATH is the request path without query string, and
// payloadHash is hex(sha256(canonical JSON of the payload, or "null" when
// the payload is absent)).
func CanonicalString(method, path, nonce string, timestamp int64, payload json.RawMessage) (string, error) {
	h, err := PayloadHash(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s", strings.ToUpper(method), path, nonce, timestamp, h), nil
}

// PayloadHash returns hex(sha256(canonicalJSON(payload))). A nil or empty
// payload hashes as the JSON literal null.
func PayloadHash(payload json.RawMessage) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-encodes a JSON value with object keys sorted and no
// insignificant whitespace, preserving number literals exactly.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	// encoding/json writes map keys in sorted order, which is all the
	// canonical form requires.
	return json.Marshal(v)
}

// VerifyWalletSignature checks a compact 64-byte secp256k1 signature
// (r||s, hex or base64 encoded) over sha256(canonical) against the given
// compressed public key.
func VerifyWalletSignature(canonical string, sigEnc, pubEnc string) (*btcec.PublicKey, error) {
	pubBytes, err := decodeField(pubEnc)
	if err != nil {
		return nil, fmt.Errorf("pubkey: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("pubkey: %w", err)
	}

	sigBytes, err := decodeField(sigEnc)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sigBytes) != 64 {
		return nil, fmt.Errorf("signature is %d bytes, want 64 (compact r||s)", len(sigBytes))
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return nil, fmt.Errorf("signature r overflows curve order")
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
		return nil, fmt.Errorf("signature s overflows curve order")
	}

	digest := sha256.Sum256([]byte(canonical))
	if !btcecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return nil, fmt.Errorf("signature does not verify")
	}
	return pub, nil
}

// DeriveWalletAddress computes the bech32 wallet address bound to a
// secp256k1 public key: bech32(hrp, ripemd160(sha256(compressed_pubkey))).
func DeriveWalletAddress(pub *btcec.PublicKey, hrp string) (string, error) {
	shaSum := sha256.Sum256(pub.SerializeCompressed())
	h := ripemd160.New()
	h.Write(shaSum[:])
	payload := h.Sum(nil)

	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address payload: %w", err)
	}
	addr, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", fmt.Errorf("encode address: %w", err)
	}
	return addr, nil
}

// ValidateWalletAddress checks syntax only: bech32 decodes, the human
// readable part matches, and the payload is a 20-byte hash160.
func ValidateWalletAddress(addr, hrp string) error {
	gotHRP, data, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("not bech32: %w", err)
	}
	if gotHRP != hrp {
		return fmt.Errorf("address prefix %q, want %q", gotHRP, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("bad address payload: %w", err)
	}
	if len(payload) != walletPayloadLen {
		return fmt.Errorf("address payload is %d bytes, want %d", len(payload), walletPayloadLen)
	}
	return nil
}

// decodeField accepts hex or standard base64; clients in the wild use both.
func decodeField(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty")
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("neither hex nor base64")
	}
	return b, nil
}

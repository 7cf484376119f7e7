package pqcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
)

const testHRP = "lmn"

// testGateway bundles everything a test client needs to talk to a codec.
type testGateway struct {
	codec  *Codec
	nonces *NonceCache
	kemPub kem.PublicKey
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	scheme := kyber768.Scheme()
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate KEM keypair: %v", err)
	}
	pubRaw, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal KEM public key: %v", err)
	}
	privRaw, err := priv.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal KEM private key: %v", err)
	}

	kf := map[string]string{
		"alg":     AlgKyber768,
		"key_id":  "test-key-1",
		"pubkey":  base64.StdEncoding.EncodeToString(pubRaw),
		"privkey": base64.StdEncoding.EncodeToString(privRaw),
	}
	raw, err := json.Marshal(kf)
	if err != nil {
		t.Fatalf("marshal key file: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kyber.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	ctx, err := LoadContext(path)
	if err != nil {
		t.Fatalf("load context: %v", err)
	}
	nonces := NewNonceCache(NonceTTL)
	return &testGateway{
		codec:  NewCodec(ctx, nonces, testHRP),
		nonces: nonces,
		kemPub: pub,
	}
}

// clientWallet is a signing identity on the client side of a test.
type clientWallet struct {
	priv    *btcec.PrivateKey
	address string
}

func newClientWallet(t *testing.T) *clientWallet {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate wallet key: %v", err)
	}
	addr, err := DeriveWalletAddress(priv.PubKey(), testHRP)
	if err != nil {
		t.Fatalf("derive wallet address: %v", err)
	}
	return &clientWallet{priv: priv, address: addr}
}

// sign produces the compact hex signature over the canonical string.
func (w *clientWallet) sign(t *testing.T, method, path, nonce string, ts int64, payload json.RawMessage) string {
	t.Helper()
	canonical, err := CanonicalString(method, path, nonce, ts, payload)
	if err != nil {
		t.Fatalf("canonical string: %v", err)
	}
	digest := sha256.Sum256([]byte(canonical))
	compact := btcecdsa.SignCompact(w.priv, digest[:], true)
	return hex.EncodeToString(compact[1:])
}

// envelopeOpts lets tests override individual inner fields.
type envelopeOpts struct {
	wallet    string
	nonce     string
	timestamp int64
	signature string
	pubkey    string
}

// seal builds a complete wire envelope for (method, path, payload) the way a
// real client would: encapsulate, derive, encrypt, sign.
func (g *testGateway) seal(t *testing.T, w *clientWallet, method, path string, payload json.RawMessage, opts *envelopeOpts) []byte {
	t.Helper()

	inner := map[string]any{
		"wallet":    w.address,
		"timestamp": time.Now().UnixMilli(),
		"nonce":     randomNonce(t),
	}
	if payload != nil {
		inner["payload"] = payload
	}
	if opts != nil {
		if opts.wallet != "" {
			inner["wallet"] = opts.wallet
		}
		if opts.nonce != "" {
			inner["nonce"] = opts.nonce
		}
		if opts.timestamp != 0 {
			inner["timestamp"] = opts.timestamp
		}
	}

	ts := inner["timestamp"].(int64)
	nonce := inner["nonce"].(string)
	inner["signature"] = w.sign(t, method, path, nonce, ts, payload)
	inner["pubkey"] = hex.EncodeToString(w.priv.PubKey().SerializeCompressed())
	if opts != nil {
		if opts.signature != "" {
			inner["signature"] = opts.signature
		}
		if opts.pubkey != "" {
			inner["pubkey"] = opts.pubkey
		}
	}

	plaintext, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner envelope: %v", err)
	}

	kemCt, shared, err := kyber768.Scheme().Encapsulate(g.kemPub)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	key, err := deriveSessionKey(shared)
	if err != nil {
		t.Fatalf("derive session key: %v", err)
	}
	iv := make([]byte, gcmIVLen)
	for i := range iv {
		iv[i] = byte(i * 7)
	}
	ctWithTag, err := gcmSeal(key, iv, plaintext)
	if err != nil {
		t.Fatalf("seal inner envelope: %v", err)
	}
	split := len(ctWithTag) - gcmTagLen

	wire, err := json.Marshal(WireEnvelope{
		KemCt:      base64.StdEncoding.EncodeToString(kemCt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ctWithTag[:split]),
		Tag:        base64.StdEncoding.EncodeToString(ctWithTag[split:]),
	})
	if err != nil {
		t.Fatalf("marshal wire envelope: %v", err)
	}
	return wire
}

var nonceCounter int

func randomNonce(t *testing.T) string {
	t.Helper()
	nonceCounter++
	sum := sha256.Sum256([]byte{byte(nonceCounter), byte(nonceCounter >> 8)})
	return hex.EncodeToString(sum[:16])
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error, got nil")
	}
	return string(apperr.KindOf(err))
}

func TestOpenEnvelope_HappyPath(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)
	payload := json.RawMessage(`{"cid":"QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn","name":"backup"}`)

	body := g.seal(t, w, "POST", "/pin", payload, nil)
	sess, err := g.codec.Open("POST", "/pin", body)
	if err != nil {
		t.Fatalf("Expected envelope to open. Got: %v", err)
	}
	if sess.Wallet != w.address {
		t.Errorf("Expected wallet %s. Got: %s", w.address, sess.Wallet)
	}
	var got map[string]string
	if err := json.Unmarshal(sess.Payload, &got); err != nil {
		t.Fatalf("payload did not survive the envelope: %v", err)
	}
	if got["name"] != "backup" {
		t.Errorf("Expected payload name=backup. Got: %q", got["name"])
	}
	if len(sess.Key) != sessionKeyLen {
		t.Errorf("Expected %d-byte session key. Got: %d", sessionKeyLen, len(sess.Key))
	}
}

func TestSealResponse_ClientCanDecrypt(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)

	body := g.seal(t, w, "POST", "/pin", nil, nil)
	sess, err := g.codec.Open("POST", "/pin", body)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sealed, err := g.codec.Seal(sess.Key, map[string]any{"ok": true, "message": "pinned"})
	if err != nil {
		t.Fatalf("seal response: %v", err)
	}

	iv, _ := base64.StdEncoding.DecodeString(sealed.IV)
	ct, _ := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	tag, _ := base64.StdEncoding.DecodeString(sealed.Tag)
	if len(tag) != gcmTagLen {
		t.Fatalf("Expected %d-byte tag. Got: %d", gcmTagLen, len(tag))
	}
	plain, err := gcmOpen(sess.Key, iv, ct, tag)
	if err != nil {
		t.Fatalf("client-side decrypt failed: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(plain, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["message"] != "pinned" {
		t.Errorf("Expected message=pinned. Got: %v", resp["message"])
	}
}

func TestOpenEnvelope_NonceReplay(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)
	nonce := randomNonce(t)

	first := g.seal(t, w, "GET", "/wallet/cids", nil, &envelopeOpts{nonce: nonce})
	if _, err := g.codec.Open("GET", "/wallet/cids", first); err != nil {
		t.Fatalf("first envelope should open: %v", err)
	}

	// Fresh KEM ciphertext and signature, same nonce.
	second := g.seal(t, w, "GET", "/wallet/cids", nil, &envelopeOpts{nonce: nonce})
	_, err := g.codec.Open("GET", "/wallet/cids", second)
	if kind := kindOf(t, err); kind != "auth_failed" {
		t.Errorf("Expected auth_failed on nonce replay. Got: %s", kind)
	}
}

func TestOpenEnvelope_TimestampWindow(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)

	stale := time.Now().Add(-6 * time.Minute).UnixMilli()
	body := g.seal(t, w, "POST", "/pin", nil, &envelopeOpts{timestamp: stale})
	_, err := g.codec.Open("POST", "/pin", body)
	if kind := kindOf(t, err); kind != "auth_failed" {
		t.Errorf("Expected auth_failed for stale timestamp. Got: %s", kind)
	}

	future := time.Now().Add(6 * time.Minute).UnixMilli()
	body = g.seal(t, w, "POST", "/pin", nil, &envelopeOpts{timestamp: future})
	_, err = g.codec.Open("POST", "/pin", body)
	if kind := kindOf(t, err); kind != "auth_failed" {
		t.Errorf("Expected auth_failed for future timestamp. Got: %s", kind)
	}

	// Just inside the window still passes.
	recent := time.Now().Add(-4 * time.Minute).UnixMilli()
	body = g.seal(t, w, "POST", "/pin", nil, &envelopeOpts{timestamp: recent})
	if _, err := g.codec.Open("POST", "/pin", body); err != nil {
		t.Errorf("Expected 4-minute-old envelope to open. Got: %v", err)
	}
}

func TestOpenEnvelope_MethodPathBinding(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)

	// Signed for POST /pin, replayed against POST /unpin.
	body := g.seal(t, w, "POST", "/pin", nil, nil)
	_, err := g.codec.Open("POST", "/unpin", body)
	if kind := kindOf(t, err); kind != "auth_failed" {
		t.Errorf("Expected auth_failed when path differs from the signed one. Got: %s", kind)
	}
}

func TestOpenEnvelope_WalletPubkeyMismatch(t *testing.T) {
	g := newTestGateway(t)
	signer := newClientWallet(t)
	victim := newClientWallet(t)

	// Signed by one key, claiming another wallet. The signature's canonical
	// string is still valid, only the address binding fails.
	body := g.seal(t, signer, "POST", "/pin", nil, &envelopeOpts{wallet: victim.address})
	_, err := g.codec.Open("POST", "/pin", body)
	if kind := kindOf(t, err); kind != "auth_failed" {
		t.Errorf("Expected auth_failed for wallet/pubkey mismatch. Got: %s", kind)
	}
}

func TestOpenEnvelope_TamperedCiphertext(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)

	body := g.seal(t, w, "POST", "/pin", nil, nil)
	var wire WireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	ct, _ := base64.StdEncoding.DecodeString(wire.Ciphertext)
	ct[0] ^= 0xff
	wire.Ciphertext = base64.StdEncoding.EncodeToString(ct)
	tampered, _ := json.Marshal(wire)

	_, err := g.codec.Open("POST", "/pin", tampered)
	if kind := kindOf(t, err); kind != "pq_decrypt_failed" {
		t.Errorf("Expected pq_decrypt_failed for tampered ciphertext. Got: %s", kind)
	}
}

func TestOpenEnvelope_FieldValidation(t *testing.T) {
	g := newTestGateway(t)
	w := newClientWallet(t)
	valid := g.seal(t, w, "POST", "/pin", nil, nil)

	cases := []struct {
		name   string
		mutate func(*WireEnvelope)
		want   string
	}{
		{"short kem_ct", func(e *WireEnvelope) { e.KemCt = base64.StdEncoding.EncodeToString([]byte("short")) }, "pq_invalid_kem_ct"},
		{"bad iv length", func(e *WireEnvelope) { e.IV = base64.StdEncoding.EncodeToString([]byte("123")) }, "pq_invalid_iv"},
		{"bad tag length", func(e *WireEnvelope) { e.Tag = base64.StdEncoding.EncodeToString([]byte("123")) }, "pq_invalid_tag"},
		{"missing ciphertext", func(e *WireEnvelope) { e.Ciphertext = "" }, "pq_invalid_ciphertext"},
		{"garbage base64", func(e *WireEnvelope) { e.KemCt = "!!!not-base64!!!" }, "pq_invalid_kem_ct"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var wire WireEnvelope
			if err := json.Unmarshal(valid, &wire); err != nil {
				t.Fatalf("unmarshal wire: %v", err)
			}
			tc.mutate(&wire)
			body, _ := json.Marshal(wire)
			_, err := g.codec.Open("POST", "/pin", body)
			if kind := kindOf(t, err); kind != tc.want {
				t.Errorf("Expected %s. Got: %s", tc.want, kind)
			}
		})
	}

	_, err := g.codec.Open("POST", "/pin", []byte("not json at all"))
	if kind := kindOf(t, err); kind != "pq_bad_body" {
		t.Errorf("Expected pq_bad_body for non-JSON body. Got: %s", kind)
	}
}

func TestCheckHeaders(t *testing.T) {
	g := newTestGateway(t)

	if err := g.codec.CheckHeaders("v1", "kyber768", ""); err != nil {
		t.Errorf("Expected headers to pass without key id. Got: %v", err)
	}
	if err := g.codec.CheckHeaders("v1", "kyber768", "test-key-1"); err != nil {
		t.Errorf("Expected headers to pass with matching key id. Got: %v", err)
	}

	err := g.codec.CheckHeaders("", "kyber768", "")
	if kind := kindOf(t, err); kind != "pq_required" {
		t.Errorf("Expected pq_required. Got: %s", kind)
	}
	err = g.codec.CheckHeaders("v1", "rsa", "")
	if kind := kindOf(t, err); kind != "pq_unsupported_kem" {
		t.Errorf("Expected pq_unsupported_kem. Got: %s", kind)
	}
	err = g.codec.CheckHeaders("v1", "kyber768", "some-other-key")
	if kind := kindOf(t, err); kind != "pq_key_mismatch" {
		t.Errorf("Expected pq_key_mismatch. Got: %s", kind)
	}
}

func TestCanonicalString_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalString("POST", "/pin", "n1", 42, json.RawMessage(`{"b":1,"a":"x"}`))
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	b, err := CanonicalString("post", "/pin", "n1", 42, json.RawMessage(`{ "a": "x", "b": 1 }`))
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if a != b {
		t.Errorf("Expected identical canonical strings.\n a: %s\n b: %s", a, b)
	}
}

func TestCanonicalString_NilPayloadHashesAsNull(t *testing.T) {
	got, err := CanonicalString("GET", "/wallet/cids", "n", 7, nil)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	nullSum := sha256.Sum256([]byte("null"))
	want := "GET|/wallet/cids|n|7|" + hex.EncodeToString(nullSum[:])
	if got != want {
		t.Errorf("Expected %s. Got: %s", want, got)
	}
}

func TestDeriveWalletAddress_RoundTrip(t *testing.T) {
	w := newClientWallet(t)
	if err := ValidateWalletAddress(w.address, testHRP); err != nil {
		t.Errorf("Expected derived address to validate. Got: %v", err)
	}
	if err := ValidateWalletAddress(w.address, "other"); err == nil {
		t.Errorf("Expected rejection under a different prefix")
	}
	if err := ValidateWalletAddress("lmn1notanaddress", testHRP); err == nil {
		t.Errorf("Expected rejection of a malformed address")
	}
}

func TestVerifyWalletSignature_AcceptsBase64(t *testing.T) {
	w := newClientWallet(t)
	canonical := "POST|/pin|n1|42|" + hex.EncodeToString(make([]byte, 32))
	digest := sha256.Sum256([]byte(canonical))
	compact := btcecdsa.SignCompact(w.priv, digest[:], true)
	sigB64 := base64.StdEncoding.EncodeToString(compact[1:])
	pubB64 := base64.StdEncoding.EncodeToString(w.priv.PubKey().SerializeCompressed())

	if _, err := VerifyWalletSignature(canonical, sigB64, pubB64); err != nil {
		t.Errorf("Expected base64-encoded signature to verify. Got: %v", err)
	}
}

func TestNonceCache_Expiry(t *testing.T) {
	nc := NewNonceCache(time.Minute)
	current := time.Unix(1000, 0)
	nc.now = func() time.Time { return current }

	if !nc.Insert("n1") {
		t.Fatalf("Expected first insert to succeed")
	}
	if nc.Insert("n1") {
		t.Errorf("Expected duplicate insert to fail")
	}
	if !nc.Seen("n1") {
		t.Errorf("Expected n1 to be seen")
	}

	current = current.Add(2 * time.Minute)
	if nc.Seen("n1") {
		t.Errorf("Expected n1 to expire")
	}
	if !nc.Insert("n1") {
		t.Errorf("Expected expired nonce to be insertable again")
	}

	current = current.Add(2 * time.Minute)
	if removed := nc.Purge(); removed != 1 {
		t.Errorf("Expected purge to remove 1 entry. Got: %d", removed)
	}
	if nc.Len() != 0 {
		t.Errorf("Expected empty cache after purge. Got: %d", nc.Len())
	}
}

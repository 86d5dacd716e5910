// Package crypto implements the agent identity and message encryption primitives: Ed25519 signing, the
// Ed25519-to-X25519 conversion used to derive a Diffie-Hellman key from the same identity keypair, HKDF-SHA-256
// key derivation, and AES-256-GCM sealing/opening of message payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// p is the field prime 2^255 - 19 underlying both Edwards25519 and Curve25519.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// GenerateKeyPair creates a new Ed25519 identity keypair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign produces a detached Ed25519 signature over data.
func Sign(key ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(key, data)
}

// Verify checks a detached Ed25519 signature.
func Verify(key ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(key, data, sig)
}

// Ed25519PublicToX25519 converts an Ed25519 public key to its Montgomery u-coordinate via the birational map
// u = (1+y)/(1-y) mod p, where y is recovered from the standard little-endian Ed25519 encoding with the sign bit
// of x masked off. Only y is needed for the public conversion; x's sign does not affect u.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	yBytes := make([]byte, ed25519.PublicKeySize)
	copy(yBytes, pub)
	yBytes[31] &= 0x7F // clear the sign bit of x

	y := littleEndianToBig(yBytes)

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	if denominator.ModInverse(denominator, fieldPrime) == nil {
		return nil, errors.New("public key is not invertible on the curve (y = 1)")
	}

	u := new(big.Int).Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	return bigToLittleEndian(u, 32), nil
}

// Ed25519PrivateToX25519 derives the clamped X25519 scalar from an Ed25519 private key: SHA-512 of the 32-byte
// seed, the low half of the digest, then RFC 7748 clamping.
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}

	seed := priv.Seed()
	digest := sha512.Sum512(seed)
	copy(out[:], digest[:32])

	out[0] &= 0xF8
	out[31] &= 0x7F
	out[31] |= 0x40

	return out, nil
}

// SharedSecret performs the X25519 scalar multiplication between a clamped private scalar and a peer's Montgomery
// u-coordinate.
func SharedSecret(priv [32]byte, peerPub []byte) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv[:], peerPub)
	if err != nil {
		return out, fmt.Errorf("x25519 scalar multiplication: %w", err)
	}
	copy(out[:], secret)
	return out, nil
}

// DeriveKey runs HKDF-SHA-256 over secret with an empty salt and an info string of
// "cc4me-v1|<min(a,b)>|<max(a,b)>", so both peers derive the same key regardless of which of them is "a" or "b" in
// the call.
func DeriveKey(secret [32]byte, a, b string) ([32]byte, error) {
	var out [32]byte
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	info := []byte(fmt.Sprintf("cc4me-v1|%s|%s", lo, hi))

	reader := hkdf.New(sha256.New, secret[:], nil, info)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return out, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext under AES-256-GCM with a fresh random 12-byte nonce and AAD = the UTF-8 messageID. The
// returned ciphertext is the GCM output (plaintext-length ciphertext followed by a 16-byte tag); nonce and
// ciphertext are returned separately rather than concatenated, mirroring the wire envelope's distinct
// nonce_b64/ciphertext_b64 fields.
func Seal(key [32]byte, messageID string, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, []byte(messageID))
	return nonce, ciphertext, nil
}

// Open decrypts a Seal'd payload. Any tag mismatch (wrong key, wrong messageID, or tampered ciphertext) is a hard
// error.
func Open(key [32]byte, messageID string, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(messageID))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func littleEndianToBig(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}

func bigToLittleEndian(n *big.Int, size int) []byte {
	be := n.Bytes()
	out := make([]byte, size)
	copy(out[size-len(be):], be)
	for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// Package stdcrypto is the default software implementation of the edhoc
// Crypto interface, built on the Go standard library and golang.org/x/crypto.
//
// Public keys cross the boundary in the 32-byte compact encoding: the
// u-coordinate for X25519 and the x-coordinate for P-256. P-256 points are
// decompressed internally; ECDH output does not depend on the sign of y, so
// either square root serves.
package stdcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	stdecdh "crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	edhoc "github.com/lake-edhoc/go-edhoc"
	"github.com/lake-edhoc/go-edhoc/suite"
)

// Crypto implements edhoc.Crypto in software. The zero value is ready to use
// and safe for concurrent use.
type Crypto struct{}

var _ edhoc.Crypto = Crypto{}

// New returns the default software backend.
func New() Crypto { return Crypto{} }

// GenerateKeyPair implements edhoc.Crypto.
func (Crypto) GenerateKeyPair(rand io.Reader, crv suite.Curve) (private, public []byte, err error) {
	switch crv {
	case suite.X25519:
		key, err := stdecdh.X25519().GenerateKey(rand)
		if err != nil {
			return nil, nil, err
		}
		return key.Bytes(), key.PublicKey().Bytes(), nil
	case suite.P256:
		key, err := stdecdh.P256().GenerateKey(rand)
		if err != nil {
			return nil, nil, err
		}
		// Uncompressed SEC1 point 04 || x || y; keep the x-coordinate.
		uncompressed := key.PublicKey().Bytes()
		return key.Bytes(), append([]byte(nil), uncompressed[1:33]...), nil
	}
	return nil, nil, fmt.Errorf("stdcrypto: unsupported curve %d", crv)
}

// ECDH implements edhoc.Crypto.
func (Crypto) ECDH(crv suite.Curve, private, peerPublic []byte) ([]byte, error) {
	switch crv {
	case suite.X25519:
		key, err := stdecdh.X25519().NewPrivateKey(private)
		if err != nil {
			return nil, err
		}
		pub, err := stdecdh.X25519().NewPublicKey(peerPublic)
		if err != nil {
			return nil, err
		}
		return key.ECDH(pub)
	case suite.P256:
		key, err := stdecdh.P256().NewPrivateKey(private)
		if err != nil {
			return nil, err
		}
		point, err := decompressP256(peerPublic)
		if err != nil {
			return nil, err
		}
		pub, err := stdecdh.P256().NewPublicKey(point)
		if err != nil {
			return nil, err
		}
		return key.ECDH(pub)
	}
	return nil, fmt.Errorf("stdcrypto: unsupported curve %d", crv)
}

// decompressP256 recovers an uncompressed SEC1 point from a 32-byte
// x-coordinate by solving y^2 = x^3 - 3x + b.
func decompressP256(x []byte) ([]byte, error) {
	if len(x) != 32 {
		return nil, fmt.Errorf("stdcrypto: P-256 public key must be 32 bytes, got %d", len(x))
	}
	params := elliptic.P256().Params()
	xi := new(big.Int).SetBytes(x)
	if xi.Cmp(params.P) >= 0 {
		return nil, fmt.Errorf("stdcrypto: P-256 x-coordinate out of range")
	}

	// y^2 = x^3 - 3x + b (mod p)
	y2 := new(big.Int).Mul(xi, xi)
	y2.Mul(y2, xi)
	three := new(big.Int).Lsh(xi, 1)
	three.Add(three, xi)
	y2.Sub(y2, three)
	y2.Add(y2, params.B)
	y2.Mod(y2, params.P)

	y := new(big.Int).ModSqrt(y2, params.P)
	if y == nil {
		return nil, fmt.Errorf("stdcrypto: P-256 x-coordinate is not on the curve")
	}

	point := make([]byte, 65)
	point[0] = 4
	xi.FillBytes(point[1:33])
	y.FillBytes(point[33:])
	return point, nil
}

// Hash implements edhoc.Crypto.
func (Crypto) Hash(alg suite.HashAlg, data []byte) ([]byte, error) {
	if alg != suite.Sha256 {
		return nil, fmt.Errorf("stdcrypto: unsupported hash %d", alg)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Extract implements edhoc.Crypto.
func (Crypto) Extract(alg suite.HashAlg, salt, ikm []byte) ([]byte, error) {
	if alg != suite.Sha256 {
		return nil, fmt.Errorf("stdcrypto: unsupported hash %d", alg)
	}
	return hkdf.Extract(sha256.New, ikm, salt), nil
}

// Expand implements edhoc.Crypto.
func (Crypto) Expand(alg suite.HashAlg, prk, info []byte, length int) ([]byte, error) {
	if alg != suite.Sha256 {
		return nil, fmt.Errorf("stdcrypto: unsupported hash %d", alg)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seal implements edhoc.Crypto.
func (Crypto) Seal(alg suite.AEADAlg, key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open implements edhoc.Crypto.
func (Crypto) Open(alg suite.AEADAlg, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, edhoc.AuthError{}
	}
	return plaintext, nil
}

func newAEAD(alg suite.AEADAlg, key []byte) (cipher.AEAD, error) {
	switch alg {
	case suite.ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case suite.AesCcm16_64_128, suite.AesCcm16_128_128:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return newCCM(block, alg.NonceSize(), alg.TagSize())
	}
	return nil, fmt.Errorf("stdcrypto: unsupported AEAD %d", alg)
}

// Sign implements edhoc.Crypto.
func (Crypto) Sign(alg suite.SigAlg, private, message []byte) ([]byte, error) {
	switch alg {
	case suite.EdDSA:
		if len(private) != ed25519.SeedSize {
			return nil, fmt.Errorf("stdcrypto: EdDSA key must be a %d-byte seed", ed25519.SeedSize)
		}
		return ed25519.Sign(ed25519.NewKeyFromSeed(private), message), nil
	case suite.ES256:
		return signES256(private, message)
	}
	return nil, fmt.Errorf("stdcrypto: unsupported signature algorithm %d", alg)
}

// Verify implements edhoc.Crypto.
func (Crypto) Verify(alg suite.SigAlg, public, message, signature []byte) error {
	switch alg {
	case suite.EdDSA:
		if len(public) != ed25519.PublicKeySize {
			return fmt.Errorf("stdcrypto: EdDSA public key must be %d bytes", ed25519.PublicKeySize)
		}
		if !ed25519.Verify(ed25519.PublicKey(public), message, signature) {
			return edhoc.AuthError{}
		}
		return nil
	case suite.ES256:
		return verifyES256(public, message, signature)
	}
	return fmt.Errorf("stdcrypto: unsupported signature algorithm %d", alg)
}

// EdDSAGenerateKey returns a fresh Ed25519 signing key as a 32-byte seed
// together with the 32-byte public key.
func EdDSAGenerateKey(rand io.Reader) (private, public []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return priv.Seed(), pub, nil
}

// ES256GenerateKey returns a fresh P-256 signing key as a 32-byte scalar
// together with the 64-byte x||y public key.
func ES256GenerateKey(rand io.Reader) (private, public []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand)
	if err != nil {
		return nil, nil, err
	}
	pub := make([]byte, 64)
	key.X.FillBytes(pub[:32])
	key.Y.FillBytes(pub[32:])
	return key.D.FillBytes(make([]byte, 32)), pub, nil
}

// signES256 produces the fixed 64-byte r||s COSE signature form.
func signES256(private, message []byte) ([]byte, error) {
	if len(private) != 32 {
		return nil, fmt.Errorf("stdcrypto: ES256 key must be a 32-byte scalar")
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(private)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("stdcrypto: ES256 scalar out of range")
	}
	key := &ecdsa.PrivateKey{D: d}
	key.Curve = curve
	key.X, key.Y = curve.ScalarBaseMult(private)

	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

func verifyES256(public, message, signature []byte) error {
	if len(public) != 64 {
		return fmt.Errorf("stdcrypto: ES256 public key must be 64 bytes (x||y)")
	}
	if len(signature) != 64 {
		return edhoc.AuthError{}
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(public[:32]),
		Y:     new(big.Int).SetBytes(public[32:]),
	}
	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return edhoc.AuthError{}
	}
	return nil
}

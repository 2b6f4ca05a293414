// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"io"

	"github.com/lake-edhoc/go-edhoc/suite"
)

// Crypto is the primitive-provider boundary: the capability set the protocol
// engine calls out to for all cryptographic operations. Implementations may
// be software, hardware-accelerated, or HSM-backed; the state machine
// operates identically regardless of which backend answers.
//
// All operations are synchronous and must not retain key or plaintext
// buffers beyond the call. Open and Verify must return AuthError (not a
// wrapped decode or operational error) when the tag or signature does not
// verify, so the engine can distinguish authentication failures from
// malformed input and local faults.
//
// Public keys use the curve's 32-byte compact encoding (x-coordinate only
// for P-256, u-coordinate for X25519). Signature keys are Ed25519 public
// keys for EdDSA and the 64-byte x||y point for ES256; signatures are the
// fixed 64-byte COSE form.
type Crypto interface {
	// GenerateKeyPair creates a fresh ephemeral key pair on the curve.
	GenerateKeyPair(rand io.Reader, crv suite.Curve) (private, public []byte, err error)

	// ECDH computes the shared secret between a private scalar and a peer
	// public key, returning the x-coordinate.
	ECDH(crv suite.Curve, private, peerPublic []byte) ([]byte, error)

	// Hash computes a digest over data.
	Hash(alg suite.HashAlg, data []byte) ([]byte, error)

	// Extract computes an HKDF-Extract style PRF: HMAC(salt, ikm).
	Extract(alg suite.HashAlg, salt, ikm []byte) ([]byte, error)

	// Expand computes HKDF-Expand(prk, info) truncated to length bytes.
	Expand(alg suite.HashAlg, prk, info []byte, length int) ([]byte, error)

	// Seal performs AEAD encryption, returning ciphertext with the tag
	// appended.
	Seal(alg suite.AEADAlg, key, nonce, aad, plaintext []byte) ([]byte, error)

	// Open performs AEAD decryption, returning AuthError if the tag does not
	// verify.
	Open(alg suite.AEADAlg, key, nonce, aad, ciphertext []byte) ([]byte, error)

	// Sign produces a signature over message with the private signature key.
	Sign(alg suite.SigAlg, private, message []byte) ([]byte, error)

	// Verify checks a signature, returning AuthError on mismatch.
	Verify(alg suite.SigAlg, public, message, signature []byte) error
}

// zeroize clears sensitive byte material in place.
func zeroize(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}

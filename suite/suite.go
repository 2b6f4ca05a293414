// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// Package suite defines EDHOC cipher suites and a registry for selecting
// them. A cipher suite pins the AEAD algorithm, hash, MAC length, ECDH curve,
// and signature algorithm for a whole session; it is chosen by the initiator
// in message 1 and never changes mid-handshake.
package suite

import "strconv"

// ID enumerates the IANA-registered EDHOC cipher suites.
type ID int64

// Cipher suites 0-5. Suites 0 and 2 use the 8-byte AEAD tag and EDHOC MAC
// length; 1, 3, 4, and 5 use 16 bytes.
const (
	X25519AesCcm8    ID = 0 // AES-CCM-16-64-128, SHA-256, X25519, EdDSA
	X25519AesCcm16   ID = 1 // AES-CCM-16-128-128, SHA-256, X25519, EdDSA
	P256AesCcm8      ID = 2 // AES-CCM-16-64-128, SHA-256, P-256, ES256
	P256AesCcm16     ID = 3 // AES-CCM-16-128-128, SHA-256, P-256, ES256
	X25519ChaChaPoly ID = 4 // ChaCha20-Poly1305, SHA-256, X25519, EdDSA
	P256ChaChaPoly   ID = 5 // ChaCha20-Poly1305, SHA-256, P-256, ES256
)

func (id ID) String() string { return "suite " + strconv.FormatInt(int64(id), 10) }

// Curve is an ECDH curve identifier (COSE elliptic curve values).
type Curve int64

// ECDH curves
const (
	P256   Curve = 1
	X25519 Curve = 4
)

// PointSize returns the byte length of an encoded public key. Both supported
// curves use the 32-byte compact (x-coordinate only) representation.
func (Curve) PointSize() int { return 32 }

// ScalarSize returns the byte length of a private key scalar.
func (Curve) ScalarSize() int { return 32 }

// AEADAlg is a COSE AEAD algorithm identifier.
type AEADAlg int64

// AEAD algorithms
const (
	AesCcm16_64_128  AEADAlg = 10
	ChaCha20Poly1305 AEADAlg = 24
	AesCcm16_128_128 AEADAlg = 30
)

// KeySize returns the AEAD key length in bytes.
func (alg AEADAlg) KeySize() int {
	switch alg {
	case AesCcm16_64_128, AesCcm16_128_128:
		return 16
	case ChaCha20Poly1305:
		return 32
	}
	panic("AEADAlg missing switch case(s)")
}

// NonceSize returns the AEAD nonce length in bytes.
func (alg AEADAlg) NonceSize() int {
	switch alg {
	case AesCcm16_64_128, AesCcm16_128_128:
		return 13
	case ChaCha20Poly1305:
		return 12
	}
	panic("AEADAlg missing switch case(s)")
}

// TagSize returns the AEAD authentication tag length in bytes.
func (alg AEADAlg) TagSize() int {
	switch alg {
	case AesCcm16_64_128:
		return 8
	case AesCcm16_128_128, ChaCha20Poly1305:
		return 16
	}
	panic("AEADAlg missing switch case(s)")
}

// SigAlg is a COSE signature algorithm identifier.
type SigAlg int64

// Signature algorithms
const (
	ES256 SigAlg = -7
	EdDSA SigAlg = -8
)

// Size returns the signature length in bytes. Both supported algorithms
// produce a fixed 64-byte signature (r||s or R||S).
func (SigAlg) Size() int { return 64 }

// HashAlg is a COSE hash algorithm identifier.
type HashAlg int64

// Hash algorithms
const (
	Sha256 HashAlg = -16
)

// Size returns the digest length in bytes.
func (alg HashAlg) Size() int {
	switch alg {
	case Sha256:
		return 32
	}
	panic("HashAlg missing switch case(s)")
}

// Suite is the parameter set pinned by a cipher suite ID.
type Suite struct {
	ID     ID
	AEAD   AEADAlg
	Hash   HashAlg
	MACLen int // EDHOC MAC length in bytes, for static-DH authentication
	Curve  Curve
	Sig    SigAlg

	// Application AEAD and hash, exposed through the session output boundary.
	AppAEAD AEADAlg
	AppHash HashAlg
}

var suites = make(map[ID]Suite)
var order []ID

// Register adds a cipher suite for use in this library. This function should
// be called in an init func.
func Register(s Suite) {
	if _, ok := suites[s.ID]; ok {
		panic("cipher suite already registered: " + s.ID.String())
	}
	suites[s.ID] = s
	order = append(order, s.ID)
}

// Lookup returns the registered suite for an ID.
func Lookup(id ID) (Suite, bool) {
	s, ok := suites[id]
	return s, ok
}

// Supported returns the registered suite IDs in registration order.
func Supported() []ID {
	ids := make([]ID, len(order))
	copy(ids, order)
	return ids
}

func init() {
	Register(Suite{ID: X25519AesCcm8, AEAD: AesCcm16_64_128, Hash: Sha256, MACLen: 8,
		Curve: X25519, Sig: EdDSA, AppAEAD: AesCcm16_64_128, AppHash: Sha256})
	Register(Suite{ID: X25519AesCcm16, AEAD: AesCcm16_128_128, Hash: Sha256, MACLen: 16,
		Curve: X25519, Sig: EdDSA, AppAEAD: AesCcm16_64_128, AppHash: Sha256})
	Register(Suite{ID: P256AesCcm8, AEAD: AesCcm16_64_128, Hash: Sha256, MACLen: 8,
		Curve: P256, Sig: ES256, AppAEAD: AesCcm16_64_128, AppHash: Sha256})
	Register(Suite{ID: P256AesCcm16, AEAD: AesCcm16_128_128, Hash: Sha256, MACLen: 16,
		Curve: P256, Sig: ES256, AppAEAD: AesCcm16_64_128, AppHash: Sha256})
	Register(Suite{ID: X25519ChaChaPoly, AEAD: ChaCha20Poly1305, Hash: Sha256, MACLen: 16,
		Curve: X25519, Sig: EdDSA, AppAEAD: ChaCha20Poly1305, AppHash: Sha256})
	Register(Suite{ID: P256ChaChaPoly, AEAD: ChaCha20Poly1305, Hash: Sha256, MACLen: 16,
		Curve: P256, Sig: ES256, AppAEAD: ChaCha20Poly1305, AppHash: Sha256})
}

// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"bytes"
	"fmt"

	"github.com/lake-edhoc/go-edhoc/cbor"
)

// CWT/COSE labels used inside a CCS credential.
const (
	ccsClaimSubject      = 2
	ccsClaimConfirmation = 8
	cnfCOSEKey           = 1

	coseKeyKty = 1
	coseKeyKid = 2
	coseKeyCrv = -1
	coseKeyX   = -2
	coseKeyY   = -3

	ktyOKP = 1
	ktyEC2 = 2
)

// Credential is an authentication credential in CCS form (CWT Claims Set
// containing a COSE_Key), together with the material extracted from it. The
// raw Bytes are what enters transcript hashes and MAC contexts, so they must
// be preserved bit-for-bit.
type Credential struct {
	Bytes   []byte // canonical CBOR CCS
	Subject string
	KID     []byte // COSE_Key kid, used for by-reference transport
	PubKey  []byte // 32-byte x-coordinate (EC2) or OKP public key
	PubKeyY []byte // EC2 y-coordinate, when present
}

// ParseCredential extracts the kid and public key from a CCS. Claims other
// than sub and cnf are ignored.
func ParseCredential(b []byte) (*Credential, error) {
	cred := &Credential{Bytes: append([]byte(nil), b...)}

	d := cbor.NewDecoder(cred.Bytes)
	n, err := d.Map()
	if err != nil {
		return nil, DecodeError{fmt.Errorf("credential is not a CCS map: %w", err)}
	}
	for i := 0; i < n; i++ {
		claim, err := d.Int()
		if err != nil {
			return nil, DecodeError{err}
		}
		switch claim {
		case ccsClaimSubject:
			if cred.Subject, err = d.Text(); err != nil {
				return nil, DecodeError{err}
			}
		case ccsClaimConfirmation:
			if err := cred.parseConfirmation(d); err != nil {
				return nil, err
			}
		default:
			if err := d.Skip(); err != nil {
				return nil, DecodeError{err}
			}
		}
	}
	if err := d.Finish(); err != nil {
		return nil, DecodeError{err}
	}
	if cred.PubKey == nil {
		return nil, DecodeError{fmt.Errorf("CCS has no confirmation key")}
	}
	return cred, nil
}

func (cred *Credential) parseConfirmation(d *cbor.Decoder) error {
	n, err := d.Map()
	if err != nil {
		return DecodeError{err}
	}
	for i := 0; i < n; i++ {
		label, err := d.Int()
		if err != nil {
			return DecodeError{err}
		}
		if label != cnfCOSEKey {
			if err := d.Skip(); err != nil {
				return DecodeError{err}
			}
			continue
		}
		if err := cred.parseCOSEKey(d); err != nil {
			return err
		}
	}
	return nil
}

func (cred *Credential) parseCOSEKey(d *cbor.Decoder) error {
	n, err := d.Map()
	if err != nil {
		return DecodeError{err}
	}
	for i := 0; i < n; i++ {
		label, err := d.Int()
		if err != nil {
			return DecodeError{err}
		}
		switch label {
		case coseKeyKty:
			kty, err := d.Int()
			if err != nil {
				return DecodeError{err}
			}
			if kty != ktyOKP && kty != ktyEC2 {
				return DecodeError{fmt.Errorf("unsupported key type %d", kty)}
			}
		case coseKeyKid:
			kid, err := d.Bytes()
			if err != nil {
				return DecodeError{err}
			}
			cred.KID = append([]byte(nil), kid...)
		case coseKeyX:
			x, err := d.BytesSized(32)
			if err != nil {
				return DecodeError{err}
			}
			cred.PubKey = append([]byte(nil), x...)
		case coseKeyY:
			y, err := d.BytesSized(32)
			if err != nil {
				return DecodeError{err}
			}
			cred.PubKeyY = append([]byte(nil), y...)
		default:
			if err := d.Skip(); err != nil {
				return DecodeError{err}
			}
		}
	}
	return nil
}

// COSE elliptic curve identifiers for credential keys.
const (
	CrvP256    int64 = 1
	CrvX25519  int64 = 4
	CrvEd25519 int64 = 6
)

// BuildCCS encodes a CCS credential for a public key, in the deterministic
// map order parsing expects. x is the 32-byte OKP key or EC2 x-coordinate; y
// is the EC2 y-coordinate or nil.
func BuildCCS(subject string, kid []byte, crv int64, x, y []byte) (*Credential, error) {
	kty := int64(ktyOKP)
	if crv == CrvP256 {
		kty = ktyEC2
	}
	keyEntries := 4
	if y != nil {
		keyEntries = 5
	}

	var buf [MaxMessageLen]byte
	e := cbor.NewEncoder(buf[:0])
	e.Map(2)
	e.Int(ccsClaimSubject)
	e.Text(subject)
	e.Int(ccsClaimConfirmation)
	e.Map(1)
	e.Int(cnfCOSEKey)
	e.Map(keyEntries)
	e.Int(coseKeyKty)
	e.Int(kty)
	e.Int(coseKeyKid)
	e.Bytes(kid)
	e.Int(coseKeyCrv)
	e.Int(crv)
	e.Int(coseKeyX)
	e.Bytes(x)
	if y != nil {
		e.Int(coseKeyY)
		e.Bytes(y)
	}
	b, err := e.Final()
	if err != nil {
		return nil, err
	}
	return ParseCredential(b)
}

// VerifyKey returns the public key in the form the Crypto.Verify call
// expects: the raw OKP key, or x||y for an EC2 key.
func (cred *Credential) VerifyKey() ([]byte, error) {
	if cred.PubKeyY == nil {
		return cred.PubKey, nil
	}
	k := make([]byte, 0, 64)
	k = append(k, cred.PubKey...)
	return append(k, cred.PubKeyY...), nil
}

// idCredBytes returns the full ID_CRED_X map form, {4: kid}, used in MAC and
// signature contexts.
func (cred *Credential) idCredBytes() ([]byte, error) {
	var buf [MaxConnIDLen + 8]byte
	e := cbor.NewEncoder(buf[:0])
	e.Map(1)
	e.Int(4)
	e.Bytes(cred.KID)
	b, err := e.Final()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// IDCred is the credential reference received in a message: a kid for
// by-reference transport, or the full credential bytes for by-value.
type IDCred struct {
	KID   []byte
	Value []byte
}

// CredentialResolver resolves a received credential reference to a
// trust-validated credential. The engine never caches or synthesizes this
// judgment; returning an error aborts the handshake with an
// authentication-class failure.
type CredentialResolver interface {
	Resolve(id IDCred) (*Credential, error)
}

// checkOrFetch validates a received ID_CRED against an expected credential,
// if one is pinned. With no pinned credential the peer must transport its
// credential by value, which is then trusted on first use after syntactic
// validation.
func checkOrFetch(expected *Credential, id IDCred) (*Credential, error) {
	if expected != nil {
		var match bool
		if id.Value != nil {
			match = bytes.Equal(id.Value, expected.Bytes)
		} else {
			match = bytes.Equal(id.KID, expected.KID)
		}
		if !match {
			return nil, UnknownCredentialError{KID: id.KID}
		}
		return expected, nil
	}
	if id.Value == nil {
		return nil, UnknownCredentialError{KID: id.KID}
	}
	return ParseCredential(id.Value)
}

// StaticResolver resolves every reference against a single pinned peer
// credential.
type StaticResolver struct{ Cred *Credential }

// Resolve implements CredentialResolver.
func (r StaticResolver) Resolve(id IDCred) (*Credential, error) {
	return checkOrFetch(r.Cred, id)
}

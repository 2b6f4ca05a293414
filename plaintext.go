// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"fmt"

	"github.com/lake-edhoc/go-edhoc/cbor"
)

// Message plaintexts, RFC 9528 §5.3-5.5:
//
//	PLAINTEXT_2 = ( C_R, ID_CRED_R, Signature_or_MAC_2: bstr, ?EAD_2 )
//	PLAINTEXT_3 = ( ID_CRED_I, Signature_or_MAC_3: bstr, ?EAD_3 )
//	PLAINTEXT_4 = ( ?EAD_4 )
//
// ID_CRED_X uses the compact form: a credential transported by reference is
// its one-byte kid as a CBOR int, and one transported by value is the full
// credential wrapped in a byte string.

// encodeIDCred appends the compact ID_CRED form for the sender's own
// credential.
func encodeIDCred(e *cbor.Encoder, cred *Credential, transfer CredentialTransfer) error {
	if transfer == ByValue {
		e.Bytes(cred.Bytes)
		return e.Err()
	}
	v, ok := ConnID(cred.KID).compactInt()
	if !ok {
		return fmt.Errorf("edhoc: credential kid %x not usable by reference", cred.KID)
	}
	e.Int(v)
	return e.Err()
}

// decodeIDCred reads the compact ID_CRED form. An int is a one-byte kid; a
// byte string longer than one byte is a full credential by value.
func decodeIDCred(d *cbor.Decoder) (IDCred, error) {
	ib, err := d.Peek()
	if err != nil {
		return IDCred{}, err
	}
	switch cbor.MajorType(ib) {
	case cbor.MajorUnsignedInt, cbor.MajorNegativeInt:
		v, err := d.Int()
		if err != nil {
			return IDCred{}, err
		}
		switch {
		case v >= 0 && v <= 0x17:
			return IDCred{KID: []byte{byte(v)}}, nil
		case v >= -24 && v < 0:
			return IDCred{KID: []byte{0x20 + byte(-1-v)}}, nil
		}
		return IDCred{}, fmt.Errorf("%w: ID_CRED kid integer %d out of range", cbor.ErrDecode, v)
	case cbor.MajorByteString:
		b, err := d.Bytes()
		if err != nil {
			return IDCred{}, err
		}
		if len(b) <= 1 {
			return IDCred{}, fmt.Errorf("%w: one-byte kid must use integer form", cbor.ErrNonCanonical)
		}
		return IDCred{Value: append([]byte(nil), b...)}, nil
	}
	return IDCred{}, fmt.Errorf("%w: ID_CRED", cbor.ErrWrongType)
}

func encodePlaintext2(cR ConnID, cred *Credential, transfer CredentialTransfer, sigOrMAC []byte, eadRaw []byte, out *MessageBuffer) error {
	out.Reset()
	e := cbor.NewEncoder(out.content[:0])
	cR.encodeTo(e)
	if err := encodeIDCred(e, cred, transfer); err != nil {
		return err
	}
	e.Bytes(sigOrMAC)
	e.Raw(eadRaw)
	b, err := e.Final()
	if err != nil {
		return err
	}
	out.setLen(len(b))
	return nil
}

type plaintext2 struct {
	cR       ConnID
	idCred   IDCred
	sigOrMAC []byte
	ead      []EADItem
	eadRaw   []byte
}

func decodePlaintext2(data []byte) (*plaintext2, error) {
	d := cbor.NewDecoder(data)
	var p plaintext2
	var err error

	if p.cR, err = decodeConnID(d); err != nil {
		return nil, DecodeError{fmt.Errorf("C_R: %w", err)}
	}
	if p.idCred, err = decodeIDCred(d); err != nil {
		return nil, DecodeError{fmt.Errorf("ID_CRED_R: %w", err)}
	}
	if p.sigOrMAC, err = d.Bytes(); err != nil {
		return nil, DecodeError{fmt.Errorf("Signature_or_MAC_2: %w", err)}
	}
	p.eadRaw = append([]byte(nil), d.Rest()...)
	if p.ead, err = decodeEAD(cbor.NewDecoder(p.eadRaw)); err != nil {
		return nil, DecodeError{fmt.Errorf("EAD_2: %w", err)}
	}
	return &p, nil
}

func encodePlaintext3(cred *Credential, transfer CredentialTransfer, sigOrMAC []byte, eadRaw []byte, out *MessageBuffer) error {
	out.Reset()
	e := cbor.NewEncoder(out.content[:0])
	if err := encodeIDCred(e, cred, transfer); err != nil {
		return err
	}
	e.Bytes(sigOrMAC)
	e.Raw(eadRaw)
	b, err := e.Final()
	if err != nil {
		return err
	}
	out.setLen(len(b))
	return nil
}

type plaintext3 struct {
	idCred   IDCred
	sigOrMAC []byte
	ead      []EADItem
	eadRaw   []byte
}

func decodePlaintext3(data []byte) (*plaintext3, error) {
	d := cbor.NewDecoder(data)
	var p plaintext3
	var err error

	if p.idCred, err = decodeIDCred(d); err != nil {
		return nil, DecodeError{fmt.Errorf("ID_CRED_I: %w", err)}
	}
	if p.sigOrMAC, err = d.Bytes(); err != nil {
		return nil, DecodeError{fmt.Errorf("Signature_or_MAC_3: %w", err)}
	}
	p.eadRaw = append([]byte(nil), d.Rest()...)
	if p.ead, err = decodeEAD(cbor.NewDecoder(p.eadRaw)); err != nil {
		return nil, DecodeError{fmt.Errorf("EAD_3: %w", err)}
	}
	return &p, nil
}

func decodePlaintext4(data []byte) ([]EADItem, error) {
	items, err := decodeEAD(cbor.NewDecoder(data))
	if err != nil {
		return nil, DecodeError{fmt.Errorf("EAD_4: %w", err)}
	}
	return items, nil
}

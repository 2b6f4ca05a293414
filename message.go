// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"fmt"

	"github.com/lake-edhoc/go-edhoc/cbor"
	"github.com/lake-edhoc/go-edhoc/suite"
)

// Handshake message wire formats, RFC 9528 §5:
//
//	message_1 = ( METHOD: int, SUITES_I: suites, G_X: bstr, C_I: bstr/int, ?EAD_1 )
//	message_2 = ( G_Y_CIPHERTEXT_2: bstr )
//	message_3 = ( CIPHERTEXT_3: bstr )
//	message_4 = ( CIPHERTEXT_4: bstr )
//	error     = ( ERR_CODE: int, ?ERR_INFO )
//
// Every message is a CBOR sequence with deterministic encoding; the byte
// layout is a frozen external contract and the transcript hash depends on
// reproducing it exactly.

type message1 struct {
	method Method
	suites []suite.ID // ordered by preference, selected suite last
	gX     []byte
	cI     ConnID
	ead    []EADItem
}

func encodeMessage1(m *message1, out *MessageBuffer) error {
	out.Reset()
	e := cbor.NewEncoder(out.content[:0])
	e.Int(int64(m.method))
	switch {
	case len(m.suites) == 1:
		e.Int(int64(m.suites[0]))
	default:
		e.Array(len(m.suites))
		for _, id := range m.suites {
			e.Int(int64(id))
		}
	}
	e.Bytes(m.gX)
	m.cI.encodeTo(e)
	if err := encodeEAD(e, m.ead); err != nil {
		return err
	}
	b, err := e.Final()
	if err != nil {
		return err
	}
	out.setLen(len(b))
	return nil
}

// decodeSuites reads SUITES_I: a single int, or an array of at least two
// ints with the selected suite last.
func decodeSuites(d *cbor.Decoder) ([]suite.ID, error) {
	ib, err := d.Peek()
	if err != nil {
		return nil, err
	}
	if cbor.MajorType(ib) != cbor.MajorArray {
		v, err := d.Int()
		if err != nil {
			return nil, err
		}
		return []suite.ID{suite.ID(v)}, nil
	}
	n, err := d.Array()
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: SUITES_I array must have at least 2 entries", cbor.ErrNonCanonical)
	}
	ids := make([]suite.ID, n)
	for i := range ids {
		v, err := d.Int()
		if err != nil {
			return nil, err
		}
		ids[i] = suite.ID(v)
	}
	return ids, nil
}

func decodeMessage1(data []byte) (*message1, error) {
	d := cbor.NewDecoder(data)
	var m message1

	method, err := d.Int()
	if err != nil {
		return nil, DecodeError{err}
	}
	m.method = Method(method)

	if m.suites, err = decodeSuites(d); err != nil {
		return nil, DecodeError{err}
	}

	gX, err := d.BytesSized(32)
	if err != nil {
		return nil, DecodeError{fmt.Errorf("G_X: %w", err)}
	}
	m.gX = append([]byte(nil), gX...)

	if m.cI, err = decodeConnID(d); err != nil {
		return nil, DecodeError{fmt.Errorf("C_I: %w", err)}
	}

	if m.ead, err = decodeEAD(d); err != nil {
		return nil, DecodeError{fmt.Errorf("EAD_1: %w", err)}
	}
	return &m, nil
}

// message 2/3/4 are each a single byte string; for message 2 it is the
// concatenation of G_Y and CIPHERTEXT_2.

func encodeBstrMessage(payload []byte, out *MessageBuffer) error {
	out.Reset()
	e := cbor.NewEncoder(out.content[:0])
	e.Bytes(payload)
	b, err := e.Final()
	if err != nil {
		return err
	}
	out.setLen(len(b))
	return nil
}

func decodeMessage2(data []byte) (gY, ciphertext []byte, err error) {
	d := cbor.NewDecoder(data)
	b, err := d.Bytes()
	if err != nil {
		return nil, nil, DecodeError{err}
	}
	if err := d.Finish(); err != nil {
		return nil, nil, DecodeError{err}
	}
	if len(b) <= 32 {
		return nil, nil, DecodeError{fmt.Errorf("message_2 of %d bytes is too short", len(b))}
	}
	gY = append([]byte(nil), b[:32]...)
	ciphertext = append([]byte(nil), b[32:]...)
	return gY, ciphertext, nil
}

func decodeBstrMessage(kind string, data []byte) ([]byte, error) {
	d := cbor.NewDecoder(data)
	b, err := d.Bytes()
	if err != nil {
		return nil, DecodeError{fmt.Errorf("%s: %w", kind, err)}
	}
	if err := d.Finish(); err != nil {
		return nil, DecodeError{fmt.Errorf("%s: %w", kind, err)}
	}
	if len(b) == 0 {
		return nil, DecodeError{fmt.Errorf("%s is empty", kind)}
	}
	return append([]byte(nil), b...), nil
}

// errorMessage is the EDHOC error message. It can replace any handshake
// message; the state machine checks for it whenever it awaits a message.
type errorMessage struct {
	code       int64
	diagnostic string     // ERR_CODE 1
	suites     []suite.ID // ERR_CODE 2
}

func encodeErrorMessage(m *errorMessage, out *MessageBuffer) error {
	out.Reset()
	e := cbor.NewEncoder(out.content[:0])
	e.Int(m.code)
	switch m.code {
	case ErrCodeUnspecified:
		e.Text(m.diagnostic)
	case ErrCodeWrongSelectedSuite:
		if len(m.suites) == 1 {
			e.Int(int64(m.suites[0]))
		} else {
			e.Array(len(m.suites))
			for _, id := range m.suites {
				e.Int(int64(id))
			}
		}
	}
	b, err := e.Final()
	if err != nil {
		return err
	}
	out.setLen(len(b))
	return nil
}

func decodeErrorMessage(data []byte) (*errorMessage, error) {
	d := cbor.NewDecoder(data)
	var m errorMessage

	code, err := d.Int()
	if err != nil {
		return nil, DecodeError{err}
	}
	m.code = code

	switch code {
	case ErrCodeUnspecified:
		if m.diagnostic, err = d.Text(); err != nil {
			return nil, DecodeError{fmt.Errorf("ERR_INFO: %w", err)}
		}
	case ErrCodeWrongSelectedSuite:
		if m.suites, err = decodeSuites(d); err != nil {
			return nil, DecodeError{fmt.Errorf("ERR_INFO: %w", err)}
		}
	default:
		// Unknown codes may carry any single ERR_INFO item.
		if d.More() {
			if err := d.Skip(); err != nil {
				return nil, DecodeError{err}
			}
		}
	}
	if err := d.Finish(); err != nil {
		return nil, DecodeError{err}
	}
	return &m, nil
}

// peerErrorIfAny detects an error message received in place of an expected
// handshake message. Messages 2-4 start with a byte string, message 1 with
// an int in 0..23, while an error message starts with a nonzero ERR_CODE
// int, so the leading major type and value distinguish them.
func peerErrorIfAny(data []byte) *PeerError {
	if len(data) == 0 {
		return nil
	}
	switch cbor.MajorType(data[0]) {
	case cbor.MajorUnsignedInt, cbor.MajorNegativeInt:
	default:
		return nil
	}
	m, err := decodeErrorMessage(data)
	if err != nil || m.code == ErrCodeSuccess {
		return nil
	}
	return &PeerError{Code: m.code, Diagnostic: m.diagnostic, Suites: m.suites}
}

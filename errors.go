// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"fmt"

	"github.com/lake-edhoc/go-edhoc/suite"
)

// EDHOC error codes carried in the error message.
const (
	ErrCodeSuccess            int64 = 0 // reserved, never sent
	ErrCodeUnspecified        int64 = 1
	ErrCodeWrongSelectedSuite int64 = 2
	ErrCodeUnknownCredential  int64 = 3
)

// AuthError is an authentication failure: a signature, MAC, or AEAD check
// did not verify. It deliberately does not record which check failed; the
// handshake treats them all as a fatal abort and the peer only ever learns
// the generic error code.
type AuthError struct{}

func (AuthError) Error() string { return "edhoc: authentication failed" }

// DecodeError is a wire-format failure: truncated, oversized, non-canonical,
// or structurally invalid message data.
type DecodeError struct{ Err error }

func (e DecodeError) Error() string { return "edhoc: decode: " + e.Err.Error() }
func (e DecodeError) Unwrap() error { return e.Err }

// SequenceError is a message received while the session state does not
// expect it.
type SequenceError struct {
	State string
	Event string
}

func (e SequenceError) Error() string {
	return fmt.Sprintf("edhoc: %s not valid in state %s", e.Event, e.State)
}

// EADError is an abort signaled by the external authorization data
// processor, including an unrecognized critical EAD item.
type EADError struct {
	Label int64
	Err   error
}

func (e EADError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("edhoc: critical EAD item %d not recognized", e.Label)
	}
	return "edhoc: EAD processing: " + e.Err.Error()
}

func (e EADError) Unwrap() error { return e.Err }

// PrimitiveError is an operational failure of the cryptographic backend. It
// is fatal for the session but, unlike the other kinds, produces no outgoing
// protocol error message since it reflects a local fault.
type PrimitiveError struct{ Err error }

func (e PrimitiveError) Error() string { return "edhoc: crypto backend: " + e.Err.Error() }
func (e PrimitiveError) Unwrap() error { return e.Err }

// PeerError is an EDHOC error message received from the peer in place of a
// handshake message.
type PeerError struct {
	Code       int64
	Diagnostic string     // code 1
	Suites     []suite.ID // code 2: the peer's supported suites
}

func (e PeerError) Error() string {
	switch e.Code {
	case ErrCodeWrongSelectedSuite:
		return fmt.Sprintf("edhoc: peer rejected cipher suite, supports %v", e.Suites)
	case ErrCodeUnspecified:
		return fmt.Sprintf("edhoc: peer error: %s", e.Diagnostic)
	}
	return fmt.Sprintf("edhoc: peer error code %d", e.Code)
}

// errorCode maps a local failure to the error code sent to the peer. The
// mapping never exposes which internal check failed beyond the standardized
// codes.
func errorCode(err error) int64 {
	switch err.(type) {
	case UnsupportedSuiteError:
		return ErrCodeWrongSelectedSuite
	case UnknownCredentialError:
		return ErrCodeUnknownCredential
	default:
		return ErrCodeUnspecified
	}
}

// UnsupportedSuiteError is a responder-side rejection of the cipher suite
// selected in message 1. The resulting error message carries the responder's
// supported suites so the initiator can retry with a new session.
type UnsupportedSuiteError struct {
	Selected  suite.ID
	Supported []suite.ID
}

func (e UnsupportedSuiteError) Error() string {
	return fmt.Sprintf("edhoc: %v not supported (supported: %v)", e.Selected, e.Supported)
}

// UnknownCredentialError is a failure to resolve the credential referenced
// by the peer's ID_CRED field.
type UnknownCredentialError struct{ KID []byte }

func (e UnknownCredentialError) Error() string {
	return fmt.Sprintf("edhoc: no credential for kid %x", e.KID)
}

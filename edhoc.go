// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// Package edhoc implements the EDHOC (Ephemeral Diffie-Hellman Over COSE)
// authenticated key exchange, RFC 9528, for constrained devices.
//
// The package provides the protocol engine only: the Initiator and Responder
// state machines, the wire codec for the four handshake messages and the
// error message, and the key schedule. Cryptographic primitives are supplied
// through the Crypto interface (see the stdcrypto package for the default
// software backend), credentials through a CredentialResolver, and external
// authorization data through an EADProcessor. Transport is out of scope: the
// engine consumes and produces opaque byte buffers, one per message.
//
// A handshake runs strictly sequentially:
//
//	initiator                          responder
//	msg1, _ := i.BuildMessage1()
//	                                   r.ProcessMessage1(msg1)
//	                                   msg2, _ := r.BuildMessage2()
//	i.ProcessMessage2(msg2)
//	msg3, _ := i.BuildMessage3()
//	                                   r.ProcessMessage3(msg3)
//	sess, _ := i.Session()             sess, _ := r.Session()
//
// Sessions are single-use: after completion or any failure the role object is
// terminal and a retry requires a new one with fresh ephemeral keys.
package edhoc

import "strconv"

// Method is an EDHOC authentication method. It selects, per role, whether
// authentication uses a signature or a static Diffie-Hellman key.
type Method int64

// Authentication methods
const (
	MethodSigSig   Method = 0 // initiator signature, responder signature
	MethodSigStat  Method = 1 // initiator signature, responder static DH
	MethodStatSig  Method = 2 // initiator static DH, responder signature
	MethodStatStat Method = 3 // initiator static DH, responder static DH
)

func (m Method) String() string { return "method " + strconv.FormatInt(int64(m), 10) }

// initiatorStatic reports whether the initiator authenticates with a static
// DH key rather than a signature.
func (m Method) initiatorStatic() bool { return m == MethodStatSig || m == MethodStatStat }

// responderStatic reports whether the responder authenticates with a static
// DH key rather than a signature.
func (m Method) responderStatic() bool { return m == MethodSigStat || m == MethodStatStat }

func (m Method) valid() bool { return m >= MethodSigSig && m <= MethodStatStat }

// CredentialTransfer selects how a party conveys its own credential to the
// peer: by kid reference, or by transmitting the full credential value.
type CredentialTransfer int

// Credential transfer modes
const (
	ByReference CredentialTransfer = iota
	ByValue
)

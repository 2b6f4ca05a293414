// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"errors"
	"sync"

	"github.com/lake-edhoc/go-edhoc/suite"
)

// Exporter labels registered for deriving an OSCORE security context.
const (
	ExporterOSCOREMasterSecret int64 = 0
	ExporterOSCOREMasterSalt   int64 = 1
)

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("edhoc: session closed")

// Session is the output of a completed handshake: the authenticated peer
// identity, both connection identifiers, and the exporter keyed by
// PRK_exporter. No handshake intermediates survive into a Session.
//
// Unlike the handshake state machines, a Session is safe for concurrent use.
type Session struct {
	s         suite.Suite
	c         Crypto
	initiator bool
	cI, cR    ConnID
	peer      *Credential

	mu          sync.Mutex
	prkOut      []byte // retained only to serve KeyUpdate
	prkExporter []byte
	closed      bool
}

func newSession(c Crypto, s suite.Suite, initiator bool, cI, cR ConnID, peer *Credential, prkOut []byte) (*Session, error) {
	prkExporter, err := edhocKDF(c, s, prkOut, labelPRKExporter, nil, s.Hash.Size())
	if err != nil {
		return nil, err
	}
	return &Session{
		s:           s,
		c:           c,
		initiator:   initiator,
		cI:          append(ConnID(nil), cI...),
		cR:          append(ConnID(nil), cR...),
		peer:        peer,
		prkOut:      append([]byte(nil), prkOut...),
		prkExporter: prkExporter,
	}, nil
}

// Export derives length bytes of application keying material bound to label
// and context. Derivations with distinct labels or contexts are independent;
// repeating a derivation is deterministic until KeyUpdate.
func (se *Session) Export(label int64, context []byte, length int) ([]byte, error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil, ErrSessionClosed
	}
	return edhocKDF(se.c, se.s, se.prkExporter, label, context, length)
}

// KeyUpdate irreversibly ratchets the session secrets forward, mixing in
// context. Earlier exporter outputs cannot be recomputed afterwards. Both
// parties must apply the same context to stay in sync.
func (se *Session) KeyUpdate(context []byte) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return ErrSessionClosed
	}
	next, err := edhocKDF(se.c, se.s, se.prkOut, labelKeyUpdate, context, se.s.Hash.Size())
	if err != nil {
		return err
	}
	exporter, err := edhocKDF(se.c, se.s, next, labelPRKExporter, nil, se.s.Hash.Size())
	if err != nil {
		zeroize(next)
		return err
	}
	zeroize(se.prkOut, se.prkExporter)
	se.prkOut = next
	se.prkExporter = exporter
	return nil
}

// OSCORESecuritySecret derives the OSCORE master secret for the suite's
// application AEAD.
func (se *Session) OSCORESecuritySecret() ([]byte, error) {
	return se.Export(ExporterOSCOREMasterSecret, nil, se.s.AppAEAD.KeySize())
}

// OSCORESecuritySalt derives the 8-byte OSCORE master salt.
func (se *Session) OSCORESecuritySalt() ([]byte, error) {
	return se.Export(ExporterOSCOREMasterSalt, nil, 8)
}

// PeerCredential returns the validated credential the peer authenticated
// with.
func (se *Session) PeerCredential() *Credential { return se.peer }

// Initiator reports which role this party played.
func (se *Session) Initiator() bool { return se.initiator }

// ConnIDs returns the initiator's and responder's connection identifiers.
func (se *Session) ConnIDs() (cI, cR ConnID) { return se.cI, se.cR }

// Suite returns the negotiated cipher suite.
func (se *Session) Suite() suite.Suite { return se.s }

// Close zeroizes the session secrets. Further Export and KeyUpdate calls
// fail with ErrSessionClosed.
func (se *Session) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil
	}
	zeroize(se.prkOut, se.prkExporter)
	se.prkOut, se.prkExporter = nil, nil
	se.closed = true
	return nil
}

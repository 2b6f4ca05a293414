// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lake-edhoc/go-edhoc/cbor"
	"github.com/lake-edhoc/go-edhoc/suite"
)

// state is the handshake state tag. Every transition is triggered by exactly
// one message built or consumed; a message inconsistent with the current
// state is a SequenceError, never a silent no-op.
type state int

const (
	stateStart state = iota

	// Initiator
	stateWaitM2
	stateProcessedM2
	stateWaitM4

	// Responder
	stateWaitM1
	stateProcessedM1
	stateWaitM3
	stateProcessedM3

	// Terminal
	stateCompleted
	stateErrored
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "Start"
	case stateWaitM2:
		return "WaitM2"
	case stateProcessedM2:
		return "ProcessedM2"
	case stateWaitM4:
		return "WaitM4"
	case stateWaitM1:
		return "WaitM1"
	case stateProcessedM1:
		return "ProcessedM1"
	case stateWaitM3:
		return "WaitM3"
	case stateProcessedM3:
		return "ProcessedM3"
	case stateCompleted:
		return "Completed"
	case stateErrored:
		return "Errored"
	}
	panic("state missing switch case(s)")
}

// Config holds everything fixed at session start. The zero value is not
// usable; at minimum Crypto, Cred, and AuthKey must be set.
type Config struct {
	// Method selects signature or static-DH authentication per role.
	Method Method

	// Suites is the ordered cipher suite preference list, most preferred
	// first. The initiator offers the whole list and selects the last entry;
	// the responder accepts any listed suite. Defaults to all registered
	// suites.
	Suites []suite.ID

	// Crypto supplies all cryptographic primitives.
	Crypto Crypto

	// Rand is the entropy source for ephemeral keys and identifiers.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Cred is this party's own credential; AuthKey is the matching private
	// key (signature key, or static DH scalar, depending on Method and
	// role).
	Cred    *Credential
	AuthKey []byte

	// PeerCred pins the expected peer credential. If nil and Resolver is
	// also nil, the peer must send its credential by value and it is
	// trusted on first use.
	PeerCred *Credential

	// Resolver, when set, overrides PeerCred and performs credential
	// resolution and trust validation.
	Resolver CredentialResolver

	// EAD processes external authorization data. When nil, incoming
	// critical items abort the handshake and no items are sent.
	EAD EADProcessor

	// ConnID is this party's connection identifier. Generated when nil.
	// Uniqueness across a party's live sessions is the application's
	// responsibility (see ConnIDRegistry).
	ConnID ConnID

	// Transfer selects how the own credential is conveyed.
	Transfer CredentialTransfer

	// Message4 requires explicit mutual confirmation via message 4. Fixed
	// at session start; never inferred from message content.
	Message4 bool
}

func (cfg *Config) validate() error {
	if !cfg.Method.valid() {
		return fmt.Errorf("edhoc: invalid method %d", cfg.Method)
	}
	if cfg.Crypto == nil {
		return errors.New("edhoc: Config.Crypto must be set")
	}
	if cfg.Cred == nil || cfg.Cred.PubKey == nil {
		return errors.New("edhoc: Config.Cred must be a parsed credential")
	}
	if len(cfg.AuthKey) == 0 {
		return errors.New("edhoc: Config.AuthKey must be set")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if len(cfg.Suites) == 0 {
		cfg.Suites = suite.Supported()
	}
	for _, id := range cfg.Suites {
		if _, ok := suite.Lookup(id); !ok {
			return fmt.Errorf("edhoc: %v not registered", id)
		}
	}
	if cfg.Transfer == ByReference {
		if _, ok := ConnID(cfg.Cred.KID).compactInt(); !ok {
			return fmt.Errorf("edhoc: credential kid %x not usable by reference", cfg.Cred.KID)
		}
	}
	return nil
}

func (cfg *Config) resolvePeer(id IDCred) (*Credential, error) {
	if cfg.Resolver != nil {
		return cfg.Resolver.Resolve(id)
	}
	return checkOrFetch(cfg.PeerCred, id)
}

// handshake is the state shared by both roles.
type handshake struct {
	cfg Config
	s   suite.Suite
	st  state

	privEph, pubEph []byte // this party's ephemeral key pair
	peerEph         []byte // peer's ephemeral public key
	cI, cR          ConnID

	hMessage1 []byte // H(message_1), exact transmitted bytes
	th        []byte // current transcript hash
	prk3e2m   []byte
	prk4e3m   []byte

	peer *Credential
	sess *Session

	errOut MessageBuffer
	errSet bool
}

// consumeEAD runs the processor over a received message's items, enforcing
// the base criticality rule when no processor is configured.
func (h *handshake) consumeEAD(msg int, items []EADItem) error {
	if h.cfg.EAD == nil {
		return RejectUnknownCritical(items, nil)
	}
	if err := h.cfg.EAD.Consume(msg, items); err != nil {
		var eadErr EADError
		if errors.As(err, &eadErr) {
			return err
		}
		return EADError{Err: err}
	}
	return nil
}

// produceEAD encodes the processor's outgoing items for a message.
func (h *handshake) produceEAD(msg int) ([]byte, error) {
	if h.cfg.EAD == nil {
		return nil, nil
	}
	items, err := h.cfg.EAD.Produce(msg)
	if err != nil {
		return nil, EADError{Err: err}
	}
	if len(items) == 0 {
		return nil, nil
	}
	var buf [MaxMessageLen]byte
	e := cbor.NewEncoder(buf[:0])
	if err := encodeEAD(e, items); err != nil {
		return nil, err
	}
	raw, err := e.Final()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

// fail moves the session to the terminal Errored state. For every failure
// kind except a local primitive fault or a received peer error, an outgoing
// protocol error message is composed and offered via ProtocolError. A stray
// call after completion is rejected without disturbing the delivered session.
func (h *handshake) fail(err error) error {
	from := h.st
	if from == stateCompleted {
		return err
	}
	h.st = stateErrored
	h.wipe()
	// Session secrets derived before the failure must not outlive it.
	if h.sess != nil {
		_ = h.sess.Close()
		h.sess = nil
	}

	var primitive PrimitiveError
	var peer PeerError
	if errors.As(err, &primitive) || errors.As(err, &peer) {
		return err
	}

	em := errorMessage{code: errorCode(err), diagnostic: diagnosticFor(err)}
	var unsupported UnsupportedSuiteError
	if errors.As(err, &unsupported) {
		em.suites = unsupported.Supported
	}
	if encodeErr := encodeErrorMessage(&em, &h.errOut); encodeErr == nil {
		h.errSet = true
	}
	slog.Debug("edhoc: session failed", "state", from.String(), "code", em.code)
	return err
}

// diagnosticFor maps a failure to the ERR_INFO diagnostic text. Only the
// failure class is exposed, never which internal check tripped.
func diagnosticFor(err error) string {
	switch {
	case errors.As(err, &AuthError{}):
		return "authentication failed"
	case errors.As(err, &DecodeError{}):
		return "malformed message"
	case errors.As(err, &EADError{}):
		return "authorization rejected"
	case errors.As(err, &SequenceError{}):
		return "unexpected message"
	}
	return "handshake aborted"
}

// wipe zeroizes all key material held by the handshake.
func (h *handshake) wipe() {
	zeroize(h.privEph, h.prk3e2m, h.prk4e3m)
	h.privEph, h.prk3e2m, h.prk4e3m = nil, nil, nil
}

// protocolError returns the encoded EDHOC error message to transmit after a
// failure, or nil when none applies (local primitive faults, received peer
// errors).
func (h *handshake) protocolError() []byte {
	if !h.errSet {
		return nil
	}
	return h.errOut.Bytes()
}

// completedSession returns the terminal session output.
func (h *handshake) completedSession() (*Session, error) {
	if h.st != stateCompleted || h.sess == nil {
		return nil, SequenceError{State: h.st.String(), Event: "session output"}
	}
	return h.sess, nil
}

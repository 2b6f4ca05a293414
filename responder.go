// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/lake-edhoc/go-edhoc/suite"
)

var errMethodMismatch = errors.New("method does not match configuration")

// Responder runs the responder side of a handshake: ProcessMessage1,
// BuildMessage2, ProcessMessage3, then BuildMessage4 when message 4 is
// configured. Any failure is terminal.
//
// A Responder must not be used from multiple goroutines concurrently.
type Responder struct {
	handshake

	out MessageBuffer
}

// NewResponder prepares a responder session. cfg.Suites lists the suites the
// responder accepts; the initiator's selection must be among them.
func NewResponder(cfg Config) (*Responder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Responder{handshake: handshake{cfg: cfg, st: stateWaitM1}}

	var err error
	if r.cR = cfg.ConnID; r.cR == nil {
		if r.cR, err = GenerateConnID(cfg.Rand); err != nil {
			return nil, PrimitiveError{err}
		}
	}
	return r, nil
}

// ProcessMessage1 consumes message 1 and fixes the cipher suite. The
// ephemeral key pair is generated only after the selected suite is known.
func (r *Responder) ProcessMessage1(data []byte) error {
	if r.st != stateWaitM1 {
		return r.fail(SequenceError{State: r.st.String(), Event: "message 1"})
	}

	m, err := decodeMessage1(data)
	if err != nil {
		// An aborted initiator may send an error message instead.
		if pe := peerErrorIfAny(data); pe != nil {
			return r.fail(*pe)
		}
		return r.fail(err)
	}
	if m.method != r.cfg.Method {
		return r.fail(DecodeError{Err: errMethodMismatch})
	}

	selected := m.suites[len(m.suites)-1]
	if !suiteAccepted(r.cfg.Suites, selected) {
		return r.fail(UnsupportedSuiteError{Selected: selected, Supported: r.cfg.Suites})
	}
	r.s, _ = suite.Lookup(selected)

	if r.privEph, r.pubEph, err = r.cfg.Crypto.GenerateKeyPair(r.cfg.Rand, r.s.Curve); err != nil {
		return r.fail(PrimitiveError{err})
	}

	if err := r.consumeEAD(1, m.ead); err != nil {
		return r.fail(err)
	}

	// TH_2 binds the hash of the exact received bytes.
	if r.hMessage1, err = r.cfg.Crypto.Hash(r.s.Hash, data); err != nil {
		return r.fail(PrimitiveError{err})
	}
	r.peerEph = m.gX
	r.cI = m.cI
	r.st = stateProcessedM1
	slog.Debug("edhoc: message 1 accepted", "c_i", r.cI, "suite", selected)
	return nil
}

func suiteAccepted(accepted []suite.ID, id suite.ID) bool {
	for _, a := range accepted {
		if a == id {
			return true
		}
	}
	return false
}

// BuildMessage2 composes message 2, authenticating this party. The returned
// slice is valid until the next call on the Responder.
func (r *Responder) BuildMessage2() ([]byte, error) {
	if r.st != stateProcessedM1 {
		return nil, r.fail(SequenceError{State: r.st.String(), Event: "build message 2"})
	}

	th2, err := computeTH2(r.cfg.Crypto, r.s, r.pubEph, r.hMessage1)
	if err != nil {
		return nil, r.fail(err)
	}

	gXY, err := r.cfg.Crypto.ECDH(r.s.Curve, r.privEph, r.peerEph)
	if err != nil {
		return nil, r.fail(PrimitiveError{err})
	}
	prk2e, err := edhocExtract(r.cfg.Crypto, r.s, th2, gXY)
	zeroize(gXY)
	if err != nil {
		return nil, r.fail(err)
	}
	defer zeroize(prk2e)

	if r.cfg.Method.responderStatic() {
		salt, err := edhocKDF(r.cfg.Crypto, r.s, prk2e, labelSalt3e2m, th2, r.s.Hash.Size())
		if err != nil {
			return nil, r.fail(err)
		}
		gRX, err := r.cfg.Crypto.ECDH(r.s.Curve, r.cfg.AuthKey, r.peerEph)
		if err != nil {
			zeroize(salt)
			return nil, r.fail(PrimitiveError{err})
		}
		r.prk3e2m, err = edhocExtract(r.cfg.Crypto, r.s, salt, gRX)
		zeroize(salt, gRX)
		if err != nil {
			return nil, r.fail(err)
		}
	} else {
		r.prk3e2m = append([]byte(nil), prk2e...)
	}

	eadRaw, err := r.produceEAD(2)
	if err != nil {
		return nil, r.fail(err)
	}
	sigOrMAC, err := r.computeSigOrMAC2(th2, eadRaw)
	if err != nil {
		return nil, r.fail(err)
	}

	var plaintext MessageBuffer
	if err := encodePlaintext2(r.cR, r.cfg.Cred, r.cfg.Transfer, sigOrMAC, eadRaw, &plaintext); err != nil {
		return nil, r.fail(err)
	}
	defer plaintext.Reset()

	keystream, err := edhocKDF(r.cfg.Crypto, r.s, prk2e, labelKeystream2, th2, plaintext.Len())
	if err != nil {
		return nil, r.fail(err)
	}

	payload := make([]byte, 0, len(r.pubEph)+plaintext.Len())
	payload = append(payload, r.pubEph...)
	payload = append(payload, plaintext.Bytes()...)
	xorKeystream(payload[len(r.pubEph):], keystream)
	zeroize(keystream)

	if err := encodeBstrMessage(payload, &r.out); err != nil {
		return nil, r.fail(err)
	}

	if r.th, err = appendTranscript(r.cfg.Crypto, r.s, th2, plaintext.Bytes(), r.cfg.Cred.Bytes); err != nil {
		return nil, r.fail(err)
	}

	r.st = stateWaitM3
	slog.Debug("edhoc: message 2 composed", "c_r", r.cR)
	return r.out.Bytes(), nil
}

func (r *Responder) computeSigOrMAC2(th2, eadRaw []byte) ([]byte, error) {
	idCred, err := r.cfg.Cred.idCredBytes()
	if err != nil {
		return nil, err
	}
	context, err := macContext(r.cR, idCred, th2, r.cfg.Cred.Bytes, eadRaw)
	if err != nil {
		return nil, err
	}
	static := r.cfg.Method.responderStatic()
	mac, err := edhocKDF(r.cfg.Crypto, r.s, r.prk3e2m, labelMAC2, context, macLength(r.s, static))
	if err != nil {
		return nil, err
	}
	if static {
		return mac, nil
	}
	structure, err := sigStructure(idCred, th2, r.cfg.Cred.Bytes, eadRaw, mac)
	if err != nil {
		return nil, err
	}
	sig, err := r.cfg.Crypto.Sign(r.s.Sig, r.cfg.AuthKey, structure)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return sig, nil
}

// ProcessMessage3 consumes message 3, authenticating the initiator and
// deriving the session secrets. Without message 4 the session completes
// here.
func (r *Responder) ProcessMessage3(data []byte) error {
	if r.st != stateWaitM3 {
		return r.fail(SequenceError{State: r.st.String(), Event: "message 3"})
	}
	if pe := peerErrorIfAny(data); pe != nil {
		return r.fail(*pe)
	}

	ciphertext, err := decodeBstrMessage("CIPHERTEXT_3", data)
	if err != nil {
		return r.fail(err)
	}
	plaintext, err := r.open3(ciphertext)
	if err != nil {
		return r.fail(err)
	}
	defer zeroize(plaintext)

	p, err := decodePlaintext3(plaintext)
	if err != nil {
		return r.fail(err)
	}

	peer, err := r.cfg.resolvePeer(p.idCred)
	if err != nil {
		return r.fail(err)
	}

	if r.cfg.Method.initiatorStatic() {
		salt, err := edhocKDF(r.cfg.Crypto, r.s, r.prk3e2m, labelSalt4e3m, r.th, r.s.Hash.Size())
		if err != nil {
			return r.fail(err)
		}
		gIY, err := r.cfg.Crypto.ECDH(r.s.Curve, r.privEph, peer.PubKey)
		if err != nil {
			zeroize(salt)
			return r.fail(PrimitiveError{err})
		}
		r.prk4e3m, err = edhocExtract(r.cfg.Crypto, r.s, salt, gIY)
		zeroize(salt, gIY)
		if err != nil {
			return r.fail(err)
		}
	} else {
		r.prk4e3m = append([]byte(nil), r.prk3e2m...)
	}

	if err := r.verifySigOrMAC3(p, peer); err != nil {
		return r.fail(err)
	}

	if r.th, err = appendTranscript(r.cfg.Crypto, r.s, r.th, plaintext, peer.Bytes); err != nil {
		return r.fail(err)
	}
	if err := r.consumeEAD(3, p.ead); err != nil {
		return r.fail(err)
	}

	prkOut, err := edhocKDF(r.cfg.Crypto, r.s, r.prk4e3m, labelPRKOut, r.th, r.s.Hash.Size())
	if err != nil {
		return r.fail(err)
	}
	r.sess, err = newSession(r.cfg.Crypto, r.s, false, r.cI, r.cR, peer, prkOut)
	zeroize(prkOut)
	if err != nil {
		return r.fail(err)
	}
	r.peer = peer

	if r.cfg.Message4 {
		r.st = stateProcessedM3
	} else {
		r.st = stateCompleted
		r.wipe()
	}
	slog.Debug("edhoc: initiator authenticated", "subject", peer.Subject, "confirmation", r.cfg.Message4)
	return nil
}

func (r *Responder) open3(ciphertext []byte) ([]byte, error) {
	key, err := edhocKDF(r.cfg.Crypto, r.s, r.prk3e2m, labelK3, r.th, r.s.AEAD.KeySize())
	if err != nil {
		return nil, err
	}
	defer zeroize(key)
	nonce, err := edhocKDF(r.cfg.Crypto, r.s, r.prk3e2m, labelIV3, r.th, r.s.AEAD.NonceSize())
	if err != nil {
		return nil, err
	}
	defer zeroize(nonce)
	aad, err := encStructure(r.th)
	if err != nil {
		return nil, err
	}
	return r.cfg.Crypto.Open(r.s.AEAD, key, nonce, aad, ciphertext)
}

func (r *Responder) verifySigOrMAC3(p *plaintext3, peer *Credential) error {
	idCred, err := peer.idCredBytes()
	if err != nil {
		return err
	}
	context, err := macContext(nil, idCred, r.th, peer.Bytes, p.eadRaw)
	if err != nil {
		return err
	}
	static := r.cfg.Method.initiatorStatic()
	mac, err := edhocKDF(r.cfg.Crypto, r.s, r.prk4e3m, labelMAC3, context, macLength(r.s, static))
	if err != nil {
		return err
	}
	if static {
		if subtle.ConstantTimeCompare(p.sigOrMAC, mac) != 1 {
			return AuthError{}
		}
		return nil
	}
	structure, err := sigStructure(idCred, r.th, peer.Bytes, p.eadRaw, mac)
	if err != nil {
		return err
	}
	verifyKey, err := peer.VerifyKey()
	if err != nil {
		return err
	}
	return r.cfg.Crypto.Verify(r.s.Sig, verifyKey, structure, p.sigOrMAC)
}

// BuildMessage4 composes the confirmation message. Only valid when the
// session was configured with Message4. The returned slice is valid until
// the next call on the Responder.
func (r *Responder) BuildMessage4() ([]byte, error) {
	if r.st != stateProcessedM3 {
		return nil, r.fail(SequenceError{State: r.st.String(), Event: "build message 4"})
	}

	eadRaw, err := r.produceEAD(4)
	if err != nil {
		return nil, r.fail(err)
	}

	key, err := edhocKDF(r.cfg.Crypto, r.s, r.prk4e3m, labelK4, r.th, r.s.AEAD.KeySize())
	if err != nil {
		return nil, r.fail(err)
	}
	nonce, err := edhocKDF(r.cfg.Crypto, r.s, r.prk4e3m, labelIV4, r.th, r.s.AEAD.NonceSize())
	if err != nil {
		zeroize(key)
		return nil, r.fail(err)
	}
	aad, err := encStructure(r.th)
	if err != nil {
		zeroize(key, nonce)
		return nil, r.fail(err)
	}
	ciphertext, err := r.cfg.Crypto.Seal(r.s.AEAD, key, nonce, aad, eadRaw)
	zeroize(key, nonce)
	if err != nil {
		return nil, r.fail(PrimitiveError{err})
	}
	if err := encodeBstrMessage(ciphertext, &r.out); err != nil {
		return nil, r.fail(err)
	}

	r.st = stateCompleted
	r.wipe()
	slog.Debug("edhoc: confirmation composed")
	return r.out.Bytes(), nil
}

// Session returns the session output once the handshake has completed.
func (r *Responder) Session() (*Session, error) { return r.completedSession() }

// ProtocolError returns the EDHOC error message to transmit after a failed
// call, or nil when none applies.
func (r *Responder) ProtocolError() []byte { return r.protocolError() }

// ConnID returns this party's connection identifier.
func (r *Responder) ConnID() ConnID { return r.cR }

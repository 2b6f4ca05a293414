// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"crypto/subtle"
	"log/slog"

	"github.com/lake-edhoc/go-edhoc/suite"
)

// Initiator runs the initiator side of a handshake. It is a single-session
// state machine driven strictly in order: BuildMessage1, ProcessMessage2,
// BuildMessage3, then ProcessMessage4 when message 4 is configured. Any
// failure is terminal; a new handshake needs a new Initiator.
//
// An Initiator must not be used from multiple goroutines concurrently.
type Initiator struct {
	handshake

	msg1 MessageBuffer // exact transmitted bytes, hashed into TH_2
	out  MessageBuffer
}

// NewInitiator prepares an initiator session. The selected cipher suite is
// the last entry of cfg.Suites; the full list is offered in message 1 so the
// responder can judge the selection against the initiator's true preference
// order.
func NewInitiator(cfg Config) (*Initiator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s, _ := suite.Lookup(cfg.Suites[len(cfg.Suites)-1])

	i := &Initiator{handshake: handshake{cfg: cfg, s: s, st: stateStart}}

	var err error
	i.privEph, i.pubEph, err = cfg.Crypto.GenerateKeyPair(cfg.Rand, s.Curve)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	if i.cI = cfg.ConnID; i.cI == nil {
		if i.cI, err = GenerateConnID(cfg.Rand); err != nil {
			return nil, PrimitiveError{err}
		}
	}
	return i, nil
}

// BuildMessage1 composes message 1. The returned slice aliases internal
// storage and is valid until the next call on the Initiator.
func (i *Initiator) BuildMessage1() ([]byte, error) {
	if i.st != stateStart {
		return nil, i.fail(SequenceError{State: i.st.String(), Event: "build message 1"})
	}

	eadItems, err := i.eadItems(1)
	if err != nil {
		return nil, i.fail(err)
	}
	m := message1{
		method: i.cfg.Method,
		suites: i.cfg.Suites,
		gX:     i.pubEph,
		cI:     i.cI,
		ead:    eadItems,
	}
	if err := encodeMessage1(&m, &i.msg1); err != nil {
		return nil, i.fail(err)
	}

	// TH_2 binds the hash of the exact transmitted bytes.
	if i.hMessage1, err = i.cfg.Crypto.Hash(i.s.Hash, i.msg1.Bytes()); err != nil {
		return nil, i.fail(PrimitiveError{err})
	}

	i.st = stateWaitM2
	slog.Debug("edhoc: message 1 composed", "c_i", i.cI, "suite", i.s.ID)
	return i.msg1.Bytes(), nil
}

func (i *Initiator) eadItems(msg int) ([]EADItem, error) {
	if i.cfg.EAD == nil {
		return nil, nil
	}
	items, err := i.cfg.EAD.Produce(msg)
	if err != nil {
		return nil, EADError{Err: err}
	}
	return items, nil
}

// ProcessMessage2 consumes message 2, authenticating the responder. On
// success the session advances so BuildMessage3 can run; on any failure the
// session is dead and ProtocolError may hold an error message to send.
func (i *Initiator) ProcessMessage2(data []byte) error {
	if i.st != stateWaitM2 {
		return i.fail(SequenceError{State: i.st.String(), Event: "message 2"})
	}
	if pe := peerErrorIfAny(data); pe != nil {
		return i.fail(*pe)
	}

	gY, ciphertext, err := decodeMessage2(data)
	if err != nil {
		return i.fail(err)
	}
	i.peerEph = gY

	th2, err := computeTH2(i.cfg.Crypto, i.s, gY, i.hMessage1)
	if err != nil {
		return i.fail(err)
	}

	gXY, err := i.cfg.Crypto.ECDH(i.s.Curve, i.privEph, gY)
	if err != nil {
		return i.fail(PrimitiveError{err})
	}
	prk2e, err := edhocExtract(i.cfg.Crypto, i.s, th2, gXY)
	zeroize(gXY)
	if err != nil {
		return i.fail(err)
	}
	defer zeroize(prk2e)

	keystream, err := edhocKDF(i.cfg.Crypto, i.s, prk2e, labelKeystream2, th2, len(ciphertext))
	if err != nil {
		return i.fail(err)
	}
	plaintext := append([]byte(nil), ciphertext...)
	xorKeystream(plaintext, keystream)
	zeroize(keystream)

	p, err := decodePlaintext2(plaintext)
	if err != nil {
		return i.fail(err)
	}

	peer, err := i.cfg.resolvePeer(p.idCred)
	if err != nil {
		return i.fail(err)
	}

	// PRK_3e2m: mixed with the responder's static key under static-DH
	// responder authentication, PRK_2e otherwise.
	if i.cfg.Method.responderStatic() {
		salt, err := edhocKDF(i.cfg.Crypto, i.s, prk2e, labelSalt3e2m, th2, i.s.Hash.Size())
		if err != nil {
			return i.fail(err)
		}
		gRX, err := i.cfg.Crypto.ECDH(i.s.Curve, i.privEph, peer.PubKey)
		if err != nil {
			zeroize(salt)
			return i.fail(PrimitiveError{err})
		}
		i.prk3e2m, err = edhocExtract(i.cfg.Crypto, i.s, salt, gRX)
		zeroize(salt, gRX)
		if err != nil {
			return i.fail(err)
		}
	} else {
		i.prk3e2m = append([]byte(nil), prk2e...)
	}

	if err := i.verifySigOrMAC2(p, th2, peer); err != nil {
		return i.fail(err)
	}

	// Transcript and EAD only after the responder is authenticated.
	if i.th, err = appendTranscript(i.cfg.Crypto, i.s, th2, plaintext, peer.Bytes); err != nil {
		return i.fail(err)
	}
	if err := i.consumeEAD(2, p.ead); err != nil {
		return i.fail(err)
	}

	i.peer = peer
	i.cR = p.cR
	i.st = stateProcessedM2
	slog.Debug("edhoc: responder authenticated", "c_r", i.cR, "subject", peer.Subject)
	return nil
}

func (i *Initiator) verifySigOrMAC2(p *plaintext2, th2 []byte, peer *Credential) error {
	idCred, err := peer.idCredBytes()
	if err != nil {
		return err
	}
	context, err := macContext(p.cR, idCred, th2, peer.Bytes, p.eadRaw)
	if err != nil {
		return err
	}
	static := i.cfg.Method.responderStatic()
	mac, err := edhocKDF(i.cfg.Crypto, i.s, i.prk3e2m, labelMAC2, context, macLength(i.s, static))
	if err != nil {
		return err
	}
	if static {
		if subtle.ConstantTimeCompare(p.sigOrMAC, mac) != 1 {
			return AuthError{}
		}
		return nil
	}
	structure, err := sigStructure(idCred, th2, peer.Bytes, p.eadRaw, mac)
	if err != nil {
		return err
	}
	verifyKey, err := peer.VerifyKey()
	if err != nil {
		return err
	}
	return i.cfg.Crypto.Verify(i.s.Sig, verifyKey, structure, p.sigOrMAC)
}

// BuildMessage3 composes message 3, authenticating this party, and derives
// the session secrets. Without message 4 the session completes here. The
// returned slice is valid until the next call on the Initiator.
func (i *Initiator) BuildMessage3() ([]byte, error) {
	if i.st != stateProcessedM2 {
		return nil, i.fail(SequenceError{State: i.st.String(), Event: "build message 3"})
	}

	eadRaw, err := i.produceEAD(3)
	if err != nil {
		return nil, i.fail(err)
	}

	// PRK_4e3m: mixed with this party's static key under static-DH
	// initiator authentication.
	if i.cfg.Method.initiatorStatic() {
		salt, err := edhocKDF(i.cfg.Crypto, i.s, i.prk3e2m, labelSalt4e3m, i.th, i.s.Hash.Size())
		if err != nil {
			return nil, i.fail(err)
		}
		gIY, err := i.cfg.Crypto.ECDH(i.s.Curve, i.cfg.AuthKey, i.peerEph)
		if err != nil {
			zeroize(salt)
			return nil, i.fail(PrimitiveError{err})
		}
		i.prk4e3m, err = edhocExtract(i.cfg.Crypto, i.s, salt, gIY)
		zeroize(salt, gIY)
		if err != nil {
			return nil, i.fail(err)
		}
	} else {
		i.prk4e3m = append([]byte(nil), i.prk3e2m...)
	}

	sigOrMAC, err := i.computeSigOrMAC3(eadRaw)
	if err != nil {
		return nil, i.fail(err)
	}

	var plaintext MessageBuffer
	if err := encodePlaintext3(i.cfg.Cred, i.cfg.Transfer, sigOrMAC, eadRaw, &plaintext); err != nil {
		return nil, i.fail(err)
	}
	defer plaintext.Reset()

	ciphertext, err := i.seal3(plaintext.Bytes())
	if err != nil {
		return nil, i.fail(err)
	}
	if err := encodeBstrMessage(ciphertext, &i.out); err != nil {
		return nil, i.fail(err)
	}

	if i.th, err = appendTranscript(i.cfg.Crypto, i.s, i.th, plaintext.Bytes(), i.cfg.Cred.Bytes); err != nil {
		return nil, i.fail(err)
	}
	if err := i.finalize(); err != nil {
		return nil, i.fail(err)
	}

	if i.cfg.Message4 {
		i.st = stateWaitM4
	} else {
		i.st = stateCompleted
		i.wipe()
	}
	slog.Debug("edhoc: message 3 composed", "confirmation", i.cfg.Message4)
	return i.out.Bytes(), nil
}

func (i *Initiator) computeSigOrMAC3(eadRaw []byte) ([]byte, error) {
	idCred, err := i.cfg.Cred.idCredBytes()
	if err != nil {
		return nil, err
	}
	context, err := macContext(nil, idCred, i.th, i.cfg.Cred.Bytes, eadRaw)
	if err != nil {
		return nil, err
	}
	static := i.cfg.Method.initiatorStatic()
	mac, err := edhocKDF(i.cfg.Crypto, i.s, i.prk4e3m, labelMAC3, context, macLength(i.s, static))
	if err != nil {
		return nil, err
	}
	if static {
		return mac, nil
	}
	structure, err := sigStructure(idCred, i.th, i.cfg.Cred.Bytes, eadRaw, mac)
	if err != nil {
		return nil, err
	}
	sig, err := i.cfg.Crypto.Sign(i.s.Sig, i.cfg.AuthKey, structure)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return sig, nil
}

func (i *Initiator) seal3(plaintext []byte) ([]byte, error) {
	key, err := edhocKDF(i.cfg.Crypto, i.s, i.prk3e2m, labelK3, i.th, i.s.AEAD.KeySize())
	if err != nil {
		return nil, err
	}
	defer zeroize(key)
	nonce, err := edhocKDF(i.cfg.Crypto, i.s, i.prk3e2m, labelIV3, i.th, i.s.AEAD.NonceSize())
	if err != nil {
		return nil, err
	}
	defer zeroize(nonce)
	aad, err := encStructure(i.th)
	if err != nil {
		return nil, err
	}
	ciphertext, err := i.cfg.Crypto.Seal(i.s.AEAD, key, nonce, aad, plaintext)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return ciphertext, nil
}

// finalize derives PRK_out and the exporter PRK from TH_4 and assembles the
// session output.
func (i *Initiator) finalize() error {
	prkOut, err := edhocKDF(i.cfg.Crypto, i.s, i.prk4e3m, labelPRKOut, i.th, i.s.Hash.Size())
	if err != nil {
		return err
	}
	i.sess, err = newSession(i.cfg.Crypto, i.s, true, i.cI, i.cR, i.peer, prkOut)
	zeroize(prkOut)
	return err
}

// ProcessMessage4 consumes the responder's confirmation message. Only valid
// when the session was configured with Message4.
func (i *Initiator) ProcessMessage4(data []byte) error {
	if i.st != stateWaitM4 {
		return i.fail(SequenceError{State: i.st.String(), Event: "message 4"})
	}
	if pe := peerErrorIfAny(data); pe != nil {
		return i.fail(*pe)
	}

	ciphertext, err := decodeBstrMessage("CIPHERTEXT_4", data)
	if err != nil {
		return i.fail(err)
	}
	plaintext, err := openWithKeys(i.cfg.Crypto, i.s, i.prk4e3m, i.th, ciphertext)
	if err != nil {
		return i.fail(err)
	}
	ead, err := decodePlaintext4(plaintext)
	if err != nil {
		return i.fail(err)
	}
	if err := i.consumeEAD(4, ead); err != nil {
		return i.fail(err)
	}

	i.st = stateCompleted
	i.wipe()
	slog.Debug("edhoc: confirmation received")
	return nil
}

// openWithKeys derives K_4/IV_4 from PRK_4e3m and TH_4 and opens
// CIPHERTEXT_4. Shared by both roles' message 4 paths.
func openWithKeys(c Crypto, s suite.Suite, prk4e3m, th4, ciphertext []byte) ([]byte, error) {
	key, err := edhocKDF(c, s, prk4e3m, labelK4, th4, s.AEAD.KeySize())
	if err != nil {
		return nil, err
	}
	defer zeroize(key)
	nonce, err := edhocKDF(c, s, prk4e3m, labelIV4, th4, s.AEAD.NonceSize())
	if err != nil {
		return nil, err
	}
	defer zeroize(nonce)
	aad, err := encStructure(th4)
	if err != nil {
		return nil, err
	}
	return c.Open(s.AEAD, key, nonce, aad, ciphertext)
}

// EphemeralSecret computes the ECDH secret between this session's ephemeral
// key and an external public key. Authorization protocols carried in EAD use
// it to bind their own keys to the session (see the authz package).
func (i *Initiator) EphemeralSecret(public []byte) ([]byte, error) {
	if i.privEph == nil {
		return nil, SequenceError{State: i.st.String(), Event: "ephemeral secret"}
	}
	secret, err := i.cfg.Crypto.ECDH(i.s.Curve, i.privEph, public)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return secret, nil
}

// Message1Hash returns H(message_1) once message 1 has been built.
func (i *Initiator) Message1Hash() []byte { return i.hMessage1 }

// Session returns the session output once the handshake has completed.
func (i *Initiator) Session() (*Session, error) { return i.completedSession() }

// ProtocolError returns the EDHOC error message to transmit after a failed
// call, or nil when none applies.
func (i *Initiator) ProtocolError() []byte { return i.protocolError() }

// ConnID returns this party's connection identifier.
func (i *Initiator) ConnID() ConnID { return i.cI }

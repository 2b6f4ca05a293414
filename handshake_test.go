// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lake-edhoc/go-edhoc/suite"
)

// chachaCrypto is a provider for the X25519 ChaCha20-Poly1305 suite only,
// kept small so white-box tests can drive the state machine directly.
type chachaCrypto struct{}

var _ Crypto = chachaCrypto{}

func (chachaCrypto) GenerateKeyPair(rand io.Reader, crv suite.Curve) ([]byte, []byte, error) {
	if crv != suite.X25519 {
		return nil, nil, errors.New("test provider supports X25519 only")
	}
	key, err := ecdh.X25519().GenerateKey(rand)
	if err != nil {
		return nil, nil, err
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

func (chachaCrypto) ECDH(crv suite.Curve, private, peerPublic []byte) ([]byte, error) {
	key, err := ecdh.X25519().NewPrivateKey(private)
	if err != nil {
		return nil, err
	}
	pub, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	return key.ECDH(pub)
}

func (chachaCrypto) Hash(alg suite.HashAlg, data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (chachaCrypto) Extract(alg suite.HashAlg, salt, ikm []byte) ([]byte, error) {
	return hkdf.Extract(sha256.New, ikm, salt), nil
}

func (chachaCrypto) Expand(alg suite.HashAlg, prk, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (chachaCrypto) Seal(alg suite.AEADAlg, key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (chachaCrypto) Open(alg suite.AEADAlg, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, AuthError{}
	}
	return plaintext, nil
}

func (chachaCrypto) Sign(alg suite.SigAlg, private, message []byte) ([]byte, error) {
	return ed25519.Sign(ed25519.NewKeyFromSeed(private), message), nil
}

func (chachaCrypto) Verify(alg suite.SigAlg, public, message, signature []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(public), message, signature) {
		return AuthError{}
	}
	return nil
}

// chachaPair builds a static-DH pair over the ChaCha suite with pinned peer
// credentials.
func chachaPair(t *testing.T, message4 bool) (*Initiator, *Responder) {
	t.Helper()
	c := chachaCrypto{}

	iPriv, iPub, err := c.GenerateKeyPair(rand.Reader, suite.X25519)
	if err != nil {
		t.Fatal(err)
	}
	iCred, err := BuildCCS("device", []byte{0x2b}, CrvX25519, iPub, nil)
	if err != nil {
		t.Fatal(err)
	}
	rPriv, rPub, err := c.GenerateKeyPair(rand.Reader, suite.X25519)
	if err != nil {
		t.Fatal(err)
	}
	rCred, err := BuildCCS("gateway", []byte{0x0a}, CrvX25519, rPub, nil)
	if err != nil {
		t.Fatal(err)
	}

	init, err := NewInitiator(Config{
		Method: MethodStatStat, Suites: []suite.ID{suite.X25519ChaChaPoly}, Crypto: c,
		Cred: iCred, AuthKey: iPriv, PeerCred: rCred, Message4: message4,
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := NewResponder(Config{
		Method: MethodStatStat, Suites: []suite.ID{suite.X25519ChaChaPoly}, Crypto: c,
		Cred: rCred, AuthKey: rPriv, PeerCred: iCred, Message4: message4,
	})
	if err != nil {
		t.Fatal(err)
	}
	return init, resp
}

func TestFailureClosesDerivedSession(t *testing.T) {
	init, resp := chachaPair(t, true)

	msg1, err := init.BuildMessage1()
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.ProcessMessage1(msg1); err != nil {
		t.Fatal(err)
	}
	msg2, err := resp.BuildMessage2()
	if err != nil {
		t.Fatal(err)
	}
	if err := init.ProcessMessage2(msg2); err != nil {
		t.Fatal(err)
	}
	msg3, err := init.BuildMessage3()
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.ProcessMessage3(msg3); err != nil {
		t.Fatal(err)
	}
	msg4, err := resp.BuildMessage4()
	if err != nil {
		t.Fatal(err)
	}

	// Awaiting confirmation, the initiator already holds derived secrets.
	if init.sess == nil {
		t.Fatal("no session derived while awaiting confirmation")
	}
	sess := init.sess

	tampered := append([]byte(nil), msg4...)
	tampered[len(tampered)-1] ^= 0x01
	if err := init.ProcessMessage4(tampered); err == nil {
		t.Fatal("tampered confirmation must not verify")
	}

	if init.sess != nil {
		t.Error("aborted handshake retains its session")
	}
	if !sess.closed || sess.prkOut != nil || sess.prkExporter != nil {
		t.Error("derived session secrets survive the abort")
	}
}

func TestCompletedSessionSurvivesLateMisuse(t *testing.T) {
	init, resp := chachaPair(t, false)

	msg1, err := init.BuildMessage1()
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.ProcessMessage1(msg1); err != nil {
		t.Fatal(err)
	}
	msg2, err := resp.BuildMessage2()
	if err != nil {
		t.Fatal(err)
	}
	if err := init.ProcessMessage2(msg2); err != nil {
		t.Fatal(err)
	}
	msg3, err := init.BuildMessage3()
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.ProcessMessage3(msg3); err != nil {
		t.Fatal(err)
	}
	sess, err := init.Session()
	if err != nil {
		t.Fatal(err)
	}

	var seqErr SequenceError
	if err := init.ProcessMessage2(msg2); !errors.As(err, &seqErr) {
		t.Fatalf("expected SequenceError, got %v", err)
	}
	if _, err := sess.Export(1, nil, 16); err != nil {
		t.Fatalf("completed session must survive late misuse: %v", err)
	}
	if _, err := init.Session(); err != nil {
		t.Fatalf("session no longer retrievable: %v", err)
	}
}

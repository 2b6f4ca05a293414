// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"fmt"

	"github.com/lake-edhoc/go-edhoc/cbor"
	"github.com/lake-edhoc/go-edhoc/suite"
)

// EDHOC_KDF info labels, RFC 9528 §4.1.2.
const (
	labelKeystream2  int64 = 0
	labelSalt3e2m    int64 = 1
	labelMAC2        int64 = 2
	labelK3          int64 = 3
	labelIV3         int64 = 4
	labelSalt4e3m    int64 = 5
	labelMAC3        int64 = 6
	labelPRKOut      int64 = 7
	labelK4          int64 = 8
	labelIV4         int64 = 9
	labelPRKExporter int64 = 10
	labelKeyUpdate   int64 = 11
)

// maxKDFContextLen bounds the context field of an info structure. The
// largest context is a MAC context carrying a full credential by value plus
// EAD at their maximum sizes.
const maxKDFContextLen = 576

// edhocExtract computes EDHOC_Extract(salt, ikm) via the provider.
func edhocExtract(c Crypto, s suite.Suite, salt, ikm []byte) ([]byte, error) {
	out, err := c.Extract(s.Hash, salt, ikm)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return out, nil
}

// edhocKDF computes EDHOC_KDF(prk, label, context, length): HKDF-Expand with
// info = ( label: int, context: bstr, length: uint ) as a CBOR sequence.
func edhocKDF(c Crypto, s suite.Suite, prk []byte, label int64, context []byte, length int) ([]byte, error) {
	if len(context) > maxKDFContextLen {
		return nil, fmt.Errorf("edhoc: KDF context of %d bytes exceeds maximum", len(context))
	}
	var buf [maxKDFContextLen + 8]byte
	e := cbor.NewEncoder(buf[:0])
	e.Int(label)
	e.Bytes(context)
	e.Uint(uint64(length))
	info, err := e.Final()
	if err != nil {
		return nil, err
	}
	out, err := c.Expand(s.Hash, prk, info, length)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return out, nil
}

// computeTH2 computes TH_2 = H( G_Y, H(message_1) ), both as byte strings.
// hMessage1 is the hash of the exact transmitted message 1 bytes.
func computeTH2(c Crypto, s suite.Suite, gY, hMessage1 []byte) ([]byte, error) {
	var buf [128]byte
	e := cbor.NewEncoder(buf[:0])
	e.Bytes(gY)
	e.Bytes(hMessage1)
	seq, err := e.Final()
	if err != nil {
		return nil, err
	}
	th, err := c.Hash(s.Hash, seq)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return th, nil
}

// appendTranscript computes TH_n+1 = H( TH_n, PLAINTEXT_n, CRED_X ): the
// previous hash as a byte string followed by the raw plaintext and raw
// credential bytes. Transcripts are append-only and always computed before
// the derivation step that consumes them.
func appendTranscript(c Crypto, s suite.Suite, th, plaintext, cred []byte) ([]byte, error) {
	seq := make([]byte, 0, 2+len(th)+len(plaintext)+len(cred))
	e := cbor.NewEncoder(seq)
	e.Bytes(th)
	head, err := e.Final()
	if err != nil {
		return nil, err
	}
	head = append(head, plaintext...)
	head = append(head, cred...)
	next, err := c.Hash(s.Hash, head)
	if err != nil {
		return nil, PrimitiveError{err}
	}
	return next, nil
}

// macContext builds context_2 = << C_R, ID_CRED_R, TH_2, CRED_R, ?EAD_2 >>
// or context_3 = << ID_CRED_I, TH_3, CRED_I, ?EAD_3 >> (cR nil).
func macContext(cR ConnID, idCred, th, cred, eadRaw []byte) ([]byte, error) {
	var buf [maxKDFContextLen]byte
	e := cbor.NewEncoder(buf[:0])
	if cR != nil {
		cR.encodeTo(e)
	}
	e.Raw(idCred)
	e.Bytes(th)
	e.Raw(cred)
	e.Raw(eadRaw)
	ctx, err := e.Final()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), ctx...), nil
}

// macLength returns the Signature_or_MAC length for the authenticating
// party: the suite MAC length under static-DH authentication, the full hash
// length when the MAC is instead covered by a signature.
func macLength(s suite.Suite, static bool) int {
	if static {
		return s.MACLen
	}
	return s.Hash.Size()
}

// sigStructure builds the COSE Sign1 structure signed (or verified) when a
// party authenticates with a signature:
//
//	[ "Signature1", << ID_CRED_X >>, << TH, CRED_X, ?EAD >>, MAC ]
func sigStructure(idCred, th, cred, eadRaw, mac []byte) ([]byte, error) {
	aad := make([]byte, 0, 2+len(th)+len(cred)+len(eadRaw))
	e := cbor.NewEncoder(aad)
	e.Bytes(th)
	aadHead, err := e.Final()
	if err != nil {
		return nil, err
	}
	aadHead = append(aadHead, cred...)
	aadHead = append(aadHead, eadRaw...)

	out := make([]byte, 0, 32+len(idCred)+len(aadHead)+len(mac))
	e = cbor.NewEncoder(out)
	e.Array(4)
	e.Text("Signature1")
	e.Bytes(idCred)
	e.Bytes(aadHead)
	e.Bytes(mac)
	return e.Final()
}

// encStructure builds the AEAD external AAD for CIPHERTEXT_3 and
// CIPHERTEXT_4:
//
//	[ "Encrypt0", h'', TH ]
func encStructure(th []byte) ([]byte, error) {
	out := make([]byte, 0, 16+len(th))
	e := cbor.NewEncoder(out)
	e.Array(3)
	e.Text("Encrypt0")
	e.Bytes(nil)
	e.Bytes(th)
	return e.Final()
}

// xorKeystream XORs plaintext with the keystream in place.
func xorKeystream(dst, keystream []byte) {
	for i := range dst {
		dst[i] ^= keystream[i]
	}
}

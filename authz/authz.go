// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// Package authz implements the zero-touch device enrollment authorization
// exchange (draft-ietf-lake-authz) carried in EDHOC external authorization
// data.
//
// Three parties take part. The device (U) attaches an encrypted identity and
// the enrollment server's locator to EAD_1. The authenticator (V), the EDHOC
// responder, forwards the device's voucher request to the enrollment server
// (W) out of band and relays the returned voucher in EAD_2. The server
// decrypts the device identity, applies its authorization policy, and issues
// a voucher binding the device's ephemeral key to the authenticator's
// credential. Only U and W share keys; V never learns the device identity.
package authz

import (
	"bytes"
	"errors"
	"fmt"

	edhoc "github.com/lake-edhoc/go-edhoc"
	"github.com/lake-edhoc/go-edhoc/cbor"
	"github.com/lake-edhoc/go-edhoc/suite"
)

// Label is the EAD label for the zero-touch authorization exchange. Items
// are always critical: a party that cannot process them must abort.
const Label int64 = 1

// KDF info labels and output sizes for material derived from the U-W shared
// secret.
const (
	infoLabelK1      int64 = 0
	infoLabelIV1     int64 = 1
	infoLabelVoucher int64 = 2

	VoucherMACLen = 8
)

// encAlg protects ENC_ID and sizes K_1 and IV_1. Fixed independently of the
// EDHOC cipher suite.
const encAlg = suite.AesCcm16_64_128

var (
	ErrVoucherMismatch = errors.New("authz: voucher does not verify")
	ErrNotAuthorized   = errors.New("authz: device identity not in ACL")
	ErrMissingEAD      = errors.New("authz: required EAD item absent")
)

// prkFromSecret derives PRK = Extract(<empty>, G_XW).
func prkFromSecret(c edhoc.Crypto, secret []byte) ([]byte, error) {
	return c.Extract(suite.Sha256, nil, secret)
}

// kdf expands PRK with info = ( label, context: bstr, length: uint ).
func kdf(c edhoc.Crypto, prk []byte, label int64, context []byte, length int) ([]byte, error) {
	var buf [256]byte
	e := cbor.NewEncoder(buf[:0])
	e.Int(label)
	e.Bytes(context)
	e.Uint(uint64(length))
	info, err := e.Final()
	if err != nil {
		return nil, err
	}
	return c.Expand(suite.Sha256, prk, info, length)
}

// encStructure builds the ENC_ID external AAD, binding the suite selection:
// [ "Encrypt0", h'', << SS >> ].
func encStructure(ss suite.ID) ([]byte, error) {
	var ssBuf [16]byte
	e := cbor.NewEncoder(ssBuf[:0])
	e.Int(int64(ss))
	ssEnc, err := e.Final()
	if err != nil {
		return nil, err
	}
	var buf [32]byte
	e = cbor.NewEncoder(buf[:0])
	e.Array(3)
	e.Text("Encrypt0")
	e.Bytes(nil)
	e.Bytes(ssEnc)
	out, err := e.Final()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), out...), nil
}

// sealID encrypts (or, with open, decrypts) the device identity under keys
// derived from the U-W shared secret.
func sealID(c edhoc.Crypto, prk []byte, ss suite.ID, idU []byte) ([]byte, error) {
	key, iv, aad, err := idKeys(c, prk, ss)
	if err != nil {
		return nil, err
	}
	return c.Seal(encAlg, key, iv, aad, idU)
}

func openID(c edhoc.Crypto, prk []byte, ss suite.ID, encID []byte) ([]byte, error) {
	key, iv, aad, err := idKeys(c, prk, ss)
	if err != nil {
		return nil, err
	}
	return c.Open(encAlg, key, iv, aad, encID)
}

func idKeys(c edhoc.Crypto, prk []byte, ss suite.ID) (key, iv, aad []byte, err error) {
	if key, err = kdf(c, prk, infoLabelK1, nil, encAlg.KeySize()); err != nil {
		return nil, nil, nil, err
	}
	if iv, err = kdf(c, prk, infoLabelIV1, nil, encAlg.NonceSize()); err != nil {
		return nil, nil, nil, err
	}
	if aad, err = encStructure(ss); err != nil {
		return nil, nil, nil, err
	}
	return key, iv, aad, nil
}

// computeVoucher derives the voucher MAC over << H(message_1), CRED_V >>.
func computeVoucher(c edhoc.Crypto, prk, hMessage1, credV []byte) ([]byte, error) {
	context := make([]byte, 0, 2+len(hMessage1)+len(credV))
	e := cbor.NewEncoder(context)
	e.Bytes(hMessage1)
	head, err := e.Final()
	if err != nil {
		return nil, err
	}
	head = append(head, credV...)
	return kdf(c, prk, infoLabelVoucher, head, VoucherMACLen)
}

// voucherInfo is the EAD_1 value: << LOC_W: tstr, ENC_ID: bstr >>.
func encodeVoucherInfo(locW string, encID []byte) ([]byte, error) {
	out := make([]byte, 0, 4+len(locW)+len(encID))
	e := cbor.NewEncoder(out)
	e.Text(locW)
	e.Bytes(encID)
	return e.Final()
}

func decodeVoucherInfo(value []byte) (locW string, encID []byte, err error) {
	d := cbor.NewDecoder(value)
	if locW, err = d.Text(); err != nil {
		return "", nil, err
	}
	if encID, err = d.Bytes(); err != nil {
		return "", nil, err
	}
	if err = d.Finish(); err != nil {
		return "", nil, err
	}
	return locW, append([]byte(nil), encID...), nil
}

// Device is the enrolling party (U). It attaches its encrypted identity to
// EAD_1 and accepts the handshake only if EAD_2 carries a voucher proving
// that W authorized this authenticator.
//
// Device implements edhoc.EADProcessor for an initiator session. Before the
// handshake, PrepareEAD1 must run with the ECDH secret between the session's
// ephemeral key and G_W; after BuildMessage1, SetMessage1Hash supplies the
// hash the voucher is bound to.
type Device struct {
	crypto edhoc.Crypto
	idU    []byte
	gW     []byte
	locW   string

	prk       []byte
	ead1      []byte
	hMessage1 []byte
	credV     []byte
}

// NewDevice creates a device with its provisioned identity ID_U, the
// enrollment server public key G_W, and the server locator LOC_W.
func NewDevice(c edhoc.Crypto, idU, gW []byte, locW string) *Device {
	return &Device{
		crypto: c,
		idU:    append([]byte(nil), idU...),
		gW:     append([]byte(nil), gW...),
		locW:   locW,
	}
}

// GW returns the enrollment server public key, for deriving the ephemeral
// secret against it.
func (dev *Device) GW() []byte { return dev.gW }

// PrepareEAD1 derives the U-W keys from the ephemeral ECDH secret and
// composes the EAD_1 value for the selected suite.
func (dev *Device) PrepareEAD1(secret []byte, ss suite.ID) error {
	prk, err := prkFromSecret(dev.crypto, secret)
	if err != nil {
		return err
	}
	encID, err := sealID(dev.crypto, prk, ss, dev.idU)
	if err != nil {
		return err
	}
	value, err := encodeVoucherInfo(dev.locW, encID)
	if err != nil {
		return err
	}
	dev.prk = prk
	dev.ead1 = value
	return nil
}

// SetMessage1Hash records H(message_1) so the voucher in EAD_2 can be
// verified against it.
func (dev *Device) SetMessage1Hash(h []byte) {
	dev.hMessage1 = append([]byte(nil), h...)
}

// SetVoucherIssuer pins the credential CRED_V the voucher must cover. The
// enrollment flow uses the authenticator's own EDHOC credential.
func (dev *Device) SetVoucherIssuer(credV []byte) {
	dev.credV = append([]byte(nil), credV...)
}

// Produce implements edhoc.EADProcessor.
func (dev *Device) Produce(msg int) ([]edhoc.EADItem, error) {
	if msg != 1 {
		return nil, nil
	}
	if dev.ead1 == nil {
		return nil, fmt.Errorf("authz: PrepareEAD1 has not run")
	}
	return []edhoc.EADItem{{Label: Label, Critical: true, Value: dev.ead1}}, nil
}

// Consume implements edhoc.EADProcessor. The handshake fails unless EAD_2
// carries a voucher that verifies against the recorded message 1 hash and
// pinned CRED_V.
func (dev *Device) Consume(msg int, items []edhoc.EADItem) error {
	if msg != 2 {
		return edhoc.RejectUnknownCritical(items, nil)
	}
	item, ok := findItem(items, Label)
	if !ok {
		return ErrMissingEAD
	}
	if dev.hMessage1 == nil || dev.credV == nil {
		return fmt.Errorf("authz: message 1 hash or CRED_V not set")
	}
	expect, err := computeVoucher(dev.crypto, dev.prk, dev.hMessage1, dev.credV)
	if err != nil {
		return err
	}
	if !bytes.Equal(item.Value, expect) {
		return ErrVoucherMismatch
	}
	return edhoc.RejectUnknownCritical(items, func(l int64) bool { return l == Label })
}

func findItem(items []edhoc.EADItem, label int64) (edhoc.EADItem, bool) {
	for _, item := range items {
		if item.Label == label {
			return item, true
		}
	}
	return edhoc.EADItem{}, false
}

// Authenticator is the EDHOC responder (V). On EAD_1 it extracts the server
// locator, sends the voucher request through RequestVoucher, and relays the
// voucher back in EAD_2.
//
// Authenticator implements edhoc.EADProcessor for a responder session. The
// exact received message 1 bytes must be supplied with SetMessage1 before
// the responder processes it.
type Authenticator struct {
	// RequestVoucher delivers a voucher request to the enrollment server at
	// locW and returns its response. Typically an HTTP or CoAP POST.
	RequestVoucher func(locW string, request []byte) ([]byte, error)

	message1 []byte
	voucher  []byte
}

// SetMessage1 records the received message 1, which the voucher request
// carries verbatim.
func (a *Authenticator) SetMessage1(message1 []byte) {
	a.message1 = append([]byte(nil), message1...)
}

// Consume implements edhoc.EADProcessor.
func (a *Authenticator) Consume(msg int, items []edhoc.EADItem) error {
	if msg != 1 {
		return edhoc.RejectUnknownCritical(items, nil)
	}
	item, ok := findItem(items, Label)
	if !ok {
		// No enrollment requested; nothing to relay.
		return edhoc.RejectUnknownCritical(items, nil)
	}
	locW, _, err := decodeVoucherInfo(item.Value)
	if err != nil {
		return err
	}
	if a.message1 == nil {
		return fmt.Errorf("authz: message 1 not set")
	}
	if a.RequestVoucher == nil {
		return fmt.Errorf("authz: no voucher transport configured")
	}
	request, err := EncodeVoucherRequest(a.message1)
	if err != nil {
		return err
	}
	response, err := a.RequestVoucher(locW, request)
	if err != nil {
		return err
	}
	echoed, voucher, err := DecodeVoucherResponse(response)
	if err != nil {
		return err
	}
	if !bytes.Equal(echoed, a.message1) {
		return fmt.Errorf("authz: voucher response for a different message 1")
	}
	a.voucher = voucher
	return edhoc.RejectUnknownCritical(items, func(l int64) bool { return l == Label })
}

// Produce implements edhoc.EADProcessor.
func (a *Authenticator) Produce(msg int) ([]edhoc.EADItem, error) {
	if msg != 2 || a.voucher == nil {
		return nil, nil
	}
	return []edhoc.EADItem{{Label: Label, Critical: true, Value: a.voucher}}, nil
}

// EncodeVoucherRequest frames a voucher request: ( message_1: bstr ).
func EncodeVoucherRequest(message1 []byte) ([]byte, error) {
	out := make([]byte, 0, 4+len(message1))
	e := cbor.NewEncoder(out)
	e.Bytes(message1)
	return e.Final()
}

// DecodeVoucherRequest parses a voucher request.
func DecodeVoucherRequest(request []byte) (message1 []byte, err error) {
	d := cbor.NewDecoder(request)
	if message1, err = d.Bytes(); err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return append([]byte(nil), message1...), nil
}

// EncodeVoucherResponse frames a voucher response:
// ( message_1: bstr, voucher: bstr ).
func EncodeVoucherResponse(message1, voucher []byte) ([]byte, error) {
	out := make([]byte, 0, 8+len(message1)+len(voucher))
	e := cbor.NewEncoder(out)
	e.Bytes(message1)
	e.Bytes(voucher)
	return e.Final()
}

// DecodeVoucherResponse parses a voucher response.
func DecodeVoucherResponse(response []byte) (message1, voucher []byte, err error) {
	d := cbor.NewDecoder(response)
	if message1, err = d.Bytes(); err != nil {
		return nil, nil, err
	}
	message1 = append([]byte(nil), message1...)
	if voucher, err = d.Bytes(); err != nil {
		return nil, nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, nil, err
	}
	return message1, append([]byte(nil), voucher...), nil
}

// Server is the enrollment server (W). It holds the private key matching the
// G_W provisioned into devices, the credential CRED_V of each authenticator
// it vouches for, and an optional ACL of authorized device identities.
type Server struct {
	crypto edhoc.Crypto
	w      []byte // private key for G_W
	credV  []byte
	acl    [][]byte // authorized ID_U values; nil permits all
	curve  suite.Curve
}

// NewServer creates an enrollment server. A nil acl authorizes every device
// that proves knowledge of G_W.
func NewServer(c edhoc.Crypto, crv suite.Curve, w, credV []byte, acl [][]byte) *Server {
	srv := &Server{
		crypto: c,
		w:      append([]byte(nil), w...),
		credV:  append([]byte(nil), credV...),
		curve:  crv,
	}
	for _, id := range acl {
		srv.acl = append(srv.acl, append([]byte(nil), id...))
	}
	return srv
}

// HandleVoucherRequest authorizes a voucher request and issues the voucher.
// The device identity is decrypted with the key derived from G_X, checked
// against the ACL, and never echoed back.
func (srv *Server) HandleVoucherRequest(request []byte) ([]byte, error) {
	message1, err := DecodeVoucherRequest(request)
	if err != nil {
		return nil, err
	}
	gX, ss, item, err := parseMessage1(message1)
	if err != nil {
		return nil, err
	}
	_, encID, err := decodeVoucherInfo(item)
	if err != nil {
		return nil, err
	}

	secret, err := srv.crypto.ECDH(srv.curve, srv.w, gX)
	if err != nil {
		return nil, err
	}
	prk, err := prkFromSecret(srv.crypto, secret)
	if err != nil {
		return nil, err
	}
	idU, err := openID(srv.crypto, prk, ss, encID)
	if err != nil {
		return nil, err
	}
	if !srv.authorized(idU) {
		return nil, ErrNotAuthorized
	}

	hMessage1, err := srv.crypto.Hash(suite.Sha256, message1)
	if err != nil {
		return nil, err
	}
	voucher, err := computeVoucher(srv.crypto, prk, hMessage1, srv.credV)
	if err != nil {
		return nil, err
	}
	return EncodeVoucherResponse(message1, voucher)
}

func (srv *Server) authorized(idU []byte) bool {
	if srv.acl == nil {
		return true
	}
	for _, id := range srv.acl {
		if bytes.Equal(id, idU) {
			return true
		}
	}
	return false
}

// parseMessage1 extracts G_X, the selected suite, and the authz EAD_1 value
// from a raw message 1.
func parseMessage1(message1 []byte) (gX []byte, ss suite.ID, eadValue []byte, err error) {
	d := cbor.NewDecoder(message1)
	if _, err := d.Int(); err != nil { // METHOD
		return nil, 0, nil, err
	}
	ib, err := d.Peek()
	if err != nil {
		return nil, 0, nil, err
	}
	if cbor.MajorType(ib) == cbor.MajorArray {
		n, err := d.Array()
		if err != nil {
			return nil, 0, nil, err
		}
		var last int64
		for i := 0; i < n; i++ {
			if last, err = d.Int(); err != nil {
				return nil, 0, nil, err
			}
		}
		ss = suite.ID(last)
	} else {
		v, err := d.Int()
		if err != nil {
			return nil, 0, nil, err
		}
		ss = suite.ID(v)
	}
	x, err := d.BytesSized(32)
	if err != nil {
		return nil, 0, nil, err
	}
	gX = append([]byte(nil), x...)
	if err := d.Skip(); err != nil { // C_I
		return nil, 0, nil, err
	}
	for d.More() {
		label, err := d.Int()
		if err != nil {
			return nil, 0, nil, err
		}
		var value []byte
		if d.More() {
			ib, err := d.Peek()
			if err != nil {
				return nil, 0, nil, err
			}
			if cbor.MajorType(ib) == cbor.MajorByteString {
				if value, err = d.Bytes(); err != nil {
					return nil, 0, nil, err
				}
			}
		}
		if label == -Label || label == Label {
			return gX, ss, append([]byte(nil), value...), nil
		}
	}
	return nil, 0, nil, ErrMissingEAD
}

// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package stdcrypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// ccm implements the CCM mode of operation (RFC 3610) over a 128-bit block
// cipher, parameterized for the COSE AES-CCM-16-*-128 algorithms: 13-byte
// nonce, 2-byte length field, 8- or 16-byte tag.
type ccm struct {
	b        cipher.Block
	nonceLen int
	tagLen   int
}

var errCCMOpen = errors.New("stdcrypto: ccm authentication failed")

func newCCM(b cipher.Block, nonceLen, tagLen int) (cipher.AEAD, error) {
	if b.BlockSize() != 16 {
		return nil, fmt.Errorf("stdcrypto: ccm requires a 128-bit block cipher")
	}
	if nonceLen < 7 || nonceLen > 13 {
		return nil, fmt.Errorf("stdcrypto: ccm nonce length %d out of range", nonceLen)
	}
	if tagLen < 4 || tagLen > 16 || tagLen%2 != 0 {
		return nil, fmt.Errorf("stdcrypto: ccm tag length %d out of range", tagLen)
	}
	return &ccm{b: b, nonceLen: nonceLen, tagLen: tagLen}, nil
}

func (c *ccm) NonceSize() int { return c.nonceLen }
func (c *ccm) Overhead() int  { return c.tagLen }

// lenLen is the size of the message length field: L = 15 - nonceLen.
func (c *ccm) lenLen() int { return 15 - c.nonceLen }

func (c *ccm) maxLength() int {
	l := c.lenLen()
	if l >= 4 {
		return 1<<31 - 1
	}
	return 1<<(8*l) - 1
}

func (c *ccm) Seal(dst, nonce, plaintext, aad []byte) []byte {
	if len(nonce) != c.nonceLen {
		panic("stdcrypto: ccm nonce length mismatch")
	}
	if len(plaintext) > c.maxLength() {
		panic("stdcrypto: ccm message too long")
	}
	tag := c.mac(nonce, plaintext, aad)

	ret, out := sliceForAppend(dst, len(plaintext)+c.tagLen)
	c.ctrXOR(nonce, 1, out[:len(plaintext)], plaintext)

	// The tag is encrypted with counter block zero.
	var s0 [16]byte
	c.fillCounterBlock(&s0, nonce, 0)
	c.b.Encrypt(s0[:], s0[:])
	for i := 0; i < c.tagLen; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	return ret
}

func (c *ccm) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.nonceLen {
		return nil, errCCMOpen
	}
	if len(ciphertext) < c.tagLen || len(ciphertext)-c.tagLen > c.maxLength() {
		return nil, errCCMOpen
	}
	body := ciphertext[:len(ciphertext)-c.tagLen]
	recvTag := ciphertext[len(ciphertext)-c.tagLen:]

	ret, out := sliceForAppend(dst, len(body))
	c.ctrXOR(nonce, 1, out, body)

	tag := c.mac(nonce, out, aad)
	var s0 [16]byte
	c.fillCounterBlock(&s0, nonce, 0)
	c.b.Encrypt(s0[:], s0[:])
	for i := 0; i < c.tagLen; i++ {
		tag[i] ^= s0[i]
	}
	if subtle.ConstantTimeCompare(tag[:c.tagLen], recvTag) != 1 {
		clear(out)
		return nil, errCCMOpen
	}
	return ret, nil
}

// mac computes the CBC-MAC over B_0, the encoded additional data, and the
// padded message.
func (c *ccm) mac(nonce, plaintext, aad []byte) []byte {
	var b0 [16]byte
	// Flags: [reserved | Adata | M' = (tagLen-2)/2 | L' = lenLen-1]
	b0[0] = byte(c.lenLen() - 1)
	b0[0] |= byte((c.tagLen - 2) / 2 << 3)
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	copy(b0[1:], nonce)
	putUintN(b0[16-c.lenLen():], uint64(len(plaintext)))

	mac := newCBCMAC(c.b)
	mac.writeBlock(b0[:])

	if len(aad) > 0 {
		// Short-form length encoding; COSE AAD never reaches 2^16-2^8.
		var alen [2]byte
		binary.BigEndian.PutUint16(alen[:], uint16(len(aad)))
		mac.write(alen[:])
		mac.write(aad)
		mac.pad()
	}
	mac.write(plaintext)
	mac.pad()
	return mac.sum()
}

// ctrXOR XORs src into dst under the CTR keystream starting at counter.
func (c *ccm) ctrXOR(nonce []byte, counter uint64, dst, src []byte) {
	var block, keystream [16]byte
	for len(src) > 0 {
		c.fillCounterBlock(&block, nonce, counter)
		c.b.Encrypt(keystream[:], block[:])
		n := len(src)
		if n > 16 {
			n = 16
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ keystream[i]
		}
		dst, src = dst[n:], src[n:]
		counter++
	}
}

func (c *ccm) fillCounterBlock(block *[16]byte, nonce []byte, counter uint64) {
	clear(block[:])
	block[0] = byte(c.lenLen() - 1)
	copy(block[1:], nonce)
	putUintN(block[16-c.lenLen():], counter)
}

func putUintN(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// cbcMAC is a raw CBC-MAC accumulator with zero IV.
type cbcMAC struct {
	b   cipher.Block
	x   [16]byte
	buf [16]byte
	n   int
}

func newCBCMAC(b cipher.Block) *cbcMAC { return &cbcMAC{b: b} }

func (m *cbcMAC) writeBlock(p []byte) {
	for i := 0; i < 16; i++ {
		m.x[i] ^= p[i]
	}
	m.b.Encrypt(m.x[:], m.x[:])
}

func (m *cbcMAC) write(p []byte) {
	for len(p) > 0 {
		n := copy(m.buf[m.n:], p)
		m.n += n
		p = p[n:]
		if m.n == 16 {
			m.writeBlock(m.buf[:])
			m.n = 0
		}
	}
}

// pad zero-fills to a block boundary, per the CCM block formatting.
func (m *cbcMAC) pad() {
	if m.n == 0 {
		return
	}
	clear(m.buf[m.n:])
	m.writeBlock(m.buf[:])
	m.n = 0
}

func (m *cbcMAC) sum() []byte {
	out := make([]byte, 16)
	copy(out, m.x[:])
	return out
}

// sliceForAppend extends in by n bytes, reusing capacity when possible.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	total := len(in) + n
	if cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}

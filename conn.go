// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/lake-edhoc/go-edhoc/cbor"
)

// MaxConnIDLen is the maximum connection identifier length accepted on the
// wire.
const MaxConnIDLen = 24

// ConnID is a connection identifier: a short byte string chosen locally to
// name one party's view of a session. Identifiers of length one whose byte is
// a valid single-byte CBOR integer encoding use that compact integer form on
// the wire; all others are encoded as byte strings. The semantic value is
// always the raw bytes, regardless of which encoding the peer chose.
type ConnID []byte

// Equal reports whether two identifiers have the same semantic value.
func (c ConnID) Equal(o ConnID) bool { return bytes.Equal(c, o) }

func (c ConnID) String() string { return fmt.Sprintf("%x", []byte(c)) }

// compactInt returns the CBOR integer corresponding to a one-byte identifier,
// if it has one.
func (c ConnID) compactInt() (int64, bool) {
	if len(c) != 1 {
		return 0, false
	}
	b := c[0]
	switch {
	case b <= 0x17:
		return int64(b), true
	case b >= 0x20 && b <= 0x37:
		return -1 - int64(b-0x20), true
	}
	return 0, false
}

func (c ConnID) encodeTo(e *cbor.Encoder) {
	if v, ok := c.compactInt(); ok {
		e.Int(v)
		return
	}
	e.Bytes(c)
}

// decodeConnID reads a connection identifier in either wire form. A one-byte
// byte string whose content admits the integer form is rejected as
// non-canonical, so that re-encoding reproduces the received bytes exactly.
func decodeConnID(d *cbor.Decoder) (ConnID, error) {
	ib, err := d.Peek()
	if err != nil {
		return nil, err
	}
	switch cbor.MajorType(ib) {
	case cbor.MajorUnsignedInt, cbor.MajorNegativeInt:
		v, err := d.Int()
		if err != nil {
			return nil, err
		}
		switch {
		case v >= 0 && v <= 0x17:
			return ConnID{byte(v)}, nil
		case v >= -24 && v < 0:
			return ConnID{0x20 + byte(-1-v)}, nil
		}
		return nil, fmt.Errorf("%w: connection identifier integer %d out of range", cbor.ErrDecode, v)
	case cbor.MajorByteString:
		b, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		if len(b) > MaxConnIDLen {
			return nil, fmt.Errorf("%w: connection identifier of %d bytes", cbor.ErrTooLong, len(b))
		}
		if _, ok := ConnID(b).compactInt(); ok {
			return nil, fmt.Errorf("%w: connection identifier must use integer form", cbor.ErrNonCanonical)
		}
		id := make(ConnID, len(b))
		copy(id, b)
		return id, nil
	}
	return nil, fmt.Errorf("%w: connection identifier", cbor.ErrWrongType)
}

// GenerateConnID returns a fresh one-byte identifier in the compact integer
// range.
func GenerateConnID(rand io.Reader) (ConnID, error) {
	var b [1]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return nil, err
		}
		id := ConnID{b[0]}
		if _, ok := id.compactInt(); ok {
			return id, nil
		}
	}
}

// ConnIDRegistry tracks connection identifiers in use across concurrently
// active sessions of one party. The protocol core keeps no global state; an
// application that runs multiple sessions owns a registry and allocates
// through it so that no identifier is reused while live.
type ConnIDRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// Allocate generates an identifier not currently in use and marks it used.
func (r *ConnIDRegistry) Allocate(rand io.Reader) (ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == nil {
		r.used = make(map[string]struct{})
	}
	for i := 0; i < 4*(0x18+0x18); i++ {
		id, err := GenerateConnID(rand)
		if err != nil {
			return nil, err
		}
		if _, taken := r.used[string(id)]; !taken {
			r.used[string(id)] = struct{}{}
			return id, nil
		}
	}
	return nil, fmt.Errorf("edhoc: no free connection identifiers")
}

// Reserve marks an identifier as in use. It reports false if already taken.
func (r *ConnIDRegistry) Reserve(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == nil {
		r.used = make(map[string]struct{})
	}
	if _, taken := r.used[string(id)]; taken {
		return false
	}
	r.used[string(id)] = struct{}{}
	return true
}

// Release returns an identifier to the free pool once its session ends.
func (r *ConnIDRegistry) Release(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, string(id))
}

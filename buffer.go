// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import "errors"

// MaxMessageLen is the fixed capacity of a MessageBuffer. It bounds every
// handshake message, plaintext, and EAD value handled by the engine.
const MaxMessageLen = 256

// ErrBufferFull is returned when data does not fit a fixed-capacity buffer.
var ErrBufferFull = errors.New("edhoc: message buffer full")

// MessageBuffer is a fixed-capacity byte buffer used for messages and message
// plaintexts. It never allocates; overflow is reported as ErrBufferFull.
type MessageBuffer struct {
	content [MaxMessageLen]byte
	len     int
}

// Bytes returns the used portion of the buffer. The slice aliases the buffer.
func (b *MessageBuffer) Bytes() []byte { return b.content[:b.len] }

// Len returns the number of bytes in the buffer.
func (b *MessageBuffer) Len() int { return b.len }

// Reset zeroizes the buffer and empties it.
func (b *MessageBuffer) Reset() {
	clear(b.content[:])
	b.len = 0
}

// Set replaces the buffer contents with a copy of p.
func (b *MessageBuffer) Set(p []byte) error {
	if len(p) > MaxMessageLen {
		return ErrBufferFull
	}
	b.Reset()
	copy(b.content[:], p)
	b.len = len(p)
	return nil
}

// Append adds p to the end of the buffer.
func (b *MessageBuffer) Append(p []byte) error {
	if b.len+len(p) > MaxMessageLen {
		return ErrBufferFull
	}
	copy(b.content[b.len:], p)
	b.len += len(p)
	return nil
}

// setLen commits how much of the underlying array an encoder wrote.
func (b *MessageBuffer) setLen(n int) { b.len = n }

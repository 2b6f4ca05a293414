// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package edhoc

import (
	"fmt"

	"github.com/lake-edhoc/go-edhoc/cbor"
)

// MaxEADValueLen bounds a single EAD item value.
const MaxEADValueLen = 192

// EADItem is one external authorization data item attached to a handshake
// message. The label is always positive here; criticality is carried
// separately and encoded as a negative label on the wire. A nil Value means
// the item has no value field at all.
type EADItem struct {
	Label    int64
	Critical bool
	Value    []byte
}

// EADProcessor is the extension point for authorization protocols layered on
// the handshake (e.g. zero-touch enrollment). The state machine calls
// Produce exactly when it emits a message's EAD field and Consume exactly
// when it has parsed one; both happen only after the message is otherwise
// verified. Any error from either call aborts the handshake like an
// authentication failure.
//
// Consume must return an error for critical items it does not recognize;
// RejectUnknownCritical implements that base rule.
type EADProcessor interface {
	// Produce returns the items to attach to outgoing message msg (1-4), in
	// order. Returning nil attaches no EAD field.
	Produce(msg int) ([]EADItem, error)

	// Consume processes the items received with message msg (1-4), in wire
	// order. It is also called with an empty slice when the message carried
	// no EAD field, so processors can require items that did not arrive.
	Consume(msg int, items []EADItem) error
}

// RejectUnknownCritical returns an EADError for the first critical item
// whose label the known predicate does not accept. Non-critical unknown
// items are ignored, per the protocol's criticality rule.
func RejectUnknownCritical(items []EADItem, known func(label int64) bool) error {
	for _, item := range items {
		if item.Critical && (known == nil || !known(item.Label)) {
			return EADError{Label: item.Label}
		}
	}
	return nil
}

// encodeEAD appends the EAD item list to an encoder. Ordering is preserved.
func encodeEAD(e *cbor.Encoder, items []EADItem) error {
	for _, item := range items {
		if item.Label <= 0 {
			return fmt.Errorf("edhoc: EAD label must be positive, got %d", item.Label)
		}
		if len(item.Value) > MaxEADValueLen {
			return ErrBufferFull
		}
		if item.Critical {
			e.Int(-item.Label)
		} else {
			e.Int(item.Label)
		}
		if item.Value != nil {
			e.Bytes(item.Value)
		}
	}
	return e.Err()
}

// decodeEAD consumes EAD items until the end of input. Values are copied out
// of the wire buffer.
func decodeEAD(d *cbor.Decoder) ([]EADItem, error) {
	var items []EADItem
	for d.More() {
		label, err := d.Int()
		if err != nil {
			return nil, err
		}
		if label == 0 {
			return nil, fmt.Errorf("%w: EAD label 0 is reserved", cbor.ErrDecode)
		}
		item := EADItem{Label: label}
		if label < 0 {
			item.Label = -label
			item.Critical = true
		}
		if d.More() {
			ib, err := d.Peek()
			if err != nil {
				return nil, err
			}
			if cbor.MajorType(ib) == cbor.MajorByteString {
				v, err := d.Bytes()
				if err != nil {
					return nil, err
				}
				if len(v) > MaxEADValueLen {
					return nil, fmt.Errorf("%w: EAD value of %d bytes", cbor.ErrTooLong, len(v))
				}
				item.Value = append([]byte(nil), v...)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Package format provides the header shared by the binary files and
// messages this module writes.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'S' = 0x53)
//	type (1 byte, identifies the payload)
//	version (1 byte)
//	flags (1 byte)
//
// Type codes:
//
//	'p' = sample index query plan
//	'q' = residual query
const (
	Signature  = 'S'
	HeaderSize = 4

	TypePlan     = 'p'
	TypeResidual = 'q'

	// FlagZstd marks a payload compressed with zstd.
	FlagZstd = 0x01
	// FlagComplete marks a plan that needs no residual filtering.
	FlagComplete = 0x02
)

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
)

// Header is the common 4-byte header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// Has reports whether flag is set.
func (h Header) Has(flag byte) bool {
	return h.Flags&flag != 0
}

// Encode returns the header bytes.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Type, h.Version, h.Flags}
}

// Append appends the header to buf.
func (h Header) Append(buf []byte) []byte {
	b := h.Encode()
	return append(buf, b[:]...)
}

// Decode reads a header from the start of buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{Type: buf[1], Version: buf[2], Flags: buf[3]}, nil
}

// DecodeAndValidate reads a header and checks its type and version.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}

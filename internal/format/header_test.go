package format

import (
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Type: TypePlan, Version: 1, Flags: FlagZstd}
	buf := h.Append([]byte(nil))
	if len(buf) != HeaderSize || buf[0] != Signature {
		t.Fatalf("encoded header = %v", buf)
	}
	got, err := DecodeAndValidate(append(buf, 0xff), TypePlan, 1)
	if err != nil {
		t.Fatalf("DecodeAndValidate: %v", err)
	}
	if got != h {
		t.Errorf("decoded %+v, want %+v", got, h)
	}
	if !got.Has(FlagZstd) || got.Has(FlagComplete) {
		t.Errorf("flags = %08b", got.Flags)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := Header{Type: TypePlan, Version: 1}.Encode()
	tests := []struct {
		name    string
		buf     []byte
		typ     byte
		version byte
		want    error
	}{
		{"short", valid[:2], TypePlan, 1, ErrHeaderTooSmall},
		{"signature", []byte{'x', TypePlan, 1, 0}, TypePlan, 1, ErrSignatureMismatch},
		{"type", valid[:], TypeResidual, 1, ErrTypeMismatch},
		{"version", valid[:], TypePlan, 2, ErrVersionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeAndValidate(tt.buf, tt.typ, tt.version); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

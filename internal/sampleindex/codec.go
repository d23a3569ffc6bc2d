package sampleindex

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wychytu/opencga/internal/format"
)

// PlanVersion is the current version of the encoded plan.
const PlanVersion = 1

// compressAbove is the payload size from which EncodePlan compresses.
const compressAbove = 512

// ErrCorruptPlan is returned by DecodePlan when the payload after a valid
// header cannot be decompressed or decoded.
var ErrCorruptPlan = errors.New("corrupt plan")

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("zstd: init encoder: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// EncodePlan serialises plan for a scanner: a format header followed by
// the msgpack encoded plan, zstd compressed when large.
func EncodePlan(plan *SampleIndexQuery) ([]byte, error) {
	payload, err := msgpack.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	h := format.Header{Type: format.TypePlan, Version: PlanVersion}
	if plan.Complete {
		h.Flags |= format.FlagComplete
	}
	if len(payload) >= compressAbove {
		h.Flags |= format.FlagZstd
		return zstdEnc.EncodeAll(payload, h.Append(nil)), nil
	}
	return append(h.Append(make([]byte, 0, format.HeaderSize+len(payload))), payload...), nil
}

// DecodePlan reverses EncodePlan.
func DecodePlan(b []byte) (*SampleIndexQuery, error) {
	h, err := format.DecodeAndValidate(b, format.TypePlan, PlanVersion)
	if err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	payload := b[format.HeaderSize:]
	if h.Has(format.FlagZstd) {
		if payload, err = zstdDec.DecodeAll(payload, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPlan, err)
		}
	}
	var plan SampleIndexQuery
	if err := msgpack.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPlan, err)
	}
	if plan.Complete != h.Has(format.FlagComplete) {
		return nil, fmt.Errorf("%w: complete flag does not match payload", ErrCorruptPlan)
	}
	return &plan, nil
}

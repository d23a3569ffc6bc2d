// Package rangecode maps numeric predicates such as "QUAL>=30" onto the
// bucket codes stored by the sample index.
//
// A threshold list T splits the domain into len(T)+1 buckets: bucket 0
// holds values below T[0], bucket i holds [T[i-1], T[i]) and the last
// bucket holds values from T[len(T)-1] up. A predicate becomes a half-open
// code range [MinCodeInclusive, MaxCodeExclusive). The range is Exact when
// it selects whole buckets only, so that no value inside the selected
// buckets can fail the predicate.
package rangecode

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Delta separates values that compare as different.
	Delta = 0.0000001
	// Max is the upper bound of unbounded domains such as QUAL and DP.
	Max = 1000000000.0
)

// ErrUnknownOperator is returned for comparison operators with no range form.
var ErrUnknownOperator = errors.New("unknown range operator")

// RangeQuery is a predicate resolved to a continuous range and a code range.
type RangeQuery struct {
	Min              float64 `msgpack:"min"`
	Max              float64 `msgpack:"max"`
	MinCodeInclusive uint8   `msgpack:"minCode"`
	MaxCodeExclusive uint8   `msgpack:"maxCode"`
	Exact            bool    `msgpack:"exact"`
}

// Contains reports whether code falls inside the code range.
func (r RangeQuery) Contains(code uint8) bool {
	return code >= r.MinCodeInclusive && code < r.MaxCodeExclusive
}

func (r RangeQuery) String() string {
	return fmt.Sprintf("[%g, %g) codes [%d, %d) exact=%t",
		r.Min, r.Max, r.MinCodeInclusive, r.MaxCodeExclusive, r.Exact)
}

// New resolves "value op" over the domain [min, max] against thresholds,
// which must be sorted in ascending order.
func New(op string, value float64, thresholds []float64, min, max float64) (RangeQuery, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return RangeQuery{}, fmt.Errorf("invalid range value %v", value)
	}
	if op == "!=" {
		r := fromRange(min, max, thresholds, min, max)
		r.Exact = false
		return r, nil
	}
	lo, hi, err := Range(op, value, min, max)
	if err != nil {
		return RangeQuery{}, err
	}
	return fromRange(lo, hi, thresholds, min, max), nil
}

// Range returns the continuous sub range [lo, hi) of [min, max] that
// satisfies "value op".
func Range(op string, value, min, max float64) (lo, hi float64, err error) {
	switch op {
	case "<", "<<":
		return min, value, nil
	case "<=", "<<=":
		return min, value + Delta, nil
	case ">", ">>":
		return value + Delta, max, nil
	case ">=", ">>=":
		return value, max, nil
	case "=", "==":
		return value, value + Delta, nil
	default:
		return 0, 0, fmt.Errorf("%w %q", ErrUnknownOperator, op)
	}
}

func fromRange(lo, hi float64, thresholds []float64, min, max float64) RangeQuery {
	minCode := Code(lo, thresholds)
	maxCode := CodeExclusive(hi, thresholds)
	n := uint8(len(thresholds))

	var exact bool
	switch {
	case minCode == 0 && maxCode-1 == n:
		exact = Equal(lo, min) && Equal(hi, max)
	case minCode == 0:
		exact = Equal(hi, thresholds[maxCode-1]) && Equal(lo, min)
	case maxCode-1 == n:
		exact = Equal(lo, thresholds[minCode-1]) && Equal(hi, max)
	}
	return RangeQuery{
		Min:              lo,
		Max:              hi,
		MinCodeInclusive: minCode,
		MaxCodeExclusive: maxCode,
		Exact:            exact,
	}
}

// Code returns the bucket holding v.
func Code(v float64, thresholds []float64) uint8 {
	for i, t := range thresholds {
		if Less(v, t) {
			return uint8(i)
		}
	}
	return uint8(len(thresholds))
}

// CodeExclusive returns the first bucket after the one holding the
// exclusive upper bound v.
func CodeExclusive(v float64, thresholds []float64) uint8 {
	return 1 + Code(v-Delta, thresholds)
}

// Equal compares two values with a tolerance well below Delta.
func Equal(a, b float64) bool {
	return math.Abs(a-b) < Delta/10
}

// Less reports whether a is below b and not Equal to it.
func Less(a, b float64) bool {
	return a < b && !Equal(a, b)
}

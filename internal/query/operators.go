package query

import (
	"fmt"
	"strings"
)

// Value separators.
const (
	AndSeparator = ";"
	OrSeparator  = ","
	KeySeparator = ":"
	Not          = "!"
)

// Operation is the boolean combination of the values of one predicate.
type Operation uint8

const (
	OpNone Operation = iota // single value, no combination
	OpAnd
	OpOr
)

func (o Operation) String() string {
	switch o {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return ""
	}
}

// Separator returns the separator joining values under o. OpNone joins
// like AND, which is also how a single value behaves.
func (o Operation) Separator() string {
	if o == OpOr {
		return OrSeparator
	}
	return AndSeparator
}

// MarshalText renders o as "AND", "OR" or "".
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses "AND", "OR" or "".
func (o *Operation) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "AND":
		*o = OpAnd
	case "OR":
		*o = OpOr
	case "":
		*o = OpNone
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, string(b))
	}
	return nil
}

// IsNegated reports whether v is prefixed by "!".
func IsNegated(v string) bool {
	return strings.HasPrefix(v, Not)
}

// RemoveNegation strips a leading "!".
func RemoveNegation(v string) string {
	return strings.TrimPrefix(v, Not)
}

// CheckOperator determines how the values of v are combined.
func CheckOperator(v string) (Operation, error) {
	and := strings.Contains(v, AndSeparator)
	or := strings.Contains(v, OrSeparator)
	switch {
	case and && or:
		return OpNone, ErrMixedOperators
	case and:
		return OpAnd, nil
	case or:
		return OpOr, nil
	default:
		return OpNone, nil
	}
}

// SplitValue splits v by its operator. Blank values are dropped.
func SplitValue(v string) (Operation, []string, error) {
	op, err := CheckOperator(v)
	if err != nil {
		return OpNone, nil, err
	}
	return op, SplitValueOp(v, op), nil
}

// SplitValueOp splits v with the separator of op.
func SplitValueOp(v string, op Operation) []string {
	var parts []string
	if op == OpNone {
		parts = []string{v}
	} else {
		parts = strings.Split(v, op.Separator())
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// comparators ordered so that longer operators match first.
var comparators = []string{"<<=", ">>=", "<<", ">>", "<=", ">=", "!=", "==", "=~", "!~", "<", ">", "=", "~"}

// SplitOperator splits a comparison such as "DP>=10" or "1kG_phase3:ALL<0.01"
// into key, operator and value. A bare value ("30") gets the "=" operator
// and an empty key.
func SplitOperator(expr string) (key, op, value string, err error) {
	expr = strings.TrimSpace(expr)
	i := strings.IndexAny(expr, "=<>~!")
	if i < 0 {
		if expr == "" {
			return "", "", "", fmt.Errorf("%w: empty comparison", ErrMalformed)
		}
		return "", "=", expr, nil
	}
	rest := expr[i:]
	for _, c := range comparators {
		if strings.HasPrefix(rest, c) {
			value = strings.TrimSpace(rest[len(c):])
			if value == "" {
				return "", "", "", fmt.Errorf("%w: missing value in %q", ErrMalformed, expr)
			}
			return strings.TrimSpace(expr[:i]), c, value, nil
		}
	}
	return "", "", "", fmt.Errorf("%w in %q", ErrUnknownOperator, expr)
}

// KeyValue is one "key:value" entry of a multi-key predicate.
type KeyValue struct {
	Key   string
	Value string
}

// ParseKeyValues parses multi-key predicates such as GENOTYPE, INFO or
// FORMAT: "k1:v1,v2;k2:v3". A token containing ":" starts a new key; any
// other token continues the value of the previous key, keeping its
// separator. The separators between keys give the operation and must not mix.
func ParseKeyValues(p Param, s string) (Operation, []KeyValue, error) {
	var (
		op  Operation
		out []KeyValue
		sep string
	)
	seen := make(map[string]bool)
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ';' && s[i] != ',' {
			continue
		}
		token := strings.TrimSpace(s[start:i])
		if k, v, ok := strings.Cut(token, KeySeparator); ok {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k == "" || v == "" {
				return OpNone, nil, NewError(p, s, ErrMalformed, "expected key:value, got %q", token)
			}
			if seen[k] {
				return OpNone, nil, NewError(p, s, ErrMalformed, "key %q given twice", k)
			}
			seen[k] = true
			if len(out) > 0 {
				tokOp := OpAnd
				if sep == OrSeparator {
					tokOp = OpOr
				}
				if op != OpNone && op != tokOp {
					return OpNone, nil, NewError(p, s, ErrMixedOperators, "keys must be joined by only one of ';' or ','")
				}
				op = tokOp
			}
			out = append(out, KeyValue{Key: k, Value: v})
		} else {
			if len(out) == 0 || token == "" {
				return OpNone, nil, NewError(p, s, ErrMalformed, "expected key:value, got %q", token)
			}
			last := &out[len(out)-1]
			last.Value += sep + token
		}
		if i < len(s) {
			sep = s[i : i+1]
		}
		start = i + 1
	}
	if len(out) == 0 {
		return OpNone, nil, NewError(p, s, ErrMalformed, "empty value")
	}
	return op, out, nil
}

// JoinKeyValues is the inverse of ParseKeyValues.
func JoinKeyValues(op Operation, kvs []KeyValue) string {
	parts := make([]string, len(kvs))
	for i, kv := range kvs {
		parts[i] = kv.Key + KeySeparator + kv.Value
	}
	return strings.Join(parts, op.Separator())
}

// GenotypeFilter is the genotype list requested for one sample.
type GenotypeFilter struct {
	Sample    string
	Genotypes []string
}

// ParseGenotypes parses the GENOTYPE predicate. Genotypes of one sample are
// always separated by ",".
func ParseGenotypes(s string) (Operation, []GenotypeFilter, error) {
	op, kvs, err := ParseKeyValues(Genotype, s)
	if err != nil {
		return OpNone, nil, err
	}
	out := make([]GenotypeFilter, 0, len(kvs))
	for _, kv := range kvs {
		if strings.Contains(kv.Value, AndSeparator) {
			return OpNone, nil, NewError(Genotype, s, ErrMalformed,
				"genotypes of sample %q must be separated by ','", kv.Key)
		}
		out = append(out, GenotypeFilter{
			Sample:    kv.Key,
			Genotypes: SplitValueOp(kv.Value, OpOr),
		})
	}
	return op, out, nil
}

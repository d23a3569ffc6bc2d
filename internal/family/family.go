// Package family resolves trios inside a genotype query. When a child and
// its parents are all genotype-filtered under AND, the parents' filters are
// folded into the child's plan entry as parent genotype filters, and the
// parents are no longer scanned on their own.
package family

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/query"
)

// ErrInvariant reports a state the applicability check should have ruled
// out, such as an unindexed genotype inside an OR query.
var ErrInvariant = errors.New("sample index invariant violated")

// Parents names the father and mother of a sample. Empty means unknown or
// not part of the query.
type Parents struct {
	Father string
	Mother string
}

// Any reports whether at least one parent is set.
func (p Parents) Any() bool {
	return p.Father != "" || p.Mother != ""
}

// Has reports whether name is one of the parents.
func (p Parents) Has(name string) bool {
	return name != "" && (p.Father == name || p.Mother == name)
}

// HasNegatedGenotypeFilter reports whether any of gts is negated. Under OR
// every genotype must be indexable; otherwise an ErrInvariant error is
// returned.
func HasNegatedGenotypeFilter(op query.Operation, gts []string) (bool, error) {
	negated := false
	for _, gt := range gts {
		if op == query.OpOr && !genotype.IsValid(gt) {
			return false, fmt.Errorf("%w: genotype %q not in the sample index", ErrInvariant, gt)
		}
		negated = negated || query.IsNegated(gt)
	}
	return negated, nil
}

// FindChildren returns the samples of gts that act as children: their own
// filter is not negated and at least one of their parents is also
// genotype-filtered. The returned Parents only name parents present in
// gts. parents is not modified.
func FindChildren(gts map[string][]string, op query.Operation, parents map[string]Parents) (map[string]Parents, error) {
	children := make(map[string]Parents, len(parents))
	for child, p := range parents {
		negated, err := HasNegatedGenotypeFilter(op, gts[child])
		if err != nil {
			return nil, err
		}
		if negated {
			continue
		}
		if _, ok := gts[p.Father]; !ok {
			p.Father = ""
		}
		if _, ok := gts[p.Mother]; !ok {
			p.Mother = ""
		}
		if p.Any() {
			children[child] = p
		}
	}
	return children, nil
}

// ParentFilter marks the genotype codes accepted for a parent.
type ParentFilter [genotype.NumCodes]bool

// BuildParentFilter sets the code of every genotype in gts.
func BuildParentFilter(gts []string) ParentFilter {
	var f ParentFilter
	for _, gt := range gts {
		f[genotype.Encode(gt)] = true
	}
	return f
}

// FullyCovered reports whether the filter selects only codes that stand
// for a single genotype, so that the code test answers it exactly.
func (f ParentFilter) FullyCovered() bool {
	for c, set := range f {
		if set && genotype.IsAmbiguous(genotype.Code(c)) {
			return false
		}
	}
	return true
}

// Matches reports whether code c is accepted.
func (f ParentFilter) Matches(c genotype.Code) bool {
	return int(c) < len(f) && f[c]
}

// Codes returns the accepted codes in order.
func (f ParentFilter) Codes() []genotype.Code {
	var out []genotype.Code
	for c, set := range f {
		if set {
			out = append(out, genotype.Code(c))
		}
	}
	return out
}

func (f ParentFilter) String() string {
	codes := f.Codes()
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

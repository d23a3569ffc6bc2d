package sampleindex

import (
	"slices"

	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/query"
)

// indexable reports whether gt, a genotype or a genotype class, only
// selects genotypes with their own code. Classes other than NA expand to
// parseable genotypes.
func indexable(gt string) bool {
	if c, ok := genotype.ParseClass(gt); ok {
		return c != genotype.NA
	}
	return genotype.IsValid(gt)
}

// Valid reports whether the sample index can be used for q. Queries on
// variant ids or non-gene xrefs are rejected since the index is keyed by
// region. A GENOTYPE filter is usable under AND when at least one sample
// asks only for indexed, non-negated genotypes, and under OR when every
// sample does. A SAMPLE filter joined by OR cannot hold a negated sample.
func Valid(q query.Query) (bool, error) {
	if query.ParseXrefs(q).HasNonGeneXrefs() {
		return false, nil
	}
	if q.Has(query.Sample) && !q.Has(query.Genotype) {
		raw := q.Get(query.Sample)
		op, values, err := query.SplitValue(raw)
		if err != nil {
			return false, query.NewError(query.Sample, raw, err, "%v", err)
		}
		// A sample lacking the variant selects it, and the index only
		// lists the variants a sample has.
		if op == query.OpOr && slices.ContainsFunc(values, query.IsNegated) {
			return false, nil
		}
	}
	if q.Has(query.Genotype) {
		op, filters, err := query.ParseGenotypes(q.Get(query.Genotype))
		if err != nil {
			return false, err
		}
		anyValid, allValid := false, true
		for _, f := range filters {
			valid := true
			for _, gt := range f.Genotypes {
				valid = valid && indexable(gt)
			}
			anyValid = anyValid || valid
			allValid = allValid && valid
		}
		if op == query.OpAnd {
			return anyValid, nil
		}
		return allValid, nil
	}
	return q.HasNonNegated(query.Sample) ||
		q.HasNonNegated(query.MendelianError) ||
		q.HasNonNegated(query.DeNovo), nil
}

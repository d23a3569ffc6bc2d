package sampleindex

import (
	"github.com/wychytu/opencga/internal/query"
)

// selection is the predicate that picks the samples to scan. Exactly one
// applies to a query, in the order GENOTYPE, SAMPLE, mendelian error,
// de novo.
type selection interface {
	operation() query.Operation
}

type genotypeSelection struct {
	op      query.Operation
	raw     string
	filters []query.GenotypeFilter
}

type sampleSelection struct {
	op       query.Operation
	samples  []string
	excluded []string // samples given as "!S"
}

type mendelianErrorSelection struct {
	op      query.Operation
	samples []string
}

type deNovoSelection struct {
	op      query.Operation
	samples []string
}

func (s genotypeSelection) operation() query.Operation       { return s.op }
func (s sampleSelection) operation() query.Operation         { return s.op }
func (s mendelianErrorSelection) operation() query.Operation { return s.op }
func (s deNovoSelection) operation() query.Operation         { return s.op }

// selectionOf returns the selection of q, or nil when none applies.
func selectionOf(q query.Query) (selection, error) {
	switch {
	case q.Has(query.Genotype):
		raw := q.Get(query.Genotype)
		op, filters, err := query.ParseGenotypes(raw)
		if err != nil {
			return nil, err
		}
		return genotypeSelection{op: op, raw: raw, filters: filters}, nil
	case q.Has(query.Sample):
		op, values, err := splitParam(q, query.Sample)
		if err != nil {
			return nil, err
		}
		s := sampleSelection{op: op}
		for _, v := range values {
			if query.IsNegated(v) {
				s.excluded = append(s.excluded, query.RemoveNegation(v))
			} else {
				s.samples = append(s.samples, v)
			}
		}
		return s, nil
	case q.Has(query.MendelianError):
		op, values, err := splitParam(q, query.MendelianError)
		if err != nil {
			return nil, err
		}
		return mendelianErrorSelection{op: op, samples: values}, nil
	case q.Has(query.DeNovo):
		op, values, err := splitParam(q, query.DeNovo)
		if err != nil {
			return nil, err
		}
		return deNovoSelection{op: op, samples: values}, nil
	}
	return nil, nil
}

func splitParam(q query.Query, p query.Param) (query.Operation, []string, error) {
	op, values, err := query.SplitValue(q.Get(p))
	if err != nil {
		return query.OpNone, nil, query.NewError(p, q.Get(p), err, "%v", err)
	}
	return op, values, nil
}

// Package annotation builds the annotation part of a sample index query:
// the summary byte mask, the consequence type and biotype bitmasks, the
// clinical significance mask and the population frequency range queries.
package annotation

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/index/rangecode"
	"github.com/wychytu/opencga/internal/logging"
	"github.com/wychytu/opencga/internal/query"
)

// PopulationFrequencyQuery filters the frequency code of one population.
type PopulationFrequencyQuery struct {
	Study      string               `msgpack:"study"`
	Population string               `msgpack:"population"`
	Index      int                  `msgpack:"index"` // position in the configured population list
	Range      rangecode.RangeQuery `msgpack:"range"`
}

// SampleAnnotationIndexQuery is the annotation filter shared by every
// sample of a query.
type SampleAnnotationIndexQuery struct {
	// SummaryMask is {mask, value}: a variant matches when
	// summary&mask == value.
	SummaryMask    [2]byte                    `msgpack:"summary"`
	CTMask         uint16                     `msgpack:"ct"`
	BTMask         uint8                      `msgpack:"bt"`
	ClinicalMask   uint8                      `msgpack:"clinical"`
	PopFreqOp      query.Operation            `msgpack:"popFreqOp"`
	PopFreq        []PopulationFrequencyQuery `msgpack:"popFreq"`
	PopFreqPartial bool                       `msgpack:"popFreqPartial"`
}

// Matches reports whether a variant with the given summary byte passes
// the summary filter.
func (q SampleAnnotationIndexQuery) Matches(summary byte) bool {
	return summary&q.SummaryMask[0] == q.SummaryMask[1]
}

// Empty reports whether the query filters nothing.
func (q SampleAnnotationIndexQuery) Empty() bool {
	return q.SummaryMask[0] == 0 && q.CTMask == 0 && q.BTMask == 0 &&
		q.ClinicalMask == 0 && len(q.PopFreq) == 0
}

// Builder builds annotation index queries for a fixed configuration.
type Builder struct {
	populations []config.PopulationFrequencyRange
	logger      *slog.Logger
}

// NewBuilder creates a Builder. A nil logger discards output.
func NewBuilder(cfg config.SampleIndexConfiguration, logger *slog.Logger) *Builder {
	return &Builder{
		populations: cfg.Populations,
		logger:      logging.Default(logger).With("component", "annotation-index"),
	}
}

// Input is what Build reads.
type Input struct {
	// Residual is the query being planned. Build removes from it the
	// predicates the index fully answers, and only when Complete is set.
	Residual query.Query
	// Complete is set when every queried sample is fully indexed and no
	// other predicate forces a residual scan.
	Complete bool
	// HasRegion is set when the original query filtered by region.
	HasRegion bool
}

// Build encodes the annotation predicates of in.Residual.
func (b *Builder) Build(in Input) (SampleAnnotationIndexQuery, error) {
	q := in.Residual
	var (
		summary      byte
		ctMask       uint16
		btMask       uint8
		clinicalMask uint8
		intergenic   *bool
	)
	setIntergenic := func(v bool) { intergenic = &v }

	if !in.HasRegion {
		x := query.ParseXrefs(q)
		if len(x.Genes) > 0 && !x.HasNonGeneXrefs() {
			setIntergenic(false)
		}
	}

	combination := combinationOf(q)
	var ctCovered, btCovered bool

	if q.Has(query.ConsequenceType) {
		ctOp, terms, err := consequenceTypes(q)
		if err != nil {
			return SampleAnnotationIndexQuery{}, err
		}
		if !containsAny(terms, IntergenicVariant, RegulatoryRegionVariant, TFBindingSiteVariant) {
			setIntergenic(false)
		} else if len(terms) == 1 && terms[0] == IntergenicVariant {
			setIntergenic(true)
		}
		if ctOp == query.OpAnd {
			// The masks answer "any of"; a variant needing all the terms is
			// left to the residual filter.
			b.logger.Debug("consequence type AND filter not indexed", "value", q.Get(query.ConsequenceType))
		} else {
			var coveredBySummary, ctBtCoveredBySummary bool
			if LOFSet.ContainsAll(terms) {
				coveredBySummary = len(terms) == len(LOFSet)
				summary |= LOFMask
				if in.Complete && coveredBySummary && !q.Has(query.Gene) && combination.simple() {
					delete(q, query.ConsequenceType)
				}
			}
			if LOFExtendedSet.ContainsAll(terms) {
				proteinCodingOnly := q.Get(query.Biotype) == ProteinCoding
				coveredBySummary = len(terms) == len(LOFExtendedSet)
				summary |= LOFExtendedMask
				if coveredBySummary && in.Complete && !q.Has(query.Gene) {
					switch {
					case combination.simple():
						delete(q, query.ConsequenceType)
					case proteinCodingOnly && combination == BiotypeCT:
						delete(q, query.ConsequenceType)
						delete(q, query.Biotype)
						ctBtCoveredBySummary = true
					}
				}
				if proteinCodingOnly {
					summary |= LOFEProteinCodingMask
				}
			}
			if len(terms) == 1 && terms[0] == MissenseVariant {
				coveredBySummary = true
				summary |= MissenseMask
			}

			if !coveredBySummary || (!ctBtCoveredBySummary && combination.biotype()) {
				ctCovered = in.Complete
				for _, term := range terms {
					mask := CTMask(term)
					if mask == 0 {
						ctMask = 0
						ctCovered = false
						break
					}
					ctMask |= mask
					ctCovered = ctCovered && !IsImpreciseCT(mask)
				}
				if ctCovered && !q.Has(query.Gene) && combination.simple() {
					delete(q, query.ConsequenceType)
				}
			}
		}
	}

	if q.Has(query.Biotype) {
		setIntergenic(false)
		biotypes := q.List(query.Biotype)
		coveredBySummary := false
		if BiotypeSet.ContainsAll(biotypes) {
			coveredBySummary = len(biotypes) == len(BiotypeSet)
			summary |= ProteinCodingMask
			if in.Complete && coveredBySummary && !q.Has(query.Gene) && combination.simple() {
				delete(q, query.Biotype)
			}
		}
		if !coveredBySummary || combination.consequenceType() {
			btCovered = in.Complete
			for _, bt := range biotypes {
				mask := BTMask(bt)
				if mask == 0 {
					btMask = 0
					btCovered = false
					break
				}
				btMask |= mask
				btCovered = btCovered && !IsImpreciseBT(mask)
			}
			if btCovered && !q.Has(query.Gene) && combination.simple() {
				delete(q, query.Biotype)
			}
		}
	}
	if in.Complete && btCovered && ctCovered && !q.Has(query.Gene) && combination == BiotypeCT {
		delete(q, query.Biotype)
		delete(q, query.ConsequenceType)
	}

	if ps := q.Get(query.ProteinSubstitution); ps != "" && !strings.Contains(ps, "<<") && !strings.Contains(ps, ">>") {
		summary |= LOFExtendedMask
	}

	if q.Has(query.ClinicalSignificance) {
		summary |= ClinicalMask
		covered := true
		for _, c := range q.List(query.ClinicalSignificance) {
			switch c {
			case "likely_benign":
				clinicalMask |= ClinicalLikelyBenign
			case "VUS":
				clinicalMask |= ClinicalVUS
			case "likely_pathogenic":
				clinicalMask |= ClinicalLikelyPathogenic
			case "pathogenic":
				clinicalMask |= ClinicalPathogenic
			default:
				covered = false
			}
		}
		if in.Complete && covered {
			delete(q, query.ClinicalSignificance)
		}
		if !covered {
			b.logger.Debug("clinical significance not indexed", "value", q.Get(query.ClinicalSignificance))
			clinicalMask = 0
		}
	}

	pf, err := b.populationFrequency(q, in.Complete)
	if err != nil {
		return SampleAnnotationIndexQuery{}, err
	}
	summary |= pf.summary

	summaryMask := summary
	if intergenic != nil {
		summaryMask |= IntergenicMask
		if *intergenic {
			summary |= IntergenicMask
		}
	}
	if intergenic == nil || *intergenic {
		ctMask = 0
		btMask = 0
	}

	return SampleAnnotationIndexQuery{
		SummaryMask:    [2]byte{summaryMask, summary},
		CTMask:         ctMask,
		BTMask:         btMask,
		ClinicalMask:   clinicalMask,
		PopFreqOp:      pf.op,
		PopFreq:        pf.queries,
		PopFreqPartial: pf.partial,
	}, nil
}

type popFreqResult struct {
	summary byte
	op      query.Operation
	queries []PopulationFrequencyQuery
	partial bool
}

func (b *Builder) populationFrequency(q query.Query, complete bool) (popFreqResult, error) {
	res := popFreqResult{op: query.OpAnd}
	if !q.Has(query.PopulationFrequency) {
		return res, nil
	}
	raw := q.Get(query.PopulationFrequency)
	op, terms, err := query.SplitValue(raw)
	if err != nil {
		return res, query.NewError(query.PopulationFrequency, raw, err, "%v", err)
	}
	res.op = op

	studyPops := make(map[string]bool, len(terms))
	lessThan001 := make(map[string]bool, len(terms))
	// at001 holds the terms cutting exactly at the summary threshold.
	at001 := make(map[string]bool, len(terms))
	var notCovered []string

	for _, term := range terms {
		key, cmp, value, err := query.SplitOperator(term)
		if err != nil || key == "" {
			return res, query.NewError(query.PopulationFrequency, raw, query.ErrMalformed,
				"expected study:population<op>value, got %q", term)
		}
		freq, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return res, query.NewError(query.PopulationFrequency, raw, query.ErrMalformed,
				"frequency %q is not a number", value)
		}
		studyPops[key] = true
		if (cmp == "<" || cmp == "<<") && freq <= PopFreqThreshold001 {
			lessThan001[key] = true
			if rangecode.Equal(freq, PopFreqThreshold001) {
				at001[key] = true
			}
		}

		inIndex, fullyCovered := false, false
		for i, p := range b.populations {
			if p.Key() != key {
				continue
			}
			inIndex = true
			r, err := rangecode.New(cmp, freq, p.Thresholds, 0, 1+rangecode.Delta)
			if err != nil {
				return res, query.NewError(query.PopulationFrequency, raw, query.ErrUnknownOperator, "%v", err)
			}
			res.queries = append(res.queries, PopulationFrequencyQuery{
				Study:      p.Study,
				Population: p.Population,
				Index:      i,
				Range:      r,
			})
			fullyCovered = fullyCovered || r.Exact
		}
		switch {
		case !inIndex:
			res.partial = true
			notCovered = append(notCovered, term)
		case !fullyCovered:
			notCovered = append(notCovered, term)
		}
	}

	if op == query.OpOr {
		if sameKeys(studyPops, lessThan001) && allIn(PopFreqAny001Set, lessThan001) {
			res.summary |= PopFreqAny001Mask
			// The bit answers the filter alone only when every term cuts at
			// the bit's own threshold.
			if len(PopFreqAny001Set) == len(terms) && sameKeys(studyPops, at001) {
				res.queries = nil
				if complete {
					delete(q, query.PopulationFrequency)
				}
			}
		}
		if res.partial {
			b.logger.Debug("population frequency OR filter uses unindexed populations", "value", raw)
			res.queries = nil
		} else if len(notCovered) == 0 && complete {
			delete(q, query.PopulationFrequency)
		}
		return res, nil
	}

	res.op = query.OpAnd
	for key := range PopFreqAny001Set {
		if lessThan001[key] {
			res.summary |= PopFreqAny001Mask
			break
		}
	}
	if complete {
		if len(notCovered) == 0 {
			delete(q, query.PopulationFrequency)
		} else {
			q[query.PopulationFrequency] = strings.Join(notCovered, query.AndSeparator)
		}
	}
	return res, nil
}

// consequenceTypes returns the operation and the sequence ontology terms
// of the CT filter, translating accessions ("SO:0001583") to terms.
func consequenceTypes(q query.Query) (query.Operation, []string, error) {
	raw := q.Get(query.ConsequenceType)
	op, values, err := query.SplitValue(raw)
	if err != nil {
		return op, nil, query.NewError(query.ConsequenceType, raw, err, "%v", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		term, err := parseConsequenceType(v)
		if err != nil {
			return op, nil, query.NewError(query.ConsequenceType, raw, query.ErrMalformed, "%v", err)
		}
		out = append(out, term)
	}
	return op, out, nil
}

func parseConsequenceType(v string) (string, error) {
	v = strings.TrimSpace(v)
	if knownTerms[v] {
		return v, nil
	}
	acc := v
	if !strings.HasPrefix(acc, "SO:") {
		acc = "SO:" + acc
	}
	if term, ok := soAccessions[acc]; ok {
		return term, nil
	}
	return "", fmt.Errorf("unknown consequence type %q", v)
}

func containsAny(values []string, targets ...string) bool {
	for _, v := range values {
		for _, t := range targets {
			if v == t {
				return true
			}
		}
	}
	return false
}

func sameKeys(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func allIn(s TermSet, keys map[string]bool) bool {
	for k := range keys {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

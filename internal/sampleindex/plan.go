// Package sampleindex plans variant queries against the sample index.
//
// Plan splits a query into a SampleIndexQuery, which a scanner evaluates
// against the bit-packed per-sample index, and a residual query holding
// every predicate the index cannot answer exactly. Predicates are only
// dropped from the residual when the index provably encodes them, so that
// the plan followed by the residual filter returns the same variants as
// the original query.
package sampleindex

import (
	"errors"
	"maps"
	"slices"

	"github.com/wychytu/opencga/internal/family"
	"github.com/wychytu/opencga/internal/index/annotation"
	"github.com/wychytu/opencga/internal/index/file"
	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/query"
	"github.com/wychytu/opencga/internal/region"
)

var (
	// ErrNotSupported is returned by Plan for queries Valid rejects.
	ErrNotSupported = errors.New("query not supported by the sample index")
	// ErrInvalidQuery matches every error caused by the query itself.
	ErrInvalidQuery = query.ErrInvalid
	ErrMissingStudy = metadata.ErrMissingStudy
	ErrInvariant    = family.ErrInvariant
)

// SampleIndexQuery is a resolved plan. It is built once by Plan and must
// be treated as read-only afterwards.
type SampleIndexQuery struct {
	Regions []region.Region `msgpack:"regions"`
	// VariantTypes is nil when types are not filtered. SNP and MNP are
	// reported as SNV and MNV.
	VariantTypes []string `msgpack:"variantTypes"`
	Study        string   `msgpack:"study"`
	// Samples maps each scanned sample to the genotypes to match.
	Samples map[string][]string `msgpack:"samples"`
	// NegatedSamples match the variants where the sample has none of its
	// genotypes.
	NegatedSamples []string                              `msgpack:"negatedSamples"`
	FatherFilter   map[string]family.ParentFilter        `msgpack:"fatherFilter"`
	MotherFilter   map[string]family.ParentFilter        `msgpack:"motherFilter"`
	FileFilter     map[string]*file.SampleFileIndexQuery `msgpack:"fileFilter"`
	Annotation     annotation.SampleAnnotationIndexQuery `msgpack:"annotation"`
	// MendelianErrorSamples are the samples filtered by mendelian error
	// or, when OnlyDeNovo is set, by de novo variants.
	MendelianErrorSamples []string        `msgpack:"mendelianErrorSamples"`
	OnlyDeNovo            bool            `msgpack:"onlyDeNovo"`
	Operation             query.Operation `msgpack:"operation"`
	// Complete is set when every queried sample is fully indexed and no
	// genotype filter forced a residual scan.
	Complete bool `msgpack:"complete"`
}

// SampleNames returns the scanned samples in order.
func (p *SampleIndexQuery) SampleNames() []string {
	return slices.Sorted(maps.Keys(p.Samples))
}

// IsNegated reports whether sample is matched by exclusion.
func (p *SampleIndexQuery) IsNegated(sample string) bool {
	return slices.Contains(p.NegatedSamples, sample)
}

// EmptyFileFilter reports whether no sample has a file index filter.
func (p *SampleIndexQuery) EmptyFileFilter() bool {
	for _, f := range p.FileFilter {
		if !f.Empty() {
			return false
		}
	}
	return true
}

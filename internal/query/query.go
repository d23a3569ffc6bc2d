// Package query models variant queries as a map from predicate name to its
// string value, plus the small grammar used inside those values:
//
//	genotype  = "S1:0/1,1/1;S2:0/0"   (";" = AND, "," = OR between samples)
//	qual      = ">=30"
//	pop. freq = "1kG_phase3:ALL<0.01,GNOMAD_GENOMES:ALL<0.01"
//	filter    = "PASS" | "!PASS" | "q10,LowGQ"
//
// A Query is a plain value. Planning never mutates the caller's map: covered
// predicates are removed from a clone, which becomes the residual query.
package query

import (
	"fmt"
	"slices"
	"strings"
)

// Param is the name of a query predicate.
type Param string

// Known predicates.
const (
	Region               Param = "region"
	Study                Param = "study"
	Sample               Param = "sample"
	Genotype             Param = "genotype"
	Type                 Param = "type"
	Filter               Param = "filter"
	Qual                 Param = "qual"
	Info                 Param = "info"
	Format               Param = "format"
	ConsequenceType      Param = "annotation-consequence-type"
	Biotype              Param = "annotation-biotype"
	ClinicalSignificance Param = "annotation-clinical-significance"
	PopulationFrequency  Param = "annotation-population-frequency"
	MendelianError       Param = "sample-mendelian-error"
	DeNovo               Param = "sample-de-novo"
	Gene                 Param = "gene"
	GeneRegions          Param = "annotation-gene-regions"
	ID                   Param = "id"
	Xref                 Param = "annotation-xref"
	TranscriptFlag       Param = "annotation-transcript-flag"
	ProteinSubstitution  Param = "annotation-protein-substitution"
)

// Params lists every known predicate, in a stable order.
var Params = []Param{
	Region, Study, Sample, Genotype, Type, Filter, Qual, Info, Format,
	ConsequenceType, Biotype, ClinicalSignificance, PopulationFrequency,
	MendelianError, DeNovo, Gene, GeneRegions, ID, Xref, TranscriptFlag,
	ProteinSubstitution,
}

// Known reports whether p is one of the predicates above.
func Known(p Param) bool {
	return slices.Contains(Params, p)
}

// Query maps predicate names to their raw string values.
type Query map[Param]string

// Has reports whether p is present with a non-blank value.
func (q Query) Has(p Param) bool {
	return strings.TrimSpace(q[p]) != ""
}

// HasNonNegated reports whether p has at least one value not prefixed by "!".
func (q Query) HasNonNegated(p Param) bool {
	if !q.Has(p) {
		return false
	}
	_, values, err := SplitValue(q[p])
	if err != nil {
		return false
	}
	for _, v := range values {
		if !IsNegated(v) {
			return true
		}
	}
	return false
}

// Get returns the trimmed value of p, or "".
func (q Query) Get(p Param) string {
	return strings.TrimSpace(q[p])
}

// List returns the comma separated values of p. Blank entries are dropped.
func (q Query) List(p Param) []string {
	if !q.Has(p) {
		return nil
	}
	parts := strings.Split(q.Get(p), OrSeparator)
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns an independent copy of q.
func (q Query) Clone() Query {
	c := make(Query, len(q))
	for k, v := range q {
		c[k] = v
	}
	return c
}

// Keys returns the present predicates sorted by name.
func (q Query) Keys() []Param {
	keys := make([]Param, 0, len(q))
	for k := range q {
		if q.Has(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Removed returns the predicates present in q but absent from other.
func (q Query) Removed(other Query) []Param {
	var out []Param
	for _, k := range q.Keys() {
		if !other.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the query as "key=value" pairs in key order.
func (q Query) String() string {
	keys := q.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k) + "=" + q[k]
	}
	return strings.Join(parts, " ")
}

// Parse builds a Query from "key=value" arguments. Unknown keys are
// rejected so that a typo never silently widens a query.
func Parse(pairs []string) (Query, error) {
	q := make(Query, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected key=value, got %q", ErrMalformed, pair)
		}
		p := Param(strings.TrimSpace(k))
		if !Known(p) {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrMalformed, k)
		}
		if _, dup := q[p]; dup {
			return nil, fmt.Errorf("%w: parameter %q given twice", ErrMalformed, k)
		}
		q[p] = v
	}
	return q, nil
}

// FromMap converts a string keyed map (e.g. decoded JSON) into a Query.
func FromMap(m map[string]string) (Query, error) {
	q := make(Query, len(m))
	for k, v := range m {
		p := Param(k)
		if !Known(p) {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrMalformed, k)
		}
		q[p] = v
	}
	return q, nil
}

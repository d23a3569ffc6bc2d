package query

import (
	"regexp"
	"strings"
)

// Xrefs classifies the identifiers a query filters by.
type Xrefs struct {
	Genes    []string
	IDs      []string // rs identifiers and other variant ids
	Variants []string // chr:pos:ref:alt
	Other    []string // any other cross reference
}

var (
	variantPattern = regexp.MustCompile(`^[^:]+:\d+:[ACGTN*-]*:[ACGTN*<>A-Za-z0-9.:-]*$`)
	rsPattern      = regexp.MustCompile(`^rs\d+$`)
)

// ParseXrefs extracts genes, ids, variants and other xrefs from ID, XREF
// and GENE.
func ParseXrefs(q Query) Xrefs {
	var x Xrefs
	for _, v := range q.List(ID) {
		if IsNegated(v) {
			continue
		}
		if variantPattern.MatchString(v) {
			x.Variants = append(x.Variants, v)
		} else {
			x.IDs = append(x.IDs, v)
		}
	}
	for _, v := range q.List(Xref) {
		if IsNegated(v) {
			continue
		}
		switch {
		case variantPattern.MatchString(v):
			x.Variants = append(x.Variants, v)
		case rsPattern.MatchString(v):
			x.IDs = append(x.IDs, v)
		case strings.HasPrefix(v, "ENSG"):
			x.Genes = append(x.Genes, v)
		default:
			x.Other = append(x.Other, v)
		}
	}
	for _, v := range q.List(Gene) {
		if !IsNegated(v) {
			x.Genes = append(x.Genes, v)
		}
	}
	return x
}

// HasNonGeneXrefs reports whether the query names specific variants, ids
// or xrefs other than genes.
func (x Xrefs) HasNonGeneXrefs() bool {
	return len(x.IDs) > 0 || len(x.Variants) > 0 || len(x.Other) > 0
}

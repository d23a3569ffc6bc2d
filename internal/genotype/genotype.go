// Package genotype encodes genotype calls ("0/1", "1|1", "./.") into the
// 4-bit codes stored by the sample index, and classifies them.
//
// Codes 0-9 identify a single genotype. Codes 10-15 are buckets holding
// several genotypes; a filter that matches one of them cannot be answered
// exactly from the code alone.
package genotype

import (
	"slices"
	"strconv"
	"strings"
)

// Code is a 4-bit genotype code.
type Code uint8

// Genotype codes.
const (
	HomRefUnphased    Code = iota // 0/0
	HetRefUnphased                // 0/1, 1/0
	HomAltUnphased                // 1/1
	HomRefPhased                  // 0|0
	HetRef01Phased                // 0|1
	HetRef10Phased                // 1|0
	HomAltPhased                  // 1|1
	HemiRef                       // 0
	HemiAlt                       // 1
	MissingHom                    // ./. and .|.
	MissingHet                    // ./0, 1/. ...
	MultiHom                      // 2/2, 3|3 ...
	MultiHet                      // 0/2, 1/2, 2|1 ...
	DiscrepancySimple             // several calls, all of them simple
	DiscrepancyAny                // several calls, some of them ambiguous
	Unknown                       // anything else, including "NA" and "?/?"
)

// NumCodes is the size of the code space.
const NumCodes = 16

var names = [NumCodes]string{
	HomRefUnphased:    "0/0",
	HetRefUnphased:    "0/1",
	HomAltUnphased:    "1/1",
	HomRefPhased:      "0|0",
	HetRef01Phased:    "0|1",
	HetRef10Phased:    "1|0",
	HomAltPhased:      "1|1",
	HemiRef:           "0",
	HemiAlt:           "1",
	MissingHom:        "./.",
	MissingHet:        "MISSING_HET",
	MultiHom:          "MULTI_HOM",
	MultiHet:          "MULTI_HET",
	DiscrepancySimple: "DISCREPANCY_SIMPLE",
	DiscrepancyAny:    "DISCREPANCY_ANY",
	Unknown:           "UNKNOWN",
}

// String returns the genotype of an unambiguous code, or the bucket name.
func (c Code) String() string {
	if int(c) >= NumCodes {
		return "INVALID"
	}
	return names[c]
}

// Encode maps a genotype to its code. Genotypes that cannot be parsed,
// including negated ones, map to Unknown. Encode never fails.
func Encode(gt string) Code {
	gt = strings.TrimSpace(gt)
	if strings.Contains(gt, ",") {
		return encodeDiscrepancy(gt)
	}
	g, ok := parse(gt)
	if !ok {
		return Unknown
	}
	return g.code()
}

func encodeDiscrepancy(gt string) Code {
	code := DiscrepancySimple
	for _, part := range strings.Split(gt, ",") {
		c := Encode(part)
		if c == Unknown {
			return Unknown
		}
		if IsAmbiguous(c) {
			code = DiscrepancyAny
		}
	}
	return code
}

// Decode returns the canonical genotype of c. Ambiguous codes return the
// name of their bucket.
func Decode(c Code) string {
	return c.String()
}

// IsAmbiguous reports whether c represents more than one genotype.
func IsAmbiguous(c Code) bool {
	return c >= MissingHet
}

// IsValid reports whether gt can be answered by the sample index: it is
// not negated and it maps to a known code.
func IsValid(gt string) bool {
	gt = strings.TrimSpace(gt)
	if strings.HasPrefix(gt, "!") {
		return false
	}
	return Encode(gt) != Unknown
}

// Canonical normalises gt: unphased alleles are sorted, fully missing
// calls become "./.". Unparseable genotypes are returned trimmed.
func Canonical(gt string) string {
	gt = strings.TrimSpace(gt)
	g, ok := parse(gt)
	if !ok {
		return gt
	}
	return g.String()
}

// Supported lists the genotypes with their own unambiguous code, including
// the alternative spellings that normalise to one of them.
func Supported() []string {
	return []string{
		"0/0", "0/1", "1/0", "1/1",
		"0|0", "0|1", "1|0", "1|1",
		"0", "1",
		"./.", ".|.",
	}
}

// DefaultLoaded is the genotype list assumed for studies that do not
// record which genotypes were loaded.
var DefaultLoaded = []string{
	"0/0", "0|0",
	"0/1", "1/0", "1/1", "./.",
	"0|1", "1|0", "1|1", ".|.",
	"0|2", "2|0", "2|1", "1|2", "2|2",
	"0/2", "2/0", "2/1", "1/2", "2/2",
	"?/?",
}

// call is a parsed genotype. A missing allele is -1.
type call struct {
	alleles []int
	phased  bool
}

func parse(gt string) (call, bool) {
	if gt == "" || strings.HasPrefix(gt, "!") {
		return call{}, false
	}
	sep := "/"
	phased := false
	if strings.Contains(gt, "|") {
		if strings.Contains(gt, "/") {
			return call{}, false
		}
		sep, phased = "|", true
	}
	parts := strings.Split(gt, sep)
	if len(parts) > 2 {
		return call{}, false
	}
	g := call{alleles: make([]int, len(parts)), phased: phased && len(parts) == 2}
	for i, p := range parts {
		if p == "." {
			g.alleles[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return call{}, false
		}
		g.alleles[i] = n
	}
	return g, true
}

func (g call) missing() int {
	n := 0
	for _, a := range g.alleles {
		if a < 0 {
			n++
		}
	}
	return n
}

func (g call) code() Code {
	if len(g.alleles) == 1 {
		switch g.alleles[0] {
		case 0:
			return HemiRef
		case 1:
			return HemiAlt
		case -1:
			return MissingHom
		default:
			return MultiHom
		}
	}
	a, b := g.alleles[0], g.alleles[1]
	switch g.missing() {
	case 2:
		return MissingHom
	case 1:
		return MissingHet
	}
	if a > 1 || b > 1 {
		if a == b {
			return MultiHom
		}
		return MultiHet
	}
	switch {
	case a == 0 && b == 0:
		if g.phased {
			return HomRefPhased
		}
		return HomRefUnphased
	case a == 1 && b == 1:
		if g.phased {
			return HomAltPhased
		}
		return HomAltUnphased
	case !g.phased:
		return HetRefUnphased
	case a == 0:
		return HetRef01Phased
	default:
		return HetRef10Phased
	}
}

func (g call) String() string {
	if len(g.alleles) == 2 && g.missing() == 2 {
		return "./."
	}
	alleles := slices.Clone(g.alleles)
	sep := "|"
	if !g.phased {
		sep = "/"
		slices.Sort(alleles)
	}
	parts := make([]string, len(alleles))
	for i, a := range alleles {
		if a < 0 {
			parts[i] = "."
		} else {
			parts[i] = strconv.Itoa(a)
		}
	}
	return strings.Join(parts, sep)
}

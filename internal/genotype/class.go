package genotype

import "strings"

// Class is a named group of genotypes usable in a genotype filter in
// place of a literal genotype, e.g. "S1:HOM_ALT".
type Class string

// Genotype classes.
const (
	HomRef  Class = "HOM_REF"
	HomAlt  Class = "HOM_ALT"
	Het     Class = "HET"
	HetRef  Class = "HET_REF"
	HetAlt  Class = "HET_ALT"
	HetMiss Class = "HET_MISS"
	Miss    Class = "MISS"
	MainAlt Class = "MAIN_ALT"
	NA      Class = "NA"
)

var classes = map[Class]func(call, bool) bool{
	HomRef: func(g call, ok bool) bool {
		return ok && g.missing() == 0 && allEqual(g, 0)
	},
	HomAlt: func(g call, ok bool) bool {
		return ok && g.missing() == 0 && g.alleles[0] > 0 && allEqual(g, g.alleles[0])
	},
	Het: func(g call, ok bool) bool {
		return ok && isHet(g)
	},
	HetRef: func(g call, ok bool) bool {
		return ok && isHet(g) && (g.alleles[0] == 0 || g.alleles[1] == 0)
	},
	HetAlt: func(g call, ok bool) bool {
		return ok && isHet(g) && g.alleles[0] != 0 && g.alleles[1] != 0
	},
	HetMiss: func(g call, ok bool) bool {
		return ok && len(g.alleles) == 2 && g.missing() == 1
	},
	Miss: func(g call, ok bool) bool {
		return ok && g.missing() == len(g.alleles)
	},
	MainAlt: func(g call, ok bool) bool {
		if !ok {
			return false
		}
		for _, a := range g.alleles {
			if a == 1 {
				return true
			}
		}
		return false
	},
	NA: func(_ call, ok bool) bool {
		return !ok
	},
}

// ParseClass returns the class named by s, if any.
func ParseClass(s string) (Class, bool) {
	c := Class(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := classes[c]
	return c, ok
}

// Matches reports whether gt belongs to class c.
func (c Class) Matches(gt string) bool {
	fn, ok := classes[c]
	if !ok {
		return false
	}
	g, parsed := parse(strings.TrimSpace(gt))
	return fn(g, parsed)
}

// Filter returns the genotypes of loaded that belong to c.
func (c Class) Filter(loaded []string) []string {
	var out []string
	for _, gt := range loaded {
		if c.Matches(gt) {
			out = append(out, gt)
		}
	}
	return out
}

// FilterClasses expands class names in requested into the loaded genotypes
// they match. Literal genotypes, negated ones included, are kept as given.
// The result has no duplicates and keeps the order of first appearance.
func FilterClasses(requested, loaded []string) []string {
	seen := make(map[string]bool, len(requested))
	var out []string
	add := func(gt string) {
		if !seen[gt] {
			seen[gt] = true
			out = append(out, gt)
		}
	}
	for _, r := range requested {
		r = strings.TrimSpace(r)
		if c, ok := ParseClass(r); ok && r != "NA" {
			for _, gt := range c.Filter(loaded) {
				add(gt)
			}
			continue
		}
		add(r)
	}
	return out
}

func allEqual(g call, v int) bool {
	for _, a := range g.alleles {
		if a != v {
			return false
		}
	}
	return true
}

func isHet(g call) bool {
	return len(g.alleles) == 2 && g.missing() == 0 && g.alleles[0] != g.alleles[1]
}

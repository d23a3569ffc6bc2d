// Package region parses and merges genomic regions ("chr:start-end").
package region

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrMalformed is returned for regions that cannot be parsed.
var ErrMalformed = errors.New("malformed region")

// Region is a closed, 1-based interval on a chromosome. End is math.MaxInt32
// when the region extends to the end of the chromosome.
type Region struct {
	Chromosome string `msgpack:"chr"`
	Start      int    `msgpack:"start"`
	End        int    `msgpack:"end"`
}

func (r Region) String() string {
	switch {
	case r.Start <= 1 && r.End >= math.MaxInt32:
		return r.Chromosome
	case r.End >= math.MaxInt32:
		return fmt.Sprintf("%s:%d", r.Chromosome, r.Start)
	default:
		return fmt.Sprintf("%s:%d-%d", r.Chromosome, r.Start, r.End)
	}
}

// Overlaps reports whether r and o share a position or are adjacent.
func (r Region) Overlaps(o Region) bool {
	return r.Chromosome == o.Chromosome && r.Start <= o.End+1 && o.Start <= r.End+1
}

// Parse accepts "chr", "chr:pos" and "chr:start-end". A "chr" prefix is
// stripped so that "chr1" and "1" name the same chromosome.
func Parse(s string) (Region, error) {
	s = strings.TrimSpace(s)
	chrom, rest, hasPos := strings.Cut(s, ":")
	chrom = normalizeChromosome(chrom)
	if chrom == "" {
		return Region{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if !hasPos {
		return Region{Chromosome: chrom, Start: 1, End: math.MaxInt32}, nil
	}
	startStr, endStr, hasEnd := strings.Cut(rest, "-")
	start, err := parsePosition(startStr)
	if err != nil {
		return Region{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	end := math.MaxInt32
	if hasEnd {
		if end, err = parsePosition(endStr); err != nil {
			return Region{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
	} else {
		end = start
	}
	if end < start {
		return Region{}, fmt.Errorf("%w: %q: end before start", ErrMalformed, s)
	}
	return Region{Chromosome: chrom, Start: start, End: end}, nil
}

// ParseList parses a comma separated list of regions.
func ParseList(s string) ([]Region, error) {
	var out []Region
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Merge returns the union of the given region lists, sorted by chromosome
// and start, with overlapping or adjacent regions joined.
func Merge(lists ...[]Region) []Region {
	var all []Region
	for _, l := range lists {
		all = append(all, l...)
	}
	if len(all) == 0 {
		return nil
	}
	slices.SortFunc(all, compare)
	out := []Region{all[0]}
	for _, r := range all[1:] {
		last := &out[len(out)-1]
		if last.Overlaps(r) {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

func compare(a, b Region) int {
	if c := compareChromosomes(a.Chromosome, b.Chromosome); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.End, b.End)
}

// compareChromosomes orders numeric chromosomes numerically before named ones.
func compareChromosomes(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func normalizeChromosome(c string) string {
	c = strings.TrimSpace(c)
	if len(c) > 3 && strings.EqualFold(c[:3], "chr") {
		c = c[3:]
	}
	return c
}

func parsePosition(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("position %d out of range", n)
	}
	return n, nil
}

package sampleindex_test

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/index/annotation"
	"github.com/wychytu/opencga/internal/index/file"
	"github.com/wychytu/opencga/internal/index/rangecode"
	"github.com/wychytu/opencga/internal/query"
	"github.com/wychytu/opencga/internal/region"
	"github.com/wychytu/opencga/internal/sampleindex"
)

// The call set below mirrors newPlanner: a trio sharing trio.vcf.gz and
// two samples with a file each.
var (
	sampleFile = map[string]string{
		"father":  "trio.vcf.gz",
		"mother":  "trio.vcf.gz",
		"child":   "trio.vcf.gz",
		"sampleA": "a.vcf.gz",
		"sampleB": "b.vcf.gz",
	}
	parentsOf = map[string][2]string{"child": {"father", "mother"}}
)

// fileCall is one file's record of a variant. Every sample of the file
// shares its depth.
type fileCall struct {
	filter string
	qual   float64
	dp     float64
	qd     float64
}

type variant struct {
	chrom     string
	pos       int
	typ       string
	gts       map[string]string
	gq        map[string]float64
	files     map[string]fileCall
	cts       []string
	biotype   string
	clinical  string
	freqs     map[string]float64
	mendelian bool // child only
	deNovo    bool
}

var clinicalBits = map[string]uint8{
	"likely_benign":     annotation.ClinicalLikelyBenign,
	"VUS":               annotation.ClinicalVUS,
	"likely_pathogenic": annotation.ClinicalLikelyPathogenic,
	"pathogenic":        annotation.ClinicalPathogenic,
}

func isHomRef(gt string) bool { return genotype.HomRef.Matches(gt) }

// synthesize draws n variants from a fixed seed. Values sit on and around
// the configured thresholds.
func synthesize(n int) []variant {
	r := rand.New(rand.NewPCG(7, 11))
	pick := func(xs ...string) string { return xs[r.IntN(len(xs))] }
	pickF := func(xs ...float64) float64 { return xs[r.IntN(len(xs))] }
	gts := []string{"0/0", "0/0", "0/0", "0/1", "0/1", "0/1", "1/1", "1/1", "0|0", "0|1", "1|1", "./.", "1/2", "0/2"}
	genic := []string{annotation.MissenseVariant, annotation.StopGained, annotation.SynonymousVariant,
		annotation.FrameshiftVariant, annotation.IntronVariant}
	pops := []string{"1kG_phase3:ALL", "GNOMAD_GENOMES:ALL", "GNOMAD_EXOMES:ALL"}

	out := make([]variant, n)
	for i := range out {
		v := variant{
			chrom:    pick("1", "1", "2"),
			pos:      1 + r.IntN(3000),
			typ:      pick("SNV", "SNV", "SNP", "MNV", "INDEL", "DELETION"),
			gts:      make(map[string]string),
			gq:       make(map[string]float64),
			files:    make(map[string]fileCall),
			clinical: pick("", "", "benign", "pathogenic", "likely_pathogenic"),
			freqs:    make(map[string]float64),
		}
		for s := range sampleFile {
			v.gts[s] = gts[r.IntN(len(gts))]
			v.gq[s] = pickF(2, 3, 4, 20, 30)
		}
		for _, f := range []string{"trio.vcf.gz", "a.vcf.gz", "b.vcf.gz"} {
			v.files[f] = fileCall{
				filter: pick("PASS", "PASS", "q10", "LowGQ"),
				qual:   pickF(5, 10, 15, 20, 25, 30, 45),
				dp:     pickF(2, 5, 8, 10, 12, 15, 20),
				qd:     pickF(1, 2, 3),
			}
		}
		if r.IntN(4) == 0 {
			v.cts = []string{pick(annotation.IntergenicVariant, annotation.RegulatoryRegionVariant)}
		} else {
			v.cts = []string{pick(genic...)}
			if extra := pick(genic...); r.IntN(2) == 0 && extra != v.cts[0] {
				v.cts = append(v.cts, extra)
			}
			v.biotype = pick(annotation.ProteinCoding, annotation.ProteinCoding, "lincRNA", "nonsense_mediated_decay")
		}
		for _, p := range pops {
			v.freqs[p] = pickF(0, 0.0005, 0.001, 0.003, 0.005, 0.007, 0.01, 0.02, 0.3)
		}
		child, father, mother := v.gts["child"], v.gts["father"], v.gts["mother"]
		if genotype.MainAlt.Matches(child) {
			v.deNovo = isHomRef(father) && isHomRef(mother)
			v.mendelian = v.deNovo || (genotype.HomAlt.Matches(child) && (isHomRef(father) || isHomRef(mother)))
		}
		out[i] = v
	}
	return out
}

func (v variant) intergenic() bool {
	for _, ct := range v.cts {
		if ct != annotation.IntergenicVariant && ct != annotation.RegulatoryRegionVariant {
			return false
		}
	}
	return true
}

// summary is the annotation summary byte the index stores for v.
func (v variant) summary() byte {
	var s byte
	if annotation.BiotypeSet.Has(v.biotype) {
		s |= annotation.ProteinCodingMask
	}
	for _, ct := range v.cts {
		if ct == annotation.MissenseVariant {
			s |= annotation.MissenseMask
		}
		if annotation.LOFSet.Has(ct) {
			s |= annotation.LOFMask
		}
		if annotation.LOFExtendedSet.Has(ct) {
			s |= annotation.LOFExtendedMask
			if v.biotype == annotation.ProteinCoding {
				s |= annotation.LOFEProteinCodingMask
			}
		}
	}
	for pop := range annotation.PopFreqAny001Set {
		if v.freqs[pop] < annotation.PopFreqThreshold001 {
			s |= annotation.PopFreqAny001Mask
		}
	}
	if v.clinical != "" {
		s |= annotation.ClinicalMask
	}
	if v.intergenic() {
		s |= annotation.IntergenicMask
	}
	return s
}

func (v variant) ctMask() uint16 {
	var m uint16
	for _, ct := range v.cts {
		m |= annotation.CTMask(ct)
	}
	return m
}

// fileByte is the file index byte stored for the call of sample.
func (v variant) fileByte(cfg config.SampleIndexConfiguration, sample string) byte {
	fc := v.files[sampleFile[sample]]
	typ, _ := file.TypeCode(v.typ)
	return file.Pack(fc.filter == "PASS", typ,
		rangecode.Code(fc.qual, cfg.QualThresholds),
		rangecode.Code(fc.dp, cfg.DPThresholds))
}

func inRegions(rs []region.Region, chrom string, pos int) bool {
	for _, r := range rs {
		if r.Chromosome == chrom && r.Start <= pos && pos <= r.End {
			return true
		}
	}
	return false
}

func combine(op query.Operation, oks []bool) bool {
	if op == query.OpOr {
		return slices.Contains(oks, true)
	}
	return !slices.Contains(oks, false)
}

func compare(x float64, op, value string) bool {
	y, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	switch op {
	case "<", "<<":
		return x < y
	case "<=", "<<=":
		return x <= y
	case ">", ">>":
		return x > y
	case ">=", ">>=":
		return x >= y
	case "=", "==":
		return x == y
	case "!=":
		return x != y
	}
	return false
}

// fieldsMatch evaluates "DP>5;GQ>3" style values against field lookups.
func fieldsMatch(raw string, field func(string) (float64, bool)) bool {
	op, exprs, err := query.SplitValue(raw)
	if err != nil {
		return false
	}
	oks := make([]bool, len(exprs))
	for i, e := range exprs {
		key, cmp, value, err := query.SplitOperator(e)
		if err != nil {
			return false
		}
		x, ok := field(key)
		oks[i] = ok && compare(x, cmp, value)
	}
	return combine(op, oks)
}

// keyedMatch evaluates FORMAT and INFO, keyed by sample and by file.
func keyedMatch(p query.Param, raw string, field func(key, name string) (float64, bool)) bool {
	op, kvs, err := query.ParseKeyValues(p, raw)
	if err != nil {
		return false
	}
	oks := make([]bool, len(kvs))
	for i, kv := range kvs {
		oks[i] = fieldsMatch(kv.Value, func(name string) (float64, bool) { return field(kv.Key, name) })
	}
	return combine(op, oks)
}

func gtMatches(entries []string, gt string) bool {
	match := func(e string) bool {
		if c, ok := genotype.ParseClass(e); ok {
			return c.Matches(gt)
		}
		return gt == e
	}
	positive, hit := false, false
	for _, e := range entries {
		if query.IsNegated(e) {
			if match(query.RemoveNegation(e)) {
				return false
			}
			continue
		}
		positive = true
		hit = hit || match(e)
	}
	return !positive || hit
}

// fileMatches evaluates FILTER and QUAL on the file holding the call of
// sample.
func fileMatches(q query.Query, v variant, sample string) bool {
	fc := v.files[sampleFile[sample]]
	if q.Has(query.Filter) {
		op, values, err := query.SplitValue(q.Get(query.Filter))
		if err != nil {
			return false
		}
		oks := make([]bool, len(values))
		for i, f := range values {
			if query.IsNegated(f) {
				oks[i] = fc.filter != query.RemoveNegation(f)
			} else {
				oks[i] = fc.filter == f
			}
		}
		if !combine(op, oks) {
			return false
		}
	}
	if q.Has(query.Qual) {
		return fieldsMatch(q.Get(query.Qual), func(string) (float64, bool) { return fc.qual, true })
	}
	return true
}

// selection returns, per selected sample, whether v passes its genotype
// term, and how the terms combine. ok is false when q selects no sample.
func selection(q query.Query, v variant) (op query.Operation, terms map[string]bool, ok bool) {
	terms = make(map[string]bool)
	switch {
	case q.Has(query.Genotype):
		var filters []query.GenotypeFilter
		op, filters, _ = query.ParseGenotypes(q.Get(query.Genotype))
		for _, f := range filters {
			terms[f.Sample] = gtMatches(f.Genotypes, v.gts[f.Sample])
		}
	case q.Has(query.Sample):
		var values []string
		op, values, _ = query.SplitValue(q.Get(query.Sample))
		for _, s := range values {
			name := query.RemoveNegation(s)
			terms[name] = genotype.MainAlt.Matches(v.gts[name]) != query.IsNegated(s)
		}
	case q.Has(query.MendelianError):
		var values []string
		op, values, _ = query.SplitValue(q.Get(query.MendelianError))
		for _, s := range values {
			terms[s] = s == "child" && v.mendelian
		}
	case q.Has(query.DeNovo):
		var values []string
		op, values, _ = query.SplitValue(q.Get(query.DeNovo))
		for _, s := range values {
			terms[s] = s == "child" && v.deNovo
		}
	default:
		return query.OpNone, nil, false
	}
	return op, terms, true
}

// accepts evaluates q on v directly. A selected sample passes when its
// genotype term holds and its file passes FILTER and QUAL. Without a
// selection in q, FILTER and QUAL apply to the files of every sample in
// scope.
func accepts(q query.Query, v variant, scope []string) bool {
	if q.Has(query.Region) {
		rs, err := region.ParseList(q.Get(query.Region))
		if err != nil || !inRegions(rs, v.chrom, v.pos) {
			return false
		}
	}
	if q.Has(query.Type) && !slices.ContainsFunc(q.List(query.Type), func(t string) bool {
		switch t = strings.ToUpper(t); t {
		case "SNV":
			return v.typ == "SNV" || v.typ == "SNP"
		case "MNV":
			return v.typ == "MNV" || v.typ == "MNP"
		default:
			return v.typ == t
		}
	}) {
		return false
	}

	if op, terms, ok := selection(q, v); ok {
		oks := make([]bool, 0, len(terms))
		for s, term := range terms {
			oks = append(oks, term && fileMatches(q, v, s))
		}
		if !combine(op, oks) {
			return false
		}
	} else {
		for _, s := range scope {
			if !fileMatches(q, v, s) {
				return false
			}
		}
	}

	if q.Has(query.Format) && !keyedMatch(query.Format, q.Get(query.Format), func(sample, name string) (float64, bool) {
		switch name {
		case "DP":
			return v.files[sampleFile[sample]].dp, true
		case "GQ":
			return v.gq[sample], true
		}
		return 0, false
	}) {
		return false
	}
	if q.Has(query.Info) && !keyedMatch(query.Info, q.Get(query.Info), func(f, name string) (float64, bool) {
		fc, ok := v.files[f]
		switch {
		case !ok:
			return 0, false
		case name == "DP":
			return fc.dp, true
		case name == "QD":
			return fc.qd, true
		}
		return 0, false
	}) {
		return false
	}

	if q.Has(query.ConsequenceType) {
		op, terms, err := query.SplitValue(q.Get(query.ConsequenceType))
		if err != nil {
			return false
		}
		oks := make([]bool, len(terms))
		for i, t := range terms {
			oks[i] = slices.Contains(v.cts, t)
		}
		if !combine(op, oks) {
			return false
		}
	}
	if q.Has(query.Biotype) && !slices.Contains(q.List(query.Biotype), v.biotype) {
		return false
	}
	if q.Has(query.ClinicalSignificance) && !slices.Contains(q.List(query.ClinicalSignificance), v.clinical) {
		return false
	}
	if q.Has(query.PopulationFrequency) {
		op, terms, err := query.SplitValue(q.Get(query.PopulationFrequency))
		if err != nil {
			return false
		}
		oks := make([]bool, len(terms))
		for i, t := range terms {
			pop, cmp, value, err := query.SplitOperator(t)
			oks[i] = err == nil && compare(v.freqs[pop], cmp, value)
		}
		if !combine(op, oks) {
			return false
		}
	}
	return true
}

// indexed evaluates plan the way a scanner reads the sample index.
func indexed(cfg config.SampleIndexConfiguration, plan *sampleindex.SampleIndexQuery, v variant) bool {
	if len(plan.Regions) > 0 && !inRegions(plan.Regions, v.chrom, v.pos) {
		return false
	}
	if plan.VariantTypes != nil {
		typ := v.typ
		switch typ {
		case "SNP":
			typ = "SNV"
		case "MNP":
			typ = "MNV"
		}
		if !slices.Contains(plan.VariantTypes, typ) {
			return false
		}
	}

	a := plan.Annotation
	switch {
	case !a.Matches(v.summary()),
		a.CTMask != 0 && v.ctMask()&a.CTMask == 0,
		a.BTMask != 0 && annotation.BTMask(v.biotype)&a.BTMask == 0,
		a.ClinicalMask != 0 && clinicalBits[v.clinical]&a.ClinicalMask == 0:
		return false
	}
	if len(a.PopFreq) > 0 {
		oks := make([]bool, len(a.PopFreq))
		for i, pf := range a.PopFreq {
			p := cfg.Populations[pf.Index]
			oks[i] = pf.Range.Contains(rangecode.Code(v.freqs[p.Key()], p.Thresholds))
		}
		if !combine(a.PopFreqOp, oks) {
			return false
		}
	}

	oks := make([]bool, 0, len(plan.Samples))
	for name, gts := range plan.Samples {
		ok := slices.Contains(gts, v.gts[name]) != plan.IsNegated(name)
		parents := parentsOf[name]
		if f, has := plan.FatherFilter[name]; has {
			ok = ok && f.Matches(genotype.Encode(v.gts[parents[0]]))
		}
		if f, has := plan.MotherFilter[name]; has {
			ok = ok && f.Matches(genotype.Encode(v.gts[parents[1]]))
		}
		if f := plan.FileFilter[name]; f != nil {
			ok = ok && f.Matches(v.fileByte(cfg, name))
		}
		if slices.Contains(plan.MendelianErrorSamples, name) {
			flag := name == "child" && v.mendelian
			if plan.OnlyDeNovo {
				flag = name == "child" && v.deNovo
			}
			ok = ok && flag
		}
		oks = append(oks, ok)
	}
	return combine(plan.Operation, oks)
}

// scope lists the samples q selects, negated ones included.
func scope(q query.Query) []string {
	_, terms, _ := selection(q, variant{})
	names := make([]string, 0, len(terms))
	for s := range terms {
		names = append(names, s)
	}
	slices.Sort(names)
	return names
}

// The index scan followed by the residual filter must return exactly the
// variants the query selects on its own.
func TestPlanMatchesDirectEvaluation(t *testing.T) {
	p, _ := newPlanner(t)
	cfg := config.Default()
	variants := synthesize(8000)
	for _, q := range corpus {
		t.Run(q.String(), func(t *testing.T) {
			got, residual := plan(t, p, q)
			samples := scope(q)
			matched := 0
			for i, v := range variants {
				want := accepts(q, v, samples)
				have := indexed(cfg, got, v) && accepts(residual, v, samples)
				if want != have {
					t.Fatalf("variant %d: direct %v, plan then residual %v\nvariant %+v\nresidual %v",
						i, want, have, v, residual)
				}
				if want {
					matched++
				}
			}
			if matched == 0 {
				t.Error("no variant matched, the call set does not exercise this query")
			}
		})
	}
}

// A plan that drops a predicate the index does not encode must fail the
// comparison above. Dropping the FORMAT filter shows the check is not
// vacuous.
func TestDirectEvaluationDetectsLostPredicate(t *testing.T) {
	p, _ := newPlanner(t)
	cfg := config.Default()
	q := query.Query{query.Genotype: "sampleA:0/1", query.Format: "sampleA:DP>5,GQ>3"}
	got, residual := plan(t, p, q)
	delete(residual, query.Format)
	samples := scope(q)
	for _, v := range synthesize(2000) {
		if accepts(q, v, samples) != (indexed(cfg, got, v) && accepts(residual, v, samples)) {
			return
		}
	}
	t.Error("dropping FORMAT went unnoticed")
}

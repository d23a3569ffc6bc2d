package sampleindex_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/index/file"
	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/metadata/memory"
	"github.com/wychytu/opencga/internal/query"
	"github.com/wychytu/opencga/internal/region"
	"github.com/wychytu/opencga/internal/sampleindex"
)

var ready = map[string]metadata.TaskStatus{
	metadata.TaskIndex:       metadata.StatusReady,
	metadata.TaskSampleIndex: metadata.StatusReady,
}

// newPlanner returns a planner over one study holding a trio (father,
// mother, child sharing trio.vcf) and two unrelated samples with a file
// each.
func newPlanner(t *testing.T) (*sampleindex.Planner, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.PutStudy(ctx, metadata.Study{ID: 1, Name: "study1"}))
	childStatus := map[string]metadata.TaskStatus{
		metadata.TaskIndex:       metadata.StatusReady,
		metadata.TaskSampleIndex: metadata.StatusReady,
		metadata.TaskFamilyIndex: metadata.StatusReady,
	}
	for _, sm := range []metadata.Sample{
		{StudyID: 1, ID: 1, Name: "father", Files: []int{1}, Status: ready},
		{StudyID: 1, ID: 2, Name: "mother", Files: []int{1}, Status: ready},
		{StudyID: 1, ID: 3, Name: "child", Files: []int{1}, Father: new(1), Mother: new(2), Status: childStatus},
		{StudyID: 1, ID: 4, Name: "sampleA", Files: []int{2}, Status: ready},
		{StudyID: 1, ID: 5, Name: "sampleB", Files: []int{3}, Status: ready},
	} {
		must(s.PutSample(ctx, sm))
	}
	for _, f := range []metadata.File{
		{StudyID: 1, ID: 1, Name: "trio.vcf.gz", Samples: []int{1, 2, 3}},
		{StudyID: 1, ID: 2, Name: "a.vcf.gz", Samples: []int{4}},
		{StudyID: 1, ID: 3, Name: "b.vcf.gz", Samples: []int{5}},
	} {
		must(s.PutFile(ctx, f))
	}
	p, err := sampleindex.New(metadata.NewManager(s), config.Default(), nil)
	must(err)
	return p, s
}

func plan(t *testing.T, p *sampleindex.Planner, q query.Query) (*sampleindex.SampleIndexQuery, query.Query) {
	t.Helper()
	before := q.String()
	got, residual, err := p.Plan(context.Background(), q)
	if err != nil {
		t.Fatalf("Plan(%v): %v", q, err)
	}
	if after := q.String(); after != before {
		t.Fatalf("Plan modified its input: %s became %s", before, after)
	}
	return got, residual
}

func TestPlanGenotypeAnd(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Genotype: "sampleA:0/1,1/1;sampleB:0/0",
		query.Region:   "1:1000-2000",
	})

	if want := []region.Region{{Chromosome: "1", Start: 1000, End: 2000}}; !slices.Equal(got.Regions, want) {
		t.Errorf("Regions = %v, want %v", got.Regions, want)
	}
	if len(got.Samples) != 2 ||
		!slices.Equal(got.Samples["sampleA"], []string{"0/1", "1/1"}) ||
		!slices.Equal(got.Samples["sampleB"], []string{"0/0"}) {
		t.Errorf("Samples = %v", got.Samples)
	}
	if got.Operation != query.OpAnd {
		t.Errorf("Operation = %v, want AND", got.Operation)
	}
	if got.Study != "study1" || !got.Complete {
		t.Errorf("Study = %q, Complete = %v", got.Study, got.Complete)
	}
	if len(residual) != 0 {
		t.Errorf("residual = %v, want empty", residual)
	}
}

func TestPlanClinicalNotIndexed(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Genotype:             "sampleA:0/1",
		query.ClinicalSignificance: "benign",
	})
	if got.Annotation.ClinicalMask != 0 {
		t.Errorf("ClinicalMask = %04b, want 0", got.Annotation.ClinicalMask)
	}
	if residual.Get(query.ClinicalSignificance) != "benign" {
		t.Errorf("clinical filter not kept: %v", residual)
	}
}

func TestPlanMixedFilter(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Sample: "sampleA",
		query.Filter: "PASS,q10",
	})
	f := got.FileFilter["sampleA"]
	if f == nil || f.Mask&file.FilterPassMask != 0 {
		t.Fatalf("file filter = %+v, want no FILTER bits", f)
	}
	if residual.Get(query.Filter) != "PASS,q10" {
		t.Errorf("FILTER not kept: %v", residual)
	}
	if residual.Has(query.Sample) {
		t.Errorf("SAMPLE should be covered: %v", residual)
	}
	if want := genotype.MainAlt.Filter(validOf(genotype.DefaultLoaded)); !slices.Equal(got.Samples["sampleA"], want) {
		t.Errorf("Samples[sampleA] = %v, want %v", got.Samples["sampleA"], want)
	}
}

func validOf(gts []string) []string {
	return slices.DeleteFunc(slices.Clone(gts), func(gt string) bool { return !genotype.IsValid(gt) })
}

func TestPlanFamilyFolding(t *testing.T) {
	p, _ := newPlanner(t)

	got, residual := plan(t, p, query.Query{query.Genotype: "child:0/1;father:0/0;mother:0/1"})
	if names := got.SampleNames(); !slices.Equal(names, []string{"child"}) {
		t.Fatalf("AND trio samples = %v, want only the child", names)
	}
	if f := got.FatherFilter["child"]; !slices.Equal(f.Codes(), []genotype.Code{genotype.HomRefUnphased}) {
		t.Errorf("father filter = %v", f)
	}
	if f := got.MotherFilter["child"]; !slices.Equal(f.Codes(), []genotype.Code{genotype.HetRefUnphased}) {
		t.Errorf("mother filter = %v", f)
	}
	if residual.Has(query.Genotype) {
		t.Errorf("fully covered trio kept GENOTYPE: %v", residual)
	}

	got, _ = plan(t, p, query.Query{query.Genotype: "child:0/1,father:0/0,mother:0/1"})
	if names := got.SampleNames(); !slices.Equal(names, []string{"child", "father", "mother"}) {
		t.Errorf("OR trio samples = %v, want all three", names)
	}
	if len(got.FatherFilter) != 0 || len(got.MotherFilter) != 0 {
		t.Errorf("OR trio was folded: %v %v", got.FatherFilter, got.MotherFilter)
	}
	if got.Operation != query.OpOr {
		t.Errorf("Operation = %v, want OR", got.Operation)
	}
}

func TestPlanFamilyIndexNotReady(t *testing.T) {
	p, s := newPlanner(t)
	if err := s.SetSampleStatus(context.Background(), 1, 3, metadata.TaskFamilyIndex, metadata.StatusRunning); err != nil {
		t.Fatal(err)
	}
	got, _ := plan(t, p, query.Query{query.Genotype: "child:0/1;father:0/0"})
	if names := got.SampleNames(); !slices.Equal(names, []string{"child", "father"}) {
		t.Errorf("samples = %v, want no folding", names)
	}
}

func TestPlanAmbiguousParent(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{query.Genotype: "child:0/1;father:1/2"})
	if _, ok := got.FatherFilter["child"]; !ok {
		t.Fatal("father not folded")
	}
	if !residual.Has(query.Genotype) {
		t.Error("ambiguous parent code must keep GENOTYPE")
	}
}

func TestPlanNegatedGenotype(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Genotype: "sampleA:0/1;sampleB:!0/0",
		query.Filter:   "PASS",
	})
	if names := got.SampleNames(); !slices.Equal(names, []string{"sampleA"}) {
		t.Errorf("samples = %v", names)
	}
	if got.Complete {
		t.Error("plan with a negated genotype sample reported complete")
	}
	// b.vcf.gz holds sampleB only, so the index cannot answer FILTER for it.
	if !residual.Has(query.Genotype) || !residual.Has(query.Filter) {
		t.Errorf("residual = %v, want GENOTYPE and FILTER", residual)
	}
}

func TestPlanSharedFileKeepsExactness(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Genotype: "child:0/1;father:!0/0",
		query.Filter:   "PASS",
	})
	if len(got.FatherFilter) != 0 {
		t.Errorf("negated father folded into the child: %v", got.FatherFilter)
	}
	if residual.Has(query.Filter) {
		t.Errorf("father shares trio.vcf.gz with the child, FILTER should be covered: %v", residual)
	}
}

func TestPlanNegatedSample(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Sample: "sampleA;!sampleB",
		query.Filter: "PASS",
	})
	if names := got.SampleNames(); !slices.Equal(names, []string{"sampleA"}) {
		t.Errorf("samples = %v", names)
	}
	if got.Complete {
		t.Error("plan with a negated sample reported complete")
	}
	// FILTER also applies to b.vcf.gz, which no planned sample reads.
	if !residual.Has(query.Sample) || !residual.Has(query.Filter) {
		t.Errorf("residual = %v, want SAMPLE and FILTER", residual)
	}

	_, _, err := p.Plan(context.Background(), query.Query{query.Sample: "sampleA;!ghost"})
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("unknown negated sample error = %v", err)
	}
}

func TestPlanOrKeepsSelectionWithFileFilters(t *testing.T) {
	p, _ := newPlanner(t)
	tests := []struct {
		q    query.Query
		kept query.Param // selection left in the residual, if any
	}{
		{query.Query{query.Sample: "sampleA,sampleB", query.Filter: "PASS,q10"}, query.Sample},
		{query.Query{query.Sample: "sampleA,sampleB", query.Filter: "PASS"}, ""},
		{query.Query{query.Genotype: "sampleA:1/1,sampleB:1/1", query.Qual: ">=25"}, query.Genotype},
		{query.Query{query.Genotype: "sampleA:1/1,sampleB:1/1", query.Qual: ">=30"}, ""},
		{query.Query{query.Genotype: "sampleA:1/1;sampleB:1/1", query.Qual: ">=25"}, ""},
	}
	for _, tt := range tests {
		_, residual := plan(t, p, tt.q)
		for _, sel := range []query.Param{query.Sample, query.Genotype} {
			if residual.Has(sel) != (sel == tt.kept) {
				t.Errorf("%v: residual = %v, want %s kept", tt.q, residual, tt.kept)
			}
		}
	}
}

func TestPlanUnindexedGenotype(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{query.Genotype: "sampleA:0/1;sampleB:?/?"})
	if !got.IsNegated("sampleB") {
		t.Fatalf("NegatedSamples = %v", got.NegatedSamples)
	}
	if slices.Contains(got.Samples["sampleB"], "?/?") || !slices.Contains(got.Samples["sampleB"], "0/1") {
		t.Errorf("complement = %v", got.Samples["sampleB"])
	}
	if !residual.Has(query.Genotype) {
		t.Error("GENOTYPE must be kept")
	}
}

func TestPlanFormat(t *testing.T) {
	p, _ := newPlanner(t)
	tests := []struct {
		format string
		kept   bool // FORMAT, and with it GENOTYPE, left in the residual
	}{
		{"sampleA:DP>=15", false},
		{"sampleA:DP>=12", true},
		{"sampleA:DP>=15;GQ>20", true},
	}
	for _, tt := range tests {
		got, residual := plan(t, p, query.Query{
			query.Genotype: "sampleA:0/1",
			query.Format:   tt.format,
		})
		if residual.Has(query.Format) != tt.kept || residual.Has(query.Genotype) != tt.kept {
			t.Errorf("%s: residual = %v", tt.format, residual)
		}
		if f := got.FileFilter["sampleA"]; f == nil || f.DP == nil {
			t.Errorf("%s: no DP query", tt.format)
		}
	}
}

func TestPlanPopulationFrequencyOrUnknown(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Genotype:            "sampleA:0/1",
		query.PopulationFrequency: "1kG_phase3:ALL<0.01,GNOMAD_EXOMES:ALL<0.01",
	})
	if !got.Annotation.PopFreqPartial {
		t.Error("PopFreqPartial = false")
	}
	if !residual.Has(query.PopulationFrequency) {
		t.Error("population filter stripped")
	}
}

func TestPlanTrioSelections(t *testing.T) {
	p, _ := newPlanner(t)

	got, residual := plan(t, p, query.Query{query.MendelianError: "child"})
	if !slices.Equal(got.MendelianErrorSamples, []string{"child"}) || got.OnlyDeNovo {
		t.Errorf("mendelian plan = %v %v", got.MendelianErrorSamples, got.OnlyDeNovo)
	}
	if got.Complete || residual.Has(query.MendelianError) {
		t.Errorf("mendelian: complete %v residual %v", got.Complete, residual)
	}

	got, residual = plan(t, p, query.Query{query.DeNovo: "child"})
	if !got.OnlyDeNovo || !got.Complete || residual.Has(query.DeNovo) {
		t.Errorf("de novo: %v %v %v", got.OnlyDeNovo, got.Complete, residual)
	}
}

func TestPlanVariantTypes(t *testing.T) {
	p, _ := newPlanner(t)
	tests := []struct {
		types string
		want  []string
		kept  bool
	}{
		{"SNV,INDEL", []string{"INDEL", "SNV"}, false},
		{"SNP,INDEL", []string{"INDEL", "SNV"}, true},
		{"SNP,SNV", []string{"SNV"}, false},
		{"MNP", []string{"MNV"}, true},
	}
	for _, tt := range tests {
		got, residual := plan(t, p, query.Query{query.Sample: "sampleA", query.Type: tt.types})
		if !slices.Equal(got.VariantTypes, tt.want) {
			t.Errorf("%s: VariantTypes = %v, want %v", tt.types, got.VariantTypes, tt.want)
		}
		if residual.Has(query.Type) != tt.kept {
			t.Errorf("%s: TYPE kept = %v, want %v", tt.types, residual.Has(query.Type), tt.kept)
		}
	}
}

func TestPlanGeneRegions(t *testing.T) {
	p, _ := newPlanner(t)
	got, residual := plan(t, p, query.Query{
		query.Sample:      "sampleA",
		query.Region:      "1:150-300",
		query.GeneRegions: "1:100-200,2:5-10",
		query.Gene:        "BRCA2",
	})
	want := []region.Region{
		{Chromosome: "1", Start: 100, End: 300},
		{Chromosome: "2", Start: 5, End: 10},
	}
	if !slices.Equal(got.Regions, want) {
		t.Errorf("Regions = %v, want %v", got.Regions, want)
	}
	for _, param := range []query.Param{query.Region, query.GeneRegions, query.Gene} {
		if residual.Has(param) {
			t.Errorf("%s kept in residual", param)
		}
	}
}

func TestPlanSampleByID(t *testing.T) {
	p, _ := newPlanner(t)
	got, _ := plan(t, p, query.Query{query.Genotype: "4:0/1"})
	if _, ok := got.Samples["sampleA"]; !ok {
		t.Errorf("Samples = %v, want sampleA", got.Samples)
	}
}

func TestPlanErrors(t *testing.T) {
	p, s := newPlanner(t)
	ctx := context.Background()

	_, _, err := p.Plan(ctx, query.Query{query.Genotype: "ghost:0/1"})
	var qe *query.Error
	if !errors.As(err, &qe) || qe.Param != query.Genotype || qe.Value != "ghost" {
		t.Errorf("unknown sample error = %v", err)
	}
	if !errors.Is(err, sampleindex.ErrInvalidQuery) || !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("unknown sample error %v does not match ErrInvalidQuery and ErrNotFound", err)
	}

	_, _, err = p.Plan(ctx, query.Query{query.Sample: "sampleA", query.Study: "nope"})
	if !errors.As(err, &qe) || qe.Param != query.Study || !errors.Is(err, sampleindex.ErrInvalidQuery) {
		t.Errorf("unknown study error = %v", err)
	}

	_, _, err = p.Plan(ctx, query.Query{query.Sample: "sampleA", query.Region: "1:300-100"})
	if !errors.As(err, &qe) || qe.Param != query.Region {
		t.Errorf("bad region error = %v", err)
	}

	_, _, err = p.Plan(ctx, query.Query{query.Sample: "sampleA", query.Type: "WIDGET"})
	if !errors.Is(err, query.ErrMalformed) {
		t.Errorf("bad type error = %v", err)
	}

	_, _, err = p.Plan(ctx, query.Query{query.MendelianError: "child,!father"})
	if !errors.Is(err, sampleindex.ErrInvalidQuery) {
		t.Errorf("negated mendelian sample error = %v", err)
	}

	for _, q := range []query.Query{
		{query.Genotype: "sampleA:0/1", query.ID: "rs123"},
		{query.Sample: "!sampleA"},
		{query.Sample: "sampleA,!sampleB"},
		{query.Genotype: "sampleA:0/1,sampleB:!0/0"},
		{query.Filter: "PASS"},
	} {
		if _, _, err := p.Plan(ctx, q); !errors.Is(err, sampleindex.ErrNotSupported) {
			t.Errorf("Plan(%v) error = %v, want ErrNotSupported", q, err)
		}
	}

	if err := s.PutStudy(ctx, metadata.Study{ID: 2, Name: "study2"}); err != nil {
		t.Fatal(err)
	}
	_, _, err = p.Plan(ctx, query.Query{query.Sample: "sampleA"})
	if !errors.Is(err, sampleindex.ErrMissingStudy) {
		t.Errorf("ambiguous study error = %v, want ErrMissingStudy", err)
	}
	if err == nil || !strings.Contains(err.Error(), "study2") {
		t.Errorf("missing study error %v does not list the studies", err)
	}
	if _, _, err := p.Plan(ctx, query.Query{query.Sample: "sampleA", query.Study: "study1"}); err != nil {
		t.Errorf("explicit study: %v", err)
	}
}

var corpus = []query.Query{
	{query.Genotype: "sampleA:0/1,1/1;sampleB:0/0", query.Region: "1:1000-2000"},
	{query.Genotype: "sampleA:0/1;sampleB:!0/0", query.Filter: "PASS", query.Qual: ">=30"},
	{query.Genotype: "child:0/1;father:0/0;mother:0/1", query.ConsequenceType: "missense_variant"},
	{query.Genotype: "sampleA:HOM_ALT", query.Format: "sampleA:DP>=15", query.Type: "SNP"},
	{query.Sample: "sampleA,sampleB", query.Filter: "PASS,q10", query.ClinicalSignificance: "pathogenic"},
	{query.Sample: "sampleA", query.PopulationFrequency: "1kG_phase3:ALL<0.01;GNOMAD_EXOMES:ALL<0.05"},
	{query.MendelianError: "child", query.Biotype: "protein_coding"},
	{query.DeNovo: "child", query.Info: "trio.vcf.gz:DP>10"},
	{query.Genotype: "sampleA:0/1;sampleB:!0/0", query.PopulationFrequency: "1kG_phase3:ALL<0.01;GNOMAD_EXOMES:ALL<0.05"},
	{query.Sample: "sampleA;!sampleB", query.Filter: "PASS"},
	{query.Genotype: "sampleA:0/1", query.Format: "sampleA:DP>=12", query.Qual: ">=20"},
	{query.Genotype: "sampleA:0/1", query.Format: "sampleA:DP>5,GQ>3"},
	{query.Genotype: "sampleA:0/1", query.Info: "a.vcf.gz:DP>5,QD>2"},
	{query.Sample: "sampleA", query.PopulationFrequency: "1kG_phase3:ALL<0.005,GNOMAD_GENOMES:ALL<0.005"},
	{query.Sample: "sampleA", query.PopulationFrequency: "1kG_phase3:ALL<0.007,GNOMAD_GENOMES:ALL<0.007"},
	{query.Genotype: "sampleA:0/1", query.ConsequenceType: "missense_variant;stop_gained"},
	{query.Genotype: "sampleA:1/1,sampleB:1/1", query.Qual: ">=25"},
	{query.Sample: "father,mother", query.Filter: "PASS", query.Qual: ">=20"},
}

// Planning a residual again must not cover anything new.
func TestPlanIdempotent(t *testing.T) {
	p, _ := newPlanner(t)
	for _, q := range corpus {
		_, residual := plan(t, p, q)
		if ok, err := sampleindex.Valid(residual); err != nil || !ok {
			continue
		}
		_, again := plan(t, p, residual)
		if removed := residual.Removed(again); len(removed) != 0 {
			t.Errorf("%v: second pass removed %v", q, removed)
		}
	}
}

func TestPlanResidualIsSubset(t *testing.T) {
	p, _ := newPlanner(t)
	for _, q := range corpus {
		_, residual := plan(t, p, q)
		for param, v := range residual {
			if !q.Has(param) {
				t.Errorf("%v: residual added %s=%q", q, param, v)
			}
		}
	}
}

func TestPlanConcurrent(t *testing.T) {
	p, _ := newPlanner(t)
	var wg sync.WaitGroup
	for i := range 16 {
		q := corpus[i%len(corpus)]
		wg.Go(func() {
			if _, _, err := p.Plan(context.Background(), q); err != nil {
				t.Errorf("Plan(%v): %v", q, err)
			}
		})
	}
	wg.Wait()
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.QualThresholds = []float64{30, 10}
	if _, err := sampleindex.New(metadata.NewManager(memory.NewStore()), cfg, nil); err == nil {
		t.Error("descending thresholds accepted")
	}
	if _, err := sampleindex.New(nil, config.Default(), nil); err == nil {
		t.Error("nil manager accepted")
	}
}

package sampleindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/family"
	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/index/annotation"
	"github.com/wychytu/opencga/internal/index/file"
	"github.com/wychytu/opencga/internal/logging"
	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/query"
	"github.com/wychytu/opencga/internal/region"
)

// Planner turns variant queries into sample index plans. A Planner holds
// no mutable state and is safe for concurrent use.
type Planner struct {
	mm          metadata.Manager
	cfg         config.SampleIndexConfiguration
	files       *file.Builder
	annotations *annotation.Builder
	logger      *slog.Logger
}

// New creates a Planner reading sample metadata through mm. A nil logger
// discards output.
func New(mm metadata.Manager, cfg config.SampleIndexConfiguration, logger *slog.Logger) (*Planner, error) {
	if mm == nil {
		return nil, errors.New("sampleindex: nil metadata manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sampleindex: %w", err)
	}
	logger = logging.Default(logger)
	return &Planner{
		mm:          mm,
		cfg:         cfg,
		files:       file.NewBuilder(cfg, logger),
		annotations: annotation.NewBuilder(cfg, logger),
		logger:      logger.With("component", "sample-index-planner"),
	}, nil
}

// planState carries what Plan learns about the samples while building.
type planState struct {
	plan    *SampleIndexQuery
	study   metadata.Study
	samples map[string]metadata.Sample // every sample named by the query

	// partialIndex is set when the selection itself cannot be answered
	// by the index alone.
	partialIndex bool
	// negatedGenotypes are samples left out of the plan because their
	// genotype filter, or their SAMPLE entry, is negated.
	negatedGenotypes []string
	// parentsInQuery are parents folded into their child's filter.
	parentsInQuery []string
	// covered is the selection predicate the plan answers exactly, if any.
	// It is dropped once no FORMAT filter is left that still needs it.
	covered query.Param
}

// Plan builds the sample index plan for q and returns it together with
// the residual query: q without the predicates the plan answers exactly.
// q itself is never modified.
func (p *Planner) Plan(ctx context.Context, q query.Query) (*SampleIndexQuery, query.Query, error) {
	ok, err := Valid(q)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotSupported
	}

	residual := q.Clone()
	st := &planState{
		plan: &SampleIndexQuery{
			Samples:      make(map[string][]string),
			FatherFilter: make(map[string]family.ParentFilter),
			MotherFilter: make(map[string]family.ParentFilter),
			FileFilter:   make(map[string]*file.SampleFileIndexQuery),
		},
		samples: make(map[string]metadata.Sample),
	}

	if st.plan.Regions, err = regions(q, residual); err != nil {
		return nil, nil, err
	}

	if st.study, err = p.study(ctx, q); err != nil {
		return nil, nil, err
	}
	st.plan.Study = st.study.Name

	sel, err := selectionOf(q)
	if err != nil {
		return nil, nil, err
	}
	if sel == nil {
		return nil, nil, fmt.Errorf("%w: valid query without a sample selection", ErrInvariant)
	}
	st.plan.Operation = sel.operation()
	if st.plan.Operation == query.OpNone {
		st.plan.Operation = query.OpAnd
	}

	switch sel := sel.(type) {
	case genotypeSelection:
		err = p.planGenotypes(ctx, st, sel)
	case sampleSelection:
		err = p.planSamples(ctx, st, sel)
	case mendelianErrorSelection:
		err = p.planTrios(ctx, st, query.MendelianError, sel.samples)
		st.partialIndex = true
	case deNovoSelection:
		err = p.planTrios(ctx, st, query.DeNovo, sel.samples)
		st.plan.OnlyDeNovo = true
	}
	if err != nil {
		return nil, nil, err
	}

	partialFiles, err := p.partialFiles(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	if err := p.planFiles(ctx, st, residual, partialFiles); err != nil {
		return nil, nil, err
	}
	if st.covered != "" && !residual.Has(query.Format) && !st.pairsFiles(residual) {
		delete(residual, st.covered)
	}

	st.plan.Complete = p.complete(st)

	st.plan.Annotation, err = p.annotations.Build(annotation.Input{
		Residual:  residual,
		Complete:  st.plan.Complete,
		HasRegion: q.Has(query.Region),
	})
	if err != nil {
		return nil, nil, err
	}

	if st.plan.VariantTypes, err = variantTypes(q, residual); err != nil {
		return nil, nil, err
	}

	p.logger.Debug("planned query",
		"study", st.plan.Study,
		"samples", len(st.plan.Samples),
		"complete", st.plan.Complete,
		"partialFiles", partialFiles,
		"residual", residual.Keys())
	return st.plan, residual, nil
}

// regions merges REGION and the gene regions into one sorted list. Both
// predicates, and GENE with the gene regions, are always covered.
func regions(q, residual query.Query) ([]region.Region, error) {
	var lists [][]region.Region
	for _, param := range []query.Param{query.Region, query.GeneRegions} {
		if !q.Has(param) {
			continue
		}
		raw := q.Get(param)
		rs, err := region.ParseList(raw)
		if err != nil {
			return nil, query.NewError(param, raw, query.ErrMalformed, "%v", err)
		}
		lists = append(lists, rs)
		delete(residual, param)
		if param == query.GeneRegions {
			delete(residual, query.Gene)
		}
	}
	return region.Merge(lists...), nil
}

func (p *Planner) study(ctx context.Context, q query.Query) (metadata.Study, error) {
	s, err := p.mm.DefaultStudy(ctx, q, "")
	if errors.Is(err, metadata.ErrNotFound) {
		return s, query.NewError(query.Study, q.Get(query.Study), err, "unknown study")
	}
	return s, err
}

// resolve looks up a sample named, or numbered, raw within the study. The
// sample is recorded under its canonical name.
func (p *Planner) resolve(ctx context.Context, st *planState, param query.Param, name string) (metadata.Sample, error) {
	id, err := p.mm.SampleID(ctx, st.study.ID, name)
	if err == nil {
		var sm metadata.Sample
		if sm, err = p.mm.SampleMetadata(ctx, st.study.ID, id); err == nil {
			st.samples[sm.Name] = sm
			return sm, nil
		}
	}
	if errors.Is(err, metadata.ErrNotFound) {
		return metadata.Sample{}, query.NewError(param, name, err, "unknown sample in study %s", st.study.Name)
	}
	return metadata.Sample{}, err
}

func (p *Planner) planGenotypes(ctx context.Context, st *planState, sel genotypeSelection) error {
	loaded := st.study.Genotypes()
	var (
		names   []string
		gts     = make(map[string][]string)
		parents = make(map[string]family.Parents)
		invalid = make(map[string]bool)
	)
	for _, f := range sel.filters {
		sm, err := p.resolve(ctx, st, query.Genotype, f.Sample)
		if err != nil {
			return err
		}
		if _, dup := gts[sm.Name]; dup {
			return query.NewError(query.Genotype, sel.raw, query.ErrMalformed, "sample %s given twice", sm.Name)
		}
		list := genotype.FilterClasses(f.Genotypes, loaded)
		names = append(names, sm.Name)
		gts[sm.Name] = list

		if !allValid(list) {
			invalid[sm.Name] = true
			continue
		}
		if sm.StatusOf(metadata.TaskFamilyIndex) != metadata.StatusReady {
			continue
		}
		par, err := p.parents(ctx, st, sm)
		if err != nil {
			return err
		}
		if par.Any() {
			parents[sm.Name] = par
		}
	}

	// Only indexable parent filters can be folded: the child's parent
	// codes are tested as a whitelist.
	foldable := make(map[string][]string, len(gts))
	for name, list := range gts {
		if !invalid[name] {
			foldable[name] = list
		}
	}
	children, err := family.FindChildren(foldable, sel.op, parents)
	if err != nil {
		return err
	}
	folded := make(map[string]bool)
	if sel.op != query.OpOr {
		for _, par := range children {
			for _, parent := range []string{par.Father, par.Mother} {
				if parent != "" {
					folded[parent] = true
				}
			}
		}
	}

	partialGt := false
	for _, name := range names {
		list := gts[name]
		if _, child := children[name]; folded[name] && !child {
			p.logger.Debug("discard parent", "sample", name)
			st.parentsInQuery = append(st.parentsInQuery, name)
			continue
		}
		negated, err := family.HasNegatedGenotypeFilter(sel.op, list)
		if err != nil {
			return err
		}
		if negated {
			p.logger.Debug("negated genotype filter", "sample", name)
			st.negatedGenotypes = append(st.negatedGenotypes, name)
			st.partialIndex = true
			partialGt = true
			continue
		}
		st.plan.Samples[name] = list
		if sel.op == query.OpOr {
			continue
		}
		par, ok := children[name]
		if !ok {
			continue
		}
		if par.Father != "" {
			f := family.BuildParentFilter(gts[par.Father])
			partialGt = partialGt || !f.FullyCovered()
			st.plan.FatherFilter[name] = f
		}
		if par.Mother != "" {
			f := family.BuildParentFilter(gts[par.Mother])
			partialGt = partialGt || !f.FullyCovered()
			st.plan.MotherFilter[name] = f
		}
	}
	partialGt = partialGt || len(invalid) > 0

	// A sample asking for genotypes the index cannot encode is matched by
	// exclusion: it must have none of the other indexed genotypes.
	valid := validGenotypes(loaded)
	for name := range invalid {
		list, ok := st.plan.Samples[name]
		if !ok {
			continue
		}
		st.plan.Samples[name] = slices.DeleteFunc(slices.Clone(valid), func(gt string) bool {
			return slices.Contains(list, gt)
		})
		st.plan.NegatedSamples = append(st.plan.NegatedSamples, name)
	}
	slices.Sort(st.plan.NegatedSamples)

	if !partialGt {
		st.covered = query.Genotype
	}
	return nil
}

func (p *Planner) parents(ctx context.Context, st *planState, sm metadata.Sample) (family.Parents, error) {
	var par family.Parents
	var err error
	if sm.Father != nil {
		if par.Father, err = p.mm.SampleName(ctx, st.study.ID, *sm.Father); err != nil {
			return par, fmt.Errorf("father of %s: %w", sm.Name, err)
		}
	}
	if sm.Mother != nil {
		if par.Mother, err = p.mm.SampleName(ctx, st.study.ID, *sm.Mother); err != nil {
			return par, fmt.Errorf("mother of %s: %w", sm.Name, err)
		}
	}
	return par, nil
}

func (p *Planner) planSamples(ctx context.Context, st *planState, sel sampleSelection) error {
	main := genotype.MainAlt.Filter(validGenotypes(st.study.Genotypes()))
	for _, name := range sel.samples {
		sm, err := p.resolve(ctx, st, query.Sample, name)
		if err != nil {
			return err
		}
		st.plan.Samples[sm.Name] = slices.Clone(main)
	}
	for _, name := range sel.excluded {
		sm, err := p.resolve(ctx, st, query.Sample, name)
		if err != nil {
			return err
		}
		p.logger.Debug("negated sample", "sample", sm.Name)
		st.negatedGenotypes = append(st.negatedGenotypes, sm.Name)
		st.partialIndex = true
	}
	if len(sel.excluded) == 0 {
		st.covered = query.Sample
	}
	return nil
}

// planTrios selects children by their mendelian error or de novo calls.
func (p *Planner) planTrios(ctx context.Context, st *planState, param query.Param, samples []string) error {
	main := genotype.MainAlt.Filter(validGenotypes(st.study.Genotypes()))
	for _, name := range samples {
		if query.IsNegated(name) {
			return query.NewError(param, name, query.ErrMalformed, "negated samples are not supported")
		}
		sm, err := p.resolve(ctx, st, param, name)
		if err != nil {
			return err
		}
		st.plan.Samples[sm.Name] = slices.Clone(main)
		if !slices.Contains(st.plan.MendelianErrorSamples, sm.Name) {
			st.plan.MendelianErrorSamples = append(st.plan.MendelianErrorSamples, sm.Name)
		}
	}
	slices.Sort(st.plan.MendelianErrorSamples)
	st.covered = param
	return nil
}

// pairsFiles reports whether residual still has a per-file predicate that
// must be checked against the file of the sample that selected the
// variant. Under OR only the selection itself tells which sample that is.
func (st *planState) pairsFiles(residual query.Query) bool {
	return st.plan.Operation == query.OpOr &&
		(residual.Has(query.Filter) || residual.Has(query.Qual))
}

// partialFiles reports whether a sample left out of the plan has a file
// no planned sample shares. Such a file has variants the plan cannot
// see, so per-file predicates must stay in the residual.
func (p *Planner) partialFiles(ctx context.Context, st *planState) (bool, error) {
	others := slices.Concat(st.negatedGenotypes, st.parentsInQuery)
	if len(others) == 0 {
		return false, nil
	}
	ids := make([]int, 0, len(st.plan.Samples))
	for name := range st.plan.Samples {
		ids = append(ids, st.samples[name].ID)
	}
	planned, err := p.mm.FileIDsFromSampleIDs(ctx, st.study.ID, ids)
	if err != nil {
		return false, err
	}
	for _, name := range others {
		for _, f := range st.samples[name].Files {
			if _, found := slices.BinarySearch(planned, f); !found {
				p.logger.Debug("partial files", "sample", name, "file", f)
				return true, nil
			}
		}
	}
	return false, nil
}

// planFiles builds every sample's file filter from the same view of the
// query and only then drops what all of them cover.
func (p *Planner) planFiles(ctx context.Context, st *planState, residual query.Query, partialFiles bool) error {
	snapshot := residual.Clone()
	type removal struct {
		sample string
		rm     file.Removals
	}
	var removals []removal
	for _, name := range st.plan.SampleNames() {
		sm := st.samples[name]
		fq, rm, err := p.files.Build(file.Input{
			Query:        snapshot,
			Sample:       name,
			Files:        func() ([]string, error) { return p.fileNames(ctx, st.study.ID, sm) },
			PartialFiles: partialFiles,
		})
		if err != nil {
			return err
		}
		st.plan.FileFilter[name] = fq
		removals = append(removals, removal{name, rm})
	}
	for _, r := range removals {
		if err := r.rm.Apply(residual, r.sample); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) fileNames(ctx context.Context, studyID int, sm metadata.Sample) ([]string, error) {
	ids, err := p.mm.FileIDsFromSampleIDs(ctx, studyID, []int{sm.ID})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, err := p.mm.FileName(ctx, studyID, id)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// complete reports whether the index answers the sample selection on its
// own: nothing was left out and every sample has its index built.
func (p *Planner) complete(st *planState) bool {
	if st.partialIndex || len(st.negatedGenotypes) > 0 {
		return false
	}
	for name := range st.plan.Samples {
		if st.samples[name].StatusOf(metadata.TaskSampleIndex) != metadata.StatusReady {
			p.logger.Debug("sample index not ready", "sample", name)
			return false
		}
	}
	return true
}

// variantTypes normalises the TYPE filter. TYPE is dropped unless it asks
// for SNP or MNP without their generic form: the index stores both under
// SNV and MNV.
func variantTypes(q, residual query.Query) ([]string, error) {
	if !q.Has(query.Type) {
		return nil, nil
	}
	names := q.List(query.Type)
	var types []string
	for _, name := range names {
		if _, ok := file.TypeCode(name); !ok {
			return nil, query.NewError(query.Type, q.Get(query.Type), query.ErrMalformed, "unknown variant type %q", name)
		}
		switch t := strings.ToUpper(strings.TrimSpace(name)); t {
		case "SNP":
			types = append(types, "SNV")
		case "MNP":
			types = append(types, "MNV")
		default:
			types = append(types, t)
		}
	}
	slices.Sort(types)
	types = slices.Compact(types)
	if !file.HasSNPFilter(names) && !file.HasMNPFilter(names) {
		delete(residual, query.Type)
	}
	return types, nil
}

func validGenotypes(gts []string) []string {
	var out []string
	for _, gt := range gts {
		if genotype.IsValid(gt) {
			out = append(out, gt)
		}
	}
	return out
}

func allValid(gts []string) bool {
	for _, gt := range gts {
		if !genotype.IsValid(gt) {
			return false
		}
	}
	return true
}

// Package file builds the per-sample file index filter of a sample index
// query. Every call of a sample carries one packed byte describing the
// FILTER, variant type, QUAL and DP of the file it came from; the filter
// is a mask of the relevant bits plus a table of accepted byte values.
package file

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/wychytu/opencga/internal/config"
	"github.com/wychytu/opencga/internal/index/rangecode"
	"github.com/wychytu/opencga/internal/logging"
	"github.com/wychytu/opencga/internal/query"
)

const (
	pass     = "PASS"
	notPass  = query.Not + pass
	depthKey = "DP"
)

// SampleFileIndexQuery filters the file index bytes of one sample.
type SampleFileIndexQuery struct {
	Sample string                `msgpack:"sample"`
	Mask   byte                  `msgpack:"mask"`
	Qual   *rangecode.RangeQuery `msgpack:"qual,omitempty"`
	DP     *rangecode.RangeQuery `msgpack:"dp,omitempty"`
	// Valid is indexed by the full packed byte and is true for every byte
	// value that satisfies the filter.
	Valid [256]bool `msgpack:"valid"`
}

// Matches reports whether a call with file index byte b passes.
func (q *SampleFileIndexQuery) Matches(b byte) bool {
	return q.Valid[b]
}

// Empty reports whether the query filters nothing.
func (q *SampleFileIndexQuery) Empty() bool {
	return q.Mask == 0
}

// Removals lists the predicates the file index fully answers for one
// sample.
type Removals struct {
	Type   bool
	Filter bool
	Qual   bool
	// Format is set when the FORMAT filter of the sample is answered, so
	// that the sample's entry can be dropped from FORMAT.
	Format bool
}

// Apply removes the covered predicates of sample from q.
func (r Removals) Apply(q query.Query, sample string) error {
	if r.Type {
		delete(q, query.Type)
	}
	if r.Filter {
		delete(q, query.Filter)
	}
	if r.Qual {
		delete(q, query.Qual)
	}
	if r.Format && q.Has(query.Format) {
		op, kvs, err := query.ParseKeyValues(query.Format, q.Get(query.Format))
		if err != nil {
			return err
		}
		kvs = slices.DeleteFunc(kvs, func(kv query.KeyValue) bool { return kv.Key == sample })
		if len(kvs) == 0 {
			delete(q, query.Format)
		} else {
			q[query.Format] = query.JoinKeyValues(op, kvs)
		}
	}
	return nil
}

// Builder builds file index queries for a fixed configuration.
type Builder struct {
	qualThresholds []float64
	dpThresholds   []float64
	logger         *slog.Logger
}

// NewBuilder creates a Builder. A nil logger discards output.
func NewBuilder(cfg config.SampleIndexConfiguration, logger *slog.Logger) *Builder {
	return &Builder{
		qualThresholds: cfg.QualThresholds,
		dpThresholds:   cfg.DPThresholds,
		logger:         logging.Default(logger).With("component", "file-index"),
	}
}

// Input is what Build reads.
type Input struct {
	// Query holds the predicates as they were before any sample was
	// built. Build does not modify it.
	Query  query.Query
	Sample string
	// Files returns the names of the files of Sample. It is only called
	// when an INFO filter needs it.
	Files func() ([]string, error)
	// PartialFiles is set when a sample left out of the index plan shares
	// no file with the planned samples. Predicates on shared file bytes
	// cannot be dropped then.
	PartialFiles bool
}

// Build encodes the TYPE, FILTER, QUAL and DP predicates of in.Query for
// one sample.
func (b *Builder) Build(in Input) (*SampleFileIndexQuery, Removals, error) {
	q := in.Query
	var (
		mask      byte
		rm        Removals
		types     []uint8
		filterSet bool
		qualQuery *rangecode.RangeQuery
		dpQuery   *rangecode.RangeQuery
	)

	if q.Has(query.Type) {
		names := q.List(query.Type)
		hasOther := false
		for _, name := range names {
			code, ok := TypeCode(name)
			if !ok {
				return nil, rm, query.NewError(query.Type, q.Get(query.Type), query.ErrMalformed, "unknown variant type %q", name)
			}
			if !slices.Contains(types, code) {
				types = append(types, code)
			}
			hasOther = hasOther || code == TypeOther
		}
		if len(types) > 0 {
			mask |= TypeMask
		}
		rm.Type = !hasOther && !HasSNPFilter(names) && !HasMNPFilter(names)
	}

	if q.Has(query.Filter) {
		_, values, err := query.SplitValue(q.Get(query.Filter))
		if err != nil {
			return nil, rm, query.NewError(query.Filter, q.Get(query.Filter), err, "%v", err)
		}
		var covered bool
		mask, filterSet, covered = filterMask(mask, values)
		rm.Filter = covered && !in.PartialFiles
	}

	if q.Has(query.Qual) {
		raw := q.Get(query.Qual)
		_, values, err := query.SplitValue(raw)
		if err != nil {
			return nil, rm, query.NewError(query.Qual, raw, err, "%v", err)
		}
		if len(values) == 1 {
			r, err := b.rangeQuery(query.Qual, raw, values[0], b.qualThresholds)
			if err != nil {
				return nil, rm, err
			}
			qualQuery = &r
			mask |= QualMask
			rm.Qual = r.Exact && !in.PartialFiles
		}
	}

	if q.Has(query.Info) {
		r, err := b.infoDepth(q, in.Files)
		if err != nil {
			return nil, rm, err
		}
		if r != nil {
			dpQuery = r
			mask |= DPMask
		}
	}

	if q.Has(query.Format) {
		r, only, err := b.formatDepth(q, in.Sample)
		if err != nil {
			return nil, rm, err
		}
		if r != nil {
			dpQuery = r
			mask |= DPMask
			rm.Format = r.Exact && !in.PartialFiles && only
		}
	}

	out := &SampleFileIndexQuery{
		Sample: in.Sample,
		Mask:   mask,
		Qual:   qualQuery,
		DP:     dpQuery,
	}
	out.Valid = validTable(mask, filterSet, types, qualQuery, dpQuery)
	b.logger.Debug("file index query", "sample", in.Sample, "mask", fmt.Sprintf("%08b", mask))
	return out, rm, nil
}

// filterMask returns the new mask, the required value of the PASS bit and
// whether the FILTER predicate is fully answered by that bit.
func filterMask(mask byte, values []string) (byte, bool, bool) {
	if len(values) == 1 {
		switch v := values[0]; {
		case v == pass:
			return mask | FilterPassMask, true, true
		case v == notPass:
			return mask | FilterPassMask, false, false
		case !query.IsNegated(v):
			return mask | FilterPassMask, false, false
		}
		return mask, false, false
	}
	if slices.Contains(values, pass) {
		return mask, false, false
	}
	for _, v := range values {
		if query.IsNegated(v) {
			return mask, false, false
		}
	}
	return mask | FilterPassMask, false, false
}

func (b *Builder) infoDepth(q query.Query, files func() ([]string, error)) (*rangecode.RangeQuery, error) {
	raw := q.Get(query.Info)
	op, kvs, err := query.ParseKeyValues(query.Info, raw)
	if err != nil {
		return nil, err
	}
	if op == query.OpOr || files == nil {
		return nil, nil
	}
	names, err := files()
	if err != nil {
		return nil, err
	}
	var dp *rangecode.RangeQuery
	for _, kv := range kvs {
		if !slices.Contains(names, kv.Key) {
			continue
		}
		valueOp, values, err := query.SplitValue(kv.Value)
		if err != nil {
			return nil, query.NewError(query.Info, raw, err, "%v", err)
		}
		if valueOp == query.OpOr {
			// DP is one alternative among others, so it does not bound the file.
			continue
		}
		for _, v := range values {
			key, _, _, err := query.SplitOperator(v)
			if err != nil {
				return nil, query.NewError(query.Info, raw, query.ErrMalformed, "%v", err)
			}
			if key != depthKey {
				continue
			}
			r, err := b.rangeQuery(query.Info, raw, v, b.dpThresholds)
			if err != nil {
				return nil, err
			}
			dp = &r
		}
	}
	return dp, nil
}

// formatDepth returns the DP range of the sample's FORMAT filter, and
// whether DP is the only FORMAT filter of that sample.
func (b *Builder) formatDepth(q query.Query, sample string) (*rangecode.RangeQuery, bool, error) {
	raw := q.Get(query.Format)
	op, kvs, err := query.ParseKeyValues(query.Format, raw)
	if err != nil {
		return nil, false, err
	}
	if op == query.OpOr {
		return nil, false, nil
	}
	i := slices.IndexFunc(kvs, func(kv query.KeyValue) bool { return kv.Key == sample })
	if i < 0 {
		return nil, false, nil
	}
	valueOp, values, err := query.SplitValue(kvs[i].Value)
	if err != nil {
		return nil, false, query.NewError(query.Format, raw, err, "%v", err)
	}
	if valueOp == query.OpOr {
		return nil, false, nil
	}
	var dp *rangecode.RangeQuery
	for _, v := range values {
		key, _, _, err := query.SplitOperator(v)
		if err != nil {
			return nil, false, query.NewError(query.Format, raw, query.ErrMalformed, "%v", err)
		}
		if key != depthKey {
			continue
		}
		r, err := b.rangeQuery(query.Format, raw, v, b.dpThresholds)
		if err != nil {
			return nil, false, err
		}
		dp = &r
	}
	return dp, len(values) == 1, nil
}

func (b *Builder) rangeQuery(p query.Param, raw, expr string, thresholds []float64) (rangecode.RangeQuery, error) {
	_, op, value, err := query.SplitOperator(expr)
	if err != nil {
		return rangecode.RangeQuery{}, query.NewError(p, raw, query.ErrMalformed, "%v", err)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return rangecode.RangeQuery{}, query.NewError(p, raw, query.ErrMalformed, "%q is not a number", value)
	}
	r, err := rangecode.New(op, v, thresholds, 0, rangecode.Max)
	if err != nil {
		return rangecode.RangeQuery{}, query.NewError(p, raw, query.ErrUnknownOperator, "%v", err)
	}
	return r, nil
}

// validTable evaluates the filter once for each of the 256 byte values.
func validTable(mask byte, pass bool, types []uint8, qual, dp *rangecode.RangeQuery) [256]bool {
	var table [256]bool
	for i := range table {
		b := byte(i)
		isPass, typeCode, qualCode, dpCode := Unpack(b)
		ok := true
		if mask&FilterPassMask != 0 {
			ok = ok && isPass == pass
		}
		if mask&TypeMask != 0 {
			ok = ok && slices.Contains(types, typeCode)
		}
		if mask&QualMask != 0 && qual != nil {
			ok = ok && qual.Contains(qualCode)
		}
		if mask&DPMask != 0 && dp != nil {
			ok = ok && dp.Contains(dpCode)
		}
		table[i] = ok
	}
	return table
}

// HasSNPFilter reports whether types asks for SNP but not SNV. The index
// does not tell the two apart.
func HasSNPFilter(types []string) bool {
	return containsFold(types, "SNP") && !containsFold(types, "SNV")
}

// HasMNPFilter reports whether types asks for MNP but not MNV.
func HasMNPFilter(types []string) bool {
	return containsFold(types, "MNP") && !containsFold(types, "MNV")
}

func containsFold(values []string, target string) bool {
	return slices.ContainsFunc(values, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), target)
	})
}

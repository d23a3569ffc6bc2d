package metadata

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wychytu/opencga/internal/query"
)

// Manager is the read side of the metadata used while planning a query.
type Manager interface {
	// SampleID resolves a sample name, or a numeric id, within a study.
	SampleID(ctx context.Context, studyID int, sample string) (int, error)
	SampleMetadata(ctx context.Context, studyID, sampleID int) (Sample, error)
	SampleName(ctx context.Context, studyID, sampleID int) (string, error)
	// FileIDsFromSampleIDs returns the sorted union of the files of the
	// given samples.
	FileIDsFromSampleIDs(ctx context.Context, studyID int, sampleIDs []int) ([]int, error)
	FileName(ctx context.Context, studyID, fileID int) (string, error)
	// DefaultStudy picks the study a query runs against: explicit if set,
	// else the STUDY predicate, else the only study there is. Anything
	// else fails with ErrMissingStudy.
	DefaultStudy(ctx context.Context, q query.Query, explicit string) (Study, error)
	StudyNames(ctx context.Context) ([]string, error)
}

// StoreManager implements Manager on top of a Store.
type StoreManager struct {
	store Store
}

var _ Manager = (*StoreManager)(nil)

// NewManager creates a Manager reading from store.
func NewManager(store Store) *StoreManager {
	return &StoreManager{store: store}
}

func (m *StoreManager) SampleID(ctx context.Context, studyID int, sample string) (int, error) {
	sample = strings.TrimSpace(sample)
	samples, err := m.store.ListSamples(ctx, studyID)
	if err != nil {
		return 0, err
	}
	for _, s := range samples {
		if s.Name == sample {
			return s.ID, nil
		}
	}
	if id, err := strconv.Atoi(sample); err == nil {
		for _, s := range samples {
			if s.ID == id {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("sample %q in study %d: %w", sample, studyID, ErrNotFound)
}

func (m *StoreManager) SampleMetadata(ctx context.Context, studyID, sampleID int) (Sample, error) {
	return m.store.GetSample(ctx, studyID, sampleID)
}

func (m *StoreManager) SampleName(ctx context.Context, studyID, sampleID int) (string, error) {
	s, err := m.store.GetSample(ctx, studyID, sampleID)
	if err != nil {
		return "", err
	}
	return s.Name, nil
}

func (m *StoreManager) FileIDsFromSampleIDs(ctx context.Context, studyID int, sampleIDs []int) ([]int, error) {
	var ids []int
	for _, id := range sampleIDs {
		s, err := m.store.GetSample(ctx, studyID, id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, s.Files...)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (m *StoreManager) FileName(ctx context.Context, studyID, fileID int) (string, error) {
	f, err := m.store.GetFile(ctx, studyID, fileID)
	if err != nil {
		return "", err
	}
	return f.Name, nil
}

func (m *StoreManager) DefaultStudy(ctx context.Context, q query.Query, explicit string) (Study, error) {
	studies, err := m.store.ListStudies(ctx)
	if err != nil {
		return Study{}, err
	}
	name := strings.TrimSpace(explicit)
	if name == "" && q.Has(query.Study) {
		var named []string
		_, values, err := query.SplitValue(q.Get(query.Study))
		if err != nil {
			return Study{}, query.NewError(query.Study, q.Get(query.Study), err, "%v", err)
		}
		for _, v := range values {
			if !query.IsNegated(v) {
				named = append(named, v)
			}
		}
		if len(named) > 1 {
			return Study{}, m.missingStudy(studies)
		}
		if len(named) == 1 {
			name = named[0]
		}
	}
	if name == "" {
		if len(studies) == 1 {
			return studies[0], nil
		}
		return Study{}, m.missingStudy(studies)
	}
	for _, s := range studies {
		if s.Name == name || strconv.Itoa(s.ID) == name {
			return s, nil
		}
	}
	return Study{}, fmt.Errorf("study %q: %w", name, ErrNotFound)
}

func (m *StoreManager) missingStudy(studies []Study) error {
	names := make([]string, len(studies))
	for i, s := range studies {
		names[i] = s.Name
	}
	return fmt.Errorf("%w: select one of [%s]", ErrMissingStudy, strings.Join(names, ", "))
}

func (m *StoreManager) StudyNames(ctx context.Context) ([]string, error) {
	studies, err := m.store.ListStudies(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(studies))
	for i, s := range studies {
		names[i] = s.Name
	}
	return names, nil
}

// NextStudyID returns one past the highest study id in store.
func NextStudyID(ctx context.Context, store Store) (int, error) {
	studies, err := store.ListStudies(ctx)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, s := range studies {
		next = max(next, s.ID+1)
	}
	return next, nil
}

// NextSampleID returns one past the highest sample id of a study.
func NextSampleID(ctx context.Context, store Store, studyID int) (int, error) {
	samples, err := store.ListSamples(ctx, studyID)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, s := range samples {
		next = max(next, s.ID+1)
	}
	return next, nil
}

// NextFileID returns one past the highest file id of a study.
func NextFileID(ctx context.Context, store Store, studyID int) (int, error) {
	files, err := store.ListFiles(ctx, studyID)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, f := range files {
		next = max(next, f.ID+1)
	}
	return next, nil
}

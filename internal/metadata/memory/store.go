// Package memory provides an in-memory metadata.Store implementation.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/wychytu/opencga/internal/metadata"
)

type key struct {
	study int
	id    int
}

// Store is an in-memory metadata.Store implementation.
// Intended for testing. Metadata is not persisted across restarts.
type Store struct {
	mu      sync.RWMutex
	studies map[int]metadata.Study
	samples map[key]metadata.Sample
	files   map[key]metadata.File
	lock    *metadata.Lock
}

var _ metadata.Store = (*Store)(nil)

// NewStore creates an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		studies: make(map[int]metadata.Study),
		samples: make(map[key]metadata.Sample),
		files:   make(map[key]metadata.File),
	}
}

func (s *Store) PutStudy(ctx context.Context, st metadata.Study) error {
	if err := metadata.ValidateStudy(st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.studies {
		if other.Name == st.Name && other.ID != st.ID {
			return fmt.Errorf("%w: study name %q already used by study %d", metadata.ErrInvalid, st.Name, other.ID)
		}
	}
	st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
	s.studies[st.ID] = st
	return nil
}

func (s *Store) GetStudy(ctx context.Context, id int) (metadata.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[id]
	if !ok {
		return metadata.Study{}, fmt.Errorf("study %d: %w", id, metadata.ErrNotFound)
	}
	st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
	return st, nil
}

func (s *Store) ListStudies(ctx context.Context) ([]metadata.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metadata.Study, 0, len(s.studies))
	for _, id := range slices.Sorted(maps.Keys(s.studies)) {
		st := s.studies[id]
		st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) PutSample(ctx context.Context, sm metadata.Sample) error {
	if err := metadata.ValidateSample(sm); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[sm.StudyID]; !ok {
		return fmt.Errorf("study %d: %w", sm.StudyID, metadata.ErrNotFound)
	}
	for k, other := range s.samples {
		if k.study == sm.StudyID && other.Name == sm.Name && other.ID != sm.ID {
			return fmt.Errorf("%w: sample name %q already used by sample %d", metadata.ErrInvalid, sm.Name, other.ID)
		}
	}
	s.samples[key{sm.StudyID, sm.ID}] = sm.Clone()
	return nil
}

func (s *Store) GetSample(ctx context.Context, studyID, id int) (metadata.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.samples[key{studyID, id}]
	if !ok {
		return metadata.Sample{}, fmt.Errorf("sample %d in study %d: %w", id, studyID, metadata.ErrNotFound)
	}
	return sm.Clone(), nil
}

func (s *Store) ListSamples(ctx context.Context, studyID int) ([]metadata.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metadata.Sample
	for k, sm := range s.samples {
		if k.study == studyID {
			out = append(out, sm.Clone())
		}
	}
	slices.SortFunc(out, func(a, b metadata.Sample) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SetSampleStatus(ctx context.Context, studyID, sampleID int, task string, st metadata.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{studyID, sampleID}
	sm, ok := s.samples[k]
	if !ok {
		return fmt.Errorf("sample %d in study %d: %w", sampleID, studyID, metadata.ErrNotFound)
	}
	sm = sm.Clone()
	if sm.Status == nil {
		sm.Status = make(map[string]metadata.TaskStatus)
	}
	sm.Status[task] = st
	if err := metadata.ValidateSample(sm); err != nil {
		return err
	}
	s.samples[k] = sm
	return nil
}

func (s *Store) PutFile(ctx context.Context, f metadata.File) error {
	if err := metadata.ValidateFile(f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[f.StudyID]; !ok {
		return fmt.Errorf("study %d: %w", f.StudyID, metadata.ErrNotFound)
	}
	f.Samples = slices.Clone(f.Samples)
	s.files[key{f.StudyID, f.ID}] = f
	return nil
}

func (s *Store) GetFile(ctx context.Context, studyID, id int) (metadata.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[key{studyID, id}]
	if !ok {
		return metadata.File{}, fmt.Errorf("file %d in study %d: %w", id, studyID, metadata.ErrNotFound)
	}
	f.Samples = slices.Clone(f.Samples)
	return f, nil
}

func (s *Store) ListFiles(ctx context.Context, studyID int) ([]metadata.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metadata.File
	for k, f := range s.files {
		if k.study == studyID {
			f.Samples = slices.Clone(f.Samples)
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b metadata.File) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) Lock(ctx context.Context, duration, timeout time.Duration) (metadata.Lock, error) {
	return metadata.AcquireLock(ctx, timeout, func(_ context.Context, now time.Time) (metadata.Lock, bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lock != nil && !s.lock.Expired(now) {
			return metadata.Lock{}, false, nil
		}
		l := metadata.NewLock(now, duration)
		s.lock = &l
		return l, true, nil
	})
}

func (s *Store) Unlock(ctx context.Context, l metadata.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lock.Token != l.Token || s.lock.Expired(time.Now()) {
		return metadata.ErrLockNotHeld
	}
	s.lock = nil
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Package file provides a file-based metadata.Store implementation.
//
// Metadata is persisted as a versioned JSON envelope:
//
//	{"version": 1, "metadata": {"studies": [...], "samples": [...], ...}}
//
// Reads are served from an in-memory snapshot. Every mutation re-reads the
// file, applies the change, atomically rewrites the whole file and swaps
// the snapshot, so a write is visible to the next read of the same Store.
// Watch keeps the snapshot current when another process edits the file.
package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wychytu/opencga/internal/callgroup"
	"github.com/wychytu/opencga/internal/logging"
	"github.com/wychytu/opencga/internal/metadata"
)

const currentVersion = 1

// envelope is the versioned on-disk format.
type envelope struct {
	Version  int       `json:"version"`
	Metadata *snapshot `json:"metadata"`
}

type snapshot struct {
	Studies []metadata.Study  `json:"studies"`
	Samples []metadata.Sample `json:"samples"`
	Files   []metadata.File   `json:"files"`
	Lock    *metadata.Lock    `json:"lock,omitempty"`
}

func (s *snapshot) sample(studyID, id int) int {
	return slices.IndexFunc(s.Samples, func(sm metadata.Sample) bool { return sm.StudyID == studyID && sm.ID == id })
}

func (s *snapshot) hasStudy(id int) bool {
	return slices.ContainsFunc(s.Studies, func(st metadata.Study) bool { return st.ID == id })
}

// Store is a file-based metadata.Store implementation.
// Writes are atomic via temp file + rename with round-trip validation.
type Store struct {
	path   string
	logger *slog.Logger

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
	reloads callgroup.Group[string, *snapshot]

	watchMu   sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

var _ metadata.Store = (*Store)(nil)

// NewStore opens the metadata file at path. A missing file is an empty
// store; it is created on the first write. A nil logger discards output.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logging.Default(logger).With("component", "metadata-file", "path", path),
	}
	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.snap.Store(snap)
	return s, nil
}

// load reads and parses the metadata file. A missing file yields an empty
// snapshot.
func (s *Store) load() (*snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse metadata file: %w", err)
	}
	if env.Version == 0 {
		return nil, fmt.Errorf("unversioned metadata file %s", s.path)
	}
	if env.Version > currentVersion {
		return nil, fmt.Errorf("metadata file version %d is newer than supported version %d", env.Version, currentVersion)
	}
	if env.Metadata == nil {
		return &snapshot{}, nil
	}
	return env.Metadata, nil
}

// flush atomically writes snap to disk with round-trip validation.
func (s *Store) flush(snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(envelope{Version: currentVersion, Metadata: snap}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	check, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("read-back temp file: %w", err)
	}
	var verify envelope
	if err := json.Unmarshal(check, &verify); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("round-trip validation failed: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata file: %w", err)
	}
	return nil
}

// mutate applies fn to the current file contents and persists the result.
// Nothing is written when fn fails.
func (s *Store) mutate(fn func(snap *snapshot) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	if err := s.flush(snap); err != nil {
		return err
	}
	s.snap.Store(snap)
	return nil
}

// Reload re-reads the file. Concurrent calls share one read.
func (s *Store) Reload(ctx context.Context) error {
	snap, err := s.reloads.Do(ctx, s.path, func() (*snapshot, error) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		snap, err := s.load()
		if err != nil {
			return nil, err
		}
		s.snap.Store(snap)
		return snap, nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("metadata reloaded", "studies", len(snap.Studies), "samples", len(snap.Samples))
	return nil
}

// Watch reloads the snapshot whenever the file changes on disk. The
// directory is watched because writes replace the file by rename.
// Calling Watch again replaces the previous watch.
func (s *Store) Watch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.stopWatchLocked()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	s.watcher = w
	s.watchDone = make(chan struct{})
	go s.watchLoop(w, s.watchDone)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(context.Background()); err != nil {
				s.logger.Warn("metadata reload failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("metadata watcher error", "error", err)
		}
	}
}

func (s *Store) stopWatchLocked() {
	if s.watcher == nil {
		return
	}
	_ = s.watcher.Close()
	<-s.watchDone
	s.watcher = nil
	s.watchDone = nil
}

// Close stops watching the file.
func (s *Store) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchLocked()
	return nil
}

// Studies

func (s *Store) PutStudy(ctx context.Context, st metadata.Study) error {
	if err := metadata.ValidateStudy(st); err != nil {
		return err
	}
	return s.mutate(func(snap *snapshot) error {
		for _, other := range snap.Studies {
			if other.Name == st.Name && other.ID != st.ID {
				return fmt.Errorf("%w: study name %q already used by study %d", metadata.ErrInvalid, st.Name, other.ID)
			}
		}
		st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
		if i := slices.IndexFunc(snap.Studies, func(o metadata.Study) bool { return o.ID == st.ID }); i >= 0 {
			snap.Studies[i] = st
		} else {
			snap.Studies = append(snap.Studies, st)
		}
		slices.SortFunc(snap.Studies, func(a, b metadata.Study) int { return cmp.Compare(a.ID, b.ID) })
		return nil
	})
}

func (s *Store) GetStudy(ctx context.Context, id int) (metadata.Study, error) {
	for _, st := range s.snap.Load().Studies {
		if st.ID == id {
			st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
			return st, nil
		}
	}
	return metadata.Study{}, fmt.Errorf("study %d: %w", id, metadata.ErrNotFound)
}

func (s *Store) ListStudies(ctx context.Context) ([]metadata.Study, error) {
	studies := s.snap.Load().Studies
	out := make([]metadata.Study, len(studies))
	for i, st := range studies {
		st.LoadedGenotypes = slices.Clone(st.LoadedGenotypes)
		out[i] = st
	}
	return out, nil
}

// Samples

func (s *Store) PutSample(ctx context.Context, sm metadata.Sample) error {
	if err := metadata.ValidateSample(sm); err != nil {
		return err
	}
	return s.mutate(func(snap *snapshot) error {
		if !snap.hasStudy(sm.StudyID) {
			return fmt.Errorf("study %d: %w", sm.StudyID, metadata.ErrNotFound)
		}
		for _, other := range snap.Samples {
			if other.StudyID == sm.StudyID && other.Name == sm.Name && other.ID != sm.ID {
				return fmt.Errorf("%w: sample name %q already used by sample %d", metadata.ErrInvalid, sm.Name, other.ID)
			}
		}
		if i := snap.sample(sm.StudyID, sm.ID); i >= 0 {
			snap.Samples[i] = sm.Clone()
		} else {
			snap.Samples = append(snap.Samples, sm.Clone())
		}
		slices.SortFunc(snap.Samples, func(a, b metadata.Sample) int {
			return cmp.Or(cmp.Compare(a.StudyID, b.StudyID), cmp.Compare(a.ID, b.ID))
		})
		return nil
	})
}

func (s *Store) GetSample(ctx context.Context, studyID, id int) (metadata.Sample, error) {
	snap := s.snap.Load()
	if i := snap.sample(studyID, id); i >= 0 {
		return snap.Samples[i].Clone(), nil
	}
	return metadata.Sample{}, fmt.Errorf("sample %d in study %d: %w", id, studyID, metadata.ErrNotFound)
}

func (s *Store) ListSamples(ctx context.Context, studyID int) ([]metadata.Sample, error) {
	var out []metadata.Sample
	for _, sm := range s.snap.Load().Samples {
		if sm.StudyID == studyID {
			out = append(out, sm.Clone())
		}
	}
	return out, nil
}

func (s *Store) SetSampleStatus(ctx context.Context, studyID, sampleID int, task string, st metadata.TaskStatus) error {
	return s.mutate(func(snap *snapshot) error {
		i := snap.sample(studyID, sampleID)
		if i < 0 {
			return fmt.Errorf("sample %d in study %d: %w", sampleID, studyID, metadata.ErrNotFound)
		}
		sm := snap.Samples[i].Clone()
		if sm.Status == nil {
			sm.Status = make(map[string]metadata.TaskStatus)
		}
		sm.Status[task] = st
		if err := metadata.ValidateSample(sm); err != nil {
			return err
		}
		snap.Samples[i] = sm
		return nil
	})
}

// Files

func (s *Store) PutFile(ctx context.Context, f metadata.File) error {
	if err := metadata.ValidateFile(f); err != nil {
		return err
	}
	return s.mutate(func(snap *snapshot) error {
		if !snap.hasStudy(f.StudyID) {
			return fmt.Errorf("study %d: %w", f.StudyID, metadata.ErrNotFound)
		}
		f.Samples = slices.Clone(f.Samples)
		i := slices.IndexFunc(snap.Files, func(o metadata.File) bool { return o.StudyID == f.StudyID && o.ID == f.ID })
		if i >= 0 {
			snap.Files[i] = f
		} else {
			snap.Files = append(snap.Files, f)
		}
		slices.SortFunc(snap.Files, func(a, b metadata.File) int {
			return cmp.Or(cmp.Compare(a.StudyID, b.StudyID), cmp.Compare(a.ID, b.ID))
		})
		return nil
	})
}

func (s *Store) GetFile(ctx context.Context, studyID, id int) (metadata.File, error) {
	for _, f := range s.snap.Load().Files {
		if f.StudyID == studyID && f.ID == id {
			f.Samples = slices.Clone(f.Samples)
			return f, nil
		}
	}
	return metadata.File{}, fmt.Errorf("file %d in study %d: %w", id, studyID, metadata.ErrNotFound)
}

func (s *Store) ListFiles(ctx context.Context, studyID int) ([]metadata.File, error) {
	var out []metadata.File
	for _, f := range s.snap.Load().Files {
		if f.StudyID == studyID {
			f.Samples = slices.Clone(f.Samples)
			out = append(out, f)
		}
	}
	return out, nil
}

// Lock

// errHeld aborts a mutation without writing when the lock is taken.
var errHeld = errors.New("lock held")

func (s *Store) Lock(ctx context.Context, duration, timeout time.Duration) (metadata.Lock, error) {
	return metadata.AcquireLock(ctx, timeout, func(_ context.Context, now time.Time) (metadata.Lock, bool, error) {
		var lock metadata.Lock
		err := s.mutate(func(snap *snapshot) error {
			if snap.Lock != nil && !snap.Lock.Expired(now) {
				return errHeld
			}
			lock = metadata.NewLock(now, duration)
			snap.Lock = &lock
			return nil
		})
		if errors.Is(err, errHeld) {
			return metadata.Lock{}, false, nil
		}
		if err != nil {
			return metadata.Lock{}, false, err
		}
		return lock, true, nil
	})
}

func (s *Store) Unlock(ctx context.Context, l metadata.Lock) error {
	return s.mutate(func(snap *snapshot) error {
		if snap.Lock == nil || snap.Lock.Token != l.Token || snap.Lock.Expired(time.Now()) {
			return metadata.ErrLockNotHeld
		}
		snap.Lock = nil
		return nil
	})
}

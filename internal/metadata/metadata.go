// Package metadata holds the study, sample and file metadata read by the
// sample index planner, and the advisory project lock taken by indexing
// jobs that update it.
//
// A Store persists the metadata. Three backends exist: memory (tests,
// process local), sqlite (persistent) and file (a JSON snapshot reloaded
// when the file changes). Every backend makes writes visible to the next
// read.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wychytu/opencga/internal/genotype"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrMissingStudy = errors.New("missing study")
	ErrLockTimeout  = errors.New("timed out waiting for lock")
	ErrLockNotHeld  = errors.New("lock not held")
	ErrInvalid      = errors.New("invalid metadata")
)

// TaskStatus is the state of an indexing task.
type TaskStatus string

const (
	StatusNone    TaskStatus = "NONE"
	StatusRunning TaskStatus = "RUNNING"
	StatusReady   TaskStatus = "READY"
	StatusError   TaskStatus = "ERROR"
)

// ParseTaskStatus parses a status name. Matching is case sensitive.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case StatusNone, StatusRunning, StatusReady, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown task status %q", ErrInvalid, s)
}

// Sample task names.
const (
	TaskIndex       = "index"
	TaskAnnotation  = "annotation"
	TaskFamilyIndex = "family-index"
	TaskSampleIndex = "sample-index"
)

// Tasks lists the known sample task names.
var Tasks = []string{TaskIndex, TaskAnnotation, TaskFamilyIndex, TaskSampleIndex}

// Study is a set of samples indexed together.
type Study struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// LoadedGenotypes are the genotypes present in the study's index.
	// Empty means genotype.DefaultLoaded.
	LoadedGenotypes []string `json:"loadedGenotypes,omitempty"`
	Aggregation     string   `json:"aggregation,omitempty"`
}

// Genotypes returns the loaded genotypes of the study.
func (s Study) Genotypes() []string {
	if len(s.LoadedGenotypes) == 0 {
		return slices.Clone(genotype.DefaultLoaded)
	}
	return slices.Clone(s.LoadedGenotypes)
}

// Sample is one individual of a study.
type Sample struct {
	StudyID int    `json:"studyId"`
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Files   []int  `json:"files,omitempty"`
	Father  *int   `json:"father,omitempty"`
	Mother  *int   `json:"mother,omitempty"`
	// Status maps task names to their state. Missing tasks are NONE.
	Status map[string]TaskStatus `json:"status,omitempty"`
}

// StatusOf returns the state of task.
func (s Sample) StatusOf(task string) TaskStatus {
	if st, ok := s.Status[task]; ok {
		return st
	}
	return StatusNone
}

// Clone returns a deep copy of s.
func (s Sample) Clone() Sample {
	c := s
	c.Files = slices.Clone(s.Files)
	if s.Father != nil {
		c.Father = new(*s.Father)
	}
	if s.Mother != nil {
		c.Mother = new(*s.Mother)
	}
	if s.Status != nil {
		c.Status = make(map[string]TaskStatus, len(s.Status))
		for k, v := range s.Status {
			c.Status[k] = v
		}
	}
	return c
}

// File is an input file of a study, holding calls of one or more samples.
type File struct {
	StudyID int    `json:"studyId"`
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Samples []int  `json:"samples,omitempty"`
}

// Lock is a held advisory lock.
type Lock struct {
	Token    uuid.UUID `json:"token"`
	Acquired time.Time `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

// Expired reports whether the lock is no longer held at now.
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.Expires)
}

// NewLock creates a lock acquired at now and held for duration.
func NewLock(now time.Time, duration time.Duration) Lock {
	return Lock{
		Token:    uuid.Must(uuid.NewV7()),
		Acquired: now,
		Expires:  now.Add(duration),
	}
}

// Locker guards the project metadata. The lock is advisory and not
// re-entrant: a holder asking again waits like anyone else.
type Locker interface {
	// Lock acquires the lock for duration, waiting at most timeout for a
	// current holder to release it or let it expire.
	Lock(ctx context.Context, duration, timeout time.Duration) (Lock, error)
	// Unlock releases a lock. Releasing a lock that expired or was taken
	// by someone else returns ErrLockNotHeld.
	Unlock(ctx context.Context, lock Lock) error
}

// Store persists studies, samples and files. Getters return ErrNotFound
// for missing entities.
type Store interface {
	PutStudy(ctx context.Context, s Study) error
	GetStudy(ctx context.Context, id int) (Study, error)
	ListStudies(ctx context.Context) ([]Study, error)

	PutSample(ctx context.Context, s Sample) error
	GetSample(ctx context.Context, studyID, id int) (Sample, error)
	ListSamples(ctx context.Context, studyID int) ([]Sample, error)
	SetSampleStatus(ctx context.Context, studyID, sampleID int, task string, st TaskStatus) error

	PutFile(ctx context.Context, f File) error
	GetFile(ctx context.Context, studyID, id int) (File, error)
	ListFiles(ctx context.Context, studyID int) ([]File, error)

	Locker
	Close() error
}

// ValidateStudy checks the fields a Store requires of a study.
func ValidateStudy(s Study) error {
	if s.ID <= 0 || s.Name == "" {
		return fmt.Errorf("%w: study needs a positive id and a name", ErrInvalid)
	}
	return nil
}

// ValidateSample checks the fields a Store requires of a sample.
func ValidateSample(s Sample) error {
	if s.StudyID <= 0 || s.ID <= 0 || s.Name == "" {
		return fmt.Errorf("%w: sample needs a study, a positive id and a name", ErrInvalid)
	}
	for task, st := range s.Status {
		if !slices.Contains(Tasks, task) {
			return fmt.Errorf("%w: unknown task %q", ErrInvalid, task)
		}
		if _, err := ParseTaskStatus(string(st)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFile checks the fields a Store requires of a file.
func ValidateFile(f File) error {
	if f.StudyID <= 0 || f.ID <= 0 || f.Name == "" {
		return fmt.Errorf("%w: file needs a study, a positive id and a name", ErrInvalid)
	}
	return nil
}

// Package storetest provides a shared conformance test suite for
// metadata.Store implementations. Each backend (memory, sqlite, file)
// wires this suite to verify it satisfies the full Store contract.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/wychytu/opencga/internal/metadata"
)

// TestStore runs the full conformance suite against a Store
// implementation. newStore must return a fresh, empty store for each
// sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) metadata.Store) {
	t.Run("ListStudiesEmpty", func(t *testing.T) {
		s := newStore(t)
		studies, err := s.ListStudies(context.Background())
		if err != nil {
			t.Fatalf("ListStudies: %v", err)
		}
		if len(studies) != 0 {
			t.Fatalf("expected no studies, got %+v", studies)
		}
	})

	t.Run("PutGetStudy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		st := metadata.Study{ID: 1, Name: "study1", LoadedGenotypes: []string{"0/1", "1/1"}, Aggregation: "NONE"}
		if err := s.PutStudy(ctx, st); err != nil {
			t.Fatalf("PutStudy: %v", err)
		}
		got, err := s.GetStudy(ctx, 1)
		if err != nil {
			t.Fatalf("GetStudy: %v", err)
		}
		if got.Name != "study1" || got.Aggregation != "NONE" || !slices.Equal(got.LoadedGenotypes, st.LoadedGenotypes) {
			t.Errorf("GetStudy = %+v, want %+v", got, st)
		}

		st.Name = "renamed"
		if err := s.PutStudy(ctx, st); err != nil {
			t.Fatalf("PutStudy update: %v", err)
		}
		got, err = s.GetStudy(ctx, 1)
		if err != nil {
			t.Fatalf("GetStudy: %v", err)
		}
		if got.Name != "renamed" {
			t.Errorf("Name: expected %q, got %q", "renamed", got.Name)
		}
	})

	t.Run("StudyNameUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		err := s.PutStudy(ctx, metadata.Study{ID: 2, Name: "study1"})
		if !errors.Is(err, metadata.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("ListStudiesOrdered", func(t *testing.T) {
		s := newStore(t)
		mustPutStudy(t, s, 3, "c")
		mustPutStudy(t, s, 1, "a")
		mustPutStudy(t, s, 2, "b")
		studies, err := s.ListStudies(context.Background())
		if err != nil {
			t.Fatalf("ListStudies: %v", err)
		}
		var ids []int
		for _, st := range studies {
			ids = append(ids, st.ID)
		}
		if !slices.Equal(ids, []int{1, 2, 3}) {
			t.Errorf("ids = %v, want [1 2 3]", ids)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		if _, err := s.GetStudy(ctx, 9); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("GetStudy: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetSample(ctx, 1, 9); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("GetSample: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetFile(ctx, 1, 9); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("GetFile: expected ErrNotFound, got %v", err)
		}
		if err := s.SetSampleStatus(ctx, 1, 9, metadata.TaskIndex, metadata.StatusReady); !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("SetSampleStatus: expected ErrNotFound, got %v", err)
		}
		err := s.PutSample(ctx, metadata.Sample{StudyID: 7, ID: 1, Name: "orphan"})
		if !errors.Is(err, metadata.ErrNotFound) {
			t.Errorf("PutSample in missing study: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGetSample", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")

		sm := metadata.Sample{
			StudyID: 1,
			ID:      3,
			Name:    "child",
			Files:   []int{1, 2},
			Father:  new(1),
			Mother:  new(2),
			Status: map[string]metadata.TaskStatus{
				metadata.TaskIndex:       metadata.StatusReady,
				metadata.TaskFamilyIndex: metadata.StatusRunning,
			},
		}
		if err := s.PutSample(ctx, sm); err != nil {
			t.Fatalf("PutSample: %v", err)
		}
		got, err := s.GetSample(ctx, 1, 3)
		if err != nil {
			t.Fatalf("GetSample: %v", err)
		}
		if got.Name != "child" || !slices.Equal(got.Files, []int{1, 2}) {
			t.Errorf("GetSample = %+v", got)
		}
		if got.Father == nil || *got.Father != 1 || got.Mother == nil || *got.Mother != 2 {
			t.Errorf("parents = %v %v", got.Father, got.Mother)
		}
		if got.StatusOf(metadata.TaskIndex) != metadata.StatusReady ||
			got.StatusOf(metadata.TaskFamilyIndex) != metadata.StatusRunning ||
			got.StatusOf(metadata.TaskSampleIndex) != metadata.StatusNone {
			t.Errorf("status = %v", got.Status)
		}

		got.Files[0] = 99
		again, err := s.GetSample(ctx, 1, 3)
		if err != nil {
			t.Fatalf("GetSample: %v", err)
		}
		if again.Files[0] != 1 {
			t.Error("mutating a returned sample changed the store")
		}
	})

	t.Run("SampleWithoutParents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		mustPutSample(t, s, metadata.Sample{StudyID: 1, ID: 1, Name: "father"})
		got, err := s.GetSample(ctx, 1, 1)
		if err != nil {
			t.Fatalf("GetSample: %v", err)
		}
		if got.Father != nil || got.Mother != nil || len(got.Files) != 0 {
			t.Errorf("GetSample = %+v", got)
		}
	})

	t.Run("SampleNameUniquePerStudy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		mustPutStudy(t, s, 2, "study2")
		mustPutSample(t, s, metadata.Sample{StudyID: 1, ID: 1, Name: "NA12877"})
		if err := s.PutSample(ctx, metadata.Sample{StudyID: 2, ID: 1, Name: "NA12877"}); err != nil {
			t.Errorf("same name in another study: %v", err)
		}
		err := s.PutSample(ctx, metadata.Sample{StudyID: 1, ID: 2, Name: "NA12877"})
		if !errors.Is(err, metadata.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("ListSamples", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		mustPutStudy(t, s, 2, "study2")
		mustPutSample(t, s, metadata.Sample{StudyID: 1, ID: 2, Name: "b"})
		mustPutSample(t, s, metadata.Sample{StudyID: 1, ID: 1, Name: "a"})
		mustPutSample(t, s, metadata.Sample{StudyID: 2, ID: 1, Name: "x"})
		samples, err := s.ListSamples(ctx, 1)
		if err != nil {
			t.Fatalf("ListSamples: %v", err)
		}
		if len(samples) != 2 || samples[0].Name != "a" || samples[1].Name != "b" {
			t.Errorf("ListSamples = %+v", samples)
		}
	})

	t.Run("SetSampleStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		mustPutSample(t, s, metadata.Sample{StudyID: 1, ID: 1, Name: "a"})

		if err := s.SetSampleStatus(ctx, 1, 1, metadata.TaskSampleIndex, metadata.StatusRunning); err != nil {
			t.Fatalf("SetSampleStatus: %v", err)
		}
		if err := s.SetSampleStatus(ctx, 1, 1, metadata.TaskSampleIndex, metadata.StatusReady); err != nil {
			t.Fatalf("SetSampleStatus: %v", err)
		}
		got, err := s.GetSample(ctx, 1, 1)
		if err != nil {
			t.Fatalf("GetSample: %v", err)
		}
		if st := got.StatusOf(metadata.TaskSampleIndex); st != metadata.StatusReady {
			t.Errorf("status = %s, want READY", st)
		}

		err = s.SetSampleStatus(ctx, 1, 1, "bogus", metadata.StatusReady)
		if !errors.Is(err, metadata.ErrInvalid) {
			t.Errorf("unknown task: expected ErrInvalid, got %v", err)
		}
	})

	t.Run("PutGetFile", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustPutStudy(t, s, 1, "study1")
		f := metadata.File{StudyID: 1, ID: 5, Name: "trio.vcf.gz", Samples: []int{1, 2, 3}}
		if err := s.PutFile(ctx, f); err != nil {
			t.Fatalf("PutFile: %v", err)
		}
		if err := s.PutFile(ctx, metadata.File{StudyID: 1, ID: 2, Name: "single.vcf.gz"}); err != nil {
			t.Fatalf("PutFile: %v", err)
		}
		got, err := s.GetFile(ctx, 1, 5)
		if err != nil {
			t.Fatalf("GetFile: %v", err)
		}
		if got.Name != f.Name || !slices.Equal(got.Samples, f.Samples) {
			t.Errorf("GetFile = %+v, want %+v", got, f)
		}
		files, err := s.ListFiles(ctx, 1)
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		if len(files) != 2 || files[0].ID != 2 || files[1].ID != 5 {
			t.Errorf("ListFiles = %+v", files)
		}
	})

	t.Run("LockExclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		l, err := s.Lock(ctx, time.Minute, 0)
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
		if _, err := s.Lock(ctx, time.Minute, 50*time.Millisecond); !errors.Is(err, metadata.ErrLockTimeout) {
			t.Fatalf("second Lock: expected ErrLockTimeout, got %v", err)
		}
		if err := s.Unlock(ctx, l); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if err := s.Unlock(ctx, l); !errors.Is(err, metadata.ErrLockNotHeld) {
			t.Errorf("double Unlock: expected ErrLockNotHeld, got %v", err)
		}
		l2, err := s.Lock(ctx, time.Minute, 0)
		if err != nil {
			t.Fatalf("Lock after Unlock: %v", err)
		}
		if l2.Token == l.Token {
			t.Error("lock token reused")
		}
	})

	t.Run("LockWaitsForRelease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		l, err := s.Lock(ctx, time.Minute, 0)
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = s.Unlock(ctx, l)
		}()
		l2, err := s.Lock(ctx, time.Minute, 5*time.Second)
		if err != nil {
			t.Fatalf("waiting Lock: %v", err)
		}
		if err := s.Unlock(ctx, l2); err != nil {
			t.Errorf("Unlock: %v", err)
		}
	})

	t.Run("LockExpires", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		l, err := s.Lock(ctx, 20*time.Millisecond, 0)
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
		time.Sleep(40 * time.Millisecond)
		if _, err := s.Lock(ctx, time.Minute, 0); err != nil {
			t.Fatalf("Lock after expiry: %v", err)
		}
		if err := s.Unlock(ctx, l); !errors.Is(err, metadata.ErrLockNotHeld) {
			t.Errorf("Unlock of expired lock: expected ErrLockNotHeld, got %v", err)
		}
	})

	t.Run("LockCancelled", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Lock(context.Background(), time.Minute, 0); err != nil {
			t.Fatalf("Lock: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.Lock(ctx, time.Minute, time.Minute); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func mustPutStudy(t *testing.T, s metadata.Store, id int, name string) {
	t.Helper()
	if err := s.PutStudy(context.Background(), metadata.Study{ID: id, Name: name}); err != nil {
		t.Fatalf("PutStudy: %v", err)
	}
}

func mustPutSample(t *testing.T, s metadata.Store, sm metadata.Sample) {
	t.Helper()
	if err := s.PutSample(context.Background(), sm); err != nil {
		t.Fatalf("PutSample: %v", err)
	}
}

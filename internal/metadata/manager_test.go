package metadata_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/wychytu/opencga/internal/genotype"
	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/metadata/memory"
	"github.com/wychytu/opencga/internal/query"
)

func newManager(t *testing.T, studies ...string) (*metadata.StoreManager, metadata.Store) {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	for i, name := range studies {
		if err := s.PutStudy(ctx, metadata.Study{ID: i + 1, Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	return metadata.NewManager(s), s
}

func TestSampleResolution(t *testing.T) {
	m, s := newManager(t, "study1")
	ctx := context.Background()
	for _, sm := range []metadata.Sample{
		{StudyID: 1, ID: 1, Name: "father", Files: []int{1}},
		{StudyID: 1, ID: 2, Name: "mother", Files: []int{1, 2}},
		{StudyID: 1, ID: 3, Name: "child", Files: []int{3}},
	} {
		if err := s.PutSample(ctx, sm); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []metadata.File{
		{StudyID: 1, ID: 1, Name: "trio.vcf.gz"},
		{StudyID: 1, ID: 2, Name: "mother.vcf.gz"},
	} {
		if err := s.PutFile(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	if id, err := m.SampleID(ctx, 1, "mother"); err != nil || id != 2 {
		t.Errorf("SampleID(mother) = %d, %v", id, err)
	}
	if id, err := m.SampleID(ctx, 1, "3"); err != nil || id != 3 {
		t.Errorf("SampleID(3) = %d, %v", id, err)
	}
	if _, err := m.SampleID(ctx, 1, "nobody"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("SampleID(nobody) error = %v", err)
	}
	if name, err := m.SampleName(ctx, 1, 1); err != nil || name != "father" {
		t.Errorf("SampleName(1) = %q, %v", name, err)
	}
	files, err := m.FileIDsFromSampleIDs(ctx, 1, []int{1, 2})
	if err != nil || !slices.Equal(files, []int{1, 2}) {
		t.Errorf("FileIDsFromSampleIDs = %v, %v", files, err)
	}
	if name, err := m.FileName(ctx, 1, 2); err != nil || name != "mother.vcf.gz" {
		t.Errorf("FileName(2) = %q, %v", name, err)
	}
}

func TestDefaultStudy(t *testing.T) {
	ctx := context.Background()

	single, _ := newManager(t, "only")
	st, err := single.DefaultStudy(ctx, query.Query{}, "")
	if err != nil || st.Name != "only" {
		t.Errorf("single study = %+v, %v", st, err)
	}

	multi, _ := newManager(t, "a", "b")
	if _, err := multi.DefaultStudy(ctx, query.Query{}, ""); !errors.Is(err, metadata.ErrMissingStudy) {
		t.Errorf("ambiguous study error = %v", err)
	}
	st, err = multi.DefaultStudy(ctx, query.Query{query.Study: "b"}, "")
	if err != nil || st.ID != 2 {
		t.Errorf("study from query = %+v, %v", st, err)
	}
	st, err = multi.DefaultStudy(ctx, query.Query{query.Study: "b"}, "1")
	if err != nil || st.Name != "a" {
		t.Errorf("explicit study = %+v, %v", st, err)
	}
	st, err = multi.DefaultStudy(ctx, query.Query{query.Study: "a,!b"}, "")
	if err != nil || st.Name != "a" {
		t.Errorf("study with a negated alternative = %+v, %v", st, err)
	}
	if _, err := multi.DefaultStudy(ctx, query.Query{query.Study: "a,b"}, ""); !errors.Is(err, metadata.ErrMissingStudy) {
		t.Errorf("two studies error = %v", err)
	}
	if _, err := multi.DefaultStudy(ctx, query.Query{query.Study: "zzz"}, ""); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("unknown study error = %v", err)
	}

	none, _ := newManager(t)
	if _, err := none.DefaultStudy(ctx, query.Query{}, ""); !errors.Is(err, metadata.ErrMissingStudy) {
		t.Errorf("no studies error = %v", err)
	}

	names, err := multi.StudyNames(ctx)
	if err != nil || !slices.Equal(names, []string{"a", "b"}) {
		t.Errorf("StudyNames = %v, %v", names, err)
	}
}

func TestStudyGenotypes(t *testing.T) {
	if got := (metadata.Study{}).Genotypes(); !slices.Equal(got, genotype.DefaultLoaded) {
		t.Errorf("default genotypes = %v", got)
	}
	loaded := []string{"0/1", "1/1"}
	if got := (metadata.Study{LoadedGenotypes: loaded}).Genotypes(); !slices.Equal(got, loaded) {
		t.Errorf("loaded genotypes = %v", got)
	}
}

func TestSampleClone(t *testing.T) {
	s := metadata.Sample{Father: new(1), Files: []int{1}, Status: map[string]metadata.TaskStatus{metadata.TaskIndex: metadata.StatusReady}}
	c := s.Clone()
	*c.Father = 9
	c.Files[0] = 9
	c.Status[metadata.TaskIndex] = metadata.StatusError
	if *s.Father != 1 || s.Files[0] != 1 || s.Status[metadata.TaskIndex] != metadata.StatusReady {
		t.Errorf("clone shares state with the original: %+v", s)
	}
}

func TestNextIDs(t *testing.T) {
	_, s := newManager(t, "a", "b")
	ctx := context.Background()
	if id, err := metadata.NextStudyID(ctx, s); err != nil || id != 3 {
		t.Errorf("NextStudyID = %d, %v", id, err)
	}
	if id, err := metadata.NextSampleID(ctx, s, 1); err != nil || id != 1 {
		t.Errorf("NextSampleID = %d, %v", id, err)
	}
}

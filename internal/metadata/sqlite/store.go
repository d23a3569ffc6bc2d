// Package sqlite provides a SQLite-based metadata.Store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/wychytu/opencga/internal/metadata"
)

const (
	timeFormat  = time.RFC3339Nano
	projectLock = "project"
)

// Store is a SQLite-based metadata.Store implementation.
type Store struct {
	db   *sqlx.DB
	path string
}

var _ metadata.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type studyRow struct {
	ID              int    `db:"id"`
	Name            string `db:"name"`
	LoadedGenotypes string `db:"loaded_genotypes"`
	Aggregation     string `db:"aggregation"`
}

func (r studyRow) study() (metadata.Study, error) {
	st := metadata.Study{ID: r.ID, Name: r.Name, Aggregation: r.Aggregation}
	if err := json.Unmarshal([]byte(r.LoadedGenotypes), &st.LoadedGenotypes); err != nil {
		return metadata.Study{}, fmt.Errorf("decode loaded genotypes of study %d: %w", r.ID, err)
	}
	return st, nil
}

type sampleRow struct {
	StudyID int           `db:"study_id"`
	ID      int           `db:"id"`
	Name    string        `db:"name"`
	Father  sql.NullInt64 `db:"father"`
	Mother  sql.NullInt64 `db:"mother"`
}

type fileRow struct {
	StudyID int    `db:"study_id"`
	ID      int    `db:"id"`
	Name    string `db:"name"`
}

// memberRow is one row of sample_files or file_samples.
type memberRow struct {
	Owner  int `db:"owner"`
	Member int `db:"member"`
}

type statusRow struct {
	SampleID int    `db:"sample_id"`
	Task     string `db:"task"`
	Status   string `db:"status"`
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return new(int(n.Int64))
}

// Studies

func (s *Store) PutStudy(ctx context.Context, st metadata.Study) error {
	if err := metadata.ValidateStudy(st); err != nil {
		return err
	}
	gts, err := json.Marshal(st.LoadedGenotypes)
	if err != nil {
		return fmt.Errorf("encode loaded genotypes: %w", err)
	}
	if st.LoadedGenotypes == nil {
		gts = []byte("[]")
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var other int
		err := tx.GetContext(ctx, &other, "SELECT id FROM studies WHERE name = ? AND id <> ?", st.Name, st.ID)
		if err == nil {
			return fmt.Errorf("%w: study name %q already used by study %d", metadata.ErrInvalid, st.Name, other)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check study name: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO studies (id, name, loaded_genotypes, aggregation) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				loaded_genotypes = excluded.loaded_genotypes,
				aggregation = excluded.aggregation`,
			st.ID, st.Name, string(gts), st.Aggregation)
		if err != nil {
			return fmt.Errorf("put study %d: %w", st.ID, err)
		}
		return nil
	})
}

func (s *Store) GetStudy(ctx context.Context, id int) (metadata.Study, error) {
	var row studyRow
	err := s.db.GetContext(ctx, &row, "SELECT id, name, loaded_genotypes, aggregation FROM studies WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Study{}, fmt.Errorf("study %d: %w", id, metadata.ErrNotFound)
	}
	if err != nil {
		return metadata.Study{}, fmt.Errorf("get study %d: %w", id, err)
	}
	return row.study()
}

func (s *Store) ListStudies(ctx context.Context) ([]metadata.Study, error) {
	var rows []studyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, name, loaded_genotypes, aggregation FROM studies ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	out := make([]metadata.Study, 0, len(rows))
	for _, r := range rows {
		st, err := r.study()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Samples

func (s *Store) PutSample(ctx context.Context, sm metadata.Sample) error {
	if err := metadata.ValidateSample(sm); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := studyExists(ctx, tx, sm.StudyID); err != nil {
			return err
		}
		var other int
		err := tx.GetContext(ctx, &other, "SELECT id FROM samples WHERE study_id = ? AND name = ? AND id <> ?", sm.StudyID, sm.Name, sm.ID)
		if err == nil {
			return fmt.Errorf("%w: sample name %q already used by sample %d", metadata.ErrInvalid, sm.Name, other)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check sample name: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO samples (study_id, id, name, father, mother) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(study_id, id) DO UPDATE SET
				name = excluded.name,
				father = excluded.father,
				mother = excluded.mother`,
			sm.StudyID, sm.ID, sm.Name, nullInt(sm.Father), nullInt(sm.Mother))
		if err != nil {
			return fmt.Errorf("put sample %d: %w", sm.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM sample_files WHERE study_id = ? AND sample_id = ?", sm.StudyID, sm.ID); err != nil {
			return fmt.Errorf("clear sample files: %w", err)
		}
		for i, f := range sm.Files {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO sample_files (study_id, sample_id, position, file_id) VALUES (?, ?, ?, ?)",
				sm.StudyID, sm.ID, i, f); err != nil {
				return fmt.Errorf("insert sample file: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM sample_status WHERE study_id = ? AND sample_id = ?", sm.StudyID, sm.ID); err != nil {
			return fmt.Errorf("clear sample status: %w", err)
		}
		for task, st := range sm.Status {
			if err := putStatus(ctx, tx, sm.StudyID, sm.ID, task, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetSample(ctx context.Context, studyID, id int) (metadata.Sample, error) {
	var row sampleRow
	err := s.db.GetContext(ctx, &row, "SELECT study_id, id, name, father, mother FROM samples WHERE study_id = ? AND id = ?", studyID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Sample{}, fmt.Errorf("sample %d in study %d: %w", id, studyID, metadata.ErrNotFound)
	}
	if err != nil {
		return metadata.Sample{}, fmt.Errorf("get sample %d: %w", id, err)
	}
	samples, err := s.assembleSamples(ctx, studyID, []sampleRow{row})
	if err != nil {
		return metadata.Sample{}, err
	}
	return samples[0], nil
}

func (s *Store) ListSamples(ctx context.Context, studyID int) ([]metadata.Sample, error) {
	var rows []sampleRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT study_id, id, name, father, mother FROM samples WHERE study_id = ? ORDER BY id", studyID); err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return s.assembleSamples(ctx, studyID, rows)
}

// assembleSamples attaches files and task status to sample rows of one
// study.
func (s *Store) assembleSamples(ctx context.Context, studyID int, rows []sampleRow) ([]metadata.Sample, error) {
	var files []memberRow
	if err := s.db.SelectContext(ctx, &files, `
		SELECT sample_id AS owner, file_id AS member FROM sample_files
		WHERE study_id = ? ORDER BY sample_id, position`, studyID); err != nil {
		return nil, fmt.Errorf("list sample files: %w", err)
	}
	var statuses []statusRow
	if err := s.db.SelectContext(ctx, &statuses,
		"SELECT sample_id, task, status FROM sample_status WHERE study_id = ?", studyID); err != nil {
		return nil, fmt.Errorf("list sample status: %w", err)
	}

	out := make([]metadata.Sample, len(rows))
	index := make(map[int]int, len(rows))
	for i, r := range rows {
		out[i] = metadata.Sample{
			StudyID: r.StudyID,
			ID:      r.ID,
			Name:    r.Name,
			Father:  intPtr(r.Father),
			Mother:  intPtr(r.Mother),
		}
		index[r.ID] = i
	}
	for _, f := range files {
		if i, ok := index[f.Owner]; ok {
			out[i].Files = append(out[i].Files, f.Member)
		}
	}
	for _, st := range statuses {
		i, ok := index[st.SampleID]
		if !ok {
			continue
		}
		if out[i].Status == nil {
			out[i].Status = make(map[string]metadata.TaskStatus)
		}
		out[i].Status[st.Task] = metadata.TaskStatus(st.Status)
	}
	return out, nil
}

func (s *Store) SetSampleStatus(ctx context.Context, studyID, sampleID int, task string, st metadata.TaskStatus) error {
	check := metadata.Sample{StudyID: studyID, ID: sampleID, Name: "-", Status: map[string]metadata.TaskStatus{task: st}}
	if err := metadata.ValidateSample(check); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, "SELECT count(*) FROM samples WHERE study_id = ? AND id = ?", studyID, sampleID); err != nil {
			return fmt.Errorf("check sample: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("sample %d in study %d: %w", sampleID, studyID, metadata.ErrNotFound)
		}
		return putStatus(ctx, tx, studyID, sampleID, task, st)
	})
}

func putStatus(ctx context.Context, tx *sqlx.Tx, studyID, sampleID int, task string, st metadata.TaskStatus) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sample_status (study_id, sample_id, task, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(study_id, sample_id, task) DO UPDATE SET status = excluded.status`,
		studyID, sampleID, task, string(st))
	if err != nil {
		return fmt.Errorf("set %s status of sample %d: %w", task, sampleID, err)
	}
	return nil
}

// Files

func (s *Store) PutFile(ctx context.Context, f metadata.File) error {
	if err := metadata.ValidateFile(f); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := studyExists(ctx, tx, f.StudyID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files (study_id, id, name) VALUES (?, ?, ?)
			ON CONFLICT(study_id, id) DO UPDATE SET name = excluded.name`,
			f.StudyID, f.ID, f.Name)
		if err != nil {
			return fmt.Errorf("put file %d: %w", f.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_samples WHERE study_id = ? AND file_id = ?", f.StudyID, f.ID); err != nil {
			return fmt.Errorf("clear file samples: %w", err)
		}
		for i, sm := range f.Samples {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO file_samples (study_id, file_id, position, sample_id) VALUES (?, ?, ?, ?)",
				f.StudyID, f.ID, i, sm); err != nil {
				return fmt.Errorf("insert file sample: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetFile(ctx context.Context, studyID, id int) (metadata.File, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row, "SELECT study_id, id, name FROM files WHERE study_id = ? AND id = ?", studyID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.File{}, fmt.Errorf("file %d in study %d: %w", id, studyID, metadata.ErrNotFound)
	}
	if err != nil {
		return metadata.File{}, fmt.Errorf("get file %d: %w", id, err)
	}
	files, err := s.assembleFiles(ctx, studyID, []fileRow{row})
	if err != nil {
		return metadata.File{}, err
	}
	return files[0], nil
}

func (s *Store) ListFiles(ctx context.Context, studyID int) ([]metadata.File, error) {
	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT study_id, id, name FROM files WHERE study_id = ? ORDER BY id", studyID); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return s.assembleFiles(ctx, studyID, rows)
}

func (s *Store) assembleFiles(ctx context.Context, studyID int, rows []fileRow) ([]metadata.File, error) {
	var members []memberRow
	if err := s.db.SelectContext(ctx, &members, `
		SELECT file_id AS owner, sample_id AS member FROM file_samples
		WHERE study_id = ? ORDER BY file_id, position`, studyID); err != nil {
		return nil, fmt.Errorf("list file samples: %w", err)
	}
	out := make([]metadata.File, len(rows))
	index := make(map[int]int, len(rows))
	for i, r := range rows {
		out[i] = metadata.File{StudyID: r.StudyID, ID: r.ID, Name: r.Name}
		index[r.ID] = i
	}
	for _, m := range members {
		if i, ok := index[m.Owner]; ok {
			out[i].Samples = append(out[i].Samples, m.Member)
		}
	}
	return out, nil
}

// Lock

type lockRow struct {
	Token    string `db:"token"`
	Acquired string `db:"acquired"`
	Expires  string `db:"expires"`
}

func (s *Store) Lock(ctx context.Context, duration, timeout time.Duration) (metadata.Lock, error) {
	return metadata.AcquireLock(ctx, timeout, func(ctx context.Context, now time.Time) (metadata.Lock, bool, error) {
		var (
			lock metadata.Lock
			ok   bool
		)
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			var row lockRow
			err := tx.GetContext(ctx, &row, "SELECT token, acquired, expires FROM locks WHERE name = ?", projectLock)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("read lock: %w", err)
			default:
				expires, err := time.Parse(timeFormat, row.Expires)
				if err != nil {
					return fmt.Errorf("parse lock expiry: %w", err)
				}
				if now.Before(expires) {
					return nil
				}
			}
			lock = metadata.NewLock(now, duration)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO locks (name, token, acquired, expires) VALUES (?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					token = excluded.token,
					acquired = excluded.acquired,
					expires = excluded.expires`,
				projectLock, lock.Token.String(), lock.Acquired.UTC().Format(timeFormat), lock.Expires.UTC().Format(timeFormat))
			if err != nil {
				return fmt.Errorf("write lock: %w", err)
			}
			ok = true
			return nil
		})
		return lock, ok, err
	})
}

func (s *Store) Unlock(ctx context.Context, l metadata.Lock) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var row lockRow
		err := tx.GetContext(ctx, &row, "SELECT token, acquired, expires FROM locks WHERE name = ?", projectLock)
		if errors.Is(err, sql.ErrNoRows) {
			return metadata.ErrLockNotHeld
		}
		if err != nil {
			return fmt.Errorf("read lock: %w", err)
		}
		token, err := uuid.Parse(row.Token)
		if err != nil {
			return fmt.Errorf("parse lock token %q: %w", row.Token, err)
		}
		expires, err := time.Parse(timeFormat, row.Expires)
		if err != nil {
			return fmt.Errorf("parse lock expiry: %w", err)
		}
		if token != l.Token || !time.Now().Before(expires) {
			return metadata.ErrLockNotHeld
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM locks WHERE name = ?", projectLock); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	})
}

func studyExists(ctx context.Context, tx *sqlx.Tx, id int) error {
	var n int
	if err := tx.GetContext(ctx, &n, "SELECT count(*) FROM studies WHERE id = ?", id); err != nil {
		return fmt.Errorf("check study: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("study %d: %w", id, metadata.ErrNotFound)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

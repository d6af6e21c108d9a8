package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goyais/streamgate/internal/model"
)

// tsLayout is fixed-width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `job_id, status, progress, prompt, result, error, provider, fallback, created_at, updated_at`

// SQL stores jobs in the image_jobs table created by the goose migrations.
// driver is "sqlite" or "postgres" and only affects placeholder syntax.
type SQL struct {
	db     *sql.DB
	driver string
}

func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, driver: driver}
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Create(ctx context.Context, job *model.Job) error {
	stored := prepareCreate(job)
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM image_jobs WHERE job_id = ?`), stored.ID).Scan(&exists)
	if err == nil {
		return model.ErrJobExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check job %s: %w", stored.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO image_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		stored.ID, string(stored.Status), stored.Progress, stored.Prompt,
		stored.Result, stored.Error, stored.Provider, boolInt(stored.Fallback),
		stored.CreatedAt.Format(tsLayout), stored.UpdatedAt.Format(tsLayout),
	); err != nil {
		return fmt.Errorf("create job %s: %w", stored.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                  model.Job
		status               string
		fallback             int
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &status, &job.Progress, &job.Prompt, &job.Result,
		&job.Error, &job.Provider, &fallback, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	job.Fallback = fallback != 0
	job.CreatedAt, _ = time.Parse(tsLayout, createdAt)
	job.UpdatedAt, _ = time.Parse(tsLayout, updatedAt)
	return &job, nil
}

func (s *SQL) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+jobColumns+` FROM image_jobs WHERE job_id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Update is optimistic: the write only lands if the row still carries the
// updated_at value that was read.
func (s *SQL) Update(ctx context.Context, id string, fn Mutator) (*model.Job, error) {
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := applyUpdate(cur, fn)
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE image_jobs
			SET status = ?, progress = ?, result = ?, error = ?, provider = ?, fallback = ?, updated_at = ?
			WHERE job_id = ? AND updated_at = ?`),
			string(next.Status), next.Progress, next.Result, next.Error, next.Provider,
			boolInt(next.Fallback), next.UpdatedAt.Format(tsLayout),
			id, cur.UpdatedAt.Format(tsLayout),
		)
		if err != nil {
			return nil, fmt.Errorf("update job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("update job %s: gave up after %d contended attempts", id, maxWatchAttempts)
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM image_jobs WHERE job_id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQL) Stale(ctx context.Context, createdBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT job_id FROM image_jobs
		WHERE status IN (?, ?) AND created_at < ?`),
		string(model.JobQueued), string(model.JobGenerating), createdBefore.UTC().Format(tsLayout))
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

func (s *SQL) Sweep(ctx context.Context, createdBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM image_jobs WHERE created_at < ?`),
		createdBefore.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

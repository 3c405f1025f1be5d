package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotFound = errors.New("result not found")
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		accumulative INTEGER NOT NULL DEFAULT 0,
		error        TEXT DEFAULT '',
		upto_seq     INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS transcripts (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_job ON transcripts(job_id);

	CREATE TABLE IF NOT EXISTS results (
		job_id     TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	// Migration: usage columns were added after the first release.
	for _, col := range []string{"llm_input_tokens", "llm_output_tokens"} {
		var colCount int
		_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('results') WHERE name = ?`, col).Scan(&colCount)
		if colCount == 0 {
			_, _ = db.Exec(`ALTER TABLE results ADD COLUMN ` + col + ` INTEGER DEFAULT 0`)
		}
	}

	return db, nil
}

// CreateJob stores a new job. The job's transcript window starts at every
// transcript stored so far; InsertTranscript extends it to the job's own text.
func CreateJob(db *sql.DB, job domain.Job) error {
	_, err := db.Exec(
		`INSERT INTO jobs (id, status, accumulative, error, upto_seq, created_at, updated_at)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) FROM transcripts), ?, ?)`,
		job.ID, string(job.Status), job.Accumulative, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func GetJob(db *sql.DB, id string) (domain.Job, error) {
	row := db.QueryRow(
		`SELECT id, status, accumulative, error, created_at, updated_at, completed_at FROM jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrJobNotFound
	}
	return job, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var status string
	var errMsg sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&job.ID, &status, &job.Accumulative, &errMsg, &job.CreatedAt, &job.UpdatedAt, &completed); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.Error = errMsg.String
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// UpdateJobStatus moves a job to status. Terminal statuses also stamp
// completed_at. errMsg is stored as given, empty clears it.
func UpdateJobStatus(db *sql.DB, id string, status domain.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var completed any
	if status.Terminal() {
		completed = now
	}
	res, err := db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		string(status), errMsg, now, completed, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns the most recent jobs first.
func ListJobs(db *sql.DB, limit int) ([]domain.Job, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT id, status, accumulative, error, created_at, updated_at, completed_at
		 FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListJobsByStatus returns jobs in any of statuses, oldest first.
func ListJobsByStatus(db *sql.DB, statuses ...domain.JobStatus) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := db.Query(
		`SELECT id, status, accumulative, error, created_at, updated_at, completed_at
		 FROM jobs WHERE status IN (?`+strings.Repeat(", ?", len(statuses)-1)+`)
		 ORDER BY created_at ASC, rowid ASC`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// InsertTranscript stores a job's own transcript and moves the job's window
// to include it.
func InsertTranscript(db *sql.DB, jobID, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO transcripts (job_id, content) VALUES (?, ?)`, jobID, content)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	upd, err := tx.Exec(`UPDATE jobs SET upto_seq = ? WHERE id = ?`, seq, jobID)
	if err != nil {
		return err
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return tx.Commit()
}

// GetTranscriptForJob returns the transcript submitted with the job, or ""
// for jobs that brought no text of their own.
func GetTranscriptForJob(db *sql.DB, jobID string) (string, error) {
	var content string
	err := db.QueryRow(`SELECT content FROM transcripts WHERE job_id = ? ORDER BY seq LIMIT 1`, jobID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

// GetTranscriptsUpTo returns every transcript inside the job's window, in
// submission order.
func GetTranscriptsUpTo(db *sql.DB, jobID string) ([]string, error) {
	var upto int64
	err := db.QueryRow(`SELECT upto_seq FROM jobs WHERE id = ?`, jobID).Scan(&upto)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT content FROM transcripts WHERE seq <= ? ORDER BY seq`, upto)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// JoinTranscripts concatenates stored transcripts into one analyzer input.
func JoinTranscripts(parts []string) string {
	return strings.Join(parts, "\n")
}

type ResultUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func SaveResult(db *sql.DB, jobID string, result domain.AnalysisResult, usage ResultUsage) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO results (job_id, payload, llm_input_tokens, llm_output_tokens) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET payload = excluded.payload,
		   llm_input_tokens = excluded.llm_input_tokens, llm_output_tokens = excluded.llm_output_tokens`,
		jobID, string(payload), usage.InputTokens, usage.OutputTokens,
	)
	return err
}

func GetResult(db *sql.DB, jobID string) (domain.AnalysisResult, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM results WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnalysisResult{}, ErrResultNotFound
	}
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

func GetResultUsage(db *sql.DB, jobID string) (ResultUsage, error) {
	var u ResultUsage
	err := db.QueryRow(`SELECT llm_input_tokens, llm_output_tokens FROM results WHERE job_id = ?`, jobID).
		Scan(&u.InputTokens, &u.OutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return ResultUsage{}, ErrResultNotFound
	}
	return u, err
}

// Package history persists job and track outcomes in SQLite and serves
// status/history reads.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"tunepull/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	platform     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	content_id   TEXT NOT NULL,
	region       TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS job_tracks (
	job_id      TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	track_id    TEXT NOT NULL,
	position    INTEGER NOT NULL DEFAULT 0,
	title       TEXT NOT NULL DEFAULT '',
	artist      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	quality     TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	rel_path    TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	error_msg   TEXT NOT NULL DEFAULT '',
	warnings    TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (job_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
`

// Store is the SQLite-backed history store. All writes go through one mutex
// so concurrent jobs never interleave a partial record.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	writeMu sync.Mutex
}

func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	logger.Info("History store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob records a newly submitted job.
func (s *Store) CreateJob(job *core.DownloadJob) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, platform, kind, content_id, region, source_url, title, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Link.Platform, job.Link.Kind, job.Link.ID, job.Link.Region,
		job.SourceURL, job.Title, job.State, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateTrack upserts the current state of one track.
func (s *Store) UpdateTrack(jobID string, t *core.TrackJob) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	title, artist := "", ""
	if t.Meta != nil {
		title = t.Meta.Title
		artist = t.Meta.Artist()
	}
	quality := ""
	if t.Chosen != nil {
		quality = t.Chosen.Label
	}

	_, err := s.db.Exec(
		`INSERT INTO job_tracks (job_id, idx, track_id, position, title, artist, state, quality, output_path, rel_path, error_kind, error_msg, warnings, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, idx) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			state = excluded.state,
			quality = excluded.quality,
			output_path = excluded.output_path,
			rel_path = excluded.rel_path,
			error_kind = excluded.error_kind,
			error_msg = excluded.error_msg,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at`,
		jobID, t.Index, t.Ref.ID, t.Ref.Position, title, artist, t.State, quality,
		t.Output, t.RelPath, t.ErrKind, t.ErrMsg, strings.Join(t.Warnings, "; "), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recording track %d of job %s: %w", t.Index, jobID, err)
	}
	return nil
}

// FinishJob records the terminal batch state.
func (s *Store) FinishJob(job *core.DownloadJob) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`UPDATE jobs SET state = ?, title = ?, completed_at = ? WHERE id = ?`,
		job.State, job.Title, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob reconstructs a job and its tracks.
func (s *Store) GetJob(jobID string) (*core.DownloadJob, error) {
	row := s.db.QueryRow(
		`SELECT id, platform, kind, content_id, region, source_url, title, state, created_at, completed_at
		 FROM jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", jobID, err)
	}

	rows, err := s.db.Query(
		`SELECT idx, track_id, position, title, artist, state, quality, output_path, rel_path, error_kind, error_msg, warnings, updated_at
		 FROM job_tracks WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("reading tracks of job %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &core.TrackJob{Ref: core.TrackRef{Platform: job.Link.Platform, Region: job.Link.Region}}
		var title, artist, quality, warnings string
		if err := rows.Scan(&t.Index, &t.Ref.ID, &t.Ref.Position, &title, &artist, &t.State,
			&quality, &t.Output, &t.RelPath, &t.ErrKind, &t.ErrMsg, &warnings, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		if title != "" {
			t.Meta = &core.TrackMetadata{ID: t.Ref.ID, Title: title, Artists: splitNonEmpty(artist, "/")}
		}
		if quality != "" {
			t.Chosen = &core.QualityDescriptor{Label: quality}
		}
		if warnings != "" {
			t.Warnings = splitNonEmpty(warnings, "; ")
		}
		job.Tracks = append(job.Tracks, t)
	}
	return job, rows.Err()
}

// ListJobs returns job summaries newest first. Tracks are not populated.
func (s *Store) ListJobs(limit, offset int) ([]*core.DownloadJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(
		`SELECT id, platform, kind, content_id, region, source_url, title, state, created_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []*core.DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// DeliveredKeys returns the delivery keys of every successfully delivered
// track, used to seed the dedup index at startup.
func (s *Store) DeliveredKeys() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT j.platform, t.track_id, t.rel_path
		 FROM job_tracks t JOIN jobs j ON j.id = t.job_id
		 WHERE t.state = ? AND t.rel_path != ''`, core.TrackDone)
	if err != nil {
		return nil, fmt.Errorf("listing delivered keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var platform, trackID, path string
		if err := rows.Scan(&platform, &trackID, &path); err != nil {
			return nil, err
		}
		out = append(out, platform+"|"+trackID+"|"+path)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*core.DownloadJob, error) {
	job := &core.DownloadJob{}
	var completed sql.NullTime
	var created time.Time
	err := r.Scan(&job.ID, &job.Link.Platform, &job.Link.Kind, &job.Link.ID, &job.Link.Region,
		&job.SourceURL, &job.Title, &job.State, &created, &completed)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = created
	if completed.Valid {
		job.CompletedAt = completed.Time
	}
	return job, nil
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

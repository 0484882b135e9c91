package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InsertJob writes a fresh outbox job in pending state.
func (db *DB) InsertJob(j *Job) error {
	uris, err := encodeList(j.MediaURIs)
	if err != nil {
		return err
	}
	urls, err := encodeList(j.MediaURLs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox_jobs
			(message_id, body, media_uris, media_urls, sender_id, sender_name,
			 timestamp, stage, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
		j.MessageID, j.Body, uris, urls, j.SenderID, j.SenderName,
		j.Timestamp, j.Stage, now, now)
	return err
}

// DueJobs returns pending jobs whose next_run_at has passed, oldest first.
func (db *DB) DueJobs(now int64) ([]Job, error) {
	rows, err := db.Query(`
		SELECT message_id, body, media_uris, media_urls, sender_id, sender_name,
		       timestamp, stage, status, attempts, last_error, next_run_at,
		       created_at, updated_at
		FROM outbox_jobs
		WHERE status = 'pending' AND next_run_at <= ?
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// GetJob returns a job by message id, or nil when absent.
func (db *DB) GetJob(messageID string) (*Job, error) {
	row := db.QueryRow(`
		SELECT message_id, body, media_uris, media_urls, sender_id, sender_name,
		       timestamp, stage, status, attempts, last_error, next_run_at,
		       created_at, updated_at
		FROM outbox_jobs WHERE message_id = ?`, messageID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// MarkJobRunning transitions a job to running before a stage executes.
func (db *DB) MarkJobRunning(messageID string) error {
	return db.setJobStatus(messageID, JobRunning, "")
}

// AdvanceJobToSend records the upload stage's output and re-queues the job
// for the send stage. The attempt counter restarts: each stage gets its own
// retry budget.
func (db *DB) AdvanceJobToSend(messageID string, uploadedURLs []string) error {
	urls, err := encodeList(uploadedURLs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		UPDATE outbox_jobs
		SET stage = 'send', status = 'pending', media_urls = ?,
		    attempts = 0, next_run_at = 0, last_error = '', updated_at = ?
		WHERE message_id = ?`,
		urls, now, messageID)
	return err
}

// RescheduleJob puts a failed stage run back in the pending queue with an
// incremented attempt count and a delayed next run.
func (db *DB) RescheduleJob(messageID string, attempts int, nextRunAt int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox_jobs
		SET status = 'pending', attempts = ?, next_run_at = ?, last_error = ?, updated_at = ?
		WHERE message_id = ?`,
		attempts, nextRunAt, errMsg, now, messageID)
	return err
}

// MarkJobSent records terminal success.
func (db *DB) MarkJobSent(messageID string) error {
	return db.setJobStatus(messageID, JobSent, "")
}

// MarkJobFailed records terminal failure after the retry budget is spent.
func (db *DB) MarkJobFailed(messageID, errMsg string) error {
	return db.setJobStatus(messageID, JobFailed, errMsg)
}

// RecoverStaleJobs re-queues jobs left in running state by a previous
// process. Called once on startup before the drain loop begins; this is
// what makes the queue survive process death mid-stage.
func (db *DB) RecoverStaleJobs() (int, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox_jobs SET status = 'pending', next_run_at = 0, updated_at = ?
		WHERE status = 'running'`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DB) setJobStatus(messageID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox_jobs SET status = ?, last_error = ?, updated_at = ?
		WHERE message_id = ?`,
		status, errMsg, now, messageID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var uris, urls string
	if err := r.Scan(&j.MessageID, &j.Body, &uris, &urls, &j.SenderID, &j.SenderName,
		&j.Timestamp, &j.Stage, &j.Status, &j.Attempts, &j.LastError, &j.NextRunAt,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if j.MediaURIs, err = decodeList(uris); err != nil {
		return nil, fmt.Errorf("job %s media_uris: %w", j.MessageID, err)
	}
	if j.MediaURLs, err = decodeList(urls); err != nil {
		return nil, fmt.Errorf("job %s media_urls: %w", j.MessageID, err)
	}
	return &j, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

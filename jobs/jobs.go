// Package jobs implements the recurring watch-job queue backed by SQLite.
//
// Each watch set owns one persistent row. Claiming a due row hides it for
// a visibility window; a crashed worker's row simply reappears when the
// window lapses, so another instance can pick it up. Completing a row
// reschedules it to its next interval instead of deleting it, which is
// what makes the queue recurring. No external broker is involved.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Job is one claimed recurring job.
type Job struct {
	ID       string // watch set id
	Kind     string
	Payload  []byte
	Interval time.Duration
	Runs     int
	Fails    int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays hidden from other
	// workers. It should exceed the worst-case batch duration. Default: 5m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 15s.
	PollInterval time.Duration
	// RetryBackoff is the base delay before a failed job becomes visible
	// again; it doubles per consecutive failure, capped at the job's own
	// interval. Default: 1m.
	RetryBackoff time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the watch_jobs table and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS watch_jobs (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			payload     BLOB,
			interval_ms INTEGER NOT NULL,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			enabled     INTEGER NOT NULL DEFAULT 1,
			runs        INTEGER NOT NULL DEFAULT 0,
			fails       INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_watch_jobs_due ON watch_jobs (enabled, visible_at);
	`)
	return err
}

// Schedule upserts a job. A new job is immediately due; rescheduling an
// existing one keeps its position but adopts the new kind, payload and
// interval.
func (q *Q) Schedule(ctx context.Context, id, kind string, payload []byte, interval time.Duration) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO watch_jobs (id, kind, payload, interval_ms, visible_at, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			interval_ms = excluded.interval_ms,
			enabled = 1`,
		id, kind, payload, interval.Milliseconds(), now, now,
	)
	return err
}

// Disable takes a job out of rotation without losing its row; Enable puts
// it back and makes it immediately due.
func (q *Q) Disable(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE watch_jobs SET enabled = 0 WHERE id = ?`, id)
	return err
}

func (q *Q) Enable(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE watch_jobs SET enabled = 1, visible_at = 0 WHERE id = ?`, id)
	return err
}

// Remove deletes a job row entirely.
func (q *Q) Remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM watch_jobs WHERE id = ?`, id)
	return err
}

// Claim atomically picks the most overdue enabled job and hides it for the
// visibility window. Returns nil, nil when nothing is due.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE watch_jobs
		SET visible_at = ?
		WHERE id = (
			SELECT id FROM watch_jobs
			WHERE enabled = 1 AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, kind, payload, interval_ms, runs, fails`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var intervalMs int64
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &intervalMs, &j.Runs, &j.Fails)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Interval = time.Duration(intervalMs) * time.Millisecond
	return &j, nil
}

// Done reschedules a completed job to its next interval and clears the
// failure streak.
func (q *Q) Done(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE watch_jobs
		SET visible_at = ? + interval_ms, runs = runs + 1, fails = 0
		WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	return err
}

// Fail reschedules a failed job with exponential backoff, capped at the
// job's own interval so a flapping target never falls behind schedule
// permanently.
func (q *Q) Fail(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE watch_jobs
		SET fails = fails + 1,
		    visible_at = ? + MIN(interval_ms, ? * (1 << MIN(fails, 10)))
		WHERE id = ?`,
		time.Now().UnixMilli(), q.opts.RetryBackoff.Milliseconds(), id,
	)
	return err
}

// Due returns how many enabled jobs are currently claimable.
func (q *Q) Due(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM watch_jobs
		WHERE enabled = 1 AND visible_at <= ?`,
		time.Now().UnixMilli(),
	).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to reschedule normally,
// non-nil to back off.
type Handler func(ctx context.Context, job *Job) error

// Run polls for due jobs and calls handler for each one. Blocks until ctx
// is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("jobs: worker started",
		"visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("jobs: worker stopped")
			return
		case <-ticker.C:
			q.poll(ctx, handler, log)
		}
	}
}

func (q *Q) poll(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("jobs: claim failed", "error", err)
			}
			return
		}
		if job == nil {
			return // nothing due
		}

		if err := handler(ctx, job); err != nil {
			log.Warn("jobs: handler failed, backing off",
				"id", job.ID, "kind", job.Kind, "fails", job.Fails+1, "error", err)
			if ferr := q.Fail(ctx, job.ID); ferr != nil {
				log.Error("jobs: reschedule after failure", "id", job.ID, "error", ferr)
			}
			continue
		}
		if derr := q.Done(ctx, job.ID); derr != nil {
			log.Error("jobs: reschedule", "id", job.ID, "error", derr)
		}
	}
}

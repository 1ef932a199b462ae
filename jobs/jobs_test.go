package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/plugwatch/dbopen"
	_ "modernc.org/sqlite"
)

func newQ(t *testing.T, opts Options) *Q {
	t.Helper()
	db := dbopen.OpenMemory(t)
	q := New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	return q
}

func TestScheduleClaimDone(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, Options{Visibility: time.Minute})

	if err := q.Schedule(ctx, "set-1", "watch-status", []byte(`{"set_id":"set-1"}`), 5*time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil {
		t.Fatal("new job should be immediately due")
	}
	if job.ID != "set-1" || job.Kind != "watch-status" {
		t.Fatalf("claimed %+v", job)
	}
	if job.Interval != 5*time.Minute {
		t.Fatalf("interval = %s, want 5m", job.Interval)
	}

	// Claimed job is hidden from other workers.
	if second, err := q.Claim(ctx); err != nil || second != nil {
		t.Fatalf("got %+v %v, want nothing claimable while hidden", second, err)
	}

	// Done reschedules instead of deleting: the row survives with the
	// next run in the future.
	if err := q.Done(ctx, job.ID); err != nil {
		t.Fatalf("Done: %v", err)
	}
	due, err := q.Due(ctx)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if due != 0 {
		t.Fatalf("due = %d, want 0 until the interval lapses", due)
	}
	var visibleAt int64
	if err := q.db.QueryRow(`SELECT visible_at FROM watch_jobs WHERE id = 'set-1'`).Scan(&visibleAt); err != nil {
		t.Fatalf("row gone after Done: %v", err)
	}
	if visibleAt <= time.Now().UnixMilli() {
		t.Fatalf("visible_at %d not pushed past now", visibleAt)
	}
}

func TestFailBacksOffThenRecovers(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, Options{Visibility: time.Minute, RetryBackoff: 10 * time.Millisecond})

	if err := q.Schedule(ctx, "set-1", "watch-status", nil, time.Hour); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("Claim: %+v %v", job, err)
	}

	if err := q.Fail(ctx, job.ID); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	var fails int
	if err := q.db.QueryRow(`SELECT fails FROM watch_jobs WHERE id = 'set-1'`).Scan(&fails); err != nil {
		t.Fatalf("scan fails: %v", err)
	}
	if fails != 1 {
		t.Fatalf("fails = %d, want 1", fails)
	}

	// The short backoff lapses and the job is claimable again.
	time.Sleep(30 * time.Millisecond)
	retry, err := q.Claim(ctx)
	if err != nil || retry == nil {
		t.Fatalf("job not claimable after backoff: %+v %v", retry, err)
	}

	// A successful run clears the streak.
	if err := q.Done(ctx, retry.ID); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if err := q.db.QueryRow(`SELECT fails FROM watch_jobs WHERE id = 'set-1'`).Scan(&fails); err != nil {
		t.Fatalf("scan fails: %v", err)
	}
	if fails != 0 {
		t.Fatalf("fails = %d after success, want 0", fails)
	}
}

func TestDisableParksJob(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, Options{})

	if err := q.Schedule(ctx, "set-1", "watch-status", nil, time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := q.Disable(ctx, "set-1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if job, err := q.Claim(ctx); err != nil || job != nil {
		t.Fatalf("got %+v %v, want disabled job unclaimable", job, err)
	}

	// Re-enabling makes it immediately due again, and rescheduling an
	// existing id re-enables too.
	if err := q.Enable(ctx, "set-1"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("got %+v %v, want claimable after Enable", job, err)
	}
}

func TestScheduleUpsertsExisting(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, Options{})

	if err := q.Schedule(ctx, "set-1", "watch-status", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := q.Schedule(ctx, "set-1", "watch-status", []byte("b"), 2*time.Minute); err != nil {
		t.Fatalf("Schedule upsert: %v", err)
	}

	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM watch_jobs`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows, want upsert into 1", n)
	}

	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("Claim: %+v %v", job, err)
	}
	if string(job.Payload) != "b" || job.Interval != 2*time.Minute {
		t.Fatalf("upsert not applied: %+v", job)
	}
}

// Package scheduler runs the recurring background loops: keeping account
// sessions fresh and executing due watch jobs.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/credcipher"
	"github.com/hazyhaar/plugwatch/jobs"
	"github.com/hazyhaar/plugwatch/refresh"
	"github.com/hazyhaar/plugwatch/store"
)

// Acquirer logs an account in and returns its harvested cookie set.
// Satisfied by *session.Engine.
type Acquirer interface {
	Acquire(ctx context.Context, email, password string) ([]browser.Cookie, error)
}

// RefresherConfig configures the cookie refresher loop.
type RefresherConfig struct {
	// CheckInterval is how often to look for accounts needing a fresh
	// session. Default: 1h.
	CheckInterval time.Duration
	// Horizon is how far ahead an auth-cookie expiry counts as "due".
	// Default: 24h.
	Horizon time.Duration

	Logger *slog.Logger
}

func (c *RefresherConfig) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	if c.Horizon <= 0 {
		c.Horizon = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Refresher re-acquires sessions for accounts whose auth cookie is absent
// or near expiry. Login happens serially: the external operator throttles
// concurrent logins from one address.
type Refresher struct {
	st       *store.Store
	cipher   *credcipher.Cipher
	acquirer Acquirer
	cfg      RefresherConfig
}

// NewRefresher creates a Refresher.
func NewRefresher(st *store.Store, cipher *credcipher.Cipher, acquirer Acquirer, cfg RefresherConfig) *Refresher {
	cfg.defaults()
	return &Refresher{st: st, cipher: cipher, acquirer: acquirer, cfg: cfg}
}

// Run checks on a ticker, once immediately on start. Blocks until ctx is
// cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	r.RefreshDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshDue(ctx)
		}
	}
}

// RefreshDue processes every currently due account. Failures are isolated
// per account.
func (r *Refresher) RefreshDue(ctx context.Context) {
	log := r.cfg.Logger

	due, err := r.st.AccountsDueForRefresh(ctx, r.cfg.Horizon)
	if err != nil {
		log.Error("scheduler: due accounts", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	log.Info("scheduler: refreshing sessions", "accounts", len(due))

	for _, acct := range due {
		if ctx.Err() != nil {
			return
		}
		if err := r.refreshAccount(ctx, acct); err != nil {
			log.Warn("scheduler: session refresh failed",
				"account", acct.ID, "email", acct.Email, "error", err)
		}
	}
}

func (r *Refresher) refreshAccount(ctx context.Context, acct store.DueAccount) error {
	if acct.Algorithm != credcipher.Algorithm {
		return fmt.Errorf("scheduler: unknown credential algorithm %q", acct.Algorithm)
	}
	password, err := r.cipher.Decrypt(acct.Secret)
	if err != nil {
		return err
	}

	cookies, err := r.acquirer.Acquire(ctx, acct.Email, password)
	if err != nil {
		return err
	}

	stored, hasAuth, err := r.st.StoreCookies(ctx, acct.ID, cookies)
	if err != nil {
		return err
	}
	if !hasAuth {
		return errors.New("scheduler: login completed without auth cookie")
	}

	r.cfg.Logger.Info("scheduler: session refreshed",
		"account", acct.ID, "cookies", stored)
	return nil
}

// WatchPayload is the JSON payload of a watch job row.
type WatchPayload struct {
	UserID string `json:"user_id"`
	SetID  string `json:"set_id"`
}

// KindWatchStatus is the job kind for recurring status batches.
const KindWatchStatus = "watch-status"

// ScheduleWatchSet materializes the recurring job for an activated watch
// set; DisableWatchSet parks it on deactivation.
func ScheduleWatchSet(ctx context.Context, q *jobs.Q, set *store.WatchSet) error {
	payload, err := json.Marshal(WatchPayload{UserID: set.UserID, SetID: set.ID})
	if err != nil {
		return fmt.Errorf("scheduler: encode watch payload: %w", err)
	}
	interval := time.Duration(set.SwitchWindowMin) * time.Minute
	return q.Schedule(ctx, set.ID, KindWatchStatus, payload, interval)
}

func DisableWatchSet(ctx context.Context, q *jobs.Q, setID string) error {
	return q.Disable(ctx, setID)
}

// Worker turns claimed watch jobs into status batches.
type Worker struct {
	st     *store.Store
	orch   *refresh.Orchestrator
	logger *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(st *store.Store, orch *refresh.Orchestrator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{st: st, orch: orch, logger: logger}
}

// Handle is the jobs.Handler for watch-status jobs: it resolves the set's
// account and active connectors and runs one status batch. A batch with
// per-target failures still counts as handled; only a wholly unusable job
// (bad payload, missing account) reports failure and backs off.
func (w *Worker) Handle(ctx context.Context, job *jobs.Job) error {
	if job.Kind != KindWatchStatus {
		return fmt.Errorf("scheduler: unknown job kind %q", job.Kind)
	}
	var p WatchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("scheduler: decode watch payload: %w", err)
	}

	set, err := w.st.GetWatchSet(ctx, p.SetID, p.UserID)
	if err != nil {
		return err
	}
	if set == nil || !set.Active {
		w.logger.Info("scheduler: watch set gone or inactive, skipping", "set", p.SetID)
		return nil
	}

	acct, err := w.st.AccountForUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("scheduler: no account for user %s", p.UserID)
	}

	connectors, err := w.st.ActiveConnectorsForUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if len(connectors) == 0 {
		return nil
	}

	results := w.orch.StatusBatch(ctx, acct.ID, connectors)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	w.logger.Info("scheduler: watch batch done",
		"set", set.ID, "targets", len(results), "failed", failed)
	return nil
}

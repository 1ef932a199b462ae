package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/credcipher"
	"github.com/hazyhaar/plugwatch/dbopen"
	"github.com/hazyhaar/plugwatch/jobs"
	"github.com/hazyhaar/plugwatch/store"
	_ "modernc.org/sqlite"
)

var testKey = make([]byte, 32)

type fakeAcquirer struct {
	calls   []string // emails, in order
	secrets []string
	cookies []browser.Cookie
	err     error
}

func (f *fakeAcquirer) Acquire(_ context.Context, email, password string) ([]browser.Cookie, error) {
	f.calls = append(f.calls, email)
	f.secrets = append(f.secrets, password)
	if f.err != nil {
		return nil, f.err
	}
	return f.cookies, nil
}

func newEnv(t *testing.T) (*store.Store, *credcipher.Cipher) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	cipher, err := credcipher.New(testKey)
	if err != nil {
		t.Fatalf("credcipher.New: %v", err)
	}
	return store.New(db), cipher
}

func seedAccount(t *testing.T, st *store.Store, cipher *credcipher.Cipher, user, email, password string) *store.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := st.UpsertAccount(ctx, user, email)
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	sealed, err := cipher.Encrypt(password)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := st.SaveCredential(ctx, acct.ID, sealed, credcipher.Algorithm); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	return acct
}

func TestRefreshDueAcquiresAndStores(t *testing.T) {
	ctx := context.Background()
	st, cipher := newEnv(t)
	acct := seedAccount(t, st, cipher, "u1", "who@example.com", "secreto")

	expiry := time.Now().Add(48 * time.Hour).Unix()
	acq := &fakeAcquirer{
		cookies: []browser.Cookie{
			{Name: "auth_token", Value: "tok", Domain: "placetoplug.com", Path: "/", Expiry: &expiry},
		},
	}

	r := NewRefresher(st, cipher, acq, RefresherConfig{Horizon: 24 * time.Hour})
	r.RefreshDue(ctx)

	if len(acq.calls) != 1 || acq.calls[0] != "who@example.com" {
		t.Fatalf("acquirer calls = %v", acq.calls)
	}
	if acq.secrets[0] != "secreto" {
		t.Fatalf("decrypted password = %q", acq.secrets[0])
	}

	cookies, err := st.CurrentCookies(ctx, acct.ID)
	if err != nil {
		t.Fatalf("CurrentCookies: %v", err)
	}
	if len(cookies) != 1 || cookies[0].Value != "tok" {
		t.Fatalf("cookies = %+v", cookies)
	}

	// With a 48h auth cookie banked, a second pass finds nothing due.
	r.RefreshDue(ctx)
	if len(acq.calls) != 1 {
		t.Fatalf("second pass logged in again: %v", acq.calls)
	}
}

func TestRefreshDueIsolatesLoginFailure(t *testing.T) {
	ctx := context.Background()
	st, cipher := newEnv(t)
	acct := seedAccount(t, st, cipher, "u1", "who@example.com", "secreto")

	acq := &fakeAcquirer{err: errors.New("login failed")}
	r := NewRefresher(st, cipher, acq, RefresherConfig{Horizon: 24 * time.Hour})
	r.RefreshDue(ctx)

	// No cookies stored; the account stays due for the next pass.
	cookies, err := st.CurrentCookies(ctx, acct.ID)
	if err != nil {
		t.Fatalf("CurrentCookies: %v", err)
	}
	if len(cookies) != 0 {
		t.Fatalf("cookies stored despite failed login: %+v", cookies)
	}

	due, err := st.AccountsDueForRefresh(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("AccountsDueForRefresh: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want account still due", len(due))
	}
}

func TestScheduleWatchSetMaterializesJob(t *testing.T) {
	ctx := context.Background()
	st, _ := newEnv(t)
	q := jobs.New(st.DB, jobs.Options{})
	if err := q.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	set := &store.WatchSet{UserID: "u1", Name: "Barrio", SwitchWindowMin: 7}
	if err := st.InsertWatchSet(ctx, set); err != nil {
		t.Fatalf("InsertWatchSet: %v", err)
	}

	if err := ScheduleWatchSet(ctx, q, set); err != nil {
		t.Fatalf("ScheduleWatchSet: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("Claim: %+v %v", job, err)
	}
	if job.ID != set.ID || job.Kind != KindWatchStatus {
		t.Fatalf("job = %+v", job)
	}
	if job.Interval != 7*time.Minute {
		t.Fatalf("interval = %s, want the set's switch window", job.Interval)
	}

	var p WatchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.SetID != set.ID || p.UserID != "u1" {
		t.Fatalf("payload = %+v", p)
	}

	if err := DisableWatchSet(ctx, q, set.ID); err != nil {
		t.Fatalf("DisableWatchSet: %v", err)
	}
}

func TestWorkerHandleSkipsAndRejects(t *testing.T) {
	ctx := context.Background()
	st, _ := newEnv(t)
	w := NewWorker(st, nil, nil)

	// Unknown kind backs off.
	if err := w.Handle(ctx, &jobs.Job{Kind: "mystery"}); err == nil {
		t.Error("unknown kind should error")
	}

	// Undecodable payload backs off.
	if err := w.Handle(ctx, &jobs.Job{Kind: KindWatchStatus, Payload: []byte("{")}); err == nil {
		t.Error("bad payload should error")
	}

	// A deactivated set is a clean no-op: the job row may outlive the
	// deactivation briefly and must not thrash.
	set := &store.WatchSet{UserID: "u1", Name: "Barrio"}
	if err := st.InsertWatchSet(ctx, set); err != nil {
		t.Fatalf("InsertWatchSet: %v", err)
	}
	payload, _ := json.Marshal(WatchPayload{UserID: "u1", SetID: set.ID})
	if err := w.Handle(ctx, &jobs.Job{Kind: KindWatchStatus, Payload: payload}); err != nil {
		t.Fatalf("inactive set should be a no-op, got %v", err)
	}

	// Active set without an account is a real failure.
	if err := st.SetWatchSetActive(ctx, set.ID, true); err != nil {
		t.Fatalf("SetWatchSetActive: %v", err)
	}
	if err := w.Handle(ctx, &jobs.Job{Kind: KindWatchStatus, Payload: payload}); err == nil {
		t.Error("active set without account should error")
	}
}

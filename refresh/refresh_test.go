package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/dbopen"
	"github.com/hazyhaar/plugwatch/store"
	_ "modernc.org/sqlite"
)

// fakeFactory mints one routedPage per Open, mirroring the one-browser-
// per-target contract.
type fakeFactory struct {
	mu    sync.Mutex
	opens int

	failNavURL string            // Navigate to this URL errors
	html       map[string]string // url -> document
	indicator  map[string]string // url -> indicator class attribute
	cookieSets [][]browser.Cookie
}

func (f *fakeFactory) Open(context.Context) (browser.Page, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return &routedPage{f: f}, nil
}

type routedPage struct {
	f      *fakeFactory
	url    string
	closed bool
}

func (p *routedPage) Navigate(_ context.Context, url string) error {
	if url == p.f.failNavURL {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	p.url = url
	return nil
}

func (p *routedPage) URL(context.Context) (string, error) { return p.url, nil }

func (p *routedPage) WaitVisible(context.Context, browser.By, string, time.Duration) error {
	return browser.ErrTimeout
}

func (p *routedPage) Click(context.Context, browser.By, string, time.Duration) error { return nil }
func (p *routedPage) Clear(context.Context, browser.By, string) error                { return nil }
func (p *routedPage) Type(context.Context, browser.By, string, string) error         { return nil }

func (p *routedPage) Text(context.Context, browser.By, string) (string, bool, error) {
	return "", false, nil
}

func (p *routedPage) Attribute(context.Context, browser.By, string, string) (string, bool, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	v, ok := p.f.indicator[p.url]
	return v, ok, nil
}

func (p *routedPage) Attributes(context.Context, browser.By, string, string) ([]string, error) {
	return nil, nil
}

func (p *routedPage) AncestorAttribute(context.Context, browser.By, string, string, string, int) (string, bool, error) {
	return "", false, nil
}

func (p *routedPage) HTML(context.Context) (string, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.html[p.url], nil
}

func (p *routedPage) Cookies(context.Context) ([]browser.Cookie, error) { return nil, nil }

func (p *routedPage) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	p.f.cookieSets = append(p.f.cookieSets, cookies)
	return nil
}

func (p *routedPage) Screenshot(context.Context, string) error { return nil }
func (p *routedPage) Close() error                             { p.closed = true; return nil }

func setup(t *testing.T) (*store.Store, *store.Account, []*store.Connector) {
	t.Helper()
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.New(db)

	acct, err := st.UpsertAccount(ctx, "u1", "who@example.com")
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if _, _, err := st.StoreCookies(ctx, acct.ID, []browser.Cookie{
		{Name: "auth_token", Value: "tok", Domain: "placetoplug.com", Path: "/"},
	}); err != nil {
		t.Fatalf("StoreCookies: %v", err)
	}

	pt, err := st.InsertPoint(ctx, "u1", "Garaje", "")
	if err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}
	var connectors []*store.Connector
	for i, url := range []string{
		"https://placetoplug.com/c/libre",
		"https://placetoplug.com/c/broken",
		"https://placetoplug.com/c/blank",
	} {
		c := &store.Connector{PointID: pt.ID, Name: "S", URL: url, Position: i + 1, Active: true}
		if err := st.InsertConnector(ctx, c); err != nil {
			t.Fatalf("InsertConnector: %v", err)
		}
		connectors = append(connectors, c)
	}
	return st, acct, connectors
}

func TestStatusBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	st, acct, connectors := setup(t)

	factory := &fakeFactory{
		failNavURL: "https://placetoplug.com/c/broken",
		indicator: map[string]string{
			"https://placetoplug.com/c/libre": "plug s-light-green",
		},
		html: map[string]string{
			"https://placetoplug.com/c/blank": "<html><body><h1>Mantenimiento</h1></body></html>",
		},
	}

	orch := New(factory, st, Config{Concurrency: 2})
	results := orch.StatusBatch(ctx, acct.ID, connectors)

	if len(results) != len(connectors) {
		t.Fatalf("got %d results, want one per target", len(results))
	}

	// Target 1: classified.
	if results[0].Err != nil {
		t.Fatalf("libre target errored: %v", results[0].Err)
	}
	if results[0].Status != "Libre" || results[0].Hint != "indicator:s-light-green" {
		t.Errorf("libre target = %s %q", results[0].Status, results[0].Hint)
	}

	// Target 2: isolated failure.
	if results[1].Err == nil {
		t.Error("broken target should carry its navigation error")
	}

	// Target 3: unrecognized page is a valid Desconocido observation.
	if results[2].Err != nil {
		t.Fatalf("blank target errored: %v", results[2].Err)
	}
	if results[2].Status != "Desconocido" || results[2].Hint != "none" {
		t.Errorf("blank target = %s %q, want Desconocido none", results[2].Status, results[2].Hint)
	}

	// One browser per target.
	if factory.opens != 3 {
		t.Errorf("factory opened %d times, want 3", factory.opens)
	}

	// Cookies primed on every page that navigated.
	for _, set := range factory.cookieSets {
		if len(set) != 1 || set[0].Name != "auth_token" {
			t.Errorf("page primed with %+v", set)
		}
	}

	// Persistence: a state row for both successful classifications
	// (including Desconocido), none for the failed target.
	for i, want := range []string{"Libre", "", "Desconocido"} {
		cur, err := st.CurrentState(ctx, connectors[i].ID)
		if err != nil {
			t.Fatalf("CurrentState: %v", err)
		}
		if want == "" {
			if cur != nil {
				t.Errorf("failed target got state row %+v", cur)
			}
			continue
		}
		if cur == nil || cur.Status != want {
			t.Errorf("target %d state = %+v, want %s", i, cur, want)
		}
	}

	// Audit: one run row per target, error outcome recorded.
	var total, failed int
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM extraction_runs`).Scan(&total); err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM extraction_runs WHERE outcome = 'error'`).Scan(&failed); err != nil {
		t.Fatalf("count failed runs: %v", err)
	}
	if total != 3 || failed != 1 {
		t.Fatalf("runs total=%d failed=%d, want 3/1", total, failed)
	}
}

func TestConnectorInfoBatchPersists(t *testing.T) {
	ctx := context.Background()
	st, acct, connectors := setup(t)
	target := connectors[0]

	factory := &fakeFactory{
		html: map[string]string{
			target.URL: `<html><body><div class="specs">Carga 7,4 kW · Gratis</div></body></html>`,
		},
	}

	orch := New(factory, st, Config{})
	results := orch.ConnectorInfoBatch(ctx, acct.ID, []*store.Connector{target})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}

	info, err := st.GetConnectorInfo(ctx, target.ID)
	if err != nil {
		t.Fatalf("GetConnectorInfo: %v", err)
	}
	if info == nil {
		t.Fatal("no snapshot persisted")
	}
	if info.PowerKW == nil || *info.PowerKW != 7.4 {
		t.Errorf("power = %v, want 7.4", info.PowerKW)
	}
	if info.TariffModel == nil || *info.TariffModel != "free" {
		t.Errorf("tariff model = %v, want free", info.TariffModel)
	}
}

func TestPointInfoPersists(t *testing.T) {
	ctx := context.Background()
	st, acct, _ := setup(t)

	pt, err := st.InsertPoint(ctx, "u1", "Centro", "")
	if err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}

	url := "https://placetoplug.com/p/centro"
	factory := &fakeFactory{
		html: map[string]string{
			url: `<html><body>
				<lib-plug-card>A</lib-plug-card>
				<lib-plug-card>B</lib-plug-card>
				<div>Potencia 22 kW</div>
			</body></html>`,
		},
	}

	orch := New(factory, st, Config{})
	res := orch.PointInfo(ctx, acct.ID, pt, url)
	if res.Err != nil {
		t.Fatalf("PointInfo: %v", res.Err)
	}

	info, err := st.GetPointInfo(ctx, pt.ID)
	if err != nil {
		t.Fatalf("GetPointInfo: %v", err)
	}
	if info == nil {
		t.Fatal("no snapshot persisted")
	}
	if info.ConnectorCount == nil || *info.ConnectorCount != 2 {
		t.Errorf("connector count = %v, want 2", info.ConnectorCount)
	}
	if info.MaxPowerKW == nil || *info.MaxPowerKW != 22 {
		t.Errorf("max power = %v, want 22", info.MaxPowerKW)
	}
}

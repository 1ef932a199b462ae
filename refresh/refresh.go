// Package refresh orchestrates extraction batches: it primes a browser
// with an account's current session cookies, navigates to each target,
// delegates to the status classifier or metadata extractor, and persists
// the outcome.
//
// Failures are isolated per target: one unreachable page never aborts the
// rest of the batch, and a batch over N targets always yields N results.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/meta"
	"github.com/hazyhaar/plugwatch/status"
	"github.com/hazyhaar/plugwatch/store"
)

// Config configures the Orchestrator.
type Config struct {
	// Concurrency bounds the number of live browser instances per batch.
	// Default: 2. Each target still gets its own exclusive instance.
	Concurrency int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator runs extraction batches against the external site.
type Orchestrator struct {
	factory    browser.Factory
	st         *store.Store
	classifier *status.Classifier
	extractor  *meta.Extractor
	cfg        Config
}

// New creates an Orchestrator. Nil classifier or extractor fall back to
// the defaults.
func New(factory browser.Factory, st *store.Store, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		factory:    factory,
		st:         st,
		classifier: status.NewClassifier(status.DefaultSkin(), status.WithLogger(cfg.Logger)),
		extractor:  meta.NewExtractor(meta.Config{Logger: cfg.Logger}),
		cfg:        cfg,
	}
}

// WithClassifier replaces the default classifier.
func (o *Orchestrator) WithClassifier(c *status.Classifier) *Orchestrator {
	o.classifier = c
	return o
}

// WithExtractor replaces the default extractor.
func (o *Orchestrator) WithExtractor(e *meta.Extractor) *Orchestrator {
	o.extractor = e
	return o
}

// StatusResult is the outcome of one connector status extraction. Err set
// means the target itself failed (navigation, browser); Desconocido is a
// successful classification, not an error.
type StatusResult struct {
	ConnectorID string
	Status      status.Status
	Hint        string
	Err         error
	Duration    time.Duration
}

// StatusBatch classifies every connector's live status. Cookies are loaded
// once for the whole batch; each connector gets its own browser instance.
// The result slice always has one entry per connector, in input order.
func (o *Orchestrator) StatusBatch(ctx context.Context, accountID string, connectors []*store.Connector) []StatusResult {
	results := make([]StatusResult, len(connectors))

	cookies, err := o.st.CurrentCookies(ctx, accountID)
	if err != nil {
		for i, c := range connectors {
			results[i] = StatusResult{ConnectorID: c.ID, Err: fmt.Errorf("refresh: load cookies: %w", err)}
		}
		return results
	}

	o.forEach(ctx, len(connectors), func(i int) {
		c := connectors[i]
		start := time.Now()
		st, hint, err := o.connectorStatus(ctx, cookies, c.URL)
		results[i] = StatusResult{
			ConnectorID: c.ID,
			Status:      st,
			Hint:        hint,
			Err:         err,
			Duration:    time.Since(start),
		}
		o.persistStatus(ctx, c.ID, results[i])
	})

	return results
}

// connectorStatus drives one browser through navigation and classification.
func (o *Orchestrator) connectorStatus(ctx context.Context, cookies []browser.Cookie, url string) (status.Status, string, error) {
	pg, err := o.factory.Open(ctx)
	if err != nil {
		return "", "", fmt.Errorf("refresh: open browser: %w", err)
	}
	defer pg.Close()

	if err := o.prime(ctx, pg, cookies, url); err != nil {
		return "", "", err
	}
	return o.classifier.Classify(ctx, pg)
}

// persistStatus records the observation and the audit row. A failed target
// gets an audit row but no state row; a Desconocido classification gets
// both.
func (o *Orchestrator) persistStatus(ctx context.Context, connectorID string, r StatusResult) {
	run := &store.ExtractionRun{
		TargetKind: "connector-status",
		TargetID:   connectorID,
		Outcome:    "ok",
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		run.Outcome = "error"
		run.Detail = r.Err.Error()
	} else {
		run.Detail = r.Hint
		if err := o.st.AppendState(ctx, connectorID, string(r.Status), r.Hint); err != nil {
			o.cfg.Logger.Error("refresh: append state", "connector", connectorID, "error", err)
		}
	}
	if err := o.st.LogRun(ctx, run); err != nil {
		o.cfg.Logger.Warn("refresh: log run", "connector", connectorID, "error", err)
	}
}

// InfoResult is the outcome of one metadata extraction.
type InfoResult struct {
	TargetID string
	Err      error
	Duration time.Duration
}

// PointInfo extracts and persists the descriptive snapshot of one point.
func (o *Orchestrator) PointInfo(ctx context.Context, accountID string, pt *store.Point, url string) InfoResult {
	start := time.Now()
	res := InfoResult{TargetID: pt.ID}

	cookies, err := o.st.CurrentCookies(ctx, accountID)
	if err != nil {
		res.Err = fmt.Errorf("refresh: load cookies: %w", err)
		res.Duration = time.Since(start)
		o.persistInfoRun(ctx, "point-info", pt.ID, res)
		return res
	}

	fields, err := o.extractPointFields(ctx, cookies, url)
	if err != nil {
		res.Err = err
	} else {
		info := &store.PointInfo{
			PointID:        pt.ID,
			Name:           fields.Name,
			Address:        fields.Address,
			Provider:       fields.Provider,
			Lat:            fields.Lat,
			Lng:            fields.Lng,
			ConnectorCount: fields.ConnectorCount,
			MaxPowerKW:     fields.MaxPowerKW,
		}
		if err := o.st.UpsertPointInfo(ctx, info); err != nil {
			res.Err = fmt.Errorf("refresh: persist point info: %w", err)
		}
	}
	res.Duration = time.Since(start)
	o.persistInfoRun(ctx, "point-info", pt.ID, res)
	return res
}

func (o *Orchestrator) extractPointFields(ctx context.Context, cookies []browser.Cookie, url string) (*meta.PointFields, error) {
	pg, err := o.factory.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: open browser: %w", err)
	}
	defer pg.Close()

	if err := o.prime(ctx, pg, cookies, url); err != nil {
		return nil, err
	}
	return o.extractor.PointInfo(ctx, pg)
}

// ConnectorInfoBatch extracts and persists metadata for each connector.
// One result per connector, input order, failures isolated per target.
func (o *Orchestrator) ConnectorInfoBatch(ctx context.Context, accountID string, connectors []*store.Connector) []InfoResult {
	results := make([]InfoResult, len(connectors))

	cookies, err := o.st.CurrentCookies(ctx, accountID)
	if err != nil {
		for i, c := range connectors {
			results[i] = InfoResult{TargetID: c.ID, Err: fmt.Errorf("refresh: load cookies: %w", err)}
		}
		return results
	}

	o.forEach(ctx, len(connectors), func(i int) {
		c := connectors[i]
		start := time.Now()
		res := InfoResult{TargetID: c.ID}

		fields, err := o.extractConnectorFields(ctx, cookies, c.URL)
		if err != nil {
			res.Err = err
		} else {
			info := &store.ConnectorInfo{
				ConnectorID: c.ID,
				Type:        fields.Type,
				PowerKW:     fields.PowerKW,
				PriceText:   fields.PriceText,
				PricePerKWh: fields.PricePerKWh,
				TariffModel: fields.TariffModel,
			}
			if err := o.st.UpsertConnectorInfo(ctx, info); err != nil {
				res.Err = fmt.Errorf("refresh: persist connector info: %w", err)
			}
		}
		res.Duration = time.Since(start)
		o.persistInfoRun(ctx, "connector-info", c.ID, res)
		results[i] = res
	})

	return results
}

func (o *Orchestrator) extractConnectorFields(ctx context.Context, cookies []browser.Cookie, url string) (*meta.ConnectorFields, error) {
	pg, err := o.factory.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: open browser: %w", err)
	}
	defer pg.Close()

	if err := o.prime(ctx, pg, cookies, url); err != nil {
		return nil, err
	}
	return o.extractor.ConnectorInfo(ctx, pg)
}

func (o *Orchestrator) persistInfoRun(ctx context.Context, kind, targetID string, r InfoResult) {
	run := &store.ExtractionRun{
		TargetKind: kind,
		TargetID:   targetID,
		Outcome:    "ok",
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		run.Outcome = "error"
		run.Detail = r.Err.Error()
	}
	if err := o.st.LogRun(ctx, run); err != nil {
		o.cfg.Logger.Warn("refresh: log run", "target", targetID, "error", err)
	}
}

// prime installs the session cookies and navigates to the target.
func (o *Orchestrator) prime(ctx context.Context, pg browser.Page, cookies []browser.Cookie, url string) error {
	if len(cookies) > 0 {
		if err := pg.SetCookies(ctx, cookies); err != nil {
			return fmt.Errorf("refresh: set cookies: %w", err)
		}
	}
	if err := pg.Navigate(ctx, url); err != nil {
		return fmt.Errorf("refresh: navigate %s: %w", url, err)
	}
	return nil
}

// forEach runs fn(i) for i in [0,n) with at most Concurrency in flight.
// Every index runs even after cancellation: a cancelled target fails fast
// inside fn when it tries to open its browser, so the batch still yields
// one result per target.
func (o *Orchestrator) forEach(_ context.Context, n int, fn func(i int)) {
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

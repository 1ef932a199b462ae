// Command plugwatch monitors EV charging points on the external operator
// site: it keeps account sessions fresh, classifies connector status, and
// extracts point/connector metadata, on demand over HTTP or on a schedule.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/plugwatch/api"
	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/config"
	"github.com/hazyhaar/plugwatch/credcipher"
	"github.com/hazyhaar/plugwatch/dbopen"
	"github.com/hazyhaar/plugwatch/jobs"
	"github.com/hazyhaar/plugwatch/refresh"
	"github.com/hazyhaar/plugwatch/scheduler"
	"github.com/hazyhaar/plugwatch/session"
	"github.com/hazyhaar/plugwatch/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "plugwatch",
		Short:        "EV charging point monitor",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Local development keys live in .env; absence is fine.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(serveCmd(), cookieRefreshCmd(), statusRefreshCmd(), watchWorkerCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired application: everything the commands need, built once.
type app struct {
	cfg    *config.Config
	st     *store.Store
	orch   *refresh.Orchestrator
	engine *session.Engine
	cipher *credcipher.Cipher
	queue  *jobs.Q
	logger *slog.Logger

	close func()
}

func buildApp() (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cipher, err := credcipher.FromEnv(config.CredentialKeyEnv)
	if err != nil {
		db.Close()
		return nil, err
	}

	st := store.New(db)

	factory := browser.NewFactory(browser.Config{
		Headless:        cfg.Browser.Headless,
		Stealth:         cfg.Browser.Stealth,
		WindowWidth:     cfg.Browser.WindowWidth,
		WindowHeight:    cfg.Browser.WindowHeight,
		PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		Logger:          logger,
	})

	engine := session.New(factory, session.Config{
		LoginURL:      cfg.Session.LoginURL,
		Selectors:     cfg.Session.Selectors,
		StepTimeout:   cfg.Session.StepTimeout,
		SettleDelay:   cfg.Session.SettleDelay,
		ScreenshotDir: cfg.Session.ScreenshotDir,
		Logger:        logger,
	})

	orch := refresh.New(factory, st, refresh.Config{
		Concurrency: cfg.Refresh.Concurrency,
		Logger:      logger,
	})

	queue := jobs.New(db, jobs.Options{
		Visibility:   cfg.Scheduler.JobVisibility,
		PollInterval: cfg.Scheduler.JobPollInterval,
		RetryBackoff: cfg.Scheduler.JobRetryBackoff,
		Logger:       logger,
	})
	if err := queue.EnsureTable(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure job table: %w", err)
	}

	return &app{
		cfg:    cfg,
		st:     st,
		orch:   orch,
		engine: engine,
		cipher: cipher,
		queue:  queue,
		logger: logger,
		close:  func() { db.Close() },
	}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveCmd runs the HTTP API together with both background loops.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background loops",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			refresher := scheduler.NewRefresher(a.st, a.cipher, a.engine, scheduler.RefresherConfig{
				CheckInterval: a.cfg.Scheduler.CookieCheckInterval,
				Horizon:       a.cfg.Scheduler.CookieHorizon,
				Logger:        a.logger,
			})
			go refresher.Run(ctx)

			worker := scheduler.NewWorker(a.st, a.orch, a.logger)
			go a.queue.Run(ctx, worker.Handle)

			svc := api.New(a.st, a.orch, a.engine, a.cipher, a.queue, a.logger)
			srv := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           svc.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("plugwatch: serving", "addr", a.cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

// cookieRefreshCmd runs one pass of the session refresher and exits. Meant
// for cron-style deployments without the long-running server.
func cookieRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cookie-refresh",
		Short: "Re-acquire sessions for accounts with stale auth cookies, then exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			refresher := scheduler.NewRefresher(a.st, a.cipher, a.engine, scheduler.RefresherConfig{
				Horizon: a.cfg.Scheduler.CookieHorizon,
				Logger:  a.logger,
			})
			refresher.RefreshDue(ctx)
			return nil
		},
	}
}

// statusRefreshCmd runs one status batch over a user's active connectors
// and exits.
func statusRefreshCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "status-refresh",
		Short: "Classify every active connector of a user once, then exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			acct, err := a.st.AccountForUser(ctx, userID)
			if err != nil {
				return err
			}
			if acct == nil {
				return fmt.Errorf("no account for user %s", userID)
			}

			connectors, err := a.st.ActiveConnectorsForUser(ctx, userID)
			if err != nil {
				return err
			}
			if len(connectors) == 0 {
				a.logger.Info("no active connectors", "user", userID)
				return nil
			}

			results := a.orch.StatusBatch(ctx, acct.ID, connectors)
			for _, r := range results {
				if r.Err != nil {
					a.logger.Warn("connector failed", "connector", r.ConnectorID, "error", r.Err)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", r.ConnectorID, r.Status, r.Hint)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// watchWorkerCmd runs only the watch-job worker loop, for deployments that
// separate the API from the extraction fleet.
func watchWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-worker",
		Short: "Run the recurring watch-job worker",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			worker := scheduler.NewWorker(a.st, a.orch, a.logger)
			a.queue.Run(ctx, worker.Handle)
			return nil
		},
	}
}

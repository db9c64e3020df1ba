package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/calbridge/internal/auth"
	"github.com/tonimelisma/calbridge/internal/blobstore"
	"github.com/tonimelisma/calbridge/internal/calendar"
	"github.com/tonimelisma/calbridge/internal/config"
	"github.com/tonimelisma/calbridge/internal/credential"
	"github.com/tonimelisma/calbridge/internal/eventcache"
	"github.com/tonimelisma/calbridge/internal/jobs"
	"github.com/tonimelisma/calbridge/internal/mail"
	"github.com/tonimelisma/calbridge/internal/metrics"
	"github.com/tonimelisma/calbridge/internal/provider"
	"github.com/tonimelisma/calbridge/internal/session"
	"github.com/tonimelisma/calbridge/internal/storage"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "calbridge"

// app holds the components a command needs, built from the resolved config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	db  *sql.DB
	rdb redis.UniversalClient

	oauth    *oauth2.Config
	manager  *auth.Manager
	factory  *session.Factory
	calendar *calendar.Service
	runner   *jobs.Runner
	jobs     *calendar.Jobs

	closers []func() error
}

// newApp wires the credential store, token manager, service factory, event
// cache and job runner. No job queue is attached; callers pick one with
// useLocalQueue or useAsynqQueue.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(metricsNamespace)}

	creds, err := a.credentialStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}

	a.oauth = auth.NewOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret,
		cfg.OAuth.AuthURL, cfg.OAuth.TokenURL, "", cfg.OAuth.Scopes)

	a.manager = auth.NewManager(creds, auth.NewOAuthRefresher(a.oauth, httpClient), logger,
		auth.WithSafetyWindow(cfg.SafetyWindow()),
		auth.WithMetrics(a.metrics),
	)

	a.factory = session.NewFactory(a.manager, session.Config{
		BaseURLs: map[provider.Capability]string{
			provider.Calendar: cfg.Network.CalendarURL,
			provider.Sheets:   cfg.Network.SheetsURL,
			provider.Drive:    cfg.Network.DriveURL,
		},
		HTTPClient: httpClient,
		Timeout:    cfg.RequestTimeout(),
		Metrics:    a.metrics,
	}, logger)

	cache := eventcache.New(blobs, eventcache.KindEvents, logger, a.metrics)

	a.calendar = calendar.NewService(a.factory, cache, calendar.Options{
		CalendarID:           cfg.Calendar.CalendarID,
		Location:             cfg.Location(),
		Lookback:             cfg.Lookback(),
		RefreshAfterMutation: cfg.Cache.RefreshAfterMutation,
	}, logger)

	a.runner = jobs.NewRunner(jobs.NewStore(blobs), logger,
		jobs.WithTimeout(cfg.JobTimeout()),
		jobs.WithMetrics(a.metrics),
	)

	a.jobs = calendar.NewJobs(a.calendar, a.mailSink(), cfg.Jobs.ImportConcurrency)
	a.jobs.Register(a.runner)

	return a, nil
}

// credentialStore opens the backend selected by storage.backend.
func (a *app) credentialStore(ctx context.Context) (credential.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendFile:
		return credential.NewFileStore(a.cfg.Storage.CredentialsDir), nil
	case config.BackendMemory:
		return credential.NewMemoryStore(), nil
	default:
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}

		return credential.NewSQLiteStore(db), nil
	}
}

// blobStore opens the backend selected by cache.backend. It holds both
// cached events and job results.
func (a *app) blobStore(ctx context.Context) (blobstore.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		rdb, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}

		return blobstore.NewRedisStoreFromClient(rdb, a.cfg.Cache.KeyPrefix+":"), nil
	case config.BackendMemory:
		return blobstore.NewMemoryStore(), nil
	default:
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}

		return blobstore.NewSQLiteStore(db), nil
	}
}

// database opens the SQLite database once and shares it.
func (a *app) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	db, err := storage.Open(ctx, a.cfg.Storage.DatabasePath, a.logger)
	if err != nil {
		return nil, err
	}

	a.db = db
	a.closers = append(a.closers, db.Close)

	return db, nil
}

// redis dials the shared Redis client once and pings it.
func (a *app) redis(ctx context.Context) (redis.UniversalClient, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.Redis.Addr, err)
	}

	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)

	return rdb, nil
}

func (a *app) mailSink() mail.Sink {
	if a.cfg.Mail.Backend != config.BackendSMTP {
		return mail.NewLogSink(a.logger)
	}

	return mail.NewSMTPSink(mail.SMTPConfig{
		Host:     a.cfg.Mail.Host,
		Port:     a.cfg.Mail.Port,
		From:     a.cfg.Mail.From,
		Username: a.cfg.Mail.Username,
		Password: a.cfg.Mail.Password,
		TLS:      a.cfg.Mail.TLS,
		Timeout:  a.cfg.RequestTimeout(),
	}, a.logger)
}

// useLocalQueue runs jobs on an in-process pool bound to ctx. The returned
// stop drains the pool.
func (a *app) useLocalQueue(ctx context.Context) (stop func()) {
	pool := a.runner.StartPool(ctx, a.cfg.Jobs.Workers, a.cfg.Jobs.Buffer)
	return pool.Stop
}

// useAsynqQueue sends jobs to Redis for a separate worker process. The
// queue borrows the app's Redis client, which Close shuts down.
func (a *app) useAsynqQueue(ctx context.Context) error {
	rdb, err := a.redis(ctx)
	if err != nil {
		return err
	}

	q := jobs.NewAsynqQueue(rdb, a.cfg.Jobs.QueueName)
	a.runner.UseQueue(q)

	return nil
}

// Close releases everything newApp opened, most recent first.
func (a *app) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}

// openApp builds the app from the resolved config and the CLI logger.
func openApp(ctx context.Context) (*app, error) {
	if resolvedCfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	return newApp(ctx, resolvedCfg, buildLogger())
}

// openBrowser asks the desktop to open url.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	return cmd.Start()
}

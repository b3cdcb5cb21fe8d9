// Package service builds the notification components from configuration
// and owns their lifecycle. One Service is created at start-up and passed
// to whatever needs it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/internal/device"
	"github.com/nhle/task-notifications/internal/feed"
	"github.com/nhle/task-notifications/internal/ingest"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/retry"
	"github.com/nhle/task-notifications/internal/store"
	appsync "github.com/nhle/task-notifications/internal/sync"
)

// Deps are the collaborators that come from outside the configuration.
type Deps struct {
	// Tokens supplies the backend bearer token, usually the keyring vault.
	Tokens backend.TokenSource

	// Notifier shows alerts. Defaults to banners on stdout.
	Notifier alert.Notifier

	Logger     *slog.Logger
	Now        func() time.Time
	HTTPClient *http.Client

	// OnIngested is called for every newly stored notification.
	OnIngested func(model.Notification)
}

// Service holds every notification component.
type Service struct {
	Config    *model.AppConfig
	Store     *store.SQLiteStore
	KV        store.KV
	Backend   *backend.Client
	Registrar *device.Registrar
	Tokens    device.TokenProvider
	Scheduler *alert.Scheduler
	Ingestor  *ingest.Ingestor
	Sync      *appsync.Synchronizer
	Poller    *appsync.Poller
	Feed      *feed.Feed
	Wake      *ingest.WakeHandler

	tokens  backend.TokenSource
	logger  *slog.Logger
	closers []func() error
}

// New opens storage and wires the components. Nothing runs until Start
// and Run are called.
func New(cfg *model.AppConfig, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.NewWriterNotifier(os.Stdout)
	}
	if deps.Tokens == nil {
		return nil, errors.New("a backend token source is required")
	}

	svc := &Service{Config: cfg, tokens: deps.Tokens, logger: deps.Logger.With("component", "service")}

	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	svc.Store = st
	svc.closers = append(svc.closers, st.Close)

	switch cfg.Storage.Preferences {
	case "badger":
		kv, err := store.OpenBadgerKV(store.BadgerOptions{Dir: cfg.Storage.BadgerDir, Logger: deps.Logger})
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.KV = kv
		svc.closers = append(svc.closers, kv.Close)
	default:
		svc.KV = st
	}

	svc.Backend = backend.NewClient(cfg.Backend.BaseURL, deps.Tokens, backend.Options{
		Timeout:        cfg.RequestTimeout(),
		RequestsPerSec: cfg.Backend.RequestsPerSec,
		HTTPClient:     deps.HTTPClient,
		Now:            deps.Now,
	})

	svc.Registrar = device.NewRegistrar(svc.Backend, svc.KV, cfg.Device.Type, deps.Logger)
	svc.Tokens = device.Provider(cfg.Device.Token, svc.KV)

	svc.Scheduler = alert.NewScheduler(deps.Notifier, alert.Options{Now: deps.Now, Logger: deps.Logger})

	svc.Feed = feed.New(svc.Store, svc.KV, feed.Options{
		Window: cfg.RecentWindow(),
		Now:    deps.Now,
		Logger: deps.Logger,
	})

	svc.Ingestor = ingest.New(svc.Store, svc.Scheduler, ingest.Options{
		Now:        deps.Now,
		Logger:     deps.Logger,
		OnIngested: deps.OnIngested,
		OnProducerError: func(p ingest.Path, err error) {
			if backend.IsAuthError(err) && svc.Sync != nil {
				svc.Sync.ReportAuthError("session expired: live updates stopped, sign in again")
			}
		},
	})

	svc.Sync, err = appsync.New(svc.Store, svc.Backend, appsync.Options{
		Policy: retry.Policy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseDelay:   cfg.BaseDelay(),
			Multiplier:  cfg.Sync.Multiplier,
		},
		Logger:    deps.Logger,
		Reminders: svc.Scheduler,
		Hidden:    svc.Feed,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("creating synchronizer: %w", err)
	}
	svc.Poller = appsync.NewPoller(svc.Sync, cfg.RefreshInterval())
	svc.Wake = ingest.NewWakeHandler(64, deps.Logger)

	return svc, nil
}

// Start runs the start-up registration pass. A failure is logged and
// returned in the result; the app keeps working and the next start retries.
func (s *Service) Start(ctx context.Context) device.RegistrationResult {
	res := s.Registrar.RegisterCurrent(ctx, s.Tokens)
	if res.Err != nil {
		s.logger.Warn("device registration failed", "error", res.Err)
	}
	return res
}

// Producers builds the delivery paths enabled in configuration. The wake
// handler is always included; it only receives once Router is served.
func (s *Service) Producers(ctx context.Context) ([]ingest.Producer, error) {
	producers := []ingest.Producer{s.Wake}

	if s.Config.Backend.LiveURL != "" {
		producers = append(producers, ingest.NewLiveChannel(s.Config.Backend.LiveURL, s.tokens, ingest.LiveOptions{
			Logger: s.logger,
		}))
	}

	if w := s.Config.Wake; w.PubSubProject != "" && w.PubSubSubscription != "" {
		var opts []option.ClientOption
		if w.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(w.CredentialsFile))
		}
		ps, err := ingest.NewPubSubWake(ctx, w.PubSubProject, w.PubSubSubscription, s.logger, opts...)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, ps.Close)
		producers = append(producers, ps)
	}

	return producers, nil
}

// Router serves the wake webhook and prometheus metrics.
func (s *Service) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Wake.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Run drives ingestion, reminders, periodic refresh and, when listen is
// true, the wake listener, until ctx is done.
func (s *Service) Run(ctx context.Context, listen bool) error {
	producers, err := s.Producers(ctx)
	if err != nil {
		return err
	}

	if _, err := s.Ingestor.Rearm(ctx); err != nil {
		s.logger.Warn("reminders not re-armed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(s.Scheduler.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(s.Ingestor.Run(gctx, producers...)) })

	s.Poller.Start()
	g.Go(func() error {
		<-gctx.Done()
		s.Poller.Stop()
		return nil
	})

	if listen {
		srv := &http.Server{
			Addr:              s.Config.Wake.ListenAddr,
			Handler:           s.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info("wake listener started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("wake listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close stops pending syncs and releases storage.
func (s *Service) Close() error {
	if s.Sync != nil {
		s.Sync.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"undangin/internal/alert"
	"undangin/internal/api"
	"undangin/internal/classify"
	"undangin/internal/config"
	"undangin/internal/dispatch"
	"undangin/internal/eventbus"
	"undangin/internal/reset"
	"undangin/internal/rsvp"
	"undangin/internal/runtime/supervisor"
	"undangin/internal/storage"
	"undangin/internal/transport"
	logx "undangin/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	bus        eventbus.Bus
	dispatcher *dispatch.Dispatcher
	resetSvc   *reset.Service
	alertSvc   *alert.Service
	apiSrv     *api.Server

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.store = store
	a.bus = eventbus.New()

	gwTimeout, err := config.ParseDurationOrDefault("gateway.timeout", cfg.Gateway.Timeout, 20*time.Second)
	if err != nil {
		return err
	}
	gateway, err := transport.NewGateway(transport.GatewayConfig{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: gwTimeout,
	}, a.log.With(logx.String("svc", "gateway")))
	if err != nil {
		return fmt.Errorf("building gateway client: %w", err)
	}

	a.resetSvc, err = reset.New(reset.Config{
		Spec:     cfg.Reset.Spec,
		Timezone: cfg.Dispatch.Timezone,
	}, store, a.log.With(logx.String("svc", "reset")))
	if err != nil {
		return err
	}

	profile, err := dispatch.LookupProfile(cfg.Dispatch.Profile)
	if err != nil {
		return fmt.Errorf("dispatch.profile: %w", err)
	}
	a.dispatcher = dispatch.New(store, gateway, a.log.With(logx.String("svc", "dispatch")), a.bus,
		dispatch.WithProfile(profile),
		dispatch.WithLocation(a.resetSvc.Location()),
	)

	var rsvpOpts []rsvp.Option
	rsvpOpts = append(rsvpOpts, rsvp.WithBus(a.bus))
	if cfg.Classifier.Enabled {
		model := classify.NewModel(cfg.Classifier.APIKey,
			a.log.With(logx.String("svc", "classify")),
			classify.WithModelName(cfg.Classifier.Model),
		)
		rsvpOpts = append(rsvpOpts, rsvp.WithFallback(model))
	}
	replies := rsvp.New(store, a.log.With(logx.String("svc", "rsvp")), rsvpOpts...)

	if cfg.Alerts.Enabled {
		pollTimeout, err := config.ParseDurationField("alerts.poll_timeout", cfg.Alerts.PollTimeout)
		if err != nil {
			return err
		}
		notifier, err := alert.NewTelegram(alert.Config{
			Enabled:     true,
			Token:       cfg.Alerts.Token,
			ChatID:      cfg.Alerts.ChatID,
			PollTimeout: pollTimeout,
		})
		if err != nil {
			return fmt.Errorf("building alert notifier: %w", err)
		}
		a.alertSvc = alert.NewService(a.bus, notifier, a.log.With(logx.String("svc", "alert")))
	}

	a.apiSrv = api.NewServer(api.Config{
		Addr:         cfg.API.Addr,
		WebhookToken: cfg.API.WebhookToken,
	}, a.dispatcher, replies, a.log.With(logx.String("svc", "api")))

	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.resetSvc.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.alertSvc != nil {
		a.alertSvc.Start()
	}

	a.sup.Go("http-api", func(ctx context.Context) error {
		return a.apiSrv.Run(ctx)
	})
	a.sup.Go("config-watch", func(ctx context.Context) error {
		return a.cfgMgr.Watch(ctx)
	})
	a.sup.Go("config-apply", func(ctx context.Context) error {
		ch := a.cfgMgr.Subscribe(4)
		defer a.cfgMgr.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-ch:
				if cfg == nil {
					continue
				}
				a.applyReload(cfg)
			}
		}
	})

	a.log.Info("undangin started")
	return nil
}

// applyReload picks up the settings that are safe to change live: log
// level/sinks and the pacing profile. Everything else needs a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err := a.dispatcher.SetProfile(cfg.Dispatch.Profile); err != nil {
		a.log.Warn("reload kept previous profile", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.dispatcher.Close()
	err := a.sup.Stop(ctx)

	a.resetSvc.Stop()
	if a.alertSvc != nil {
		a.alertSvc.Stop()
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("undangin stopped")
	_ = a.logSvc.Close()
	return err
}

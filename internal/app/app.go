// Package app wires the capture store, browser bridge, asset fetcher,
// scheduler and HTTP API into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"replaycap/internal/assets"
	"replaycap/internal/browser"
	"replaycap/internal/config"
	"replaycap/internal/eventbus"
	"replaycap/internal/httpapi"
	"replaycap/internal/recorder"
	"replaycap/internal/runtime/fairlock"
	"replaycap/internal/runtime/supervisor"
	"replaycap/internal/scheduler"
	"replaycap/internal/storage"
	"replaycap/pkg/logx"
)

// Options overrides pieces normally built from config.
type Options struct {
	// Browser replaces the go-rod bridge (tests, alternative drivers).
	Browser    recorder.Browser
	HTTPClient *http.Client
}

type App struct {
	cfgm *config.ConfigManager
	opts Options
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	lock  *fairlock.Lock

	browser recorder.Browser
	bridge  *browser.Bridge

	fetcher *assets.Fetcher
	sched   *scheduler.Service
	api     *httpapi.Server
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &App{
		cfgm:    cfgm,
		opts:    opts,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		lock:    fairlock.New(),
		fetcher: assets.New(mapAssetsConfig(cfg), client, log.With(logx.String("comp", "assets"))),
	}, nil
}

// OpenStore opens the capture store cfg selects.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Driver, err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))
	return st, nil
}

func (a *App) Store() storage.Store { return a.store }

// Config is the currently committed configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		_, err := mapStorageConfig(next)
		return err
	})

	a.browser = a.opts.Browser
	if a.browser == nil {
		b, err := browser.Launch(a.sup.Context(), mapBrowserConfig(cfg), a.log.With(logx.String("comp", "browser")))
		if err != nil {
			a.sup.Cancel()
			return fmt.Errorf("launch browser: %w", err)
		}
		a.bridge = b
		a.browser = b
	}

	schedLog := a.log.With(logx.String("comp", "scheduler"))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), scheduler.Deps{
		Store:   a.store,
		Browser: a.browser,
		Lock:    a.lock,
		Assets:  a.fetcher,
		Runner:  a.sup,
		Bus:     a.bus,
		Log:     schedLog,
	})
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	if cfg.HTTP.Enabled {
		a.api = httpapi.New(httpAddr(cfg), httpapi.Deps{
			Store:      a.store,
			Scheduler:  a.sched,
			Bus:        a.bus,
			Supervisor: a.sup,
			Log:        a.log.With(logx.String("comp", "http")),
			Pprof:      httpapi.Pprof{Enabled: cfg.HTTP.Pprof, Token: cfg.HTTP.PprofToken},
			TLSCert:    strings.TrimSpace(cfg.HTTP.TLSCert),
			TLSKey:     strings.TrimSpace(cfg.HTTP.TLSKey),
		})
		a.sup.GoRestart("http.api", a.api.Run, time.Second, 30*time.Second)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.log.Info("app started",
		logx.Int("capacity", a.sched.Snapshot().Capacity),
		logx.Bool("http", cfg.HTTP.Enabled))
	return nil
}

// applyConfig pushes the live-reloadable sections to running components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	a.fetcher.Apply(mapAssetsConfig(next))

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Reload re-reads the config file now. Subscribers apply it.
func (a *App) Reload(ctx context.Context) error {
	_, err := a.cfgm.Reload(ctx)
	if errors.Is(err, config.ErrUnchanged) {
		a.log.Info("reload requested; config unchanged")
		return nil
	}
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	a.sup.Cancel()
	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "browser", 3*time.Second, func(c context.Context) error {
		if a.bridge != nil {
			return a.bridge.Close()
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn bounded by max (and ctx). A step that overruns is left
// running and reported when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notisync/internal/aggregate"
	"notisync/internal/api"
	"notisync/internal/config"
	"notisync/internal/eventbus"
	"notisync/internal/feed"
	"notisync/internal/inbox"
	"notisync/internal/poll"
	"notisync/internal/prefs"
	"notisync/internal/push"
	"notisync/internal/runtime/supervisor"
	"notisync/internal/sound"
	"notisync/internal/storage"
	logx "notisync/pkg/logx"
	"notisync/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	res  *config.Resolved
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	prefs *prefs.Store

	primary   *feed.HTTP
	collector *aggregate.Collector
	transport push.Transport
	registry  *push.Registry
	cue       *sound.Switchable

	inboxes []*inbox.Inbox
	api     *api.Server
}

// Option overrides a component, mainly for tests.
type Option func(*App)

// WithTransport replaces the configured push transport.
func WithTransport(t push.Transport) Option { return func(a *App) { a.transport = t } }

// WithCue replaces the configured sound cue.
func WithCue(c sound.Cue) Option { return func(a *App) { a.cue.Set(c) } }

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg, res), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	octx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ps, err := prefs.Open(octx, store, bus, log)
	cancel()
	if err != nil {
		return fail(err)
	}

	primary, err := feed.NewHTTP(feed.HTTPConfig{
		BaseURL:  res.FeedBaseURL,
		Token:    res.FeedToken,
		Timeout:  res.FeedTimeout,
		PageSize: res.FeedPageSize,
		MaxPages: res.FeedMaxPages,
	}, log)
	if err != nil {
		return fail(err)
	}
	if res.FeedToken == "" {
		log.Warn("feed token is empty; requests are unauthenticated")
	}

	cueImpl, err := sound.New(res.SoundCue, res.SoundCommand)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:      cfgm,
		res:       res,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		prefs:     ps,
		primary:   primary,
		collector: aggregate.NewCollector(primary, buildSources(res.Sources), log),
		transport: buildTransport(res),
		cue:       sound.NewSwitchable(cueImpl),
	}
	for _, o := range opts {
		o(a)
	}
	a.registry = push.NewRegistry(func(userID string) *push.Client {
		return push.NewClient(push.Options{
			Transport:  a.transport,
			UserID:     userID,
			MinBackoff: res.PushReconnectMin,
			MaxBackoff: res.PushReconnectMax,
			Log:        log,
		})
	}, log)

	log.Info("configured",
		logx.String("user_id", res.UserID),
		logx.String("feed", res.FeedBaseURL),
		logx.String("push", res.PushTransport),
		logx.Int("sources", len(res.Sources)),
		logx.Int("consumers", res.Consumers),
	)
	return a, nil
}

func buildSources(list []config.ResolvedSource) []feed.Source {
	out := make([]feed.Source, 0, len(list))
	for _, s := range list {
		switch s.Kind {
		case "file":
			out = append(out, &feed.File{Path: s.Path})
		case "rss":
			out = append(out, feed.NewRSS(s.URL, s.MaxAge))
		}
	}
	return out
}

func buildTransport(res *config.Resolved) push.Transport {
	switch res.PushTransport {
	case "sse":
		return &push.SSE{URL: res.PushURL, Token: res.FeedToken, HTTPClient: &http.Client{}, HandshakeTimeout: res.PushHandshakeTimeout}
	case "none":
		return push.None{}
	default:
		return &push.WebSocket{URL: res.PushURL, Token: res.FeedToken, HandshakeTimeout: res.PushHandshakeTimeout}
	}
}

func (a *App) pollOptions(res *config.Resolved) poll.Options {
	return poll.Options{
		Fast:         res.PollFast,
		Slow:         res.PollSlow,
		TriggerRate:  res.PollTriggerRate,
		TriggerBurst: res.PollTriggerBurst,
		Log:          a.log,
	}
}

// Inboxes returns the mounted consumers. Valid after Start.
func (a *App) Inboxes() []*inbox.Inbox { return a.inboxes }

// API returns the local API server, or nil when disabled.
func (a *App) API() *api.Server { return a.api }

func (a *App) Prefs() *prefs.Store { return a.prefs }

func (a *App) Registry() *push.Registry { return a.registry }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	for i := 0; i < a.res.Consumers; i++ {
		ib, err := inbox.New(inbox.Options{
			UserID:   a.res.UserID,
			Fetcher:  a.collector,
			Writer:   a.primary,
			Prefs:    a.prefs,
			Registry: a.registry,
			Events:   a.res.PushEvents,
			Poll:     a.pollOptions(a.res),
			Cue:      a.cue,
			Log:      a.log,
		})
		if err != nil {
			a.closeInboxes()
			return err
		}
		a.inboxes = append(a.inboxes, ib)
	}

	if a.res.APIEnabled {
		var sopts []api.ServerOption
		if a.res.APIPprof {
			sopts = append(sopts, api.WithPprof())
		}
		a.api = api.NewServer(a.inboxes[0], a.prefs, a.log, sopts...)
		addr := a.res.APIAddr
		a.sup.Go("api", func(c context.Context) error { return a.api.Serve(c, addr) })
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("systemd.watchdog", systemd.RunWatchdog)
	a.sup.Go0("eventbus.log", a.logEvents)

	a.log.Info("started", logx.Int("inboxes", len(a.inboxes)), logx.Bool("api", a.api != nil))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("topic", e.Topic), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the hot-reloadable sections and reports the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		return
	}
	res, err := newCfg.Resolve()
	if err != nil {
		a.log.Warn("config reload skipped", logx.Err(err))
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	fields := append([]logx.Field{logx.Strings("sections", ch.Sections)}, ch.Fields...)
	a.log.Info("config reloaded", fields...)

	for _, s := range ch.Sections {
		switch s {
		case "logging":
			a.logs.Apply(newCfg.Logging.LogxConfig())
		case "poll":
			for _, ib := range a.inboxes {
				ib.Scheduler().Apply(a.pollOptions(res))
			}
		case "sound":
			c, err := sound.New(res.SoundCue, res.SoundCommand)
			if err != nil {
				a.log.Warn("sound reload failed", logx.Err(err))
				continue
			}
			a.cue.Set(c)
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config change requires restart", logx.Strings("sections", ch.Restart))
	}
}

func (a *App) closeInboxes() {
	for _, ib := range a.inboxes {
		ib.Close()
	}
	a.inboxes = nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("inboxes", 6*time.Second, func(context.Context) error { a.closeInboxes(); return nil })
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

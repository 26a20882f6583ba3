// Package app builds the dependency graph shared by every command.
package app

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/samber/do/v2"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/artifact"
	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/core"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/http"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/notify"
)

// Params are the command-line inputs that shape the graph.
type Params struct {
	ConfigPath string
	CardKey    string // --card-key
	BaseURL    string // --api-url
	// Environ replaces the process environment when non-nil.
	Environ map[string]string
	// LogOutput receives console logs. Defaults to stdout.
	LogOutput io.Writer
	// Engine overrides the polling cadences from the config when set.
	Engine core.Options
	// HTTPClient replaces the proxy-aware client.
	HTTPClient *nethttp.Client
}

// App owns the injector and the shutdown order of what it created.
type App struct {
	injector do.Injector

	mu      sync.Mutex
	closers []func()
}

// New registers every provider. Nothing is constructed until first use.
func New(p Params) *App {
	a := &App{injector: do.New()}
	do.ProvideValue(a.injector, p)

	do.Provide(a.injector, func(i do.Injector) (*config.Config, error) {
		p := do.MustInvoke[Params](i)
		cfg, err := config.LoadFile(p.ConfigPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplyEnv(p.Environ); err != nil {
			return nil, err
		}
		if u := strings.TrimSpace(p.BaseURL); u != "" {
			cfg.BaseURL = u
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	})

	do.Provide(a.injector, func(i do.Injector) (*config.CardKeyStore, error) {
		p := do.MustInvoke[Params](i)
		return config.NewCardKeyStore(p.CardKey, p.Environ, p.ConfigPath), nil
	})

	do.Provide(a.injector, func(i do.Injector) (*logging.Logger, error) {
		p := do.MustInvoke[Params](i)
		opts := logging.Options{Out: p.LogOutput}
		// A broken config still gets a console logger.
		if cfg, err := do.Invoke[*config.Config](i); err == nil {
			opts.FilePath = config.ResolveLogFile(cfg.LogFile)
		}
		l := logging.New(opts)
		a.onClose(func() { _ = l.Close() })
		return l, nil
	})

	do.Provide(a.injector, func(i do.Injector) (*events.EventBus, error) {
		bus := events.NewEventBus(constants.EventBusDefaultBuffer)
		a.onClose(bus.Close)
		return bus, nil
	})

	do.Provide(a.injector, func(i do.Injector) (*nethttp.Client, error) {
		if hc := do.MustInvoke[Params](i).HTTPClient; hc != nil {
			return hc, nil
		}
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		return http.NewServiceClient(cfg)
	})

	do.Provide(a.injector, func(i do.Injector) (api.Service, error) {
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		hc, err := do.Invoke[*nethttp.Client](i)
		if err != nil {
			return nil, err
		}
		keys := do.MustInvoke[*config.CardKeyStore](i)
		logger := do.MustInvoke[*logging.Logger](i)
		client, err := api.NewClient(cfg, keys, logger,
			api.WithHTTPClient(hc),
			api.WithOnUnauthorized(func(err error) {
				// Flag and env keys belong to the caller; only a stored key is
				// removed from the file.
				if keys.Source() != config.CardKeyFromFile {
					keys.Forget()
					logger.Warn().Msg("card key rejected by the service")
					return
				}
				if ierr := keys.Invalidate(); ierr != nil {
					logger.Warn().Err(ierr).Msg("failed to clear rejected card key")
					return
				}
				logger.Warn().Msg("card key rejected by the service; run 'polish-int login' again")
			}),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	})

	do.Provide(a.injector, func(i do.Injector) (*core.Engine, error) {
		p := do.MustInvoke[Params](i)
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		svc, err := do.Invoke[api.Service](i)
		if err != nil {
			return nil, err
		}
		opts := p.Engine
		if opts.QueueInterval <= 0 {
			opts.QueueInterval = cfg.QueueInterval
		}
		if opts.ProgressInterval <= 0 {
			opts.ProgressInterval = cfg.ProgressInterval
		}
		e := core.NewEngine(svc,
			do.MustInvoke[*events.EventBus](i),
			do.MustInvoke[*logging.Logger](i),
			opts,
		)
		a.onClose(e.Close)
		return e, nil
	})

	do.Provide(a.injector, func(i do.Injector) (*notify.Notifier, error) {
		cfg, err := do.Invoke[*config.Config](i)
		if err != nil {
			return nil, err
		}
		return notify.NewNotifier(cfg.Notifications, do.MustInvoke[*logging.Logger](i)), nil
	})

	return a
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Close releases everything built so far, newest first.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Injector exposes the underlying container.
func (a *App) Injector() do.Injector { return a.injector }

// Config returns the validated configuration.
func (a *App) Config() (*config.Config, error) {
	return do.Invoke[*config.Config](a.injector)
}

// CardKeys returns the card key store.
func (a *App) CardKeys() *config.CardKeyStore {
	return do.MustInvoke[*config.CardKeyStore](a.injector)
}

// Logger returns the shared logger.
func (a *App) Logger() *logging.Logger {
	return do.MustInvoke[*logging.Logger](a.injector)
}

// Events returns the shared event bus.
func (a *App) Events() *events.EventBus {
	return do.MustInvoke[*events.EventBus](a.injector)
}

// Service returns the service client.
func (a *App) Service() (api.Service, error) {
	return do.Invoke[api.Service](a.injector)
}

// Engine returns the session engine.
func (a *App) Engine() (*core.Engine, error) {
	return do.Invoke[*core.Engine](a.injector)
}

// Notifier returns the desktop notifier.
func (a *App) Notifier() (*notify.Notifier, error) {
	return do.Invoke[*notify.Notifier](a.injector)
}

// OpenSink resolves an export destination. An empty raw value uses the
// configured destination.
func (a *App) OpenSink(ctx context.Context, raw string) (artifact.Sink, artifact.Destination, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, artifact.Destination{}, err
	}
	if raw == "" {
		raw = cfg.Export.Destination
	}
	dest, err := artifact.ParseDestination(raw)
	if err != nil {
		return nil, artifact.Destination{}, err
	}
	hc, err := do.Invoke[*nethttp.Client](a.injector)
	if err != nil {
		return nil, artifact.Destination{}, err
	}
	sink, err := artifact.Open(ctx, dest, cfg.Export, hc)
	if err != nil {
		return nil, artifact.Destination{}, err
	}
	return sink, dest, nil
}

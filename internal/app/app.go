package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/five82/c8yview/internal/actions"
	"github.com/five82/c8yview/internal/c8y"
	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/editor"
	"github.com/five82/c8yview/internal/logging"
	"github.com/five82/c8yview/internal/metrics"
	"github.com/five82/c8yview/internal/mirror"
	"github.com/five82/c8yview/internal/pipeline"
	"github.com/five82/c8yview/internal/prefs"
	"github.com/five82/c8yview/internal/ui"
)

// Options configure the c8yview application.
type Options struct {
	ConfigPath  string
	PrefsPath   string        // empty uses default ~/.config/c8yview/prefs.toml
	Workspace   string        // overrides mirror.workspace
	LogPath     string        // overrides log.path; "-" logs to stderr
	MetricsAddr string        // serve /metrics here when set
	PollEvery   time.Duration // overrides ui.refresh_interval when positive
}

// App holds the wired components. Commands and the TUI share one App.
type App struct {
	Config  *config.Store
	Router  *actions.Router
	Opener  *editor.Opener
	Mirror  *mirror.Writer
	Metrics *metrics.Collector
	Log     *zap.Logger
	LogPath string

	opts Options
}

// New loads the configuration and wires pipelines, router and editor. Refreshes
// started by configuration changes run under ctx.
func New(ctx context.Context, opts Options) (*App, error) {
	store, err := config.Open(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	snap := store.Snapshot()

	logPath := snap.LogPath
	if opts.LogPath != "" {
		logPath = opts.LogPath
	}
	if logPath == "-" {
		logPath = ""
	}
	log, err := logging.New(logPath, snap.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	store.SetLogger(log)

	w, err := mirror.NewWriter(workspace(opts.Workspace, snap.Workspace))
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}

	collector := metrics.NewCollector()
	client := c8y.NewClient()
	opener := editor.New(filepath.Join(os.TempDir(), "c8yview"))

	router := actions.NewRouter(actions.Options{
		Pipelines: pipeline.All(pipeline.Deps{
			Fetcher: client,
			Config:  store,
			Mirror:  w,
			Log:     log,
			Metrics: collector,
		}),
		Config:   store,
		Uploader: client,
		Opener:   opener,
		Mirror:   w,
		Metrics:  collector,
		Log:      log,
	})
	store.OnChange(func(c config.Change) {
		log.Info("config changed", zap.Strings("keys", c.Keys))
		router.HandleConfigChange(ctx, c)
	})

	log.Info("c8yview started",
		zap.String("config", store.Path()),
		zap.String("workspace", w.Root()),
	)
	return &App{
		Config:  store,
		Router:  router,
		Opener:  opener,
		Mirror:  w,
		Metrics: collector,
		Log:     log,
		LogPath: logPath,
		opts:    opts,
	}, nil
}

// Close waits for background refreshes and flushes the log.
func (a *App) Close() {
	a.Router.Wait()
	_ = a.Log.Sync()
}

// PollInterval is the periodic refresh cadence; zero disables polling.
func (a *App) PollInterval() time.Duration {
	if a.opts.PollEvery > 0 {
		return a.opts.PollEvery
	}
	return a.Config.Snapshot().RefreshInterval
}

// Run boots the c8yview TUI until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	a, err := New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	userPrefs, err := prefs.Load(prefsPath)
	if err != nil {
		a.Log.Warn("load prefs failed, using defaults", zap.String("path", prefsPath), zap.Error(err))
	}

	if err := a.Config.Watch(ctx); err != nil {
		a.Log.Warn("config watch disabled", zap.Error(err))
	}
	if addr := strings.TrimSpace(opts.MetricsAddr); addr != "" {
		go func() {
			if err := a.Metrics.Serve(ctx, addr); err != nil {
				a.Log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	// Populate in the background; the tree shows each collection as it lands.
	go a.Router.RefreshAll(ctx)
	StartPoller(ctx, a.Router, a.PollInterval(), a.Log)

	return ui.Run(ui.Options{
		Context:   ctx,
		Actions:   a.Router,
		Opener:    a.Opener,
		Log:       a.Log,
		LogPath:   a.LogPath,
		Prefs:     userPrefs,
		PrefsPath: prefsPath,
	})
}

func workspace(flag, configured string) string {
	if ws := strings.TrimSpace(flag); ws != "" {
		return ws
	}
	return configured
}

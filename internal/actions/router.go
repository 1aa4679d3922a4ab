// Package actions maps user triggers onto pipelines, the config store, the
// editor and the platform client.
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/five82/c8yview/internal/c8y"
	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/editor"
	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/metrics"
	"github.com/five82/c8yview/internal/mirror"
	"github.com/five82/c8yview/internal/pipeline"
)

// UploadDescription is attached to every application uploaded from a file.
const UploadDescription = "Uploaded from c8yview"

var (
	// ErrNotFound is returned when a key is not in the current generation.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownCollection is returned for collection names no pipeline serves.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Failure is a user-visible action error. Its message never carries a stack trace.
type Failure struct {
	Op    string
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return f.Op + " failed"
	}
	return fmt.Sprintf("%s failed: %v", f.Op, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// ConfigStore is the part of *config.Store the router drives.
type ConfigStore interface {
	Snapshot() config.Snapshot
	ToggleEnabled(ns string) (bool, error)
}

// Opener shows a document to the user. *editor.Opener implements it.
type Opener interface {
	Open(ctx context.Context, doc editor.Document) (string, error)
}

// Options configures a Router.
type Options struct {
	Pipelines []pipeline.Handle
	Config    ConfigStore
	Uploader  c8y.Uploader
	Opener    Opener
	Mirror    *mirror.Writer
	Metrics   *metrics.Collector
	Log       *zap.Logger
}

// Router dispatches actions. It is safe for concurrent use.
type Router struct {
	order    []pipeline.Handle
	byName   map[string]pipeline.Handle
	config   ConfigStore
	uploader c8y.Uploader
	opener   Opener
	mirror   *mirror.Writer
	metrics  *metrics.Collector
	log      *zap.Logger

	wg sync.WaitGroup
}

// NewRouter builds a Router over opts.Pipelines, addressable by name or namespace.
func NewRouter(opts Options) *Router {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		order:    opts.Pipelines,
		byName:   make(map[string]pipeline.Handle, 2*len(opts.Pipelines)),
		config:   opts.Config,
		uploader: opts.Uploader,
		opener:   opts.Opener,
		mirror:   opts.Mirror,
		metrics:  opts.Metrics,
		log:      log,
	}
	for _, h := range opts.Pipelines {
		r.byName[h.Name()] = h
		r.byName[h.Namespace()] = h
	}
	return r
}

// Collections returns the pipelines in display order.
func (r *Router) Collections() []pipeline.Handle {
	out := make([]pipeline.Handle, len(r.order))
	copy(out, r.order)
	return out
}

// Collection resolves a collection by name or namespace.
func (r *Router) Collection(name string) (pipeline.Handle, error) {
	h, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCollection, name)
	}
	return h, nil
}

// Refresh runs one cycle of the named collection.
func (r *Router) Refresh(ctx context.Context, name string) (pipeline.Result, error) {
	h, err := r.Collection(name)
	if err != nil {
		return pipeline.Result{}, err
	}
	return h.Refresh(ctx), nil
}

// RefreshAll refreshes every collection concurrently and returns the results
// in display order.
func (r *Router) RefreshAll(ctx context.Context) []pipeline.Result {
	results := make([]pipeline.Result, len(r.order))
	var g errgroup.Group
	for i, h := range r.order {
		g.Go(func() error {
			results[i] = h.Refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OpenEntity opens the entity with key in the named collection. Applications
// open their mirror file; everything else opens a scratch copy of its detail.
func (r *Router) OpenEntity(ctx context.Context, name, key string) (string, error) {
	h, err := r.Collection(name)
	if err != nil {
		return "", err
	}
	node, ok := h.Lookup(key)
	if !ok {
		r.log.Warn("open: entity not in cache", zap.String("collection", h.Name()), zap.String("key", key))
		return "", fmt.Errorf("%s %q: %w", h.Name(), key, ErrNotFound)
	}
	if r.opener == nil {
		return "", &Failure{Op: "open", Cause: errors.New("no editor configured")}
	}

	path, err := r.opener.Open(ctx, r.document(h, node))
	if err != nil {
		r.log.Warn("open failed", zap.String("collection", h.Name()), zap.String("key", key), zap.Error(err))
		return path, &Failure{Op: "open " + node.Label(), Cause: err}
	}
	r.log.Info("opened entity", zap.String("collection", h.Name()), zap.String("key", key), zap.String("path", path))
	return path, nil
}

// document picks what the editor shows for node. An application whose mirror
// write failed opens a scratch copy so the editor never shows stale text.
func (r *Router) document(h pipeline.Handle, node entity.Node) editor.Document {
	if node.Kind() == entity.KindApplication {
		doc := editor.Document{Name: node.Label() + mirror.Ext, Content: node.Detail()}
		switch {
		case r.mirror == nil:
		case h.MirrorStale(node.Key()):
			r.log.Warn("mirror is stale, opening a scratch copy", zap.String("key", node.Key()))
		default:
			doc.Path = r.mirror.Path(node.Label())
		}
		return doc
	}
	return editor.Document{Name: node.Key() + ".json", Content: node.Detail()}
}

// ToggleEnabled flips the enabled flag of the named collection. The refresh
// follows from the resulting configuration change.
func (r *Router) ToggleEnabled(name string) (bool, error) {
	h, err := r.Collection(name)
	if err != nil {
		return false, err
	}
	enabled, err := r.config.ToggleEnabled(h.Namespace())
	if err != nil {
		return enabled, &Failure{Op: "toggle " + h.Name(), Cause: err}
	}
	r.log.Info("toggled collection", zap.String("collection", h.Name()), zap.Bool("enabled", enabled))
	return enabled, nil
}

// HandleConfigChange refreshes, in the background, every collection whose
// enabled flag changed. Use Wait to block until those refreshes finish.
func (r *Router) HandleConfigChange(ctx context.Context, change config.Change) {
	for _, h := range r.order {
		if !change.Affects(config.EnabledKey(h.Namespace())) {
			continue
		}
		r.wg.Add(1)
		go func(h pipeline.Handle) {
			defer r.wg.Done()
			h.Refresh(ctx)
		}(h)
	}
}

// Wait blocks until background refreshes started by HandleConfigChange end.
func (r *Router) Wait() {
	r.wg.Wait()
}

// MirrorPath returns the mirror file of the application labelled label.
func (r *Router) MirrorPath(label string) (string, error) {
	if r.mirror == nil {
		return "", &Failure{Op: "locate mirror", Cause: errors.New("mirroring is not configured")}
	}
	return r.mirror.Path(label), nil
}

// UploadEntity creates an active EPL application from the file at path.
// The cache is not touched; the next refresh picks the new application up.
func (r *Router) UploadEntity(ctx context.Context, path string) (err error) {
	defer func() { r.metrics.RecordUpload(err) }()

	name := mirror.Label(path)
	if strings.TrimSpace(name) == "" || name == "." {
		return &Failure{Op: "upload", Cause: fmt.Errorf("no application name in %q", path)}
	}
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return &Failure{Op: "upload " + name, Cause: readErr}
	}

	settings := r.config.Snapshot().Collection(config.NamespaceApps)
	file := c8y.EPLFile{
		Name:        name,
		Contents:    string(contents),
		State:       c8y.StateActive,
		Description: UploadDescription,
	}
	if upErr := r.uploader.UploadEPLFile(ctx, endpoint(settings), file); upErr != nil {
		r.log.Warn("upload failed", zap.String("name", name), zap.String("path", path), zap.Error(upErr))
		return &Failure{Op: "upload " + name, Cause: upErr}
	}
	r.log.Info("uploaded application", zap.String("name", name), zap.String("path", path))
	return nil
}

// CheckConnection verifies that the tenant of the named collection accepts
// its credentials.
func (r *Router) CheckConnection(ctx context.Context, name string) error {
	ns := config.NamespaceApps
	if name != "" {
		h, err := r.Collection(name)
		if err != nil {
			return err
		}
		ns = h.Namespace()
	}
	settings := r.config.Snapshot().Collection(ns)
	if err := r.uploader.Ping(ctx, endpoint(settings)); err != nil {
		r.log.Warn("connection check failed", zap.String("namespace", ns), zap.Error(err))
		return &Failure{Op: "connect to " + settings.URL, Cause: err}
	}
	r.log.Info("connection ok", zap.String("namespace", ns), zap.String("url", settings.URL))
	return nil
}

func endpoint(c config.Collection) c8y.Endpoint {
	return c8y.Endpoint{BaseURL: c.URL, User: c.User, Password: c.Password}
}

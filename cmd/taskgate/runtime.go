package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kingrea/taskgate/internal/api"
	"github.com/kingrea/taskgate/internal/archive"
	"github.com/kingrea/taskgate/internal/config"
	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/logbook"
	"github.com/kingrea/taskgate/internal/logging"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/telemetry"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

// runtime is everything one CLI invocation needs, wired from the project's
// .taskgate directory.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	layout  *workflow.Layout
	tasks   *task.FileSource
	records *taskstate.Manager
	handler *engine.Handler
	archive *archive.Store
	feed    *api.Feed
	prom    *prometheus.Registry
}

type runtimeOptions struct {
	projectDir  string
	catalogue   string
	lockTimeout time.Duration
}

func openRuntime(opts runtimeOptions) (*runtime, error) {
	if err := config.InitDir(opts.projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.projectDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, layout: workflow.NewLayout(cfg.TaskgateDir)}
	if err := rt.wire(opts); err != nil {
		_ = logger.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(opts runtimeOptions) error {
	timeout := rt.cfg.LockTimeout()
	if opts.lockTimeout > 0 {
		timeout = opts.lockTimeout
	}
	storeOpts := []filestore.Option{
		filestore.WithTimeout(timeout),
		filestore.WithRetryDelay(min(rt.cfg.RetryDelay(), timeout)),
	}
	tasks, err := task.NewFileSource(rt.cfg.TasksDir(), storeOpts...)
	if err != nil {
		return err
	}
	records, err := taskstate.NewManager(rt.layout, taskstate.WithStoreOptions(storeOpts...))
	if err != nil {
		return err
	}
	registry, err := loadRegistry(firstNonEmpty(opts.catalogue, rt.cfg.CataloguePath()))
	if err != nil {
		return err
	}
	rt.prom = prometheus.NewRegistry()
	rt.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.New(rt.prom)
	if err != nil {
		return err
	}
	rt.archive = archive.NewStore(rt.layout)
	rt.feed = api.NewFeed(api.FeedWithLogger(rt.logger))
	handler, err := engine.New(registry, tasks, records,
		engine.WithLogger(rt.logger),
		engine.WithMetrics(metrics),
		engine.WithJournals(rt.journal),
		engine.WithObserver(rt.archive),
		engine.WithObserver(rt.feed),
	)
	if err != nil {
		return err
	}
	rt.tasks = tasks
	rt.records = records
	rt.handler = handler
	return nil
}

func (rt *runtime) journal(taskID string) *logbook.Logbook {
	return logbook.Shared(rt.layout.ActivityPath(taskID))
}

func (rt *runtime) Close() {
	if rt != nil {
		_ = rt.logger.Close()
	}
}

// loadRegistry compiles the catalogue at path, or the built-in one when
// path is empty, and freezes it.
func loadRegistry(path string) (*tool.Registry, error) {
	var (
		defs []tool.Definition
		err  error
	)
	if strings.TrimSpace(path) == "" {
		defs, err = tool.BuiltinCatalogue()
	} else {
		defs, err = tool.LoadCatalogueFile(path, tool.BuiltinHooks())
	}
	if err != nil {
		return nil, fmt.Errorf("load tool catalogue: %w", err)
	}
	reg := tool.NewRegistry()
	if err := tool.RegisterAll(reg, defs); err != nil {
		return nil, err
	}
	return reg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

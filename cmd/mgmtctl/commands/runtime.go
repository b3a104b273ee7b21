package commands

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/mgmtcore/pkg/config"
	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/handlers"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/policy"
	"github.com/openfroyo/mgmtcore/pkg/registry"
	"github.com/openfroyo/mgmtcore/pkg/stores"
	"github.com/openfroyo/mgmtcore/pkg/telemetry"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

// runtime is one assembled management core instance.
type runtime struct {
	cfg           *config.Config
	telemetry     *telemetry.Telemetry
	logger        zerolog.Logger
	store         *stores.SQLiteStore
	tree          *tree.Tree
	registry      *registry.Registry
	notifications *notify.Service
	handlers      *handlers.Handlers
	policies      *policy.Engine
	watcher       *policy.Loader
	controller    *engine.Controller
	journal       notify.Handler
	dropped       atomic.Int64
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(configPath); err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens the configured store without assembling the rest of the
// runtime. The returned func closes it.
func openStore(ctx context.Context) (*stores.SQLiteStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Path == "" {
		return nil, nil, fmt.Errorf("no store configured")
	}
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
		Logger:       log.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}, nil
}

// newRuntime wires the configured components. With watch set, policy files
// are reloaded on change until ctx is done.
func newRuntime(ctx context.Context, cfg *config.Config, watch bool) (rt *runtime, err error) {
	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	rt = &runtime{
		cfg:       cfg,
		telemetry: tel,
		logger:    *tel.Logger.Zerolog(),
		tree:      tree.New(),
		registry:  registry.New(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.notifications = notify.NewService(
		notify.WithLogger(rt.logger),
		notify.WithRecorder(tel.Metrics),
		notify.WithDropHook(func(model.Address, string) { rt.dropped.Add(1) }),
	)
	rt.handlers = handlers.New(rt.registry, rt.notifications)
	if err := rt.handlers.Register(); err != nil {
		return nil, err
	}

	if len(cfg.Descriptions) > 0 {
		descs, err := config.NewDescriptionLoader(rt.logger).Load(cfg.Descriptions)
		if err != nil {
			return nil, err
		}
		if err := descs.Apply(rt.registry, rt.handlers); err != nil {
			return nil, err
		}
	}

	opts := []engine.Option{
		engine.WithLogger(rt.logger),
		engine.WithRecorder(tel.Metrics),
		engine.WithTracer(tel.Tracer),
		engine.WithLockTimeout(cfg.Engine.LockTimeout),
	}

	if cfg.Store.Path != "" {
		store, err := stores.NewSQLiteStore(stores.Config{
			Path:         cfg.Store.Path,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
			Logger:       rt.logger,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		rt.store = store
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		ic := telemetry.StartInstrumented(tel.WithContext(ctx), "store.restore",
			attribute.String("store.path", cfg.Store.Path))
		n, err := store.Restore(ic.Ctx, rt.tree)
		ic.End(err)
		if err != nil {
			return nil, err
		}
		ic.Logger.WithField("resources", n).Debug("Resource tree restored")
		tel.Metrics.SetResourceCount(n)
		rt.journal = store.NotificationSink()
		opts = append(opts, engine.WithPersister(store))
	}

	if cfg.Policy.Enabled {
		pe, err := policy.NewEngine(rt.logger, policy.WithData(cfg.Policy.Data))
		if err != nil {
			return nil, err
		}
		if len(cfg.Policy.Paths) > 0 {
			if watch && cfg.Policy.Watch {
				if rt.watcher, err = policy.WatchEngine(ctx, pe, cfg.Policy.Paths); err != nil {
					return nil, err
				}
			} else if err := pe.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				return nil, err
			}
		}
		rt.policies = pe
		opts = append(opts, engine.WithAuthorizer(pe))
	}

	rt.controller = engine.NewController(rt.tree, rt.registry, opts...)
	return rt, nil
}

// submit runs ops in order, or up to parallel at a time when parallel > 1.
// Notifications emitted at each target and at its wildcard fallback are
// journaled, and every attempted operation is audited.
func (rt *runtime) submit(ctx context.Context, ops []model.Operation, parallel int) ([]*engine.Result, error) {
	if principal != "" {
		ctx = policy.WithPrincipal(ctx, principal)
	}
	if rt.journal != nil {
		for _, op := range ops {
			rt.notifications.RegisterHandler(op.Address, rt.journal)
			if fallback, ok := op.Address.WildcardFallback(); ok {
				rt.notifications.RegisterHandler(fallback, rt.journal)
			}
		}
	}

	var (
		results []*engine.Result
		err     error
	)
	if parallel > 1 {
		results, err = rt.controller.SubmitAll(ctx, ops, parallel)
	} else {
		results = make([]*engine.Result, len(ops))
		for i, op := range ops {
			res, serr := rt.controller.Submit(ctx, op)
			results[i] = res
			if serr != nil {
				err = serr
				break
			}
		}
	}

	if rt.store != nil {
		for i, res := range results {
			if res == nil {
				continue
			}
			if aerr := rt.store.CreateAuditEntry(ctx, stores.NewAuditEntry(ops[i], res, principal)); aerr != nil {
				rt.logger.Warn().Err(aerr).Str("operation", ops[i].Name).Msg("Failed to audit operation")
			}
		}
		if keep := rt.cfg.Store.JournalSize; keep > 0 {
			if _, perr := rt.store.PruneNotifications(ctx, keep); perr != nil {
				rt.logger.Warn().Err(perr).Msg("Failed to prune notification journal")
			}
		}
	}
	return results, err
}

// Close releases the store, the policy watcher and telemetry.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.watcher != nil {
		errs = append(errs, rt.watcher.StopWatching())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, rt.telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}

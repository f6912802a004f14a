package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-banklink/adapters/gojob"
	"github.com/goliatone/go-banklink/adapters/otelmetrics"
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/httpapi"
	"github.com/goliatone/go-banklink/providers/plaid"
	"github.com/goliatone/go-banklink/ratelimit"
	"github.com/goliatone/go-banklink/security"
	redisstore "github.com/goliatone/go-banklink/store/redis"
	sqlstore "github.com/goliatone/go-banklink/store/sql"
	"github.com/goliatone/go-banklink/transport"
	"github.com/goliatone/go-banklink/webhooks"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// app holds everything serve starts and must close.
type app struct {
	logger  glog.Logger
	client  *persistence.Client
	ledger  *redisstore.ReplayLedger
	queue   revokeQueue
	memory  *gojob.MemoryQueue
	worker  *gojob.RevokeWorker
	service *core.Service
	handler http.Handler
}

type revokeQueue interface {
	queue.Enqueuer
	queue.Dequeuer
}

type appOptions struct {
	logger        glog.Logger
	plaidAdapter  transport.Adapter
	skipMigration bool
}

func openDatabase(ctx context.Context, settings Settings) (*persistence.Client, error) {
	if err := settings.validateDatabase(); err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, sqlstore.DatabaseConfig{
		Driver: settings.DBDriver,
		DSN:    settings.DBDSN,
		Debug:  settings.DBDebug,
	})
}

func buildApp(ctx context.Context, settings Settings, opts appOptions) (_ *app, err error) {
	if err := settings.validateServe(); err != nil {
		return nil, err
	}
	logger := glog.Ensure(opts.logger)
	rt := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.client, err = openDatabase(ctx, settings)
	if err != nil {
		return nil, err
	}
	if !opts.skipMigration {
		if err = rt.client.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("banklinkd: migrate: %w", err)
		}
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = settings.ItemCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("banklinkd: item cache: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(rt.client, sqlstore.WithItemCache(cacheService))
	if err != nil {
		return nil, err
	}

	secretOpts := []security.Option{security.WithKeyID(settings.AppKeyID)}
	if strings.TrimSpace(settings.AppKeyCtx) != "" {
		secretOpts = append(secretOpts, security.WithContext(settings.AppKeyCtx))
	}
	secrets, err := security.NewAppKeySecretProviderFromString(settings.AppKey, secretOpts...)
	if err != nil {
		return nil, err
	}

	env, err := plaid.ParseEnvironment(settings.PlaidEnv)
	if err != nil {
		return nil, err
	}
	base := opts.plaidAdapter
	if base == nil {
		base = transport.NewRESTAdapter(nil)
	}
	throttled, err := ratelimit.Wrap(base, ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()), plaid.AggregatorName)
	if err != nil {
		return nil, err
	}
	aggregator, err := plaid.New(plaid.Config{
		ClientID:    settings.PlaidClientID,
		Secret:      settings.PlaidSecret,
		Environment: env,
		BaseURL:     settings.PlaidBaseURL,
	}, throttled)
	if err != nil {
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(otelmetrics.New(nil)),
		core.WithConfigProvider(core.NewCfgxConfigProvider(core.YAMLConfigLoader{Path: settings.ConfigFile})),
		core.WithAggregator(aggregator, plaid.AggregatorName),
		core.WithRepositoryFactory(factory),
		core.WithSecretProvider(secrets),
	}
	if strings.TrimSpace(settings.RedisURL) != "" {
		rt.ledger, err = redisstore.NewReplayLedgerFromURL(ctx, redisstore.Options{URL: settings.RedisURL})
		if err != nil {
			return nil, err
		}
		serviceOpts = append(serviceOpts, core.WithReplayLedger(rt.ledger))
	}
	rt.service, err = core.NewService(core.DefaultConfig(), serviceOpts...)
	if err != nil {
		return nil, err
	}

	identity, err := settings.identityResolver()
	if err != nil {
		return nil, err
	}
	handlerOpts := []httpapi.Option{httpapi.WithLogger(logger), httpapi.WithIdentityResolver(identity)}
	if settings.AsyncRevoke {
		if rt.ledger != nil {
			rt.queue, err = redisstore.NewRevokeQueue(rt.ledger, redisstore.DefaultRevokeQueue, 0)
			if err != nil {
				return nil, err
			}
		} else {
			rt.memory = gojob.NewMemoryQueue()
			rt.queue = rt.memory
		}
		rt.worker, err = gojob.NewRevokeWorker(rt.queue, rt.service, gojob.WithWorkerLogger(logger))
		if err != nil {
			return nil, err
		}
		handlerOpts = append(handlerOpts, httpapi.WithRevokeScheduler(gojob.NewRevokeScheduler(rt.queue)))
	}
	if settings.Webhooks {
		var ledger core.ReplayLedger = core.NewMemoryReplayLedger(0)
		if rt.ledger != nil {
			ledger = rt.ledger
		}
		itemHandler, err := webhooks.NewItemStatusHandler(plaid.DecodeWebhook, rt.service)
		if err != nil {
			return nil, err
		}
		processor := webhooks.NewProcessor(aggregator.WebhookVerifier(), ledger, itemHandler)
		handlerOpts = append(handlerOpts, httpapi.WithWebhookProcessor(processor))
	}
	rt.handler, err = httpapi.New(rt.service, handlerOpts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Close releases the queue, the ledger and the database client.
func (rt *app) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.memory != nil {
		rt.memory.Close()
	}
	if rt.ledger != nil {
		errs = append(errs, rt.ledger.Close())
	}
	if rt.client != nil {
		errs = append(errs, rt.client.Close())
	}
	return errors.Join(errs...)
}

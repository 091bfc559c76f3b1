package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/importer"
	"github.com/sells-group/cadence-import/internal/progress"
	"github.com/sells-group/cadence-import/internal/resilience"
	"github.com/sells-group/cadence-import/internal/source"
	"github.com/sells-group/cadence-import/internal/store"
	"github.com/sells-group/cadence-import/internal/tasks"
	sfpkg "github.com/sells-group/cadence-import/pkg/salesforce"
)

// importEnv holds the store, transports and importer shared by the serve
// and import commands.
type importEnv struct {
	Store      store.Store
	Importer   *importer.Importer
	Progress   *progress.RedisReporter // nil without redis
	Salesforce *source.Salesforce      // nil without salesforce credentials

	redis    *redis.Client
	notifier *tasks.AMQPNotifier
}

// Close waits for running batches and releases connections.
func (e *importEnv) Close() {
	if e.Importer != nil {
		e.Importer.Wait()
	}
	if e.notifier != nil {
		_ = e.notifier.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, migrates it, connects the optional Redis, AMQP and
// Salesforce clients, and builds the Importer. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*importEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &importEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reporters := progress.Multi{progress.LogReporter{}}
	if cfg.Redis.Addr != "" {
		rdb, err := initRedis(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.redis = rdb
		env.Progress = progress.NewRedisReporter(rdb)
		reporters = append(reporters, env.Progress)
	}

	var notifier tasks.Notifier = tasks.Nop{}
	if cfg.AMQP.URL != "" {
		n, err := tasks.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "connect amqp")
		}
		env.notifier = n
		notifier = n
	} else {
		zap.L().Warn("amqp.url not set, task notifications disabled")
	}

	retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)

	if mode == "serve" && cfg.Salesforce.Enabled() {
		client, err := initSalesforce()
		if err != nil {
			env.Close()
			return nil, err
		}
		breaker := resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))
		env.Salesforce = source.NewSalesforce(client, retry, breaker)
	}

	env.Importer = importer.New(st, reporters, notifier, importer.Config{
		Concurrency:        cfg.Import.Concurrency,
		CheckpointInterval: cfg.Import.CheckpointInterval,
		Retry:              retry,
	})
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cadence.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "connect redis at %s", cfg.Redis.Addr)
	}
	zap.L().Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return rdb, nil
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	client, err := sfpkg.Connect(sfpkg.Creds{
		LoginURL:  cfg.Salesforce.LoginURL,
		Username:  cfg.Salesforce.Username,
		ClientID:  cfg.Salesforce.ClientID,
		PEM:       string(pemData),
		RateLimit: cfg.Salesforce.RateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return client, nil
}

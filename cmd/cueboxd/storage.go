package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/adapters/filestore"
	"github.com/mikey-austin/cuebox/internal/adapters/mongohistory"
	"github.com/mikey-austin/cuebox/internal/adapters/redisstore"
	"github.com/mikey-austin/cuebox/internal/adapters/sqlitestore"
	"github.com/mikey-austin/cuebox/internal/cueboxd"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// storage bundles the configured backends.
type storage struct {
	db          *sqlitestore.Store
	persistence sessioncore.Persistence
	history     sessioncore.History
	closers     []func(context.Context) error
}

func openStorage(ctx context.Context, cfg cueboxd.StorageConfig, logger *zap.Logger) (*storage, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sqlitestore.Open(cfg.Path, sqlitestore.Options{HistoryLimit: cfg.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	st := &storage{db: db, persistence: db, history: db}
	st.closers = append(st.closers, func(context.Context) error { return db.Close() })

	var redisStore *redisstore.Store
	dialRedis := func() (*redisstore.Store, error) {
		if redisStore != nil {
			return redisStore, nil
		}
		store, client, err := redisstore.Dial(ctx, cfg.RedisURL, redisstore.Options{
			Prefix:       cfg.RedisPrefix,
			TTL:          time.Duration(cfg.RedisTTLSec) * time.Second,
			HistoryLimit: cfg.HistoryLimit,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func(context.Context) error { return client.Close() })
		redisStore = store
		return store, nil
	}

	switch cfg.Sessions {
	case cueboxd.BackendFile:
		files, err := filestore.New(cfg.FileDir)
		if err != nil {
			st.close(ctx)
			return nil, fmt.Errorf("open file store: %w", err)
		}
		st.persistence = files
	case cueboxd.BackendRedis:
		store, err := dialRedis()
		if err != nil {
			st.close(ctx)
			return nil, err
		}
		st.persistence = store
	}

	switch cfg.History {
	case cueboxd.BackendRedis:
		store, err := dialRedis()
		if err != nil {
			st.close(ctx)
			return nil, err
		}
		st.history = store
	case cueboxd.BackendMongo:
		client, err := mongohistory.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			st.close(ctx)
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		st.closers = append(st.closers, client.Disconnect)
		history := mongohistory.New(client, cfg.MongoDatabase, cfg.MongoCollection)
		if err := history.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo history index failed", zap.Error(err))
		}
		st.history = history
	}

	logger.Info("storage ready",
		zap.String("path", cfg.Path),
		zap.String("sessions", cfg.Sessions),
		zap.String("history", cfg.History),
	)
	return st, nil
}

func (s *storage) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && !errors.Is(err, redis.ErrClosed) && !errors.Is(err, mongo.ErrClientDisconnected) {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

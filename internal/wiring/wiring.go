// Package wiring builds the stores named in the configuration and loads the
// definitions they serve. Both the server and the operator CLI use it.
package wiring

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/config"
	"github.com/pitabwire/formflow/internal/definition"
	"github.com/pitabwire/formflow/internal/flow"
	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/internal/session"
	"github.com/pitabwire/formflow/model"
)

// mirrorProbePath is read by the readiness check. It is never written.
const mirrorProbePath = "_health/probe"

// Stores holds the opened stores and the clients behind them.
type Stores struct {
	Submissions persistence.SubmissionStore
	Mirror      persistence.Mirror
	States      flow.StateStore
	// Idempotency is nil when submit replay protection is disabled.
	Idempotency session.IdempotencyStore

	redis   *redis.Client
	mongo   *mongo.Client
	pg      *pgxpool.Pool
	closers []func()
}

// OpenStores connects every store the configuration names. On error anything
// already opened is closed.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Stores, err error) {
	s := &Stores{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if needsRedis(cfg) {
		if err := s.openRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}
	if err := s.openSubmissions(ctx, cfg.Mongo, logger); err != nil {
		return nil, err
	}
	if err := s.openMirror(ctx, cfg.Mirror); err != nil {
		return nil, err
	}
	if err := s.openStates(ctx, cfg, logger); err != nil {
		return nil, err
	}
	s.openIdempotency(cfg.Idempotency, logger)

	logger.Info("stores opened",
		zap.String("mirror", s.Mirror.Name()),
		zap.String("state", cfg.State.Driver),
		zap.Bool("mongo", s.mongo != nil),
		zap.Bool("idempotency", s.Idempotency != nil),
	)
	return s, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Mirror.Driver == "redis" ||
		cfg.State.Driver == "redis" ||
		(cfg.Idempotency.Enabled && cfg.Idempotency.Driver == "redis")
}

func (s *Stores) openRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	s.redis = client
	s.closers = append(s.closers, func() { client.Close() })
	return nil
}

func (s *Stores) openSubmissions(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) error {
	if cfg.URI == "" {
		logger.Warn("mongo.uri not configured, keeping submissions in memory")
		s.Submissions = persistence.NewMemorySubmissionStore()
		return nil
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return fmt.Errorf("mongo: connect: %w", err)
	}
	s.mongo = client
	s.closers = append(s.closers, func() { client.Disconnect(context.Background()) })

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("mongo: ping: %w", err)
	}

	store := persistence.NewMongoStore(client.Database(cfg.Database).Collection(cfg.Collection))
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mongo: ensure indexes: %w", err)
	}
	s.Submissions = store
	return nil
}

func (s *Stores) openMirror(ctx context.Context, cfg config.MirrorConfig) error {
	switch cfg.Driver {
	case "blob":
		m, err := persistence.OpenBlobMirror(ctx, cfg.BucketURL)
		if err != nil {
			return err
		}
		s.Mirror = m
		s.closers = append(s.closers, func() { m.Close() })
	case "redis":
		s.Mirror = persistence.NewRedisMirror(s.redis, cfg.RedisPrefix, cfg.RedisTTL)
	case "badger":
		m, err := persistence.OpenBadgerMirror(cfg.BadgerDir)
		if err != nil {
			return err
		}
		s.Mirror = m
		s.closers = append(s.closers, func() { m.Close() })
	default:
		return fmt.Errorf("unsupported mirror driver: %q", cfg.Driver)
	}
	return nil
}

func (s *Stores) openStates(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.State.Driver {
	case "memory":
		logger.Info("using in-memory flow state store")
		s.States = flow.NewMemoryStateStore()
	case "redis":
		s.States = flow.NewRedisStateStore(s.redis, cfg.State.RedisPrefix, cfg.State.TTL)
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("state store: parse DSN: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Postgres.MaxConns
		}
		poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("state store: connect: %w", err)
		}
		s.pg = pool
		s.closers = append(s.closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("state store: ping: %w", err)
		}
		store := flow.NewPgStateStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("state store: ensure schema: %w", err)
		}
		s.States = store
	default:
		return fmt.Errorf("unsupported state store driver: %q", cfg.State.Driver)
	}
	return nil
}

func (s *Stores) openIdempotency(cfg config.IdempotencyConfig, logger *zap.Logger) {
	if !cfg.Enabled {
		return
	}
	switch cfg.Driver {
	case "redis":
		s.Idempotency = session.NewRedisIdempotencyStore(s.redis)
	default:
		logger.Info("using in-memory idempotency store")
		s.Idempotency = session.NewMemoryIdempotencyStore()
	}
}

// Readiness returns the dependency checks for the readiness endpoint.
func (s *Stores) Readiness(registry *definition.Registry) observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Count() > 0 },
		Mirror:            observability.HealthCheckFunc(s.probeMirror),
	}
	if s.mongo != nil {
		checks.SubmissionStore = observability.HealthCheckFunc(func(ctx context.Context) error {
			return s.mongo.Ping(ctx, nil)
		})
	}
	switch {
	case s.pg != nil:
		checks.StateStore = observability.HealthCheckFunc(s.pg.Ping)
	case s.redis != nil:
		checks.StateStore = observability.HealthCheckFunc(func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
	}
	return checks
}

func (s *Stores) probeMirror(ctx context.Context) error {
	_, err := s.Mirror.Get(ctx, mirrorProbePath)
	if err == nil || model.HasCode(err, model.ErrNotFound) {
		return nil
	}
	return err
}

// Close releases every opened client in reverse order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// DefinitionRecorder observes definition loads.
type DefinitionRecorder interface {
	RecordDefinitionLoad(status string)
	SetDefinitionsLoaded(count float64)
}

// LoadDefinitions loads and validates templates, flows and the manifest.
// Every validation error is logged. Unless strict_checksums is set, manifest
// md5 mismatches are logged as warnings and do not fail the load. recorder
// may be nil.
func LoadDefinitions(cfg config.DefinitionsConfig, logger *zap.Logger, recorder DefinitionRecorder) (reg *definition.Registry, err error) {
	defer func() {
		if recorder == nil {
			return
		}
		if err != nil {
			recorder.RecordDefinitionLoad("error")
			return
		}
		recorder.RecordDefinitionLoad("ok")
		recorder.SetDefinitionsLoaded(float64(reg.Count()))
	}()

	b, err := definition.NewLoader().Load(definition.Sources{
		TemplateDirs: []string{cfg.TemplatesDir},
		FlowDirs:     []string{cfg.FlowsDir},
		ManifestPath: cfg.ManifestPath,
	})
	if err != nil {
		return nil, err
	}
	if b.ManifestBuilt {
		logger.Warn("manifest not found, built from loaded templates",
			zap.String("manifest_path", cfg.ManifestPath))
	}

	verrs := definition.NewValidator().Validate(b)
	if !cfg.StrictChecksums {
		var stale []definition.VError
		stale, verrs = definition.SplitChecksumErrors(verrs)
		for _, ve := range stale {
			logger.Warn("definition checksum mismatch", zap.String("error", ve.Error()))
		}
	}
	for _, ve := range verrs {
		logger.Error("definition validation error",
			zap.String("path", ve.Path),
			zap.String("code", ve.Code),
			zap.String("error", ve.Message),
		)
	}
	if err := definition.AsError(verrs); err != nil {
		return nil, err
	}
	if len(b.Templates) == 0 && len(b.Flows) == 0 {
		return nil, errors.New("no definitions found")
	}

	reg = b.Registry()
	logger.Info("definitions loaded",
		zap.Int("templates", len(b.Templates)),
		zap.Int("flows", len(b.Flows)),
		zap.String("checksum", reg.Checksum()),
	)
	return reg, nil
}

package wiring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/formflow/internal/config"
	"github.com/pitabwire/formflow/internal/definition"
	"github.com/pitabwire/formflow/internal/flow"
	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/internal/session"
	"github.com/pitabwire/formflow/model"
)

const (
	templatesDir = "../definition/testdata/templates"
	flowsDir     = "../definition/testdata/flows"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mirror.BucketURL = "mem://"
	return cfg
}

// --- Stores ---

func TestOpenStores_memory(t *testing.T) {
	s, err := OpenStores(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &persistence.MemorySubmissionStore{}, s.Submissions)
	assert.Equal(t, "blob", s.Mirror.Name())
	assert.IsType(t, &flow.MemoryStateStore{}, s.States)
	assert.IsType(t, &session.MemoryIdempotencyStore{}, s.Idempotency)
}

func TestOpenStores_redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Mirror.Driver = "redis"
	cfg.State.Driver = "redis"
	cfg.Idempotency.Driver = "redis"

	s, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "redis", s.Mirror.Name())
	assert.IsType(t, &flow.RedisStateStore{}, s.States)
	assert.IsType(t, &session.RedisIdempotencyStore{}, s.Idempotency)

	ctx := context.Background()
	require.NoError(t, s.Mirror.Put(ctx, "sessions/s1/entry.json", []byte(`{}`)))
	got, err := s.Mirror.Get(ctx, "sessions/s1/entry.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got))
}

func TestOpenStores_redisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig()
	cfg.Redis.Addr = addr
	cfg.State.Driver = "redis"

	_, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}

func TestOpenStores_badgerInMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mirror.Driver = "badger"
	cfg.Mirror.BadgerDir = ""
	cfg.Idempotency.Enabled = false

	s, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "badger", s.Mirror.Name())
	assert.Nil(t, s.Idempotency)
}

func TestOpenStores_unsupportedDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mirror.Driver = "ftp"

	_, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mirror driver")
}

func TestReadiness(t *testing.T) {
	s, err := OpenStores(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	reg := definition.NewRegistry([]model.FormTemplate{{FormID: "entry"}}, nil, nil)
	checks := s.Readiness(reg)

	assert.True(t, checks.DefinitionsLoaded())
	require.NotNil(t, checks.Mirror)
	assert.NoError(t, checks.Mirror.HealthCheck(context.Background()))
	assert.Nil(t, checks.SubmissionStore)
	assert.Nil(t, checks.StateStore)
}

// --- Definitions ---

func TestLoadDefinitions(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	cfg := config.DefinitionsConfig{
		TemplatesDir:    templatesDir,
		FlowsDir:        flowsDir,
		ManifestPath:    "../definition/testdata/manifest.json",
		StrictChecksums: true,
	}

	reg, err := LoadDefinitions(cfg, zap.NewNop(), metrics)
	require.NoError(t, err)

	_, ok := reg.GetFlow("door")
	assert.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DefinitionLoadTotal.WithLabelValues("ok")))
}

func TestLoadDefinitions_checksumMismatch(t *testing.T) {
	tmpls, err := definition.NewLoader().LoadTemplates(templatesDir)
	require.NoError(t, err)
	manifest, err := definition.BuildManifest(tmpls)
	require.NoError(t, err)
	entry := manifest["entry"]
	entry.MD5 = "00000000000000000000000000000000"
	manifest["entry"] = entry
	path := filepath.Join(t.TempDir(), definition.ManifestFileName)
	require.NoError(t, definition.WriteManifest(path, manifest))

	cfg := config.DefinitionsConfig{
		TemplatesDir:    templatesDir,
		FlowsDir:        flowsDir,
		ManifestPath:    path,
		StrictChecksums: true,
	}

	_, err = LoadDefinitions(cfg, zap.NewNop(), nil)
	assert.True(t, model.HasCode(err, model.ErrReferentialIntegrity), "strict load error = %v", err)

	core, logs := observer.New(zapcore.WarnLevel)
	cfg.StrictChecksums = false
	reg, err := LoadDefinitions(cfg, zap.New(core), nil)
	require.NoError(t, err)
	assert.NotNil(t, reg)
	assert.Equal(t, 1, logs.FilterMessage("definition checksum mismatch").Len())
}

func TestLoadDefinitions_missingDirectory(t *testing.T) {
	cfg := config.DefinitionsConfig{TemplatesDir: "testdata/nowhere", FlowsDir: flowsDir}
	_, err := LoadDefinitions(cfg, zap.NewNop(), nil)
	assert.Error(t, err)
}

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/adapters/broadcast"
	"github.com/mikey-austin/cuebox/internal/adapters/filestore"
	"github.com/mikey-austin/cuebox/internal/cueboxd"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

func testStorage(t *testing.T, cfg cueboxd.StorageConfig) *storage {
	t.Helper()
	st, err := openStorage(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	t.Cleanup(func() { st.close(context.Background()) })
	return st
}

func TestOpenStorageSQLite(t *testing.T) {
	st := testStorage(t, cueboxd.StorageConfig{
		Path:     filepath.Join(t.TempDir(), "nested", "cuebox.db"),
		Sessions: cueboxd.BackendSQLite,
		History:  cueboxd.BackendSQLite,
	})
	if st.persistence != st.db || st.history != st.db {
		t.Fatalf("expected sqlite to back sessions and history")
	}
}

func TestOpenStorageFileSessions(t *testing.T) {
	dir := t.TempDir()
	st := testStorage(t, cueboxd.StorageConfig{
		Path:     ":memory:",
		Sessions: cueboxd.BackendFile,
		FileDir:  filepath.Join(dir, "sessions"),
		History:  cueboxd.BackendSQLite,
	})
	if _, ok := st.persistence.(*filestore.Store); !ok {
		t.Fatalf("expected file store, got %T", st.persistence)
	}
}

func TestOpenStorageRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := openStorage(ctx, cueboxd.StorageConfig{
		Path:     ":memory:",
		Sessions: cueboxd.BackendRedis,
		History:  cueboxd.BackendSQLite,
		RedisURL: "redis://127.0.0.1:1/0",
	}, zap.NewNop())
	if err == nil {
		t.Fatalf("expected redis dial error")
	}
}

func TestBuildControllersAppliesVariantConfig(t *testing.T) {
	st := testStorage(t, cueboxd.StorageConfig{Path: ":memory:", Sessions: cueboxd.BackendSQLite, History: cueboxd.BackendSQLite})
	off := false
	cfg := cueboxd.Config{}
	cfg.Playback.Audio.Enabled = &off
	cfg.Playback.Video.SharedKey = "den"

	controllers, err := buildControllers(cfg, st, broadcast.NewFanout(zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("buildControllers: %v", err)
	}
	if len(controllers) != 1 || controllers[0].Kind() != cue.KindVideo {
		t.Fatalf("expected only the video controller")
	}
	if key := controllers[0].Key("ignored"); key.ID != "den" {
		t.Fatalf("expected shared key override, got %+v", key)
	}
}

func TestApplyVariantKeepsAudioPerProfile(t *testing.T) {
	variant := applyVariant(sessioncore.AudioVariant(), cueboxd.VariantConfig{TickMS: 200, SharedKey: "den"})
	if variant.TickInterval != 200*time.Millisecond {
		t.Fatalf("expected tick override, got %v", variant.TickInterval)
	}
	if variant.SharedKey != "" {
		t.Fatalf("audio must stay keyed by profile")
	}
}

func TestBuildModulesModuleOnlyFilter(t *testing.T) {
	st := testStorage(t, cueboxd.StorageConfig{Path: ":memory:", Sessions: cueboxd.BackendSQLite, History: cueboxd.BackendSQLite})
	fanout := broadcast.NewFanout(zap.NewNop())

	cfg := cueboxd.Config{}
	cfg.Modules.CatalogSync.Enabled = true
	cfg.Modules.CatalogSync.Manifest = filepath.Join(t.TempDir(), "catalog.toml")
	cfg.Modules.HTTPGateway.Enabled = true
	cfg.Modules.HTTPGateway.Listen = "127.0.0.1:0"

	controllers, err := buildControllers(cfg, st, fanout, zap.NewNop())
	if err != nil {
		t.Fatalf("buildControllers: %v", err)
	}
	deps := moduleDeps{storage: st, fanout: fanout, controllers: controllers}

	modules, err := buildModules(cfg, deps, zap.NewNop(), "", false)
	if err != nil {
		t.Fatalf("buildModules: %v", err)
	}
	if len(modules) != 2 || modules[0].Name != "catalog_sync" || modules[1].Name != "http_gateway" {
		t.Fatalf("unexpected modules %+v", modules)
	}
	if fanout.Len() != 1 {
		t.Fatalf("expected websocket hub attached, got %d targets", fanout.Len())
	}

	modules, err = buildModules(cfg, deps, zap.NewNop(), "catalog_sync", false)
	if err != nil {
		t.Fatalf("buildModules: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("expected 1 module")
	}

	if _, err := buildModules(cfg, deps, zap.NewNop(), "session_server", false); err == nil {
		t.Fatalf("expected error for filtered module")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := cueboxd.Config{}
	cfg.Server.Broker = "mqtt://config"
	applyOverrides(&cfg, overrides{broker: "mqtt://flag", logLevel: "debug", logUTC: true})
	if cfg.Server.Broker != "mqtt://flag" || cfg.Server.LogLevel != "debug" || !cfg.Server.LogUTC {
		t.Fatalf("overrides not applied: %+v", cfg.Server)
	}
}

func TestEmbeddedBrokerURL(t *testing.T) {
	cfg := cueboxd.Config{}
	if got := embeddedBrokerURL(cfg); got != "mqtt://127.0.0.1:1883" {
		t.Fatalf("unexpected url %q", got)
	}
	cfg.Modules.EmbeddedMQTT.Listen = "0.0.0.0:8883"
	cfg.Modules.EmbeddedMQTT.TLSCert = "cert.pem"
	if got := embeddedBrokerURL(cfg); got != "mqtts://0.0.0.0:8883" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestWarmSessionsRestoresPersisted(t *testing.T) {
	st := testStorage(t, cueboxd.StorageConfig{Path: ":memory:", Sessions: cueboxd.BackendSQLite, History: cueboxd.BackendSQLite})
	ctx := context.Background()
	for _, key := range []sessioncore.SessionKey{
		{Kind: cue.KindAudio, ID: "alice"},
		{Kind: cue.KindVideo, ID: "living-room"},
		{Kind: cue.KindVideo, ID: "old-room"},
	} {
		if err := st.persistence.Save(ctx, key, *sessioncore.NewState(key)); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}

	controllers, err := buildControllers(cueboxd.Config{}, st, broadcast.NewFanout(zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("buildControllers: %v", err)
	}
	defer closeControllers(controllers)

	if warmed := warmSessions(ctx, st.persistence, controllers, zap.NewNop()); warmed != 2 {
		t.Fatalf("expected 2 sessions warmed, got %d", warmed)
	}
	for _, controller := range controllers {
		if len(controller.Sessions()) != 1 {
			t.Fatalf("expected one live %s session, got %v", controller.Kind(), controller.Sessions())
		}
	}
}

func TestWarmSessionsSkipsUnlistableBackend(t *testing.T) {
	st := testStorage(t, cueboxd.StorageConfig{
		Path:     ":memory:",
		Sessions: cueboxd.BackendFile,
		FileDir:  filepath.Join(t.TempDir(), "sessions"),
		History:  cueboxd.BackendSQLite,
	})
	if warmed := warmSessions(context.Background(), st.persistence, nil, zap.NewNop()); warmed != 0 {
		t.Fatalf("expected file backend to be skipped, got %d", warmed)
	}
}

package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/adapters/broadcast"
	"github.com/mikey-austin/cuebox/internal/adapters/mqttserver"
	"github.com/mikey-austin/cuebox/internal/cueboxd"
	catalogsync "github.com/mikey-austin/cuebox/internal/modules/catalog_sync"
	embeddedmqtt "github.com/mikey-austin/cuebox/internal/modules/embedded_mqtt"
	httpgateway "github.com/mikey-austin/cuebox/internal/modules/http_gateway"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	sessionserver "github.com/mikey-austin/cuebox/internal/modules/session_server"
)

type moduleDeps struct {
	client      *mqttserver.Client
	storage     *storage
	fanout      *broadcast.Fanout
	controllers []*sessioncore.Controller
}

func buildControllers(cfg cueboxd.Config, st *storage, fanout *broadcast.Fanout, logger *zap.Logger) ([]*sessioncore.Controller, error) {
	variants := []sessioncore.Variant{}
	if cfg.Playback.Audio.On() {
		variants = append(variants, applyVariant(sessioncore.AudioVariant(), cfg.Playback.Audio))
	}
	if cfg.Playback.Video.On() {
		variants = append(variants, applyVariant(sessioncore.VideoVariant(), cfg.Playback.Video))
	}

	controllers := make([]*sessioncore.Controller, 0, len(variants))
	for _, variant := range variants {
		controller, err := sessioncore.NewController(logger.With(zap.String("kind", variant.Kind)), variant, sessioncore.Deps{
			Catalog:     st.db.Catalog(variant.Kind),
			Persistence: st.persistence,
			Broadcaster: fanout,
			History:     st.history,
		})
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, controller)
	}
	return controllers, nil
}

type sessionLister interface {
	SessionKeys(ctx context.Context, kind string) ([]sessioncore.SessionKey, error)
}

// warmSessions hydrates every persisted session so it is live before the
// first command arrives. Backends that cannot list sessions are skipped.
func warmSessions(ctx context.Context, persistence sessioncore.Persistence, controllers []*sessioncore.Controller, logger *zap.Logger) int {
	lister, ok := persistence.(sessionLister)
	if !ok {
		return 0
	}
	warmed := 0
	for _, controller := range controllers {
		keys, err := lister.SessionKeys(ctx, controller.Kind())
		if err != nil {
			logger.Warn("list sessions failed", zap.String("kind", controller.Kind()), zap.Error(err))
			continue
		}
		for _, key := range keys {
			if controller.Key(key.ID) != key {
				logger.Debug("skipping stale session", zap.String("session", key.String()))
				continue
			}
			controller.State(ctx, key.ID)
			warmed++
		}
	}
	return warmed
}

func applyVariant(variant sessioncore.Variant, cfg cueboxd.VariantConfig) sessioncore.Variant {
	if tick := cfg.Tick(); tick > 0 {
		variant.TickInterval = tick
	}
	if window := cfg.PersistWindow(); window > 0 {
		variant.PersistWindow = window
	}
	if window := cfg.BroadcastWindow(); window > 0 {
		variant.BroadcastWindow = window
	}
	if cfg.SharedKey != "" && variant.SharedKey != "" {
		variant.SharedKey = cfg.SharedKey
	}
	return variant
}

func embeddedConfig(cfg cueboxd.Config) embeddedmqtt.Config {
	return embeddedmqtt.Config{
		Listen:          cfg.Modules.EmbeddedMQTT.Listen,
		WebsocketListen: cfg.Modules.EmbeddedMQTT.WebsocketListen,
		TopicBase:       cfg.Server.TopicBase,
		AllowAnonymous:  cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:        cfg.Modules.EmbeddedMQTT.Username,
		Password:        cfg.Modules.EmbeddedMQTT.Password,
		ViewerUsername:  cfg.Modules.EmbeddedMQTT.ViewerUsername,
		ViewerPassword:  cfg.Modules.EmbeddedMQTT.ViewerPassword,
		TLSCA:           cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:         cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:          cfg.Modules.EmbeddedMQTT.TLSKey,
	}
}

func buildModules(cfg cueboxd.Config, deps moduleDeps, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]cueboxd.ModuleRunner, error) {
	wanted := func(name string) bool { return moduleOnly == "" || moduleOnly == name }
	modules := []cueboxd.ModuleRunner{}

	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded && wanted("embedded_mqtt") {
		mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
		if err != nil {
			return nil, err
		}
		modules = append(modules, cueboxd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	if cfg.Modules.CatalogSync.Enabled && wanted("catalog_sync") {
		mod, err := catalogsync.NewModule(logger.With(zap.String("module", "catalog_sync")), deps.storage.db, catalogsync.Config{
			ManifestPath: cfg.Modules.CatalogSync.Manifest,
			Watch:        cfg.Modules.CatalogSync.Watch,
			Debounce:     time.Duration(cfg.Modules.CatalogSync.DebounceMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, cueboxd.ModuleRunner{Name: "catalog_sync", Run: mod.Run})
	}

	if cfg.Modules.SessionServer.Enabled && wanted("session_server") {
		mod, err := sessionserver.NewModule(logger.With(zap.String("module", "session_server")), deps.client, sessionserver.Config{
			NodeID:    cfg.Modules.SessionServer.NodeID,
			TopicBase: cfg.Server.TopicBase,
			Name:      cfg.Modules.SessionServer.Name,
			RateLimit: cfg.Modules.SessionServer.RateLimit,
			RateBurst: cfg.Modules.SessionServer.RateBurst,
		}, deps.controllers...)
		if err != nil {
			return nil, err
		}
		deps.fanout.Attach("mqtt", sessionserver.NewStatePublisher(deps.client, cfg.Server.TopicBase))
		modules = append(modules, cueboxd.ModuleRunner{Name: "session_server", Run: mod.Run})
	}

	if cfg.Modules.HTTPGateway.Enabled && wanted("http_gateway") {
		mod, err := httpgateway.NewModule(logger.With(zap.String("module", "http_gateway")), httpgateway.Config{
			Listen:  cfg.Modules.HTTPGateway.Listen,
			Metrics: cfg.Modules.HTTPGateway.Metrics,
		}, deps.controllers...)
		if err != nil {
			return nil, err
		}
		deps.fanout.Attach("websocket", mod.Hub())
		modules = append(modules, cueboxd.ModuleRunner{Name: "http_gateway", Run: mod.Run})
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

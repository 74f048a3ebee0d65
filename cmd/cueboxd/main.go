package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/internal/adapters/broadcast"
	"github.com/mikey-austin/cuebox/internal/adapters/mqttserver"
	"github.com/mikey-austin/cuebox/internal/cueboxd"
	"github.com/mikey-austin/cuebox/internal/metrics"
	embeddedmqtt "github.com/mikey-austin/cuebox/internal/modules/embedded_mqtt"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/internal/telemetry"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	logColor  bool
}

func main() {
	var (
		configPath  string
		envFile     string
		o           overrides
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := cueboxd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before startup")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&o.identity, "identity", "", "server identity override")
	flag.StringVar(&o.topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&o.logLevel, "log-level", "", "log level override")
	flag.StringVar(&o.logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&o.logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&o.logSource, "log-source", false, "include caller in logs")
	flag.BoolVar(&o.logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&o.logColor, "log-color", false, "enable colored log output (console only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", envFile, err)
			os.Exit(1)
		}
	}

	cfg, err := cueboxd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, o)
	if err := cfg.ApplyDefaults(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if printConfig {
		if err := printResolvedConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if dryRun {
		return
	}

	logger := cueboxd.NewLogger(cueboxd.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer logger.Sync()

	if err := run(cfg, logger, moduleOnly); err != nil {
		logger.Error("cueboxd failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg cueboxd.Config, logger *zap.Logger, moduleOnly string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "cueboxd")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()
	metrics.Register(prometheus.DefaultRegisterer)

	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedBrokerURL(cfg) {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		skipEmbedded = true
	}

	logger.Info("cueboxd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("storage", cfg.Storage.Path),
		zap.Strings("modules", cfg.EnabledModules()),
	)

	st, err := openStorage(ctx, cfg.Storage, logger.With(zap.String("component", "storage")))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := st.close(closeCtx); err != nil {
			logger.Warn("storage close failed", zap.Error(err))
		}
	}()

	fanout := broadcast.NewFanout(logger.With(zap.String("component", "broadcast")))
	controllers, err := buildControllers(cfg, st, fanout, logger.With(zap.String("component", "session")))
	if err != nil {
		return err
	}
	if warmed := warmSessions(ctx, st.persistence, controllers, logger); warmed > 0 {
		logger.Info("sessions restored", zap.Int("count", warmed))
	}

	var client *mqttserver.Client
	if cfg.Modules.SessionServer.Enabled && (moduleOnly == "" || moduleOnly == "session_server") {
		client, err = mqttserver.NewClient(mqttserver.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("cueboxd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger.With(zap.String("component", "mqtt")),
			Debug:     cfg.Server.LogLevel == "debug",
			Will: &mqttserver.Will{
				Topic: cue.TopicPresence(cfg.Server.TopicBase, cfg.Modules.SessionServer.NodeID),
			},
		})
		if err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		defer client.Close(250 * time.Millisecond)
	}
	// Controllers flush before the mqtt client and storage go away.
	defer closeControllers(controllers)

	modules, err := buildModules(cfg, moduleDeps{
		client:      client,
		storage:     st,
		fanout:      fanout,
		controllers: controllers,
	}, logger, moduleOnly, skipEmbedded)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}

	supervisor := cueboxd.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

func closeControllers(controllers []*sessioncore.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, controller := range controllers {
		controller.Close(ctx)
	}
}

func applyOverrides(cfg *cueboxd.Config, o overrides) {
	if o.broker != "" {
		cfg.Server.Broker = o.broker
	}
	if o.identity != "" {
		cfg.Server.Identity = o.identity
	}
	if o.topicBase != "" {
		cfg.Server.TopicBase = o.topicBase
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Server.LogFormat = o.logFormat
	}
	if o.logOutput != "" {
		cfg.Server.LogOutput = o.logOutput
	}
	if o.logSource {
		cfg.Server.LogSource = true
	}
	if o.logUTC {
		cfg.Server.LogUTC = true
	}
	if o.logColor {
		cfg.Server.LogColor = true
	}
}

func printResolvedConfig(cfg cueboxd.Config) error {
	redacted := cfg
	if redacted.Server.Auth.Pass != "" {
		redacted.Server.Auth.Pass = "***"
	}
	if redacted.Modules.EmbeddedMQTT.Password != "" {
		redacted.Modules.EmbeddedMQTT.Password = "***"
	}
	if redacted.Modules.EmbeddedMQTT.ViewerPassword != "" {
		redacted.Modules.EmbeddedMQTT.ViewerPassword = "***"
	}
	return toml.NewEncoder(os.Stdout).Encode(redacted)
}

func embeddedBrokerURL(cfg cueboxd.Config) string {
	return embeddedmqtt.BrokerURL(embeddedListen(cfg), cfg.Modules.EmbeddedMQTT.TLSEnabled())
}

func embeddedListen(cfg cueboxd.Config) string {
	if cfg.Modules.EmbeddedMQTT.Listen == "" {
		return embeddedmqtt.DefaultListen
	}
	return cfg.Modules.EmbeddedMQTT.Listen
}

func startEmbeddedBroker(ctx context.Context, cfg cueboxd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return waitForListen(embeddedListen(cfg), 3*time.Second)
}

func waitForListen(listen string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded mqtt not ready at %s", addr)
}


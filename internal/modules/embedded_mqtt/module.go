package embeddedmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

// DefaultListen is the broker's default TCP address.
const DefaultListen = "127.0.0.1:1883"

// Config configures the embedded MQTT broker.
type Config struct {
	Listen string
	// WebsocketListen adds an MQTT-over-WebSocket listener for browser clients.
	WebsocketListen string
	TopicBase       string
	AllowAnonymous  bool
	Username        string
	Password        string
	// ViewerUsername may only read session state and presence.
	ViewerUsername string
	ViewerPassword string
	TLSCA          string
	TLSCert        string
	TLSKey         string
}

// Module runs an embedded MQTT broker.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config
}

// NewModule creates a new embedded broker module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = cue.BaseTopic
	}
	if log == nil {
		log = zap.NewNop()
	}

	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg}, nil
}

// Run starts the embedded broker.
func (m *Module) Run(ctx context.Context) error {
	tlsConfig, err := buildTLSConfig(m.config.TLSCA, m.config.TLSCert, m.config.TLSKey)
	if err != nil {
		return err
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp-embedded", Address: m.config.Listen, TLSConfig: tlsConfig})
	if err := m.server.AddListener(tcp); err != nil {
		return err
	}
	if m.config.WebsocketListen != "" {
		ws := listeners.NewWebsocket(listeners.Config{ID: "ws-embedded", Address: m.config.WebsocketListen, TLSConfig: tlsConfig})
		if err := m.server.AddListener(ws); err != nil {
			return err
		}
	}

	go func() {
		if err := m.server.Serve(); err != nil {
			m.log.Error("embedded mqtt serve failed", zap.Error(err))
		}
	}()
	m.log.Info("embedded mqtt listening",
		zap.String("listen", m.config.Listen),
		zap.String("websocket", m.config.WebsocketListen),
		zap.Bool("tls", tlsConfig != nil),
	)

	<-ctx.Done()
	m.server.Close()
	return nil
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	options := &mqtt.Options{InlineClient: true, Logger: newSlogLogger(log)}
	server := mqtt.New(options)

	if cfg.AllowAnonymous {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
		return server, nil
	}
	if cfg.Username == "" {
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}
	if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: buildLedger(cfg)}); err != nil {
		return nil, err
	}
	return server, nil
}

// buildLedger grants the main account full access and the optional viewer
// read access to retained session state and presence.
func buildLedger(cfg Config) *auth.Ledger {
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}},
		ACL:  auth.ACLRules{{Username: auth.RString(cfg.Username), Filters: auth.Filters{auth.RString("#"): auth.ReadWrite}}},
	}
	if cfg.ViewerUsername != "" {
		base := strings.TrimSuffix(cfg.TopicBase, "/")
		ledger.Auth = append(ledger.Auth, auth.AuthRule{
			Username: auth.RString(cfg.ViewerUsername),
			Password: auth.RString(cfg.ViewerPassword),
			Allow:    true,
		})
		ledger.ACL = append(ledger.ACL, auth.ACLRule{
			Username: auth.RString(cfg.ViewerUsername),
			Filters: auth.Filters{
				auth.RString(base + "/session/#"):       auth.ReadOnly,
				auth.RString(base + "/node/+/presence"): auth.ReadOnly,
				auth.RString("#"):                       auth.Deny,
			},
		})
	}
	return ledger
}

func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if certPath == "" || keyPath == "" {
		return nil, errors.New("embedded mqtt tls requires both cert and key")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	config.Certificates = []tls.Certificate{cert}
	return config, nil
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "mqtt"
	if tlsEnabled {
		scheme = "mqtts"
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}

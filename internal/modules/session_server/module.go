package sessionserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mikey-austin/cuebox/internal/adapters/mqttserver"
	"github.com/mikey-austin/cuebox/internal/metrics"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the session server module.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string
	// RateLimit is the sustained commands per second allowed per client.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Module serves session commands over MQTT.
type Module struct {
	log         *zap.Logger
	client      mqttClient
	controllers map[string]*sessioncore.Controller
	config      Config
	cmdTopic    string
	tracer      trace.Tracer
	now         func() time.Time

	limitMu  sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterIdle     = 10 * time.Minute
	limiterPruneMin = 256
)

// NewModule creates a session server for the given controllers, one per kind.
func NewModule(log *zap.Logger, client *mqttserver.Client, cfg Config, controllers ...*sessioncore.Controller) (*Module, error) {
	if client == nil {
		return nil, errors.New("mqtt client required")
	}
	return newModule(log, client, cfg, controllers...)
}

func newModule(log *zap.Logger, client mqttClient, cfg Config, controllers ...*sessioncore.Controller) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node_id required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = cue.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Cuebox Sessions"
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = max(1, int(cfg.RateLimit*2))
	}
	if log == nil {
		log = zap.NewNop()
	}

	byKind := make(map[string]*sessioncore.Controller, len(controllers))
	for _, controller := range controllers {
		if controller == nil {
			continue
		}
		byKind[controller.Kind()] = controller
	}
	if len(byKind) == 0 {
		return nil, errors.New("at least one session controller required")
	}

	return &Module{
		log:         log,
		client:      client,
		controllers: byKind,
		config:      cfg,
		cmdTopic:    cue.TopicCommands(cfg.TopicBase, cfg.NodeID),
		tracer:      otel.Tracer("github.com/mikey-austin/cuebox/internal/modules/session_server"),
		now:         time.Now,
		limiters:    map[string]*clientLimiter{},
	}, nil
}

// Run subscribes to the command topic until ctx is cancelled.
func (m *Module) Run(ctx context.Context) error {
	if err := m.publishPresence(); err != nil {
		return err
	}

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(ctx, msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.cmdTopic)

	<-ctx.Done()
	return nil
}

func (m *Module) publishPresence() error {
	kinds := make([]string, 0, len(m.controllers))
	for _, kind := range []string{cue.KindAudio, cue.KindVideo} {
		if _, ok := m.controllers[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	presence := cue.Presence{
		NodeID: m.config.NodeID,
		Kind:   "session",
		Name:   m.config.Name,
		Caps: map[string]any{
			"kinds":    kinds,
			"queueGet": true,
			"history":  true,
		},
		TS: m.now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(cue.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) handleMessage(ctx context.Context, msg paho.Message) {
	var cmd cue.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}

	reply := m.handle(ctx, cmd)
	if cmd.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Error("publish reply", zap.String("replyTo", cmd.ReplyTo), zap.Error(err))
	}
}

func (m *Module) handle(ctx context.Context, cmd cue.CommandEnvelope) cue.ReplyEnvelope {
	start := m.now()
	ctx, span := m.tracer.Start(ctx, cmd.Type, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String("cuebox.command.id", cmd.ID),
		attribute.String("cuebox.kind", cmd.Kind),
		attribute.String("cuebox.profile", cmd.Profile),
		attribute.String("cuebox.from", cmd.From),
	))
	defer span.End()

	reply := m.dispatch(ctx, cmd)

	result := "ok"
	if !reply.OK && reply.Err != nil {
		result = strings.ToLower(reply.Err.Code)
		span.SetStatus(codes.Error, reply.Err.Message)
		m.log.Debug("command rejected",
			zap.String("type", cmd.Type),
			zap.String("kind", cmd.Kind),
			zap.String("from", cmd.From),
			zap.String("code", reply.Err.Code),
			zap.String("message", reply.Err.Message),
		)
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Kind, cmd.Type, result).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Kind, cmd.Type).Observe(time.Since(start).Seconds())
	return reply
}

func (m *Module) allow(from string) bool {
	if m.config.RateLimit <= 0 {
		return true
	}
	now := m.now()

	m.limitMu.Lock()
	defer m.limitMu.Unlock()

	if len(m.limiters) >= limiterPruneMin {
		for id, l := range m.limiters {
			if now.Sub(l.lastSeen) > limiterIdle {
				delete(m.limiters, id)
			}
		}
	}
	l, ok := m.limiters[from]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(m.config.RateLimit), m.config.RateBurst)}
		m.limiters[from] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func errorReply(cmd cue.CommandEnvelope, code string, message string) cue.ReplyEnvelope {
	return cue.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err:  &cue.ReplyError{Code: code, Message: message},
	}
}

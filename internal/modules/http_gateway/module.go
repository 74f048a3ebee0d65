package httpgateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Config configures the HTTP gateway.
type Config struct {
	Listen string
	// Metrics exposes /metrics when true.
	Metrics bool
}

// Module serves health, metrics and live session state over HTTP.
type Module struct {
	log         *zap.Logger
	hub         *Hub
	controllers map[string]*sessioncore.Controller
	config      Config
	handler     http.Handler
}

// NewModule builds the gateway for the given controllers.
func NewModule(log *zap.Logger, cfg Config, controllers ...*sessioncore.Controller) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:8089"
	}
	if log == nil {
		log = zap.NewNop()
	}
	byKind := make(map[string]*sessioncore.Controller, len(controllers))
	for _, controller := range controllers {
		if controller != nil {
			byKind[controller.Kind()] = controller
		}
	}
	if len(byKind) == 0 {
		return nil, errors.New("at least one session controller required")
	}

	m := &Module{
		log:         log,
		hub:         NewHub(log),
		controllers: byKind,
		config:      cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/ws", m.handleWS)
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	m.handler = otelhttp.NewHandler(loggingMiddleware(log, mux), "cueboxd",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	return m, nil
}

// Hub returns the broadcaster feeding WebSocket clients.
func (m *Module) Hub() *Hub {
	return m.hub
}

// ServeHTTP implements http.Handler.
func (m *Module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled.
func (m *Module) Run(ctx context.Context) error {
	go m.hub.Run()
	defer m.hub.Close()

	server := &http.Server{
		Addr:              m.config.Listen,
		Handler:           m,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		m.log.Info("http gateway listening", zap.String("addr", m.config.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type healthReply struct {
	Status   string         `json:"status"`
	Sessions map[string]int `json:"sessions"`
}

func (m *Module) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := healthReply{Status: "ok", Sessions: map[string]int{}}
	for kind, controller := range m.controllers {
		out.Sessions[kind] = len(controller.Sessions())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (m *Module) handleWS(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	profile := strings.TrimSpace(r.URL.Query().Get("profile"))
	controller, ok := m.controllers[kind]
	if !ok {
		http.Error(w, "unknown session kind", http.StatusNotFound)
		return
	}
	if kind == cue.KindAudio && profile == "" {
		http.Error(w, "profile required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		hub:  m.hub,
		conn: conn,
		key:  controller.Key(profile),
		send: make(chan []byte, 256),
	}
	select {
	case m.hub.register <- client:
	case <-m.hub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	// Snapshot after registering so no push in between is lost.
	state := controller.State(r.Context(), profile)
	if payload, err := encodeState(state.Snapshot()); err == nil {
		m.hub.sendTo(client, payload)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	rw.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func loggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int("bytes", rw.size),
			zap.Duration("duration", time.Since(start)),
		}
		if rw.status >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	})
}

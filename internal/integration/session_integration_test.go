//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mikey-austin/cuebox/internal/adapters/broadcast"
	"github.com/mikey-austin/cuebox/internal/adapters/clock"
	"github.com/mikey-austin/cuebox/internal/adapters/idgen"
	"github.com/mikey-austin/cuebox/internal/adapters/mqtt"
	"github.com/mikey-austin/cuebox/internal/adapters/mqttserver"
	"github.com/mikey-austin/cuebox/internal/adapters/sqlitestore"
	"github.com/mikey-austin/cuebox/internal/core"
	embeddedmqtt "github.com/mikey-austin/cuebox/internal/modules/embedded_mqtt"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	sessionserver "github.com/mikey-austin/cuebox/internal/modules/session_server"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

type integrationHarness struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	brokerURL   string
	store       *sqlitestore.Store
	fanout      *broadcast.Fanout
	controllers []*sessioncore.Controller
	service     core.Service
}

func newHarness(t *testing.T) *integrationHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &integrationHarness{ctx: ctx, cancel: cancel, logger: zaptest.NewLogger(t)}

	listen := freeAddr(t)
	broker, err := embeddedmqtt.NewModule(h.logger.Named("broker"), embeddedmqtt.Config{Listen: listen, AllowAnonymous: true})
	if err != nil {
		t.Fatalf("broker: %v", err)
	}
	go broker.Run(ctx)
	waitListen(t, listen)
	h.brokerURL = embeddedmqtt.BrokerURL(listen, false)

	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "cuebox.db"), sqlitestore.Options{})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h.store = store
	seedCatalog(t, store)

	h.fanout = broadcast.NewFanout(h.logger)
	h.controllers = h.buildControllers(t)

	serverClient, err := mqttserver.NewClient(mqttserver.Options{BrokerURL: h.brokerURL, ClientID: "cueboxd-it", Logger: h.logger})
	if err != nil {
		t.Fatalf("server client: %v", err)
	}
	t.Cleanup(func() { serverClient.Close(100 * time.Millisecond) })
	h.fanout.Attach("mqtt", sessionserver.NewStatePublisher(serverClient, cue.BaseTopic))

	mod, err := sessionserver.NewModule(h.logger.Named("session_server"), serverClient, sessionserver.Config{
		NodeID: "cuebox:session",
		Name:   "Living Room Box",
	}, h.controllers...)
	if err != nil {
		t.Fatalf("session server: %v", err)
	}
	go mod.Run(ctx)

	cliClient, err := mqtt.NewClient(mqtt.Options{BrokerURL: h.brokerURL, ClientID: "cuebox-it", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("cli client: %v", err)
	}
	t.Cleanup(cliClient.Close)

	cfg := core.Config{Broker: h.brokerURL, Identity: "it@test", TopicBase: cue.BaseTopic}
	h.service = core.Service{
		Broker:   cliClient,
		Resolver: core.Resolver{Presence: cliClient, Config: cfg},
		Clock:    clock.Clock{},
		IDGen:    idgen.Generator{},
		Config:   cfg,
	}
	h.waitForServer(t)
	return h
}

func (h *integrationHarness) buildControllers(t *testing.T) []*sessioncore.Controller {
	t.Helper()
	controllers := []*sessioncore.Controller{}
	for _, variant := range []sessioncore.Variant{sessioncore.AudioVariant(), sessioncore.VideoVariant()} {
		controller, err := sessioncore.NewController(h.logger.Named(variant.Kind), variant, sessioncore.Deps{
			Catalog:     h.store.Catalog(variant.Kind),
			Persistence: h.store,
			Broadcaster: h.fanout,
			History:     h.store,
		})
		if err != nil {
			t.Fatalf("controller %s: %v", variant.Kind, err)
		}
		controllers = append(controllers, controller)
	}
	t.Cleanup(func() {
		for _, controller := range controllers {
			controller.Close(context.Background())
		}
	})
	return controllers
}

func (h *integrationHarness) waitForServer(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(h.ctx, time.Second)
		nodes, err := h.service.ListNodes(ctx, true)
		cancel()
		if err == nil && len(nodes.Nodes) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session server never announced presence")
}

func seedCatalog(t *testing.T, store *sqlitestore.Store) {
	t.Helper()
	audio := []sessioncore.Item{}
	for i := 1; i <= 5; i++ {
		audio = append(audio, sessioncore.Item{
			ID:       sessioncore.ItemID(i),
			Kind:     cue.KindAudio,
			Title:    fmt.Sprintf("Track %d", i),
			Artist:   "Band",
			Album:    "Record",
			Genre:    "Rock",
			Duration: 180,
		})
	}
	video := []sessioncore.Item{
		{ID: 10, Kind: cue.KindVideo, Title: "Pilot", Series: "Show", Season: 1, Episode: 1, Duration: 1800},
		{ID: 11, Kind: cue.KindVideo, Title: "Second", Series: "Show", Season: 1, Episode: 2, Duration: 1800},
	}
	if err := store.ReplaceItems(context.Background(), cue.KindAudio, audio); err != nil {
		t.Fatalf("seed audio: %v", err)
	}
	if err := store.ReplaceItems(context.Background(), cue.KindVideo, video); err != nil {
		t.Fatalf("seed video: %v", err)
	}
}

func currentID(t *testing.T, state cue.SessionState) int64 {
	t.Helper()
	if state.CurrentItemID == nil {
		t.Fatalf("expected a current item, got none")
	}
	return *state.CurrentItemID
}

func TestAudioSessionOverMQTT(t *testing.T) {
	h := newHarness(t)
	alice := core.Target{Kind: cue.KindAudio, Profile: "alice"}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	result, err := h.service.PlayItems(ctx, alice, []string{"1,2", "3"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if currentID(t, result.State) != 1 || !result.State.Playing || result.State.CueLength != 3 {
		t.Fatalf("unexpected state after play: %+v", result.State)
	}
	if result.State.Title != "Track 1" {
		t.Fatalf("expected catalog metadata, got %q", result.State.Title)
	}

	result, err = h.service.Next(ctx, alice)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if currentID(t, result.State) != 2 {
		t.Fatalf("expected item 2, got %d", currentID(t, result.State))
	}

	queue, err := h.service.QueueList(ctx, alice, 0, 10)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if queue.Queue.Total != 3 || queue.Queue.Index != 1 || !queue.Queue.Entries[1].Current {
		t.Fatalf("unexpected queue: %+v", queue.Queue)
	}

	bob, err := h.service.Status(ctx, core.Target{Kind: cue.KindAudio, Profile: "bob"})
	if err != nil {
		t.Fatalf("bob status: %v", err)
	}
	if bob.State.Key == result.State.Key {
		t.Fatalf("profiles must not share audio sessions: %s", bob.State.Key)
	}
}

func TestVideoSessionIsShared(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	first, err := h.service.Select(ctx, core.Target{Kind: cue.KindVideo, Profile: "alice"}, "10")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if first.State.Key != "living-room" || first.State.EpisodeInfo == "" {
		t.Fatalf("unexpected video state: %+v", first.State)
	}

	other, err := h.service.Status(ctx, core.Target{Kind: cue.KindVideo, Profile: "bob"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if currentID(t, other.State) != 10 {
		t.Fatalf("expected shared session to show item 10, got %d", currentID(t, other.State))
	}
}

func TestWatchStatusStreamsChanges(t *testing.T) {
	h := newHarness(t)
	alice := core.Target{Kind: cue.KindAudio, Profile: "alice"}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	if _, err := h.service.PlayItems(ctx, alice, []string{"4"}); err != nil {
		t.Fatalf("play: %v", err)
	}

	_, states, _, err := h.service.WatchStatus(ctx, alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := h.service.Toggle(ctx, alice); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	for {
		select {
		case state := <-states:
			if !state.Playing {
				return
			}
		case <-ctx.Done():
			t.Fatalf("never observed paused state")
		}
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	alice := core.Target{Kind: cue.KindAudio, Profile: "alice"}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	if _, err := h.service.PlayItems(ctx, alice, []string{"1", "2", "3"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, err := h.service.QueueJump(ctx, alice, 2); err != nil {
		t.Fatalf("jump: %v", err)
	}
	for _, controller := range h.controllers {
		controller.Close(ctx)
	}

	restarted := h.buildControllers(t)
	state := restarted[0].State(ctx, "alice")
	if state.CurrentItemID != 3 {
		t.Fatalf("expected restored item 3, got %d", state.CurrentItemID)
	}
	if state.Playing {
		t.Fatalf("restored sessions start paused")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitListen(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("broker did not listen on %s", addr)
}

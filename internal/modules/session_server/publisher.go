package sessionserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mikey-austin/cuebox/internal/adapters/mqttserver"
	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// StatePublisher publishes session snapshots as retained MQTT messages.
type StatePublisher struct {
	client    mqttClient
	topicBase string
}

// NewStatePublisher returns a broadcaster on client.
func NewStatePublisher(client *mqttserver.Client, topicBase string) *StatePublisher {
	return newStatePublisher(client, topicBase)
}

func newStatePublisher(client mqttClient, topicBase string) *StatePublisher {
	if strings.TrimSpace(topicBase) == "" {
		topicBase = cue.BaseTopic
	}
	return &StatePublisher{client: client, topicBase: topicBase}
}

// Push publishes state on the session's retained topic.
func (p *StatePublisher) Push(_ context.Context, key sessioncore.SessionKey, state cue.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return p.client.Publish(cue.TopicSessionState(p.topicBase, key.Kind, key.ID), 1, true, payload)
}

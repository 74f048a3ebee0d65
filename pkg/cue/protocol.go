package cue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the protocol.
const BaseTopic = "cue/v1"

// Session kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// CommandEnvelope is the common controller command envelope for MQTT.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Kind    string          `json:"kind"`
	Profile string          `json:"profile,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Presence describes a node presence payload.
type Presence struct {
	NodeID string         `json:"nodeId"`
	Kind   string         `json:"kind"`
	Name   string         `json:"name"`
	Caps   map[string]any `json:"caps,omitempty"`
	EPs    map[string]any `json:"endpoints,omitempty"`
	TS     int64          `json:"ts"`
}

// SessionState is the snapshot pushed to every client watching a session.
type SessionState struct {
	Kind           string  `json:"kind"`
	Key            string  `json:"key"`
	CurrentItemID  *int64  `json:"currentItemId"`
	Playing        bool    `json:"playing"`
	CurrentTime    float64 `json:"currentTime"`
	Duration       float64 `json:"duration"`
	Volume         float64 `json:"volume"`
	ShuffleMode    string  `json:"shuffleMode"`
	RepeatMode     string  `json:"repeatMode"`
	CueIndex       int     `json:"cueIndex"`
	CueLength      int     `json:"cueLength"`
	UsingSecondary bool    `json:"usingSecondary,omitempty"`
	Title          string  `json:"title"`
	Artist         string  `json:"artist"`
	Album          string  `json:"album,omitempty"`
	Genre          string  `json:"genre,omitempty"`
	EpisodeInfo    string  `json:"episodeInfo,omitempty"`
	LastUpdateTime int64   `json:"lastUpdateTime"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) == 0 {
		return errors.New("body is required")
	}
	switch cmd.Kind {
	case KindAudio, KindVideo:
	default:
		return fmt.Errorf("unknown kind %q", cmd.Kind)
	}
	return nil
}

// CommandMutates reports whether a command changes session state.
func CommandMutates(cmdType string) bool {
	switch cmdType {
	case "session.select", "session.playItems":
		return true
	case "playback.toggle", "playback.next", "playback.prev", "playback.seek", "playback.setVolume":
		return true
	case "mode.shuffle", "mode.repeat":
		return true
	case "queue.add", "queue.remove", "queue.move", "queue.clear", "queue.jump":
		return true
	default:
		return false
	}
}

// TopicPresence builds the presence topic for a node.
func TopicPresence(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/presence", topicBase, nodeID)
}

// TopicCommands builds the command topic for a node.
func TopicCommands(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/cmd", topicBase, nodeID)
}

// TopicSessionState builds the retained state topic for one session.
func TopicSessionState(topicBase, kind, key string) string {
	return fmt.Sprintf("%s/session/%s/%s/state", topicBase, kind, key)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}

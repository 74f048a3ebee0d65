package ports

import (
	"context"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Broker publishes commands and reads retained state and presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd cue.CommandEnvelope) (cue.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]cue.Presence, error)
	WatchSession(ctx context.Context, kind, key string) (<-chan cue.SessionState, <-chan error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

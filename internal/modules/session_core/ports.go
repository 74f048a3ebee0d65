package sessioncore

import (
	"context"
	"time"

	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Catalog looks up playable items of one kind.
type Catalog interface {
	FindByID(ctx context.Context, id ItemID) (Item, bool, error)
	// FindByIDs returns the items that exist, in input order.
	FindByIDs(ctx context.Context, ids []ItemID) ([]Item, error)
	FindAll(ctx context.Context) ([]Item, error)
}

// Persistence loads and saves session state.
type Persistence interface {
	Load(ctx context.Context, key SessionKey) (State, bool, error)
	Save(ctx context.Context, key SessionKey, state State) error
}

// Broadcaster pushes a snapshot to every client watching a session.
type Broadcaster interface {
	Push(ctx context.Context, key SessionKey, state cue.SessionState) error
}

// History logs items that were playing and returns the most recent first.
type History interface {
	Record(ctx context.Context, key SessionKey, id ItemID) error
	RecentItemIDs(ctx context.Context, key SessionKey, count int) ([]ItemID, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler runs callbacks later. Returned funcs cancel without waiting for a
// callback that is already running.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
	After(delay time.Duration, fn func()) (cancel func())
}

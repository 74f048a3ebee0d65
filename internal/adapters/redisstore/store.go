package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "cuebox:"

// cmdable is the subset of the redis client the store uses.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Options configures the store.
type Options struct {
	Prefix string
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
	// HistoryLimit caps history entries per session. Zero keeps 500.
	HistoryLimit int
}

// Store keeps session state as JSON strings and history as capped lists.
type Store struct {
	client       cmdable
	prefix       string
	ttl          time.Duration
	historyLimit int
}

// New wraps an existing client.
func New(client cmdable, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}
	return &Store{client: client, prefix: opts.Prefix, ttl: opts.TTL, historyLimit: opts.HistoryLimit}
}

// Dial parses url, connects and pings.
func Dial(ctx context.Context, url string, opts Options) (*Store, *redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redisstore: ping %s: %w", redisOpts.Addr, err)
	}
	return New(client, opts), client, nil
}

func (s *Store) sessionKey(key sessioncore.SessionKey) string {
	return s.prefix + "session:" + key.Kind + ":" + key.ID
}

func (s *Store) historyKey(key sessioncore.SessionKey) string {
	return s.prefix + "history:" + key.Kind + ":" + key.ID
}

// Load returns the stored state for key.
func (s *Store) Load(ctx context.Context, key sessioncore.SessionKey) (sessioncore.State, bool, error) {
	data, err := s.client.Get(ctx, s.sessionKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return sessioncore.State{}, false, nil
		}
		return sessioncore.State{}, false, err
	}
	var state sessioncore.State
	if err := json.Unmarshal(data, &state); err != nil {
		return sessioncore.State{}, false, fmt.Errorf("redisstore: decode %s: %w", key, err)
	}
	state.Key = key
	return state, true, nil
}

// Save stores state for key.
func (s *Store) Save(ctx context.Context, key sessioncore.SessionKey, state sessioncore.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.sessionKey(key), data, s.ttl).Err()
}

// Record pushes id onto the session history list.
func (s *Store) Record(ctx context.Context, key sessioncore.SessionKey, id sessioncore.ItemID) error {
	listKey := s.historyKey(key)
	if err := s.client.LPush(ctx, listKey, int64(id)).Err(); err != nil {
		return err
	}
	return s.client.LTrim(ctx, listKey, 0, int64(s.historyLimit-1)).Err()
}

// RecentItemIDs returns up to count items, most recent first.
func (s *Store) RecentItemIDs(ctx context.Context, key sessioncore.SessionKey, count int) ([]sessioncore.ItemID, error) {
	if count <= 0 {
		return nil, nil
	}
	values, err := s.client.LRange(ctx, s.historyKey(key), 0, int64(count-1)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]sessioncore.ItemID, 0, len(values))
	for _, value := range values {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redisstore: history entry %q: %w", value, err)
		}
		ids = append(ids, sessioncore.ItemID(id))
	}
	return ids, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

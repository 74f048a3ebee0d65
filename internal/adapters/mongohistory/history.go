package mongohistory

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// DefaultCollection holds history entries.
const DefaultCollection = "play_history"

type entryDoc struct {
	Kind      string `bson:"kind"`
	SessionID string `bson:"sessionId"`
	ItemID    int64  `bson:"itemId"`
	PlayedAt  int64  `bson:"playedAt"`
}

// History stores play history in a mongo collection.
type History struct {
	collection *mongo.Collection
	now        func() time.Time
}

// New returns a history backed by dbName.collection.
func New(client *mongo.Client, dbName, collection string) *History {
	if collection == "" {
		collection = DefaultCollection
	}
	return &History{collection: client.Database(dbName).Collection(collection), now: time.Now}
}

// Connect opens a client for uri.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// EnsureIndexes creates the lookup index.
func (h *History) EnsureIndexes(ctx context.Context) error {
	if h == nil || h.collection == nil {
		return nil
	}
	_, err := h.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "kind", Value: 1},
			{Key: "sessionId", Value: 1},
			{Key: "playedAt", Value: -1},
		},
	})
	return err
}

// Record inserts one history entry.
func (h *History) Record(ctx context.Context, key sessioncore.SessionKey, id sessioncore.ItemID) error {
	_, err := h.collection.InsertOne(ctx, toDoc(key, id, h.now()))
	return err
}

// RecentItemIDs returns up to count items, most recent first.
func (h *History) RecentItemIDs(ctx context.Context, key sessioncore.SessionKey, count int) ([]sessioncore.ItemID, error) {
	if count <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "playedAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(count))

	cursor, err := h.collection.Find(ctx, sessionFilter(key), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func sessionFilter(key sessioncore.SessionKey) bson.M {
	return bson.M{"kind": key.Kind, "sessionId": key.ID}
}

func toDoc(key sessioncore.SessionKey, id sessioncore.ItemID, at time.Time) entryDoc {
	return entryDoc{
		Kind:      key.Kind,
		SessionID: key.ID,
		ItemID:    int64(id),
		PlayedAt:  at.UnixMilli(),
	}
}

func fromDocs(docs []entryDoc) []sessioncore.ItemID {
	ids := make([]sessioncore.ItemID, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, sessioncore.ItemID(doc.ItemID))
	}
	return ids
}

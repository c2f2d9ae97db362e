package mongodb

import (
	"context"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EventDeduplication tracks change events already accepted by the relay
// ingest path. The feed is at-least-once, so re-ingesting the same event id
// must not fan it out a second time.
type EventDeduplication struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	EventID     string             `bson:"event_id"`
	ScopeKey    string             `bson:"scope_key"`
	ProcessedAt time.Time          `bson:"processed_at"`
	ExpiresAt   time.Time          `bson:"expires_at"` // TTL index
}

type EventDedupRepository interface {
	// MarkSeen records the event and reports whether it was seen before.
	MarkSeen(ctx context.Context, eventID, scopeKey string) (seen bool, err error)
}

type eventDedupRepo struct {
	collection *mongo.Collection
	retention  time.Duration
}

func NewEventDedupRepository(db *DB) EventDedupRepository {
	repo := &eventDedupRepo{
		collection: db.Database.Collection("event_deduplication"),
		retention:  24 * time.Hour,
	}
	go repo.createIndexes(context.Background())
	return repo
}

func (r *eventDedupRepo) createIndexes(ctx context.Context) {
	ttlIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("expires_at_ttl"),
	}
	uniqueIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "event_id", Value: 1},
			{Key: "scope_key", Value: 1},
		},
		Options: options.Index().
			SetUnique(true).
			SetName("event_scope"),
	}

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndex, uniqueIndex})
	if err != nil {
		log.Warnw(ctx, "failed to create dedup indexes", "error", err)
	}
}

func (r *eventDedupRepo) MarkSeen(ctx context.Context, eventID, scopeKey string) (bool, error) {
	now := time.Now()
	record := EventDeduplication{
		ID:          primitive.NewObjectID(),
		EventID:     eventID,
		ScopeKey:    scopeKey,
		ProcessedAt: now,
		ExpiresAt:   now.Add(r.retention),
	}

	filter := bson.M{"event_id": eventID, "scope_key": scopeKey}
	update := bson.M{"$setOnInsert": record}

	result, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return result.UpsertedCount == 0, nil
}

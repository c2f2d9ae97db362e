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

	"github.com/teamhubhq/chat-core/internal/models"
)

// InsertAck is the durable store's acknowledgment of a write: the assigned
// identity and authoritative creation time.
type InsertAck struct {
	ID        models.ObjectID
	CreatedAt time.Time
}

// MessageRepository is the durable-store boundary for the conversation log.
// Deletes are tombstones; the document never leaves its collection.
type MessageRepository interface {
	Insert(ctx context.Context, message *models.Message) (InsertAck, error)
	GetByID(ctx context.Context, id models.ObjectID) (*models.Message, error)
	Query(ctx context.Context, scope models.Scope, since *time.Time) ([]*models.Message, error)
	ApplyPatch(ctx context.Context, id models.ObjectID, patch models.MessagePatch) error
	Tombstone(ctx context.Context, id models.ObjectID) error
	ToggleReaction(ctx context.Context, op models.ReactionOp) error
}

type messageRepo struct {
	collection *mongo.Collection
}

func NewMessageRepository(db *DB) MessageRepository {
	repo := &messageRepo{
		collection: db.Database.Collection("messages"),
	}
	go repo.createIndexes(context.Background())
	return repo
}

func (r *messageRepo) createIndexes(ctx context.Context) {
	// (scope_key, created_at, _id) backs the canonical ordering and the
	// watermark resync query.
	orderIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "scope_key", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		},
		Options: options.Index().SetName("scope_order"),
	}

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{orderIndex})
	if err != nil {
		log.Warnw(ctx, "failed to create message indexes", "error", err)
	}
}

// Insert persists a new message and assigns its identity. ObjectIDs embed
// the insertion time, so ids are monotonic per scope and the (created_at,
// id) order is stable across clients.
func (r *messageRepo) Insert(ctx context.Context, message *models.Message) (InsertAck, error) {
	oid := primitive.NewObjectID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	doc := *message
	doc.ID = models.ObjectID(oid.Hex())
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return InsertAck{}, fmt.Errorf("insert message: %w", err)
	}
	return InsertAck{ID: doc.ID, CreatedAt: now}, nil
}

func (r *messageRepo) GetByID(ctx context.Context, id models.ObjectID) (*models.Message, error) {
	var msg models.Message
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

// Query returns the scope's messages ordered by (created_at, _id). With
// since set it narrows to the resync window; tombstoned messages are
// included so positions stay stable.
func (r *messageRepo) Query(ctx context.Context, scope models.Scope, since *time.Time) ([]*models.Message, error) {
	filter := bson.M{"scope_key": scope.Key()}
	if since != nil {
		filter["created_at"] = bson.M{"$gte": *since}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	var messages []*models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepo) ApplyPatch(ctx context.Context, id models.ObjectID, patch models.MessagePatch) error {
	set := bson.M{"updated_at": time.Now()}
	if patch.Body != nil {
		set["body"] = *patch.Body
	}
	if patch.EditedAt != nil {
		set["edited_at"] = *patch.EditedAt
	}
	if patch.Deleted != nil {
		set["deleted"] = *patch.Deleted
	}
	if patch.DeletedAt != nil {
		set["deleted_at"] = *patch.DeletedAt
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("patch message: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Tombstone marks a message deleted without removing it, so ordering and
// positions survive for anyone mid-scroll.
func (r *messageRepo) Tombstone(ctx context.Context, id models.ObjectID) error {
	now := time.Now()
	deleted := true
	return r.ApplyPatch(ctx, id, models.MessagePatch{
		Deleted:   &deleted,
		DeletedAt: &now,
		UpdatedAt: now,
	})
}

// ToggleReaction applies a per-identity delta with $addToSet/$pull, so
// concurrent toggles by different identities never clobber each other.
func (r *messageRepo) ToggleReaction(ctx context.Context, op models.ReactionOp) error {
	field := fmt.Sprintf("reactions.%s", op.Emoji)

	var update bson.M
	if op.Added {
		update = bson.M{"$addToSet": bson.M{field: op.UserID}}
	} else {
		update = bson.M{"$pull": bson.M{field: op.UserID}}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": op.MessageID}, update)
	if err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teamhubhq/chat-core/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UnreadCountRepository interface {
	IncrementForOthers(ctx context.Context, scope models.Scope, senderID string, memberIDs []string) error
	Reset(ctx context.Context, scope models.Scope, userID string) error
	Get(ctx context.Context, scope models.Scope, userID string) (int, error)
}

type unreadCountRepo struct {
	counts baseRepo[models.UnreadCount]
}

func NewUnreadCountRepository(db *DB) UnreadCountRepository {
	return &unreadCountRepo{
		counts: newBaseRepo[models.UnreadCount](db.Database),
	}
}

// IncrementForOthers bumps the unread counter of every member except the
// sender after a confirmed insert. One upsert per member: a $in filter with
// a collective upsert would skip members whose counter row does not exist
// yet, so their first unread would never be recorded.
func (r *unreadCountRepo) IncrementForOthers(ctx context.Context, scope models.Scope, senderID string, memberIDs []string) error {
	others := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != senderID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}

	err := r.counts.BulkWrite(ctx, incrementModels(scope.Key(), others), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func incrementModels(scopeKey string, userIDs []string) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, len(userIDs))
	now := time.Now()
	for i, id := range userIDs {
		writes[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"scope_key": scopeKey, "user_id": id}).
			SetUpdate(bson.M{
				"$inc": bson.M{"count": 1},
				"$set": bson.M{"updated_at": now},
			}).
			SetUpsert(true)
	}
	return writes
}

func (r *unreadCountRepo) Reset(ctx context.Context, scope models.Scope, userID string) error {
	return r.counts.UpdateMany(ctx, bson.M{
		"scope_key": scope.Key(),
		"user_id":   userID,
	}, bson.M{
		"$set": bson.M{"count": 0},
	})
}

func (r *unreadCountRepo) Get(ctx context.Context, scope models.Scope, userID string) (int, error) {
	row, err := r.counts.FindOne(ctx, bson.M{
		"scope_key": scope.Key(),
		"user_id":   userID,
	})
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

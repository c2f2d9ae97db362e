package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/teamhubhq/chat-core/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ChannelRepository interface {
	Create(ctx context.Context, channel *models.Channel) error
	GetByID(ctx context.Context, id models.ObjectID) (*models.Channel, error)
	ListForUser(ctx context.Context, userID string) ([]models.Channel, error)
	Browse(ctx context.Context, limit, skip int64) ([]models.Channel, int64, error)
	UpdateLastMessage(ctx context.Context, id models.ObjectID, at time.Time) error
	AddMember(ctx context.Context, member *models.ChannelMember) error
	RemoveMember(ctx context.Context, channelID models.ObjectID, userID string) error
	Members(ctx context.Context, channelID models.ObjectID) ([]models.ChannelMember, error)
	MemberIDs(ctx context.Context, channelID models.ObjectID) ([]string, error)
}

type channelRepo struct {
	channels baseRepo[models.Channel]
	members  baseRepo[models.ChannelMember]
}

func NewChannelRepository(db *DB) ChannelRepository {
	return &channelRepo{
		channels: newBaseRepo[models.Channel](db.Database),
		members:  newBaseRepo[models.ChannelMember](db.Database),
	}
}

func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	now := time.Now()
	channel.CreatedAt = now
	channel.UpdatedAt = now

	id, err := r.channels.Insert(ctx, *channel)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	channel.ID = models.ObjectID(id)

	// the creator is always the first member
	return r.AddMember(ctx, &models.ChannelMember{
		ChannelID: channel.ID,
		UserID:    channel.CreatorID,
		Role:      models.MemberRoleOwner,
	})
}

func (r *channelRepo) GetByID(ctx context.Context, id models.ObjectID) (*models.Channel, error) {
	return r.channels.FindByID(ctx, string(id))
}

func (r *channelRepo) ListForUser(ctx context.Context, userID string) ([]models.Channel, error) {
	memberships, err := r.members.Find(ctx, bson.M{
		"user_id": userID,
		"left_at": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	ids := make([]models.ObjectID, len(memberships))
	for i, m := range memberships {
		ids[i] = m.ChannelID
	}
	return r.channels.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// Browse pages through the public channel directory, newest first, and
// reports the total so clients can render page controls.
func (r *channelRepo) Browse(ctx context.Context, limit, skip int64) ([]models.Channel, int64, error) {
	page, err := r.channels.PaginateWithTotal(ctx, bson.M{"private": false}, limit, skip,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("browse channels: %w", err)
	}
	return page.Data, page.Total, nil
}

func (r *channelRepo) UpdateLastMessage(ctx context.Context, id models.ObjectID, at time.Time) error {
	return r.channels.UpdateMany(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"last_message_at": at, "updated_at": time.Now()},
	})
}

func (r *channelRepo) AddMember(ctx context.Context, member *models.ChannelMember) error {
	member.JoinedAt = time.Now()
	_, err := r.members.UpsertOne(ctx, bson.M{
		"channel_id": member.ChannelID,
		"user_id":    member.UserID,
	}, *member, UpsertOpts[models.ChannelMember]{
		Unset: bson.M{"left_at": ""},
	})
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (r *channelRepo) RemoveMember(ctx context.Context, channelID models.ObjectID, userID string) error {
	return r.members.UpdateMany(ctx, bson.M{
		"channel_id": channelID,
		"user_id":    userID,
	}, bson.M{
		"$set": bson.M{"left_at": time.Now()},
	})
}

func (r *channelRepo) Members(ctx context.Context, channelID models.ObjectID) ([]models.ChannelMember, error) {
	return r.members.Find(ctx, bson.M{
		"channel_id": channelID,
		"left_at":    bson.M{"$exists": false},
	}, options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
}

func (r *channelRepo) MemberIDs(ctx context.Context, channelID models.ObjectID) ([]string, error) {
	members, err := r.Members(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"CareLink/data/database/mgo/mongoutil"
	"CareLink/module/chat/model"
	"CareLink/tools/errs"
	"CareLink/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo 基于 mongo-driver 的实现，pair_key 上的唯一索引保证会话去重
type Mongo struct {
	client     *mongoutil.Client
	UserColl   *mongo.Collection
	ApptColl   *mongo.Collection
	ConvColl   *mongo.Collection
	MsgColl    *mongo.Collection
	NotifyColl *mongo.Collection
	now        func() time.Time
}

var _ Store = (*Mongo)(nil)

// NewMongo 连接并建索引
func NewMongo(ctx context.Context, cfg *mongoutil.Config) (*Mongo, error) {
	cli, err := mongoutil.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewMongoWithDB(cli.DB())
	s.client = cli
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func NewMongoWithDB(db *mongo.Database) *Mongo {
	return &Mongo{
		UserColl:   db.Collection(model.ProfileTableName),
		ApptColl:   db.Collection(model.AppointmentTableName),
		ConvColl:   db.Collection(model.ConversationTableName),
		MsgColl:    db.Collection(model.MessageTableName),
		NotifyColl: db.Collection(model.NotificationTableName),
		now:        time.Now,
	}
}

func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	if _, err := s.ConvColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
	}); err != nil {
		return errs.WrapMsg(err, "create conversation indexes")
	}
	if _, err := s.MsgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "read", Value: 1}}},
	}); err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	if _, err := s.NotifyColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return errs.WrapMsg(err, "create notification indexes")
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrRecordNotFound.WrapMsg(what, "id", id)
	}
	return errs.WrapMsg(err, "mongo find "+what, "id", id)
}

func (s *Mongo) GetUser(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if err := s.UserColl.FindOne(ctx, bson.M{"_id": userID}).Decode(&p); err != nil {
		return nil, notFound(err, "user", userID)
	}
	return &p, nil
}

// SaveUser 工具/测试写入用户
func (s *Mongo) SaveUser(ctx context.Context, p model.Profile) error {
	_, err := s.UserColl.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	return errs.Wrap(err)
}

func (s *Mongo) GetAppointment(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	var a model.Appointment
	if err := s.ApptColl.FindOne(ctx, bson.M{"_id": appointmentID}).Decode(&a); err != nil {
		return nil, notFound(err, "appointment", appointmentID)
	}
	return &a, nil
}

func (s *Mongo) SaveAppointment(ctx context.Context, a model.Appointment) error {
	_, err := s.ApptColl.ReplaceOne(ctx, bson.M{"_id": a.ID}, a, options.Replace().SetUpsert(true))
	return errs.Wrap(err)
}

// FindOrCreateConversation upsert 到 pair_key；
// 两个并发 upsert 可能有一个撞唯一索引，此时回读已存在的那条
func (s *Mongo) FindOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	fresh := model.NewConversation(ids.GenerateString(), a, b, s.now())
	filter := bson.M{"pair_key": fresh.PairKey}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          fresh.ID,
		"participants": fresh.Participants,
		"unread":       fresh.Unread,
		"created_at":   fresh.CreatedAt,
		"updated_at":   fresh.UpdatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out model.Conversation
	err := s.ConvColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongoutil.IsDuplicateKey(err) {
		err = s.ConvColl.FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find or create conversation", "pair", fresh.PairKey)
	}
	return &out, nil
}

func (s *Mongo) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.ConvColl.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&c); err != nil {
		return nil, notFound(err, "conversation", conversationID)
	}
	return &c, nil
}

func (s *Mongo) ApplyMessage(ctx context.Context, conversationID string, last *model.LastMessage, recipientID string) error {
	set := bson.M{"updated_at": s.now()}
	if last != nil {
		set["last_message"] = last
	}
	res, err := s.ConvColl.UpdateOne(ctx,
		bson.M{"_id": conversationID, "participants": recipientID},
		bson.M{
			"$set": set,
			"$inc": bson.M{"unread." + recipientID: 1},
		},
	)
	if err != nil {
		return errs.WrapMsg(err, "apply message", "conversation", conversationID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID, "recipient", recipientID)
	}
	return nil
}

func (s *Mongo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := s.ConvColl.UpdateOne(ctx,
		bson.M{"_id": conversationID, "participants": userID},
		bson.M{"$set": bson.M{"unread." + userID: 0, "updated_at": s.now()}},
	)
	return errs.WrapMsg(err, "reset unread", "conversation", conversationID)
}

func (s *Mongo) CreateMessage(ctx context.Context, msg *model.Message) error {
	if _, err := s.MsgColl.InsertOne(ctx, msg); err != nil {
		return errs.WrapMsg(err, "insert message", "conversation", msg.ConversationID)
	}
	return nil
}

func (s *Mongo) MarkMessagesRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res, err := s.MsgColl.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, errs.WrapMsg(err, "mark messages read", "conversation", conversationID)
	}
	return res.ModifiedCount, nil
}

func (s *Mongo) ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	cur, err := s.MsgColl.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(listLimit(limit))),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "conversation", conversationID)
	}
	defer cur.Close(ctx)

	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (s *Mongo) CreateNotification(ctx context.Context, n *model.Notification) error {
	if _, err := s.NotifyColl.InsertOne(ctx, n); err != nil {
		return errs.WrapMsg(err, "insert notification", "recipient", n.RecipientID)
	}
	return nil
}

func (s *Mongo) Ping(ctx context.Context) error {
	if err := s.ConvColl.Database().Client().Ping(ctx, nil); err != nil {
		return errs.WrapMsg(err, "mongo ping")
	}
	return nil
}

func (s *Mongo) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

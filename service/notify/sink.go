package notify

import (
	"context"
	"encoding/json"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/tools/errs"
)

// Sink 一个投递目标。Deliver 可能被重试，实现需按 n.ID 幂等或可容忍重复
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *model.Notification) error
}

// SinkFunc 把函数适配成 Sink
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, n *model.Notification) error
}

func (f SinkFunc) Name() string { return f.SinkName }
func (f SinkFunc) Deliver(ctx context.Context, n *model.Notification) error {
	return f.Fn(ctx, n)
}

// StoreSink 落库
type StoreSink struct {
	store store.NotificationStore
}

func NewStoreSink(s store.NotificationStore) *StoreSink { return &StoreSink{store: s} }

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n *model.Notification) error {
	return s.store.CreateNotification(ctx, n)
}

// Publisher natsx.Publisher 满足该接口
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

const NatsBiz = "notification"

// NatsSink 发布到 NATS，msgID 取通知 id，重试不会重复
type NatsSink struct {
	pub Publisher
	biz string
}

func NewNatsSink(pub Publisher) *NatsSink { return &NatsSink{pub: pub, biz: NatsBiz} }

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Deliver(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification", "id", n.ID)
	}
	hdr := map[string]string{
		"Content-Type":        "application/json",
		"X-Notification-Type": string(n.Type),
		"X-Recipient":         n.RecipientID,
	}
	return s.pub.PublishOnce(ctx, s.biz, data, hdr, n.ID)
}

// KeyedSender kafka.Producer 满足该接口
type KeyedSender interface {
	Send(ctx context.Context, key string, value []byte) error
}

// KafkaSink 以收件人为 key 写 Kafka，同一用户的通知落在同一分区
type KafkaSink struct {
	sender KeyedSender
}

func NewKafkaSink(sender KeyedSender) *KafkaSink { return &KafkaSink{sender: sender} }

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification", "id", n.ID)
	}
	return s.sender.Send(ctx, n.RecipientID, data)
}

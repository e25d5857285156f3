// Package store 持久化层：用户、预约、会话、消息、通知。
// 提供 memory / mongo / sql 三种实现，网关只依赖这里的接口。
package store

import (
	"context"

	"CareLink/module/chat/model"
)

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*model.Profile, error)
}

type AppointmentStore interface {
	GetAppointment(ctx context.Context, appointmentID string) (*model.Appointment, error)
}

type ConversationStore interface {
	// FindOrCreateConversation 对无序二元组幂等，并发调用也只会产生一个会话
	FindOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	// ApplyMessage 原子地替换摘要并把 recipient 的未读数 +1
	ApplyMessage(ctx context.Context, conversationID string, last *model.LastMessage, recipientID string) error
	// ResetUnread 只清零 userID 的计数
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	// MarkMessagesRead 把会话中发给 recipientID 的消息置为已读，返回受影响条数
	MarkMessagesRead(ctx context.Context, conversationID, recipientID string) (int64, error)
	// ListMessages 按时间倒序取最近 limit 条
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Store 一个后端实现的全部能力
type Store interface {
	UserStore
	AppointmentStore
	ConversationStore
	MessageStore
	NotificationStore
	Close(ctx context.Context) error
}

// Pinger 需要探活的后端实现它，内存实现不需要
type Pinger interface {
	Ping(ctx context.Context) error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

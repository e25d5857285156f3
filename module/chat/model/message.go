package model

import (
	"fmt"
	"time"
)

const MessageTableName = "messages"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile:
		return true
	}
	return false
}

// Message 聊天消息，除 read 以外不可变
type Message struct {
	ID             string      `json:"id" bson:"_id"`
	ConversationID string      `json:"conversationId" bson:"conversation_id"`
	SenderID       string      `json:"sender" bson:"sender_id"`
	RecipientID    string      `json:"recipient" bson:"recipient_id"`
	Content        string      `json:"content" bson:"content"`
	Type           MessageType `json:"messageType" bson:"type"`

	// 附件，文本消息为空
	FileURL  string `json:"fileUrl,omitempty" bson:"file_url,omitempty"`
	FileName string `json:"fileName,omitempty" bson:"file_name,omitempty"`
	FileSize int64  `json:"fileSize,omitempty" bson:"file_size,omitempty"`

	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"timestamp" bson:"created_at"`
}

// Summary 会话摘要：文本取原文，其它类型用占位文案
func (m *Message) Summary() string {
	if m.Type == MessageText || m.Type == "" {
		return m.Content
	}
	return fmt.Sprintf("Sent a %s", m.Type)
}

func (m *Message) LastMessage() *LastMessage {
	return &LastMessage{
		Content:   m.Summary(),
		SenderID:  m.SenderID,
		Type:      m.Type,
		Timestamp: m.CreatedAt,
	}
}

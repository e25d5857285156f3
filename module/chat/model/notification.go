package model

import "time"

const NotificationTableName = "notifications"

type NotificationType string

const (
	NotifyNewMessage   NotificationType = "new_message"
	NotifyIncomingCall NotificationType = "incoming_call"
)

// Notification 由模板生成，交给各个 sink 落库或投递到消息总线
type Notification struct {
	ID          string           `json:"id" bson:"_id"`
	RecipientID string           `json:"recipientId" bson:"recipient_id"`
	SenderID    string           `json:"senderId" bson:"sender_id"`
	Type        NotificationType `json:"type" bson:"type"`
	Title       string           `json:"title" bson:"title"`
	Body        string           `json:"message" bson:"body"`
	Data        map[string]any   `json:"data,omitempty" bson:"data,omitempty"`
	Read        bool             `json:"read" bson:"read"`
	CreatedAt   time.Time        `json:"createdAt" bson:"created_at"`
}

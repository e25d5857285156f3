// Package notify 通知：模板生成、异步派发（带重试）、多种投递 sink。
package notify

import (
	"fmt"
	"time"
	"unicode/utf8"

	"CareLink/module/chat/model"
	"CareLink/tools/ids"
)

const previewLimit = 120

// Templater 生成通知文案
type Templater struct {
	now func() time.Time
}

func NewTemplater() *Templater {
	return &Templater{now: time.Now}
}

func displayName(p *model.Profile, fallback string) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	return fallback
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}

// NewMessage 新消息通知，body 用会话摘要
func (t *Templater) NewMessage(sender *model.Profile, msg *model.Message) *model.Notification {
	return &model.Notification{
		ID:          ids.GenerateString(),
		RecipientID: msg.RecipientID,
		SenderID:    msg.SenderID,
		Type:        model.NotifyNewMessage,
		Title:       fmt.Sprintf("New message from %s", displayName(sender, msg.SenderID)),
		Body:        truncate(msg.Summary(), previewLimit),
		Data: map[string]any{
			"conversationId": msg.ConversationID,
			"messageId":      msg.ID,
			"messageType":    string(msg.Type),
		},
		CreatedAt: t.now().UTC(),
	}
}

type CallInfo struct {
	AppointmentID string
	CallerID      string
	CallerName    string
	CallerRole    string
	CalleeID      string
}

// IncomingCall 来电通知
func (t *Templater) IncomingCall(c CallInfo) *model.Notification {
	name := c.CallerName
	if name == "" {
		name = c.CallerID
	}
	return &model.Notification{
		ID:          ids.GenerateString(),
		RecipientID: c.CalleeID,
		SenderID:    c.CallerID,
		Type:        model.NotifyIncomingCall,
		Title:       "Incoming video call",
		Body:        fmt.Sprintf("%s is calling you", name),
		Data: map[string]any{
			"appointmentId": c.AppointmentID,
			"callerRole":    c.CallerRole,
		},
		CreatedAt: t.now().UTC(),
	}
}

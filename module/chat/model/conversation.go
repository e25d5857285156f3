package model

import (
	"strconv"
	"time"
)

const ConversationTableName = "conversations"

// LastMessage 会话列表展示用的最后一条消息摘要
type LastMessage struct {
	Content   string      `json:"content" bson:"content"`
	SenderID  string      `json:"sender" bson:"sender_id"`
	Type      MessageType `json:"messageType" bson:"type"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

// Conversation 两人单聊会话。participants 排好序，pair_key 在所有存储里唯一
type Conversation struct {
	ID           string           `json:"id" bson:"_id"`
	Participants []string         `json:"participants" bson:"participants"` // 恰好两个，升序
	PairKey      string           `json:"-" bson:"pair_key"`                // len(a):a:b，a<b
	LastMessage  *LastMessage     `json:"lastMessage,omitempty" bson:"last_message,omitempty"`
	Unread       map[string]int64 `json:"unreadCount" bson:"unread"` // 参与者 -> 未读数
	CreatedAt    time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" bson:"updated_at"`
}

// PairKey 无序二元组的规范化 key，同时返回排好序的两个 id。
// 第一个 id 带长度前缀，id 里含 ":" 也不会撞 key
func PairKey(a, b string) (string, [2]string) {
	pair := [2]string{a, b}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + ":" + pair[1], pair
}

// NewConversation 未读计数只为两个参与者建 key
func NewConversation(id, a, b string, now time.Time) *Conversation {
	key, pair := PairKey(a, b)
	return &Conversation{
		ID:           id,
		Participants: []string{pair[0], pair[1]},
		PairKey:      key,
		Unread:       map[string]int64{pair[0]: 0, pair[1]: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Conversation) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other 返回对端，userID 不是参与者时返回空串
func (c *Conversation) Other(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c *Conversation) UnreadFor(userID string) int64 {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// Clone 存储层返回副本，调用方修改不影响存储
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Unread = make(map[string]int64, len(c.Unread))
	for k, v := range c.Unread {
		out.Unread[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

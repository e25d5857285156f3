package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"CareLink/module/chat/model"
	"CareLink/tools/errs"
	"CareLink/tools/ids"
)

// Memory 进程内实现，开发环境和测试使用
type Memory struct {
	mu            sync.RWMutex
	users         map[string]model.Profile
	appointments  map[string]model.Appointment
	conversations map[string]*model.Conversation
	byPair        map[string]string // pair_key -> conversation id
	messages      map[string][]*model.Message
	notifications []*model.Notification
	now           func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]model.Profile),
		appointments:  make(map[string]model.Appointment),
		conversations: make(map[string]*model.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string][]*model.Message),
		now:           time.Now,
	}
}

func (m *Memory) PutUser(p model.Profile) {
	m.mu.Lock()
	m.users[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) PutAppointment(a model.Appointment) {
	m.mu.Lock()
	m.appointments[a.ID] = a
	m.mu.Unlock()
}

func (m *Memory) GetUser(_ context.Context, userID string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.users[userID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "id", userID)
	}
	return &p, nil
}

func (m *Memory) GetAppointment(_ context.Context, appointmentID string) (*model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[appointmentID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("appointment", "id", appointmentID)
	}
	return &a, nil
}

func (m *Memory) FindOrCreateConversation(_ context.Context, a, b string) (*model.Conversation, error) {
	key, _ := model.PairKey(a, b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPair[key]; ok {
		return m.conversations[id].Clone(), nil
	}
	c := model.NewConversation(ids.GenerateString(), a, b, m.now())
	m.conversations[c.ID] = c
	m.byPair[key] = c.ID
	return c.Clone(), nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return c.Clone(), nil
}

func (m *Memory) ApplyMessage(_ context.Context, conversationID string, last *model.LastMessage, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || !c.HasParticipant(recipientID) {
		return errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID, "recipient", recipientID)
	}
	if last != nil {
		lm := *last
		c.LastMessage = &lm
	}
	c.Unread[recipientID]++
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ResetUnread(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID)
	}
	if c.HasParticipant(userID) {
		c.Unread[userID] = 0
		c.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return errs.ErrInvalidPayload.WrapMsg("message id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	return nil
}

func (m *Memory) MarkMessagesRead(_ context.Context, conversationID, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.RecipientID == recipientID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string, limit int) ([]*model.Message, error) {
	limit = listLimit(limit)
	m.mu.RLock()
	src := m.messages[conversationID]
	out := make([]*model.Message, 0, len(src))
	for _, msg := range src {
		cp := *msg
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateNotification(_ context.Context, n *model.Notification) error {
	if n == nil {
		return errs.ErrInvalidPayload.WrapMsg("nil notification")
	}
	m.mu.Lock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	m.mu.Unlock()
	return nil
}

// Notifications 返回某个用户收到的通知，测试用
func (m *Memory) Notifications(recipientID string) []*model.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Memory) Close(context.Context) error { return nil }

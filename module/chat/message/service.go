// Package message 会话与消息的业务规则：校验、会话解析、落库、摘要、未读计数。
package message

import (
	"context"
	"strings"
	"time"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/tools/errs"
	"CareLink/tools/ids"

	"go.uber.org/zap"
)

// 校验失败的文案直接推给发送者
var (
	ErrRecipientRequired = errs.NewCodeError(errs.InvalidPayloadError, "Recipient is required")
	ErrSendToSelf        = errs.NewCodeError(errs.InvalidPayloadError, "Cannot send a message to yourself")
	ErrInvalidType       = errs.NewCodeError(errs.InvalidPayloadError, "Invalid message type")
	ErrEmptyMessage      = errs.NewCodeError(errs.InvalidPayloadError, "Message content or file is required")
)

type SendRequest struct {
	SenderID    string
	RecipientID string
	Content     string
	Type        model.MessageType
	FileURL     string
	FileName    string
	FileSize    int64
}

// Validate 规范化并校验，Type 缺省为 text
func (r *SendRequest) Validate() error {
	r.RecipientID = strings.TrimSpace(r.RecipientID)
	if r.RecipientID == "" {
		return ErrRecipientRequired.Wrap()
	}
	if r.RecipientID == r.SenderID {
		return ErrSendToSelf.Wrap()
	}
	if r.Type == "" {
		r.Type = model.MessageText
	}
	if !r.Type.Valid() {
		return ErrInvalidType.WrapMsg("", "type", r.Type)
	}
	if strings.TrimSpace(r.Content) == "" && strings.TrimSpace(r.FileURL) == "" {
		return ErrEmptyMessage.Wrap()
	}
	return nil
}

type SendResult struct {
	Conversation *model.Conversation
	Message      *model.Message
}

type Service struct {
	convs store.ConversationStore
	msgs  store.MessageStore
	log   *zap.Logger
	now   func() time.Time
}

func NewService(convs store.ConversationStore, msgs store.MessageStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{convs: convs, msgs: msgs, log: log, now: time.Now}
}

func (s *Service) FindOrCreate(ctx context.Context, a, b string) (*model.Conversation, error) {
	return s.convs.FindOrCreateConversation(ctx, a, b)
}

// Send 解析会话、落库、更新摘要和未读数。
// 落库前的失败返回 ErrSendMessage；落库之后的失败只记日志，不影响返回
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conv, err := s.convs.FindOrCreateConversation(ctx, req.SenderID, req.RecipientID)
	if err != nil {
		return nil, errs.ErrSendMessage.WrapMsg(err.Error(), "step", "conversation")
	}
	// 存储返回的会话必须正好属于这两个人，否则不落库也不推送
	if !conv.HasParticipant(req.SenderID) || !conv.HasParticipant(req.RecipientID) {
		return nil, errs.ErrSendMessage.WrapMsg("conversation does not match pair",
			"conversation", conv.ID, "sender", req.SenderID, "recipient", req.RecipientID)
	}

	msg := &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.msgs.CreateMessage(ctx, msg); err != nil {
		return nil, errs.ErrSendMessage.WrapMsg(err.Error(), "step", "persist", "conversation", conv.ID)
	}

	last := msg.LastMessage()
	if err := s.convs.ApplyMessage(ctx, conv.ID, last, req.RecipientID); err != nil {
		s.log.Warn("update conversation summary failed",
			zap.String("conversation", conv.ID), zap.String("message", msg.ID), zap.Error(err))
	} else {
		conv.LastMessage = last
		if conv.Unread == nil {
			conv.Unread = make(map[string]int64, 2)
		}
		conv.Unread[req.RecipientID]++
		conv.UpdatedAt = msg.CreatedAt
	}

	return &SendResult{Conversation: conv, Message: msg}, nil
}

// IsParticipant 会话不存在或存储出错都视为 false
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) bool {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		if !errs.ErrRecordNotFound.Is(err) {
			s.log.Warn("load conversation failed", zap.String("conversation", conversationID), zap.Error(err))
		}
		return false
	}
	return conv.HasParticipant(userID)
}

// MarkRead 清零 userID 的未读并把发给他的消息置为已读。
// 非参与者返回 ok=false
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (ok bool, err error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			return false, nil
		}
		return false, err
	}
	if !conv.HasParticipant(userID) {
		return false, nil
	}
	if err := s.convs.ResetUnread(ctx, conversationID, userID); err != nil {
		return false, err
	}
	if n, err := s.msgs.MarkMessagesRead(ctx, conversationID, userID); err != nil {
		s.log.Warn("mark messages read failed", zap.String("conversation", conversationID), zap.Error(err))
	} else {
		s.log.Debug("messages marked read", zap.String("conversation", conversationID), zap.Int64("count", n))
	}
	return true, nil
}

package chat

import (
	"CareLink/module/chat/message"
	"CareLink/module/chat/model"

	"go.uber.org/zap"
)

// sendMessage 校验、解析会话、落库、更新摘要和未读，然后推送与通知。
// 落库前失败返回错误（由 dispatch 回给发送者），落库后的失败只记日志
func (s *Server) sendMessage(c *Conn, ev *SendMessage) error {
	ctx, cancel := s.storeCtx()
	defer cancel()

	res, err := s.messages.Send(ctx, message.SendRequest{
		SenderID:    c.userID,
		RecipientID: ev.RecipientID,
		Content:     ev.Content,
		Type:        model.MessageType(ev.MessageType),
		FileURL:     ev.FileURL,
		FileName:    ev.FileName,
		FileSize:    ev.FileSize,
	})
	if err != nil {
		return err
	}
	msg := res.Message

	// 房间内成员（含发送者自己加入的连接）+ 接收者的全部连接
	s.emit.emit(s.rooms.Members(conversationRoom(msg.ConversationID), nil), EventNewMessage, msg)
	s.sessions.SendToUser(msg.RecipientID, EventNewMessage, msg)

	n := s.templater.NewMessage(c.profile, msg)
	s.notify(n)

	if s.sessions.Online(msg.RecipientID) {
		s.sessions.SendToUser(msg.RecipientID, EventNewNotification, notificationPayload{
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Body,
			ConversationID: msg.ConversationID,
			Sender:         msg.SenderID,
			Content:        msg.Summary(),
		})
	}

	s.log.Debug("message routed",
		zap.String("message", msg.ID),
		zap.String("conversation", msg.ConversationID),
		zap.String("from", msg.SenderID),
		zap.String("to", msg.RecipientID))
	return nil
}

// joinConversation 只有参与者能进房间，其余情况静默忽略
func (s *Server) joinConversation(c *Conn, ev *JoinConversation) error {
	if ev.ConversationID == "" {
		return nil
	}
	ctx, cancel := s.storeCtx()
	defer cancel()

	if !s.messages.IsParticipant(ctx, ev.ConversationID, c.userID) {
		s.log.Debug("join conversation ignored",
			zap.String("user", c.userID), zap.String("conversation", ev.ConversationID))
		return nil
	}
	s.rooms.Join(conversationRoom(ev.ConversationID), c)
	return nil
}

func (s *Server) leaveConversation(c *Conn, ev *LeaveConversation) error {
	if ev.ConversationID == "" {
		return nil
	}
	s.rooms.Leave(conversationRoom(ev.ConversationID), c)
	return nil
}

// markRead 清零读者的未读并通知房间
func (s *Server) markRead(c *Conn, ev *MarkRead) error {
	if ev.ConversationID == "" {
		return nil
	}
	ctx, cancel := s.storeCtx()
	defer cancel()

	ok, err := s.messages.MarkRead(ctx, ev.ConversationID, c.userID)
	if err != nil {
		s.log.Warn("mark read failed",
			zap.String("user", c.userID), zap.String("conversation", ev.ConversationID), zap.Error(err))
		return nil
	}
	if !ok {
		s.log.Debug("mark read ignored",
			zap.String("user", c.userID), zap.String("conversation", ev.ConversationID))
		return nil
	}
	s.emit.emit(s.rooms.Members(conversationRoom(ev.ConversationID), nil), EventConversationRead,
		conversationReadPayload{ConversationID: ev.ConversationID, UserID: c.userID})
	return nil
}

package message

import (
	"context"
	"errors"
	"testing"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/tools/errs"

	"go.uber.org/zap/zaptest"
)

type failingMessages struct {
	store.MessageStore
}

func (failingMessages) CreateMessage(context.Context, *model.Message) error {
	return errors.New("disk full")
}

type failingApply struct {
	*store.Memory
}

func (failingApply) ApplyMessage(context.Context, string, *model.LastMessage, string) error {
	return errors.New("timeout")
}

// otherPair 无论谁发消息都返回同一个别人的会话
type otherPair struct {
	*store.Memory
	conv *model.Conversation
}

func (o otherPair) FindOrCreateConversation(context.Context, string, string) (*model.Conversation, error) {
	return o.conv.Clone(), nil
}

// bareUnread 模拟没有 unread 字段的 mongo 文档
type bareUnread struct {
	*store.Memory
}

func (b bareUnread) FindOrCreateConversation(ctx context.Context, x, y string) (*model.Conversation, error) {
	c, err := b.Memory.FindOrCreateConversation(ctx, x, y)
	if err != nil {
		return nil, err
	}
	c.Unread = nil
	return c, nil
}

func newService(t *testing.T) (*Service, *store.Memory) {
	mem := store.NewMemory()
	return NewService(mem, mem, zaptest.NewLogger(t)), mem
}

func TestSendValidation(t *testing.T) {
	svc, _ := newService(t)
	cases := []struct {
		name string
		req  SendRequest
		want *errs.CodeError
	}{
		{"no recipient", SendRequest{SenderID: "doc1", Content: "hi"}, &ErrRecipientRequired},
		{"blank recipient", SendRequest{SenderID: "doc1", RecipientID: "  ", Content: "hi"}, &ErrRecipientRequired},
		{"self", SendRequest{SenderID: "doc1", RecipientID: "doc1", Content: "hi"}, &ErrSendToSelf},
		{"bad type", SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "hi", Type: "sticker"}, &ErrInvalidType},
		{"empty", SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "  "}, &ErrEmptyMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tc.req)
			ce, ok := errs.AsCode(err)
			if !ok || ce.Msg != tc.want.Msg {
				t.Fatalf("Send err = %v, want %q", err, tc.want.Msg)
			}
		})
	}
}

func TestSendTextUpdatesSummaryAndUnread(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	res, err := svc.Send(ctx, SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Message.Type != model.MessageText || res.Message.ID == "" || res.Message.CreatedAt.IsZero() {
		t.Fatalf("message = %+v", res.Message)
	}
	if res.Conversation.UnreadFor("pat1") != 1 || res.Conversation.UnreadFor("doc1") != 0 {
		t.Fatalf("returned unread = %v", res.Conversation.Unread)
	}

	_, err = svc.Send(ctx, SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "are you there?"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv, err := mem.GetConversation(ctx, res.Conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.UnreadFor("pat1") != 2 || conv.UnreadFor("doc1") != 0 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	if conv.LastMessage.Content != "are you there?" || conv.LastMessage.SenderID != "doc1" {
		t.Fatalf("summary = %+v", conv.LastMessage)
	}
}

func TestSendFilePlaceholderSummary(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	res, err := svc.Send(ctx, SendRequest{
		SenderID: "pat1", RecipientID: "doc1", Type: model.MessageFile,
		FileURL: "https://files.carelink.test/xray.pdf", FileName: "xray.pdf", FileSize: 2048,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Message.FileName != "xray.pdf" || res.Message.FileSize != 2048 {
		t.Fatalf("message = %+v", res.Message)
	}
	conv, _ := mem.GetConversation(ctx, res.Conversation.ID)
	if conv.LastMessage.Content != "Sent a file" {
		t.Fatalf("summary = %q", conv.LastMessage.Content)
	}
	if conv.UnreadFor("doc1") != 1 {
		t.Fatalf("unread = %v", conv.Unread)
	}
}

func TestSendSameConversationBothDirections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, err := svc.Send(ctx, SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	b, err := svc.Send(ctx, SendRequest{SenderID: "pat1", RecipientID: "doc1", Content: "2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.Conversation.ID != b.Conversation.ID {
		t.Fatalf("conversation ids differ: %s %s", a.Conversation.ID, b.Conversation.ID)
	}
	if b.Conversation.UnreadFor("pat1") != 1 || b.Conversation.UnreadFor("doc1") != 1 {
		t.Fatalf("unread = %v", b.Conversation.Unread)
	}
}

func TestSendPersistFailure(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, failingMessages{mem}, zaptest.NewLogger(t))

	_, err := svc.Send(context.Background(), SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "hi"})
	if !errs.ErrSendMessage.Is(err) {
		t.Fatalf("err = %v, want ErrSendMessage", err)
	}
	ce, _ := errs.AsCode(err)
	if ce.Msg != "Failed to send message" {
		t.Fatalf("msg = %q", ce.Msg)
	}
}

func TestSendRejectsConversationOfAnotherPair(t *testing.T) {
	mem := store.NewMemory()
	foreign, err := mem.FindOrCreateConversation(context.Background(), "x:y", "z")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewService(otherPair{Memory: mem, conv: foreign}, mem, zaptest.NewLogger(t))

	_, err = svc.Send(context.Background(), SendRequest{SenderID: "x", RecipientID: "y:z", Content: "for y:z"})
	if !errs.ErrSendMessage.Is(err) {
		t.Fatalf("err = %v, want ErrSendMessage", err)
	}
	list, _ := mem.ListMessages(context.Background(), foreign.ID, 10)
	if len(list) != 0 {
		t.Fatalf("message leaked into %s: %d", foreign.ID, len(list))
	}
}

func TestSendWithMissingUnreadMap(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(bareUnread{mem}, mem, zaptest.NewLogger(t))

	res, err := svc.Send(context.Background(), SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Conversation.UnreadFor("pat1") != 1 {
		t.Fatalf("unread = %v", res.Conversation.Unread)
	}
}

func TestSendSummaryFailureIsSwallowed(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(failingApply{mem}, mem, zaptest.NewLogger(t))

	res, err := svc.Send(context.Background(), SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	list, _ := mem.ListMessages(context.Background(), res.Conversation.ID, 10)
	if len(list) != 1 {
		t.Fatalf("message not persisted: %d", len(list))
	}
}

func TestMarkRead(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Send(ctx, SendRequest{SenderID: "doc1", RecipientID: "pat1", Content: "x"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	res, err := svc.Send(ctx, SendRequest{SenderID: "pat1", RecipientID: "doc1", Content: "y"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	convID := res.Conversation.ID

	ok, err := svc.MarkRead(ctx, convID, "stranger")
	if ok || err != nil {
		t.Fatalf("stranger MarkRead = %v, %v", ok, err)
	}
	ok, err = svc.MarkRead(ctx, "missing", "pat1")
	if ok || err != nil {
		t.Fatalf("missing MarkRead = %v, %v", ok, err)
	}

	ok, err = svc.MarkRead(ctx, convID, "pat1")
	if !ok || err != nil {
		t.Fatalf("MarkRead = %v, %v", ok, err)
	}
	conv, _ := mem.GetConversation(ctx, convID)
	if conv.UnreadFor("pat1") != 0 || conv.UnreadFor("doc1") != 1 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	list, _ := mem.ListMessages(ctx, convID, 10)
	for _, m := range list {
		if m.RecipientID == "pat1" && !m.Read {
			t.Fatalf("message %s not marked read", m.ID)
		}
		if m.RecipientID == "doc1" && m.Read {
			t.Fatalf("message %s wrongly marked read", m.ID)
		}
	}
}

func TestIsParticipant(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, err := svc.FindOrCreate(ctx, "doc1", "pat1")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if !svc.IsParticipant(ctx, conv.ID, "pat1") || svc.IsParticipant(ctx, conv.ID, "pat2") || svc.IsParticipant(ctx, "nope", "pat1") {
		t.Fatal("IsParticipant mismatch")
	}
}

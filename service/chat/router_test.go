package chat

import (
	"context"
	"errors"
	"testing"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
)

// failingStore 按开关注入存储故障
type failingStore struct {
	*store.Memory
	failCreate bool
	failApply  bool
	panicGet   bool
}

func (f *failingStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	return f.Memory.CreateMessage(ctx, m)
}

func (f *failingStore) ApplyMessage(ctx context.Context, id string, last *model.LastMessage, recipient string) error {
	if f.failApply {
		return errors.New("write conflict")
	}
	return f.Memory.ApplyMessage(ctx, id, last, recipient)
}

func (f *failingStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if f.panicGet {
		panic("boom")
	}
	return f.Memory.GetConversation(ctx, id)
}

func sendText(h *harness, from *Conn, to, content string) {
	h.send(from, EventSendMessage, map[string]any{"recipientId": to, "content": content})
}

func conversationFor(t *testing.T, st store.Store, a, b string) *model.Conversation {
	t.Helper()
	conv, err := st.FindOrCreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("FindOrCreateConversation: %v", err)
	}
	return conv
}

// 医生 doc1 给患者 pat1 发消息的完整流程
func TestSendMessageDoctorToPatient(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	drain(t, doc)

	sendText(h, doc, "pat1", "Hello, how are you feeling?")

	var msg model.Message
	patFrames := drain(t, pat)
	expectOne(t, patFrames, EventNewMessage).decode(t, &msg)
	if msg.ID == "" || msg.SenderID != "doc1" || msg.RecipientID != "pat1" || msg.Type != model.MessageText {
		t.Fatalf("message = %+v", msg)
	}
	if msg.CreatedAt.IsZero() || msg.ConversationID == "" {
		t.Fatalf("server side stamps missing: %+v", msg)
	}

	var note notificationPayload
	expectOne(t, patFrames, EventNewNotification).decode(t, &note)
	if note.Type != model.NotifyNewMessage || note.Sender != "doc1" || note.ConversationID != msg.ConversationID ||
		note.Title != "New message from Dr. Ada" || note.Content != "Hello, how are you feeling?" {
		t.Fatalf("notification payload = %+v", note)
	}

	// 发送者没有进房间，收不到 new-message
	expectNone(t, drain(t, doc), EventNewMessage)

	conv := conversationFor(t, h.mem, "pat1", "doc1")
	if conv.ID != msg.ConversationID {
		t.Fatalf("conversation %s != %s", conv.ID, msg.ConversationID)
	}
	if conv.UnreadFor("pat1") != 1 || conv.UnreadFor("doc1") != 0 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	if conv.LastMessage == nil || conv.LastMessage.Content != "Hello, how are you feeling?" || conv.LastMessage.SenderID != "doc1" {
		t.Fatalf("last message = %+v", conv.LastMessage)
	}

	notes := h.notes.byType(model.NotifyNewMessage)
	if len(notes) != 1 || notes[0].RecipientID != "pat1" {
		t.Fatalf("queued notifications = %+v", notes)
	}
}

func TestSendMessageRoomAndDirectDelivery(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	conv := conversationFor(t, h.mem, "doc1", "pat1")

	h.send(doc, EventJoinConversation, map[string]string{"conversationId": conv.ID})
	h.send(pat, EventJoinConversation, map[string]string{"conversationId": conv.ID})
	drain(t, doc)
	drain(t, pat)

	sendText(h, pat, "doc1", "thanks")

	// 发送者通过房间收到一次；接收者房间 + 个人通道各一次
	if n := len(pick(drain(t, pat), EventNewMessage)); n != 1 {
		t.Fatalf("sender copies = %d", n)
	}
	docFrames := drain(t, doc)
	copies := pick(docFrames, EventNewMessage)
	if len(copies) != 2 {
		t.Fatalf("recipient copies = %d", len(copies))
	}
	var a, b model.Message
	copies[0].decode(t, &a)
	copies[1].decode(t, &b)
	if a.ID != b.ID {
		t.Fatal("duplicate deliveries must carry the same message id")
	}
}

func TestSendMessageUnreadPerRecipient(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.connect("doc1")
	pat := h.connect("pat1")

	sendText(h, doc, "pat1", "one")
	sendText(h, doc, "pat1", "two")
	sendText(h, pat, "doc1", "three")

	conv := conversationFor(t, h.mem, "doc1", "pat1")
	if conv.UnreadFor("pat1") != 2 || conv.UnreadFor("doc1") != 1 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	if conv.LastMessage.Content != "three" {
		t.Fatalf("last = %+v", conv.LastMessage)
	}
}

func TestSendMessageFilePlaceholder(t *testing.T) {
	h := newHarness(t, nil)
	pat := h.connect("pat1")
	doc := h.connect("doc1")

	h.send(pat, EventSendMessage, map[string]any{
		"recipientId": "doc1",
		"messageType": "file",
		"fileUrl":     "https://files.example/xray.pdf",
		"fileName":    "xray.pdf",
		"fileSize":    "2048",
	})

	var msg model.Message
	frames := drain(t, doc)
	expectOne(t, frames, EventNewMessage).decode(t, &msg)
	if msg.Type != model.MessageFile || msg.FileName != "xray.pdf" || msg.FileSize != 2048 {
		t.Fatalf("message = %+v", msg)
	}
	var note notificationPayload
	expectOne(t, frames, EventNewNotification).decode(t, &note)
	if note.Content != "Sent a file" || note.Message != "Sent a file" {
		t.Fatalf("notification = %+v", note)
	}
	conv := conversationFor(t, h.mem, "doc1", "pat1")
	if conv.LastMessage.Content != "Sent a file" {
		t.Fatalf("summary = %q", conv.LastMessage.Content)
	}
}

func TestSendMessageOfflineRecipient(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.connect("doc1")

	sendText(h, doc, "pat2", "see you tomorrow")

	expectNone(t, drain(t, doc), EventError)
	conv := conversationFor(t, h.mem, "doc1", "pat2")
	if conv.UnreadFor("pat2") != 1 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	if n := len(h.notes.byType(model.NotifyNewMessage)); n != 1 {
		t.Fatalf("offline recipient should still get a queued notification, got %d", n)
	}
}

func TestSendMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		want string
	}{
		{"missing recipient", map[string]any{"content": "hi"}, "Recipient is required"},
		{"self", map[string]any{"recipientId": "doc1", "content": "hi"}, "Cannot send a message to yourself"},
		{"bad type", map[string]any{"recipientId": "pat1", "content": "hi", "messageType": "sticker"}, "Invalid message type"},
		{"empty", map[string]any{"recipientId": "pat1", "content": "  "}, "Message content or file is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			doc := h.connect("doc1")
			pat := h.connect("pat1")
			drain(t, doc)

			h.send(doc, EventSendMessage, tc.data)
			if got := errorMessage(t, drain(t, doc)); got != tc.want {
				t.Fatalf("error = %q, want %q", got, tc.want)
			}
			expectNone(t, drain(t, pat), EventNewMessage)
		})
	}
}

func TestSendMessagePersistFailure(t *testing.T) {
	fs := &failingStore{Memory: seedMemory(), failCreate: true}
	h := newHarness(t, fs)
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	drain(t, doc)

	sendText(h, doc, "pat1", "hello")

	if got := errorMessage(t, drain(t, doc)); got != "Failed to send message" {
		t.Fatalf("error = %q", got)
	}
	expectNone(t, drain(t, pat), EventNewMessage)
	if n := len(h.notes.byType(model.NotifyNewMessage)); n != 0 {
		t.Fatalf("no notification expected, got %d", n)
	}
}

func TestSendMessageSummaryFailureIsSwallowed(t *testing.T) {
	fs := &failingStore{Memory: seedMemory(), failApply: true}
	h := newHarness(t, fs)
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	drain(t, doc)

	sendText(h, doc, "pat1", "hello")

	expectNone(t, drain(t, doc), EventError)
	expectOne(t, drain(t, pat), EventNewMessage)
}

func TestJoinConversationRequiresParticipant(t *testing.T) {
	h := newHarness(t, nil)
	pat2 := h.connect("pat2")
	conv := conversationFor(t, h.mem, "doc1", "pat1")

	h.send(pat2, EventJoinConversation, map[string]string{"conversationId": conv.ID})
	h.send(pat2, EventJoinConversation, map[string]string{"conversationId": "missing"})

	if h.srv.Rooms().Has(conversationRoom(conv.ID), pat2) || h.srv.Rooms().Size(conversationRoom("missing")) != 0 {
		t.Fatal("non participant joined the room")
	}
	// 静默忽略，不回 error
	expectNone(t, drain(t, pat2), EventError)

	pat := h.connect("pat1")
	h.send(pat, EventJoinConversation, map[string]string{"conversationId": conv.ID})
	if !h.srv.Rooms().Has(conversationRoom(conv.ID), pat) {
		t.Fatal("participant should join")
	}
	h.send(pat, EventLeaveConversation, map[string]string{"conversationId": conv.ID})
	if h.srv.Rooms().Has(conversationRoom(conv.ID), pat) {
		t.Fatal("leave-conversation should leave the room")
	}
}

func TestMarkRead(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	sendText(h, doc, "pat1", "one")
	sendText(h, doc, "pat1", "two")
	sendText(h, pat, "doc1", "three")

	conv := conversationFor(t, h.mem, "doc1", "pat1")
	h.send(doc, EventJoinConversation, map[string]string{"conversationId": conv.ID})
	drain(t, doc)
	drain(t, pat)

	h.send(pat, EventMarkRead, map[string]string{"conversationId": conv.ID})

	conv = conversationFor(t, h.mem, "doc1", "pat1")
	if conv.UnreadFor("pat1") != 0 || conv.UnreadFor("doc1") != 1 {
		t.Fatalf("unread after read = %v", conv.Unread)
	}
	var p conversationReadPayload
	expectOne(t, drain(t, doc), EventConversationRead).decode(t, &p)
	if p.ConversationID != conv.ID || p.UserID != "pat1" {
		t.Fatalf("conversation-read = %+v", p)
	}

	msgs, err := h.mem.ListMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, m := range msgs {
		if m.RecipientID == "pat1" && !m.Read {
			t.Fatalf("message %s to pat1 should be read", m.ID)
		}
		if m.RecipientID == "doc1" && m.Read {
			t.Fatalf("message %s to doc1 should stay unread", m.ID)
		}
	}

	// 非参与者静默
	outsider := h.connect("pat2")
	drain(t, doc)
	h.send(outsider, EventMarkRead, map[string]string{"conversationId": conv.ID})
	expectNone(t, drain(t, outsider), EventError)
	expectNone(t, drain(t, doc), EventConversationRead)
}

func TestNotificationQueueFullDoesNotFailSend(t *testing.T) {
	h := newHarness(t, nil)
	h.notes.full = true
	doc := h.connect("doc1")
	pat := h.connect("pat1")
	drain(t, doc)

	sendText(h, doc, "pat1", "hello")

	expectNone(t, drain(t, doc), EventError)
	expectOne(t, drain(t, pat), EventNewMessage)
}

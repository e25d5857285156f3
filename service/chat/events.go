package chat

import (
	"encoding/json"

	"CareLink/module/chat/model"
	"CareLink/tools/decode"
	"CareLink/tools/errs"
)

// 入站事件名
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventMarkRead          = "mark-read"
	EventJoinAppointment   = "join-appointment"
	EventLeaveAppointment  = "leave-appointment"
	EventInitiateCall      = "initiate-video-call"
	EventAcceptCall        = "accept-call"
	EventDeclineCall       = "decline-call"
	EventEndCall           = "end-call"
	EventCallOffer         = "video-call-offer"
	EventCallAnswer        = "video-call-answer"
	EventIceCandidate      = "ice-candidate"
)

// 出站事件名
const (
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
	EventUserBusy         = "user-busy"
	EventNewMessage       = "new-message"
	EventNewNotification  = "new-notification"
	EventConversationRead = "conversation-read"
	EventIncomingCall     = "incoming-video-call"
	EventCallAccepted     = "call-accepted"
	EventStartWebRTC      = "start-webrtc-call"
	EventCallDeclined     = "call-declined"
	EventCallEnded        = "call-ended"
	EventError            = "error"
)

// Frame 双向通用的线上格式 {"event": "...", "data": {...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}

// Event 入站事件的封闭集合，新增种类需要同时改 parseFrame 和 dispatch
type Event interface {
	Name() string
}

type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

type SendMessage struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
}

type MarkRead struct {
	ConversationID string `json:"conversationId"`
}

type JoinAppointment struct {
	AppointmentID string `json:"appointmentId"`
}

type LeaveAppointment struct {
	AppointmentID string `json:"appointmentId"`
}

type InitiateCall struct {
	AppointmentID string `json:"appointmentId"`
	To            string `json:"to"`
	CallerName    string `json:"callerName"`
	CallerRole    string `json:"callerRole"`
}

type AcceptCall struct {
	AppointmentID string `json:"appointmentId"`
	CallerID      string `json:"callerId"`
}

type DeclineCall struct {
	AppointmentID string `json:"appointmentId"`
	CallerID      string `json:"callerId"`
}

type EndCall struct {
	AppointmentID string `json:"appointmentId"`
}

// offer / answer / candidate 原样转发，不解析
type CallOffer struct {
	AppointmentID string `json:"appointmentId"`
	Offer         any    `json:"offer"`
}

type CallAnswer struct {
	AppointmentID string `json:"appointmentId"`
	Answer        any    `json:"answer"`
}

type IceCandidate struct {
	AppointmentID string `json:"appointmentId"`
	Candidate     any    `json:"candidate"`
}

func (*JoinConversation) Name() string  { return EventJoinConversation }
func (*LeaveConversation) Name() string { return EventLeaveConversation }
func (*SendMessage) Name() string       { return EventSendMessage }
func (*MarkRead) Name() string          { return EventMarkRead }
func (*JoinAppointment) Name() string   { return EventJoinAppointment }
func (*LeaveAppointment) Name() string  { return EventLeaveAppointment }
func (*InitiateCall) Name() string      { return EventInitiateCall }
func (*AcceptCall) Name() string        { return EventAcceptCall }
func (*DeclineCall) Name() string       { return EventDeclineCall }
func (*EndCall) Name() string           { return EventEndCall }
func (*CallOffer) Name() string         { return EventCallOffer }
func (*CallAnswer) Name() string        { return EventCallAnswer }
func (*IceCandidate) Name() string      { return EventIceCandidate }

// parseFrame 把一帧解析成具体事件。
// JSON 非法返回 ErrInvalidPayload，事件名不认识返回 ErrUnknownEvent
func parseFrame(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
	}

	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventJoinConversation:
		ev, err = decode.JSON[JoinConversation](f.Data)
	case EventLeaveConversation:
		ev, err = decode.JSON[LeaveConversation](f.Data)
	case EventSendMessage:
		ev, err = decode.JSON[SendMessage](f.Data)
	case EventMarkRead:
		ev, err = decode.JSON[MarkRead](f.Data)
	case EventJoinAppointment:
		ev, err = decode.JSON[JoinAppointment](f.Data)
	case EventLeaveAppointment:
		ev, err = decode.JSON[LeaveAppointment](f.Data)
	case EventInitiateCall:
		ev, err = decode.JSON[InitiateCall](f.Data)
	case EventAcceptCall:
		ev, err = decode.JSON[AcceptCall](f.Data)
	case EventDeclineCall:
		ev, err = decode.JSON[DeclineCall](f.Data)
	case EventEndCall:
		ev, err = decode.JSON[EndCall](f.Data)
	case EventCallOffer:
		ev, err = decode.JSON[CallOffer](f.Data)
	case EventCallAnswer:
		ev, err = decode.JSON[CallAnswer](f.Data)
	case EventIceCandidate:
		ev, err = decode.JSON[IceCandidate](f.Data)
	default:
		return nil, errs.ErrUnknownEvent.WrapMsg("", "event", f.Event)
	}
	if err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error(), "event", f.Event)
	}
	return ev, nil
}

// ---- 出站 payload ----

type errorPayload struct {
	Message string `json:"message"`
}

type presencePayload struct {
	UserID string         `json:"userId"`
	User   *model.Profile `json:"user"`
}

type notificationPayload struct {
	Type           model.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	ConversationID string                 `json:"conversationId"`
	Sender         string                 `json:"sender"`
	Content        string                 `json:"content"`
}

type conversationReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type incomingCallPayload struct {
	AppointmentID string `json:"appointmentId"`
	From          string `json:"from"`
	CallerName    string `json:"callerName"`
	CallerRole    string `json:"callerRole"`
}

type callAcceptedPayload struct {
	AppointmentID string `json:"appointmentId"`
	RecipientID   string `json:"recipientId"`
}

type callPayload struct {
	AppointmentID string `json:"appointmentId"`
	Reason        string `json:"reason,omitempty"`
}

type offerPayload struct {
	Offer any    `json:"offer"`
	From  string `json:"from"`
}

type answerPayload struct {
	Answer any    `json:"answer"`
	From   string `json:"from"`
}

type candidatePayload struct {
	Candidate any    `json:"candidate"`
	From      string `json:"from"`
}

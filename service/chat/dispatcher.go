package chat

import (
	"time"

	"CareLink/tools/errs"
	"CareLink/tools/safe"

	"go.uber.org/zap"
)

// handleFrame 在连接的读协程上顺序执行，出错只回 error 事件，不断开连接
func (s *Server) handleFrame(c *Conn, raw []byte) {
	ev, err := parseFrame(raw)
	if err != nil {
		s.log.Debug("bad frame", zap.String("conn", c.id), zap.Int("len", len(raw)), zap.Error(err))
		s.metrics.observeEvent("invalid", "rejected", 0)
		s.replyError(c, err)
		return
	}

	start := time.Now()
	err = safe.Call(func() error { return s.dispatch(c, ev) })
	result := "ok"
	if err != nil {
		result = "error"
		if errs.Code(err) == errs.ServerInternalError {
			s.log.Error("handler failed",
				zap.String("event", ev.Name()),
				zap.String("user", c.userID),
				zap.String("conn", c.id),
				zap.Error(err))
		} else {
			s.log.Debug("event rejected", zap.String("event", ev.Name()), zap.String("user", c.userID), zap.Error(err))
		}
		s.replyError(c, err)
	}
	s.metrics.observeEvent(ev.Name(), result, time.Since(start))
}

// dispatch 入站事件的唯一分派点
func (s *Server) dispatch(c *Conn, ev Event) error {
	switch e := ev.(type) {
	case *JoinConversation:
		return s.joinConversation(c, e)
	case *LeaveConversation:
		return s.leaveConversation(c, e)
	case *SendMessage:
		return s.sendMessage(c, e)
	case *MarkRead:
		return s.markRead(c, e)
	case *JoinAppointment:
		return s.joinAppointment(c, e)
	case *LeaveAppointment:
		return s.leaveAppointment(c, e)
	case *InitiateCall:
		return s.initiateCall(c, e)
	case *AcceptCall:
		return s.acceptCall(c, e)
	case *DeclineCall:
		return s.declineCall(c, e)
	case *EndCall:
		return s.endCall(c, e)
	case *CallOffer:
		return s.relay(c, e.AppointmentID, EventCallOffer, offerPayload{Offer: e.Offer, From: c.userID})
	case *CallAnswer:
		return s.relay(c, e.AppointmentID, EventCallAnswer, answerPayload{Answer: e.Answer, From: c.userID})
	case *IceCandidate:
		return s.relay(c, e.AppointmentID, EventIceCandidate, candidatePayload{Candidate: e.Candidate, From: c.userID})
	default:
		return errs.ErrUnknownEvent.WrapMsg("", "event", ev.Name())
	}
}

// replyError 业务错误回原文案，内部错误和 panic 统一回 "Internal server error"
func (s *Server) replyError(c *Conn, err error) {
	msg := errs.ErrInternal.Msg
	if ce, ok := errs.AsCode(err); ok && ce.Code != errs.ServerInternalError {
		msg = ce.Msg
	}
	s.emit.emitOne(c, EventError, errorPayload{Message: msg})
}

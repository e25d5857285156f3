package chat

import (
	"CareLink/service/notify"
	"CareLink/tools/errs"

	"go.uber.org/zap"
)

const ReasonDisconnected = "disconnected"

var (
	ErrCallTargetRequired = errs.NewCodeError(errs.InvalidPayloadError, "Call recipient is required")
	ErrCallSelf           = errs.NewCodeError(errs.InvalidPayloadError, "Cannot call yourself")
)

// initiateCall 被叫不在线回 user-offline，任一方占线回 user-busy，否则开始振铃
func (s *Server) initiateCall(c *Conn, ev *InitiateCall) error {
	switch {
	case ev.To == "":
		return ErrCallTargetRequired.Wrap()
	case ev.To == c.userID:
		return ErrCallSelf.Wrap()
	}

	if !s.sessions.Online(ev.To) {
		s.emit.emitOne(c, EventUserOffline, errorPayload{Message: errs.ErrRecipientOffline.Msg})
		return nil
	}

	call, err := s.calls.Begin(Call{
		AppointmentID: ev.AppointmentID,
		CallerID:      c.userID,
		CalleeID:      ev.To,
		CallerConnID:  c.id,
	})
	if err != nil {
		s.log.Debug("initiate call rejected", zap.String("caller", c.userID), zap.String("callee", ev.To), zap.Error(err))
		s.emit.emitOne(c, EventUserBusy, errorPayload{Message: errs.ErrRecipientBusy.Msg})
		return nil
	}

	name, role := ev.CallerName, ev.CallerRole
	if name == "" && c.profile != nil {
		name = c.profile.Name
	}
	if role == "" && c.profile != nil {
		role = string(c.profile.Role)
	}

	delivered := s.sessions.SendToUser(ev.To, EventIncomingCall, incomingCallPayload{
		AppointmentID: call.AppointmentID,
		From:          c.userID,
		CallerName:    name,
		CallerRole:    role,
	})
	if delivered == 0 {
		// 被叫在检查之后掉线
		s.calls.EndFor(c.userID)
		s.emit.emitOne(c, EventUserOffline, errorPayload{Message: errs.ErrRecipientOffline.Msg})
		return nil
	}
	s.metrics.setCalls(s.calls.Count())

	s.notify(s.templater.IncomingCall(notify.CallInfo{
		AppointmentID: call.AppointmentID,
		CallerID:      c.userID,
		CallerName:    name,
		CallerRole:    role,
		CalleeID:      ev.To,
	}))

	s.log.Info("call ringing",
		zap.String("appointment", call.AppointmentID),
		zap.String("caller", c.userID),
		zap.String("callee", ev.To))
	return nil
}

// acceptCall 只有被叫本人能接；接通后只通知主叫
func (s *Server) acceptCall(c *Conn, ev *AcceptCall) error {
	call, ok := s.calls.Accept(ev.CallerID, c.userID, c.id)
	if !ok {
		s.log.Debug("accept ignored", zap.String("user", c.userID), zap.String("caller", ev.CallerID))
		return nil
	}
	s.sessions.SendToUser(call.CallerID, EventCallAccepted, callAcceptedPayload{
		AppointmentID: call.AppointmentID,
		RecipientID:   c.userID,
	})
	s.sessions.SendToUser(call.CallerID, EventStartWebRTC, callPayload{AppointmentID: call.AppointmentID})

	s.log.Info("call accepted",
		zap.String("appointment", call.AppointmentID),
		zap.String("caller", call.CallerID),
		zap.String("callee", call.CalleeID))
	return nil
}

// declineCall 幂等：无条件清理双方名下的通话，两份索引一起删
func (s *Server) declineCall(c *Conn, ev *DeclineCall) error {
	for _, call := range s.calls.Decline(c.userID, ev.CallerID) {
		s.log.Debug("call declined",
			zap.String("appointment", call.AppointmentID),
			zap.String("caller", call.CallerID),
			zap.String("callee", call.CalleeID),
			zap.String("by", c.userID))
	}
	s.metrics.setCalls(s.calls.Count())
	if ev.CallerID != "" {
		s.sessions.SendToUser(ev.CallerID, EventCallDeclined, callPayload{AppointmentID: ev.AppointmentID})
	}
	return nil
}

// endCall 通知对端，并广播给信令房间（不含自己这条连接）
func (s *Server) endCall(c *Conn, ev *EndCall) error {
	appointmentID := ev.AppointmentID
	if call, ok := s.calls.EndFor(c.userID); ok {
		s.metrics.setCalls(s.calls.Count())
		if appointmentID == "" {
			appointmentID = call.AppointmentID
		}
		s.sessions.SendToUser(call.Counterpart(c.userID), EventCallEnded, callPayload{AppointmentID: call.AppointmentID})
		s.log.Info("call ended",
			zap.String("appointment", call.AppointmentID),
			zap.String("by", c.userID))
	}
	if appointmentID != "" {
		s.emit.emit(s.rooms.Members(appointmentRoom(appointmentID), c), EventCallEnded,
			callPayload{AppointmentID: appointmentID})
	}
	return nil
}

// endOnDisconnect 在连接离开目录之后调用
func (s *Server) endOnDisconnect(c *Conn) {
	remaining := len(s.sessions.Conns(c.userID))
	call, ok := s.calls.EndOnDisconnect(c.userID, c.id, remaining)
	if !ok {
		return
	}
	s.metrics.setCalls(s.calls.Count())
	payload := callPayload{AppointmentID: call.AppointmentID, Reason: ReasonDisconnected}
	s.sessions.SendToUser(call.Counterpart(c.userID), EventCallEnded, payload)
	// 和 end-call 一样广播给信令房间，c 已经离开房间，这里再显式排除一次
	if call.AppointmentID != "" {
		s.emit.emit(s.rooms.Members(appointmentRoom(call.AppointmentID), c), EventCallEnded, payload)
	}
	s.log.Info("call ended by disconnect",
		zap.String("appointment", call.AppointmentID),
		zap.String("user", c.userID),
		zap.String("conn", c.id))
}

// relay offer/answer/candidate 原样转发给房间里的其他连接，不查通话表
func (s *Server) relay(c *Conn, appointmentID, event string, data any) error {
	if appointmentID == "" {
		return nil
	}
	s.emit.emit(s.rooms.Members(appointmentRoom(appointmentID), c), event, data)
	return nil
}

// joinAppointment 只有预约的医生或患者能进信令房间
func (s *Server) joinAppointment(c *Conn, ev *JoinAppointment) error {
	if ev.AppointmentID == "" {
		return nil
	}
	ctx, cancel := s.storeCtx()
	defer cancel()

	appt, err := s.store.GetAppointment(ctx, ev.AppointmentID)
	if err != nil {
		if !errs.ErrRecordNotFound.Is(err) {
			s.log.Warn("load appointment failed", zap.String("appointment", ev.AppointmentID), zap.Error(err))
		}
		return nil
	}
	if !appt.HasParticipant(c.userID) {
		s.log.Debug("join appointment ignored", zap.String("user", c.userID), zap.String("appointment", ev.AppointmentID))
		return nil
	}
	s.rooms.Join(appointmentRoom(ev.AppointmentID), c)
	return nil
}

func (s *Server) leaveAppointment(c *Conn, ev *LeaveAppointment) error {
	if ev.AppointmentID == "" {
		return nil
	}
	s.rooms.Leave(appointmentRoom(ev.AppointmentID), c)
	return nil
}

package chat

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	midsec "CareLink/middleware/security"
	"CareLink/tools/errs"
	"CareLink/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS 挂在 Gatekeeper 之后：升级、登记、读循环；退出时统一清理
func (s *Server) HandleWS(c *gin.Context) {
	profile, ok := midsec.ProfileFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthentication)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写了响应
		s.log.Info("[WS] upgrade failed", zap.String("user", profile.ID), zap.Error(err))
		return
	}

	conn := newConn(ws, profile, s.opts.WS.SendQueue)
	s.log.Info("[WS] connected",
		zap.String("user", conn.userID), zap.String("conn", conn.id), zap.String("remote", ws.RemoteAddr().String()))
	s.serve(conn)
}

func (s *Server) serve(c *Conn) {
	s.attach(c)

	done := make(chan struct{})
	safe.Go("ws-writer", func() {
		defer close(done)
		s.writePump(c)
	})

	s.readPump(c)

	// ---- 退出阶段：房间、通话、在线目录，然后等写协程关闭 ws ----
	s.detach(c)
	<-done
	s.log.Info("[WS] closed", zap.String("user", c.userID), zap.String("conn", c.id))
}

// readPump 只读不写；出错即退出
func (s *Server) readPump(c *Conn) {
	ws := c.ws
	pongWait := s.opts.WS.PongWait
	ws.SetReadLimit(s.opts.WS.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadError(c, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(c, data)
	}
}

func (s *Server) logReadError(c *Conn, err error) {
	fields := []zap.Field{zap.String("user", c.userID), zap.String("conn", c.id), zap.Error(err)}
	var ne net.Error
	switch {
	case c.Closed():
		s.log.Debug("[WS] read stopped after close", fields...)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Info("[WS] peer closed", fields...)
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("[WS] frame too large", fields...)
	case errors.As(err, &ne) && ne.Timeout():
		s.log.Info("[WS] read timeout", fields...)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Info("[WS] connection closed", fields...)
	default:
		s.log.Warn("[WS] read error", fields...)
	}
}

// writePump 唯一的写协程：业务帧、心跳、关闭帧
func (s *Server) writePump(c *Conn) {
	ws := c.ws
	writeWait := s.opts.WS.WriteWait
	ticker := time.NewTicker(s.opts.WS.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Info("[WS] write payload failed", zap.String("user", c.userID), zap.String("conn", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Info("[WS] ping failed", zap.String("user", c.userID), zap.String("conn", c.id), zap.Error(err))
				return
			}

		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

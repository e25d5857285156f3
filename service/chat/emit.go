package chat

import (
	"errors"

	"go.uber.org/zap"
)

// emitter 编码一次，投递到多条连接的发送队列
type emitter struct {
	log     *zap.Logger
	metrics *Metrics
}

func (e *emitter) emit(conns []*Conn, event string, data any) int {
	if len(conns) == 0 {
		return 0
	}
	b, err := encodeFrame(event, data)
	if err != nil {
		e.log.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range conns {
		err := c.enqueue(b)
		switch {
		case err == nil:
			n++
		case errors.Is(err, errQueueFull):
			e.metrics.recordSlowConsumer()
			e.log.Warn("send queue full, closing slow consumer",
				zap.String("user", c.userID), zap.String("conn", c.id), zap.String("event", event))
		}
	}
	e.metrics.recordOutbound(event, n)
	return n
}

func (e *emitter) emitOne(c *Conn, event string, data any) bool {
	if c == nil {
		return false
	}
	return e.emit([]*Conn{c}, event, data) == 1
}

package chat

import (
	"errors"
	"sync"
	"time"

	"CareLink/module/chat/model"
	"CareLink/tools/ids"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// Conn 一条已鉴权的连接。
// 所有出站数据只进 send 队列，由写协程单独消费，保证单连接 FIFO
type Conn struct {
	id      string
	userID  string
	profile *model.Profile

	ws   *websocket.Conn // 单测里为 nil
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
}

func newConn(ws *websocket.Conn, profile *model.Profile, queue int) *Conn {
	if queue <= 0 {
		queue = 256
	}
	return &Conn{
		id:          ids.ConnID(),
		userID:      profile.ID,
		profile:     profile,
		ws:          ws,
		send:        make(chan []byte, queue),
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) UserID() string          { return c.userID }
func (c *Conn) Profile() *model.Profile { return c.profile }
func (c *Conn) Done() <-chan struct{}   { return c.done }

// enqueue 非阻塞入队。队列满说明对端消费太慢，直接关闭连接，后续由读协程走统一的断线清理
func (c *Conn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.Close()
		return errQueueFull
	}
}

// Close 幂等；只关闭 done，不关闭 send，避免并发写入时 panic
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

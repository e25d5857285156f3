// Package chat 实时网关：连接、在线目录、房间、消息路由与通话信令。
package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"CareLink/module/chat/message"
	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/service/notify"
	"CareLink/tools/errs"
	"CareLink/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Notifier 通知派发，Enqueue 不能阻塞
type Notifier interface {
	Enqueue(n *model.Notification) bool
}

type WSOptions struct {
	SendQueue      int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	CheckOrigin    func(r *http.Request) bool // nil 时放行所有来源
}

func (o *WSOptions) setDefaults() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
}

type Options struct {
	Store        store.Store
	JWT          security.Options
	Notifier     Notifier       // 可选
	Presence     PresenceMirror // 可选
	Logger       *zap.Logger
	Metrics      *Metrics
	WS           WSOptions
	StoreTimeout time.Duration
}

type Server struct {
	opts Options
	log  *zap.Logger

	store     store.Store
	messages  *message.Service
	templater *notify.Templater
	notifier  Notifier
	metrics   *Metrics

	emit     *emitter
	sessions *Sessions
	rooms    *Rooms
	calls    *Calls

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errs.New("chat server requires a store")
	}
	if len(opts.JWT.Secret) == 0 {
		return nil, security.ErrEmptySecret
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	opts.WS.setDefaults()

	log := opts.Logger.Named("chat")
	em := &emitter{log: log, metrics: opts.Metrics}
	s := &Server{
		opts:      opts,
		log:       log,
		store:     opts.Store,
		messages:  message.NewService(opts.Store, opts.Store, log.Named("message")),
		templater: notify.NewTemplater(),
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		emit:      em,
		sessions:  newSessions(em, opts.Presence, opts.StoreTimeout, log, opts.Metrics),
		rooms:     newRooms(),
		calls:     newCalls(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.WS.CheckOrigin,
	}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s, nil
}

func (s *Server) Sessions() *Sessions { return s.sessions }
func (s *Server) Rooms() *Rooms       { return s.rooms }
func (s *Server) Calls() *Calls       { return s.calls }

func (s *Server) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StoreTimeout)
}

// notify 入队失败只记日志
func (s *Server) notify(n *model.Notification) {
	if s.notifier == nil || n == nil {
		return
	}
	if !s.notifier.Enqueue(n) {
		s.log.Error("notification dropped", zap.String("id", n.ID),
			zap.String("recipient", n.RecipientID), zap.String("type", string(n.Type)))
	}
}

// attach 连接完成鉴权后登记
func (s *Server) attach(c *Conn) {
	s.wg.Add(1)
	s.metrics.connOpened()
	s.sessions.Register(c)
}

// detach 断线清理：房间、通话、在线目录。可重复调用
func (s *Server) detach(c *Conn) {
	c.Close()
	removed, _ := s.sessions.remove(c)
	if !removed {
		return
	}
	defer s.wg.Done()
	s.metrics.connClosed()
	s.rooms.LeaveAll(c)
	s.endOnDisconnect(c)
}

// Shutdown 关闭所有连接并等待清理结束
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.sessions.all() {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

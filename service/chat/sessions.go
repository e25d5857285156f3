package chat

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"CareLink/module/chat/model"

	"go.uber.org/zap"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceMirror 把在线状态同步给其他服务（Redis）。本地目录是权威状态
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

type session struct {
	profile *model.Profile
	conns   map[string]*Conn // connID -> conn
}

// Session Lookup 返回的快照
type Session struct {
	UserID  string
	Profile *model.Profile
	Status  string
	Conns   []*Conn
}

const presenceStripes = 64

// Sessions 在线目录：user -> 连接集合。
// 同一用户的多条连接共享一个条目，首条连接上线、最后一条断开才广播状态变化
type Sessions struct {
	mu     sync.RWMutex
	byUser map[string]*session
	byConn map[string]*Conn

	// 同一用户的上下线广播和镜像按状态变化的顺序执行。
	// 在持有 mu 时加锁，锁顺序固定为 mu -> presence
	presence [presenceStripes]sync.Mutex

	emit    *emitter
	mirror  PresenceMirror
	timeout time.Duration
	log     *zap.Logger
	metrics *Metrics
}

func newSessions(emit *emitter, mirror PresenceMirror, timeout time.Duration, log *zap.Logger, metrics *Metrics) *Sessions {
	return &Sessions{
		byUser:  make(map[string]*session),
		byConn:  make(map[string]*Conn),
		emit:    emit,
		mirror:  mirror,
		timeout: timeout,
		log:     log,
		metrics: metrics,
	}
}

// Register 登记连接，返回是否为该用户的首条连接
func (s *Sessions) Register(c *Conn) bool {
	s.mu.Lock()
	if _, dup := s.byConn[c.id]; dup {
		s.mu.Unlock()
		return false
	}
	sess, ok := s.byUser[c.userID]
	first := !ok
	if first {
		sess = &session{conns: make(map[string]*Conn)}
		s.byUser[c.userID] = sess
	}
	sess.profile = c.profile
	sess.conns[c.id] = c
	s.byConn[c.id] = c

	var others []*Conn
	var pl *sync.Mutex
	if first {
		others = s.connsExceptLocked(c.userID)
		pl = s.presenceLock(c.userID)
		pl.Lock()
	}
	online := len(s.byUser)
	s.mu.Unlock()

	s.metrics.setOnline(online)
	if first {
		s.emit.emit(others, EventUserOnline, presencePayload{UserID: c.userID, User: c.profile})
		s.mirrorStatus(c.userID, StatusOnline)
		pl.Unlock()
	}
	return first
}

// Unregister 移除连接，返回是否为该用户的最后一条连接。重复调用返回 false
func (s *Sessions) Unregister(c *Conn) bool {
	_, last := s.remove(c)
	return last
}

func (s *Sessions) remove(c *Conn) (removed, last bool) {
	s.mu.Lock()
	sess, ok := s.byUser[c.userID]
	if !ok {
		s.mu.Unlock()
		return false, false
	}
	if _, ok := sess.conns[c.id]; !ok {
		s.mu.Unlock()
		return false, false
	}
	delete(sess.conns, c.id)
	delete(s.byConn, c.id)

	last = len(sess.conns) == 0
	var others []*Conn
	var pl *sync.Mutex
	if last {
		delete(s.byUser, c.userID)
		others = s.connsExceptLocked(c.userID)
		pl = s.presenceLock(c.userID)
		pl.Lock()
	}
	online := len(s.byUser)
	s.mu.Unlock()

	s.metrics.setOnline(online)
	if last {
		s.emit.emit(others, EventUserOffline, presencePayload{UserID: c.userID, User: c.profile})
		s.mirrorStatus(c.userID, StatusOffline)
		pl.Unlock()
	}
	return true, last
}

func (s *Sessions) presenceLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.presence[h.Sum32()%presenceStripes]
}

func (s *Sessions) connsExceptLocked(userID string) []*Conn {
	out := make([]*Conn, 0, len(s.byConn))
	for _, c := range s.byConn {
		if c.userID != userID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Sessions) mirrorStatus(userID, status string) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	if status == StatusOnline {
		err = s.mirror.Online(ctx, userID)
	} else {
		err = s.mirror.Offline(ctx, userID)
	}
	if err != nil {
		s.log.Warn("presence mirror failed", zap.String("user", userID), zap.String("status", status), zap.Error(err))
	}
}

func (s *Sessions) Lookup(userID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byUser[userID]
	if !ok {
		return Session{UserID: userID, Status: StatusOffline}, false
	}
	out := Session{
		UserID:  userID,
		Profile: sess.profile,
		Status:  StatusOnline,
		Conns:   make([]*Conn, 0, len(sess.conns)),
	}
	for _, c := range sess.conns {
		out.Conns = append(out.Conns, c)
	}
	return out, true
}

func (s *Sessions) Online(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUser[userID]
	return ok
}

// Count 在线用户数
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

func (s *Sessions) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}

// Conns 用户的全部连接
func (s *Sessions) Conns(userID string) []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(sess.conns))
	for _, c := range sess.conns {
		out = append(out, c)
	}
	return out
}

// SendToUser 投递到用户的每条连接，返回成功入队的条数
func (s *Sessions) SendToUser(userID, event string, data any) int {
	return s.emit.emit(s.Conns(userID), event, data)
}

// OnlineUsers 排序后的在线用户，供 presence 定时续期
func (s *Sessions) OnlineUsers() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.byUser))
	for uid := range s.byUser {
		out = append(out, uid)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Sessions) all() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.byConn))
	for _, c := range s.byConn {
		out = append(out, c)
	}
	return out
}

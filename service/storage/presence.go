// Package storage 把网关内的在线状态镜像到 Redis，供其他服务查询和订阅。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"CareLink/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey    = "carelink:online"
	PresenceChannel = "carelink:presence"
)

// presence key: carelink:presence:<user>，value 为网关节点，TTL 控制有效期
func presenceKey(user string) string { return "carelink:presence:" + user }

type PresenceEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // online | offline
	Node   string `json:"node"`
	At     int64  `json:"at"` // unix ms
}

// Presence 写 Redis 的在线镜像。本地 Session Directory 才是权威状态
type Presence struct {
	rdb  redis.Cmdable
	node string
	ttl  time.Duration
	now  func() time.Time
}

func NewPresence(rdb redis.Cmdable, node string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{rdb: rdb, node: node, ttl: ttl, now: time.Now}
}

func (p *Presence) TTL() time.Duration { return p.ttl }

func (p *Presence) event(user, status string) ([]byte, error) {
	return json.Marshal(PresenceEvent{UserID: user, Status: status, Node: p.node, At: p.now().UnixMilli()})
}

// Online 设置在线、加入在线集合并广播
func (p *Presence) Online(ctx context.Context, user string) error {
	payload, err := p.event(user, "online")
	if err != nil {
		return err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(user), p.node, p.ttl)
		pipe.SAdd(ctx, onlineSetKey, user)
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	return errs.WrapMsg(err, "presence online", "user", user)
}

// Offline 删除在线键并广播
func (p *Presence) Offline(ctx context.Context, user string) error {
	payload, err := p.event(user, "offline")
	if err != nil {
		return err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(user))
		pipe.SRem(ctx, onlineSetKey, user)
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	return errs.WrapMsg(err, "presence offline", "user", user)
}

// Refresh 续期本节点所有在线用户
func (p *Presence) Refresh(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Set(ctx, presenceKey(u), p.node, p.ttl)
		}
		return nil
	})
	return errs.WrapMsg(err, "presence refresh", "users", len(users))
}

// Lookup 查询用户是否在线以及所在节点
func (p *Presence) Lookup(ctx context.Context, user string) (node string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "presence lookup", "user", user)
	}
	return val, true, nil
}

// Run 按 TTL 的三分之一周期续期，直到 ctx 取消
func (p *Presence) Run(ctx context.Context, users func() []string, onErr func(error)) {
	t := time.NewTicker(p.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Refresh(ctx, users()); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

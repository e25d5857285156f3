// Package registry 把网关节点登记到服务发现，并按依赖健康状况上报 TTL 心跳。
package registry

import (
	"context"
	"time"
)

type Instance struct {
	Service  string
	ID       string
	Address  string
	Port     int
	Metadata map[string]string // nodeId/version/...
}

type RegisterOptions struct {
	TTL             time.Duration // 心跳窗口，上报间隔要小于它
	DeregisterAfter time.Duration // 持续 critical 多久后摘除
}

// TTL 上报状态
const (
	StatusPass = "pass"
	StatusFail = "fail"
)

type Registry interface {
	Register(ctx context.Context, inst Instance, opt RegisterOptions) error
	Deregister(ctx context.Context, id string) error
	UpdateTTL(checkID, note, status string) error
}

// CheckID 服务自带 TTL 检查的 id
func CheckID(serviceID string) string { return "service:" + serviceID }

// Keepalive 每 every 上报一次心跳，直到 ctx 取消。
// probe 为 nil 时一直上报 pass
func Keepalive(ctx context.Context, r Registry, serviceID string, every time.Duration,
	probe func() (healthy bool, note string), onErr func(error)) {
	beat := func() {
		status, note := StatusPass, "ok"
		if probe != nil {
			healthy, n := probe()
			note = n
			if !healthy {
				status = StatusFail
			}
		}
		if err := r.UpdateTTL(CheckID(serviceID), note, status); err != nil && onErr != nil {
			onErr(err)
		}
	}

	beat()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			beat()
		}
	}
}

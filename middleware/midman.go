package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

type namedCheck struct {
	name string
	h    gin.HandlerFunc
}

// MiddlewareManager 按名字管理前置检查，运行时可以替换或摘除。
// 检查只做判断或 Abort，不要调用 c.Next
type MiddlewareManager struct {
	mu     sync.RWMutex
	checks []namedCheck
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Set 同名检查原位替换，否则追加到末尾
func (m *MiddlewareManager) Set(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 写时复制，Use 手里的快照不受影响
	next := make([]namedCheck, len(m.checks), len(m.checks)+1)
	copy(next, m.checks)
	for i := range next {
		if next[i].name == name {
			next[i].h = h
			m.checks = next
			return
		}
	}
	m.checks = append(next, namedCheck{name: name, h: h})
}

func (m *MiddlewareManager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.checks {
		if m.checks[i].name == name {
			m.checks = append(m.checks[:i:i], m.checks[i+1:]...)
			return true
		}
	}
	return false
}

// Names 按执行顺序
func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.checks))
	for i, c := range m.checks {
		out[i] = c.name
	}
	return out
}

// Use 挂到 Engine 上的总入口，每个请求取一份快照依次执行
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		checks := m.checks
		m.mu.RUnlock()

		for _, chk := range checks {
			chk.h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

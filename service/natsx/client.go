// Package natsx 通知总线的 NATS 发布端：按业务名路由到 subject，可选走 JetStream 去重。
package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Mode int

const (
	Core      Mode = iota // 无持久化，订阅方不在线就丢
	JetStream             // 持久化，Nats-Msg-Id 去重
)

func (m Mode) String() string {
	if m == JetStream {
		return "jetstream"
	}
	return "core"
}

// Route 业务名 -> subject
type Route struct {
	Biz     string
	Subject string
	Mode    Mode
}

type Config struct {
	Servers         []string
	Name            string
	User            string
	Pass            string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
	Logger          *zap.Logger
}

func (cfg *Config) setDefaults() error {
	if len(cfg.Servers) == 0 {
		return errors.New("nats servers missing")
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax <= 0 {
		cfg.PublishAsyncMax = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return nil
}

func (cfg *Config) options() []nats.Option {
	log := cfg.Logger
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1), // 网关常驻，断线一直重连
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Pass))
	}
	return opts
}

type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]Route
}

func Connect(cfg Config) (*Client, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{cfg: cfg, nc: nc, routes: make(map[string]Route)}, nil
}

// Close 先 Drain，已经发出的消息会被刷完
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func (c *Client) Connected() bool { return c.nc != nil && c.nc.IsConnected() }

func (c *Client) ensureJS() error {
	if c.js != nil {
		return nil
	}
	if c.nc == nil {
		return errors.New("nats not connected")
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// RegisterRoute JetStream 路由需要已连接的客户端
func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("route needs biz and subject")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Mode == JetStream {
		if err := c.ensureJS(); err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
	}
	c.routes[r.Biz] = r
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

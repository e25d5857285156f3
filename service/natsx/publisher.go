package natsx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	HeaderMsgID = nats.MsgIdHdr // JetStream 按它去重
	HeaderNode  = "X-Gateway-Node"
)

// Publisher 在每条消息上打上发出节点
type Publisher struct {
	c    *Client
	node string
}

func NewPublisher(c *Client, node string) *Publisher { return &Publisher{c: c, node: node} }

func (p *Publisher) msg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = data
	for k, v := range hdr {
		m.Header.Set(k, v)
	}
	if p.node != "" {
		m.Header.Set(HeaderNode, p.node)
	}
	return m
}

// Publish 按业务名路由发送
func (p *Publisher) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("nats route not found: %s", biz)
	}
	m := p.msg(r.Subject, data, hdr)
	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(m); err != nil {
			return fmt.Errorf("nats publish %s: %w", r.Subject, err)
		}
	case JetStream:
		if _, err := p.c.js.PublishMsg(m, nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", r.Subject, err)
		}
	default:
		return fmt.Errorf("unsupported nats mode %d", r.Mode)
	}
	return nil
}

// PublishOnce 重试时传同一个 msgID，JetStream 窗口内只存一份。msgID 为空时生成 uuid
func (p *Publisher) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	h[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, data, h)
}

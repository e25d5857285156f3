package registry

import (
	"context"

	"CareLink/tools/errs"

	"github.com/hashicorp/consul/api"
)

type ConsulRegistry struct {
	cli *api.Client
}

var _ Registry = (*ConsulRegistry)(nil)

// NewConsul addr 可以带 scheme，例如 http://127.0.0.1:8500
func NewConsul(addr string) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "consul client", "addr", addr)
	}
	return &ConsulRegistry{cli: cli}, nil
}

// Register 用 TTL 检查登记，网关主动上报心跳，不需要 consul 回访
func (r *ConsulRegistry) Register(_ context.Context, inst Instance, opt RegisterOptions) error {
	check := &api.AgentServiceCheck{
		CheckID: CheckID(inst.ID),
		TTL:     opt.TTL.String(),
	}
	if opt.DeregisterAfter > 0 {
		check.DeregisterCriticalServiceAfter = opt.DeregisterAfter.String()
	}
	reg := &api.AgentServiceRegistration{
		Name:    inst.Service,
		ID:      inst.ID,
		Address: inst.Address,
		Port:    inst.Port,
		Meta:    inst.Metadata,
		Check:   check,
	}
	if err := r.cli.Agent().ServiceRegister(reg); err != nil {
		return errs.WrapMsg(err, "consul register", "id", inst.ID)
	}
	return nil
}

func (r *ConsulRegistry) Deregister(_ context.Context, id string) error {
	if err := r.cli.Agent().ServiceDeregister(id); err != nil {
		return errs.WrapMsg(err, "consul deregister", "id", id)
	}
	return nil
}

// UpdateTTL status: pass | warn | fail
func (r *ConsulRegistry) UpdateTTL(checkID, note, status string) error {
	return r.cli.Agent().UpdateTTL(checkID, note, status)
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type agentCall struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeAgent 记录 consul agent 收到的请求
type fakeAgent struct {
	mu    sync.Mutex
	calls []agentCall
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.calls = append(f.calls, agentCall{Method: r.Method, Path: r.URL.Path, Body: body})
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeAgent) snapshot() []agentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentCall(nil), f.calls...)
}

func newConsul(t *testing.T) (*ConsulRegistry, *fakeAgent) {
	t.Helper()
	agent := &fakeAgent{}
	ts := httptest.NewServer(agent)
	t.Cleanup(ts.Close)
	r, err := NewConsul(ts.URL)
	if err != nil {
		t.Fatalf("NewConsul: %v", err)
	}
	return r, agent
}

func TestConsulRegisterAndDeregister(t *testing.T) {
	r, agent := newConsul(t)
	inst := Instance{Service: "carelink-gateway", ID: "gw-1", Address: "10.0.0.5", Port: 8080, Metadata: map[string]string{"nodeId": "1"}}
	if err := r.Register(context.Background(), inst, RegisterOptions{TTL: 15 * time.Second, DeregisterAfter: time.Minute}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.UpdateTTL(CheckID("gw-1"), "ok", StatusPass); err != nil {
		t.Fatalf("UpdateTTL: %v", err)
	}
	if err := r.Deregister(context.Background(), "gw-1"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	calls := agent.snapshot()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	reg := calls[0]
	if reg.Method != http.MethodPut || reg.Path != "/v1/agent/service/register" {
		t.Fatalf("register call = %s %s", reg.Method, reg.Path)
	}
	if reg.Body["Name"] != "carelink-gateway" || reg.Body["ID"] != "gw-1" || reg.Body["Port"] != float64(8080) {
		t.Fatalf("register body = %v", reg.Body)
	}
	check, _ := reg.Body["Check"].(map[string]any)
	if check["TTL"] != "15s" || check["CheckID"] != "service:gw-1" || check["DeregisterCriticalServiceAfter"] != "1m0s" {
		t.Fatalf("check = %v", check)
	}

	if calls[1].Path != "/v1/agent/check/update/service:gw-1" || calls[1].Body["Status"] != "passing" {
		t.Fatalf("ttl call = %+v", calls[1])
	}
	if calls[2].Path != "/v1/agent/service/deregister/gw-1" {
		t.Fatalf("deregister call = %+v", calls[2])
	}
}

type ttlRecorder struct {
	mu       sync.Mutex
	statuses []string
	notes    []string
	err      error
}

func (r *ttlRecorder) Register(context.Context, Instance, RegisterOptions) error { return nil }
func (r *ttlRecorder) Deregister(context.Context, string) error                  { return nil }
func (r *ttlRecorder) UpdateTTL(checkID, note, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if checkID != "service:gw-1" {
		return errors.New("unexpected check " + checkID)
	}
	r.statuses = append(r.statuses, status)
	r.notes = append(r.notes, note)
	return r.err
}

func (r *ttlRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func TestKeepaliveFollowsProbe(t *testing.T) {
	rec := &ttlRecorder{}
	var mu sync.Mutex
	healthy := true
	probe := func() (bool, string) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return true, "ok"
		}
		return false, "store unhealthy"
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Keepalive(ctx, rec, "gw-1", 5*time.Millisecond, probe, nil)
		close(done)
	}()

	waitFor := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for rec.count() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	waitFor(2)
	mu.Lock()
	healthy = false
	mu.Unlock()
	n := rec.count()
	waitFor(n + 2)
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.statuses[0] != StatusPass || rec.notes[0] != "ok" {
		t.Fatalf("first beat = %s %s", rec.statuses[0], rec.notes[0])
	}
	last := len(rec.statuses) - 1
	if rec.statuses[last] != StatusFail || rec.notes[last] != "store unhealthy" {
		t.Fatalf("last beat = %s %s", rec.statuses[last], rec.notes[last])
	}
}

func TestKeepaliveReportsErrors(t *testing.T) {
	rec := &ttlRecorder{err: errors.New("agent down")}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go Keepalive(ctx, rec, "gw-1", time.Hour, nil, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	defer cancel()

	select {
	case err := <-errCh:
		if err.Error() != "agent down" {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first beat should run immediately")
	}
}

package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/tools/security"

	"go.uber.org/zap/zaptest"
)

var testSecret = []byte("carelink-test-secret")

type recordingNotifier struct {
	mu    sync.Mutex
	items []*model.Notification
	full  bool
}

func (r *recordingNotifier) Enqueue(n *model.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.items = append(r.items, n)
	return true
}

func (r *recordingNotifier) byType(tp model.NotificationType) []*model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for _, n := range r.items {
		if n.Type == tp {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	t     *testing.T
	srv   *Server
	mem   *store.Memory
	notes *recordingNotifier
}

func seedMemory() *store.Memory {
	mem := store.NewMemory()
	mem.PutUser(model.Profile{ID: "doc1", Name: "Dr. Ada", Role: model.RoleDoctor})
	mem.PutUser(model.Profile{ID: "pat1", Name: "Pat Lee", Role: model.RolePatient})
	mem.PutUser(model.Profile{ID: "pat2", Name: "Sam Roe", Role: model.RolePatient})
	mem.PutUser(model.Profile{ID: "doc2", Name: "Dr. Kim", Role: model.RoleDoctor})
	mem.PutAppointment(model.Appointment{ID: "ap1", PatientID: "pat1", DoctorID: "doc1", Time: time.Now().Add(time.Hour), Status: "scheduled"})
	return mem
}

// newHarness st 为 nil 时用预置数据的内存库
func newHarness(t *testing.T, st store.Store, mutate ...func(*Options)) *harness {
	t.Helper()
	mem := seedMemory()
	if st == nil {
		st = mem
	}
	notes := &recordingNotifier{}
	opts := Options{
		Store:        st,
		JWT:          security.DefaultOptions(testSecret),
		Notifier:     notes,
		Logger:       zaptest.NewLogger(t),
		WS:           WSOptions{SendQueue: 64},
		StoreTimeout: time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &harness{t: t, srv: srv, mem: mem, notes: notes}
}

// connect 不经过 websocket，直接登记一条连接
func (h *harness) connect(userID string) *Conn {
	h.t.Helper()
	p, err := h.srv.store.GetUser(context.Background(), userID)
	if err != nil {
		h.t.Fatalf("GetUser(%s): %v", userID, err)
	}
	c := newConn(nil, p, h.srv.opts.WS.SendQueue)
	h.srv.attach(c)
	return c
}

func (h *harness) send(c *Conn, event string, data any) {
	h.t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	h.srv.handleFrame(c, raw)
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode %s: %v", r.Event, err)
	}
}

// drain 取出连接队列里已有的全部帧
func drain(t *testing.T, c *Conn) []received {
	t.Helper()
	var out []received
	for {
		select {
		case b := <-c.send:
			var r received
			if err := json.Unmarshal(b, &r); err != nil {
				t.Fatalf("bad outbound frame %s: %v", b, err)
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

func eventsOf(frames []received) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func pick(frames []received, event string) []received {
	var out []received
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func expectOne(t *testing.T, frames []received, event string) received {
	t.Helper()
	got := pick(frames, event)
	if len(got) != 1 {
		t.Fatalf("want exactly one %q, got %d in %v", event, len(got), eventsOf(frames))
	}
	return got[0]
}

func expectNone(t *testing.T, frames []received, event string) {
	t.Helper()
	if got := pick(frames, event); len(got) != 0 {
		t.Fatalf("want no %q, got %d in %v", event, len(got), eventsOf(frames))
	}
}

func errorMessage(t *testing.T, frames []received) string {
	t.Helper()
	var p errorPayload
	expectOne(t, frames, EventError).decode(t, &p)
	return p.Message
}

func mustProfile(id string) *model.Profile { return &model.Profile{ID: id, Name: id} }

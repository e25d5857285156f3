package chat

import (
	"sync"
	"time"

	"CareLink/tools/errs"
)

type CallStatus string

const (
	CallCalling  CallStatus = "calling"
	CallAccepted CallStatus = "accepted"
)

// Call 一次一对一通话。主叫和被叫两个索引指向同一个描述符
type Call struct {
	AppointmentID string
	CallerID      string
	CalleeID      string
	Status        CallStatus
	CallerConnID  string
	CalleeConnID  string // accept 时记录
	CreatedAt     time.Time
	AcceptedAt    time.Time
}

// Counterpart 另一方；userID 不在通话中时返回空
func (c Call) Counterpart(userID string) string {
	switch userID {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return ""
}

// Calls 通话登记表，每个用户最多挂一个描述符。
// 所有检查加修改都在同一个临界区里完成
type Calls struct {
	mu     sync.Mutex
	byUser map[string]*Call
	now    func() time.Time
}

func newCalls() *Calls {
	return &Calls{byUser: make(map[string]*Call), now: time.Now}
}

// Begin 任一方已有通话返回 ErrRecipientBusy，先到先得
func (r *Calls) Begin(call Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byUser[call.CallerID]; busy {
		return Call{}, errs.ErrRecipientBusy.WrapMsg("caller already in a call", "user", call.CallerID)
	}
	if _, busy := r.byUser[call.CalleeID]; busy {
		return Call{}, errs.ErrRecipientBusy.WrapMsg("callee already in a call", "user", call.CalleeID)
	}
	call.Status = CallCalling
	call.CalleeConnID = ""
	call.CreatedAt = r.now()
	call.AcceptedAt = time.Time{}

	d := &call
	r.byUser[call.CallerID] = d
	r.byUser[call.CalleeID] = d
	return call, nil
}

// Accept 只有主叫名下存在、且被叫是 calleeID、且仍在振铃的通话才能接通
func (r *Calls) Accept(callerID, calleeID, calleeConnID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byUser[callerID]
	if !ok || d.CallerID != callerID || d.CalleeID != calleeID || d.Status != CallCalling {
		return Call{}, false
	}
	if r.byUser[calleeID] != d {
		return Call{}, false
	}
	d.Status = CallAccepted
	d.CalleeConnID = calleeConnID
	d.AcceptedAt = r.now()
	return *d, true
}

// Decline 删除 declinerID 和 callerID 名下的通话，每条都连同另一方的索引一起删，
// 不会留下半条描述符。幂等，返回被删掉的通话
func (r *Calls) Decline(declinerID, callerID string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []Call
	for _, id := range []string{declinerID, callerID} {
		if id == "" {
			continue
		}
		if d, ok := r.byUser[id]; ok {
			r.dropLocked(d)
			dropped = append(dropped, *d)
		}
	}
	return dropped
}

func (r *Calls) Get(userID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byUser[userID]
	if !ok {
		return Call{}, false
	}
	return *d, true
}

// EndFor 取出 userID 所在通话并删除双方索引
func (r *Calls) EndFor(userID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byUser[userID]
	if !ok {
		return Call{}, false
	}
	r.dropLocked(d)
	return *d, true
}

// EndOnDisconnect 连接断开时结束通话：断开的正是通话绑定的那条连接，
// 或者该用户已经没有其他连接
func (r *Calls) EndOnDisconnect(userID, connID string, remaining int) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byUser[userID]
	if !ok {
		return Call{}, false
	}
	bound := (userID == d.CallerID && d.CallerConnID == connID) ||
		(userID == d.CalleeID && d.CalleeConnID == connID)
	if !bound && remaining > 0 {
		return Call{}, false
	}
	r.dropLocked(d)
	return *d, true
}

// 只删除仍指向 d 的索引
func (r *Calls) dropLocked(d *Call) {
	for _, id := range []string{d.CallerID, d.CalleeID} {
		if r.byUser[id] == d {
			delete(r.byUser, id)
		}
	}
}

// Count 进行中的通话数
func (r *Calls) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[*Call]struct{}, len(r.byUser))
	for _, d := range r.byUser {
		seen[d] = struct{}{}
	}
	return len(seen)
}

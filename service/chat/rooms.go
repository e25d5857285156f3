package chat

import "sync"

func conversationRoom(id string) string { return "conversation:" + id }
func appointmentRoom(id string) string  { return "appointment:" + id }

// Rooms room id -> 连接集合，另外按连接反查，断线时一次退出全部房间
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Conn
	byConn map[string]map[string]struct{}
}

func newRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[string]*Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(room string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[c.id] = c

	joined := r.byConn[c.id]
	if joined == nil {
		joined = make(map[string]struct{})
		r.byConn[c.id] = joined
	}
	joined[room] = struct{}{}
}

func (r *Rooms) Leave(room string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, c.id)
}

func (r *Rooms) leaveLocked(room, connID string) bool {
	members := r.rooms[room]
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined := r.byConn[connID]; joined != nil {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// LeaveAll 退出连接所在的全部房间，返回房间列表
func (r *Rooms) LeaveAll(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := r.byConn[c.id]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	for _, room := range out {
		r.leaveLocked(room, c.id)
	}
	return out
}

// Members 房间成员快照，exclude 非空时排除该连接
func (r *Rooms) Members(room string, exclude *Conn) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for id, c := range members {
		if exclude != nil && id == exclude.id {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Rooms) Has(room string, c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c.id]
	return ok
}

func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Count 非空房间数
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

package presence

import (
	"container/list"
	"iter"
	"slices"
	"sync"
)

// roomMembers is the ordered member set of one room. Its mutex is the room
// lock: every membership change and every broadcast snapshot for the room
// happens while it is held. A closed room rejects joins for good; room ids
// are never reused by storage.
type roomMembers struct {
	mu     sync.Mutex
	order  *list.List
	byConn map[ConnectionID]*list.Element
	closed bool
}

func newRoomMembers() *roomMembers {
	return &roomMembers{order: list.New(), byConn: make(map[ConnectionID]*list.Element)}
}

func (m *roomMembers) join(conn ConnectionID) bool {
	if _, ok := m.byConn[conn]; ok {
		return false
	}
	m.byConn[conn] = m.order.PushBack(conn)
	return true
}

func (m *roomMembers) leave(conn ConnectionID) bool {
	el, ok := m.byConn[conn]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.byConn, conn)
	return true
}

func (m *roomMembers) contains(conn ConnectionID) bool {
	_, ok := m.byConn[conn]
	return ok
}

func (m *roomMembers) list() []ConnectionID {
	out := make([]ConnectionID, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(ConnectionID))
	}
	return out
}

// Index maps rooms to the connections currently joined, in join order.
type Index struct {
	mu    sync.RWMutex
	rooms map[RoomID]*roomMembers
}

func NewIndex() *Index {
	return &Index{rooms: make(map[RoomID]*roomMembers)}
}

// room returns the member set for id, creating it on first use. Entries are
// never removed, even for deleted rooms, so a *roomMembers obtained here stays
// the room's lock.
func (x *Index) room(id RoomID) *roomMembers {
	x.mu.RLock()
	m, ok := x.rooms[id]
	x.mu.RUnlock()
	if ok {
		return m
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if m, ok = x.rooms[id]; !ok {
		m = newRoomMembers()
		x.rooms[id] = m
	}
	return m
}

func (x *Index) lookup(id RoomID) (*roomMembers, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	m, ok := x.rooms[id]
	return m, ok
}

// Join adds conn to room and returns the members in join order. Joining
// twice leaves the original position untouched.
func (x *Index) Join(room RoomID, conn ConnectionID) []ConnectionID {
	m := x.room(room)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.join(conn)
	return m.list()
}

// Leave removes conn from room. Absent pairs are ignored.
func (x *Index) Leave(room RoomID, conn ConnectionID) {
	m, ok := x.lookup(room)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leave(conn)
}

// Contains reports whether conn is currently joined to room.
func (x *Index) Contains(room RoomID, conn ConnectionID) bool {
	m, ok := x.lookup(room)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contains(conn)
}

// MembersOf returns the members of room as of the call. The sequence may be
// ranged over any number of times and always yields that same snapshot.
func (x *Index) MembersOf(room RoomID) iter.Seq[ConnectionID] {
	var members []ConnectionID
	if m, ok := x.lookup(room); ok {
		m.mu.Lock()
		members = m.list()
		m.mu.Unlock()
	}
	return slices.Values(members)
}

// Rooms lists every room with at least one member.
func (x *Index) Rooms() []RoomID {
	x.mu.RLock()
	all := make(map[RoomID]*roomMembers, len(x.rooms))
	for id, m := range x.rooms {
		all[id] = m
	}
	x.mu.RUnlock()

	out := make([]RoomID, 0, len(all))
	for id, m := range all {
		m.mu.Lock()
		if m.order.Len() > 0 {
			out = append(out, id)
		}
		m.mu.Unlock()
	}
	slices.Sort(out)
	return out
}

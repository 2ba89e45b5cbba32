package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Session is a point-in-time copy of a registered connection's state.
type Session struct {
	ConnectionID ConnectionID
	Identity     Identity
	Rooms        []RoomID
}

// session is the live, lock-protected record behind a Session.
type session struct {
	conn   ConnectionID
	who    Identity
	mu     sync.Mutex
	rooms  map[RoomID]struct{}
	closed bool
}

func (s *session) addRoom(room RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrNotFound
	}
	if _, ok := s.rooms[room]; ok {
		return false, nil
	}
	s.rooms[room] = struct{}{}
	return true, nil
}

func (s *session) dropRoom(room RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

func (s *session) inRoom(room RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	_, ok := s.rooms[room]
	return ok
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close marks the session dead and returns the rooms it still holds.
func (s *session) close() []RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return sortedRooms(s.rooms)
}

func (s *session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{ConnectionID: s.conn, Identity: s.who, Rooms: sortedRooms(s.rooms)}
}

func sortedRooms(rooms map[RoomID]struct{}) []RoomID {
	out := lo.Keys(rooms)
	slices.Sort(out)
	return out
}

// Registry maps connection identifiers to authenticated sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[ConnectionID]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ConnectionID]*session)}
}

// Register creates an empty session for conn.
func (r *Registry) Register(conn ConnectionID, who Identity) (Session, error) {
	s, err := r.register(conn, who)
	if err != nil {
		return Session{}, err
	}
	return s.snapshot(), nil
}

func (r *Registry) register(conn ConnectionID, who Identity) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[conn]; ok {
		return nil, ErrDuplicateConnection
	}
	s := &session{conn: conn, who: who, rooms: make(map[RoomID]struct{})}
	r.sessions[conn] = s
	return s, nil
}

// Lookup returns a snapshot of the session registered for conn.
func (r *Registry) Lookup(conn ConnectionID) (Session, error) {
	s, ok := r.get(conn)
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.snapshot(), nil
}

func (r *Registry) get(conn ConnectionID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	return s, ok
}

// Unregister removes the session for conn and returns the rooms it had
// joined. The removal and the snapshot happen atomically.
func (r *Registry) Unregister(conn ConnectionID) ([]RoomID, error) {
	_, rooms, err := r.remove(conn)
	return rooms, err
}

func (r *Registry) remove(conn ConnectionID) (*session, []RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conn]
	if !ok {
		return nil, nil, ErrNotFound
	}
	delete(r.sessions, conn)
	return s, s.close(), nil
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

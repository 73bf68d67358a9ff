package runtime

import (
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/errors"
	"sync"

	"github.com/samber/lo"
)

var _ contract.IRegistry = (*Registry)(nil)

type connection struct {
	sink contract.EventSink
	room domain.RoomID // empty when not joined
}

// roomMembers keeps connections in join order, which is also the order the
// member list is reported in.
type roomMembers struct {
	order     []domain.ConnectionID
	usernames map[domain.ConnectionID]string
}

// Registry is the authority on who is online where. It maps connections to
// their sink and rooms to their members. A connection belongs to at most one
// room at a time.
type Registry struct {
	mu          sync.RWMutex
	connections map[domain.ConnectionID]*connection
	rooms       map[domain.RoomID]*roomMembers
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[domain.ConnectionID]*connection),
		rooms:       make(map[domain.RoomID]*roomMembers),
	}
}

// Connect registers the sink of a new connection.
func (r *Registry) Connect(connectionID domain.ConnectionID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[connectionID] = &connection{sink: sink}
}

// Disconnect forgets a connection. Any membership still recorded is dropped
// as well and the room it was in is returned.
func (r *Registry) Disconnect(connectionID domain.ConnectionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return "", false
	}
	delete(r.connections, connectionID)
	if conn.room == "" {
		return "", false
	}
	r.removeMember(conn.room, connectionID)
	return conn.room, true
}

// Join records the connection as a member of the room. Joining the room the
// connection is already in only refreshes the username and returns false.
func (r *Registry) Join(roomID domain.RoomID, connectionID domain.ConnectionID, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return false, errors.ErrUnknownConnection
	}
	if conn.room != "" && conn.room != roomID {
		return false, errors.ErrAlreadyInRoom
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = &roomMembers{usernames: make(map[domain.ConnectionID]string)}
		r.rooms[roomID] = members
	}
	_, already := members.usernames[connectionID]
	members.usernames[connectionID] = username
	if already {
		return false, nil
	}
	members.order = append(members.order, connectionID)
	conn.room = roomID
	return true, nil
}

// Leave removes the membership. It returns false if there was none.
func (r *Registry) Leave(roomID domain.RoomID, connectionID domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if ok && conn.room == roomID {
		conn.room = ""
	}
	return r.removeMember(roomID, connectionID)
}

// removeMember must be called with the write lock held. An emptied room is
// dropped so that idle rooms do not accumulate.
func (r *Registry) removeMember(roomID domain.RoomID, connectionID domain.ConnectionID) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok = members.usernames[connectionID]; !ok {
		return false
	}
	delete(members.usernames, connectionID)
	members.order = lo.Without(members.order, connectionID)
	if len(members.order) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

func (r *Registry) IsMember(roomID domain.RoomID, connectionID domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = members.usernames[connectionID]
	return ok
}

// RoomOf returns the room the connection is currently in.
func (r *Registry) RoomOf(connectionID domain.ConnectionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	if !ok || conn.room == "" {
		return "", false
	}
	return conn.room, true
}

// MembersOf derives the online usernames of a room from the current
// memberships. A username connected several times appears once, at the
// position of its first join.
func (r *Registry) MembersOf(roomID domain.RoomID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	usernames := lo.Map(members.order, func(id domain.ConnectionID, _ int) string {
		return members.usernames[id]
	})
	return lo.Uniq(lo.Compact(usernames))
}

// MemberCount is the number of connections joined to the room.
func (r *Registry) MemberCount(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if members, ok := r.rooms[roomID]; ok {
		return len(members.order)
	}
	return 0
}

// SinksForRoom resolves the sinks of the room members, in join order.
// Returns nil if the room has no members.
func (r *Registry) SinksForRoom(roomID domain.RoomID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for _, id := range members.order {
		if conn, exists := r.connections[id]; exists {
			sinks = append(sinks, conn.sink)
		}
	}
	return sinks
}

func (r *Registry) Sink(connectionID domain.ConnectionID) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return nil, false
	}
	return conn.sink, true
}

// SinksExcept returns the sinks of every connection but one.
func (r *Registry) SinksExcept(connectionID domain.ConnectionID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sinks := make([]contract.EventSink, 0, len(r.connections))
	for id, conn := range r.connections {
		if id != connectionID {
			sinks = append(sinks, conn.sink)
		}
	}
	return sinks
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RoomCount is the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

package relay

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

var (
	ErrUserOffline   = errors.New("user not online")
	ErrGroupNotFound = errors.New("group not found")
)

// StatusOnline is set for every user on login
const StatusOnline = "Online"

// Peer is a routable client session held by the registry
type Peer interface {
	Username() string
	Send(p *protocol.Packet) error
	// ForceDisconnect notifies the client that its session was replaced
	// and closes it
	ForceDisconnect()
}

// Authenticator verifies login credentials. hashedPassword is the
// client-side digest carried in the LOGIN payload.
type Authenticator interface {
	Authenticate(username, hashedPassword string) (bool, error)
}

// MemoryAuthenticator keeps accounts in memory. With AutoRegister the first
// login for a username claims it.
type MemoryAuthenticator struct {
	mu           sync.Mutex
	users        map[string]string
	AutoRegister bool
}

// NewMemoryAuthenticator creates an empty in-memory account table
func NewMemoryAuthenticator(autoRegister bool) *MemoryAuthenticator {
	return &MemoryAuthenticator{users: make(map[string]string), AutoRegister: autoRegister}
}

// Add registers or replaces an account
func (m *MemoryAuthenticator) Add(username, hashedPassword string) {
	m.mu.Lock()
	m.users[username] = hashedPassword
	m.mu.Unlock()
}

func (m *MemoryAuthenticator) Authenticate(username, hashedPassword string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[username]
	if !ok {
		if !m.AutoRegister {
			return false, nil
		}
		m.users[username] = hashedPassword
		return true, nil
	}
	return stored == hashedPassword, nil
}

// memberSet is one group's membership, guarded by its own lock
type memberSet struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func (s *memberSet) add(name string) {
	s.mu.Lock()
	s.members[name] = struct{}{}
	s.mu.Unlock()
}

func (s *memberSet) remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[name]; !ok {
		return false
	}
	delete(s.members, name)
	return true
}

func (s *memberSet) snapshot() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

type lstciKey struct {
	fileID   string
	username string
}

// Registry is the relay directory of online sessions, statuses, groups and
// the last stable chunk index (LSTCI) per (file, receiver). Every table is a
// sync.Map so connection handlers never contend on a global lock.
type Registry struct {
	auth Authenticator

	// presence orders status writes against session removal
	presence sync.Mutex

	clients  sync.Map // username -> Peer
	statuses sync.Map // username -> string
	groups   sync.Map // group -> *memberSet
	lstci    sync.Map // lstciKey -> *atomic.Int64
}

// NewRegistry creates a registry that checks logins with auth
func NewRegistry(auth Authenticator) *Registry {
	if auth == nil {
		auth = NewMemoryAuthenticator(true)
	}
	return &Registry{auth: auth}
}

// Authenticate checks credentials with the configured Authenticator
func (r *Registry) Authenticate(username, hashedPassword string) (bool, error) {
	return r.auth.Authenticate(username, hashedPassword)
}

// AddClient binds username to peer. A different live session under the same
// name is force-disconnected first, so at most one entry per username exists.
func (r *Registry) AddClient(username string, peer Peer) {
	for {
		prev, loaded := r.clients.LoadOrStore(username, peer)
		if !loaded {
			return
		}
		old := prev.(Peer)
		if old == peer {
			return
		}

		old.ForceDisconnect()
		r.clients.CompareAndDelete(username, old)
	}
}

// RemoveClient drops username only while it is still bound to peer. A late
// cleanup from a replaced session leaves the new session in place. Returns
// whether an entry was removed.
func (r *Registry) RemoveClient(username string, peer Peer) bool {
	r.presence.Lock()
	defer r.presence.Unlock()

	if !r.clients.CompareAndDelete(username, peer) {
		return false
	}
	r.statuses.Delete(username)
	return true
}

// Lookup returns the online session for username
func (r *Registry) Lookup(username string) (Peer, bool) {
	v, ok := r.clients.Load(username)
	if !ok {
		return nil, false
	}
	return v.(Peer), true
}

// IsOnline reports whether username has a live session
func (r *Registry) IsOnline(username string) bool {
	_, ok := r.clients.Load(username)
	return ok
}

// Deliver writes p to username's session
func (r *Registry) Deliver(username string, p *protocol.Packet) error {
	peer, ok := r.Lookup(username)
	if !ok {
		return ErrUserOffline
	}
	return peer.Send(p)
}

// Broadcast writes p to every online session
func (r *Registry) Broadcast(p *protocol.Packet) {
	r.clients.Range(func(_, v any) bool {
		v.(Peer).Send(p)
		return true
	})
}

// SetUserStatus records a free-form status string for an online user.
// Offline users are ignored so a late update never outlives its session.
func (r *Registry) SetUserStatus(username, status string) {
	r.presence.Lock()
	defer r.presence.Unlock()

	if _, ok := r.clients.Load(username); !ok {
		return
	}
	r.statuses.Store(username, status)
}

// CreateGroup creates an empty group. Returns false if it already existed.
func (r *Registry) CreateGroup(group string) bool {
	_, loaded := r.groups.LoadOrStore(group, &memberSet{members: make(map[string]struct{})})
	return !loaded
}

// JoinGroup adds username to group, creating the group on demand
func (r *Registry) JoinGroup(group, username string) {
	v, _ := r.groups.LoadOrStore(group, &memberSet{members: make(map[string]struct{})})
	v.(*memberSet).add(username)
}

// LeaveGroup removes username from group. Empty groups are kept.
func (r *Registry) LeaveGroup(group, username string) bool {
	v, ok := r.groups.Load(group)
	if !ok {
		return false
	}
	return v.(*memberSet).remove(username)
}

// HasGroup reports whether group exists
func (r *Registry) HasGroup(group string) bool {
	_, ok := r.groups.Load(group)
	return ok
}

// GroupMembers returns a sorted snapshot of group's members
func (r *Registry) GroupMembers(group string) ([]string, error) {
	v, ok := r.groups.Load(group)
	if !ok {
		return nil, ErrGroupNotFound
	}
	return v.(*memberSet).snapshot(), nil
}

// UpdateLSTCI raises the recorded chunk index for (fileID, username). Lower
// or equal values are ignored so late acks never move progress backwards.
func (r *Registry) UpdateLSTCI(fileID, username string, chunkIndex int) {
	fresh := new(atomic.Int64)
	fresh.Store(protocol.NoProgress)
	v, _ := r.lstci.LoadOrStore(lstciKey{fileID, username}, fresh)
	counter := v.(*atomic.Int64)

	for {
		cur := counter.Load()
		if int64(chunkIndex) <= cur {
			return
		}
		if counter.CompareAndSwap(cur, int64(chunkIndex)) {
			return
		}
	}
}

// GetLSTCI returns the highest acknowledged chunk or NoProgress
func (r *Registry) GetLSTCI(fileID, username string) int {
	v, ok := r.lstci.Load(lstciKey{fileID, username})
	if !ok {
		return protocol.NoProgress
	}
	return int(v.(*atomic.Int64).Load())
}

// GroupResumePoint is the lowest LSTCI across the online members of group,
// excluding the querying sender. Any member without a record forces
// NoProgress, as does a group with nobody else online.
func (r *Registry) GroupResumePoint(fileID, group, exclude string) int {
	members, err := r.GroupMembers(group)
	if err != nil {
		return protocol.NoProgress
	}

	lowest := -1
	counted := false
	for _, name := range members {
		if name == exclude || !r.IsOnline(name) {
			continue
		}
		progress := r.GetLSTCI(fileID, name)
		if progress == protocol.NoProgress {
			return protocol.NoProgress
		}
		if !counted || progress < lowest {
			lowest = progress
			counted = true
		}
	}

	if !counted {
		return protocol.NoProgress
	}
	return lowest
}

// ConnectedUsers returns a sorted snapshot of online usernames
func (r *Registry) ConnectedUsers() []string {
	var names []string
	r.clients.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Groups returns a sorted snapshot of group names
func (r *Registry) Groups() []string {
	var names []string
	r.groups.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// UserStatuses returns a snapshot of username -> status
func (r *Registry) UserStatuses() map[string]string {
	out := make(map[string]string)
	r.statuses.Range(func(k, v any) bool {
		out[k.(string)] = v.(string)
		return true
	})
	return out
}

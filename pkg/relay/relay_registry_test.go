package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// fakePeer records everything sent to it
type fakePeer struct {
	name   string
	mu     sync.Mutex
	sent   []*protocol.Packet
	kicked atomic.Bool
}

func newFakePeer(name string) *fakePeer { return &fakePeer{name: name} }

func (f *fakePeer) Username() string { return f.name }

func (f *fakePeer) Send(p *protocol.Packet) error {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) ForceDisconnect() { f.kicked.Store(true) }

func (f *fakePeer) packets() []*protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Packet(nil), f.sent...)
}

func TestDuplicateLoginForcesDisconnect(t *testing.T) {
	r := NewRegistry(nil)

	first := newFakePeer("alice")
	second := newFakePeer("alice")

	r.AddClient("alice", first)
	r.AddClient("alice", second)

	assert.True(t, first.kicked.Load(), "previous session must be disconnected")
	assert.False(t, second.kicked.Load())

	peer, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, peer)
	assert.Equal(t, []string{"alice"}, r.ConnectedUsers())

	// Late cleanup of the replaced session must not evict the new one
	assert.False(t, r.RemoveClient("alice", first))
	assert.True(t, r.IsOnline("alice"))

	assert.True(t, r.RemoveClient("alice", second))
	assert.False(t, r.IsOnline("alice"))
}

func TestConcurrentLoginsLeaveOneEntry(t *testing.T) {
	r := NewRegistry(nil)

	peers := make([]*fakePeer, 16)
	var wg sync.WaitGroup
	for i := range peers {
		peers[i] = newFakePeer("bob")
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			r.AddClient("bob", p)
		}(peers[i])
	}
	wg.Wait()

	assert.Len(t, r.ConnectedUsers(), 1)

	current, ok := r.Lookup("bob")
	require.True(t, ok)
	live := 0
	for _, p := range peers {
		if !p.kicked.Load() {
			live++
			assert.Same(t, p, current)
		}
	}
	assert.Equal(t, 1, live, "every session but the winner is kicked")
}

func TestStatusDroppedOnDisconnect(t *testing.T) {
	r := NewRegistry(nil)
	p := newFakePeer("carol")

	r.AddClient("carol", p)
	r.SetUserStatus("carol", "Away")
	assert.Equal(t, map[string]string{"carol": "Away"}, r.UserStatuses())

	r.RemoveClient("carol", p)
	assert.Empty(t, r.UserStatuses())
}

func TestStatusIgnoredForOfflineUser(t *testing.T) {
	r := NewRegistry(nil)
	r.SetUserStatus("ghost", "Away")
	assert.Empty(t, r.UserStatuses())
}

func TestReplacedSessionCleanupKeepsNewStatus(t *testing.T) {
	for i := 0; i < 500; i++ {
		r := NewRegistry(nil)
		old := newFakePeer("dave")
		r.AddClient("dave", old)
		r.SetUserStatus("dave", StatusOnline)

		// The old session's cleanup races the replacing login
		fresh := newFakePeer("dave")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RemoveClient("dave", old)
		}()
		go func() {
			defer wg.Done()
			r.AddClient("dave", fresh)
			r.SetUserStatus("dave", StatusOnline)
		}()
		wg.Wait()

		require.True(t, r.IsOnline("dave"))
		require.Equal(t, map[string]string{"dave": StatusOnline}, r.UserStatuses(), "iteration %d", i)
	}
}

func TestGroups(t *testing.T) {
	r := NewRegistry(nil)

	assert.True(t, r.CreateGroup("devs"))
	assert.False(t, r.CreateGroup("devs"))

	// Join creates on demand
	r.JoinGroup("ops", "alice")
	r.JoinGroup("devs", "bob")
	r.JoinGroup("devs", "alice")

	assert.Equal(t, []string{"devs", "ops"}, r.Groups())

	members, err := r.GroupMembers("devs")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	assert.True(t, r.LeaveGroup("ops", "alice"))
	assert.False(t, r.LeaveGroup("ops", "alice"))
	assert.True(t, r.HasGroup("ops"), "empty groups are kept")

	_, err = r.GroupMembers("missing")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestLSTCIMonotonic(t *testing.T) {
	r := NewRegistry(nil)

	assert.Equal(t, protocol.NoProgress, r.GetLSTCI("f", "alice"))

	r.UpdateLSTCI("f", "alice", 3)
	r.UpdateLSTCI("f", "alice", 1)
	assert.Equal(t, 3, r.GetLSTCI("f", "alice"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.UpdateLSTCI("f", "bob", i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 99, r.GetLSTCI("f", "bob"))
}

func TestGroupResumePoint(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"sender", "a", "b", "c"} {
		r.AddClient(name, newFakePeer(name))
		r.JoinGroup("g", name)
	}

	// b has no record yet
	r.UpdateLSTCI("f", "a", 5)
	r.UpdateLSTCI("f", "c", 2)
	assert.Equal(t, protocol.NoProgress, r.GroupResumePoint("f", "g", "sender"))

	r.UpdateLSTCI("f", "b", 7)
	assert.Equal(t, 2, r.GroupResumePoint("f", "g", "sender"))

	// Offline members do not hold the group back
	c, _ := r.Lookup("c")
	r.RemoveClient("c", c)
	assert.Equal(t, 5, r.GroupResumePoint("f", "g", "sender"))

	// The sender's own missing record never counts
	assert.Equal(t, protocol.NoProgress, r.GroupResumePoint("f", "g", "a"))

	assert.Equal(t, protocol.NoProgress, r.GroupResumePoint("f", "unknown", "sender"))
}

func TestMemoryAuthenticator(t *testing.T) {
	auth := NewMemoryAuthenticator(false)
	auth.Add("alice", "h1")

	tests := []struct {
		user, hash string
		want       bool
	}{
		{"alice", "h1", true},
		{"alice", "h2", false},
		{"nobody", "h1", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.user, tt.hash), func(t *testing.T) {
			ok, err := auth.Authenticate(tt.user, tt.hash)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	auto := NewMemoryAuthenticator(true)
	ok, _ := auto.Authenticate("new", "pw")
	assert.True(t, ok)
	ok, _ = auto.Authenticate("new", "other")
	assert.False(t, ok)
}

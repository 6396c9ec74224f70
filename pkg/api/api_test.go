package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/securechat/pkg/protocol"
	"github.com/ZentaChain/securechat/pkg/relay"
)

type stubPeer struct{ name string }

func (p *stubPeer) Username() string            { return p.name }
func (p *stubPeer) Send(*protocol.Packet) error { return nil }
func (p *stubPeer) ForceDisconnect()            {}

type stubRelay struct {
	reg   *relay.Registry
	stats relay.StatsSnapshot
}

func (s *stubRelay) GetStats() relay.StatsSnapshot { return s.stats }
func (s *stubRelay) Registry() *relay.Registry     { return s.reg }

func newTestServer(t *testing.T, cfg *Config) (*Server, *stubRelay) {
	t.Helper()

	reg := relay.NewRegistry(nil)
	for _, name := range []string{"alice", "bob"} {
		reg.AddClient(name, &stubPeer{name})
		reg.SetUserStatus(name, relay.StatusOnline)
	}
	reg.SetUserStatus("bob", "Away")
	reg.JoinGroup("devs", "alice")
	reg.JoinGroup("devs", "carol")
	reg.CreateGroup("empty")

	sr := &stubRelay{reg: reg, stats: relay.StatsSnapshot{ConnectedUsers: 2, Groups: 2, PacketsRouted: 17, Uptime: "1m0s"}}
	return NewServer(sr, cfg), sr
}

func get(t *testing.T, s *Server, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var health HealthResponse
	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/health", &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1m0s", health.Uptime)

	assert.Equal(t, http.StatusOK, get(t, s, "/health", nil))
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var stats relay.StatsSnapshot
	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/stats", &stats))
	assert.Equal(t, 2, stats.ConnectedUsers)
	assert.Equal(t, uint64(17), stats.PacketsRouted)
}

func TestUsersAndGroups(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var users UsersResponse
	require.Equal(t, http.StatusOK, get(t, s, "/api/v1/users", &users))
	assert.Equal(t, 2, users.Count)
	assert.Equal(t, []protocol.UserStatus{
		{Username: "alice", Status: "Online"},
		{Username: "bob", Status: "Away"},
	}, users.Users)

	var groups GroupsResponse
	require.Equal(t, http.StatusOK, get(t, s, "/api/v1/groups", &groups))
	assert.Equal(t, []string{"devs", "empty"}, groups.Groups)

	var group GroupResponse
	require.Equal(t, http.StatusOK, get(t, s, "/api/v1/groups/devs", &group))
	assert.Equal(t, []string{"alice", "carol"}, group.Members)
	assert.Equal(t, []string{"alice"}, group.Online)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/groups/nope", nil))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 3
	s, _ := newTestServer(t, cfg)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(t, s, "/health", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/health", nil))
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "limits are per IP")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))
}

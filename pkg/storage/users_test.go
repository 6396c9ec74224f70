package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T, autoRegister bool) *UserStore {
	t.Helper()
	us, err := NewUserStore(MemoryDSN, autoRegister)
	require.NoError(t, err)
	us.SetCost(bcrypt.MinCost)
	t.Cleanup(func() { us.Close() })
	return us
}

func TestRegisterAndAuthenticate(t *testing.T) {
	us := newTestStore(t, false)

	require.NoError(t, us.Register("alice", "hash-a"))
	assert.ErrorIs(t, us.Register("alice", "other"), ErrUserExists)

	ok, err := us.Authenticate("alice", "hash-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = us.Authenticate("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = us.Authenticate("nobody", "x")
	require.NoError(t, err)
	assert.False(t, ok, "unknown users fail without auto-registration")

	exists, err := us.Exists("nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAutoRegister(t *testing.T) {
	us := newTestStore(t, true)

	ok, err := us.Authenticate("bob", "hash-b")
	require.NoError(t, err)
	assert.True(t, ok, "first login creates the account")

	exists, err := us.Exists("bob")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err = us.Authenticate("bob", "hash-other")
	require.NoError(t, err)
	assert.False(t, ok, "later logins must match the registered password")
}

func TestConcurrentFirstLogin(t *testing.T) {
	us := newTestStore(t, true)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := us.Authenticate("carol", "same-hash")
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	n, err := us.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInvalidUsername(t *testing.T) {
	us := newTestStore(t, true)
	for _, name := range []string{"", "a:b", "a|b", "a,b", "System", "system"} {
		assert.ErrorIs(t, us.Register(name, "h"), ErrInvalidUsername, "name %q", name)
	}
}

func TestPersistentStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	us, err := NewUserStore(path, false)
	require.NoError(t, err)
	us.SetCost(bcrypt.MinCost)
	require.NoError(t, us.Register("dave", "hash-d"))
	require.NoError(t, us.Close())

	us, err = NewUserStore(path, false)
	require.NoError(t, err)
	defer us.Close()

	ok, err := us.Authenticate("dave", "hash-d")
	require.NoError(t, err)
	assert.True(t, ok)
}

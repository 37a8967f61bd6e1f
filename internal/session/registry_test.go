package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryBindAndResolve(t *testing.T) {
	r := NewRegistry()

	r.Bind("alice", "conn1")

	userID, ok := r.UserByConn("conn1")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)

	_, ok = r.UserByConn("conn2")
	assert.False(t, ok)
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()

	r.Bind("alice", "conn1")
	r.Bind("alice", "conn2")

	assert.True(t, r.IsOnline("alice"))
	assert.ElementsMatch(t, []string{"conn1", "conn2"}, r.Conns("alice"))

	userID, last, ok := r.Unbind("conn1")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.False(t, last)
	assert.True(t, r.IsOnline("alice"))

	userID, last, ok = r.Unbind("conn2")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.True(t, last)
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistryUnbindUnknownConn(t *testing.T) {
	r := NewRegistry()

	_, _, ok := r.Unbind("nope")
	assert.False(t, ok)
}

func TestRegistryRebindReplacesOwner(t *testing.T) {
	r := NewRegistry()

	r.Bind("alice", "conn1")
	r.Bind("bob", "conn1")

	userID, _ := r.UserByConn("conn1")
	assert.Equal(t, "bob", userID)
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))
}

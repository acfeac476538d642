package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndLookup(t *testing.T) {
	s, _ := newTestServer(t)
	room := ArenaRef(1)

	alice := newTestClient(s, room, "alice")
	bob := newTestClient(s, room, "bob")
	require.Nil(t, s.registry.Add(alice))
	require.Nil(t, s.registry.Add(bob))

	assert.Equal(t, 2, s.registry.Count())
	assert.ElementsMatch(t, []string{"alice", "bob"}, s.registry.PeersOf(room))
	assert.Empty(t, s.registry.PeersOf(ArenaRef(2)))
}

func TestRegistrySendToAndBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	room := ArenaRef(1)

	alice := newTestClient(s, room, "alice")
	bob := newTestClient(s, room, "bob")
	carol := newTestClient(s, room, "carol")
	s.registry.Add(alice)
	s.registry.Add(bob)
	s.registry.Add(carol)

	assert.True(t, s.registry.SendTo(room, "alice", heartbeatAckMsg{Type: MsgTypeHeartbeatAck}))
	assert.False(t, s.registry.SendTo(room, "nobody", heartbeatAckMsg{Type: MsgTypeHeartbeatAck}))
	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))

	sent := s.registry.Broadcast(room, errorMsg{Type: MsgTypeError, Message: "x"}, "alice")
	assert.Equal(t, 2, sent)
	assert.Empty(t, drain(alice))
	assert.Len(t, drain(bob), 1)
	assert.Len(t, drain(carol), 1)
}

func TestRegistryBroadcastPreservesOrder(t *testing.T) {
	s, _ := newTestServer(t)
	room := ArenaRef(1)

	alice := newTestClient(s, room, "alice")
	bob := newTestClient(s, room, "bob")
	s.registry.Add(alice)
	s.registry.Add(bob)

	for i := 1; i <= 3; i++ {
		s.registry.Broadcast(room, opponentMovedMsg{Type: MsgTypeOpponentMoved, Round: i}, "")
	}
	for _, c := range []*Client{alice, bob} {
		msgs := drain(c)
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, i+1, m.(opponentMovedMsg).Round)
		}
	}
}

func TestRegistryReplaceClosesIncumbent(t *testing.T) {
	s, _ := newTestServer(t)
	room := ArenaRef(1)

	first := newTestClient(s, room, "alice")
	require.Nil(t, s.registry.Add(first))

	second := newTestClient(s, room, "alice")
	replaced := s.registry.Add(second)
	require.Same(t, first, replaced)
	assert.Equal(t, 1, s.registry.Count())

	_, open := <-first.send
	assert.False(t, open, "incumbent's send channel must be closed")

	// The stale connection's teardown must not touch the new record.
	assert.False(t, s.registry.Remove(first))
	assert.Equal(t, 1, s.registry.Count())
	assert.True(t, s.registry.SendTo(room, "alice", heartbeatAckMsg{Type: MsgTypeHeartbeatAck}))
	assert.Len(t, drain(second), 1)

	assert.True(t, s.registry.Remove(second))
	assert.Zero(t, s.registry.Count())
}

func TestRegistrySweepEvictsSilentConnections(t *testing.T) {
	s, clock := newTestServer(t)
	room := ArenaRef(1)

	alice := newTestClient(s, room, "alice")
	bob := newTestClient(s, room, "bob")
	s.registry.Add(alice)
	s.registry.Add(bob)

	// Everyone heartbeated recently; nothing to evict.
	require.Empty(t, s.registry.SweepStale())

	clock.Advance(staleTimeout + time.Second)
	s.registry.Touch(room, "alice")

	evicted := s.registry.SweepStale()
	require.Len(t, evicted, 1)
	assert.Equal(t, "bob", evicted[0].PlayerID)
	assert.ElementsMatch(t, []string{"alice"}, s.registry.PeersOf(room))
}

func TestRegistryPingRoundClearsAlive(t *testing.T) {
	s, _ := newTestServer(t)
	room := ArenaRef(1)

	alice := newTestClient(s, room, "alice")
	bob := newTestClient(s, room, "bob")
	s.registry.Add(alice)
	s.registry.Add(bob)

	s.registry.PingAll()
	s.registry.Touch(room, "alice")

	// Bob answered neither the ping nor a heartbeat, so the next sweep
	// takes him even though his last heartbeat is recent.
	evicted := s.registry.SweepStale()
	require.Len(t, evicted, 1)
	assert.Equal(t, "bob", evicted[0].PlayerID)
}

func TestRegistryCloseRoom(t *testing.T) {
	s, _ := newTestServer(t)

	alice := newTestClient(s, BattleRef("ch"), "alice")
	bob := newTestClient(s, BattleRef("ch"), "bob")
	outsider := newTestClient(s, ArenaRef(1), "carol")
	s.registry.Add(alice)
	s.registry.Add(bob)
	s.registry.Add(outsider)

	clients := s.registry.CloseRoom(BattleRef("ch"))
	assert.Len(t, clients, 2)
	assert.Empty(t, s.registry.PeersOf(BattleRef("ch")))
	assert.Equal(t, 1, s.registry.Count())
}

func TestRegistryCloseAll(t *testing.T) {
	s, _ := newTestServer(t)

	s.registry.Add(newTestClient(s, ArenaRef(1), "alice"))
	s.registry.Add(newTestClient(s, BattleRef("ch"), "bob"))

	s.registry.CloseAll(1001, "Server shutting down")
	assert.Zero(t, s.registry.Count())
	assert.Empty(t, s.registry.PeersOf(ArenaRef(1)))
}

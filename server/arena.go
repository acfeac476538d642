package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/brawlgrid/arena-server/game"
)

const (
	// DefaultCountdown is how long the pre-game countdown runs.
	DefaultCountdown = 15 * time.Second

	// autoStartDelay is the grace period between enough peers being ready
	// and the start attempt.
	autoStartDelay = time.Second
)

// ArenaRoom is one free-for-all session. Fields are guarded by mu; every
// mutation goes through an ArenaManager method holding it, which is the
// single-writer discipline that keeps broadcast order equal to event order.
type ArenaRoom struct {
	mu sync.Mutex

	GameID int64
	ref    RoomRef

	Phase             game.Phase
	CountdownStart    time.Time
	CountdownDuration time.Duration
	StartedAt         time.Time
	Winner            string

	// Players holds the last state document each peer sent. A peer that
	// marked ready but never sent an update is in ReadySet only.
	Players  map[string]*game.PlayerState
	ReadySet map[string]struct{}
}

// ArenaManager owns the arena room table and the arena state machine.
type ArenaManager struct {
	mu    sync.Mutex
	rooms map[int64]*ArenaRoom

	clock    clockwork.Clock
	log      *slog.Logger
	registry *Registry
	timers   *TimerService
}

func NewArenaManager(clock clockwork.Clock, log *slog.Logger, registry *Registry, timers *TimerService) *ArenaManager {
	return &ArenaManager{
		rooms:    make(map[int64]*ArenaRoom),
		clock:    clock,
		log:      log,
		registry: registry,
		timers:   timers,
	}
}

// Count returns the number of live arena rooms.
func (m *ArenaManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Room returns the room for a game id, or nil.
func (m *ArenaManager) Room(gameID int64) *ArenaRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[gameID]
}

func (m *ArenaManager) getOrCreate(gameID int64) *ArenaRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[gameID]; ok {
		return r
	}
	r := &ArenaRoom{
		GameID:            gameID,
		ref:               ArenaRef(gameID),
		Phase:             game.PhaseWaiting,
		CountdownDuration: DefaultCountdown,
		Players:           make(map[string]*game.PlayerState),
		ReadySet:          make(map[string]struct{}),
	}
	m.rooms[gameID] = r
	m.log.Info("arena room created", "game", gameID)
	return r
}

func (m *ArenaManager) deleteRoom(r *ArenaRoom) {
	m.timers.CancelRoom(r.ref)

	m.mu.Lock()
	if m.rooms[r.GameID] == r {
		delete(m.rooms, r.GameID)
	}
	m.mu.Unlock()

	m.log.Info("arena room deleted", "game", r.GameID)
}

func (m *ArenaManager) now() int64 {
	return m.clock.Now().UnixMilli()
}

// Join registers the connection and emits the initial sync. A prior
// connection for the same (room, peer) is closed in favor of this one.
func (m *ArenaManager) Join(gameID int64, c *Client) {
	r := m.getOrCreate(gameID)

	if replaced := m.registry.Add(c); replaced != nil {
		m.log.Info("replacing connection", "game", gameID, "player", c.PlayerID)
		replaced.closeWithReason(websocket.ClosePolicyViolation, "Replaced by newer connection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]syncPlayer, 0, len(r.Players))
	for id, st := range r.Players {
		players = append(players, syncPlayer{PlayerID: id, Data: st.Raw})
	}
	m.registry.SendTo(r.ref, c.PlayerID, syncMsg{
		Type:      MsgTypeSync,
		Players:   players,
		Timestamp: m.now(),
	})
	m.registry.SendTo(r.ref, c.PlayerID, m.stateMsgLocked(r))
	m.registry.Broadcast(r.ref, playerConnectedMsg{
		Type:      MsgTypePlayerConnected,
		PlayerID:  c.PlayerID,
		Timestamp: m.now(),
	}, c.PlayerID)

	m.log.Info("peer joined arena", "game", gameID, "player", c.PlayerID)
}

// Disconnect is the read-loop teardown path. It is a no-op when the
// connection was already replaced or swept.
func (m *ArenaManager) Disconnect(c *Client) {
	if !m.registry.Remove(c) {
		return
	}
	m.PeerDropped(c.Room, c.PlayerID)
}

// PeerDropped removes a peer from the session after its connection is gone
// from the registry, deleting the room when it was the last one.
func (m *ArenaManager) PeerDropped(ref RoomRef, playerID string) {
	r := m.roomByRef(ref)
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.Players, playerID)
	delete(r.ReadySet, playerID)

	if len(m.registry.PeersOf(r.ref)) == 0 {
		r.mu.Unlock()
		m.deleteRoom(r)
		return
	}

	m.registry.Broadcast(r.ref, playerDisconnectedMsg{
		Type:      MsgTypePlayerDisconnected,
		PlayerID:  playerID,
		Timestamp: m.now(),
	}, "")
	m.broadcastStateLocked(r)
	r.mu.Unlock()

	m.log.Info("peer left arena", "game", r.GameID, "player", playerID)
}

func (m *ArenaManager) roomByRef(ref RoomRef) *ArenaRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ref == ref {
			return r
		}
	}
	return nil
}

// MarkReady adds the peer to the ready set. Once two or more peers are
// ready an auto-start attempt is scheduled; every further ready pushes it
// back by the grace period.
func (m *ArenaManager) MarkReady(r *ArenaRoom, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Phase != game.PhaseWaiting {
		return
	}
	if _, ok := r.ReadySet[playerID]; ok {
		return
	}
	r.ReadySet[playerID] = struct{}{}

	m.broadcastStateLocked(r)

	if len(r.ReadySet) >= 2 {
		m.timers.Arm(r.ref, TimerAutoStart, autoStartDelay, func() {
			m.TryStart(r, "")
		})
	}
}

// TryStart attempts the waiting -> countdown transition. With a single
// ready peer the game ends immediately with that peer as winner; with none
// a non-empty requester gets an error reply and nothing changes.
func (m *ArenaManager) TryStart(r *ArenaRoom, requester string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.startLocked(r, requester)
}

func (m *ArenaManager) startLocked(r *ArenaRoom, requester string) {
	if r.Phase != game.PhaseWaiting {
		return
	}

	switch n := len(r.ReadySet); {
	case n == 0:
		if requester != "" {
			m.registry.SendTo(r.ref, requester, errorMsg{Type: MsgTypeError, Message: "No players ready"})
		}
	case n == 1:
		var winner string
		for p := range r.ReadySet {
			winner = p
		}
		m.endLocked(r, winner)
	default:
		r.Phase = game.PhaseCountdown
		r.CountdownStart = m.clock.Now()
		m.timers.Arm(r.ref, TimerCountdown, r.CountdownDuration, func() {
			m.CountdownExpired(r)
		})
		m.broadcastStateLocked(r)
		m.log.Info("countdown started", "game", r.GameID, "ready", n)
	}
}

// CountdownExpired moves the room from countdown to active.
func (m *ArenaManager) CountdownExpired(r *ArenaRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Phase != game.PhaseCountdown {
		return
	}
	r.Phase = game.PhaseActive
	r.StartedAt = m.clock.Now()
	m.broadcastStateLocked(r)
	m.log.Info("arena game active", "game", r.GameID)
}

// SetDeadline arms (or rearms) the room's start deadline. A deadline in
// the past triggers the start attempt immediately.
func (m *ArenaManager) SetDeadline(r *ArenaRoom, deadlineMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := time.UnixMilli(deadlineMs).Sub(m.clock.Now())
	if delay <= 0 {
		m.startLocked(r, "")
		return
	}
	m.timers.Arm(r.ref, TimerDeadline, delay, func() {
		m.TryStart(r, "")
	})
}

// Update stores the peer's state document and fans it out to everyone
// else. Phase and ready set are untouched; the server stays neutral on
// game physics.
func (m *ArenaManager) Update(r *ArenaRoom, playerID string, raw json.RawMessage) {
	st, err := game.ParsePlayerState(raw)
	if err != nil {
		m.log.Warn("dropping malformed player state", "game", r.GameID, "player", playerID, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Players[playerID] = st
	m.registry.Broadcast(r.ref, updateMsg{
		Type:      MsgTypeUpdate,
		PlayerID:  playerID,
		Data:      st.Raw,
		Timestamp: m.now(),
	}, playerID)
}

// Eliminated marks the peer dead and, during the active phase, ends the
// game when exactly one peer is still reporting alive. Peers that never
// sent an update are not counted.
func (m *ArenaManager) Eliminated(r *ArenaRoom, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.Players[playerID]; ok {
		st.Alive = false
	}
	m.registry.Broadcast(r.ref, eliminatedMsg{
		Type:      MsgTypeEliminated,
		PlayerID:  playerID,
		Timestamp: m.now(),
	}, playerID)

	if r.Phase != game.PhaseActive {
		return
	}
	var alive []string
	for id, st := range r.Players {
		if st.Alive {
			alive = append(alive, id)
		}
	}
	if len(alive) == 1 {
		m.endLocked(r, alive[0])
	}
}

// ForceWinner ends the room with the given winner regardless of phase.
// Any peer may send this; the broker trusts it.
func (m *ArenaManager) ForceWinner(r *ArenaRoom, winnerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.endLocked(r, winnerID)
}

func (m *ArenaManager) endLocked(r *ArenaRoom, winner string) {
	if r.Phase == game.PhaseEnded {
		return
	}
	m.timers.Cancel(r.ref, TimerAutoStart)
	m.timers.Cancel(r.ref, TimerCountdown)
	m.timers.Cancel(r.ref, TimerDeadline)

	r.Phase = game.PhaseEnded
	r.Winner = winner
	m.broadcastStateLocked(r)
	m.registry.Broadcast(r.ref, winnerMsg{
		Type:      MsgTypeWinner,
		WinnerID:  winner,
		Timestamp: m.now(),
	}, "")

	m.log.Info("arena game ended", "game", r.GameID, "winner", winner)
}

func (m *ArenaManager) stateMsgLocked(r *ArenaRoom) gameStateUpdateMsg {
	snap := gameStateSnapshot{
		Phase:             r.Phase,
		CountdownDuration: r.CountdownDuration.Milliseconds(),
		Winner:            r.Winner,
		ReadyPlayers:      len(r.ReadySet),
		TotalPlayers:      len(m.registry.PeersOf(r.ref)),
	}
	if !r.CountdownStart.IsZero() {
		snap.CountdownStartTime = r.CountdownStart.UnixMilli()
	}
	if !r.StartedAt.IsZero() {
		snap.StartTime = r.StartedAt.UnixMilli()
	}
	return gameStateUpdateMsg{
		Type:      MsgTypeGameStateUpdate,
		GameState: snap,
		Timestamp: m.now(),
	}
}

func (m *ArenaManager) broadcastStateLocked(r *ArenaRoom) {
	m.registry.Broadcast(r.ref, m.stateMsgLocked(r), "")
}

package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/brawlgrid/arena-server/game"
)

const (
	// battleStartHold is the pause between both peers being present and
	// play beginning.
	battleStartHold = time.Second

	// battleCleanupDelay is how long a finished room lingers so late
	// frames still find their peers.
	battleCleanupDelay = 30 * time.Second

	// battleMaxAge expires rooms that never finished, unless a game is
	// actually in progress.
	battleMaxAge = 30 * time.Minute
)

// BattleRoom is one 2-player challenge session. Guarded by mu; all
// mutation goes through BattleManager methods holding it.
type BattleRoom struct {
	mu sync.Mutex

	ChallengeID string
	ref         RoomRef

	// Players is the join order, at most two entries.
	Players   []string
	Moves     map[int][]*game.MoveRecord
	Status    game.BattleStatus
	Winner    string
	CreatedAt time.Time
}

// BattleManager owns the battle room table. Rooms live in a TTL cache:
// waiting and finished rooms age out after battleMaxAge, in-progress rooms
// carry no TTL, and the eviction hook closes any sockets left behind.
type BattleManager struct {
	mu    sync.Mutex
	rooms *ttlcache.Cache[string, *BattleRoom]

	clock    clockwork.Clock
	log      *slog.Logger
	registry *Registry
	timers   *TimerService
}

func NewBattleManager(clock clockwork.Clock, log *slog.Logger, registry *Registry, timers *TimerService) *BattleManager {
	m := &BattleManager{
		clock:    clock,
		log:      log,
		registry: registry,
		timers:   timers,
	}
	m.rooms = ttlcache.New[string, *BattleRoom](
		ttlcache.WithTTL[string, *BattleRoom](battleMaxAge),
		ttlcache.WithDisableTouchOnHit[string, *BattleRoom](),
	)
	m.rooms.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *BattleRoom]) {
		m.onEvicted(reason, item.Value())
	})
	return m
}

// Run starts the cache expiry loop. Blocks until Stop.
func (m *BattleManager) Run() {
	m.rooms.Start()
}

// Stop halts the expiry loop.
func (m *BattleManager) Stop() {
	m.rooms.Stop()
}

// Count returns the number of live battle rooms.
func (m *BattleManager) Count() int {
	return m.rooms.Len()
}

// Room returns the room for a challenge id, or nil.
func (m *BattleManager) Room(challengeID string) *BattleRoom {
	item := m.rooms.Get(challengeID)
	if item == nil {
		return nil
	}
	return item.Value()
}

func (m *BattleManager) getOrCreate(challengeID string) *BattleRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item := m.rooms.Get(challengeID); item != nil {
		return item.Value()
	}
	r := &BattleRoom{
		ChallengeID: challengeID,
		ref:         BattleRef(challengeID),
		Moves:       make(map[int][]*game.MoveRecord),
		Status:      game.BattleWaiting,
		CreatedAt:   m.clock.Now(),
	}
	m.rooms.Set(challengeID, r, ttlcache.DefaultTTL)
	m.log.Info("battle room created", "challenge", challengeID)
	return r
}

// onEvicted runs for both explicit deletes and TTL expiry. It must not
// take any room lock: it only tears down registry state and timers.
func (m *BattleManager) onEvicted(reason ttlcache.EvictionReason, r *BattleRoom) {
	m.timers.CancelRoom(r.ref)
	for _, c := range m.registry.CloseRoom(r.ref) {
		c.closeWithReason(websocket.CloseNormalClosure, "Battle closed")
	}
	if reason == ttlcache.EvictionReasonExpired {
		m.log.Info("battle room expired", "challenge", r.ChallengeID)
	} else {
		m.log.Info("battle room deleted", "challenge", r.ChallengeID)
	}
}

func (m *BattleManager) now() int64 {
	return m.clock.Now().UnixMilli()
}

// Join admits a peer to the challenge. Reports whether the connection was
// accepted; a third party knocking on a full battle is refused and the
// caller closes the socket before any application frame.
func (m *BattleManager) Join(challengeID string, c *Client) bool {
	r := m.getOrCreate(challengeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	member := slices.Contains(r.Players, c.PlayerID)
	if !member && len(r.Players) >= 2 {
		return false
	}

	if replaced := m.registry.Add(c); replaced != nil {
		m.log.Info("replacing connection", "challenge", challengeID, "player", c.PlayerID)
		replaced.closeWithReason(websocket.ClosePolicyViolation, "Replaced by newer connection")
	}
	if !member {
		r.Players = append(r.Players, c.PlayerID)
	}

	// Tell the joiner who is already here, then announce the joiner.
	for _, p := range r.Players {
		if p != c.PlayerID {
			m.registry.SendTo(r.ref, c.PlayerID, playerJoinedMsg{
				Type:        MsgTypePlayerJoined,
				ChallengeID: challengeID,
				PlayerID:    p,
				Timestamp:   m.now(),
			})
		}
	}
	m.registry.Broadcast(r.ref, playerJoinedMsg{
		Type:        MsgTypePlayerJoined,
		ChallengeID: challengeID,
		PlayerID:    c.PlayerID,
		Timestamp:   m.now(),
	}, c.PlayerID)

	if !member && len(r.Players) == 2 && r.Status == game.BattleWaiting {
		r.Status = game.BattleReady
		m.registry.Broadcast(r.ref, gameReadyMsg{
			Type:        MsgTypeGameReady,
			ChallengeID: challengeID,
			Players:     slices.Clone(r.Players),
			Timestamp:   m.now(),
		}, "")
		m.timers.Arm(r.ref, TimerBattleStart, battleStartHold, func() {
			m.BeginPlay(r)
		})
	}

	m.log.Info("peer joined battle", "challenge", challengeID, "player", c.PlayerID)
	return true
}

// BeginPlay moves a ready room into progress and lifts its age limit.
func (m *BattleManager) BeginPlay(r *BattleRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != game.BattleReady {
		return
	}
	r.Status = game.BattleInProgress
	m.rooms.Set(r.ChallengeID, r, ttlcache.NoTTL)
	m.log.Info("battle in progress", "challenge", r.ChallengeID)
}

// SubmitMove appends a move to the round ledger. Each peer gets one move
// per round; the opponent hears about it, and a full round is echoed back
// to both in submission order.
func (m *BattleManager) SubmitMove(r *BattleRoom, playerID string, round int, move string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != game.BattleInProgress {
		m.registry.SendTo(r.ref, playerID, errorMsg{Type: MsgTypeError, Message: "Game not in progress"})
		return
	}
	for _, rec := range r.Moves[round] {
		if rec.Player == playerID {
			m.registry.SendTo(r.ref, playerID, errorMsg{Type: MsgTypeError, Message: "Move already submitted for this round"})
			return
		}
	}

	r.Moves[round] = append(r.Moves[round], &game.MoveRecord{
		Player:      playerID,
		Move:        move,
		Round:       round,
		SubmittedAt: m.clock.Now(),
	})

	m.registry.Broadcast(r.ref, opponentMovedMsg{
		Type:      MsgTypeOpponentMoved,
		PlayerID:  playerID,
		Round:     round,
		Timestamp: m.now(),
	}, playerID)

	if len(r.Moves[round]) == 2 {
		m.registry.Broadcast(r.ref, roundCompleteMsg{
			Type:      MsgTypeRoundComplete,
			Round:     round,
			Moves:     r.Moves[round],
			Timestamp: m.now(),
		}, "")
	}
}

// EndGame finalizes the room with a winner and schedules cleanup. Used for
// the client-reported game_ended message and the disconnect forfeit.
func (m *BattleManager) EndGame(r *BattleRoom, winner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.endLocked(r, winner)
}

func (m *BattleManager) endLocked(r *BattleRoom, winner string) {
	if r.Status == game.BattleEnded {
		return
	}
	m.timers.Cancel(r.ref, TimerBattleStart)

	r.Status = game.BattleEnded
	r.Winner = winner
	m.registry.Broadcast(r.ref, gameEndedMsg{
		Type:        MsgTypeGameEnded,
		Winner:      winner,
		ChallengeID: r.ChallengeID,
		Timestamp:   m.now(),
	}, "")

	m.rooms.Set(r.ChallengeID, r, ttlcache.DefaultTTL)
	m.timers.Arm(r.ref, TimerBattleCleanup, battleCleanupDelay, func() {
		m.rooms.Delete(r.ChallengeID)
	})

	m.log.Info("battle ended", "challenge", r.ChallengeID, "winner", winner)
}

// Disconnect is the read-loop teardown path. It is a no-op when the
// connection was already replaced or swept.
func (m *BattleManager) Disconnect(c *Client) {
	if !m.registry.Remove(c) {
		return
	}
	m.PeerDropped(c.Room, c.PlayerID)
}

// PeerDropped handles a peer vanishing after its connection left the
// registry. Mid-game the remaining peer wins by forfeit; an empty room is
// deleted on the spot.
func (m *BattleManager) PeerDropped(ref RoomRef, playerID string) {
	r := m.Room(ref.ID)
	if r == nil {
		return
	}

	remaining := m.registry.PeersOf(ref)

	r.mu.Lock()
	if len(remaining) == 0 {
		r.mu.Unlock()
		m.rooms.Delete(r.ChallengeID)
		return
	}

	m.registry.Broadcast(ref, opponentLeftMsg{
		Type:      MsgTypeOpponentLeft,
		PlayerID:  playerID,
		Timestamp: m.now(),
	}, "")

	if r.Status == game.BattleInProgress && len(remaining) == 1 {
		m.endLocked(r, remaining[0])
	}
	r.mu.Unlock()
}

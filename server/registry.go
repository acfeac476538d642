package server

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// staleTimeout is how long a connection may go without a heartbeat (pong or
// application-level heartbeat frame) before the sweeper closes it.
const staleTimeout = 60 * time.Second

// RoomFlavor distinguishes the two session kinds sharing the broker.
type RoomFlavor string

const (
	FlavorArena  RoomFlavor = "arena"
	FlavorBattle RoomFlavor = "battle"
)

// RoomRef identifies a room across the registry and timer service. Arena
// ids are formatted int64s, battle ids are opaque challenge strings; the
// flavor keeps the two namespaces disjoint.
type RoomRef struct {
	Flavor RoomFlavor
	ID     string
}

func ArenaRef(gameID int64) RoomRef {
	return RoomRef{Flavor: FlavorArena, ID: strconv.FormatInt(gameID, 10)}
}

func BattleRef(challengeID string) RoomRef {
	return RoomRef{Flavor: FlavorBattle, ID: challengeID}
}

func (r RoomRef) String() string {
	return string(r.Flavor) + ":" + r.ID
}

// ConnRecord tracks one live (room, peer) socket.
type ConnRecord struct {
	Client        *Client
	Room          RoomRef
	PlayerID      string
	JoinedAt      time.Time
	LastHeartbeat time.Time

	// Alive is cleared each ping round and restored by a pong or an
	// application heartbeat. Still false at the next sweep means dead.
	Alive bool
}

type connKey struct {
	room RoomRef
	peer string
}

// Registry indexes live connections by (room, peer) and by room. It is the
// only mutable state shared across rooms; every operation is individually
// atomic under the registry mutex. Enqueueing onto client send channels and
// closing those channels both happen under the same mutex, so a channel is
// never written after it is closed.
type Registry struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	log    *slog.Logger
	conns  map[connKey]*ConnRecord
	byRoom map[RoomRef]map[string]*ConnRecord
}

func NewRegistry(clock clockwork.Clock, log *slog.Logger) *Registry {
	return &Registry{
		clock:  clock,
		log:    log,
		conns:  make(map[connKey]*ConnRecord),
		byRoom: make(map[RoomRef]map[string]*ConnRecord),
	}
}

// Add inserts a record for the client's (room, peer) pair. A prior record
// for the same pair is replaced and its client returned so the caller can
// close the incumbent socket; the session roster is untouched because the
// peer is still present on the new connection.
func (reg *Registry) Add(c *Client) (replaced *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := connKey{room: c.Room, peer: c.PlayerID}
	if prior, ok := reg.conns[key]; ok {
		replaced = prior.Client
		close(prior.Client.send)
	}

	now := reg.clock.Now()
	rec := &ConnRecord{
		Client:        c,
		Room:          c.Room,
		PlayerID:      c.PlayerID,
		JoinedAt:      now,
		LastHeartbeat: now,
		Alive:         true,
	}
	reg.conns[key] = rec

	peers, ok := reg.byRoom[c.Room]
	if !ok {
		peers = make(map[string]*ConnRecord)
		reg.byRoom[c.Room] = peers
	}
	peers[c.PlayerID] = rec

	return replaced
}

// Remove drops the record for c, but only if c still owns it; a connection
// that was already replaced or swept leaves the newer record alone.
// Reports whether a record was removed.
func (reg *Registry) Remove(c *Client) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := connKey{room: c.Room, peer: c.PlayerID}
	rec, ok := reg.conns[key]
	if !ok || rec.Client != c {
		return false
	}
	reg.dropLocked(key, rec)
	return true
}

// dropLocked deletes both indexes and ends the client's write pump.
func (reg *Registry) dropLocked(key connKey, rec *ConnRecord) {
	delete(reg.conns, key)
	if peers, ok := reg.byRoom[key.room]; ok {
		delete(peers, key.peer)
		if len(peers) == 0 {
			delete(reg.byRoom, key.room)
		}
	}
	close(rec.Client.send)
}

// Touch records a heartbeat for (room, peer).
func (reg *Registry) Touch(room RoomRef, peer string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rec, ok := reg.conns[connKey{room: room, peer: peer}]; ok {
		rec.LastHeartbeat = reg.clock.Now()
		rec.Alive = true
	}
}

// SendTo enqueues a frame for one peer. Best effort: reports false when the
// peer has no live record or its send buffer is full.
func (reg *Registry) SendTo(room RoomRef, peer string, msg any) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.conns[connKey{room: room, peer: peer}]
	if !ok {
		return false
	}
	if !rec.Client.enqueue(msg) {
		reg.log.Warn("send buffer full, dropping frame", "room", room, "player", peer)
		return false
	}
	return true
}

// Broadcast enqueues a frame for every peer in the room except exclude
// (empty string excludes nobody). Returns the number of frames enqueued.
func (reg *Registry) Broadcast(room RoomRef, msg any, exclude string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	sent := 0
	for peer, rec := range reg.byRoom[room] {
		if peer == exclude {
			continue
		}
		if rec.Client.enqueue(msg) {
			sent++
		} else {
			reg.log.Warn("send buffer full, dropping broadcast", "room", room, "player", peer)
		}
	}
	return sent
}

// PeersOf returns a snapshot of the peers connected to a room.
func (reg *Registry) PeersOf(room RoomRef) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	peers := make([]string, 0, len(reg.byRoom[room]))
	for peer := range reg.byRoom[room] {
		peers = append(peers, peer)
	}
	return peers
}

// Count returns the total number of live connections.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.conns)
}

// PingAll sends a transport-level ping to every open socket and clears its
// alive flag. Sockets that answer neither the ping nor an application
// heartbeat before the next sweep get terminated there.
func (reg *Registry) PingAll() {
	reg.mu.Lock()
	clients := make([]*Client, 0, len(reg.conns))
	for _, rec := range reg.conns {
		rec.Alive = false
		clients = append(clients, rec.Client)
	}
	reg.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	for _, c := range clients {
		if c.conn == nil {
			continue
		}
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			reg.log.Debug("ping failed", "room", c.Room, "player", c.PlayerID, "err", err)
		}
	}
}

// SweepStale removes every record that missed the last ping round or whose
// last heartbeat is older than the stale timeout. The evicted records are
// returned so the server can close their sockets and notify the sessions.
func (reg *Registry) SweepStale() []*ConnRecord {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.clock.Now()
	var evicted []*ConnRecord
	for key, rec := range reg.conns {
		if rec.Alive && now.Sub(rec.LastHeartbeat) <= staleTimeout {
			continue
		}
		reg.dropLocked(key, rec)
		evicted = append(evicted, rec)
	}
	return evicted
}

// CloseRoom removes every record in the room and returns the clients so the
// caller can close their sockets with the given reason. Used for battle
// room expiry and server shutdown.
func (reg *Registry) CloseRoom(room RoomRef) []*Client {
	reg.mu.Lock()
	var clients []*Client
	for peer, rec := range reg.byRoom[room] {
		reg.dropLocked(connKey{room: room, peer: peer}, rec)
		clients = append(clients, rec.Client)
	}
	reg.mu.Unlock()
	return clients
}

// CloseAll removes every record and closes every socket. Shutdown path.
func (reg *Registry) CloseAll(code int, reason string) {
	reg.mu.Lock()
	clients := make([]*Client, 0, len(reg.conns))
	for key, rec := range reg.conns {
		delete(reg.conns, key)
		clients = append(clients, rec.Client)
		close(rec.Client.send)
	}
	reg.byRoom = make(map[RoomRef]map[string]*ConnRecord)
	reg.mu.Unlock()

	for _, c := range clients {
		c.closeWithReason(code, reason)
	}
}

// Package server implements the room-multiplexed session broker: the
// WebSocket acceptor, connection registry, arena and battle session state
// machines, message router, timer service, and heartbeat sweeper.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sweepInterval = 30 * time.Second
	statsInterval = 60 * time.Second
)

// Server owns the shared broker state and the background loops.
type Server struct {
	cfg   *Config
	log   *slog.Logger
	clock clockwork.Clock

	registry *Registry
	timers   *TimerService
	arenas   *ArenaManager
	battles  *BattleManager
	metrics  *Metrics
	upgrader websocket.Upgrader

	startedAt time.Time
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg *Config, log *slog.Logger, clock clockwork.Clock, reg prometheus.Registerer) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		clock:     clock,
		metrics:   NewMetrics(reg),
		startedAt: clock.Now(),
		done:      make(chan struct{}),
	}
	s.registry = NewRegistry(clock, log)
	s.timers = NewTimerService(clock)
	s.arenas = NewArenaManager(clock, log, s.registry, s.timers)
	s.battles = NewBattleManager(clock, log, s.registry, s.timers)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Run starts the background loops: the heartbeat sweeper, the stats
// logger, and the battle room expiry loop.
func (s *Server) Run() {
	go s.battles.Run()
	go s.sweepLoop()
	go s.statsLoop()
}

// Shutdown stops the background loops and closes every open socket.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.battles.Stop()
		s.registry.CloseAll(websocket.CloseGoingAway, "Server shutting down")
		s.log.Info("server shut down")
	})
}

// Handle is the single entry point for the WebSocket surface. Non-upgrade
// requests fall through to the health endpoint, so plain GET / works as a
// health probe while ws:// on the same path joins an arena.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.HandleHealth(w, r)
		return
	}
	s.accept(w, r)
}

// accept upgrades the socket, validates query parameters, and hands the
// connection to the session manager picked by URL path. Parameter problems
// close the socket with a policy violation before any application frame.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader already replied (403 on origin mismatch).
		s.log.Warn("websocket upgrade rejected", "path", r.URL.Path, "err", err)
		return
	}

	q := r.URL.Query()
	playerID := q.Get("playerId")

	if strings.HasPrefix(r.URL.Path, "/battle") {
		challengeID := q.Get("challengeId")
		if playerID == "" || challengeID == "" {
			rejectParams(conn)
			return
		}
		c := newClient(s, BattleRef(challengeID), playerID, conn)
		if !s.battles.Join(challengeID, c) {
			c.closeWithReason(websocket.ClosePolicyViolation, "Battle full")
			return
		}
		go c.writePump()
		go c.readPump()
		return
	}

	gameID, err := strconv.ParseInt(q.Get("gameId"), 10, 64)
	if err != nil || playerID == "" {
		rejectParams(conn)
		return
	}
	c := newClient(s, ArenaRef(gameID), playerID, conn)
	s.arenas.Join(gameID, c)
	go c.writePump()
	go c.readPump()
}

func rejectParams(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid parameters")
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

// handleDisconnect routes read-loop teardown to the owning session manager.
func (s *Server) handleDisconnect(c *Client) {
	switch c.Room.Flavor {
	case FlavorArena:
		s.arenas.Disconnect(c)
	case FlavorBattle:
		s.battles.Disconnect(c)
	}
}

// sweepLoop runs the liveness discipline: evict connections that went
// quiet, then ping the rest so the next round can tell who answered.
func (s *Server) sweepLoop() {
	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	for _, rec := range s.registry.SweepStale() {
		s.metrics.StaleEvictions.Inc()
		s.log.Info("evicting stale connection", "room", rec.Room, "player", rec.PlayerID)
		rec.Client.closeWithReason(websocket.CloseGoingAway, "Heartbeat timeout")
		switch rec.Room.Flavor {
		case FlavorArena:
			s.arenas.PeerDropped(rec.Room, rec.PlayerID)
		case FlavorBattle:
			s.battles.PeerDropped(rec.Room, rec.PlayerID)
		}
	}
	s.registry.PingAll()
}

// statsLoop refreshes the gauges and logs a periodic summary.
func (s *Server) statsLoop() {
	ticker := s.clock.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			arenas := s.arenas.Count()
			battles := s.battles.Count()
			conns := s.registry.Count()
			s.metrics.ArenaRooms.Set(float64(arenas))
			s.metrics.BattleRooms.Set(float64(battles))
			s.metrics.Connections.Set(float64(conns))
			s.log.Info("server stats",
				"arenas", arenas,
				"battles", battles,
				"connections", conns,
				"uptime", s.clock.Since(s.startedAt).Round(time.Second))
		}
	}
}

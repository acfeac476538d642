package server

import (
	"encoding/json"
)

// route parses an inbound frame and dispatches it to the owning session.
// The envelope policy is tolerant: frames that fail to parse and unknown
// types are logged and dropped, and the connection stays open either way.
func (s *Server) route(c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.metrics.FramesDropped.Inc()
		s.log.Warn("dropping unparseable frame", "room", c.Room, "player", c.PlayerID, "err", err)
		return
	}
	if msg.Type == "" {
		s.metrics.FramesDropped.Inc()
		s.log.Warn("dropping frame without type", "room", c.Room, "player", c.PlayerID)
		return
	}

	s.metrics.MessagesRouted.WithLabelValues(msg.Type).Inc()

	// Application-level heartbeat counts for liveness on either flavor.
	if msg.Type == MsgTypeHeartbeat {
		s.registry.Touch(c.Room, c.PlayerID)
		s.registry.SendTo(c.Room, c.PlayerID, heartbeatAckMsg{
			Type:      MsgTypeHeartbeatAck,
			Timestamp: s.clock.Now().UnixMilli(),
		})
		return
	}

	switch c.Room.Flavor {
	case FlavorArena:
		s.routeArena(c, &msg)
	case FlavorBattle:
		s.routeBattle(c, &msg)
	}
}

func (s *Server) routeArena(c *Client, msg *ClientMessage) {
	r := s.arenas.roomByRef(c.Room)
	if r == nil {
		s.log.Warn("frame for unknown arena room", "room", c.Room, "player", c.PlayerID)
		return
	}

	switch msg.Type {
	case MsgTypeMarkReady:
		s.arenas.MarkReady(r, c.PlayerID)
	case MsgTypeStartGame:
		s.arenas.TryStart(r, c.PlayerID)
	case MsgTypeSetDeadline:
		if msg.Deadline <= 0 {
			s.log.Warn("set_deadline without deadline", "room", c.Room, "player", c.PlayerID)
			return
		}
		s.arenas.SetDeadline(r, msg.Deadline)
	case MsgTypeUpdate:
		if len(msg.Data) == 0 {
			s.log.Warn("update without data", "room", c.Room, "player", c.PlayerID)
			return
		}
		s.arenas.Update(r, c.PlayerID, msg.Data)
	case MsgTypeEliminated:
		s.arenas.Eliminated(r, c.PlayerID)
	case MsgTypeWinner:
		if msg.WinnerID == "" {
			s.log.Warn("winner without winnerId", "room", c.Room, "player", c.PlayerID)
			return
		}
		s.arenas.ForceWinner(r, msg.WinnerID)
	default:
		s.log.Debug("ignoring unknown message type", "type", msg.Type, "room", c.Room, "player", c.PlayerID)
	}
}

func (s *Server) routeBattle(c *Client, msg *ClientMessage) {
	r := s.battles.Room(c.Room.ID)
	if r == nil {
		s.log.Warn("frame for unknown battle room", "room", c.Room, "player", c.PlayerID)
		return
	}

	switch msg.Type {
	case MsgTypeSubmitMove:
		if msg.Round == nil || *msg.Round < 0 || msg.Move == "" {
			s.log.Warn("malformed submit_move", "room", c.Room, "player", c.PlayerID)
			return
		}
		s.battles.SubmitMove(r, c.PlayerID, *msg.Round, msg.Move)
	case MsgTypeGameEnded:
		s.battles.EndGame(r, msg.Winner)
	default:
		s.log.Debug("ignoring unknown message type", "type", msg.Type, "room", c.Room, "player", c.PlayerID)
	}
}

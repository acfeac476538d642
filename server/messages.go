package server

import (
	"encoding/json"

	"github.com/brawlgrid/arena-server/game"
)

// Inbound message types
const (
	MsgTypeHeartbeat   = "heartbeat"
	MsgTypeMarkReady   = "mark_ready"
	MsgTypeStartGame   = "start_game"
	MsgTypeSetDeadline = "set_deadline"
	MsgTypeUpdate      = "update"
	MsgTypeEliminated  = "eliminated"
	MsgTypeWinner      = "winner"
	MsgTypeSubmitMove  = "submit_move"
	MsgTypeGameEnded   = "game_ended"
)

// Outbound message types
const (
	MsgTypeSync               = "sync"
	MsgTypeGameStateUpdate    = "game_state_update"
	MsgTypePlayerConnected    = "player_connected"
	MsgTypePlayerDisconnected = "player_disconnected"
	MsgTypeHeartbeatAck       = "heartbeat_ack"
	MsgTypeError              = "error"
	MsgTypePlayerJoined       = "player_joined"
	MsgTypeGameReady          = "game_ready"
	MsgTypeOpponentMoved      = "opponent_moved"
	MsgTypeRoundComplete      = "round_complete"
	MsgTypeOpponentLeft       = "opponent_left"
)

// ClientMessage is the inbound envelope. The payload fields form a union
// across message types; each handler reads only the ones its type defines.
type ClientMessage struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`     // update
	Deadline int64           `json:"deadline,omitempty"` // set_deadline, ms since epoch
	WinnerID string          `json:"winnerId,omitempty"` // winner
	Round    *int            `json:"round,omitempty"`    // submit_move
	Move     string          `json:"move,omitempty"`     // submit_move
	Winner   string          `json:"winner,omitempty"`   // game_ended
}

// Outbound envelopes. Every broadcast carries a server-assigned timestamp
// in milliseconds since epoch.

type syncPlayer struct {
	PlayerID string          `json:"playerId"`
	Data     json.RawMessage `json:"data"`
}

type syncMsg struct {
	Type      string       `json:"type"`
	Players   []syncPlayer `json:"players"`
	Timestamp int64        `json:"timestamp"`
}

type gameStateSnapshot struct {
	Phase              game.Phase `json:"phase"`
	CountdownStartTime int64      `json:"countdownStartTime,omitempty"`
	CountdownDuration  int64      `json:"countdownDuration"`
	StartTime          int64      `json:"startTime,omitempty"`
	Winner             string     `json:"winner,omitempty"`
	ReadyPlayers       int        `json:"readyPlayers"`
	TotalPlayers       int        `json:"totalPlayers"`
}

type gameStateUpdateMsg struct {
	Type      string            `json:"type"`
	GameState gameStateSnapshot `json:"gameState"`
	Timestamp int64             `json:"timestamp"`
}

type playerConnectedMsg struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

type playerDisconnectedMsg struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

type updateMsg struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type eliminatedMsg struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

type winnerMsg struct {
	Type      string `json:"type"`
	WinnerID  string `json:"winnerId"`
	Timestamp int64  `json:"timestamp"`
}

type heartbeatAckMsg struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type playerJoinedMsg struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeId"`
	PlayerID    string `json:"playerId"`
	Timestamp   int64  `json:"timestamp"`
}

type gameReadyMsg struct {
	Type        string   `json:"type"`
	ChallengeID string   `json:"challengeId"`
	Players     []string `json:"players"`
	Timestamp   int64    `json:"timestamp"`
}

type opponentMovedMsg struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Round     int    `json:"round"`
	Timestamp int64  `json:"timestamp"`
}

type roundCompleteMsg struct {
	Type      string             `json:"type"`
	Round     int                `json:"round"`
	Moves     []*game.MoveRecord `json:"moves"`
	Timestamp int64              `json:"timestamp"`
}

type gameEndedMsg struct {
	Type        string `json:"type"`
	Winner      string `json:"winner"`
	ChallengeID string `json:"challengeId"`
	Timestamp   int64  `json:"timestamp"`
}

type opponentLeftMsg struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

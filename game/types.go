// Package game defines the domain types shared between the session broker
// and its wire envelopes: arena phases, battle statuses, and the
// client-owned player state document.
package game

import (
	"encoding/json"
	"time"
)

// Phase is the arena room lifecycle state. Transitions only ever move
// forward: waiting -> countdown -> active -> ended.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
)

var phaseRank = map[Phase]int{
	PhaseWaiting:   0,
	PhaseCountdown: 1,
	PhaseActive:    2,
	PhaseEnded:     3,
}

// Before reports whether p comes strictly earlier than q in the lifecycle.
func (p Phase) Before(q Phase) bool {
	return phaseRank[p] < phaseRank[q]
}

// BattleStatus is the battle room lifecycle state.
type BattleStatus string

const (
	BattleWaiting    BattleStatus = "waiting"
	BattleReady      BattleStatus = "ready"
	BattleInProgress BattleStatus = "in_progress"
	BattleEnded      BattleStatus = "ended"
)

// PlayerState carries a client-supplied state document verbatim. The server
// never interprets positions, velocities, or powerups; the only field it
// reads is Alive, which feeds the arena end-game check.
type PlayerState struct {
	Raw   json.RawMessage
	Alive bool
}

// ParsePlayerState copies the raw document and probes the alive flag.
// Documents without an alive field decode as not alive, matching how a
// client that never reported in is counted.
func ParsePlayerState(raw json.RawMessage) (*PlayerState, error) {
	var probe struct {
		Alive bool `json:"alive"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	return &PlayerState{
		Raw:   append(json.RawMessage(nil), raw...),
		Alive: probe.Alive,
	}, nil
}

// MarshalJSON forwards the original document untouched.
func (s *PlayerState) MarshalJSON() ([]byte, error) {
	if len(s.Raw) == 0 {
		return []byte("null"), nil
	}
	return s.Raw, nil
}

// MoveRecord is one entry in a battle round's move ledger. The JSON shape
// matches the round_complete payload, which enumerates moves as
// {playerAddress, move} pairs.
type MoveRecord struct {
	Player      string    `json:"playerAddress"`
	Move        string    `json:"move"`
	Round       int       `json:"-"`
	SubmittedAt time.Time `json:"-"`
}

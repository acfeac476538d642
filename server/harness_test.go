package server

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// newTestServer builds a server on a fake clock with background loops
// stopped; tests drive the sweeper and timers by hand.
func newTestServer(t *testing.T) (*Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{Port: DefaultPort}
	s := New(cfg, log, clock, prometheus.NewRegistry())
	return s, clock
}

// newTestClient returns a client with no socket behind it. Frames pile up
// in the send channel where tests can inspect them.
func newTestClient(s *Server, room RoomRef, playerID string) *Client {
	return newClient(s, room, playerID, nil)
}

// drain empties the client's pending frames.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// lastOfType returns the last drained frame of the given envelope type.
func lastOfType(msgs []any, msgType string) any {
	var found any
	for _, m := range msgs {
		if envelopeType(m) == msgType {
			found = m
		}
	}
	return found
}

func countOfType(msgs []any, msgType string) int {
	n := 0
	for _, m := range msgs {
		if envelopeType(m) == msgType {
			n++
		}
	}
	return n
}

func envelopeType(msg any) string {
	switch m := msg.(type) {
	case syncMsg:
		return m.Type
	case gameStateUpdateMsg:
		return m.Type
	case playerConnectedMsg:
		return m.Type
	case playerDisconnectedMsg:
		return m.Type
	case updateMsg:
		return m.Type
	case eliminatedMsg:
		return m.Type
	case winnerMsg:
		return m.Type
	case heartbeatAckMsg:
		return m.Type
	case errorMsg:
		return m.Type
	case playerJoinedMsg:
		return m.Type
	case gameReadyMsg:
		return m.Type
	case opponentMovedMsg:
		return m.Type
	case roundCompleteMsg:
		return m.Type
	case gameEndedMsg:
		return m.Type
	case opponentLeftMsg:
		return m.Type
	default:
		return ""
	}
}

// waitFor polls until cond holds or the deadline passes. Timer callbacks
// fire on their own goroutines after a fake clock advance, so tests that
// advance the clock wait for the state to settle.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

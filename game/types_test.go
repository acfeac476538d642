package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlayerState(t *testing.T) {
	doc := json.RawMessage(`{"position":{"x":4,"y":9},"velocity":{"x":0,"y":-1},"alive":true,"powerups":["shield"]}`)

	st, err := ParsePlayerState(doc)
	require.NoError(t, err)
	assert.True(t, st.Alive)
	assert.JSONEq(t, string(doc), string(st.Raw))
}

func TestParsePlayerStateDefaultsToDead(t *testing.T) {
	st, err := ParsePlayerState(json.RawMessage(`{"position":{"x":1}}`))
	require.NoError(t, err)
	assert.False(t, st.Alive)
}

func TestParsePlayerStateRejectsMalformed(t *testing.T) {
	_, err := ParsePlayerState(json.RawMessage(`{"alive":`))
	assert.Error(t, err)

	_, err = ParsePlayerState(json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)
}

func TestPlayerStateRoundTripsUnknownFields(t *testing.T) {
	doc := json.RawMessage(`{"alive":false,"customField":{"nested":[1,2,3]}}`)
	st, err := ParsePlayerState(doc)
	require.NoError(t, err)

	// The document is client-owned; rebroadcast must not strip fields the
	// server does not understand.
	out, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(out))
}

func TestPhaseOrdering(t *testing.T) {
	assert.True(t, PhaseWaiting.Before(PhaseCountdown))
	assert.True(t, PhaseCountdown.Before(PhaseActive))
	assert.True(t, PhaseActive.Before(PhaseEnded))
	assert.False(t, PhaseEnded.Before(PhaseWaiting))
	assert.False(t, PhaseActive.Before(PhaseActive))
}

func TestMoveRecordWireShape(t *testing.T) {
	out, err := json.Marshal(&MoveRecord{Player: "0xAlice", Move: "rock", Round: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"playerAddress":"0xAlice","move":"rock"}`, string(out))
}

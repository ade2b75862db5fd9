package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const joinVillaJSON = `{
  "robot": {"template": {"id": "bot_1", "name": "Test Bot"}, "villa_id": 1001},
  "type": 1,
  "extend_data": {"EventData": {"JoinVilla": {"join_uid": 42, "join_user_nickname": "alice", "join_at": 1700000000, "villa_id": 1001}}},
  "created_at": 1700000000,
  "id": "evt-1",
  "send_at": 1700000001
}`

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON(nil, []byte(joinVillaJSON))
	require.NoError(t, err)
	assert.Equal(t, KindJoinVilla, ev.Kind())
	assert.Equal(t, uint64(1001), ev.VillaID())
	assert.Equal(t, "bot_1", ev.Robot.Template.ID)

	join, ok := ev.Data.(*JoinVilla)
	require.True(t, ok)
	assert.Equal(t, "alice", join.JoinUserNickname)
}

func TestDecodeCallback(t *testing.T) {
	ev, err := DecodeCallback(nil, []byte(`{"event":`+joinVillaJSON+`}`))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)

	_, err = DecodeCallback(nil, []byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeJSON_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no payload", `{"type":1,"extend_data":{"EventData":{}}}`, ErrNoEventData},
		{"only null payloads", `{"type":1,"extend_data":{"EventData":{"JoinVilla":null}}}`, ErrNoEventData},
		{"two payloads", `{"extend_data":{"EventData":{"JoinVilla":{},"CreateRobot":{}}}}`, ErrAmbiguousEventData},
		{"unknown payload", `{"extend_data":{"EventData":{"Teleport":{}}}}`, ErrUnknownKind},
		{"mismatch", `{"type":2,"extend_data":{"EventData":{"JoinVilla":{}}}}`, ErrKindMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON(nil, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeJSON_MatchesBinary(t *testing.T) {
	in := joinVillaEvent()
	data, err := EncodeJSON(nil, in)
	require.NoError(t, err)

	fromJSON, err := DecodeJSON(nil, data)
	require.NoError(t, err)

	bin, err := EncodeProto(in)
	require.NoError(t, err)
	fromProto, err := DecodeProto(bin)
	require.NoError(t, err)

	assert.Equal(t, fromProto, fromJSON)
}

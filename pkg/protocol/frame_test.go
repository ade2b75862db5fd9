package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		bizType BizType
		id      uint64
		appID   uint32
		flag    Flag
		body    []byte
	}{
		{"login request with app id", BizTypeLogin, 1, 104, FlagRequest, []byte{0x08, 0x3b}},
		{"heartbeat without app id", BizTypeHeartbeat, 1 << 40, 0, FlagRequest, []byte("x")},
		{"empty body response", BizTypeShutdown, 99, 104, FlagResponse, nil},
		{"event", BizTypeRobotEvent, 7, 104, FlagResponse, bytes.Repeat([]byte{0xAB}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFrame(tt.bizType, tt.id, tt.appID, tt.flag, tt.body)
			require.Equal(t, f.HeaderLen+uint32(len(tt.body)), f.DataLen)

			data, err := f.MarshalBinary()
			require.NoError(t, err)
			assert.Len(t, data, 8+int(f.DataLen))

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, f.Magic, got.Magic)
			assert.Equal(t, f.DataLen, got.DataLen)
			assert.Equal(t, f.HeaderLen, got.HeaderLen)
			assert.Equal(t, f.ID, got.ID)
			assert.Equal(t, f.Flag, got.Flag)
			assert.Equal(t, f.BizType, got.BizType)
			assert.Equal(t, f.AppID, got.AppID)
			assert.Equal(t, len(tt.body), len(got.Body))
			if len(tt.body) > 0 {
				assert.Equal(t, tt.body, got.Body)
			}
		})
	}
}

func TestNewFrame_HeaderLen(t *testing.T) {
	assert.Equal(t, HeaderLenNoAppID, NewFrame(BizTypeLogin, 1, 0, FlagRequest, nil).HeaderLen)
	for _, appID := range []uint32{1, 104, 1 << 31} {
		assert.Equal(t, HeaderLenWithAppID, NewFrame(BizTypeLogin, 1, appID, FlagRequest, nil).HeaderLen)
	}
	assert.Equal(t, FlagRequest, NewRequest(BizTypeLogin, 1, 104, nil).Flag)
	assert.Equal(t, FlagResponse, NewResponse(BizTypeLogin, 1, 104, nil).Flag)
}

func TestFrame_WireLayout(t *testing.T) {
	f := NewRequest(BizTypeLogin, 0x0102030405060708, 104, []byte{0xFF})
	data, err := f.MarshalBinary()
	require.NoError(t, err)

	le := binary.LittleEndian
	assert.Equal(t, uint32(0xBABEFACE), le.Uint32(data[0:]))
	assert.Equal(t, uint32(25), le.Uint32(data[4:]))
	assert.Equal(t, uint32(24), le.Uint32(data[8:]))
	assert.Equal(t, uint64(0x0102030405060708), le.Uint64(data[12:]))
	assert.Equal(t, uint32(1), le.Uint32(data[20:]))
	assert.Equal(t, uint32(7), le.Uint32(data[24:]))
	assert.Equal(t, uint32(104), le.Uint32(data[28:]))
	assert.Equal(t, byte(0xFF), data[32])
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	data, err := NewRequest(BizTypeHeartbeat, 1, 104, []byte("hb")).MarshalBinary()
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[0:], 0xDEADBEEF)

	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecode_RejectsShortBody(t *testing.T) {
	data, err := NewRequest(BizTypeHeartbeat, 1, 104, []byte("heartbeat")).MarshalBinary()
	require.NoError(t, err)

	_, err = Unmarshal(data[:len(data)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortFrame))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestDecode_OversizedDataLen(t *testing.T) {
	data, err := NewRequest(BizTypeRobotEvent, 1, 104, []byte("tiny")).MarshalBinary()
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[4:], 0x7FFFFFF0)

	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	// MultiReader hides the remaining length from Decode.
	_, err = Decode(io.MultiReader(bytes.NewReader(data)))
	runtime.ReadMemStats(&after)
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestDecode_RejectsInconsistentLengths(t *testing.T) {
	data, err := NewRequest(BizTypeHeartbeat, 1, 104, nil).MarshalBinary()
	require.NoError(t, err)

	bad := bytes.Clone(data)
	binary.LittleEndian.PutUint32(bad[8:], 21)
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	bad = bytes.Clone(data)
	binary.LittleEndian.PutUint32(bad[4:], 10)
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = Unmarshal(append(bytes.Clone(data), 0x00))
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestDecode_Stream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRequest(BizTypeLogin, 1, 104, []byte("a")).Encode(&buf))
	require.NoError(t, NewRequest(BizTypeHeartbeat, 2, 0, []byte("bc")).Encode(&buf))

	first, err := Decode(&buf)
	require.NoError(t, err)
	second, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, []byte("a"), first.Body)
	assert.Equal(t, uint64(2), second.ID)
	assert.Equal(t, uint32(0), second.AppID)
	assert.Equal(t, []byte("bc"), second.Body)

	_, err = Decode(&buf)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestBizType_String(t *testing.T) {
	assert.Equal(t, "login", BizTypeLogin.String())
	assert.Equal(t, "robot-event", BizTypeRobotEvent.String())
	assert.Equal(t, "bizType(12345)", BizType(12345).String())
	assert.True(t, BizTypeKickOff.Known())
	assert.False(t, BizTypeShutdown.Encoded())
	assert.True(t, BizTypeRobotEvent.Encoded())
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/protocol"
)

var errMalformedFrame = errors.New("bot: malformed frame")

// SessionInfo describes the connection a bot currently holds.
type SessionInfo struct {
	ConnID       uint64
	WebsocketURL string
	UID          uint64
	AppID        int32
	Platform     int32
	DeviceID     string
	Region       string
	StartedAt    time.Time
}

// session is one WebSocket connection and the state bound to it. It ends
// when its context is cancelled.
type session struct {
	conn   *websocket.Conn
	info   api.WebsocketInfo
	region string

	ctx    context.Context
	cancel context.CancelFunc

	writeMu      sync.Mutex
	seq          atomic.Uint64
	writeTimeout time.Duration
	onSend       atomic.Pointer[func()]

	connID    atomic.Uint64
	startedAt time.Time

	logger zerolog.Logger
}

func newSession(parent context.Context, conn *websocket.Conn, info api.WebsocketInfo, region string, writeTimeout time.Duration, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		conn:         conn,
		info:         info,
		region:       region,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		startedAt:    time.Now(),
		logger:       logger,
	}
	s.seq.Store(uint64(rand.Uint32()))
	context.AfterFunc(ctx, func() { _ = conn.Close() })
	return s
}

func (s *session) close() {
	s.cancel()
}

func (s *session) closed() bool {
	return s.ctx.Err() != nil
}

func (s *session) snapshot() *SessionInfo {
	return &SessionInfo{
		ConnID:       s.connID.Load(),
		WebsocketURL: s.info.WebsocketURL,
		UID:          uint64(s.info.UID),
		AppID:        s.info.AppID,
		Platform:     s.info.Platform,
		DeviceID:     s.info.DeviceID,
		Region:       s.region,
		StartedAt:    s.startedAt,
	}
}

// send encodes p into a request frame and writes it. Ids are allocated under
// the write lock so they increase in wire order.
func (s *session) send(p protocol.Payload) (uint64, error) {
	body, err := p.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("bot: encode %s: %w", p.BizType(), err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed() {
		return 0, ErrNotConnected
	}
	id := s.seq.Add(1)
	data, err := protocol.NewRequest(p.BizType(), id, uint32(s.info.AppID), body).MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("bot: encode frame: %w", err)
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, fmt.Errorf("bot: write %s: %w", p.BizType(), err)
	}
	if fn := s.onSend.Load(); fn != nil {
		(*fn)()
	}
	s.logger.Debug().Str("bizType", p.BizType().String()).Uint64("frameId", id).Msg("Frame sent")
	return id, nil
}

func (s *session) sendHeartbeat(context.Context) error {
	_, err := s.send(protocol.NewHeartbeat(time.Now()))
	return err
}

// readFrame blocks until the next frame. Undecodable messages are reported
// as errMalformedFrame; any other error means the transport is gone.
func (s *session) readFrame() (*protocol.Frame, error) {
	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected message type %d", errMalformedFrame, typ)
	}
	f, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	return f, nil
}

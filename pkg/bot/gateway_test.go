package bot

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/event"
	"github.com/villakit/villa/pkg/protocol"
)

const testAppID = 104

// fakeGateway serves the gateway info endpoint and the WebSocket gateway.
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server

	infoCalls atomic.Int32
	infoFail  atomic.Bool
	loginCode atomic.Int32

	// beforeLoginReply runs on the connection before the login reply.
	beforeLoginReply func(c *fakeConn)

	frames chan *protocol.Frame
	logins chan *protocol.Login
	conns  chan *fakeConn
}

type fakeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	seq  uint64
	// received lists every frame the bot sent on this connection.
	received []*protocol.Frame
}

func newFakeGateway(t *testing.T, opts ...func(*fakeGateway)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:      t,
		frames: make(chan *protocol.Frame, 256),
		logins: make(chan *protocol.Login, 16),
		conns:  make(chan *fakeConn, 16),
	}
	for _, opt := range opts {
		opt(g)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(api.GetWebsocketInfoEndpoint.Path, g.serveInfo)
	mux.HandleFunc("/ws", g.serveWS)
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) serveInfo(w http.ResponseWriter, r *http.Request) {
	g.infoCalls.Add(1)
	assert.Equal(g.t, "bot_1", r.Header.Get(api.HeaderBotID))
	assert.Equal(g.t, "secret", r.Header.Get(api.HeaderBotSecret))
	if g.infoFail.Load() {
		_, _ = io.WriteString(w, `{"retcode":-502,"message":"bot not found","data":null}`)
		return
	}
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
	_, _ = io.WriteString(w, `{"retcode":0,"message":"OK","data":{"websocket_url":"`+url+`","uid":"59","app_id":104,"platform":3,"device_id":"dev"}}`)
}

func (g *fakeGateway) serveWS(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &fakeConn{conn: conn, seq: 1000}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.Unmarshal(data)
		if !assert.NoError(g.t, err) {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, f)
		c.mu.Unlock()
		select {
		case g.frames <- f:
		default:
		}

		switch f.BizType {
		case protocol.BizTypeLogin:
			var login protocol.Login
			assert.NoError(g.t, login.UnmarshalBinary(f.Body))
			g.logins <- &login
			if g.beforeLoginReply != nil {
				g.beforeLoginReply(c)
			}
			code := g.loginCode.Load()
			c.reply(f, &protocol.LoginReply{Code: code, Msg: "rejected", ServerTimestamp: 1, ConnID: 7})
			if code == 0 {
				g.conns <- c
			}
		case protocol.BizTypeHeartbeat:
			c.reply(f, &protocol.HeartbeatReply{ServerTimestamp: 2})
		case protocol.BizTypeLogout:
			c.reply(f, &protocol.LogoutReply{ConnID: 7})
		}
	}
}

func (g *fakeGateway) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no connection logged in")
		return nil
	}
}

func (g *fakeGateway) nextLogin(t *testing.T) *protocol.Login {
	t.Helper()
	select {
	case l := <-g.logins:
		return l
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no login received")
		return nil
	}
}

// sent returns a copy of the frames received from the bot so far.
func (c *fakeConn) sent() []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Frame(nil), c.received...)
}

func (c *fakeConn) write(f *protocol.Frame) {
	data, _ := f.MarshalBinary()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *fakeConn) reply(req *protocol.Frame, p protocol.Payload) {
	body, _ := p.MarshalBinary()
	c.write(protocol.NewResponse(p.BizType(), req.ID, testAppID, body))
}

func (c *fakeConn) push(p protocol.Payload) {
	body, _ := p.MarshalBinary()
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.mu.Unlock()
	c.write(protocol.NewRequest(p.BizType(), id, testAppID, body))
}

func (c *fakeConn) pushEvent(t *testing.T, ev *event.Event) {
	t.Helper()
	body, err := event.EncodeProto(ev)
	require.NoError(t, err)
	c.write(protocol.NewRequest(protocol.BizTypeRobotEvent, 1, testAppID, body))
}

func joinEvent(villaID uint64) *event.Event {
	return &event.Event{
		Robot: event.Robot{
			Template: event.RobotTemplate{ID: "bot_1", Name: "test"},
			VillaID:  villaID,
		},
		Data:      &event.JoinVilla{JoinUID: 42, JoinUserNickname: "lumine", JoinAt: 1700000000, VillaID: villaID},
		CreatedAt: 1700000000,
		ID:        "evt-1",
	}
}

func newTestBot(t *testing.T, g *fakeGateway, configure func(*Config)) *Bot {
	t.Helper()
	cfg := Config{
		API: api.Options{BaseURL: g.srv.URL},
		Reconnect: ReconnectPolicy{
			InitialInterval:  10 * time.Millisecond,
			MaxInterval:      50 * time.Millisecond,
			MinCycleInterval: 10 * time.Millisecond,
		},
	}
	if configure != nil {
		configure(&cfg)
	}
	b, err := New(api.Ticket{BotID: "bot_1", Secret: "secret"}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Cancel(nil)
		waitDone(t, b)
	})
	return b
}

func waitDone(t *testing.T, b *Bot) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "bot did not complete")
	}
}

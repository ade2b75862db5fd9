package status

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villakit/villa/internal/bots"
	"github.com/villakit/villa/internal/metrics"
	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/bot"
	"github.com/villakit/villa/pkg/event"
)

const callbackBody = `{"event": {
  "robot": {"template": {"id": "bot_1"}, "villa_id": 1001},
  "type": 1,
  "extend_data": {"EventData": {"JoinVilla": {"join_uid": 42, "villa_id": 1001}}},
  "id": "evt-cb"
}}`

var signingKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}()

func pubKeyPEM(t *testing.T) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&signingKey.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signBody(t *testing.T, secret, body string) string {
	t.Helper()
	sig, err := rsa.SignPKCS1v15(rand.Reader, signingKey, crypto.SHA256, api.CallbackDigest(secret, []byte(body)))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

// newTestServer registers "main" with a callback key and "nokey" without.
func newTestServer(t *testing.T) (*Server, *bot.Bot) {
	t.Helper()
	reg := bots.NewRegistry(nil)
	m := metrics.New(reg.Active)

	ticket := api.Ticket{BotID: "bot_1", Secret: "s"}
	b, err := bot.New(ticket, bot.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { b.Cancel(nil) })
	require.NoError(t, reg.Register("main", b))
	v, err := api.NewCallbackVerifier(ticket, pubKeyPEM(t))
	require.NoError(t, err)
	require.NoError(t, reg.SetVerifier("main", v))
	m.Observe(b)

	other, err := bot.New(api.Ticket{BotID: "bot_2", Secret: "s"}, bot.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { other.Cancel(nil) })
	require.NoError(t, reg.Register("nokey", other))

	return New(reg, m.Handler(), zerolog.Nop()), b
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	return serveSigned(s, method, path, body, "")
}

func serveSigned(s *Server, method, path, body, sign string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if sign != "" {
		req.Header.Set(api.HeaderBotSign, sign)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	require.Len(t, resp.Bots, 2)
	assert.Equal(t, "main", resp.Bots[0].Name)
	assert.Equal(t, "bot_1", resp.Bots[0].BotID)
	assert.False(t, resp.Bots[0].Started)
}

func TestHandleCallback(t *testing.T) {
	s, b := newTestServer(t)
	got := make(chan *event.Event, 1)
	b.AddProcessor(func(_ context.Context, ev *event.Event, src *event.Source) error {
		assert.NotEmpty(t, src.JSON)
		got <- ev
		return nil
	})

	rec := serveSigned(s, http.MethodPost, "/callback/main", callbackBody, signBody(t, "s", callbackBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"","retcode":0}`, rec.Body.String())

	select {
	case ev := <-got:
		assert.Equal(t, "evt-cb", ev.ID)
		assert.Equal(t, uint64(1001), ev.VillaID())
	case <-time.After(5 * time.Second):
		require.FailNow(t, "callback event not dispatched")
	}

	rec = serve(s, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `villa_events_total{bot="bot_1",kind="JoinVilla"} 1`)
}

func TestHandleCallback_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodPost, "/callback/other", callbackBody).Code)
	assert.Equal(t, http.StatusBadRequest,
		serveSigned(s, http.MethodPost, "/callback/main", `{}`, signBody(t, "s", `{}`)).Code)
	assert.Equal(t, http.StatusBadRequest,
		serveSigned(s, http.MethodPost, "/callback/main", `not json`, signBody(t, "s", `not json`)).Code)
}

func TestHandleCallback_RejectsUnsigned(t *testing.T) {
	s, b := newTestServer(t)
	called := make(chan struct{}, 4)
	b.AddPreProcessor(func(context.Context, *event.Event, *event.Source) error {
		called <- struct{}{}
		return nil
	})

	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodPost, "/callback/main", callbackBody).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serveSigned(s, http.MethodPost, "/callback/main", callbackBody, signBody(t, "wrong", callbackBody)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serveSigned(s, http.MethodPost, "/callback/main", callbackBody, signBody(t, "s", `{"event":{}}`)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serveSigned(s, http.MethodPost, "/callback/nokey", callbackBody, signBody(t, "s", callbackBody)).Code)
	assert.Empty(t, called)
}

func TestHandleCallback_RejectsOversizedBody(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"pad":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := serveSigned(s, http.MethodPost, "/callback/main", body, signBody(t, "s", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleCallback_TerminatedBot(t *testing.T) {
	s, b := newTestServer(t)
	b.Cancel(nil)

	rec := serveSigned(s, http.MethodPost, "/callback/main", callbackBody, signBody(t, "s", callbackBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

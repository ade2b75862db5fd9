package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/bot"
	"github.com/villakit/villa/pkg/event"
	"github.com/villakit/villa/pkg/protocol"
)

func TestObserveCountsEvents(t *testing.T) {
	b, err := bot.New(api.Ticket{BotID: "bot_1", Secret: "s"}, bot.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { b.Cancel(nil) })

	m := New(nil)
	reg := m.Observe(b)

	src := &event.Source{Frame: &protocol.Frame{Body: []byte{1, 2, 3}}}
	require.NoError(t, b.Dispatch(&event.Event{Data: &event.JoinVilla{VillaID: 1}}, src))
	require.NoError(t, b.Dispatch(&event.Event{Data: &event.SendMessage{VillaID: 1}}, src))
	require.NoError(t, b.Dispatch(&event.Event{Data: &event.JoinVilla{VillaID: 2}}, nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("bot_1", "JoinVilla")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("bot_1", "SendMessage")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.eventBytes.WithLabelValues("bot_1")))

	reg.Dispose()
	require.NoError(t, b.Dispatch(&event.Event{Data: &event.JoinVilla{VillaID: 3}}, src))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("bot_1", "JoinVilla")))
}

func TestHandlerExposesActiveBots(t *testing.T) {
	m := New(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "villa_active_bots 3")
}

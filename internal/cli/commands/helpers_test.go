package commands

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/villakit/villa/pkg/api"
)

// useConfig writes body as the active config file inside a fresh state dir.
func useConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "villa.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	t.Setenv("VILLA_CONFIG_PATH", path)
	t.Setenv("VILLA_STATE_DIR", dir)
	return path
}

// botsConfig returns a config with status disabled and the given bots
// pointing at baseURL.
func botsConfig(baseURL string, bots ...string) string {
	list := ""
	for i, name := range bots {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf(`{"name": %q, "botId": "bot_%s", "secret": "secret_%s"}`, name, name, name)
	}
	return fmt.Sprintf(`{
  "bots": [%s],
  "api": {"baseUrl": %q},
  "status": {"enabled": false}
}`, list, baseURL)
}

// newFakeAPI serves getWebsocketInfo. Bots whose id is listed in reject get
// a non-zero retcode.
func newFakeAPI(t *testing.T, reject ...string) *httptest.Server {
	t.Helper()
	rejected := map[string]bool{}
	for _, id := range reject {
		rejected[id] = true
	}
	mux := http.NewServeMux()
	mux.HandleFunc(api.GetWebsocketInfoEndpoint.Path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if rejected[r.Header.Get(api.HeaderBotID)] {
			_, _ = w.Write([]byte(`{"retcode": -502, "message": "invalid bot", "data": null}`))
			return
		}
		_, _ = w.Write([]byte(`{"retcode": 0, "message": "", "data": {
  "websocket_url": "ws://gateway.test/ws",
  "uid": "59",
  "app_id": 104,
  "platform": 3,
  "device_id": "dev-1"
}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

package commands

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villakit/villa/internal/config"
	"github.com/villakit/villa/pkg/api"
)

func TestRunBots_AlreadyRunning(t *testing.T) {
	srv := newFakeAPI(t)
	useConfig(t, botsConfig(srv.URL, "main"))

	require.NoError(t, os.MkdirAll(config.StateDir(), 0755))
	lock := flock.New(config.LockPath())
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = lock.Unlock() }()

	cmd := NewRunCommand()
	cmd.SetErr(bytes.NewBufferString(""))
	err = runBots(context.Background(), cmd, runOptions{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRunBots_StartFailure(t *testing.T) {
	srv := newFakeAPI(t, "bot_main")
	useConfig(t, botsConfig(srv.URL, "main"))

	cmd := NewRunCommand()
	logs := bytes.NewBufferString("")
	cmd.SetErr(logs)
	err := runBots(context.Background(), cmd, runOptions{})
	require.Error(t, err)
	assert.True(t, api.IsCode(err, -502))
	assert.Contains(t, logs.String(), "Failed to start bot")
}

func TestRunBots_UnknownBot(t *testing.T) {
	useConfig(t, botsConfig("https://example.com", "main"))

	cmd := NewRunCommand()
	cmd.SetErr(bytes.NewBufferString(""))
	err := runBots(context.Background(), cmd, runOptions{bots: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bot 'nope'")
}

func TestRunBots_InvalidConfig(t *testing.T) {
	useConfig(t, `{"bots": []}`)

	cmd := NewRunCommand()
	cmd.SetErr(bytes.NewBufferString(""))
	err := runBots(context.Background(), cmd, runOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSelectBots(t *testing.T) {
	cfg := &config.Config{Bots: []config.BotConfig{
		{Name: "a", Disabled: true},
		{Name: "b"},
	}}
	require.NoError(t, selectBots(cfg, []string{"a"}))
	require.Len(t, cfg.Bots, 1)
	assert.Equal(t, "a", cfg.Bots[0].Name)
	assert.False(t, cfg.Bots[0].Disabled)
}

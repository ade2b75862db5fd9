package bot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/codec"
)

// Defaults applied by New.
const (
	DefaultLoginVillaID      = "0"
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultLoginTimeout      = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxFrameSize      = 4 << 20
)

// Config configures a Bot. The zero value is usable.
type Config struct {
	// Parent is the context the bot scope is created under. Cancelling it
	// terminates the bot.
	Parent context.Context

	// LoginVillaID is only used as a header and token value.
	LoginVillaID string
	// LoginRegion disambiguates connections of the same bot. Defaults to a
	// random value per bot.
	LoginRegion string
	LoginMeta   map[string]string

	HeartbeatInterval time.Duration
	LoginTimeout      time.Duration
	WriteTimeout      time.Duration
	// MaxFrameSize caps one inbound WebSocket message in bytes. A larger
	// message ends the connection.
	MaxFrameSize int64

	Reconnect ReconnectPolicy

	// API configures the REST client. API.Codec defaults to Codec.
	API api.Options
	// Dialer is the WebSocket engine. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Codec is the JSON codec. Defaults to codec.Default.
	Codec codec.Codec

	Logger *zerolog.Logger

	newTicker func(time.Duration) ticker
}

// ReconnectPolicy governs the reconnect cycle that follows a server shutdown.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime stops retrying after this long; zero retries until the
	// bot is cancelled.
	MaxElapsedTime time.Duration
	// MinCycleInterval is the minimum spacing between two reconnect cycles.
	MinCycleInterval time.Duration
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return b
}

func (c Config) withDefaults() Config {
	if c.Parent == nil {
		c.Parent = context.Background()
	}
	if c.LoginVillaID == "" {
		c.LoginVillaID = DefaultLoginVillaID
	}
	if c.LoginRegion == "" {
		c.LoginRegion = uuid.NewString()
	}
	if c.LoginMeta == nil {
		c.LoginMeta = map[string]string{}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Reconnect.InitialInterval <= 0 {
		c.Reconnect.InitialInterval = time.Second
	}
	if c.Reconnect.MaxInterval <= 0 {
		c.Reconnect.MaxInterval = time.Minute
	}
	if c.Reconnect.MinCycleInterval <= 0 {
		c.Reconnect.MinCycleInterval = time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	c.Codec = codec.OrDefault(c.Codec)
	if c.API.Codec == nil {
		c.API.Codec = c.Codec
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.API.Logger == nil {
		c.API.Logger = c.Logger
	}
	if c.newTicker == nil {
		c.newTicker = newTimeTicker
	}
	return c
}

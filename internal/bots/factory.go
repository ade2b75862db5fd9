package bots

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/villakit/villa/internal/config"
	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/bot"
)

// BotConfig translates one configured bot into runtime options.
func BotConfig(parent context.Context, cfg *config.Config, b config.BotConfig, logger *zerolog.Logger) bot.Config {
	return bot.Config{
		Parent:            parent,
		LoginVillaID:      b.LoginVillaID,
		LoginRegion:       b.Region,
		LoginMeta:         b.Meta,
		HeartbeatInterval: cfg.Heartbeat.Interval(),
		MaxFrameSize:      cfg.Gateway.MaxFrameSize,
		Reconnect: bot.ReconnectPolicy{
			InitialInterval:  cfg.Reconnect.InitialInterval,
			MaxInterval:      cfg.Reconnect.MaxInterval,
			MaxElapsedTime:   cfg.Reconnect.MaxElapsedTime,
			MinCycleInterval: cfg.Reconnect.MinCycleInterval,
		},
		API: api.Options{
			BaseURL:        cfg.API.BaseURL,
			RequestTimeout: cfg.API.RequestTimeout,
			ConnectTimeout: cfg.API.ConnectTimeout,
			SocketTimeout:  cfg.API.SocketTimeout,
		},
		Logger: logger,
	}
}

// FromConfig builds a registry holding every enabled bot of cfg. Bots are
// created but not started. Bots with a public key get a callback verifier.
func FromConfig(parent context.Context, cfg *config.Config, logger *zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	fail := func(err error) (*Registry, error) {
		for _, e := range r.All() {
			e.Bot.Cancel(nil)
		}
		return nil, err
	}
	for _, bc := range cfg.Bots {
		if bc.Disabled {
			continue
		}
		ticket := api.Ticket{BotID: bc.BotID, Secret: bc.Secret}
		var verifier *api.CallbackVerifier
		if bc.PubKey != "" {
			v, err := api.NewCallbackVerifier(ticket, bc.PubKey)
			if err != nil {
				return fail(fmt.Errorf("bot %q: %w", bc.Name, err))
			}
			verifier = v
		}
		b, err := bot.New(ticket, BotConfig(parent, cfg, bc, logger))
		if err != nil {
			return fail(fmt.Errorf("bot %q: %w", bc.Name, err))
		}
		if err := r.Register(bc.Name, b); err != nil {
			b.Cancel(nil)
			return fail(err)
		}
		if verifier != nil {
			_ = r.SetVerifier(bc.Name, verifier)
		}
	}
	return r, nil
}

// Package bots manages the set of bots a villa process runs.
package bots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/bot"
)

// Registry manages named bots.
type Registry struct {
	mu    sync.RWMutex
	bots  map[string]*bot.Bot
	order []string
	// verifiers check HTTP callbacks per bot name.
	verifiers map[string]*api.CallbackVerifier
	logger    *zerolog.Logger
}

// NewRegistry creates an empty bot registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		bots:      make(map[string]*bot.Bot),
		verifiers: make(map[string]*api.CallbackVerifier),
		logger:    logger,
	}
}

// Register adds b under name.
func (r *Registry) Register(name string, b *bot.Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bots[name]; exists {
		return fmt.Errorf("bot %q already registered", name)
	}
	r.bots[name] = b
	r.order = append(r.order, name)
	r.logger.Info().
		Str("bot", name).
		Str("botId", b.ID()).
		Msg("Bot registered")
	return nil
}

// Unregister cancels the bot and removes it.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	b, exists := r.bots[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("bot %q not found", name)
	}
	delete(r.bots, name)
	delete(r.verifiers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	b.Cancel(errors.New("unregistered"))
	r.logger.Info().Str("bot", name).Msg("Bot unregistered")
	return nil
}

// Get returns a bot by name.
func (r *Registry) Get(name string) (*bot.Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[name]
	return b, ok
}

// SetVerifier attaches the callback signature verifier of a registered bot.
func (r *Registry) SetVerifier(name string, v *api.CallbackVerifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[name]; !exists {
		return fmt.Errorf("bot %q not found", name)
	}
	r.verifiers[name] = v
	return nil
}

// Verifier returns the callback verifier of a bot, if one is configured.
func (r *Registry) Verifier(name string) (*api.CallbackVerifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[name]
	return v, ok
}

// Entry is a registered bot with its name.
type Entry struct {
	Name string
	Bot  *bot.Bot
}

// All returns all bots in registration order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, Entry{Name: name, Bot: r.bots[name]})
	}
	return result
}

// Len returns the number of registered bots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bots)
}

// Active counts the bots that are started and not terminated.
func (r *Registry) Active() int {
	n := 0
	for _, e := range r.All() {
		if e.Bot.IsStarted() && e.Bot.IsActive() {
			n++
		}
	}
	return n
}

// StartAll starts every bot. Failures are logged and returned together;
// the other bots are still started.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, e := range r.All() {
		if err := e.Bot.Start(ctx); err != nil {
			r.logger.Error().
				Err(err).
				Str("bot", e.Name).
				Msg("Failed to start bot")
			errs = append(errs, fmt.Errorf("bot %q: %w", e.Name, err))
			continue
		}
		r.logger.Info().Str("bot", e.Name).Msg("Bot started")
	}
	return errors.Join(errs...)
}

// StopAll cancels every bot and waits for them to complete or for ctx.
func (r *Registry) StopAll(ctx context.Context) error {
	entries := r.All()
	for _, e := range entries {
		e.Bot.Cancel(nil)
	}
	for _, e := range entries {
		if err := e.Bot.Join(ctx); err != nil {
			r.logger.Error().
				Err(err).
				Str("bot", e.Name).
				Msg("Bot did not stop in time")
			return err
		}
	}
	return nil
}

// Wait blocks until every bot has completed or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	for _, e := range r.All() {
		if err := e.Bot.Join(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the state of every bot in registration order.
func (r *Registry) Status() []Status {
	entries := r.All()
	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := Status{
			Name:      e.Name,
			BotID:     e.Bot.ID(),
			Started:   e.Bot.IsStarted(),
			Active:    e.Bot.IsActive(),
			Completed: e.Bot.IsCompleted(),
			Session:   e.Bot.Session(),
		}
		if err := e.Bot.Err(); err != nil {
			st.LastError = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Status represents a bot's state for API responses.
type Status struct {
	Name      string           `json:"name"`
	BotID     string           `json:"botId"`
	Started   bool             `json:"started"`
	Active    bool             `json:"active"`
	Completed bool             `json:"completed"`
	Session   *bot.SessionInfo `json:"session,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

// Package bot runs a Villa bot connection: gateway discovery, login,
// heartbeats, reconnects and dispatch of robot events to registered
// handlers.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/event"
	"github.com/villakit/villa/pkg/protocol"
)

// Bot is a single bot connection. Create it with New; a Bot is terminal once
// its scope ends and cannot be restarted.
type Bot struct {
	ticket api.Ticket
	cfg    Config
	api    *api.Client
	logger zerolog.Logger

	preProcessors *event.Registry
	processors    *event.Registry

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	// mu guards wg.Add against scope end and the fields below.
	mu         sync.Mutex
	wg         sync.WaitGroup
	session    *session
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	startMu    sync.Mutex
	started    atomic.Bool
	terminated atomic.Bool
}

// New creates a bot for ticket. Nothing is connected until Start.
func New(ticket api.Ticket, cfg Config) (*Bot, error) {
	if ticket.BotID == "" || ticket.Secret == "" {
		return nil, ErrInvalidTicket
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With().Str("component", "villa-bot").Str("botId", ticket.BotID).Logger()

	ctx, cancel := context.WithCancelCause(cfg.Parent)
	b := &Bot{
		ticket:        ticket,
		cfg:           cfg,
		api:           api.NewClient(ticket, cfg.API),
		logger:        logger,
		preProcessors: event.NewRegistry(),
		processors:    event.NewRegistry(),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go b.awaitScope()
	return b, nil
}

func (b *Bot) awaitScope() {
	<-b.ctx.Done()
	// wg.Add only happens under mu after checking the scope.
	b.mu.Lock()
	b.mu.Unlock() //nolint:staticcheck
	b.wg.Wait()
	b.logger.Debug().Err(context.Cause(b.ctx)).Msg("Bot scope completed")
	close(b.done)
}

// goScoped runs fn on a goroutine owned by the bot scope. It reports false
// when the scope has already ended.
func (b *Bot) goScoped(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// ID returns the bot id.
func (b *Bot) ID() string { return b.ticket.BotID }

// Ticket returns the credentials of the bot.
func (b *Bot) Ticket() api.Ticket { return b.ticket }

// API returns the REST client of the bot.
func (b *Bot) API() *api.Client { return b.api }

// Start connects and logs in, returning once the bot receives events. It
// fails with the gateway or login error, leaving the bot not started. A
// second Start replaces the running connection.
func (b *Bot) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrBotTerminated, context.Cause(b.ctx))
	}
	b.stopLoop()
	b.started.Store(false)

	loopCtx, loopCancel := context.WithCancel(b.ctx)
	stopWatch := context.AfterFunc(ctx, loopCancel)

	m := newMachine(b)
	err := m.establish(loopCtx)
	if !stopWatch() && err == nil {
		err = ctx.Err()
		m.closeSession()
	}
	if err != nil {
		loopCancel()
		if b.ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrBotTerminated, context.Cause(b.ctx))
		}
		b.logger.Error().Err(err).Msg("Failed to start bot")
		return err
	}

	loopDone := make(chan struct{})
	if !b.goScoped(func() {
		defer close(loopDone)
		m.run(loopCtx, stateReceive)
	}) {
		loopCancel()
		m.closeSession()
		return ErrBotTerminated
	}

	b.mu.Lock()
	b.loopCancel = loopCancel
	b.loopDone = loopDone
	b.mu.Unlock()

	b.started.Store(true)
	b.logger.Info().Msg("Bot started")
	return nil
}

// stopLoop ends the running connection loop, if any, and waits for it.
func (b *Bot) stopLoop() {
	b.mu.Lock()
	cancel, done := b.loopCancel, b.loopDone
	b.loopCancel, b.loopDone = nil, nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Logout asks the gateway to end the session. The bot terminates with
// ErrLoggedOut once the gateway confirms.
func (b *Bot) Logout(context.Context) error {
	s := b.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	_, err := s.send(&protocol.Logout{
		UID:      uint64(s.info.UID),
		Platform: s.info.Platform,
		AppID:    s.info.AppID,
		DeviceID: s.info.DeviceID,
		Region:   s.region,
	})
	return err
}

// Cancel terminates the bot. It reports whether this call ended the scope.
func (b *Bot) Cancel(reason error) bool {
	cause := ErrBotCancelled
	if reason != nil {
		cause = fmt.Errorf("%w: %w", ErrBotCancelled, reason)
	}
	return b.terminate(cause)
}

func (b *Bot) terminate(cause error) bool {
	if b.ctx.Err() != nil || !b.terminated.CompareAndSwap(false, true) {
		return false
	}
	b.logger.Info().Err(cause).Msg("Bot terminating")
	b.cancel(cause)
	return true
}

// Join blocks until the bot scope and everything it started have finished.
func (b *Bot) Join(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the bot has completed.
func (b *Bot) Done() <-chan struct{} { return b.done }

// Err returns the termination cause, or nil while the bot is active.
func (b *Bot) Err() error {
	if b.ctx.Err() == nil {
		return nil
	}
	return context.Cause(b.ctx)
}

// IsStarted reports whether the last Start reached the receiving state.
func (b *Bot) IsStarted() bool { return b.started.Load() }

// IsActive reports whether the bot scope is still running.
func (b *Bot) IsActive() bool { return b.ctx.Err() == nil }

// IsCancelled reports whether the bot scope has been cancelled, for any
// reason.
func (b *Bot) IsCancelled() bool { return b.ctx.Err() != nil }

// IsCompleted reports whether the bot scope has ended and all its
// goroutines have returned.
func (b *Bot) IsCompleted() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Session describes the current connection, or returns nil when there is
// none.
func (b *Bot) Session() *SessionInfo {
	s := b.currentSession()
	if s == nil {
		return nil
	}
	return s.snapshot()
}

func (b *Bot) currentSession() *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bot) setSession(s *session) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

func (b *Bot) clearSession(s *session) {
	b.mu.Lock()
	if b.session == s {
		b.session = nil
	}
	b.mu.Unlock()
}

// AddPreProcessor registers h to run synchronously, in registration order,
// before processors for every event.
func (b *Bot) AddPreProcessor(h event.Handler) *event.Registration {
	return b.preProcessors.Add(h)
}

// AddPreProcessorFor is AddPreProcessor restricted to events of kind k.
func (b *Bot) AddPreProcessorFor(k event.Kind, h event.Handler) *event.Registration {
	return b.preProcessors.AddFor(k, h)
}

// AddProcessor registers h to run on its own goroutine for every event.
func (b *Bot) AddProcessor(h event.Handler) *event.Registration {
	return b.processors.Add(h)
}

// AddProcessorFor is AddProcessor restricted to events of kind k.
func (b *Bot) AddProcessorFor(k event.Kind, h event.Handler) *event.Registration {
	return b.processors.AddFor(k, h)
}

// dispatch runs pre-processors in order, then launches every processor
// concurrently. Processors run under the bot scope. Nothing runs once the
// scope has ended.
func (b *Bot) dispatch(ev *event.Event, src *event.Source) bool {
	if b.ctx.Err() != nil {
		return false
	}
	for _, h := range b.preProcessors.Handlers(ev.Kind()) {
		b.invoke(b.ctx, "pre-processor", h, ev, src)
	}
	for _, h := range b.processors.Handlers(ev.Kind()) {
		if !b.goScoped(func() { b.invoke(b.ctx, "processor", h, ev, src) }) {
			return false
		}
	}
	return true
}

// Dispatch delivers an event obtained outside the gateway, such as an HTTP
// callback, as if it had been received on the connection. It fails with
// ErrBotTerminated once the bot has ended.
func (b *Bot) Dispatch(ev *event.Event, src *event.Source) error {
	if src == nil {
		src = &event.Source{}
	}
	if !b.dispatch(ev, src) {
		return fmt.Errorf("%w: %w", ErrBotTerminated, context.Cause(b.ctx))
	}
	return nil
}

func (b *Bot) invoke(ctx context.Context, role string, h event.Handler, ev *event.Event, src *event.Source) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("role", role).
				Stringer("kind", ev.Kind()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Event handler panicked")
		}
	}()
	if err := h(ctx, ev, src); err != nil {
		b.logger.Error().
			Err(err).
			Str("role", role).
			Stringer("kind", ev.Kind()).
			Str("eventId", ev.ID).
			Msg("Event handler failed")
	}
}

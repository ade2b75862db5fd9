package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/event"
	"github.com/villakit/villa/pkg/protocol"
)

type state int

const (
	stateFetchGatewayInfo state = iota
	stateConnect
	stateLogin
	stateInitHeartbeat
	stateReceive
	stateTerminated
)

var stateNames = [...]string{
	stateFetchGatewayInfo: "fetch-gateway-info",
	stateConnect:          "connect",
	stateLogin:            "login",
	stateInitHeartbeat:    "init-heartbeat",
	stateReceive:          "receive",
	stateTerminated:       "terminated",
}

func (s state) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// machine drives one bot through connection states. States before receive
// run synchronously inside Start; the rest run on the loop goroutine.
type machine struct {
	bot    *Bot
	logger zerolog.Logger

	info    *api.WebsocketInfo
	session *session
	// pending holds frames that arrived while waiting for the login reply.
	pending *queue.Queue

	reconnecting bool
	limiter      *rate.Limiter
	retry        backoff.BackOff
}

func newMachine(b *Bot) *machine {
	return &machine{
		bot:     b,
		logger:  b.logger,
		pending: queue.New(),
		limiter: rate.NewLimiter(rate.Every(b.cfg.Reconnect.MinCycleInterval), 1),
	}
}

func (m *machine) step(ctx context.Context, st state) (state, error) {
	switch st {
	case stateFetchGatewayInfo:
		return m.fetchGatewayInfo(ctx)
	case stateConnect:
		return m.connect(ctx)
	case stateLogin:
		return m.login(ctx)
	case stateInitHeartbeat:
		return m.initHeartbeat(ctx)
	case stateReceive:
		return m.receive(ctx), nil
	default:
		return stateTerminated, nil
	}
}

// establish runs the states up to receive.
func (m *machine) establish(ctx context.Context) error {
	st := stateFetchGatewayInfo
	for st != stateReceive {
		next, err := m.step(ctx, st)
		if err != nil {
			m.closeSession()
			return err
		}
		m.logger.Debug().Stringer("from", st).Stringer("to", next).Msg("State transition")
		st = next
	}
	return nil
}

// run drives the machine from st until the bot terminates or ctx ends.
func (m *machine) run(ctx context.Context, st state) {
	defer m.closeSession()
	for st != stateTerminated {
		next, err := m.step(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			next = m.recoverFrom(ctx, st, err)
		}
		if next == stateReceive {
			m.retry = nil
		}
		if next != st {
			m.logger.Debug().Stringer("from", st).Stringer("to", next).Msg("State transition")
		}
		st = next
	}
}

// recoverFrom decides what follows a failed reconnect state.
func (m *machine) recoverFrom(ctx context.Context, st state, err error) state {
	m.closeSession()

	var loginErr *LoginError
	if errors.As(err, &loginErr) {
		m.bot.terminate(err)
		return stateTerminated
	}

	if m.retry == nil {
		m.retry = backoff.WithContext(m.bot.cfg.Reconnect.backOff(), ctx)
	}
	delay := m.retry.NextBackOff()
	if delay == backoff.Stop {
		m.bot.terminate(fmt.Errorf("%w: %w", ErrReconnectFailed, err))
		return stateTerminated
	}

	m.logger.Warn().Err(err).Stringer("state", st).Dur("retryIn", delay).Msg("Reconnect attempt failed")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return stateTerminated
	case <-timer.C:
		return stateFetchGatewayInfo
	}
}

func (m *machine) fetchGatewayInfo(ctx context.Context) (state, error) {
	if m.reconnecting {
		if err := m.limiter.Wait(ctx); err != nil {
			return stateTerminated, err
		}
	}
	info, err := m.bot.api.GetWebsocketInfo(ctx, m.bot.cfg.LoginVillaID)
	if err != nil {
		return stateTerminated, fmt.Errorf("bot: fetch gateway info: %w", err)
	}
	m.info = info
	m.logger.Debug().
		Str("url", info.WebsocketURL).
		Uint64("uid", uint64(info.UID)).
		Int32("appId", info.AppID).
		Msg("Gateway info fetched")
	return stateConnect, nil
}

func (m *machine) connect(ctx context.Context) (state, error) {
	conn, _, err := m.bot.cfg.Dialer.DialContext(ctx, m.info.WebsocketURL, nil)
	if err != nil {
		return stateTerminated, fmt.Errorf("bot: connect %s: %w", m.info.WebsocketURL, err)
	}
	conn.SetReadLimit(m.bot.cfg.MaxFrameSize)
	m.session = newSession(ctx, conn, *m.info, m.bot.cfg.LoginRegion, m.bot.cfg.WriteTimeout, m.logger)
	return stateLogin, nil
}

func (m *machine) login(ctx context.Context) (state, error) {
	s := m.session
	cfg := m.bot.cfg
	m.pending = queue.New()

	_, err := s.send(&protocol.Login{
		UID:      uint64(s.info.UID),
		Token:    protocol.LoginToken(cfg.LoginVillaID, m.bot.ticket.Secret, m.bot.ticket.BotID),
		Platform: s.info.Platform,
		AppID:    s.info.AppID,
		DeviceID: s.info.DeviceID,
		Region:   s.region,
		Meta:     cfg.LoginMeta,
	})
	if err != nil {
		return stateTerminated, err
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.LoginTimeout))
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		f, err := s.readFrame()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				m.logger.Warn().Err(err).Msg("Dropping frame")
				continue
			}
			if ctx.Err() != nil {
				return stateTerminated, ctx.Err()
			}
			return stateTerminated, fmt.Errorf("bot: waiting for login reply: %w", err)
		}
		if f.BizType != protocol.BizTypeLogin {
			m.pending.Add(f)
			continue
		}

		var reply protocol.LoginReply
		if err := reply.UnmarshalBinary(f.Body); err != nil {
			return stateTerminated, fmt.Errorf("bot: decode login reply: %w", err)
		}
		if !reply.OK() {
			return stateTerminated, &LoginError{Code: reply.Code, Message: reply.Msg}
		}
		s.connID.Store(reply.ConnID)
		m.bot.setSession(s)
		m.logger.Info().
			Uint64("connId", reply.ConnID).
			Uint64("serverTimestamp", reply.ServerTimestamp).
			Int("buffered", m.pending.Length()).
			Msg("Logged in")
		return stateInitHeartbeat, nil
	}
}

func (m *machine) initHeartbeat(context.Context) (state, error) {
	s := m.session
	hb := newHeartbeat(m.bot.cfg.HeartbeatInterval, m.bot.cfg.newTicker, s.sendHeartbeat, m.logger)
	touch := hb.Touch
	s.onSend.Store(&touch)
	if !m.bot.goScoped(func() { hb.countdown(s.ctx) }) || !m.bot.goScoped(func() { hb.watch(s.ctx) }) {
		return stateTerminated, ErrBotTerminated
	}
	return stateReceive, nil
}

// receive replays buffered frames, then reads until the session ends.
func (m *machine) receive(ctx context.Context) state {
	for m.pending.Length() > 0 {
		f := m.pending.Remove().(*protocol.Frame)
		if next, done := m.handle(f); done {
			return next
		}
	}

	s := m.session
	for {
		if ctx.Err() != nil {
			return stateTerminated
		}
		f, err := s.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return stateTerminated
			}
			if errors.Is(err, errMalformedFrame) {
				m.logger.Warn().Err(err).Msg("Dropping frame")
				continue
			}
			m.logger.Error().Err(err).Msg("Connection lost")
			m.bot.terminate(fmt.Errorf("%w: %w", ErrConnectionLost, err))
			return stateTerminated
		}
		if next, done := m.handle(f); done {
			return next
		}
	}
}

// handle processes one inbound frame; done reports a state change.
func (m *machine) handle(f *protocol.Frame) (state, bool) {
	log := m.logger.With().Str("bizType", f.BizType.String()).Uint64("frameId", f.ID).Logger()

	switch f.BizType {
	case protocol.BizTypeHeartbeat:
		var reply protocol.HeartbeatReply
		if err := reply.UnmarshalBinary(f.Body); err != nil {
			log.Warn().Err(err).Msg("Bad heartbeat reply")
			return stateReceive, false
		}
		log.Debug().Int32("code", reply.Code).Uint64("serverTimestamp", reply.ServerTimestamp).Msg("Heartbeat acknowledged")

	case protocol.BizTypeLogin:
		log.Debug().Msg("Ignoring login reply outside login")

	case protocol.BizTypeLogout:
		var reply protocol.LogoutReply
		if err := reply.UnmarshalBinary(f.Body); err != nil {
			log.Warn().Err(err).Msg("Bad logout reply")
			return stateReceive, false
		}
		if !reply.OK() {
			log.Warn().Int32("code", reply.Code).Str("msg", reply.Msg).Msg("Logout rejected")
			return stateReceive, false
		}
		log.Info().Uint64("connId", reply.ConnID).Msg("Logged out")
		m.closeSession()
		m.bot.terminate(ErrLoggedOut)
		return stateTerminated, true

	case protocol.BizTypeShutdown:
		log.Info().Msg("Gateway shutting down, reconnecting")
		m.closeSession()
		m.reconnecting = true
		return stateFetchGatewayInfo, true

	case protocol.BizTypeKickOff:
		var k protocol.KickOff
		if err := k.UnmarshalBinary(f.Body); err != nil {
			log.Warn().Err(err).Msg("Bad kick-off payload")
		}
		log.Warn().Int32("code", k.Code).Str("reason", k.Reason).Msg("Kicked off")
		m.closeSession()
		m.bot.terminate(&KickOffError{Code: k.Code, Reason: k.Reason})
		return stateTerminated, true

	case protocol.BizTypeRobotEvent:
		ev, err := event.DecodeProto(f.Body)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode robot event")
			return stateReceive, false
		}
		_ = m.bot.dispatch(ev, &event.Source{Frame: f})

	case protocol.BizTypeUplink:
		log.Warn().Msg("Unexpected uplink frame from gateway")

	default:
		log.Warn().Msg("Unknown frame")
	}
	return stateReceive, false
}

func (m *machine) closeSession() {
	if m.session == nil {
		return
	}
	m.session.close()
	m.bot.clearSession(m.session)
	m.session = nil
}

package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrBotTerminated is returned by Start once the bot scope has ended.
	ErrBotTerminated = errors.New("bot: terminated")
	// ErrInvalidTicket is returned by New for a ticket without id or secret.
	ErrInvalidTicket = errors.New("bot: ticket needs a bot id and secret")
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("bot: no active session")

	// Termination causes, reported by Err.
	ErrBotCancelled    = errors.New("bot: cancelled")
	ErrKickedOff       = errors.New("bot: kicked off")
	ErrLoggedOut       = errors.New("bot: logged out")
	ErrConnectionLost  = errors.New("bot: connection lost")
	ErrReconnectFailed = errors.New("bot: reconnect failed")

	ErrLoginFailed = errors.New("bot: login failed")
)

// LoginError is a login rejected by the gateway.
type LoginError struct {
	Code    int32
	Message string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("bot: login failed: code %d: %s", e.Code, e.Message)
}

func (e *LoginError) Unwrap() error { return ErrLoginFailed }

// KickOffError reports that another connection took over the bot identity.
type KickOffError struct {
	Code   int32
	Reason string
}

func (e *KickOffError) Error() string {
	return fmt.Sprintf("bot: kicked off: code %d: %s", e.Code, e.Reason)
}

func (e *KickOffError) Unwrap() error { return ErrKickedOff }

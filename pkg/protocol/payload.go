package protocol

import (
	"encoding"
	"fmt"
	"strconv"
	"time"
)

// Payload is a typed frame body.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	BizType() BizType
}

var (
	_ Payload = (*Login)(nil)
	_ Payload = (*LoginReply)(nil)
	_ Payload = (*Heartbeat)(nil)
	_ Payload = (*HeartbeatReply)(nil)
	_ Payload = (*Logout)(nil)
	_ Payload = (*LogoutReply)(nil)
	_ Payload = (*KickOff)(nil)
	_ Payload = (*Shutdown)(nil)
)

// LoginToken builds the token carried by a Login payload.
func LoginToken(villaID, secret, botID string) string {
	return villaID + "." + secret + "." + botID
}

// Login authenticates a connection.
type Login struct {
	UID      uint64
	Token    string
	Platform int32
	AppID    int32
	DeviceID string
	// Region is chosen by the client and, together with uid, app id and
	// platform, tells connections of the same bot apart.
	Region string
	Meta   map[string]string
}

func (*Login) BizType() BizType { return BizTypeLogin }

func (p *Login) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint64(1, p.UID)
	e.String(2, p.Token)
	e.Int32(3, p.Platform)
	e.Int32(4, p.AppID)
	e.String(5, p.DeviceID)
	e.String(6, p.Region)
	e.StringMap(7, p.Meta)
	return e.Bytes(), nil
}

func (p *Login) UnmarshalBinary(b []byte) error {
	*p = Login{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.UID = f.Uint64()
		case 2:
			p.Token = f.String()
		case 3:
			p.Platform = f.Int32()
		case 4:
			p.AppID = f.Int32()
		case 5:
			p.DeviceID = f.String()
		case 6:
			p.Region = f.String()
		case 7:
			k, v, err := DecodeStringMapEntry(f.Raw())
			if err != nil {
				return fmt.Errorf("login meta: %w", err)
			}
			if p.Meta == nil {
				p.Meta = make(map[string]string)
			}
			p.Meta[k] = v
		}
		return nil
	})
}

// LoginReply answers a Login. A non-zero Code is a rejection.
type LoginReply struct {
	Code            int32
	Msg             string
	ServerTimestamp uint64
	ConnID          uint64
}

func (*LoginReply) BizType() BizType { return BizTypeLogin }

func (p *LoginReply) OK() bool { return p.Code == 0 }

func (p *LoginReply) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Int32(1, p.Code)
	e.String(2, p.Msg)
	e.Uint64(3, p.ServerTimestamp)
	e.Uint64(4, p.ConnID)
	return e.Bytes(), nil
}

func (p *LoginReply) UnmarshalBinary(b []byte) error {
	*p = LoginReply{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.Code = f.Int32()
		case 2:
			p.Msg = f.String()
		case 3:
			p.ServerTimestamp = f.Uint64()
		case 4:
			p.ConnID = f.Uint64()
		}
		return nil
	})
}

// Heartbeat keeps a connection alive. ClientTimestamp is in milliseconds.
type Heartbeat struct {
	ClientTimestamp string
}

// NewHeartbeat stamps a heartbeat with t.
func NewHeartbeat(t time.Time) *Heartbeat {
	return &Heartbeat{ClientTimestamp: strconv.FormatInt(t.UnixMilli(), 10)}
}

func (*Heartbeat) BizType() BizType { return BizTypeHeartbeat }

func (p *Heartbeat) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.String(1, p.ClientTimestamp)
	return e.Bytes(), nil
}

func (p *Heartbeat) UnmarshalBinary(b []byte) error {
	*p = Heartbeat{}
	return RangeFields(b, func(f Field) error {
		if f.Num == 1 {
			p.ClientTimestamp = f.String()
		}
		return nil
	})
}

type HeartbeatReply struct {
	Code            int32
	ServerTimestamp uint64
}

func (*HeartbeatReply) BizType() BizType { return BizTypeHeartbeat }

func (p *HeartbeatReply) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Int32(1, p.Code)
	e.Uint64(2, p.ServerTimestamp)
	return e.Bytes(), nil
}

func (p *HeartbeatReply) UnmarshalBinary(b []byte) error {
	*p = HeartbeatReply{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.Code = f.Int32()
		case 2:
			p.ServerTimestamp = f.Uint64()
		}
		return nil
	})
}

// Logout ends a connection cleanly.
type Logout struct {
	UID      uint64
	Platform int32
	AppID    int32
	DeviceID string
	Region   string
}

func (*Logout) BizType() BizType { return BizTypeLogout }

func (p *Logout) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint64(1, p.UID)
	e.Int32(2, p.Platform)
	e.Int32(3, p.AppID)
	e.String(4, p.DeviceID)
	e.String(5, p.Region)
	return e.Bytes(), nil
}

func (p *Logout) UnmarshalBinary(b []byte) error {
	*p = Logout{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.UID = f.Uint64()
		case 2:
			p.Platform = f.Int32()
		case 3:
			p.AppID = f.Int32()
		case 4:
			p.DeviceID = f.String()
		case 5:
			p.Region = f.String()
		}
		return nil
	})
}

type LogoutReply struct {
	Code   int32
	Msg    string
	ConnID uint64
}

func (*LogoutReply) BizType() BizType { return BizTypeLogout }

func (p *LogoutReply) OK() bool { return p.Code == 0 }

func (p *LogoutReply) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Int32(1, p.Code)
	e.String(2, p.Msg)
	e.Uint64(3, p.ConnID)
	return e.Bytes(), nil
}

func (p *LogoutReply) UnmarshalBinary(b []byte) error {
	*p = LogoutReply{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.Code = f.Int32()
		case 2:
			p.Msg = f.String()
		case 3:
			p.ConnID = f.Uint64()
		}
		return nil
	})
}

// KickOff is sent when another connection authenticated as the same bot.
type KickOff struct {
	Code   int32
	Reason string
}

func (*KickOff) BizType() BizType { return BizTypeKickOff }

func (p *KickOff) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Int32(1, p.Code)
	e.String(2, p.Reason)
	return e.Bytes(), nil
}

func (p *KickOff) UnmarshalBinary(b []byte) error {
	*p = KickOff{}
	return RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			p.Code = f.Int32()
		case 2:
			p.Reason = f.String()
		}
		return nil
	})
}

// Shutdown asks the client to reconnect. It carries no fields.
type Shutdown struct{}

func (*Shutdown) BizType() BizType { return BizTypeShutdown }

func (*Shutdown) MarshalBinary() ([]byte, error) { return nil, nil }

func (*Shutdown) UnmarshalBinary([]byte) error { return nil }

package protocol

import "fmt"

// BizType selects how a frame body is interpreted.
type BizType uint32

const (
	BizTypeUplink     BizType = 0
	BizTypeHeartbeat  BizType = 6
	BizTypeLogin      BizType = 7
	BizTypeLogout     BizType = 8
	BizTypeShutdown   BizType = 52
	BizTypeKickOff    BizType = 53
	BizTypeRobotEvent BizType = 30001
)

var bizTypeNames = map[BizType]string{
	BizTypeUplink:     "uplink",
	BizTypeHeartbeat:  "heartbeat",
	BizTypeLogin:      "login",
	BizTypeLogout:     "logout",
	BizTypeShutdown:   "shutdown",
	BizTypeKickOff:    "kick-off",
	BizTypeRobotEvent: "robot-event",
}

func (b BizType) String() string {
	if name, ok := bizTypeNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bizType(%d)", uint32(b))
}

// Known reports whether b is part of the catalog.
func (b BizType) Known() bool {
	_, ok := bizTypeNames[b]
	return ok
}

// Encoded reports whether the payload of b is carried in protobuf form.
// Shutdown has no payload, and kick-off fields are read leniently.
func (b BizType) Encoded() bool {
	switch b {
	case BizTypeHeartbeat, BizTypeLogin, BizTypeLogout, BizTypeRobotEvent:
		return true
	default:
		return false
	}
}

// Package event defines the Villa robot event envelope and the registry that
// routes decoded events to handlers.
//
// An Event carries exactly one typed payload (Data). The binary form received
// over the WebSocket and the JSON form delivered to HTTP callbacks both
// decode into the same shape, so handlers never see which transport produced
// an event.
package event

import "fmt"

// Kind is the numeric robot event type.
type Kind int32

const (
	KindUnknown           Kind = 0
	KindJoinVilla         Kind = 1
	KindSendMessage       Kind = 2
	KindCreateRobot       Kind = 3
	KindDeleteRobot       Kind = 4
	KindAddQuickEmoticon  Kind = 5
	KindAuditCallback     Kind = 6
	KindClickMsgComponent Kind = 7
)

// Kinds lists every known event kind in numeric order.
var Kinds = []Kind{
	KindJoinVilla,
	KindSendMessage,
	KindCreateRobot,
	KindDeleteRobot,
	KindAddQuickEmoticon,
	KindAuditCallback,
	KindClickMsgComponent,
}

var kindNames = map[Kind]string{
	KindJoinVilla:         "JoinVilla",
	KindSendMessage:       "SendMessage",
	KindCreateRobot:       "CreateRobot",
	KindDeleteRobot:       "DeleteRobot",
	KindAddQuickEmoticon:  "AddQuickEmoticon",
	KindAuditCallback:     "AuditCallback",
	KindClickMsgComponent: "ClickMsgComponent",
}

// String returns the event name used as the JSON key of the payload.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Known reports whether k is one of the seven defined kinds.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// KindByName resolves a payload key such as "JoinVilla".
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Event is a decoded robot event.
type Event struct {
	Robot     Robot  `json:"robot"`
	Type      Kind   `json:"type"`
	Data      Data   `json:"-"`
	CreatedAt int64  `json:"created_at"`
	SendAt    int64  `json:"send_at"`
	ID        string `json:"id"`
}

// Kind returns the tag of the populated payload.
func (e *Event) Kind() Kind {
	if e.Data == nil {
		return KindUnknown
	}
	return e.Data.Kind()
}

// VillaID returns the villa the event happened in. Most payloads carry it;
// the robot context is the fallback.
func (e *Event) VillaID() uint64 {
	if v, ok := e.Data.(interface{ villa() uint64 }); ok && v.villa() != 0 {
		return v.villa()
	}
	return e.Robot.VillaID
}

// Robot is the bot context an event was delivered for.
type Robot struct {
	Template RobotTemplate `json:"template"`
	VillaID  uint64        `json:"villa_id"`
}

type RobotTemplate struct {
	ID                       string         `json:"id"`
	Name                     string         `json:"name"`
	Desc                     string         `json:"desc"`
	Icon                     string         `json:"icon"`
	Commands                 []RobotCommand `json:"commands,omitempty"`
	IsAllowedAddToOtherVilla bool           `json:"is_allowed_add_to_other_villa"`
}

type RobotCommand struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// Data is the sealed set of event payloads.
type Data interface {
	Kind() Kind
	isData()
}

// JoinVilla is sent when a user joins a villa the bot is in.
type JoinVilla struct {
	JoinUID          uint64 `json:"join_uid"`
	JoinUserNickname string `json:"join_user_nickname"`
	JoinAt           int64  `json:"join_at"`
	VillaID          uint64 `json:"villa_id"`
}

// SendMessage is a message addressed to the bot. Content is the raw message
// content JSON as delivered by the platform.
type SendMessage struct {
	Content    string        `json:"content"`
	FromUserID uint64        `json:"from_user_id"`
	SendAt     int64         `json:"send_at"`
	RoomID     uint64        `json:"room_id"`
	ObjectName int32         `json:"object_name"`
	Nickname   string        `json:"nickname"`
	MsgUID     string        `json:"msg_uid"`
	BotMsgID   string        `json:"bot_msg_id"`
	VillaID    uint64        `json:"villa_id"`
	QuoteMsg   *QuoteMessage `json:"quote_msg,omitempty"`
}

type QuoteMessage struct {
	Content          string `json:"content"`
	MsgUID           string `json:"msg_uid"`
	SendAt           int64  `json:"send_at"`
	MsgType          string `json:"msg_type"`
	BotMsgID         string `json:"bot_msg_id"`
	FromUserID       uint64 `json:"from_user_id"`
	FromUserIDStr    string `json:"from_user_id_str"`
	FromUserNickname string `json:"from_user_nickname"`
}

// CreateRobot is sent when the bot is added to a villa.
type CreateRobot struct {
	VillaID uint64 `json:"villa_id"`
}

// DeleteRobot is sent when the bot is removed from a villa.
type DeleteRobot struct {
	VillaID uint64 `json:"villa_id"`
}

// AddQuickEmoticon is a quick emoticon reaction on a bot message.
type AddQuickEmoticon struct {
	VillaID      uint64 `json:"villa_id"`
	RoomID       uint64 `json:"room_id"`
	UID          uint64 `json:"uid"`
	EmoticonID   uint32 `json:"emoticon_id"`
	Emoticon     string `json:"emoticon"`
	MsgUID       string `json:"msg_uid"`
	IsCancel     bool   `json:"is_cancel"`
	BotMsgID     string `json:"bot_msg_id"`
	EmoticonType uint32 `json:"emoticon_type"`
}

// AuditResult is the verdict of a content audit.
type AuditResult int32

const (
	AuditResultNone   AuditResult = 0
	AuditResultPass   AuditResult = 1
	AuditResultReject AuditResult = 2
)

// AuditCallback reports the result of an audit the bot requested.
type AuditCallback struct {
	AuditID     string      `json:"audit_id"`
	BotTplID    string      `json:"bot_tpl_id"`
	VillaID     uint64      `json:"villa_id"`
	RoomID      uint64      `json:"room_id"`
	UserID      uint64      `json:"user_id"`
	PassThrough string      `json:"pass_through"`
	AuditResult AuditResult `json:"audit_result"`
}

// ClickMsgComponent is a click on an interactive message component.
type ClickMsgComponent struct {
	VillaID     uint64 `json:"villa_id"`
	RoomID      uint64 `json:"room_id"`
	ComponentID string `json:"component_id"`
	MsgUID      string `json:"msg_uid"`
	UID         uint64 `json:"uid"`
	BotMsgID    string `json:"bot_msg_id"`
	TemplateID  uint64 `json:"template_id"`
	Extra       string `json:"extra"`
}

func (*JoinVilla) Kind() Kind         { return KindJoinVilla }
func (*SendMessage) Kind() Kind       { return KindSendMessage }
func (*CreateRobot) Kind() Kind       { return KindCreateRobot }
func (*DeleteRobot) Kind() Kind       { return KindDeleteRobot }
func (*AddQuickEmoticon) Kind() Kind  { return KindAddQuickEmoticon }
func (*AuditCallback) Kind() Kind     { return KindAuditCallback }
func (*ClickMsgComponent) Kind() Kind { return KindClickMsgComponent }

func (*JoinVilla) isData()         {}
func (*SendMessage) isData()       {}
func (*CreateRobot) isData()       {}
func (*DeleteRobot) isData()       {}
func (*AddQuickEmoticon) isData()  {}
func (*AuditCallback) isData()     {}
func (*ClickMsgComponent) isData() {}

func (d *JoinVilla) villa() uint64         { return d.VillaID }
func (d *SendMessage) villa() uint64       { return d.VillaID }
func (d *CreateRobot) villa() uint64       { return d.VillaID }
func (d *DeleteRobot) villa() uint64       { return d.VillaID }
func (d *AddQuickEmoticon) villa() uint64  { return d.VillaID }
func (d *AuditCallback) villa() uint64     { return d.VillaID }
func (d *ClickMsgComponent) villa() uint64 { return d.VillaID }

// newData allocates the zero payload for k.
func newData(k Kind) Data {
	switch k {
	case KindJoinVilla:
		return &JoinVilla{}
	case KindSendMessage:
		return &SendMessage{}
	case KindCreateRobot:
		return &CreateRobot{}
	case KindDeleteRobot:
		return &DeleteRobot{}
	case KindAddQuickEmoticon:
		return &AddQuickEmoticon{}
	case KindAuditCallback:
		return &AuditCallback{}
	case KindClickMsgComponent:
		return &ClickMsgComponent{}
	default:
		return nil
	}
}

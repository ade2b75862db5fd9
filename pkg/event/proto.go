package event

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/villakit/villa/pkg/protocol"
)

var (
	ErrNoEventData        = errors.New("event: no payload populated")
	ErrAmbiguousEventData = errors.New("event: more than one payload populated")
	ErrKindMismatch       = errors.New("event: type does not match payload")
	ErrUnknownKind        = errors.New("event: unknown event kind")
)

// protoData is implemented by every payload.
type protoData interface {
	Data
	setField(f protocol.Field) error
	writeTo(e *protocol.Encoder)
}

// DecodeProto decodes the binary RobotEvent carried by a robot-event frame.
func DecodeProto(b []byte) (*Event, error) {
	ev := &Event{}
	err := protocol.RangeFields(b, func(f protocol.Field) error {
		switch f.Num {
		case 1:
			return decodeRobot(f.Raw(), &ev.Robot)
		case 2:
			ev.Type = Kind(f.Int32())
		case 3:
			return decodeExtendData(f.Raw(), ev)
		case 4:
			ev.CreatedAt = f.Int64()
		case 5:
			ev.ID = f.String()
		case 6:
			ev.SendAt = f.Int64()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ev.normalize(); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeProto is the inverse of DecodeProto.
func EncodeProto(ev *Event) ([]byte, error) {
	pd, ok := ev.Data.(protoData)
	if !ok {
		return nil, ErrNoEventData
	}

	var robot protocol.Encoder
	robot.Message(1, encodeTemplate(&ev.Robot.Template))
	robot.Uint64(2, ev.Robot.VillaID)

	var payload protocol.Encoder
	pd.writeTo(&payload)
	// A populated oneof keeps its tag even when every field is zero.
	extend := protowire.AppendTag(nil, protowire.Number(pd.Kind()), protowire.BytesType)
	extend = protowire.AppendBytes(extend, payload.Bytes())

	var e protocol.Encoder
	e.Message(1, robot.Bytes())
	e.Int32(2, int32(ev.Type))
	e.Message(3, extend)
	e.Int64(4, ev.CreatedAt)
	e.String(5, ev.ID)
	e.Int64(6, ev.SendAt)
	return e.Bytes(), nil
}

// normalize checks that Type and Data agree, filling Type from Data when the
// sender left it unset.
func (e *Event) normalize() error {
	if e.Data == nil {
		return ErrNoEventData
	}
	switch {
	case e.Type == KindUnknown:
		e.Type = e.Data.Kind()
	case e.Type != e.Data.Kind():
		return fmt.Errorf("%w: type %s, payload %s", ErrKindMismatch, e.Type, e.Data.Kind())
	}
	return nil
}

func decodeExtendData(b []byte, ev *Event) error {
	return protocol.RangeFields(b, func(f protocol.Field) error {
		k := Kind(f.Num)
		d := newData(k)
		if d == nil {
			// Payload kinds added after this client was built.
			return fmt.Errorf("%w: oneof field %d", ErrUnknownKind, f.Num)
		}
		if ev.Data != nil {
			return ErrAmbiguousEventData
		}
		pd := d.(protoData)
		if err := protocol.RangeFields(f.Raw(), pd.setField); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		ev.Data = pd
		return nil
	})
}

func decodeRobot(b []byte, r *Robot) error {
	return protocol.RangeFields(b, func(f protocol.Field) error {
		switch f.Num {
		case 1:
			return decodeTemplate(f.Raw(), &r.Template)
		case 2:
			r.VillaID = f.Uint64()
		}
		return nil
	})
}

func decodeTemplate(b []byte, t *RobotTemplate) error {
	return protocol.RangeFields(b, func(f protocol.Field) error {
		switch f.Num {
		case 1:
			t.ID = f.String()
		case 2:
			t.Name = f.String()
		case 3:
			t.Desc = f.String()
		case 4:
			t.Icon = f.String()
		case 5:
			var c RobotCommand
			err := protocol.RangeFields(f.Raw(), func(cf protocol.Field) error {
				switch cf.Num {
				case 1:
					c.Name = cf.String()
				case 2:
					c.Desc = cf.String()
				}
				return nil
			})
			if err != nil {
				return err
			}
			t.Commands = append(t.Commands, c)
		case 7:
			t.IsAllowedAddToOtherVilla = f.Bool()
		}
		return nil
	})
}

func encodeTemplate(t *RobotTemplate) []byte {
	var e protocol.Encoder
	e.String(1, t.ID)
	e.String(2, t.Name)
	e.String(3, t.Desc)
	e.String(4, t.Icon)
	for _, c := range t.Commands {
		var ce protocol.Encoder
		ce.String(1, c.Name)
		ce.String(2, c.Desc)
		e.Message(5, ce.Bytes())
	}
	e.Bool(7, t.IsAllowedAddToOtherVilla)
	return e.Bytes()
}

func (d *JoinVilla) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		d.JoinUID = f.Uint64()
	case 2:
		d.JoinUserNickname = f.String()
	case 3:
		d.JoinAt = f.Int64()
	case 4:
		d.VillaID = f.Uint64()
	}
	return nil
}

func (d *JoinVilla) writeTo(e *protocol.Encoder) {
	e.Uint64(1, d.JoinUID)
	e.String(2, d.JoinUserNickname)
	e.Int64(3, d.JoinAt)
	e.Uint64(4, d.VillaID)
}

func (d *SendMessage) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		d.Content = f.String()
	case 2:
		d.FromUserID = f.Uint64()
	case 3:
		d.SendAt = f.Int64()
	case 4:
		d.ObjectName = f.Int32()
	case 5:
		d.RoomID = f.Uint64()
	case 6:
		d.Nickname = f.String()
	case 7:
		d.MsgUID = f.String()
	case 8:
		d.BotMsgID = f.String()
	case 9:
		d.VillaID = f.Uint64()
	case 10:
		q := &QuoteMessage{}
		if err := protocol.RangeFields(f.Raw(), q.setField); err != nil {
			return fmt.Errorf("quote_msg: %w", err)
		}
		d.QuoteMsg = q
	}
	return nil
}

func (d *SendMessage) writeTo(e *protocol.Encoder) {
	e.String(1, d.Content)
	e.Uint64(2, d.FromUserID)
	e.Int64(3, d.SendAt)
	e.Int32(4, d.ObjectName)
	e.Uint64(5, d.RoomID)
	e.String(6, d.Nickname)
	e.String(7, d.MsgUID)
	e.String(8, d.BotMsgID)
	e.Uint64(9, d.VillaID)
	if d.QuoteMsg != nil {
		var q protocol.Encoder
		d.QuoteMsg.writeTo(&q)
		e.Message(10, q.Bytes())
	}
}

func (q *QuoteMessage) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		q.Content = f.String()
	case 2:
		q.MsgUID = f.String()
	case 3:
		q.SendAt = f.Int64()
	case 4:
		q.MsgType = f.String()
	case 5:
		q.BotMsgID = f.String()
	case 6:
		q.FromUserID = f.Uint64()
	case 7:
		q.FromUserIDStr = f.String()
	case 8:
		q.FromUserNickname = f.String()
	}
	return nil
}

func (q *QuoteMessage) writeTo(e *protocol.Encoder) {
	e.String(1, q.Content)
	e.String(2, q.MsgUID)
	e.Int64(3, q.SendAt)
	e.String(4, q.MsgType)
	e.String(5, q.BotMsgID)
	e.Uint64(6, q.FromUserID)
	e.String(7, q.FromUserIDStr)
	e.String(8, q.FromUserNickname)
}

func (d *CreateRobot) setField(f protocol.Field) error {
	if f.Num == 1 {
		d.VillaID = f.Uint64()
	}
	return nil
}

func (d *CreateRobot) writeTo(e *protocol.Encoder) { e.Uint64(1, d.VillaID) }

func (d *DeleteRobot) setField(f protocol.Field) error {
	if f.Num == 1 {
		d.VillaID = f.Uint64()
	}
	return nil
}

func (d *DeleteRobot) writeTo(e *protocol.Encoder) { e.Uint64(1, d.VillaID) }

func (d *AddQuickEmoticon) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		d.VillaID = f.Uint64()
	case 2:
		d.RoomID = f.Uint64()
	case 3:
		d.UID = f.Uint64()
	case 4:
		d.EmoticonID = f.Uint32()
	case 5:
		d.Emoticon = f.String()
	case 6:
		d.MsgUID = f.String()
	case 7:
		d.IsCancel = f.Bool()
	case 8:
		d.BotMsgID = f.String()
	case 9:
		d.EmoticonType = f.Uint32()
	}
	return nil
}

func (d *AddQuickEmoticon) writeTo(e *protocol.Encoder) {
	e.Uint64(1, d.VillaID)
	e.Uint64(2, d.RoomID)
	e.Uint64(3, d.UID)
	e.Uint64(4, uint64(d.EmoticonID))
	e.String(5, d.Emoticon)
	e.String(6, d.MsgUID)
	e.Bool(7, d.IsCancel)
	e.String(8, d.BotMsgID)
	e.Uint64(9, uint64(d.EmoticonType))
}

func (d *AuditCallback) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		d.AuditID = f.String()
	case 2:
		d.BotTplID = f.String()
	case 3:
		d.VillaID = f.Uint64()
	case 4:
		d.RoomID = f.Uint64()
	case 5:
		d.UserID = f.Uint64()
	case 6:
		d.PassThrough = f.String()
	case 7:
		d.AuditResult = AuditResult(f.Int32())
	}
	return nil
}

func (d *AuditCallback) writeTo(e *protocol.Encoder) {
	e.String(1, d.AuditID)
	e.String(2, d.BotTplID)
	e.Uint64(3, d.VillaID)
	e.Uint64(4, d.RoomID)
	e.Uint64(5, d.UserID)
	e.String(6, d.PassThrough)
	e.Int32(7, int32(d.AuditResult))
}

func (d *ClickMsgComponent) setField(f protocol.Field) error {
	switch f.Num {
	case 1:
		d.VillaID = f.Uint64()
	case 2:
		d.RoomID = f.Uint64()
	case 3:
		d.ComponentID = f.String()
	case 4:
		d.MsgUID = f.String()
	case 5:
		d.UID = f.Uint64()
	case 6:
		d.BotMsgID = f.String()
	case 7:
		d.TemplateID = f.Uint64()
	case 8:
		d.Extra = f.String()
	}
	return nil
}

func (d *ClickMsgComponent) writeTo(e *protocol.Encoder) {
	e.Uint64(1, d.VillaID)
	e.Uint64(2, d.RoomID)
	e.String(3, d.ComponentID)
	e.String(4, d.MsgUID)
	e.Uint64(5, d.UID)
	e.String(6, d.BotMsgID)
	e.Uint64(7, d.TemplateID)
	e.String(8, d.Extra)
}

package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder appends protobuf fields to a buffer. Zero values are skipped, as
// proto3 does.
type Encoder struct {
	buf []byte
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Uint64(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *Encoder) Int64(num protowire.Number, v int64) {
	e.Uint64(num, uint64(v))
}

func (e *Encoder) Int32(num protowire.Number, v int32) {
	// Negative int32 values are sign extended to ten bytes on the wire.
	e.Uint64(num, uint64(int64(v)))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint64(num, 1)
	}
}

func (e *Encoder) String(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *Encoder) Message(num protowire.Number, b []byte) {
	if len(b) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

// StringMap encodes a map<string, string> field as repeated entries.
func (e *Encoder) StringMap(num protowire.Number, m map[string]string) {
	for k, v := range m {
		var entry Encoder
		entry.String(1, k)
		entry.String(2, v)
		e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		e.buf = protowire.AppendBytes(e.buf, entry.buf)
	}
}

// Field is one decoded tag/value pair.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	varint uint64
	bytes  []byte
}

func (f Field) Uint64() uint64 { return f.varint }
func (f Field) Int64() int64   { return int64(f.varint) }
func (f Field) Int32() int32   { return int32(f.varint) }
func (f Field) Bool() bool     { return f.varint != 0 }
func (f Field) String() string { return string(f.bytes) }
func (f Field) Raw() []byte    { return f.bytes }

// Uint32 truncates like the generated protobuf code does.
func (f Field) Uint32() uint32 { return uint32(f.varint & math.MaxUint32) }

// RangeFields walks the top level fields of a protobuf message. Varint and
// length-delimited fields are handed to fn; other wire types are skipped, so
// fields added by newer server versions are ignored.
func RangeFields(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			f.varint, n = v, m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			f.bytes, n = v, m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("protocol: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeStringMapEntry decodes one map<string, string> entry.
func DecodeStringMapEntry(b []byte) (key, value string, err error) {
	err = RangeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			key = f.String()
		case 2:
			value = f.String()
		}
		return nil
	})
	return key, value, err
}

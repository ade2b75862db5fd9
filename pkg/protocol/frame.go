// Package protocol implements the Villa WebSocket wire protocol: the binary
// frame envelope and the payloads carried inside it.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic marks the start of every frame.
const Magic uint32 = 0xBABEFACE

// Header lengths. The header covers headerLen, id, flag, bizType and the
// optional appId field.
const (
	HeaderLenNoAppID   uint32 = 20
	HeaderLenWithAppID uint32 = 24
)

// fixedPrefixLen is the size of magic + dataLen, which precede the header.
const fixedPrefixLen = 8

var (
	ErrInvalidMagic  = errors.New("protocol: invalid frame magic")
	ErrInvalidHeader = errors.New("protocol: invalid frame header")
	ErrShortFrame    = errors.New("protocol: frame shorter than declared length")
)

// Flag is the direction discriminator of a frame.
type Flag uint32

const (
	FlagRequest  Flag = 1
	FlagResponse Flag = 2
)

func (f Flag) String() string {
	switch f {
	case FlagRequest:
		return "request"
	case FlagResponse:
		return "response"
	default:
		return fmt.Sprintf("flag(%d)", uint32(f))
	}
}

// Frame is one packet on the WebSocket transport.
type Frame struct {
	Magic     uint32
	DataLen   uint32
	HeaderLen uint32
	ID        uint64
	Flag      Flag
	BizType   BizType
	AppID     uint32
	Body      []byte
}

// NewFrame builds a frame with consistent length fields. An appID of zero
// omits the appId header field.
func NewFrame(bizType BizType, id uint64, appID uint32, flag Flag, body []byte) *Frame {
	headerLen := HeaderLenWithAppID
	if appID == 0 {
		headerLen = HeaderLenNoAppID
	}
	return &Frame{
		Magic:     Magic,
		DataLen:   headerLen + uint32(len(body)),
		HeaderLen: headerLen,
		ID:        id,
		Flag:      flag,
		BizType:   bizType,
		AppID:     appID,
		Body:      body,
	}
}

// NewRequest builds a client to server frame.
func NewRequest(bizType BizType, id uint64, appID uint32, body []byte) *Frame {
	return NewFrame(bizType, id, appID, FlagRequest, body)
}

// NewResponse builds a server to client frame answering request id.
func NewResponse(bizType BizType, id uint64, appID uint32, body []byte) *Frame {
	return NewFrame(bizType, id, appID, FlagResponse, body)
}

// BodyLen returns the body length implied by the header fields.
func (f *Frame) BodyLen() int {
	return int(f.DataLen) - int(f.HeaderLen)
}

// Encode writes the frame to w. Length fields are written as they are; use
// NewFrame to keep them consistent.
func (f *Frame) Encode(w io.Writer) error {
	var head [fixedPrefixLen + HeaderLenWithAppID]byte
	le := binary.LittleEndian
	le.PutUint32(head[0:], f.Magic)
	le.PutUint32(head[4:], f.DataLen)
	le.PutUint32(head[8:], f.HeaderLen)
	le.PutUint64(head[12:], f.ID)
	le.PutUint32(head[20:], uint32(f.Flag))
	le.PutUint32(head[24:], uint32(f.BizType))
	n := fixedPrefixLen + HeaderLenNoAppID
	if f.HeaderLen == HeaderLenWithAppID {
		le.PutUint32(head[28:], f.AppID)
		n = fixedPrefixLen + HeaderLenWithAppID
	}
	if _, err := w.Write(head[:n]); err != nil {
		return err
	}
	if len(f.Body) == 0 {
		return nil
	}
	_, err := w.Write(f.Body)
	return err
}

// MarshalBinary returns the wire encoding of the frame.
func (f *Frame) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(fixedPrefixLen + int(f.HeaderLen) + len(f.Body))
	if err := f.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one frame from r, which must be positioned at a frame boundary.
func Decode(r io.Reader) (*Frame, error) {
	var prefix [fixedPrefixLen + 4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, unexpected(err))
	}
	le := binary.LittleEndian
	f := &Frame{
		Magic:     le.Uint32(prefix[0:]),
		DataLen:   le.Uint32(prefix[4:]),
		HeaderLen: le.Uint32(prefix[8:]),
	}
	if f.Magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrInvalidMagic, f.Magic)
	}
	if f.HeaderLen != HeaderLenNoAppID && f.HeaderLen != HeaderLenWithAppID {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, f.HeaderLen)
	}
	if f.DataLen < f.HeaderLen {
		return nil, fmt.Errorf("%w: data length %d below header length %d", ErrInvalidHeader, f.DataLen, f.HeaderLen)
	}

	rest := make([]byte, f.HeaderLen-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, unexpected(err))
	}
	f.ID = le.Uint64(rest[0:])
	f.Flag = Flag(le.Uint32(rest[8:]))
	f.BizType = BizType(le.Uint32(rest[12:]))
	if f.HeaderLen == HeaderLenWithAppID {
		f.AppID = le.Uint32(rest[16:])
	}

	// dataLen is untrusted: the body buffer only grows with bytes actually read.
	n := int64(f.BodyLen())
	if sized, ok := r.(interface{ Len() int }); ok && int64(sized.Len()) < n {
		return nil, fmt.Errorf("%w: %w: body needs %d bytes, %d left", ErrShortFrame, io.ErrUnexpectedEOF, n, sized.Len())
	}
	body, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, unexpected(err))
	}
	if int64(len(body)) < n {
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, io.ErrUnexpectedEOF)
	}
	f.Body = body
	return f, nil
}

// Unmarshal decodes a single frame held in data. Trailing bytes are an error.
func Unmarshal(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)
	f, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidHeader, r.Len())
	}
	return f, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

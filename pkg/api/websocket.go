package api

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
)

// GetWebsocketInfoEndpoint returns the gateway parameters for a bot session.
var GetWebsocketInfoEndpoint = Endpoint{Method: "GET", Path: "/vila/api/bot/platform/getWebsocketInfo"}

// WebsocketInfo is the short-lived gateway information of one session.
type WebsocketInfo struct {
	WebsocketURL string `json:"websocket_url"`
	UID          Uint64 `json:"uid"`
	AppID        int32  `json:"app_id"`
	Platform     int32  `json:"platform"`
	DeviceID     string `json:"device_id"`
}

// GetWebsocketInfo fetches gateway information. villaID is sent as the villa
// header and has no effect on the result.
func (c *Client) GetWebsocketInfo(ctx context.Context, villaID string) (*WebsocketInfo, error) {
	info, err := Call[WebsocketInfo](ctx, c, GetWebsocketInfoEndpoint, villaID, nil)
	if err != nil {
		return nil, err
	}
	if info.WebsocketURL == "" {
		return nil, fmt.Errorf("api: %s: %w", GetWebsocketInfoEndpoint, ErrEmptyData)
	}
	return info, nil
}

// Uint64 decodes from either a JSON number or a decimal string, since the
// platform sends large ids as strings.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("api: invalid uint64 %q: %w", b, err)
	}
	*u = Uint64(v)
	return nil
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return strconv.AppendQuote(nil, strconv.FormatUint(uint64(u), 10)), nil
}

// Package api is the REST side of the Villa bot platform: authentication
// headers, the response envelope and the endpoints the connection runtime
// depends on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/villakit/villa/pkg/codec"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://bbs-api.miyoushe.com"

// Options configures a Client. Zero values select the defaults; timeouts are
// unset by default.
type Options struct {
	BaseURL string

	// RequestTimeout bounds a whole request.
	RequestTimeout time.Duration
	// ConnectTimeout bounds dialing the API host.
	ConnectTimeout time.Duration
	// SocketTimeout bounds waiting for response headers once connected.
	SocketTimeout time.Duration

	// HTTPClient replaces the transport engine. Connect and socket timeouts
	// are ignored when it is set.
	HTTPClient *http.Client

	// Codec decodes response bodies. Defaults to codec.Default.
	Codec codec.Codec

	Logger *zerolog.Logger
}

// Endpoint identifies one REST operation.
type Endpoint struct {
	Method string
	Path   string
}

func (e Endpoint) String() string { return e.Method + " " + e.Path }

// Client calls Villa REST endpoints on behalf of one bot.
type Client struct {
	ticket  Ticket
	baseURL string
	http    *resty.Client
	codec   codec.Codec
	logger  *zerolog.Logger
}

// NewClient creates a client authenticated with ticket.
func NewClient(ticket Ticket, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var rc *resty.Client
	switch {
	case opts.HTTPClient != nil:
		rc = resty.NewWithClient(opts.HTTPClient)
	case opts.ConnectTimeout > 0 || opts.SocketTimeout > 0:
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.ConnectTimeout > 0 {
			dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
			transport.DialContext = dialer.DialContext
			transport.TLSHandshakeTimeout = opts.ConnectTimeout
		}
		if opts.SocketTimeout > 0 {
			transport.ResponseHeaderTimeout = opts.SocketTimeout
		}
		rc = resty.NewWithClient(&http.Client{Transport: transport})
	default:
		rc = resty.New()
	}
	if opts.RequestTimeout > 0 {
		rc.SetTimeout(opts.RequestTimeout)
	}
	rc.SetHeader("Accept", "application/json")

	return &Client{
		ticket:  ticket,
		baseURL: baseURL,
		http:    rc,
		codec:   codec.OrDefault(opts.Codec),
		logger:  logger,
	}
}

// Ticket returns the credentials the client authenticates with.
func (c *Client) Ticket() Ticket { return c.ticket }

// envelope is the common response wrapper.
type envelope struct {
	Retcode int             `json:"retcode"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call invokes ep with body (nil for none) and decodes the data field of the
// response into a T. villaID fills the villa header; use "" to omit it.
func Call[T any](ctx context.Context, c *Client, ep Endpoint, villaID string, body any) (*T, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeaders(c.ticket.Headers(villaID))
	if body != nil {
		payload, err := c.codec.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: %s: encode body: %w", ep, err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(ep.Method, c.baseURL+ep.Path)
	if err != nil {
		return nil, fmt.Errorf("api: %s: %w", ep, err)
	}

	c.logger.Debug().
		Str("endpoint", ep.String()).
		Int("status", resp.StatusCode()).
		Dur("latency", resp.Time()).
		Msg("API call")

	if resp.IsError() {
		return nil, &HTTPError{
			Endpoint:   ep.String(),
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.String(),
		}
	}

	var env envelope
	if err := c.codec.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("api: %s: decode response: %w", ep, err)
	}
	if env.Retcode != 0 {
		return nil, &Error{Endpoint: ep.String(), Code: env.Retcode, Message: env.Message}
	}

	out := new(T)
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return out, nil
	}
	if err := c.codec.Unmarshal(env.Data, out); err != nil {
		return nil, fmt.Errorf("api: %s: decode data: %w", ep, err)
	}
	return out, nil
}

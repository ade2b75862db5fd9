// Package codec holds the JSON codec abstraction shared by the REST client and
// the event JSON boundary.
package codec

import "github.com/bytedance/sonic"

// Codec marshals and unmarshals JSON.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default returns the codec used when none is configured: sonic with
// encoding/json compatible behavior.
func Default() Codec {
	return sonic.ConfigStd
}

// OrDefault returns c, or Default when c is nil.
func OrDefault(c Codec) Codec {
	if c == nil {
		return Default()
	}
	return c
}

package api

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// HeaderBotSign carries the signature of an HTTP callback request.
const HeaderBotSign = "x-rpc-bot_sign"

var (
	ErrInvalidSignature = errors.New("api: invalid callback signature")
	ErrInvalidPublicKey = errors.New("api: invalid callback public key")
)

// CallbackVerifier checks callback signatures for one bot. The platform
// signs the form encoding of body and bot secret with RSA PKCS #1 v1.5 over
// SHA-256 and sends it base64 encoded.
type CallbackVerifier struct {
	key    *rsa.PublicKey
	secret string
}

// NewCallbackVerifier parses pubKeyPEM, the bot's public key from the
// developer platform, in PKIX or PKCS #1 form.
func NewCallbackVerifier(ticket Ticket, pubKeyPEM string) (*CallbackVerifier, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pubKeyPEM)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}

	var key *rsa.PublicKey
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		key = rsaKey
	} else if rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		key = rsaKey
	} else {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	return &CallbackVerifier{key: key, secret: ticket.Secret}, nil
}

// Verify checks sign, the value of HeaderBotSign, against body.
func (v *CallbackVerifier) Verify(body []byte, sign string) error {
	if sign == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, HeaderBotSign)
	}
	sig, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	digest := CallbackDigest(v.secret, body)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest, sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// CallbackDigest returns the SHA-256 digest a callback signature covers.
func CallbackDigest(secret string, body []byte) []byte {
	content := url.Values{
		"body":   {strings.TrimSpace(string(body))},
		"secret": {secret},
	}.Encode()
	sum := sha256.Sum256([]byte(content))
	return sum[:]
}

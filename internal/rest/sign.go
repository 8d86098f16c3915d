package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SignTypeHMAC is the constant the exchange expects in X-BAPI-SIGN-TYPE.
const SignTypeHMAC = "2"

// Sign computes the hex HMAC-SHA256 of message under secret. An empty secret
// signs as the empty key, which the exchange treats as an unauthenticated call.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer derives request signatures from a fixed credential pair. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	apiKey string
	secret string
}

// NewSigner builds a signer for the credential pair. Empty credentials yield
// a signer usable only for public endpoints.
func NewSigner(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secret: secret}
}

// APIKey returns the key presented in X-BAPI-API-KEY.
func (s *Signer) APIKey() string { return s.apiKey }

// SignaturePayload concatenates the fields the exchange signs, in its fixed
// order: timestamp, api key, then the query string (GET) or the exact JSON
// body (POST) as transmitted.
func (s *Signer) SignaturePayload(timestampMs int64, queryOrBody string) string {
	return strconv.FormatInt(timestampMs, 10) + s.apiKey + queryOrBody
}

// SignRequest returns the X-BAPI-SIGN value for the given timestamp and
// query-or-body component.
func (s *Signer) SignRequest(timestampMs int64, queryOrBody string) string {
	return Sign(s.secret, s.SignaturePayload(timestampMs, queryOrBody))
}

// SignWebsocketAuth returns the signature for the stream auth frame,
// computed over "GET/realtime{expires}".
func (s *Signer) SignWebsocketAuth(expiresMs int64) string {
	return Sign(s.secret, "GET/realtime"+strconv.FormatInt(expiresMs, 10))
}

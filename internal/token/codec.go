// Package token encodes and verifies the signed, time-limited tokens that
// back confirmation links for sensitive account actions (email change,
// account deletion, password reset).
//
// A token is self-contained: it carries its operation kind, a small typed
// payload, and an expiry instant, authenticated by an HMAC over the encoded
// claims. Nothing is persisted; a token stops being useful once the state
// change it confirms has been applied, which makes replays harmless without
// a revocation list.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformed indicates the token string could not be parsed into the
	// expected structure.
	ErrMalformed = errors.New("token: malformed")
	// ErrSignatureInvalid indicates the signature does not verify against
	// the configured secret.
	ErrSignatureInvalid = errors.New("token: signature invalid")
	// ErrExpired indicates the token was valid but its expiry instant has
	// passed.
	ErrExpired = errors.New("token: expired")
)

// Codec signs and verifies tokens with a process-wide secret. The clock is
// injected so expiry behaviour stays deterministic under test.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec constructs a Codec. A nil clock defaults to time.Now.
func NewCodec(secret []byte, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: secret, now: now}
}

type claims struct {
	Kind    string         `json:"typ"`
	Expiry  int64          `json:"exp"`
	Payload map[string]any `json:"pld"`
}

// Encode produces a URL-safe token for the given operation kind and payload.
// ttl must be positive. Payload values are restricted to JSON primitives
// (string, integer, float, bool); anything else is rejected rather than
// silently serialized.
func (c *Codec) Encode(kind string, payload map[string]any, ttl time.Duration) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("token: kind must not be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token: ttl must be positive, got %s", ttl)
	}
	for field, value := range payload {
		switch value.(type) {
		case string, bool, int, int32, int64, float32, float64:
		default:
			return "", fmt.Errorf("token: payload field %q has unsupported type %T", field, value)
		}
	}

	body, err := json.Marshal(claims{
		Kind:    kind,
		Expiry:  c.now().Add(ttl).Unix(),
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

// Decode parses and verifies a token, returning its kind and payload.
//
// Failures are distinguishable: ErrMalformed for structural damage,
// ErrSignatureInvalid when the MAC does not match (checked before expiry so
// that a tampered expiry field cannot masquerade as a merely stale token),
// and ErrExpired once the expiry instant has passed. Integer payload values
// survive the JSON round trip as float64; use the typed claims in kinds.go
// instead of asserting on raw values.
func (c *Codec) Decode(tok string) (string, map[string]any, error) {
	body, mac, ok := strings.Cut(tok, ".")
	if !ok || body == "" || mac == "" {
		return "", nil, ErrMalformed
	}
	bodyBytes, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", nil, ErrMalformed
	}
	macBytes, err := base64.RawURLEncoding.DecodeString(mac)
	if err != nil {
		return "", nil, ErrMalformed
	}

	if !hmac.Equal(macBytes, c.sign(bodyBytes)) {
		return "", nil, ErrSignatureInvalid
	}

	var cl claims
	if err := json.Unmarshal(bodyBytes, &cl); err != nil {
		return "", nil, ErrMalformed
	}
	if cl.Kind == "" || cl.Expiry == 0 {
		return "", nil, ErrMalformed
	}
	if !c.now().Before(time.Unix(cl.Expiry, 0)) {
		return "", nil, ErrExpired
	}
	return cl.Kind, cl.Payload, nil
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

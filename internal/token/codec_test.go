package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	codec := NewCodec([]byte("k1"), fixedClock(now))

	tok, err := codec.Encode("reset_password", map[string]any{"user_id": 42, "force": true, "note": "hi"}, 900*time.Second)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if strings.ContainsAny(tok, "+/= ") {
		t.Fatalf("token is not URL safe: %q", tok)
	}

	kind, payload, err := codec.Decode(tok)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if kind != "reset_password" {
		t.Fatalf("expected kind reset_password, got %q", kind)
	}
	if payload["user_id"] != float64(42) {
		t.Fatalf("expected user_id 42, got %v", payload["user_id"])
	}
	if payload["force"] != true {
		t.Fatalf("expected force true, got %v", payload["force"])
	}
	if payload["note"] != "hi" {
		t.Fatalf("expected note hi, got %v", payload["note"])
	}
}

func TestDecodeWrongSecret(t *testing.T) {
	now := time.Now()
	tok, err := NewCodec([]byte("k1"), fixedClock(now)).Encode("reset_password", map[string]any{"user_id": 42}, 900*time.Second)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	_, _, err = NewCodec([]byte("k2"), fixedClock(now)).Decode(tok)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestDecodeExpired(t *testing.T) {
	issued := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	codec := NewCodec([]byte("k1"), fixedClock(issued))
	tok, err := codec.Encode("email_change", map[string]any{"user_id": 7}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	// Exactly at the expiry instant the token is already expired.
	late := NewCodec([]byte("k1"), fixedClock(issued.Add(15*time.Minute)))
	if _, _, err := late.Decode(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at expiry instant, got %v", err)
	}

	early := NewCodec([]byte("k1"), fixedClock(issued.Add(15*time.Minute-time.Second)))
	if _, _, err := early.Decode(tok); err != nil {
		t.Fatalf("expected valid token just before expiry, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewCodec([]byte("k1"), nil)
	for _, tok := range []string{
		"",
		"no-separator",
		"bad base64!.bad",
		"YWJj.",
		".YWJj",
	} {
		if _, _, err := codec.Decode(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestDecodeTamperedPayload(t *testing.T) {
	codec := NewCodec([]byte("k1"), nil)
	tok, err := codec.Encode("account_deletion", map[string]any{"user_id": 1}, time.Hour)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	body, mac, _ := strings.Cut(tok, ".")
	// Flipping payload bytes must surface as a signature failure, not a
	// parse failure, so tampering stays distinguishable from expiry.
	tampered := body[:len(body)-2] + "AA" + "." + mac
	if _, _, err := codec.Decode(tampered); !errors.Is(err, ErrSignatureInvalid) && !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected signature or malformed error, got %v", err)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	codec := NewCodec([]byte("k1"), nil)
	if _, err := codec.Encode("", nil, time.Minute); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := codec.Encode("k", nil, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := codec.Encode("k", nil, -time.Second); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	if _, err := codec.Encode("k", map[string]any{"bad": []string{"x"}}, time.Minute); err == nil {
		t.Fatalf("expected error for unsupported payload type")
	}
}

func TestTypedClaimsRoundTrip(t *testing.T) {
	codec := NewCodec([]byte("secret"), nil)

	emailTok, err := codec.EncodeEmailChange(EmailChangeClaims{UserID: 42, NewEmail: "new@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("EncodeEmailChange: %v", err)
	}
	emailClaims, err := codec.DecodeEmailChange(emailTok)
	if err != nil {
		t.Fatalf("DecodeEmailChange: %v", err)
	}
	if emailClaims.UserID != 42 || emailClaims.NewEmail != "new@example.com" {
		t.Fatalf("unexpected claims: %+v", emailClaims)
	}

	resetTok, err := codec.EncodePasswordReset(PasswordResetClaims{UserID: 7}, time.Hour)
	if err != nil {
		t.Fatalf("EncodePasswordReset: %v", err)
	}
	resetClaims, err := codec.DecodePasswordReset(resetTok)
	if err != nil {
		t.Fatalf("DecodePasswordReset: %v", err)
	}
	if resetClaims.UserID != 7 {
		t.Fatalf("unexpected claims: %+v", resetClaims)
	}
}

func TestTypedClaimsKindMismatch(t *testing.T) {
	codec := NewCodec([]byte("secret"), nil)
	resetTok, err := codec.EncodePasswordReset(PasswordResetClaims{UserID: 7}, time.Hour)
	if err != nil {
		t.Fatalf("EncodePasswordReset: %v", err)
	}
	// A valid password-reset token must not confirm an account deletion.
	if _, err := codec.DecodeAccountDeletion(resetTok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for kind mismatch, got %v", err)
	}
}

func TestTypedClaimsPayloadShape(t *testing.T) {
	codec := NewCodec([]byte("secret"), nil)
	tok, err := codec.Encode(KindPasswordReset, map[string]any{"user_id": 7, "extra": "x"}, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.DecodePasswordReset(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unexpected payload field, got %v", err)
	}
}

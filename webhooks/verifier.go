package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

type Verifier interface {
	Verify(body []byte, signature string) error
}

// HMACVerifier checks a keyed SHA-256 digest of the exact body bytes.
type HMACVerifier struct {
	Secret   string
	Prefix   string
	Encoding string // base64 | hex
}

func NewHMACVerifier(secret string) HMACVerifier {
	return HMACVerifier{Secret: strings.TrimSpace(secret), Encoding: "base64"}
}

func (v HMACVerifier) Verify(body []byte, signature string) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: %s header is required", SignatureHeader)
	}

	expected := computeMAC(secret, body)
	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "hex":
		decoded, err = hex.DecodeString(signature)
	default:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

// Sign returns the header value a sender would attach to body.
func Sign(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(computeMAC(strings.TrimSpace(secret), body))
}

func computeMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CredentialPrefix marks every agent key so it can be told apart from other
// bearer tokens at a glance.
const CredentialPrefix = "claw_"

// Codec signs webhook payloads and derives agent credentials from a single
// server-held secret.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec keyed by secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of the exact payload bytes.
func (c *Codec) Sign(payload []byte) string {
	return hmacSHA256Hex(c.secret, payload)
}

// Verify recomputes the signature of payload and compares it to sig in
// constant time. A malformed sig simply fails verification.
func (c *Codec) Verify(payload []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

// DeriveCredential returns the deterministic credential for agentID.
func (c *Codec) DeriveCredential(agentID string) string {
	return CredentialPrefix + hmacSHA256Hex(c.secret, []byte(agentID))
}

// String returns a redacted representation suitable for logging.
func (c *Codec) String() string {
	return fmt.Sprintf("Codec{secret=%d bytes}", len(c.secret))
}

func hmacSHA256Hex(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

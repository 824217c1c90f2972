// Package crypto signs outbound webhook requests so the receiver can verify
// they came from this relay.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signature header names.
const (
	HeaderTimestamp = "X-Trailrelay-Timestamp"
	HeaderSignature = "X-Trailrelay-Signature"
)

// Signer computes HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns nil for an empty secret; a nil Signer signs nothing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Headers returns the timestamp and signature headers for a request.
func (s *Signer) Headers(method, path string, body []byte) map[string]string {
	if s == nil {
		return nil
	}
	return s.HeadersAt(method, path, body, s.now().Unix())
}

// HeadersAt is Headers with a caller-supplied unix timestamp.
func (s *Signer) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: sign(s.secret, ts+method+path+string(body)),
	}
}

// Verify reports whether sig matches the request at the given timestamp.
func (s *Signer) Verify(method, path string, body []byte, ts, sig string) bool {
	if s == nil {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(sign(s.secret, ts+method+path+string(body))))
}

// String redacts the secret.
func (s *Signer) String() string {
	return "Signer{secret=****}"
}

func sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

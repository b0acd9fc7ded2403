// Package ident derives deterministic idempotency keys for ingestion events.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Key returns the idempotency key for an ingestion event. It is a pure
// function of the event's declared fields; wall-clock receipt time plays no
// part, so redelivery of an identical event always yields the same key.
// The key doubles as the evidence chunk id, which makes chunk appends
// naturally idempotent.
func Key(userID string, timestamp time.Time, eventType, source, content string) string {
	h := sha256.New()
	for _, part := range []string{
		userID,
		timestamp.UTC().Format(time.RFC3339Nano),
		eventType,
		source,
		content,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

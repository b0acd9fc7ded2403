package ident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	a := Key("user-1", ts, "message", "slack", "Sam moved to NYC")
	b := Key("user-1", ts, "message", "slack", "Sam moved to NYC")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKeyIgnoresReceiptTimezone(t *testing.T) {
	utc := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))

	assert.Equal(t,
		Key("user-1", utc, "message", "slack", "hello"),
		Key("user-1", est, "message", "slack", "hello"))
}

func TestKeyVariesByField(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	base := Key("user-1", ts, "message", "slack", "hello")

	assert.NotEqual(t, base, Key("user-2", ts, "message", "slack", "hello"))
	assert.NotEqual(t, base, Key("user-1", ts.Add(time.Second), "message", "slack", "hello"))
	assert.NotEqual(t, base, Key("user-1", ts, "observation", "slack", "hello"))
	assert.NotEqual(t, base, Key("user-1", ts, "message", "email", "hello"))
	assert.NotEqual(t, base, Key("user-1", ts, "message", "slack", "goodbye"))
}

func TestKeyFieldBoundaries(t *testing.T) {
	// Concatenation must not let adjacent fields bleed into each other.
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.NotEqual(t,
		Key("ab", ts, "c", "d", "e"),
		Key("a", ts, "bc", "d", "e"))
}

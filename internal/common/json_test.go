package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		got, err := ParseJSON[payload](`{"name": "a", "count": 2}`)
		require.NoError(t, err)
		assert.Equal(t, payload{Name: "a", Count: 2}, got)
	})

	t.Run("markdown fenced", func(t *testing.T) {
		got, err := ParseJSON[payload]("Here you go:\n```json\n{\"name\": \"b\", \"count\": 1}\n```\nLet me know!")
		require.NoError(t, err)
		assert.Equal(t, payload{Name: "b", Count: 1}, got)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseJSON[payload]("sorry, I cannot answer that")
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseJSON[payload](`{"name": `)
		assert.Error(t, err)
	})
}

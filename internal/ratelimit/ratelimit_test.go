package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPerKey(t *testing.T) {
	krl := New(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	krl.now = func() time.Time { return now }

	assert.True(t, krl.Allow("alice"))
	assert.True(t, krl.Allow("alice"))
	assert.False(t, krl.Allow("alice"))

	assert.True(t, krl.Allow("bob"), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, krl.Allow("alice"), "bucket refills over time")
}

func TestIdleKeysAreForgotten(t *testing.T) {
	krl := New(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	krl.now = func() time.Time { return now }

	krl.Allow("alice")
	krl.Allow("bob")
	assert.Equal(t, 2, krl.Len())

	now = now.Add(time.Hour)
	krl.Allow("carol")
	assert.Equal(t, 1, krl.Len())
}

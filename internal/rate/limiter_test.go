package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowUpToLimitThenBlocks(t *testing.T) {
	l := NewMemory()
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("ip:1", 3, time.Minute)
		require.True(t, ok, "request %d should pass", i)
	}
	ok, retry := l.Allow("ip:1", 3, time.Minute)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 20*time.Second)
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewMemory()
	ok, _ := l.Allow("agent:a", 1, time.Minute)
	require.True(t, ok)
	ok, _ = l.Allow("agent:b", 1, time.Minute)
	assert.True(t, ok)
	ok, _ = l.Allow("agent:a", 1, time.Minute)
	assert.False(t, ok)
}

func TestZeroLimitDisables(t *testing.T) {
	l := NewMemory()
	for i := 0; i < 10; i++ {
		ok, _ := l.Allow("k", 0, time.Minute)
		assert.True(t, ok)
	}
}

func TestSweepRemovesIdleBuckets(t *testing.T) {
	l := NewMemory()
	l.Allow("k", 1, time.Minute)
	assert.Equal(t, 0, l.Sweep(time.Now()))
	assert.Equal(t, 1, l.Sweep(time.Now().Add(time.Hour)))
}

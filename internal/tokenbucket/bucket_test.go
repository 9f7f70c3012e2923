package tokenbucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryConsume_EmptyBucketFails(t *testing.T) {
	b := New(2, 5)
	require.True(t, b.TryConsume(2))
	require.False(t, b.TryConsume(1))
}

func TestETA_MatchesRefillRate(t *testing.T) {
	b := New(7, 5) // refill_rate = 7/60
	require.True(t, b.TryConsume(7))
	eta := b.ETA(1)
	assert.InDelta(t, 1.0/(7.0/60.0), eta, 1e-3)
}

func TestThrottle_AutothrottleFloor(t *testing.T) {
	cases := []struct {
		capacity float64
		want     float64
	}{
		{2, 5},
		{7, 5},
		{32, 19},
	}
	for _, tc := range cases {
		b := New(tc.capacity, 5)
		b.Throttle(0.40)
		assert.Equal(t, tc.want, b.Capacity())
	}
}

func TestThrottle_NeverBelowFloorAcrossRepeatedCalls(t *testing.T) {
	b := New(32, 5)
	for i := 0; i < 10; i++ {
		b.Throttle(0.40)
		require.GreaterOrEqual(t, b.Capacity(), 5.0)
	}
}

func TestTokensNeverExceedCapacity(t *testing.T) {
	b := New(10, 5)
	b.lastRefill = time.Now().Add(-1 * time.Hour)
	assert.LessOrEqual(t, b.Tokens(), b.Capacity())
}

func TestGroup_LiteOnlyHasNoBucket(t *testing.T) {
	g := NewGroup(2, 7, 32, 5)
	assert.Nil(t, g.Get("LITE_ONLY"))
	assert.NotNil(t, g.Get("STANDARD"))
}

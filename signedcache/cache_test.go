package signedcache

import (
	"testing"
	"time"

	"github.com/TEENet-io/pegout-federator/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = New(time.Second, -1)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	c := NewDefault()
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestPutHas(t *testing.T) {
	c, err := New(time.Minute, time.Minute)
	require.NoError(t, err)

	id := ethcommon.Hash(common.RandBytes32())
	assert.False(t, c.Has(id))

	before := time.Now()
	c.Put(id)
	assert.True(t, c.Has(id))
	assert.False(t, c.Has(ethcommon.Hash(common.RandBytes32())))

	signedAt, ok := c.SignedAt(id)
	assert.True(t, ok)
	assert.False(t, signedAt.Before(before))
	assert.Equal(t, 1, c.Len())
}

func TestExpiry(t *testing.T) {
	c, err := New(20*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	id := ethcommon.Hash(common.RandBytes32())
	c.Put(id)
	assert.True(t, c.Has(id))

	assert.Eventually(t, func() bool {
		return !c.Has(id)
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

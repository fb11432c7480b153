package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet[uint64](1, 2, 3)
	assert.True(t, s.Contain(1, 2))
	assert.False(t, s.Contain(1, 4))

	s.Remove(2)
	assert.Equal(t, 2, s.Len())
	assert.ElementsMatch(t, []uint64{1, 3}, s.Collect())

	assert.True(t, s.TryInsert(4))
	assert.False(t, s.TryInsert(4))
	assert.True(t, s.TryRemove(4))
	assert.False(t, s.TryRemove(4))
}

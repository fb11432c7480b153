package connection

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestConnection(id uint64) *Connection {
	server, _ := net.Pipe()
	return New(context.Background(), id, server, 16, 0)
}

func TestTable_AddGetRemove(t *testing.T) {
	tbl := NewTable()

	c := newTestConnection(1)
	require.NoError(t, tbl.Add(c))
	assert.Error(t, tbl.Add(c))
	assert.Equal(t, 1, tbl.Count())

	got, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Same(t, c, got)

	removed, ok := tbl.Remove(1)
	assert.True(t, ok)
	assert.Same(t, c, removed)

	_, ok = tbl.Remove(1)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Count())
}

func TestTable_RemoveExactlyOnce(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(newTestConnection(1)))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tbl.Remove(1); ok {
				winners.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestTable_Drain(t *testing.T) {
	tbl := NewTable()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, tbl.Add(newTestConnection(i)))
	}

	drained := tbl.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, tbl.Count())
	for _, c := range drained {
		assert.False(t, c.Connected())
	}
	assert.Empty(t, tbl.Drain())
}

func TestTable_Range(t *testing.T) {
	tbl := NewTable()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, tbl.Add(newTestConnection(i)))
	}

	visited := 0
	tbl.Range(func(c *Connection) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

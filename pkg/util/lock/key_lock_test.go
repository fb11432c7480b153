package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := NewKeyLock[uint64]()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Lock(42)
			defer kl.Unlock(42)
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, counter)
	assert.Equal(t, 0, kl.Size())
}

func TestKeyLockIndependentKeys(t *testing.T) {
	kl := NewKeyLock[uint64]()
	kl.Lock(1)
	done := make(chan struct{})
	go func() {
		kl.Lock(2)
		kl.Unlock(2)
		close(done)
	}()
	<-done
	assert.Equal(t, 1, kl.Size())
	kl.Unlock(1)
	assert.Equal(t, 0, kl.Size())
}

func TestKeyLockUnlockUnknownPanics(t *testing.T) {
	kl := NewKeyLock[string]()
	assert.Panics(t, func() { kl.Unlock("missing") })
}

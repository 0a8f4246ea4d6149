package resilience

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse_BlowIsOneWayAndIdempotent(t *testing.T) {
	calls := 0
	f := NewFuse(func() { calls++ })

	assert.False(t, f.Blown())

	f.Blow()
	assert.True(t, f.Blown())
	assert.Equal(t, 1, calls)

	f.Blow()
	assert.True(t, f.Blown())
	assert.Equal(t, 1, calls, "onBlow must fire only once")
}

func TestFuse_NilCallback(t *testing.T) {
	f := NewFuse(nil)
	f.Blow()
	assert.True(t, f.Blown())
}

func TestFuse_ConcurrentBlow(t *testing.T) {
	calls := 0
	f := NewFuse(func() { calls++ })

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Blow()
		}()
	}
	wg.Wait()

	assert.True(t, f.Blown())
	assert.Equal(t, 1, calls)
}

package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	locks := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter = map[string]int{}
		guard   sync.Mutex
	)
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locks.Lock(key)
				defer unlock()
				guard.Lock()
				v := counter[key]
				guard.Unlock()
				guard.Lock()
				counter[key] = v + 1
				guard.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counter["a"])
	assert.Equal(t, 50, counter["b"])
	assert.Equal(t, 0, locks.size())
}

package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationLocksSerializeAndRelease(t *testing.T) {
	locks := newConversationLocks()

	var (
		wg      sync.WaitGroup
		counter int
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("conv-1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			counter++

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())
}

func TestConversationLocksAreIndependent(t *testing.T) {
	locks := newConversationLocks()

	unlockA := locks.Lock("conv-a")
	unlockB := locks.Lock("conv-b")
	assert.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.size())
}

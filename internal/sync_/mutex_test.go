package sync_

import (
	"errors"
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestMutexed(t *testing.T) {
	assert := assert_.New(t)
	m := NewMutexed(map[string]int64{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.Locked(func(counters *map[string]int64) error {
					(*counters)["total"]++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	var total int64
	_ = m.Locked(func(counters *map[string]int64) error {
		total = (*counters)["total"]
		return nil
	})
	assert.Equal(int64(2500), total)

	failure := errors.New("failure")
	assert.ErrorIs(m.Locked(func(*map[string]int64) error { return failure }), failure)
}

func TestRWMutexed(t *testing.T) {
	assert := assert_.New(t)
	rw := NewRWMutexed(0)
	start := NewEvent()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.Locked(func(v *int) error {
					*v++
					return nil
				})
			}
		}()
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.RLocked(func(v *int) error {
					_ = *v
					return nil
				})
			}
		}()
	}
	start.Set()
	wg.Wait()

	var value int
	_ = rw.RLocked(func(v *int) error {
		value = *v
		return nil
	})
	assert.Equal(2500, value)
}

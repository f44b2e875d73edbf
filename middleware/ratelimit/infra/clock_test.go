package infra

import (
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock é um relógio manual; começa longe de zero para garantir que
// ninguém depende de clock() == 0 na construção.
type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(int64(42 * time.Hour))
	return c
}

func (c *fakeClock) now() int64 { return c.nanos.Load() }

func (c *fakeClock) advance(d time.Duration) { c.nanos.Add(int64(d)) }

func TestMonotonicClock_NeverGoesBack(t *testing.T) {
	clock := MonotonicClock()

	prev := clock()
	for i := 0; i < 1000; i++ {
		now := clock()
		if now < prev {
			t.Fatalf("clock went back: %d < %d", now, prev)
		}
		prev = now
	}
}

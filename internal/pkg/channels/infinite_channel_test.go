package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfiniteChannelOrder(t *testing.T) {
	ch := NewInfiniteChannel()
	for i := 0; i < 1000; i++ {
		ch.Push(i)
	}
	ch.Close()

	got := 0
	for v := range ch.Out() {
		assert.Equal(t, got, v.(int))
		got++
	}
	assert.Equal(t, 1000, got)
}

func TestInfiniteChannelClean(t *testing.T) {
	ch := NewInfiniteChannel()
	ch.Push("a")
	ch.Push("b")
	ch.Clean()
	_, ok := <-ch.Out()
	assert.False(t, ok)
}

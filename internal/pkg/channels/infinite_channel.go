package channels

import (
	"github.com/eapache/channels"
)

// InfiniteChannel is an unbounded queue; writers never block on In().
type InfiniteChannel struct {
	*channels.InfiniteChannel
}

func NewInfiniteChannel() *InfiniteChannel {
	return &InfiniteChannel{
		InfiniteChannel: channels.NewInfiniteChannel(),
	}
}

func (ch *InfiniteChannel) Push(m any) {
	ch.In() <- m
}

// Clean closes the channel and drops everything still queued.
func (ch *InfiniteChannel) Clean() {
	ch.Close()
	for range ch.Out() {
	}
}

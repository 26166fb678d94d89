package utils

import (
	"context"
)

// PushWithContext sends item on ch unless ctx is done first. Without wait
// the send gives up when ch is full.
func PushWithContext[T any](ctx context.Context, ch chan<- T, item T, wait bool) bool {
	if wait {
		select {
		case <-ctx.Done():
			return false
		case ch <- item:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case ch <- item:
		return true
	default:
		return false
	}
}

package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// messagesPerSecond and burstMessages bound how many client frames a single
// peer may send per second, independent of project or message type.
const (
	messagesPerSecond = 50
	burstMessages     = 100
)

// peerLimiter applies a per-peer token bucket to inbound frames, mirroring
// the per-IP limiter pattern used for the relay's HTTP surface.
type peerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPeerLimiter() *peerLimiter {
	return &peerLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *peerLimiter) allow(peerID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[peerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(messagesPerSecond), burstMessages)
		l.limiters[peerID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// remove drops a peer's limiter on disconnect; this is the only eviction
// path peerLimiter needs, since a peer's entry never outlives its connection.
func (l *peerLimiter) remove(peerID string) {
	l.mu.Lock()
	delete(l.limiters, peerID)
	l.mu.Unlock()
}

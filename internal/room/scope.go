package room

// BroadcastScope codifies who a room fan-out targets, replacing an
// implicit ""-means-everyone convention with an explicit choice at every
// call site.
type BroadcastScope struct {
	all    bool
	except string
}

// ScopeAll targets every peer currently in the room.
func ScopeAll() BroadcastScope { return BroadcastScope{all: true} }

// ScopeExcludePeer targets every peer except peerID (the common case for
// relaying a peer's own sync/cursor update back out).
func ScopeExcludePeer(peerID string) BroadcastScope { return BroadcastScope{except: peerID} }

func (s BroadcastScope) includes(peerID string) bool {
	if s.all {
		return true
	}
	return peerID != s.except
}

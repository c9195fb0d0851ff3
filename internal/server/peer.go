package server

import (
	"context"
	"time"

	"github.com/coder/websocket"

	"github.com/collabforge/syncd/internal/logger"
	"github.com/collabforge/syncd/internal/wire"
)

// writeTimeout bounds a single frame write to a peer's socket.
const writeTimeout = 10 * time.Second

// sendBuffer is the outbound queue depth before a peer is considered too
// slow to keep up and is dropped.
const sendBuffer = 256

// Peer is one connected client's server-side handle: identity plus the
// outbound channel a room broadcasts into. It implements room.Sender.
type Peer struct {
	ID           string
	Name         string
	Color        string
	SessionToken string
	ProjectID    string
	JoinedAt     time.Time

	conn *websocket.Conn
	send chan wire.ServerMessage
	json bool
}

func newPeer(id string, conn *websocket.Conn, useJSON bool) *Peer {
	return &Peer{
		ID:       id,
		JoinedAt: time.Now(),
		conn:     conn,
		send:     make(chan wire.ServerMessage, sendBuffer),
		json:     useJSON,
	}
}

// Send queues msg for delivery and never blocks; a peer whose queue is full
// is disconnected rather than allowed to stall the rest of the room.
func (p *Peer) Send(msg wire.ServerMessage) {
	select {
	case p.send <- msg:
	default:
		logger.ForPeer(p.ID).Warn("peer send queue full, dropping connection", "type", msg.ServerType())
		go p.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

// writeLoop drains p.send to the socket until ctx is cancelled or the
// channel is closed; it is always paired with a blocking reader loop in the
// same connection handler, joined via the returned done channel.
func (p *Peer) writeLoop(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-p.send:
				if !ok {
					return
				}
				if err := p.write(ctx, msg); err != nil {
					return
				}
			}
		}
	}()
	return done
}

func (p *Peer) write(ctx context.Context, msg wire.ServerMessage) error {
	var data []byte
	var err error
	kind := websocket.MessageBinary
	if p.json {
		data, err = wire.EncodeServerJSON(msg)
		kind = websocket.MessageText
	} else {
		data, err = wire.EncodeServer(msg)
	}
	if err != nil {
		logger.ForPeer(p.ID).Error("encode server message", "error", err)
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.conn.Write(writeCtx, kind, data)
}

package crdt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeChanges serializes a change set as an opaque sync payload, the wire
// format carried inside wire.ClientSyncMessage/ServerSyncMessage.SyncData.
func EncodeChanges(changes []Change) ([]byte, error) {
	data, err := cbor.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("crdt: encode changes: %w", err)
	}
	return data, nil
}

// DecodeChanges deserializes a sync payload produced by EncodeChanges or by
// GetChangesSince on the sending peer.
func DecodeChanges(data []byte) ([]Change, error) {
	var changes []Change
	if err := cbor.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("crdt: decode changes: %w", err)
	}
	return changes, nil
}

// EncodeClock serializes a vector clock, the form persisted as a peer's
// sync_states row so a reconnect can compute a minimal catch-up payload via
// GetChangesSince instead of re-sending the full document.
func EncodeClock(vc VectorClock) ([]byte, error) {
	data, err := cbor.Marshal(vc)
	if err != nil {
		return nil, fmt.Errorf("crdt: encode clock: %w", err)
	}
	return data, nil
}

// DecodeClock deserializes a vector clock produced by EncodeClock.
func DecodeClock(data []byte) (VectorClock, error) {
	var vc VectorClock
	if err := cbor.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("crdt: decode clock: %w", err)
	}
	return vc, nil
}

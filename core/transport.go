package core

import (
	"encoding/json"
	"fmt"
)

// Transport is the boundary to the connection adapter.
type Transport interface {
	// Send queues payload for conn without blocking. It reports false when the
	// connection is closing or its write queue is full; the frame is dropped.
	Send(conn ConnID, payload []byte) bool
	// SendBatch queues payloads for conn as one unit, to be written in order.
	// Either every payload is queued or none is.
	SendBatch(conn ConnID, payloads [][]byte) bool
}

// encode serializes an outbound payload once so it can be fanned out.
func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return b, nil
}

// fanOut writes payload to every conn and returns how many accepted it.
func fanOut(t Transport, payload []byte, conns ...ConnID) int {
	n := 0
	for _, c := range conns {
		if t.Send(c, payload) {
			n++
		}
	}
	return n
}

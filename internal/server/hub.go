package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
)

// connHub maps connection ids to live client sessions and is the
// presence.Transport of the server.
type connHub struct {
	mu       sync.RWMutex
	sessions map[presence.ConnectionID]*clientSession
}

func newConnHub() *connHub {
	return &connHub{sessions: make(map[presence.ConnectionID]*clientSession)}
}

func (h *connHub) add(s *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *connHub) remove(id presence.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

func (h *connHub) get(id presence.ConnectionID) (*clientSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Send implements presence.Transport.
func (h *connHub) Send(_ context.Context, conn presence.ConnectionID, evt presence.Event) error {
	s, ok := h.get(conn)
	if !ok {
		return presence.ErrDeliveryFailure
	}
	return s.enqueue(eventEnvelope(evt))
}

func eventEnvelope(evt presence.Event) protocol.Envelope {
	metadata := map[string]interface{}{"action": string(evt.Name)}
	if evt.Room != 0 {
		metadata["room"] = uint(evt.Room)
	}
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Payload:   evt.Payload,
	}
}

package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
)

const (
	ackStatusOK    = "ok"
	ackStatusError = "error"
)

func (a *App) sendAck(ctx context.Context, session *clientSession, referenceID, status, reason string) {
	a.send(ctx, session, protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAck,
		Timestamp: time.Now(),
		Payload: protocol.AckPayload{
			ReferenceID: referenceID,
			Status:      status,
			Reason:      reason,
		},
	})
}

// ackError acknowledges a failed request. The reason is the error kind so
// clients can branch on it; invalid payloads are reported as such.
func (a *App) ackError(ctx context.Context, session *clientSession, referenceID string, err error) {
	reason := presence.Kind(err)
	if errors.Is(err, errInvalidPayload) {
		reason = "invalid_payload"
	}
	a.sendAck(ctx, session, referenceID, ackStatusError, reason)
}

func (a *App) send(_ context.Context, session *clientSession, env protocol.Envelope) {
	if err := session.enqueue(env); err != nil {
		a.log.Warn("send to client failed", "conn", session.id, "type", env.Type, "error", err)
	}
}

func (a *App) sendEvent(ctx context.Context, session *clientSession, action string, room uint, payload interface{}) {
	metadata := map[string]interface{}{"action": action}
	if room != 0 {
		metadata["room"] = room
	}
	a.send(ctx, session, protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Payload:   payload,
	})
}

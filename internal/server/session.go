package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
)

// envelopeWriter is the outbound half of a connection: the framed TCP encoder
// or a websocket adapter.
type envelopeWriter interface {
	WriteEnvelope(ctx context.Context, env protocol.Envelope) error
	SetWriteDeadline(t time.Time) error
}

// clientSession tracks per-connection state and outbound delivery.
type clientSession struct {
	id     presence.ConnectionID
	remote string
	writer envelopeWriter
	sendCh chan protocol.Envelope

	mu     sync.Mutex
	closed bool
}

func newClientSession(remote string, writer envelopeWriter, buffer int) *clientSession {
	return &clientSession{
		id:     presence.ConnectionID(uuid.NewString()),
		remote: remote,
		writer: writer,
		sendCh: make(chan protocol.Envelope, buffer),
	}
}

// enqueue hands env to the write loop without blocking. A full buffer or a
// closed session is a delivery failure.
func (s *clientSession) enqueue(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return presence.ErrDeliveryFailure
	}
	select {
	case s.sendCh <- env:
		return nil
	default:
		return presence.ErrDeliveryFailure
	}
}

func (s *clientSession) writeLoop(ctx context.Context, writeTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.sendCh:
			if !ok {
				return nil
			}
			if writeTimeout > 0 {
				if err := s.writer.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return err
				}
			}
			if err := s.writer.WriteEnvelope(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (s *clientSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.sendCh)
}

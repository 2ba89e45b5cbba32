package presence

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DispatchStats counts per-recipient outcomes since the dispatcher started.
type DispatchStats struct {
	Delivered uint64
	Failed    uint64
}

// Dispatcher fans events out to the members of a room.
type Dispatcher struct {
	index     *Index
	transport Transport
	log       *slog.Logger
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewDispatcher(index *Index, transport Transport, log *slog.Logger) *Dispatcher {
	return &Dispatcher{index: index, transport: transport, log: log}
}

// Broadcast delivers evt to every member of room except exclude and returns
// how many deliveries succeeded. The membership snapshot and the sends happen
// under the room lock, so all members observe a room's events in the order
// they were broadcast. Failed deliveries are logged and counted, never returned.
func (d *Dispatcher) Broadcast(ctx context.Context, room RoomID, evt Event, exclude ConnectionID) int {
	m, ok := d.index.lookup(room)
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return d.broadcastLocked(ctx, m, room, evt, exclude)
}

func (d *Dispatcher) broadcastLocked(ctx context.Context, m *roomMembers, room RoomID, evt Event, exclude ConnectionID) int {
	count := 0
	for el := m.order.Front(); el != nil; el = el.Next() {
		conn := el.Value.(ConnectionID)
		if exclude != "" && conn == exclude {
			continue
		}
		if err := d.deliver(ctx, conn, evt); err != nil {
			d.log.Warn("room delivery failed",
				"room", room, "conn", conn, "event", evt.Name, "error", err)
			continue
		}
		count++
	}
	return count
}

// Send delivers evt to a single connection.
func (d *Dispatcher) Send(ctx context.Context, conn ConnectionID, evt Event) error {
	if err := d.deliver(ctx, conn, evt); err != nil {
		d.log.Debug("direct delivery failed", "conn", conn, "event", evt.Name, "error", err)
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, conn ConnectionID, evt Event) error {
	if err := d.transport.Send(ctx, conn, evt); err != nil {
		d.failed.Add(1)
		return err
	}
	d.delivered.Add(1)
	return nil
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{Delivered: d.delivered.Load(), Failed: d.failed.Load()}
}

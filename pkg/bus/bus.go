// Package bus is the bounded command channel between the RPC adapter
// and the VM manager. It is the sole path by which the adapter, or any
// future command source such as a reconciler, reaches the manager.
package bus

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetd/pkg/types"
)

// Payload is one of the manager's command variants. Extensible by
// adding variants; existing ones never change shape.
type Payload interface {
	isPayload()
}

// Create requests a new VM from spec.
type Create struct{ Spec *types.VmSpec }

// Delete requests removal of the VM identified by ID.
type Delete struct{ ID types.VmID }

// List requests a snapshot of every live VM.
type List struct{}

// GetWorkerStatus requests the worker-level status record.
type GetWorkerStatus struct{}

func (Create) isPayload()          {}
func (Delete) isPayload()          {}
func (List) isPayload()            {}
func (GetWorkerStatus) isPayload() {}

// Response is one of the manager's reply variants, paired with the
// payload that produced it.
type Response struct {
	VmID       types.VmID
	VmInfos    []types.VmInfo
	WorkerInfo types.WorkerInfo
}

// Message pairs a payload with a single-use reply slot the manager
// signals exactly once.
type Message struct {
	Payload Payload
	reply   chan result
}

type result struct {
	resp Response
	err  error
}

// ErrManagerDown is returned by Request when the manager has shut
// down, whether the send itself failed (channel full then closed) or
// the manager vanished mid-handle (reply channel closed without a
// send). Both failure modes are indistinguishable to the caller and
// are, per SPEC_FULL §4.2, mapped to this single error.
var ErrManagerDown = fmt.Errorf("bus: manager is not available")

// Bus is the sender side: a thin wrapper exposing one operation,
// Request, which constructs a reply slot, sends, and awaits.
type Bus struct {
	messages chan Message
	closed   chan struct{}
}

// New creates a bus with the given bounded capacity. Capacity is the
// system's only back-pressure mechanism (SPEC_FULL §5).
func New(capacity int) *Bus {
	return &Bus{
		messages: make(chan Message, capacity),
		closed:   make(chan struct{}),
	}
}

// Messages exposes the receive side for the manager's dispatch loop.
// It is not part of the sender-facing API and must not be used by
// adapters.
func (b *Bus) Messages() <-chan Message {
	return b.messages
}

// Close marks the bus as down: every Request already blocked on a
// send or a reply unblocks with ErrManagerDown, and every future
// Request fails the same way without ever touching the channel.
// Called once by the manager as the last step of its shutdown.
func (b *Bus) Close() {
	close(b.closed)
}

// Request sends payload through the bus and awaits the manager's
// reply, or ctx's cancellation, or the bus being down.
func (b *Bus) Request(ctx context.Context, payload Payload) (Response, error) {
	msg := Message{Payload: payload, reply: make(chan result, 1)}

	select {
	case b.messages <- msg:
	case <-b.closed:
		return Response{}, ErrManagerDown
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case r, ok := <-msg.reply:
		if !ok {
			return Response{}, ErrManagerDown
		}
		return r.resp, r.err
	case <-b.closed:
		return Response{}, ErrManagerDown
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Reply signals msg's caller with resp or err. Called exactly once by
// the manager for every message it dequeues.
func (m Message) Reply(resp Response, err error) {
	m.reply <- result{resp: resp, err: err}
	close(m.reply)
}

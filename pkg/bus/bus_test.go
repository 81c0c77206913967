package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

var errVmNotFound = errors.New("vm not found")

func TestBus_RequestReplyRoundTrip(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-b.Messages()
		_, ok := msg.Payload.(List)
		require.True(t, ok)
		msg.Reply(Response{VmInfos: []types.VmInfo{{}}}, nil)
	}()

	resp, err := b.Request(ctx, List{})
	require.NoError(t, err)
	require.Len(t, resp.VmInfos, 1)
	<-done
}

func TestBus_RequestSurfacesManagerError(t *testing.T) {
	b := New(1)
	ctx := context.Background()

	go func() {
		msg := <-b.Messages()
		msg.Reply(Response{}, errVmNotFound)
	}()

	_, err := b.Request(ctx, Delete{})
	require.ErrorIs(t, err, errVmNotFound)
}

func TestBus_RequestContextCancellation(t *testing.T) {
	b := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// nobody ever drains b.Messages(), so the send itself blocks until
	// ctx expires.
	_, err := b.Request(ctx, List{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

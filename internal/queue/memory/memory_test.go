package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReceiveHidesMessagesUntilVisibilityExpires(t *testing.T) {
	svc := NewService(50 * time.Millisecond)
	q := svc.CreateQueue("jobs")
	svc.Send("jobs", []byte(`{"task":"a"}`))

	ctx := context.Background()

	first, err := svc.ReceiveBatch(ctx, q, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Invisible while in flight
	second, err := svc.ReceiveBatch(ctx, q, 10)
	require.NoError(t, err)
	require.Empty(t, second)

	time.Sleep(60 * time.Millisecond)

	third, err := svc.ReceiveBatch(ctx, q, 10)
	require.NoError(t, err)
	require.Len(t, third, 1)
	require.Equal(t, first[0].ID, third[0].ID)
	require.NotEqual(t, first[0].ReceiptHandle, third[0].ReceiptHandle)
}

func TestDeleteRemovesMessage(t *testing.T) {
	svc := NewService(time.Minute)
	q := svc.CreateQueue("jobs")
	svc.Send("jobs", []byte("x"))

	ctx := context.Background()
	received, err := svc.ReceiveBatch(ctx, q, 1)
	require.NoError(t, err)
	require.Len(t, received, 1)

	require.NoError(t, svc.Delete(ctx, q, received[0].ReceiptHandle))
	require.Equal(t, 0, svc.MessageCount("jobs"))

	// Stale handle delete is not an error, matching the remote service
	require.NoError(t, svc.Delete(ctx, q, received[0].ReceiptHandle))
}

func TestReceiveRespectsBatchLimit(t *testing.T) {
	svc := NewService(time.Minute)
	q := svc.CreateQueue("jobs")
	for i := 0; i < 5; i++ {
		svc.Send("jobs", []byte("x"))
	}

	received, err := svc.ReceiveBatch(context.Background(), q, 3)
	require.NoError(t, err)
	require.Len(t, received, 3)
}

func TestMakeAllVisible(t *testing.T) {
	svc := NewService(time.Hour)
	q := svc.CreateQueue("jobs")
	svc.Send("jobs", []byte("x"))

	ctx := context.Background()
	_, err := svc.ReceiveBatch(ctx, q, 1)
	require.NoError(t, err)

	svc.MakeAllVisible("jobs")

	again, err := svc.ReceiveBatch(ctx, q, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
}
